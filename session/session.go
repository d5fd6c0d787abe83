// Package session drives the login handshake and token lifecycle for one
// account: RSA-encrypted credential submission, second-factor challenges,
// session polling, and access-token refresh.
package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/feuarus/guardian/rpc"
	"github.com/feuarus/guardian/timesync"
)

// Manager states. A manager starts LoggedOut; Begin moves it through
// AwaitingCredentials into either Authenticated or AwaitingChallenge, and a
// rejected refresh lands it in Expired until the operator logs in again.
type State uint8

const (
	StateLoggedOut State = iota
	StateAwaitingCredentials
	StateAwaitingChallenge
	StateAuthenticated
	StateExpired
)

func (s State) String() string {
	switch s {
	case StateLoggedOut:
		return "LoggedOut"
	case StateAwaitingCredentials:
		return "AwaitingCredentials"
	case StateAwaitingChallenge:
		return "AwaitingChallenge"
	case StateAuthenticated:
		return "Authenticated"
	case StateExpired:
		return "Expired"
	default:
		return "Unknown"
	}
}

// ChallengeType classifies the second factor the platform demands.
type ChallengeType uint8

const (
	ChallengeNone ChallengeType = iota
	ChallengeDeviceCode
	ChallengeEmailCode
	ChallengeCaptcha
)

func (c ChallengeType) String() string {
	switch c {
	case ChallengeDeviceCode:
		return "DeviceCode"
	case ChallengeEmailCode:
		return "EmailCode"
	case ChallengeCaptcha:
		return "Captcha"
	default:
		return "None"
	}
}

// Challenge describes the pending second factor and the attempt budget.
type Challenge struct {
	Type        ChallengeType
	Hint        string
	Attempts    int
	MaxAttempts int
}

var (
	// ErrAuthFailed is returned when the platform rejects the login outright
	// or the challenge attempt budget is exhausted.
	ErrAuthFailed = errors.New("authentication failed")
	// ErrAuthExpired is returned when the stored refresh token is rejected.
	// The session is discarded; the operator must log in again.
	ErrAuthExpired = errors.New("session expired, re-authentication required")
	// ErrChallengeRequired signals the expected state-machine branch where a
	// second factor must be supplied before login can complete.
	ErrChallengeRequired = errors.New("second-factor challenge required")
	// ErrChallengeRejected is returned for a wrong challenge code when
	// attempts remain; the manager stays in AwaitingChallenge.
	ErrChallengeRejected = errors.New("challenge code rejected")
	// ErrNotAuthenticated is returned when an operation needs a live session
	// and none is held.
	ErrNotAuthenticated = errors.New("no authenticated session")
	// ErrInvalidState is returned when an operation does not apply to the
	// manager's current state.
	ErrInvalidState = errors.New("operation not valid in current session state")
)

// CodeFunc supplies a login code for the adjusted time t, letting the
// manager answer device-code challenges without operator interaction when
// the shared secret is on hand.
type CodeFunc func(t int64) (string, error)

// Config tunes the handshake. Zero values fall back to mobile-client
// defaults.
type Config struct {
	DeviceFriendlyName   string
	PlatformType         uint32
	WebsiteID            string
	Language             uint32
	MaxChallengeAttempts int
	PollInterval         time.Duration
	PollAttempts         int
	RefreshWindow        time.Duration
}

const (
	defaultPlatformType      uint32 = 3 // mobile app
	defaultWebsiteID                = "MobileApp"
	defaultDeviceName               = "Android device"
	defaultChallengeAttempts        = 3
	defaultPollInterval             = 2 * time.Second
	defaultPollAttempts             = 5
	defaultRefreshWindow            = 10 * time.Minute
)

// Manager is the login/session state machine for a single account. All
// methods are serialized internally; callers additionally serialize whole
// operations per account at the engine level.
type Manager struct {
	client  *rpc.Client
	clock   *timesync.Source
	config  Config
	codeFor CodeFunc

	mu          sync.Mutex
	state       State
	challenge   Challenge
	clientID    uint64
	requestID   []byte
	steamID     uint64
	accountName string
	interval    time.Duration
	tokens      Tokens
}

// NewManager creates a manager in the LoggedOut state.
func NewManager(client *rpc.Client, clock *timesync.Source, cfg Config) *Manager {
	if cfg.DeviceFriendlyName == "" {
		cfg.DeviceFriendlyName = defaultDeviceName
	}
	if cfg.PlatformType == 0 {
		cfg.PlatformType = defaultPlatformType
	}
	if cfg.WebsiteID == "" {
		cfg.WebsiteID = defaultWebsiteID
	}
	if cfg.MaxChallengeAttempts <= 0 {
		cfg.MaxChallengeAttempts = defaultChallengeAttempts
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = defaultPollInterval
	}
	if cfg.PollAttempts <= 0 {
		cfg.PollAttempts = defaultPollAttempts
	}
	if cfg.RefreshWindow <= 0 {
		cfg.RefreshWindow = defaultRefreshWindow
	}
	return &Manager{client: client, clock: clock, config: cfg}
}

// SetCodeSource installs the generator used to auto-answer device-code
// challenges.
func (m *Manager) SetCodeSource(fn CodeFunc) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.codeFor = fn
}

// State returns the current machine state.
func (m *Manager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Challenge returns the pending challenge, meaningful in AwaitingChallenge.
func (m *Manager) Challenge() Challenge {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.challenge
}

// Tokens returns a copy of the held session tokens.
func (m *Manager) Tokens() Tokens {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.tokens
}

// AccessToken returns the current access token, empty unless Authenticated.
func (m *Manager) AccessToken() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.tokens.AccessToken
}

// AccountName returns the name the session was started with, replaced by
// the canonical spelling once the platform reports one during polling.
// Empty before Begin.
func (m *Manager) AccountName() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.accountName
}

// SteamID returns the account id bound to the session, zero before login.
func (m *Manager) SteamID() uint64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.tokens.SteamID != 0 {
		return m.tokens.SteamID
	}
	return m.steamID
}

// Adopt restores a persisted session. Usable tokens make the manager
// Authenticated; anything else leaves it LoggedOut.
func (m *Manager) Adopt(t Tokens) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.resetLocked()
	if t.Usable() {
		m.tokens = t
		m.steamID = t.SteamID
		m.state = StateAuthenticated
	}
}

// Logout discards tokens and pending handshake state from any state.
func (m *Manager) Logout() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.resetLocked()
}

func (m *Manager) resetLocked() {
	m.state = StateLoggedOut
	m.challenge = Challenge{}
	m.clientID = 0
	m.requestID = nil
	m.steamID = 0
	m.interval = 0
	m.tokens = Tokens{}
}

// Begin starts a fresh login attempt with the account credentials. A prior
// session, pending or live, is discarded first. Returns nil once
// Authenticated, or ErrChallengeRequired when a second factor is pending.
func (m *Manager) Begin(ctx context.Context, accountName, password string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.resetLocked()
	m.state = StateAwaitingCredentials
	m.accountName = accountName

	// The login key rotates; fetch it fresh for every attempt.
	keyResp := &rpc.GetPasswordRSAPublicKeyResponse{}
	keyCall := &rpc.Call{
		Service:  rpc.ServiceAuthentication,
		Method:   "GetPasswordRSAPublicKey",
		Request:  &rpc.GetPasswordRSAPublicKeyRequest{AccountName: accountName},
		Response: keyResp,
	}
	if err := m.client.Do(ctx, keyCall); err != nil {
		m.resetLocked()
		return err
	}

	sealed, err := encryptPassword(password, keyResp.PublicKeyMod, keyResp.PublicKeyExp)
	if err != nil {
		m.resetLocked()
		return err
	}

	beginResp := &rpc.BeginAuthSessionResponse{}
	beginCall := &rpc.Call{
		Service: rpc.ServiceAuthentication,
		Method:  "BeginAuthSessionViaCredentials",
		Request: &rpc.BeginAuthSessionRequest{
			DeviceFriendlyName:  m.config.DeviceFriendlyName,
			AccountName:         accountName,
			EncryptedPassword:   sealed,
			EncryptionTimestamp: keyResp.Timestamp,
			RememberLogin:       true,
			PlatformType:        m.config.PlatformType,
			Persistence:         1,
			WebsiteID:           m.config.WebsiteID,
			Language:            m.config.Language,
		},
		Response: beginResp,
	}
	if err := m.client.Do(ctx, beginCall); err != nil {
		m.resetLocked()
		if errors.Is(err, rpc.ErrUnauthorized) {
			return fmt.Errorf("%w: credentials rejected", ErrAuthFailed)
		}
		return err
	}
	if !beginCall.Result.OK() || beginResp.ClientID == 0 {
		m.resetLocked()
		return fmt.Errorf("%w: %s", ErrAuthFailed, beginCall.Result)
	}

	m.clientID = beginResp.ClientID
	m.requestID = beginResp.RequestID
	m.steamID = beginResp.SteamID
	if beginResp.Interval > 0 {
		m.interval = time.Duration(beginResp.Interval * float32(time.Second))
	}

	challenge, hint, open := pickChallenge(beginResp.AllowedConfirmations)
	if !open {
		// No second factor demanded; the session completes by polling.
		return m.pollLocked(ctx)
	}

	m.state = StateAwaitingChallenge
	m.challenge = Challenge{Type: challenge, Hint: hint, MaxAttempts: m.config.MaxChallengeAttempts}

	if challenge == ChallengeDeviceCode && m.codeFor != nil {
		code, err := m.codeFor(m.clock.Now())
		if err == nil {
			return m.submitLocked(ctx, code)
		}
	}
	return ErrChallengeRequired
}

// pickChallenge chooses the second-factor route. A device code is preferred
// because the engine can answer it itself; "none" short-circuits the
// challenge entirely.
func pickChallenge(allowed []rpc.AllowedConfirmation) (ChallengeType, string, bool) {
	chosen := ChallengeNone
	hint := ""
	seen := false
	for _, c := range allowed {
		var t ChallengeType
		switch c.GuardType {
		case rpc.GuardTypeNone:
			return ChallengeNone, "", false
		case rpc.GuardTypeDeviceCode, rpc.GuardTypeDeviceConfirm:
			t = ChallengeDeviceCode
		case rpc.GuardTypeEmailCode, rpc.GuardTypeEmailConfirm:
			t = ChallengeEmailCode
		default:
			t = ChallengeCaptcha
		}
		if !seen || t == ChallengeDeviceCode && chosen != ChallengeDeviceCode {
			chosen = t
			hint = c.AssociatedMessage
			seen = true
		}
	}
	if !seen {
		return ChallengeNone, "", false
	}
	return chosen, hint, true
}

// SubmitChallenge answers the pending second factor. A wrong code keeps the
// manager in AwaitingChallenge with an incremented attempt counter until the
// budget runs out.
func (m *Manager) SubmitChallenge(ctx context.Context, code string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.state != StateAwaitingChallenge {
		return ErrInvalidState
	}
	return m.submitLocked(ctx, code)
}

func (m *Manager) submitLocked(ctx context.Context, code string) error {
	codeType := rpc.GuardTypeDeviceCode
	if m.challenge.Type == ChallengeEmailCode {
		codeType = rpc.GuardTypeEmailCode
	}

	call := &rpc.Call{
		Service: rpc.ServiceAuthentication,
		Method:  "UpdateAuthSessionWithSteamGuardCode",
		Request: &rpc.UpdateAuthSessionRequest{
			ClientID: m.clientID,
			SteamID:  m.steamID,
			Code:     code,
			CodeType: codeType,
		},
		Response: &rpc.UpdateAuthSessionResponse{},
	}
	if err := m.client.Do(ctx, call); err != nil {
		if errors.Is(err, rpc.ErrUnauthorized) {
			m.resetLocked()
			return fmt.Errorf("%w: auth session no longer valid", ErrAuthFailed)
		}
		return err
	}

	switch call.Result {
	case rpc.ResultOK, rpc.ResultDuplicateRequest:
		m.state = StateAwaitingCredentials
		return m.pollLocked(ctx)
	case rpc.ResultTwoFactorCodeMismatch, rpc.ResultInvalidLoginAuthCode:
		m.challenge.Attempts++
		if m.challenge.Attempts >= m.challenge.MaxAttempts {
			m.resetLocked()
			return fmt.Errorf("%w: challenge attempts exhausted", ErrAuthFailed)
		}
		m.state = StateAwaitingChallenge
		return ErrChallengeRejected
	default:
		m.resetLocked()
		return fmt.Errorf("%w: %s", ErrAuthFailed, call.Result)
	}
}

func (m *Manager) pollLocked(ctx context.Context) error {
	interval := m.interval
	if interval <= 0 {
		interval = m.config.PollInterval
	}

	for attempt := 0; attempt < m.config.PollAttempts; attempt++ {
		resp := &rpc.PollAuthSessionResponse{}
		call := &rpc.Call{
			Service:  rpc.ServiceAuthentication,
			Method:   "PollAuthSessionStatus",
			Request:  &rpc.PollAuthSessionRequest{ClientID: m.clientID, RequestID: m.requestID},
			Response: resp,
		}
		if err := m.client.Do(ctx, call); err != nil {
			m.resetLocked()
			if errors.Is(err, rpc.ErrUnauthorized) {
				return fmt.Errorf("%w: auth session no longer valid", ErrAuthFailed)
			}
			return err
		}

		if resp.AccessToken != "" && resp.RefreshToken != "" {
			t := tokensFromPair(resp.AccessToken, resp.RefreshToken, m.clock.Now())
			if t.SteamID == 0 {
				t.SteamID = m.steamID
			}
			if resp.AccountName != "" {
				m.accountName = resp.AccountName
			}
			m.tokens = t
			m.steamID = t.SteamID
			m.state = StateAuthenticated
			m.challenge = Challenge{}
			m.clientID = 0
			m.requestID = nil
			return nil
		}
		if resp.NewClientID != 0 {
			m.clientID = resp.NewClientID
		}

		if attempt+1 == m.config.PollAttempts {
			break
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(interval):
		}
	}

	// Tokens never arrived; an out-of-band confirmation is still pending.
	m.state = StateAwaitingChallenge
	if m.challenge.MaxAttempts == 0 {
		m.challenge = Challenge{Type: ChallengeDeviceCode, MaxAttempts: m.config.MaxChallengeAttempts}
	}
	return ErrChallengeRequired
}

// Refresh exchanges the refresh token for a new access token. A rejected
// refresh token moves the manager to Expired and surfaces ErrAuthExpired;
// the unusable tokens are discarded.
func (m *Manager) Refresh(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.refreshLocked(ctx)
}

func (m *Manager) refreshLocked(ctx context.Context) error {
	if m.tokens.RefreshToken == "" {
		return ErrNotAuthenticated
	}

	resp := &rpc.GenerateAccessTokenResponse{}
	call := &rpc.Call{
		Service: rpc.ServiceAuthentication,
		Method:  "GenerateAccessTokenForApp",
		Request: &rpc.GenerateAccessTokenRequest{
			RefreshToken: m.tokens.RefreshToken,
			SteamID:      m.tokens.SteamID,
			RenewalType:  1,
		},
		Response: resp,
	}
	err := m.client.Do(ctx, call)
	switch {
	case errors.Is(err, rpc.ErrUnauthorized):
		m.expireLocked()
		return ErrAuthExpired
	case err != nil:
		return err
	case !call.Result.OK() || resp.AccessToken == "":
		m.expireLocked()
		return ErrAuthExpired
	}

	refresh := resp.RefreshToken
	if refresh == "" {
		refresh = m.tokens.RefreshToken
	}
	t := tokensFromPair(resp.AccessToken, refresh, m.clock.Now())
	if t.SteamID == 0 {
		t.SteamID = m.tokens.SteamID
	}
	m.tokens = t
	m.state = StateAuthenticated
	return nil
}

func (m *Manager) expireLocked() {
	m.tokens = Tokens{}
	m.state = StateExpired
}

// EnsureFresh refreshes the access token when it is near or past expiry and
// is a no-op otherwise.
func (m *Manager) EnsureFresh(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	switch m.state {
	case StateAuthenticated:
		if !m.tokens.NearExpiry(m.clock.Now(), m.config.RefreshWindow) {
			return nil
		}
		return m.refreshLocked(ctx)
	case StateExpired:
		return ErrAuthExpired
	default:
		return ErrNotAuthenticated
	}
}
