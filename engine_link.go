package guardian

import (
	"context"
	"encoding/base32"
	"fmt"
	"net/url"
	"strings"

	"github.com/feuarus/guardian/manifest"
	"github.com/feuarus/guardian/rpc"
	"github.com/feuarus/guardian/session"
	"github.com/feuarus/guardian/totp"
)

// AddAuthenticator status codes the engine gives names to.
const (
	linkStatusOK            = 1
	linkStatusNoPhone       = 2
	linkStatusAlreadyLinked = 29
)

// LinkResult is the outcome of starting an enrollment. The revocation code
// must be shown to the operator before FinalizeLink; it is the only way to
// remove the authenticator if the device is lost.
type LinkResult struct {
	Account         *manifest.Account
	RevocationCode  string
	PhoneNumberHint string
}

// LinkAuthenticator starts enrolling this device as the account's mobile
// authenticator. The account must have a live session (Login first). The
// issued secrets are persisted immediately, before finalization, so an
// interrupted enrollment never loses them.
func (e *Engine) LinkAuthenticator(ctx context.Context, accountName string) (*LinkResult, error) {
	if e == nil || e.store == nil {
		return nil, ErrEngineNotReady
	}
	unlock := e.lockAccount(accountName)
	defer unlock()

	m := e.managerIfPresent(accountName)
	if m == nil || m.State() != session.StateAuthenticated {
		return nil, ErrNotAuthenticated
	}

	now, err := e.clock.Aligned(ctx)
	if err != nil {
		now = e.clock.Now()
	}
	deviceID := manifest.NewDeviceID()

	resp := &rpc.AddAuthenticatorResponse{}
	call := &rpc.Call{
		Service:     rpc.ServiceTwoFactor,
		Method:      "AddAuthenticator",
		AccessToken: m.AccessToken(),
		Request: &rpc.AddAuthenticatorRequest{
			SteamID:           m.SteamID(),
			AuthenticatorTime: uint64(now),
			AuthenticatorType: 1,
			DeviceIdentifier:  deviceID,
			Version:           2,
		},
		Response: resp,
	}
	if err := e.client.Do(ctx, call); err != nil {
		e.emit(ctx, "link_start", accountName, m.SteamID(), false, err)
		return nil, err
	}

	switch resp.Status {
	case linkStatusOK, 0:
	case linkStatusNoPhone:
		e.emit(ctx, "link_start", accountName, m.SteamID(), false, ErrPhoneRequired)
		return nil, ErrPhoneRequired
	case linkStatusAlreadyLinked:
		e.emit(ctx, "link_start", accountName, m.SteamID(), false, ErrAccountExists)
		return nil, fmt.Errorf("%w: authenticator already present", ErrAccountExists)
	default:
		err := fmt.Errorf("%w: enrollment status %d", ErrAuthFailed, resp.Status)
		e.emit(ctx, "link_start", accountName, m.SteamID(), false, err)
		return nil, err
	}
	if len(resp.SharedSecret) == 0 || len(resp.IdentitySecret) == 0 {
		err := fmt.Errorf("%w: enrollment returned no secrets", ErrInvalidSecret)
		e.emit(ctx, "link_start", accountName, m.SteamID(), false, err)
		return nil, err
	}

	name := normalized(accountName)
	if resp.AccountName != "" {
		name = normalized(resp.AccountName)
	}
	tokens := m.Tokens()
	acct := &manifest.Account{
		Version:        manifest.AccountVersion,
		AccountName:    name,
		SteamID:        m.SteamID(),
		SerialNumber:   fmt.Sprintf("%d", resp.SerialNumber),
		RevocationCode: resp.RevocationCode,
		SharedSecret:   append([]byte(nil), resp.SharedSecret...),
		IdentitySecret: append([]byte(nil), resp.IdentitySecret...),
		Secret1:        append([]byte(nil), resp.Secret1...),
		TokenGID:       resp.TokenGID,
		URI:            resp.URI,
		DeviceID:       deviceID,
		Session:        &tokens,
	}
	if err := e.persistRecord(ctx, acct); err != nil {
		return nil, err
	}

	e.emit(ctx, "link_start", accountName, m.SteamID(), true, nil)
	return &LinkResult{
		Account:         acct,
		RevocationCode:  resp.RevocationCode,
		PhoneNumberHint: resp.PhoneNumberHint,
	}, nil
}

// FinalizeLink activates the pending enrollment with the SMS (or email)
// activation code. The platform may ask for additional code rounds to
// calibrate clock drift; those are answered from the stored shared secret.
func (e *Engine) FinalizeLink(ctx context.Context, accountName, activationCode string) error {
	if e == nil || e.store == nil {
		return ErrEngineNotReady
	}
	unlock := e.lockAccount(accountName)
	defer unlock()

	acct, err := e.record(ctx, accountName)
	if err != nil {
		return err
	}
	if !acct.CanGenerateCodes() {
		return ErrNoSharedSecret
	}
	m := e.managerIfPresent(accountName)
	if m == nil || m.State() != session.StateAuthenticated {
		return ErrNotAuthenticated
	}

	const maxRounds = 5
	validateSMS := activationCode != ""
	for round := 0; round < maxRounds; round++ {
		now, aerr := e.clock.Aligned(ctx)
		if aerr != nil {
			now = e.clock.Now()
		}
		code, cerr := totp.Code(acct.SharedSecret, now)
		if cerr != nil {
			return cerr
		}

		resp := &rpc.FinalizeAddAuthenticatorResponse{}
		call := &rpc.Call{
			Service:     rpc.ServiceTwoFactor,
			Method:      "FinalizeAddAuthenticator",
			AccessToken: m.AccessToken(),
			Request: &rpc.FinalizeAddAuthenticatorRequest{
				SteamID:           m.SteamID(),
				AuthenticatorCode: code,
				AuthenticatorTime: uint64(now),
				ActivationCode:    activationCode,
				ValidateSMSCode:   validateSMS,
			},
			Response: resp,
		}
		if err := e.client.Do(ctx, call); err != nil {
			e.emit(ctx, "link_finalize", accountName, m.SteamID(), false, err)
			return err
		}

		if resp.WantMore {
			// Server time moved past our code; next round sends only a
			// fresh code.
			activationCode = ""
			validateSMS = false
			continue
		}
		if !resp.Success {
			err := fmt.Errorf("%w: finalize status %d", ErrAuthFailed, resp.Status)
			e.emit(ctx, "link_finalize", accountName, m.SteamID(), false, err)
			return err
		}

		e.metricInc(MetricAuthenticatorLinked)
		e.emit(ctx, "link_finalize", accountName, m.SteamID(), true, nil)
		return nil
	}
	return ErrLinkPending
}

// RevokeAuthenticator removes this device as the account's authenticator
// using the stored revocation code, then deletes the local record.
func (e *Engine) RevokeAuthenticator(ctx context.Context, accountName string) error {
	if e == nil || e.store == nil {
		return ErrEngineNotReady
	}
	unlock := e.lockAccount(accountName)
	defer unlock()

	acct, err := e.record(ctx, accountName)
	if err != nil {
		return err
	}
	if acct.RevocationCode == "" {
		return fmt.Errorf("%w: record has no revocation code", ErrInvalidSecret)
	}
	m, err := e.liveSession(ctx, accountName, acct)
	if err != nil {
		return err
	}

	resp := &rpc.RemoveAuthenticatorResponse{}
	call := &rpc.Call{
		Service:     rpc.ServiceTwoFactor,
		Method:      "RemoveAuthenticator",
		AccessToken: m.AccessToken(),
		Request: &rpc.RemoveAuthenticatorRequest{
			RevocationCode:   acct.RevocationCode,
			RevocationReason: 1,
			SteamguardScheme: 1,
		},
		Response: resp,
	}
	if err := e.client.Do(ctx, call); err != nil {
		e.emit(ctx, "revoke", accountName, acct.SteamID, false, err)
		return err
	}
	if !resp.Success {
		err := fmt.Errorf("%w: revocation rejected, %d attempts remaining", ErrAuthFailed, resp.RevocationAttemptsRemaining)
		e.emit(ctx, "revoke", accountName, acct.SteamID, false, err)
		return err
	}

	e.metricInc(MetricAuthenticatorRevoked)
	e.emit(ctx, "revoke", accountName, acct.SteamID, true, nil)
	return e.removeLocked(ctx, accountName)
}

// HasVerifiedPhone reports whether the account has a verified phone number,
// a precondition for enrollment.
func (e *Engine) HasVerifiedPhone(ctx context.Context, accountName string) (bool, error) {
	m, release, err := e.authedSession(accountName)
	if err != nil {
		return false, err
	}
	defer release()

	resp := &rpc.AccountPhoneStatusResponse{}
	call := &rpc.Call{
		Service:     rpc.ServicePhone,
		Method:      "AccountPhoneStatus",
		AccessToken: m.AccessToken(),
		Request:     &rpc.AccountPhoneStatusRequest{},
		Response:    resp,
	}
	if err := e.client.Do(ctx, call); err != nil {
		return false, err
	}
	return resp.VerifiedPhone, nil
}

// AddPhoneNumber starts attaching a phone number to the account and returns
// the email address that must confirm it.
func (e *Engine) AddPhoneNumber(ctx context.Context, accountName, number, countryCode string) (string, error) {
	m, release, err := e.authedSession(accountName)
	if err != nil {
		return "", err
	}
	defer release()

	resp := &rpc.SetAccountPhoneNumberResponse{}
	call := &rpc.Call{
		Service:     rpc.ServicePhone,
		Method:      "SetAccountPhoneNumber",
		AccessToken: m.AccessToken(),
		Request:     &rpc.SetAccountPhoneNumberRequest{PhoneNumber: number, PhoneCountryCode: countryCode},
		Response:    resp,
	}
	if err := e.client.Do(ctx, call); err != nil {
		return "", err
	}
	return resp.ConfirmationEmailAddress, nil
}

// AwaitingEmailConfirmation reports whether the phone attachment still
// waits on the account's email, with the platform's suggested poll delay in
// seconds.
func (e *Engine) AwaitingEmailConfirmation(ctx context.Context, accountName string) (bool, uint32, error) {
	m, release, err := e.authedSession(accountName)
	if err != nil {
		return false, 0, err
	}
	defer release()

	resp := &rpc.IsAccountWaitingForEmailConfirmationResponse{}
	call := &rpc.Call{
		Service:     rpc.ServicePhone,
		Method:      "IsAccountWaitingForEmailConfirmation",
		AccessToken: m.AccessToken(),
		Request:     &rpc.IsAccountWaitingForEmailConfirmationRequest{},
		Response:    resp,
	}
	if err := e.client.Do(ctx, call); err != nil {
		return false, 0, err
	}
	return resp.AwaitingEmailConfirmation, resp.SecondsToWait, nil
}

// ConfirmPhoneByEmail completes the email leg of phone attachment with the
// stoken from the confirmation link the account's email received.
func (e *Engine) ConfirmPhoneByEmail(ctx context.Context, accountName, stoken string) error {
	m, release, err := e.authedSession(accountName)
	if err != nil {
		return err
	}
	defer release()

	resp := &rpc.ConfirmAddPhoneToAccountResponse{}
	call := &rpc.Call{
		Service:     rpc.ServicePhone,
		Method:      "ConfirmAddPhoneToAccount",
		AccessToken: m.AccessToken(),
		Request:     &rpc.ConfirmAddPhoneToAccountRequest{SteamID: m.SteamID(), Stoken: stoken},
		Response:    resp,
	}
	if err := e.client.Do(ctx, call); err != nil {
		return err
	}
	if !resp.Success {
		return fmt.Errorf("%w: phone confirmation rejected", ErrAuthFailed)
	}
	return nil
}

// SendPhoneVerificationCode asks the platform to text a verification code
// to the pending phone number.
func (e *Engine) SendPhoneVerificationCode(ctx context.Context, accountName string) error {
	m, release, err := e.authedSession(accountName)
	if err != nil {
		return err
	}
	defer release()

	call := &rpc.Call{
		Service:     rpc.ServicePhone,
		Method:      "SendPhoneVerificationCode",
		AccessToken: m.AccessToken(),
		Request:     &rpc.SendPhoneVerificationCodeRequest{},
		Response:    &rpc.SendPhoneVerificationCodeResponse{},
	}
	return e.client.Do(ctx, call)
}

// VerifyPhone submits the texted verification code.
func (e *Engine) VerifyPhone(ctx context.Context, accountName, code string) error {
	m, release, err := e.authedSession(accountName)
	if err != nil {
		return err
	}
	defer release()

	call := &rpc.Call{
		Service:     rpc.ServicePhone,
		Method:      "VerifyAccountPhoneWithCode",
		AccessToken: m.AccessToken(),
		Request:     &rpc.VerifyAccountPhoneWithCodeRequest{Code: code},
		Response:    &rpc.VerifyAccountPhoneWithCodeResponse{},
	}
	return e.client.Do(ctx, call)
}

// authedSession locks the account and returns its live authenticated
// manager. Used by operations that need only a session, not the record.
func (e *Engine) authedSession(accountName string) (*session.Manager, func(), error) {
	if e == nil || e.store == nil {
		return nil, nil, ErrEngineNotReady
	}
	unlock := e.lockAccount(accountName)

	m := e.managerIfPresent(accountName)
	if m == nil || m.State() != session.StateAuthenticated {
		unlock()
		return nil, nil, ErrNotAuthenticated
	}
	return m, unlock, nil
}

// ImportAccount enrolls an existing record into the store. The record name
// must be unused.
func (e *Engine) ImportAccount(ctx context.Context, acct *manifest.Account) error {
	if e == nil || e.store == nil {
		return ErrEngineNotReady
	}
	if acct == nil || acct.AccountName == "" {
		return fmt.Errorf("%w: record missing account name", ErrInvalidSecret)
	}
	if len(acct.SharedSecret) == 0 && len(acct.IdentitySecret) == 0 {
		return ErrInvalidSecret
	}
	unlock := e.lockAccount(acct.AccountName)
	defer unlock()

	if e.store.Has(acct.AccountName) {
		return fmt.Errorf("%w: %s", ErrAccountExists, normalized(acct.AccountName))
	}
	if acct.DeviceID == "" {
		acct.DeviceID = manifest.NewDeviceID()
	}
	if err := e.persistRecord(ctx, acct); err != nil {
		return err
	}
	e.metricInc(MetricAccountImported)
	e.emit(ctx, "account_import", acct.AccountName, acct.SteamID, true, nil)
	return nil
}

// ImportFromURI enrolls an account from an otpauth:// provisioning URI. The
// URI yields only the shared secret, so the imported record generates codes
// but cannot sign confirmations.
func (e *Engine) ImportFromURI(ctx context.Context, rawURI string) error {
	acct, err := accountFromURI(rawURI)
	if err != nil {
		return err
	}
	return e.ImportAccount(ctx, acct)
}

// ImportFromQR decodes an enrollment QR image through the configured
// decoder and imports the embedded URI.
func (e *Engine) ImportFromQR(ctx context.Context, imagePath string) error {
	if e == nil || e.qr == nil {
		return ErrEngineNotReady
	}
	uri, err := e.qr.DecodeURI(ctx, imagePath)
	if err != nil {
		return err
	}
	return e.ImportFromURI(ctx, uri)
}

func accountFromURI(rawURI string) (*manifest.Account, error) {
	u, err := url.Parse(rawURI)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidSecret, err)
	}
	if u.Scheme != "otpauth" || u.Host != "totp" {
		return nil, fmt.Errorf("%w: not a totp provisioning uri", ErrInvalidSecret)
	}

	label := strings.TrimPrefix(u.Path, "/")
	if i := strings.IndexByte(label, ':'); i >= 0 {
		label = label[i+1:]
	}
	if label == "" {
		return nil, fmt.Errorf("%w: uri names no account", ErrInvalidSecret)
	}

	rawSecret := u.Query().Get("secret")
	if rawSecret == "" {
		return nil, fmt.Errorf("%w: uri carries no secret", ErrInvalidSecret)
	}
	secret, err := base32.StdEncoding.WithPadding(base32.NoPadding).DecodeString(strings.ToUpper(rawSecret))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidSecret, err)
	}

	return &manifest.Account{
		Version:      manifest.AccountVersion,
		AccountName:  normalized(label),
		SharedSecret: secret,
		URI:          rawURI,
	}, nil
}

// RemoveAccount deletes the account's record and in-memory session. It does
// not revoke the authenticator with the platform; see RevokeAuthenticator.
func (e *Engine) RemoveAccount(ctx context.Context, accountName string) error {
	if e == nil || e.store == nil {
		return ErrEngineNotReady
	}
	unlock := e.lockAccount(accountName)
	defer unlock()
	return e.removeLocked(ctx, accountName)
}

func (e *Engine) removeLocked(ctx context.Context, accountName string) error {
	if err := e.store.Remove(ctx, accountName); err != nil {
		return err
	}
	e.dropSession(accountName)
	e.metricInc(MetricAccountRemoved)
	e.emit(ctx, "account_remove", accountName, 0, true, nil)
	return nil
}
