package guardian

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/feuarus/guardian/confirm"
	"github.com/feuarus/guardian/internal/audit"
	"github.com/feuarus/guardian/manifest"
	"github.com/feuarus/guardian/rpc"
	"github.com/feuarus/guardian/session"
	"github.com/feuarus/guardian/timesync"
	"github.com/feuarus/guardian/totp"
)

// Engine aggregates the store, transport, clock, audit dispatcher, and
// metrics behind per-account operation methods. All operations on one
// account are serialized through that account's lock; distinct accounts
// proceed concurrently.
type Engine struct {
	config     Config
	store      *manifest.Store
	client     *rpc.Client
	confirms   *confirm.Client
	clock      *timesync.Source
	audit      *audit.Dispatcher
	metrics    *Metrics
	passphrase PassphraseProvider
	prompter   Prompter
	qr         QRDecoder

	mu       sync.Mutex
	locks    map[string]*sync.Mutex
	sessions map[string]*session.Manager
}

// timeRemote adapts the platform time endpoint to the clock's Remote
// interface.
type timeRemote struct {
	client *rpc.Client
}

func (r *timeRemote) ServerTime(ctx context.Context) (int64, error) {
	resp := &rpc.QueryTimeResponse{}
	call := &rpc.Call{
		Service:  rpc.ServiceTwoFactor,
		Method:   "QueryTime",
		Request:  &rpc.QueryTimeRequest{},
		Response: resp,
	}
	if err := r.client.Do(ctx, call); err != nil {
		return 0, err
	}
	return int64(resp.ServerTime), nil
}

// Close drains and stops the audit dispatcher. The engine must not be used
// after Close.
func (e *Engine) Close() {
	if e == nil {
		return
	}
	e.audit.Close()
}

// AuditDropped reports audit events discarded under buffer pressure.
func (e *Engine) AuditDropped() uint64 {
	if e == nil {
		return 0
	}
	return e.audit.Dropped()
}

// MetricsSnapshot returns a point-in-time copy of the engine counters.
func (e *Engine) MetricsSnapshot() MetricsSnapshot {
	if e == nil || e.metrics == nil {
		return MetricsSnapshot{
			Counters:   map[MetricID]uint64{},
			Histograms: map[MetricID][]uint64{},
		}
	}
	return e.metrics.Snapshot()
}

func (e *Engine) metricInc(id MetricID) {
	if e == nil || e.metrics == nil {
		return
	}
	e.metrics.Inc(id)
}

func normalized(name string) string {
	return strings.ToLower(name)
}

// lockAccount acquires the per-account mutex and returns its release func.
func (e *Engine) lockAccount(accountName string) func() {
	name := normalized(accountName)

	e.mu.Lock()
	l, ok := e.locks[name]
	if !ok {
		l = &sync.Mutex{}
		e.locks[name] = l
	}
	e.mu.Unlock()

	l.Lock()
	return l.Unlock
}

// sessionFor returns the account's session manager, creating it on first
// use and adopting any tokens persisted on the record.
func (e *Engine) sessionFor(accountName string, acct *manifest.Account) *session.Manager {
	name := normalized(accountName)

	e.mu.Lock()
	m, ok := e.sessions[name]
	if !ok {
		m = session.NewManager(e.client, e.clock, e.config.Session)
		e.sessions[name] = m
		if acct != nil && acct.Session != nil {
			m.Adopt(*acct.Session)
		}
	}
	e.mu.Unlock()

	if acct != nil && acct.CanGenerateCodes() {
		secret := append([]byte(nil), acct.SharedSecret...)
		m.SetCodeSource(func(t int64) (string, error) {
			return totp.Code(secret, t)
		})
	}
	return m
}

func (e *Engine) dropSession(accountName string) {
	name := normalized(accountName)
	e.mu.Lock()
	delete(e.sessions, name)
	e.mu.Unlock()
}

// record loads and decrypts the account's stored record.
func (e *Engine) record(ctx context.Context, accountName string) (*manifest.Account, error) {
	if e == nil || e.store == nil {
		return nil, ErrEngineNotReady
	}
	pass, err := e.passphraseFor(ctx, accountName)
	if err != nil {
		return nil, err
	}
	return e.store.Get(ctx, accountName, pass)
}

func (e *Engine) passphraseFor(ctx context.Context, accountName string) ([]byte, error) {
	if e.passphrase == nil {
		return nil, nil
	}
	return e.passphrase.Passphrase(ctx, accountName)
}

// persistRecord writes the account record back through the store under the
// caller-held account lock.
func (e *Engine) persistRecord(ctx context.Context, acct *manifest.Account) error {
	pass, err := e.passphraseFor(ctx, acct.AccountName)
	if err != nil {
		return err
	}
	return e.store.Save(ctx, acct, pass)
}

func (e *Engine) emit(ctx context.Context, eventType, accountName string, steamID uint64, success bool, opErr error) {
	if e.audit == nil {
		return
	}
	event := audit.Event{
		Timestamp: time.Now().UTC(),
		EventType: eventType,
		Account:   normalized(accountName),
		SteamID:   steamID,
		Success:   success,
	}
	if opErr != nil {
		event.Error = opErr.Error()
	}
	if op := operatorFromContext(ctx); op != "" {
		event.Metadata = map[string]string{"operator": op}
	}
	if tag := requestTagFromContext(ctx); tag != "" {
		if event.Metadata == nil {
			event.Metadata = map[string]string{}
		}
		event.Metadata["request_tag"] = tag
	}
	e.audit.Emit(ctx, event)
}

// Accounts lists the enrolled account entries.
func (e *Engine) Accounts() []manifest.Entry {
	if e == nil || e.store == nil {
		return nil
	}
	return e.store.Entries()
}

// Code produces the current login code for the account.
func (e *Engine) Code(ctx context.Context, accountName string) (string, error) {
	if e == nil || e.store == nil {
		return "", ErrEngineNotReady
	}
	unlock := e.lockAccount(accountName)
	defer unlock()

	acct, err := e.record(ctx, accountName)
	if err != nil {
		return "", err
	}
	if !acct.CanGenerateCodes() {
		return "", ErrNoSharedSecret
	}

	// Codes tolerate small skew; a failed alignment falls back to the
	// local clock rather than refusing to produce a code.
	now, err := e.clock.Aligned(ctx)
	if err != nil {
		now = e.clock.Now()
	}

	code, err := totp.Code(acct.SharedSecret, now)
	if err != nil {
		return "", err
	}
	e.metricInc(MetricCodeGenerated)
	return code, nil
}

// CodeAt produces the login code for an explicit adjusted time, mainly for
// operator display of past/future windows.
func (e *Engine) CodeAt(ctx context.Context, accountName string, t int64) (string, error) {
	if e == nil || e.store == nil {
		return "", ErrEngineNotReady
	}
	unlock := e.lockAccount(accountName)
	defer unlock()

	acct, err := e.record(ctx, accountName)
	if err != nil {
		return "", err
	}
	if !acct.CanGenerateCodes() {
		return "", ErrNoSharedSecret
	}
	return totp.Code(acct.SharedSecret, t)
}

// ResyncClock forces a drift refetch against the platform time endpoint.
func (e *Engine) ResyncClock(ctx context.Context) error {
	if e == nil || e.clock == nil {
		return ErrEngineNotReady
	}
	err := e.clock.Resync(ctx)
	if err == nil {
		e.metricInc(MetricTimeResync)
	}
	return err
}

// AdjustedTime returns the platform-adjusted unix time, aligning the clock
// on first use.
func (e *Engine) AdjustedTime(ctx context.Context) (int64, error) {
	if e == nil || e.clock == nil {
		return 0, ErrEngineNotReady
	}
	return e.clock.Aligned(ctx)
}
