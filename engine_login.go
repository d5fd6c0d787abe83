package guardian

import (
	"context"
	"errors"

	"github.com/feuarus/guardian/manifest"
	"github.com/feuarus/guardian/session"
)

// Login runs the credential handshake for the account. On success the new
// session tokens are persisted onto the account record. When a second
// factor is needed and cannot be answered internally, the configured
// Prompter is consulted; without one, ErrChallengeRequired is returned and
// the caller continues via SubmitChallenge.
//
// Accounts not yet enrolled in the store may still log in (enrollment
// itself needs a session); their tokens are held in memory only.
func (e *Engine) Login(ctx context.Context, accountName, password string) error {
	if e == nil || e.store == nil {
		return ErrEngineNotReady
	}
	unlock := e.lockAccount(accountName)
	defer unlock()

	acct, err := e.record(ctx, accountName)
	if err != nil && !errors.Is(err, ErrAccountNotFound) {
		return err
	}

	m := e.sessionFor(accountName, acct)
	err = m.Begin(ctx, accountName, password)
	err = e.answerChallenges(ctx, accountName, m, err)

	switch {
	case err == nil:
		e.metricInc(MetricLoginSuccess)
		e.emit(ctx, "login", accountName, m.SteamID(), true, nil)
		return e.persistTokens(ctx, m, acct)
	case errors.Is(err, ErrChallengeRequired):
		e.metricInc(MetricChallengeRequired)
		e.emit(ctx, "login", accountName, 0, false, err)
		return err
	default:
		e.metricInc(MetricLoginFailure)
		e.emit(ctx, "login", accountName, 0, false, err)
		return err
	}
}

// answerChallenges drives the prompter through the challenge loop. The
// manager's attempt budget bounds the loop; a cancelled prompt leaves the
// session parked in AwaitingChallenge.
func (e *Engine) answerChallenges(ctx context.Context, accountName string, m *session.Manager, err error) error {
	for errors.Is(err, ErrChallengeRequired) || errors.Is(err, ErrChallengeRejected) {
		if e.prompter == nil {
			if errors.Is(err, ErrChallengeRejected) {
				return ErrChallengeRequired
			}
			return err
		}
		code, perr := e.prompter.PromptCode(ctx, accountName, m.Challenge())
		if perr != nil {
			return ErrChallengeRequired
		}
		err = m.SubmitChallenge(ctx, code)
	}
	return err
}

// SubmitChallenge answers a pending second factor for an account parked by
// a previous Login call.
func (e *Engine) SubmitChallenge(ctx context.Context, accountName, code string) error {
	if e == nil || e.store == nil {
		return ErrEngineNotReady
	}
	unlock := e.lockAccount(accountName)
	defer unlock()

	m := e.managerIfPresent(accountName)
	if m == nil {
		return session.ErrInvalidState
	}

	err := m.SubmitChallenge(ctx, code)
	switch {
	case err == nil:
		e.metricInc(MetricLoginSuccess)
		e.emit(ctx, "login_challenge", accountName, m.SteamID(), true, nil)
		acct, rerr := e.record(ctx, accountName)
		if rerr != nil && !errors.Is(rerr, ErrAccountNotFound) {
			return rerr
		}
		return e.persistTokens(ctx, m, acct)
	case errors.Is(err, ErrAuthFailed):
		e.metricInc(MetricLoginFailure)
		e.emit(ctx, "login_challenge", accountName, 0, false, err)
		return err
	default:
		e.emit(ctx, "login_challenge", accountName, 0, false, err)
		return err
	}
}

// Refresh exchanges the account's refresh token for a fresh access token
// and persists the result. A rejected refresh token clears the persisted
// session and surfaces ErrAuthExpired.
func (e *Engine) Refresh(ctx context.Context, accountName string) error {
	if e == nil || e.store == nil {
		return ErrEngineNotReady
	}
	unlock := e.lockAccount(accountName)
	defer unlock()

	acct, err := e.record(ctx, accountName)
	if err != nil {
		return err
	}
	m := e.sessionFor(accountName, acct)

	err = m.Refresh(ctx)
	switch {
	case err == nil:
		e.metricInc(MetricRefreshSuccess)
		e.emit(ctx, "refresh", accountName, m.SteamID(), true, nil)
		return e.persistTokens(ctx, m, acct)
	case errors.Is(err, ErrAuthExpired):
		e.metricInc(MetricSessionExpired)
		e.emit(ctx, "refresh", accountName, acct.SteamID, false, err)
		if perr := e.persistTokens(ctx, m, acct); perr != nil {
			return perr
		}
		return err
	default:
		e.metricInc(MetricRefreshFailure)
		e.emit(ctx, "refresh", accountName, acct.SteamID, false, err)
		return err
	}
}

// Logout discards the account's session in memory and on the record.
func (e *Engine) Logout(ctx context.Context, accountName string) error {
	if e == nil || e.store == nil {
		return ErrEngineNotReady
	}
	unlock := e.lockAccount(accountName)
	defer unlock()

	if m := e.managerIfPresent(accountName); m != nil {
		m.Logout()
	}
	e.dropSession(accountName)

	acct, err := e.record(ctx, accountName)
	if errors.Is(err, ErrAccountNotFound) {
		e.emit(ctx, "logout", accountName, 0, true, nil)
		return nil
	}
	if err != nil {
		return err
	}
	acct.Session = nil
	if err := e.persistRecord(ctx, acct); err != nil {
		return err
	}
	e.emit(ctx, "logout", accountName, acct.SteamID, true, nil)
	return nil
}

// liveSession returns a session manager holding usable tokens, refreshing
// near-expiry tokens first. Caller must hold the account lock.
func (e *Engine) liveSession(ctx context.Context, accountName string, acct *manifest.Account) (*session.Manager, error) {
	m := e.sessionFor(accountName, acct)
	err := m.EnsureFresh(ctx)
	switch {
	case err == nil:
		return m, e.persistTokens(ctx, m, acct)
	case errors.Is(err, ErrAuthExpired):
		e.metricInc(MetricSessionExpired)
		if perr := e.persistTokens(ctx, m, acct); perr != nil {
			return nil, perr
		}
		return nil, err
	default:
		return nil, err
	}
}

func (e *Engine) managerIfPresent(accountName string) *session.Manager {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.sessions[normalized(accountName)]
}

// persistTokens writes the manager's current tokens onto the record. A nil
// record (account not enrolled) keeps tokens in memory only.
func (e *Engine) persistTokens(ctx context.Context, m *session.Manager, acct *manifest.Account) error {
	if acct == nil {
		return nil
	}
	t := m.Tokens()
	if t.Usable() {
		acct.Session = &t
	} else {
		acct.Session = nil
	}
	return e.persistRecord(ctx, acct)
}
