package guardian

import (
	"context"
	"errors"

	"github.com/feuarus/guardian/confirm"
	"github.com/feuarus/guardian/manifest"
	"github.com/feuarus/guardian/totp"
)

// confirmIdentity assembles the signed-call material for one account.
// Caller must hold the account lock.
func (e *Engine) confirmIdentity(ctx context.Context, accountName string) (confirm.Account, *manifest.Account, error) {
	acct, err := e.record(ctx, accountName)
	if err != nil {
		return confirm.Account{}, nil, err
	}
	if !acct.CanSignConfirmations() {
		return confirm.Account{}, nil, ErrNoIdentitySecret
	}

	m, err := e.liveSession(ctx, accountName, acct)
	if err != nil {
		return confirm.Account{}, nil, err
	}

	if acct.DeviceID == "" {
		acct.DeviceID = manifest.NewDeviceID()
		if err := e.persistRecord(ctx, acct); err != nil {
			return confirm.Account{}, nil, err
		}
	}

	secret := append([]byte(nil), acct.IdentitySecret...)
	return confirm.Account{
		SteamID:     m.SteamID(),
		AccessToken: m.AccessToken(),
		DeviceID:    acct.DeviceID,
		Key: func(t int64, tag string) (string, error) {
			return totp.ConfirmationKey(secret, t, tag)
		},
	}, acct, nil
}

// Confirmations lists the account's pending confirmations. A session the
// community endpoint rejects is refreshed once and the list retried.
func (e *Engine) Confirmations(ctx context.Context, accountName string) ([]confirm.Confirmation, error) {
	if e == nil || e.store == nil {
		return nil, ErrEngineNotReady
	}
	unlock := e.lockAccount(accountName)
	defer unlock()

	ca, acct, err := e.confirmIdentity(ctx, accountName)
	if err != nil {
		return nil, err
	}

	confs, err := e.confirms.List(ctx, ca)
	if errors.Is(err, confirm.ErrSessionRejected) {
		if ca, err = e.recoverConfirmSession(ctx, accountName, acct); err != nil {
			return nil, err
		}
		confs, err = e.confirms.List(ctx, ca)
	}
	e.metricInc(MetricConfirmationFetch)
	e.emit(ctx, "confirmation_list", accountName, ca.SteamID, err == nil, err)
	return confs, err
}

// recoverConfirmSession refreshes a rejected session and rebuilds the call
// material. Caller must hold the account lock.
func (e *Engine) recoverConfirmSession(ctx context.Context, accountName string, acct *manifest.Account) (confirm.Account, error) {
	m := e.sessionFor(accountName, acct)
	if err := m.Refresh(ctx); err != nil {
		if errors.Is(err, ErrAuthExpired) {
			e.metricInc(MetricSessionExpired)
			if perr := e.persistTokens(ctx, m, acct); perr != nil {
				return confirm.Account{}, perr
			}
		}
		return confirm.Account{}, err
	}
	if err := e.persistTokens(ctx, m, acct); err != nil {
		return confirm.Account{}, err
	}

	secret := append([]byte(nil), acct.IdentitySecret...)
	return confirm.Account{
		SteamID:     m.SteamID(),
		AccessToken: m.AccessToken(),
		DeviceID:    acct.DeviceID,
		Key: func(t int64, tag string) (string, error) {
			return totp.ConfirmationKey(secret, t, tag)
		},
	}, nil
}

// AcceptConfirmation approves one pending confirmation.
func (e *Engine) AcceptConfirmation(ctx context.Context, accountName string, conf confirm.Confirmation) error {
	return e.actOne(ctx, accountName, conf, true)
}

// DenyConfirmation cancels one pending confirmation.
func (e *Engine) DenyConfirmation(ctx context.Context, accountName string, conf confirm.Confirmation) error {
	return e.actOne(ctx, accountName, conf, false)
}

func (e *Engine) actOne(ctx context.Context, accountName string, conf confirm.Confirmation, accept bool) error {
	if e == nil || e.store == nil {
		return ErrEngineNotReady
	}
	unlock := e.lockAccount(accountName)
	defer unlock()

	ca, _, err := e.confirmIdentity(ctx, accountName)
	if err != nil {
		return err
	}

	event := "confirmation_deny"
	if accept {
		event = "confirmation_accept"
	}
	if accept {
		err = e.confirms.Accept(ctx, ca, conf)
	} else {
		err = e.confirms.Deny(ctx, ca, conf)
	}
	if err != nil {
		e.metricInc(MetricConfirmationFailed)
	} else if accept {
		e.metricInc(MetricConfirmationAccepted)
	} else {
		e.metricInc(MetricConfirmationDenied)
	}
	e.emit(ctx, event, accountName, ca.SteamID, err == nil, err)
	return err
}

// ActOnConfirmations resolves a batch for one account with bounded
// parallelism. Items fail independently; every outcome is reported.
func (e *Engine) ActOnConfirmations(ctx context.Context, accountName string, confs []confirm.Confirmation, accept bool) ([]confirm.Outcome, error) {
	if e == nil || e.store == nil {
		return nil, ErrEngineNotReady
	}
	unlock := e.lockAccount(accountName)
	defer unlock()

	ca, _, err := e.confirmIdentity(ctx, accountName)
	if err != nil {
		return nil, err
	}

	outcomes := e.confirms.ActBatch(ctx, ca, confs, accept)
	for _, o := range outcomes {
		switch {
		case o.Err != nil:
			e.metricInc(MetricConfirmationFailed)
		case accept:
			e.metricInc(MetricConfirmationAccepted)
		default:
			e.metricInc(MetricConfirmationDenied)
		}
	}
	e.emit(ctx, "confirmation_batch", accountName, ca.SteamID, true, nil)
	return outcomes, nil
}

// ForEachAccount runs fn for each named account with bounded parallelism
// and a per-account timeout. One account's failure never aborts the others;
// the per-account errors are returned keyed by normalized name.
func (e *Engine) ForEachAccount(ctx context.Context, accountNames []string, fn func(ctx context.Context, accountName string) error) map[string]error {
	if e == nil {
		return nil
	}

	type result struct {
		name string
		err  error
	}

	sem := make(chan struct{}, e.config.Batch.MaxParallelAccounts)
	results := make(chan result, len(accountNames))

	for _, name := range accountNames {
		go func(name string) {
			sem <- struct{}{}
			defer func() { <-sem }()

			actx, cancel := context.WithTimeout(ctx, e.config.Batch.AccountTimeout)
			defer cancel()
			results <- result{name: normalized(name), err: fn(actx, name)}
		}(name)
	}

	errs := make(map[string]error, len(accountNames))
	for range accountNames {
		r := <-results
		if r.err != nil {
			errs[r.name] = r.err
		}
	}
	return errs
}
