package guardian

import (
	"errors"
	"time"

	"github.com/feuarus/guardian/confirm"
	"github.com/feuarus/guardian/rpc"
	"github.com/feuarus/guardian/session"
	"github.com/feuarus/guardian/vault"
)

// Config aggregates all engine tunables. Build a Config once, validate it,
// and treat it as immutable afterwards.
type Config struct {
	RPC     rpc.Config
	Session session.Config
	Confirm confirm.Config
	Vault   vault.Config
	Batch   BatchConfig
	Audit   AuditConfig
	Metrics MetricsConfig
}

/*
====================================
BATCH CONFIG
====================================
*/

// BatchConfig bounds multi-account processing.
type BatchConfig struct {
	// MaxParallelAccounts caps how many accounts are worked concurrently.
	MaxParallelAccounts int
	// AccountTimeout bounds one account's whole batch operation.
	AccountTimeout time.Duration
}

/*
====================================
AUDIT CONFIG
====================================
*/

// AuditConfig controls the async audit dispatcher.
type AuditConfig struct {
	Enabled    bool
	BufferSize int
	DropIfFull bool
}

/*
====================================
METRICS CONFIG
====================================
*/

// MetricsConfig controls the in-process counters.
type MetricsConfig struct {
	Enabled                 bool
	EnableLatencyHistograms bool
}

// DefaultConfig returns the preset a mobile-client deployment starts from.
func DefaultConfig() Config {
	return Config{
		RPC: rpc.Config{
			Timeout:        10 * time.Second,
			MaxRetries:     3,
			InitialBackoff: 250 * time.Millisecond,
		},
		Session: session.Config{
			MaxChallengeAttempts: 3,
			PollInterval:         2 * time.Second,
			PollAttempts:         5,
			RefreshWindow:        10 * time.Minute,
		},
		Confirm: confirm.Config{
			Timeout:     15 * time.Second,
			MaxParallel: 4,
		},
		Vault: vault.DefaultConfig(),
		Batch: BatchConfig{
			MaxParallelAccounts: 4,
			AccountTimeout:      2 * time.Minute,
		},
		Audit: AuditConfig{
			Enabled:    false,
			BufferSize: 1024,
			DropIfFull: true,
		},
		Metrics: MetricsConfig{
			Enabled:                 false,
			EnableLatencyHistograms: false,
		},
	}
}

// Validate rejects configurations the engine cannot run safely.
func (c *Config) Validate() error {
	// RPC
	if c.RPC.Timeout < 0 {
		return errors.New("RPC Timeout must be >= 0")
	}
	if c.RPC.MaxRetries < 0 {
		return errors.New("RPC MaxRetries must be >= 0")
	}
	if c.RPC.InitialBackoff < 0 {
		return errors.New("RPC InitialBackoff must be >= 0")
	}

	// Session
	if c.Session.MaxChallengeAttempts < 0 {
		return errors.New("Session MaxChallengeAttempts must be >= 0")
	}
	if c.Session.PollInterval < 0 {
		return errors.New("Session PollInterval must be >= 0")
	}
	if c.Session.PollAttempts < 0 {
		return errors.New("Session PollAttempts must be >= 0")
	}
	if c.Session.RefreshWindow < 0 {
		return errors.New("Session RefreshWindow must be >= 0")
	}

	// Confirm
	if c.Confirm.MaxParallel < 0 {
		return errors.New("Confirm MaxParallel must be >= 0")
	}
	if c.Confirm.Timeout < 0 {
		return errors.New("Confirm Timeout must be >= 0")
	}

	// Vault: the codec constructor enforces minimum hardening, but catch
	// obviously inverted settings early.
	if c.Vault.Memory != 0 && c.Vault.Memory < 8*1024 {
		return errors.New("Vault Memory must be >= 8192 KB")
	}
	if c.Vault.SaltLength != 0 && c.Vault.SaltLength < 16 {
		return errors.New("Vault SaltLength must be >= 16")
	}

	// Batch
	if c.Batch.MaxParallelAccounts < 1 {
		return errors.New("Batch MaxParallelAccounts must be >= 1")
	}
	if c.Batch.AccountTimeout <= 0 {
		return errors.New("Batch AccountTimeout must be > 0")
	}

	// Audit
	if c.Audit.Enabled && c.Audit.BufferSize <= 0 {
		return errors.New("Audit BufferSize must be > 0 when enabled")
	}

	return nil
}
