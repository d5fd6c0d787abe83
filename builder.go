package guardian

import (
	"context"
	"errors"
	"sync"

	"github.com/redis/go-redis/v9"

	"github.com/feuarus/guardian/confirm"
	"github.com/feuarus/guardian/internal/audit"
	"github.com/feuarus/guardian/manifest"
	"github.com/feuarus/guardian/rpc"
	"github.com/feuarus/guardian/session"
	"github.com/feuarus/guardian/timesync"
	"github.com/feuarus/guardian/vault"
)

// Builder assembles an Engine. Configure it with the With* methods and call
// Build once.
type Builder struct {
	cfg        Config
	cfgSet     bool
	dir        string
	backend    manifest.StateStore
	redis      redis.UniversalClient
	sink       AuditSink
	passphrase PassphraseProvider
	prompter   Prompter
	qr         QRDecoder
}

func New() *Builder {
	return &Builder{}
}

func (b *Builder) WithConfig(cfg Config) *Builder {
	b.cfg = cfg
	b.cfgSet = true
	return b
}

// WithStoreDir keeps account records as files under dir.
func (b *Builder) WithStoreDir(dir string) *Builder {
	b.dir = dir
	return b
}

// WithStateStore installs a custom persistence backend.
func (b *Builder) WithStateStore(backend manifest.StateStore) *Builder {
	b.backend = backend
	return b
}

// WithRedis keeps account records in Redis, for headless deployments.
func (b *Builder) WithRedis(client redis.UniversalClient) *Builder {
	b.redis = client
	return b
}

func (b *Builder) WithAuditSink(sink AuditSink) *Builder {
	b.sink = sink
	return b
}

func (b *Builder) WithMetricsEnabled(enabled bool) *Builder {
	if !b.cfgSet {
		b.cfg = DefaultConfig()
		b.cfgSet = true
	}
	b.cfg.Metrics.Enabled = enabled
	return b
}

func (b *Builder) WithLatencyHistograms(enabled bool) *Builder {
	if !b.cfgSet {
		b.cfg = DefaultConfig()
		b.cfgSet = true
	}
	b.cfg.Metrics.EnableLatencyHistograms = enabled
	return b
}

func (b *Builder) WithPassphraseProvider(p PassphraseProvider) *Builder {
	b.passphrase = p
	return b
}

func (b *Builder) WithPrompter(p Prompter) *Builder {
	b.prompter = p
	return b
}

func (b *Builder) WithQRDecoder(d QRDecoder) *Builder {
	b.qr = d
	return b
}

// Build validates the configuration, opens the store (running any legacy
// migration), and returns a ready Engine.
func (b *Builder) Build() (*Engine, error) {
	cfg := b.cfg
	if !b.cfgSet {
		cfg = DefaultConfig()
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	codec, err := vault.New(cfg.Vault)
	if err != nil {
		return nil, err
	}

	metrics := NewMetrics(cfg.Metrics)
	rpcCfg := cfg.RPC
	prevOnRetry := rpcCfg.OnRetry
	rpcCfg.OnRetry = func() {
		metrics.Inc(MetricRPCRetry)
		if prevOnRetry != nil {
			prevOnRetry()
		}
	}
	client := rpc.NewClient(rpcCfg)
	clock := timesync.New(&timeRemote{client: client})
	confirms := confirm.NewClient(clock, cfg.Confirm)

	backend := b.backend
	switch {
	case backend != nil:
	case b.redis != nil:
		backend = manifest.NewRedisStore(b.redis, "")
	case b.dir != "":
		fs, err := manifest.NewFileStore(b.dir)
		if err != nil {
			return nil, err
		}
		backend = fs
	default:
		return nil, errors.New("no store backend configured")
	}

	// Legacy migration may need a passphrase before any account is named.
	var migratePass []byte
	if b.passphrase != nil {
		if migratePass, err = b.passphrase.Passphrase(context.Background(), ""); err != nil {
			return nil, err
		}
	}
	store, err := manifest.Open(context.Background(), backend, codec, migratePass)
	if err != nil {
		return nil, err
	}

	return &Engine{
		config:     cfg,
		store:      store,
		client:     client,
		confirms:   confirms,
		clock:      clock,
		audit:      audit.NewDispatcher(dispatcherConfig(cfg.Audit), b.sink),
		metrics:    metrics,
		passphrase: b.passphrase,
		prompter:   b.prompter,
		qr:         b.qr,
		locks:      map[string]*sync.Mutex{},
		sessions:   map[string]*session.Manager{},
	}, nil
}

func dispatcherConfig(cfg AuditConfig) audit.DispatcherConfig {
	return audit.DispatcherConfig{
		Enabled:    cfg.Enabled,
		BufferSize: cfg.BufferSize,
		DropIfFull: cfg.DropIfFull,
	}
}
