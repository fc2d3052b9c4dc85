package adminauth

import (
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/oakmont/adminauth/internal/rate"
	"github.com/oakmont/adminauth/internal/stores"
	"github.com/oakmont/adminauth/jwt"
	"github.com/oakmont/adminauth/password"
)

// Builder assembles an [Engine]. Single use.
type Builder struct {
	config Config
	redis  redis.UniversalClient

	store     AccountStore
	issuer    TokenIssuer
	auditSink AuditSink
	logger    *zap.Logger

	built bool
}

// New starts a builder preloaded with the default config.
func New() *Builder {
	return &Builder{
		config: defaultConfig(),
	}
}

func (b *Builder) WithConfig(cfg Config) *Builder {
	b.config = cloneConfig(cfg)
	return b
}

func (b *Builder) WithRedis(client redis.UniversalClient) *Builder {
	b.redis = client
	return b
}

// WithAccountStore injects the account collaborator. Required.
func (b *Builder) WithAccountStore(store AccountStore) *Builder {
	b.store = store
	return b
}

// WithTokenIssuer replaces the default JWT issuer.
func (b *Builder) WithTokenIssuer(issuer TokenIssuer) *Builder {
	b.issuer = issuer
	return b
}

func (b *Builder) WithAuditSink(sink AuditSink) *Builder {
	b.auditSink = sink
	return b
}

func (b *Builder) WithLogger(logger *zap.Logger) *Builder {
	b.logger = logger
	return b
}

func (b *Builder) WithMetricsEnabled(enabled bool) *Builder {
	b.config.Metrics.Enabled = enabled
	return b
}

func (b *Builder) WithLatencyHistograms(enabled bool) *Builder {
	b.config.Metrics.EnableLatencyHistograms = enabled
	return b
}

// Build validates the configuration, wires every component, and returns
// the ready engine.
func (b *Builder) Build() (*Engine, error) {
	if b.built {
		return nil, errors.New("builder already used")
	}

	cfg := cloneConfig(b.config)
	if err := validateConfig(cfg); err != nil {
		return nil, err
	}
	if b.redis == nil {
		return nil, errors.New("redis client required")
	}
	if b.store == nil {
		return nil, errors.New("account store required")
	}

	logger := b.logger
	if logger == nil {
		logger = zap.NewNop()
	}

	hasher, err := password.NewArgon2(password.Config{
		Memory:      cfg.Password.Memory,
		Time:        cfg.Password.Time,
		Parallelism: cfg.Password.Parallelism,
		SaltLength:  cfg.Password.SaltLength,
		KeyLength:   cfg.Password.KeyLength,
	})
	if err != nil {
		return nil, err
	}

	var jwtManager *jwt.Manager
	issuer := b.issuer
	if issuer == nil {
		jwtManager, err = jwt.NewManager(jwt.Config{
			AccessTTL:     cfg.JWT.AccessTTL,
			SigningMethod: jwt.SigningMethod(cfg.JWT.SigningMethod),
			PrivateKey:    cfg.JWT.PrivateKey,
			PublicKey:     cfg.JWT.PublicKey,
			Issuer:        cfg.JWT.Issuer,
		})
		if err != nil {
			return nil, err
		}
		issuer = jwtIssuer{manager: jwtManager}
	}

	limiter := rate.New(b.redis, rate.Config{
		KeyPrefix:            cfg.KeyPrefix,
		MaxLoginFailures:     cfg.RateLimit.LoginMax,
		LoginWindow:          cfg.RateLimit.LoginWindow,
		MaxTwoFactorFailures: cfg.RateLimit.TwoFactorMax,
		TwoFactorWindow:      cfg.RateLimit.TwoFactorWindow,
	})
	tracker := newAttemptTracker(b.redis, cfg.Attempt, cfg.KeyPrefix)
	suspicion := newSuspicionDetector(b.redis, cfg.Suspicion, cfg.KeyPrefix)
	metrics := NewMetrics(cfg.Metrics)
	audit := newAuditDispatcher(cfg.Audit, b.auditSink)

	engine := &Engine{
		config:       cfg,
		store:        b.store,
		issuer:       issuer,
		limiter:      limiter,
		tracker:      tracker,
		suspicion:    suspicion,
		pipeline:     newMitigationPipeline(limiter, tracker, suspicion, metrics, audit),
		pending:      stores.NewPendingSetupStore(b.redis, cfg.KeyPrefix+":aps"),
		audit:        audit,
		metrics:      metrics,
		passwordHash: hasher,
		totp:         newTOTPManager(cfg.TOTP),
		backup:       newBackupCodeManager(cfg.BackupCode),
		jwtManager:   jwtManager,
		logger:       logger,
		now:          time.Now,
	}

	b.built = true
	return engine, nil
}
