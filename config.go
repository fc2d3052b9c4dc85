package adminauth

import (
	"errors"
	"time"
)

// Config defines the engine's tuning parameters. Configure once before
// Build; treat as immutable afterwards.
type Config struct {
	TOTP       TOTPConfig
	BackupCode BackupCodeConfig
	Attempt    AttemptConfig
	RateLimit  RateLimitConfig
	Suspicion  SuspicionConfig
	Password   PasswordConfig
	JWT        JWTConfig
	Audit      AuditConfig
	Metrics    MetricsConfig

	// AdminRoles is the allowed set for admin-restricted sensitive
	// operations. Defaults to [AdminRoles].
	AdminRoles []Role

	// KeyPrefix namespaces every Redis key written by the engine.
	KeyPrefix string
}

// TOTPConfig controls the RFC 6238 verifier.
type TOTPConfig struct {
	Issuer    string
	Digits    int
	Period    int // seconds per time step
	Skew      int // accepted steps each side of now
	Algorithm string
}

// BackupCodeConfig controls recovery-code generation and the pending-setup
// lifecycle.
type BackupCodeConfig struct {
	Count         int
	WarnThreshold int
	// PendingSetupTTL bounds how long a generated-but-unconfirmed secret
	// stays claimable.
	PendingSetupTTL time.Duration
}

// LockoutStep maps a failure-count threshold to a lockout duration.
// Steps must be ordered by ascending Threshold.
type LockoutStep struct {
	Threshold int
	Duration  time.Duration
}

// AttemptConfig controls the failure tracker and progressive lockout.
type AttemptConfig struct {
	// DecayWindow resets the counter to 1 when the next failure arrives more
	// than this long after the first one.
	DecayWindow time.Duration
	Escalation  []LockoutStep
	// BaseDelay and MaxDelay bound the exponential progressive delay:
	// min(2^(n-1) * BaseDelay, MaxDelay).
	BaseDelay time.Duration
	MaxDelay  time.Duration
}

// RateLimitConfig sets the fixed-window request budgets. Only failed or
// rejected attempts are counted, so a successful login does not consume
// budget.
type RateLimitConfig struct {
	LoginMax        int
	LoginWindow     time.Duration
	TwoFactorMax    int
	TwoFactorWindow time.Duration
}

// SuspicionConfig tunes the advisory suspicious-pattern detector.
type SuspicionConfig struct {
	// DistinctIdentifiersPerIP flags a source address once more than this
	// many identifiers have pending failures from it, counted over
	// IdentifierWindow.
	DistinctIdentifiersPerIP int
	IdentifierWindow         time.Duration
	// BurstCount failures inside BurstWindow flags rapid-succession abuse.
	BurstCount  int
	BurstWindow time.Duration
}

// PasswordConfig carries the Argon2id parameters.
type PasswordConfig struct {
	Memory      uint32 // in KB
	Time        uint32
	Parallelism uint8
	SaltLength  uint32
	KeyLength   uint32
}

// JWTConfig configures the default session-token issuer. Ignored when a
// custom [TokenIssuer] is injected.
type JWTConfig struct {
	AccessTTL     time.Duration
	SigningMethod string // "hs256" (default) or "ed25519"
	PrivateKey    []byte
	PublicKey     []byte
	Issuer        string
}

// AuditConfig configures the buffered audit dispatcher.
type AuditConfig struct {
	Enabled    bool
	BufferSize int
	DropIfFull bool
}

// MetricsConfig toggles the in-process counters.
type MetricsConfig struct {
	Enabled bool
	// EnableLatencyHistograms adds a login-latency histogram on top of
	// the plain counters.
	EnableLatencyHistograms bool
}

// DefaultConfig returns the configuration the builder starts from.
// Mutate the copy and pass it to [Builder.WithConfig].
func DefaultConfig() Config {
	return defaultConfig()
}

func defaultConfig() Config {
	return Config{
		TOTP: TOTPConfig{
			Issuer:    "RWA Admin",
			Digits:    6,
			Period:    30,
			Skew:      2,
			Algorithm: "SHA1",
		},
		BackupCode: BackupCodeConfig{
			Count:           8,
			WarnThreshold:   2,
			PendingSetupTTL: 10 * time.Minute,
		},
		Attempt: AttemptConfig{
			DecayWindow: time.Hour,
			Escalation: []LockoutStep{
				{Threshold: 3, Duration: 5 * time.Minute},
				{Threshold: 5, Duration: 15 * time.Minute},
				{Threshold: 7, Duration: 30 * time.Minute},
				{Threshold: 10, Duration: 60 * time.Minute},
			},
			BaseDelay: time.Second,
			MaxDelay:  30 * time.Second,
		},
		RateLimit: RateLimitConfig{
			LoginMax:        5,
			LoginWindow:     15 * time.Minute,
			TwoFactorMax:    3,
			TwoFactorWindow: 5 * time.Minute,
		},
		Suspicion: SuspicionConfig{
			DistinctIdentifiersPerIP: 5,
			IdentifierWindow:         time.Hour,
			BurstCount:               3,
			BurstWindow:              time.Minute,
		},
		Password: PasswordConfig{
			Memory:      64 * 1024,
			Time:        3,
			Parallelism: 2,
			SaltLength:  16,
			KeyLength:   32,
		},
		JWT: JWTConfig{
			AccessTTL:     24 * time.Hour,
			SigningMethod: "hs256",
			Issuer:        "adminauth",
		},
		Audit: AuditConfig{
			Enabled:    true,
			BufferSize: 256,
			DropIfFull: true,
		},
		Metrics:    MetricsConfig{Enabled: true},
		AdminRoles: append([]Role(nil), AdminRoles...),
		KeyPrefix:  "aa",
	}
}

func validateConfig(cfg Config) error {
	if cfg.TOTP.Digits < 6 || cfg.TOTP.Digits > 8 {
		return errors.New("totp digits must be between 6 and 8")
	}
	if cfg.TOTP.Period <= 0 {
		return errors.New("totp period must be positive")
	}
	if cfg.TOTP.Skew < 0 {
		return errors.New("totp skew must not be negative")
	}
	if cfg.BackupCode.Count <= 0 {
		return errors.New("backup code count must be positive")
	}
	if cfg.BackupCode.WarnThreshold < 0 || cfg.BackupCode.WarnThreshold >= cfg.BackupCode.Count {
		return errors.New("backup code warn threshold must be below the batch size")
	}
	if cfg.BackupCode.PendingSetupTTL <= 0 {
		return errors.New("pending setup ttl must be positive")
	}
	if cfg.Attempt.DecayWindow <= 0 {
		return errors.New("attempt decay window must be positive")
	}
	if len(cfg.Attempt.Escalation) == 0 {
		return errors.New("escalation table must not be empty")
	}
	prev := LockoutStep{}
	for _, step := range cfg.Attempt.Escalation {
		if step.Threshold <= prev.Threshold || step.Duration < prev.Duration {
			return errors.New("escalation table must ascend in threshold and duration")
		}
		prev = step
	}
	if cfg.Attempt.BaseDelay <= 0 || cfg.Attempt.MaxDelay < cfg.Attempt.BaseDelay {
		return errors.New("progressive delay bounds invalid")
	}
	if cfg.RateLimit.LoginMax <= 0 || cfg.RateLimit.TwoFactorMax <= 0 {
		return errors.New("rate limit budgets must be positive")
	}
	if cfg.RateLimit.LoginWindow <= 0 || cfg.RateLimit.TwoFactorWindow <= 0 {
		return errors.New("rate limit windows must be positive")
	}
	if cfg.JWT.AccessTTL <= 0 {
		return errors.New("jwt access ttl must be positive")
	}
	if cfg.KeyPrefix == "" {
		return errors.New("key prefix must not be empty")
	}
	return nil
}

func cloneConfig(cfg Config) Config {
	out := cfg
	out.Attempt.Escalation = append([]LockoutStep(nil), cfg.Attempt.Escalation...)
	out.AdminRoles = append([]Role(nil), cfg.AdminRoles...)
	out.JWT.PrivateKey = append([]byte(nil), cfg.JWT.PrivateKey...)
	out.JWT.PublicKey = append([]byte(nil), cfg.JWT.PublicKey...)
	return out
}
