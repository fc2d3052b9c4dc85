package rate

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// Scope selects which endpoint family a counter protects.
type Scope string

const (
	// ScopeLogin covers the credential login endpoint.
	ScopeLogin Scope = "login"
	// ScopeTwoFactor covers all two-factor endpoints (verify, setup,
	// disable, backup-code consumption, sensitive-operation proof).
	ScopeTwoFactor Scope = "2fa"
)

// Config holds rate limiter tuning parameters per scope.
type Config struct {
	KeyPrefix string

	MaxLoginFailures int
	LoginWindow      time.Duration

	MaxTwoFactorFailures int
	TwoFactorWindow      time.Duration
}

// Limiter enforces per-identifier+IP fixed-window budgets using Redis
// counters. Only failures consume budget: callers Check before the
// attempt and RecordFailure after a failed one.
type Limiter struct {
	redis  redis.UniversalClient
	config Config
}

// New creates a [Limiter] backed by the given Redis client.
func New(redisClient redis.UniversalClient, cfg Config) *Limiter {
	return &Limiter{
		redis:  redisClient,
		config: cfg,
	}
}

// Check returns ErrRateLimited when the identifier+IP pair has already
// exhausted the scope's failure budget. Missing keys pass.
func (l *Limiter) Check(ctx context.Context, scope Scope, identifier, ip string) error {
	max, _ := l.budget(scope)

	count, err := l.redis.Get(ctx, l.key(scope, identifier, ip)).Int64()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil
		}
		return fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}

	if count >= int64(max) {
		return ErrRateLimited
	}
	return nil
}

// RecordFailure counts one failed attempt. It returns ErrRateLimited when
// the failure fills or exceeds the budget, so callers can surface the
// limit on the attempt that crossed it.
func (l *Limiter) RecordFailure(ctx context.Context, scope Scope, identifier, ip string) error {
	max, window := l.budget(scope)

	count, err := l.incrementWithTTL(ctx, l.key(scope, identifier, ip), window)
	if err != nil {
		return err
	}
	if count >= int64(max) {
		return ErrRateLimited
	}
	return nil
}

// RetryAfter reports how long until the pair's current window expires.
// A counter with no TTL (or none at all) reports the full window.
func (l *Limiter) RetryAfter(ctx context.Context, scope Scope, identifier, ip string) (time.Duration, error) {
	ttl, err := l.redis.PTTL(ctx, l.key(scope, identifier, ip)).Result()
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	if ttl < 0 {
		_, window := l.budget(scope)
		return window, nil
	}
	return ttl, nil
}

// Reset clears the counter for the identifier+IP pair. Called after a
// fully successful authentication.
func (l *Limiter) Reset(ctx context.Context, scope Scope, identifier, ip string) error {
	if err := l.redis.Del(ctx, l.key(scope, identifier, ip)).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	return nil
}

// Failures returns the current failure count for the pair. Missing keys
// return zero and do not reveal account existence.
func (l *Limiter) Failures(ctx context.Context, scope Scope, identifier, ip string) (int, error) {
	count, err := l.redis.Get(ctx, l.key(scope, identifier, ip)).Int64()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return 0, nil
		}
		return 0, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	if count < 0 {
		return 0, nil
	}
	return int(count), nil
}

func (l *Limiter) budget(scope Scope) (int, time.Duration) {
	if scope == ScopeTwoFactor {
		return l.config.MaxTwoFactorFailures, l.config.TwoFactorWindow
	}
	return l.config.MaxLoginFailures, l.config.LoginWindow
}

func (l *Limiter) key(scope Scope, identifier, ip string) string {
	return l.config.KeyPrefix + ":rl:" + string(scope) + ":" + identifier + ":" + ip
}

func (l *Limiter) incrementWithTTL(ctx context.Context, key string, ttl time.Duration) (int64, error) {
	count, err := l.redis.Incr(ctx, key).Result()
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}

	// Fixed-window semantics: set TTL only for the first hit in the window.
	if count == 1 {
		if err := l.redis.Expire(ctx, key, ttl).Err(); err != nil {
			return 0, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
		}
	}

	return count, nil
}
