package rate

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func testConfig() Config {
	return Config{
		KeyPrefix:            "aa",
		MaxLoginFailures:     5,
		LoginWindow:          15 * time.Minute,
		MaxTwoFactorFailures: 3,
		TwoFactorWindow:      5 * time.Minute,
	}
}

func newTestLimiter(t *testing.T) (*Limiter, *miniredis.Miniredis, func()) {
	t.Helper()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis run failed: %v", err)
	}
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	return New(rdb, testConfig()), mr, func() {
		_ = rdb.Close()
		mr.Close()
	}
}

func TestCheckPassesWithNoHistory(t *testing.T) {
	limiter, _, cleanup := newTestLimiter(t)
	defer cleanup()

	if err := limiter.Check(context.Background(), ScopeLogin, "ops@x", "10.0.0.1"); err != nil {
		t.Fatalf("Check on empty history failed: %v", err)
	}
}

func TestRetryAfterTracksWindow(t *testing.T) {
	limiter, mr, cleanup := newTestLimiter(t)
	defer cleanup()
	ctx := context.Background()

	// No counter yet: report the full window.
	retry, err := limiter.RetryAfter(ctx, ScopeLogin, "ops@x", "10.0.0.1")
	if err != nil {
		t.Fatalf("RetryAfter on empty history failed: %v", err)
	}
	if retry != 15*time.Minute {
		t.Fatalf("retry = %v, want the full 15m window", retry)
	}

	if err := limiter.RecordFailure(ctx, ScopeLogin, "ops@x", "10.0.0.1"); err != nil {
		t.Fatalf("RecordFailure failed: %v", err)
	}
	mr.FastForward(5 * time.Minute)

	retry, err = limiter.RetryAfter(ctx, ScopeLogin, "ops@x", "10.0.0.1")
	if err != nil {
		t.Fatalf("RetryAfter failed: %v", err)
	}
	if retry <= 0 || retry > 10*time.Minute {
		t.Fatalf("retry = %v, want the remaining 10m", retry)
	}
}

func TestLoginBudgetExhaustion(t *testing.T) {
	limiter, _, cleanup := newTestLimiter(t)
	defer cleanup()
	ctx := context.Background()

	for i := 1; i <= 4; i++ {
		if err := limiter.RecordFailure(ctx, ScopeLogin, "ops@x", "10.0.0.1"); err != nil {
			t.Fatalf("RecordFailure #%d returned %v", i, err)
		}
	}
	// Fifth failure fills the budget; RecordFailure reports it immediately.
	if err := limiter.RecordFailure(ctx, ScopeLogin, "ops@x", "10.0.0.1"); !errors.Is(err, ErrRateLimited) {
		t.Fatalf("5th RecordFailure = %v, want ErrRateLimited", err)
	}
	if err := limiter.Check(ctx, ScopeLogin, "ops@x", "10.0.0.1"); !errors.Is(err, ErrRateLimited) {
		t.Fatalf("Check after exhaustion = %v, want ErrRateLimited", err)
	}
}

func TestTwoFactorBudgetIsStricter(t *testing.T) {
	limiter, _, cleanup := newTestLimiter(t)
	defer cleanup()
	ctx := context.Background()

	for i := 1; i <= 2; i++ {
		if err := limiter.RecordFailure(ctx, ScopeTwoFactor, "ops@x", "10.0.0.1"); err != nil {
			t.Fatalf("RecordFailure #%d returned %v", i, err)
		}
	}
	if err := limiter.RecordFailure(ctx, ScopeTwoFactor, "ops@x", "10.0.0.1"); !errors.Is(err, ErrRateLimited) {
		t.Fatalf("3rd 2fa RecordFailure = %v, want ErrRateLimited", err)
	}
}

func TestScopesAreIndependent(t *testing.T) {
	limiter, _, cleanup := newTestLimiter(t)
	defer cleanup()
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		_ = limiter.RecordFailure(ctx, ScopeTwoFactor, "ops@x", "10.0.0.1")
	}
	if err := limiter.Check(ctx, ScopeLogin, "ops@x", "10.0.0.1"); err != nil {
		t.Fatalf("login scope blocked by 2fa failures: %v", err)
	}
}

func TestWindowExpiryResetsBudget(t *testing.T) {
	limiter, mr, cleanup := newTestLimiter(t)
	defer cleanup()
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		_ = limiter.RecordFailure(ctx, ScopeLogin, "ops@x", "10.0.0.1")
	}
	if err := limiter.Check(ctx, ScopeLogin, "ops@x", "10.0.0.1"); !errors.Is(err, ErrRateLimited) {
		t.Fatalf("expected limit before expiry, got %v", err)
	}

	mr.FastForward(16 * time.Minute)

	if err := limiter.Check(ctx, ScopeLogin, "ops@x", "10.0.0.1"); err != nil {
		t.Fatalf("Check after window expiry failed: %v", err)
	}
}

func TestResetClearsCounter(t *testing.T) {
	limiter, _, cleanup := newTestLimiter(t)
	defer cleanup()
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		_ = limiter.RecordFailure(ctx, ScopeLogin, "ops@x", "10.0.0.1")
	}
	if err := limiter.Reset(ctx, ScopeLogin, "ops@x", "10.0.0.1"); err != nil {
		t.Fatalf("Reset failed: %v", err)
	}
	count, err := limiter.Failures(ctx, ScopeLogin, "ops@x", "10.0.0.1")
	if err != nil {
		t.Fatalf("Failures failed: %v", err)
	}
	if count != 0 {
		t.Fatalf("Failures = %d after Reset, want 0", count)
	}
}

func TestCountersKeyedByIdentifierAndIP(t *testing.T) {
	limiter, _, cleanup := newTestLimiter(t)
	defer cleanup()
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		_ = limiter.RecordFailure(ctx, ScopeLogin, "ops@x", "10.0.0.1")
	}

	if err := limiter.Check(ctx, ScopeLogin, "ops@x", "10.0.0.2"); err != nil {
		t.Fatalf("other IP blocked: %v", err)
	}
	if err := limiter.Check(ctx, ScopeLogin, "other@x", "10.0.0.1"); err != nil {
		t.Fatalf("other identifier blocked: %v", err)
	}
}

func TestRedisOutageSurfacesBackendError(t *testing.T) {
	limiter, mr, cleanup := newTestLimiter(t)
	defer cleanup()
	mr.Close()

	err := limiter.Check(context.Background(), ScopeLogin, "ops@x", "10.0.0.1")
	if !errors.Is(err, ErrRedisUnavailable) {
		t.Fatalf("Check during outage = %v, want ErrRedisUnavailable", err)
	}
}
