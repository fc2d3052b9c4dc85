package adminauth

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func TestBuildRequiresCollaborators(t *testing.T) {
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis run failed: %v", err)
	}
	defer mr.Close()
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer rdb.Close()

	if _, err := New().WithConfig(engineTestConfig()).Build(); err == nil {
		t.Fatal("built without redis")
	}
	if _, err := New().WithConfig(engineTestConfig()).WithRedis(rdb).Build(); err == nil {
		t.Fatal("built without account store")
	}
}

func TestBuildRejectsInvalidConfig(t *testing.T) {
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis run failed: %v", err)
	}
	defer mr.Close()
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer rdb.Close()

	mutations := []func(*Config){
		func(c *Config) { c.TOTP.Digits = 4 },
		func(c *Config) { c.TOTP.Period = 0 },
		func(c *Config) { c.TOTP.Skew = -1 },
		func(c *Config) { c.BackupCode.Count = 0 },
	}
	for i, mutate := range mutations {
		cfg := engineTestConfig()
		mutate(&cfg)
		if _, err := New().WithConfig(cfg).WithRedis(rdb).WithAccountStore(newFakeStore()).Build(); err == nil {
			t.Errorf("case %d: invalid config accepted", i)
		}
	}
}

func TestBuilderIsSingleUse(t *testing.T) {
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis run failed: %v", err)
	}
	defer mr.Close()
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer rdb.Close()

	b := New().WithConfig(engineTestConfig()).WithRedis(rdb).WithAccountStore(newFakeStore())
	engine, err := b.Build()
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}
	defer engine.Close()

	if _, err := b.Build(); err == nil {
		t.Fatal("builder reused")
	}
}

func TestCustomTokenIssuer(t *testing.T) {
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis run failed: %v", err)
	}
	defer mr.Close()
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer rdb.Close()

	cfg := engineTestConfig()
	cfg.JWT.PrivateKey = nil // custom issuer makes the default manager moot
	engine, err := New().
		WithConfig(cfg).
		WithRedis(rdb).
		WithAccountStore(newFakeStore()).
		WithTokenIssuer(staticIssuer{token: "opaque-session-token"}).
		Build()
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}
	defer engine.Close()
	engine.pipeline.sleep = func(context.Context, time.Duration) {}

	if engine.TokenManager() != nil {
		t.Fatal("default token manager built alongside custom issuer")
	}

	store := engine.store.(*fakeStore)
	seedAccount(t, engine, store, "ops@oakmont.example", "correct horse battery", false)
	result, err := engine.Login(context.Background(), LoginRequest{
		Identifier: "ops@oakmont.example",
		Password:   "correct horse battery",
	})
	if err != nil {
		t.Fatalf("Login failed: %v", err)
	}
	if result.Token != "opaque-session-token" {
		t.Fatalf("token = %q", result.Token)
	}
}

type staticIssuer struct {
	token string
}

func (i staticIssuer) IssueToken(*AccountRecord) (string, error) {
	return i.token, nil
}

func TestEngineEmitsAuditTrail(t *testing.T) {
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis run failed: %v", err)
	}
	defer mr.Close()
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer rdb.Close()

	sink := NewChannelSink(64)
	cfg := engineTestConfig()
	cfg.Audit = AuditConfig{Enabled: true, BufferSize: 64, DropIfFull: false}

	store := newFakeStore()
	engine, err := New().
		WithConfig(cfg).
		WithRedis(rdb).
		WithAccountStore(store).
		WithAuditSink(sink).
		Build()
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}
	defer engine.Close()
	engine.pipeline.sleep = func(context.Context, time.Duration) {}

	seedAccount(t, engine, store, "ops@oakmont.example", "correct horse battery", false)

	ctx := WithClientIP(WithUserAgent(context.Background(), "Mozilla/5.0"), "203.0.113.9")
	if _, err := engine.Login(ctx, LoginRequest{
		Identifier: "ops@oakmont.example",
		Password:   "correct horse battery",
	}); err != nil {
		t.Fatalf("Login failed: %v", err)
	}

	select {
	case event := <-sink.Events():
		if event.EventType != EventLoginSuccess {
			t.Fatalf("event type = %q", event.EventType)
		}
		if event.IP != "203.0.113.9" {
			t.Fatalf("event ip = %q", event.IP)
		}
		if event.Timestamp.IsZero() {
			t.Fatal("event timestamp missing")
		}
		if event.EventID == "" {
			t.Fatal("event id missing")
		}
		if !event.Success {
			t.Fatal("success flag not set")
		}
	case <-time.After(time.Second):
		t.Fatal("no audit event delivered")
	}
}
