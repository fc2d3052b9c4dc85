package adminauth

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

type fakeStore struct {
	mu       sync.Mutex
	accounts map[string]*AccountRecord
	failAll  bool
}

func newFakeStore() *fakeStore {
	return &fakeStore{accounts: make(map[string]*AccountRecord)}
}

func (s *fakeStore) put(record *AccountRecord) {
	s.mu.Lock()
	defer s.mu.Unlock()
	copied := *record
	copied.Credential.BackupCodes = append([]string(nil), record.Credential.BackupCodes...)
	s.accounts[record.AccountID] = &copied
}

func (s *fakeStore) get(accountID string) *AccountRecord {
	s.mu.Lock()
	defer s.mu.Unlock()
	record, ok := s.accounts[accountID]
	if !ok {
		return nil
	}
	copied := *record
	copied.Credential.BackupCodes = append([]string(nil), record.Credential.BackupCodes...)
	return &copied
}

func (s *fakeStore) FindByIdentifier(_ context.Context, identifier string) (*AccountRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failAll {
		return nil, errors.New("store down")
	}
	for _, record := range s.accounts {
		if record.Identifier == identifier {
			copied := *record
			copied.Credential.BackupCodes = append([]string(nil), record.Credential.BackupCodes...)
			return &copied, nil
		}
	}
	return nil, ErrAccountNotFound
}

func (s *fakeStore) FindByID(_ context.Context, accountID string) (*AccountRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failAll {
		return nil, errors.New("store down")
	}
	record, ok := s.accounts[accountID]
	if !ok {
		return nil, ErrAccountNotFound
	}
	copied := *record
	copied.Credential.BackupCodes = append([]string(nil), record.Credential.BackupCodes...)
	return &copied, nil
}

func (s *fakeStore) UpdateCredential(_ context.Context, accountID string, update CredentialUpdate) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	record, ok := s.accounts[accountID]
	if !ok {
		return ErrAccountNotFound
	}
	if update.Enabled != nil {
		record.Credential.Enabled = *update.Enabled
	}
	if update.Secret != nil {
		record.Credential.Secret = *update.Secret
	}
	if update.BackupCodes != nil {
		record.Credential.BackupCodes = append([]string(nil), (*update.BackupCodes)...)
	}
	if update.LastUsedStep != nil {
		record.Credential.LastUsedStep = *update.LastUsedStep
	}
	return nil
}

func (s *fakeStore) UpdatePasswordHash(_ context.Context, accountID, newHash string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	record, ok := s.accounts[accountID]
	if !ok {
		return ErrAccountNotFound
	}
	record.PasswordHash = newHash
	return nil
}

func engineTestConfig() Config {
	cfg := defaultConfig()
	// Cheap hashing keeps the suite fast without changing behavior.
	cfg.Password.Memory = 8 * 1024
	cfg.Password.Time = 1
	cfg.Password.Parallelism = 1
	cfg.JWT.PrivateKey = []byte("0123456789abcdef0123456789abcdef")
	cfg.Audit.Enabled = false
	return cfg
}

// newTestEngine builds a full engine over miniredis and an in-memory
// account store. Progressive delays are disabled so failure-path tests
// do not sleep.
func newTestEngine(t *testing.T, mutate func(*Config)) (*Engine, *fakeStore, *miniredis.Miniredis, func()) {
	t.Helper()

	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis run failed: %v", err)
	}
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})

	cfg := engineTestConfig()
	if mutate != nil {
		mutate(&cfg)
	}

	store := newFakeStore()
	engine, err := New().
		WithConfig(cfg).
		WithRedis(rdb).
		WithAccountStore(store).
		Build()
	if err != nil {
		t.Fatalf("engine build failed: %v", err)
	}
	engine.pipeline.sleep = func(context.Context, time.Duration) {}

	return engine, store, mr, func() {
		engine.Close()
		_ = rdb.Close()
		mr.Close()
	}
}

// seedAccount registers an active account with the given password and
// returns its id.
func seedAccount(t *testing.T, engine *Engine, store *fakeStore, identifier, plaintext string, twoFactor bool) *AccountRecord {
	t.Helper()

	hash, err := engine.passwordHash.Hash(plaintext)
	if err != nil {
		t.Fatalf("hashing password: %v", err)
	}

	record := &AccountRecord{
		AccountID:    "acct-" + identifier,
		Identifier:   identifier,
		TenantID:     "tenant-1",
		PasswordHash: hash,
		Role:         "ADMIN",
		Active:       true,
		Credential:   CredentialRecord{LastUsedStep: -1},
	}
	if twoFactor {
		secret, err := engine.totp.GenerateSecret()
		if err != nil {
			t.Fatalf("generating secret: %v", err)
		}
		codes, err := engine.backup.Generate()
		if err != nil {
			t.Fatalf("generating backup codes: %v", err)
		}
		record.Credential = CredentialRecord{
			Enabled:      true,
			Secret:       secret,
			BackupCodes:  codes,
			LastUsedStep: -1,
		}
	}

	store.put(record)
	return store.get(record.AccountID)
}

// codeForNow computes the current TOTP code for a secret under the
// engine's config.
func codeForNow(t *testing.T, engine *Engine, secret string) string {
	t.Helper()
	code, err := engine.totp.CodeAt(secret, engine.now())
	if err != nil {
		t.Fatalf("computing code: %v", err)
	}
	return code
}

func codeForOffset(t *testing.T, engine *Engine, secret string, offset int) string {
	t.Helper()
	shift := time.Duration(offset*engine.config.TOTP.Period) * time.Second
	code, err := engine.totp.CodeAt(secret, engine.now().Add(shift))
	if err != nil {
		t.Fatalf("computing code: %v", err)
	}
	return code
}
