package adminauth

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"
)

func TestTwoFactorSetupRoundTrip(t *testing.T) {
	engine, store, _, cleanup := newTestEngine(t, nil)
	defer cleanup()

	record := seedAccount(t, engine, store, "ops@oakmont.example", "correct horse battery", false)
	ctx := context.Background()

	setup, err := engine.BeginTwoFactorSetup(ctx, record.AccountID)
	if err != nil {
		t.Fatalf("BeginTwoFactorSetup failed: %v", err)
	}
	if setup.SecretBase32 == "" {
		t.Fatal("no secret returned")
	}
	if len(setup.BackupCodes) != 8 {
		t.Fatalf("backup codes = %d, want 8", len(setup.BackupCodes))
	}
	if !strings.HasPrefix(setup.ProvisioningURI, "otpauth://totp/") {
		t.Fatalf("provisioning uri = %q", setup.ProvisioningURI)
	}

	// Nothing is committed until the code round-trips.
	if store.get(record.AccountID).Credential.Enabled {
		t.Fatal("enrollment committed before confirmation")
	}

	code := codeForNow(t, engine, setup.SecretBase32)
	if err := engine.ConfirmTwoFactorSetup(ctx, record.AccountID, code); err != nil {
		t.Fatalf("ConfirmTwoFactorSetup failed: %v", err)
	}

	updated := store.get(record.AccountID)
	if !updated.Credential.Enabled {
		t.Fatal("enrollment not committed")
	}
	if updated.Credential.Secret != setup.SecretBase32 {
		t.Fatal("committed secret differs from provisioned one")
	}
	if len(updated.Credential.BackupCodes) != 8 {
		t.Fatalf("committed backup codes = %d", len(updated.Credential.BackupCodes))
	}
	// The confirmation code itself is spent.
	if updated.Credential.LastUsedStep < 0 {
		t.Fatal("confirmation step not recorded")
	}
}

func TestBeginSetupRejectsEnrolledAccount(t *testing.T) {
	engine, store, _, cleanup := newTestEngine(t, nil)
	defer cleanup()

	record := seedAccount(t, engine, store, "ops@oakmont.example", "correct horse battery", true)

	_, err := engine.BeginTwoFactorSetup(context.Background(), record.AccountID)
	if !errors.Is(err, ErrTwoFactorAlreadyEnabled) {
		t.Fatalf("BeginTwoFactorSetup = %v, want ErrTwoFactorAlreadyEnabled", err)
	}
}

func TestBeginSetupReplacesPreviousProvisionalSecret(t *testing.T) {
	engine, store, _, cleanup := newTestEngine(t, nil)
	defer cleanup()

	record := seedAccount(t, engine, store, "ops@oakmont.example", "correct horse battery", false)
	ctx := context.Background()

	first, err := engine.BeginTwoFactorSetup(ctx, record.AccountID)
	if err != nil {
		t.Fatalf("first BeginTwoFactorSetup failed: %v", err)
	}
	second, err := engine.BeginTwoFactorSetup(ctx, record.AccountID)
	if err != nil {
		t.Fatalf("second BeginTwoFactorSetup failed: %v", err)
	}
	if first.SecretBase32 == second.SecretBase32 {
		t.Fatal("provisional secret reused")
	}

	// A code from the discarded secret no longer confirms.
	staleCode := codeForNow(t, engine, first.SecretBase32)
	err = engine.ConfirmTwoFactorSetup(ctx, record.AccountID, staleCode)
	if !errors.Is(err, ErrTwoFactorCodeInvalid) {
		t.Fatalf("stale-secret confirm = %v, want ErrTwoFactorCodeInvalid", err)
	}
}

func TestConfirmSetupWithoutPending(t *testing.T) {
	engine, store, _, cleanup := newTestEngine(t, nil)
	defer cleanup()

	record := seedAccount(t, engine, store, "ops@oakmont.example", "correct horse battery", false)

	err := engine.ConfirmTwoFactorSetup(context.Background(), record.AccountID, "123456")
	if !errors.Is(err, ErrNoPendingSetup) {
		t.Fatalf("ConfirmTwoFactorSetup = %v, want ErrNoPendingSetup", err)
	}
}

func TestConfirmSetupExpiredPending(t *testing.T) {
	engine, store, mr, cleanup := newTestEngine(t, nil)
	defer cleanup()

	record := seedAccount(t, engine, store, "ops@oakmont.example", "correct horse battery", false)
	ctx := context.Background()

	setup, err := engine.BeginTwoFactorSetup(ctx, record.AccountID)
	if err != nil {
		t.Fatalf("BeginTwoFactorSetup failed: %v", err)
	}
	mr.FastForward(11 * time.Minute)

	code := codeForNow(t, engine, setup.SecretBase32)
	err = engine.ConfirmTwoFactorSetup(ctx, record.AccountID, code)
	if !errors.Is(err, ErrNoPendingSetup) {
		t.Fatalf("expired confirm = %v, want ErrNoPendingSetup", err)
	}
}

func TestConfirmSetupWrongCode(t *testing.T) {
	engine, store, _, cleanup := newTestEngine(t, nil)
	defer cleanup()

	record := seedAccount(t, engine, store, "ops@oakmont.example", "correct horse battery", false)
	ctx := context.Background()

	if _, err := engine.BeginTwoFactorSetup(ctx, record.AccountID); err != nil {
		t.Fatalf("BeginTwoFactorSetup failed: %v", err)
	}

	err := engine.ConfirmTwoFactorSetup(ctx, record.AccountID, "000000")
	if !errors.Is(err, ErrTwoFactorCodeInvalid) {
		t.Fatalf("wrong confirm code = %v, want ErrTwoFactorCodeInvalid", err)
	}
	// The pending setup survives a failed confirmation; retry is allowed.
	if store.get(record.AccountID).Credential.Enabled {
		t.Fatal("enrollment committed on failed confirm")
	}
}

func TestDisableTwoFactor(t *testing.T) {
	engine, store, _, cleanup := newTestEngine(t, nil)
	defer cleanup()

	record := seedAccount(t, engine, store, "ops@oakmont.example", "correct horse battery", true)
	code := codeForNow(t, engine, record.Credential.Secret)

	if err := engine.DisableTwoFactor(context.Background(), record.AccountID, "correct horse battery", code); err != nil {
		t.Fatalf("DisableTwoFactor failed: %v", err)
	}

	updated := store.get(record.AccountID)
	if updated.Credential.Enabled {
		t.Fatal("still enabled")
	}
	if updated.Credential.Secret != "" {
		t.Fatal("secret not wiped")
	}
	if len(updated.Credential.BackupCodes) != 0 {
		t.Fatal("backup codes not wiped")
	}
	if updated.Credential.LastUsedStep != -1 {
		t.Fatalf("last used step = %d, want -1", updated.Credential.LastUsedStep)
	}
}

func TestDisableTwoFactorRequiresPassword(t *testing.T) {
	engine, store, _, cleanup := newTestEngine(t, nil)
	defer cleanup()

	record := seedAccount(t, engine, store, "ops@oakmont.example", "correct horse battery", true)
	code := codeForNow(t, engine, record.Credential.Secret)

	err := engine.DisableTwoFactor(context.Background(), record.AccountID, "wrong password", code)
	if !errors.Is(err, ErrPasswordMismatch) {
		t.Fatalf("DisableTwoFactor = %v, want ErrPasswordMismatch", err)
	}
	if !store.get(record.AccountID).Credential.Enabled {
		t.Fatal("disabled despite wrong password")
	}
}

func TestDisableTwoFactorRequiresLiveCode(t *testing.T) {
	engine, store, _, cleanup := newTestEngine(t, nil)
	defer cleanup()

	record := seedAccount(t, engine, store, "ops@oakmont.example", "correct horse battery", true)

	err := engine.DisableTwoFactor(context.Background(), record.AccountID, "correct horse battery", "000000")
	if !errors.Is(err, ErrTwoFactorCodeInvalid) {
		t.Fatalf("DisableTwoFactor = %v, want ErrTwoFactorCodeInvalid", err)
	}
	if !store.get(record.AccountID).Credential.Enabled {
		t.Fatal("disabled despite wrong code")
	}
}

func TestDisableTwoFactorNotEnrolled(t *testing.T) {
	engine, store, _, cleanup := newTestEngine(t, nil)
	defer cleanup()

	record := seedAccount(t, engine, store, "ops@oakmont.example", "correct horse battery", false)

	err := engine.DisableTwoFactor(context.Background(), record.AccountID, "correct horse battery", "123456")
	if !errors.Is(err, ErrTwoFactorNotEnabled) {
		t.Fatalf("DisableTwoFactor = %v, want ErrTwoFactorNotEnabled", err)
	}
}

func TestRegenerateBackupCodes(t *testing.T) {
	engine, store, _, cleanup := newTestEngine(t, nil)
	defer cleanup()

	record := seedAccount(t, engine, store, "ops@oakmont.example", "correct horse battery", true)
	oldCodes := record.Credential.BackupCodes
	code := codeForNow(t, engine, record.Credential.Secret)

	fresh, err := engine.RegenerateBackupCodes(context.Background(), record.AccountID, "correct horse battery", code)
	if err != nil {
		t.Fatalf("RegenerateBackupCodes failed: %v", err)
	}
	if len(fresh) != 8 {
		t.Fatalf("fresh batch = %d codes, want 8", len(fresh))
	}

	updated := store.get(record.AccountID)
	for _, old := range oldCodes {
		for _, now := range updated.Credential.BackupCodes {
			if old == now {
				t.Fatalf("old code %q survived regeneration", old)
			}
		}
	}
}

func TestRegenerateBackupCodesRejectsReplayedCode(t *testing.T) {
	engine, store, _, cleanup := newTestEngine(t, nil)
	defer cleanup()

	record := seedAccount(t, engine, store, "ops@oakmont.example", "correct horse battery", true)
	code := codeForNow(t, engine, record.Credential.Secret)
	ctx := context.Background()

	if _, err := engine.RegenerateBackupCodes(ctx, record.AccountID, "correct horse battery", code); err != nil {
		t.Fatalf("first regenerate failed: %v", err)
	}
	_, err := engine.RegenerateBackupCodes(ctx, record.AccountID, "correct horse battery", code)
	if !errors.Is(err, ErrTwoFactorCodeInvalid) {
		t.Fatalf("replayed code = %v, want ErrTwoFactorCodeInvalid", err)
	}
}

func TestTwoFactorStatus(t *testing.T) {
	engine, store, _, cleanup := newTestEngine(t, nil)
	defer cleanup()
	ctx := context.Background()

	enrolled := seedAccount(t, engine, store, "ops@oakmont.example", "correct horse battery", true)
	status, err := engine.TwoFactorStatus(ctx, enrolled.AccountID)
	if err != nil {
		t.Fatalf("TwoFactorStatus failed: %v", err)
	}
	if !status.Enabled || status.BackupCodesRemaining != 8 || status.RecommendEnable {
		t.Fatalf("enrolled status = %+v", status)
	}

	// An admin role without 2FA gets nudged.
	bare := seedAccount(t, engine, store, "admin@oakmont.example", "correct horse battery", false)
	status, err = engine.TwoFactorStatus(ctx, bare.AccountID)
	if err != nil {
		t.Fatalf("TwoFactorStatus failed: %v", err)
	}
	if status.Enabled || !status.RecommendEnable {
		t.Fatalf("bare admin status = %+v", status)
	}

	viewer := seedAccount(t, engine, store, "viewer@oakmont.example", "correct horse battery", false)
	viewer.Role = "VIEWER"
	store.put(viewer)
	status, err = engine.TwoFactorStatus(ctx, viewer.AccountID)
	if err != nil {
		t.Fatalf("TwoFactorStatus failed: %v", err)
	}
	if status.RecommendEnable {
		t.Fatal("non-admin role nudged toward 2FA")
	}
}

func TestTwoFactorStatusUnknownAccount(t *testing.T) {
	engine, _, _, cleanup := newTestEngine(t, nil)
	defer cleanup()

	_, err := engine.TwoFactorStatus(context.Background(), "acct-missing")
	if !errors.Is(err, ErrAccountNotFound) {
		t.Fatalf("TwoFactorStatus = %v, want ErrAccountNotFound", err)
	}
}
