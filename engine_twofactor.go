package adminauth

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/oakmont/adminauth/internal/rate"
	"github.com/oakmont/adminauth/internal/stores"
)

// BeginTwoFactorSetup provisions a fresh secret and backup-code batch for
// the account and parks them in the pending store. Nothing touches the
// account record until [Engine.ConfirmTwoFactorSetup] sees a valid code.
// Calling again before confirmation discards the previous provisional
// secret.
func (e *Engine) BeginTwoFactorSetup(ctx context.Context, accountID string) (*TwoFactorSetup, error) {
	if e == nil {
		return nil, ErrEngineNotReady
	}

	account, err := e.loadAccount(ctx, accountID)
	if err != nil {
		return nil, err
	}
	if account.Credential.Enabled {
		return nil, ErrTwoFactorAlreadyEnabled
	}

	secret, err := e.totp.GenerateSecret()
	if err != nil {
		return nil, err
	}
	codes, err := e.backup.Generate()
	if err != nil {
		return nil, err
	}

	if err := e.pending.Save(ctx, accountID, &stores.PendingSetup{
		Secret:      secret,
		BackupCodes: codes,
	}, e.config.BackupCode.PendingSetupTTL); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrSetupStoreUnavailable, err)
	}

	e.emit(ctx, AuditEvent{
		EventType:  EventTwoFactorSetupStarted,
		AccountID:  account.AccountID,
		Identifier: account.Identifier,
		TenantID:   account.TenantID,
		Success:    true,
	})

	return &TwoFactorSetup{
		SecretBase32:    secret,
		ProvisioningURI: e.totp.ProvisionURI(secret, account.Identifier),
		BackupCodes:     codes,
	}, nil
}

// ConfirmTwoFactorSetup commits the pending enrollment once the account
// proves it can produce a valid code from the provisional secret.
func (e *Engine) ConfirmTwoFactorSetup(ctx context.Context, accountID, code string) error {
	if e == nil {
		return ErrEngineNotReady
	}

	account, err := e.loadAccount(ctx, accountID)
	if err != nil {
		return err
	}
	if account.Credential.Enabled {
		return ErrTwoFactorAlreadyEnabled
	}

	pending, err := e.pending.Get(ctx, accountID)
	if err != nil {
		if errors.Is(err, stores.ErrPendingSetupNotFound) || errors.Is(err, stores.ErrPendingSetupExpired) {
			return ErrNoPendingSetup
		}
		return fmt.Errorf("%w: %v", ErrSetupStoreUnavailable, err)
	}

	ok, step, err := e.totp.VerifyCode(pending.Secret, code, e.now())
	if err != nil {
		return err
	}
	if !ok {
		e.metricInc(MetricTwoFactorFailure)
		e.recordTwoFactorFailure(ctx, account)
		return ErrTwoFactorCodeInvalid
	}

	enabled := true
	if err := e.store.UpdateCredential(ctx, accountID, CredentialUpdate{
		Enabled:      &enabled,
		Secret:       &pending.Secret,
		BackupCodes:  &pending.BackupCodes,
		LastUsedStep: &step,
	}); err != nil {
		return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}

	if _, err := e.pending.Delete(ctx, accountID); err != nil {
		e.logger.Warn("deleting confirmed pending setup", zap.Error(err))
	}

	e.metricInc(MetricTwoFactorEnabled)
	e.emit(ctx, AuditEvent{
		EventType:  EventTwoFactorEnabled,
		AccountID:  account.AccountID,
		Identifier: account.Identifier,
		TenantID:   account.TenantID,
		Success:    true,
	})
	return nil
}

// DisableTwoFactor turns off the second factor. The caller must re-prove
// both the password and a live code (TOTP or backup) to prevent a hijacked
// session from silently weakening the account.
func (e *Engine) DisableTwoFactor(ctx context.Context, accountID, currentPassword, code string) error {
	if e == nil {
		return ErrEngineNotReady
	}

	account, err := e.loadAccount(ctx, accountID)
	if err != nil {
		return err
	}
	if !account.Credential.Enabled {
		return ErrTwoFactorNotEnabled
	}

	ok, err := e.passwordHash.Verify(currentPassword, account.PasswordHash)
	if err != nil || !ok {
		return ErrPasswordMismatch
	}

	if err := e.consumeEnrolledCode(ctx, account, code); err != nil {
		return err
	}

	disabled := false
	emptySecret := ""
	noCodes := []string{}
	resetStep := int64(-1)
	if err := e.store.UpdateCredential(ctx, accountID, CredentialUpdate{
		Enabled:      &disabled,
		Secret:       &emptySecret,
		BackupCodes:  &noCodes,
		LastUsedStep: &resetStep,
	}); err != nil {
		return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}

	e.metricInc(MetricTwoFactorDisabled)
	e.emit(ctx, AuditEvent{
		EventType:  EventTwoFactorDisabled,
		AccountID:  account.AccountID,
		Identifier: account.Identifier,
		TenantID:   account.TenantID,
		Success:    true,
	})
	return nil
}

// RegenerateBackupCodes replaces the remaining batch with a fresh one.
// Requires the password and a live TOTP code; previously unused codes
// stop working immediately.
func (e *Engine) RegenerateBackupCodes(ctx context.Context, accountID, currentPassword, totpCode string) ([]string, error) {
	if e == nil {
		return nil, ErrEngineNotReady
	}

	account, err := e.loadAccount(ctx, accountID)
	if err != nil {
		return nil, err
	}
	if !account.Credential.Enabled {
		return nil, ErrTwoFactorNotEnabled
	}

	ok, err := e.passwordHash.Verify(currentPassword, account.PasswordHash)
	if err != nil || !ok {
		return nil, ErrPasswordMismatch
	}

	if err := e.consumeEnrolledCode(ctx, account, totpCode); err != nil {
		return nil, err
	}

	codes, err := e.backup.Generate()
	if err != nil {
		return nil, err
	}
	if err := e.store.UpdateCredential(ctx, accountID, CredentialUpdate{
		BackupCodes: &codes,
	}); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}

	e.metricInc(MetricBackupCodeRegenerated)
	e.emit(ctx, AuditEvent{
		EventType:  EventBackupCodesRegenerate,
		AccountID:  account.AccountID,
		Identifier: account.Identifier,
		TenantID:   account.TenantID,
		Success:    true,
	})
	return codes, nil
}

// TwoFactorStatus reports enrollment state. RecommendEnable is set for
// accounts holding an admin role without a second factor.
func (e *Engine) TwoFactorStatus(ctx context.Context, accountID string) (*TwoFactorStatus, error) {
	if e == nil {
		return nil, ErrEngineNotReady
	}

	account, err := e.loadAccount(ctx, accountID)
	if err != nil {
		return nil, err
	}

	status := &TwoFactorStatus{
		Enabled:              account.Credential.Enabled,
		BackupCodesRemaining: len(account.Credential.BackupCodes),
	}
	if !status.Enabled && e.isAdminRole(account.Role) {
		status.RecommendEnable = true
	}
	return status, nil
}

// consumeEnrolledCode verifies a live code against the enrolled secret,
// enforcing anti-replay and persisting the consumed step. Replayed codes
// are as invalid as wrong ones here.
func (e *Engine) consumeEnrolledCode(ctx context.Context, account *AccountRecord, code string) error {
	ok, step, err := e.totp.VerifyCode(account.Credential.Secret, code, e.now())
	if err != nil {
		return fmt.Errorf("%w: %v", ErrCredentialCorrupt, err)
	}
	if !ok || step <= account.Credential.LastUsedStep {
		e.metricInc(MetricTwoFactorFailure)
		e.recordTwoFactorFailure(ctx, account)
		return ErrTwoFactorCodeInvalid
	}

	if err := e.store.UpdateCredential(ctx, account.AccountID, CredentialUpdate{
		LastUsedStep: &step,
	}); err != nil {
		return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	return nil
}

func (e *Engine) recordTwoFactorFailure(ctx context.Context, account *AccountRecord) {
	ip := clientIPFromContext(ctx)
	userAgent := userAgentFromContext(ctx)
	if _, err := e.pipeline.OnFailure(ctx, rate.ScopeTwoFactor, account.Identifier, ip, userAgent); err != nil {
		e.logger.Error("failure bookkeeping", zap.Error(err))
	}
	e.emit(ctx, AuditEvent{
		EventType:  EventTwoFactorFailed,
		AccountID:  account.AccountID,
		Identifier: account.Identifier,
		TenantID:   account.TenantID,
	})
}

func (e *Engine) loadAccount(ctx context.Context, accountID string) (*AccountRecord, error) {
	account, err := e.store.FindByID(ctx, accountID)
	if err != nil {
		if errors.Is(err, ErrAccountNotFound) {
			return nil, ErrAccountNotFound
		}
		return nil, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	if account == nil {
		return nil, ErrAccountNotFound
	}
	return account, nil
}

func (e *Engine) isAdminRole(role Role) bool {
	for _, allowed := range e.config.AdminRoles {
		if role == allowed {
			return true
		}
	}
	return false
}
