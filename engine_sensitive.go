package adminauth

import (
	"context"
	"fmt"
)

// VerifySensitiveProof gates destructive back-office operations behind a
// fresh second-factor presentation. A session token alone is not enough:
// the account must have 2FA enrolled and supply a live code (TOTP or
// backup) with the request.
func (e *Engine) VerifySensitiveProof(ctx context.Context, accountID, code string) error {
	if e == nil {
		return ErrEngineNotReady
	}

	account, err := e.loadAccount(ctx, accountID)
	if err != nil {
		return err
	}

	if !account.Credential.Enabled {
		e.denySensitive(ctx, account, ErrTwoFactorSetupRequired)
		return ErrTwoFactorSetupRequired
	}
	if code == "" {
		e.denySensitive(ctx, account, ErrTwoFactorProofRequired)
		return ErrTwoFactorProofRequired
	}

	ok, step, err := e.totp.VerifyCode(account.Credential.Secret, code, e.now())
	if err != nil {
		return fmt.Errorf("%w: %v", ErrCredentialCorrupt, err)
	}
	if ok && step > account.Credential.LastUsedStep {
		if err := e.store.UpdateCredential(ctx, account.AccountID, CredentialUpdate{
			LastUsedStep: &step,
		}); err != nil {
			return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
		}
		return e.allowSensitive(ctx, account, "totp")
	}

	// An admin without their device can still act, at the cost of one
	// recovery code.
	matched, left := e.backup.Consume(account.Credential.BackupCodes, code)
	if matched {
		if err := e.store.UpdateCredential(ctx, account.AccountID, CredentialUpdate{
			BackupCodes: &left,
		}); err != nil {
			return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
		}
		e.metricInc(MetricBackupCodeUsed)
		return e.allowSensitive(ctx, account, "backup_code")
	}

	e.metricInc(MetricSensitiveProofFailure)
	e.recordTwoFactorFailure(ctx, account)
	e.denySensitive(ctx, account, ErrTwoFactorProofInvalid)
	return ErrTwoFactorProofInvalid
}

func (e *Engine) allowSensitive(ctx context.Context, account *AccountRecord, method string) error {
	e.metricInc(MetricSensitiveProofSuccess)
	e.emit(ctx, AuditEvent{
		EventType:  EventSensitiveOpVerified,
		AccountID:  account.AccountID,
		Identifier: account.Identifier,
		TenantID:   account.TenantID,
		Success:    true,
		Metadata:   map[string]string{"method": method},
	})
	return nil
}

func (e *Engine) denySensitive(ctx context.Context, account *AccountRecord, reason error) {
	e.emit(ctx, AuditEvent{
		EventType:  EventSensitiveOpDenied,
		AccountID:  account.AccountID,
		Identifier: account.Identifier,
		TenantID:   account.TenantID,
		Error:      reason.Error(),
	})
}
