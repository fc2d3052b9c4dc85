package adminauth

import (
	"context"
	"fmt"
)

// ChangePassword rotates the account password after re-verifying the
// current one. When 2FA is enrolled a live code must accompany the
// request; pass it in code, empty otherwise.
func (e *Engine) ChangePassword(ctx context.Context, accountID, currentPassword, newPassword, code string) error {
	if e == nil {
		return ErrEngineNotReady
	}

	account, err := e.loadAccount(ctx, accountID)
	if err != nil {
		return err
	}

	ok, err := e.passwordHash.Verify(currentPassword, account.PasswordHash)
	if err != nil || !ok {
		e.metricInc(MetricPasswordChangeInvalidOld)
		return ErrPasswordMismatch
	}

	if newPassword == currentPassword {
		e.metricInc(MetricPasswordChangeReuseRejected)
		return ErrPasswordReuse
	}

	if account.Credential.Enabled {
		if err := e.consumeEnrolledCode(ctx, account, code); err != nil {
			return err
		}
	}

	newHash, err := e.passwordHash.Hash(newPassword)
	if err != nil {
		return err
	}
	if err := e.store.UpdatePasswordHash(ctx, accountID, newHash); err != nil {
		return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}

	e.metricInc(MetricPasswordChangeSuccess)
	e.emit(ctx, AuditEvent{
		EventType:  EventPasswordChanged,
		AccountID:  account.AccountID,
		Identifier: account.Identifier,
		TenantID:   account.TenantID,
		Success:    true,
	})
	return nil
}
