package adminauth

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/oakmont/adminauth/internal/rate"
)

// dummyHash is verified against when the identifier is unknown so the
// response time does not reveal account existence.
const dummyHash = "$argon2id$v=19$m=65536,t=3,p=2$AAAAAAAAAAAAAAAAAAAAAA$XkCkjFAbWBYgZzrdPGpYCbMRYqRAHs6XWiT9WmW3nlM"

// Login authenticates one credential presentation. The full flow: abuse
// gates, account lookup, password check, then the second factor when the
// account has one enrolled. Attach the source address and user agent via
// [WithClientIP] and [WithUserAgent] before calling.
func (e *Engine) Login(ctx context.Context, req LoginRequest) (*LoginResult, error) {
	if e == nil {
		return nil, ErrEngineNotReady
	}
	start := e.now()

	identifier := strings.ToLower(strings.TrimSpace(req.Identifier))
	if identifier == "" || req.Password == "" {
		return nil, ErrInvalidCredentials
	}
	ip := clientIPFromContext(ctx)
	userAgent := userAgentFromContext(ctx)

	decision, err := e.pipeline.Allow(ctx, rate.ScopeLogin, identifier, ip)
	if err != nil {
		return nil, err
	}
	if !decision.Allowed {
		e.metricInc(MetricLoginFailure)
		return nil, decision.Reason
	}

	account, err := e.store.FindByIdentifier(ctx, identifier)
	if err != nil && !errors.Is(err, ErrAccountNotFound) {
		return nil, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	if account == nil {
		// Burn a hash so unknown identifiers cost the same as wrong
		// passwords.
		_, _ = e.passwordHash.Verify(req.Password, dummyHash)
		return nil, e.failLogin(ctx, identifier, ip, userAgent, "unknown identifier")
	}

	ok, err := e.passwordHash.Verify(req.Password, account.PasswordHash)
	if err != nil || !ok {
		return nil, e.failLogin(ctx, identifier, ip, userAgent, "password mismatch")
	}

	if !account.Active {
		e.emit(ctx, AuditEvent{
			EventType:  EventFailedLoginAttempt,
			AccountID:  account.AccountID,
			Identifier: identifier,
			TenantID:   account.TenantID,
			Error:      ErrAccountDeactivated.Error(),
		})
		return nil, ErrAccountDeactivated
	}

	if account.Credential.Enabled {
		if req.TOTPCode == "" && req.BackupCode == "" {
			e.metricInc(MetricTwoFactorRequired)
			return &LoginResult{
				TwoFactorRequired: true,
				AccountID:         account.AccountID,
			}, nil
		}

		result, err := e.verifySecondFactor(ctx, account, req, identifier, ip, userAgent)
		if err != nil {
			return nil, err
		}
		return e.completeLogin(ctx, account, identifier, ip, result, start)
	}

	return e.completeLogin(ctx, account, identifier, ip, &LoginResult{}, start)
}

// failLogin runs the failure bookkeeping shared by every credential
// rejection and returns the uniform sentinel.
func (e *Engine) failLogin(ctx context.Context, identifier, ip, userAgent, reason string) error {
	e.metricInc(MetricLoginFailure)

	outcome, err := e.pipeline.OnFailure(ctx, rate.ScopeLogin, identifier, ip, userAgent)
	if err != nil {
		e.logger.Error("failure bookkeeping", zap.Error(err))
	}

	e.emit(ctx, AuditEvent{
		EventType:  EventFailedLoginAttempt,
		Identifier: identifier,
		Error:      reason,
	})

	if outcome != nil && outcome.Locked {
		return &LockedError{Lockout: LockoutInfo{
			AttemptCount: outcome.Attempts,
			UnlockAt:     outcome.LockedUntil,
		}}
	}
	return ErrInvalidCredentials
}

// verifySecondFactor checks the supplied TOTP or backup code against the
// account's enrolled credential, persisting the anti-replay step or the
// shrunken backup set on success.
func (e *Engine) verifySecondFactor(ctx context.Context, account *AccountRecord, req LoginRequest, identifier, ip, userAgent string) (*LoginResult, error) {
	if req.BackupCode != "" {
		return e.verifyBackupCode(ctx, account, req.BackupCode, identifier, ip, userAgent)
	}

	ok, step, err := e.totp.VerifyCode(account.Credential.Secret, req.TOTPCode, e.now())
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCredentialCorrupt, err)
	}
	if !ok {
		e.metricInc(MetricTwoFactorFailure)
		if _, ferr := e.pipeline.OnFailure(ctx, rate.ScopeTwoFactor, identifier, ip, userAgent); ferr != nil {
			e.logger.Error("failure bookkeeping", zap.Error(ferr))
		}
		e.emit(ctx, AuditEvent{
			EventType:  EventTwoFactorFailed,
			AccountID:  account.AccountID,
			Identifier: identifier,
			TenantID:   account.TenantID,
		})
		return nil, ErrTwoFactorCodeInvalid
	}

	if step <= account.Credential.LastUsedStep {
		e.metricInc(MetricTwoFactorReplay)
		if _, ferr := e.pipeline.OnFailure(ctx, rate.ScopeTwoFactor, identifier, ip, userAgent); ferr != nil {
			e.logger.Error("failure bookkeeping", zap.Error(ferr))
		}
		e.emit(ctx, AuditEvent{
			EventType:  EventTwoFactorReplayed,
			AccountID:  account.AccountID,
			Identifier: identifier,
			TenantID:   account.TenantID,
		})
		return nil, ErrTwoFactorCodeReplayed
	}

	if err := e.store.UpdateCredential(ctx, account.AccountID, CredentialUpdate{
		LastUsedStep: &step,
	}); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}

	e.metricInc(MetricTwoFactorSuccess)
	return &LoginResult{}, nil
}

func (e *Engine) verifyBackupCode(ctx context.Context, account *AccountRecord, code, identifier, ip, userAgent string) (*LoginResult, error) {
	matched, left := e.backup.Consume(account.Credential.BackupCodes, code)
	if !matched {
		e.metricInc(MetricBackupCodeFailed)
		if _, ferr := e.pipeline.OnFailure(ctx, rate.ScopeTwoFactor, identifier, ip, userAgent); ferr != nil {
			e.logger.Error("failure bookkeeping", zap.Error(ferr))
		}
		e.emit(ctx, AuditEvent{
			EventType:  EventTwoFactorFailed,
			AccountID:  account.AccountID,
			Identifier: identifier,
			TenantID:   account.TenantID,
			Error:      ErrBackupCodeInvalid.Error(),
		})
		return nil, ErrBackupCodeInvalid
	}

	if err := e.store.UpdateCredential(ctx, account.AccountID, CredentialUpdate{
		BackupCodes: &left,
	}); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}

	e.metricInc(MetricBackupCodeUsed)
	e.emit(ctx, AuditEvent{
		EventType:  EventBackupCodeUsed,
		AccountID:  account.AccountID,
		Identifier: identifier,
		TenantID:   account.TenantID,
		Success:    true,
		Metadata:   map[string]string{"remaining": strconv.Itoa(len(left))},
	})

	return &LoginResult{
		UsedBackupCode:    true,
		BackupCodeWarning: e.backup.LowWarning(len(left)),
	}, nil
}

// completeLogin clears abuse state, mints the session token, and emits
// the success trail.
func (e *Engine) completeLogin(ctx context.Context, account *AccountRecord, identifier, ip string, result *LoginResult, start time.Time) (*LoginResult, error) {
	if err := e.pipeline.OnSuccess(ctx, rate.ScopeLogin, identifier, ip); err != nil {
		e.logger.Warn("clearing abuse counters", zap.Error(err))
	}

	token, err := e.issuer.IssueToken(account)
	if err != nil {
		return nil, err
	}

	result.Token = token
	result.Account = &AccountSummary{
		AccountID:        account.AccountID,
		Identifier:       account.Identifier,
		Role:             account.Role,
		TwoFactorEnabled: account.Credential.Enabled,
	}

	e.metricInc(MetricLoginSuccess)
	if e.metrics != nil {
		e.metrics.Observe(MetricLoginLatency, e.now().Sub(start))
	}
	e.emit(ctx, AuditEvent{
		EventType:  EventLoginSuccess,
		AccountID:  account.AccountID,
		Identifier: identifier,
		TenantID:   account.TenantID,
		Success:    true,
	})

	return result, nil
}
