package adminauth

import (
	"errors"
	"fmt"
	"time"
)

var (
	// ErrInvalidCredentials is returned when the identifier is unknown or the
	// password does not match. The two cases are deliberately merged so the
	// response cannot be used to enumerate accounts.
	ErrInvalidCredentials = errors.New("invalid credentials")
	// ErrAccountDeactivated is returned for a correct password on a
	// deactivated account. Not an attack signal; does not feed the tracker.
	ErrAccountDeactivated = errors.New("account deactivated")
	// ErrAccountLocked is returned while a progressive lockout is active.
	ErrAccountLocked = errors.New("account temporarily locked")
	// ErrRateLimited is returned when the fixed-window request budget for the
	// source/identifier pair is exhausted.
	ErrRateLimited = errors.New("too many attempts")

	// ErrTwoFactorRequired signals that the password was accepted but a
	// second factor must be supplied. A soft outcome, not a failure.
	ErrTwoFactorRequired = errors.New("two-factor code required")
	// ErrTwoFactorNotEnabled is returned when verifying or disabling 2FA on
	// an account that never enabled it.
	ErrTwoFactorNotEnabled = errors.New("two-factor authentication not enabled")
	// ErrTwoFactorAlreadyEnabled is returned by BeginSetup when 2FA is
	// already active for the account.
	ErrTwoFactorAlreadyEnabled = errors.New("two-factor authentication already enabled")
	// ErrNoPendingSetup is returned by ConfirmSetup when no setup is in
	// progress (expired, abandoned, or never started).
	ErrNoPendingSetup = errors.New("no two-factor setup in progress")
	// ErrTwoFactorCodeInvalid is returned for a TOTP code that does not match
	// any step inside the skew window.
	ErrTwoFactorCodeInvalid = errors.New("invalid two-factor code")
	// ErrTwoFactorCodeReplayed is returned for an otherwise valid TOTP code
	// whose time step was already consumed.
	ErrTwoFactorCodeReplayed = errors.New("two-factor code already used")
	// ErrBackupCodeInvalid is returned for a recovery code not present in the
	// account's unused set.
	ErrBackupCodeInvalid = errors.New("invalid backup code")
	// ErrCredentialCorrupt is returned when a stored two-factor secret can no
	// longer be decoded. An operator problem, never a caller one.
	ErrCredentialCorrupt = errors.New("stored two-factor credential unreadable")

	// ErrTwoFactorSetupRequired is returned by the sensitive-operation guard
	// when the account has no 2FA enrolled at all.
	ErrTwoFactorSetupRequired = errors.New("two-factor setup required for this operation")
	// ErrTwoFactorProofRequired is returned by the sensitive-operation guard
	// when the request carries no fresh code.
	ErrTwoFactorProofRequired = errors.New("fresh two-factor code required for this operation")
	// ErrTwoFactorProofInvalid is returned by the sensitive-operation guard
	// when the supplied fresh code fails verification.
	ErrTwoFactorProofInvalid = errors.New("two-factor proof rejected")

	// ErrPasswordMismatch is returned by ChangePassword when the current
	// password is wrong.
	ErrPasswordMismatch = errors.New("current password incorrect")
	// ErrPasswordReuse is returned when the new password equals the old one.
	ErrPasswordReuse = errors.New("new password must be different from current password")

	// ErrPermissionDenied is returned when the session role is outside the
	// allowed set for an admin-restricted operation.
	ErrPermissionDenied = errors.New("permission denied")
	// ErrUnauthorized is returned for missing, malformed, or expired session
	// tokens.
	ErrUnauthorized = errors.New("unauthorized")
	// ErrAccountNotFound is returned by account-scoped operations when the
	// account id does not resolve. Never surfaced by Login.
	ErrAccountNotFound = errors.New("account not found")

	// ErrStoreUnavailable wraps account-store infrastructure failures.
	ErrStoreUnavailable = errors.New("account store unavailable")
	// ErrTrackerUnavailable wraps attempt-tracker backend failures.
	ErrTrackerUnavailable = errors.New("attempt tracker backend unavailable")
	// ErrSetupStoreUnavailable wraps pending-setup store backend failures.
	ErrSetupStoreUnavailable = errors.New("pending setup store unavailable")

	// ErrEngineNotReady is returned when the engine is used before Build or
	// with a missing dependency.
	ErrEngineNotReady = errors.New("engine not initialized")
)

// LockedError carries lockout timing alongside the [ErrAccountLocked]
// sentinel. errors.Is(err, ErrAccountLocked) still matches; transports
// recover the timing with errors.As.
type LockedError struct {
	Lockout LockoutInfo
}

func (e *LockedError) Error() string {
	return fmt.Sprintf("%s until %s", ErrAccountLocked, e.Lockout.UnlockAt.UTC().Format(time.RFC3339))
}

func (e *LockedError) Unwrap() error { return ErrAccountLocked }

// RateLimitedError carries the remaining window alongside [ErrRateLimited].
type RateLimitedError struct {
	RetryAfter time.Duration
}

func (e *RateLimitedError) Error() string {
	return fmt.Sprintf("%s, retry in %s", ErrRateLimited, e.RetryAfter.Round(time.Second))
}

func (e *RateLimitedError) Unwrap() error { return ErrRateLimited }
