package adminauth

import (
	"context"
	"time"
)

// Role names an admin back-office role. The engine treats roles as opaque
// strings except where an allowed set is configured for admin-restricted
// operations.
type Role = string

// AdminRoles is the default allowed set for admin-restricted operations.
var AdminRoles = []Role{"SUPER_ADMIN", "ADMIN", "COMPLIANCE_OFFICER"}

// CredentialRecord carries the two-factor state stored with an account.
// Secret is non-empty iff Enabled is true or a setup was just committed;
// BackupCodes shrinks monotonically as codes are consumed. LastUsedStep is
// the exact TOTP step index of the last accepted code, -1 before the first
// successful verification.
type CredentialRecord struct {
	Enabled      bool
	Secret       string
	BackupCodes  []string
	LastUsedStep int64
}

// AccountRecord is the account shape the engine needs. Retrieved through
// [AccountStore]; the engine never touches storage directly.
type AccountRecord struct {
	AccountID    string
	Identifier   string
	TenantID     string
	PasswordHash string
	Role         Role
	Active       bool
	Credential   CredentialRecord
}

// CredentialUpdate is a partial write against the credential columns of an
// account. Nil fields are left untouched.
type CredentialUpdate struct {
	Enabled      *bool
	Secret       *string
	BackupCodes  *[]string
	LastUsedStep *int64
}

// AccountStore is the external account collaborator. Implementations live
// outside the engine (see store/postgres); tests use in-memory fakes.
type AccountStore interface {
	FindByIdentifier(ctx context.Context, identifier string) (*AccountRecord, error)
	FindByID(ctx context.Context, accountID string) (*AccountRecord, error)
	UpdateCredential(ctx context.Context, accountID string, update CredentialUpdate) error
	UpdatePasswordHash(ctx context.Context, accountID, newHash string) error
}

// TokenIssuer mints opaque session tokens on successful authentication.
// The default implementation is the jwt subpackage manager.
type TokenIssuer interface {
	IssueToken(account *AccountRecord) (string, error)
}

// LoginRequest is the transport-independent input to [Engine.Login].
// Exactly one of TOTPCode / BackupCode may be set.
type LoginRequest struct {
	Identifier string
	Password   string
	TOTPCode   string
	BackupCode string
}

// AccountSummary is the credential-free account view returned to clients.
type AccountSummary struct {
	AccountID        string `json:"accountId"`
	Identifier       string `json:"identifier"`
	Role             Role   `json:"role"`
	TwoFactorEnabled bool   `json:"twoFactorEnabled"`
}

// LoginResult is returned by [Engine.Login]. Exactly one of the three
// outcome groups is populated:
//
//   - Token + Account: fully authenticated;
//   - TwoFactorRequired: password accepted, second factor outstanding;
//   - neither: the call returned a non-nil error instead.
type LoginResult struct {
	Token   string
	Account *AccountSummary

	TwoFactorRequired bool
	AccountID         string

	UsedBackupCode    bool
	BackupCodeWarning string
}

// TwoFactorSetup is returned by [Engine.BeginTwoFactorSetup]. The secret and
// backup codes are shown to the user once and are not persisted until
// ConfirmTwoFactorSetup succeeds.
type TwoFactorSetup struct {
	SecretBase32    string
	ProvisioningURI string
	BackupCodes     []string
}

// TwoFactorStatus is returned by [Engine.TwoFactorStatus].
type TwoFactorStatus struct {
	Enabled              bool
	BackupCodesRemaining int
	RecommendEnable      bool
}

// LockoutInfo describes an active lockout. AttemptCount is the failure
// count that minted the lock, zero when the lock was read back without it.
type LockoutInfo struct {
	AttemptCount int
	UnlockAt     time.Time
}

