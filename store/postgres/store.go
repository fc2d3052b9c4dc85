package postgres

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	adminauth "github.com/oakmont/adminauth"
)

const accountColumns = `
	id, identifier, tenant_id, password_hash, role, active,
	two_factor_enabled, two_factor_secret, backup_codes, last_used_step`

// Store is a pgx-backed adminauth.AccountStore.
type Store struct {
	pool *pgxpool.Pool
}

func New(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

func (s *Store) FindByIdentifier(ctx context.Context, identifier string) (*adminauth.AccountRecord, error) {
	query := `SELECT` + accountColumns + ` FROM admin_accounts WHERE identifier = $1`
	return s.scanOne(ctx, query, identifier)
}

func (s *Store) FindByID(ctx context.Context, accountID string) (*adminauth.AccountRecord, error) {
	query := `SELECT` + accountColumns + ` FROM admin_accounts WHERE id = $1`
	return s.scanOne(ctx, query, accountID)
}

func (s *Store) scanOne(ctx context.Context, query string, arg any) (*adminauth.AccountRecord, error) {
	var record adminauth.AccountRecord
	err := s.pool.QueryRow(ctx, query, arg).Scan(
		&record.AccountID,
		&record.Identifier,
		&record.TenantID,
		&record.PasswordHash,
		&record.Role,
		&record.Active,
		&record.Credential.Enabled,
		&record.Credential.Secret,
		&record.Credential.BackupCodes,
		&record.Credential.LastUsedStep,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, adminauth.ErrAccountNotFound
		}
		return nil, fmt.Errorf("querying account: %w", err)
	}
	return &record, nil
}

// UpdateCredential writes only the fields set in update, in one statement.
func (s *Store) UpdateCredential(ctx context.Context, accountID string, update adminauth.CredentialUpdate) error {
	sets := make([]string, 0, 5)
	args := make([]any, 0, 5)

	add := func(column string, value any) {
		args = append(args, value)
		sets = append(sets, column+" = $"+strconv.Itoa(len(args)))
	}

	if update.Enabled != nil {
		add("two_factor_enabled", *update.Enabled)
	}
	if update.Secret != nil {
		add("two_factor_secret", *update.Secret)
	}
	if update.BackupCodes != nil {
		add("backup_codes", *update.BackupCodes)
	}
	if update.LastUsedStep != nil {
		add("last_used_step", *update.LastUsedStep)
	}
	if len(sets) == 0 {
		return nil
	}
	sets = append(sets, "updated_at = NOW()")

	args = append(args, accountID)
	query := "UPDATE admin_accounts SET " + strings.Join(sets, ", ") +
		" WHERE id = $" + strconv.Itoa(len(args))

	tag, err := s.pool.Exec(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("updating credential: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return adminauth.ErrAccountNotFound
	}
	return nil
}

func (s *Store) UpdatePasswordHash(ctx context.Context, accountID, newHash string) error {
	query := `UPDATE admin_accounts SET password_hash = $1, updated_at = NOW() WHERE id = $2`
	tag, err := s.pool.Exec(ctx, query, newHash, accountID)
	if err != nil {
		return fmt.Errorf("updating password hash: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return adminauth.ErrAccountNotFound
	}
	return nil
}

// CreateAccount inserts a new admin account and returns its id. Intended
// for provisioning tooling and tests.
func (s *Store) CreateAccount(ctx context.Context, record *adminauth.AccountRecord) (string, error) {
	query := `
		INSERT INTO admin_accounts (identifier, tenant_id, password_hash, role, active)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id`

	var id string
	err := s.pool.QueryRow(ctx, query,
		record.Identifier,
		record.TenantID,
		record.PasswordHash,
		record.Role,
		record.Active,
	).Scan(&id)
	if err != nil {
		return "", fmt.Errorf("creating account: %w", err)
	}
	return id, nil
}
