// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

// Package postgres provides the PostgreSQL implementation of auth.AccountRepository.
package postgres

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/oklog/ulid/v2"
	"github.com/samber/oops"

	"github.com/holomush/authd/internal/auth"
)

// poolIface is the subset of *pgxpool.Pool used by the repository, so unit
// tests can substitute pgxmock.
type poolIface interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

const accountColumns = `id, username, email, password_hash, recovery_code_hash,
		recovery_code_expires_at, created_at, updated_at`

// AccountRepository implements auth.AccountRepository using PostgreSQL.
// Every mutation is a single statement against one row.
type AccountRepository struct {
	pool poolIface
}

// NewAccountRepository creates a new AccountRepository.
func NewAccountRepository(pool poolIface) *AccountRepository {
	return &AccountRepository{pool: pool}
}

// Create stores a new account. Unique violations map to auth.ErrConflict.
func (r *AccountRepository) Create(ctx context.Context, account *auth.Account) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO accounts (`+accountColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`, account.ID.String(), account.Username, account.Email, account.PasswordHash,
		account.RecoveryCodeHash, account.RecoveryCodeExpiresAt, account.CreatedAt, account.UpdatedAt)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == pgerrcode.UniqueViolation {
			return oops.Code("ACCOUNT_CONFLICT").
				With("constraint", pgErr.ConstraintName).
				Wrap(auth.ErrConflict)
		}
		return oops.Code("ACCOUNT_CREATE_FAILED").
			With("operation", "insert account").
			With("account_id", account.ID.String()).
			Wrap(err)
	}
	return nil
}

// GetByID retrieves an account by ID.
func (r *AccountRepository) GetByID(ctx context.Context, id ulid.ULID) (*auth.Account, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT `+accountColumns+`
		FROM accounts
		WHERE id = $1
	`, id.String())
	return r.get(row, "id", id.String())
}

// GetByUsername retrieves an account by username (case-insensitive).
func (r *AccountRepository) GetByUsername(ctx context.Context, username string) (*auth.Account, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT `+accountColumns+`
		FROM accounts
		WHERE lower(username) = lower($1)
	`, username)
	return r.get(row, "username", username)
}

// GetByEmail retrieves an account by normalized email.
func (r *AccountRepository) GetByEmail(ctx context.Context, email string) (*auth.Account, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT `+accountColumns+`
		FROM accounts
		WHERE email = $1
	`, email)
	return r.get(row, "email", "")
}

// GetByRecoveryCodeHash retrieves the account holding a recovery code hash.
func (r *AccountRepository) GetByRecoveryCodeHash(ctx context.Context, codeHash string) (*auth.Account, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT `+accountColumns+`
		FROM accounts
		WHERE recovery_code_hash = $1
	`, codeHash)
	return r.get(row, "recovery_code", "")
}

// SetRecoveryCode overwrites the account's recovery code and expiry.
func (r *AccountRepository) SetRecoveryCode(ctx context.Context, email, codeHash string, expiresAt time.Time) error {
	result, err := r.pool.Exec(ctx, `
		UPDATE accounts
		SET recovery_code_hash = $2, recovery_code_expires_at = $3, updated_at = NOW()
		WHERE email = $1
	`, email, codeHash, expiresAt)
	if err != nil {
		return oops.Code("ACCOUNT_SET_RECOVERY_CODE_FAILED").
			With("operation", "update recovery code").
			Wrap(err)
	}
	if result.RowsAffected() == 0 {
		return oops.Code("ACCOUNT_NOT_FOUND").With("field", "email").Wrap(auth.ErrNotFound)
	}
	return nil
}

// ResetPassword sets the password hash and clears the recovery code in one
// statement, guarded on the code still being the one the caller verified
// and not having expired at now.
func (r *AccountRepository) ResetPassword(ctx context.Context, email, codeHash, passwordHash string, now time.Time) error {
	result, err := r.pool.Exec(ctx, `
		UPDATE accounts
		SET password_hash = $3,
		    recovery_code_hash = NULL,
		    recovery_code_expires_at = NULL,
		    updated_at = NOW()
		WHERE email = $1 AND recovery_code_hash = $2
		  AND (recovery_code_expires_at IS NULL OR recovery_code_expires_at > $4)
	`, email, codeHash, passwordHash, now)
	if err != nil {
		return oops.Code("ACCOUNT_RESET_PASSWORD_FAILED").
			With("operation", "reset password").
			Wrap(err)
	}
	if result.RowsAffected() == 0 {
		return oops.Code("ACCOUNT_NOT_FOUND").With("field", "recovery_code").Wrap(auth.ErrNotFound)
	}
	return nil
}

// UpdatePassword updates only the password hash for an account.
func (r *AccountRepository) UpdatePassword(ctx context.Context, id ulid.ULID, passwordHash string) error {
	result, err := r.pool.Exec(ctx, `
		UPDATE accounts SET password_hash = $2, updated_at = NOW() WHERE id = $1
	`, id.String(), passwordHash)
	if err != nil {
		return oops.Code("ACCOUNT_UPDATE_PASSWORD_FAILED").
			With("operation", "update password").
			With("account_id", id.String()).
			Wrap(err)
	}
	if result.RowsAffected() == 0 {
		return oops.Code("ACCOUNT_NOT_FOUND").
			With("account_id", id.String()).
			Wrap(auth.ErrNotFound)
	}
	return nil
}

// ClearExpiredRecoveryCodes clears codes that expired before now.
func (r *AccountRepository) ClearExpiredRecoveryCodes(ctx context.Context, now time.Time) (int64, error) {
	result, err := r.pool.Exec(ctx, `
		UPDATE accounts
		SET recovery_code_hash = NULL, recovery_code_expires_at = NULL, updated_at = NOW()
		WHERE recovery_code_expires_at < $1
	`, now)
	if err != nil {
		return 0, oops.Code("ACCOUNT_CLEAR_EXPIRED_FAILED").
			With("operation", "clear expired recovery codes").
			Wrap(err)
	}
	return result.RowsAffected(), nil
}

func (r *AccountRepository) get(row pgx.Row, field, value string) (*auth.Account, error) {
	account, err := scanAccount(row)
	if errors.Is(err, pgx.ErrNoRows) {
		e := oops.Code("ACCOUNT_NOT_FOUND").With("field", field)
		if value != "" {
			e = e.With("value", value)
		}
		return nil, e.Wrap(auth.ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	return account, nil
}

// scanAccount scans a single row into an Account.
// Callers are responsible for handling pgx.ErrNoRows.
func scanAccount(row pgx.Row) (*auth.Account, error) {
	var (
		idStr     string
		account   auth.Account
		codeHash  *string
		codeExp   *time.Time
		createdAt time.Time
		updatedAt time.Time
	)

	err := row.Scan(&idStr, &account.Username, &account.Email, &account.PasswordHash,
		&codeHash, &codeExp, &createdAt, &updatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, err //nolint:wrapcheck // Callers wrap with context-specific info
		}
		return nil, oops.Code("ACCOUNT_SCAN_FAILED").
			With("operation", "scan account").
			Wrap(err)
	}

	id, err := ulid.Parse(idStr)
	if err != nil {
		return nil, oops.Code("ACCOUNT_INVALID_ID").
			With("operation", "parse account id").
			With("id", idStr).
			Wrap(err)
	}

	account.ID = id
	account.RecoveryCodeHash = codeHash
	account.RecoveryCodeExpiresAt = codeExp
	account.CreatedAt = createdAt
	account.UpdatedAt = updatedAt
	return &account, nil
}

// Compile-time interface check.
var _ auth.AccountRepository = (*AccountRepository)(nil)
