// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

// Package memory provides an in-process auth.AccountRepository for
// development and tests. State is lost when the process exits.
package memory

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/samber/oops"

	"github.com/holomush/authd/internal/auth"
)

// AccountRepository implements auth.AccountRepository with maps guarded by a
// single mutex, so each method is atomic with respect to the others.
type AccountRepository struct {
	mu         sync.Mutex
	byID       map[ulid.ULID]*auth.Account
	byUsername map[string]ulid.ULID
	byEmail    map[string]ulid.ULID
	byCodeHash map[string]ulid.ULID
}

// NewAccountRepository creates an empty AccountRepository.
func NewAccountRepository() *AccountRepository {
	return &AccountRepository{
		byID:       make(map[ulid.ULID]*auth.Account),
		byUsername: make(map[string]ulid.ULID),
		byEmail:    make(map[string]ulid.ULID),
		byCodeHash: make(map[string]ulid.ULID),
	}
}

func usernameKey(username string) string {
	return strings.ToLower(username)
}

// Create stores a new account.
func (r *AccountRepository) Create(_ context.Context, account *auth.Account) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.byID[account.ID]; ok {
		return oops.Code("ACCOUNT_CONFLICT").With("field", "id").Wrap(auth.ErrConflict)
	}
	if _, ok := r.byUsername[usernameKey(account.Username)]; ok {
		return oops.Code("ACCOUNT_CONFLICT").With("field", "username").Wrap(auth.ErrConflict)
	}
	if _, ok := r.byEmail[account.Email]; ok {
		return oops.Code("ACCOUNT_CONFLICT").With("field", "email").Wrap(auth.ErrConflict)
	}

	stored := clone(account)
	r.byID[stored.ID] = stored
	r.byUsername[usernameKey(stored.Username)] = stored.ID
	r.byEmail[stored.Email] = stored.ID
	if stored.RecoveryCodeHash != nil {
		r.byCodeHash[*stored.RecoveryCodeHash] = stored.ID
	}
	return nil
}

// GetByID retrieves an account by ID.
func (r *AccountRepository) GetByID(_ context.Context, id ulid.ULID) (*auth.Account, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.lookup(id, "id", id.String())
}

// GetByUsername retrieves an account by username (case-insensitive).
func (r *AccountRepository) GetByUsername(_ context.Context, username string) (*auth.Account, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.lookup(r.byUsername[usernameKey(username)], "username", username)
}

// GetByEmail retrieves an account by email.
func (r *AccountRepository) GetByEmail(_ context.Context, email string) (*auth.Account, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.lookup(r.byEmail[email], "email", email)
}

// GetByRecoveryCodeHash retrieves the account holding a recovery code hash.
func (r *AccountRepository) GetByRecoveryCodeHash(_ context.Context, codeHash string) (*auth.Account, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.lookup(r.byCodeHash[codeHash], "recovery_code", "")
}

// SetRecoveryCode replaces the account's recovery code.
func (r *AccountRepository) SetRecoveryCode(_ context.Context, email, codeHash string, expiresAt time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	account, ok := r.byID[r.byEmail[email]]
	if !ok {
		return notFound("email", email)
	}
	r.clearCode(account)

	hash := codeHash
	expiry := expiresAt.UTC()
	account.RecoveryCodeHash = &hash
	account.RecoveryCodeExpiresAt = &expiry
	account.UpdatedAt = time.Now().UTC()
	r.byCodeHash[codeHash] = account.ID
	return nil
}

// ResetPassword sets the password and clears the recovery code if the
// account still holds codeHash and it is live at now.
func (r *AccountRepository) ResetPassword(_ context.Context, email, codeHash, passwordHash string, now time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	account, ok := r.byID[r.byEmail[email]]
	if !ok || !account.HasLiveRecoveryCode(now) || *account.RecoveryCodeHash != codeHash {
		return notFound("email", email)
	}

	r.clearCode(account)
	account.PasswordHash = passwordHash
	account.UpdatedAt = time.Now().UTC()
	return nil
}

// UpdatePassword updates only the password hash.
func (r *AccountRepository) UpdatePassword(_ context.Context, id ulid.ULID, passwordHash string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	account, ok := r.byID[id]
	if !ok {
		return notFound("id", id.String())
	}
	account.PasswordHash = passwordHash
	account.UpdatedAt = time.Now().UTC()
	return nil
}

// ClearExpiredRecoveryCodes clears codes that expired before now.
func (r *AccountRepository) ClearExpiredRecoveryCodes(_ context.Context, now time.Time) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var cleared int64
	for _, account := range r.byID {
		if account.RecoveryCodeExpiresAt != nil && account.RecoveryCodeExpiresAt.Before(now) {
			r.clearCode(account)
			cleared++
		}
	}
	return cleared, nil
}

// lookup must be called with r.mu held.
func (r *AccountRepository) lookup(id ulid.ULID, field, value string) (*auth.Account, error) {
	account, ok := r.byID[id]
	if !ok {
		return nil, notFound(field, value)
	}
	return clone(account), nil
}

// clearCode must be called with r.mu held.
func (r *AccountRepository) clearCode(account *auth.Account) {
	if account.RecoveryCodeHash != nil {
		delete(r.byCodeHash, *account.RecoveryCodeHash)
	}
	account.RecoveryCodeHash = nil
	account.RecoveryCodeExpiresAt = nil
}

func notFound(field, value string) error {
	e := oops.Code("ACCOUNT_NOT_FOUND").With("field", field)
	if value != "" && field != "email" {
		e = e.With("value", value)
	}
	return e.Wrap(auth.ErrNotFound)
}

func clone(a *auth.Account) *auth.Account {
	c := *a
	if a.RecoveryCodeHash != nil {
		h := *a.RecoveryCodeHash
		c.RecoveryCodeHash = &h
	}
	if a.RecoveryCodeExpiresAt != nil {
		t := *a.RecoveryCodeExpiresAt
		c.RecoveryCodeExpiresAt = &t
	}
	return &c
}

// Compile-time interface check.
var _ auth.AccountRepository = (*AccountRepository)(nil)
