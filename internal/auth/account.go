// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package auth

import (
	"context"
	"net/mail"
	"regexp"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/oklog/ulid/v2"
	"github.com/samber/oops"
)

// Identity field constraints.
const (
	MinUsernameLength = 3
	MaxUsernameLength = 30
	MaxEmailLength    = 254
	MaxPasswordLength = 256
)

// usernameRegex matches usernames that:
// - Start with a letter (a-z, A-Z)
// - Contain only letters, numbers, and underscores
var usernameRegex = regexp.MustCompile(`^[a-zA-Z][a-zA-Z0-9_]*$`)

// Account is a stored identity and credential record.
type Account struct {
	ID                    ulid.ULID
	Username              string
	Email                 string
	PasswordHash          string
	RecoveryCodeHash      *string
	RecoveryCodeExpiresAt *time.Time
	CreatedAt             time.Time
	UpdatedAt             time.Time
}

// Profile is the display subset of an Account returned to clients.
type Profile struct {
	Username string `json:"username"`
	Email    string `json:"email"`
}

// Profile returns the account's display profile.
func (a *Account) Profile() Profile {
	return Profile{Username: a.Username, Email: a.Email}
}

// HasLiveRecoveryCode reports whether the account holds a recovery code that
// has not expired at now.
func (a *Account) HasLiveRecoveryCode(now time.Time) bool {
	if a.RecoveryCodeHash == nil {
		return false
	}
	return a.RecoveryCodeExpiresAt == nil || now.Before(*a.RecoveryCodeExpiresAt)
}

// NewAccount creates an Account with validated identity fields.
// The email is normalized before it is stored.
func NewAccount(username, email, passwordHash string) (*Account, error) {
	if err := ValidateUsername(username); err != nil {
		return nil, err
	}
	email = NormalizeEmail(email)
	if err := ValidateEmail(email); err != nil {
		return nil, err
	}
	if passwordHash == "" {
		return nil, oops.Code("AUTH_INVALID_PASSWORD_HASH").Errorf("password hash cannot be empty")
	}

	now := time.Now().UTC()
	return &Account{
		ID:           ulid.Make(),
		Username:     username,
		Email:        email,
		PasswordHash: passwordHash,
		CreatedAt:    now,
		UpdatedAt:    now,
	}, nil
}

// ValidateUsername validates a username against rules.
// Username requirements:
// - Length: MinUsernameLength to MaxUsernameLength characters
// - Must start with a letter
// - Can contain only letters (a-z, A-Z), numbers (0-9), and underscores (_)
func ValidateUsername(username string) error {
	if username == "" {
		return oops.Code("AUTH_INVALID_USERNAME").Errorf("username cannot be empty")
	}
	if len(username) < MinUsernameLength {
		return oops.Code("AUTH_INVALID_USERNAME").
			With("min", MinUsernameLength).
			Errorf("username must be at least %d characters", MinUsernameLength)
	}
	if len(username) > MaxUsernameLength {
		return oops.Code("AUTH_INVALID_USERNAME").
			With("max", MaxUsernameLength).
			Errorf("username must be at most %d characters", MaxUsernameLength)
	}
	if !usernameRegex.MatchString(username) {
		return oops.Code("AUTH_INVALID_USERNAME").
			Errorf("username must start with a letter and contain only letters, numbers, and underscores")
	}
	return nil
}

// NormalizeEmail trims and lower-cases an email address.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// ValidateEmail checks that email is a bare address without a display name.
func ValidateEmail(email string) error {
	if email == "" {
		return oops.Code("AUTH_INVALID_EMAIL").Errorf("email cannot be empty")
	}
	if len(email) > MaxEmailLength {
		return oops.Code("AUTH_INVALID_EMAIL").
			With("max", MaxEmailLength).
			Errorf("email must be at most %d characters", MaxEmailLength)
	}
	addr, err := mail.ParseAddress(email)
	if err != nil || addr.Address != email {
		return oops.Code("AUTH_INVALID_EMAIL").Errorf("email is not a valid address")
	}
	return nil
}

// ValidatePassword checks plaintext password length.
func ValidatePassword(password string) error {
	if password == "" {
		return oops.Code("AUTH_INVALID_PASSWORD").Errorf("password cannot be empty")
	}
	if utf8.RuneCountInString(password) > MaxPasswordLength {
		return oops.Code("AUTH_INVALID_PASSWORD").
			With("max", MaxPasswordLength).
			Errorf("password must be at most %d characters", MaxPasswordLength)
	}
	return nil
}

// AccountRepository manages account persistence.
//
// Every mutating method is applied as one atomic update to a single account
// record. Lookups return ErrNotFound (wrapped) when nothing matches and
// Create returns ErrConflict (wrapped) when an identity field is taken.
type AccountRepository interface {
	// Create stores a new account.
	Create(ctx context.Context, account *Account) error

	// GetByID retrieves an account by ID.
	GetByID(ctx context.Context, id ulid.ULID) (*Account, error)

	// GetByUsername retrieves an account by username (case-insensitive).
	GetByUsername(ctx context.Context, username string) (*Account, error)

	// GetByEmail retrieves an account by normalized email.
	GetByEmail(ctx context.Context, email string) (*Account, error)

	// GetByRecoveryCodeHash retrieves the account holding the given code hash.
	GetByRecoveryCodeHash(ctx context.Context, codeHash string) (*Account, error)

	// SetRecoveryCode replaces any pending recovery code for the account
	// with the given email. Last write wins.
	SetRecoveryCode(ctx context.Context, email, codeHash string, expiresAt time.Time) error

	// ResetPassword sets a new password hash and clears the recovery code,
	// only if the account with the given email still holds codeHash and the
	// code has not expired at now. Returns ErrNotFound otherwise.
	ResetPassword(ctx context.Context, email, codeHash, passwordHash string, now time.Time) error

	// UpdatePassword updates only the password hash for an account.
	UpdatePassword(ctx context.Context, id ulid.ULID, passwordHash string) error

	// ClearExpiredRecoveryCodes clears codes whose expiry is before now and
	// returns how many accounts were touched.
	ClearExpiredRecoveryCodes(ctx context.Context, now time.Time) (int64, error)
}
