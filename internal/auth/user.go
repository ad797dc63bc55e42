// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Grammata Contributors

package auth

import (
	"context"
	"net/mail"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/samber/oops"
)

// User is the durable identity record. The failure counter and lockout
// expiry are owned by the lockout policy; the password hash is replaced
// by password-reset completion and by transparent hash upgrades. User
// records are never deleted by this core.
type User struct {
	ID             ulid.ULID
	Email          string // case-normalized, unique
	PasswordHash   string
	FailedAttempts int
	LockoutExpiry  *time.Time // nil when not locked
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// NewUser creates a User with a normalized email and the given password
// hash. IDs are minted here so store implementations receive complete
// records.
func NewUser(email, passwordHash string, now time.Time) (*User, error) {
	normalized, err := NormalizeEmail(email)
	if err != nil {
		return nil, err
	}
	if passwordHash == "" {
		return nil, oops.Code("AUTH_INVALID_USER").Errorf("password hash cannot be empty")
	}

	return &User{
		ID:           ulid.Make(),
		Email:        normalized,
		PasswordHash: passwordHash,
		CreatedAt:    now,
		UpdatedAt:    now,
	}, nil
}

// IsLockedAt reports whether the user's lockout window is still open at
// the given instant.
func (u *User) IsLockedAt(now time.Time) bool {
	return u.LockoutExpiry != nil && now.Before(*u.LockoutExpiry)
}

// NormalizeEmail lowercases and trims an email address and rejects
// syntactically invalid ones. All store lookups key on the normalized
// form, so "Foo@Example.com" and "foo@example.com" are the same account.
func NormalizeEmail(email string) (string, error) {
	normalized := strings.ToLower(strings.TrimSpace(email))
	if normalized == "" {
		return "", oops.Code("AUTH_INVALID_EMAIL").Errorf("email cannot be empty")
	}
	addr, err := mail.ParseAddress(normalized)
	if err != nil || addr.Address != normalized {
		return "", oops.Code("AUTH_INVALID_EMAIL").Errorf("invalid email address")
	}
	return normalized, nil
}

// UserStore manages durable user records.
//
// IncrementFailures must be atomic relative to concurrent attempts
// against the same user: the returned count is the post-increment value
// as applied by the store, never a stale in-memory copy.
type UserStore interface {
	// Create stores a new user. Returns ErrDuplicateEmail (wrapped) when
	// the email is already registered.
	Create(ctx context.Context, user *User) error

	// GetByEmail retrieves a user by normalized email.
	GetByEmail(ctx context.Context, email string) (*User, error)

	// GetByID retrieves a user by ID.
	GetByID(ctx context.Context, id ulid.ULID) (*User, error)

	// UpdatePassword replaces only the password hash.
	UpdatePassword(ctx context.Context, id ulid.ULID, passwordHash string) error

	// IncrementFailures atomically increments the failed-attempt counter
	// and returns the new count.
	IncrementFailures(ctx context.Context, id ulid.ULID) (int, error)

	// SetLockoutExpiry sets the lockout window end for a user.
	SetLockoutExpiry(ctx context.Context, id ulid.ULID, until time.Time) error

	// ResetFailureState zeroes the failure counter and clears any lockout.
	ResetFailureState(ctx context.Context, id ulid.ULID) error
}
