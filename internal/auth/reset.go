// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Grammata Contributors

package auth

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/samber/oops"
)

// Reset token configuration.
const (
	// ResetTokenBytes is the entropy of a reset token (64 hex chars).
	ResetTokenBytes = 32

	// DefaultResetTokenValidity is the fixed window from issuance, not
	// renewable.
	DefaultResetTokenValidity = time.Hour
)

// ResetToken is a single-use credential-recovery artifact. The store
// holds only the SHA-256 hash of the token; the plaintext travels once,
// out of band, to the user's external address.
type ResetToken struct {
	ID        ulid.ULID
	UserID    ulid.ULID
	TokenHash string
	ExpiresAt time.Time
	CreatedAt time.Time
}

// NewResetToken creates a validated ResetToken record.
func NewResetToken(userID ulid.ULID, tokenHash string, now time.Time, validity time.Duration) (*ResetToken, error) {
	if userID.Compare(ulid.ULID{}) == 0 {
		return nil, oops.Code("RESET_INVALID_USER").Errorf("user ID cannot be zero")
	}
	if tokenHash == "" {
		return nil, oops.Code("RESET_INVALID_HASH").Errorf("token hash cannot be empty")
	}
	if validity <= 0 {
		validity = DefaultResetTokenValidity
	}
	return &ResetToken{
		ID:        ulid.Make(),
		UserID:    userID,
		TokenHash: tokenHash,
		ExpiresAt: now.Add(validity),
		CreatedAt: now,
	}, nil
}

// IsExpiredAt reports whether the token's validity window has closed at
// the given instant.
func (t *ResetToken) IsExpiredAt(now time.Time) bool {
	return now.After(t.ExpiresAt)
}

// GenerateResetToken creates a cryptographically random reset token and
// its storage hash.
func GenerateResetToken() (token, hash string, err error) {
	raw := make([]byte, ResetTokenBytes)
	if _, err = rand.Read(raw); err != nil {
		return "", "", oops.Code("RESET_TOKEN_GENERATE_FAILED").Wrap(err)
	}
	token = hex.EncodeToString(raw)
	return token, HashResetToken(token), nil
}

// HashResetToken computes the storage key for a reset token.
func HashResetToken(token string) string {
	sum := sha256.Sum256([]byte(token))
	return hex.EncodeToString(sum[:])
}

// TokenStore manages durable password-reset-token records.
type TokenStore interface {
	// Create stores a new reset token record.
	Create(ctx context.Context, token *ResetToken) error

	// GetByTokenHash retrieves a record by its token hash. Returns
	// ErrNotFound (wrapped) when absent.
	GetByTokenHash(ctx context.Context, tokenHash string) (*ResetToken, error)

	// Delete removes a record. Returns ErrNotFound (wrapped) when absent.
	Delete(ctx context.Context, id ulid.ULID) error

	// DeleteByUser removes all records for a user.
	DeleteByUser(ctx context.Context, userID ulid.ULID) error

	// DeleteExpired removes records whose expiry precedes the given
	// instant and returns the count. Called by the scheduled sweep.
	DeleteExpired(ctx context.Context, before time.Time) (int64, error)
}

// Notifier delivers a reset link to a user's external address.
// Fire-and-forget from the core's perspective; delivery failures are
// expected to fail loudly in the notifier's own implementation.
type Notifier interface {
	SendPasswordResetLink(ctx context.Context, email, token string) error
}
