// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Grammata Contributors

package auth

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/samber/oops"

	"github.com/grammata/grammata/pkg/errutil"
)

// PasswordResetCoordinator issues, validates and consumes one-time
// password-reset tokens.
type PasswordResetCoordinator struct {
	users    UserStore
	tokens   TokenStore
	sessions *SessionManager
	source   CredentialSource
	notifier Notifier
	clock    Clock
	validity time.Duration
	logger   *slog.Logger
}

// NewPasswordResetCoordinator creates a PasswordResetCoordinator. A
// non-positive validity falls back to DefaultResetTokenValidity.
func NewPasswordResetCoordinator(
	users UserStore,
	tokens TokenStore,
	sessions *SessionManager,
	source CredentialSource,
	notifier Notifier,
	clock Clock,
	validity time.Duration,
	logger *slog.Logger,
) (*PasswordResetCoordinator, error) {
	if users == nil {
		return nil, oops.Code("AUTH_NIL_DEPENDENCY").Errorf("user store is required")
	}
	if tokens == nil {
		return nil, oops.Code("AUTH_NIL_DEPENDENCY").Errorf("token store is required")
	}
	if sessions == nil {
		return nil, oops.Code("AUTH_NIL_DEPENDENCY").Errorf("session manager is required")
	}
	if source == nil {
		return nil, oops.Code("AUTH_NIL_DEPENDENCY").Errorf("credential source is required")
	}
	if notifier == nil {
		return nil, oops.Code("AUTH_NIL_DEPENDENCY").Errorf("notifier is required")
	}
	if clock == nil {
		return nil, oops.Code("AUTH_NIL_DEPENDENCY").Errorf("clock is required")
	}
	if logger == nil {
		logger = slog.Default()
	}
	if validity <= 0 {
		validity = DefaultResetTokenValidity
	}
	return &PasswordResetCoordinator{
		users:    users,
		tokens:   tokens,
		sessions: sessions,
		source:   source,
		notifier: notifier,
		clock:    clock,
		validity: validity,
		logger:   logger,
	}, nil
}

// Issue generates a reset token for the user matching the email,
// persists its hash with a fixed validity window, and hands the
// plaintext token to the notifier for out-of-band delivery. The token
// never appears in the caller's response.
//
// Fails with ErrUserNotFound when no user matches; the HTTP boundary
// normalizes that outcome so responses stay enumeration-resistant end
// to end.
func (c *PasswordResetCoordinator) Issue(ctx context.Context, email string) error {
	normalized, err := NormalizeEmail(email)
	if err != nil {
		return oops.Code("RESET_USER_NOT_FOUND").Wrap(ErrUserNotFound)
	}

	user, err := c.users.GetByEmail(ctx, normalized)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return oops.Code("RESET_USER_NOT_FOUND").
				With("email", normalized).
				Wrap(ErrUserNotFound)
		}
		return oops.Code("RESET_ISSUE_FAILED").
			With("operation", "get user by email").
			Wrap(err)
	}

	token, hash, err := GenerateResetToken()
	if err != nil {
		return err
	}

	record, err := NewResetToken(user.ID, hash, c.clock.Now(), c.validity)
	if err != nil {
		return err
	}

	if err := c.tokens.Create(ctx, record); err != nil {
		return oops.Code("RESET_ISSUE_FAILED").
			With("operation", "persist reset token").
			Wrap(err)
	}

	if err := c.notifier.SendPasswordResetLink(ctx, user.Email, token); err != nil {
		return oops.Code("RESET_NOTIFY_FAILED").
			With("operation", "send reset link").
			Wrap(err)
	}

	RecordResetIssued()
	return nil
}

// Redeem consumes a reset token: it validates the token, replaces the
// user's stored credential, deletes the token (single use) and revokes
// every live session for the user.
//
// An absent token and an expired one both fail with ErrTokenInvalid; an
// expired-but-present record is deleted opportunistically so a later
// sweep has less to do. Redeeming the same token twice fails the second
// time even before any sweep runs, because the record is gone.
func (c *PasswordResetCoordinator) Redeem(ctx context.Context, token, newPassword string) error {
	if newPassword == "" {
		return ErrEmptyPassword
	}
	if token == "" {
		return oops.Code("RESET_TOKEN_INVALID").Wrap(ErrTokenInvalid)
	}

	record, err := c.tokens.GetByTokenHash(ctx, HashResetToken(token))
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return oops.Code("RESET_TOKEN_INVALID").Wrap(ErrTokenInvalid)
		}
		return oops.Code("RESET_REDEEM_FAILED").
			With("operation", "get token by hash").
			Wrap(err)
	}

	if record.IsExpiredAt(c.clock.Now()) {
		if err := c.tokens.Delete(ctx, record.ID); err != nil && !errors.Is(err, ErrNotFound) {
			errutil.LogError(c.logger, "expired reset token cleanup failed", err)
		}
		return oops.Code("RESET_TOKEN_INVALID").Wrap(ErrTokenInvalid)
	}

	credential, err := c.source.Mint(ctx, newPassword)
	if err != nil {
		return oops.Code("RESET_REDEEM_FAILED").
			With("operation", "mint credential").
			Wrap(err)
	}

	if err := c.users.UpdatePassword(ctx, record.UserID, credential); err != nil {
		return oops.Code("RESET_REDEEM_FAILED").
			With("operation", "update password").
			With("user_id", record.UserID.String()).
			Wrap(err)
	}

	// Single-use enforcement: the record must be gone before a second
	// redemption can be attempted.
	if err := c.tokens.Delete(ctx, record.ID); err != nil && !errors.Is(err, ErrNotFound) {
		return oops.Code("RESET_REDEEM_FAILED").
			With("operation", "consume token").
			Wrap(err)
	}

	// The old credential may have leaked; any session minted under it
	// is revoked. Cleanup failure does not undo the password change.
	if err := c.sessions.DestroyAllForUser(ctx, record.UserID); err != nil {
		errutil.LogError(c.logger, "session revocation after reset failed", err)
	}

	RecordResetRedeemed()
	return nil
}
