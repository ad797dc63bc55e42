// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Grammata Contributors

package auth_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/grammata/grammata/internal/auth"
	"github.com/grammata/grammata/internal/auth/authtest"
	"github.com/grammata/grammata/pkg/errutil"
)

type resetFixture struct {
	coordinator *auth.PasswordResetCoordinator
	validator   *auth.CredentialValidator
	sessions    *auth.SessionManager
	users       *authtest.MemoryUserStore
	tokens      *authtest.MemoryTokenStore
	notifier    *authtest.RecordingNotifier
	clock       *authtest.FakeClock
}

func newResetFixture(t *testing.T) *resetFixture {
	t.Helper()
	clock := authtest.NewFakeClock(time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC))
	users := authtest.NewMemoryUserStore()
	tokens := authtest.NewMemoryTokenStore()
	notifier := &authtest.RecordingNotifier{}

	source, err := auth.NewPasswordSource(fastHasher(t))
	require.NoError(t, err)

	lockout, err := auth.NewLockoutPolicy(users, clock, 5, 15*time.Minute)
	require.NoError(t, err)

	validator, err := auth.NewCredentialValidator(users, source, lockout)
	require.NoError(t, err)

	sessions, err := auth.NewSessionManager(authtest.NewMemorySessionStore(clock), clock, 30*time.Minute, 12*time.Hour)
	require.NoError(t, err)

	coordinator, err := auth.NewPasswordResetCoordinator(
		users, tokens, sessions, source, notifier, clock, time.Hour, nil)
	require.NoError(t, err)

	return &resetFixture{
		coordinator: coordinator,
		validator:   validator,
		sessions:    sessions,
		users:       users,
		tokens:      tokens,
		notifier:    notifier,
		clock:       clock,
	}
}

// issue registers a user and captures the token the notifier received.
func (f *resetFixture) issue(t *testing.T, email, password string) (auth.Identity, string) {
	t.Helper()
	ctx := context.Background()

	identity, err := f.validator.Register(ctx, email, password)
	require.NoError(t, err)

	require.NoError(t, f.coordinator.Issue(ctx, email))
	sent := f.notifier.Sent()
	require.NotEmpty(t, sent)
	return identity, sent[len(sent)-1].Token
}

func TestPasswordResetCoordinator_Issue(t *testing.T) {
	ctx := context.Background()

	t.Run("delivers token out of band", func(t *testing.T) {
		f := newResetFixture(t)
		_, token := f.issue(t, "alice@example.com", "old password")

		assert.NotEmpty(t, token)
		assert.Equal(t, "alice@example.com", f.notifier.Sent()[0].Email)
		assert.Equal(t, 1, f.tokens.Len())
	})

	t.Run("stores only the token hash", func(t *testing.T) {
		f := newResetFixture(t)
		_, token := f.issue(t, "alice@example.com", "old password")

		record, err := f.tokens.GetByTokenHash(ctx, auth.HashResetToken(token))
		require.NoError(t, err)
		assert.NotEqual(t, token, record.TokenHash)
		assert.Equal(t, f.clock.Now().Add(time.Hour), record.ExpiresAt)
	})

	t.Run("unknown email fails with user not found", func(t *testing.T) {
		f := newResetFixture(t)

		err := f.coordinator.Issue(ctx, "nobody@example.com")
		errutil.AssertErrorIs(t, err, auth.ErrUserNotFound, "RESET_USER_NOT_FOUND")
		assert.Empty(t, f.notifier.Sent())
	})

	t.Run("malformed email fails with user not found", func(t *testing.T) {
		f := newResetFixture(t)

		err := f.coordinator.Issue(ctx, "not an email")
		assert.ErrorIs(t, err, auth.ErrUserNotFound)
	})

	t.Run("notifier failure surfaces", func(t *testing.T) {
		f := newResetFixture(t)
		_, err := f.validator.Register(ctx, "alice@example.com", "old password")
		require.NoError(t, err)

		f.notifier.ForcedErr = assert.AnError
		err = f.coordinator.Issue(ctx, "alice@example.com")
		errutil.AssertErrorCode(t, err, "RESET_NOTIFY_FAILED")
	})
}

func TestPasswordResetCoordinator_Redeem(t *testing.T) {
	ctx := context.Background()

	t.Run("replaces the password", func(t *testing.T) {
		f := newResetFixture(t)
		_, token := f.issue(t, "alice@example.com", "old password")

		require.NoError(t, f.coordinator.Redeem(ctx, token, "new password"))

		_, err := f.validator.Validate(ctx, "alice@example.com", "new password")
		assert.NoError(t, err)

		_, err = f.validator.Validate(ctx, "alice@example.com", "old password")
		assert.ErrorIs(t, err, auth.ErrInvalidCredentials)
	})

	t.Run("token is single use", func(t *testing.T) {
		f := newResetFixture(t)
		_, token := f.issue(t, "alice@example.com", "old password")

		require.NoError(t, f.coordinator.Redeem(ctx, token, "new password"))

		err := f.coordinator.Redeem(ctx, token, "another password")
		errutil.AssertErrorIs(t, err, auth.ErrTokenInvalid, "RESET_TOKEN_INVALID")
	})

	t.Run("token valid within the hour, invalid after", func(t *testing.T) {
		f := newResetFixture(t)
		_, token := f.issue(t, "alice@example.com", "old password")

		f.clock.Advance(61 * time.Minute)
		err := f.coordinator.Redeem(ctx, token, "new password")
		assert.ErrorIs(t, err, auth.ErrTokenInvalid)

		// A fresh token at the new instant works at T+30min.
		require.NoError(t, f.coordinator.Issue(ctx, "alice@example.com"))
		sent := f.notifier.Sent()
		fresh := sent[len(sent)-1].Token

		f.clock.Advance(30 * time.Minute)
		assert.NoError(t, f.coordinator.Redeem(ctx, fresh, "new password"))
	})

	t.Run("expired token is removed on the failed redemption", func(t *testing.T) {
		f := newResetFixture(t)
		_, token := f.issue(t, "alice@example.com", "old password")

		f.clock.Advance(61 * time.Minute)
		require.Error(t, f.coordinator.Redeem(ctx, token, "new password"))
		assert.Equal(t, 0, f.tokens.Len())
	})

	t.Run("unknown token fails", func(t *testing.T) {
		f := newResetFixture(t)

		err := f.coordinator.Redeem(ctx, "deadbeef", "new password")
		assert.ErrorIs(t, err, auth.ErrTokenInvalid)
	})

	t.Run("empty inputs fail", func(t *testing.T) {
		f := newResetFixture(t)

		assert.ErrorIs(t, f.coordinator.Redeem(ctx, "", "new password"), auth.ErrTokenInvalid)
		assert.ErrorIs(t, f.coordinator.Redeem(ctx, "deadbeef", ""), auth.ErrEmptyPassword)
	})

	t.Run("redemption revokes the user's live sessions", func(t *testing.T) {
		f := newResetFixture(t)
		identity, token := f.issue(t, "alice@example.com", "old password")

		sessionToken, err := f.sessions.Create(ctx, identity, "")
		require.NoError(t, err)

		require.NoError(t, f.coordinator.Redeem(ctx, token, "new password"))

		_, err = f.sessions.Touch(ctx, sessionToken)
		assert.ErrorIs(t, err, auth.ErrSessionNotFound)
	})
}

func TestTokenStoreSweep(t *testing.T) {
	ctx := context.Background()

	t.Run("sweep removes only expired tokens", func(t *testing.T) {
		f := newResetFixture(t)
		f.issue(t, "alice@example.com", "password one")
		f.clock.Advance(50 * time.Minute)
		f.issue(t, "bob@example.com", "password two")

		// First token expires at T+60; sweep at T+70.
		f.clock.Advance(20 * time.Minute)
		removed, err := f.tokens.DeleteExpired(ctx, f.clock.Now())
		require.NoError(t, err)
		assert.Equal(t, int64(1), removed)
		assert.Equal(t, 1, f.tokens.Len())
	})
}
