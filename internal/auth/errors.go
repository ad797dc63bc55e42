// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Grammata Contributors

package auth

import "errors"

// Terminal, user-facing outcomes. Services wrap these in oops errors
// carrying a machine-readable code; callers branch with errors.Is.
// Infrastructure failures (store unreachable, scan errors) are wrapped
// separately and never chain to any of these sentinels, so a store
// outage can never surface as a credential decision.
var (
	// ErrNotFound is returned by stores when a requested record does not exist.
	ErrNotFound = errors.New("not found")

	// ErrInvalidCredentials covers both "no such user" and "wrong password".
	// The two cases are deliberately indistinguishable to the caller.
	ErrInvalidCredentials = errors.New("invalid email or password")

	// ErrAccountLocked signals a lockout window that has not yet expired.
	ErrAccountLocked = errors.New("account is temporarily locked")

	// ErrDuplicateEmail signals a registration against an existing email.
	ErrDuplicateEmail = errors.New("email is already registered")

	// ErrUserNotFound signals a reset request for an unknown email.
	ErrUserNotFound = errors.New("user not found")

	// ErrSessionNotFound signals an absent or idle-expired session.
	ErrSessionNotFound = errors.New("session not found")

	// ErrSessionExpired signals an absolute-ceiling breach. Distinct from
	// ErrSessionNotFound so the boundary can tell the client explicitly.
	ErrSessionExpired = errors.New("session has exceeded its maximum duration")

	// ErrTokenInvalid covers absent, expired and already-redeemed reset tokens.
	ErrTokenInvalid = errors.New("invalid or expired password reset token")
)
