// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Grammata Contributors

package auth

import (
	"context"
	"errors"
	"log/slog"

	"github.com/samber/oops"

	"github.com/grammata/grammata/pkg/errutil"
)

// CredentialSource is a pluggable credential-checking mechanism.
// Password checking is the only mechanism today; modeling it as a
// capability lets additional mechanisms plug in without touching
// CredentialValidator.
type CredentialSource interface {
	// Mint produces a stored credential from a plaintext secret.
	Mint(ctx context.Context, secret string) (string, error)

	// Verify checks a submitted secret against a stored credential.
	// Returns (true, nil) on match, (false, nil) on mismatch, or an
	// error when the stored credential is unreadable.
	Verify(ctx context.Context, storedCredential, secret string) (bool, error)

	// Decoy returns a well-formed stored credential that can never
	// match any secret. Verification against it burns the same work as
	// a real check, keeping response timing flat when no user matched.
	Decoy() string

	// Refresh returns a replacement stored credential when the current
	// one uses an outdated scheme. ok is false when no upgrade is due.
	Refresh(ctx context.Context, secret, storedCredential string) (replacement string, ok bool)
}

// decoyPasswordHash is a syntactically valid argon2id hash that matches
// no password. Not a credential.
//
//nolint:gosec // G101: intentionally unmatched decoy for timing flatness.
const decoyPasswordHash = "$argon2id$v=19$m=65536,t=1,p=4$AAAAAAAAAAAAAAAAAAAAAA$AAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAA"

// PasswordSource implements CredentialSource on top of a PasswordHasher.
type PasswordSource struct {
	hasher PasswordHasher
}

// NewPasswordSource creates a PasswordSource.
func NewPasswordSource(hasher PasswordHasher) (*PasswordSource, error) {
	if hasher == nil {
		return nil, oops.Code("AUTH_NIL_DEPENDENCY").Errorf("password hasher is required")
	}
	return &PasswordSource{hasher: hasher}, nil
}

// Mint hashes a plaintext password for storage.
func (s *PasswordSource) Mint(_ context.Context, secret string) (string, error) {
	return s.hasher.Hash(secret)
}

// Verify checks a password against a stored hash.
func (s *PasswordSource) Verify(_ context.Context, storedCredential, secret string) (bool, error) {
	return s.hasher.Verify(secret, storedCredential)
}

// Decoy returns the unmatched decoy hash.
func (s *PasswordSource) Decoy() string { return decoyPasswordHash }

// Refresh re-hashes the password when the stored hash scheme is
// outdated (legacy bcrypt records upgrade to argon2id on next login).
func (s *PasswordSource) Refresh(_ context.Context, secret, storedCredential string) (string, bool) {
	if !s.hasher.NeedsUpgrade(storedCredential) {
		return "", false
	}
	replacement, err := s.hasher.Hash(secret)
	if err != nil {
		return "", false
	}
	return replacement, true
}

// Compile-time interface check.
var _ CredentialSource = (*PasswordSource)(nil)

// CredentialValidator checks submitted credentials against the user
// store, gated by the lockout policy.
type CredentialValidator struct {
	users   UserStore
	source  CredentialSource
	lockout *LockoutPolicy
	logger  *slog.Logger
}

// NewCredentialValidator creates a CredentialValidator logging through
// slog.Default().
func NewCredentialValidator(users UserStore, source CredentialSource, lockout *LockoutPolicy) (*CredentialValidator, error) {
	return NewCredentialValidatorWithLogger(users, source, lockout, slog.Default())
}

// NewCredentialValidatorWithLogger creates a CredentialValidator with an
// explicit logger.
func NewCredentialValidatorWithLogger(users UserStore, source CredentialSource, lockout *LockoutPolicy, logger *slog.Logger) (*CredentialValidator, error) {
	if users == nil {
		return nil, oops.Code("AUTH_NIL_DEPENDENCY").Errorf("user store is required")
	}
	if source == nil {
		return nil, oops.Code("AUTH_NIL_DEPENDENCY").Errorf("credential source is required")
	}
	if lockout == nil {
		return nil, oops.Code("AUTH_NIL_DEPENDENCY").Errorf("lockout policy is required")
	}
	if logger == nil {
		return nil, oops.Code("AUTH_NIL_DEPENDENCY").Errorf("logger is required")
	}
	return &CredentialValidator{
		users:   users,
		source:  source,
		lockout: lockout,
		logger:  logger,
	}, nil
}

// Register creates a new user from an email and plaintext password.
// Fails with ErrDuplicateEmail (wrapped) when the email is taken.
// Password-strength policy is enforced upstream.
func (v *CredentialValidator) Register(ctx context.Context, email, password string) (Identity, error) {
	credential, err := v.source.Mint(ctx, password)
	if err != nil {
		return Identity{}, oops.Code("AUTH_REGISTER_FAILED").
			With("operation", "mint credential").
			Wrap(err)
	}

	user, err := NewUser(email, credential, v.lockout.clock.Now())
	if err != nil {
		return Identity{}, err
	}

	if err := v.users.Create(ctx, user); err != nil {
		if errors.Is(err, ErrDuplicateEmail) {
			return Identity{}, oops.Code("AUTH_DUPLICATE_EMAIL").
				With("email", user.Email).
				Wrap(ErrDuplicateEmail)
		}
		return Identity{}, oops.Code("AUTH_REGISTER_FAILED").
			With("operation", "create user").
			Wrap(err)
	}

	return IdentityFromUser(user), nil
}

// Validate checks submitted credentials and returns the sanitized
// identity on success.
//
// Failure ordering, per the account-lockout design:
//  1. unknown email -> verify against a decoy credential (flat timing),
//     then ErrInvalidCredentials - identical to the wrong-password
//     outcome, so errors cannot enumerate accounts
//  2. open lockout window -> ErrAccountLocked, checked before the hash
//     comparison so a locked account costs no hash work
//  3. wrong password -> failure recorded atomically; the failure that
//     reaches the threshold reports ErrAccountLocked, earlier ones
//     ErrInvalidCredentials
//
// A success after an expired lockout clears the failure counter, not
// merely bypasses the lock.
func (v *CredentialValidator) Validate(ctx context.Context, email, password string) (Identity, error) {
	normalized, err := NormalizeEmail(email)
	if err != nil {
		// Malformed emails take the same path as unknown ones.
		return v.failUnknown(ctx, password)
	}

	user, err := v.users.GetByEmail(ctx, normalized)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return v.failUnknown(ctx, password)
		}
		return Identity{}, oops.Code("AUTH_LOOKUP_FAILED").
			With("operation", "get user by email").
			Wrap(err)
	}

	if v.lockout.IsLocked(user) {
		RecordLoginAttempt(LoginStatusLocked)
		return Identity{}, oops.Code("AUTH_ACCOUNT_LOCKED").
			With("locked_until", user.LockoutExpiry).
			Wrap(ErrAccountLocked)
	}

	ok, err := v.source.Verify(ctx, user.PasswordHash, password)
	if err != nil {
		return Identity{}, oops.Code("AUTH_VALIDATE_FAILED").
			With("operation", "verify credential").
			Wrap(err)
	}
	if !ok {
		locked, recErr := v.lockout.RecordFailure(ctx, user.ID)
		if recErr != nil {
			// The attempt still fails closed; surface the store problem
			// instead of a credential decision.
			return Identity{}, recErr
		}
		if locked {
			RecordLockout()
			RecordLoginAttempt(LoginStatusLocked)
			return Identity{}, oops.Code("AUTH_ACCOUNT_LOCKED").Wrap(ErrAccountLocked)
		}
		RecordLoginAttempt(LoginStatusFailure)
		return Identity{}, oops.Code("AUTH_INVALID_CREDENTIALS").Wrap(ErrInvalidCredentials)
	}

	// Success against an expired lock resets the counter to zero.
	if user.FailedAttempts > 0 || user.LockoutExpiry != nil {
		if err := v.lockout.Clear(ctx, user.ID); err != nil {
			return Identity{}, err
		}
	}

	if replacement, due := v.source.Refresh(ctx, password, user.PasswordHash); due {
		// Best effort: login succeeds even when the upgrade write fails.
		if err := v.users.UpdatePassword(ctx, user.ID, replacement); err != nil {
			errutil.LogError(v.logger, "credential upgrade failed", err)
		}
	}

	RecordLoginAttempt(LoginStatusSuccess)
	return IdentityFromUser(user), nil
}

// failUnknown burns a decoy verification so the unknown-email path
// costs the same as a wrong-password one, then fails generically.
func (v *CredentialValidator) failUnknown(ctx context.Context, password string) (Identity, error) {
	if _, err := v.source.Verify(ctx, v.source.Decoy(), password); err != nil {
		errutil.LogError(v.logger, "decoy verification failed", err)
	}
	RecordLoginAttempt(LoginStatusFailure)
	return Identity{}, oops.Code("AUTH_INVALID_CREDENTIALS").Wrap(ErrInvalidCredentials)
}
