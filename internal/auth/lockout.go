// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Grammata Contributors

package auth

import (
	"context"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/samber/oops"
)

// Default progressive-lockout configuration.
const (
	// DefaultLockoutThreshold is the failure count that triggers a lockout.
	DefaultLockoutThreshold = 5

	// DefaultLockoutDuration is how long a triggered lockout lasts.
	DefaultLockoutDuration = 15 * time.Minute
)

// LockoutPolicy decides, from a user's durable failure history, whether
// login may proceed, and advances that history. The counter increment
// goes through UserStore.IncrementFailures so concurrent failures
// against the same user never under-count; the lock decision is derived
// from the post-increment value.
type LockoutPolicy struct {
	users     UserStore
	clock     Clock
	threshold int
	duration  time.Duration
}

// NewLockoutPolicy creates a LockoutPolicy. A threshold of 0 or a
// non-positive duration falls back to the defaults.
func NewLockoutPolicy(users UserStore, clock Clock, threshold int, duration time.Duration) (*LockoutPolicy, error) {
	if users == nil {
		return nil, oops.Code("AUTH_NIL_DEPENDENCY").Errorf("user store is required")
	}
	if clock == nil {
		return nil, oops.Code("AUTH_NIL_DEPENDENCY").Errorf("clock is required")
	}
	if threshold <= 0 {
		threshold = DefaultLockoutThreshold
	}
	if duration <= 0 {
		duration = DefaultLockoutDuration
	}
	return &LockoutPolicy{
		users:     users,
		clock:     clock,
		threshold: threshold,
		duration:  duration,
	}, nil
}

// Threshold returns the configured failure threshold.
func (p *LockoutPolicy) Threshold() int { return p.threshold }

// Duration returns the configured lockout duration.
func (p *LockoutPolicy) Duration() time.Duration { return p.duration }

// IsLocked reports whether the user's lockout window is open. An
// expired window is observed lazily here; the stored state transitions
// to OK only on the next successful validation.
func (p *LockoutPolicy) IsLocked(user *User) bool {
	return user.IsLockedAt(p.clock.Now())
}

// RecordFailure atomically advances the failure counter and, when the
// post-increment count reaches the threshold, opens a lockout window.
// Returns true when this failure triggered (or re-triggered) a lockout.
func (p *LockoutPolicy) RecordFailure(ctx context.Context, userID ulid.ULID) (bool, error) {
	count, err := p.users.IncrementFailures(ctx, userID)
	if err != nil {
		return false, oops.Code("LOCKOUT_RECORD_FAILED").
			With("operation", "increment failures").
			With("user_id", userID.String()).
			Wrap(err)
	}

	if count < p.threshold {
		return false, nil
	}

	until := p.clock.Now().Add(p.duration)
	if err := p.users.SetLockoutExpiry(ctx, userID, until); err != nil {
		return false, oops.Code("LOCKOUT_RECORD_FAILED").
			With("operation", "set lockout expiry").
			With("user_id", userID.String()).
			Wrap(err)
	}
	return true, nil
}

// Clear resets the failure counter to zero and removes any lockout.
// Called after a successful validation, including one that follows an
// expired lock.
func (p *LockoutPolicy) Clear(ctx context.Context, userID ulid.ULID) error {
	if err := p.users.ResetFailureState(ctx, userID); err != nil {
		return oops.Code("LOCKOUT_CLEAR_FAILED").
			With("user_id", userID.String()).
			Wrap(err)
	}
	return nil
}
