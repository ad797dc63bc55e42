// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Grammata Contributors

package auth

import "time"

// Clock supplies the current time. Injecting it keeps every time-based
// invariant (lockout windows, session ceilings, token expiry)
// deterministic under test.
type Clock interface {
	Now() time.Time
}

// SystemClock is the production Clock backed by time.Now.
type SystemClock struct{}

// Now returns the current wall-clock time.
func (SystemClock) Now() time.Time { return time.Now() }
