// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Grammata Contributors

package auth

import (
	"github.com/oklog/ulid/v2"
	"github.com/samber/oops"
)

// Identity is the sanitized authenticated principal propagated into
// sessions and up to the HTTP boundary. It carries no password hash and
// no failure counters.
type Identity struct {
	UserID ulid.ULID
	Email  string
}

// IdentityFromUser sanitizes a user record into an Identity.
func IdentityFromUser(u *User) Identity {
	return Identity{UserID: u.ID, Email: u.Email}
}

// Identity rebuilds the authenticated identity from a stored session
// record. Fails when the record is corrupt rather than handing back a
// zero identity.
func (r *SessionRecord) Identity() (Identity, error) {
	if r.UserID.Compare(ulid.ULID{}) == 0 {
		return Identity{}, oops.Code("SESSION_RECORD_CORRUPT").Errorf("session record has no user id")
	}
	return Identity{UserID: r.UserID, Email: r.Email}, nil
}
