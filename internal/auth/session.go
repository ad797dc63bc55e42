// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Grammata Contributors

package auth

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"errors"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/samber/oops"
)

// Session token configuration.
const (
	// SessionTokenBytes is the entropy of a session token (64 hex chars).
	SessionTokenBytes = 32

	// DefaultSessionIdleTTL is the rolling window pushed forward on each
	// authenticated request.
	DefaultSessionIdleTTL = 30 * time.Minute

	// DefaultSessionMaxDuration is the absolute ceiling no renewal may
	// push a session past.
	DefaultSessionMaxDuration = 12 * time.Hour
)

// SessionRecord is the ephemeral state stored per session, keyed in the
// store by the SHA-256 hash of the opaque session token. ExpiresAt is
// derived from the store's native TTL and populated on Get; it is never
// authoritative on write.
type SessionRecord struct {
	UserID        ulid.ULID
	Email         string
	CreatedAt     time.Time
	LastRenewedAt time.Time
	ExpiresAt     time.Time
}

// NewSessionRecord maps an authenticated Identity into a storable
// session record.
func NewSessionRecord(identity Identity, now time.Time) (*SessionRecord, error) {
	if identity.UserID.Compare(ulid.ULID{}) == 0 {
		return nil, oops.Code("SESSION_INVALID_IDENTITY").Errorf("identity has no user id")
	}
	return &SessionRecord{
		UserID:        identity.UserID,
		Email:         identity.Email,
		CreatedAt:     now,
		LastRenewedAt: now,
	}, nil
}

// GenerateSessionToken creates a cryptographically random session token
// and the SHA-256 hash under which it is stored. The plaintext token
// goes to the client; only the hash ever reaches the store.
func GenerateSessionToken() (token, hash string, err error) {
	raw := make([]byte, SessionTokenBytes)
	if _, err = rand.Read(raw); err != nil {
		return "", "", oops.Code("SESSION_TOKEN_GENERATE_FAILED").
			With("operation", "crypto/rand.Read").
			Wrap(err)
	}
	token = hex.EncodeToString(raw)
	return token, HashSessionToken(token), nil
}

// HashSessionToken computes the storage key for a session token.
func HashSessionToken(token string) string {
	sum := sha256.Sum256([]byte(token))
	return hex.EncodeToString(sum[:])
}

// VerifySessionToken checks a plaintext token against a stored hash in
// constant time.
func VerifySessionToken(token, hash string) bool {
	if token == "" || hash == "" {
		return false
	}
	computed := HashSessionToken(token)
	return subtle.ConstantTimeCompare([]byte(computed), []byte(hash)) == 1
}

// SessionStore is a key-value store of session records with per-key
// expiry. Keys absent after their TTL elapses without any explicit
// Delete call.
type SessionStore interface {
	// Put stores a record under the given key with the given TTL,
	// replacing any existing record.
	Put(ctx context.Context, key string, record *SessionRecord, ttl time.Duration) error

	// Get retrieves a record, with ExpiresAt derived from the remaining
	// TTL. Returns ErrNotFound (wrapped) when absent or expired.
	Get(ctx context.Context, key string) (*SessionRecord, error)

	// Renew pushes the key's TTL forward and stamps the renewal time.
	// Returns ErrNotFound (wrapped) when the key is absent.
	Renew(ctx context.Context, key string, lastRenewed time.Time, ttl time.Duration) error

	// Delete removes a record. Returns ErrNotFound (wrapped) when absent.
	Delete(ctx context.Context, key string) error

	// DeleteByUser removes every session belonging to a user.
	DeleteByUser(ctx context.Context, userID ulid.ULID) error
}

// SessionManager creates, renews, expires and destroys sessions. Each
// renewal pushes the idle TTL forward but never past
// CreatedAt + maxDuration; a session past that ceiling is terminated
// explicitly so the caller can distinguish it from silent idle expiry.
type SessionManager struct {
	store       SessionStore
	clock       Clock
	idleTTL     time.Duration
	maxDuration time.Duration
}

// NewSessionManager creates a SessionManager. Non-positive durations
// fall back to the defaults; the idle TTL is capped at the absolute
// maximum duration.
func NewSessionManager(store SessionStore, clock Clock, idleTTL, maxDuration time.Duration) (*SessionManager, error) {
	if store == nil {
		return nil, oops.Code("AUTH_NIL_DEPENDENCY").Errorf("session store is required")
	}
	if clock == nil {
		return nil, oops.Code("AUTH_NIL_DEPENDENCY").Errorf("clock is required")
	}
	if idleTTL <= 0 {
		idleTTL = DefaultSessionIdleTTL
	}
	if maxDuration <= 0 {
		maxDuration = DefaultSessionMaxDuration
	}
	if idleTTL > maxDuration {
		idleTTL = maxDuration
	}
	return &SessionManager{
		store:       store,
		clock:       clock,
		idleTTL:     idleTTL,
		maxDuration: maxDuration,
	}, nil
}

// IdleTTL returns the configured rolling window.
func (m *SessionManager) IdleTTL() time.Duration { return m.idleTTL }

// MaxDuration returns the configured absolute ceiling.
func (m *SessionManager) MaxDuration() time.Duration { return m.maxDuration }

// Create mints a new session for an authenticated identity and returns
// the opaque session token. presentedToken is whatever session token
// the client held before authenticating; it is destroyed first, so an
// identity never continues under an identifier that predates the
// authentication (fixation prevention).
func (m *SessionManager) Create(ctx context.Context, identity Identity, presentedToken string) (string, error) {
	if presentedToken != "" {
		if err := m.Destroy(ctx, presentedToken); err != nil {
			return "", oops.Code("SESSION_CREATE_FAILED").
				With("operation", "destroy presented session").
				Wrap(err)
		}
	}

	token, key, err := GenerateSessionToken()
	if err != nil {
		return "", err
	}

	now := m.clock.Now()
	record, err := NewSessionRecord(identity, now)
	if err != nil {
		return "", err
	}

	if err := m.store.Put(ctx, key, record, m.idleTTL); err != nil {
		return "", oops.Code("SESSION_CREATE_FAILED").
			With("operation", "persist session").
			With("user_id", identity.UserID.String()).
			Wrap(err)
	}

	RecordSessionCreated()
	return token, nil
}

// Touch validates a presented session token, applies the renewal and
// expiry rules, and returns the authenticated identity.
//
// Absent or idle-expired sessions fail with ErrSessionNotFound. A
// session past its absolute ceiling is deleted first and then fails
// with ErrSessionExpired, so it is unrecoverable afterward. The
// read-then-write renewal tolerates benign races: the worst case is an
// idle window pushed forward twice.
func (m *SessionManager) Touch(ctx context.Context, token string) (Identity, error) {
	if token == "" {
		return Identity{}, oops.Code("SESSION_NOT_FOUND").Wrap(ErrSessionNotFound)
	}
	key := HashSessionToken(token)

	record, err := m.store.Get(ctx, key)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return Identity{}, oops.Code("SESSION_NOT_FOUND").Wrap(ErrSessionNotFound)
		}
		return Identity{}, oops.Code("SESSION_TOUCH_FAILED").
			With("operation", "get session").
			Wrap(err)
	}

	now := m.clock.Now()
	ceiling := record.CreatedAt.Add(m.maxDuration)
	if !now.Before(ceiling) {
		if err := m.store.Delete(ctx, key); err != nil && !errors.Is(err, ErrNotFound) {
			return Identity{}, oops.Code("SESSION_TERMINATE_FAILED").
				With("operation", "delete session past ceiling").
				Wrap(err)
		}
		RecordSessionDestroyed()
		return Identity{}, oops.Code("SESSION_EXPIRED").
			With("created_at", record.CreatedAt).
			Wrap(ErrSessionExpired)
	}

	identity, err := record.Identity()
	if err != nil {
		return Identity{}, err
	}

	// Roll the idle window forward, capped at the absolute ceiling.
	ttl := m.idleTTL
	if remaining := ceiling.Sub(now); ttl > remaining {
		ttl = remaining
	}
	if err := m.store.Renew(ctx, key, now, ttl); err != nil {
		if errors.Is(err, ErrNotFound) {
			return Identity{}, oops.Code("SESSION_NOT_FOUND").Wrap(ErrSessionNotFound)
		}
		return Identity{}, oops.Code("SESSION_TOUCH_FAILED").
			With("operation", "renew session").
			Wrap(err)
	}

	return identity, nil
}

// Destroy removes a session. Destroying an absent session is not an
// error.
func (m *SessionManager) Destroy(ctx context.Context, token string) error {
	if token == "" {
		return nil
	}
	err := m.store.Delete(ctx, HashSessionToken(token))
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil
		}
		return oops.Code("SESSION_DESTROY_FAILED").Wrap(err)
	}
	RecordSessionDestroyed()
	return nil
}

// DestroyAllForUser removes every live session for a user. Used after a
// password reset and on privilege changes.
func (m *SessionManager) DestroyAllForUser(ctx context.Context, userID ulid.ULID) error {
	if err := m.store.DeleteByUser(ctx, userID); err != nil {
		return oops.Code("SESSION_DESTROY_BY_USER_FAILED").
			With("user_id", userID.String()).
			Wrap(err)
	}
	return nil
}
