// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Grammata Contributors

// Package authtest provides in-memory test doubles for the auth
// package's store and notifier interfaces, plus a controllable clock.
package authtest

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/samber/oops"

	"github.com/grammata/grammata/internal/auth"
)

// FakeClock is a Clock whose time only moves when told to.
type FakeClock struct {
	mu  sync.Mutex
	now time.Time
}

// NewFakeClock creates a FakeClock frozen at the given instant.
func NewFakeClock(now time.Time) *FakeClock {
	return &FakeClock{now: now}
}

// Now returns the frozen instant.
func (c *FakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

// Advance moves the clock forward.
func (c *FakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// MemoryUserStore is an auth.UserStore backed by maps.
type MemoryUserStore struct {
	mu      sync.Mutex
	byID    map[ulid.ULID]*auth.User
	byEmail map[string]*auth.User

	// ForcedErr, when set, is returned by every method.
	ForcedErr error
}

// NewMemoryUserStore creates an empty MemoryUserStore.
func NewMemoryUserStore() *MemoryUserStore {
	return &MemoryUserStore{
		byID:    make(map[ulid.ULID]*auth.User),
		byEmail: make(map[string]*auth.User),
	}
}

// Create implements auth.UserStore.
func (s *MemoryUserStore) Create(_ context.Context, user *auth.User) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ForcedErr != nil {
		return s.ForcedErr
	}
	if _, ok := s.byEmail[strings.ToLower(user.Email)]; ok {
		return oops.Code("USER_DUPLICATE_EMAIL").Wrap(auth.ErrDuplicateEmail)
	}
	clone := *user
	s.byID[user.ID] = &clone
	s.byEmail[strings.ToLower(user.Email)] = &clone
	return nil
}

// GetByEmail implements auth.UserStore.
func (s *MemoryUserStore) GetByEmail(_ context.Context, email string) (*auth.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ForcedErr != nil {
		return nil, s.ForcedErr
	}
	user, ok := s.byEmail[strings.ToLower(email)]
	if !ok {
		return nil, oops.Code("USER_NOT_FOUND").Wrap(auth.ErrNotFound)
	}
	clone := *user
	return &clone, nil
}

// GetByID implements auth.UserStore.
func (s *MemoryUserStore) GetByID(_ context.Context, id ulid.ULID) (*auth.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ForcedErr != nil {
		return nil, s.ForcedErr
	}
	user, ok := s.byID[id]
	if !ok {
		return nil, oops.Code("USER_NOT_FOUND").Wrap(auth.ErrNotFound)
	}
	clone := *user
	return &clone, nil
}

// UpdatePassword implements auth.UserStore.
func (s *MemoryUserStore) UpdatePassword(_ context.Context, id ulid.ULID, passwordHash string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ForcedErr != nil {
		return s.ForcedErr
	}
	user, ok := s.byID[id]
	if !ok {
		return oops.Code("USER_NOT_FOUND").Wrap(auth.ErrNotFound)
	}
	user.PasswordHash = passwordHash
	return nil
}

// IncrementFailures implements auth.UserStore.
func (s *MemoryUserStore) IncrementFailures(_ context.Context, id ulid.ULID) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ForcedErr != nil {
		return 0, s.ForcedErr
	}
	user, ok := s.byID[id]
	if !ok {
		return 0, oops.Code("USER_NOT_FOUND").Wrap(auth.ErrNotFound)
	}
	user.FailedAttempts++
	return user.FailedAttempts, nil
}

// SetLockoutExpiry implements auth.UserStore.
func (s *MemoryUserStore) SetLockoutExpiry(_ context.Context, id ulid.ULID, expiry time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ForcedErr != nil {
		return s.ForcedErr
	}
	user, ok := s.byID[id]
	if !ok {
		return oops.Code("USER_NOT_FOUND").Wrap(auth.ErrNotFound)
	}
	user.LockoutExpiry = &expiry
	return nil
}

// ResetFailureState implements auth.UserStore.
func (s *MemoryUserStore) ResetFailureState(_ context.Context, id ulid.ULID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ForcedErr != nil {
		return s.ForcedErr
	}
	user, ok := s.byID[id]
	if !ok {
		return oops.Code("USER_NOT_FOUND").Wrap(auth.ErrNotFound)
	}
	user.FailedAttempts = 0
	user.LockoutExpiry = nil
	return nil
}

// Get returns the stored user for direct state assertions.
func (s *MemoryUserStore) Get(id ulid.ULID) *auth.User {
	s.mu.Lock()
	defer s.mu.Unlock()
	user, ok := s.byID[id]
	if !ok {
		return nil
	}
	clone := *user
	return &clone
}

type sessionEntry struct {
	record    auth.SessionRecord
	expiresAt time.Time
}

// MemorySessionStore is an auth.SessionStore backed by a map. Expiry is
// evaluated against the provided clock, so advancing a FakeClock makes
// idle sessions vanish the way a TTL store's would. An entry is still
// readable at its exact expiry instant; the caller's own checks must
// hold at the boundary.
type MemorySessionStore struct {
	mu       sync.Mutex
	clock    auth.Clock
	sessions map[string]sessionEntry
}

// NewMemorySessionStore creates an empty store bound to a clock.
func NewMemorySessionStore(clock auth.Clock) *MemorySessionStore {
	return &MemorySessionStore{
		clock:    clock,
		sessions: make(map[string]sessionEntry),
	}
}

// Put implements auth.SessionStore.
func (s *MemorySessionStore) Put(_ context.Context, key string, record *auth.SessionRecord, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sessions[key] = sessionEntry{
		record:    *record,
		expiresAt: s.clock.Now().Add(ttl),
	}
	return nil
}

// Get implements auth.SessionStore.
func (s *MemorySessionStore) Get(_ context.Context, key string) (*auth.SessionRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	entry, ok := s.sessions[key]
	if !ok || s.clock.Now().After(entry.expiresAt) {
		delete(s.sessions, key)
		return nil, oops.Code("SESSION_NOT_FOUND").Wrap(auth.ErrNotFound)
	}
	record := entry.record
	record.ExpiresAt = entry.expiresAt
	return &record, nil
}

// Renew implements auth.SessionStore.
func (s *MemorySessionStore) Renew(_ context.Context, key string, lastRenewed time.Time, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	entry, ok := s.sessions[key]
	if !ok || s.clock.Now().After(entry.expiresAt) {
		delete(s.sessions, key)
		return oops.Code("SESSION_NOT_FOUND").Wrap(auth.ErrNotFound)
	}
	entry.record.LastRenewedAt = lastRenewed
	entry.expiresAt = s.clock.Now().Add(ttl)
	s.sessions[key] = entry
	return nil
}

// Delete implements auth.SessionStore.
func (s *MemorySessionStore) Delete(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.sessions[key]; !ok {
		return oops.Code("SESSION_NOT_FOUND").Wrap(auth.ErrNotFound)
	}
	delete(s.sessions, key)
	return nil
}

// DeleteByUser implements auth.SessionStore.
func (s *MemorySessionStore) DeleteByUser(_ context.Context, userID ulid.ULID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for key, entry := range s.sessions {
		if entry.record.UserID.Compare(userID) == 0 {
			delete(s.sessions, key)
		}
	}
	return nil
}

// Len returns the number of live entries without expiry evaluation.
func (s *MemorySessionStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.sessions)
}

// ExpiresAt returns the stored expiry for a key, for assertions on the
// renewal cap.
func (s *MemorySessionStore) ExpiresAt(key string) (time.Time, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	entry, ok := s.sessions[key]
	return entry.expiresAt, ok
}

// MemoryTokenStore is an auth.TokenStore backed by maps.
type MemoryTokenStore struct {
	mu     sync.Mutex
	byHash map[string]*auth.ResetToken
}

// NewMemoryTokenStore creates an empty MemoryTokenStore.
func NewMemoryTokenStore() *MemoryTokenStore {
	return &MemoryTokenStore{byHash: make(map[string]*auth.ResetToken)}
}

// Create implements auth.TokenStore.
func (s *MemoryTokenStore) Create(_ context.Context, token *auth.ResetToken) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	clone := *token
	s.byHash[token.TokenHash] = &clone
	return nil
}

// GetByTokenHash implements auth.TokenStore.
func (s *MemoryTokenStore) GetByTokenHash(_ context.Context, tokenHash string) (*auth.ResetToken, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	token, ok := s.byHash[tokenHash]
	if !ok {
		return nil, oops.Code("RESET_TOKEN_NOT_FOUND").Wrap(auth.ErrNotFound)
	}
	clone := *token
	return &clone, nil
}

// Delete implements auth.TokenStore.
func (s *MemoryTokenStore) Delete(_ context.Context, id ulid.ULID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for hash, token := range s.byHash {
		if token.ID.Compare(id) == 0 {
			delete(s.byHash, hash)
			return nil
		}
	}
	return oops.Code("RESET_TOKEN_NOT_FOUND").Wrap(auth.ErrNotFound)
}

// DeleteByUser implements auth.TokenStore.
func (s *MemoryTokenStore) DeleteByUser(_ context.Context, userID ulid.ULID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for hash, token := range s.byHash {
		if token.UserID.Compare(userID) == 0 {
			delete(s.byHash, hash)
		}
	}
	return nil
}

// DeleteExpired implements auth.TokenStore.
func (s *MemoryTokenStore) DeleteExpired(_ context.Context, before time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var removed int64
	for hash, token := range s.byHash {
		if token.ExpiresAt.Before(before) {
			delete(s.byHash, hash)
			removed++
		}
	}
	return removed, nil
}

// Len returns the number of stored tokens.
func (s *MemoryTokenStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.byHash)
}

// SentReset is one captured reset notification.
type SentReset struct {
	Email string
	Token string
}

// RecordingNotifier captures reset notifications instead of sending.
type RecordingNotifier struct {
	mu   sync.Mutex
	sent []SentReset

	// ForcedErr, when set, is returned by SendPasswordResetLink.
	ForcedErr error
}

// SendPasswordResetLink implements auth.Notifier.
func (n *RecordingNotifier) SendPasswordResetLink(_ context.Context, email, token string) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.ForcedErr != nil {
		return n.ForcedErr
	}
	n.sent = append(n.sent, SentReset{Email: email, Token: token})
	return nil
}

// Sent returns the captured notifications.
func (n *RecordingNotifier) Sent() []SentReset {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]SentReset(nil), n.sent...)
}

// Verify interfaces are satisfied.
var (
	_ auth.Clock        = (*FakeClock)(nil)
	_ auth.UserStore    = (*MemoryUserStore)(nil)
	_ auth.SessionStore = (*MemorySessionStore)(nil)
	_ auth.TokenStore   = (*MemoryTokenStore)(nil)
	_ auth.Notifier     = (*RecordingNotifier)(nil)
)
