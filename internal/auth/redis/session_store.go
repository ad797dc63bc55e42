// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Grammata Contributors

// Package redis provides the Redis-backed session store. Session
// records live as hashes with store-native expiry, so idle sessions
// vanish without any sweep; a per-user index set supports bulk
// revocation.
package redis

import (
	"context"
	"errors"
	"time"

	"github.com/oklog/ulid/v2"
	goredis "github.com/redis/go-redis/v9"
	"github.com/samber/oops"

	"github.com/grammata/grammata/internal/auth"
)

// Key layout.
const (
	sessionKeyPrefix   = "session:"
	userIndexKeyPrefix = "user-sessions:"
)

// Hash field names.
const (
	fieldUserID      = "user_id"
	fieldEmail       = "email"
	fieldCreatedAt   = "created_at"
	fieldLastRenewed = "last_renewed_at"
)

// renewScript atomically pushes a session's TTL forward and stamps the
// renewal time. HSET alone would resurrect a just-expired key with no
// TTL, so the existence check and both writes happen server-side.
var renewScript = goredis.NewScript(`
if redis.call('PEXPIRE', KEYS[1], ARGV[2]) == 1 then
	redis.call('HSET', KEYS[1], 'last_renewed_at', ARGV[1])
	return 1
end
return 0
`)

// SessionStore implements auth.SessionStore using Redis.
type SessionStore struct {
	client goredis.UniversalClient
}

// NewSessionStore creates a SessionStore over an established client.
func NewSessionStore(client goredis.UniversalClient) *SessionStore {
	return &SessionStore{client: client}
}

// Put stores a session record under the given key with the given TTL,
// replacing any existing record, and indexes it under its user.
func (s *SessionStore) Put(ctx context.Context, key string, record *auth.SessionRecord, ttl time.Duration) error {
	if ttl <= 0 {
		return oops.Code("SESSION_PUT_FAILED").Errorf("ttl must be positive")
	}
	sessionKey := sessionKeyPrefix + key

	pipe := s.client.TxPipeline()
	pipe.HSet(ctx, sessionKey,
		fieldUserID, record.UserID.String(),
		fieldEmail, record.Email,
		fieldCreatedAt, record.CreatedAt.UTC().Format(time.RFC3339Nano),
		fieldLastRenewed, record.LastRenewedAt.UTC().Format(time.RFC3339Nano),
	)
	pipe.PExpire(ctx, sessionKey, ttl)
	pipe.SAdd(ctx, userIndexKeyPrefix+record.UserID.String(), sessionKey)
	if _, err := pipe.Exec(ctx); err != nil {
		return oops.Code("SESSION_PUT_FAILED").
			With("operation", "store session hash").
			Wrap(err)
	}
	return nil
}

// Get retrieves a session record. ExpiresAt is derived from the key's
// remaining TTL. Returns auth.ErrNotFound (wrapped) when the key is
// absent or already expired.
func (s *SessionStore) Get(ctx context.Context, key string) (*auth.SessionRecord, error) {
	sessionKey := sessionKeyPrefix + key

	pipe := s.client.Pipeline()
	fieldsCmd := pipe.HGetAll(ctx, sessionKey)
	ttlCmd := pipe.PTTL(ctx, sessionKey)
	if _, err := pipe.Exec(ctx); err != nil {
		return nil, oops.Code("SESSION_GET_FAILED").
			With("operation", "read session hash").
			Wrap(err)
	}

	fields := fieldsCmd.Val()
	if len(fields) == 0 {
		return nil, oops.Code("SESSION_NOT_FOUND").Wrap(auth.ErrNotFound)
	}

	record, err := recordFromFields(fields)
	if err != nil {
		return nil, err
	}
	if ttl := ttlCmd.Val(); ttl > 0 {
		record.ExpiresAt = time.Now().Add(ttl)
	}
	return record, nil
}

// Renew pushes the key's TTL forward and stamps the renewal time.
// Returns auth.ErrNotFound (wrapped) when the key is absent.
func (s *SessionStore) Renew(ctx context.Context, key string, lastRenewed time.Time, ttl time.Duration) error {
	if ttl <= 0 {
		return oops.Code("SESSION_RENEW_FAILED").Errorf("ttl must be positive")
	}
	sessionKey := sessionKeyPrefix + key

	renewed, err := renewScript.Run(ctx, s.client, []string{sessionKey},
		lastRenewed.UTC().Format(time.RFC3339Nano),
		ttl.Milliseconds(),
	).Int()
	if err != nil {
		return oops.Code("SESSION_RENEW_FAILED").
			With("operation", "run renew script").
			Wrap(err)
	}
	if renewed == 0 {
		return oops.Code("SESSION_NOT_FOUND").Wrap(auth.ErrNotFound)
	}
	return nil
}

// Delete removes a session record and its user-index entry. Returns
// auth.ErrNotFound (wrapped) when the key is absent.
func (s *SessionStore) Delete(ctx context.Context, key string) error {
	sessionKey := sessionKeyPrefix + key

	userID, err := s.client.HGet(ctx, sessionKey, fieldUserID).Result()
	if errors.Is(err, goredis.Nil) {
		return oops.Code("SESSION_NOT_FOUND").Wrap(auth.ErrNotFound)
	}
	if err != nil {
		return oops.Code("SESSION_DELETE_FAILED").
			With("operation", "read session owner").
			Wrap(err)
	}

	pipe := s.client.TxPipeline()
	pipe.Del(ctx, sessionKey)
	pipe.SRem(ctx, userIndexKeyPrefix+userID, sessionKey)
	if _, err := pipe.Exec(ctx); err != nil {
		return oops.Code("SESSION_DELETE_FAILED").
			With("operation", "delete session hash").
			Wrap(err)
	}
	return nil
}

// DeleteByUser removes every session indexed under a user, then the
// index itself. Index entries for already-expired sessions are
// harmless; deleting them is a no-op.
func (s *SessionStore) DeleteByUser(ctx context.Context, userID ulid.ULID) error {
	indexKey := userIndexKeyPrefix + userID.String()

	sessionKeys, err := s.client.SMembers(ctx, indexKey).Result()
	if err != nil {
		return oops.Code("SESSION_DELETE_BY_USER_FAILED").
			With("operation", "read user session index").
			With("user_id", userID.String()).
			Wrap(err)
	}

	pipe := s.client.TxPipeline()
	if len(sessionKeys) > 0 {
		pipe.Del(ctx, sessionKeys...)
	}
	pipe.Del(ctx, indexKey)
	if _, err := pipe.Exec(ctx); err != nil {
		return oops.Code("SESSION_DELETE_BY_USER_FAILED").
			With("operation", "delete user sessions").
			With("user_id", userID.String()).
			Wrap(err)
	}
	return nil
}

// recordFromFields rebuilds a SessionRecord from stored hash fields.
func recordFromFields(fields map[string]string) (*auth.SessionRecord, error) {
	userID, err := ulid.Parse(fields[fieldUserID])
	if err != nil {
		return nil, oops.Code("SESSION_RECORD_CORRUPT").
			With("operation", "parse user id").
			With("user_id", fields[fieldUserID]).
			Wrap(err)
	}

	createdAt, err := time.Parse(time.RFC3339Nano, fields[fieldCreatedAt])
	if err != nil {
		return nil, oops.Code("SESSION_RECORD_CORRUPT").
			With("operation", "parse created_at").
			Wrap(err)
	}

	lastRenewed, err := time.Parse(time.RFC3339Nano, fields[fieldLastRenewed])
	if err != nil {
		return nil, oops.Code("SESSION_RECORD_CORRUPT").
			With("operation", "parse last_renewed_at").
			Wrap(err)
	}

	return &auth.SessionRecord{
		UserID:        userID,
		Email:         fields[fieldEmail],
		CreatedAt:     createdAt,
		LastRenewedAt: lastRenewed,
	}, nil
}

// Compile-time interface check.
var _ auth.SessionStore = (*SessionStore)(nil)
