package session

import (
	"context"
	"errors"
	"fmt"
	"time"

	"folio/cmd/security/token"

	"github.com/redis/go-redis/v9"
)

const (
	redisRevokedPrefix = "folio:revoked:"
	redisSessionPrefix = "folio:session:"
)

// RedisRevocationStore keeps revocation entries as keys with a native TTL.
// Expired entries disappear on their own, so Sweep has nothing to do.
type RedisRevocationStore struct {
	rdb    redis.UniversalClient
	hasher token.Hasher
	now    func() time.Time
}

// NewRedisRevocationStore creates a Redis-backed revocation store.
func NewRedisRevocationStore(rdb redis.UniversalClient, hasher token.Hasher) *RedisRevocationStore {
	return &RedisRevocationStore{rdb: rdb, hasher: hasher, now: time.Now}
}

func (s *RedisRevocationStore) key(tok string) string {
	return redisRevokedPrefix + s.hasher.Digest(tok)
}

// Revoke sets the entry with a TTL matching the token's remaining lifetime.
// SETNX keeps the first TTL when the same token is revoked twice.
func (s *RedisRevocationStore) Revoke(ctx context.Context, tok string, expiresAt time.Time) error {
	ttl := expiresAt.Sub(s.now())
	if ttl <= 0 {
		return nil
	}
	// Redis rounds sub-millisecond TTLs down to zero.
	if ttl < time.Millisecond {
		ttl = time.Millisecond
	}
	if err := s.rdb.SetNX(ctx, s.key(tok), expiresAt.UTC().Unix(), ttl).Err(); err != nil {
		return fmt.Errorf("revocations.revoke: %w", err)
	}
	return nil
}

// IsRevoked reports whether the entry key still exists.
func (s *RedisRevocationStore) IsRevoked(ctx context.Context, tok string) (bool, error) {
	n, err := s.rdb.Exists(ctx, s.key(tok)).Result()
	if err != nil {
		return false, fmt.Errorf("revocations.is_revoked: %w", err)
	}
	return n > 0, nil
}

// Sweep is a no-op; Redis expires entries itself.
func (s *RedisRevocationStore) Sweep(context.Context, time.Time) (int64, error) {
	return 0, nil
}

// RedisStore implements SessionStore as one hash per subject.
// The key expires with the refresh token it holds.
type RedisStore struct {
	rdb redis.UniversalClient
	ttl time.Duration
}

// NewRedisStore creates a Redis-backed session store; ttl should equal the refresh token TTL.
func NewRedisStore(rdb redis.UniversalClient, ttl time.Duration) *RedisStore {
	return &RedisStore{rdb: rdb, ttl: ttl}
}

func (s *RedisStore) Put(ctx context.Context, subjectID, refreshToken string, now time.Time) error {
	key := redisSessionPrefix + subjectID

	_, err := s.rdb.TxPipelined(ctx, func(p redis.Pipeliner) error {
		p.HSet(ctx, key, "refresh_token", refreshToken, "updated_at", now.UTC().Format(time.RFC3339Nano))
		if s.ttl > 0 {
			p.Expire(ctx, key, s.ttl)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("sessions.put: %w", err)
	}
	return nil
}

func (s *RedisStore) Get(ctx context.Context, subjectID string) (Row, error) {
	vals, err := s.rdb.HGetAll(ctx, redisSessionPrefix+subjectID).Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		return Row{}, fmt.Errorf("sessions.get: %w", err)
	}
	tok, ok := vals["refresh_token"]
	if !ok {
		return Row{}, ErrSessionNotFound
	}

	row := Row{SubjectID: subjectID, RefreshToken: tok}
	if ts, ok := vals["updated_at"]; ok {
		if t, err := time.Parse(time.RFC3339Nano, ts); err == nil {
			row.UpdatedAt = t
		}
	}
	return row, nil
}

func (s *RedisStore) Delete(ctx context.Context, subjectID string) error {
	if err := s.rdb.Del(ctx, redisSessionPrefix+subjectID).Err(); err != nil {
		return fmt.Errorf("sessions.delete: %w", err)
	}
	return nil
}
