package session

import (
	"context"
	"testing"
	"time"

	"folio/cmd/security/token"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newMiniRedis(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	return mr, rdb
}

func TestRedisRevocationStore_RevokeAndExpire(t *testing.T) {
	ctx := context.Background()
	mr, rdb := newMiniRedis(t)

	start := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	s := NewRedisRevocationStore(rdb, token.NewHasher([]byte("hmac-key")))
	s.now = func() time.Time { return start }

	require.NoError(t, s.Revoke(ctx, "access-1", start.Add(10*time.Minute)))
	require.NoError(t, s.Revoke(ctx, "access-1", start.Add(10*time.Minute)))

	key := redisRevokedPrefix + token.NewHasher([]byte("hmac-key")).Digest("access-1")
	require.True(t, mr.Exists(key), "entry must be keyed by digest")
	assert.Equal(t, 10*time.Minute, mr.TTL(key))

	revoked, err := s.IsRevoked(ctx, "access-1")
	require.NoError(t, err)
	assert.True(t, revoked)

	revoked, err = s.IsRevoked(ctx, "access-2")
	require.NoError(t, err)
	assert.False(t, revoked)

	mr.FastForward(11 * time.Minute)

	revoked, err = s.IsRevoked(ctx, "access-1")
	require.NoError(t, err)
	assert.False(t, revoked)

	n, err := s.Sweep(ctx, start.Add(time.Hour))
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestRedisRevocationStore_SkipsExpired(t *testing.T) {
	ctx := context.Background()
	mr, rdb := newMiniRedis(t)

	s := NewRedisRevocationStore(rdb, token.Hasher{})
	require.NoError(t, s.Revoke(ctx, "old", time.Now().Add(-time.Minute)))
	assert.Empty(t, mr.Keys())
}

func TestRedisRevocationStore_SurfacesErrors(t *testing.T) {
	ctx := context.Background()
	mr, rdb := newMiniRedis(t)
	mr.Close()

	s := NewRedisRevocationStore(rdb, token.Hasher{})
	require.Error(t, s.Revoke(ctx, "tok", time.Now().Add(time.Minute)))

	_, err := s.IsRevoked(ctx, "tok")
	require.Error(t, err)
}

func TestRedisStore_PutGetDelete(t *testing.T) {
	ctx := context.Background()
	mr, rdb := newMiniRedis(t)

	s := NewRedisStore(rdb, 24*time.Hour)
	now := time.Date(2026, 1, 1, 8, 30, 0, 0, time.UTC)

	_, err := s.Get(ctx, "42")
	require.ErrorIs(t, err, ErrSessionNotFound)

	require.NoError(t, s.Put(ctx, "42", "refresh-1", now))
	require.NoError(t, s.Put(ctx, "42", "refresh-2", now.Add(time.Minute)))

	row, err := s.Get(ctx, "42")
	require.NoError(t, err)
	assert.Equal(t, "42", row.SubjectID)
	assert.Equal(t, "refresh-2", row.RefreshToken)
	assert.True(t, row.UpdatedAt.Equal(now.Add(time.Minute)))
	assert.Equal(t, 24*time.Hour, mr.TTL(redisSessionPrefix+"42"))

	require.NoError(t, s.Delete(ctx, "42"))
	_, err = s.Get(ctx, "42")
	require.ErrorIs(t, err, ErrSessionNotFound)
}
