package identity

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"folio/cmd/internal/auth/session"
	"folio/cmd/security/password"
	"folio/cmd/security/token"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
)

func cheapPasswords() password.Config {
	cfg := password.DefaultConfig()
	cfg.Params.MemoryKiB = 8 * 1024
	cfg.Params.Iterations = 1
	cfg.Params.Parallelism = 1
	return cfg
}

func newTestDirectory(t *testing.T) (*Directory, *MemoryStore) {
	t.Helper()
	store := NewMemoryStore()
	dir, err := NewDirectory(store, cheapPasswords(), slog.New(slog.NewTextHandler(io.Discard, nil)))
	require.NoError(t, err)
	return dir, store
}

func TestDirectory_RegisterAndFind(t *testing.T) {
	ctx := context.Background()
	dir, _ := newTestDirectory(t)

	u, err := dir.Register(ctx, "  Ada@Example.COM ", "a long shelf of novels", "")
	require.NoError(t, err)
	assert.Equal(t, "ada@example.com", u.Email)
	assert.Equal(t, RoleReader, u.Role)
	assert.Len(t, u.ID, 26)

	p, err := dir.FindByEmail(ctx, "ADA@example.com")
	require.NoError(t, err)
	assert.Equal(t, u.ID, p.ID)
	assert.Equal(t, RoleReader, p.Role)

	p2, err := dir.FindByID(ctx, u.ID)
	require.NoError(t, err)
	assert.Equal(t, p, p2)

	_, err = dir.Register(ctx, "ada@example.com", "another long password", "")
	require.True(t, IsConflict(err))
}

func TestDirectory_UnknownPrincipal(t *testing.T) {
	ctx := context.Background()
	dir, _ := newTestDirectory(t)

	_, err := dir.FindByEmail(ctx, "ghost@example.com")
	require.ErrorIs(t, err, session.ErrPrincipalNotFound)

	_, err = dir.FindByEmail(ctx, "")
	require.ErrorIs(t, err, session.ErrPrincipalNotFound)

	_, err = dir.FindByID(ctx, "01HZZZZZZZZZZZZZZZZZZZZZZZ")
	require.ErrorIs(t, err, session.ErrPrincipalNotFound)
}

func TestDirectory_VerifyPassword(t *testing.T) {
	ctx := context.Background()
	dir, _ := newTestDirectory(t)

	_, err := dir.Register(ctx, "reader@example.com", "a long shelf of novels", RoleReader)
	require.NoError(t, err)
	p, err := dir.FindByEmail(ctx, "reader@example.com")
	require.NoError(t, err)

	ok, err := dir.VerifyPassword(ctx, p, "a long shelf of novels")
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = dir.VerifyPassword(ctx, p, "a short shelf")
	require.NoError(t, err)
	assert.False(t, ok)

	p.PasswordHash = "garbage"
	ok, err = dir.VerifyPassword(ctx, p, "a long shelf of novels")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestDirectory_UpgradesLegacyBcrypt(t *testing.T) {
	ctx := context.Background()
	dir, store := newTestDirectory(t)

	legacy, err := bcrypt.GenerateFromPassword([]byte("imported-pw"), bcrypt.MinCost)
	require.NoError(t, err)
	u, err := store.CreateUser(ctx, CreateUserInput{Email: "old@example.com", PasswordHash: string(legacy)})
	require.NoError(t, err)

	p, err := dir.FindByID(ctx, u.ID)
	require.NoError(t, err)

	ok, err := dir.VerifyPassword(ctx, p, "imported-pw")
	require.NoError(t, err)
	require.True(t, ok)

	after, err := store.GetUserByID(ctx, u.ID)
	require.NoError(t, err)
	assert.Equal(t, password.SchemeArgon2id, password.SchemeOf(after.PasswordHash))

	ok, err = dir.VerifyPassword(ctx, toPrincipal(after), "imported-pw")
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestDirectory_DrivesSessionLogin(t *testing.T) {
	ctx := context.Background()
	dir, store := newTestDirectory(t)

	u, err := dir.Register(ctx, "admin@example.com", "a long shelf of novels", RoleAdmin)
	require.NoError(t, err)

	cfg := session.DefaultConfig()
	cfg.SigningKey = "identity-test-secret-0123456789abcdef"
	codec, err := session.NewCodec(cfg)
	require.NoError(t, err)
	sessions := session.NewMemoryStore()
	mgr, err := session.NewManager(cfg, codec, sessions, session.NewMemoryRevocationStore(token.NewHasher(nil), nil), dir)
	require.NoError(t, err)

	_, err = mgr.Login(ctx, "admin@example.com", "wrong password here")
	require.ErrorIs(t, err, session.ErrInvalidCredentials)

	_, err = mgr.Login(ctx, "nobody@example.com", "a long shelf of novels")
	require.ErrorIs(t, err, session.ErrInvalidCredentials)

	pair, err := mgr.Login(ctx, "ADMIN@example.com", "a long shelf of novels")
	require.NoError(t, err)
	assert.Equal(t, u.ID, pair.SubjectID)
	assert.Equal(t, RoleAdmin, pair.Role)

	// Deleting the account makes the outstanding refresh token useless.
	store.DeleteUser(u.ID)
	_, err = mgr.Reissue(ctx, pair.RefreshToken)
	require.ErrorIs(t, err, session.ErrPrincipalNotFound)
}

func TestParseSeedUsers(t *testing.T) {
	users, err := ParseSeedUsers(" a@x.io:pw-one-long-enough:admin , b@x.io:pw ,, ")
	require.NoError(t, err)
	require.Len(t, users, 2)
	assert.Equal(t, SeedUser{Email: "a@x.io", Password: "pw-one-long-enough", Role: "admin"}, users[0])
	assert.Equal(t, SeedUser{Email: "b@x.io", Password: "pw"}, users[1])
}

func TestParseSeedUsers_Errors(t *testing.T) {
	_, err := ParseSeedUsers("just-an-email")
	require.Error(t, err)

	_, err = ParseSeedUsers("a@x.io:secret:wizard")
	require.Error(t, err)
	assert.NotContains(t, err.Error(), "secret")
}

func TestDirectory_SeedIsIdempotent(t *testing.T) {
	ctx := context.Background()
	dir, store := newTestDirectory(t)

	seed := []SeedUser{
		{Email: "a@x.io", Password: "pw-one-long-enough", Role: "admin"},
		{Email: "b@x.io", Password: "pw-two-long-enough"},
	}
	n, err := dir.Seed(ctx, seed)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	n, err = dir.Seed(ctx, seed)
	require.NoError(t, err)
	assert.Equal(t, 0, n)

	u, err := store.GetUserByEmail(ctx, "a@x.io")
	require.NoError(t, err)
	assert.Equal(t, RoleAdmin, u.Role)

	_, err = dir.Seed(ctx, []SeedUser{{Email: "c@x.io", Password: "short"}})
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrInvalidInput))
}

func TestMemoryStore_Validation(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()

	_, err := store.CreateUser(ctx, CreateUserInput{Email: "not-an-email", PasswordHash: "h"})
	require.True(t, IsInvalidInput(err))

	_, err = store.CreateUser(ctx, CreateUserInput{Email: "a@x.io", Role: "root", PasswordHash: "h"})
	require.True(t, IsInvalidInput(err))

	_, err = store.CreateUser(ctx, CreateUserInput{Email: "a@x.io"})
	require.True(t, IsInvalidInput(err))

	err = store.UpdatePasswordHash(ctx, "missing", "h", time.Now())
	require.True(t, IsNotFound(err))
}
