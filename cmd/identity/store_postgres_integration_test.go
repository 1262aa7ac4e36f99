package identity

import (
	"context"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/oklog/ulid/v2"
)

// Integration tests are enabled when FOLIO_DATABASE_URL is set and the schema is migrated.

func TestPostgresStore_CreateGetUpdate(t *testing.T) {
	ctx := context.Background()

	dbURL := os.Getenv("FOLIO_DATABASE_URL")
	if dbURL == "" {
		t.Skip("FOLIO_DATABASE_URL is not set; skipping Postgres integration test")
	}
	pool, err := pgxpool.New(ctx, dbURL)
	if err != nil {
		t.Fatalf("pgxpool.New: %v", err)
	}
	defer pool.Close()
	if err := pool.Ping(ctx); err != nil {
		if os.Getenv("CI") == "" {
			t.Skipf("integration test skipped: Postgres unreachable: %v", err)
		}
		t.Fatalf("pool.Ping: %v", err)
	}

	store, err := NewPostgresStore(pool)
	if err != nil {
		t.Fatalf("NewPostgresStore: %v", err)
	}

	email := strings.ToLower(ulid.Make().String()) + "@IT.folio.test"
	now := time.Now().UTC()

	u, err := store.CreateUser(ctx, CreateUserInput{Email: email, Role: RoleAdmin, PasswordHash: "$argon2id$x", Now: now})
	if err != nil {
		t.Fatalf("CreateUser: %v", err)
	}
	t.Cleanup(func() { _, _ = pool.Exec(ctx, `DELETE FROM folio.users WHERE id = $1`, u.ID) })

	if u.Email != NormalizeEmail(email) {
		t.Fatalf("expected normalized email, got %q", u.Email)
	}

	if _, err := store.CreateUser(ctx, CreateUserInput{Email: email, PasswordHash: "h", Now: now}); !IsConflict(err) {
		t.Fatalf("expected ConflictError, got %v", err)
	}

	got, err := store.GetUserByEmail(ctx, strings.ToUpper(email))
	if err != nil {
		t.Fatalf("GetUserByEmail: %v", err)
	}
	if got.ID != u.ID || got.Role != RoleAdmin {
		t.Fatalf("unexpected user: %+v", got)
	}

	if err := store.UpdatePasswordHash(ctx, u.ID, "$argon2id$y", now.Add(time.Second)); err != nil {
		t.Fatalf("UpdatePasswordHash: %v", err)
	}
	got, err = store.GetUserByID(ctx, u.ID)
	if err != nil {
		t.Fatalf("GetUserByID: %v", err)
	}
	if got.PasswordHash != "$argon2id$y" {
		t.Fatalf("expected updated hash, got %q", got.PasswordHash)
	}

	if _, err := store.GetUserByID(ctx, ulid.Make().String()); !IsNotFound(err) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestWithSchema_RejectsBadIdentifier(t *testing.T) {
	if _, err := NewPostgresStore(nil, WithSchema("folio; drop table users")); err == nil {
		t.Fatalf("expected invalid schema error")
	}
	if _, err := NewPostgresStore(nil); err == nil {
		t.Fatalf("expected nil pool error")
	}
}
