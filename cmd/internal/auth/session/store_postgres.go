package session

import (
	"context"
	"errors"
	"fmt"
	"time"

	"folio/cmd/security/token"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresStore implements SessionStore using PostgreSQL (folio.sessions).
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore creates a Postgres-backed session store. The caller owns the pool.
func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

// Put upserts the subject's refresh token.
func (s *PostgresStore) Put(ctx context.Context, subjectID, refreshToken string, now time.Time) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO folio.sessions (subject_id, refresh_token, updated_at)
		VALUES ($1, $2, $3)
		ON CONFLICT (subject_id) DO UPDATE
		SET refresh_token = EXCLUDED.refresh_token,
		    updated_at = EXCLUDED.updated_at
	`, subjectID, refreshToken, now.UTC())
	if err != nil {
		return fmt.Errorf("sessions.put: %w", err)
	}
	return nil
}

// Get loads the subject's session row.
func (s *PostgresStore) Get(ctx context.Context, subjectID string) (Row, error) {
	var row Row
	err := s.pool.QueryRow(ctx, `
		SELECT subject_id, refresh_token, updated_at
		FROM folio.sessions
		WHERE subject_id = $1
	`, subjectID).Scan(&row.SubjectID, &row.RefreshToken, &row.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return Row{}, ErrSessionNotFound
	}
	if err != nil {
		return Row{}, fmt.Errorf("sessions.get: %w", err)
	}
	return row, nil
}

// Delete removes the subject's session (idempotent).
func (s *PostgresStore) Delete(ctx context.Context, subjectID string) error {
	if _, err := s.pool.Exec(ctx, `DELETE FROM folio.sessions WHERE subject_id = $1`, subjectID); err != nil {
		return fmt.Errorf("sessions.delete: %w", err)
	}
	return nil
}

// PostgresRevocationStore implements RevocationStore using folio.revoked_tokens.
type PostgresRevocationStore struct {
	pool   *pgxpool.Pool
	hasher token.Hasher
	now    func() time.Time
}

// NewPostgresRevocationStore creates a Postgres-backed revocation store.
func NewPostgresRevocationStore(pool *pgxpool.Pool, hasher token.Hasher) *PostgresRevocationStore {
	return &PostgresRevocationStore{pool: pool, hasher: hasher, now: time.Now}
}

// Revoke inserts a revocation entry; an existing entry is left untouched.
func (s *PostgresRevocationStore) Revoke(ctx context.Context, tok string, expiresAt time.Time) error {
	now := s.now().UTC()
	if !expiresAt.After(now) {
		return nil
	}
	_, err := s.pool.Exec(ctx, `
		INSERT INTO folio.revoked_tokens (token_digest, expires_at, revoked_at)
		VALUES ($1, $2, $3)
		ON CONFLICT (token_digest) DO NOTHING
	`, s.hasher.Digest(tok), expiresAt.UTC(), now)
	if err != nil {
		return fmt.Errorf("revocations.revoke: %w", err)
	}
	return nil
}

// IsRevoked reports whether a live entry exists for tok.
func (s *PostgresRevocationStore) IsRevoked(ctx context.Context, tok string) (bool, error) {
	var revoked bool
	err := s.pool.QueryRow(ctx, `
		SELECT EXISTS (
			SELECT 1 FROM folio.revoked_tokens
			WHERE token_digest = $1 AND expires_at > $2
		)
	`, s.hasher.Digest(tok), s.now().UTC()).Scan(&revoked)
	if err != nil {
		return false, fmt.Errorf("revocations.is_revoked: %w", err)
	}
	return revoked, nil
}

// Sweep deletes entries that expired at or before now.
func (s *PostgresRevocationStore) Sweep(ctx context.Context, now time.Time) (int64, error) {
	tag, err := s.pool.Exec(ctx, `DELETE FROM folio.revoked_tokens WHERE expires_at <= $1`, now.UTC())
	if err != nil {
		return 0, fmt.Errorf("revocations.sweep: %w", err)
	}
	return tag.RowsAffected(), nil
}
