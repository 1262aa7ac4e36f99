package session

import (
	"context"
	"time"
)

// Row mirrors one folio.sessions row: the single live refresh token of a subject.
type Row struct {
	SubjectID    string
	RefreshToken string
	UpdatedAt    time.Time
}

// SessionStore keeps at most one refresh token per subject.
//
// Put is the only write path and always replaces the previous value.
type SessionStore interface {
	// Put upserts the refresh token for subjectID.
	Put(ctx context.Context, subjectID, refreshToken string, now time.Time) error

	// Get returns the stored row, or ErrSessionNotFound.
	Get(ctx context.Context, subjectID string) (Row, error)

	// Delete removes the row. Deleting a missing row is not an error.
	Delete(ctx context.Context, subjectID string) error
}

// RevocationStore records access tokens that must be rejected before their own expiry.
type RevocationStore interface {
	// Revoke marks token as revoked until expiresAt. Revoking twice is a no-op.
	Revoke(ctx context.Context, token string, expiresAt time.Time) error

	// IsRevoked reports whether token has a live revocation entry.
	IsRevoked(ctx context.Context, token string) (bool, error)

	// Sweep removes entries whose expiry is at or before now and reports how many were removed.
	Sweep(ctx context.Context, now time.Time) (int64, error)
}
