package session

import (
	"context"
	"sync"
	"time"

	"folio/cmd/security/token"
)

// MemoryStore is an in-process SessionStore for dev mode and tests.
type MemoryStore struct {
	mu   sync.RWMutex
	rows map[string]Row
}

// NewMemoryStore returns an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{rows: make(map[string]Row)}
}

func (s *MemoryStore) Put(_ context.Context, subjectID, refreshToken string, now time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rows[subjectID] = Row{SubjectID: subjectID, RefreshToken: refreshToken, UpdatedAt: now.UTC()}
	return nil
}

func (s *MemoryStore) Get(_ context.Context, subjectID string) (Row, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	row, ok := s.rows[subjectID]
	if !ok {
		return Row{}, ErrSessionNotFound
	}
	return row, nil
}

func (s *MemoryStore) Delete(_ context.Context, subjectID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.rows, subjectID)
	return nil
}

// Len returns the number of live sessions.
func (s *MemoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.rows)
}

// MemoryRevocationStore is an in-process RevocationStore with lazy expiry.
type MemoryRevocationStore struct {
	hasher token.Hasher
	now    func() time.Time

	mu      sync.RWMutex
	entries map[string]time.Time
}

// NewMemoryRevocationStore returns an empty store. A nil now uses time.Now.
func NewMemoryRevocationStore(hasher token.Hasher, now func() time.Time) *MemoryRevocationStore {
	if now == nil {
		now = time.Now
	}
	return &MemoryRevocationStore{hasher: hasher, now: now, entries: make(map[string]time.Time)}
}

func (s *MemoryRevocationStore) Revoke(_ context.Context, tok string, expiresAt time.Time) error {
	if !expiresAt.After(s.now()) {
		return nil
	}
	key := s.hasher.Digest(tok)

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.entries[key]; !ok {
		s.entries[key] = expiresAt
	}
	return nil
}

func (s *MemoryRevocationStore) IsRevoked(_ context.Context, tok string) (bool, error) {
	key := s.hasher.Digest(tok)

	s.mu.RLock()
	exp, ok := s.entries[key]
	s.mu.RUnlock()

	return ok && exp.After(s.now()), nil
}

func (s *MemoryRevocationStore) Sweep(_ context.Context, now time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var n int64
	for k, exp := range s.entries {
		if !exp.After(now) {
			delete(s.entries, k)
			n++
		}
	}
	return n, nil
}

// Len returns the number of entries, expired or not.
func (s *MemoryRevocationStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.entries)
}
