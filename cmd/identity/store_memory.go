package identity

import (
	"context"
	"strings"
	"sync"
	"time"
)

// MemoryStore is an in-process Store for dev mode and tests.
type MemoryStore struct {
	mu      sync.RWMutex
	byID    map[string]User
	byEmail map[string]string
}

// NewMemoryStore returns an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{byID: make(map[string]User), byEmail: make(map[string]string)}
}

func (s *MemoryStore) CreateUser(_ context.Context, in CreateUserInput) (User, error) {
	const op = "identity.CreateUser"

	in, err := prepareCreate(op, in)
	if err != nil {
		return User{}, err
	}
	id, err := NewULID(in.Now)
	if err != nil {
		return User{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, taken := s.byEmail[in.Email]; taken {
		return User{}, ConflictError{Op: op, Field: "email"}
	}
	u := User{ID: id, Email: in.Email, Role: in.Role, PasswordHash: in.PasswordHash, CreatedAt: in.Now, UpdatedAt: in.Now}
	s.byID[id] = u
	s.byEmail[in.Email] = id
	return u, nil
}

func (s *MemoryStore) GetUserByID(_ context.Context, id string) (User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	u, ok := s.byID[strings.TrimSpace(id)]
	if !ok {
		return User{}, notFound("identity.GetUserByID")
	}
	return u, nil
}

func (s *MemoryStore) GetUserByEmail(_ context.Context, email string) (User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	id, ok := s.byEmail[NormalizeEmail(email)]
	if !ok {
		return User{}, notFound("identity.GetUserByEmail")
	}
	return s.byID[id], nil
}

func (s *MemoryStore) UpdatePasswordHash(_ context.Context, id, passwordHash string, now time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.byID[id]
	if !ok {
		return notFound("identity.UpdatePasswordHash")
	}
	u.PasswordHash = passwordHash
	u.UpdatedAt = now.UTC()
	s.byID[id] = u
	return nil
}

// DeleteUser removes an account. Only the memory backend supports it; tests use it
// to model account deletion between a login and a reissue.
func (s *MemoryStore) DeleteUser(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if u, ok := s.byID[id]; ok {
		delete(s.byEmail, u.Email)
		delete(s.byID, id)
	}
}
