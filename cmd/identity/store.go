package identity

import (
	"context"
	"time"
)

// User is a reader account.
type User struct {
	ID           string
	Email        string
	Role         string
	PasswordHash string
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// CreateUserInput describes a new account. PasswordHash is an encoded hash, never plaintext.
type CreateUserInput struct {
	Email        string
	Role         string
	PasswordHash string
	Now          time.Time
}

// Store is the account persistence boundary.
type Store interface {
	CreateUser(ctx context.Context, in CreateUserInput) (User, error)
	GetUserByID(ctx context.Context, id string) (User, error)
	GetUserByEmail(ctx context.Context, email string) (User, error)

	// UpdatePasswordHash replaces the stored hash (rehash on login).
	UpdatePasswordHash(ctx context.Context, id, passwordHash string, now time.Time) error
}

func prepareCreate(op string, in CreateUserInput) (CreateUserInput, error) {
	in.Email = NormalizeEmail(in.Email)
	if !validEmail(in.Email) {
		return CreateUserInput{}, invalid(op, "email is invalid")
	}
	role, ok := NormalizeRole(in.Role)
	if !ok {
		return CreateUserInput{}, invalid(op, "unknown role")
	}
	in.Role = role
	if in.PasswordHash == "" {
		return CreateUserInput{}, invalid(op, "password hash is required")
	}
	if in.Now.IsZero() {
		in.Now = time.Now()
	}
	in.Now = in.Now.UTC()
	return in, nil
}
