package session

import "context"

// Principal is the account a token speaks for. It is owned by the UserDirectory
// and never mutated here.
type Principal struct {
	ID           string
	Role         string
	Email        string
	PasswordHash string
}

// UserDirectory is the external account collaborator.
//
// FindByEmail and FindByID return an error matching ErrPrincipalNotFound when the
// account does not exist.
type UserDirectory interface {
	FindByEmail(ctx context.Context, email string) (Principal, error)
	FindByID(ctx context.Context, id string) (Principal, error)
	VerifyPassword(ctx context.Context, p Principal, plaintext string) (bool, error)
}
