package session

import (
	"errors"
	"fmt"
)

// Token verification failures (TokenCodec).
var (
	// ErrMalformed is returned when a token cannot be parsed or carries invalid claims.
	ErrMalformed = errors.New("token malformed")

	// ErrSignatureInvalid is returned when the signature or signing method does not verify.
	ErrSignatureInvalid = errors.New("token signature invalid")

	// ErrExpired is returned when the token's exp claim is in the past.
	ErrExpired = errors.New("token expired")

	// ErrWrongKind is returned when a refresh token is presented where an access token is expected, or vice versa.
	ErrWrongKind = errors.New("token kind mismatch")
)

// Manager error kinds. Callers match them with errors.Is.
var (
	ErrInvalidCredentials  = errors.New("invalid credentials")
	ErrInvalidAccessToken  = errors.New("invalid access token")
	ErrInvalidRefreshToken = errors.New("invalid refresh token")
	ErrPrincipalNotFound   = errors.New("principal not found")

	// ErrUnauthenticated is the single outward-facing kind of every Authorize failure.
	ErrUnauthenticated = errors.New("unauthenticated")

	// ErrRevoked is returned (as a cause) when an access token was revoked by logout.
	ErrRevoked = errors.New("token revoked")

	// ErrSessionNotFound is returned by SessionStore.Get when the subject has no session.
	ErrSessionNotFound = errors.New("session not found")

	// ErrConfig is returned for invalid configuration.
	ErrConfig = errors.New("invalid config")
)

// AuthError carries the operation, the outward kind and the underlying cause.
//
// Both Kind and Cause match errors.Is, so a handler can answer "unauthenticated"
// while the log line still says "expired" or "revoked".
type AuthError struct {
	Op    string
	Kind  error
	Cause error
}

func (e *AuthError) Error() string {
	if e.Cause == nil || errors.Is(e.Kind, e.Cause) {
		return fmt.Sprintf("%s: %v", e.Op, e.Kind)
	}
	return fmt.Sprintf("%s: %v: %v", e.Op, e.Kind, e.Cause)
}

func (e *AuthError) Unwrap() []error {
	if e.Cause == nil {
		return []error{e.Kind}
	}
	return []error{e.Kind, e.Cause}
}

func authErr(op string, kind, cause error) error {
	return &AuthError{Op: op, Kind: kind, Cause: cause}
}

// Reason returns a short, stable label for an auth failure, suitable for logs and metrics.
// It never leaves the process.
func Reason(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, ErrExpired):
		return "expired"
	case errors.Is(err, ErrSignatureInvalid):
		return "signature_invalid"
	case errors.Is(err, ErrMalformed):
		return "malformed"
	case errors.Is(err, ErrWrongKind):
		return "wrong_kind"
	case errors.Is(err, ErrRevoked):
		return "revoked"
	case errors.Is(err, ErrPrincipalNotFound):
		return "principal_not_found"
	case errors.Is(err, ErrSessionNotFound):
		return "no_session"
	case errors.Is(err, ErrInvalidCredentials):
		return "invalid_credentials"
	case errors.Is(err, ErrInvalidRefreshToken):
		return "refresh_mismatch"
	case errors.Is(err, ErrInvalidAccessToken):
		return "invalid_access"
	default:
		return "error"
	}
}

// IsAuthFailure reports whether err is an authentication outcome rather than an
// operational (storage, config) failure.
func IsAuthFailure(err error) bool {
	var ae *AuthError
	return errors.As(err, &ae)
}
