package password

import "errors"

var (
	ErrPasswordTooShort = errors.New("password too short")
	ErrPasswordTooLong  = errors.New("password too long")
	ErrWeakPassword     = errors.New("weak password")

	// ErrInvalidHash is returned for malformed, unsupported or out-of-bounds encodings.
	ErrInvalidHash = errors.New("invalid password hash")
)
