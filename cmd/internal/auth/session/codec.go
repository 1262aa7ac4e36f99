package session

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/oklog/ulid/v2"
)

// maxTokenBytes bounds the input accepted by Verify.
const maxTokenBytes = 4096

// TokenKind distinguishes access tokens from refresh tokens.
type TokenKind string

const (
	KindAccess  TokenKind = "access"
	KindRefresh TokenKind = "refresh"
)

// Claims is the verified identity envelope carried by a token.
type Claims struct {
	SubjectID string
	Role      string
	Email     string
	Kind      TokenKind
	TokenID   string
	Issuer    string
	IssuedAt  time.Time
	ExpiresAt time.Time
}

// TokenCodec issues and verifies signed tokens.
// Implementations are stateless and safe for concurrent use.
type TokenCodec interface {
	Issue(kind TokenKind, subjectID, role, email string, ttl time.Duration) (token string, exp time.Time, err error)
	Verify(token string) (Claims, error)
	SubjectIDOf(token string) (string, error)
}

type jwtClaims struct {
	Role  string    `json:"role"`
	Email string    `json:"email"`
	Kind  TokenKind `json:"kind"`
	jwt.RegisteredClaims
}

// Codec is the HS256 JWT TokenCodec.
type Codec struct {
	issuer string
	key    []byte
	leeway time.Duration
	now    func() time.Time
}

// CodecOption configures optional Codec behavior.
type CodecOption func(*Codec)

// WithClock overrides the time source used for iat/exp.
func WithClock(now func() time.Time) CodecOption {
	return func(c *Codec) {
		if now != nil {
			c.now = now
		}
	}
}

// NewCodec builds a Codec from cfg. The signing key is copied and never mutated afterwards.
func NewCodec(cfg Config, opts ...CodecOption) (*Codec, error) {
	if len(cfg.SigningKey) < MinSigningKeyBytes {
		return nil, ErrConfig
	}
	if cfg.ClockSkew < 0 {
		return nil, ErrConfig
	}

	c := &Codec{
		issuer: cfg.Issuer,
		key:    []byte(cfg.SigningKey),
		leeway: cfg.ClockSkew,
		now:    time.Now,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(c)
		}
	}
	return c, nil
}

// Issue signs a new token with a fresh ULID jti.
// The returned exp has second precision, matching the encoded claim, and is rounded
// up so the token never lives shorter than ttl.
func (c *Codec) Issue(kind TokenKind, subjectID, role, email string, ttl time.Duration) (string, time.Time, error) {
	if strings.TrimSpace(subjectID) == "" {
		return "", time.Time{}, fmt.Errorf("session: issue %s token: empty subject", kind)
	}
	if ttl <= 0 {
		return "", time.Time{}, fmt.Errorf("session: issue %s token: non-positive ttl", kind)
	}

	now := c.now().UTC()
	exp := ceilSecond(now.Add(ttl))
	now = now.Truncate(time.Second)

	claims := jwtClaims{
		Role:  role,
		Email: email,
		Kind:  kind,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    c.issuer,
			Subject:   subjectID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(exp),
			ID:        ulid.Make().String(),
		},
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(c.key)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("session: sign %s token: %w", kind, err)
	}
	return signed, exp, nil
}

// Verify checks signature, issuer and expiry.
// It returns exactly one of ErrMalformed, ErrSignatureInvalid or ErrExpired on failure.
func (c *Codec) Verify(token string) (Claims, error) {
	token = strings.TrimSpace(token)
	if token == "" || len(token) > maxTokenBytes {
		return Claims{}, ErrMalformed
	}

	// Fresh parser per call; options carry no mutable state worth sharing.
	p := jwt.NewParser(
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(c.issuer),
		jwt.WithLeeway(c.leeway),
		jwt.WithTimeFunc(c.now),
		jwt.WithExpirationRequired(),
	)

	var jc jwtClaims
	if _, err := p.ParseWithClaims(token, &jc, func(*jwt.Token) (any, error) { return c.key, nil }); err != nil {
		return Claims{}, classifyJWTError(err)
	}

	if jc.Subject == "" || (jc.Kind != KindAccess && jc.Kind != KindRefresh) {
		return Claims{}, ErrMalformed
	}

	return Claims{
		SubjectID: jc.Subject,
		Role:      jc.Role,
		Email:     jc.Email,
		Kind:      jc.Kind,
		TokenID:   jc.ID,
		Issuer:    jc.Issuer,
		IssuedAt:  numericTime(jc.IssuedAt),
		ExpiresAt: numericTime(jc.ExpiresAt),
	}, nil
}

// SubjectIDOf extracts the subject without verifying the signature or expiry.
// Use it for log attribution only; it proves nothing about the caller.
func (c *Codec) SubjectIDOf(token string) (string, error) {
	var jc jwtClaims
	if _, _, err := jwt.NewParser().ParseUnverified(strings.TrimSpace(token), &jc); err != nil {
		return "", ErrMalformed
	}
	if jc.Subject == "" {
		return "", ErrMalformed
	}
	return jc.Subject, nil
}

func classifyJWTError(err error) error {
	switch {
	case errors.Is(err, jwt.ErrTokenMalformed):
		return ErrMalformed
	case errors.Is(err, jwt.ErrTokenSignatureInvalid), errors.Is(err, jwt.ErrTokenUnverifiable):
		return ErrSignatureInvalid
	case errors.Is(err, jwt.ErrTokenExpired):
		return ErrExpired
	default:
		return ErrMalformed
	}
}

func numericTime(d *jwt.NumericDate) time.Time {
	if d == nil {
		return time.Time{}
	}
	return d.Time.UTC()
}

// ceilSecond rounds t up to the next whole second; NumericDate drops fractions.
func ceilSecond(t time.Time) time.Time {
	if r := t.Truncate(time.Second); r.Before(t) {
		return r.Add(time.Second)
	}
	return t
}
