package session

import (
	"os"
	"strings"
	"time"
)

// MinSigningKeyBytes is the shortest HS256 secret accepted by LoadConfigFromEnv.
const MinSigningKeyBytes = 32

// Config defines runtime configuration for the session subsystem.
type Config struct {
	// Issuer is the value set in the "iss" claim and required on verify.
	Issuer string

	// AccessTokenTTL is the lifetime of access tokens (minutes).
	AccessTokenTTL time.Duration

	// RefreshTokenTTL is the lifetime of refresh tokens (days).
	RefreshTokenTTL time.Duration

	// ClockSkew is the leeway applied to exp/nbf/iat checks. Zero by default.
	ClockSkew time.Duration

	// SigningKey is the HS256 secret shared by every process that verifies tokens.
	SigningKey string

	// SweepInterval controls how often expired revocation entries are purged.
	SweepInterval time.Duration
}

// DefaultConfig returns defaults suitable for development. SigningKey is left empty.
func DefaultConfig() Config {
	return Config{
		Issuer:          "folio",
		AccessTokenTTL:  15 * time.Minute,
		RefreshTokenTTL: 14 * 24 * time.Hour,
		ClockSkew:       0,
		SweepInterval:   time.Hour,
	}
}

// LoadConfigFromEnv loads session configuration from environment variables.
//
// Required:
//   - FOLIO_JWT_SECRET (at least 32 bytes)
//
// Optional (durations must be valid Go duration strings):
//   - FOLIO_AUTH_ISSUER
//   - FOLIO_AUTH_ACCESS_TTL
//   - FOLIO_AUTH_REFRESH_TTL
//   - FOLIO_AUTH_CLOCK_SKEW
//   - FOLIO_AUTH_SWEEP_INTERVAL
//
// Returns ErrConfig if configuration is invalid.
func LoadConfigFromEnv() (Config, error) {
	cfg := DefaultConfig()

	if v := strings.TrimSpace(os.Getenv("FOLIO_AUTH_ISSUER")); v != "" {
		cfg.Issuer = v
	}

	var err error
	if cfg.AccessTokenTTL, err = positiveDuration("FOLIO_AUTH_ACCESS_TTL", cfg.AccessTokenTTL); err != nil {
		return Config{}, err
	}
	if cfg.RefreshTokenTTL, err = positiveDuration("FOLIO_AUTH_REFRESH_TTL", cfg.RefreshTokenTTL); err != nil {
		return Config{}, err
	}
	if cfg.SweepInterval, err = positiveDuration("FOLIO_AUTH_SWEEP_INTERVAL", cfg.SweepInterval); err != nil {
		return Config{}, err
	}

	if v := os.Getenv("FOLIO_AUTH_CLOCK_SKEW"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil || d < 0 {
			return Config{}, ErrConfig
		}
		cfg.ClockSkew = d
	}

	cfg.SigningKey = strings.TrimSpace(os.Getenv("FOLIO_JWT_SECRET"))

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks the invariants between fields.
func (c Config) Validate() error {
	if len(c.SigningKey) < MinSigningKeyBytes {
		return ErrConfig
	}
	if c.AccessTokenTTL <= 0 || c.RefreshTokenTTL <= 0 {
		return ErrConfig
	}
	// A refresh token that dies before its access token is useless.
	if c.RefreshTokenTTL <= c.AccessTokenTTL {
		return ErrConfig
	}
	return nil
}

func positiveDuration(key string, def time.Duration) (time.Duration, error) {
	v := os.Getenv(key)
	if v == "" {
		return def, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil || d <= 0 {
		return 0, ErrConfig
	}
	return d, nil
}
