package authapi

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// Config controls auth API behavior and security defaults.
type Config struct {
	TrustProxy   bool
	MaxBodyBytes int64

	// Failed logins per client IP.
	LoginIPMax    int
	LoginIPWindow time.Duration

	// Failed logins per normalized email.
	LoginEmailMax    int
	LoginEmailWindow time.Duration
}

// DefaultConfig returns the values LoadConfigFromEnv falls back to.
func DefaultConfig() Config {
	return Config{
		MaxBodyBytes:     1 << 20, // 1 MiB
		LoginIPMax:       20,
		LoginIPWindow:    5 * time.Minute,
		LoginEmailMax:    5,
		LoginEmailWindow: 15 * time.Minute,
	}
}

// LoadConfigFromEnv loads auth config from FOLIO_AUTH_* environment variables with safe defaults.
func LoadConfigFromEnv() Config {
	def := DefaultConfig()
	return Config{
		TrustProxy:       envBool("FOLIO_AUTH_TRUST_PROXY", false),
		MaxBodyBytes:     envInt64("FOLIO_AUTH_MAX_BODY_BYTES", def.MaxBodyBytes),
		LoginIPMax:       envInt("FOLIO_AUTH_LOGIN_IP_MAX", def.LoginIPMax),
		LoginIPWindow:    envDuration("FOLIO_AUTH_LOGIN_IP_WINDOW", def.LoginIPWindow),
		LoginEmailMax:    envInt("FOLIO_AUTH_LOGIN_EMAIL_MAX", def.LoginEmailMax),
		LoginEmailWindow: envDuration("FOLIO_AUTH_LOGIN_EMAIL_WINDOW", def.LoginEmailWindow),
	}
}

func envBool(key string, def bool) bool {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return def
	}
	return b
}

func envInt(key string, def int) int {
	n, err := strconv.Atoi(strings.TrimSpace(os.Getenv(key)))
	if err != nil || n <= 0 {
		return def
	}
	return n
}

func envInt64(key string, def int64) int64 {
	n, err := strconv.ParseInt(strings.TrimSpace(os.Getenv(key)), 10, 64)
	if err != nil || n <= 0 {
		return def
	}
	return n
}

func envDuration(key string, def time.Duration) time.Duration {
	d, err := time.ParseDuration(strings.TrimSpace(os.Getenv(key)))
	if err != nil || d <= 0 {
		return def
	}
	return d
}
