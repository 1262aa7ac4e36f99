package app

import (
	"fmt"
	"strings"
	"time"
)

// Session storage backends.
const (
	BackendAuto     = "auto"
	BackendPostgres = "postgres"
	BackendRedis    = "redis"
	BackendMemory   = "memory"
)

// Config contains all runtime configuration loaded from environment variables.
type Config struct {
	HTTPAddr  string
	LogLevel  string
	LogFormat string // json | text

	ReadHeaderTimeout time.Duration
	ReadTimeout       time.Duration
	WriteTimeout      time.Duration
	IdleTimeout       time.Duration
	MaxHeaderBytes    int
	ShutdownTimeout   time.Duration

	DatabaseURL    string
	DBMaxConns     int32
	DBMinConns     int32
	MigrateOnStart bool

	RedisURL string

	// SessionBackend selects where sessions and revocations live.
	// auto: redis when RedisURL is set, else postgres when DatabaseURL is set, else memory.
	SessionBackend string

	// SeedUsers is "email:password[:role],..." created at start when missing.
	SeedUsers string

	// If true, /readyz returns 503 unless the DB is configured and reachable.
	ReadinessRequireDB bool

	// If true, FOLIO_TOKEN_HMAC_KEY MUST be set (>= 32 bytes) so revocation digests are keyed.
	RequireTokenHMAC bool
}

// LoadConfig loads Config from environment variables with defaults.
func LoadConfig() Config {
	return Config{
		HTTPAddr:  EnvString("FOLIO_HTTP_ADDR", "0.0.0.0:8080"),
		LogLevel:  EnvString("FOLIO_LOG_LEVEL", "info"),
		LogFormat: EnvString("FOLIO_LOG_FORMAT", "json"),

		ReadHeaderTimeout: EnvDuration("FOLIO_HTTP_READ_HEADER_TIMEOUT", 5*time.Second),
		ReadTimeout:       EnvDuration("FOLIO_HTTP_READ_TIMEOUT", 15*time.Second),
		WriteTimeout:      EnvDuration("FOLIO_HTTP_WRITE_TIMEOUT", 15*time.Second),
		IdleTimeout:       EnvDuration("FOLIO_HTTP_IDLE_TIMEOUT", 60*time.Second),
		MaxHeaderBytes:    EnvInt("FOLIO_HTTP_MAX_HEADER_BYTES", 1<<20),
		ShutdownTimeout:   EnvDuration("FOLIO_SHUTDOWN_TIMEOUT", 10*time.Second),

		DatabaseURL:    EnvString("FOLIO_DATABASE_URL", ""),
		DBMaxConns:     EnvInt32("FOLIO_DB_MAX_CONNS", 10),
		DBMinConns:     EnvInt32("FOLIO_DB_MIN_CONNS", 0),
		MigrateOnStart: EnvBool("FOLIO_MIGRATE_ON_START", false),

		RedisURL:       EnvString("FOLIO_REDIS_URL", ""),
		SessionBackend: strings.ToLower(EnvString("FOLIO_SESSION_BACKEND", BackendAuto)),

		SeedUsers: EnvString("FOLIO_SEED_USERS", ""),

		ReadinessRequireDB: EnvBool("FOLIO_READINESS_REQUIRE_DB", false),
		RequireTokenHMAC:   EnvBool("FOLIO_REQUIRE_TOKEN_HMAC", false),
	}
}

// sessionBackend resolves "auto" and checks the chosen backend is configured.
func (c Config) sessionBackend() (string, error) {
	switch c.SessionBackend {
	case "", BackendAuto:
		switch {
		case c.RedisURL != "":
			return BackendRedis, nil
		case c.DatabaseURL != "":
			return BackendPostgres, nil
		default:
			return BackendMemory, nil
		}
	case BackendPostgres:
		if c.DatabaseURL == "" {
			return "", fmt.Errorf("config: FOLIO_SESSION_BACKEND=postgres requires FOLIO_DATABASE_URL")
		}
		return BackendPostgres, nil
	case BackendRedis:
		if c.RedisURL == "" {
			return "", fmt.Errorf("config: FOLIO_SESSION_BACKEND=redis requires FOLIO_REDIS_URL")
		}
		return BackendRedis, nil
	case BackendMemory:
		return BackendMemory, nil
	default:
		return "", fmt.Errorf("config: unknown FOLIO_SESSION_BACKEND %q", c.SessionBackend)
	}
}
