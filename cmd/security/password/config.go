package password

import (
	"fmt"
	"math"
	"os"
	"runtime"
	"strconv"
	"strings"

	"golang.org/x/crypto/bcrypt"
)

// Argon2idParams controls Argon2id cost. MemoryKiB is in KiB as argon2.IDKey expects.
type Argon2idParams struct {
	MemoryKiB   uint32
	Iterations  uint32
	Parallelism uint8
	SaltLength  uint32
	KeyLength   uint32
}

// Policy bounds what Hash accepts for new passwords.
type Policy struct {
	MinLength      int
	MaxLength      int
	RejectVeryWeak bool
}

// Config is the single configuration surface for this package.
type Config struct {
	Params Argon2idParams
	Policy Policy

	// MaxBcryptCost is the highest legacy bcrypt cost Verify will run.
	MaxBcryptCost int
}

// DefaultConfig returns interactive-login defaults. Parallelism follows the CPU
// count, clamped to [1..4] so containers stay predictable.
func DefaultConfig() Config {
	threads := min(max(runtime.NumCPU(), 1), 4)

	return Config{
		Params: Argon2idParams{
			MemoryKiB:   64 * 1024,
			Iterations:  3,
			Parallelism: uint8(threads), // #nosec G115 -- clamped above.
			SaltLength:  16,
			KeyLength:   32,
		},
		Policy: Policy{
			MinLength: 10,
			MaxLength: 256,
		},
		MaxBcryptCost: 14,
	}
}

// FromEnv loads overrides on top of DefaultConfig.
//
// Env surface:
//   - FOLIO_PASSWORD_MIN_LEN, FOLIO_PASSWORD_MAX_LEN
//   - FOLIO_PASSWORD_REJECT_VERY_WEAK (true/false)
//   - FOLIO_ARGON2_MEMORY_KIB, FOLIO_ARGON2_ITERATIONS, FOLIO_ARGON2_PARALLELISM
//   - FOLIO_ARGON2_SALT_LEN, FOLIO_ARGON2_KEY_LEN
//   - FOLIO_BCRYPT_MAX_COST
func FromEnv() (Config, error) {
	cfg := DefaultConfig()

	ints := []struct {
		key      string
		min, max int
		set      func(int)
	}{
		{"FOLIO_PASSWORD_MIN_LEN", 1, 1024, func(n int) { cfg.Policy.MinLength = n }},
		{"FOLIO_PASSWORD_MAX_LEN", 1, 4096, func(n int) { cfg.Policy.MaxLength = n }},
		{"FOLIO_ARGON2_MEMORY_KIB", 8 * 1024, 1024 * 1024, func(n int) { cfg.Params.MemoryKiB = uint32(n) }}, // #nosec G115 -- range checked.
		{"FOLIO_ARGON2_ITERATIONS", 1, 20, func(n int) { cfg.Params.Iterations = uint32(n) }},               // #nosec G115 -- range checked.
		{"FOLIO_ARGON2_PARALLELISM", 1, math.MaxUint8, func(n int) { cfg.Params.Parallelism = uint8(n) }},   // #nosec G115 -- range checked.
		{"FOLIO_ARGON2_SALT_LEN", 8, 64, func(n int) { cfg.Params.SaltLength = uint32(n) }},                 // #nosec G115 -- range checked.
		{"FOLIO_ARGON2_KEY_LEN", 16, 64, func(n int) { cfg.Params.KeyLength = uint32(n) }},                  // #nosec G115 -- range checked.
		{"FOLIO_BCRYPT_MAX_COST", bcrypt.MinCost, bcrypt.MaxCost, func(n int) { cfg.MaxBcryptCost = n }},
	}
	for _, e := range ints {
		v, ok := os.LookupEnv(e.key)
		if !ok {
			continue
		}
		n, err := intInRange(v, e.min, e.max)
		if err != nil {
			return Config{}, fmt.Errorf("%s: %w", e.key, err)
		}
		e.set(n)
	}

	if v, ok := os.LookupEnv("FOLIO_PASSWORD_REJECT_VERY_WEAK"); ok {
		b, err := strconv.ParseBool(strings.TrimSpace(v))
		if err != nil {
			return Config{}, fmt.Errorf("FOLIO_PASSWORD_REJECT_VERY_WEAK: invalid boolean")
		}
		cfg.Policy.RejectVeryWeak = b
	}

	if cfg.Policy.MinLength > cfg.Policy.MaxLength {
		return Config{}, fmt.Errorf("password policy invalid: min_len(%d) > max_len(%d)",
			cfg.Policy.MinLength, cfg.Policy.MaxLength)
	}
	return cfg, nil
}

func intInRange(s string, minVal, maxVal int) (int, error) {
	n, err := strconv.Atoi(strings.TrimSpace(s))
	if err != nil {
		return 0, fmt.Errorf("not an integer")
	}
	if n < minVal || n > maxVal {
		return 0, fmt.Errorf("out of range [%d..%d]", minVal, maxVal)
	}
	return n, nil
}
