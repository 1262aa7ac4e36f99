package app

import (
	"errors"

	"folio/cmd/security/token"
)

// ValidateSecurityConfig enforces the startup security policy.
//
// Fail fast: a production deployment must not silently fall back to unkeyed digests.
func ValidateSecurityConfig(cfg Config) error {
	if !cfg.RequireTokenHMAC {
		return nil
	}

	if _, err := token.HMACKeyFromEnv(token.MinHMACKeyBytes); err != nil {
		switch {
		case errors.Is(err, token.ErrHMACKeyMissing):
			return errors.New("security policy: FOLIO_REQUIRE_TOKEN_HMAC=true but FOLIO_TOKEN_HMAC_KEY is missing")
		case errors.Is(err, token.ErrHMACKeyTooShort):
			return errors.New("security policy: FOLIO_REQUIRE_TOKEN_HMAC=true but FOLIO_TOKEN_HMAC_KEY is too short (min 32 bytes)")
		default:
			return err
		}
	}

	if !token.HasherFromEnv().Keyed() {
		return errors.New("security policy: FOLIO_REQUIRE_TOKEN_HMAC=true but token hasher is not in HMAC mode")
	}
	return nil
}
