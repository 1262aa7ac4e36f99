package authapi

import (
	"testing"
	"time"
)

func TestLoadConfigFromEnv_Defaults(t *testing.T) {
	cfg := LoadConfigFromEnv()
	if cfg != DefaultConfig() {
		t.Fatalf("unexpected defaults: %+v", cfg)
	}
}

func TestLoadConfigFromEnv_Overrides(t *testing.T) {
	t.Setenv("FOLIO_AUTH_TRUST_PROXY", "true")
	t.Setenv("FOLIO_AUTH_LOGIN_EMAIL_MAX", "3")
	t.Setenv("FOLIO_AUTH_LOGIN_EMAIL_WINDOW", "2m")
	t.Setenv("FOLIO_AUTH_LOGIN_IP_MAX", "-4")
	t.Setenv("FOLIO_AUTH_MAX_BODY_BYTES", "nope")

	cfg := LoadConfigFromEnv()

	if !cfg.TrustProxy {
		t.Fatalf("expected TrustProxy=true")
	}
	if cfg.LoginEmailMax != 3 || cfg.LoginEmailWindow != 2*time.Minute {
		t.Fatalf("email throttle not applied: %+v", cfg)
	}
	if cfg.LoginIPMax != 20 {
		t.Fatalf("non-positive values must fall back to the default, got %d", cfg.LoginIPMax)
	}
	if cfg.MaxBodyBytes != 1<<20 {
		t.Fatalf("unparsable values must fall back to the default, got %d", cfg.MaxBodyBytes)
	}
}
