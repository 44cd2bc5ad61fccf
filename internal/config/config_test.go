package config

import "testing"

func TestLoadDefaults(t *testing.T) {
	t.Setenv("PORT", "")
	t.Setenv("DATABASE_URL", "")
	t.Setenv("DEFAULT_LOCATION_ID", "")
	t.Setenv("ACCESS_TOKEN_TTL_MINUTES", "")

	cfg := Load()

	if cfg.Port != "8080" {
		t.Fatalf("expected default port 8080, got %s", cfg.Port)
	}
	if cfg.DefaultLocationID != "central" {
		t.Fatalf("expected default location central, got %s", cfg.DefaultLocationID)
	}
	if cfg.AccessTokenTTLMinutes != 480 {
		t.Fatalf("expected default token ttl 480, got %d", cfg.AccessTokenTTLMinutes)
	}
	if cfg.Address() != ":8080" {
		t.Fatalf("expected address :8080, got %s", cfg.Address())
	}
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("PORT", "9191")
	t.Setenv("DEFAULT_LOCATION_ID", "norte")
	t.Setenv("ACCESS_TOKEN_TTL_MINUTES", "60")
	t.Setenv("AUTH_SECRET", "  secreto-con-espacios  ")

	cfg := Load()

	if cfg.Port != "9191" {
		t.Fatalf("expected port 9191, got %s", cfg.Port)
	}
	if cfg.DefaultLocationID != "norte" {
		t.Fatalf("expected location norte, got %s", cfg.DefaultLocationID)
	}
	if cfg.AccessTokenTTLMinutes != 60 {
		t.Fatalf("expected token ttl 60, got %d", cfg.AccessTokenTTLMinutes)
	}
	if cfg.AuthSecret != "secreto-con-espacios" {
		t.Fatalf("expected trimmed auth secret, got %q", cfg.AuthSecret)
	}
}

func TestLoadBadTTLFallsBack(t *testing.T) {
	t.Setenv("ACCESS_TOKEN_TTL_MINUTES", "not-a-number")

	cfg := Load()
	if cfg.AccessTokenTTLMinutes != 480 {
		t.Fatalf("expected fallback ttl 480, got %d", cfg.AccessTokenTTLMinutes)
	}
}
