package config

import (
	"errors"
	"testing"
	"time"
)

func TestLoad_RequiresJWTSecret(t *testing.T) {
	t.Setenv("JWT_SECRET", "")

	_, err := Load()
	if !errors.Is(err, ErrMissingJWTSecret) {
		t.Fatalf("expected ErrMissingJWTSecret, got %v", err)
	}
}

func TestLoad_Defaults(t *testing.T) {
	t.Setenv("JWT_SECRET", "s3cret")
	t.Setenv("STORE_DRIVER", "")
	t.Setenv("MAX_LOGIN_ATTEMPTS", "")
	t.Setenv("LOCK_DURATION", "")
	t.Setenv("JWT_ACCESS_TTL", "")
	t.Setenv("LOGIN_RATE_LIMIT", "")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if cfg.StoreDriver != "mongo" {
		t.Fatalf("store driver got %q", cfg.StoreDriver)
	}
	if cfg.MaxLoginAttempts != 5 || cfg.LockDuration != 2*time.Hour {
		t.Fatalf("lockout defaults got %d/%v", cfg.MaxLoginAttempts, cfg.LockDuration)
	}
	if cfg.JWTAccessTTL != 24*time.Hour || cfg.JWTRefreshTTL != 7*24*time.Hour {
		t.Fatalf("ttl defaults got %v/%v", cfg.JWTAccessTTL, cfg.JWTRefreshTTL)
	}
	if cfg.LoginRateLimit <= cfg.MaxLoginAttempts {
		t.Fatalf("login rate limit %d must exceed lockout threshold %d", cfg.LoginRateLimit, cfg.MaxLoginAttempts)
	}
}

func TestLoad_Overrides(t *testing.T) {
	t.Setenv("JWT_SECRET", "s3cret")
	t.Setenv("STORE_DRIVER", "Postgres")
	t.Setenv("MAX_LOGIN_ATTEMPTS", "not-a-number")
	t.Setenv("LOCK_DURATION", "30m")
	t.Setenv("JWT_ACCESS_TTL", "3600")
	t.Setenv("CORS_ALLOWED_ORIGINS", "https://a.example, ,https://b.example")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	tests := []struct {
		name string
		ok   bool
	}{
		{"driver lower-cased", cfg.StoreDriver == "postgres"},
		{"bad int falls back", cfg.MaxLoginAttempts == 5},
		{"go duration", cfg.LockDuration == 30*time.Minute},
		{"seconds duration", cfg.JWTAccessTTL == time.Hour},
		{"origins split", len(cfg.CORSAllowedOrigins) == 2 && cfg.CORSAllowedOrigins[1] == "https://b.example"},
	}

	for _, tt := range tests {
		if !tt.ok {
			t.Errorf("%s: cfg=%+v", tt.name, cfg)
		}
	}
}
