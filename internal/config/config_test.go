package config

import "testing"

func TestLoadAppliesDefaults(t *testing.T) {
	t.Setenv("PORT", "")
	t.Setenv("DEFAULT_BRANCH_ID", "")
	t.Setenv("LOG_LEVEL", "")

	cfg := Load()
	if cfg.Port != "8080" {
		t.Fatalf("expected default port 8080, got %q", cfg.Port)
	}
	if cfg.BranchID != "main-branch" {
		t.Fatalf("expected default branch, got %q", cfg.BranchID)
	}
	if cfg.LogLevel != "info" {
		t.Fatalf("expected default log level info, got %q", cfg.LogLevel)
	}
	if cfg.Address() != ":8080" {
		t.Fatalf("expected :8080, got %q", cfg.Address())
	}
}

func TestLoadDoesNotInjectIdentitySecretDefault(t *testing.T) {
	t.Setenv("IDENTITY_SECRET", "")

	cfg := Load()
	if cfg.IdentitySecret != "" {
		t.Fatalf("expected empty IDENTITY_SECRET when unset, got %q", cfg.IdentitySecret)
	}
}

func TestLoadReadsRedisSettings(t *testing.T) {
	t.Setenv("REDIS_ADDR", "localhost:6379")
	t.Setenv("REDIS_DB", "3")

	cfg := Load()
	if cfg.RedisAddr != "localhost:6379" || cfg.RedisDB != 3 {
		t.Fatalf("unexpected redis config: %q db=%d", cfg.RedisAddr, cfg.RedisDB)
	}
}
