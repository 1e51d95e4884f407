package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadAppliesDefaults(t *testing.T) {
	configViper := NewViper()
	configViper.Set("auth.signing_secret", "secret")

	cfg, err := Load(configViper)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.HTTPAddress != defaultHTTPAddress {
		t.Fatalf("unexpected http address %q", cfg.HTTPAddress)
	}
	if cfg.DatabaseDriver != DriverSQLite || cfg.DatabasePath != defaultDatabasePath {
		t.Fatalf("unexpected database config %q %q", cfg.DatabaseDriver, cfg.DatabasePath)
	}
	if cfg.SessionTTL != 720*time.Minute {
		t.Fatalf("unexpected session ttl %s", cfg.SessionTTL)
	}
	if cfg.StorageBackend != StorageLocal {
		t.Fatalf("unexpected storage backend %q", cfg.StorageBackend)
	}
}

func TestLoadTrimsOriginSlash(t *testing.T) {
	configViper := NewViper()
	configViper.Set("auth.signing_secret", "secret")
	configViper.Set("site.origin", "https://evitare.com.br/")

	cfg, err := Load(configViper)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.SiteOrigin != "https://evitare.com.br" {
		t.Fatalf("expected trailing slash trimmed, got %q", cfg.SiteOrigin)
	}
}

func TestLoadRejectsInvalidConfiguration(t *testing.T) {
	testCases := []struct {
		name  string
		apply map[string]any
	}{
		{name: "missing-secret", apply: map[string]any{"auth.signing_secret": ""}},
		{name: "relative-origin", apply: map[string]any{"site.origin": "evitare.com.br"}},
		{name: "unknown-driver", apply: map[string]any{"database.driver": "mysql"}},
		{name: "postgres-without-dsn", apply: map[string]any{"database.driver": "postgres"}},
		{name: "supabase-without-url", apply: map[string]any{"storage.backend": "supabase", "supabase.key": "anon"}},
		{name: "supabase-without-key", apply: map[string]any{"storage.backend": "supabase", "supabase.url": "https://x.supabase.co"}},
		{name: "unknown-storage", apply: map[string]any{"storage.backend": "s3"}},
	}

	for _, testCase := range testCases {
		t.Run(testCase.name, func(t *testing.T) {
			configViper := NewViper()
			configViper.Set("auth.signing_secret", "secret")
			for key, value := range testCase.apply {
				configViper.Set(key, value)
			}
			if _, err := Load(configViper); err == nil {
				t.Fatalf("expected configuration error")
			}
		})
	}
}

func TestLoadDotEnvIgnoresMissingFile(t *testing.T) {
	if err := LoadDotEnv(filepath.Join(t.TempDir(), "missing.env")); err != nil {
		t.Fatalf("expected missing file to be ignored, got %v", err)
	}
}

func TestLoadDotEnvPopulatesEnvironment(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.env")
	if err := os.WriteFile(path, []byte("EVITARE_DOTENV_PROBE=loaded\n"), 0o600); err != nil {
		t.Fatalf("failed to write env file: %v", err)
	}
	t.Cleanup(func() { _ = os.Unsetenv("EVITARE_DOTENV_PROBE") })

	if err := LoadDotEnv(path); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if os.Getenv("EVITARE_DOTENV_PROBE") != "loaded" {
		t.Fatalf("expected env var to be loaded")
	}
}
