package internal

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/starford/ansuz/pkg/config"
)

func TestDefaultConfig_Valid(t *testing.T) {
	if err := NewDefaultConfig().Validate(); err != nil {
		t.Fatalf("defaults should validate: %v", err)
	}
}

func TestApplicationConfig_EmptyFormatDefaultsJSON(t *testing.T) {
	cfg := ApplicationConfig{HTTP: HTTPConfig{Port: 80}}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("Validate: %v", err)
	}
	if cfg.LogFormat != LogFormatJSON {
		t.Errorf("format = %q, want %q", cfg.LogFormat, LogFormatJSON)
	}
}

func TestConfig_InvalidSections(t *testing.T) {
	cases := map[string]func(*Config){
		"log format":    func(c *Config) { c.App.LogFormat = "xml" },
		"port":          func(c *Config) { c.App.HTTP.Port = 70000 },
		"vault":         func(c *Config) { c.Vault.Path = "" },
		"ledger":        func(c *Config) { c.Ledger.Path = "" },
		"provider":      func(c *Config) { c.Embedder.Provider = "magic" },
		"generator url": func(c *Config) { c.Generator.URL = "" },
		"overlap":       func(c *Config) { c.Chunker.Overlap = c.Chunker.MaxChars },
		"top k":         func(c *Config) { c.Query.TopK = 0 },
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			cfg := NewDefaultConfig()
			mutate(cfg)
			if err := cfg.Validate(); err == nil {
				t.Fatal("expected validation error")
			}
		})
	}
}

func TestConfig_LoadOverridesDefaults(t *testing.T) {
	t.Setenv("ANSUZ_TEST_VAULT", "/srv/notes")
	path := filepath.Join(t.TempDir(), "config.yaml")
	body := strings.Join([]string{
		"app:",
		"  log_level: debug",
		"  log_format: text",
		"vault:",
		"  path: ${ANSUZ_TEST_VAULT}",
		"generator:",
		"  timeout: 5s",
		"",
	}, "\n")
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg := NewDefaultConfig()
	if err := config.Load(path, cfg); err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Vault.Path != "/srv/notes" {
		t.Errorf("vault = %q", cfg.Vault.Path)
	}
	if cfg.App.LogFormat != LogFormatText || cfg.App.LogLevel.String() != "DEBUG" {
		t.Errorf("app = %+v", cfg.App)
	}
	if cfg.Generator.Timeout != 5*time.Second {
		t.Errorf("timeout = %v", cfg.Generator.Timeout)
	}
	if cfg.Query.TopK != 5 {
		t.Errorf("defaults lost: top_k = %d", cfg.Query.TopK)
	}
}

func TestEmbedderConfig_APIKey(t *testing.T) {
	t.Setenv("ANSUZ_TEST_KEY", "sk-test")
	cfg := EmbedderConfig{APIKeyEnv: "ANSUZ_TEST_KEY"}
	if cfg.APIKey() != "sk-test" {
		t.Errorf("APIKey = %q", cfg.APIKey())
	}
	if (&EmbedderConfig{}).APIKey() != "" {
		t.Error("empty env name should yield empty key")
	}
}
