package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("WriteFile() error = %v", err)
	}
	return path
}

const validYAML = `
exchange:
  base_url: https://api.exchange.test/v1
  signing:
    scheme: hmac-sha512
    api_key: key-id
    secret: shared-secret
`

func TestLoadAppliesDefaults(t *testing.T) {
	cfg, err := Load(writeConfig(t, validYAML))
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Exchange.HTTPTimeoutSec != 10 {
		t.Fatalf("HTTPTimeoutSec = %d, want 10", cfg.Exchange.HTTPTimeoutSec)
	}
	if cfg.CatalogTTL() != time.Hour {
		t.Fatalf("CatalogTTL() = %v, want 1h", cfg.CatalogTTL())
	}
	if cfg.QuoteTTL() != 30*time.Second {
		t.Fatalf("QuoteTTL() = %v, want 30s", cfg.QuoteTTL())
	}
	if cfg.Debounce() != 300*time.Millisecond {
		t.Fatalf("Debounce() = %v, want 300ms", cfg.Debounce())
	}
	if cfg.Server.ListenAddr != ":8080" {
		t.Fatalf("ListenAddr = %q, want :8080", cfg.Server.ListenAddr)
	}
}

func TestEnvOverridesFile(t *testing.T) {
	t.Setenv("EXCHANGE_API_KEY", "env-key")
	t.Setenv("EXCHANGE_API_SECRET", "env-secret")
	t.Setenv("QUOTE_DEBOUNCE_MS", "150")

	cfg, err := Load(writeConfig(t, validYAML))
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Exchange.Signing.APIKey != "env-key" {
		t.Fatalf("APIKey = %q, want env-key", cfg.Exchange.Signing.APIKey)
	}
	if cfg.Exchange.Signing.Secret != "env-secret" {
		t.Fatalf("Secret = %q, want env-secret", cfg.Exchange.Signing.Secret)
	}
	if cfg.Debounce() != 150*time.Millisecond {
		t.Fatalf("Debounce() = %v, want 150ms", cfg.Debounce())
	}
}

func TestLoadEnvOnly(t *testing.T) {
	t.Setenv("EXCHANGE_BASE_URL", "https://api.exchange.test/v1")
	t.Setenv("EXCHANGE_SIGNING_SCHEME", "hmac-sha512")
	t.Setenv("EXCHANGE_API_KEY", "key-id")
	t.Setenv("EXCHANGE_API_SECRET", "secret")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load(\"\") error = %v", err)
	}
	if cfg.Exchange.BaseURL != "https://api.exchange.test/v1" {
		t.Fatalf("BaseURL = %q", cfg.Exchange.BaseURL)
	}
}

func TestLoadRejectsUnknownFields(t *testing.T) {
	path := writeConfig(t, validYAML+"\nunknown_section:\n  x: 1\n")
	if _, err := Load(path); err == nil {
		t.Fatalf("Load() error = nil, want unknown field error")
	}
}

func TestValidate(t *testing.T) {
	cases := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{
			name:    "missing base url",
			mutate:  func(c *Config) { c.Exchange.BaseURL = "" },
			wantErr: "base_url is required",
		},
		{
			name:    "bad scheme",
			mutate:  func(c *Config) { c.Exchange.Signing.Scheme = "ed25519" },
			wantErr: "signing scheme",
		},
		{
			name:    "non-https url scheme",
			mutate:  func(c *Config) { c.Exchange.BaseURL = "ftp://api.exchange.test" },
			wantErr: "scheme must be",
		},
		{
			name:    "debounce out of range",
			mutate:  func(c *Config) { c.Quote.DebounceMs = 60000 },
			wantErr: "debounce_ms",
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg, err := Load(writeConfig(t, validYAML))
			if err != nil {
				t.Fatalf("Load() error = %v", err)
			}
			tc.mutate(&cfg)
			err = cfg.Validate()
			if err == nil || !strings.Contains(err.Error(), tc.wantErr) {
				t.Fatalf("Validate() error = %v, want containing %q", err, tc.wantErr)
			}
		})
	}
}
