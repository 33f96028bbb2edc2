package config

import (
	"bytes"
	"fmt"
	"io"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/ilyakaznacheev/cleanenv"
	"gopkg.in/yaml.v3"

	"swap-quote/internal/signing"
)

type Config struct {
	Exchange ExchangeConfig `yaml:"exchange"`
	Catalog  CatalogConfig  `yaml:"catalog"`
	Quote    QuoteConfig    `yaml:"quote"`
	Server   ServerConfig   `yaml:"server"`
	Redis    RedisConfig    `yaml:"redis"`
}

type ExchangeConfig struct {
	BaseURL        string        `yaml:"base_url" env:"EXCHANGE_BASE_URL"`
	HTTPTimeoutSec int64         `yaml:"http_timeout_sec" env:"EXCHANGE_HTTP_TIMEOUT_SEC"`
	Signing        SigningConfig `yaml:"signing"`
}

type SigningConfig struct {
	Scheme         string `yaml:"scheme" env:"EXCHANGE_SIGNING_SCHEME"`
	APIKey         string `yaml:"api_key" env:"EXCHANGE_API_KEY"`
	Secret         string `yaml:"secret" env:"EXCHANGE_API_SECRET"`
	PrivateKeyPEM  string `yaml:"private_key_pem" env:"EXCHANGE_PRIVATE_KEY_PEM"`
	PrivateKeyPath string `yaml:"private_key_path" env:"EXCHANGE_PRIVATE_KEY_PATH"`
}

type CatalogConfig struct {
	TTLSec          int64 `yaml:"ttl_sec" env:"CATALOG_TTL_SEC"`
	RefreshCheckSec int64 `yaml:"refresh_check_sec" env:"CATALOG_REFRESH_CHECK_SEC"`
}

type QuoteConfig struct {
	TTLSec     int64 `yaml:"ttl_sec" env:"QUOTE_TTL_SEC"`
	DebounceMs int64 `yaml:"debounce_ms" env:"QUOTE_DEBOUNCE_MS"`
}

type ServerConfig struct {
	ListenAddr string `yaml:"listen_addr" env:"SERVER_LISTEN_ADDR"`
}

type RedisConfig struct {
	// Addr enables the catalog snapshot backup when set.
	Addr string `yaml:"addr" env:"REDIS_ADDR"`
}

// Load reads the config file (when path is non-empty), applies
// environment variable overrides on top, and validates the result.
// Every secret and knob is settable from the environment alone.
func Load(path string) (Config, error) {
	var cfg Config
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return Config{}, err
		}
		dec := yaml.NewDecoder(bytes.NewReader(data))
		dec.KnownFields(true)
		if err := dec.Decode(&cfg); err != nil {
			return Config{}, err
		}
		if err := dec.Decode(&struct{}{}); err != io.EOF {
			if err == nil {
				return Config{}, fmt.Errorf("config must contain a single YAML document")
			}
			return Config{}, err
		}
	}
	if err := cleanenv.ReadEnv(&cfg); err != nil {
		return Config{}, fmt.Errorf("read env overrides: %w", err)
	}
	cfg.normalize()
	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c *Config) normalize() {
	c.Exchange.BaseURL = strings.TrimSpace(c.Exchange.BaseURL)
	c.Exchange.Signing.Scheme = strings.ToLower(strings.TrimSpace(c.Exchange.Signing.Scheme))
	c.Exchange.Signing.APIKey = strings.TrimSpace(c.Exchange.Signing.APIKey)
	c.Exchange.Signing.Secret = strings.TrimSpace(c.Exchange.Signing.Secret)
	c.Exchange.Signing.PrivateKeyPath = strings.TrimSpace(c.Exchange.Signing.PrivateKeyPath)
	c.Server.ListenAddr = strings.TrimSpace(c.Server.ListenAddr)
	c.Redis.Addr = strings.TrimSpace(c.Redis.Addr)
}

func (c *Config) applyDefaults() {
	if c.Exchange.HTTPTimeoutSec == 0 {
		c.Exchange.HTTPTimeoutSec = 10
	}
	if c.Catalog.TTLSec == 0 {
		c.Catalog.TTLSec = 3600
	}
	if c.Catalog.RefreshCheckSec == 0 {
		c.Catalog.RefreshCheckSec = 60
	}
	if c.Quote.TTLSec == 0 {
		c.Quote.TTLSec = 30
	}
	if c.Quote.DebounceMs == 0 {
		c.Quote.DebounceMs = 300
	}
	if c.Server.ListenAddr == "" {
		c.Server.ListenAddr = ":8080"
	}
}

func (c Config) Validate() error {
	if c.Exchange.BaseURL == "" {
		return fmt.Errorf("exchange base_url is required")
	}
	if err := validateURL(c.Exchange.BaseURL, "http", "https"); err != nil {
		return fmt.Errorf("exchange base_url %v", err)
	}
	switch signing.Scheme(c.Exchange.Signing.Scheme) {
	case signing.SchemeRSA, signing.SchemeHMAC:
	default:
		return fmt.Errorf("exchange signing scheme must be %s or %s", signing.SchemeRSA, signing.SchemeHMAC)
	}
	if c.Exchange.HTTPTimeoutSec < 1 || c.Exchange.HTTPTimeoutSec > 120 {
		return fmt.Errorf("exchange http_timeout_sec must be between 1 and 120")
	}
	if c.Catalog.TTLSec < 60 || c.Catalog.TTLSec > 86400 {
		return fmt.Errorf("catalog ttl_sec must be between 60 and 86400")
	}
	if c.Catalog.RefreshCheckSec < 5 || c.Catalog.RefreshCheckSec > 3600 {
		return fmt.Errorf("catalog refresh_check_sec must be between 5 and 3600")
	}
	if c.Quote.TTLSec < 5 || c.Quote.TTLSec > 600 {
		return fmt.Errorf("quote ttl_sec must be between 5 and 600")
	}
	if c.Quote.DebounceMs < 10 || c.Quote.DebounceMs > 5000 {
		return fmt.Errorf("quote debounce_ms must be between 10 and 5000")
	}
	return nil
}

// SigningOptions maps the config onto the credential loader. Key
// material validation happens there, at construction time.
func (c Config) SigningOptions() signing.Options {
	return signing.Options{
		Scheme:         signing.Scheme(c.Exchange.Signing.Scheme),
		APIKey:         c.Exchange.Signing.APIKey,
		Secret:         c.Exchange.Signing.Secret,
		PrivateKeyPEM:  c.Exchange.Signing.PrivateKeyPEM,
		PrivateKeyPath: c.Exchange.Signing.PrivateKeyPath,
	}
}

func (c Config) HTTPTimeout() time.Duration {
	return time.Duration(c.Exchange.HTTPTimeoutSec) * time.Second
}

func (c Config) CatalogTTL() time.Duration {
	return time.Duration(c.Catalog.TTLSec) * time.Second
}

func (c Config) RefreshCheckInterval() time.Duration {
	return time.Duration(c.Catalog.RefreshCheckSec) * time.Second
}

func (c Config) QuoteTTL() time.Duration {
	return time.Duration(c.Quote.TTLSec) * time.Second
}

func (c Config) Debounce() time.Duration {
	return time.Duration(c.Quote.DebounceMs) * time.Millisecond
}

func validateURL(raw string, schemes ...string) error {
	parsed, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("must be a valid URL: %w", err)
	}
	if parsed.Scheme == "" || parsed.Host == "" {
		return fmt.Errorf("must include scheme and host")
	}
	for _, s := range schemes {
		if parsed.Scheme == s {
			return nil
		}
	}
	return fmt.Errorf("scheme must be %s", strings.Join(schemes, " or "))
}
