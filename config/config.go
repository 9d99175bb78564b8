package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"
)

// Duration wraps time.Duration so both TOML and YAML accept strings such as
// "30s".
type Duration struct {
	time.Duration
}

// UnmarshalText implements encoding.TextUnmarshaler for the TOML decoder.
func (d *Duration) UnmarshalText(text []byte) error {
	raw := strings.TrimSpace(string(text))
	if raw == "" {
		d.Duration = 0
		return nil
	}
	parsed, err := time.ParseDuration(raw)
	if err != nil {
		return fmt.Errorf("parse duration %q: %w", raw, err)
	}
	d.Duration = parsed
	return nil
}

// MarshalText renders the duration in time.Duration notation.
func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

// UnmarshalYAML parses human readable duration strings.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	if value == nil {
		return nil
	}
	if value.Kind != yaml.ScalarNode {
		return fmt.Errorf("duration must be string")
	}
	return d.UnmarshalText([]byte(value.Value))
}

// Config captures runtime configuration for saled.
type Config struct {
	Environment   string           `toml:"Environment" yaml:"environment"`
	ListenAddress string           `toml:"ListenAddress" yaml:"listen"`
	DataDir       string           `toml:"DataDir" yaml:"data_dir"`
	AllowMigrate  bool             `toml:"AllowMigrate" yaml:"allow_migrate"`
	Paused        bool             `toml:"Paused" yaml:"paused"`
	Auth          AuthConfig       `toml:"Auth" yaml:"auth"`
	RateLimit     RateLimitConfig  `toml:"RateLimit" yaml:"rate_limit"`
	Logging       LoggingConfig    `toml:"Logging" yaml:"logging"`
	Telemetry     TelemetryConfig  `toml:"Telemetry" yaml:"telemetry"`
	Receipts      ReceiptsConfig   `toml:"Receipts" yaml:"receipts"`
	HTTP          HTTPConfig       `toml:"HTTP" yaml:"http"`
	Genesis       []GenesisBalance `toml:"Genesis" yaml:"genesis"`
}

// AuthConfig controls bearer token verification on the HTTP API.
type AuthConfig struct {
	Enabled   bool     `toml:"Enabled" yaml:"enabled"`
	Secret    string   `toml:"Secret" yaml:"secret"`
	SecretEnv string   `toml:"SecretEnv" yaml:"secret_env"`
	Issuer    string   `toml:"Issuer" yaml:"issuer"`
	Audience  string   `toml:"Audience" yaml:"audience"`
	ClockSkew Duration `toml:"ClockSkew" yaml:"clock_skew"`
	TokenTTL  Duration `toml:"TokenTTL" yaml:"token_ttl"`
}

// RateLimitConfig throttles each client independently.
type RateLimitConfig struct {
	RequestsPerSecond float64 `toml:"RequestsPerSecond" yaml:"requests_per_second"`
	Burst             int     `toml:"Burst" yaml:"burst"`
}

// LoggingConfig selects the log level and optional rotated file output.
type LoggingConfig struct {
	Level      string `toml:"Level" yaml:"level"`
	File       string `toml:"File" yaml:"file"`
	MaxSizeMB  int    `toml:"MaxSizeMB" yaml:"max_size_mb"`
	MaxBackups int    `toml:"MaxBackups" yaml:"max_backups"`
	MaxAgeDays int    `toml:"MaxAgeDays" yaml:"max_age_days"`
	Compress   bool   `toml:"Compress" yaml:"compress"`
}

// TelemetryConfig configures OTLP export. An empty endpoint disables it.
type TelemetryConfig struct {
	Endpoint string            `toml:"Endpoint" yaml:"endpoint"`
	Insecure bool              `toml:"Insecure" yaml:"insecure"`
	Headers  map[string]string `toml:"Headers" yaml:"headers"`
	Metrics  bool              `toml:"Metrics" yaml:"metrics"`
	Traces   bool              `toml:"Traces" yaml:"traces"`
}

// ReceiptsConfig selects the receipt journal backend.
type ReceiptsConfig struct {
	Driver string `toml:"Driver" yaml:"driver"`
	DSN    string `toml:"DSN" yaml:"dsn"`
	Path   string `toml:"Path" yaml:"path"`
}

// HTTPConfig bounds the API server.
type HTTPConfig struct {
	ReadTimeout     Duration `toml:"ReadTimeout" yaml:"read_timeout"`
	WriteTimeout    Duration `toml:"WriteTimeout" yaml:"write_timeout"`
	ShutdownTimeout Duration `toml:"ShutdownTimeout" yaml:"shutdown_timeout"`
	MaxBodyBytes    int64    `toml:"MaxBodyBytes" yaml:"max_body_bytes"`
}

// GenesisBalance seeds an account once, on first start.
type GenesisBalance struct {
	Account string `toml:"Account" yaml:"account"`
	Asset   string `toml:"Asset" yaml:"asset"`
	Amount  uint64 `toml:"Amount" yaml:"amount"`
}

// LookupFunc resolves environment variables. os.LookupEnv satisfies it.
type LookupFunc func(string) (string, bool)

// Load reads configuration from the supplied path using the process
// environment for overrides.
func Load(path string) (*Config, error) {
	return LoadWithEnv(path, os.LookupEnv)
}

// LoadWithEnv reads configuration from path, decoding YAML for .yaml/.yml
// files and TOML otherwise, then applies environment overrides and defaults
// and validates the result.
func LoadWithEnv(path string, lookup LookupFunc) (*Config, error) {
	cfg := &Config{}
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		file, err := os.Open(path)
		if err != nil {
			return nil, fmt.Errorf("open config: %w", err)
		}
		defer file.Close()
		dec := yaml.NewDecoder(file)
		dec.KnownFields(true)
		if err := dec.Decode(cfg); err != nil {
			return nil, fmt.Errorf("decode config: %w", err)
		}
	default:
		meta, err := toml.DecodeFile(path, cfg)
		if err != nil {
			return nil, fmt.Errorf("decode config: %w", err)
		}
		if undecoded := meta.Undecoded(); len(undecoded) > 0 {
			return nil, fmt.Errorf("config file %s has unknown keys: %v", path, undecoded)
		}
	}
	applyEnv(cfg, lookup)
	applyDefaults(cfg)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func applyEnv(cfg *Config, lookup LookupFunc) {
	if lookup == nil {
		return
	}
	if v, ok := lookup("SALE_ENV"); ok && strings.TrimSpace(v) != "" {
		cfg.Environment = strings.TrimSpace(v)
	}
	if v, ok := lookup("SALE_LISTEN"); ok && strings.TrimSpace(v) != "" {
		cfg.ListenAddress = strings.TrimSpace(v)
	}
	secretEnv := strings.TrimSpace(cfg.Auth.SecretEnv)
	if secretEnv == "" {
		secretEnv = "SALE_AUTH_SECRET"
	}
	if v, ok := lookup(secretEnv); ok && strings.TrimSpace(v) != "" {
		cfg.Auth.Secret = strings.TrimSpace(v)
	}
	if v, ok := lookup("OTEL_EXPORTER_OTLP_ENDPOINT"); ok && strings.TrimSpace(v) != "" {
		cfg.Telemetry.Endpoint = strings.TrimSpace(v)
	}
	if v, ok := lookup("OTEL_EXPORTER_OTLP_INSECURE"); ok {
		cfg.Telemetry.Insecure = strings.EqualFold(strings.TrimSpace(v), "true")
	}
	if v, ok := lookup("OTEL_EXPORTER_OTLP_HEADERS"); ok && strings.TrimSpace(v) != "" {
		if cfg.Telemetry.Headers == nil {
			cfg.Telemetry.Headers = make(map[string]string)
		}
		for _, pair := range strings.Split(v, ",") {
			key, value, found := strings.Cut(pair, "=")
			if !found || strings.TrimSpace(key) == "" {
				continue
			}
			cfg.Telemetry.Headers[strings.TrimSpace(key)] = strings.TrimSpace(value)
		}
	}
}

func applyDefaults(cfg *Config) {
	if strings.TrimSpace(cfg.Environment) == "" {
		cfg.Environment = "dev"
	}
	if cfg.ListenAddress == "" {
		cfg.ListenAddress = ":8088"
	}
	if cfg.DataDir == "" {
		cfg.DataDir = "./sale-data"
	}
	if cfg.Auth.ClockSkew.Duration == 0 {
		cfg.Auth.ClockSkew.Duration = 30 * time.Second
	}
	if cfg.Auth.TokenTTL.Duration == 0 {
		cfg.Auth.TokenTTL.Duration = time.Hour
	}
	if cfg.RateLimit.RequestsPerSecond == 0 {
		cfg.RateLimit.RequestsPerSecond = 20
	}
	if cfg.RateLimit.Burst == 0 {
		cfg.RateLimit.Burst = 40
	}
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Logging.File != "" {
		if cfg.Logging.MaxSizeMB == 0 {
			cfg.Logging.MaxSizeMB = 100
		}
		if cfg.Logging.MaxBackups == 0 {
			cfg.Logging.MaxBackups = 5
		}
		if cfg.Logging.MaxAgeDays == 0 {
			cfg.Logging.MaxAgeDays = 30
		}
	}
	if cfg.Receipts.Driver == "" {
		cfg.Receipts.Driver = "sqlite"
	}
	if cfg.Receipts.Driver == "sqlite" && cfg.Receipts.DSN == "" && cfg.Receipts.Path == "" {
		cfg.Receipts.Path = filepath.Join(cfg.DataDir, "receipts.sqlite")
	}
	if cfg.HTTP.ReadTimeout.Duration == 0 {
		cfg.HTTP.ReadTimeout.Duration = 10 * time.Second
	}
	if cfg.HTTP.WriteTimeout.Duration == 0 {
		cfg.HTTP.WriteTimeout.Duration = 15 * time.Second
	}
	if cfg.HTTP.ShutdownTimeout.Duration == 0 {
		cfg.HTTP.ShutdownTimeout.Duration = 10 * time.Second
	}
	if cfg.HTTP.MaxBodyBytes == 0 {
		cfg.HTTP.MaxBodyBytes = 1 << 20
	}
}

// StatePath returns the LevelDB directory under the data dir.
func (c *Config) StatePath() string {
	return filepath.Join(c.DataDir, "state")
}

// IsProduction reports whether the environment names a production deployment.
func (c *Config) IsProduction() bool {
	switch strings.ToLower(strings.TrimSpace(c.Environment)) {
	case "prod", "production", "mainnet":
		return true
	}
	return false
}
