package config

import (
	"errors"
	"fmt"
	"strings"

	"tokensale/crypto"
	"tokensale/native/bank"
)

const minSecretLength = 32

// Validate checks the configuration for values the service cannot run with.
func (c *Config) Validate() error {
	if c == nil {
		return errors.New("config: nil configuration")
	}
	if strings.TrimSpace(c.ListenAddress) == "" {
		return errors.New("config: listen address required")
	}
	if c.Auth.Enabled && len(c.Auth.Secret) < minSecretLength {
		return fmt.Errorf("config: auth secret must be at least %d bytes", minSecretLength)
	}
	if c.IsProduction() && !c.Auth.Enabled {
		return errors.New("config: auth must be enabled in production")
	}
	if c.RateLimit.RequestsPerSecond < 0 || c.RateLimit.Burst < 0 {
		return errors.New("config: rate limit values must be non-negative")
	}
	switch strings.ToLower(c.Logging.Level) {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("config: unknown log level %q", c.Logging.Level)
	}
	switch c.Receipts.Driver {
	case "sqlite":
	case "postgres":
		if strings.TrimSpace(c.Receipts.DSN) == "" {
			return errors.New("config: postgres receipts require a dsn")
		}
	default:
		return fmt.Errorf("config: unsupported receipts driver %q", c.Receipts.Driver)
	}
	if c.HTTP.MaxBodyBytes < 0 {
		return errors.New("config: max body bytes must be non-negative")
	}
	for i, g := range c.Genesis {
		if _, err := crypto.ParseIdentity(g.Account); err != nil {
			return fmt.Errorf("config: genesis[%d] account: %w", i, err)
		}
		if _, err := bank.NormalizeAsset(g.Asset); err != nil {
			return fmt.Errorf("config: genesis[%d] asset: %w", i, err)
		}
		if g.Amount == 0 {
			return fmt.Errorf("config: genesis[%d] amount must be positive", i)
		}
	}
	return nil
}
