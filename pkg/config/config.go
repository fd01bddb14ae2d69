// Package config loads daemon configuration from YAML with environment
// variable expansion, so secrets stay out of checked-in files.
package config

import (
	"fmt"
	"time"
)

// Config is the root daemon configuration.
type Config struct {
	Chain   ChainConfig   `yaml:"chain"`
	Relay   RelayConfig   `yaml:"relay"`
	Clob    ClobConfig    `yaml:"clob"`
	Factory FactoryConfig `yaml:"factory"`
	HTTP    HTTPConfig    `yaml:"http"`
	Log     LogConfig     `yaml:"log"`
}

// ChainConfig holds the RPC endpoint and chain identity.
type ChainConfig struct {
	RPCURL  string `yaml:"rpc_url"`
	ChainID int64  `yaml:"chain_id"`
}

// RelayConfig holds the gasless relay session.
type RelayConfig struct {
	BaseURL      string        `yaml:"base_url"`
	APIKey       string        `yaml:"api_key"`
	PollInterval time.Duration `yaml:"poll_interval"`
}

// ClobConfig holds the exchange API settings.
type ClobConfig struct {
	BaseURL             string `yaml:"base_url"`
	BuilderSignEndpoint string `yaml:"builder_sign_endpoint"`
	CredentialsPath     string `yaml:"credentials_path"`
}

// FactoryConfig overrides the smart-wallet factory parameters. Empty fields
// keep the Polygon defaults.
type FactoryConfig struct {
	Address      string `yaml:"address"`
	InitCodeHash string `yaml:"init_code_hash"`
}

// HTTPConfig holds the daemon's own listen settings.
type HTTPConfig struct {
	Addr string `yaml:"addr"`
}

// LogConfig holds logging settings.
type LogConfig struct {
	Level       string `yaml:"level"`
	Development bool   `yaml:"development"`
}

func (c *Config) applyDefaults() {
	if c.Chain.ChainID == 0 {
		c.Chain.ChainID = 137
	}
	if c.Relay.PollInterval == 0 {
		c.Relay.PollInterval = 2 * time.Second
	}
	if c.HTTP.Addr == "" {
		c.HTTP.Addr = ":8090"
	}
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
}

// Validate checks for settings the daemon cannot run without.
func (c *Config) Validate() error {
	if c.Chain.RPCURL == "" {
		return fmt.Errorf("chain.rpc_url is required")
	}
	if c.Relay.APIKey == "" {
		return fmt.Errorf("relay.api_key is required")
	}
	return nil
}
