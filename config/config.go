// Package config loads and validates the facilitator's configuration.
// Every option is settable from the environment; flags override.
package config

import (
	"fmt"

	"github.com/jessevdk/go-flags"

	"github.com/utxotab/facilitator/pkg/bch"
)

// API type values for the BCH node gateway.
const (
	APITypeConsumer = "consumer-api"
	APITypeREST     = "rest-api"
)

// Config holds all runtime settings.
type Config struct {
	Port             int      `long:"port" env:"PORT" default:"4345" description:"HTTP API listen port"`
	NodeEnv          string   `long:"node-env" env:"NODE_ENV" default:"development" description:"deployment environment (development|production)"`
	LogLevel         string   `long:"log-level" env:"LOG_LEVEL" default:"info" description:"log level (trace|debug|info|warn|error)"`
	LogJSON          bool     `long:"log-json" env:"LOG_JSON" description:"emit JSON logs instead of console output"`
	ServerBCHAddress string   `long:"server-bch-address" env:"SERVER_BCH_ADDRESS" description:"facilitator's receiving CashAddr; payment UTXOs must pay it"`
	APIType          string   `long:"api-type" env:"API_TYPE" default:"consumer-api" choice:"consumer-api" choice:"rest-api" description:"BCH gateway API flavor"`
	BCHServerURL     string   `long:"bch-server-url" env:"BCH_SERVER_URL" description:"BCH node gateway base URL"`
	BearerToken      string   `long:"bearer-token" env:"BEARER_TOKEN" description:"bearer token for the BCH gateway"`
	DataDir          string   `long:"data-dir" env:"DATA_DIR" default:"./data" description:"ledger database directory"`
	WalletMnemonic   string   `long:"wallet-mnemonic" env:"WALLET_MNEMONIC" description:"BIP-39 mnemonic for the settlement wallet"`
	MinConfirmations int      `long:"min-confirmations" env:"MIN_CONFIRMATIONS" default:"0" description:"confirmation floor for payment UTXOs"`
	CORSOrigins      []string `long:"cors-origin" env:"CORS_ORIGINS" env-delim:"," description:"allowed CORS origins"`
}

// Load parses configuration from the environment and the given command
// line arguments, then validates it.
func Load(args []string) (*Config, error) {
	var cfg Config
	parser := flags.NewParser(&cfg, flags.HelpFlag|flags.PassDoubleDash)
	if _, err := parser.ParseArgs(args); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks invariants Load's tag constraints cannot express.
func (c *Config) Validate() error {
	if c.Port < 1 || c.Port > 65535 {
		return fmt.Errorf("port %d out of range", c.Port)
	}
	if c.APIType != APITypeConsumer && c.APIType != APITypeREST {
		return fmt.Errorf("api type %q must be %s or %s", c.APIType, APITypeConsumer, APITypeREST)
	}
	if c.MinConfirmations < 0 {
		return fmt.Errorf("min confirmations must not be negative")
	}
	if c.Production() && c.ServerBCHAddress == "" {
		return fmt.Errorf("SERVER_BCH_ADDRESS is required in production")
	}
	if c.ServerBCHAddress != "" && !bch.Valid(c.ServerBCHAddress) {
		return fmt.Errorf("server address %q is not a valid CashAddr", c.ServerBCHAddress)
	}
	return nil
}

// Production reports whether the process runs in production mode.
func (c *Config) Production() bool {
	return c.NodeEnv == "production"
}

// ListenAddr is the HTTP API bind address.
func (c *Config) ListenAddr() string {
	return fmt.Sprintf(":%d", c.Port)
}
