package main

import (
	"crypto/ed25519"
	"crypto/rand"
	"errors"
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// envPrefix prefixes environment overrides, e.g. ORGD_FEE=25.
const envPrefix = "ORGD"

// Config holds the node configuration.
type Config struct {
	// DataPath is the directory for persistent storage.
	DataPath string `mapstructure:"data"`

	// HTTPAddress is the HTTP API listen address.
	HTTPAddress string `mapstructure:"http"`

	// HTTP3Address is the HTTP/3 listen address (empty to disable).
	HTTP3Address string `mapstructure:"http3"`

	// SyncInterval enables storage group commit (0 syncs every commit).
	SyncInterval time.Duration `mapstructure:"sync_interval"`

	// KeyPath is the path to the Ed25519 private key file.
	KeyPath string `mapstructure:"key"`

	// LogLevel is the minimum log level (debug, info, warn, error).
	LogLevel string `mapstructure:"log_level"`

	// Namespace is the label names are registered under.
	Namespace string `mapstructure:"namespace"`

	// Fee is the flat registration fee.
	Fee uint64 `mapstructure:"fee"`

	// MinCommitmentAge is the minimum delay between commit and finalize.
	MinCommitmentAge time.Duration `mapstructure:"min_commitment_age"`

	// MaxCommitmentAge is how long a commitment stays usable (0 for no bound).
	MaxCommitmentAge time.Duration `mapstructure:"max_commitment_age"`

	// InitialMint is the fee-token amount minted to the operator at genesis.
	InitialMint uint64 `mapstructure:"initial_mint"`

	// Faucet is the largest faucet grant (0 disables the faucet).
	Faucet uint64 `mapstructure:"faucet"`

	// Attest signs every receipt with a BLS key derived from the node key.
	Attest bool `mapstructure:"attest"`

	// PrivateKey is the node's Ed25519 key. It is the genesis operator.
	PrivateKey ed25519.PrivateKey `mapstructure:"-"`
}

// defineFlags registers the command-line flags. Flag names use hyphens,
// configuration keys use underscores.
func defineFlags(fs *flag.FlagSet) *string {
	configPath := fs.String("config", "", "Config file path (yaml, toml or json)")

	fs.String("data", "./data", "Data directory path")
	fs.String("http", ":8080", "HTTP API address")
	fs.String("http3", "", "HTTP/3 API address (disabled if empty)")
	fs.Duration("sync-interval", 0, "WAL group-commit interval (0 syncs every commit)")
	fs.String("key", "", "Ed25519 private key path (generates new if missing)")
	fs.String("log-level", "info", "Log level (debug, info, warn, error)")
	fs.String("namespace", "org", "Namespace label names are registered under")
	fs.Uint64("fee", 0, "Registration fee in fee tokens")
	fs.Duration("min-commitment-age", time.Minute, "Minimum commitment age before finalize")
	fs.Duration("max-commitment-age", 24*time.Hour, "Maximum commitment age (0 for none)")
	fs.Uint64("initial-mint", 1_000_000_000, "Fee tokens minted to the operator at genesis")
	fs.Uint64("faucet", 0, "Largest faucet grant (0 disables the faucet)")
	fs.Bool("attest", true, "Sign receipts with a BLS key derived from the node key")

	return configPath
}

// loadConfig layers defaults, an optional config file, ORGD_* environment
// variables and explicitly set flags, in increasing precedence.
func loadConfig(args []string) (*Config, error) {
	fs := flag.NewFlagSet("orgd", flag.ContinueOnError)
	configPath := defineFlags(fs)

	if err := fs.Parse(args); err != nil {
		return nil, err
	}

	v := viper.New()

	fs.VisitAll(func(f *flag.Flag) {
		if f.Name != "config" {
			v.SetDefault(configKey(f.Name), f.DefValue)
		}
	})

	if *configPath != "" {
		v.SetConfigFile(*configPath)

		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config file:\n%w", err)
		}
	}

	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	fs.Visit(func(f *flag.Flag) {
		if f.Name != "config" {
			v.Set(configKey(f.Name), f.Value.String())
		}
	})

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decode config:\n%w", err)
	}

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("invalid config:\n%w", err)
	}

	return &cfg, nil
}

// validate checks values the node cannot start with.
func (c *Config) validate() error {
	var errs []error

	if c.DataPath == "" {
		errs = append(errs, errors.New("data path is required"))
	}

	if c.HTTPAddress == "" {
		errs = append(errs, errors.New("http address is required"))
	}

	if c.SyncInterval < 0 {
		errs = append(errs, fmt.Errorf("sync interval %s must not be negative", c.SyncInterval))
	}

	if c.MaxCommitmentAge != 0 && c.MaxCommitmentAge <= c.MinCommitmentAge {
		errs = append(errs, fmt.Errorf("max commitment age %s must exceed min %s", c.MaxCommitmentAge, c.MinCommitmentAge))
	}

	return errors.Join(errs...)
}

// configKey maps a flag name to its configuration key.
func configKey(flagName string) string {
	return strings.ReplaceAll(flagName, "-", "_")
}

// loadOrGenerateKey loads the private key from file or generates a new one.
func loadOrGenerateKey(keyPath string) (ed25519.PrivateKey, error) {
	if keyPath == "" {
		return generateNewKey()
	}

	data, err := os.ReadFile(keyPath)
	if os.IsNotExist(err) {
		return generateAndSaveKey(keyPath)
	}

	if err != nil {
		return nil, fmt.Errorf("read key file:\n%w", err)
	}

	if len(data) != ed25519.PrivateKeySize {
		return nil, fmt.Errorf("invalid key size: got %d, want %d", len(data), ed25519.PrivateKeySize)
	}

	return ed25519.PrivateKey(data), nil
}

// generateNewKey creates a new Ed25519 private key.
func generateNewKey() (ed25519.PrivateKey, error) {
	_, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("generate key:\n%w", err)
	}

	return priv, nil
}

// generateAndSaveKey creates a new key and saves it to the given path.
func generateAndSaveKey(path string) (ed25519.PrivateKey, error) {
	priv, err := generateNewKey()
	if err != nil {
		return nil, err
	}

	if err := os.WriteFile(path, priv, 0600); err != nil {
		return nil, fmt.Errorf("save key to %s:\n%w", path, err)
	}

	return priv, nil
}
