package main

import (
	"crypto/ed25519"
	"fmt"
	"os"

	"OrgRegistry/internal/logger"
	"OrgRegistry/internal/types"
)

func main() {
	if err := run(os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

// run is the main entry point with error handling.
func run(args []string) error {
	cfg, err := loadConfig(args)
	if err != nil {
		return fmt.Errorf("load config:\n%w", err)
	}

	level, err := logger.ParseLevel(cfg.LogLevel)
	if err != nil {
		return err
	}
	logger.InitWith(os.Stdout, level)

	cfg.PrivateKey, err = loadOrGenerateKey(cfg.KeyPath)
	if err != nil {
		return fmt.Errorf("load key:\n%w", err)
	}

	node, err := NewNode(cfg)
	if err != nil {
		return fmt.Errorf("create node:\n%w", err)
	}

	printStartupInfo(cfg)

	return node.Run()
}

// printStartupInfo displays node configuration at startup.
func printStartupInfo(cfg *Config) {
	operator := types.AddressFromKey(cfg.PrivateKey.Public().(ed25519.PublicKey))

	logger.Info("starting orgd",
		"operator", operator.Hex(),
		"http", cfg.HTTPAddress,
		"http3", cfg.HTTP3Address,
		"data", cfg.DataPath,
		"namespace", cfg.Namespace,
		"fee", cfg.Fee,
		"min_age", cfg.MinCommitmentAge,
		"faucet", cfg.Faucet,
	)
}
