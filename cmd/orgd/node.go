package main

import (
	"crypto/ed25519"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"OrgRegistry/internal/api"
	"OrgRegistry/internal/attest"
	"OrgRegistry/internal/chain"
	"OrgRegistry/internal/genesis"
	"OrgRegistry/internal/ledger"
	"OrgRegistry/internal/logger"
	"OrgRegistry/internal/storage"
	"OrgRegistry/internal/types"
)

// Node wires storage, the runtime, the deployed components and the API.
type Node struct {
	cfg     *Config             // cfg is the node configuration
	db      *storage.Storage    // db is the persistent store
	runtime *chain.Runtime      // runtime executes calls
	deploy  *genesis.Deployment // deploy holds the component handles
	api     *api.Server         // api is the HTTP server
}

// NewNode opens storage, applies genesis if needed and builds the API server.
func NewNode(cfg *Config) (*Node, error) {
	if err := os.MkdirAll(cfg.DataPath, 0o755); err != nil {
		return nil, fmt.Errorf("create data dir:\n%w", err)
	}

	db, err := storage.New(cfg.DataPath, storage.WithSyncInterval(cfg.SyncInterval))
	if err != nil {
		return nil, fmt.Errorf("open storage:\n%w", err)
	}

	n, err := newNode(cfg, db)
	if err != nil {
		db.Close()
		return nil, err
	}

	return n, nil
}

// newNode builds a node over an open store.
func newNode(cfg *Config, db *storage.Storage) (*Node, error) {
	var opts []chain.Option

	if cfg.Attest {
		signer, err := attest.DeriveFromED25519(cfg.PrivateKey)
		if err != nil {
			return nil, fmt.Errorf("derive attestation key:\n%w", err)
		}

		opts = append(opts, chain.WithSigner(signer))
	}

	rt, err := chain.New(db, opts...)
	if err != nil {
		return nil, fmt.Errorf("create runtime:\n%w", err)
	}

	rt.Subscribe(ledger.Observe)

	d, err := genesis.Deploy(rt, genesis.Config{
		Operator:         types.AddressFromKey(cfg.PrivateKey.Public().(ed25519.PublicKey)),
		Namespace:        cfg.Namespace,
		Fee:              cfg.Fee,
		MinCommitmentAge: cfg.MinCommitmentAge,
		MaxCommitmentAge: cfg.MaxCommitmentAge,
		InitialMint:      cfg.InitialMint,
	})
	if err != nil {
		return nil, fmt.Errorf("deploy:\n%w", err)
	}

	server := api.New(api.Config{
		Addr:      cfg.HTTPAddress,
		HTTP3Addr: cfg.HTTP3Address,
		Faucet:    cfg.Faucet,
	}, rt, d, cfg.PrivateKey)

	return &Node{cfg: cfg, db: db, runtime: rt, deploy: d, api: server}, nil
}

// Run starts the API and blocks until SIGINT or SIGTERM, then shuts down.
func (n *Node) Run() error {
	if err := n.api.Start(); err != nil {
		n.db.Close()
		return fmt.Errorf("start api:\n%w", err)
	}

	logger.Info("node running",
		"height", n.runtime.Height(),
		"ledger", n.deploy.Ledger().Address().Hex(),
		"registrar", n.deploy.Registrar.Address().Hex(),
	)

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig

	return n.Stop()
}

// Stop shuts down the API and closes storage.
func (n *Node) Stop() error {
	logger.Info("shutting down")

	if err := n.api.Stop(); err != nil {
		logger.Warn("api shutdown", "error", err)
	}

	return n.db.Close()
}
