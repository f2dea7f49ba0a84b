// Package node assembles the facilitator process: storage, ledger, chain
// client, wallet, pipelines and the HTTP API, with ordered startup and
// shutdown.
package node

import (
	"path/filepath"
	"time"

	"github.com/rs/zerolog"

	"github.com/utxotab/facilitator/config"
	"github.com/utxotab/facilitator/internal/chain"
	"github.com/utxotab/facilitator/internal/facilitator"
	"github.com/utxotab/facilitator/internal/ledger"
	klog "github.com/utxotab/facilitator/internal/log"
	"github.com/utxotab/facilitator/internal/rpc"
	"github.com/utxotab/facilitator/internal/storage"
	"github.com/utxotab/facilitator/internal/wallet"
	"github.com/utxotab/facilitator/pkg/crypto"
)

// Node is the assembled facilitator daemon.
type Node struct {
	cfg    *config.Config
	db     storage.DB
	store  *ledger.Store
	server *rpc.Server
	logger zerolog.Logger
}

// New builds the facilitator from configuration. The ledger database is
// opened and the address index rebuilt here; serving starts in Start.
func New(cfg *config.Config) (*Node, error) {
	klog.Init(cfg.LogLevel, cfg.LogJSON)
	logger := klog.WithComponent("node")

	db, err := storage.NewBadger(filepath.Join(cfg.DataDir, "ledger"))
	if err != nil {
		return nil, err
	}

	store := ledger.NewStore(db)
	if err := store.Rebuild(); err != nil {
		db.Close()
		return nil, err
	}

	chainClient := chain.New(chain.Options{
		BaseURL:       cfg.BCHServerURL,
		APIType:       cfg.APIType,
		BearerToken:   cfg.BearerToken,
		ServerAddress: cfg.ServerBCHAddress,
		MinConf:       cfg.MinConfirmations,
		Timeout:       15 * time.Second,
	})

	engine := ledger.NewEngine(store, chainClient, cfg.ServerBCHAddress)

	var settler facilitator.Settler
	if cfg.WalletMnemonic != "" {
		settler = wallet.New(cfg.WalletMnemonic, chainClient, "")
	} else {
		logger.Warn().Msg("no wallet mnemonic configured; settlement disabled")
	}

	fac := facilitator.New(store, engine, crypto.MessageVerifier{}, settler)
	server := rpc.New(cfg.ListenAddr(), fac, cfg.CORSOrigins)

	return &Node{
		cfg:    cfg,
		db:     db,
		store:  store,
		server: server,
		logger: logger,
	}, nil
}

// Start begins serving the HTTP API.
func (n *Node) Start() error {
	if err := n.server.Start(); err != nil {
		return err
	}
	n.logger.Info().
		Str("addr", n.server.Addr()).
		Str("env", n.cfg.NodeEnv).
		Msg("facilitator started")
	return nil
}

// Addr returns the API listen address.
func (n *Node) Addr() string {
	return n.server.Addr()
}

// Stop shuts down the API server and closes the ledger database.
func (n *Node) Stop() {
	if err := n.server.Stop(); err != nil {
		n.logger.Error().Err(err).Msg("api shutdown failed")
	}
	if err := n.db.Close(); err != nil {
		n.logger.Error().Err(err).Msg("ledger database close failed")
	}
	n.logger.Info().Msg("facilitator stopped")
}
