package wallet

import (
	"context"
	"fmt"
	"sync"

	"github.com/rs/zerolog"

	"github.com/utxotab/facilitator/internal/chain"
	"github.com/utxotab/facilitator/internal/ledger"
	klog "github.com/utxotab/facilitator/internal/log"
	"github.com/utxotab/facilitator/pkg/bch"
)

// Backend is the chain surface the wallet needs: balance lookups and
// broadcasting. *chain.Client satisfies it.
type Backend interface {
	Send(ctx context.Context, outputs []chain.Output) (string, error)
	Balance(ctx context.Context, address string) (ledger.Satoshis, error)
}

// Wallet is the facilitator's settlement wallet. Key derivation is lazy:
// nothing touches the mnemonic until the first operation needs it, and a
// failed initialization can be retried.
type Wallet struct {
	mnemonic string
	prefix   string
	backend  Backend
	logger   zerolog.Logger

	mu      sync.Mutex
	ready   bool
	key     *HDKey
	address string
}

// New creates a wallet over the given mnemonic. prefix selects the
// CashAddr network prefix; empty means mainnet.
func New(mnemonic string, backend Backend, prefix string) *Wallet {
	if prefix == "" {
		prefix = bch.MainnetPrefix
	}
	return &Wallet{
		mnemonic: mnemonic,
		prefix:   prefix,
		backend:  backend,
		logger:   klog.Wallet,
	}
}

// Ensure derives the wallet key and address if that has not happened yet.
// Safe to call from any number of goroutines; only the first successful
// call does work.
func (w *Wallet) Ensure() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.ready {
		return nil
	}

	if !ValidateMnemonic(w.mnemonic) {
		return fmt.Errorf("invalid wallet mnemonic")
	}
	master, err := NewMasterKey(SeedFromMnemonic(w.mnemonic))
	if err != nil {
		return fmt.Errorf("wallet init: %w", err)
	}
	key, err := master.DeriveAddressKey(0, ChangeExternal, 0)
	if err != nil {
		return fmt.Errorf("wallet init: %w", err)
	}
	address, err := key.Address(w.prefix)
	if err != nil {
		return fmt.Errorf("wallet init: %w", err)
	}

	w.key = key
	w.address = address
	w.ready = true
	w.logger.Info().Str("address", address).Msg("wallet initialized")
	return nil
}

// Address returns the wallet's receiving address, deriving it on first
// use.
func (w *Wallet) Address() (string, error) {
	if err := w.Ensure(); err != nil {
		return "", err
	}
	return w.address, nil
}

// Balance reports the wallet's spendable balance in satoshis.
func (w *Wallet) Balance(ctx context.Context) (ledger.Satoshis, error) {
	addr, err := w.Address()
	if err != nil {
		return 0, err
	}
	return w.backend.Balance(ctx, addr)
}

// Send broadcasts a transaction paying the given outputs from this wallet
// and returns the txid.
func (w *Wallet) Send(ctx context.Context, outputs []chain.Output) (string, error) {
	if err := w.Ensure(); err != nil {
		return "", err
	}
	txid, err := w.backend.Send(ctx, outputs)
	if err != nil {
		return "", err
	}
	w.logger.Info().Str("txid", txid).Int("outputs", len(outputs)).Msg("settlement broadcast")
	return txid, nil
}
