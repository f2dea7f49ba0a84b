package facilitator

import (
	"context"

	"github.com/rs/zerolog"

	"github.com/utxotab/facilitator/internal/chain"
	"github.com/utxotab/facilitator/internal/ledger"
	klog "github.com/utxotab/facilitator/internal/log"
	"github.com/utxotab/facilitator/pkg/crypto"
)

// Settler is the wallet surface settlement needs. *wallet.Wallet
// satisfies it.
type Settler interface {
	Ensure() error
	Balance(ctx context.Context) (ledger.Satoshis, error)
	Send(ctx context.Context, outputs []chain.Output) (string, error)
}

// Facilitator wires the verification and settlement pipelines over the
// ledger engine, signature verifier and settlement wallet.
type Facilitator struct {
	store        *ledger.Store
	engine       *ledger.Engine
	verifier     crypto.Verifier
	wallet       Settler
	logger       zerolog.Logger
	settleLogger zerolog.Logger
}

// New creates a facilitator. verifier may not be nil; wallet may be nil
// for verify-only deployments, in which case Settle reports
// unexpected_settle_error.
func New(store *ledger.Store, engine *ledger.Engine, verifier crypto.Verifier, wallet Settler) *Facilitator {
	return &Facilitator{
		store:        store,
		engine:       engine,
		verifier:     verifier,
		wallet:       wallet,
		logger:       klog.Verify,
		settleLogger: klog.Settle,
	}
}
