package ledger

import (
	"context"
	"strings"
	"time"

	"github.com/rs/zerolog"

	klog "github.com/utxotab/facilitator/internal/log"
	"github.com/utxotab/facilitator/internal/storage"
)

// Invalid reasons produced by the debit engine. The verification pipeline
// propagates these verbatim.
const (
	ReasonMissingAuthorization   = "missing_authorization"
	ReasonNoUTXOForAddress       = "no_utxo_found_for_address"
	ReasonUTXONotFound           = "utxo_not_found"
	ReasonInvalidReceiverAddress = "invalid_receiver_address"
	ReasonInsufficientBalance    = "insufficient_utxo_balance"
	ReasonUnexpectedValidation   = "unexpected_utxo_validation_error"
)

// UTXOCheck is the chain's verdict on an outpoint.
type UTXOCheck struct {
	Valid           bool
	Reason          string // set when !Valid
	AmountSat       Satoshis
	ReceiverAddress string
}

// UTXOValidator fetches and validates an outpoint on-chain. Implementations
// must compare the output's recipient against the configured server address
// and report invalid_receiver_address on mismatch.
type UTXOValidator interface {
	ValidateUTXO(ctx context.Context, txid string, vout uint32) (UTXOCheck, error)
}

// DebitResult is the outcome of one debit attempt.
type DebitResult struct {
	Valid               bool
	Reason              string // invalid reason when !Valid
	RemainingBalanceSat Satoshis
	Entry               *Entry
}

func invalidDebit(reason string) DebitResult {
	return DebitResult{Reason: reason}
}

// Engine applies debits against the ledger. Debits for the same UTXO id are
// serialized by a keyed lock so interleaved calls can never drive a balance
// negative or race a deletion; distinct ids proceed concurrently.
type Engine struct {
	store           *Store
	chain           UTXOValidator
	serverAddress   string
	validateTimeout time.Duration
	locks           *keyedMutex
	logger          zerolog.Logger
	now             func() time.Time
}

// NewEngine creates a debit engine. serverAddress is the facilitator's own
// receiving address; newly observed UTXOs must pay it.
func NewEngine(store *Store, chain UTXOValidator, serverAddress string) *Engine {
	return &Engine{
		store:           store,
		chain:           chain,
		serverAddress:   serverAddress,
		validateTimeout: 30 * time.Second,
		locks:           newKeyedMutex(),
		logger:          klog.Ledger,
		now:             time.Now,
	}
}

// SetValidateTimeout bounds the on-chain validation call.
func (e *Engine) SetValidateTimeout(d time.Duration) {
	if d > 0 {
		e.validateTimeout = d
	}
}

// Debit charges cost against the payer's UTXO. For a pinned outpoint the
// entry is created on first sight (after chain validation) and drawn down on
// later calls. When ref.Any is set the caller must supply the entry chosen
// by SelectUTXO; it is treated as authoritative and re-written into the UTXO
// namespace if the primary record went missing.
func (e *Engine) Debit(ctx context.Context, payer string, ref OutpointRef, cost Satoshis, selected *Entry) DebitResult {
	if payer == "" {
		return invalidDebit(ReasonMissingAuthorization)
	}
	if cost < 0 {
		// A negative cost would inflate the balance. Callers validate
		// amounts before reaching the engine; refuse regardless.
		e.logger.Error().Str("payer", payer).Str("cost", cost.String()).Msg("negative debit refused")
		return invalidDebit(ReasonUnexpectedValidation)
	}

	txid, vout := ref.TxID, ref.Vout
	if ref.Any {
		if selected == nil {
			return invalidDebit(ReasonNoUTXOForAddress)
		}
		txid, vout = selected.TxID, selected.Vout
	}
	utxoID := UTXOKey(txid, vout)

	unlock := e.locks.Lock(utxoID)
	defer unlock()

	entry, err := e.store.GetEntry(utxoID)
	switch {
	case err == nil:
		return e.debitExisting(entry, cost)

	case storage.IsNotFound(err):
		if ref.Any && selected != nil {
			// The index says this coin exists but the primary record is
			// gone. The selected entry is authoritative: repair the
			// primary record, then debit it like any existing entry.
			repaired := selected.Clone()
			repaired.UTXOID = utxoID
			if err := e.store.PutEntry(repaired); err != nil {
				e.logger.Error().Str("utxo", utxoID).Err(err).Msg("ledger repair write failed")
				return invalidDebit(ReasonUnexpectedValidation)
			}
			e.logger.Warn().Str("utxo", utxoID).Msg("repaired missing ledger entry from address index")
			return e.debitExisting(repaired, cost)
		}
		return e.debitNew(ctx, payer, txid, vout, utxoID, cost)

	default:
		e.logger.Error().Str("utxo", utxoID).Err(err).Msg("ledger read failed")
		return invalidDebit(ReasonUnexpectedValidation)
	}
}

// debitNew validates the outpoint on-chain and opens a ledger entry with the
// first debit already applied.
func (e *Engine) debitNew(ctx context.Context, payer, txid string, vout uint32, utxoID string, cost Satoshis) DebitResult {
	vctx, cancel := context.WithTimeout(ctx, e.validateTimeout)
	defer cancel()

	check, err := e.chain.ValidateUTXO(vctx, txid, vout)
	if err != nil {
		e.logger.Error().Str("utxo", utxoID).Err(err).Msg("utxo validation failed")
		return invalidDebit(ReasonUnexpectedValidation)
	}
	if !check.Valid {
		reason := check.Reason
		if reason == "" {
			reason = ReasonUTXONotFound
		}
		return invalidDebit(reason)
	}
	if e.serverAddress != "" && !strings.EqualFold(check.ReceiverAddress, e.serverAddress) {
		return invalidDebit(ReasonInvalidReceiverAddress)
	}

	remaining := check.AmountSat - cost
	if remaining < 0 {
		return DebitResult{Reason: ReasonInsufficientBalance, RemainingBalanceSat: check.AmountSat}
	}

	now := Timestamp(e.now())
	entry := &Entry{
		UTXOID:              utxoID,
		TxID:                txid,
		Vout:                vout,
		PayerAddress:        payer,
		ReceiverAddress:     check.ReceiverAddress,
		TransactionValueSat: check.AmountSat,
		RemainingBalanceSat: remaining,
		TotalDebitedSat:     cost,
		FirstSeen:           now,
		LastUpdated:         now,
		LastChecked:         now,
	}
	if err := e.store.PutEntry(entry); err != nil {
		e.logger.Error().Str("utxo", utxoID).Err(err).Msg("ledger entry write failed")
		return invalidDebit(ReasonUnexpectedValidation)
	}
	if err := e.store.UpsertAddress(entry); err != nil {
		// The index is reconstructible; the primary write already holds.
		e.logger.Warn().Str("utxo", utxoID).Err(err).Msg("address index upsert failed")
	}

	e.logger.Info().
		Str("utxo", utxoID).
		Str("payer", payer).
		Str("debited", cost.String()).
		Str("remaining", remaining.String()).
		Msg("ledger entry opened")

	if remaining == 0 {
		e.closeEntry(entry)
	}
	return DebitResult{Valid: true, RemainingBalanceSat: remaining, Entry: entry}
}

// debitExisting draws cost down from an open entry, destroying it when the
// balance reaches zero.
func (e *Engine) debitExisting(entry *Entry, cost Satoshis) DebitResult {
	newRemaining := entry.RemainingBalanceSat - cost
	if newRemaining < 0 {
		return DebitResult{Reason: ReasonInsufficientBalance, RemainingBalanceSat: entry.RemainingBalanceSat}
	}

	updated := entry.Clone()
	now := Timestamp(e.now())
	updated.RemainingBalanceSat = newRemaining
	updated.TotalDebitedSat += cost
	updated.LastUpdated = now
	updated.LastChecked = now

	if err := e.store.PutEntry(updated); err != nil {
		e.logger.Error().Str("utxo", updated.UTXOID).Err(err).Msg("ledger entry write failed")
		return invalidDebit(ReasonUnexpectedValidation)
	}
	if err := e.store.UpsertAddress(updated); err != nil {
		e.logger.Warn().Str("utxo", updated.UTXOID).Err(err).Msg("address index update failed")
	}

	e.logger.Info().
		Str("utxo", updated.UTXOID).
		Str("payer", updated.PayerAddress).
		Str("debited", cost.String()).
		Str("remaining", newRemaining.String()).
		Msg("ledger entry debited")

	if newRemaining == 0 {
		e.closeEntry(updated)
	}
	return DebitResult{Valid: true, RemainingBalanceSat: newRemaining, Entry: updated}
}

// closeEntry removes an exhausted entry from both namespaces.
func (e *Engine) closeEntry(entry *Entry) {
	if err := e.store.DeleteEntry(entry.UTXOID); err != nil {
		e.logger.Error().Str("utxo", entry.UTXOID).Err(err).Msg("exhausted entry delete failed")
	}
	if err := e.store.RemoveAddress(entry.PayerAddress, entry.UTXOID); err != nil {
		e.logger.Warn().Str("utxo", entry.UTXOID).Err(err).Msg("address index remove failed")
	}
	e.logger.Info().Str("utxo", entry.UTXOID).Msg("ledger entry exhausted and removed")
}
