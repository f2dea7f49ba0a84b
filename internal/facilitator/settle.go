package facilitator

import (
	"context"

	"github.com/utxotab/facilitator/internal/chain"
	"github.com/utxotab/facilitator/internal/network"
)

func failedSettle(reason, payer string) SettleResult {
	return SettleResult{
		ErrorReason: reason,
		Transaction: "",
		Network:     network.CanonicalNet,
		Payer:       payer,
	}
}

// Settle re-runs verification, then broadcasts the authorized amount to
// the recipient from the facilitator's wallet. The result network is
// always the canonical net, never echoed from input.
func (f *Facilitator) Settle(ctx context.Context, payload *PaymentPayload, reqs *PaymentRequirements) (res SettleResult) {
	payer := ""
	defer func() {
		if r := recover(); r != nil {
			f.settleLogger.Error().Interface("panic", r).Msg("settle pipeline panicked")
			res = failedSettle(ReasonUnexpectedSettle, payer)
		}
	}()

	vr := f.Verify(ctx, payload, reqs)
	payer = vr.Payer
	if !vr.IsValid {
		return failedSettle(vr.InvalidReason, payer)
	}

	auth := payload.Payload.Authorization
	if cost, ok := reqs.Cost(); ok && cost != auth.Value {
		f.settleLogger.Warn().
			Str("payer", payer).
			Str("debited", cost.String()).
			Str("broadcast", auth.Value.String()).
			Msg("debited amount differs from authorized settlement amount")
	}

	if f.wallet == nil {
		f.settleLogger.Error().Msg("settlement requested but no wallet configured")
		return failedSettle(ReasonUnexpectedSettle, payer)
	}
	if err := f.wallet.Ensure(); err != nil {
		f.settleLogger.Error().Err(err).Msg("wallet initialization failed")
		return failedSettle(ReasonUnexpectedSettle, payer)
	}

	balance, err := f.wallet.Balance(ctx)
	if err != nil {
		f.settleLogger.Error().Err(err).Msg("wallet balance lookup failed")
		return failedSettle(ReasonUnexpectedSettle, payer)
	}
	if balance < auth.Value {
		return failedSettle(ReasonInsufficientFunds, payer)
	}

	txid, err := f.wallet.Send(ctx, []chain.Output{{Address: reqs.PayTo, AmountSat: auth.Value}})
	if err != nil || txid == "" {
		if err != nil {
			f.settleLogger.Error().Err(err).Str("payer", payer).Msg("settlement broadcast failed")
		}
		return failedSettle(ReasonInvalidTransactionState, payer)
	}

	return SettleResult{
		Success:             true,
		Transaction:         txid,
		Network:             network.CanonicalNet,
		Payer:               payer,
		RemainingBalanceSat: vr.RemainingBalanceSat,
	}
}
