package facilitator

import (
	"context"

	"github.com/utxotab/facilitator/internal/ledger"
	"github.com/utxotab/facilitator/internal/network"
)

func invalidResult(reason, payer string) VerifyResult {
	return VerifyResult{InvalidReason: reason, Payer: payer}
}

// Verify runs the verification pipeline: network check, scheme check,
// payload shape check, signature check, optional UTXO selection, ledger
// debit. It short-circuits on the first failure and never returns an
// error; every outcome is a VerifyResult.
func (f *Facilitator) Verify(ctx context.Context, payload *PaymentPayload, reqs *PaymentRequirements) (res VerifyResult) {
	payer := ""
	defer func() {
		if r := recover(); r != nil {
			f.logger.Error().Interface("panic", r).Msg("verify pipeline panicked")
			res = invalidResult(ReasonUnexpectedVerify, payer)
		}
	}()

	if payload == nil || reqs == nil {
		return invalidResult(ReasonInvalidPayload, "")
	}

	scheme, payloadNet := payload.SchemeNetwork()
	if !network.Same(reqs.Network, payloadNet) {
		return invalidResult(ReasonInvalidNetwork, "")
	}
	if reqs.Scheme != SchemeUTXO || scheme != SchemeUTXO {
		return invalidResult(ReasonInvalidScheme, "")
	}
	if payload.Payload == nil || payload.Payload.Authorization == nil || payload.Payload.Signature == "" {
		return invalidResult(ReasonInvalidPayload, "")
	}

	auth := payload.Payload.Authorization
	payer = auth.From
	if auth.Value < 0 {
		return invalidResult(ReasonInvalidPayload, payer)
	}

	message, err := auth.SigningMessage()
	if err != nil {
		return invalidResult(ReasonInvalidSignature, payer)
	}
	ok, err := f.verifier.Verify(auth.From, payload.Payload.Signature, message)
	if err != nil || !ok {
		if err != nil {
			f.logger.Debug().Str("payer", payer).Err(err).Msg("signature verification errored")
		}
		return invalidResult(ReasonInvalidSignature, payer)
	}

	cost, ok := reqs.Cost()
	if !ok || cost < 0 {
		return invalidResult(ReasonInvalidPayload, payer)
	}

	ref := auth.Outpoint()
	var selected *ledger.Entry
	if ref.Any {
		selected = f.store.SelectUTXO(auth.From, reqs.PayTo, cost)
		if selected == nil {
			return invalidResult(ledger.ReasonNoUTXOForAddress, payer)
		}
	}

	dr := f.engine.Debit(ctx, auth.From, ref, cost, selected)
	if !dr.Valid {
		return invalidResult(dr.Reason, payer)
	}

	remaining := dr.RemainingBalanceSat
	res = VerifyResult{
		IsValid:             true,
		Payer:               payer,
		RemainingBalanceSat: &remaining,
	}
	if dr.Entry != nil {
		res.LedgerEntry = &LedgerEntryInfo{
			UTXOID:              dr.Entry.UTXOID,
			TransactionValueSat: dr.Entry.TransactionValueSat,
			TotalDebitedSat:     dr.Entry.TotalDebitedSat,
			LastUpdated:         dr.Entry.LastUpdated,
		}
	}
	return res
}
