// Package facilitator implements the payment verification and settlement
// pipelines for the utxo scheme, plus the capability advertisement.
package facilitator

import (
	"encoding/json"

	"github.com/utxotab/facilitator/internal/ledger"
)

// SchemeUTXO is the only payment scheme this facilitator serves.
const SchemeUTXO = "utxo"

// ProtocolVersion is the x402 protocol version advertised on /supported.
const ProtocolVersion = 2

// TxIDAny is the check-my-tab sentinel: the client asks the facilitator to
// pick any of its funded UTXOs.
const TxIDAny = "*"

// Authorization is the client's signed payment instruction. It is input
// only, never persisted.
type Authorization struct {
	From   string          `json:"from"`
	To     string          `json:"to"`
	Value  ledger.Satoshis `json:"value"`
	TxID   string          `json:"txid"`
	Vout   *uint32         `json:"vout"`
	Amount ledger.Satoshis `json:"amount,omitempty"`
}

// Outpoint converts the authorization's UTXO reference, mapping the "*"
// sentinel to an any-for-address reference.
func (a *Authorization) Outpoint() ledger.OutpointRef {
	if a.TxID == TxIDAny {
		return ledger.OutpointRef{Any: true}
	}
	ref := ledger.OutpointRef{TxID: a.TxID}
	if a.Vout != nil {
		ref.Vout = *a.Vout
	}
	return ref
}

// SigningMessage is the exact byte string the payer signed: the JSON
// serialization of the authorization, sentinel included. Field order is
// fixed by the struct definition, so the output is deterministic.
func (a *Authorization) SigningMessage() (string, error) {
	data, err := json.Marshal(a)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

// ExactPayload carries the signature and the authorization it covers.
type ExactPayload struct {
	Signature     string         `json:"signature"`
	Authorization *Authorization `json:"authorization"`
}

// Accepted names the scheme/network pair a v2 payload was built for.
type Accepted struct {
	Scheme  string `json:"scheme"`
	Network string `json:"network"`
}

// PaymentPayload is the client's payment proof. Two wire shapes exist:
// v2 nests scheme and network under "accepted", v1 carries them at the
// top level. Both decode into this one type.
type PaymentPayload struct {
	X402Version int           `json:"x402Version,omitempty"`
	Scheme      string        `json:"scheme,omitempty"`
	Network     string        `json:"network,omitempty"`
	Accepted    *Accepted     `json:"accepted,omitempty"`
	Payload     *ExactPayload `json:"payload"`
}

// SchemeNetwork resolves the effective scheme and network, preferring the
// v2 "accepted" block over the v1 top-level fields.
func (p *PaymentPayload) SchemeNetwork() (scheme, network string) {
	if p.Accepted != nil {
		return p.Accepted.Scheme, p.Accepted.Network
	}
	return p.Scheme, p.Network
}

// PaymentRequirements describes what the resource server demands. Exactly
// one of the three amount fields is expected; Cost resolves them in
// priority order.
type PaymentRequirements struct {
	Scheme            string           `json:"scheme"`
	Network           string           `json:"network"`
	PayTo             string           `json:"payTo"`
	Amount            *ledger.Satoshis `json:"amount,omitempty"`
	MinAmountRequired *ledger.Satoshis `json:"minAmountRequired,omitempty"`
	MaxAmountRequired *ledger.Satoshis `json:"maxAmountRequired,omitempty"`
	Asset             string           `json:"asset,omitempty"`
	Resource          string           `json:"resource,omitempty"`
	Description       string           `json:"description,omitempty"`
	MaxTimeoutSeconds int64            `json:"maxTimeoutSeconds,omitempty"`
	Extra             json.RawMessage  `json:"extra,omitempty"`
}

// Cost returns the price to debit: amount, else minAmountRequired, else
// maxAmountRequired. ok is false when none is present.
func (r *PaymentRequirements) Cost() (cost ledger.Satoshis, ok bool) {
	switch {
	case r.Amount != nil:
		return *r.Amount, true
	case r.MinAmountRequired != nil:
		return *r.MinAmountRequired, true
	case r.MaxAmountRequired != nil:
		return *r.MaxAmountRequired, true
	}
	return 0, false
}

// LedgerEntryInfo is the slice of a ledger entry exposed in results.
type LedgerEntryInfo struct {
	UTXOID              string          `json:"utxoId"`
	TransactionValueSat ledger.Satoshis `json:"transactionValueSat"`
	TotalDebitedSat     ledger.Satoshis `json:"totalDebitedSat"`
	LastUpdated         string          `json:"lastUpdated"`
}

// VerifyResult is the uniform outcome of the verification pipeline.
type VerifyResult struct {
	IsValid             bool             `json:"isValid"`
	InvalidReason       string           `json:"invalidReason,omitempty"`
	Payer               string           `json:"payer"`
	RemainingBalanceSat *ledger.Satoshis `json:"remainingBalanceSat,omitempty"`
	LedgerEntry         *LedgerEntryInfo `json:"ledgerEntry,omitempty"`
}

// SettleResult is the uniform outcome of the settlement pipeline. Network
// is always the canonical net; this facilitator is single-network.
type SettleResult struct {
	Success             bool             `json:"success"`
	ErrorReason         string           `json:"errorReason,omitempty"`
	Transaction         string           `json:"transaction"`
	Network             string           `json:"network"`
	Payer               string           `json:"payer"`
	RemainingBalanceSat *ledger.Satoshis `json:"remainingBalanceSat,omitempty"`
}

// SupportedKind is one advertised scheme/network pair.
type SupportedKind struct {
	X402Version int    `json:"x402Version"`
	Scheme      string `json:"scheme"`
	Network     string `json:"network"`
}

// SupportedResponse is the capability advertisement served on /supported.
type SupportedResponse struct {
	Kinds      []SupportedKind     `json:"kinds"`
	Extensions []string            `json:"extensions"`
	Signers    map[string][]string `json:"signers"`
}
