package facilitator

// Invalid reasons produced by the pipelines themselves. Ledger and chain
// reasons pass through verbatim, so together these form the closed set a
// client can observe.
const (
	ReasonInvalidNetwork   = "invalid_network"
	ReasonInvalidScheme    = "invalid_scheme"
	ReasonInvalidPayload   = "invalid_payload"
	ReasonInvalidSignature = "invalid_exact_bch_payload_signature"
	ReasonInvalidPayment   = "invalid_payment"

	ReasonInsufficientFunds       = "insufficient_funds"
	ReasonInvalidTransactionState = "invalid_transaction_state"

	ReasonUnexpectedVerify = "unexpected_verify_error"
	ReasonUnexpectedSettle = "unexpected_settle_error"
)
