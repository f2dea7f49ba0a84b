// Package ledger implements the UTXO-backed debit ledger: the persisted
// entries tracking how much of a funded coin remains spendable, the two
// indexed views over them, and the debit engine that mutates them.
package ledger

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Satoshis is an exact amount in base units. It never passes through
// floating point; JSON values may be either integers or decimal strings and
// always marshal back as strings.
type Satoshis int64

// ParseSatoshis parses a base-unit amount from its decimal string form.
func ParseSatoshis(s string) (Satoshis, error) {
	n, err := strconv.ParseInt(strings.TrimSpace(s), 10, 64)
	if err != nil {
		return 0, fmt.Errorf("parse satoshis %q: %w", s, err)
	}
	return Satoshis(n), nil
}

// String returns the decimal form.
func (s Satoshis) String() string {
	return strconv.FormatInt(int64(s), 10)
}

// MarshalJSON encodes the amount as a decimal string.
func (s Satoshis) MarshalJSON() ([]byte, error) {
	return []byte(`"` + s.String() + `"`), nil
}

// UnmarshalJSON accepts both string and integer representations.
func (s *Satoshis) UnmarshalJSON(data []byte) error {
	str := string(data)
	if str == "null" {
		*s = 0
		return nil
	}
	if len(str) >= 2 && str[0] == '"' && str[len(str)-1] == '"' {
		str = str[1 : len(str)-1]
	}
	if str == "" {
		*s = 0
		return nil
	}
	n, err := strconv.ParseInt(str, 10, 64)
	if err != nil {
		return fmt.Errorf("satoshis must be an integer, got %s", data)
	}
	*s = Satoshis(n)
	return nil
}

// timeFormat is the persisted timestamp layout (ISO-8601 UTC, millisecond
// precision, matching what earlier deployments wrote).
const timeFormat = "2006-01-02T15:04:05.000Z"

// Timestamp returns t in the persisted layout.
func Timestamp(t time.Time) string {
	return t.UTC().Format(timeFormat)
}

// UTXOKey composes the primary ledger key from an outpoint.
func UTXOKey(txid string, vout uint32) string {
	return txid + ":" + strconv.FormatUint(uint64(vout), 10)
}

// OutpointRef identifies the coin an authorization spends against. Any
// replaces the wire-level "*" sentinel: the payer did not pin an outpoint
// and the facilitator selects one from the payer's open entries.
type OutpointRef struct {
	Any  bool
	TxID string
	Vout uint32
}

// Entry is the persisted record for one funded UTXO.
//
// Invariant: TransactionValueSat == RemainingBalanceSat + TotalDebitedSat at
// every observable point. RemainingBalanceSat only decreases; the entry is
// destroyed the moment it reaches zero.
type Entry struct {
	UTXOID              string   `json:"utxoId"`
	TxID                string   `json:"txid"`
	Vout                uint32   `json:"vout"`
	PayerAddress        string   `json:"payerAddress"`
	ReceiverAddress     string   `json:"receiverAddress"`
	TransactionValueSat Satoshis `json:"transactionValueSat"`
	RemainingBalanceSat Satoshis `json:"remainingBalanceSat"`
	TotalDebitedSat     Satoshis `json:"totalDebitedSat"`
	FirstSeen           string   `json:"firstSeen"`
	LastUpdated         string   `json:"lastUpdated"`
	LastChecked         string   `json:"lastChecked"`
}

// UnmarshalJSON decodes an entry, tolerating the legacy field name
// "remainingBalance" written by pre-rename deployments.
func (e *Entry) UnmarshalJSON(data []byte) error {
	type alias Entry
	aux := struct {
		*alias
		Remaining       *Satoshis `json:"remainingBalanceSat"`
		LegacyRemaining *Satoshis `json:"remainingBalance"`
	}{alias: (*alias)(e)}

	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}
	switch {
	case aux.Remaining != nil:
		e.RemainingBalanceSat = *aux.Remaining
	case aux.LegacyRemaining != nil:
		e.RemainingBalanceSat = *aux.LegacyRemaining
	}
	return nil
}

// firstSeenTime parses FirstSeen for ordering. Missing or malformed
// timestamps sort as the epoch so stale entries drain first.
func (e *Entry) firstSeenTime() time.Time {
	if e.FirstSeen == "" {
		return time.Unix(0, 0).UTC()
	}
	t, err := time.Parse(time.RFC3339, e.FirstSeen)
	if err != nil {
		return time.Unix(0, 0).UTC()
	}
	return t
}

// Clone returns a deep copy.
func (e *Entry) Clone() *Entry {
	cp := *e
	return &cp
}
