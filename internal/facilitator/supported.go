package facilitator

import "github.com/utxotab/facilitator/internal/network"

// Supported returns the static capability advertisement: one kind for
// the utxo scheme on the canonical net, no extensions, and an empty
// bip122 signer namespace.
func Supported() SupportedResponse {
	return SupportedResponse{
		Kinds: []SupportedKind{{
			X402Version: ProtocolVersion,
			Scheme:      SchemeUTXO,
			Network:     network.CanonicalNet,
		}},
		Extensions: []string{},
		Signers:    map[string][]string{"bip122:*": {}},
	}
}
