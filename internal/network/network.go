// Package network resolves legacy and CAIP-2 network tags to canonical ids.
package network

// CanonicalNet is the CAIP-2 identifier of the BCH mainnet, the only network
// this facilitator serves.
const CanonicalNet = "bip122:000000000000000000651ef99cb9fcbe"

// LegacyTag is the pre-CAIP-2 identifier still accepted on the wire.
const LegacyTag = "bch"

// Canonicalize maps a network tag to its canonical id. Empty input and the
// legacy "bch" tag resolve to CanonicalNet; anything else passes through
// unchanged, including foreign bip122:* ids.
func Canonicalize(net string) string {
	switch net {
	case "", LegacyTag, CanonicalNet:
		return CanonicalNet
	default:
		return net
	}
}

// Same reports whether both tags refer to this facilitator's native network.
// Foreign networks never match, even when textually equal: the facilitator
// serves exactly one chain.
func Same(a, b string) bool {
	return Canonicalize(a) == CanonicalNet && Canonicalize(b) == CanonicalNet
}
