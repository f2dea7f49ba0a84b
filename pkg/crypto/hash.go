// Package crypto provides the hashing and message-signature primitives used
// by the facilitator.
package crypto

import (
	"crypto/sha256"

	"golang.org/x/crypto/ripemd160"
)

// Sha256d computes SHA256(SHA256(data)), the standard BCH message digest.
func Sha256d(data []byte) [32]byte {
	first := sha256.Sum256(data)
	return sha256.Sum256(first[:])
}

// Hash160 computes RIPEMD160(SHA256(data)), used for address derivation.
func Hash160(data []byte) []byte {
	first := sha256.Sum256(data)
	h := ripemd160.New()
	h.Write(first[:])
	return h.Sum(nil)
}
