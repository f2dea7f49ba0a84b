package wallet

import (
	"fmt"

	"github.com/decred/dcrd/dcrec/secp256k1/v4"
	"github.com/tyler-smith/go-bip32"

	"github.com/utxotab/facilitator/pkg/bch"
	"github.com/utxotab/facilitator/pkg/crypto"
)

// BIP-44 derivation path constants.
// Full path: m/44'/CoinType'/account'/change/index
const (
	// PurposeBIP44 is the BIP-44 purpose field (hardened).
	PurposeBIP44 = bip32.FirstHardenedChild + 44

	// CoinTypeBCH is Bitcoin Cash's registered coin type (hardened).
	CoinTypeBCH = bip32.FirstHardenedChild + 145

	// ChangeExternal is for receiving addresses.
	ChangeExternal = 0

	// ChangeInternal is for change addresses.
	ChangeInternal = 1
)

// SeedSize is the BIP-39 seed length in bytes.
const SeedSize = 64

// HDKey represents a hierarchical deterministic key (BIP-32).
type HDKey struct {
	key *bip32.Key
}

// NewMasterKey creates a master HD key from a 64-byte seed.
func NewMasterKey(seed []byte) (*HDKey, error) {
	if len(seed) != SeedSize {
		return nil, fmt.Errorf("seed must be %d bytes, got %d", SeedSize, len(seed))
	}
	master, err := bip32.NewMasterKey(seed)
	if err != nil {
		return nil, fmt.Errorf("create master key: %w", err)
	}
	return &HDKey{key: master}, nil
}

// DeriveChild derives a child key at the given index.
// For hardened derivation, add bip32.FirstHardenedChild to the index.
func (k *HDKey) DeriveChild(index uint32) (*HDKey, error) {
	child, err := k.key.NewChildKey(index)
	if err != nil {
		return nil, fmt.Errorf("derive child %d: %w", index, err)
	}
	return &HDKey{key: child}, nil
}

// DerivePath derives a key along a sequence of indices.
func (k *HDKey) DerivePath(indices ...uint32) (*HDKey, error) {
	current := k
	for _, idx := range indices {
		child, err := current.DeriveChild(idx)
		if err != nil {
			return nil, err
		}
		current = child
	}
	return current, nil
}

// DeriveAddressKey derives the key at m/44'/145'/account'/change/index.
func (k *HDKey) DeriveAddressKey(account, change, index uint32) (*HDKey, error) {
	return k.DerivePath(
		PurposeBIP44,
		CoinTypeBCH,
		bip32.FirstHardenedChild+account,
		change,
		index,
	)
}

// PrivateKey returns the secp256k1 private key.
// Returns error if this is a public-only key.
func (k *HDKey) PrivateKey() (*secp256k1.PrivateKey, error) {
	if !k.key.IsPrivate {
		return nil, fmt.Errorf("public-only key has no private key")
	}
	raw := k.key.Key
	// bip32 private keys carry a leading 0x00 pad byte.
	if len(raw) == 33 && raw[0] == 0 {
		raw = raw[1:]
	}
	return secp256k1.PrivKeyFromBytes(raw), nil
}

// PublicKeyBytes returns the compressed 33-byte public key.
func (k *HDKey) PublicKeyBytes() []byte {
	return k.key.PublicKey().Key
}

// Address derives the CashAddr P2PKH address for this key's public key
// under the given network prefix.
func (k *HDKey) Address(prefix string) (string, error) {
	return bch.EncodeP2PKH(prefix, crypto.Hash160(k.PublicKeyBytes()))
}

// IsPrivate returns true if this key contains a private key.
func (k *HDKey) IsPrivate() bool {
	return k.key.IsPrivate
}

// Neuter returns a public-key-only copy.
func (k *HDKey) Neuter() *HDKey {
	return &HDKey{key: k.key.PublicKey()}
}
