package crypto

import (
	"encoding/base64"
	"encoding/binary"
	"fmt"
	"strings"

	"github.com/decred/dcrd/dcrec/secp256k1/v4"
	"github.com/decred/dcrd/dcrec/secp256k1/v4/ecdsa"

	"github.com/utxotab/facilitator/pkg/bch"
)

// messageMagic is the prefix mixed into every signed message so that a
// signature over arbitrary text can never double as transaction data.
const messageMagic = "Bitcoin Signed Message:\n"

// compactSigSize is the length of a compact recoverable signature.
const compactSigSize = 65

// Verifier checks a message signature against a payer address.
type Verifier interface {
	// Verify reports whether signature is a valid signature over message
	// by the key behind address.
	Verify(address, signature, message string) (bool, error)
}

// MessageHash computes the digest that is signed for a text message:
// sha256d(compactSize(len(magic)) || magic || compactSize(len(msg)) || msg).
func MessageHash(message string) [32]byte {
	buf := make([]byte, 0, 1+len(messageMagic)+9+len(message))
	buf = appendCompactSize(buf, uint64(len(messageMagic)))
	buf = append(buf, messageMagic...)
	buf = appendCompactSize(buf, uint64(len(message)))
	buf = append(buf, message...)
	return Sha256d(buf)
}

// SignMessage produces a base64 compact signature over message.
func SignMessage(key *secp256k1.PrivateKey, message string) string {
	hash := MessageHash(message)
	sig := ecdsa.SignCompact(key, hash[:], true)
	return base64.StdEncoding.EncodeToString(sig)
}

// RecoverAddress recovers the CashAddr that signed message, using the given
// address prefix for encoding.
func RecoverAddress(signature, message, prefix string) (string, error) {
	sig, err := base64.StdEncoding.DecodeString(signature)
	if err != nil {
		return "", fmt.Errorf("decode signature: %w", err)
	}
	if len(sig) != compactSigSize {
		return "", fmt.Errorf("signature must be %d bytes, got %d", compactSigSize, len(sig))
	}

	hash := MessageHash(message)
	pub, compressed, err := ecdsa.RecoverCompact(sig, hash[:])
	if err != nil {
		return "", fmt.Errorf("recover public key: %w", err)
	}

	var pubBytes []byte
	if compressed {
		pubBytes = pub.SerializeCompressed()
	} else {
		pubBytes = pub.SerializeUncompressed()
	}
	return bch.EncodeP2PKH(prefix, Hash160(pubBytes))
}

// VerifyMessage reports whether signature is a valid signature over message
// by the key behind the given CashAddr.
func VerifyMessage(address, signature, message string) (bool, error) {
	prefix := bch.MainnetPrefix
	if i := strings.IndexByte(address, ':'); i >= 0 {
		prefix = strings.ToLower(address[:i])
	}

	recovered, err := RecoverAddress(signature, message, prefix)
	if err != nil {
		return false, err
	}

	want := strings.ToLower(address)
	if !strings.ContainsRune(want, ':') {
		want = prefix + ":" + want
	}
	return recovered == want, nil
}

// MessageVerifier implements Verifier with compact-signature recovery.
type MessageVerifier struct{}

// Verify checks a base64 compact signature over message against address.
func (MessageVerifier) Verify(address, signature, message string) (bool, error) {
	return VerifyMessage(address, signature, message)
}

// appendCompactSize appends n in Bitcoin's variable-length integer encoding.
func appendCompactSize(buf []byte, n uint64) []byte {
	switch {
	case n < 0xfd:
		return append(buf, byte(n))
	case n <= 0xffff:
		buf = append(buf, 0xfd)
		return binary.LittleEndian.AppendUint16(buf, uint16(n))
	case n <= 0xffffffff:
		buf = append(buf, 0xfe)
		return binary.LittleEndian.AppendUint32(buf, uint32(n))
	default:
		buf = append(buf, 0xff)
		return binary.LittleEndian.AppendUint64(buf, n)
	}
}
