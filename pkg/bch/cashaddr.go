// Package bch implements the CashAddr address format used on Bitcoin Cash.
package bch

import (
	"fmt"
	"strings"
)

// Address prefixes for the supported networks.
const (
	MainnetPrefix = "bitcoincash"
	TestnetPrefix = "bchtest"
	RegtestPrefix = "bchreg"
)

// HashSize is the length of a P2PKH/P2SH hash payload in bytes.
const HashSize = 20

// Address type bits carried in the version byte.
const (
	TypeP2PKH byte = 0
	TypeP2SH  byte = 1
)

// Charset used for encoding the 5-bit groups (shared with bech32).
const charset = "qpzry9x8gf2tvdw0s3jn54khce6mua7l"

// charsetRev maps charset characters to their 5-bit values. -1 = invalid.
var charsetRev [128]int8

func init() {
	for i := range charsetRev {
		charsetRev[i] = -1
	}
	for i, c := range charset {
		charsetRev[c] = int8(i)
	}
}

// Encode encodes an address payload into a CashAddr string with the given
// prefix. The version byte encodes the address type and hash size.
func Encode(prefix string, version byte, payload []byte) (string, error) {
	if prefix == "" {
		return "", fmt.Errorf("cashaddr: empty prefix")
	}
	for _, c := range prefix {
		if c < 'a' || c > 'z' {
			return "", fmt.Errorf("cashaddr: invalid prefix character %q", c)
		}
	}

	// Convert version byte + payload from 8-bit to 5-bit groups.
	data := make([]byte, 0, 1+len(payload))
	data = append(data, version)
	data = append(data, payload...)
	conv, err := convertBits(data, 8, 5, true)
	if err != nil {
		return "", fmt.Errorf("cashaddr: convert bits: %w", err)
	}

	chk := checksum(prefix, conv)

	var sb strings.Builder
	sb.Grow(len(prefix) + 1 + len(conv) + 8)
	sb.WriteString(prefix)
	sb.WriteByte(':')
	for _, b := range conv {
		sb.WriteByte(charset[b])
	}
	for i := 0; i < 8; i++ {
		sb.WriteByte(charset[(chk>>uint(5*(7-i)))&0x1f])
	}
	return sb.String(), nil
}

// EncodeP2PKH encodes a 20-byte public key hash as a P2PKH CashAddr.
func EncodeP2PKH(prefix string, hash []byte) (string, error) {
	if len(hash) != HashSize {
		return "", fmt.Errorf("cashaddr: hash must be %d bytes, got %d", HashSize, len(hash))
	}
	// Version byte: type in bits 3-6, size code 0 for 160-bit hashes.
	return Encode(prefix, TypeP2PKH<<3, hash)
}

// Decode decodes a CashAddr string into its prefix, version byte and payload.
// Addresses without an explicit prefix are assumed to be mainnet.
func Decode(addr string) (prefix string, version byte, payload []byte, err error) {
	if addr == "" {
		return "", 0, nil, fmt.Errorf("cashaddr: empty address")
	}

	lower := strings.ToLower(addr)
	if lower != addr && strings.ToUpper(addr) != addr {
		return "", 0, nil, fmt.Errorf("cashaddr: mixed case")
	}
	addr = lower

	prefix = MainnetPrefix
	body := addr
	if i := strings.IndexByte(addr, ':'); i >= 0 {
		prefix = addr[:i]
		body = addr[i+1:]
	}
	if len(body) < 9 {
		return "", 0, nil, fmt.Errorf("cashaddr: too short")
	}

	values := make([]byte, len(body))
	for i := 0; i < len(body); i++ {
		c := body[i]
		if c >= 128 || charsetRev[c] == -1 {
			return "", 0, nil, fmt.Errorf("cashaddr: invalid character %q", c)
		}
		values[i] = byte(charsetRev[c])
	}

	if polyMod(append(expandPrefix(prefix), values...)) != 0 {
		return "", 0, nil, fmt.Errorf("cashaddr: checksum mismatch")
	}

	data, err := convertBits(values[:len(values)-8], 5, 8, false)
	if err != nil {
		return "", 0, nil, fmt.Errorf("cashaddr: convert bits: %w", err)
	}
	if len(data) == 0 {
		return "", 0, nil, fmt.Errorf("cashaddr: empty payload")
	}
	return prefix, data[0], data[1:], nil
}

// Valid reports whether addr parses as a CashAddr with a correct checksum.
func Valid(addr string) bool {
	_, _, _, err := Decode(addr)
	return err == nil
}

// expandPrefix returns the low 5 bits of each prefix character followed by
// a zero separator, as consumed by the checksum.
func expandPrefix(prefix string) []byte {
	out := make([]byte, len(prefix)+1)
	for i := 0; i < len(prefix); i++ {
		out[i] = prefix[i] & 0x1f
	}
	out[len(prefix)] = 0
	return out
}

// checksum computes the 40-bit checksum over the expanded prefix and data.
func checksum(prefix string, data []byte) uint64 {
	values := append(expandPrefix(prefix), data...)
	values = append(values, 0, 0, 0, 0, 0, 0, 0, 0)
	return polyMod(values)
}

// polyMod is the BCH code at the heart of the CashAddr checksum.
func polyMod(values []byte) uint64 {
	var c uint64 = 1
	for _, d := range values {
		c0 := c >> 35
		c = ((c & 0x07ffffffff) << 5) ^ uint64(d)
		if c0&0x01 != 0 {
			c ^= 0x98f2bc8e61
		}
		if c0&0x02 != 0 {
			c ^= 0x79b76d99e2
		}
		if c0&0x04 != 0 {
			c ^= 0xf33e5fb3c4
		}
		if c0&0x08 != 0 {
			c ^= 0xae2eabe2a8
		}
		if c0&0x10 != 0 {
			c ^= 0x1e4f43e470
		}
	}
	return c ^ 1
}

// convertBits regroups data from fromBits-wide groups to toBits-wide groups.
// With pad set, any remaining bits are padded with zeros; without it, leftover
// bits must be zero padding from a previous conversion.
func convertBits(data []byte, fromBits, toBits uint, pad bool) ([]byte, error) {
	var acc uint32
	var bits uint
	maxv := uint32(1<<toBits) - 1
	out := make([]byte, 0, len(data)*int(fromBits)/int(toBits)+1)

	for _, b := range data {
		if uint(b)>>fromBits != 0 {
			return nil, fmt.Errorf("value %d exceeds %d bits", b, fromBits)
		}
		acc = acc<<fromBits | uint32(b)
		bits += fromBits
		for bits >= toBits {
			bits -= toBits
			out = append(out, byte(acc>>bits&maxv))
		}
	}

	if pad {
		if bits > 0 {
			out = append(out, byte(acc<<(toBits-bits)&maxv))
		}
	} else if bits >= fromBits || acc<<(toBits-bits)&maxv != 0 {
		return nil, fmt.Errorf("invalid padding")
	}
	return out, nil
}
