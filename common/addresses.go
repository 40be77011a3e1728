package common

import (
	"bytes"
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/btcsuite/btcutil/base58"
	"golang.org/x/crypto/blake2b"
)

// nearly hungarian notation notes:
// addr -> Address, the raw 32-byte account id
// ss58 -> string, the base58 SS58 encoding of an account id under some prefix
// prefix -> uint16 SS58 network identifier (63 for HydraDX)

// AddressLen is the length of an sr25519/ed25519 account id.
const AddressLen = 32

const (
	checksumLen     = 2
	simplePrefixMax = 63
)

var ss58Pre = []byte("SS58PRE")

// Address is a raw account id.
type Address [AddressLen]byte

// AddressFromBytes copies b into an Address.
func AddressFromBytes(b []byte) (Address, error) {
	var addr Address
	if len(b) != AddressLen {
		return addr, fmt.Errorf("address must be %d bytes, got %d", AddressLen, len(b))
	}
	copy(addr[:], b)
	return addr, nil
}

// String returns the 0x-prefixed hex encoding of the account id. Use SS58
// for user-facing output.
func (a Address) String() string {
	return "0x" + hex.EncodeToString(a[:])
}

// Compare orders addresses by their raw bytes.
func (a Address) Compare(b Address) int {
	return bytes.Compare(a[:], b[:])
}

// SS58 encodes the address for the network identified by `prefix`.
func (a Address) SS58(prefix uint16) string {
	var raw []byte
	if prefix <= simplePrefixMax {
		raw = append(raw, byte(prefix))
	} else {
		raw = append(raw,
			byte((prefix&0b1111_1100)>>2)|0b0100_0000,
			byte(prefix>>8)|byte((prefix&0b0000_0011)<<6),
		)
	}
	raw = append(raw, a[:]...)
	raw = append(raw, ss58Checksum(raw)...)
	return base58.Encode(raw)
}

// DecodeSS58 decodes an SS58 account address and returns its network prefix.
func DecodeSS58(ss58 string) (Address, uint16, error) {
	raw := base58.Decode(ss58)
	if len(raw) == 0 {
		return Address{}, 0, fmt.Errorf("address %q: invalid base58", ss58)
	}

	var prefix uint16
	var prefixLen int
	switch {
	case raw[0] <= simplePrefixMax:
		prefix, prefixLen = uint16(raw[0]), 1
	case raw[0] < 0b1000_0000 && len(raw) > 1:
		lower := (raw[0] << 2) | (raw[1] >> 6)
		upper := raw[1] & 0b0011_1111
		prefix, prefixLen = uint16(lower)|uint16(upper)<<8, 2
	default:
		return Address{}, 0, fmt.Errorf("address %q: reserved prefix byte 0x%02x", ss58, raw[0])
	}

	if len(raw) != prefixLen+AddressLen+checksumLen {
		return Address{}, 0, fmt.Errorf("address %q: unexpected length %d", ss58, len(raw))
	}
	body, checksum := raw[:len(raw)-checksumLen], raw[len(raw)-checksumLen:]
	if !bytes.Equal(checksum, ss58Checksum(body)) {
		return Address{}, 0, fmt.Errorf("address %q: checksum mismatch", ss58)
	}

	addr, err := AddressFromBytes(body[prefixLen:])
	return addr, prefix, err
}

// ParseAddress accepts either an SS58 address for the network `prefix` or
// a 0x-prefixed hex account id.
func ParseAddress(s string, prefix uint16) (Address, error) {
	if strings.HasPrefix(s, "0x") {
		b, err := hex.DecodeString(s[2:])
		if err != nil {
			return Address{}, fmt.Errorf("address %q: %w", s, err)
		}
		return AddressFromBytes(b)
	}
	addr, got, err := DecodeSS58(s)
	if err != nil {
		return Address{}, err
	}
	if got != prefix {
		return Address{}, fmt.Errorf("address %q: ss58 prefix %d, expected %d", s, got, prefix)
	}
	return addr, nil
}

func ss58Checksum(body []byte) []byte {
	h := blake2b.Sum512(append(append([]byte{}, ss58Pre...), body...))
	return h[:checksumLen]
}
