package security

import (
	"encoding/hex"
	"fmt"
	"strings"

	"psila-go/internal/blockcipher"
)

// Key is an AES-128 key.
type Key [16]byte

var (
	// DefaultLinkKey is "ZigBeeAlliance09".
	DefaultLinkKey = Key{
		0x5A, 0x69, 0x67, 0x42, 0x65, 0x65, 0x41, 0x6C,
		0x6C, 0x69, 0x61, 0x6E, 0x63, 0x65, 0x30, 0x39,
	}
	LightLinkMasterKey = Key{
		0x9F, 0x55, 0x95, 0xF1, 0x02, 0x57, 0xC8, 0xA4,
		0x69, 0xCB, 0xF4, 0x2B, 0xC9, 0x3F, 0xEE, 0x31,
	}
	LightLinkCommissioningKey = Key{
		0x81, 0x42, 0x86, 0x86, 0x5D, 0xC1, 0xC8, 0xB2,
		0xC8, 0xCB, 0xC5, 0x2E, 0x5D, 0x65, 0xD1, 0xB8,
	}
)

// ParseKey parses 32 hex digits, optionally separated by colons or spaces.
func ParseKey(s string) (Key, error) {
	var k Key
	s = strings.NewReplacer(":", "", " ", "").Replace(s)
	b, err := hex.DecodeString(s)
	if err != nil {
		return k, fmt.Errorf("parse key: %w", err)
	}
	if len(b) != len(k) {
		return k, fmt.Errorf("%w: got %d bytes", blockcipher.ErrKeySize, len(b))
	}
	copy(k[:], b)
	return k, nil
}

// Hex returns the key as 32 lowercase hex digits.
func (k Key) Hex() string { return hex.EncodeToString(k[:]) }

// DeriveKey returns the key actually used for a frame secured with id.
// Transport and load frames use a keyed hash of the link key.
func DeriveKey(bc blockcipher.BlockCipher, key Key, id KeyIdentifier) (Key, error) {
	switch id {
	case KeyTransport:
		return KeyedHash(bc, key, 0x00)
	case KeyLoad:
		return KeyedHash(bc, key, 0x02)
	}
	return key, nil
}
