// Package security handles the Zigbee auxiliary security header, CCM*
// nonce construction, well-known keys, the MMO hash used for key
// derivation, and securing and unsecuring NWK and APS payloads.
package security

import (
	"encoding/binary"
	"errors"
	"fmt"

	"psila-go/internal/mac"
)

var (
	ErrNotEnoughBytes = errors.New("security: not enough bytes")
	ErrNotEnoughSpace = errors.New("security: not enough space")
	ErrMissingSource  = errors.New("security: header carries no source address")
	ErrNoValidKey     = errors.New("security: no valid key found")
)

// Level is the security level of a secured frame.
type Level uint8

const (
	LevelNone                  Level = 0
	LevelIntegrity32           Level = 1
	LevelIntegrity64           Level = 2
	LevelIntegrity128          Level = 3
	LevelEncrypted             Level = 4
	LevelEncryptedIntegrity32  Level = 5
	LevelEncryptedIntegrity64  Level = 6
	LevelEncryptedIntegrity128 Level = 7
)

// MICLength returns the tag size for l.
func (l Level) MICLength() int {
	return [4]int{0, 4, 8, 16}[l&3]
}

// Encrypted reports whether l hides the payload.
func (l Level) Encrypted() bool { return l&4 != 0 }

func (l Level) String() string {
	names := [8]string{
		"None", "Integrity32", "Integrity64", "Integrity128",
		"Encrypted", "EncryptedIntegrity32", "EncryptedIntegrity64", "EncryptedIntegrity128",
	}
	return names[l&7]
}

// KeyIdentifier selects which key secured a frame.
type KeyIdentifier uint8

const (
	KeyData      KeyIdentifier = 0
	KeyNetwork   KeyIdentifier = 1
	KeyTransport KeyIdentifier = 2
	KeyLoad      KeyIdentifier = 3
)

func (k KeyIdentifier) String() string {
	switch k {
	case KeyData:
		return "Data"
	case KeyNetwork:
		return "Network"
	case KeyTransport:
		return "KeyTransport"
	case KeyLoad:
		return "KeyLoad"
	}
	return fmt.Sprintf("KeyIdentifier(%d)", uint8(k))
}

// Control is the security control field.
type Control struct {
	Level         Level
	Identifier    KeyIdentifier
	ExtendedNonce bool
}

func (c Control) Byte() uint8 {
	v := uint8(c.Level&7) | uint8(c.Identifier&3)<<3
	if c.ExtendedNonce {
		v |= 1 << 5
	}
	return v
}

func ControlFrom(v uint8) Control {
	return Control{
		Level:         Level(v & 7),
		Identifier:    KeyIdentifier(v>>3) & 3,
		ExtendedNonce: v&(1<<5) != 0,
	}
}

// Header is the auxiliary security header. Source is present when the
// control field sets the extended nonce; KeySequence when the key is the
// network key.
type Header struct {
	Control     Control
	Counter     uint32
	Source      mac.ExtendedAddress
	KeySequence uint8
}

func (h Header) HasSource() bool      { return h.Control.ExtendedNonce }
func (h Header) HasKeySequence() bool { return h.Control.Identifier == KeyNetwork }

// Len returns the packed size of h.
func (h Header) Len() int {
	n := 5
	if h.HasSource() {
		n += 8
	}
	if h.HasKeySequence() {
		n++
	}
	return n
}

// Pack writes h to out.
func (h Header) Pack(out []byte) (int, error) {
	if len(out) < h.Len() {
		return 0, ErrNotEnoughSpace
	}
	out[0] = h.Control.Byte()
	binary.LittleEndian.PutUint32(out[1:], h.Counter)
	n := 5
	if h.HasSource() {
		mac.PutExtended(out[n:], h.Source)
		n += 8
	}
	if h.HasKeySequence() {
		out[n] = h.KeySequence
		n++
	}
	return n, nil
}

// UnpackHeader decodes an auxiliary security header.
func UnpackHeader(data []byte) (Header, int, error) {
	var h Header
	if len(data) < 5 {
		return h, 0, ErrNotEnoughBytes
	}
	h.Control = ControlFrom(data[0])
	h.Counter = binary.LittleEndian.Uint32(data[1:])
	if len(data) < h.Len() {
		return h, 0, ErrNotEnoughBytes
	}
	n := 5
	if h.HasSource() {
		h.Source = mac.Extended(data[n:])
		n += 8
	}
	if h.HasKeySequence() {
		h.KeySequence = data[n]
		n++
	}
	return h, n, nil
}

// Nonce builds the CCM* nonce: source, frame counter and the security
// control byte with the real level filled in.
func Nonce(source mac.ExtendedAddress, counter uint32, control uint8) [13]byte {
	var n [13]byte
	mac.PutExtended(n[0:8], source)
	binary.LittleEndian.PutUint32(n[8:12], counter)
	n[12] = control
	return n
}
