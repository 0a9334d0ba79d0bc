// Package mac encodes and decodes IEEE 802.15.4 MAC frames: header,
// addressing, beacons and MAC commands. Multi-byte fields are little-endian
// on air. Frames are handled without the trailing FCS, which the radio
// strips and checks.
package mac

import (
	"encoding/binary"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
)

var (
	ErrNotEnoughBytes       = errors.New("mac: not enough bytes")
	ErrNotEnoughSpace       = errors.New("mac: not enough space")
	ErrSecurityNotSupported = errors.New("mac: security enabled frames are not supported")
)

// InvalidFrameTypeError reports a reserved or unsupported frame type.
type InvalidFrameTypeError struct{ Type uint8 }

func (e InvalidFrameTypeError) Error() string {
	return fmt.Sprintf("mac: invalid frame type %d", e.Type)
}

// InvalidAddressModeError reports the reserved addressing mode 1.
type InvalidAddressModeError struct{ Mode uint8 }

func (e InvalidAddressModeError) Error() string {
	return fmt.Sprintf("mac: invalid address mode %d", e.Mode)
}

// InvalidVersionError reports a reserved frame version.
type InvalidVersionError struct{ Version uint8 }

func (e InvalidVersionError) Error() string {
	return fmt.Sprintf("mac: invalid frame version %d", e.Version)
}

type (
	PanID           uint16
	ShortAddress    uint16
	ExtendedAddress uint64
)

const (
	BroadcastPAN   PanID        = 0xFFFF
	BroadcastShort ShortAddress = 0xFFFF
	// NoShort is assigned by a coordinator to devices that must use their
	// extended address.
	NoShort ShortAddress = 0xFFFE
)

func (p PanID) String() string        { return fmt.Sprintf("0x%04X", uint16(p)) }
func (a ShortAddress) String() string { return fmt.Sprintf("0x%04X", uint16(a)) }
func (a ExtendedAddress) String() string {
	return fmt.Sprintf("%016X", uint64(a))
}

// ParseExtendedAddress parses "0011223344556677" or
// "00:11:22:33:44:55:66:77", most significant byte first.
func ParseExtendedAddress(s string) (ExtendedAddress, error) {
	b, err := hex.DecodeString(strings.ReplaceAll(s, ":", ""))
	if err != nil {
		return 0, fmt.Errorf("parse extended address: %w", err)
	}
	if len(b) != 8 {
		return 0, fmt.Errorf("extended address must be 8 bytes, got %d", len(b))
	}
	return ExtendedAddress(binary.BigEndian.Uint64(b)), nil
}

// PutExtended writes a in on-air (little-endian) order.
func PutExtended(out []byte, a ExtendedAddress) {
	binary.LittleEndian.PutUint64(out, uint64(a))
}

// Extended reads an on-air extended address.
func Extended(in []byte) ExtendedAddress {
	return ExtendedAddress(binary.LittleEndian.Uint64(in))
}

// AddressMode is the two-bit addressing mode from the frame control field.
type AddressMode uint8

const (
	AddrNone     AddressMode = 0
	AddrShort    AddressMode = 2
	AddrExtended AddressMode = 3
)

// Address is a MAC address with its PAN identifier. The zero value is the
// absent address.
type Address struct {
	Mode     AddressMode
	PanID    PanID
	Short    ShortAddress
	Extended ExtendedAddress
}

// NoAddress returns the absent address.
func NoAddress() Address { return Address{} }

// ShortAddr returns a short address on pan.
func ShortAddr(pan PanID, short ShortAddress) Address {
	return Address{Mode: AddrShort, PanID: pan, Short: short}
}

// ExtendedAddr returns an extended address on pan.
func ExtendedAddr(pan PanID, ext ExtendedAddress) Address {
	return Address{Mode: AddrExtended, PanID: pan, Extended: ext}
}

func (a Address) IsNone() bool { return a.Mode == AddrNone }

func (a Address) String() string {
	switch a.Mode {
	case AddrShort:
		return fmt.Sprintf("%04X:%04X", uint16(a.PanID), uint16(a.Short))
	case AddrExtended:
		return fmt.Sprintf("%04X:%016X", uint16(a.PanID), uint64(a.Extended))
	default:
		return "none"
	}
}

// addrLen is the on-air size of the address field, excluding the PAN id.
func (m AddressMode) addrLen() int {
	switch m {
	case AddrShort:
		return 2
	case AddrExtended:
		return 8
	}
	return 0
}

func (a Address) packAddr(out []byte) {
	switch a.Mode {
	case AddrShort:
		binary.LittleEndian.PutUint16(out, uint16(a.Short))
	case AddrExtended:
		PutExtended(out, a.Extended)
	}
}
