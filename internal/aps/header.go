// Package aps encodes and decodes the Zigbee application support (APS)
// header and the APS commands used for key distribution.
package aps

import (
	"encoding/binary"
	"errors"
	"fmt"
)

var (
	ErrNotEnoughBytes = errors.New("aps: not enough bytes")
	ErrNotEnoughSpace = errors.New("aps: not enough space")
)

// UnknownDeliveryModeError reports the reserved delivery mode.
type UnknownDeliveryModeError struct{ Mode uint8 }

func (e UnknownDeliveryModeError) Error() string {
	return fmt.Sprintf("aps: unknown delivery mode %d", e.Mode)
}

// FrameType is the APS frame type.
type FrameType uint8

const (
	FrameData            FrameType = 0
	FrameCommand         FrameType = 1
	FrameAcknowledgement FrameType = 2
	FrameInterPan        FrameType = 3
)

func (t FrameType) String() string {
	return [...]string{"Data", "Command", "Acknowledgement", "InterPan"}[t&3]
}

// DeliveryMode is the APS delivery mode.
type DeliveryMode uint8

const (
	DeliveryUnicast   DeliveryMode = 0
	DeliveryBroadcast DeliveryMode = 2
	DeliveryGroup     DeliveryMode = 3
)

func (m DeliveryMode) String() string {
	switch m {
	case DeliveryUnicast:
		return "Unicast"
	case DeliveryBroadcast:
		return "Broadcast"
	case DeliveryGroup:
		return "Group"
	}
	return fmt.Sprintf("DeliveryMode(%d)", uint8(m))
}

// Fragmentation is the extended header fragmentation field.
type Fragmentation uint8

const (
	NotFragmented Fragmentation = 0
	FirstFragment Fragmentation = 1
	PartFragment  Fragmentation = 2
)

// Well-known profile identifiers.
const (
	ProfileDevice     uint16 = 0x0000
	ProfileHome       uint16 = 0x0104
	ProfileLightLink  uint16 = 0xC05E
	ProfileGreenPower uint16 = 0xA1E0
)

// Control is the APS frame control field.
type Control struct {
	FrameType      FrameType
	DeliveryMode   DeliveryMode
	AckFormat      bool
	Security       bool
	AckRequest     bool
	ExtendedHeader bool
}

func (c Control) Byte() uint8 {
	v := uint8(c.FrameType&3) | uint8(c.DeliveryMode&3)<<2
	if c.AckFormat {
		v |= 1 << 4
	}
	if c.Security {
		v |= 1 << 5
	}
	if c.AckRequest {
		v |= 1 << 6
	}
	if c.ExtendedHeader {
		v |= 1 << 7
	}
	return v
}

func controlFrom(v uint8) (Control, error) {
	c := Control{
		FrameType:      FrameType(v & 3),
		DeliveryMode:   DeliveryMode(v>>2) & 3,
		AckFormat:      v&(1<<4) != 0,
		Security:       v&(1<<5) != 0,
		AckRequest:     v&(1<<6) != 0,
		ExtendedHeader: v&(1<<7) != 0,
	}
	if c.DeliveryMode == 1 {
		return c, UnknownDeliveryModeError{Mode: 1}
	}
	return c, nil
}

// Header is the APS header. Which of the addressing fields are present
// depends on the frame type, delivery mode and ack format; HasX reports it.
type Header struct {
	Control             Control
	DestinationEndpoint uint8
	Group               uint16
	Cluster             uint16
	Profile             uint16
	SourceEndpoint      uint8
	Counter             uint8
	Fragmentation       Fragmentation
	BlockNumber         uint8
	AckBitfield         uint8
}

// addressed reports whether the frame carries cluster and profile.
func (h Header) addressed() bool {
	switch h.Control.FrameType {
	case FrameData, FrameInterPan:
		return true
	case FrameAcknowledgement:
		return !h.Control.AckFormat
	}
	return false
}

func (h Header) HasEndpoints() bool {
	return h.addressed() && h.Control.FrameType != FrameInterPan
}

func (h Header) HasDestinationEndpoint() bool {
	return h.HasEndpoints() && h.Control.DeliveryMode != DeliveryGroup
}

func (h Header) HasGroup() bool {
	return h.Control.DeliveryMode == DeliveryGroup &&
		(h.Control.FrameType == FrameData || h.Control.FrameType == FrameInterPan)
}

func (h Header) HasCluster() bool { return h.addressed() }

func (h Header) HasCounter() bool { return h.Control.FrameType != FrameInterPan }

// Len returns the packed size of h.
func (h Header) Len() int {
	n := 1
	if h.HasDestinationEndpoint() {
		n++
	}
	if h.HasGroup() {
		n += 2
	}
	if h.HasCluster() {
		n += 4
	}
	if h.HasEndpoints() {
		n++
	}
	if h.HasCounter() {
		n++
	}
	if h.Control.ExtendedHeader {
		n++
		if h.Fragmentation != NotFragmented {
			n++
			if h.Control.FrameType == FrameAcknowledgement {
				n++
			}
		}
	}
	return n
}

// Pack writes h to out.
func (h Header) Pack(out []byte) (int, error) {
	if h.Control.DeliveryMode == 1 {
		return 0, UnknownDeliveryModeError{Mode: 1}
	}
	if len(out) < h.Len() {
		return 0, ErrNotEnoughSpace
	}
	out[0] = h.Control.Byte()
	n := 1
	if h.HasDestinationEndpoint() {
		out[n] = h.DestinationEndpoint
		n++
	}
	if h.HasGroup() {
		binary.LittleEndian.PutUint16(out[n:], h.Group)
		n += 2
	}
	if h.HasCluster() {
		binary.LittleEndian.PutUint16(out[n:], h.Cluster)
		binary.LittleEndian.PutUint16(out[n+2:], h.Profile)
		n += 4
	}
	if h.HasEndpoints() {
		out[n] = h.SourceEndpoint
		n++
	}
	if h.HasCounter() {
		out[n] = h.Counter
		n++
	}
	if h.Control.ExtendedHeader {
		out[n] = uint8(h.Fragmentation & 3)
		n++
		if h.Fragmentation != NotFragmented {
			out[n] = h.BlockNumber
			n++
			if h.Control.FrameType == FrameAcknowledgement {
				out[n] = h.AckBitfield
				n++
			}
		}
	}
	return n, nil
}

// UnpackHeader decodes an APS header.
func UnpackHeader(data []byte) (Header, int, error) {
	var h Header
	if len(data) < 1 {
		return h, 0, ErrNotEnoughBytes
	}
	c, err := controlFrom(data[0])
	if err != nil {
		return h, 0, err
	}
	h.Control = c
	n := 1
	need := func(k int) error {
		if len(data) < n+k {
			return ErrNotEnoughBytes
		}
		return nil
	}
	if h.HasDestinationEndpoint() {
		if err := need(1); err != nil {
			return h, 0, err
		}
		h.DestinationEndpoint = data[n]
		n++
	}
	if h.HasGroup() {
		if err := need(2); err != nil {
			return h, 0, err
		}
		h.Group = binary.LittleEndian.Uint16(data[n:])
		n += 2
	}
	if h.HasCluster() {
		if err := need(4); err != nil {
			return h, 0, err
		}
		h.Cluster = binary.LittleEndian.Uint16(data[n:])
		h.Profile = binary.LittleEndian.Uint16(data[n+2:])
		n += 4
	}
	if h.HasEndpoints() {
		if err := need(1); err != nil {
			return h, 0, err
		}
		h.SourceEndpoint = data[n]
		n++
	}
	if h.HasCounter() {
		if err := need(1); err != nil {
			return h, 0, err
		}
		h.Counter = data[n]
		n++
	}
	if c.ExtendedHeader {
		if err := need(1); err != nil {
			return h, 0, err
		}
		h.Fragmentation = Fragmentation(data[n] & 3)
		n++
		if h.Fragmentation != NotFragmented {
			if err := need(1); err != nil {
				return h, 0, err
			}
			h.BlockNumber = data[n]
			n++
			if c.FrameType == FrameAcknowledgement {
				if err := need(1); err != nil {
					return h, 0, err
				}
				h.AckBitfield = data[n]
				n++
			}
		}
	}
	return h, n, nil
}
