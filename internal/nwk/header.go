// Package nwk encodes and decodes the Zigbee network layer: the NWK
// header with its optional fields, network commands and the beacon payload.
package nwk

import (
	"encoding/binary"
	"errors"
	"fmt"

	"psila-go/internal/mac"
)

var (
	ErrNotEnoughBytes  = errors.New("nwk: not enough bytes")
	ErrNotEnoughSpace  = errors.New("nwk: not enough space")
	ErrBrokenRelayList = errors.New("nwk: broken relay list")
)

// UnknownFrameTypeError reports the reserved NWK frame type.
type UnknownFrameTypeError struct{ Type uint8 }

func (e UnknownFrameTypeError) Error() string {
	return fmt.Sprintf("nwk: unknown frame type %d", e.Type)
}

// FrameType is the two-bit NWK frame type.
type FrameType uint8

const (
	FrameData     FrameType = 0
	FrameCommand  FrameType = 1
	FrameInterPan FrameType = 3
)

func (t FrameType) String() string {
	switch t {
	case FrameData:
		return "Data"
	case FrameCommand:
		return "Command"
	case FrameInterPan:
		return "InterPan"
	}
	return fmt.Sprintf("FrameType(%d)", uint8(t))
}

// DiscoverRoute is the route discovery field.
type DiscoverRoute uint8

const (
	SuppressDiscovery DiscoverRoute = 0
	EnableDiscovery   DiscoverRoute = 1
)

// Broadcast destinations.
const (
	BroadcastAll            mac.ShortAddress = 0xFFFF
	BroadcastRxOnWhenIdle   mac.ShortAddress = 0xFFFD
	BroadcastRouters        mac.ShortAddress = 0xFFFC
	BroadcastLowPowerRouter mac.ShortAddress = 0xFFFB
)

// Control is the NWK frame control field.
type Control struct {
	FrameType          FrameType
	ProtocolVersion    uint8
	DiscoverRoute      DiscoverRoute
	Multicast          bool
	Security           bool
	SourceRoute        bool
	DestinationIEEE    bool
	SourceIEEE         bool
	EndDeviceInitiator bool
}

func (c Control) value() uint16 {
	v := uint16(c.FrameType&3) | uint16(c.ProtocolVersion&0x0F)<<2 | uint16(c.DiscoverRoute&3)<<6
	flags := [...]bool{c.Multicast, c.Security, c.SourceRoute, c.DestinationIEEE, c.SourceIEEE, c.EndDeviceInitiator}
	for i, set := range flags {
		if set {
			v |= 1 << (8 + i)
		}
	}
	return v
}

func controlFrom(v uint16) (Control, error) {
	c := Control{
		FrameType:          FrameType(v & 3),
		ProtocolVersion:    uint8(v>>2) & 0x0F,
		DiscoverRoute:      DiscoverRoute(v>>6) & 3,
		Multicast:          v&(1<<8) != 0,
		Security:           v&(1<<9) != 0,
		SourceRoute:        v&(1<<10) != 0,
		DestinationIEEE:    v&(1<<11) != 0,
		SourceIEEE:         v&(1<<12) != 0,
		EndDeviceInitiator: v&(1<<13) != 0,
	}
	if c.FrameType == 2 {
		return c, UnknownFrameTypeError{Type: 2}
	}
	return c, nil
}

// MulticastControl is the multicast control octet.
type MulticastControl struct {
	Mode               uint8
	NonMemberRadius    uint8
	MaxNonMemberRadius uint8
}

func (m MulticastControl) byte() uint8 {
	return m.Mode&3 | (m.NonMemberRadius&7)<<2 | (m.MaxNonMemberRadius&7)<<5
}

// SourceRoute is the source route subframe.
type SourceRoute struct {
	Index  uint8
	Relays []mac.ShortAddress
}

// Header is the NWK header. Inter-PAN frames carry only the frame control.
// Optional fields are meaningful only when their control bit is set.
type Header struct {
	Control         Control
	Destination     mac.ShortAddress
	Source          mac.ShortAddress
	Radius          uint8
	Sequence        uint8
	DestinationIEEE mac.ExtendedAddress
	SourceIEEE      mac.ExtendedAddress
	Multicast       MulticastControl
	Route           SourceRoute
}

// Len returns the packed size of h.
func (h Header) Len() int {
	if h.Control.FrameType == FrameInterPan {
		return 2
	}
	n := 8
	if h.Control.DestinationIEEE {
		n += 8
	}
	if h.Control.SourceIEEE {
		n += 8
	}
	if h.Control.Multicast {
		n++
	}
	if h.Control.SourceRoute {
		n += 2 + 2*len(h.Route.Relays)
	}
	return n
}

// Pack writes h to out.
func (h Header) Pack(out []byte) (int, error) {
	if len(out) < h.Len() {
		return 0, ErrNotEnoughSpace
	}
	if h.Control.SourceRoute && (len(h.Route.Relays) > 255 || int(h.Route.Index) > len(h.Route.Relays)) {
		return 0, ErrBrokenRelayList
	}
	binary.LittleEndian.PutUint16(out, h.Control.value())
	if h.Control.FrameType == FrameInterPan {
		return 2, nil
	}
	binary.LittleEndian.PutUint16(out[2:], uint16(h.Destination))
	binary.LittleEndian.PutUint16(out[4:], uint16(h.Source))
	out[6] = h.Radius
	out[7] = h.Sequence
	n := 8
	if h.Control.DestinationIEEE {
		mac.PutExtended(out[n:], h.DestinationIEEE)
		n += 8
	}
	if h.Control.SourceIEEE {
		mac.PutExtended(out[n:], h.SourceIEEE)
		n += 8
	}
	if h.Control.Multicast {
		out[n] = h.Multicast.byte()
		n++
	}
	if h.Control.SourceRoute {
		out[n] = uint8(len(h.Route.Relays))
		out[n+1] = h.Route.Index
		n += 2
		for _, r := range h.Route.Relays {
			binary.LittleEndian.PutUint16(out[n:], uint16(r))
			n += 2
		}
	}
	return n, nil
}

// UnpackHeader decodes a NWK header.
func UnpackHeader(data []byte) (Header, int, error) {
	var h Header
	if len(data) < 2 {
		return h, 0, ErrNotEnoughBytes
	}
	c, err := controlFrom(binary.LittleEndian.Uint16(data))
	if err != nil {
		return h, 0, err
	}
	h.Control = c
	if c.FrameType == FrameInterPan {
		return h, 2, nil
	}
	if len(data) < 8 {
		return h, 0, ErrNotEnoughBytes
	}
	h.Destination = mac.ShortAddress(binary.LittleEndian.Uint16(data[2:]))
	h.Source = mac.ShortAddress(binary.LittleEndian.Uint16(data[4:]))
	h.Radius = data[6]
	h.Sequence = data[7]
	n := 8
	if c.DestinationIEEE {
		if len(data) < n+8 {
			return h, 0, ErrNotEnoughBytes
		}
		h.DestinationIEEE = mac.Extended(data[n:])
		n += 8
	}
	if c.SourceIEEE {
		if len(data) < n+8 {
			return h, 0, ErrNotEnoughBytes
		}
		h.SourceIEEE = mac.Extended(data[n:])
		n += 8
	}
	if c.Multicast {
		if len(data) < n+1 {
			return h, 0, ErrNotEnoughBytes
		}
		v := data[n]
		h.Multicast = MulticastControl{Mode: v & 3, NonMemberRadius: (v >> 2) & 7, MaxNonMemberRadius: v >> 5}
		n++
	}
	if c.SourceRoute {
		if len(data) < n+2 {
			return h, 0, ErrNotEnoughBytes
		}
		count := int(data[n])
		h.Route.Index = data[n+1]
		n += 2
		if int(h.Route.Index) > count {
			return h, 0, ErrBrokenRelayList
		}
		if len(data) < n+2*count {
			return h, 0, ErrNotEnoughBytes
		}
		h.Route.Relays = make([]mac.ShortAddress, count)
		for i := range h.Route.Relays {
			h.Route.Relays[i] = mac.ShortAddress(binary.LittleEndian.Uint16(data[n:]))
			n += 2
		}
	}
	return h, n, nil
}
