package nwk

import (
	"encoding/binary"
	"fmt"

	"psila-go/internal/mac"
)

// CommandID identifies a network command.
type CommandID uint8

const (
	CmdRouteRequest             CommandID = 0x01
	CmdRouteReply               CommandID = 0x02
	CmdNetworkStatus            CommandID = 0x03
	CmdLeave                    CommandID = 0x04
	CmdRouteRecord              CommandID = 0x05
	CmdRejoinRequest            CommandID = 0x06
	CmdRejoinResponse           CommandID = 0x07
	CmdLinkStatus               CommandID = 0x08
	CmdNetworkReport            CommandID = 0x09
	CmdNetworkUpdate            CommandID = 0x0A
	CmdEndDeviceTimeoutRequest  CommandID = 0x0B
	CmdEndDeviceTimeoutResponse CommandID = 0x0C
)

var commandNames = map[CommandID]string{
	CmdRouteRequest:             "RouteRequest",
	CmdRouteReply:               "RouteReply",
	CmdNetworkStatus:            "NetworkStatus",
	CmdLeave:                    "Leave",
	CmdRouteRecord:              "RouteRecord",
	CmdRejoinRequest:            "RejoinRequest",
	CmdRejoinResponse:           "RejoinResponse",
	CmdLinkStatus:               "LinkStatus",
	CmdNetworkReport:            "NetworkReport",
	CmdNetworkUpdate:            "NetworkUpdate",
	CmdEndDeviceTimeoutRequest:  "EndDeviceTimeoutRequest",
	CmdEndDeviceTimeoutResponse: "EndDeviceTimeoutResponse",
}

func (c CommandID) String() string {
	if name, ok := commandNames[c]; ok {
		return name
	}
	return fmt.Sprintf("Command(0x%02X)", uint8(c))
}

// UnknownCommandError reports an unrecognized network command.
type UnknownCommandError struct{ ID uint8 }

func (e UnknownCommandError) Error() string {
	return fmt.Sprintf("nwk: unknown network command 0x%02X", e.ID)
}

// Command is a network command payload.
type Command interface {
	ID() CommandID
	pack(out []byte) (int, error)
}

// RouteRequest asks for a route to Destination, a short address or, with
// Multicast, a group.
type RouteRequest struct {
	ManyToOne       uint8
	Multicast       bool
	Identifier      uint8
	Destination     mac.ShortAddress
	PathCost        uint8
	DestinationIEEE *mac.ExtendedAddress
}

type RouteReply struct {
	Multicast      bool
	Identifier     uint8
	Originator     mac.ShortAddress
	Responder      mac.ShortAddress
	PathCost       uint8
	OriginatorIEEE *mac.ExtendedAddress
	ResponderIEEE  *mac.ExtendedAddress
}

// Network status codes seen most often.
const (
	StatusNoRouteAvailable   uint8 = 0x00
	StatusTreeLinkFailure    uint8 = 0x01
	StatusNonTreeLinkFailure uint8 = 0x02
	StatusAddressConflict    uint8 = 0x0D
)

type NetworkStatus struct {
	Status      uint8
	Destination mac.ShortAddress
}

type Leave struct {
	Rejoin         bool
	Request        bool
	RemoveChildren bool
}

type RouteRecord struct {
	Relays []mac.ShortAddress
}

type RejoinRequest struct {
	Capability mac.CapabilityInformation
}

type RejoinResponse struct {
	Address mac.ShortAddress
	Status  uint8
}

// LinkStatusEntry is one neighbor with its link costs.
type LinkStatusEntry struct {
	Address      mac.ShortAddress
	IncomingCost uint8
	OutgoingCost uint8
}

type LinkStatus struct {
	FirstFrame bool
	LastFrame  bool
	Entries    []LinkStatusEntry
}

// NetworkReport and NetworkUpdate keep their body undecoded.
type NetworkReport struct{ Body []byte }
type NetworkUpdate struct{ Body []byte }

type EndDeviceTimeoutRequest struct {
	Timeout       uint8
	Configuration uint8
}

type EndDeviceTimeoutResponse struct {
	Status     uint8
	ParentInfo uint8
}

func (RouteRequest) ID() CommandID             { return CmdRouteRequest }
func (RouteReply) ID() CommandID               { return CmdRouteReply }
func (NetworkStatus) ID() CommandID            { return CmdNetworkStatus }
func (Leave) ID() CommandID                    { return CmdLeave }
func (RouteRecord) ID() CommandID              { return CmdRouteRecord }
func (RejoinRequest) ID() CommandID            { return CmdRejoinRequest }
func (RejoinResponse) ID() CommandID           { return CmdRejoinResponse }
func (LinkStatus) ID() CommandID               { return CmdLinkStatus }
func (NetworkReport) ID() CommandID            { return CmdNetworkReport }
func (NetworkUpdate) ID() CommandID            { return CmdNetworkUpdate }
func (EndDeviceTimeoutRequest) ID() CommandID  { return CmdEndDeviceTimeoutRequest }
func (EndDeviceTimeoutResponse) ID() CommandID { return CmdEndDeviceTimeoutResponse }

// writer appends little-endian fields and remembers overflow.
type writer struct {
	out []byte
	n   int
	err error
}

func (w *writer) u8(v uint8) {
	if w.err != nil {
		return
	}
	if w.n >= len(w.out) {
		w.err = ErrNotEnoughSpace
		return
	}
	w.out[w.n] = v
	w.n++
}

func (w *writer) u16(v uint16) {
	w.u8(uint8(v))
	w.u8(uint8(v >> 8))
}

func (w *writer) ext(a mac.ExtendedAddress) {
	for i := 0; i < 8; i++ {
		w.u8(uint8(a >> (8 * i)))
	}
}

func (w *writer) raw(b []byte) {
	for _, v := range b {
		w.u8(v)
	}
}

func (c RouteRequest) pack(out []byte) (int, error) {
	w := writer{out: out}
	opts := (c.ManyToOne & 3) << 3
	if c.DestinationIEEE != nil {
		opts |= 1 << 5
	}
	if c.Multicast {
		opts |= 1 << 6
	}
	w.u8(opts)
	w.u8(c.Identifier)
	w.u16(uint16(c.Destination))
	w.u8(c.PathCost)
	if c.DestinationIEEE != nil {
		w.ext(*c.DestinationIEEE)
	}
	return w.n, w.err
}

func (c RouteReply) pack(out []byte) (int, error) {
	w := writer{out: out}
	var opts uint8
	if c.OriginatorIEEE != nil {
		opts |= 1 << 4
	}
	if c.ResponderIEEE != nil {
		opts |= 1 << 5
	}
	if c.Multicast {
		opts |= 1 << 6
	}
	w.u8(opts)
	w.u8(c.Identifier)
	w.u16(uint16(c.Originator))
	w.u16(uint16(c.Responder))
	w.u8(c.PathCost)
	if c.OriginatorIEEE != nil {
		w.ext(*c.OriginatorIEEE)
	}
	if c.ResponderIEEE != nil {
		w.ext(*c.ResponderIEEE)
	}
	return w.n, w.err
}

func (c NetworkStatus) pack(out []byte) (int, error) {
	w := writer{out: out}
	w.u8(c.Status)
	w.u16(uint16(c.Destination))
	return w.n, w.err
}

func (c Leave) pack(out []byte) (int, error) {
	w := writer{out: out}
	var opts uint8
	if c.Rejoin {
		opts |= 1 << 5
	}
	if c.Request {
		opts |= 1 << 6
	}
	if c.RemoveChildren {
		opts |= 1 << 7
	}
	w.u8(opts)
	return w.n, w.err
}

func (c RouteRecord) pack(out []byte) (int, error) {
	if len(c.Relays) > 255 {
		return 0, ErrBrokenRelayList
	}
	w := writer{out: out}
	w.u8(uint8(len(c.Relays)))
	for _, r := range c.Relays {
		w.u16(uint16(r))
	}
	return w.n, w.err
}

func (c RejoinRequest) pack(out []byte) (int, error) {
	w := writer{out: out}
	w.u8(c.Capability.Byte())
	return w.n, w.err
}

func (c RejoinResponse) pack(out []byte) (int, error) {
	w := writer{out: out}
	w.u16(uint16(c.Address))
	w.u8(c.Status)
	return w.n, w.err
}

func (c LinkStatus) pack(out []byte) (int, error) {
	if len(c.Entries) > 31 {
		return 0, ErrNotEnoughSpace
	}
	w := writer{out: out}
	opts := uint8(len(c.Entries))
	if c.FirstFrame {
		opts |= 1 << 5
	}
	if c.LastFrame {
		opts |= 1 << 6
	}
	w.u8(opts)
	for _, e := range c.Entries {
		w.u16(uint16(e.Address))
		w.u8(e.IncomingCost&7 | (e.OutgoingCost&7)<<4)
	}
	return w.n, w.err
}

func (c NetworkReport) pack(out []byte) (int, error) {
	w := writer{out: out}
	w.raw(c.Body)
	return w.n, w.err
}

func (c NetworkUpdate) pack(out []byte) (int, error) {
	w := writer{out: out}
	w.raw(c.Body)
	return w.n, w.err
}

func (c EndDeviceTimeoutRequest) pack(out []byte) (int, error) {
	w := writer{out: out}
	w.u8(c.Timeout)
	w.u8(c.Configuration)
	return w.n, w.err
}

func (c EndDeviceTimeoutResponse) pack(out []byte) (int, error) {
	w := writer{out: out}
	w.u8(c.Status)
	w.u8(c.ParentInfo)
	return w.n, w.err
}

// PackCommand writes the command identifier followed by its body.
func PackCommand(c Command, out []byte) (int, error) {
	if len(out) < 1 {
		return 0, ErrNotEnoughSpace
	}
	out[0] = uint8(c.ID())
	n, err := c.pack(out[1:])
	if err != nil {
		return 0, err
	}
	return n + 1, nil
}

// UnpackCommand decodes a network command payload.
func UnpackCommand(data []byte) (Command, int, error) {
	if len(data) < 1 {
		return nil, 0, ErrNotEnoughBytes
	}
	id := CommandID(data[0])
	b := data[1:]
	short := func(i int) mac.ShortAddress { return mac.ShortAddress(binary.LittleEndian.Uint16(b[i:])) }
	ext := func(i int) *mac.ExtendedAddress {
		a := mac.Extended(b[i:])
		return &a
	}
	switch id {
	case CmdRouteRequest:
		if len(b) < 5 {
			return nil, 0, ErrNotEnoughBytes
		}
		c := RouteRequest{
			ManyToOne:   (b[0] >> 3) & 3,
			Multicast:   b[0]&(1<<6) != 0,
			Identifier:  b[1],
			Destination: short(2),
			PathCost:    b[4],
		}
		n := 5
		if b[0]&(1<<5) != 0 {
			if len(b) < n+8 {
				return nil, 0, ErrNotEnoughBytes
			}
			c.DestinationIEEE = ext(n)
			n += 8
		}
		return c, n + 1, nil
	case CmdRouteReply:
		if len(b) < 7 {
			return nil, 0, ErrNotEnoughBytes
		}
		c := RouteReply{
			Multicast:  b[0]&(1<<6) != 0,
			Identifier: b[1],
			Originator: short(2),
			Responder:  short(4),
			PathCost:   b[6],
		}
		n := 7
		if b[0]&(1<<4) != 0 {
			if len(b) < n+8 {
				return nil, 0, ErrNotEnoughBytes
			}
			c.OriginatorIEEE = ext(n)
			n += 8
		}
		if b[0]&(1<<5) != 0 {
			if len(b) < n+8 {
				return nil, 0, ErrNotEnoughBytes
			}
			c.ResponderIEEE = ext(n)
			n += 8
		}
		return c, n + 1, nil
	case CmdNetworkStatus:
		if len(b) < 3 {
			return nil, 0, ErrNotEnoughBytes
		}
		return NetworkStatus{Status: b[0], Destination: short(1)}, 4, nil
	case CmdLeave:
		if len(b) < 1 {
			return nil, 0, ErrNotEnoughBytes
		}
		return Leave{
			Rejoin:         b[0]&(1<<5) != 0,
			Request:        b[0]&(1<<6) != 0,
			RemoveChildren: b[0]&(1<<7) != 0,
		}, 2, nil
	case CmdRouteRecord:
		if len(b) < 1 {
			return nil, 0, ErrNotEnoughBytes
		}
		count := int(b[0])
		if len(b) < 1+2*count {
			return nil, 0, ErrBrokenRelayList
		}
		c := RouteRecord{Relays: make([]mac.ShortAddress, count)}
		for i := range c.Relays {
			c.Relays[i] = short(1 + 2*i)
		}
		return c, 2 + 2*count, nil
	case CmdRejoinRequest:
		if len(b) < 1 {
			return nil, 0, ErrNotEnoughBytes
		}
		return RejoinRequest{Capability: mac.CapabilityFrom(b[0])}, 2, nil
	case CmdRejoinResponse:
		if len(b) < 3 {
			return nil, 0, ErrNotEnoughBytes
		}
		return RejoinResponse{Address: short(0), Status: b[2]}, 4, nil
	case CmdLinkStatus:
		if len(b) < 1 {
			return nil, 0, ErrNotEnoughBytes
		}
		count := int(b[0] & 0x1F)
		if len(b) < 1+3*count {
			return nil, 0, ErrNotEnoughBytes
		}
		c := LinkStatus{
			FirstFrame: b[0]&(1<<5) != 0,
			LastFrame:  b[0]&(1<<6) != 0,
			Entries:    make([]LinkStatusEntry, count),
		}
		for i := range c.Entries {
			off := 1 + 3*i
			c.Entries[i] = LinkStatusEntry{
				Address:      short(off),
				IncomingCost: b[off+2] & 7,
				OutgoingCost: (b[off+2] >> 4) & 7,
			}
		}
		return c, 2 + 3*count, nil
	case CmdNetworkReport:
		return NetworkReport{Body: append([]byte(nil), b...)}, len(data), nil
	case CmdNetworkUpdate:
		return NetworkUpdate{Body: append([]byte(nil), b...)}, len(data), nil
	case CmdEndDeviceTimeoutRequest:
		if len(b) < 2 {
			return nil, 0, ErrNotEnoughBytes
		}
		return EndDeviceTimeoutRequest{Timeout: b[0], Configuration: b[1]}, 3, nil
	case CmdEndDeviceTimeoutResponse:
		if len(b) < 2 {
			return nil, 0, ErrNotEnoughBytes
		}
		return EndDeviceTimeoutResponse{Status: b[0], ParentInfo: b[1]}, 3, nil
	}
	return nil, 0, UnknownCommandError{ID: uint8(id)}
}
