package mac

import (
	"encoding/binary"
	"fmt"
)

// FrameType is the three-bit MAC frame type.
type FrameType uint8

const (
	FrameBeacon          FrameType = 0
	FrameData            FrameType = 1
	FrameAcknowledgement FrameType = 2
	FrameCommand         FrameType = 3
)

func (t FrameType) String() string {
	switch t {
	case FrameBeacon:
		return "Beacon"
	case FrameData:
		return "Data"
	case FrameAcknowledgement:
		return "Acknowledgement"
	case FrameCommand:
		return "Command"
	}
	return fmt.Sprintf("FrameType(%d)", uint8(t))
}

// FrameVersion is the two-bit frame version.
type FrameVersion uint8

const (
	Version2003 FrameVersion = 0
	Version2006 FrameVersion = 1
	Version2015 FrameVersion = 2
)

// Frame control bits.
const (
	fcTypeMask      = 0x0007
	fcSecurity      = 1 << 3
	fcFramePending  = 1 << 4
	fcAckRequest    = 1 << 5
	fcPanIDCompress = 1 << 6
	fcDstModeShift  = 10
	fcVersionShift  = 12
	fcSrcModeShift  = 14
)

// Header is the MAC header: frame control, sequence number and addressing.
type Header struct {
	FrameType     FrameType
	Security      bool
	FramePending  bool
	AckRequest    bool
	PanIDCompress bool
	Version       FrameVersion
	Sequence      uint8
	Destination   Address
	Source        Address
}

// Len returns the packed size of h.
func (h Header) Len() int {
	n := 3
	if !h.Destination.IsNone() {
		n += 2 + h.Destination.Mode.addrLen()
	}
	if !h.Source.IsNone() {
		if !h.compressSource() {
			n += 2
		}
		n += h.Source.Mode.addrLen()
	}
	return n
}

func (h Header) compressSource() bool {
	return h.PanIDCompress && !h.Destination.IsNone()
}

// Pack writes h to out. With PAN id compression the source PAN is elided
// and taken to equal the destination PAN.
func (h Header) Pack(out []byte) (int, error) {
	if len(out) < h.Len() {
		return 0, ErrNotEnoughSpace
	}
	fc := uint16(h.FrameType) & fcTypeMask
	if h.Security {
		fc |= fcSecurity
	}
	if h.FramePending {
		fc |= fcFramePending
	}
	if h.AckRequest {
		fc |= fcAckRequest
	}
	if h.PanIDCompress {
		fc |= fcPanIDCompress
	}
	fc |= uint16(h.Destination.Mode&3) << fcDstModeShift
	fc |= uint16(h.Version&3) << fcVersionShift
	fc |= uint16(h.Source.Mode&3) << fcSrcModeShift
	binary.LittleEndian.PutUint16(out[0:2], fc)
	out[2] = h.Sequence
	n := 3
	if !h.Destination.IsNone() {
		binary.LittleEndian.PutUint16(out[n:], uint16(h.Destination.PanID))
		n += 2
		h.Destination.packAddr(out[n:])
		n += h.Destination.Mode.addrLen()
	}
	if !h.Source.IsNone() {
		if !h.compressSource() {
			binary.LittleEndian.PutUint16(out[n:], uint16(h.Source.PanID))
			n += 2
		}
		h.Source.packAddr(out[n:])
		n += h.Source.Mode.addrLen()
	}
	return n, nil
}

func unpackMode(v uint16) (AddressMode, error) {
	m := AddressMode(v & 3)
	if m == 1 {
		return 0, InvalidAddressModeError{Mode: 1}
	}
	return m, nil
}

// UnpackHeader decodes a MAC header and returns it with the number of bytes
// consumed. Frames with the security bit set are rejected.
func UnpackHeader(data []byte) (Header, int, error) {
	var h Header
	if len(data) < 3 {
		return h, 0, ErrNotEnoughBytes
	}
	fc := binary.LittleEndian.Uint16(data[0:2])
	ft := uint8(fc & fcTypeMask)
	if ft > uint8(FrameCommand) {
		return h, 0, InvalidFrameTypeError{Type: ft}
	}
	h.FrameType = FrameType(ft)
	h.Security = fc&fcSecurity != 0
	h.FramePending = fc&fcFramePending != 0
	h.AckRequest = fc&fcAckRequest != 0
	h.PanIDCompress = fc&fcPanIDCompress != 0
	h.Version = FrameVersion((fc >> fcVersionShift) & 3)
	if h.Version > Version2015 {
		return h, 0, InvalidVersionError{Version: uint8(h.Version)}
	}
	if h.Security {
		return h, 0, ErrSecurityNotSupported
	}
	dstMode, err := unpackMode(fc >> fcDstModeShift)
	if err != nil {
		return h, 0, err
	}
	srcMode, err := unpackMode(fc >> fcSrcModeShift)
	if err != nil {
		return h, 0, err
	}
	h.Sequence = data[2]
	n := 3

	if dstMode != AddrNone {
		need := 2 + dstMode.addrLen()
		if len(data) < n+need {
			return h, 0, ErrNotEnoughBytes
		}
		h.Destination = unpackAddress(dstMode, PanID(binary.LittleEndian.Uint16(data[n:])), data[n+2:])
		n += need
	}
	if srcMode != AddrNone {
		pan := h.Destination.PanID
		if !h.PanIDCompress || dstMode == AddrNone {
			if len(data) < n+2 {
				return h, 0, ErrNotEnoughBytes
			}
			pan = PanID(binary.LittleEndian.Uint16(data[n:]))
			n += 2
		}
		if len(data) < n+srcMode.addrLen() {
			return h, 0, ErrNotEnoughBytes
		}
		h.Source = unpackAddress(srcMode, pan, data[n:])
		n += srcMode.addrLen()
	}
	return h, n, nil
}

func unpackAddress(mode AddressMode, pan PanID, data []byte) Address {
	if mode == AddrShort {
		return ShortAddr(pan, ShortAddress(binary.LittleEndian.Uint16(data)))
	}
	return ExtendedAddr(pan, Extended(data))
}

// Acknowledgement returns the header of an immediate acknowledgement for a
// frame with sequence number seq.
func Acknowledgement(seq uint8) Header {
	return Header{FrameType: FrameAcknowledgement, Sequence: seq}
}
