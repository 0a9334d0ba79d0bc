// Package zcl decodes Zigbee Cluster Library frame headers and attribute
// records, and names clusters and commands for display.
package zcl

import (
	"encoding/binary"
	"errors"
	"fmt"
)

var (
	ErrNotEnoughBytes = errors.New("zcl: not enough bytes")
	ErrNotEnoughSpace = errors.New("zcl: not enough space")
)

// UnknownFrameTypeError reports a reserved ZCL frame type.
type UnknownFrameTypeError struct{ Type uint8 }

func (e UnknownFrameTypeError) Error() string {
	return fmt.Sprintf("zcl: unknown frame type %d", e.Type)
}

// FrameType distinguishes global (profile wide) and cluster specific commands.
type FrameType uint8

const (
	FrameGlobal          FrameType = 0
	FrameClusterSpecific FrameType = 1
)

// Direction of a command relative to the cluster server.
type Direction uint8

const (
	ToServer Direction = 0
	ToClient Direction = 1
)

func (d Direction) String() string {
	if d == ToClient {
		return "toClient"
	}
	return "toServer"
}

// Global command identifiers.
const (
	CmdReadAttributes          uint8 = 0x00
	CmdReadAttributesResponse  uint8 = 0x01
	CmdWriteAttributes         uint8 = 0x02
	CmdWriteAttributesResponse uint8 = 0x04
	CmdConfigureReporting      uint8 = 0x06
	CmdConfigureReportingResp  uint8 = 0x07
	CmdReadReportingConfig     uint8 = 0x08
	CmdReportAttributes        uint8 = 0x0A
	CmdDefaultResponse         uint8 = 0x0B
	CmdDiscoverAttributes      uint8 = 0x0C
	CmdDiscoverAttributesResp  uint8 = 0x0D
)

var globalNames = map[uint8]string{
	CmdReadAttributes:          "ReadAttributes",
	CmdReadAttributesResponse:  "ReadAttributesResponse",
	CmdWriteAttributes:         "WriteAttributes",
	CmdWriteAttributesResponse: "WriteAttributesResponse",
	CmdConfigureReporting:      "ConfigureReporting",
	CmdConfigureReportingResp:  "ConfigureReportingResponse",
	CmdReadReportingConfig:     "ReadReportingConfiguration",
	CmdReportAttributes:        "ReportAttributes",
	CmdDefaultResponse:         "DefaultResponse",
	CmdDiscoverAttributes:      "DiscoverAttributes",
	CmdDiscoverAttributesResp:  "DiscoverAttributesResponse",
}

// GlobalCommandName names a global command.
func GlobalCommandName(id uint8) string {
	if n, ok := globalNames[id]; ok {
		return n
	}
	return fmt.Sprintf("Global(0x%02X)", id)
}

// Header is the ZCL frame header.
type Header struct {
	FrameType              FrameType
	ManufacturerSpecific   bool
	Direction              Direction
	DisableDefaultResponse bool
	Manufacturer           uint16
	Sequence               uint8
	Command                uint8
}

// Len returns the packed size of h.
func (h Header) Len() int {
	if h.ManufacturerSpecific {
		return 5
	}
	return 3
}

// Pack writes h to out.
func (h Header) Pack(out []byte) (int, error) {
	if len(out) < h.Len() {
		return 0, ErrNotEnoughSpace
	}
	fc := uint8(h.FrameType & 3)
	if h.ManufacturerSpecific {
		fc |= 1 << 2
	}
	if h.Direction == ToClient {
		fc |= 1 << 3
	}
	if h.DisableDefaultResponse {
		fc |= 1 << 4
	}
	out[0] = fc
	n := 1
	if h.ManufacturerSpecific {
		binary.LittleEndian.PutUint16(out[n:], h.Manufacturer)
		n += 2
	}
	out[n] = h.Sequence
	out[n+1] = h.Command
	return n + 2, nil
}

// UnpackHeader decodes a ZCL frame header.
func UnpackHeader(data []byte) (Header, int, error) {
	var h Header
	if len(data) < 1 {
		return h, 0, ErrNotEnoughBytes
	}
	fc := data[0]
	if t := fc & 3; t > 1 {
		return h, 0, UnknownFrameTypeError{Type: t}
	}
	h.FrameType = FrameType(fc & 3)
	h.ManufacturerSpecific = fc&(1<<2) != 0
	h.Direction = Direction(fc>>3) & 1
	h.DisableDefaultResponse = fc&(1<<4) != 0
	if len(data) < h.Len() {
		return h, 0, ErrNotEnoughBytes
	}
	n := 1
	if h.ManufacturerSpecific {
		h.Manufacturer = binary.LittleEndian.Uint16(data[n:])
		n += 2
	}
	h.Sequence = data[n]
	h.Command = data[n+1]
	return h, n + 2, nil
}

// Attribute is one record of a read response or attribute report.
type Attribute struct {
	ID     uint16      `json:"id"`
	Status uint8       `json:"status"`
	Type   uint8       `json:"type,omitempty"`
	Value  interface{} `json:"value,omitempty"`
}

// UnpackAttributes decodes the records of a ReadAttributesResponse or
// ReportAttributes payload. Other commands return nil.
func UnpackAttributes(command uint8, payload []byte) ([]Attribute, error) {
	if command != CmdReadAttributesResponse && command != CmdReportAttributes {
		return nil, nil
	}
	var attrs []Attribute
	for len(payload) > 0 {
		if len(payload) < 2 {
			return nil, ErrNotEnoughBytes
		}
		a := Attribute{ID: binary.LittleEndian.Uint16(payload)}
		payload = payload[2:]
		if command == CmdReadAttributesResponse {
			if len(payload) < 1 {
				return nil, ErrNotEnoughBytes
			}
			a.Status = payload[0]
			payload = payload[1:]
			if a.Status != StatusSuccess {
				attrs = append(attrs, a)
				continue
			}
		}
		if len(payload) < 1 {
			return nil, ErrNotEnoughBytes
		}
		a.Type = payload[0]
		v, n, err := DecodeValue(a.Type, payload[1:])
		if err != nil {
			return nil, fmt.Errorf("zcl: attribute 0x%04X: %w", a.ID, err)
		}
		a.Value = v
		payload = payload[1+n:]
		attrs = append(attrs, a)
	}
	return attrs, nil
}
