// Package zdp encodes and decodes Zigbee device profile messages.
package zdp

import (
	"encoding/binary"
	"errors"
	"fmt"

	"psila-go/internal/mac"
)

var (
	ErrNotEnoughBytes = errors.New("zdp: not enough bytes")
	ErrNotEnoughSpace = errors.New("zdp: not enough space")
)

// UnknownClusterError reports a device profile cluster without a decoder.
type UnknownClusterError struct{ Cluster uint16 }

func (e UnknownClusterError) Error() string {
	return fmt.Sprintf("zdp: unknown cluster 0x%04X", e.Cluster)
}

// Cluster identifiers.
const (
	ClusterNetworkAddressRequest  uint16 = 0x0000
	ClusterIEEEAddressRequest     uint16 = 0x0001
	ClusterNodeDescriptorRequest  uint16 = 0x0002
	ClusterMatchDescriptorRequest uint16 = 0x0006
	ClusterDeviceAnnounce         uint16 = 0x0013
	ClusterManagementLQIRequest   uint16 = 0x0031

	ClusterNetworkAddressResponse  uint16 = 0x8000
	ClusterIEEEAddressResponse     uint16 = 0x8001
	ClusterMatchDescriptorResponse uint16 = 0x8006
	ClusterManagementLQIResponse   uint16 = 0x8031
)

// Status is a device profile status code.
type Status uint8

const (
	StatusSuccess         Status = 0x00
	StatusInvalidRequest  Status = 0x80
	StatusDeviceNotFound  Status = 0x81
	StatusInvalidEndpoint Status = 0x82
	StatusNotActive       Status = 0x83
	StatusNotSupported    Status = 0x84
	StatusTimeout         Status = 0x85
	StatusNoMatch         Status = 0x86
	StatusNoEntry         Status = 0x88
	StatusNoDescriptor    Status = 0x89
	StatusTableFull       Status = 0x8C
	StatusNotAuthorized   Status = 0x8D
	StatusDeviceBindFull  Status = 0x8E
	StatusInvalidIndex    Status = 0x8F
)

// Message is a device profile message body.
type Message interface {
	Cluster() uint16
	pack(w *writer) error
}

// Frame is a device profile payload: transaction sequence and message.
type Frame struct {
	Sequence uint8
	Message  Message
}

// Pack writes f to out.
func (f Frame) Pack(out []byte) (int, error) {
	if len(out) < 1 {
		return 0, ErrNotEnoughSpace
	}
	out[0] = f.Sequence
	w := &writer{out: out, n: 1}
	if err := f.Message.pack(w); err != nil {
		return 0, err
	}
	return w.n, nil
}

// Unpack decodes the device profile payload carried on cluster.
func Unpack(cluster uint16, data []byte) (Frame, int, error) {
	var f Frame
	if len(data) < 1 {
		return f, 0, ErrNotEnoughBytes
	}
	f.Sequence = data[0]
	r := &reader{data: data, n: 1}
	var m Message
	switch cluster {
	case ClusterNetworkAddressRequest:
		m = unpackNetworkAddressRequest(r)
	case ClusterIEEEAddressRequest:
		m = unpackIEEEAddressRequest(r)
	case ClusterNodeDescriptorRequest:
		m = NodeDescriptorRequest{Address: mac.ShortAddress(r.u16())}
	case ClusterMatchDescriptorRequest:
		m = unpackMatchDescriptorRequest(r)
	case ClusterDeviceAnnounce:
		m = DeviceAnnounce{
			Address:    mac.ShortAddress(r.u16()),
			IEEE:       r.ieee(),
			Capability: mac.CapabilityFrom(r.u8()),
		}
	case ClusterManagementLQIRequest:
		m = ManagementLQIRequest{StartIndex: r.u8()}
	case ClusterNetworkAddressResponse, ClusterIEEEAddressResponse:
		m = unpackAddressResponse(r, cluster)
	case ClusterMatchDescriptorResponse:
		m = unpackMatchDescriptorResponse(r)
	case ClusterManagementLQIResponse:
		m = unpackManagementLQIResponse(r)
	default:
		return f, 0, UnknownClusterError{Cluster: cluster}
	}
	if r.err != nil {
		return f, 0, r.err
	}
	f.Message = m
	return f, r.n, nil
}

// RequestType selects a single or extended address response.
type RequestType uint8

const (
	RequestSingle   RequestType = 0
	RequestExtended RequestType = 1
)

type NetworkAddressRequest struct {
	IEEE       mac.ExtendedAddress
	Type       RequestType
	StartIndex uint8
}

func (NetworkAddressRequest) Cluster() uint16 { return ClusterNetworkAddressRequest }

func (m NetworkAddressRequest) pack(w *writer) error {
	w.ieee(m.IEEE)
	w.u8(uint8(m.Type))
	w.u8(m.StartIndex)
	return w.err
}

func unpackNetworkAddressRequest(r *reader) NetworkAddressRequest {
	return NetworkAddressRequest{IEEE: r.ieee(), Type: RequestType(r.u8()), StartIndex: r.u8()}
}

type IEEEAddressRequest struct {
	Address    mac.ShortAddress
	Type       RequestType
	StartIndex uint8
}

func (IEEEAddressRequest) Cluster() uint16 { return ClusterIEEEAddressRequest }

func (m IEEEAddressRequest) pack(w *writer) error {
	w.u16(uint16(m.Address))
	w.u8(uint8(m.Type))
	w.u8(m.StartIndex)
	return w.err
}

func unpackIEEEAddressRequest(r *reader) IEEEAddressRequest {
	return IEEEAddressRequest{Address: mac.ShortAddress(r.u16()), Type: RequestType(r.u8()), StartIndex: r.u8()}
}

// AddressResponse is both NWK_addr_rsp and IEEE_addr_rsp, selected by
// Response (zero means NWK_addr_rsp). Associated is only present in
// extended responses.
type AddressResponse struct {
	Response   uint16
	Status     Status
	IEEE       mac.ExtendedAddress
	Address    mac.ShortAddress
	Extended   bool
	StartIndex uint8
	Associated []mac.ShortAddress
}

func (m AddressResponse) Cluster() uint16 {
	if m.Response == 0 {
		return ClusterNetworkAddressResponse
	}
	return m.Response
}

func (m AddressResponse) pack(w *writer) error {
	w.u8(uint8(m.Status))
	w.ieee(m.IEEE)
	w.u16(uint16(m.Address))
	if m.Extended {
		w.u8(uint8(len(m.Associated)))
		w.u8(m.StartIndex)
		for _, a := range m.Associated {
			w.u16(uint16(a))
		}
	}
	return w.err
}

func unpackAddressResponse(r *reader, cluster uint16) AddressResponse {
	m := AddressResponse{Response: cluster, Status: Status(r.u8())}
	if m.Status != StatusSuccess && r.remaining() == 0 {
		return m
	}
	m.IEEE = r.ieee()
	m.Address = mac.ShortAddress(r.u16())
	if r.err != nil || r.remaining() == 0 {
		return m
	}
	m.Extended = true
	count := int(r.u8())
	m.StartIndex = r.u8()
	for i := 0; i < count && r.err == nil; i++ {
		m.Associated = append(m.Associated, mac.ShortAddress(r.u16()))
	}
	return m
}

type NodeDescriptorRequest struct {
	Address mac.ShortAddress
}

func (NodeDescriptorRequest) Cluster() uint16 { return ClusterNodeDescriptorRequest }

func (m NodeDescriptorRequest) pack(w *writer) error {
	w.u16(uint16(m.Address))
	return w.err
}

type MatchDescriptorRequest struct {
	Address        mac.ShortAddress
	Profile        uint16
	InputClusters  []uint16
	OutputClusters []uint16
}

func (MatchDescriptorRequest) Cluster() uint16 { return ClusterMatchDescriptorRequest }

func (m MatchDescriptorRequest) pack(w *writer) error {
	w.u16(uint16(m.Address))
	w.u16(m.Profile)
	w.clusters(m.InputClusters)
	w.clusters(m.OutputClusters)
	return w.err
}

func unpackMatchDescriptorRequest(r *reader) MatchDescriptorRequest {
	return MatchDescriptorRequest{
		Address:        mac.ShortAddress(r.u16()),
		Profile:        r.u16(),
		InputClusters:  r.clusters(),
		OutputClusters: r.clusters(),
	}
}

type MatchDescriptorResponse struct {
	Status    Status
	Address   mac.ShortAddress
	Endpoints []uint8
}

func (MatchDescriptorResponse) Cluster() uint16 { return ClusterMatchDescriptorResponse }

func (m MatchDescriptorResponse) pack(w *writer) error {
	w.u8(uint8(m.Status))
	w.u16(uint16(m.Address))
	w.u8(uint8(len(m.Endpoints)))
	w.bytes(m.Endpoints)
	return w.err
}

func unpackMatchDescriptorResponse(r *reader) MatchDescriptorResponse {
	m := MatchDescriptorResponse{Status: Status(r.u8()), Address: mac.ShortAddress(r.u16())}
	count := int(r.u8())
	if b := r.take(count); b != nil {
		m.Endpoints = append([]uint8(nil), b...)
	}
	return m
}

// DeviceAnnounce is broadcast by a device after joining.
type DeviceAnnounce struct {
	Address    mac.ShortAddress
	IEEE       mac.ExtendedAddress
	Capability mac.CapabilityInformation
}

func (DeviceAnnounce) Cluster() uint16 { return ClusterDeviceAnnounce }

func (m DeviceAnnounce) pack(w *writer) error {
	w.u16(uint16(m.Address))
	w.ieee(m.IEEE)
	w.u8(m.Capability.Byte())
	return w.err
}

type ManagementLQIRequest struct {
	StartIndex uint8
}

func (ManagementLQIRequest) Cluster() uint16 { return ClusterManagementLQIRequest }

func (m ManagementLQIRequest) pack(w *writer) error {
	w.u8(m.StartIndex)
	return w.err
}

// NeighborLen is the packed size of one neighbor table entry.
const NeighborLen = 22

// Neighbor is one Mgmt_Lqi_rsp table entry.
type Neighbor struct {
	ExtendedPanID mac.ExtendedAddress
	IEEE          mac.ExtendedAddress
	Address       mac.ShortAddress
	DeviceType    uint8
	RxOnWhenIdle  uint8
	Relationship  uint8
	PermitJoining uint8
	Depth         uint8
	LQI           uint8
}

type ManagementLQIResponse struct {
	Status       Status
	TotalEntries uint8
	StartIndex   uint8
	Neighbors    []Neighbor
}

func (ManagementLQIResponse) Cluster() uint16 { return ClusterManagementLQIResponse }

func (m ManagementLQIResponse) pack(w *writer) error {
	w.u8(uint8(m.Status))
	w.u8(m.TotalEntries)
	w.u8(m.StartIndex)
	w.u8(uint8(len(m.Neighbors)))
	for _, n := range m.Neighbors {
		w.ieee(n.ExtendedPanID)
		w.ieee(n.IEEE)
		w.u16(uint16(n.Address))
		w.u8(n.DeviceType&3 | (n.RxOnWhenIdle&3)<<2 | (n.Relationship&7)<<4)
		w.u8(n.PermitJoining & 3)
		w.u8(n.Depth)
		w.u8(n.LQI)
	}
	return w.err
}

func unpackManagementLQIResponse(r *reader) ManagementLQIResponse {
	m := ManagementLQIResponse{Status: Status(r.u8()), TotalEntries: r.u8(), StartIndex: r.u8()}
	count := int(r.u8())
	for i := 0; i < count && r.err == nil; i++ {
		var n Neighbor
		n.ExtendedPanID = r.ieee()
		n.IEEE = r.ieee()
		n.Address = mac.ShortAddress(r.u16())
		v := r.u8()
		n.DeviceType = v & 3
		n.RxOnWhenIdle = (v >> 2) & 3
		n.Relationship = (v >> 4) & 7
		n.PermitJoining = r.u8() & 3
		n.Depth = r.u8()
		n.LQI = r.u8()
		if r.err == nil {
			m.Neighbors = append(m.Neighbors, n)
		}
	}
	return m
}

// ClusterName returns a readable name for a device profile cluster.
func ClusterName(cluster uint16) string {
	switch cluster {
	case ClusterNetworkAddressRequest:
		return "NWK_addr_req"
	case ClusterIEEEAddressRequest:
		return "IEEE_addr_req"
	case ClusterNodeDescriptorRequest:
		return "Node_Desc_req"
	case ClusterMatchDescriptorRequest:
		return "Match_Desc_req"
	case ClusterDeviceAnnounce:
		return "Device_annce"
	case ClusterManagementLQIRequest:
		return "Mgmt_Lqi_req"
	case ClusterNetworkAddressResponse:
		return "NWK_addr_rsp"
	case ClusterIEEEAddressResponse:
		return "IEEE_addr_rsp"
	case ClusterMatchDescriptorResponse:
		return "Match_Desc_rsp"
	case ClusterManagementLQIResponse:
		return "Mgmt_Lqi_rsp"
	}
	return fmt.Sprintf("ZDP(0x%04X)", cluster)
}

// reader and writer latch the first error so message codecs stay linear.

type reader struct {
	data []byte
	n    int
	err  error
}

func (r *reader) remaining() int { return len(r.data) - r.n }

func (r *reader) take(k int) []byte {
	if r.err != nil {
		return nil
	}
	if r.remaining() < k {
		r.err = ErrNotEnoughBytes
		return nil
	}
	b := r.data[r.n : r.n+k]
	r.n += k
	return b
}

func (r *reader) u8() uint8 {
	if b := r.take(1); b != nil {
		return b[0]
	}
	return 0
}

func (r *reader) u16() uint16 {
	if b := r.take(2); b != nil {
		return binary.LittleEndian.Uint16(b)
	}
	return 0
}

func (r *reader) ieee() mac.ExtendedAddress {
	if b := r.take(8); b != nil {
		return mac.Extended(b)
	}
	return 0
}

func (r *reader) clusters() []uint16 {
	count := int(r.u8())
	var out []uint16
	for i := 0; i < count && r.err == nil; i++ {
		c := r.u16()
		if r.err == nil {
			out = append(out, c)
		}
	}
	return out
}

type writer struct {
	out []byte
	n   int
	err error
}

func (w *writer) grow(k int) []byte {
	if w.err != nil {
		return nil
	}
	if len(w.out)-w.n < k {
		w.err = ErrNotEnoughSpace
		return nil
	}
	b := w.out[w.n : w.n+k]
	w.n += k
	return b
}

func (w *writer) u8(v uint8) {
	if b := w.grow(1); b != nil {
		b[0] = v
	}
}

func (w *writer) u16(v uint16) {
	if b := w.grow(2); b != nil {
		binary.LittleEndian.PutUint16(b, v)
	}
}

func (w *writer) ieee(v mac.ExtendedAddress) {
	if b := w.grow(8); b != nil {
		mac.PutExtended(b, v)
	}
}

func (w *writer) bytes(v []byte) {
	if b := w.grow(len(v)); b != nil {
		copy(b, v)
	}
}

func (w *writer) clusters(cs []uint16) {
	w.u8(uint8(len(cs)))
	for _, c := range cs {
		w.u16(c)
	}
}
