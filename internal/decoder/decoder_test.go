package decoder

import (
	"encoding/hex"
	"errors"
	"log/slog"
	"os"
	"reflect"
	"testing"

	"psila-go/internal/aps"
	"psila-go/internal/blockcipher"
	"psila-go/internal/mac"
	"psila-go/internal/nwk"
	"psila-go/internal/security"
	"psila-go/internal/zcl"
	"psila-go/internal/zdp"
)

var (
	networkKey = security.Key{0x01, 0x03, 0x05, 0x07, 0x09, 0x0B, 0x0D, 0x0F, 0x00, 0x02, 0x04, 0x06, 0x08, 0x0A, 0x0C, 0x0D}
	deviceIEEE = mac.ExtendedAddress(0x00124B0001020304)
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

func mustHex(t *testing.T, s string) []byte {
	t.Helper()
	b, err := hex.DecodeString(s)
	if err != nil {
		t.Fatal(err)
	}
	return b
}

func macData(t *testing.T) []byte {
	t.Helper()
	h := mac.Header{
		FrameType:     mac.FrameData,
		PanIDCompress: true,
		Sequence:      0x21,
		Destination:   mac.ShortAddr(0x1234, 0xFFFF),
		Source:        mac.ShortAddr(0x1234, 0x2222),
	}
	out := make([]byte, h.Len())
	if _, err := h.Pack(out); err != nil {
		t.Fatal(err)
	}
	return out
}

func nwkHeader(t *testing.T, h nwk.Header) []byte {
	t.Helper()
	out := make([]byte, h.Len())
	if _, err := h.Pack(out); err != nil {
		t.Fatal(err)
	}
	return out
}

func apsData(t *testing.T, profile, cluster uint16, payload []byte) []byte {
	t.Helper()
	h := aps.Header{
		Control:             aps.Control{FrameType: aps.FrameData},
		DestinationEndpoint: 0,
		Cluster:             cluster,
		Profile:             profile,
		SourceEndpoint:      0,
		Counter:             0x10,
	}
	if profile != aps.ProfileDevice {
		h.DestinationEndpoint, h.SourceEndpoint = 1, 1
	}
	out := make([]byte, h.Len())
	if _, err := h.Pack(out); err != nil {
		t.Fatal(err)
	}
	return append(out, payload...)
}

// securedAnnounce builds MAC data, a network-key secured NWK frame, APS
// data and a Device_annce.
func securedAnnounce(t *testing.T, key security.Key) []byte {
	t.Helper()
	bc := blockcipher.NewSoftware()
	annce := zdp.Frame{Sequence: 0x81, Message: zdp.DeviceAnnounce{Address: 0x2222, IEEE: deviceIEEE, Capability: mac.CapabilityFrom(0x8E)}}
	body := make([]byte, 16)
	n, err := annce.Pack(body)
	if err != nil {
		t.Fatal(err)
	}
	app := apsData(t, aps.ProfileDevice, zdp.ClusterDeviceAnnounce, body[:n])
	header := nwkHeader(t, nwk.Header{
		Control:     nwk.Control{FrameType: nwk.FrameData, ProtocolVersion: 2, Security: true, SourceIEEE: true},
		Destination: nwk.BroadcastRxOnWhenIdle,
		Source:      0x2222,
		Radius:      30,
		Sequence:    0x55,
		SourceIEEE:  deviceIEEE,
	})
	aux := security.Header{
		Control: security.Control{Identifier: security.KeyNetwork, ExtendedNonce: true},
		Counter: 9,
		Source:  deviceIEEE,
	}
	secured, err := security.Secure(bc, key, SecurityLevel, header, aux, app)
	if err != nil {
		t.Fatal(err)
	}
	return append(macData(t), secured...)
}

func newDecoder(keys ...security.NamedKey) *Decoder {
	return New(blockcipher.NewSoftware(), security.NewKeyRing(keys...), testLogger())
}

func TestDecodeSecuredDeviceAnnounce(t *testing.T) {
	keys := append(security.WellKnownKeys(), security.NamedKey{Name: "Network Key", Key: networkKey})
	d := newDecoder(keys...)
	p, err := d.Decode(securedAnnounce(t, networkKey))
	if err != nil {
		t.Fatal(err)
	}
	if p.NWK == nil || p.NWK.Source != 0x2222 || p.NWK.SourceIEEE != deviceIEEE {
		t.Fatalf("nwk = %+v", p.NWK)
	}
	if p.NWKSecurity == nil || p.NWKSecurity.Key != "Network Key" || p.NWKSecurity.Header.Counter != 9 {
		t.Fatalf("nwk security = %+v", p.NWKSecurity)
	}
	if p.APS == nil || p.APS.Cluster != zdp.ClusterDeviceAnnounce || p.APSSecurity != nil {
		t.Fatalf("aps = %+v", p.APS)
	}
	want := zdp.DeviceAnnounce{Address: 0x2222, IEEE: deviceIEEE, Capability: mac.CapabilityFrom(0x8E)}
	if p.ZDP == nil || !reflect.DeepEqual(p.ZDP.Message, want) {
		t.Fatalf("zdp = %+v, want %+v", p.ZDP, want)
	}
	if p.Layer() != "zdp" || p.Payload != nil {
		t.Errorf("layer %q payload %x", p.Layer(), p.Payload)
	}
}

func TestDecodeWrongKey(t *testing.T) {
	d := newDecoder(security.WellKnownKeys()...)
	p, err := d.Decode(securedAnnounce(t, networkKey))
	if !errors.Is(err, security.ErrNoValidKey) {
		t.Fatalf("err = %v, want ErrNoValidKey", err)
	}
	if p != nil {
		t.Errorf("partial packet returned: %+v", p)
	}

	// A flipped MIC bit fails every key too.
	frame := securedAnnounce(t, networkKey)
	frame[len(frame)-1] ^= 0x01
	d = newDecoder(security.NamedKey{Name: "Network Key", Key: networkKey})
	if _, err := d.Decode(frame); !errors.Is(err, security.ErrNoValidKey) {
		t.Errorf("tampered: err = %v", err)
	}
}

func TestDecodeTransportKeyLearnsNetworkKey(t *testing.T) {
	transport := mustHex(t, "21453002000000382e03ffff2e2100ae5e9f46a640cde7902fd60e432317484b4c5a9b4cde1ce70707b6fb1a0be9997e0af80fdf5dcf")
	header := nwkHeader(t, nwk.Header{
		Control:     nwk.Control{FrameType: nwk.FrameData, ProtocolVersion: 2},
		Destination: 0x2222,
		Source:      0x0000,
		Radius:      1,
		Sequence:    0x11,
	})
	frame := append(append(macData(t), header...), transport...)

	d := newDecoder(security.WellKnownKeys()...)
	p, err := d.Decode(frame)
	if err != nil {
		t.Fatal(err)
	}
	if p.APSSecurity == nil || p.APSSecurity.Key != "Default Link Key" {
		t.Fatalf("aps security = %+v", p.APSSecurity)
	}
	if p.APSSecurity.Header.Control.Identifier != security.KeyTransport || p.APSSecurity.Header.Counter != 2 {
		t.Errorf("aux = %+v", p.APSSecurity.Header)
	}
	cmd := p.APSCommand
	if cmd == nil || cmd.ID != aps.CmdTransportKey || cmd.KeyType != aps.KeyTypeNetwork {
		t.Fatalf("command = %+v", cmd)
	}
	if hex.EncodeToString(cmd.Key[:]) != "002c6c08d0f4f42cd840d84800406408" {
		t.Errorf("key = %x", cmd.Key)
	}
	if p.Layer() != "aps" {
		t.Errorf("layer = %q", p.Layer())
	}
	names := d.Keys().Names()
	if names[len(names)-1] != "Transported Network Key 0" {
		t.Errorf("names = %v", names)
	}
}

func TestDecodeBeacon(t *testing.T) {
	frame := mustHex(t, "0080013412"+"0000"+"ffcf"+"00"+"00"+"002284382e03ffff2e2100ffffff00")
	p, err := newDecoder().Decode(frame)
	if err != nil {
		t.Fatal(err)
	}
	if p.MAC.Header.FrameType != mac.FrameBeacon || !p.MAC.Beacon.Superframe.AssociationPermit {
		t.Errorf("mac = %+v", p.MAC)
	}
	if p.Beacon == nil || p.Beacon.ExtendedPanID != 0x00212EFFFF032E38 || p.Beacon.StackProfile != nwk.StackProfilePro {
		t.Fatalf("beacon = %+v", p.Beacon)
	}
	if p.Layer() != "mac" {
		t.Errorf("layer = %q", p.Layer())
	}
}

func TestDecodeNetworkCommand(t *testing.T) {
	header := nwkHeader(t, nwk.Header{
		Control:     nwk.Control{FrameType: nwk.FrameCommand, ProtocolVersion: 2},
		Destination: 0x0000,
		Source:      0x2222,
		Radius:      1,
		Sequence:    3,
	})
	body := make([]byte, 8)
	n, err := nwk.PackCommand(nwk.Leave{Rejoin: true}, body)
	if err != nil {
		t.Fatal(err)
	}
	frame := append(append(macData(t), header...), body[:n]...)
	p, err := newDecoder().Decode(frame)
	if err != nil {
		t.Fatal(err)
	}
	if !reflect.DeepEqual(p.NWKCommand, nwk.Leave{Rejoin: true}) {
		t.Errorf("command = %+v", p.NWKCommand)
	}
	if p.Layer() != "nwk" {
		t.Errorf("layer = %q", p.Layer())
	}
}

func TestDecodeClusterLibraryReport(t *testing.T) {
	header := nwkHeader(t, nwk.Header{
		Control:     nwk.Control{FrameType: nwk.FrameData, ProtocolVersion: 2},
		Destination: 0x0000,
		Source:      0x2222,
		Radius:      30,
		Sequence:    4,
	})
	report := []byte{0x18, 0x07, zcl.CmdReportAttributes, 0x00, 0x00, zcl.TypeInt16, 0x66, 0x08}
	app := apsData(t, aps.ProfileHome, 0x0402, report)
	p, err := newDecoder().Decode(append(append(macData(t), header...), app...))
	if err != nil {
		t.Fatal(err)
	}
	if p.ZCL == nil || p.ZCL.Command != zcl.CmdReportAttributes || p.ZCL.Direction != zcl.ToClient {
		t.Fatalf("zcl = %+v", p.ZCL)
	}
	want := []zcl.Attribute{{ID: 0, Type: zcl.TypeInt16, Value: int16(2150)}}
	if !reflect.DeepEqual(p.ZCLAttributes, want) {
		t.Errorf("attributes = %+v", p.ZCLAttributes)
	}
	if p.Layer() != "zcl" {
		t.Errorf("layer = %q", p.Layer())
	}
}

func TestDecodeErrors(t *testing.T) {
	d := newDecoder()
	var ft mac.InvalidFrameTypeError
	if p, err := d.Decode([]byte{0x05, 0x00, 0x01}); !errors.As(err, &ft) || p != nil {
		t.Errorf("mac frame type: %v, %v", p, err)
	}
	header := nwkHeader(t, nwk.Header{Control: nwk.Control{FrameType: nwk.FrameData, ProtocolVersion: 2}, Destination: 1, Source: 2})
	frame := append(append(macData(t), header...), 0x04, 0x01)
	var dm aps.UnknownDeliveryModeError
	if p, err := d.Decode(frame); !errors.As(err, &dm) || p != nil {
		t.Errorf("aps delivery mode: %v, %v", p, err)
	}
	zdpFrame := append(append(macData(t), header...), apsData(t, aps.ProfileDevice, 0x0036, []byte{1})...)
	var uc zdp.UnknownClusterError
	if p, err := d.Decode(zdpFrame); !errors.As(err, &uc) || p != nil {
		t.Errorf("zdp cluster: %v, %v", p, err)
	}
}
