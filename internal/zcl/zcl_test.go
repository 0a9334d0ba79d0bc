package zcl

import (
	"bytes"
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"reflect"
	"testing"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

func TestHeaderRoundTrip(t *testing.T) {
	tests := []struct {
		name string
		h    Header
		wire []byte
	}{
		{"toggle", Header{FrameType: FrameClusterSpecific, Sequence: 0x42, Command: 0x02}, []byte{0x01, 0x42, 0x02}},
		{"report", Header{FrameType: FrameGlobal, Direction: ToClient, DisableDefaultResponse: true, Sequence: 7, Command: CmdReportAttributes}, []byte{0x18, 0x07, 0x0A}},
		{"manufacturer", Header{FrameType: FrameClusterSpecific, ManufacturerSpecific: true, Manufacturer: 0x115F, Sequence: 1, Command: 0x00}, []byte{0x05, 0x5F, 0x11, 0x01, 0x00}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out := make([]byte, 8)
			n, err := tt.h.Pack(out)
			if err != nil {
				t.Fatal(err)
			}
			if !bytes.Equal(out[:n], tt.wire) {
				t.Errorf("packed %x, want %x", out[:n], tt.wire)
			}
			h, used, err := UnpackHeader(tt.wire)
			if err != nil {
				t.Fatal(err)
			}
			if used != len(tt.wire) || h != tt.h {
				t.Errorf("got %+v, want %+v", h, tt.h)
			}
			if _, _, err := UnpackHeader(tt.wire[:len(tt.wire)-1]); !errors.Is(err, ErrNotEnoughBytes) {
				t.Errorf("truncated: err = %v", err)
			}
		})
	}
}

func TestHeaderErrors(t *testing.T) {
	var ft UnknownFrameTypeError
	if _, _, err := UnpackHeader([]byte{0x02, 0, 0}); !errors.As(err, &ft) || ft.Type != 2 {
		t.Errorf("frame type: err = %v", err)
	}
	if _, err := (Header{}).Pack(make([]byte, 2)); !errors.Is(err, ErrNotEnoughSpace) {
		t.Errorf("pack short: err = %v", err)
	}
}

func TestUnpackAttributes(t *testing.T) {
	// Temperature report: 0x0000 int16 2150, then a char string.
	report := []byte{0x00, 0x00, TypeInt16, 0x66, 0x08, 0x05, 0x00, TypeCharStr, 0x02, 'h', 'i'}
	attrs, err := UnpackAttributes(CmdReportAttributes, report)
	if err != nil {
		t.Fatal(err)
	}
	want := []Attribute{
		{ID: 0, Type: TypeInt16, Value: int16(2150)},
		{ID: 5, Type: TypeCharStr, Value: "hi"},
	}
	if !reflect.DeepEqual(attrs, want) {
		t.Errorf("got %+v, want %+v", attrs, want)
	}

	// Read response with one unsupported attribute.
	rsp := []byte{0x04, 0x00, StatusUnsupportedAttribute, 0x00, 0x00, StatusSuccess, TypeBool, 0x01}
	attrs, err = UnpackAttributes(CmdReadAttributesResponse, rsp)
	if err != nil {
		t.Fatal(err)
	}
	want = []Attribute{
		{ID: 4, Status: StatusUnsupportedAttribute},
		{ID: 0, Status: StatusSuccess, Type: TypeBool, Value: true},
	}
	if !reflect.DeepEqual(attrs, want) {
		t.Errorf("got %+v, want %+v", attrs, want)
	}

	if _, err := UnpackAttributes(CmdReportAttributes, report[:4]); !errors.Is(err, ErrNotEnoughBytes) {
		t.Errorf("truncated: err = %v", err)
	}
	if attrs, err := UnpackAttributes(CmdReadAttributes, []byte{0, 0}); attrs != nil || err != nil {
		t.Errorf("read request: got %v, %v", attrs, err)
	}
}

func TestDecodeValue(t *testing.T) {
	tests := []struct {
		t    uint8
		data []byte
		want interface{}
		used int
	}{
		{TypeBool, []byte{0}, false, 1},
		{TypeUint8, []byte{0xFE}, uint8(0xFE), 1},
		{TypeUint16, []byte{0x34, 0x12}, uint16(0x1234), 2},
		{TypeUint24, []byte{0x01, 0x02, 0x03}, uint32(0x030201), 3},
		{TypeInt24, []byte{0xFF, 0xFF, 0xFF}, int32(-1), 3},
		{TypeUint48, []byte{1, 0, 0, 0, 0, 1}, uint64(0x010000000001), 6},
		{TypeInt8, []byte{0x80}, int8(-128), 1},
		{TypeFloat32, []byte{0x00, 0x00, 0x80, 0x3F}, float32(1), 4},
		{TypeEUI64, []byte{4, 3, 2, 1, 0, 0x4B, 0x12, 0}, "00124B0001020304", 8},
		{TypeOctetStr, []byte{2, 0xAA, 0xBB}, []byte{0xAA, 0xBB}, 3},
		{TypeCharStr16, []byte{1, 0, 'x'}, "x", 3},
		{TypeCharStr, []byte{0xFF}, nil, 1},
		{TypeNoData, nil, nil, 0},
	}
	for _, tt := range tests {
		v, n, err := DecodeValue(tt.t, tt.data)
		if err != nil {
			t.Errorf("type 0x%02X: %v", tt.t, err)
			continue
		}
		if n != tt.used || !reflect.DeepEqual(v, tt.want) {
			t.Errorf("type 0x%02X: got %v (%d), want %v (%d)", tt.t, v, n, tt.want, tt.used)
		}
	}
	if _, _, err := DecodeValue(TypeUint32, []byte{1, 2}); !errors.Is(err, ErrNotEnoughBytes) {
		t.Errorf("short: err = %v", err)
	}
	if _, _, err := DecodeValue(0x48, []byte{1, 2}); !errors.Is(err, ErrUnsupportedType) {
		t.Errorf("array: err = %v", err)
	}
}

func TestRegistryNames(t *testing.T) {
	r := NewStandardRegistry(testLogger())
	if got := r.ClusterName(0x0006); got != "On/Off" {
		t.Errorf("got %q, want On/Off", got)
	}
	if got := r.ClusterName(0xFC00); got != "Cluster(0xFC00)" {
		t.Errorf("got %q", got)
	}
	if got := r.CommandName(0x0006, Header{FrameType: FrameClusterSpecific, Command: 0x02}); got != "Toggle" {
		t.Errorf("got %q, want Toggle", got)
	}
	if got := r.CommandName(0x0006, Header{FrameType: FrameGlobal, Command: CmdReportAttributes}); got != "ReportAttributes" {
		t.Errorf("got %q, want ReportAttributes", got)
	}
	if got := r.CommandName(0x0003, Header{FrameType: FrameClusterSpecific, Direction: ToClient, Command: 0x00}); got != "IdentifyQueryResponse" {
		t.Errorf("got %q, want IdentifyQueryResponse", got)
	}
	if got := r.AttributeName(0x0402, 0x0000); got != "MeasuredValue" {
		t.Errorf("got %q, want MeasuredValue", got)
	}
}

func TestRegistryMergeAndLoad(t *testing.T) {
	r := NewRegistry(testLogger())
	r.Register(ClusterDef{ID: 0x0006, Name: "On/Off", Commands: []CommandDef{toServer(0x00, "Off")}})
	r.Register(ClusterDef{ID: 0x0006, Commands: []CommandDef{toServer(0x00, "Ignored"), toServer(0x01, "On")}})
	c := r.Get(0x0006)
	if c == nil || c.Name != "On/Off" || len(c.Commands) != 2 || c.Commands[0].Name != "Off" {
		t.Fatalf("merged = %+v", c)
	}
	c.Name = "changed"
	if r.ClusterName(0x0006) != "On/Off" {
		t.Error("Get returned shared definition")
	}

	path := filepath.Join(t.TempDir(), "clusters.yaml")
	yml := "- id: 0xFC00\n  name: Vendor\n  commands:\n    - id: 1\n      name: Poke\n"
	if err := os.WriteFile(path, []byte(yml), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := r.LoadFile(path); err != nil {
		t.Fatal(err)
	}
	if got := r.CommandName(0xFC00, Header{FrameType: FrameClusterSpecific, Command: 1}); got != "Poke" {
		t.Errorf("got %q, want Poke", got)
	}
	all := r.All()
	if len(all) != 2 || all[0].ID != 0x0006 || all[1].ID != 0xFC00 {
		t.Errorf("All = %+v", all)
	}
	if err := r.LoadFile(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Error("expected error for missing file")
	}
}
