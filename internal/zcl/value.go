package zcl

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"
)

// ErrUnsupportedType is returned for data types without a fixed layout.
var ErrUnsupportedType = errors.New("zcl: unsupported data type")

// Status codes.
const (
	StatusSuccess              uint8 = 0x00
	StatusFailure              uint8 = 0x01
	StatusUnsupportedAttribute uint8 = 0x86
	StatusInvalidValue         uint8 = 0x87
	StatusReadOnly             uint8 = 0x88
	StatusNotFound             uint8 = 0x8B
	StatusUnreportable         uint8 = 0x8C
	StatusInvalidDataType      uint8 = 0x8D
)

// Data type identifiers.
const (
	TypeNoData     uint8 = 0x00
	TypeBool       uint8 = 0x10
	TypeBitmap8    uint8 = 0x18
	TypeBitmap16   uint8 = 0x19
	TypeBitmap24   uint8 = 0x1A
	TypeBitmap32   uint8 = 0x1B
	TypeUint8      uint8 = 0x20
	TypeUint16     uint8 = 0x21
	TypeUint24     uint8 = 0x22
	TypeUint32     uint8 = 0x23
	TypeUint40     uint8 = 0x24
	TypeUint48     uint8 = 0x25
	TypeInt8       uint8 = 0x28
	TypeInt16      uint8 = 0x29
	TypeInt24      uint8 = 0x2A
	TypeInt32      uint8 = 0x2B
	TypeEnum8      uint8 = 0x30
	TypeEnum16     uint8 = 0x31
	TypeFloat16    uint8 = 0x38
	TypeFloat32    uint8 = 0x39
	TypeFloat64    uint8 = 0x3A
	TypeOctetStr   uint8 = 0x41
	TypeCharStr    uint8 = 0x42
	TypeOctetStr16 uint8 = 0x43
	TypeCharStr16  uint8 = 0x44
	TypeTimeOfDay  uint8 = 0xE0
	TypeDate       uint8 = 0xE1
	TypeUTC        uint8 = 0xE2
	TypeClusterID  uint8 = 0xE8
	TypeAttrID     uint8 = 0xE9
	TypeEUI64      uint8 = 0xF0
)

// TypeSize returns the fixed size of a data type, or -1 when the value is
// length prefixed or structured.
func TypeSize(t uint8) int {
	switch t {
	case TypeNoData:
		return 0
	case TypeBool, TypeUint8, TypeInt8, TypeEnum8, TypeBitmap8:
		return 1
	case TypeUint16, TypeInt16, TypeEnum16, TypeBitmap16, TypeFloat16, TypeClusterID, TypeAttrID:
		return 2
	case TypeUint24, TypeInt24, TypeBitmap24:
		return 3
	case TypeUint32, TypeInt32, TypeBitmap32, TypeFloat32, TypeTimeOfDay, TypeDate, TypeUTC:
		return 4
	case TypeUint40:
		return 5
	case TypeUint48:
		return 6
	case TypeFloat64, TypeEUI64:
		return 8
	}
	return -1
}

// le reads an unsigned little-endian integer of len(b) bytes.
func le(b []byte) uint64 {
	var v uint64
	for i := len(b) - 1; i >= 0; i-- {
		v = v<<8 | uint64(b[i])
	}
	return v
}

// DecodeValue decodes one typed value and reports the bytes consumed.
// Invalid (0xFF/0xFFFF length) strings decode as nil.
func DecodeValue(t uint8, data []byte) (interface{}, int, error) {
	switch t {
	case TypeOctetStr, TypeCharStr, TypeOctetStr16, TypeCharStr16:
		return decodeString(t, data)
	}
	size := TypeSize(t)
	if size < 0 {
		return nil, 0, fmt.Errorf("%w 0x%02X", ErrUnsupportedType, t)
	}
	if len(data) < size {
		return nil, 0, fmt.Errorf("zcl: type 0x%02X needs %d bytes, have %d: %w", t, size, len(data), ErrNotEnoughBytes)
	}
	b := data[:size]
	switch t {
	case TypeNoData:
		return nil, 0, nil
	case TypeBool:
		return b[0] != 0, 1, nil
	case TypeUint8, TypeEnum8, TypeBitmap8:
		return b[0], 1, nil
	case TypeUint16, TypeEnum16, TypeBitmap16, TypeFloat16, TypeClusterID, TypeAttrID:
		return binary.LittleEndian.Uint16(b), 2, nil
	case TypeUint24, TypeBitmap24, TypeUint32, TypeBitmap32, TypeTimeOfDay, TypeDate, TypeUTC:
		return uint32(le(b)), size, nil
	case TypeUint40, TypeUint48:
		return le(b), size, nil
	case TypeInt8:
		return int8(b[0]), 1, nil
	case TypeInt16:
		return int16(binary.LittleEndian.Uint16(b)), 2, nil
	case TypeInt24:
		v := uint32(le(b))
		if v&0x800000 != 0 {
			v |= 0xFF000000
		}
		return int32(v), 3, nil
	case TypeInt32:
		return int32(binary.LittleEndian.Uint32(b)), 4, nil
	case TypeFloat32:
		return math.Float32frombits(binary.LittleEndian.Uint32(b)), 4, nil
	case TypeFloat64:
		return math.Float64frombits(binary.LittleEndian.Uint64(b)), 8, nil
	case TypeEUI64:
		return fmt.Sprintf("%016X", binary.LittleEndian.Uint64(b)), 8, nil
	}
	return nil, 0, fmt.Errorf("%w 0x%02X", ErrUnsupportedType, t)
}

func decodeString(t uint8, data []byte) (interface{}, int, error) {
	prefix := 1
	if t == TypeOctetStr16 || t == TypeCharStr16 {
		prefix = 2
	}
	if len(data) < prefix {
		return nil, 0, ErrNotEnoughBytes
	}
	n := int(le(data[:prefix]))
	if (prefix == 1 && n == 0xFF) || (prefix == 2 && n == 0xFFFF) {
		return nil, prefix, nil
	}
	if len(data) < prefix+n {
		return nil, 0, fmt.Errorf("zcl: string of %d bytes truncated: %w", n, ErrNotEnoughBytes)
	}
	s := data[prefix : prefix+n]
	if t == TypeCharStr || t == TypeCharStr16 {
		return string(s), prefix + n, nil
	}
	return append([]byte(nil), s...), prefix + n, nil
}
