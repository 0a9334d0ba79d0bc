package hostlink

import (
	"bytes"
	"errors"
	"testing"
)

func TestSLIPRoundTrip(t *testing.T) {
	tests := []struct {
		name string
		data []byte
	}{
		{"simple", []byte{0x01, 0x02, 0x03}},
		{"end byte", []byte{0xC0}},
		{"escape byte", []byte{0xDB}},
		{"escape codes", []byte{0xDC, 0xDD}},
		{"mixed special", []byte{0x00, 0xC0, 0xDB, 0xFF, 0xDB, 0xC0}},
		{"all specials", bytes.Repeat([]byte{0xC0, 0xDB}, 40)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			encoded := make([]byte, 2*len(tt.data)+2)
			used, n, err := Encode(tt.data, encoded)
			if err != nil {
				t.Fatal(err)
			}
			if used != len(tt.data) {
				t.Errorf("used = %d, want %d", used, len(tt.data))
			}
			if n != EncodedLen(tt.data) {
				t.Errorf("written = %d, want %d", n, EncodedLen(tt.data))
			}
			if encoded[0] != slipEnd || encoded[n-1] != slipEnd {
				t.Errorf("missing END markers: %X", encoded[:n])
			}
			if bytes.IndexByte(encoded[1:n-1], slipEnd) >= 0 {
				t.Errorf("END inside frame: %X", encoded[:n])
			}

			decoded := make([]byte, n)
			dused, dn, err := Decode(encoded[:n], decoded)
			if err != nil {
				t.Fatal(err)
			}
			if dused != n {
				t.Errorf("decode used = %d, want %d", dused, n)
			}
			if !bytes.Equal(decoded[:dn], tt.data) {
				t.Errorf("round trip: got %X, want %X", decoded[:dn], tt.data)
			}
		})
	}
}

func TestSLIPRoundTripAllBytes(t *testing.T) {
	data := make([]byte, 256)
	for i := range data {
		data[i] = byte(i)
	}
	encoded := AppendEncode(nil, data)
	decoded := make([]byte, len(encoded))
	_, n, err := Decode(encoded, decoded)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(decoded[:n], data) {
		t.Error("round trip of all byte values failed")
	}
}

func TestSLIPEmpty(t *testing.T) {
	used, n, err := Encode(nil, make([]byte, 4))
	if used != 0 || n != 0 || err != nil {
		t.Errorf("Encode(nil) = %d, %d, %v", used, n, err)
	}
	used, n, err = Decode(nil, make([]byte, 4))
	if used != 0 || n != 0 || err != nil {
		t.Errorf("Decode(nil) = %d, %d, %v", used, n, err)
	}
}

func TestSLIPEncodeShortOutput(t *testing.T) {
	if _, _, err := Encode([]byte{0xC0, 0x01}, make([]byte, 4)); !errors.Is(err, ErrNotEnoughBytes) {
		t.Errorf("err = %v, want ErrNotEnoughBytes", err)
	}
}

func TestSLIPDecodeErrors(t *testing.T) {
	tests := []struct {
		name string
		in   []byte
		out  int
		want error
	}{
		{"no end", []byte{0xC0, 0x01, 0x02}, 8, ErrEndNotFound},
		{"only leading end", []byte{0xC0}, 8, ErrEndNotFound},
		{"bad escape", []byte{0xC0, 0xDB, 0x01, 0xC0}, 8, ErrInvalidEscapeSequence},
		{"escape at end", []byte{0x01, 0xDB}, 8, ErrEndNotFound},
		{"short output", []byte{0x01, 0x02, 0xC0}, 2, ErrNotEnoughBytes},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, _, err := Decode(tt.in, make([]byte, tt.out))
			if !errors.Is(err, tt.want) {
				t.Errorf("err = %v, want %v", err, tt.want)
			}
		})
	}
}

func TestSLIPDecodeStopsAtFirstFrame(t *testing.T) {
	in := []byte{0xC0, 0x01, 0xC0, 0xC0, 0x02, 0xC0}
	out := make([]byte, len(in))
	used, n, err := Decode(in, out)
	if err != nil {
		t.Fatal(err)
	}
	if used != 3 || n != 1 || out[0] != 0x01 {
		t.Errorf("got used=%d n=%d out=%X, want used=3 n=1 out=01", used, n, out[:n])
	}
}
