// Package hostlink implements the serial link between a radio node and its
// host: SLIP byte stuffing, the typed message envelope carried inside each
// SLIP frame, and a read-loop transport over a serial port.
package hostlink

import "errors"

const (
	slipEnd    = 0xC0
	slipEsc    = 0xDB
	slipEscEnd = 0xDC
	slipEscEsc = 0xDD
)

var (
	ErrNotEnoughBytes        = errors.New("hostlink: not enough bytes")
	ErrEndNotFound           = errors.New("hostlink: end marker not found")
	ErrInvalidEscapeSequence = errors.New("hostlink: invalid escape sequence")
)

// EncodedLen returns the SLIP-encoded size of in including both END markers,
// or zero for empty input.
func EncodedLen(in []byte) int {
	if len(in) == 0 {
		return 0
	}
	n := 2
	for _, b := range in {
		if b == slipEnd || b == slipEsc {
			n += 2
		} else {
			n++
		}
	}
	return n
}

// Encode writes in to out framed by END markers. It returns the number of
// input bytes consumed and output bytes written. Empty input writes nothing.
func Encode(in, out []byte) (int, int, error) {
	size := EncodedLen(in)
	if size == 0 {
		return 0, 0, nil
	}
	if len(out) < size {
		return 0, 0, ErrNotEnoughBytes
	}
	out[0] = slipEnd
	o := 1
	for _, b := range in {
		switch b {
		case slipEsc:
			out[o], out[o+1] = slipEsc, slipEscEsc
			o += 2
		case slipEnd:
			out[o], out[o+1] = slipEsc, slipEscEnd
			o += 2
		default:
			out[o] = b
			o++
		}
	}
	out[o] = slipEnd
	return len(in), o + 1, nil
}

// AppendEncode appends the SLIP encoding of in to dst.
func AppendEncode(dst, in []byte) []byte {
	size := EncodedLen(in)
	if size == 0 {
		return dst
	}
	start := len(dst)
	dst = append(dst, make([]byte, size)...)
	_, n, _ := Encode(in, dst[start:])
	return dst[:start+n]
}

// Decode reads one frame from in. A leading END is skipped; the first END
// after it terminates the frame. It returns the input consumed, including
// the terminating END, and the decoded length. out must be at least as long
// as in.
func Decode(in, out []byte) (int, int, error) {
	if len(in) == 0 {
		return 0, 0, nil
	}
	if len(out) < len(in) {
		return 0, 0, ErrNotEnoughBytes
	}
	o := 0
	for i := 0; i < len(in); i++ {
		switch in[i] {
		case slipEsc:
			if i+1 < len(in) {
				switch in[i+1] {
				case slipEscEsc:
					out[o] = slipEsc
				case slipEscEnd:
					out[o] = slipEnd
				default:
					return 0, 0, ErrInvalidEscapeSequence
				}
				o++
				i++
			}
		case slipEnd:
			if i > 0 {
				return i + 1, o, nil
			}
		default:
			out[o] = in[i]
			o++
		}
	}
	return 0, 0, ErrEndNotFound
}
