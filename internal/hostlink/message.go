package hostlink

import "fmt"

// MessageType identifies the payload carried in an envelope.
type MessageType uint8

const (
	MessageNone MessageType = iota
	MessageError
	MessageGetValue
	MessageSetValue
	MessageRadioReceive
	MessageRadioSend
	MessageEnergyDetect
	MessageRadioState
)

var messageTypeNames = map[MessageType]string{
	MessageNone:         "None",
	MessageError:        "Error",
	MessageGetValue:     "GetValue",
	MessageSetValue:     "SetValue",
	MessageRadioReceive: "RadioReceive",
	MessageRadioSend:    "RadioSend",
	MessageEnergyDetect: "EnergyDetect",
	MessageRadioState:   "RadioState",
}

func (m MessageType) String() string {
	if s, ok := messageTypeNames[m]; ok {
		return s
	}
	return fmt.Sprintf("MessageType(%d)", uint8(m))
}

func messageTypeFromByte(b byte) MessageType {
	if _, ok := messageTypeNames[MessageType(b)]; ok {
		return MessageType(b)
	}
	return MessageNone
}

// MaxPayload is the largest envelope payload.
const MaxPayload = 128

// Value identifiers carried in GetValue / SetValue payloads.
const (
	ValueChannel          uint8 = 0x01
	ValueTxPower          uint8 = 0x02
	ValueAssociationState uint8 = 0x03
	ValueShortAddress     uint8 = 0x04
	ValuePanID            uint8 = 0x05
	ValueExtendedAddress  uint8 = 0x06
)

// InvalidLengthError reports an envelope whose length octet disagrees with
// the decoded frame. Used is the number of input bytes the frame occupied.
type InvalidLengthError struct {
	Used int
}

func (e *InvalidLengthError) Error() string {
	return fmt.Sprintf("hostlink: invalid length, %d bytes used", e.Used)
}

// EncodeMessage writes [len][type][payload] SLIP-encoded into out, where len
// counts itself and the type octet. It returns the bytes written.
func EncodeMessage(mt MessageType, payload, out []byte) (int, error) {
	if len(payload) > MaxPayload {
		return 0, ErrNotEnoughBytes
	}
	var buf [MaxPayload + 2]byte
	length := len(payload) + 2
	buf[0] = byte(length)
	buf[1] = byte(mt)
	copy(buf[2:], payload)
	_, n, err := Encode(buf[:length], out)
	return n, err
}

// AppendMessage is EncodeMessage appending to dst.
func AppendMessage(dst []byte, mt MessageType, payload []byte) ([]byte, error) {
	out := make([]byte, 2*(len(payload)+2)+2)
	n, err := EncodeMessage(mt, payload, out)
	if err != nil {
		return dst, err
	}
	return append(dst, out[:n]...), nil
}

// DecodeMessage decodes one envelope from in, writing the payload to out.
// It returns the message type, the input bytes consumed and the payload
// length. Empty input is an InvalidLengthError with nothing used.
func DecodeMessage(in, out []byte) (MessageType, int, int, error) {
	buf := make([]byte, len(in))
	used, n, err := Decode(in, buf)
	if err != nil {
		return MessageNone, 0, 0, err
	}
	if n < 2 || n != int(buf[0]) {
		return MessageNone, 0, 0, &InvalidLengthError{Used: used}
	}
	length := n - 2
	if len(out) < length {
		return MessageNone, 0, 0, ErrNotEnoughBytes
	}
	copy(out, buf[2:n])
	return messageTypeFromByte(buf[1]), used, length, nil
}
