package aps

import (
	"fmt"

	"psila-go/internal/mac"
)

// CommandID identifies an APS command.
type CommandID uint8

const (
	CmdTransportKey CommandID = 0x05
	CmdUpdateDevice CommandID = 0x06
	CmdRemoveDevice CommandID = 0x07
	CmdRequestKey   CommandID = 0x08
	CmdSwitchKey    CommandID = 0x09
	CmdTunnel       CommandID = 0x0E
	CmdVerifyKey    CommandID = 0x0F
	CmdConfirmKey   CommandID = 0x10
)

func (c CommandID) String() string {
	switch c {
	case CmdTransportKey:
		return "TransportKey"
	case CmdUpdateDevice:
		return "UpdateDevice"
	case CmdRemoveDevice:
		return "RemoveDevice"
	case CmdRequestKey:
		return "RequestKey"
	case CmdSwitchKey:
		return "SwitchKey"
	case CmdTunnel:
		return "Tunnel"
	case CmdVerifyKey:
		return "VerifyKey"
	case CmdConfirmKey:
		return "ConfirmKey"
	}
	return fmt.Sprintf("Command(0x%02X)", uint8(c))
}

// KeyType is the key carried by a transport key command.
type KeyType uint8

const (
	KeyTypeNetwork         KeyType = 0x01
	KeyTypeApplicationLink KeyType = 0x03
	KeyTypeTrustCenterLink KeyType = 0x04
)

// Command is a decoded APS command. Transport key commands fill the key
// fields; other commands keep their body in Body.
type Command struct {
	ID          CommandID
	KeyType     KeyType
	Key         [16]byte
	KeySequence uint8
	Destination mac.ExtendedAddress
	Source      mac.ExtendedAddress
	Body        []byte
}

// UnpackCommand decodes an (unsecured) APS command payload.
func UnpackCommand(data []byte) (Command, int, error) {
	var c Command
	if len(data) < 1 {
		return c, 0, ErrNotEnoughBytes
	}
	c.ID = CommandID(data[0])
	b := data[1:]
	if c.ID != CmdTransportKey {
		c.Body = append([]byte(nil), b...)
		return c, len(data), nil
	}
	if len(b) < 17 {
		return c, 0, ErrNotEnoughBytes
	}
	c.KeyType = KeyType(b[0])
	copy(c.Key[:], b[1:17])
	n := 17
	switch c.KeyType {
	case KeyTypeNetwork:
		if len(b) < n+17 {
			return c, 0, ErrNotEnoughBytes
		}
		c.KeySequence = b[n]
		c.Destination = mac.Extended(b[n+1:])
		c.Source = mac.Extended(b[n+9:])
		n += 17
	case KeyTypeTrustCenterLink, KeyTypeApplicationLink:
		if len(b) < n+9 {
			return c, 0, ErrNotEnoughBytes
		}
		// Application link keys carry partner address and initiator flag.
		c.Destination = mac.Extended(b[n:])
		if c.KeyType == KeyTypeTrustCenterLink {
			if len(b) < n+16 {
				return c, 0, ErrNotEnoughBytes
			}
			c.Source = mac.Extended(b[n+8:])
			n += 16
		} else {
			c.Body = []byte{b[n+8]}
			n += 9
		}
	default:
		c.Body = append([]byte(nil), b[n:]...)
		n = len(b)
	}
	return c, n + 1, nil
}

// PackTransportKey writes a transport key command for a network key.
func PackTransportKey(c Command, out []byte) (int, error) {
	if len(out) < 35 {
		return 0, ErrNotEnoughSpace
	}
	out[0] = uint8(CmdTransportKey)
	out[1] = uint8(KeyTypeNetwork)
	copy(out[2:18], c.Key[:])
	out[18] = c.KeySequence
	mac.PutExtended(out[19:], c.Destination)
	mac.PutExtended(out[27:], c.Source)
	return 35, nil
}
