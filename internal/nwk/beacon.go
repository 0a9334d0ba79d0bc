package nwk

import "psila-go/internal/mac"

// BeaconInformationLen is the size of the Zigbee beacon payload.
const BeaconInformationLen = 15

// Stack profiles.
const (
	StackProfileNetworkSpecific uint8 = 0
	StackProfileHome            uint8 = 1
	StackProfilePro             uint8 = 2
)

// BeaconInformation is the Zigbee payload of a MAC beacon.
type BeaconInformation struct {
	ProtocolID        uint8
	StackProfile      uint8
	ProtocolVersion   uint8
	RouterCapacity    bool
	DeviceDepth       uint8
	EndDeviceCapacity bool
	ExtendedPanID     mac.ExtendedAddress
	TxOffset          uint32
	UpdateID          uint8
}

// Pack writes b to out.
func (b BeaconInformation) Pack(out []byte) (int, error) {
	if len(out) < BeaconInformationLen {
		return 0, ErrNotEnoughSpace
	}
	out[0] = b.ProtocolID
	out[1] = b.StackProfile&0x0F | b.ProtocolVersion<<4
	v := (b.DeviceDepth & 0x0F) << 3
	if b.RouterCapacity {
		v |= 1 << 2
	}
	if b.EndDeviceCapacity {
		v |= 1 << 7
	}
	out[2] = v
	mac.PutExtended(out[3:], b.ExtendedPanID)
	out[11] = uint8(b.TxOffset)
	out[12] = uint8(b.TxOffset >> 8)
	out[13] = uint8(b.TxOffset >> 16)
	out[14] = b.UpdateID
	return BeaconInformationLen, nil
}

// UnpackBeaconInformation decodes a Zigbee beacon payload.
func UnpackBeaconInformation(data []byte) (BeaconInformation, int, error) {
	var b BeaconInformation
	if len(data) < BeaconInformationLen {
		return b, 0, ErrNotEnoughBytes
	}
	b.ProtocolID = data[0]
	b.StackProfile = data[1] & 0x0F
	b.ProtocolVersion = data[1] >> 4
	b.RouterCapacity = data[2]&(1<<2) != 0
	b.DeviceDepth = (data[2] >> 3) & 0x0F
	b.EndDeviceCapacity = data[2]&(1<<7) != 0
	b.ExtendedPanID = mac.Extended(data[3:])
	b.TxOffset = uint32(data[11]) | uint32(data[12])<<8 | uint32(data[13])<<16
	b.UpdateID = data[14]
	return b, BeaconInformationLen, nil
}
