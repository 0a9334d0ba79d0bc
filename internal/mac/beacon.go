package mac

import "encoding/binary"

// BeaconOrderOnDemand marks a non-beacon-enabled network.
const BeaconOrderOnDemand = 15

// Superframe is the superframe specification of a beacon.
type Superframe struct {
	BeaconOrder          uint8
	SuperframeOrder      uint8
	FinalCAPSlot         uint8
	BatteryLifeExtension bool
	PANCoordinator       bool
	AssociationPermit    bool
}

func (s Superframe) value() uint16 {
	v := uint16(s.BeaconOrder&0x0F) |
		uint16(s.SuperframeOrder&0x0F)<<4 |
		uint16(s.FinalCAPSlot&0x0F)<<8
	if s.BatteryLifeExtension {
		v |= 1 << 12
	}
	if s.PANCoordinator {
		v |= 1 << 14
	}
	if s.AssociationPermit {
		v |= 1 << 15
	}
	return v
}

func superframeFrom(v uint16) Superframe {
	return Superframe{
		BeaconOrder:          uint8(v & 0x0F),
		SuperframeOrder:      uint8(v>>4) & 0x0F,
		FinalCAPSlot:         uint8(v>>8) & 0x0F,
		BatteryLifeExtension: v&(1<<12) != 0,
		PANCoordinator:       v&(1<<14) != 0,
		AssociationPermit:    v&(1<<15) != 0,
	}
}

// GTSSlot is one guaranteed time slot descriptor.
type GTSSlot struct {
	Address   ShortAddress
	StartSlot uint8
	Length    uint8
	Receive   bool
}

// GTSInfo is the GTS field of a beacon.
type GTSInfo struct {
	Permit bool
	Slots  []GTSSlot
}

// Beacon is the MAC beacon content preceding the beacon payload.
type Beacon struct {
	Superframe      Superframe
	GTS             GTSInfo
	PendingShort    []ShortAddress
	PendingExtended []ExtendedAddress
}

// Len returns the packed size of b.
func (b Beacon) Len() int {
	n := 2 + 1
	if len(b.GTS.Slots) > 0 {
		n += 1 + 3*len(b.GTS.Slots)
	}
	return n + 1 + 2*len(b.PendingShort) + 8*len(b.PendingExtended)
}

// Pack writes b to out. At most seven GTS slots and seven pending
// addresses of each kind are encodable.
func (b Beacon) Pack(out []byte) (int, error) {
	if len(b.GTS.Slots) > 7 || len(b.PendingShort) > 7 || len(b.PendingExtended) > 7 {
		return 0, ErrNotEnoughSpace
	}
	if len(out) < b.Len() {
		return 0, ErrNotEnoughSpace
	}
	binary.LittleEndian.PutUint16(out, b.Superframe.value())
	spec := uint8(len(b.GTS.Slots))
	if b.GTS.Permit {
		spec |= 0x80
	}
	out[2] = spec
	n := 3
	if len(b.GTS.Slots) > 0 {
		var dir uint8
		for i, s := range b.GTS.Slots {
			if s.Receive {
				dir |= 1 << i
			}
		}
		out[n] = dir
		n++
		for _, s := range b.GTS.Slots {
			binary.LittleEndian.PutUint16(out[n:], uint16(s.Address))
			out[n+2] = s.StartSlot&0x0F | s.Length<<4
			n += 3
		}
	}
	out[n] = uint8(len(b.PendingShort)) | uint8(len(b.PendingExtended))<<4
	n++
	for _, a := range b.PendingShort {
		binary.LittleEndian.PutUint16(out[n:], uint16(a))
		n += 2
	}
	for _, a := range b.PendingExtended {
		PutExtended(out[n:], a)
		n += 8
	}
	return n, nil
}

// UnpackBeacon decodes the beacon fields that follow the MAC header.
func UnpackBeacon(data []byte) (Beacon, int, error) {
	var b Beacon
	if len(data) < 3 {
		return b, 0, ErrNotEnoughBytes
	}
	b.Superframe = superframeFrom(binary.LittleEndian.Uint16(data))
	spec := data[2]
	count := int(spec & 0x07)
	b.GTS.Permit = spec&0x80 != 0
	n := 3
	if count > 0 {
		if len(data) < n+1+3*count {
			return b, 0, ErrNotEnoughBytes
		}
		dir := data[n]
		n++
		b.GTS.Slots = make([]GTSSlot, count)
		for i := range b.GTS.Slots {
			b.GTS.Slots[i] = GTSSlot{
				Address:   ShortAddress(binary.LittleEndian.Uint16(data[n:])),
				StartSlot: data[n+2] & 0x0F,
				Length:    data[n+2] >> 4,
				Receive:   dir&(1<<i) != 0,
			}
			n += 3
		}
	}
	if len(data) < n+1 {
		return b, 0, ErrNotEnoughBytes
	}
	shorts := int(data[n] & 0x07)
	exts := int(data[n]>>4) & 0x07
	n++
	if len(data) < n+2*shorts+8*exts {
		return b, 0, ErrNotEnoughBytes
	}
	for i := 0; i < shorts; i++ {
		b.PendingShort = append(b.PendingShort, ShortAddress(binary.LittleEndian.Uint16(data[n:])))
		n += 2
	}
	for i := 0; i < exts; i++ {
		b.PendingExtended = append(b.PendingExtended, Extended(data[n:]))
		n += 8
	}
	return b, n, nil
}
