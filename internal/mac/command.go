package mac

import (
	"encoding/binary"
	"fmt"
)

// CommandID identifies a MAC command frame.
type CommandID uint8

const (
	CmdAssociationRequest         CommandID = 0x01
	CmdAssociationResponse        CommandID = 0x02
	CmdDisassociationNotification CommandID = 0x03
	CmdDataRequest                CommandID = 0x04
	CmdPanIDConflictNotification  CommandID = 0x05
	CmdOrphanNotification         CommandID = 0x06
	CmdBeaconRequest              CommandID = 0x07
	CmdCoordinatorRealignment     CommandID = 0x08
	CmdGTSRequest                 CommandID = 0x09
)

var commandNames = map[CommandID]string{
	CmdAssociationRequest:         "AssociationRequest",
	CmdAssociationResponse:        "AssociationResponse",
	CmdDisassociationNotification: "DisassociationNotification",
	CmdDataRequest:                "DataRequest",
	CmdPanIDConflictNotification:  "PanIDConflictNotification",
	CmdOrphanNotification:         "OrphanNotification",
	CmdBeaconRequest:              "BeaconRequest",
	CmdCoordinatorRealignment:     "CoordinatorRealignment",
	CmdGTSRequest:                 "GTSRequest",
}

func (c CommandID) String() string {
	if name, ok := commandNames[c]; ok {
		return name
	}
	return fmt.Sprintf("Command(0x%02X)", uint8(c))
}

// UnknownCommandError reports an unrecognized MAC command identifier.
type UnknownCommandError struct{ ID uint8 }

func (e UnknownCommandError) Error() string {
	return fmt.Sprintf("mac: unknown command 0x%02X", e.ID)
}

// Command is a MAC command payload.
type Command interface {
	ID() CommandID
	// bodyLen and packBody cover the bytes after the command identifier.
	bodyLen() int
	packBody(out []byte)
}

// CapabilityInformation is the capability field of an association request.
type CapabilityInformation struct {
	AlternatePANCoordinator bool
	FullFunctionDevice      bool
	MainsPower              bool
	IdleReceive             bool
	FrameProtection         bool
	AllocateAddress         bool
}

func (c CapabilityInformation) Byte() uint8 {
	var v uint8
	if c.AlternatePANCoordinator {
		v |= 0x01
	}
	if c.FullFunctionDevice {
		v |= 0x02
	}
	if c.MainsPower {
		v |= 0x04
	}
	if c.IdleReceive {
		v |= 0x08
	}
	if c.FrameProtection {
		v |= 0x40
	}
	if c.AllocateAddress {
		v |= 0x80
	}
	return v
}

// CapabilityFrom decodes a capability information byte. The same layout is
// used by the network layer and the device profile.
func CapabilityFrom(v uint8) CapabilityInformation {
	return CapabilityInformation{
		AlternatePANCoordinator: v&0x01 != 0,
		FullFunctionDevice:      v&0x02 != 0,
		MainsPower:              v&0x04 != 0,
		IdleReceive:             v&0x08 != 0,
		FrameProtection:         v&0x40 != 0,
		AllocateAddress:         v&0x80 != 0,
	}
}

// AssociationStatus is the result carried by an association response.
type AssociationStatus uint8

const (
	AssociationSuccessful    AssociationStatus = 0x00
	AssociationPanAtCapacity AssociationStatus = 0x01
	AssociationAccessDenied  AssociationStatus = 0x02
)

func (s AssociationStatus) String() string {
	switch s {
	case AssociationSuccessful:
		return "Successful"
	case AssociationPanAtCapacity:
		return "PanAtCapacity"
	case AssociationAccessDenied:
		return "AccessDenied"
	}
	return fmt.Sprintf("AssociationStatus(0x%02X)", uint8(s))
}

type AssociationRequest struct {
	Capability CapabilityInformation
}

type AssociationResponse struct {
	Address ShortAddress
	Status  AssociationStatus
}

type DisassociationNotification struct {
	Reason uint8
}

type DataRequest struct{}
type PanIDConflictNotification struct{}
type OrphanNotification struct{}
type BeaconRequest struct{}

type CoordinatorRealignment struct {
	PanID              PanID
	CoordinatorAddress ShortAddress
	Channel            uint8
	ShortAddress       ShortAddress
	// ChannelPage is present only when HasChannelPage is set.
	ChannelPage    uint8
	HasChannelPage bool
}

type GTSRequest struct {
	Characteristics uint8
}

func (AssociationRequest) ID() CommandID         { return CmdAssociationRequest }
func (AssociationResponse) ID() CommandID        { return CmdAssociationResponse }
func (DisassociationNotification) ID() CommandID { return CmdDisassociationNotification }
func (DataRequest) ID() CommandID                { return CmdDataRequest }
func (PanIDConflictNotification) ID() CommandID  { return CmdPanIDConflictNotification }
func (OrphanNotification) ID() CommandID         { return CmdOrphanNotification }
func (BeaconRequest) ID() CommandID              { return CmdBeaconRequest }
func (CoordinatorRealignment) ID() CommandID     { return CmdCoordinatorRealignment }
func (GTSRequest) ID() CommandID                 { return CmdGTSRequest }

func (AssociationRequest) bodyLen() int         { return 1 }
func (AssociationResponse) bodyLen() int        { return 3 }
func (DisassociationNotification) bodyLen() int { return 1 }
func (DataRequest) bodyLen() int                { return 0 }
func (PanIDConflictNotification) bodyLen() int  { return 0 }
func (OrphanNotification) bodyLen() int         { return 0 }
func (BeaconRequest) bodyLen() int              { return 0 }
func (GTSRequest) bodyLen() int                 { return 1 }
func (c CoordinatorRealignment) bodyLen() int {
	if c.HasChannelPage {
		return 8
	}
	return 7
}

func (c AssociationRequest) packBody(out []byte) { out[0] = c.Capability.Byte() }
func (c AssociationResponse) packBody(out []byte) {
	binary.LittleEndian.PutUint16(out, uint16(c.Address))
	out[2] = uint8(c.Status)
}
func (c DisassociationNotification) packBody(out []byte) { out[0] = c.Reason }
func (DataRequest) packBody([]byte)                      {}
func (PanIDConflictNotification) packBody([]byte)        {}
func (OrphanNotification) packBody([]byte)               {}
func (BeaconRequest) packBody([]byte)                    {}
func (c GTSRequest) packBody(out []byte)                 { out[0] = c.Characteristics }
func (c CoordinatorRealignment) packBody(out []byte) {
	binary.LittleEndian.PutUint16(out[0:], uint16(c.PanID))
	binary.LittleEndian.PutUint16(out[2:], uint16(c.CoordinatorAddress))
	out[4] = c.Channel
	binary.LittleEndian.PutUint16(out[5:], uint16(c.ShortAddress))
	if c.HasChannelPage {
		out[7] = c.ChannelPage
	}
}

// PackCommand writes the command identifier and body.
func PackCommand(c Command, out []byte) (int, error) {
	n := 1 + c.bodyLen()
	if len(out) < n {
		return 0, ErrNotEnoughSpace
	}
	out[0] = uint8(c.ID())
	c.packBody(out[1:n])
	return n, nil
}

// UnpackCommand decodes a MAC command payload.
func UnpackCommand(data []byte) (Command, int, error) {
	if len(data) < 1 {
		return nil, 0, ErrNotEnoughBytes
	}
	id := CommandID(data[0])
	body := data[1:]
	need := func(n int) error {
		if len(body) < n {
			return ErrNotEnoughBytes
		}
		return nil
	}
	switch id {
	case CmdAssociationRequest:
		if err := need(1); err != nil {
			return nil, 0, err
		}
		return AssociationRequest{Capability: CapabilityFrom(body[0])}, 2, nil
	case CmdAssociationResponse:
		if err := need(3); err != nil {
			return nil, 0, err
		}
		return AssociationResponse{
			Address: ShortAddress(binary.LittleEndian.Uint16(body)),
			Status:  AssociationStatus(body[2]),
		}, 4, nil
	case CmdDisassociationNotification:
		if err := need(1); err != nil {
			return nil, 0, err
		}
		return DisassociationNotification{Reason: body[0]}, 2, nil
	case CmdDataRequest:
		return DataRequest{}, 1, nil
	case CmdPanIDConflictNotification:
		return PanIDConflictNotification{}, 1, nil
	case CmdOrphanNotification:
		return OrphanNotification{}, 1, nil
	case CmdBeaconRequest:
		return BeaconRequest{}, 1, nil
	case CmdCoordinatorRealignment:
		if err := need(7); err != nil {
			return nil, 0, err
		}
		c := CoordinatorRealignment{
			PanID:              PanID(binary.LittleEndian.Uint16(body[0:])),
			CoordinatorAddress: ShortAddress(binary.LittleEndian.Uint16(body[2:])),
			Channel:            body[4],
			ShortAddress:       ShortAddress(binary.LittleEndian.Uint16(body[5:])),
		}
		if len(body) >= 8 {
			c.ChannelPage = body[7]
			c.HasChannelPage = true
		}
		return c, 1 + c.bodyLen(), nil
	case CmdGTSRequest:
		if err := need(1); err != nil {
			return nil, 0, err
		}
		return GTSRequest{Characteristics: body[0]}, 2, nil
	}
	return nil, 0, UnknownCommandError{ID: uint8(id)}
}
