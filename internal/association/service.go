// Package association implements the MAC join procedure of an end device:
// active scan, association request and the data request polling for the
// association response. It also answers frames that request an
// acknowledgement.
package association

import (
	"fmt"
	"log/slog"

	"psila-go/internal/mac"
)

// State is the association state.
type State uint8

const (
	Orphan State = iota
	ActiveScan
	Join
	QueryStatus
	Associated
)

func (s State) String() string {
	switch s {
	case Orphan:
		return "Orphan"
	case ActiveScan:
		return "ActiveScan"
	case Join:
		return "Join"
	case QueryStatus:
		return "QueryStatus"
	case Associated:
		return "Associated"
	}
	return fmt.Sprintf("State(%d)", uint8(s))
}

// Timeouts in microseconds returned to the caller for re-arming its timer.
const (
	AckDelay        uint32 = 10
	ResponseTimeout uint32 = 1_000_000
	ScanInterval    uint32 = 29_000_000
)

// Capability advertised in association requests: full function device,
// mains powered, receiver on when idle, allocate address.
var Capability = mac.CapabilityInformation{
	FullFunctionDevice: true,
	MainsPower:         true,
	IdleReceive:        true,
	AllocateAddress:    true,
}

// Identity is a device's addressing. PAN id and short address are only
// meaningful once assigned.
type Identity struct {
	PanID    mac.PanID           `json:"pan_id"`
	HasPAN   bool                `json:"has_pan"`
	Short    mac.ShortAddress    `json:"short"`
	HasShort bool                `json:"has_short"`
	Extended mac.ExtendedAddress `json:"extended"`
}

func (i Identity) String() string {
	pan, short := "-", "-"
	if i.HasPAN {
		pan = i.PanID.String()
	}
	if i.HasShort {
		short = i.Short.String()
	}
	return fmt.Sprintf("pan %s short %s ext %s", pan, short, i.Extended)
}

// Service is the association state machine. It is not safe for concurrent
// use; the node serializes access.
type Service struct {
	state       State
	sequence    uint8
	identity    Identity
	coordinator Identity
	pendingAck  bool
	last        mac.Header
	logger      *slog.Logger
}

// New creates a service for the device with the given extended address.
func New(extended mac.ExtendedAddress, logger *slog.Logger) *Service {
	return &Service{
		state:    Orphan,
		identity: Identity{Extended: extended},
		logger:   logger.With("component", "association"),
	}
}

func (s *Service) State() State          { return s.state }
func (s *Service) Identity() Identity    { return s.identity }
func (s *Service) Coordinator() Identity { return s.coordinator }

// Restore resumes a previously established association.
func (s *Service) Restore(own, coordinator Identity) {
	own.Extended = s.identity.Extended
	s.identity = own
	s.coordinator = coordinator
	s.state = Associated
	s.logger.Info("association restored", "identity", own.String(), "coordinator", coordinator.String())
}

// NextSequence returns the next MAC sequence number for a frame built
// outside the service.
func (s *Service) NextSequence() uint8 {
	s.sequence++
	return s.sequence
}

// Receive handles a MAC frame without FCS. It returns the delay in
// microseconds after which BuildPacket should run, or 0 for none.
func (s *Service) Receive(data []byte) uint32 {
	frame, _, err := mac.Unpack(data)
	if err != nil {
		s.logger.Debug("frame dropped", "error", err)
		return 0
	}
	h := frame.Header
	s.pendingAck = h.AckRequest && mac.AddressedTo(h.Destination, s.identity.Short, s.identity.HasShort, s.identity.Extended)

	var timeout uint32
	switch h.FrameType {
	case mac.FrameAcknowledgement:
		timeout = s.handleAcknowledge(h)
	case mac.FrameBeacon:
		s.handleBeacon(h, frame.Beacon)
	case mac.FrameCommand:
		s.handleCommand(h, frame.Command)
	}
	s.last = h
	if s.pendingAck {
		return AckDelay
	}
	return timeout
}

func (s *Service) handleAcknowledge(h mac.Header) uint32 {
	if s.state == Join && h.Sequence == s.sequence {
		s.state = QueryStatus
		s.logger.Debug("association request acknowledged", "seq", h.Sequence)
		return AckDelay
	}
	return 0
}

func (s *Service) handleBeacon(h mac.Header, b mac.Beacon) {
	if s.state != ActiveScan || h.Source.Mode != mac.AddrShort {
		return
	}
	if !b.Superframe.PANCoordinator || !b.Superframe.AssociationPermit {
		return
	}
	s.coordinator.PanID, s.coordinator.HasPAN = h.Source.PanID, true
	s.coordinator.Short, s.coordinator.HasShort = h.Source.Short, true
	s.state = Join
	s.logger.Info("coordinator found",
		"pan", fmt.Sprintf("0x%04X", uint16(h.Source.PanID)),
		"short", fmt.Sprintf("0x%04X", uint16(h.Source.Short)),
	)
}

func (s *Service) handleCommand(h mac.Header, cmd mac.Command) {
	rsp, ok := cmd.(mac.AssociationResponse)
	if !ok || s.state != QueryStatus {
		return
	}
	if h.Destination.Mode != mac.AddrExtended || h.Destination.Extended != s.identity.Extended {
		return
	}
	// A refusal restarts the scan instead of polling a coordinator that
	// will never admit us.
	if rsp.Status != mac.AssociationSuccessful {
		s.logger.Warn("association refused", "status", rsp.Status.String())
		s.state = Orphan
		return
	}
	s.identity.PanID, s.identity.HasPAN = h.Source.PanID, true
	s.identity.Short, s.identity.HasShort = rsp.Address, true
	s.state = Associated
	s.logger.Info("associated",
		"pan", fmt.Sprintf("0x%04X", uint16(h.Source.PanID)),
		"short", fmt.Sprintf("0x%04X", uint16(rsp.Address)),
	)
}

// BuildPacket writes the next frame to send into out. It returns the frame
// length (0 for nothing to send) and the timeout in microseconds before
// BuildPacket should run again (0 for none). A pending acknowledgement is
// always sent first.
func (s *Service) BuildPacket(out []byte) (int, uint32) {
	if s.pendingAck {
		s.pendingAck = false
		n, err := mac.Acknowledgement(s.last.Sequence).Pack(out)
		if err != nil {
			s.logger.Error("build acknowledgement", "error", err)
			return 0, 0
		}
		return n, 0
	}
	var (
		frame   mac.Frame
		timeout uint32
	)
	switch s.state {
	case Orphan:
		frame = mac.Frame{
			Header: mac.Header{
				FrameType:   mac.FrameCommand,
				Destination: mac.ShortAddr(mac.BroadcastPAN, mac.BroadcastShort),
			},
			Command: mac.BeaconRequest{},
		}
		s.state = ActiveScan
		timeout = ResponseTimeout
	case ActiveScan:
		s.state = Orphan
		return 0, ScanInterval
	case Join:
		frame = mac.Frame{
			Header: mac.Header{
				FrameType:   mac.FrameCommand,
				AckRequest:  true,
				Destination: mac.ShortAddr(s.coordinator.PanID, s.coordinator.Short),
				Source:      mac.ExtendedAddr(mac.BroadcastPAN, s.identity.Extended),
			},
			Command: mac.AssociationRequest{Capability: Capability},
		}
		timeout = ResponseTimeout
	case QueryStatus:
		frame = mac.Frame{
			Header: mac.Header{
				FrameType:     mac.FrameCommand,
				AckRequest:    true,
				PanIDCompress: true,
				Destination:   mac.ShortAddr(s.coordinator.PanID, s.coordinator.Short),
				Source:        mac.ExtendedAddr(s.coordinator.PanID, s.identity.Extended),
			},
			Command: mac.DataRequest{},
		}
		timeout = ResponseTimeout
	default:
		return 0, 0
	}
	frame.Header.Sequence = s.NextSequence()
	n, err := frame.Pack(out)
	if err != nil {
		s.logger.Error("build frame", "state", s.state.String(), "error", err)
		return 0, timeout
	}
	return n, timeout
}
