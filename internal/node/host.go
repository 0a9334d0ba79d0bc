package node

import (
	"context"
	"encoding/binary"

	"psila-go/internal/association"
	"psila-go/internal/hostlink"
	"psila-go/internal/radio"
)

// HandleHostMessage queues a message from the host for the runtime. It
// does not block; messages beyond the queue depth are dropped.
func (n *Node) HandleHostMessage(m hostlink.Message) {
	select {
	case n.inbox <- m:
	default:
		n.logger.Warn("host message dropped", "type", m.Type.String())
	}
}

// post queues an envelope for the host from handler context.
func (n *Node) post(mt hostlink.MessageType, payload []byte) {
	select {
	case n.outbox <- hostlink.Message{Type: mt, Payload: payload}:
	default:
		n.logger.Debug("host outbox full", "type", mt.String())
	}
}

func (n *Node) handleHost(ctx context.Context, m hostlink.Message) {
	switch m.Type {
	case hostlink.MessageGetValue:
		if len(m.Payload) < 1 {
			n.sendHost(ctx, hostlink.MessageError, []byte{byte(m.Type)})
			return
		}
		value, ok := n.value(m.Payload[0])
		if !ok {
			n.sendHost(ctx, hostlink.MessageError, []byte{byte(m.Type), m.Payload[0]})
			return
		}
		n.sendHost(ctx, hostlink.MessageSetValue, append([]byte{m.Payload[0]}, value...))
	case hostlink.MessageSetValue:
		if len(m.Payload) < 2 || !n.setValue(m.Payload[0], m.Payload[1:]) {
			n.sendHost(ctx, hostlink.MessageError, append([]byte{byte(m.Type)}, m.Payload...))
			return
		}
		value, _ := n.value(m.Payload[0])
		n.sendHost(ctx, hostlink.MessageSetValue, append([]byte{m.Payload[0]}, value...))
	case hostlink.MessageRadioSend:
		if len(m.Payload) == 0 || len(m.Payload) > radio.MaxPacketLength-4 {
			n.sendHost(ctx, hostlink.MessageError, []byte{byte(m.Type)})
			return
		}
		n.enqueueTX(m.Payload)
	case hostlink.MessageEnergyDetect:
		if !n.StartEnergyScan() {
			n.sendHost(ctx, hostlink.MessageError, []byte{byte(m.Type)})
		}
	case hostlink.MessageRadioState:
		n.sendHost(ctx, hostlink.MessageRadioState, n.radioStatePayload())
	default:
		n.logger.Debug("unhandled host message", "type", m.Type.String(), "len", len(m.Payload))
	}
}

func (n *Node) value(id uint8) ([]byte, bool) {
	switch id {
	case hostlink.ValueChannel, hostlink.ValueTxPower:
		var (
			out []byte
			ok  bool
		)
		n.radio.Lock(func(r *radioState) {
			c, isConfigurable := r.t.(Configurable)
			if !isConfigurable {
				return
			}
			ok = true
			if id == hostlink.ValueChannel {
				out = []byte{c.Channel()}
			} else {
				out = []byte{byte(c.TransmissionPower())}
			}
		})
		return out, ok
	}

	var own association.Identity
	var state association.State
	n.service.Lock(func(s *serviceState) {
		own, state = s.svc.Identity(), s.svc.State()
	})
	switch id {
	case hostlink.ValueAssociationState:
		return []byte{byte(state)}, true
	case hostlink.ValueShortAddress:
		if !own.HasShort {
			return nil, false
		}
		return binary.LittleEndian.AppendUint16(nil, uint16(own.Short)), true
	case hostlink.ValuePanID:
		if !own.HasPAN {
			return nil, false
		}
		return binary.LittleEndian.AppendUint16(nil, uint16(own.PanID)), true
	case hostlink.ValueExtendedAddress:
		return binary.LittleEndian.AppendUint64(nil, uint64(own.Extended)), true
	}
	return nil, false
}

func (n *Node) setValue(id uint8, value []byte) bool {
	var err error
	applied := false
	n.radio.Lock(func(r *radioState) {
		c, ok := r.t.(Configurable)
		if !ok || r.scanning {
			return
		}
		switch id {
		case hostlink.ValueChannel:
			err = c.SetChannel(value[0])
		case hostlink.ValueTxPower:
			err = c.SetTransmissionPower(int8(value[0]))
		default:
			return
		}
		applied = err == nil
		if ed, ok := r.t.(EnergyDetector); ok && applied {
			ed.ReceivePrepare()
		}
	})
	if err != nil {
		n.logger.Warn("set value rejected", "id", id, "error", err)
	}
	return applied
}

// radioStatePayload is [radio state][association state][channel].
func (n *Node) radioStatePayload() []byte {
	out := make([]byte, 3)
	n.radio.Lock(func(r *radioState) {
		if s, ok := r.t.(interface{ State() radio.State }); ok {
			out[0] = byte(s.State())
		}
		if c, ok := r.t.(Configurable); ok {
			out[2] = c.Channel()
		}
	})
	out[1] = byte(n.State())
	return out
}

// StartEnergyScan sweeps energy detection over every channel, reporting
// [channel][level] to the host as EnergyDetect, then returns to receive on
// the original channel. It reports false when the transceiver cannot
// measure energy or a scan is already running.
func (n *Node) StartEnergyScan() bool {
	started := false
	n.radio.Lock(func(r *radioState) {
		ed, ok := r.t.(EnergyDetector)
		if !ok || r.scanning || r.t.Transmitting() {
			return
		}
		r.scanning, r.home = true, ed.Channel()
		if err := ed.SetChannel(radio.MinChannel); err != nil {
			r.scanning = false
			return
		}
		ed.StartEnergyDetect(EnergyDetectCount)
		started = true
	})
	if started {
		n.logger.Info("energy scan started")
	}
	return started
}

// continueScan runs from OnRadio with the radio locked.
func (n *Node) continueScan(r *radioState) {
	ed := r.t.(EnergyDetector)
	level, ok := ed.ReportEnergyDetect()
	if !ok {
		return
	}
	channel := ed.Channel()
	n.post(hostlink.MessageEnergyDetect, []byte{channel, level})
	if channel < radio.MaxChannel {
		_ = ed.SetChannel(channel + 1)
		ed.StartEnergyDetect(EnergyDetectCount)
		return
	}
	r.scanning = false
	_ = ed.SetChannel(r.home)
	ed.ReceivePrepare()
	n.logger.Info("energy scan finished", "channel", r.home)
}
