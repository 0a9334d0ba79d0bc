package radio

import (
	"slices"
	"sync"
)

// SimLQI is the link quality the simulated medium reports.
const SimLQI = 0xD0

const maxHeld = 16

type heldFrame struct {
	channel uint8
	frame   []byte
	lqi     uint8
}

// SimPeripheral is a deterministic software model of the radio peripheral.
// Tasks run synchronously. Shortcut-triggered tasks are deferred while an
// enabled interrupt event is pending and resume once the handler has
// cleared it, so the handler always observes an event before the
// peripheral moves on.
type SimPeripheral struct {
	mu  sync.Mutex
	air *Air

	state     State
	events    Event
	enabled   Event
	shorts    Shorts
	frequency uint8
	power     int8
	ptr       *PacketBuffer
	edCount   uint32
	sample    uint8

	deferred []Task
	held     []heldFrame
	outgoing []heldFrame
	irq      chan struct{}
}

// NewSimPeripheral attaches a new peripheral to air.
func NewSimPeripheral(air *Air) *SimPeripheral {
	p := &SimPeripheral{air: air, irq: make(chan struct{}, 1)}
	air.attach(p)
	return p
}

func (p *SimPeripheral) State() State {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state
}

func (p *SimPeripheral) Trigger(t Task) {
	p.mu.Lock()
	if t == TaskDisable {
		p.deferred = p.deferred[:0]
	}
	p.run(t)
	p.pump()
	p.unlockAndFlush()
}

func (p *SimPeripheral) Event(e Event) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.events&e != 0
}

func (p *SimPeripheral) ClearEvent(e Event) {
	p.mu.Lock()
	p.events &^= e
	p.pump()
	p.unlockAndFlush()
}

func (p *SimPeripheral) SetShorts(s Shorts) {
	p.mu.Lock()
	p.shorts = s
	p.mu.Unlock()
}

func (p *SimPeripheral) EnableInterrupts(e Event) {
	p.mu.Lock()
	p.enabled |= e
	p.mu.Unlock()
}

func (p *SimPeripheral) SetFrequency(offset uint8) {
	p.mu.Lock()
	p.frequency = offset
	p.mu.Unlock()
}

func (p *SimPeripheral) SetTxPower(dBm int8) {
	p.mu.Lock()
	p.power = dBm
	p.mu.Unlock()
}

func (p *SimPeripheral) SetPacketPointer(buf *PacketBuffer) {
	p.mu.Lock()
	p.ptr = buf
	p.mu.Unlock()
}

func (p *SimPeripheral) SetEnergyDetectCount(n uint32) {
	p.mu.Lock()
	p.edCount = n
	p.mu.Unlock()
}

func (p *SimPeripheral) EnergySample() uint8 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.sample
}

func (p *SimPeripheral) Interrupt() <-chan struct{} { return p.irq }

// Channel returns the channel the frequency register selects.
func (p *SimPeripheral) Channel() uint8 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.channel()
}

// TxPower returns the configured output power.
func (p *SimPeripheral) TxPower() int8 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.power
}

func (p *SimPeripheral) channel() uint8 { return p.frequency/5 + 10 }

func (p *SimPeripheral) interruptPending() bool { return p.events&p.enabled != 0 }

func (p *SimPeripheral) fire(e Event) {
	p.events |= e
	if p.enabled&e != 0 {
		select {
		case p.irq <- struct{}{}:
		default:
		}
	}
	for _, s := range shortcuts {
		if s.from == e && p.shorts&s.short != 0 {
			p.deferred = append(p.deferred, s.to)
		}
	}
}

func (p *SimPeripheral) pump() {
	for len(p.deferred) > 0 && !p.interruptPending() {
		t := p.deferred[0]
		p.deferred = p.deferred[1:]
		p.run(t)
	}
}

func (p *SimPeripheral) run(t Task) {
	switch t {
	case TaskRxEn:
		if p.state != StateDisabled {
			return
		}
		p.state = StateRxIdle
		p.fire(EventReady)
		p.fire(EventRxReady)
	case TaskTxEn:
		if p.state != StateDisabled && p.state != StateRxIdle {
			return
		}
		p.state = StateTxIdle
		p.fire(EventReady)
		p.fire(EventTxReady)
	case TaskStart:
		switch p.state {
		case StateRxIdle:
			p.state = StateRx
			p.takeHeld()
		case StateTxIdle:
			p.transmit()
		}
	case TaskDisable:
		if p.state == StateDisabled {
			return
		}
		p.state = StateDisabled
		p.fire(EventDisabled)
	case TaskCCAStart:
		if p.state != StateRxIdle {
			return
		}
		if p.air.busy(p.channel()) {
			p.fire(EventCCABusy)
		} else {
			p.fire(EventCCAIdle)
		}
	case TaskEDStart:
		if p.state != StateRxIdle {
			return
		}
		p.sample = p.air.energy(p.channel())
		p.fire(EventEDEnd)
	}
}

func (p *SimPeripheral) transmit() {
	p.state = StateTx
	if p.ptr != nil {
		length := int(p.ptr[0])
		if length >= fcsLength && length < MaxPacketLength {
			frame := append([]byte(nil), p.ptr[1:1+length-fcsLength]...)
			p.outgoing = append(p.outgoing, heldFrame{channel: p.channel(), frame: frame})
		}
	}
	p.state = StateTxIdle
	p.fire(EventPhyEnd)
}

// receive writes a frame into the DMA buffer; the caller holds mu.
func (p *SimPeripheral) receive(h heldFrame) {
	length := len(h.frame) + fcsLength
	if p.ptr == nil || length >= MaxPacketLength {
		return
	}
	p.ptr[0] = byte(length)
	copy(p.ptr[1:], h.frame)
	p.ptr[length-1] = h.lqi
	p.state = StateRxIdle
	p.fire(EventPhyEnd)
}

func (p *SimPeripheral) takeHeld() {
	for len(p.held) > 0 {
		h := p.held[0]
		p.held = p.held[1:]
		if h.channel == p.channel() {
			p.receive(h)
			return
		}
	}
}

func (p *SimPeripheral) deliver(h heldFrame) {
	p.mu.Lock()
	if p.state == StateRx && h.channel == p.channel() {
		p.receive(h)
	} else {
		if len(p.held) >= maxHeld {
			p.held = p.held[1:]
		}
		p.held = append(p.held, h)
	}
	p.unlockAndFlush()
}

// unlockAndFlush releases mu and hands queued transmissions to the air.
func (p *SimPeripheral) unlockAndFlush() {
	out := p.outgoing
	p.outgoing = nil
	p.mu.Unlock()
	for _, h := range out {
		p.air.transmit(p, h.channel, h.frame)
	}
}

// Air connects simulated peripherals. Frames reach every other peripheral
// on the same channel; a peripheral that is not listening holds the frame
// until it next starts receiving.
type Air struct {
	mu        sync.Mutex
	radios    []*SimPeripheral
	listeners []func(channel uint8, frame []byte)
	busyCh    map[uint8]bool
	energyCh  map[uint8]uint8
}

func NewAir() *Air {
	return &Air{busyCh: make(map[uint8]bool), energyCh: make(map[uint8]uint8)}
}

func (a *Air) attach(p *SimPeripheral) {
	a.mu.Lock()
	a.radios = append(a.radios, p)
	a.mu.Unlock()
}

// Listen registers fn to observe every frame transmitted by a peripheral.
func (a *Air) Listen(fn func(channel uint8, frame []byte)) {
	a.mu.Lock()
	a.listeners = append(a.listeners, fn)
	a.mu.Unlock()
}

// Inject puts a frame on the air as if sent by an external station.
func (a *Air) Inject(channel uint8, frame []byte, lqi uint8) {
	a.deliver(nil, heldFrame{channel: channel, frame: append([]byte(nil), frame...), lqi: lqi})
}

// SetBusy makes clear channel assessment on channel fail.
func (a *Air) SetBusy(channel uint8, busy bool) {
	a.mu.Lock()
	a.busyCh[channel] = busy
	a.mu.Unlock()
}

// SetEnergy sets the energy-detect sample reported on channel.
func (a *Air) SetEnergy(channel, level uint8) {
	a.mu.Lock()
	a.energyCh[channel] = level
	a.mu.Unlock()
}

func (a *Air) busy(channel uint8) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.busyCh[channel]
}

func (a *Air) energy(channel uint8) uint8 {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.energyCh[channel]
}

func (a *Air) transmit(from *SimPeripheral, channel uint8, frame []byte) {
	a.deliver(from, heldFrame{channel: channel, frame: frame, lqi: SimLQI})
	a.mu.Lock()
	listeners := slices.Clone(a.listeners)
	a.mu.Unlock()
	for _, fn := range listeners {
		fn(channel, append([]byte(nil), frame...))
	}
}

func (a *Air) deliver(from *SimPeripheral, h heldFrame) {
	a.mu.Lock()
	radios := append([]*SimPeripheral(nil), a.radios...)
	a.mu.Unlock()
	for _, r := range radios {
		if r == from {
			continue
		}
		r.deliver(heldFrame{channel: h.channel, frame: append([]byte(nil), h.frame...), lqi: h.lqi})
	}
}
