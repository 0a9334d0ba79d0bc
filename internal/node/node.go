// Package node is the device runtime. Interrupt handlers (OnTimer, OnRadio)
// do the time-critical work and hand frames to deferred tasks through
// lock-free rings; Run executes both on one goroutine with interrupts
// taking priority, so no handler ever runs re-entrantly.
package node

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync/atomic"

	"psila-go/internal/association"
	"psila-go/internal/bbq"
	"psila-go/internal/ceiling"
	"psila-go/internal/hostlink"
	"psila-go/internal/radio"
	"psila-go/internal/timer"
)

const (
	rxQueueSize = radio.MaxPacketLength * 32
	txQueueSize = radio.MaxPacketLength * 8

	// TimerSlot is the compare slot driving the association service.
	TimerSlot = 1

	// StartupDelay is the default wait before the first join attempt.
	StartupDelay uint32 = 30_000_000

	// CCARetries is how often a frame is retried after a busy channel.
	CCARetries = 4

	// EnergyDetectCount is the detection window in 16 us periods.
	EnergyDetectCount = 65536

	hostQueueDepth = 16
)

// Transceiver is the radio the node runs on. *radio.Driver and
// *hostlink.RadioLink implement it.
type Transceiver interface {
	Receive(buf *radio.PacketBuffer) int
	QueueTransmission(data []byte) (int, error)
	Transmitting() bool
	TakeCCABusy() bool
	Interrupt() <-chan struct{}
}

// Configurable is implemented by transceivers whose channel and power can
// be changed.
type Configurable interface {
	SetChannel(ch uint8) error
	Channel() uint8
	SetTransmissionPower(dBm int8) error
	TransmissionPower() int8
}

// EnergyDetector is implemented by transceivers that measure channel
// energy.
type EnergyDetector interface {
	Configurable
	ReceivePrepare()
	StartEnergyDetect(count uint32)
	ReportEnergyDetect() (uint8, bool)
}

// Host takes envelopes bound for the host computer. *hostlink.Link
// implements it.
type Host interface {
	Send(ctx context.Context, mt hostlink.MessageType, payload []byte) error
}

// Config wires a Node. Host, Announcer, Logs and OnAssociated are optional.
type Config struct {
	Radio     Transceiver
	Timer     timer.Timer
	Service   *association.Service
	Host      Host
	Announcer *Announcer
	Logger    *slog.Logger

	// Logs is the ring the runtime logger writes into; Run copies it to
	// LogOutput.
	Logs      *LogBuffer
	LogOutput io.Writer

	// StartDelay overrides StartupDelay.
	StartDelay uint32

	// OnAssociated runs from a deferred task after the service associates.
	OnAssociated func(own, coordinator association.Identity)
}

// Stats counts node traffic.
type Stats struct {
	Received    uint64 `json:"received"`
	RXDropped   uint64 `json:"rx_dropped"`
	Forwarded   uint64 `json:"forwarded"`
	Transmitted uint64 `json:"transmitted"`
	TXDropped   uint64 `json:"tx_dropped"`
	CCABusy     uint64 `json:"cca_busy"`
}

type radioState struct {
	t Transceiver

	last    []byte
	retries int
	retry   bool

	scanning bool
	home     uint8
}

type serviceState struct {
	svc        *association.Service
	associated bool
}

type associatedEvent struct {
	own, coordinator association.Identity
}

// Node is the device runtime.
type Node struct {
	radio   *ceiling.Resource[radioState]
	service *ceiling.Resource[serviceState]
	timer   *ceiling.Resource[timer.Timer]

	radioIRQ <-chan struct{}
	timerIRQ <-chan struct{}

	rxProd *bbq.Producer
	rxCons *bbq.Consumer
	txProd *bbq.Producer
	txCons *bbq.Consumer

	rxTask    chan struct{}
	txTask    chan struct{}
	stateTask chan associatedEvent
	outbox    chan hostlink.Message
	inbox     chan hostlink.Message

	host         Host
	announcer    *Announcer
	logs         *LogBuffer
	logOutput    io.Writer
	logReady     <-chan struct{}
	startDelay   uint32
	onAssociated func(own, coordinator association.Identity)
	logger       *slog.Logger

	received    atomic.Uint64
	rxDropped   atomic.Uint64
	forwarded   atomic.Uint64
	transmitted atomic.Uint64
	txDropped   atomic.Uint64
	ccaBusy     atomic.Uint64
}

// New creates a node. Radio, Timer and Service are required.
func New(cfg Config) (*Node, error) {
	if cfg.Radio == nil || cfg.Timer == nil || cfg.Service == nil {
		return nil, errors.New("node: radio, timer and service are required")
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	n := &Node{
		radio:        ceiling.New(radioState{t: cfg.Radio}),
		service:      ceiling.New(serviceState{svc: cfg.Service}),
		timer:        ceiling.New(cfg.Timer),
		radioIRQ:     cfg.Radio.Interrupt(),
		timerIRQ:     cfg.Timer.Interrupt(),
		rxTask:       make(chan struct{}, 1),
		txTask:       make(chan struct{}, 1),
		stateTask:    make(chan associatedEvent, 1),
		outbox:       make(chan hostlink.Message, hostQueueDepth*2),
		inbox:        make(chan hostlink.Message, hostQueueDepth),
		host:         cfg.Host,
		announcer:    cfg.Announcer,
		logs:         cfg.Logs,
		logOutput:    cfg.LogOutput,
		startDelay:   cfg.StartDelay,
		onAssociated: cfg.OnAssociated,
		logger:       logger.With("component", "node"),
	}
	if n.startDelay == 0 {
		n.startDelay = StartupDelay
	}
	if n.logs != nil && n.logOutput != nil {
		n.logReady = n.logs.Ready()
	}
	var err error
	if n.rxProd, n.rxCons, err = bbq.New(rxQueueSize).Split(); err != nil {
		return nil, fmt.Errorf("node: rx queue: %w", err)
	}
	if n.txProd, n.txCons, err = bbq.New(txQueueSize).Split(); err != nil {
		return nil, fmt.Errorf("node: tx queue: %w", err)
	}
	return n, nil
}

// Stats returns a snapshot of the traffic counters.
func (n *Node) Stats() Stats {
	return Stats{
		Received:    n.received.Load(),
		RXDropped:   n.rxDropped.Load(),
		Forwarded:   n.forwarded.Load(),
		Transmitted: n.transmitted.Load(),
		TXDropped:   n.txDropped.Load(),
		CCABusy:     n.ccaBusy.Load(),
	}
}

// State returns the association state.
func (n *Node) State() association.State {
	return ceiling.With(n.service, func(s *serviceState) association.State { return s.svc.State() })
}

// Start initializes the timer, arms the first join attempt and puts the
// radio in receive.
func (n *Node) Start() error {
	err := ceiling.With(n.timer, func(t *timer.Timer) error {
		(*t).Init()
		return (*t).FireAt(TimerSlot, n.startDelay)
	})
	if err != nil {
		return fmt.Errorf("node: arm timer: %w", err)
	}
	n.radio.Lock(func(r *radioState) {
		if ed, ok := r.t.(EnergyDetector); ok {
			ed.ReceivePrepare()
		}
	})
	n.logger.Info("node started", "start_delay_us", n.startDelay)
	return nil
}

// Run starts the node and services interrupts and deferred tasks until ctx
// is done.
func (n *Node) Run(ctx context.Context) error {
	if err := n.Start(); err != nil {
		return err
	}
	for n.step(ctx, true) {
	}
	return nil
}

// step runs one handler. Pending interrupts go first. With block unset it
// returns false once nothing is pending; with block set it waits and only
// returns false when ctx is done.
func (n *Node) step(ctx context.Context, block bool) bool {
	select {
	case <-ctx.Done():
		return false
	case <-n.timerIRQ:
		n.OnTimer()
		return true
	case <-n.radioIRQ:
		n.OnRadio()
		return true
	default:
	}

	if !block {
		select {
		case <-n.rxTask:
			n.DrainRX(ctx)
		case <-n.txTask:
			n.DrainTX()
		case ev := <-n.stateTask:
			n.reportAssociated(ctx, ev)
		case m := <-n.outbox:
			n.sendHost(ctx, m.Type, m.Payload)
		case m := <-n.inbox:
			n.handleHost(ctx, m)
		case <-n.logReady:
			n.DrainLog()
		default:
			return false
		}
		return true
	}

	select {
	case <-ctx.Done():
		return false
	case <-n.timerIRQ:
		n.OnTimer()
	case <-n.radioIRQ:
		n.OnRadio()
	case <-n.rxTask:
		n.DrainRX(ctx)
	case <-n.txTask:
		n.DrainTX()
	case ev := <-n.stateTask:
		n.reportAssociated(ctx, ev)
	case m := <-n.outbox:
		n.sendHost(ctx, m.Type, m.Payload)
	case m := <-n.inbox:
		n.handleHost(ctx, m)
	case <-n.logReady:
		n.DrainLog()
	}
	return true
}

func signal(ch chan struct{}) {
	select {
	case ch <- struct{}{}:
	default:
	}
}

func (n *Node) arm(after uint32) {
	err := ceiling.With(n.timer, func(t *timer.Timer) error { return (*t).FireAt(TimerSlot, after) })
	if err != nil {
		n.logger.Error("arm timer", "error", err)
	}
}

// OnTimer is the timer interrupt handler: it lets the association service
// build its next frame, re-arms the timer with the returned timeout and
// queues the frame for transmission.
func (n *Node) OnTimer() {
	fired := ceiling.With(n.timer, func(t *timer.Timer) bool {
		if !(*t).IsCompareEvent(TimerSlot) {
			return false
		}
		(*t).AckCompareEvent(TimerSlot)
		return true
	})
	if !fired {
		return
	}

	var (
		frame   [radio.MaxPacketLength]byte
		length  int
		timeout uint32
	)
	n.service.Lock(func(s *serviceState) {
		length, timeout = s.svc.BuildPacket(frame[:])
	})
	if timeout > 0 {
		n.arm(timeout)
	}
	if length > 0 {
		n.enqueueTX(frame[:length])
	}
	n.checkAssociated()
}

// checkAssociated queues the device announcement and the association
// report the first time the service is seen associated.
func (n *Node) checkAssociated() {
	var (
		ev  associatedEvent
		due bool
		seq uint8
	)
	n.service.Lock(func(s *serviceState) {
		if s.svc.State() != association.Associated {
			s.associated = false
			return
		}
		if s.associated {
			return
		}
		s.associated, due = true, true
		ev = associatedEvent{own: s.svc.Identity(), coordinator: s.svc.Coordinator()}
		if n.announcer != nil {
			seq = s.svc.NextSequence()
		}
	})
	if !due {
		return
	}
	select {
	case n.stateTask <- ev:
	default:
	}
	if n.announcer == nil {
		return
	}
	var frame [radio.MaxPacketLength]byte
	length, err := n.announcer.Build(ev.own, seq, frame[:])
	if err != nil {
		n.logger.Error("build device announce", "error", err)
		return
	}
	n.enqueueTX(frame[:length])
	n.logger.Info("device announce queued", "short", fmt.Sprintf("0x%04X", uint16(ev.own.Short)))
}

func (n *Node) enqueueTX(frame []byte) {
	g, err := n.txProd.Grant(len(frame) + 1)
	if err != nil {
		n.txDropped.Add(1)
		n.logger.Warn("transmit queue full, frame dropped", "len", len(frame))
		return
	}
	buf := g.Buf()
	buf[0] = byte(len(frame))
	copy(buf[1:], frame)
	g.Commit(len(frame) + 1)
	signal(n.txTask)
}

// OnRadio is the radio interrupt handler. A received frame is fed to the
// association service, the timer is re-armed when the service asks for it
// and the frame is copied into the receive queue for the host. A busy
// channel schedules a retry of the last frame.
func (n *Node) OnRadio() {
	var (
		buf    radio.PacketBuffer
		length int
	)
	n.radio.Lock(func(r *radioState) {
		if r.scanning {
			n.continueScan(r)
			return
		}
		length = r.t.Receive(&buf)
		if r.t.TakeCCABusy() {
			n.ccaBusy.Add(1)
			if r.last != nil && r.retries < CCARetries {
				r.retries++
				r.retry = true
			} else if r.last != nil {
				n.txDropped.Add(1)
				n.logger.Warn("channel busy, frame dropped", "attempts", r.retries+1)
				r.last = nil
			}
		}
	})
	signal(n.txTask)

	if length < 2 {
		return
	}
	n.received.Add(1)

	var delay uint32
	n.service.Lock(func(s *serviceState) {
		delay = s.svc.Receive(buf[1 : length-1])
	})
	if delay > 0 {
		n.arm(delay)
	}

	g, err := n.rxProd.Grant(length)
	if err != nil {
		n.rxDropped.Add(1)
		return
	}
	copy(g.Buf(), buf[:length])
	g.Commit(length)
	signal(n.rxTask)
}

// DrainRX forwards queued frames to the host as RadioReceive messages
// carrying the frame followed by its LQI.
func (n *Node) DrainRX(ctx context.Context) {
	for {
		g, err := n.rxCons.Read()
		if err != nil {
			return
		}
		data := g.Buf()
		used := 0
		for used < len(data) {
			size := int(data[used])
			if size < 2 || used+size > len(data) {
				n.logger.Error("corrupt receive queue entry", "size", size)
				used = len(data)
				break
			}
			n.sendHost(ctx, hostlink.MessageRadioReceive, data[used+1:used+size])
			n.forwarded.Add(1)
			used += size
		}
		if err := g.Release(used); err != nil {
			n.logger.Error("release receive queue", "error", err)
			return
		}
	}
}

// DrainTX hands the next queued frame to the radio once the previous one
// has finished. A frame flagged for retry goes out again first.
func (n *Node) DrainTX() {
	n.radio.Lock(func(r *radioState) {
		if r.scanning || r.t.Transmitting() {
			return
		}
		if r.retry {
			r.retry = false
			if r.last != nil {
				n.transmit(r)
			}
			return
		}
		g, err := n.txCons.Read()
		if err != nil {
			return
		}
		data := g.Buf()
		size := int(data[0])
		if 1+size > len(data) {
			n.logger.Error("corrupt transmit queue entry", "size", size)
			_ = g.Release(len(data))
			return
		}
		r.last = append(r.last[:0], data[1:1+size]...)
		r.retries = 0
		_ = g.Release(1 + size)
		n.transmit(r)
	})
}

func (n *Node) transmit(r *radioState) {
	if _, err := r.t.QueueTransmission(r.last); err != nil {
		n.txDropped.Add(1)
		n.logger.Warn("queue transmission", "len", len(r.last), "error", err)
		r.last = nil
		signal(n.txTask)
		return
	}
	n.transmitted.Add(1)
}

// DrainLog copies buffered log records to the log output.
func (n *Node) DrainLog() {
	if n.logs == nil || n.logOutput == nil {
		return
	}
	_, _ = n.logs.Drain(n.logOutput)
}

func (n *Node) sendHost(ctx context.Context, mt hostlink.MessageType, payload []byte) {
	if n.host == nil {
		return
	}
	if err := n.host.Send(ctx, mt, payload); err != nil {
		n.logger.Debug("host send failed", "type", mt.String(), "error", err)
	}
}

func (n *Node) reportAssociated(ctx context.Context, ev associatedEvent) {
	if n.onAssociated != nil {
		n.onAssociated(ev.own, ev.coordinator)
	}
	n.sendHost(ctx, hostlink.MessageRadioState, n.radioStatePayload())
}
