package hostlink

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"psila-go/internal/radio"
)

const (
	radioQueueDepth = 32
	sendTimeout     = time.Second
)

// RadioLink is a transceiver backed by a remote radio on the serial link:
// frames go out as RadioSend and arrive as RadioReceive ([frame][LQI]).
type RadioLink struct {
	link   *Link
	logger *slog.Logger

	mu      sync.Mutex
	frames  [][]byte
	other   func(Message)
	irq     chan struct{}
	dropped uint64
}

// NewRadioLink starts a RadioLink over rw.
func NewRadioLink(rw io.ReadWriteCloser, logger *slog.Logger) *RadioLink {
	r := &RadioLink{
		logger: logger.With("component", "radiolink"),
		irq:    make(chan struct{}, 1),
	}
	r.link = NewLink(rw, r.handle, logger)
	return r
}

// OpenRadioLink opens a serial port and starts a RadioLink on it.
func OpenRadioLink(portName string, baudRate int, logger *slog.Logger) (*RadioLink, error) {
	r := &RadioLink{
		logger: logger.With("component", "radiolink"),
		irq:    make(chan struct{}, 1),
	}
	link, err := OpenSerial(portName, baudRate, r.handle, logger)
	if err != nil {
		return nil, err
	}
	r.link = link
	return r, nil
}

// OnMessage registers a handler for messages other than RadioReceive.
func (r *RadioLink) OnMessage(fn func(Message)) {
	r.mu.Lock()
	r.other = fn
	r.mu.Unlock()
}

// Link returns the underlying link.
func (r *RadioLink) Link() *Link { return r.link }

func (r *RadioLink) handle(msg Message) {
	if msg.Type != MessageRadioReceive {
		r.mu.Lock()
		fn := r.other
		r.mu.Unlock()
		if fn != nil {
			fn(msg)
		}
		return
	}
	if len(msg.Payload) < 2 {
		r.logger.Debug("short radio frame", "len", len(msg.Payload))
		return
	}
	r.mu.Lock()
	if len(r.frames) >= radioQueueDepth {
		r.dropped++
		r.mu.Unlock()
		r.logger.Warn("radio receive queue full, frame dropped")
		return
	}
	r.frames = append(r.frames, msg.Payload)
	r.mu.Unlock()
	r.signal()
}

func (r *RadioLink) signal() {
	select {
	case r.irq <- struct{}{}:
	default:
	}
}

// Interrupt signals when a received frame is waiting.
func (r *RadioLink) Interrupt() <-chan struct{} { return r.irq }

// Receive pops one frame into buf using the driver layout
// [length][frame][LQI] and returns length, or 0 when nothing is queued.
func (r *RadioLink) Receive(buf *radio.PacketBuffer) int {
	r.mu.Lock()
	if len(r.frames) == 0 {
		r.mu.Unlock()
		return 0
	}
	payload := r.frames[0]
	r.frames = r.frames[1:]
	more := len(r.frames) > 0
	r.mu.Unlock()
	if more {
		r.signal()
	}

	// payload is [frame][LQI]; the length octet also counts the FCS.
	length := len(payload) + 1
	if length >= radio.MaxPacketLength {
		return 0
	}
	buf[0] = byte(length)
	copy(buf[1:], payload)
	return length
}

// QueueTransmission sends data to the remote radio.
func (r *RadioLink) QueueTransmission(data []byte) (int, error) {
	if len(data)+2 >= radio.MaxPacketLength-1 {
		return 0, fmt.Errorf("%w: %d octets", radio.ErrFrameTooLong, len(data))
	}
	ctx, cancel := context.WithTimeout(context.Background(), sendTimeout)
	defer cancel()
	if err := r.link.Send(ctx, MessageRadioSend, data); err != nil {
		return 0, err
	}
	return len(data), nil
}

// Transmitting is always false; Send returns once the frame is written.
func (r *RadioLink) Transmitting() bool { return false }

// TakeCCABusy always reports false; the remote radio handles CCA itself.
func (r *RadioLink) TakeCCABusy() bool { return false }

// Close closes the link.
func (r *RadioLink) Close() error { return r.link.Close() }
