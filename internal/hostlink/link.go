package hostlink

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"go.bug.st/serial"
)

// Message is one decoded envelope.
type Message struct {
	Type    MessageType
	Payload []byte
}

// Handler receives messages from the read loop. It runs on the read
// goroutine and must not block for long.
type Handler func(Message)

// Stats counts link traffic.
type Stats struct {
	Received  uint64 `json:"received"`
	Sent      uint64 `json:"sent"`
	Dropped   uint64 `json:"dropped"`
	BadFrames uint64 `json:"bad_frames"`
}

// maxPending bounds buffered input that has not yet produced a frame.
const maxPending = 4096

// Link exchanges envelopes over a byte stream, normally a serial port.
type Link struct {
	rw      io.ReadWriteCloser
	logger  *slog.Logger
	handler Handler

	writeMu sync.Mutex

	received  atomic.Uint64
	sent      atomic.Uint64
	dropped   atomic.Uint64
	badFrames atomic.Uint64

	done      chan struct{}
	closeOnce sync.Once
	wg        sync.WaitGroup
}

// NewLink starts a read loop on rw delivering every message to handler.
func NewLink(rw io.ReadWriteCloser, handler Handler, logger *slog.Logger) *Link {
	l := &Link{
		rw:      rw,
		logger:  logger.With("component", "hostlink"),
		handler: handler,
		done:    make(chan struct{}),
	}
	l.wg.Add(1)
	go l.readLoop()
	return l
}

// OpenSerial opens portName at baudRate (8N1) and starts a Link on it.
func OpenSerial(portName string, baudRate int, handler Handler, logger *slog.Logger) (*Link, error) {
	mode := &serial.Mode{
		BaudRate: baudRate,
		DataBits: 8,
		Parity:   serial.NoParity,
		StopBits: serial.OneStopBit,
	}
	port, err := serial.Open(portName, mode)
	if err != nil {
		return nil, fmt.Errorf("hostlink: open %s: %w", portName, err)
	}
	// USB CDC ACM boards only start talking once DTR is asserted.
	_ = port.SetDTR(true)
	_ = port.SetRTS(true)
	logger.Info("serial port opened", "port", portName, "baud", baudRate)
	return NewLink(port, handler, logger), nil
}

// Send writes one envelope. Writes are serialized.
func (l *Link) Send(ctx context.Context, mt MessageType, payload []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	select {
	case <-l.done:
		return fmt.Errorf("hostlink: link closed")
	default:
	}
	frame, err := AppendMessage(nil, mt, payload)
	if err != nil {
		return fmt.Errorf("hostlink: encode %s: %w", mt, err)
	}
	l.writeMu.Lock()
	_, err = l.rw.Write(frame)
	l.writeMu.Unlock()
	if err != nil {
		return fmt.Errorf("hostlink: write %s: %w", mt, err)
	}
	l.sent.Add(1)
	l.logger.Debug("message sent", "type", mt, "len", len(payload))
	return nil
}

// Stats returns a snapshot of the traffic counters.
func (l *Link) Stats() Stats {
	return Stats{
		Received:  l.received.Load(),
		Sent:      l.sent.Load(),
		Dropped:   l.dropped.Load(),
		BadFrames: l.badFrames.Load(),
	}
}

// Close stops the read loop and closes the underlying stream.
func (l *Link) Close() error {
	var err error
	l.closeOnce.Do(func() {
		close(l.done)
		err = l.rw.Close()
	})
	l.wg.Wait()
	return err
}

func (l *Link) readLoop() {
	defer l.wg.Done()

	backoff := 10 * time.Millisecond
	const maxBackoff = 5 * time.Second

	chunk := make([]byte, 256)
	var pending []byte
	for {
		select {
		case <-l.done:
			return
		default:
		}

		n, err := l.rw.Read(chunk)
		if err != nil {
			select {
			case <-l.done:
				return
			default:
			}
			if err != io.EOF && !strings.Contains(err.Error(), "closed") {
				l.logger.Error("serial read error", "err", err)
			}
			select {
			case <-time.After(backoff):
			case <-l.done:
				return
			}
			backoff = min(backoff*2, maxBackoff)
			continue
		}
		backoff = 10 * time.Millisecond
		if n == 0 {
			continue
		}
		pending = l.consume(append(pending, chunk[:n]...))
	}
}

// consume decodes every complete envelope in pending and returns the bytes
// that still wait for an END marker.
func (l *Link) consume(pending []byte) []byte {
	payload := make([]byte, MaxPayload+2)
	for len(pending) > 0 {
		mt, used, n, err := DecodeMessage(pending, payload)
		var invalid *InvalidLengthError
		switch {
		case err == nil:
			l.received.Add(1)
			msg := Message{Type: mt, Payload: append([]byte(nil), payload[:n]...)}
			if l.handler != nil {
				l.handler(msg)
			} else {
				l.dropped.Add(1)
			}
			pending = pending[used:]
		case errors.Is(err, ErrEndNotFound):
			if len(pending) > maxPending {
				l.logger.Warn("discarding unterminated input", "len", len(pending))
				l.dropped.Add(1)
				return pending[:0]
			}
			return pending
		case errors.As(err, &invalid):
			l.badFrames.Add(1)
			l.logger.Debug("invalid envelope length", "used", invalid.Used)
			pending = pending[invalid.Used:]
		default:
			l.badFrames.Add(1)
			l.logger.Debug("bad frame", "err", err)
			pending = resync(pending)
		}
	}
	return pending
}

// resync drops input up to, but not including, the next END marker after
// the first byte so decoding restarts on a frame boundary.
func resync(pending []byte) []byte {
	for i := 1; i < len(pending); i++ {
		if pending[i] == slipEnd {
			return pending[i:]
		}
	}
	return pending[:0]
}
