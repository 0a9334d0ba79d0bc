package node

import (
	"errors"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"

	"psila-go/internal/bbq"
)

// LogWriter is an io.Writer over the producer side of a log ring. A record
// that does not fit is dropped whole; Write never blocks on the consumer.
type LogWriter struct {
	mu      sync.Mutex
	p       *bbq.Producer
	ready   chan struct{}
	dropped atomic.Uint64
}

func (w *LogWriter) Write(p []byte) (int, error) {
	w.mu.Lock()
	g, err := w.p.Grant(len(p))
	if err != nil {
		w.mu.Unlock()
		w.dropped.Add(1)
		return len(p), nil
	}
	copy(g.Buf(), p)
	g.Commit(len(p))
	w.mu.Unlock()

	select {
	case w.ready <- struct{}{}:
	default:
	}
	return len(p), nil
}

// Dropped counts records lost to a full ring.
func (w *LogWriter) Dropped() uint64 { return w.dropped.Load() }

// LogBuffer is the device log ring: handlers write records through Writer
// and a deferred task copies them out with Drain.
type LogBuffer struct {
	w *LogWriter
	c *bbq.Consumer
}

// NewLogBuffer allocates a log ring of capacity bytes.
func NewLogBuffer(capacity int) *LogBuffer {
	p, c, err := bbq.New(capacity).Split()
	if err != nil {
		// A fresh buffer always splits.
		panic(err)
	}
	return &LogBuffer{
		w: &LogWriter{p: p, ready: make(chan struct{}, 1)},
		c: c,
	}
}

func (b *LogBuffer) Writer() *LogWriter { return b.w }

// Logger returns a text logger whose records go through the ring.
func (b *LogBuffer) Logger(level slog.Level) *slog.Logger {
	return slog.New(slog.NewTextHandler(b.w, &slog.HandlerOptions{Level: level}))
}

// Ready signals after records have been written.
func (b *LogBuffer) Ready() <-chan struct{} { return b.w.ready }

// Drain copies every committed record to w and returns the bytes written.
func (b *LogBuffer) Drain(w io.Writer) (int, error) {
	total := 0
	for {
		g, err := b.c.Read()
		if errors.Is(err, bbq.ErrEmpty) {
			return total, nil
		}
		if err != nil {
			return total, err
		}
		n, werr := w.Write(g.Buf())
		total += n
		if rerr := g.Release(n); rerr != nil {
			return total, rerr
		}
		if werr != nil {
			return total, werr
		}
	}
}
