// Package bbq is a single-producer single-consumer byte ring with
// contiguous grants. The producer reserves a region with Grant, fills it and
// commits; the consumer reads the oldest committed region and releases what
// it consumed. Neither side ever blocks: a request that cannot be met
// returns an error immediately.
package bbq

import (
	"errors"
	"sync/atomic"
)

var (
	ErrInsufficientSize = errors.New("bbq: insufficient contiguous space")
	ErrGrantInProgress  = errors.New("bbq: grant already in progress")
	ErrEmpty            = errors.New("bbq: no committed data")
	ErrAlreadySplit     = errors.New("bbq: buffer already split")
	ErrReleaseTooLarge  = errors.New("bbq: release larger than grant")
	ErrGrantDone        = errors.New("bbq: grant already finished")
)

// Buffer is the shared ring. Use Split to obtain its two endpoints.
//
// write == read means empty; write < read means the writer has wrapped and
// the readable data runs from read to last, then from 0 to write.
type Buffer struct {
	buf []byte

	write   atomic.Int64
	read    atomic.Int64
	last    atomic.Int64
	reserve atomic.Int64

	writeInProgress atomic.Bool
	readInProgress  atomic.Bool
	split           atomic.Bool
}

// New allocates a ring of capacity bytes.
func New(capacity int) *Buffer {
	return &Buffer{buf: make([]byte, capacity)}
}

func (b *Buffer) Capacity() int { return len(b.buf) }

// Split returns the producer and consumer. It succeeds once.
func (b *Buffer) Split() (*Producer, *Consumer, error) {
	if b.split.Swap(true) {
		return nil, nil, ErrAlreadySplit
	}
	return &Producer{b: b}, &Consumer{b: b}, nil
}

// Producer is the write endpoint.
type Producer struct {
	b *Buffer
}

// WriteGrant is an exclusive lease on a writable region.
type WriteGrant struct {
	b    *Buffer
	buf  []byte
	done bool
}

// Grant reserves exactly n contiguous bytes.
func (p *Producer) Grant(n int) (*WriteGrant, error) {
	if n < 0 {
		return nil, ErrInsufficientSize
	}
	b := p.b
	if b.writeInProgress.Swap(true) {
		return nil, ErrGrantInProgress
	}
	write := int(b.write.Load())
	read := int(b.read.Load())
	capacity := len(b.buf)

	var start int
	switch {
	case write < read:
		if write+n >= read {
			b.writeInProgress.Store(false)
			return nil, ErrInsufficientSize
		}
		start = write
	case write+n <= capacity:
		start = write
	case n < read:
		// Wrap. Writing up to read would make full look like empty.
		start = 0
	default:
		b.writeInProgress.Store(false)
		return nil, ErrInsufficientSize
	}
	b.reserve.Store(int64(start + n))
	return &WriteGrant{b: b, buf: b.buf[start : start+n]}, nil
}

// GrantMax reserves the largest contiguous region up to max bytes.
func (p *Producer) GrantMax(max int) (*WriteGrant, error) {
	b := p.b
	if b.writeInProgress.Swap(true) {
		return nil, ErrGrantInProgress
	}
	write := int(b.write.Load())
	read := int(b.read.Load())
	capacity := len(b.buf)

	var start, n int
	switch {
	case write < read:
		n = min(read-write-1, max)
		start = write
	case write != capacity:
		n = min(capacity-write, max)
		start = write
	case read > 1:
		n = min(read-1, max)
		start = 0
	}
	if n <= 0 {
		b.writeInProgress.Store(false)
		return nil, ErrInsufficientSize
	}
	b.reserve.Store(int64(start + n))
	return &WriteGrant{b: b, buf: b.buf[start : start+n]}, nil
}

// Buf is the granted region.
func (g *WriteGrant) Buf() []byte { return g.buf }

// Commit publishes the first n bytes of the grant to the consumer and ends
// the grant. n is clamped to the grant size.
func (g *WriteGrant) Commit(n int) {
	if g.done {
		return
	}
	g.done = true
	b := g.b
	n = max(0, min(n, len(g.buf)))

	write := b.write.Load()
	newWrite := b.reserve.Add(-int64(len(g.buf) - n))
	capacity := int64(len(b.buf))
	last := b.last.Load()

	if newWrite < write && write != capacity {
		// Wrapped: data ends where write used to be.
		b.last.Store(write)
	} else if newWrite > last {
		b.last.Store(capacity)
	}
	// last must be visible before write or the reader could invert early.
	b.write.Store(newWrite)
	b.writeInProgress.Store(false)
}

// Consumer is the read endpoint.
type Consumer struct {
	b *Buffer
}

// ReadGrant is an exclusive lease on the oldest committed bytes.
type ReadGrant struct {
	b    *Buffer
	buf  []byte
	done bool
}

// Read returns the oldest contiguous committed region.
func (c *Consumer) Read() (*ReadGrant, error) {
	b := c.b
	if b.readInProgress.Swap(true) {
		return nil, ErrGrantInProgress
	}
	write := b.write.Load()
	last := b.last.Load()
	read := b.read.Load()

	if read == last && write < read {
		read = 0
		b.read.Store(0)
	}
	end := write
	if write < read {
		end = last
	}
	if end-read == 0 {
		b.readInProgress.Store(false)
		return nil, ErrEmpty
	}
	return &ReadGrant{b: b, buf: b.buf[read:end]}, nil
}

// Buf is the readable region.
func (g *ReadGrant) Buf() []byte { return g.buf }

// Release returns the first n bytes to the producer and ends the grant.
// n must not exceed the grant; a release of 0 just ends it.
func (g *ReadGrant) Release(n int) error {
	if g.done {
		return ErrGrantDone
	}
	if n < 0 || n > len(g.buf) {
		return ErrReleaseTooLarge
	}
	g.done = true
	g.b.read.Add(int64(n))
	g.b.readInProgress.Store(false)
	return nil
}
