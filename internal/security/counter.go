package security

import (
	"errors"
	"fmt"
	"math"
	"sync"
)

// ErrCounterExhausted is returned once the 32-bit outgoing counter is used up.
var ErrCounterExhausted = errors.New("security: frame counter exhausted")

// DefaultCounterWindow is how many counter values are reserved per write.
const DefaultCounterWindow = 1024

// CounterStore persists the end of the reserved frame counter range.
type CounterStore interface {
	LoadFrameCounter() (uint32, error)
	SaveFrameCounter(uint32) error
}

// FrameCounter hands out outgoing frame counters. It persists a reservation
// ahead of use, so after a restart counting resumes past every value that
// may already have been sent.
type FrameCounter struct {
	mu       sync.Mutex
	store    CounterStore
	window   uint32
	next     uint32
	reserved uint32
}

// NewFrameCounter resumes from the reservation held by store. A nil store
// keeps the counter in memory only.
func NewFrameCounter(store CounterStore, window uint32) (*FrameCounter, error) {
	if window == 0 {
		window = DefaultCounterWindow
	}
	c := &FrameCounter{store: store, window: window}
	if store != nil {
		v, err := store.LoadFrameCounter()
		if err != nil {
			return nil, fmt.Errorf("security: load frame counter: %w", err)
		}
		c.next = v
		c.reserved = v
	}
	return c, nil
}

// Next returns the next unused counter value.
func (c *FrameCounter) Next() (uint32, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.next == math.MaxUint32 {
		return 0, ErrCounterExhausted
	}
	if c.next >= c.reserved {
		end := uint64(c.next) + uint64(c.window)
		if end > math.MaxUint32 {
			end = math.MaxUint32
		}
		if c.store != nil {
			if err := c.store.SaveFrameCounter(uint32(end)); err != nil {
				return 0, fmt.Errorf("security: save frame counter: %w", err)
			}
		}
		c.reserved = uint32(end)
	}
	v := c.next
	c.next++
	return v, nil
}

// Peek returns the value Next would return.
func (c *FrameCounter) Peek() uint32 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.next
}
