package timer

import (
	"sync"
	"time"
)

// Clock is a Timer backed by the monotonic wall clock. The counter is
// microseconds since Init, truncated to 32 bits.
type Clock struct {
	mu     sync.Mutex
	start  time.Time
	cc     [MaxSlot + 1]uint32
	timers [MaxSlot + 1]*time.Timer
	gen    [MaxSlot + 1]uint64
	events [MaxSlot + 1]bool
	irq    chan struct{}
}

// NewClock returns an initialized Clock.
func NewClock() *Clock {
	c := &Clock{irq: make(chan struct{}, 1)}
	c.Init()
	return c
}

func (c *Clock) Init() {
	c.mu.Lock()
	defer c.mu.Unlock()
	for slot := range c.timers {
		c.stopLocked(slot)
	}
	c.start = time.Now()
}

func (c *Clock) now() uint32 { return uint32(time.Since(c.start).Microseconds()) }

func (c *Clock) Now() uint32 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now()
}

func (c *Clock) FireAt(slot int, after uint32) error {
	if err := checkSlot(slot); err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.arm(slot, Deadline(c.now(), after))
	return nil
}

func (c *Clock) FirePlus(slot int, elapsed uint32) error {
	if err := checkSlot(slot); err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.arm(slot, c.cc[slot]+elapsed)
	return nil
}

// arm replaces any pending deadline on slot; the caller holds mu.
func (c *Clock) arm(slot int, deadline uint32) {
	c.stopLocked(slot)
	c.cc[slot] = deadline
	gen := c.gen[slot]
	wait := time.Duration(Until(c.now(), deadline)) * time.Microsecond
	c.timers[slot] = time.AfterFunc(wait, func() {
		c.mu.Lock()
		if c.gen[slot] != gen {
			c.mu.Unlock()
			return
		}
		c.events[slot] = true
		c.mu.Unlock()
		select {
		case c.irq <- struct{}{}:
		default:
		}
	})
}

func (c *Clock) stopLocked(slot int) {
	if c.timers[slot] != nil {
		c.timers[slot].Stop()
		c.timers[slot] = nil
	}
	c.gen[slot]++
	c.events[slot] = false
}

func (c *Clock) Stop(slot int) error {
	if err := checkSlot(slot); err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.stopLocked(slot)
	return nil
}

func (c *Clock) AckCompareEvent(slot int) {
	if checkSlot(slot) != nil {
		return
	}
	c.mu.Lock()
	c.events[slot] = false
	c.mu.Unlock()
}

func (c *Clock) IsCompareEvent(slot int) bool {
	if checkSlot(slot) != nil {
		return false
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.events[slot]
}

func (c *Clock) Interrupt() <-chan struct{} { return c.irq }

// Close stops every pending slot.
func (c *Clock) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	for slot := range c.timers {
		c.stopLocked(slot)
	}
}
