// Package timer defines the free-running microsecond timer the device
// runtime schedules against, with a manually advanced simulation and a
// wall-clock implementation.
package timer

import (
	"errors"
	"fmt"
)

// Slots 1 through MaxSlot are compare channels; slot 0 is reserved for
// capturing the counter.
const MaxSlot = 5

var (
	ErrConfiguration = errors.New("timer: configuration error")
	ErrInvalidSlot   = fmt.Errorf("%w: slot must be 1-%d", ErrConfiguration, MaxSlot)
)

// Timer is a 32-bit free-running microsecond counter with compare slots.
// Deadlines wrap; compare them with Expired, never with <.
type Timer interface {
	Init()
	// FireAt arms slot to fire after microseconds from now.
	FireAt(slot int, after uint32) error
	// FirePlus re-arms slot elapsed microseconds after its previous deadline.
	FirePlus(slot int, elapsed uint32) error
	Stop(slot int) error
	Now() uint32
	AckCompareEvent(slot int)
	IsCompareEvent(slot int) bool
	// Interrupt signals when an armed slot fires.
	Interrupt() <-chan struct{}
}

func checkSlot(slot int) error {
	if slot < 1 || slot > MaxSlot {
		return fmt.Errorf("%w: %d", ErrInvalidSlot, slot)
	}
	return nil
}

// Deadline returns now+after with wraparound.
func Deadline(now, after uint32) uint32 { return now + after }

// Expired reports whether deadline is at or before now, treating the
// counter as circular: anything up to and including 2^31 us behind now is
// in the past, anything further is still ahead.
func Expired(now, deadline uint32) bool { return now-deadline <= 1<<31 }

// Until returns the microseconds from now to deadline, or 0 if expired.
func Until(now, deadline uint32) uint32 {
	if Expired(now, deadline) {
		return 0
	}
	return deadline - now
}
