package timer

import (
	"errors"
	"slices"
	"testing"
	"time"
)

func TestExpiredWraps(t *testing.T) {
	tests := []struct {
		now, deadline uint32
		want          bool
	}{
		{100, 100, true},
		{101, 100, true},
		{99, 100, false},
		{5, 0xFFFFFFF0, true},  // deadline before wrap, now after
		{0xFFFFFFF0, 5, false}, // deadline after wrap
		{0x80000000, 0, true},  // exactly half a cycle behind
		{0x80000001, 0, false}, // more than half a cycle: ahead
		{0, 0x80000000, true},
		{0, Deadline(0xFFFFFFFF, 2), false},
	}
	for _, tt := range tests {
		if got := Expired(tt.now, tt.deadline); got != tt.want {
			t.Errorf("Expired(0x%08X, 0x%08X) = %v, want %v", tt.now, tt.deadline, got, tt.want)
		}
	}
	if got := Until(0xFFFFFFF0, 0x10); got != 0x20 {
		t.Errorf("Until across wrap = 0x%X, want 0x20", got)
	}
	if got := Until(0x80000000, 0); got != 0 {
		t.Errorf("Until half a cycle behind = 0x%X, want 0", got)
	}
	if got := Until(0, 0x7FFFFFFF); got != 0x7FFFFFFF {
		t.Errorf("Until longest wait = 0x%X, want 0x7FFFFFFF", got)
	}
}

func TestInvalidSlot(t *testing.T) {
	s := NewSim(0)
	for _, slot := range []int{0, 6, -1} {
		if err := s.FireAt(slot, 10); !errors.Is(err, ErrInvalidSlot) {
			t.Errorf("slot %d: err = %v", slot, err)
		}
	}
	c := NewClock()
	defer c.Close()
	if err := c.FireAt(0, 10); !errors.Is(err, ErrConfiguration) {
		t.Errorf("clock slot 0: err = %v", err)
	}
}

func TestSimFireAt(t *testing.T) {
	s := NewSim(0xFFFFFF00)
	if err := s.FireAt(1, 0x200); err != nil {
		t.Fatal(err)
	}
	if err := s.FireAt(2, 0x50); err != nil {
		t.Fatal(err)
	}
	if fired := s.Advance(0x100); !slices.Equal(fired, []int{2}) {
		t.Errorf("fired = %v, want [2]", fired)
	}
	if !s.IsCompareEvent(2) || s.IsCompareEvent(1) {
		t.Error("compare events wrong after first advance")
	}
	select {
	case <-s.Interrupt():
	default:
		t.Error("no interrupt")
	}
	s.AckCompareEvent(2)
	if s.IsCompareEvent(2) {
		t.Error("event not acknowledged")
	}

	// Slot 1 crosses the 32-bit wrap.
	if fired := s.Advance(0x100); !slices.Equal(fired, []int{1}) {
		t.Errorf("fired = %v, want [1]", fired)
	}
	if s.Now() != 0x100 {
		t.Errorf("now = 0x%X, want 0x100", s.Now())
	}
}

func TestSimRearmSupersedes(t *testing.T) {
	s := NewSim(0)
	s.FireAt(1, 100)
	s.FireAt(1, 1000)
	if fired := s.Advance(500); len(fired) != 0 {
		t.Errorf("superseded deadline fired: %v", fired)
	}
	if fired := s.Advance(500); !slices.Equal(fired, []int{1}) {
		t.Errorf("fired = %v, want [1]", fired)
	}
}

func TestSimFirePlusAndStop(t *testing.T) {
	s := NewSim(0)
	s.FireAt(3, 100)
	s.Advance(100)
	s.AckCompareEvent(3)
	s.FirePlus(3, 100)
	if fired := s.Advance(99); len(fired) != 0 {
		t.Errorf("fired early: %v", fired)
	}
	if fired := s.Advance(1); !slices.Equal(fired, []int{3}) {
		t.Errorf("fired = %v, want [3]", fired)
	}
	s.FireAt(4, 10)
	s.Stop(4)
	if fired := s.Advance(100); len(fired) != 0 {
		t.Errorf("stopped slot fired: %v", fired)
	}
}

func TestClockFires(t *testing.T) {
	c := NewClock()
	defer c.Close()
	if err := c.FireAt(1, 2000); err != nil {
		t.Fatal(err)
	}
	select {
	case <-c.Interrupt():
	case <-time.After(2 * time.Second):
		t.Fatal("clock slot did not fire")
	}
	if !c.IsCompareEvent(1) {
		t.Error("compare event not set")
	}
	c.AckCompareEvent(1)
	if c.IsCompareEvent(1) {
		t.Error("compare event not cleared")
	}
}

func TestClockStop(t *testing.T) {
	c := NewClock()
	defer c.Close()
	c.FireAt(2, 1000)
	c.Stop(2)
	select {
	case <-c.Interrupt():
		t.Error("stopped slot fired")
	case <-time.After(20 * time.Millisecond):
	}
}
