package timer

import "sync"

// Sim is a timer whose counter only moves when Advance is called.
type Sim struct {
	mu      sync.Mutex
	counter uint32
	cc      [MaxSlot + 1]uint32
	armed   [MaxSlot + 1]bool
	events  [MaxSlot + 1]bool
	irq     chan struct{}
}

// NewSim returns a stopped simulated timer starting at start.
func NewSim(start uint32) *Sim {
	return &Sim{counter: start, irq: make(chan struct{}, 1)}
}

func (s *Sim) Init() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.armed = [MaxSlot + 1]bool{}
	s.events = [MaxSlot + 1]bool{}
}

func (s *Sim) FireAt(slot int, after uint32) error {
	if err := checkSlot(slot); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cc[slot] = Deadline(s.counter, after)
	s.events[slot] = false
	s.armed[slot] = true
	return nil
}

func (s *Sim) FirePlus(slot int, elapsed uint32) error {
	if err := checkSlot(slot); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cc[slot] += elapsed
	s.events[slot] = false
	s.armed[slot] = true
	return nil
}

func (s *Sim) Stop(slot int) error {
	if err := checkSlot(slot); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.armed[slot] = false
	s.events[slot] = false
	return nil
}

func (s *Sim) Now() uint32 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.counter
}

func (s *Sim) AckCompareEvent(slot int) {
	if checkSlot(slot) != nil {
		return
	}
	s.mu.Lock()
	s.events[slot] = false
	s.mu.Unlock()
}

func (s *Sim) IsCompareEvent(slot int) bool {
	if checkSlot(slot) != nil {
		return false
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.events[slot]
}

func (s *Sim) Interrupt() <-chan struct{} { return s.irq }

// Advance moves the counter forward by d microseconds and raises the
// compare event of every slot whose deadline was crossed. It returns the
// slots that fired.
func (s *Sim) Advance(d uint32) []int {
	s.mu.Lock()
	defer s.mu.Unlock()
	before := s.counter
	s.counter += d
	var fired []int
	for slot := 1; slot <= MaxSlot; slot++ {
		if !s.armed[slot] {
			continue
		}
		// cc in (before, before+d], modulo 2^32.
		if s.cc[slot]-before-1 < d {
			s.events[slot] = true
			s.armed[slot] = false
			fired = append(fired, slot)
		}
	}
	if len(fired) > 0 {
		select {
		case s.irq <- struct{}{}:
		default:
		}
	}
	return fired
}
