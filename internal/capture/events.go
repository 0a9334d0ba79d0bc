package capture

import (
	"log/slog"
	"sort"
	"sync"
	"time"
)

// Kind names an event published on the Bus.
type Kind string

const (
	EventPacket      Kind = "packet"
	EventDecodeError Kind = "decode_error"
	EventEnergy      Kind = "energy"
	EventRadioState  Kind = "radio_state"
	EventDeviceError Kind = "device_error"
	EventValue       Kind = "value"
	EventAlert       Kind = "alert"
)

// Event is one published capture event. Data holds a *Record for packet
// and decode_error events, an Energy for energy events, a RadioState for
// radio_state events, a Value for value and device_error events and an
// Alert for alert events.
type Event struct {
	Kind Kind      `json:"type"`
	Time time.Time `json:"time"`
	Data any       `json:"data"`
}

// Alert is raised by frame filter scripts.
type Alert struct {
	Source  string `json:"source"`
	Message string `json:"message"`
}

// Handler receives events synchronously on the publishing goroutine.
type Handler func(Event)

type subscription struct {
	id      uint64
	kind    Kind
	handler Handler
}

// Bus fans events out to subscribers in subscription order.
type Bus struct {
	mu     sync.RWMutex
	subs   map[uint64]subscription
	nextID uint64
	logger *slog.Logger
}

// NewBus creates an empty bus.
func NewBus(logger *slog.Logger) *Bus {
	return &Bus{
		subs:   make(map[uint64]subscription),
		logger: logger.With("component", "events"),
	}
}

// On subscribes handler to kind. An empty kind receives every event. The
// returned function cancels the subscription.
func (b *Bus) On(kind Kind, handler Handler) func() {
	b.mu.Lock()
	id := b.nextID
	b.nextID++
	b.subs[id] = subscription{id: id, kind: kind, handler: handler}
	b.mu.Unlock()
	return func() {
		b.mu.Lock()
		delete(b.subs, id)
		b.mu.Unlock()
	}
}

// Publish delivers ev to every matching subscriber. A panicking handler is
// logged and does not stop delivery to the others.
func (b *Bus) Publish(ev Event) {
	if ev.Time.IsZero() {
		ev.Time = time.Now()
	}
	b.mu.RLock()
	matched := make([]subscription, 0, len(b.subs))
	for _, s := range b.subs {
		if s.kind == "" || s.kind == ev.Kind {
			matched = append(matched, s)
		}
	}
	b.mu.RUnlock()
	sort.Slice(matched, func(i, j int) bool { return matched[i].id < matched[j].id })

	for _, s := range matched {
		b.deliver(s, ev)
	}
}

func (b *Bus) deliver(s subscription, ev Event) {
	defer func() {
		if r := recover(); r != nil {
			b.logger.Error("event handler panic", "type", ev.Kind, "panic", r)
		}
	}()
	s.handler(ev)
}
