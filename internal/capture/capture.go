// Package capture runs the host side of the serial radio: it decodes the
// frames the device forwards, records them and publishes them as events.
package capture

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"psila-go/internal/association"
	"psila-go/internal/decoder"
	"psila-go/internal/hostlink"
	"psila-go/internal/radio"
	"psila-go/internal/security"
	"psila-go/internal/store"
)

const (
	defaultHistory = 256

	// pruneInterval is how many appended captures pass between prunes.
	pruneInterval = 64
)

// ErrNoDevice is returned by requests made before a device is attached.
var ErrNoDevice = errors.New("capture: no device attached")

// Record is one frame as received and decoded.
type Record struct {
	Seq    uint64          `json:"seq"`
	Time   time.Time       `json:"time"`
	LQI    uint8           `json:"lqi"`
	Frame  []byte          `json:"frame"`
	Layer  string          `json:"layer"`
	Packet *decoder.Packet `json:"packet,omitempty"`
	Error  string          `json:"error,omitempty"`
}

// Energy is one energy detect report.
type Energy struct {
	Channel uint8 `json:"channel"`
	Level   uint8 `json:"level"`
}

// RadioState is the device status report.
type RadioState struct {
	Radio       string `json:"radio"`
	Association string `json:"association"`
	Channel     uint8  `json:"channel"`
}

// Value is a GetValue/SetValue reply or the payload of a device error.
type Value struct {
	ID   uint8  `json:"id"`
	Data []byte `json:"data"`
}

// Stats counts capture traffic.
type Stats struct {
	Session       string            `json:"session,omitempty"`
	Channel       uint8             `json:"channel"`
	Packets       uint64            `json:"packets"`
	Decoded       uint64            `json:"decoded"`
	DecodeErrors  uint64            `json:"decode_errors"`
	StoreErrors   uint64            `json:"store_errors"`
	EnergyReports uint64            `json:"energy_reports"`
	DeviceErrors  uint64            `json:"device_errors"`
	Layers        map[string]uint64 `json:"layers"`
}

// Sender delivers envelopes to the device.
type Sender interface {
	Send(ctx context.Context, mt hostlink.MessageType, payload []byte) error
}

// Config wires a Capture.
type Config struct {
	Decoder *decoder.Decoder
	Bus     *Bus
	Logger  *slog.Logger

	// Store is optional; without it captures are only kept in memory.
	Store store.Store

	Port    string
	Channel uint8

	// History is the number of records kept in memory.
	History int

	// Keep bounds the stored captures of the session; 0 keeps all.
	Keep int
}

// Capture consumes device messages.
type Capture struct {
	dec    *decoder.Decoder
	bus    *Bus
	store  store.Store
	logger *slog.Logger
	port   string
	keep   int

	mu      sync.Mutex
	device  Sender
	session *store.Session
	history []*Record
	next    int
	full    bool
	seq     uint64
	stats   Stats
}

// New creates a Capture.
func New(cfg Config) (*Capture, error) {
	if cfg.Decoder == nil {
		return nil, fmt.Errorf("capture: decoder is required")
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Bus == nil {
		cfg.Bus = NewBus(cfg.Logger)
	}
	if cfg.History <= 0 {
		cfg.History = defaultHistory
	}
	return &Capture{
		dec:     cfg.Decoder,
		bus:     cfg.Bus,
		store:   cfg.Store,
		logger:  cfg.Logger.With("component", "capture"),
		port:    cfg.Port,
		keep:    cfg.Keep,
		history: make([]*Record, cfg.History),
		stats:   Stats{Channel: cfg.Channel, Layers: make(map[string]uint64)},
	}, nil
}

// Bus returns the event bus captures are published on.
func (c *Capture) Bus() *Bus { return c.bus }

// Start loads stored keys into the decoder and opens a capture session.
func (c *Capture) Start() error {
	if c.store == nil {
		return nil
	}
	keys, err := c.store.ListKeys()
	if err != nil {
		return fmt.Errorf("capture: load keys: %w", err)
	}
	for _, k := range keys {
		c.dec.Keys().Add(k.Name, k.Key)
	}
	c.mu.Lock()
	channel := c.stats.Channel
	c.mu.Unlock()
	sess, err := c.store.CreateSession(c.port, channel)
	if err != nil {
		return fmt.Errorf("capture: create session: %w", err)
	}
	c.mu.Lock()
	c.session = sess
	c.stats.Session = sess.ID
	c.mu.Unlock()
	c.logger.Info("capture session started", "session", sess.ID, "port", c.port, "keys", len(keys))
	return nil
}

// Session returns the current session, nil when running without a store.
func (c *Capture) Session() *store.Session {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.session
}

// Attach sets the device requests are sent to.
func (c *Capture) Attach(device Sender) {
	c.mu.Lock()
	c.device = device
	c.mu.Unlock()
}

// HandleMessage processes one envelope from the device. It is a
// hostlink.Handler.
func (c *Capture) HandleMessage(m hostlink.Message) {
	switch m.Type {
	case hostlink.MessageRadioReceive:
		c.receive(m.Payload)
	case hostlink.MessageEnergyDetect:
		c.energy(m.Payload)
	case hostlink.MessageRadioState:
		c.radioState(m.Payload)
	case hostlink.MessageSetValue:
		c.value(m.Payload)
	case hostlink.MessageError:
		c.mu.Lock()
		c.stats.DeviceErrors++
		c.mu.Unlock()
		v := Value{}
		if len(m.Payload) > 0 {
			v.ID, v.Data = m.Payload[0], append([]byte(nil), m.Payload[1:]...)
		}
		c.logger.Warn("device reported error", "request", hostlink.MessageType(v.ID).String(), "payload", fmt.Sprintf("%X", v.Data))
		c.bus.Publish(Event{Kind: EventDeviceError, Data: v})
	default:
		c.logger.Debug("unhandled device message", "type", m.Type.String(), "len", len(m.Payload))
	}
}

// receive handles a RadioReceive payload: the frame followed by its LQI.
func (c *Capture) receive(payload []byte) {
	if len(payload) < 2 {
		c.logger.Warn("short radio receive", "len", len(payload))
		return
	}
	frame := append([]byte(nil), payload[:len(payload)-1]...)
	rec := &Record{
		Time:  time.Now().UTC(),
		LQI:   payload[len(payload)-1],
		Frame: frame,
	}
	packet, err := c.dec.Decode(frame)
	if err != nil {
		rec.Layer = "raw"
		rec.Error = err.Error()
	} else {
		rec.Layer = packet.Layer()
		rec.Packet = packet
	}

	c.mu.Lock()
	c.seq++
	rec.Seq = c.seq
	c.stats.Packets++
	if err != nil {
		c.stats.DecodeErrors++
	} else {
		c.stats.Decoded++
	}
	c.stats.Layers[rec.Layer]++
	c.history[c.next] = rec
	c.next = (c.next + 1) % len(c.history)
	if c.next == 0 {
		c.full = true
	}
	sess := c.session
	c.mu.Unlock()

	if sess != nil {
		c.persist(sess, rec)
	}

	if err != nil {
		c.logger.Debug("decode failed", "seq", rec.Seq, "frame", fmt.Sprintf("%X", frame), "error", err)
		c.bus.Publish(Event{Kind: EventDecodeError, Time: rec.Time, Data: rec})
		return
	}
	c.logger.Debug("frame captured", "seq", rec.Seq, "layer", rec.Layer, "lqi", rec.LQI, "len", len(frame))
	c.bus.Publish(Event{Kind: EventPacket, Time: rec.Time, Data: rec})
}

func (c *Capture) persist(sess *store.Session, rec *Record) {
	stored := &store.Capture{
		Session: sess.ID,
		Time:    rec.Time,
		LQI:     rec.LQI,
		Frame:   rec.Frame,
		Layer:   rec.Layer,
		Error:   rec.Error,
	}
	if err := c.store.AppendCapture(stored); err != nil {
		c.mu.Lock()
		c.stats.StoreErrors++
		c.mu.Unlock()
		c.logger.Error("store capture", "error", err)
		return
	}
	if c.keep > 0 && stored.Seq%pruneInterval == 0 {
		removed, err := c.store.PruneCaptures(sess.ID, c.keep)
		if err != nil {
			c.logger.Error("prune captures", "error", err)
			return
		}
		if removed > 0 {
			c.logger.Debug("captures pruned", "removed", removed)
		}
	}
}

func (c *Capture) energy(payload []byte) {
	if len(payload) < 2 {
		c.logger.Warn("short energy report", "len", len(payload))
		return
	}
	e := Energy{Channel: payload[0], Level: payload[1]}
	c.mu.Lock()
	c.stats.EnergyReports++
	c.mu.Unlock()
	c.bus.Publish(Event{Kind: EventEnergy, Data: e})
}

func (c *Capture) radioState(payload []byte) {
	if len(payload) < 3 {
		c.logger.Warn("short radio state", "len", len(payload))
		return
	}
	s := RadioState{
		Radio:       radio.State(payload[0]).String(),
		Association: association.State(payload[1]).String(),
		Channel:     payload[2],
	}
	c.setChannel(s.Channel)
	c.logger.Info("radio state", "radio", s.Radio, "association", s.Association, "channel", s.Channel)
	c.bus.Publish(Event{Kind: EventRadioState, Data: s})
}

func (c *Capture) value(payload []byte) {
	if len(payload) < 1 {
		return
	}
	v := Value{ID: payload[0], Data: append([]byte(nil), payload[1:]...)}
	if v.ID == hostlink.ValueChannel && len(v.Data) == 1 {
		c.setChannel(v.Data[0])
	}
	c.bus.Publish(Event{Kind: EventValue, Data: v})
}

func (c *Capture) setChannel(ch uint8) {
	c.mu.Lock()
	c.stats.Channel = ch
	c.mu.Unlock()
}

// Recent returns up to limit of the newest records, oldest first. A limit
// of 0 returns everything held.
func (c *Capture) Recent(limit int) []*Record {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := c.next
	if c.full {
		n = len(c.history)
	}
	if limit <= 0 || limit > n {
		limit = n
	}
	out := make([]*Record, 0, limit)
	for i := limit; i > 0; i-- {
		idx := (c.next - i + len(c.history)) % len(c.history)
		out = append(out, c.history[idx])
	}
	return out
}

// Stats returns a snapshot of the counters.
func (c *Capture) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()
	s := c.stats
	s.Layers = make(map[string]uint64, len(c.stats.Layers))
	for k, v := range c.stats.Layers {
		s.Layers[k] = v
	}
	return s
}

// AddKey makes key available to the decoder and stores it.
func (c *Capture) AddKey(name string, key security.Key) error {
	if name == "" {
		return fmt.Errorf("capture: key name is required")
	}
	if c.store != nil {
		if err := c.store.SaveKey(name, key); err != nil {
			return fmt.Errorf("capture: save key %q: %w", name, err)
		}
	}
	c.dec.Keys().Add(name, key)
	c.logger.Info("key added", "name", name)
	return nil
}

// RemoveKey drops a key from the decoder and the store.
func (c *Capture) RemoveKey(name string) error {
	if c.store != nil {
		if err := c.store.DeleteKey(name); err != nil && !errors.Is(err, store.ErrNotFound) {
			return fmt.Errorf("capture: delete key %q: %w", name, err)
		}
	}
	if !c.dec.Keys().Remove(name) {
		return fmt.Errorf("capture: key %q: %w", name, store.ErrNotFound)
	}
	c.logger.Info("key removed", "name", name)
	return nil
}

// KeyNames lists the decoder's keys in the order they are tried.
func (c *Capture) KeyNames() []string {
	return c.dec.Keys().Names()
}

func (c *Capture) send(ctx context.Context, mt hostlink.MessageType, payload []byte) error {
	c.mu.Lock()
	device := c.device
	c.mu.Unlock()
	if device == nil {
		return ErrNoDevice
	}
	if err := device.Send(ctx, mt, payload); err != nil {
		return fmt.Errorf("capture: send %s: %w", mt, err)
	}
	return nil
}

// RequestEnergyScan asks the device to sweep all channels.
func (c *Capture) RequestEnergyScan(ctx context.Context) error {
	return c.send(ctx, hostlink.MessageEnergyDetect, nil)
}

// RequestRadioState asks the device for its status.
func (c *Capture) RequestRadioState(ctx context.Context) error {
	return c.send(ctx, hostlink.MessageRadioState, nil)
}

// SetChannel asks the device to move to channel.
func (c *Capture) SetChannel(ctx context.Context, channel uint8) error {
	if channel < radio.MinChannel || channel > radio.MaxChannel {
		return fmt.Errorf("capture: channel %d out of range", channel)
	}
	return c.send(ctx, hostlink.MessageSetValue, []byte{hostlink.ValueChannel, channel})
}

// Transmit asks the device to send frame.
func (c *Capture) Transmit(ctx context.Context, frame []byte) error {
	return c.send(ctx, hostlink.MessageRadioSend, frame)
}
