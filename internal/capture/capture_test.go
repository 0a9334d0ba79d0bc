package capture

import (
	"context"
	"encoding/hex"
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"testing"

	"psila-go/internal/association"
	"psila-go/internal/blockcipher"
	"psila-go/internal/decoder"
	"psila-go/internal/hostlink"
	"psila-go/internal/radio"
	"psila-go/internal/security"
	"psila-go/internal/store"
)

const (
	beaconHex = "00804234120000ffcf0000"
	ackHex    = "020042"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

func mustHex(t *testing.T, s string) []byte {
	t.Helper()
	b, err := hex.DecodeString(s)
	if err != nil {
		t.Fatal(err)
	}
	return b
}

func newTestStore(t *testing.T) *store.BoltStore {
	t.Helper()
	s, err := store.NewBoltStore(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func newTestCapture(t *testing.T, st store.Store, history int) *Capture {
	t.Helper()
	dec := decoder.New(blockcipher.NewSoftware(), security.NewKeyRing(security.WellKnownKeys()...), testLogger())
	c, err := New(Config{
		Decoder: dec,
		Store:   st,
		Logger:  testLogger(),
		Port:    "/dev/ttyACM0",
		Channel: 15,
		History: history,
	})
	if err != nil {
		t.Fatal(err)
	}
	if err := c.Start(); err != nil {
		t.Fatal(err)
	}
	return c
}

func receive(t *testing.T, c *Capture, frameHex string, lqi byte) {
	t.Helper()
	c.HandleMessage(hostlink.Message{
		Type:    hostlink.MessageRadioReceive,
		Payload: append(mustHex(t, frameHex), lqi),
	})
}

func TestCaptureDecodesAndStores(t *testing.T) {
	st := newTestStore(t)
	c := newTestCapture(t, st, 0)

	var kinds []Kind
	c.Bus().On("", func(ev Event) { kinds = append(kinds, ev.Kind) })

	receive(t, c, beaconHex, 0xA0)
	receive(t, c, ackHex, 0xB0)
	receive(t, c, "ff", 0x10)

	wantKinds := []Kind{EventPacket, EventPacket, EventDecodeError}
	if !slices.Equal(kinds, wantKinds) {
		t.Errorf("events = %v, want %v", kinds, wantKinds)
	}

	recs := c.Recent(0)
	if len(recs) != 3 {
		t.Fatalf("recent = %d, want 3", len(recs))
	}
	if recs[0].Layer != "mac" || recs[0].LQI != 0xA0 || recs[0].Packet == nil || recs[0].Packet.MAC.Header.Sequence != 0x42 {
		t.Errorf("beacon record = %+v", recs[0])
	}
	if recs[2].Layer != "raw" || recs[2].Error == "" || recs[2].Packet != nil {
		t.Errorf("garbage record = %+v", recs[2])
	}

	stats := c.Stats()
	if stats.Packets != 3 || stats.Decoded != 2 || stats.DecodeErrors != 1 {
		t.Errorf("stats = %+v", stats)
	}
	if stats.Layers["mac"] != 2 || stats.Layers["raw"] != 1 {
		t.Errorf("layers = %v", stats.Layers)
	}

	sess := c.Session()
	if sess == nil || stats.Session != sess.ID || sess.Channel != 15 {
		t.Fatalf("session = %+v", sess)
	}
	stored, err := st.ListCaptures(sess.ID, 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(stored) != 3 {
		t.Fatalf("stored = %d, want 3", len(stored))
	}
	if hex.EncodeToString(stored[1].Frame) != ackHex || stored[1].LQI != 0xB0 || stored[1].Layer != "mac" {
		t.Errorf("stored ack = %+v", stored[1])
	}
	if stored[2].Error == "" {
		t.Error("stored garbage frame has no error")
	}
}

func TestCaptureDeviceReports(t *testing.T) {
	c := newTestCapture(t, nil, 0)

	var events []Event
	c.Bus().On("", func(ev Event) { events = append(events, ev) })

	c.HandleMessage(hostlink.Message{Type: hostlink.MessageEnergyDetect, Payload: []byte{15, 0x40}})
	c.HandleMessage(hostlink.Message{Type: hostlink.MessageRadioState, Payload: []byte{byte(radio.StateRx), byte(association.Associated), 20}})
	c.HandleMessage(hostlink.Message{Type: hostlink.MessageSetValue, Payload: []byte{hostlink.ValueChannel, 25}})
	c.HandleMessage(hostlink.Message{Type: hostlink.MessageError, Payload: []byte{byte(hostlink.MessageSetValue), hostlink.ValueChannel, 30}})

	if len(events) != 4 {
		t.Fatalf("events = %d, want 4", len(events))
	}
	if e, ok := events[0].Data.(Energy); !ok || e.Channel != 15 || e.Level != 0x40 {
		t.Errorf("energy = %+v", events[0].Data)
	}
	if s, ok := events[1].Data.(RadioState); !ok || s.Radio != "Rx" || s.Association != "Associated" || s.Channel != 20 {
		t.Errorf("radio state = %+v", events[1].Data)
	}
	if events[2].Kind != EventValue || events[3].Kind != EventDeviceError {
		t.Errorf("kinds = %s, %s", events[2].Kind, events[3].Kind)
	}
	if v := events[3].Data.(Value); v.ID != byte(hostlink.MessageSetValue) || len(v.Data) != 2 {
		t.Errorf("device error = %+v", v)
	}

	stats := c.Stats()
	if stats.Channel != 25 {
		t.Errorf("channel = %d, want 25", stats.Channel)
	}
	if stats.EnergyReports != 1 || stats.DeviceErrors != 1 {
		t.Errorf("stats = %+v", stats)
	}
	if stats.Session != "" {
		t.Errorf("session without store = %q", stats.Session)
	}
}

func TestRecentWraps(t *testing.T) {
	c := newTestCapture(t, nil, 4)
	for i := 0; i < 6; i++ {
		receive(t, c, ackHex, byte(i))
	}

	tests := []struct {
		limit int
		want  []uint64
	}{
		{0, []uint64{3, 4, 5, 6}},
		{2, []uint64{5, 6}},
		{10, []uint64{3, 4, 5, 6}},
	}
	for _, tt := range tests {
		var got []uint64
		for _, r := range c.Recent(tt.limit) {
			got = append(got, r.Seq)
		}
		if !slices.Equal(got, tt.want) {
			t.Errorf("Recent(%d) = %v, want %v", tt.limit, got, tt.want)
		}
	}
}

type recordingSender struct {
	sent []hostlink.Message
}

func (r *recordingSender) Send(ctx context.Context, mt hostlink.MessageType, payload []byte) error {
	r.sent = append(r.sent, hostlink.Message{Type: mt, Payload: payload})
	return nil
}

func TestCaptureRequests(t *testing.T) {
	c := newTestCapture(t, nil, 0)
	ctx := context.Background()

	if err := c.RequestEnergyScan(ctx); !errors.Is(err, ErrNoDevice) {
		t.Fatalf("unattached: err = %v, want ErrNoDevice", err)
	}

	dev := &recordingSender{}
	c.Attach(dev)
	if err := c.RequestEnergyScan(ctx); err != nil {
		t.Fatal(err)
	}
	if err := c.RequestRadioState(ctx); err != nil {
		t.Fatal(err)
	}
	if err := c.SetChannel(ctx, 20); err != nil {
		t.Fatal(err)
	}
	if err := c.SetChannel(ctx, 27); err == nil {
		t.Error("channel 27 accepted")
	}
	if err := c.Transmit(ctx, mustHex(t, ackHex)); err != nil {
		t.Fatal(err)
	}

	want := []hostlink.MessageType{
		hostlink.MessageEnergyDetect,
		hostlink.MessageRadioState,
		hostlink.MessageSetValue,
		hostlink.MessageRadioSend,
	}
	if len(dev.sent) != len(want) {
		t.Fatalf("sent %d messages, want %d", len(dev.sent), len(want))
	}
	for i, mt := range want {
		if dev.sent[i].Type != mt {
			t.Errorf("message %d = %s, want %s", i, dev.sent[i].Type, mt)
		}
	}
	if p := dev.sent[2].Payload; len(p) != 2 || p[0] != hostlink.ValueChannel || p[1] != 20 {
		t.Errorf("set channel payload = %X", p)
	}
}

func TestCaptureKeysPersist(t *testing.T) {
	st := newTestStore(t)
	c := newTestCapture(t, st, 0)

	key, err := security.ParseKey("01030507090b0d0f00020406080a0c0d")
	if err != nil {
		t.Fatal(err)
	}
	if err := c.AddKey("Network Key", key); err != nil {
		t.Fatal(err)
	}
	if err := c.AddKey("", key); err == nil {
		t.Error("unnamed key accepted")
	}

	restarted := newTestCapture(t, st, 0)
	if !slices.Contains(restarted.KeyNames(), "Network Key") {
		t.Errorf("keys after restart = %v", restarted.KeyNames())
	}
	sessions, err := st.ListSessions()
	if err != nil {
		t.Fatal(err)
	}
	if len(sessions) != 2 {
		t.Errorf("sessions = %d, want 2", len(sessions))
	}
}

func TestBusDelivery(t *testing.T) {
	b := NewBus(testLogger())

	var got []string
	b.On(EventPacket, func(Event) { got = append(got, "packet") })
	cancel := b.On(EventEnergy, func(Event) { got = append(got, "energy") })
	b.On("", func(ev Event) { got = append(got, "all:"+string(ev.Kind)) })
	b.On(EventPacket, func(Event) { panic("boom") })

	b.Publish(Event{Kind: EventPacket})
	b.Publish(Event{Kind: EventEnergy})
	cancel()
	b.Publish(Event{Kind: EventEnergy})

	want := []string{"packet", "all:packet", "energy", "all:energy", "all:energy"}
	if !slices.Equal(got, want) {
		t.Errorf("deliveries = %v, want %v", got, want)
	}
}
