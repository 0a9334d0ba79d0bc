package node

import (
	"bytes"
	"context"
	"encoding/hex"
	"log/slog"
	"os"
	"reflect"
	"strings"
	"sync"
	"testing"

	"psila-go/internal/association"
	"psila-go/internal/blockcipher"
	"psila-go/internal/decoder"
	"psila-go/internal/hostlink"
	"psila-go/internal/mac"
	"psila-go/internal/radio"
	"psila-go/internal/security"
	"psila-go/internal/timer"
	"psila-go/internal/zdp"
)

const deviceIEEE mac.ExtendedAddress = 0x00212EFFFF032E38

var networkKey = security.Key{0x01, 0x03, 0x05, 0x07, 0x09, 0x0B, 0x0D, 0x0F, 0x00, 0x02, 0x04, 0x06, 0x08, 0x0A, 0x0C, 0x0D}

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

type hostRecorder struct {
	mu   sync.Mutex
	msgs []hostlink.Message
}

func (h *hostRecorder) Send(_ context.Context, mt hostlink.MessageType, payload []byte) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.msgs = append(h.msgs, hostlink.Message{Type: mt, Payload: append([]byte(nil), payload...)})
	return nil
}

func (h *hostRecorder) of(mt hostlink.MessageType) []hostlink.Message {
	h.mu.Lock()
	defer h.mu.Unlock()
	var out []hostlink.Message
	for _, m := range h.msgs {
		if m.Type == mt {
			out = append(out, m)
		}
	}
	return out
}

// coordinator answers the join procedure of one device.
type coordinator struct {
	t   *testing.T
	air *radio.Air

	mu   sync.Mutex
	sent [][]byte
}

const (
	beaconHex   = "0080423412" + "0000" + "ffcf" + "00" + "00"
	responseHex = "63cc42341238" + "2e03ffff2e2100" + "8877665544332211" + "02" + "2222" + "00"
)

func (c *coordinator) frames() [][]byte {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([][]byte(nil), c.sent...)
}

func (c *coordinator) ack(channel, seq uint8) {
	out := make([]byte, 3)
	n, err := mac.Acknowledgement(seq).Pack(out)
	if err != nil {
		c.t.Error(err)
		return
	}
	c.air.Inject(channel, out[:n], 0xA0)
}

func (c *coordinator) handle(channel uint8, frame []byte) {
	c.mu.Lock()
	c.sent = append(c.sent, frame)
	c.mu.Unlock()

	f, _, err := mac.Unpack(frame)
	if err != nil || f.Header.FrameType != mac.FrameCommand {
		return
	}
	switch f.Command.(type) {
	case mac.BeaconRequest:
		c.air.Inject(channel, mustHex(c.t, beaconHex), 0xA0)
	case mac.AssociationRequest:
		c.ack(channel, f.Header.Sequence)
	case mac.DataRequest:
		c.ack(channel, f.Header.Sequence)
		c.air.Inject(channel, mustHex(c.t, responseHex), 0xA0)
	}
}

type fixture struct {
	node  *Node
	air   *radio.Air
	drv   *radio.Driver
	timer *timer.Sim
	host  *hostRecorder
	coord *coordinator
	saved []association.Identity
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{air: radio.NewAir(), timer: timer.NewSim(0), host: &hostRecorder{}}
	f.drv = radio.New(radio.NewSimPeripheral(f.air))
	f.coord = &coordinator{t: t, air: f.air}
	f.air.Listen(f.coord.handle)

	counter, err := security.NewFrameCounter(nil, 0)
	if err != nil {
		t.Fatal(err)
	}
	n, err := New(Config{
		Radio:      f.drv,
		Timer:      f.timer,
		Service:    association.New(deviceIEEE, testLogger()),
		Host:       f.host,
		Announcer:  NewAnnouncer(blockcipher.NewSoftware(), networkKey, 0, counter),
		Logger:     testLogger(),
		StartDelay: 1000,
		OnAssociated: func(own, coordinator association.Identity) {
			f.saved = append(f.saved, own, coordinator)
		},
	})
	if err != nil {
		t.Fatal(err)
	}
	if err := n.Start(); err != nil {
		t.Fatal(err)
	}
	f.node = n
	f.settle(t)
	return f
}

// settle runs handlers until nothing is pending.
func (f *fixture) settle(t *testing.T) {
	t.Helper()
	for i := 0; i < 10000; i++ {
		if !f.node.step(context.Background(), false) {
			return
		}
	}
	t.Fatal("node did not settle")
}

func (f *fixture) advance(t *testing.T, d uint32) {
	t.Helper()
	f.timer.Advance(d)
	f.settle(t)
}

func TestNodeAssociates(t *testing.T) {
	f := newFixture(t)
	if f.node.State() != association.Orphan {
		t.Fatalf("state = %s, want Orphan", f.node.State())
	}

	f.advance(t, 1000)
	if f.node.State() != association.Join {
		t.Fatalf("after scan: state = %s, want Join", f.node.State())
	}
	f.advance(t, association.ResponseTimeout)
	if f.node.State() != association.QueryStatus {
		t.Fatalf("after request: state = %s, want QueryStatus", f.node.State())
	}
	f.advance(t, association.AckDelay)
	if f.node.State() != association.Associated {
		t.Fatalf("after poll: state = %s, want Associated", f.node.State())
	}
	f.advance(t, association.AckDelay)

	frames := f.coord.frames()
	want := []string{
		"030801ffffffff07",
		"23c80234120000ffff382e03ffff2e2100018e",
		"63c80334120000382e03ffff2e210004",
		"020042",
	}
	if len(frames) != len(want)+1 {
		t.Fatalf("sent %d frames, want %d", len(frames), len(want)+1)
	}
	for i, w := range want {
		if got := hex.EncodeToString(frames[i]); got != w {
			t.Errorf("frame %d = %s, want %s", i, got, w)
		}
	}

	// The last frame is the secured device announcement.
	d := decoder.New(blockcipher.NewSoftware(), security.NewKeyRing(security.NamedKey{Name: "Network Key", Key: networkKey}), testLogger())
	p, err := d.Decode(frames[len(want)])
	if err != nil {
		t.Fatalf("decode announce: %v", err)
	}
	annce := zdp.DeviceAnnounce{Address: 0x2222, IEEE: deviceIEEE, Capability: association.Capability}
	if p.ZDP == nil || !reflect.DeepEqual(p.ZDP.Message, annce) {
		t.Errorf("zdp = %+v, want %+v", p.ZDP, annce)
	}
	if p.MAC.Header.Sequence != 4 || p.NWKSecurity.Header.Counter != 0 {
		t.Errorf("mac seq %d counter %d", p.MAC.Header.Sequence, p.NWKSecurity.Header.Counter)
	}

	// Every received frame reached the host with its LQI.
	rx := f.host.of(hostlink.MessageRadioReceive)
	if len(rx) != 4 {
		t.Fatalf("forwarded %d frames, want 4", len(rx))
	}
	if got, want := rx[0].Payload, append(mustHex(t, beaconHex), 0xA0); !bytes.Equal(got, want) {
		t.Errorf("beacon payload = %x, want %x", got, want)
	}

	if len(f.saved) != 2 || f.saved[0].Short != 0x2222 || f.saved[1].PanID != 0x1234 {
		t.Errorf("saved = %+v", f.saved)
	}
	state := f.host.of(hostlink.MessageRadioState)
	if len(state) != 1 || state[0].Payload[1] != byte(association.Associated) || state[0].Payload[2] != radio.MinChannel {
		t.Errorf("radio state = %+v", state)
	}
	if s := f.node.Stats(); s.Transmitted != 5 || s.Received != 4 || s.Forwarded != 4 {
		t.Errorf("stats = %+v", s)
	}
}

func TestNodeRetriesBusyChannel(t *testing.T) {
	f := newFixture(t)
	f.air.SetBusy(radio.MinChannel, true)
	f.node.HandleHostMessage(hostlink.Message{Type: hostlink.MessageRadioSend, Payload: []byte{0x41, 0x88, 0x01}})
	f.settle(t)

	if got := len(f.coord.frames()); got != 0 {
		t.Fatalf("sent %d frames on a busy channel", got)
	}
	s := f.node.Stats()
	if s.CCABusy != CCARetries+1 || s.TXDropped != 1 || s.Transmitted != CCARetries+1 {
		t.Errorf("stats = %+v", s)
	}

	f.air.SetBusy(radio.MinChannel, false)
	f.node.HandleHostMessage(hostlink.Message{Type: hostlink.MessageRadioSend, Payload: []byte{0x41, 0x88, 0x02}})
	f.settle(t)
	frames := f.coord.frames()
	if len(frames) != 1 || !bytes.Equal(frames[0], []byte{0x41, 0x88, 0x02}) {
		t.Errorf("frames = %x", frames)
	}
}

func TestNodeEnergyScan(t *testing.T) {
	f := newFixture(t)
	f.air.SetEnergy(15, 0x40)
	f.node.HandleHostMessage(hostlink.Message{Type: hostlink.MessageEnergyDetect})
	f.settle(t)

	reports := f.host.of(hostlink.MessageEnergyDetect)
	if len(reports) != radio.MaxChannel-radio.MinChannel+1 {
		t.Fatalf("got %d reports", len(reports))
	}
	for i, r := range reports {
		want := []byte{uint8(radio.MinChannel + i), 0}
		if radio.MinChannel+i == 15 {
			want[1] = 0x40
		}
		if !bytes.Equal(r.Payload, want) {
			t.Errorf("report %d = %x, want %x", i, r.Payload, want)
		}
	}
	if f.drv.Channel() != radio.MinChannel || f.drv.State() != radio.StateRx {
		t.Errorf("after scan: channel %d state %s", f.drv.Channel(), f.drv.State())
	}
}

func TestNodeHostValues(t *testing.T) {
	f := newFixture(t)
	send := func(mt hostlink.MessageType, payload ...byte) {
		f.node.HandleHostMessage(hostlink.Message{Type: mt, Payload: payload})
		f.settle(t)
	}

	send(hostlink.MessageSetValue, hostlink.ValueChannel, 20)
	if f.drv.Channel() != 20 {
		t.Errorf("channel = %d, want 20", f.drv.Channel())
	}
	send(hostlink.MessageSetValue, hostlink.ValueChannel, 27)
	send(hostlink.MessageGetValue, hostlink.ValueTxPower)
	send(hostlink.MessageGetValue, hostlink.ValueShortAddress)
	send(hostlink.MessageGetValue, hostlink.ValueExtendedAddress)

	set := f.host.of(hostlink.MessageSetValue)
	want := [][]byte{
		{hostlink.ValueChannel, 20},
		{hostlink.ValueTxPower, 4},
		{hostlink.ValueExtendedAddress, 0x38, 0x2E, 0x03, 0xFF, 0xFF, 0x2E, 0x21, 0x00},
	}
	if len(set) != len(want) {
		t.Fatalf("got %d SetValue replies, want %d", len(set), len(want))
	}
	for i := range want {
		if !bytes.Equal(set[i].Payload, want[i]) {
			t.Errorf("reply %d = %x, want %x", i, set[i].Payload, want[i])
		}
	}
	errs := f.host.of(hostlink.MessageError)
	if len(errs) != 2 {
		t.Fatalf("got %d errors, want 2", len(errs))
	}
	if errs[0].Payload[0] != byte(hostlink.MessageSetValue) || errs[1].Payload[1] != hostlink.ValueShortAddress {
		t.Errorf("errors = %+v", errs)
	}
}

func TestRestoredNodeAnnounces(t *testing.T) {
	f := newFixture(t)
	f.node.service.Lock(func(s *serviceState) {
		s.svc.Restore(
			association.Identity{PanID: 0x1234, HasPAN: true, Short: 0x2222, HasShort: true},
			association.Identity{PanID: 0x1234, HasPAN: true, HasShort: true},
		)
	})
	f.advance(t, 1000)
	frames := f.coord.frames()
	if len(frames) != 1 {
		t.Fatalf("sent %d frames, want the announcement only", len(frames))
	}
	if frames[0][0]&0x07 != byte(mac.FrameData) {
		t.Errorf("frame type = %d", frames[0][0]&7)
	}
}

func TestLogBuffer(t *testing.T) {
	logs := NewLogBuffer(256)
	logger := logs.Logger(slog.LevelInfo)
	logger.Info("first", "n", 1)
	logger.Debug("hidden")
	logger.Info(strings.Repeat("x", 300))
	logger.Info("second")

	select {
	case <-logs.Ready():
	default:
		t.Error("ready not signalled")
	}
	var out bytes.Buffer
	if _, err := logs.Drain(&out); err != nil {
		t.Fatal(err)
	}
	text := out.String()
	if !strings.Contains(text, "msg=first n=1") || !strings.Contains(text, "msg=second") || strings.Contains(text, "hidden") {
		t.Errorf("drained %q", text)
	}
	if logs.Writer().Dropped() != 1 {
		t.Errorf("dropped = %d, want 1", logs.Writer().Dropped())
	}
	if n, _ := logs.Drain(&out); n != 0 {
		t.Errorf("second drain wrote %d bytes", n)
	}
}
