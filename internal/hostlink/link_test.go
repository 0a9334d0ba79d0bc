package hostlink

import (
	"bytes"
	"context"
	"io"
	"log/slog"
	"net"
	"os"
	"testing"
	"time"

	"psila-go/internal/radio"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

func newPipeLink(t *testing.T) (*Link, net.Conn, chan Message) {
	t.Helper()
	local, remote := net.Pipe()
	msgs := make(chan Message, 16)
	l := NewLink(local, func(m Message) { msgs <- m }, testLogger())
	t.Cleanup(func() {
		l.Close()
		remote.Close()
	})
	return l, remote, msgs
}

func expectMessage(t *testing.T, msgs <-chan Message) Message {
	t.Helper()
	select {
	case m := <-msgs:
		return m
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for message")
		return Message{}
	}
}

func mustFrame(t *testing.T, mt MessageType, payload []byte) []byte {
	t.Helper()
	f, err := AppendMessage(nil, mt, payload)
	if err != nil {
		t.Fatal(err)
	}
	return f
}

func TestLinkDeliversMessages(t *testing.T) {
	_, remote, msgs := newPipeLink(t)

	stream := mustFrame(t, MessageRadioReceive, []byte{0x02, 0x00, 0x05, 0x80})
	stream = append(stream, mustFrame(t, MessageEnergyDetect, []byte{0x0B, 0x30})...)
	go remote.Write(stream)

	m := expectMessage(t, msgs)
	if m.Type != MessageRadioReceive || !bytes.Equal(m.Payload, []byte{0x02, 0x00, 0x05, 0x80}) {
		t.Errorf("first = %s %X", m.Type, m.Payload)
	}
	m = expectMessage(t, msgs)
	if m.Type != MessageEnergyDetect || !bytes.Equal(m.Payload, []byte{0x0B, 0x30}) {
		t.Errorf("second = %s %X", m.Type, m.Payload)
	}
}

func TestLinkReassemblesSplitFrames(t *testing.T) {
	_, remote, msgs := newPipeLink(t)
	frame := mustFrame(t, MessageGetValue, []byte{0x01, 0xC0, 0xDB})
	go func() {
		for _, b := range frame {
			remote.Write([]byte{b})
		}
	}()
	m := expectMessage(t, msgs)
	if m.Type != MessageGetValue || !bytes.Equal(m.Payload, []byte{0x01, 0xC0, 0xDB}) {
		t.Errorf("got %s %X", m.Type, m.Payload)
	}
}

func TestLinkResyncsAfterGarbage(t *testing.T) {
	l, remote, msgs := newPipeLink(t)

	var stream []byte
	stream = append(stream, 0xFE, 0x01, 0x8E, 0xC0)       // bad length
	stream = append(stream, 0xC0, 0xDB, 0x42, 0x00, 0xC0) // bad escape
	stream = append(stream, mustFrame(t, MessageSetValue, []byte{0x01, 0x0F})...)
	go remote.Write(stream)

	m := expectMessage(t, msgs)
	if m.Type != MessageSetValue || !bytes.Equal(m.Payload, []byte{0x01, 0x0F}) {
		t.Errorf("got %s %X", m.Type, m.Payload)
	}
	if s := l.Stats(); s.BadFrames < 2 || s.Received != 1 {
		t.Errorf("stats = %+v", s)
	}
}

func TestLinkSend(t *testing.T) {
	l, remote, _ := newPipeLink(t)
	got := make(chan []byte, 1)
	go func() {
		buf := make([]byte, 64)
		n, _ := io.ReadAtLeast(remote, buf, 6)
		got <- buf[:n]
	}()
	if err := l.Send(context.Background(), MessageGetValue, []byte{0x01, 0x8E}); err != nil {
		t.Fatal(err)
	}
	want := []byte{0xC0, 0x04, 0x02, 0x01, 0x8E, 0xC0}
	select {
	case b := <-got:
		if !bytes.Equal(b, want) {
			t.Errorf("wrote %X, want %X", b, want)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out")
	}
	if l.Stats().Sent != 1 {
		t.Errorf("sent = %d, want 1", l.Stats().Sent)
	}
}

func TestLinkSendAfterClose(t *testing.T) {
	l, _, _ := newPipeLink(t)
	if err := l.Close(); err != nil {
		t.Fatal(err)
	}
	if err := l.Send(context.Background(), MessageGetValue, nil); err == nil {
		t.Error("expected error after close")
	}
	// Second close is a no-op.
	l.Close()
}

func TestRadioLink(t *testing.T) {
	local, remote := net.Pipe()
	r := NewRadioLink(local, testLogger())
	t.Cleanup(func() {
		r.Close()
		remote.Close()
	})

	// Frame 41 88 plus LQI 0x77.
	go remote.Write(mustFrame(t, MessageRadioReceive, []byte{0x41, 0x88, 0x77}))
	select {
	case <-r.Interrupt():
	case <-time.After(2 * time.Second):
		t.Fatal("no interrupt")
	}
	var buf radio.PacketBuffer
	n := r.Receive(&buf)
	if n != 4 {
		t.Fatalf("n = %d, want 4", n)
	}
	if !bytes.Equal(buf[1:n-1], []byte{0x41, 0x88}) || buf[n-1] != 0x77 {
		t.Errorf("buffer = %X", buf[:n])
	}
	if r.Receive(&buf) != 0 {
		t.Error("expected empty queue")
	}

	got := make(chan []byte, 1)
	go func() {
		buf := make([]byte, 64)
		n, _ := io.ReadAtLeast(remote, buf, 7)
		got <- buf[:n]
	}()
	if _, err := r.QueueTransmission([]byte{0x03, 0x08, 0x01}); err != nil {
		t.Fatal(err)
	}
	want := mustFrame(t, MessageRadioSend, []byte{0x03, 0x08, 0x01})
	select {
	case b := <-got:
		if !bytes.Equal(b, want) {
			t.Errorf("wrote %X, want %X", b, want)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out")
	}
}
