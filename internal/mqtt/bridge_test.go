//go:build !no_mqtt

package mqtt

import (
	"encoding/json"
	"testing"
	"time"

	"psila-go/internal/capture"
	"psila-go/internal/decoder"
	"psila-go/internal/mac"
)

func TestDiscoverySensors(t *testing.T) {
	msgs := buildDiscovery("Psila Host", "psila")
	if len(msgs) != len(statSensors) {
		t.Fatalf("got %d discovery messages, want %d", len(msgs), len(statSensors))
	}

	var packets *message
	for i := range msgs {
		if !msgs[i].Retained {
			t.Errorf("%s not retained", msgs[i].Topic)
		}
		if msgs[i].Topic == "homeassistant/sensor/psila_psila_host/packets/config" {
			packets = &msgs[i]
		}
	}
	if packets == nil {
		t.Fatal("packets discovery not found")
	}

	var payload haDiscovery
	if err := json.Unmarshal(packets.Payload, &payload); err != nil {
		t.Fatalf("unmarshal payload: %v", err)
	}
	if payload.Name != "Psila Host Packets" {
		t.Errorf("name = %q, want %q", payload.Name, "Psila Host Packets")
	}
	if payload.UniqueID != "psila_psila_host_packets" {
		t.Errorf("unique_id = %q", payload.UniqueID)
	}
	if payload.StateTopic != "psila/bridge/stats" {
		t.Errorf("state_topic = %q", payload.StateTopic)
	}
	if payload.AvailabilityTopic != "psila/bridge/state" {
		t.Errorf("availability_topic = %q", payload.AvailabilityTopic)
	}
	if payload.ValueTemplate != "{{ value_json.packets }}" {
		t.Errorf("value_template = %q", payload.ValueTemplate)
	}
	if payload.Device.Identifiers[0] != "psila_psila_host" {
		t.Errorf("device.identifiers = %v", payload.Device.Identifiers)
	}
}

func TestObjectID(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"psila-host", "psila-host"},
		{"Psila Host", "psila_host"},
		{"node/1.2", "node_1_2"},
	}
	for _, tt := range tests {
		if got := objectID(tt.in); got != tt.want {
			t.Errorf("objectID(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestPacketMessages(t *testing.T) {
	at := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	rec := &capture.Record{
		Seq:    7,
		Time:   at,
		LQI:    0xA0,
		Frame:  []byte{0x02, 0x00, 0x42},
		Layer:  "mac",
		Packet: &decoder.Packet{MAC: mac.Frame{Header: mac.Header{FrameType: mac.FrameAcknowledgement, Sequence: 0x42}}},
	}

	msgs := eventMessages("psila", capture.Event{Kind: capture.EventPacket, Data: rec})
	if len(msgs) != 1 {
		t.Fatalf("got %d messages, want 1", len(msgs))
	}
	if msgs[0].Topic != "psila/packet/mac" {
		t.Errorf("topic = %q, want psila/packet/mac", msgs[0].Topic)
	}
	if msgs[0].Retained {
		t.Error("packet retained")
	}
	var body map[string]any
	if err := json.Unmarshal(msgs[0].Payload, &body); err != nil {
		t.Fatal(err)
	}
	if body["frame"] != "020042" || body["layer"] != "mac" || body["seq"] != float64(7) || body["lqi"] != float64(0xA0) {
		t.Errorf("body = %v", body)
	}
	if _, ok := body["packet"]; !ok {
		t.Error("decoded packet missing")
	}

	bad := &capture.Record{Seq: 8, Frame: []byte{0xFF}, Layer: "raw", Error: "mac: not enough bytes"}
	msgs = eventMessages("psila", capture.Event{Kind: capture.EventDecodeError, Data: bad})
	if len(msgs) != 1 || msgs[0].Topic != "psila/packet/raw" {
		t.Fatalf("decode error messages = %+v", msgs)
	}
	body = nil
	if err := json.Unmarshal(msgs[0].Payload, &body); err != nil {
		t.Fatal(err)
	}
	if _, ok := body["packet"]; ok {
		t.Error("undecoded frame carries a packet")
	}
	if body["error"] != "mac: not enough bytes" {
		t.Errorf("error = %v", body["error"])
	}
}

func TestDeviceReportMessages(t *testing.T) {
	tests := []struct {
		name     string
		ev       capture.Event
		topic    string
		payload  string
		retained bool
	}{
		{
			name:    "energy",
			ev:      capture.Event{Kind: capture.EventEnergy, Data: capture.Energy{Channel: 15, Level: 64}},
			topic:   "psila/energy",
			payload: `{"channel":15,"level":64}`,
		},
		{
			name:     "radio state",
			ev:       capture.Event{Kind: capture.EventRadioState, Data: capture.RadioState{Radio: "Rx", Association: "Associated", Channel: 20}},
			topic:    "psila/bridge/radio",
			payload:  `{"radio":"Rx","association":"Associated","channel":20}`,
			retained: true,
		},
		{
			name:    "alert",
			ev:      capture.Event{Kind: capture.EventAlert, Data: capture.Alert{Source: "watch", Message: "beacon"}},
			topic:   "psila/alert",
			payload: `{"source":"watch","message":"beacon"}`,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			msgs := eventMessages("psila", tt.ev)
			if len(msgs) != 1 {
				t.Fatalf("got %d messages, want 1", len(msgs))
			}
			if msgs[0].Topic != tt.topic {
				t.Errorf("topic = %q, want %q", msgs[0].Topic, tt.topic)
			}
			if string(msgs[0].Payload) != tt.payload {
				t.Errorf("payload = %s, want %s", msgs[0].Payload, tt.payload)
			}
			if msgs[0].Retained != tt.retained {
				t.Errorf("retained = %v, want %v", msgs[0].Retained, tt.retained)
			}
		})
	}

	if msgs := eventMessages("psila", capture.Event{Kind: capture.EventValue}); len(msgs) != 0 {
		t.Errorf("value event published %d messages", len(msgs))
	}
}

func TestCommandParse(t *testing.T) {
	tests := []struct {
		topic   string
		payload string
		want    command
		wantErr bool
	}{
		{topic: "psila/command/energy_scan", want: command{Name: "energy_scan"}},
		{topic: "psila/command/radio_state", want: command{Name: "radio_state"}},
		{topic: "psila/command/channel", payload: " 20\n", want: command{Name: "channel", Channel: 20}},
		{topic: "psila/command/channel", payload: "300", wantErr: true},
		{topic: "psila/command/send", payload: "020042", want: command{Name: "send", Frame: []byte{0x02, 0x00, 0x42}}},
		{topic: "psila/command/send", payload: "zz", wantErr: true},
		{topic: "psila/command/reboot", wantErr: true},
		{topic: "other/command/channel", payload: "11", wantErr: true},
	}
	for _, tt := range tests {
		got, err := parseCommand("psila", tt.topic, []byte(tt.payload))
		if tt.wantErr {
			if err == nil {
				t.Errorf("%s %q: expected error", tt.topic, tt.payload)
			}
			continue
		}
		if err != nil {
			t.Errorf("%s %q: %v", tt.topic, tt.payload, err)
			continue
		}
		if got.Name != tt.want.Name || got.Channel != tt.want.Channel || string(got.Frame) != string(tt.want.Frame) {
			t.Errorf("%s %q = %+v, want %+v", tt.topic, tt.payload, got, tt.want)
		}
	}
}

func TestMustJSON(t *testing.T) {
	if got := string(mustJSON(map[string]int{"a": 1})); got != `{"a":1}` {
		t.Errorf("mustJSON = %s", got)
	}
	if got := string(mustJSON(make(chan int))); got != "{}" {
		t.Errorf("mustJSON(chan) = %s, want {}", got)
	}
}
