package web

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"slices"
	"testing"

	"psila-go/internal/blockcipher"
	"psila-go/internal/capture"
	"psila-go/internal/decoder"
	"psila-go/internal/hostlink"
	"psila-go/internal/security"
	"psila-go/internal/store"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

func setupTestServer(t *testing.T, apiKey string, opts ...ServerOption) (*Server, *capture.Capture, *store.BoltStore) {
	t.Helper()
	logger := testLogger()

	db, err := store.NewBoltStore(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { db.Close() })

	dec := decoder.New(blockcipher.NewSoftware(), security.NewKeyRing(security.WellKnownKeys()...), logger)
	c, err := capture.New(capture.Config{Decoder: dec, Store: db, Logger: logger, Port: "/dev/ttyACM0", Channel: 15})
	if err != nil {
		t.Fatal(err)
	}
	if err := c.Start(); err != nil {
		t.Fatal(err)
	}

	opts = append(opts, WithStore(db), WithVersion("test"))
	if apiKey != "" {
		opts = append(opts, WithAPIKey(apiKey))
	}
	srv := NewServer(c, logger, opts...)
	t.Cleanup(srv.Stop)

	return srv, c, db
}

func do(t *testing.T, srv *Server, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatal(err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	w := httptest.NewRecorder()
	srv.ServeHTTP(w, req)
	return w
}

func decode(t *testing.T, w *httptest.ResponseRecorder, v any) {
	t.Helper()
	if err := json.NewDecoder(w.Body).Decode(v); err != nil {
		t.Fatalf("decode %q: %v", w.Body.String(), err)
	}
}

func feed(c *capture.Capture, frame []byte, lqi byte) {
	c.HandleMessage(hostlink.Message{
		Type:    hostlink.MessageRadioReceive,
		Payload: append(append([]byte(nil), frame...), lqi),
	})
}

var ackFrame = []byte{0x02, 0x00, 0x42}

type sentFrame struct {
	mt      hostlink.MessageType
	payload []byte
}

type fakeDevice struct {
	sent []sentFrame
}

func (d *fakeDevice) Send(_ context.Context, mt hostlink.MessageType, payload []byte) error {
	d.sent = append(d.sent, sentFrame{mt, payload})
	return nil
}

type packetResp struct {
	Seq   uint64 `json:"seq"`
	LQI   uint8  `json:"lqi"`
	Layer string `json:"layer"`
	Frame string `json:"frame"`
	Error string `json:"error"`
}

func TestAPIPackets(t *testing.T) {
	srv, c, _ := setupTestServer(t, "")
	feed(c, ackFrame, 10)
	feed(c, ackFrame, 20)
	feed(c, []byte{0xff}, 30)

	w := do(t, srv, "GET", "/api/packets?limit=2", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusOK)
	}
	var got []packetResp
	decode(t, w, &got)
	if len(got) != 2 {
		t.Fatalf("packets = %d, want 2", len(got))
	}
	if got[0].Seq != 2 || got[0].Frame != "020042" || got[0].Layer != "mac" {
		t.Errorf("packet 0 = %+v", got[0])
	}
	if got[1].Seq != 3 || got[1].Layer != "raw" || got[1].Error == "" || got[1].Frame != "FF" {
		t.Errorf("packet 1 = %+v", got[1])
	}

	if w := do(t, srv, "GET", "/api/packets?limit=abc", nil); w.Code != http.StatusBadRequest {
		t.Errorf("bad limit: status = %d, want %d", w.Code, http.StatusBadRequest)
	}
}

func TestAPIStats(t *testing.T) {
	srv, c, _ := setupTestServer(t, "")
	feed(c, ackFrame, 10)

	w := do(t, srv, "GET", "/api/stats", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusOK)
	}
	var stats capture.Stats
	decode(t, w, &stats)
	if stats.Packets != 1 || stats.Decoded != 1 || stats.Channel != 15 || stats.Session == "" {
		t.Errorf("stats = %+v", stats)
	}
}

func TestAPIKeys(t *testing.T) {
	srv, _, db := setupTestServer(t, "")

	w := do(t, srv, "POST", "/api/keys", addKeyRequest{Name: "nwk", Key: "01:03:05:07:09:0b:0d:0f:00:02:04:06:08:0a:0c:0d"})
	if w.Code != http.StatusCreated {
		t.Fatalf("add: status = %d, want %d (%s)", w.Code, http.StatusCreated, w.Body.String())
	}
	if w := do(t, srv, "POST", "/api/keys", addKeyRequest{Name: "short", Key: "0102"}); w.Code != http.StatusBadRequest {
		t.Errorf("short key: status = %d, want %d", w.Code, http.StatusBadRequest)
	}
	if w := do(t, srv, "POST", "/api/keys", addKeyRequest{Key: "01030507090b0d0f00020406080a0c0d"}); w.Code != http.StatusBadRequest {
		t.Errorf("unnamed key: status = %d, want %d", w.Code, http.StatusBadRequest)
	}

	var names []string
	decode(t, do(t, srv, "GET", "/api/keys", nil), &names)
	if !slices.Contains(names, "nwk") {
		t.Errorf("keys = %v, want nwk listed", names)
	}
	stored, err := db.ListKeys()
	if err != nil {
		t.Fatal(err)
	}
	if len(stored) != 1 || stored[0].Name != "nwk" {
		t.Errorf("stored keys = %+v", stored)
	}

	if w := do(t, srv, "DELETE", "/api/keys/nwk", nil); w.Code != http.StatusOK {
		t.Errorf("delete: status = %d, want %d", w.Code, http.StatusOK)
	}
	if w := do(t, srv, "DELETE", "/api/keys/nwk", nil); w.Code != http.StatusNotFound {
		t.Errorf("second delete: status = %d, want %d", w.Code, http.StatusNotFound)
	}
}

func TestAPISessions(t *testing.T) {
	srv, c, _ := setupTestServer(t, "")
	feed(c, ackFrame, 10)
	feed(c, ackFrame, 11)

	var sessions []store.Session
	decode(t, do(t, srv, "GET", "/api/sessions", nil), &sessions)
	if len(sessions) != 1 || sessions[0].ID != c.Session().ID || sessions[0].Port != "/dev/ttyACM0" {
		t.Fatalf("sessions = %+v", sessions)
	}

	w := do(t, srv, "GET", "/api/sessions/"+sessions[0].ID+"/captures?limit=1", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("captures: status = %d, want %d", w.Code, http.StatusOK)
	}
	var caps []packetResp
	decode(t, w, &caps)
	if len(caps) != 1 || caps[0].Seq != 2 || caps[0].LQI != 11 || caps[0].Frame != "020042" {
		t.Errorf("captures = %+v", caps)
	}

	if w := do(t, srv, "GET", "/api/sessions/nope/captures", nil); w.Code != http.StatusNotFound {
		t.Errorf("unknown session: status = %d, want %d", w.Code, http.StatusNotFound)
	}
}

func TestAPIDeviceRequests(t *testing.T) {
	srv, c, _ := setupTestServer(t, "")

	if w := do(t, srv, "POST", "/api/device/energy-scan", nil); w.Code != http.StatusServiceUnavailable {
		t.Errorf("no device: status = %d, want %d", w.Code, http.StatusServiceUnavailable)
	}

	dev := &fakeDevice{}
	c.Attach(dev)

	tests := []struct {
		name string
		path string
		body any
		want int
	}{
		{"energy scan", "/api/device/energy-scan", nil, http.StatusAccepted},
		{"radio state", "/api/device/state", nil, http.StatusAccepted},
		{"channel", "/api/device/channel", setChannelRequest{Channel: 20}, http.StatusAccepted},
		{"channel out of range", "/api/device/channel", setChannelRequest{Channel: 30}, http.StatusBadRequest},
		{"send", "/api/device/send", sendFrameRequest{Frame: "02 00 42"}, http.StatusAccepted},
		{"send bad hex", "/api/device/send", sendFrameRequest{Frame: "zz"}, http.StatusBadRequest},
		{"send empty", "/api/device/send", sendFrameRequest{}, http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if w := do(t, srv, "POST", tt.path, tt.body); w.Code != tt.want {
				t.Errorf("status = %d, want %d", w.Code, tt.want)
			}
		})
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
		if dev.sent[i].mt != mt {
			t.Errorf("message %d = %s, want %s", i, dev.sent[i].mt, mt)
		}
	}
	if !bytes.Equal(dev.sent[3].payload, ackFrame) {
		t.Errorf("sent frame = %X, want %X", dev.sent[3].payload, ackFrame)
	}
}

func TestAPIKeyAuth(t *testing.T) {
	srv, _, _ := setupTestServer(t, "secret")

	if w := do(t, srv, "GET", "/api/stats", nil); w.Code != http.StatusUnauthorized {
		t.Errorf("no key: status = %d, want %d", w.Code, http.StatusUnauthorized)
	}

	req := httptest.NewRequest("GET", "/api/stats", nil)
	req.Header.Set("X-API-Key", "secret")
	w := httptest.NewRecorder()
	srv.ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Errorf("with key: status = %d, want %d", w.Code, http.StatusOK)
	}
}

func TestCORS(t *testing.T) {
	srv, _, _ := setupTestServer(t, "", WithAllowedOrigins([]string{"http://ui.local"}))

	tests := []struct {
		name   string
		method string
		origin string
		want   int
	}{
		{"preflight allowed", http.MethodOptions, "http://ui.local", http.StatusNoContent},
		{"preflight denied", http.MethodOptions, "http://evil.local", http.StatusForbidden},
		{"post denied", http.MethodPost, "http://evil.local", http.StatusForbidden},
		{"get any origin", http.MethodGet, "http://evil.local", http.StatusOK},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := "/api/stats"
			if tt.method == http.MethodPost {
				path = "/api/device/state"
			}
			req := httptest.NewRequest(tt.method, path, nil)
			req.Header.Set("Origin", tt.origin)
			w := httptest.NewRecorder()
			srv.ServeHTTP(w, req)
			if w.Code != tt.want {
				t.Errorf("status = %d, want %d", w.Code, tt.want)
			}
		})
	}
}

func TestAPIVersion(t *testing.T) {
	srv, _, _ := setupTestServer(t, "")
	var got map[string]string
	decode(t, do(t, srv, "GET", "/api/version", nil), &got)
	if got["version"] != "test" {
		t.Errorf("version = %q, want test", got["version"])
	}
}
