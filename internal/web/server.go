// Package web serves the capture over a JSON API and a WebSocket feed.
package web

import (
	"crypto/subtle"
	"encoding/hex"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"psila-go/internal/automation"
	"psila-go/internal/capture"
	"psila-go/internal/decoder"
	"psila-go/internal/store"
)

// ServerOption configures the web server.
type ServerOption func(*Server)

// WithAPIKey enables API key authentication.
func WithAPIKey(key string) ServerOption {
	return func(s *Server) {
		s.apiKey = key
	}
}

// WithAllowedOrigins sets allowed WebSocket origin patterns.
func WithAllowedOrigins(origins []string) ServerOption {
	return func(s *Server) {
		s.allowedOrigins = origins
	}
}

// WithStore exposes stored sessions and their captures.
func WithStore(st store.Store) ServerOption {
	return func(s *Server) {
		s.store = st
	}
}

// WithAutomation sets the automation engine and script manager.
func WithAutomation(engine *automation.Engine, mgr *automation.Manager) ServerOption {
	return func(s *Server) {
		s.autoEngine = engine
		s.scriptMgr = mgr
	}
}

// WithVersion sets the version reported by /api/version.
func WithVersion(v string) ServerOption {
	return func(s *Server) {
		s.version = v
	}
}

// Server is the HTTP server for the capture API.
type Server struct {
	capture        *capture.Capture
	store          store.Store
	wsHub          *WSHub
	logger         *slog.Logger
	mux            *http.ServeMux
	apiKey         string
	allowedOrigins []string
	scriptMgr      *automation.Manager
	autoEngine     *automation.Engine
	version        string
	wg             sync.WaitGroup
	unsubEvents    func()
}

// recordView is a capture as served over HTTP and WebSocket. Frames are
// upper-case hex.
type recordView struct {
	Seq    uint64          `json:"seq"`
	Time   time.Time       `json:"time"`
	LQI    uint8           `json:"lqi"`
	Layer  string          `json:"layer"`
	Frame  string          `json:"frame"`
	Packet *decoder.Packet `json:"packet,omitempty"`
	Error  string          `json:"error,omitempty"`
}

func hexFrame(b []byte) string {
	return strings.ToUpper(hex.EncodeToString(b))
}

func viewRecord(r *capture.Record) recordView {
	return recordView{
		Seq:    r.Seq,
		Time:   r.Time,
		LQI:    r.LQI,
		Layer:  r.Layer,
		Frame:  hexFrame(r.Frame),
		Packet: r.Packet,
		Error:  r.Error,
	}
}

func viewStored(c *store.Capture) recordView {
	return recordView{
		Seq:   c.Seq,
		Time:  c.Time,
		LQI:   c.LQI,
		Layer: c.Layer,
		Frame: hexFrame(c.Frame),
		Error: c.Error,
	}
}

// NewServer creates a new web server over c.
func NewServer(c *capture.Capture, logger *slog.Logger, opts ...ServerOption) *Server {
	s := &Server{
		capture: c,
		logger:  logger.With("component", "web"),
		mux:     http.NewServeMux(),
	}

	for _, opt := range opts {
		opt(s)
	}

	s.wsHub = NewWSHub(s.logger)
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.wsHub.Run()
	}()

	s.unsubEvents = c.Bus().On("", func(ev capture.Event) {
		s.wsHub.Broadcast(ev)
	})

	s.routes()
	return s
}

// Stop shuts down the WebSocket hub and waits for its goroutine.
func (s *Server) Stop() {
	if s.unsubEvents != nil {
		s.unsubEvents()
	}
	s.wsHub.Stop()
	s.wg.Wait()
}

func (s *Server) routes() {
	s.mux.HandleFunc("GET /api/packets", s.handleAPIPackets)
	s.mux.HandleFunc("GET /api/stats", s.handleAPIStats)
	s.mux.HandleFunc("GET /api/keys", s.handleAPIListKeys)
	s.mux.HandleFunc("POST /api/keys", s.handleAPIAddKey)
	s.mux.HandleFunc("DELETE /api/keys/{name}", s.handleAPIDeleteKey)
	s.mux.HandleFunc("GET /api/sessions", s.handleAPIListSessions)
	s.mux.HandleFunc("GET /api/sessions/{id}/captures", s.handleAPISessionCaptures)
	s.mux.HandleFunc("POST /api/device/energy-scan", s.handleAPIEnergyScan)
	s.mux.HandleFunc("POST /api/device/state", s.handleAPIRadioState)
	s.mux.HandleFunc("POST /api/device/channel", s.handleAPISetChannel)
	s.mux.HandleFunc("POST /api/device/send", s.handleAPISend)
	s.mux.HandleFunc("GET /api/version", s.handleAPIVersion)

	// Automations
	s.mux.HandleFunc("GET /api/automations", s.handleAPIListAutomations)
	s.mux.HandleFunc("GET /api/automations/{id}", s.handleAPIGetAutomation)
	s.mux.HandleFunc("POST /api/automations", s.handleAPICreateAutomation)
	s.mux.HandleFunc("PUT /api/automations/{id}", s.handleAPIUpdateAutomation)
	s.mux.HandleFunc("DELETE /api/automations/{id}", s.handleAPIDeleteAutomation)
	s.mux.HandleFunc("POST /api/automations/{id}/toggle", s.handleAPIToggleAutomation)
	s.mux.HandleFunc("POST /api/automations/{id}/run", s.handleAPIRunAutomation)

	// WebSocket
	s.mux.HandleFunc("GET /ws", s.handleWS)
}

// ServeHTTP implements http.Handler, applying auth and CORS middleware.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	// CORS: check Origin on mutating requests to prevent CSRF.
	if len(s.allowedOrigins) > 0 {
		origin := r.Header.Get("Origin")
		if origin != "" {
			if r.Method == http.MethodOptions {
				if s.isOriginAllowed(origin) {
					w.Header().Set("Access-Control-Allow-Origin", origin)
					w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
					w.Header().Set("Access-Control-Allow-Headers", "Content-Type, X-API-Key")
					w.Header().Set("Access-Control-Max-Age", "3600")
					w.WriteHeader(http.StatusNoContent)
					return
				}
				http.Error(w, "Forbidden", http.StatusForbidden)
				return
			}

			if r.Method != http.MethodGet {
				if !s.isOriginAllowed(origin) {
					http.Error(w, "Forbidden", http.StatusForbidden)
					return
				}
				w.Header().Set("Access-Control-Allow-Origin", origin)
			}
		}
	}

	// The WebSocket upgrade cannot carry custom headers, so only /api/ is
	// key protected.
	if s.apiKey != "" && strings.HasPrefix(r.URL.Path, "/api/") {
		key := r.Header.Get("X-API-Key")
		if subtle.ConstantTimeCompare([]byte(key), []byte(s.apiKey)) != 1 {
			http.Error(w, "Unauthorized", http.StatusUnauthorized)
			return
		}
	}
	s.mux.ServeHTTP(w, r)
}

// isOriginAllowed checks if the origin matches any allowed origin pattern.
func (s *Server) isOriginAllowed(origin string) bool {
	for _, allowed := range s.allowedOrigins {
		if allowed == "*" || allowed == origin {
			return true
		}
	}
	return false
}

func (s *Server) handleAPIVersion(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]string{"version": s.version})
}
