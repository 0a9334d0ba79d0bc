package web

import (
	"encoding/hex"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"psila-go/internal/capture"
	"psila-go/internal/radio"
	"psila-go/internal/security"
	"psila-go/internal/store"
)

const (
	defaultPacketLimit = 100
	maxPacketLimit     = 1000

	// maxFrameLen is the largest PSDU the radio accepts.
	maxFrameLen = 127
)

// parseLimit reads ?limit=, falling back to the default and capping at max.
func parseLimit(r *http.Request) (int, error) {
	raw := r.URL.Query().Get("limit")
	if raw == "" {
		return defaultPacketLimit, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		return 0, errors.New("limit must be a non-negative integer")
	}
	if n == 0 || n > maxPacketLimit {
		n = maxPacketLimit
	}
	return n, nil
}

func (s *Server) handleAPIPackets(w http.ResponseWriter, r *http.Request) {
	limit, err := parseLimit(r)
	if err != nil {
		s.writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}
	recs := s.capture.Recent(limit)
	views := make([]recordView, 0, len(recs))
	for _, rec := range recs {
		views = append(views, viewRecord(rec))
	}
	s.writeJSON(w, http.StatusOK, views)
}

func (s *Server) handleAPIStats(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, s.capture.Stats())
}

func (s *Server) handleAPIListKeys(w http.ResponseWriter, r *http.Request) {
	names := s.capture.KeyNames()
	if names == nil {
		names = []string{}
	}
	s.writeJSON(w, http.StatusOK, names)
}

type addKeyRequest struct {
	Name string `json:"name"`
	Key  string `json:"key"`
}

func (s *Server) handleAPIAddKey(w http.ResponseWriter, r *http.Request) {
	var req addKeyRequest
	r.Body = http.MaxBytesReader(w, r.Body, 1<<20)
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid request body"})
		return
	}
	if req.Name == "" {
		s.writeJSON(w, http.StatusBadRequest, map[string]string{"error": "name is required"})
		return
	}
	key, err := security.ParseKey(req.Key)
	if err != nil {
		s.writeJSON(w, http.StatusBadRequest, map[string]string{"error": "key must be 16 bytes of hex"})
		return
	}
	if err := s.capture.AddKey(req.Name, key); err != nil {
		s.logger.Error("add key", "err", err, "name", req.Name)
		s.writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "internal server error"})
		return
	}
	s.writeJSON(w, http.StatusCreated, map[string]string{"status": "ok", "name": req.Name})
}

func (s *Server) handleAPIDeleteKey(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("name")
	if err := s.capture.RemoveKey(name); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			s.writeJSON(w, http.StatusNotFound, map[string]string{"error": "key not found"})
			return
		}
		s.logger.Error("delete key", "err", err, "name", name)
		s.writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "internal server error"})
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleAPIListSessions(w http.ResponseWriter, r *http.Request) {
	if s.store == nil {
		s.writeJSON(w, http.StatusOK, []*store.Session{})
		return
	}
	sessions, err := s.store.ListSessions()
	if err != nil {
		s.logger.Error("list sessions", "err", err)
		s.writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "internal server error"})
		return
	}
	if sessions == nil {
		sessions = []*store.Session{}
	}
	s.writeJSON(w, http.StatusOK, sessions)
}

func (s *Server) handleAPISessionCaptures(w http.ResponseWriter, r *http.Request) {
	if s.store == nil {
		s.writeJSON(w, http.StatusNotFound, map[string]string{"error": "session not found"})
		return
	}
	limit, err := parseLimit(r)
	if err != nil {
		s.writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}
	id := r.PathValue("id")
	caps, err := s.store.ListCaptures(id, limit)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			s.writeJSON(w, http.StatusNotFound, map[string]string{"error": "session not found"})
			return
		}
		s.logger.Error("list captures", "err", err, "session", id)
		s.writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "internal server error"})
		return
	}
	views := make([]recordView, 0, len(caps))
	for _, c := range caps {
		views = append(views, viewStored(c))
	}
	s.writeJSON(w, http.StatusOK, views)
}

// deviceResult writes the outcome of a request sent to the device.
func (s *Server) deviceResult(w http.ResponseWriter, what string, err error) {
	switch {
	case err == nil:
		s.writeJSON(w, http.StatusAccepted, map[string]string{"status": "sent"})
	case errors.Is(err, capture.ErrNoDevice):
		s.writeJSON(w, http.StatusServiceUnavailable, map[string]string{"error": "no device attached"})
	default:
		s.logger.Error("device request", "request", what, "err", err)
		s.writeJSON(w, http.StatusBadGateway, map[string]string{"error": "device request failed"})
	}
}

func (s *Server) handleAPIEnergyScan(w http.ResponseWriter, r *http.Request) {
	s.deviceResult(w, "energy_scan", s.capture.RequestEnergyScan(r.Context()))
}

func (s *Server) handleAPIRadioState(w http.ResponseWriter, r *http.Request) {
	s.deviceResult(w, "radio_state", s.capture.RequestRadioState(r.Context()))
}

type setChannelRequest struct {
	Channel uint8 `json:"channel"`
}

func (s *Server) handleAPISetChannel(w http.ResponseWriter, r *http.Request) {
	var req setChannelRequest
	r.Body = http.MaxBytesReader(w, r.Body, 1<<20)
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid request body"})
		return
	}
	if !radio.ValidChannel(req.Channel) {
		s.writeJSON(w, http.StatusBadRequest, map[string]string{"error": "channel must be 11-26"})
		return
	}
	s.deviceResult(w, "set_channel", s.capture.SetChannel(r.Context(), req.Channel))
}

type sendFrameRequest struct {
	Frame string `json:"frame"`
}

func (s *Server) handleAPISend(w http.ResponseWriter, r *http.Request) {
	var req sendFrameRequest
	r.Body = http.MaxBytesReader(w, r.Body, 1<<20)
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid request body"})
		return
	}
	frame, err := hex.DecodeString(strings.ReplaceAll(req.Frame, " ", ""))
	if err != nil || len(frame) == 0 || len(frame) > maxFrameLen {
		s.writeJSON(w, http.StatusBadRequest, map[string]string{"error": "frame must be 1-127 bytes of hex"})
		return
	}
	s.deviceResult(w, "send", s.capture.Transmit(r.Context(), frame))
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Error("writeJSON encode failed", "err", err)
	}
}
