// Package httpapi exposes the execution service over HTTP: a tool
// invocation endpoint and a per-tenant server-sent event stream.
package httpapi

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"pkt.systems/jovian/core"
	"pkt.systems/jovian/internal/eventbus"
	"pkt.systems/jovian/internal/logx"
	"pkt.systems/jovian/schema"
)

// Server serves the HTTP API.
type Server struct {
	cfg     Config
	service core.Service
	bus     *eventbus.Bus
}

// NewServer constructs an HTTP server.
func NewServer(cfg Config, service core.Service, bus *eventbus.Bus) *Server {
	return &Server{cfg: cfg, service: service, bus: bus}
}

// Handler returns an http.Handler for the server.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/invoke", s.requireToken(s.handleInvoke))
	mux.HandleFunc("/api/tenants/", s.requireToken(s.handleTenants))
	mux.HandleFunc("/healthz", s.handleHealth)
	return withRequestLogging(mux)
}

func (s *Server) requireToken(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if s.cfg.Token == "" {
			next(w, r)
			return
		}
		auth := r.Header.Get("Authorization")
		if auth != "token "+s.cfg.Token {
			logx.Ctx(r.Context()).Warn("http auth rejected", "remote", clientIP(r))
			writeError(w, http.StatusUnauthorized, errors.New("invalid token"))
			return
		}
		next(w, r)
	}
}

type invokeRequest struct {
	Tenant       string `json:"tenant"`
	Conversation string `json:"conversation"`
	Code         string `json:"code"`
}

type invokeResponse struct {
	Result string `json:"result"`
}

func (s *Server) handleInvoke(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	var payload invokeRequest
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if payload.Tenant == "" {
		writeError(w, http.StatusBadRequest, errors.New("tenant is required"))
		return
	}
	if payload.Conversation == "" {
		writeError(w, http.StatusBadRequest, errors.New("conversation is required"))
		return
	}

	result := s.service.Invoke(r.Context(), payload.Tenant, schema.ConversationID(payload.Conversation), payload.Code)
	writeJSON(w, http.StatusOK, invokeResponse{Result: result})
}

// handleTenants routes /api/tenants/{tenant}/events.
func (s *Server) handleTenants(w http.ResponseWriter, r *http.Request) {
	rest := strings.TrimPrefix(r.URL.Path, "/api/tenants/")
	parts := strings.Split(rest, "/")
	if len(parts) != 2 || parts[1] != "events" {
		http.NotFound(w, r)
		return
	}
	tenant, err := schema.SanitizeTenant(parts[0])
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	s.handleEvents(w, r, tenant)
}

func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request, tenant schema.TenantID) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, errors.New("stream unsupported"))
		return
	}
	log := logx.WithTenant(r.Context(), tenant)

	// Subscribe before the headers flush so no event published after the
	// client sees the stream open can be missed.
	ch, unsubscribe := s.bus.Subscribe(tenant)
	defer unsubscribe()

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	notify := r.Context().Done()
	log.Info("event stream opened")
	for {
		select {
		case <-notify:
			log.Info("event stream closed")
			return
		case event := <-ch:
			if err := writeSSEvent(w, event); err != nil {
				log.Warn("event stream write failed", "err", err)
				return
			}
			flusher.Flush()
		}
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"ok": true, "time": time.Now().UTC()})
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	data, _ := json.Marshal(payload)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write(data)
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, map[string]any{"error": err.Error()})
}

func writeSSEvent(w http.ResponseWriter, event eventbus.Event) error {
	data, err := json.Marshal(event)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(w, "data: %s\n\n", strings.TrimSpace(string(data)))
	return err
}
