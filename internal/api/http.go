// Package api exposes the position sync engine's local control surface: a
// status/control HTTP API plus a websocket endpoint for realtime position
// events, wired the way the teacher's order matching server wires its own
// HTTP surface — a bare net/http.ServeMux with one handler per route.
package api

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/pivox/tradingV3/internal/possync"
)

// Server wraps an *http.Server around a possync.Service.
type Server struct {
	svc      *possync.Service
	log      zerolog.Logger
	upgrader websocket.Upgrader
	http     *http.Server
}

func New(addr string, svc *possync.Service, log zerolog.Logger) *Server {
	s := &Server{
		svc:      svc,
		log:      log.With().Str("component", "api").Logger(),
		upgrader: websocket.Upgrader{ReadBufferSize: 1024, WriteBufferSize: 1024, CheckOrigin: func(*http.Request) bool { return true }},
	}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /status", s.handleStatus)
	mux.HandleFunc("POST /control/start", s.handleStart)
	mux.HandleFunc("POST /control/stop", s.handleStop)
	mux.HandleFunc("POST /subscriptions/{symbol}", s.handleSubscribe)
	mux.HandleFunc("DELETE /subscriptions/{symbol}", s.handleUnsubscribe)
	mux.HandleFunc("GET /ws/positions", s.handleWSPositions)
	mux.Handle("GET /metrics", promhttp.Handler())

	s.http = &http.Server{
		Addr:         addr,
		Handler:      mux,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 0, // the websocket route needs to stay open indefinitely
	}
	return s
}

func (s *Server) ListenAndServe() error { return s.http.ListenAndServe() }

func (s *Server) Shutdown(ctx context.Context) error { return s.http.Shutdown(ctx) }

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"running":           s.svc.IsRunning(),
		"tracked_positions": len(s.svc.Snapshot(possync.Filter{})),
		"current_sequence":  s.svc.CurrentSequence(),
		"channels":          s.svc.Channels(),
	})
}

func (s *Server) handleStart(w http.ResponseWriter, r *http.Request) {
	started := s.svc.Start(r.Context())
	writeJSON(w, http.StatusOK, map[string]any{"started": started, "running": s.svc.IsRunning()})
}

func (s *Server) handleStop(w http.ResponseWriter, r *http.Request) {
	stopped := s.svc.Stop()
	writeJSON(w, http.StatusOK, map[string]any{"stopped": stopped, "running": s.svc.IsRunning()})
}

func (s *Server) handleSubscribe(w http.ResponseWriter, r *http.Request) {
	symbol := strings.ToUpper(r.PathValue("symbol"))
	if err := s.svc.SubscribeSymbol(symbol); err != nil {
		s.log.Warn().Err(err).Str("symbol", symbol).Msg("failed to subscribe symbol channel")
	}
	writeJSON(w, http.StatusOK, map[string]any{"running": s.svc.IsRunning(), "channels": s.svc.Channels()})
}

func (s *Server) handleUnsubscribe(w http.ResponseWriter, r *http.Request) {
	symbol := strings.ToUpper(r.PathValue("symbol"))
	if err := s.svc.UnsubscribeSymbol(symbol); err != nil {
		s.log.Warn().Err(err).Str("symbol", symbol).Msg("failed to unsubscribe symbol channel")
	}
	writeJSON(w, http.StatusOK, map[string]any{"running": s.svc.IsRunning(), "channels": s.svc.Channels()})
}

// handleWSPositions upgrades to a websocket and streams every reconciliation
// event matching the query-string filter (symbols, statuses, sides — comma
// separated) until the client disconnects.
func (s *Server) handleWSPositions(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Warn().Err(err).Msg("websocket upgrade failed")
		return
	}
	defer conn.Close()

	filter := filterFromQuery(r)
	handle := s.svc.Subscribe(filter)
	defer handle.Close()

	snapshot := s.svc.Snapshot(filter)
	seq := s.svc.CurrentSequence()
	if err := conn.WriteJSON(map[string]any{
		"type":      "snapshot",
		"seq":       seq,
		"positions": snapshot,
	}); err != nil {
		return
	}

	for ev := range handle.Events {
		if err := conn.WriteJSON(ev); err != nil {
			return
		}
	}
}

func filterFromQuery(r *http.Request) possync.Filter {
	q := r.URL.Query()
	return possync.Filter{
		Symbols:  splitCSV(q.Get("symbols")),
		Statuses: splitCSV(q.Get("statuses")),
		Sides:    splitCSV(q.Get("sides")),
	}
}

func splitCSV(raw string) []string {
	if raw == "" {
		return nil
	}
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
