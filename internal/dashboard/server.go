// Package dashboard serves a read-only HTTP/WebSocket view of engine state:
// a REST snapshot endpoint and a WebSocket feed broadcasting feature, quote,
// fill, and kill-switch events as they occur.
package dashboard

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"derivmm/internal/config"
)

// Server runs the dashboard's HTTP/WebSocket API.
type Server struct {
	cfg      config.DashboardConfig
	provider Provider
	hub      *Hub
	server   *http.Server
	logger   *slog.Logger
}

// NewServer builds a dashboard Server. Start must be called to begin
// serving.
func NewServer(cfg config.DashboardConfig, provider Provider, logger *slog.Logger) *Server {
	hub := NewHub(logger)
	s := &Server{cfg: cfg, provider: provider, hub: hub, logger: logger.With("component", "dashboard_server")}

	mux := http.NewServeMux()
	mux.HandleFunc("/health", s.handleHealth)
	mux.HandleFunc("/api/snapshot", s.handleSnapshot)
	mux.HandleFunc("/ws", s.handleWebSocket)

	s.server = &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      mux,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
	return s
}

// Start starts the hub, the event consumer, and the HTTP server. It blocks
// until the server stops.
func (s *Server) Start() error {
	go s.hub.Run()
	go s.consumeEvents()

	s.logger.Info("dashboard server starting", "addr", s.server.Addr)
	if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("dashboard server: %w", err)
	}
	return nil
}

// consumeEvents forwards events from the provider's event channel (if it
// exposes one) to every connected WebSocket client.
func (s *Server) consumeEvents() {
	p, ok := s.provider.(interface {
		DashboardEvents() <-chan Event
	})
	if !ok {
		return
	}
	eventsCh := p.DashboardEvents()

	if eventsCh == nil {
		return
	}
	for evt := range eventsCh {
		s.Broadcast(evt)
	}
}

// Stop gracefully shuts down the HTTP server.
func (s *Server) Stop() error {
	s.logger.Info("stopping dashboard server")
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return s.server.Shutdown(ctx)
}

// Broadcast pushes evt to every connected WebSocket client.
func (s *Server) Broadcast(evt Event) {
	s.hub.BroadcastEvent(evt)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
}

func (s *Server) handleSnapshot(w http.ResponseWriter, r *http.Request) {
	snap := BuildSnapshot(s.provider)
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(snap); err != nil {
		s.logger.Error("encode snapshot", "error", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
	}
}

func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	upgrader := websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin: func(req *http.Request) bool {
			return isOriginAllowed(req.Header.Get("Origin"), s.cfg, req.Host)
		},
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Error("websocket upgrade failed", "error", err)
		return
	}

	c := newClient(s.hub, conn)

	evt := Event{Type: "snapshot", Timestamp: time.Now(), Data: BuildSnapshot(s.provider)}
	data, err := json.Marshal(evt)
	if err != nil {
		s.logger.Error("marshal initial snapshot", "error", err)
		return
	}
	select {
	case c.send <- data:
	default:
		s.logger.Warn("failed to send initial snapshot to client")
	}
}

func isOriginAllowed(origin string, cfg config.DashboardConfig, reqHost string) bool {
	if origin == "" {
		return true
	}

	originURL, err := url.Parse(origin)
	if err != nil {
		return false
	}
	normalized := normalizeOrigin(originURL.Scheme, originURL.Host)
	if normalized == "" {
		return false
	}

	if len(cfg.AllowedOrigins) > 0 {
		for _, allowed := range cfg.AllowedOrigins {
			u, err := url.Parse(allowed)
			if err != nil {
				continue
			}
			if normalized == normalizeOrigin(u.Scheme, u.Host) {
				return true
			}
		}
		return false
	}

	host := strings.ToLower(originURL.Hostname())
	if host == "localhost" || host == "127.0.0.1" || host == "::1" {
		return true
	}
	return host == normalizeHost(reqHost)
}

func normalizeOrigin(scheme, host string) string {
	if scheme == "" || host == "" {
		return ""
	}
	return strings.ToLower(scheme) + "://" + strings.ToLower(host)
}

func normalizeHost(hostport string) string {
	hostport = strings.TrimSpace(hostport)
	if hostport == "" {
		return ""
	}
	if host, _, err := net.SplitHostPort(hostport); err == nil {
		return strings.ToLower(host)
	}
	return strings.ToLower(hostport)
}
