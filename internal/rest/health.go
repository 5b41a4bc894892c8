// health.go runs the standalone health listener on its own port so load
// balancers can probe the service without touching the public surface.
package rest

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"clobfeed/internal/store"
	"clobfeed/internal/ws"
)

// RedisPing checks bus connectivity. The redis client's Ping is adapted to
// this at wiring time.
type RedisPing func(ctx context.Context) error

// HealthServer reports dependency health and hub statistics.
type HealthServer struct {
	store     store.Store
	redisPing RedisPing
	hub       *ws.Hub
	server    *http.Server
	logger    *slog.Logger
}

type healthResponse struct {
	Status    string   `json:"status"`
	Redis     bool     `json:"redis"`
	Database  bool     `json:"database"`
	WebSocket ws.Stats `json:"websocket"`
}

// NewHealthServer wires the health listener.
func NewHealthServer(port int, st store.Store, redisPing RedisPing, hub *ws.Hub, logger *slog.Logger) *HealthServer {
	h := &HealthServer{
		store:     st,
		redisPing: redisPing,
		hub:       hub,
		logger:    logger.With("component", "health"),
	}
	mux := http.NewServeMux()
	mux.HandleFunc("/health", h.handleHealth)
	h.server = &http.Server{
		Addr:        fmt.Sprintf(":%d", port),
		Handler:     mux,
		ReadTimeout: 5 * time.Second,
	}
	return h
}

// Start blocks serving until the listener closes.
func (h *HealthServer) Start() error {
	h.logger.Info("health server starting", "addr", h.server.Addr)
	if err := h.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("health server error: %w", err)
	}
	return nil
}

// Stop shuts the listener down.
func (h *HealthServer) Stop() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return h.server.Shutdown(ctx)
}

// handleHealth probes both backing stores. Either dependency failing degrades
// the service to 503; the body always carries the per-dependency detail.
func (h *HealthServer) handleHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()

	resp := healthResponse{
		Status:    "ok",
		Redis:     true,
		Database:  true,
		WebSocket: h.hub.Stats(),
	}
	if err := h.redisPing(ctx); err != nil {
		h.logger.Warn("redis health check failed", "error", err)
		resp.Redis = false
	}
	if err := h.store.Ping(ctx); err != nil {
		h.logger.Warn("database health check failed", "error", err)
		resp.Database = false
	}

	status := http.StatusOK
	if !resp.Redis || !resp.Database {
		resp.Status = "degraded"
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, resp)
}
