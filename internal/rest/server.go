// Package rest serves the HTTP surface: the JSON read API, the WebSocket
// upgrade endpoints and the standalone health listener.
package rest

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/gorilla/websocket"

	"clobfeed/internal/config"
	"clobfeed/internal/market"
	"clobfeed/internal/ws"
	"clobfeed/pkg/types"
)

// Server runs the public HTTP/WebSocket listener.
type Server struct {
	market   *market.Service
	hub      *ws.Hub
	upgrader websocket.Upgrader
	server   *http.Server
	logger   *slog.Logger
}

// NewServer wires the router.
func NewServer(cfg config.ServerConfig, svc *market.Service, hub *ws.Hub, logger *slog.Logger) *Server {
	s := &Server{
		market: svc,
		hub:    hub,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 4096,
			// Browser clients connect from arbitrary front-end origins.
			CheckOrigin: func(*http.Request) bool { return true },
		},
		logger: logger.With("component", "rest"),
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(30 * time.Second))

	r.Route("/api", func(r chi.Router) {
		r.Get("/pairs", s.handlePairs)
		r.Get("/markets", s.handlePairs)
		r.Get("/currencies", s.handleCurrencies)
		r.Get("/currency", s.handleCurrency)
		r.Get("/depth", s.handleDepth)
		r.Get("/trades", s.handleTrades)
		r.Get("/klines", s.handleKlines)
		r.Get("/ticker/24hr", s.handleTicker)
		r.Get("/ticker/price", s.handlePrice)
		r.Get("/openOrders", s.handleOpenOrders)
		r.Get("/allOrders", s.handleAllOrders)
		r.Get("/myTrades", s.handleMyTrades)
		r.Get("/account", s.handleBalances)
		r.Get("/balances", s.handleBalances)
	})
	r.Get("/", s.handleWebSocket)
	r.Get("/ws", s.handleWebSocket)
	r.Get("/ws/{address}", s.handleWebSocket)

	s.server = &http.Server{
		Addr:        fmt.Sprintf(":%d", cfg.Port),
		Handler:     r,
		ReadTimeout: 15 * time.Second,
		IdleTimeout: 60 * time.Second,
	}
	return s
}

// Start blocks serving until the listener closes.
func (s *Server) Start() error {
	s.logger.Info("api server starting", "addr", s.server.Addr)
	if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("server error: %w", err)
	}
	return nil
}

// Stop gracefully drains the server.
func (s *Server) Stop() error {
	s.logger.Info("stopping api server")
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return s.server.Shutdown(ctx)
}

// handleWebSocket upgrades the connection and registers it with the hub.
// The optional path address subscribes the connection to that user's private
// streams.
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	address := chi.URLParam(r, "address")
	if address != "" && !validAddress(address) {
		writeError(w, http.StatusBadRequest, "invalid address")
		return
	}
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Error("websocket upgrade failed", "error", err)
		return
	}
	ws.NewClient(s.hub, conn, types.NormalizeAddress(address))
}
