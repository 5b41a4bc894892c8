// clobfeed — real-time market-data distribution for an on-chain central
// limit order book.
//
// Architecture:
//
//	main.go              — entry point: config, logging, engine lifecycle
//	engine/engine.go     — orchestrator: wires and runs every component
//	intake/intake.go     — consumes the indexer's decoded-event stream
//	handler/processor.go — reducers: events → entity writes + stream records
//	syncgate/gate.go     — suppresses live push until backfill reaches the chain head
//	stream/redis.go      — Redis Streams bus between handlers and the fan-out
//	consumer/consumer.go — group consumer: stream records → wire frames → hub
//	ws/hub.go            — WebSocket fan-out: subscriptions + per-user streams
//	market/service.go    — REST read side over the entity store
//	rest/server.go       — chi router: /api/*, /ws/{address}, health listener
//	store/postgres.go    — pgx entity store (pools, orders, depth, trades, klines)
package main

import (
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"clobfeed/internal/config"
	"clobfeed/internal/engine"
)

func main() {
	cfgPath := "configs/config.yaml"
	if p := os.Getenv("FEED_CONFIG"); p != "" {
		cfgPath = p
	}

	cfg, err := config.Load(cfgPath)
	if err != nil {
		slog.Error("failed to load config", "error", err, "path", cfgPath)
		os.Exit(1)
	}
	if err := cfg.Validate(); err != nil {
		slog.Error("invalid config", "error", err)
		os.Exit(1)
	}

	var handler slog.Handler
	opts := &slog.HandlerOptions{Level: parseLogLevel(cfg.Logging.Level)}
	if cfg.Logging.Format == "json" {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		handler = slog.NewTextHandler(os.Stdout, opts)
	}
	logger := slog.New(handler)

	eng, err := engine.New(cfg, logger)
	if err != nil {
		logger.Error("failed to initialize", "error", err)
		os.Exit(1)
	}
	if err := eng.Start(); err != nil {
		logger.Error("failed to start", "error", err)
		os.Exit(1)
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		logger.Info("received shutdown signal", "signal", sig.String())
	case <-eng.Done():
	}
	eng.Stop()
}

func parseLogLevel(level string) slog.Level {
	switch level {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
