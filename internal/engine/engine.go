// Package engine is the central orchestrator of the market-data service.
//
// It wires together all subsystems:
//
//  1. Intake consumes the indexer's decoded-event stream.
//  2. The handler reducers turn events into entity writes plus stream records,
//     gated by the sync watermark so backfill never reaches live clients.
//  3. The fan-out consumer shapes stream records into wire frames and hands
//     them to the WebSocket hub.
//  4. The REST server answers read queries over the entity store and upgrades
//     /ws connections; a standalone health listener probes the dependencies.
//
// Lifecycle: New() → Start() → [runs until SIGINT] → Stop()
package engine

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"clobfeed/internal/chain"
	"clobfeed/internal/config"
	"clobfeed/internal/consumer"
	"clobfeed/internal/handler"
	"clobfeed/internal/intake"
	"clobfeed/internal/market"
	"clobfeed/internal/rest"
	"clobfeed/internal/store"
	"clobfeed/internal/stream"
	"clobfeed/internal/syncgate"
	"clobfeed/internal/ws"
)

// Engine owns every component of the service and the lifecycle of their
// goroutines.
type Engine struct {
	cfg    *config.Config
	logger *slog.Logger

	redisClient *redis.Client
	pool        *pgxpool.Pool

	intake   *intake.Intake
	consumer *consumer.Consumer
	hub      *ws.Hub
	api      *rest.Server
	health   *rest.HealthServer

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New connects the external dependencies and wires all components. The sync
// watermark is seeded from the configured override or, absent one, the chain
// head at boot.
func New(cfg *config.Config, logger *slog.Logger) (*Engine, error) {
	ctx, cancel := context.WithCancel(context.Background())

	redisOpts, err := redis.ParseURL(cfg.Redis.URL)
	if err != nil {
		cancel()
		return nil, fmt.Errorf("invalid redis url: %w", err)
	}
	redisClient := redis.NewClient(redisOpts)
	if err := redisClient.Ping(ctx).Err(); err != nil {
		cancel()
		return nil, fmt.Errorf("redis unreachable: %w", err)
	}
	bus := stream.NewRedis(redisClient)

	pool, err := pgxpool.New(ctx, cfg.Database.URL)
	if err != nil {
		cancel()
		return nil, fmt.Errorf("create database pool: %w", err)
	}
	if err := store.EnsureSchema(ctx, pool); err != nil {
		cancel()
		pool.Close()
		return nil, fmt.Errorf("ensure schema: %w", err)
	}
	st := store.NewPostgres(pool)

	gate := syncgate.New(syncgate.NewRedisKV(redisClient), cfg.Chain.DefaultChainID)
	candidate := cfg.Chain.EnableBlockNumber
	if candidate == 0 {
		head := chain.NewHeadClient(cfg.Chain.RPCURL)
		if candidate, err = head.BlockNumber(ctx); err != nil {
			cancel()
			pool.Close()
			return nil, fmt.Errorf("fetch chain head: %w", err)
		}
	}
	watermark, err := gate.Init(ctx, candidate)
	if err != nil {
		cancel()
		pool.Close()
		return nil, fmt.Errorf("initialize sync gate: %w", err)
	}
	logger.Info("sync gate initialized",
		"chain", cfg.Chain.DefaultChainID,
		"enable_block", watermark,
	)

	processor := handler.New(st, bus, gate, logger)
	hub := ws.NewHub(cfg.WebSocket, logger)
	svc := market.NewService(st, cfg.Chain.DefaultChainID, logger)

	e := &Engine{
		cfg:         cfg,
		logger:      logger.With("component", "engine"),
		redisClient: redisClient,
		pool:        pool,
		intake:      intake.New(bus, processor, cfg, logger),
		consumer:    consumer.New(bus, hub, cfg, logger),
		hub:         hub,
		api:         rest.NewServer(cfg.Server, svc, hub, logger),
		ctx:         ctx,
		cancel:      cancel,
	}
	e.health = rest.NewHealthServer(cfg.Server.HealthPort, st,
		func(ctx context.Context) error { return redisClient.Ping(ctx).Err() },
		hub, logger)
	return e, nil
}

// Start creates the consumer groups and launches the pipeline and HTTP
// goroutines. A fatal component error cancels the engine context; watch
// Done() for it.
func (e *Engine) Start() error {
	if err := e.intake.EnsureGroup(e.ctx); err != nil {
		return fmt.Errorf("create intake group: %w", err)
	}
	if err := e.consumer.EnsureGroups(e.ctx); err != nil {
		return fmt.Errorf("create consumer groups: %w", err)
	}

	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		if err := e.intake.Run(e.ctx); err != nil && e.ctx.Err() == nil {
			e.logger.Error("intake stopped", "error", err)
			e.cancel()
		}
	}()

	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		if err := e.consumer.Run(e.ctx); err != nil && e.ctx.Err() == nil {
			e.logger.Error("consumer stopped", "error", err)
			e.cancel()
		}
	}()

	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		if err := e.api.Start(); err != nil {
			e.logger.Error("api server failed", "error", err)
			e.cancel()
		}
	}()

	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		if err := e.health.Start(); err != nil {
			e.logger.Error("health server failed", "error", err)
			e.cancel()
		}
	}()

	e.logger.Info("market data service started",
		"chain", e.cfg.Chain.DefaultChainID,
		"port", e.cfg.Server.Port,
		"health_port", e.cfg.Server.HealthPort,
		"consumer_group", e.cfg.ConsumerGroup(),
	)
	return nil
}

// Done closes when a fatal component error or Stop cancels the engine.
func (e *Engine) Done() <-chan struct{} { return e.ctx.Done() }

// Stop gracefully shuts down: cancels the context, drains the HTTP listeners,
// waits for the pipeline goroutines and closes the connections.
func (e *Engine) Stop() {
	e.logger.Info("shutting down...")
	e.cancel()

	if err := e.api.Stop(); err != nil {
		e.logger.Error("failed to stop api server", "error", err)
	}
	if err := e.health.Stop(); err != nil {
		e.logger.Error("failed to stop health server", "error", err)
	}

	e.wg.Wait()

	e.pool.Close()
	if err := e.redisClient.Close(); err != nil {
		e.logger.Error("failed to close redis client", "error", err)
	}
	e.logger.Info("shutdown complete")
}
