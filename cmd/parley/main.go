// Parley chat server — exposes the streaming chat API, runs the agent
// registry and multi-agent orchestrator, and persists threads and messages.
package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"

	"github.com/parleyhq/parley/pkg/abort"
	"github.com/parleyhq/parley/pkg/agent"
	"github.com/parleyhq/parley/pkg/agent/orchestrator"
	"github.com/parleyhq/parley/pkg/api"
	"github.com/parleyhq/parley/pkg/chatstore"
	"github.com/parleyhq/parley/pkg/cleanup"
	"github.com/parleyhq/parley/pkg/config"
	"github.com/parleyhq/parley/pkg/llm"
	"github.com/parleyhq/parley/pkg/search"
	"github.com/parleyhq/parley/pkg/version"
)

// shutdownTimeout bounds the graceful drain on SIGINT/SIGTERM.
const shutdownTimeout = 15 * time.Second

func main() {
	if err := godotenv.Load(); err != nil {
		slog.Debug("no .env file, continuing with existing environment", "error", err)
	}

	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	cfg, err := config.Load()
	if err != nil {
		logger.Error("failed to load configuration", "error", err)
		os.Exit(1)
	}

	logger.Info("starting parley",
		"version", version.Full(),
		"addr", cfg.App.Addr(),
		"base_path", cfg.App.BasePath,
		"llm_provider", cfg.LLM.Provider,
		"database_provider", cfg.Database.Provider,
		"stream_store_provider", cfg.StreamStore.Provider)

	// 1. LLM provider façade
	client, err := llm.New(cfg.LLM)
	if err != nil {
		logger.Error("failed to build llm client", "error", err)
		os.Exit(1)
	}
	defer client.Close() //nolint:errcheck

	// 2. Chat store
	store, err := newStore(cfg)
	if err != nil {
		logger.Error("failed to open chat store", "error", err)
		os.Exit(1)
	}
	defer func() {
		if err := store.Close(); err != nil {
			logger.Error("error closing chat store", "error", err)
		}
	}()

	// 3. Abort fabric, cross-instance when Redis is configured
	var rdb *redis.Client
	if cfg.StreamStore.Provider == config.StreamStoreRedis {
		redisOpts, err := redis.ParseURL(cfg.StreamStore.RedisURL)
		if err != nil {
			logger.Error("invalid REDIS_URL", "error", err)
			os.Exit(1)
		}
		rdb = redis.NewClient(redisOpts)
		defer rdb.Close() //nolint:errcheck
	}
	fabric := abort.NewFabric(rdb, logger)
	defer fabric.Shutdown()

	// 4. Agents
	searcher := &search.MockSearcher{}
	registry := agent.NewRegistry()
	registry.Register(agent.NamePlain, agent.NewPlainAgent(client))
	registry.Register(agent.NameRAG, agent.NewRAGAgent(client, searcher))
	registry.Register(agent.NameResearcher, agent.NewResearcherAgent(client))
	registry.Register(agent.NamePlanner, agent.NewPlannerAgent(client))
	registry.Register(agent.NameParallelSearch, agent.NewParallelSearchAgent(searcher))
	registry.Register(agent.NameResultRanker, agent.NewResultRankerAgent(client))
	registry.Register(agent.NameWriter, agent.NewWriterAgent(client))
	registry.Register(agent.NameMultiAgent, orchestrator.New(registry, logger))

	// 5. Retention sweep for soft-deleted threads
	retention := cleanup.NewService(cleanup.DefaultConfig(), store, logger)
	retention.Start(context.Background())
	defer retention.Stop()

	// 6. HTTP server
	srv := api.NewServer(api.Config{
		Addr:     cfg.App.Addr(),
		BasePath: cfg.App.BasePath,
	}, registry, store, fabric, logger)

	errCh := make(chan error, 1)
	go func() { errCh <- srv.Start() }()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		logger.Info("shutting down", "signal", sig.String())
	case err := <-errCh:
		if err != nil {
			logger.Error("http server failed", "error", err)
			os.Exit(1)
		}
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	fabric.Shutdown()
	if err := srv.Shutdown(ctx); err != nil {
		logger.Error("graceful shutdown failed", "error", err)
		os.Exit(1)
	}
	logger.Info("shutdown complete")
}

// newStore opens the configured persistence backend.
func newStore(cfg *config.Config) (chatstore.Store, error) {
	switch cfg.Database.Provider {
	case config.DatabaseSQLite:
		return chatstore.NewSQLiteStore(cfg.Database.SQLitePath)
	case config.DatabaseCosmosDB:
		return chatstore.NewCosmosStore(cfg.Database.Cosmos)
	default:
		return chatstore.NewMemoryStore(), nil
	}
}
