// Package cleanup provides data retention for soft-deleted threads.
package cleanup

import (
	"context"
	"log/slog"
	"time"

	"github.com/parleyhq/parley/pkg/chatstore"
)

// Config sets the retention policy.
type Config struct {
	// Retention is how long a soft-deleted thread survives before it is
	// purged along with its messages.
	Retention time.Duration
	// Interval is the sweep cadence.
	Interval time.Duration
}

// DefaultConfig keeps soft-deleted threads for 30 days, sweeping hourly.
func DefaultConfig() Config {
	return Config{Retention: 30 * 24 * time.Hour, Interval: time.Hour}
}

// Service periodically purges threads that were soft-deleted longer ago
// than the retention window. Sweeps are idempotent and safe to run from
// multiple instances.
type Service struct {
	cfg    Config
	store  chatstore.Store
	logger *slog.Logger

	cancel context.CancelFunc
	done   chan struct{}
}

// NewService creates a retention service over store.
func NewService(cfg Config, store chatstore.Store, logger *slog.Logger) *Service {
	if cfg.Retention <= 0 {
		cfg.Retention = DefaultConfig().Retention
	}
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultConfig().Interval
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{cfg: cfg, store: store, logger: logger}
}

// Start launches the background sweep loop.
func (s *Service) Start(ctx context.Context) {
	if s.cancel != nil {
		return
	}
	ctx, s.cancel = context.WithCancel(ctx)
	s.done = make(chan struct{})

	go s.run(ctx)

	s.logger.Info("retention service started",
		"retention", s.cfg.Retention, "interval", s.cfg.Interval)
}

// Stop signals the sweep loop to exit and waits for it to finish.
func (s *Service) Stop() {
	if s.cancel == nil {
		return
	}
	s.cancel()
	<-s.done
	s.logger.Info("retention service stopped")
}

func (s *Service) run(ctx context.Context) {
	defer close(s.done)

	s.Sweep(ctx)

	ticker := time.NewTicker(s.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.Sweep(ctx)
		}
	}
}

// Sweep runs one purge pass and returns the number of threads removed.
func (s *Service) Sweep(ctx context.Context) int {
	cutoff := time.Now().UTC().Add(-s.cfg.Retention)
	count, err := s.store.PurgeDeletedThreads(ctx, cutoff)
	if err != nil {
		s.logger.Error("retention purge failed", "error", err)
		return 0
	}
	if count > 0 {
		s.logger.Info("retention purged soft-deleted threads", "count", count)
	}
	return count
}
