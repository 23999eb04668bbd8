// Package sweep periodically re-triggers evaluation for every known
// crosswalk. It is the safety net that makes TTL pruning and alert-end
// transitions happen even when no client event arrives: a driver whose
// connection silently dies still falls off within one sweep interval.
package sweep

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/crossguard/crossguard/internal/crosswalk"
)

// Requester requests an evaluation pass for one crosswalk.
type Requester interface {
	Request(ctx context.Context, id string) error
}

// Config controls the sweep cadence and per-tick concurrency.
type Config struct {
	Interval time.Duration
	Workers  int
}

// DefaultConfig returns production defaults.
func DefaultConfig() Config {
	return Config{Interval: 1 * time.Second, Workers: 4}
}

// Scheduler is the periodic sweep loop.
type Scheduler struct {
	registry  *crosswalk.Registry
	requester Requester
	cfg       Config
	logger    *slog.Logger
}

// NewScheduler creates a sweep scheduler.
func NewScheduler(registry *crosswalk.Registry, requester Requester, cfg Config, logger *slog.Logger) *Scheduler {
	if cfg.Workers < 1 {
		cfg.Workers = 1
	}
	return &Scheduler{registry: registry, requester: requester, cfg: cfg, logger: logger}
}

// Start blocks until ctx is cancelled, running one sweep per interval.
// Intended to be called with `go`. Tick failures are logged and swallowed;
// the loop never terminates on a transient error.
func (s *Scheduler) Start(ctx context.Context) {
	s.logger.Info("Sweep scheduler started", "interval", s.cfg.Interval, "workers", s.cfg.Workers)
	ticker := time.NewTicker(s.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			s.Tick(ctx)
		case <-ctx.Done():
			s.logger.Info("Sweep scheduler stopped")
			return
		}
	}
}

// Tick runs one sweep over all crosswalks: empty documents are collected,
// everything else gets an evaluation request. Exported so the ops CLI can
// run a single synchronous sweep.
func (s *Scheduler) Tick(ctx context.Context) {
	ids, err := s.registry.ListIDs(ctx)
	if err != nil {
		s.logger.Warn("sweep: list crosswalks failed", "error", err)
		return
	}
	if len(ids) == 0 {
		return
	}

	workers := s.cfg.Workers
	if workers > len(ids) {
		workers = len(ids)
	}

	ch := make(chan string, len(ids))
	for _, id := range ids {
		ch <- id
	}
	close(ch)

	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for id := range ch {
				s.sweepOne(ctx, id)
			}
		}()
	}
	wg.Wait()
}

func (s *Scheduler) sweepOne(ctx context.Context, id string) {
	state, ok, err := s.registry.Get(ctx, id)
	if err != nil {
		s.logger.Warn("sweep: load crosswalk failed", "crosswalk_id", id, "error", err)
		return
	}
	if !ok {
		return
	}

	if state.Empty() {
		// Opportunistic GC: nothing present, no hysteresis to retire. The
		// delete is conditional, so a join racing this pass wins.
		collected, err := s.registry.CollectIfEmpty(ctx, id)
		if err != nil {
			s.logger.Warn("sweep: collect empty crosswalk failed", "crosswalk_id", id, "error", err)
		} else if collected {
			s.logger.Debug("sweep: collected empty crosswalk", "crosswalk_id", id)
		}
		return
	}

	if err := s.requester.Request(ctx, id); err != nil {
		s.logger.Warn("sweep: evaluation request failed", "crosswalk_id", id, "error", err)
	}
}
