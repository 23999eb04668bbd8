// Package lease guarantees at most one evaluation pass in flight per
// crosswalk, cluster-wide. The lease is an ephemeral document created
// atomically in the shared store; whoever wins the create runs the pass and
// deletes the lease on every exit path. Losing the create is the expected
// contended outcome, not an error: the in-flight pass re-reads state fresh,
// so a burst of mutations collapses into at most one follow-up pass.
package lease

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/crossguard/crossguard/internal/store"
)

// Runner executes one evaluation pass for a crosswalk id.
type Runner func(ctx context.Context, id string) error

// Coordinator schedules evaluation passes behind per-crosswalk leases.
type Coordinator struct {
	store  store.Store
	run    Runner
	logger *slog.Logger
	now    func() time.Time

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

const releaseTimeout = 5 * time.Second

// NewCoordinator creates a coordinator. Close must be called at shutdown to
// cancel in-flight passes and wait for their leases to be released.
func NewCoordinator(s store.Store, run Runner, logger *slog.Logger) *Coordinator {
	ctx, cancel := context.WithCancel(context.Background())
	return &Coordinator{
		store:  s,
		run:    run,
		logger: logger,
		now:    time.Now,
		ctx:    ctx,
		cancel: cancel,
	}
}

// Request attempts to win the evaluation lease for the crosswalk. On success
// the pass runs in the background with guaranteed lease release; when the
// lease is already held, Request returns nil immediately and trusts the
// in-flight pass (or the next sweep tick) to observe the mutation that
// prompted this call.
func (c *Coordinator) Request(ctx context.Context, id string) error {
	created, err := c.store.CreateIfAbsent(ctx, store.Leases, id, store.Document{
		"acquired_at": float64(c.now().UnixMilli()) / 1000.0,
	})
	if err != nil {
		return err
	}
	if !created {
		return nil
	}

	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		defer c.release(id)
		defer func() {
			if r := recover(); r != nil {
				c.logger.Error("evaluation pass panicked", "crosswalk_id", id, "panic", r)
			}
		}()
		if err := c.run(c.ctx, id); err != nil {
			c.logger.Warn("evaluation pass failed", "crosswalk_id", id, "error", err)
		}
	}()
	return nil
}

// release deletes the lease with a fresh context so it happens even when the
// owning pass was cancelled mid-flight.
func (c *Coordinator) release(id string) {
	ctx, cancel := context.WithTimeout(context.Background(), releaseTimeout)
	defer cancel()
	if err := c.store.Delete(ctx, store.Leases, id); err != nil {
		c.logger.Error("lease release failed, crosswalk may stall until cleared",
			"crosswalk_id", id, "error", err)
	}
}

// Close cancels in-flight passes and blocks until every lease is released.
func (c *Coordinator) Close() {
	c.cancel()
	c.wg.Wait()
}
