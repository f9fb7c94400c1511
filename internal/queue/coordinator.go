// Package queue implements lease-based distribution of crawl tasks across
// concurrent workers.
package queue

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/marketsense/marketsense/internal/clock"
	"github.com/marketsense/marketsense/internal/metrics"
	"github.com/marketsense/marketsense/internal/store"
	"github.com/marketsense/marketsense/internal/task"
)

// Candidate overscan factor: CAS losers under concurrent claims would
// otherwise starve a batch selected at exactly the requested limit.
const claimOverscan = 3

// Coordinator hands out pending tasks under time-bounded exclusive leases.
// Concurrency safety comes entirely from the store's conditional updates;
// the coordinator holds no local locks.
type Coordinator struct {
	store  store.Store
	clock  clock.Clock
	logger *zap.Logger
}

// NewCoordinator constructs a Coordinator.
func NewCoordinator(st store.Store, clk clock.Clock, logger *zap.Logger) *Coordinator {
	return &Coordinator{store: st, clock: clk, logger: logger}
}

// Claim selects up to limit tasks that are pending, or running with an
// expired lease, oldest first, and claims each atomically: status becomes
// running, the lease is granted to workerID for the lease duration, and
// attempts is incremented. Tasks lost to concurrent claimers are skipped, so
// the result may be shorter than limit.
func (c *Coordinator) Claim(ctx context.Context, limit int, lease time.Duration, workerID string) ([]task.Task, error) {
	if limit <= 0 {
		return nil, nil
	}
	now := c.clock.Now()

	pending, err := c.store.List(ctx, store.Query{
		Status: task.StatusPending,
		Limit:  limit * claimOverscan,
	})
	if err != nil {
		return nil, fmt.Errorf("list pending tasks: %w", err)
	}
	abandoned, err := c.store.List(ctx, store.Query{
		Status:             task.StatusRunning,
		LeaseExpiredBefore: now,
		Limit:              limit * claimOverscan,
	})
	if err != nil {
		return nil, fmt.Errorf("list abandoned tasks: %w", err)
	}

	claimed := make([]task.Task, 0, limit)
	for _, candidate := range append(pending, abandoned...) {
		if len(claimed) >= limit {
			break
		}
		granted, err := c.claimOne(ctx, candidate, now, lease, workerID)
		switch {
		case err == nil:
			claimed = append(claimed, granted)
			metrics.ObserveClaim("granted")
		case errors.Is(err, task.ErrConflict), errors.Is(err, task.ErrNotFound):
			// Another worker won the race; expected under concurrency.
			metrics.ObserveClaim("conflict")
			c.logger.Debug("claim lost race", zap.String("task_id", candidate.ID))
		default:
			return claimed, fmt.Errorf("claim task %s: %w", candidate.ID, err)
		}
	}
	return claimed, nil
}

func (c *Coordinator) claimOne(ctx context.Context, candidate task.Task, now time.Time, lease time.Duration, workerID string) (task.Task, error) {
	expires := now.Add(lease)
	cond := store.Cond{
		Status:      candidate.Status,
		LeaseFreeAt: now,
	}
	err := c.store.UpdateIf(ctx, candidate.ID, cond, func(t *task.Task) {
		t.Status = task.StatusRunning
		t.LeaseOwner = workerID
		t.LeaseExpiresAt = &expires
		t.Attempts++
		t.UpdatedAt = now
	})
	if err != nil {
		return task.Task{}, err
	}
	return c.store.Get(ctx, candidate.ID)
}

// Complete marks a task done and records the fetch result. The caller must
// still hold the lease; if ownership was reclaimed meanwhile, Complete
// returns task.ErrLeaseLost and the caller must discard its partial work.
func (c *Coordinator) Complete(ctx context.Context, id, workerID string, result task.FetchResult) error {
	now := c.clock.Now()
	err := c.store.UpdateIf(ctx, id, c.holderCond(workerID, now), func(t *task.Task) {
		t.Status = task.StatusDone
		t.Result = &result
		t.LastError = ""
		t.ClearLease()
		t.DownloadedAt = &now
		t.UpdatedAt = now
	})
	return c.mapHolderErr(err, id, workerID, "complete")
}

// Fail marks a task errored with the failure description. Same lease
// ownership precondition as Complete.
func (c *Coordinator) Fail(ctx context.Context, id, workerID, message string) error {
	now := c.clock.Now()
	err := c.store.UpdateIf(ctx, id, c.holderCond(workerID, now), func(t *task.Task) {
		t.Status = task.StatusError
		t.LastError = message
		t.ClearLease()
		t.UpdatedAt = now
	})
	return c.mapHolderErr(err, id, workerID, "fail")
}

// Skip parks a task that policy refused to fetch. Terminal; maintenance
// never requeues it. Same lease ownership precondition as Complete.
func (c *Coordinator) Skip(ctx context.Context, id, workerID, reason string) error {
	now := c.clock.Now()
	err := c.store.UpdateIf(ctx, id, c.holderCond(workerID, now), func(t *task.Task) {
		t.Status = task.StatusSkipped
		t.SkipReason = reason
		t.ClearLease()
		t.UpdatedAt = now
	})
	return c.mapHolderErr(err, id, workerID, "skip")
}

func (c *Coordinator) holderCond(workerID string, now time.Time) store.Cond {
	return store.Cond{
		Status:      task.StatusRunning,
		LeaseOwner:  workerID,
		LeaseHeldAt: now,
	}
}

func (c *Coordinator) mapHolderErr(err error, id, workerID, op string) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, task.ErrConflict) {
		c.logger.Warn("lease lost",
			zap.String("op", op),
			zap.String("task_id", id),
			zap.String("worker_id", workerID),
		)
		return fmt.Errorf("%s task %s: %w", op, id, task.ErrLeaseLost)
	}
	return fmt.Errorf("%s task %s: %w", op, id, err)
}
