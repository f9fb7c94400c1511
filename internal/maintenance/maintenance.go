// Package maintenance restores queue liveness after worker failures.
package maintenance

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

// Config controls requeue policy.
type Config struct {
	// MaxAttempts caps how many claims a task may accrue before RequeueErrors
	// leaves it in error for operator review. Zero disables the ceiling.
	MaxAttempts int
}

// Job sweeps the task store for abandoned leases and stale errors. Designed
// to run periodically, concurrently with active claim traffic: it only
// touches lease-expired running tasks and stale errors, never fresh leases.
type Job struct {
	store  store.Store
	clock  clock.Clock
	cfg    Config
	logger *zap.Logger
}

// New constructs a maintenance Job.
func New(st store.Store, clk clock.Clock, cfg Config, logger *zap.Logger) *Job {
	return &Job{store: st, clock: clk, cfg: cfg, logger: logger}
}

// ReclaimExpired resets up to limit running tasks whose lease has lapsed
// back to pending. Each reset is conditional on the lease still being the
// one observed, so a fresh claim by another worker is never clobbered.
// Idempotent: a second sweep finds nothing to do.
func (j *Job) ReclaimExpired(ctx context.Context, limit int) (int, error) {
	now := j.clock.Now()
	expired, err := j.store.List(ctx, store.Query{
		Status:             task.StatusRunning,
		LeaseExpiredBefore: now,
		Limit:              limit,
	})
	if err != nil {
		return 0, fmt.Errorf("list expired leases: %w", err)
	}

	reclaimed := 0
	for _, t := range expired {
		cond := store.Cond{
			Status:         task.StatusRunning,
			LeaseExpiresAt: t.LeaseExpiresAt,
		}
		err := j.store.UpdateIf(ctx, t.ID, cond, func(u *task.Task) {
			u.Status = task.StatusPending
			u.ClearLease()
			u.UpdatedAt = now
		})
		switch {
		case err == nil:
			reclaimed++
			j.logger.Info("lease reclaimed",
				zap.String("task_id", t.ID),
				zap.String("previous_owner", t.LeaseOwner),
			)
		case errors.Is(err, task.ErrConflict), errors.Is(err, task.ErrNotFound):
			// The task was re-claimed or completed since we listed it.
		default:
			return reclaimed, fmt.Errorf("reclaim task %s: %w", t.ID, err)
		}
	}
	metrics.ObserveReclaim(reclaimed)
	return reclaimed, nil
}

// RequeueErrors resets up to limit errored tasks older than the threshold
// back to pending, clearing last_error but keeping attempts so the ceiling
// still applies. Tasks at or over MaxAttempts are left for operators.
func (j *Job) RequeueErrors(ctx context.Context, olderThan time.Duration, limit int) (int, error) {
	now := j.clock.Now()
	stale, err := j.store.List(ctx, store.Query{
		Status:        task.StatusError,
		UpdatedBefore: now.Add(-olderThan),
		Limit:         limit,
	})
	if err != nil {
		return 0, fmt.Errorf("list stale errors: %w", err)
	}

	requeued := 0
	for _, t := range stale {
		if j.cfg.MaxAttempts > 0 && t.Attempts >= j.cfg.MaxAttempts {
			j.logger.Warn("task exhausted attempts, leaving in error",
				zap.String("task_id", t.ID),
				zap.Int("attempts", t.Attempts),
			)
			continue
		}
		err := j.store.UpdateIf(ctx, t.ID, store.Cond{Status: task.StatusError}, func(u *task.Task) {
			u.Status = task.StatusPending
			u.LastError = ""
			u.ClearLease()
			u.UpdatedAt = now
		})
		switch {
		case err == nil:
			requeued++
		case errors.Is(err, task.ErrConflict), errors.Is(err, task.ErrNotFound):
			// Transitioned since listing; nothing to do.
		default:
			return requeued, fmt.Errorf("requeue task %s: %w", t.ID, err)
		}
	}
	metrics.ObserveRequeue(requeued)
	return requeued, nil
}
