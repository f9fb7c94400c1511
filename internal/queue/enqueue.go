package queue

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/marketsense/marketsense/internal/clock"
	"github.com/marketsense/marketsense/internal/store"
	"github.com/marketsense/marketsense/internal/task"
	"github.com/marketsense/marketsense/internal/urlutil"
)

// Enqueuer inserts crawl tasks with URL-hash deduplication.
type Enqueuer struct {
	store  store.Store
	clock  clock.Clock
	logger *zap.Logger
}

// NewEnqueuer constructs an Enqueuer.
func NewEnqueuer(st store.Store, clk clock.Clock, logger *zap.Logger) *Enqueuer {
	return &Enqueuer{store: st, clock: clk, logger: logger}
}

// Enqueue inserts one task per URL and returns how many were created or
// requeued. A URL whose id already exists is a no-op unless force is set, in
// which case the existing record resets to pending with its lease cleared
// (attempts are preserved so requeue ceilings keep working).
func (e *Enqueuer) Enqueue(ctx context.Context, urls []string, campaign task.Campaign, force bool) (int, error) {
	count := 0
	for _, raw := range urls {
		raw = strings.TrimSpace(raw)
		if raw == "" {
			continue
		}
		accepted, err := e.enqueueOne(ctx, raw, campaign, force)
		if err != nil {
			return count, err
		}
		if accepted {
			count++
		}
	}
	return count, nil
}

func (e *Enqueuer) enqueueOne(ctx context.Context, raw string, campaign task.Campaign, force bool) (bool, error) {
	normalized := urlutil.Normalize(raw)
	id := urlutil.Hash(raw)
	now := e.clock.Now()

	err := e.store.Create(ctx, task.Task{
		ID:            id,
		URL:           raw,
		NormalizedURL: normalized,
		Campaign:      campaign,
		Status:        task.StatusPending,
		CreatedAt:     now,
		UpdatedAt:     now,
	})
	if err == nil {
		e.logger.Debug("task enqueued", zap.String("task_id", id), zap.String("url", raw))
		return true, nil
	}
	if !errors.Is(err, task.ErrExists) {
		return false, fmt.Errorf("create task %s: %w", id, err)
	}
	if !force {
		return false, nil
	}
	return e.forceRequeue(ctx, id)
}

// forceRequeue resets an existing record to pending, clearing lease and
// error fields. The reset is CAS-guarded on the observed status; a conflict
// means a concurrent transition happened, so the read is retried.
func (e *Enqueuer) forceRequeue(ctx context.Context, id string) (bool, error) {
	const maxRetries = 3
	for attempt := 0; attempt < maxRetries; attempt++ {
		current, err := e.store.Get(ctx, id)
		if err != nil {
			return false, fmt.Errorf("get task %s: %w", id, err)
		}
		if current.Status == task.StatusPending {
			return false, nil
		}
		now := e.clock.Now()
		err = e.store.UpdateIf(ctx, id, store.Cond{Status: current.Status}, func(t *task.Task) {
			t.Status = task.StatusPending
			t.LastError = ""
			t.SkipReason = ""
			t.ClearLease()
			t.UpdatedAt = now
		})
		if err == nil {
			e.logger.Info("task force requeued", zap.String("task_id", id))
			return true, nil
		}
		if !errors.Is(err, task.ErrConflict) {
			return false, fmt.Errorf("requeue task %s: %w", id, err)
		}
	}
	return false, fmt.Errorf("requeue task %s: %w", id, task.ErrConflict)
}
