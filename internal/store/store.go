// Package store defines the task store contract.
//
// All state transitions in the queue coordinator and maintenance job go
// through UpdateIf, a compare-and-swap primitive: the mutation applies only
// if the guard condition on the task's current fields holds. A plain
// read-then-write is a race and is never used for transitions.
package store

import (
	"context"
	"time"

	"github.com/marketsense/marketsense/internal/task"
)

// Cond describes the prior state an update is conditioned on. The zero value
// of each field disables that check.
type Cond struct {
	// Status the task must currently hold. Required.
	Status task.Status
	// LeaseOwner, when non-empty, must match the current lease owner.
	LeaseOwner string
	// LeaseHeldAt, when non-zero, requires an unexpired lease at that instant.
	LeaseHeldAt time.Time
	// LeaseFreeAt, when non-zero, requires the lease to be absent or expired
	// at that instant.
	LeaseFreeAt time.Time
	// LeaseExpiresAt, when non-nil, must equal the stored expiry exactly.
	// Used by reclaim to avoid clobbering a fresh claim.
	LeaseExpiresAt *time.Time
}

// Holds reports whether the condition matches the given task snapshot.
func (c Cond) Holds(t task.Task) bool {
	if t.Status != c.Status {
		return false
	}
	if c.LeaseOwner != "" && t.LeaseOwner != c.LeaseOwner {
		return false
	}
	if !c.LeaseHeldAt.IsZero() && !t.LeaseHeld(c.LeaseHeldAt) {
		return false
	}
	if !c.LeaseFreeAt.IsZero() && t.LeaseHeld(c.LeaseFreeAt) {
		return false
	}
	if c.LeaseExpiresAt != nil {
		if t.LeaseExpiresAt == nil || !t.LeaseExpiresAt.Equal(*c.LeaseExpiresAt) {
			return false
		}
	}
	return true
}

// Query selects tasks by status with optional time filters. Results are
// ordered by created_at ascending (oldest first) and capped at Limit.
type Query struct {
	Status task.Status
	// LeaseExpiredBefore, when non-zero, keeps only tasks whose lease expiry
	// is set and earlier than the instant.
	LeaseExpiredBefore time.Time
	// UpdatedBefore, when non-zero, keeps only tasks last touched earlier
	// than the instant.
	UpdatedBefore time.Time
	// MissingAnalysis keeps only tasks without an analysis payload.
	MissingAnalysis bool
	// MissingReview keeps only tasks without a quality review payload.
	MissingReview bool
	Limit         int
}

// Store is the document-store access contract for crawl tasks.
//
// Get, List, Create and UpdateIf are blocking round-trips to the backend;
// callers must not hold local locks across them.
type Store interface {
	// Get returns the task by id, or task.ErrNotFound.
	Get(ctx context.Context, id string) (task.Task, error)
	// Create inserts a new task, or returns task.ErrExists.
	Create(ctx context.Context, t task.Task) error
	// List returns tasks matching the query, oldest first.
	List(ctx context.Context, q Query) ([]task.Task, error)
	// UpdateIf atomically applies mutate to the task iff cond holds against
	// its current state. Returns task.ErrConflict when the guard fails and
	// task.ErrNotFound when the id is unknown.
	UpdateIf(ctx context.Context, id string, cond Cond, mutate func(*task.Task)) error
}

// Matches reports whether a task snapshot satisfies the query filters.
// Shared by implementations that filter client-side.
func Matches(t task.Task, q Query) bool {
	if t.Status != q.Status {
		return false
	}
	if !q.LeaseExpiredBefore.IsZero() {
		if t.LeaseExpiresAt == nil || !t.LeaseExpiresAt.Before(q.LeaseExpiredBefore) {
			return false
		}
	}
	if !q.UpdatedBefore.IsZero() && !t.UpdatedAt.Before(q.UpdatedBefore) {
		return false
	}
	if q.MissingAnalysis && t.Analysis != nil {
		return false
	}
	if q.MissingReview && t.Review != nil {
		return false
	}
	return true
}
