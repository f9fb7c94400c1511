// Package memory provides an in-memory task store for tests and local runs.
package memory

import (
	"context"
	"sort"
	"sync"

	"github.com/marketsense/marketsense/internal/store"
	"github.com/marketsense/marketsense/internal/task"
)

// Store keeps tasks in a mutex-guarded map. UpdateIf evaluates its guard and
// applies the mutation under the same lock, giving the same atomicity the
// remote backends provide via transactions.
type Store struct {
	mu    sync.RWMutex
	tasks map[string]task.Task
}

// New constructs an empty Store.
func New() *Store {
	return &Store{tasks: make(map[string]task.Task)}
}

// Get returns the task by id.
func (s *Store) Get(_ context.Context, id string) (task.Task, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	t, ok := s.tasks[id]
	if !ok {
		return task.Task{}, task.ErrNotFound
	}
	return cloneTask(t), nil
}

// Create inserts a new task, failing on duplicate ids.
func (s *Store) Create(_ context.Context, t task.Task) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.tasks[t.ID]; exists {
		return task.ErrExists
	}
	s.tasks[t.ID] = cloneTask(t)
	return nil
}

// List returns matching tasks ordered by created_at ascending.
func (s *Store) List(_ context.Context, q store.Query) ([]task.Task, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]task.Task, 0)
	for _, t := range s.tasks {
		if store.Matches(t, q) {
			out = append(out, cloneTask(t))
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	if q.Limit > 0 && len(out) > q.Limit {
		out = out[:q.Limit]
	}
	return out, nil
}

// UpdateIf applies mutate iff cond holds against the current task state.
func (s *Store) UpdateIf(_ context.Context, id string, cond store.Cond, mutate func(*task.Task)) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	current, ok := s.tasks[id]
	if !ok {
		return task.ErrNotFound
	}
	if !cond.Holds(current) {
		return task.ErrConflict
	}
	updated := cloneTask(current)
	mutate(&updated)
	s.tasks[id] = updated
	return nil
}

// All returns every task, for the report stage and tests.
func (s *Store) All(_ context.Context) ([]task.Task, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]task.Task, 0, len(s.tasks))
	for _, t := range s.tasks {
		out = append(out, cloneTask(t))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func cloneTask(t task.Task) task.Task {
	out := t
	if t.LeaseExpiresAt != nil {
		v := *t.LeaseExpiresAt
		out.LeaseExpiresAt = &v
	}
	if t.DownloadedAt != nil {
		v := *t.DownloadedAt
		out.DownloadedAt = &v
	}
	if t.AnalyzedAt != nil {
		v := *t.AnalyzedAt
		out.AnalyzedAt = &v
	}
	if t.ReviewedAt != nil {
		v := *t.ReviewedAt
		out.ReviewedAt = &v
	}
	if t.Result != nil {
		v := *t.Result
		v.BlockSignals = append([]string(nil), t.Result.BlockSignals...)
		out.Result = &v
	}
	if t.Analysis != nil {
		v := *t.Analysis
		v.KeyDiscussions = append([]string(nil), t.Analysis.KeyDiscussions...)
		out.Analysis = &v
	}
	if t.Review != nil {
		v := *t.Review
		v.Issues = append([]string(nil), t.Review.Issues...)
		out.Review = &v
	}
	return out
}
