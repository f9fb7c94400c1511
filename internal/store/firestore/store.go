// Package firestore implements the task store on Google Cloud Firestore.
//
// Conditional updates run inside Firestore transactions, which gives the
// compare-and-swap semantics the coordinator requires: the guard is evaluated
// against the committed document and the write aborts on contention.
package firestore

import (
	"context"
	"fmt"

	"cloud.google.com/go/firestore"
	"google.golang.org/api/iterator"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/marketsense/marketsense/internal/store"
	"github.com/marketsense/marketsense/internal/task"
)

// Store persists tasks in a Firestore collection, one document per task,
// keyed by the task id.
type Store struct {
	client     *firestore.Client
	collection string
}

// New creates a Store over the given collection.
func New(client *firestore.Client, collection string) *Store {
	return &Store{client: client, collection: collection}
}

func (s *Store) doc(id string) *firestore.DocumentRef {
	return s.client.Collection(s.collection).Doc(id)
}

// Get returns the task by id.
func (s *Store) Get(ctx context.Context, id string) (task.Task, error) {
	snap, err := s.doc(id).Get(ctx)
	if status.Code(err) == codes.NotFound {
		return task.Task{}, task.ErrNotFound
	}
	if err != nil {
		return task.Task{}, fmt.Errorf("get document %s: %w", id, err)
	}
	var t task.Task
	if err := snap.DataTo(&t); err != nil {
		return task.Task{}, fmt.Errorf("decode document %s: %w", id, err)
	}
	return t, nil
}

// Create inserts the task, failing if the id already exists.
func (s *Store) Create(ctx context.Context, t task.Task) error {
	_, err := s.doc(t.ID).Create(ctx, t)
	if status.Code(err) == codes.AlreadyExists {
		return task.ErrExists
	}
	if err != nil {
		return fmt.Errorf("create document %s: %w", t.ID, err)
	}
	return nil
}

// List queries by status server-side, ordered by created_at ascending, and
// applies the remaining filters client-side. Firestore cannot express
// field-absence filters, so missing-analysis and missing-review checks always
// run on the client; the overscan factor compensates for filtered-out rows.
func (s *Store) List(ctx context.Context, q store.Query) ([]task.Task, error) {
	query := s.client.Collection(s.collection).
		Where("status", "==", string(q.Status)).
		OrderBy("created_at", firestore.Asc)
	if q.Limit > 0 {
		query = query.Limit(q.Limit * 4)
	}

	iter := query.Documents(ctx)
	defer iter.Stop()

	var out []task.Task
	for {
		snap, err := iter.Next()
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("iterate %s query: %w", q.Status, err)
		}
		var t task.Task
		if err := snap.DataTo(&t); err != nil {
			return nil, fmt.Errorf("decode document %s: %w", snap.Ref.ID, err)
		}
		if !store.Matches(t, q) {
			continue
		}
		out = append(out, t)
		if q.Limit > 0 && len(out) >= q.Limit {
			break
		}
	}
	return out, nil
}

// UpdateIf applies mutate inside a transaction iff cond holds against the
// committed document.
func (s *Store) UpdateIf(ctx context.Context, id string, cond store.Cond, mutate func(*task.Task)) error {
	err := s.client.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		snap, err := tx.Get(s.doc(id))
		if status.Code(err) == codes.NotFound {
			return task.ErrNotFound
		}
		if err != nil {
			return fmt.Errorf("get document %s: %w", id, err)
		}
		var t task.Task
		if err := snap.DataTo(&t); err != nil {
			return fmt.Errorf("decode document %s: %w", id, err)
		}
		if !cond.Holds(t) {
			return task.ErrConflict
		}
		mutate(&t)
		return tx.Set(s.doc(id), t)
	})
	return err
}
