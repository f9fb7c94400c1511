package report

import (
	"context"
	"fmt"

	"github.com/marketsense/marketsense/internal/store"
	"github.com/marketsense/marketsense/internal/task"
)

var allStatuses = []task.Status{
	task.StatusPending,
	task.StatusRunning,
	task.StatusDone,
	task.StatusError,
	task.StatusSkipped,
}

// Gather collects every task from the store, one status query at a time,
// which keeps the report stage on the same store contract the coordinator
// uses.
func Gather(ctx context.Context, st store.Store) ([]task.Task, error) {
	var out []task.Task
	for _, status := range allStatuses {
		tasks, err := st.List(ctx, store.Query{Status: status})
		if err != nil {
			return nil, fmt.Errorf("list %s tasks: %w", status, err)
		}
		out = append(out, tasks...)
	}
	return out, nil
}
