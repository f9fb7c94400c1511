package queue

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/marketsense/marketsense/internal/clock/fake"
	"github.com/marketsense/marketsense/internal/store"
	"github.com/marketsense/marketsense/internal/store/memory"
	"github.com/marketsense/marketsense/internal/task"
	"github.com/marketsense/marketsense/internal/urlutil"
)

func TestEnqueueDeduplicatesByURLHash(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	clk := fake.New(time.Unix(1700000000, 0).UTC())
	st := memory.New()
	enq := NewEnqueuer(st, clk, zap.NewNop())

	campaign := task.Campaign{Brand: "Acme", Product: "Widget"}
	count, err := enq.Enqueue(ctx, []string{
		"https://example.com/review",
		"https://example.com/review",
		"  ",
		"https://example.com/other",
	}, campaign, false)
	require.NoError(t, err)
	require.Equal(t, 2, count)

	got, err := st.Get(ctx, urlutil.Hash("https://example.com/review"))
	require.NoError(t, err)
	require.Equal(t, task.StatusPending, got.Status)
	require.Equal(t, "Acme", got.Campaign.Brand)
	require.Equal(t, urlutil.Normalize("https://example.com/review"), got.NormalizedURL)
}

func TestEnqueueExistingIsNoOpWithoutForce(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	clk := fake.New(time.Unix(1700000000, 0).UTC())
	st := memory.New()
	enq := NewEnqueuer(st, clk, zap.NewNop())

	url := "https://example.com/page"
	_, err := enq.Enqueue(ctx, []string{url}, task.Campaign{}, false)
	require.NoError(t, err)

	id := urlutil.Hash(url)
	require.NoError(t, st.UpdateIf(ctx, id, store.Cond{Status: task.StatusPending}, func(u *task.Task) {
		u.Status = task.StatusDone
	}))

	count, err := enq.Enqueue(ctx, []string{url}, task.Campaign{}, false)
	require.NoError(t, err)
	require.Zero(t, count)

	got, err := st.Get(ctx, id)
	require.NoError(t, err)
	require.Equal(t, task.StatusDone, got.Status)
}

func TestEnqueueForceResetsTerminalTask(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	clk := fake.New(time.Unix(1700000000, 0).UTC())
	st := memory.New()
	coord := NewCoordinator(st, clk, zap.NewNop())
	enq := NewEnqueuer(st, clk, zap.NewNop())

	url := "https://example.com/page"
	_, err := enq.Enqueue(ctx, []string{url}, task.Campaign{}, false)
	require.NoError(t, err)

	id := urlutil.Hash(url)
	_, err = coord.Claim(ctx, 1, time.Minute, "worker-a")
	require.NoError(t, err)
	require.NoError(t, coord.Fail(ctx, id, "worker-a", "boom"))

	count, err := enq.Enqueue(ctx, []string{url}, task.Campaign{}, true)
	require.NoError(t, err)
	require.Equal(t, 1, count)

	got, err := st.Get(ctx, id)
	require.NoError(t, err)
	require.Equal(t, task.StatusPending, got.Status)
	require.Empty(t, got.LastError)
	require.Empty(t, got.LeaseOwner)
	// Attempts survive the reset so the requeue ceiling keeps counting.
	require.Equal(t, 1, got.Attempts)
}

func TestEnqueueForceOnPendingDoesNothing(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	clk := fake.New(time.Unix(1700000000, 0).UTC())
	st := memory.New()
	enq := NewEnqueuer(st, clk, zap.NewNop())

	url := "https://example.com/page"
	_, err := enq.Enqueue(ctx, []string{url}, task.Campaign{}, false)
	require.NoError(t, err)

	count, err := enq.Enqueue(ctx, []string{url}, task.Campaign{}, true)
	require.NoError(t, err)
	require.Zero(t, count)
}
