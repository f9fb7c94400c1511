package review

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
)

type stubCompleter struct {
	response string
	calls    int
}

func (s *stubCompleter) Complete(context.Context, string, string) (string, error) {
	s.calls++
	return s.response, nil
}

func seedAnalyzed(t *testing.T, st *memory.Store, id string, analysis *task.Analysis) {
	t.Helper()
	now := time.Unix(1700000000, 0).UTC()
	require.NoError(t, st.Create(context.Background(), task.Task{
		ID:        id,
		URL:       "https://example.com/" + id,
		Status:    task.StatusDone,
		Analysis:  analysis,
		CreatedAt: now,
		UpdatedAt: now,
	}))
}

func TestRunReviewsAnalyzedTasks(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	st := memory.New()
	clk := fake.New(time.Unix(1700000000, 0).UTC())

	seedAnalyzed(t, st, "t1", &task.Analysis{SentimentScore: 8, SentimentSummary: "positive"})
	seedAnalyzed(t, st, "unanalyzed", nil)

	completer := &stubCompleter{response: `{"quality_score": 85, "quality_pass": true, "notes": "solid"}`}
	rev := New(st, completer, clk, zap.NewNop())

	n, err := rev.Run(ctx, 10, false)
	require.NoError(t, err)
	require.Equal(t, 1, n)
	require.Equal(t, 1, completer.calls)

	got, err := st.Get(ctx, "t1")
	require.NoError(t, err)
	require.NotNil(t, got.Review)
	require.Equal(t, 85, got.Review.Score)
	require.True(t, got.Review.Pass)
	require.NotNil(t, got.ReviewedAt)
}

func TestRunSkipsReviewedUnlessForced(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	st := memory.New()
	clk := fake.New(time.Unix(1700000000, 0).UTC())

	seedAnalyzed(t, st, "t1", &task.Analysis{SentimentScore: 8})
	require.NoError(t, st.UpdateIf(ctx, "t1", store.Cond{Status: task.StatusDone}, func(u *task.Task) {
		u.Review = &task.QualityReview{Score: 50}
	}))

	completer := &stubCompleter{response: `{"quality_score": 90}`}
	rev := New(st, completer, clk, zap.NewNop())

	n, err := rev.Run(ctx, 10, false)
	require.NoError(t, err)
	require.Zero(t, n)

	n, err = rev.Run(ctx, 10, true)
	require.NoError(t, err)
	require.Equal(t, 1, n)

	got, err := st.Get(ctx, "t1")
	require.NoError(t, err)
	require.Equal(t, 90, got.Review.Score)
}

func TestNormalizeClampsAndDerivesPass(t *testing.T) {
	t.Parallel()

	got := Normalize(map[string]any{"quality_score": 150.0})
	require.Equal(t, 100, got.Score)
	require.True(t, got.Pass)

	got = Normalize(map[string]any{"quality_score": -5.0})
	require.Zero(t, got.Score)
	require.False(t, got.Pass)

	// Explicit pass flag overrides the threshold derivation.
	got = Normalize(map[string]any{"quality_score": 90.0, "quality_pass": false})
	require.False(t, got.Pass)

	got = Normalize(map[string]any{
		"quality_score": 70.0,
		"issues":        []any{"thin evidence"},
		"notes":         "borderline",
	})
	require.True(t, got.Pass)
	require.Equal(t, []string{"thin evidence"}, got.Issues)
	require.Equal(t, "borderline", got.Notes)
}
