package report

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/marketsense/marketsense/internal/store/memory"
	"github.com/marketsense/marketsense/internal/task"
)

func sampleTasks() []task.Task {
	return []task.Task{
		{
			ID:       "done-1",
			URL:      "https://shop.example/p1",
			Status:   task.StatusDone,
			Attempts: 1,
			Result: &task.FetchResult{
				ResponseStatus: 200,
				FetchLatencyMs: 100,
			},
			Analysis: &task.Analysis{SentimentScore: 8},
			Review:   &task.QualityReview{Score: 80, Pass: true},
		},
		{
			ID:       "done-2",
			URL:      "https://shop.example/p2",
			Status:   task.StatusDone,
			Attempts: 3,
			Result: &task.FetchResult{
				ResponseStatus:   403,
				FetchLatencyMs:   300,
				BlockSignals:     []string{"http_403", "captcha"},
				BlockedSuspected: true,
			},
			Analysis: &task.Analysis{SentimentScore: 4},
			Review:   &task.QualityReview{Score: 40, Pass: false},
		},
		{
			ID:        "err-1",
			URL:       "https://forum.example/t1",
			Status:    task.StatusError,
			Attempts:  2,
			LastError: "timeout",
		},
		{
			ID:     "pending-1",
			URL:    "https://forum.example/t2",
			Status: task.StatusPending,
		},
	}
}

func TestSummarize(t *testing.T) {
	t.Parallel()
	s := Summarize(sampleTasks())

	require.Equal(t, 4, s.Total)
	require.Equal(t, 2, s.StatusCounts["done"])
	require.Equal(t, 1, s.StatusCounts["error"])
	require.Equal(t, 1, s.StatusCounts["pending"])
	require.Equal(t, 1, s.Errors)

	require.Equal(t, 1, s.ResponseStatusCounts["200"])
	require.Equal(t, 1, s.ResponseStatusCounts["403"])
	require.Equal(t, 1, s.BlockSignalCounts["http_403"])
	require.Equal(t, 1, s.BlockSignalCounts["captcha"])
	require.Equal(t, 1, s.BlockedCount)

	require.InDelta(t, 1.5, s.AvgAttempts, 0.001)
	require.Equal(t, int64(200), s.AvgLatencyMs)
	require.Equal(t, int64(300), s.MaxLatencyMs)

	require.Equal(t, 2, s.Domains["shop.example"].Total)
	require.Equal(t, 1, s.Domains["shop.example"].Blocked)
	require.Equal(t, 2, s.Domains["forum.example"].Total)

	require.Equal(t, 2, s.AnalyzedCount)
	require.InDelta(t, 6.0, s.AvgSentiment, 0.001)
	require.Equal(t, 2, s.ReviewedCount)
	require.Equal(t, 1, s.QualityPassCount)
	require.InDelta(t, 60.0, s.AvgQualityScore, 0.001)
}

func TestSummarizeEmpty(t *testing.T) {
	t.Parallel()
	s := Summarize(nil)
	require.Zero(t, s.Total)
	require.Zero(t, s.AvgAttempts)
	require.Zero(t, s.AvgLatencyMs)
}

func TestRenderIncludesKeySections(t *testing.T) {
	t.Parallel()
	out := Render(Summarize(sampleTasks()))

	require.Contains(t, out, "Tasks: 4")
	require.Contains(t, out, "done")
	require.Contains(t, out, "403")
	require.Contains(t, out, "captcha")
	require.Contains(t, out, "shop.example")
	require.Contains(t, out, "Analyzed: 2")
	require.Contains(t, out, "Reviewed: 2, passed 1")
	require.True(t, strings.HasSuffix(out, "\n"))
}

func TestGatherCollectsEveryStatus(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	st := memory.New()
	now := time.Unix(1700000000, 0).UTC()
	statuses := []task.Status{
		task.StatusPending, task.StatusRunning, task.StatusDone,
		task.StatusError, task.StatusSkipped,
	}
	for i, status := range statuses {
		require.NoError(t, st.Create(ctx, task.Task{
			ID:        string(status),
			URL:       "https://example.com/" + string(status),
			Status:    status,
			CreatedAt: now.Add(time.Duration(i) * time.Second),
			UpdatedAt: now,
		}))
	}

	tasks, err := Gather(ctx, st)
	require.NoError(t, err)
	require.Len(t, tasks, len(statuses))
}
