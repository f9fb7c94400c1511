package pipeline

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/marketsense/marketsense/internal/analyzer"
	"github.com/marketsense/marketsense/internal/clock/fake"
	"github.com/marketsense/marketsense/internal/crawler"
	"github.com/marketsense/marketsense/internal/maintenance"
	"github.com/marketsense/marketsense/internal/queue"
	"github.com/marketsense/marketsense/internal/review"
	"github.com/marketsense/marketsense/internal/storage/local"
	"github.com/marketsense/marketsense/internal/store/memory"
	"github.com/marketsense/marketsense/internal/task"
	"github.com/marketsense/marketsense/internal/throttle"
	"github.com/marketsense/marketsense/internal/urlutil"
	"github.com/marketsense/marketsense/internal/worker"
)

type stubFetcher struct{}

func (stubFetcher) Fetch(_ context.Context, req crawler.FetchRequest) (crawler.FetchResponse, error) {
	return crawler.FetchResponse{
		URL:        req.URL,
		StatusCode: 200,
		Body:       []byte("<html><head><title>p</title></head><body>The product is praised by reviewers.</body></html>"),
		Title:      "p",
		Duration:   10 * time.Millisecond,
	}, nil
}

type openRobots struct{}

func (openRobots) Allowed(context.Context, string) bool { return true }

type stubCompleter struct{}

func (stubCompleter) Complete(context.Context, string, string) (string, error) {
	return `{"sentiment_score": 8, "sentiment_summary": "positive", "key_discussions": ["quality"],
		"buying_intent": "high", "quality_score": 82, "quality_pass": true}`, nil
}

func TestRunExecutesAllStages(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	logger := zap.NewNop()
	clk := fake.New(time.Unix(1700000000, 0).UTC())
	st := memory.New()

	blob, err := local.New(local.Config{BaseDir: t.TempDir()})
	require.NoError(t, err)

	w := worker.New(
		queue.NewCoordinator(st, clk, logger),
		nil,
		openRobots{},
		throttle.New(throttle.Config{DelayBase: time.Millisecond, DelayMax: 10 * time.Millisecond}, clk),
		nil,
		stubFetcher{},
		nil,
		clk,
		worker.Config{WorkerID: "w1", BatchLimit: 10, Lease: time.Minute, LocalStore: blob},
		logger,
	)
	an := analyzer.New(st, nil, stubCompleter{}, clk, analyzer.Config{}, logger)
	rev := review.New(st, stubCompleter{}, clk, logger)
	maint := maintenance.New(st, clk, maintenance.Config{MaxAttempts: 5}, logger)

	p := New(st, maint, queue.NewEnqueuer(st, clk, logger), w, an, rev, logger)

	urls := []string{"https://example.com/a", "https://example.com/b"}
	summary, err := p.Run(ctx, Config{
		URLs:     urls,
		Campaign: task.Campaign{Brand: "Acme"},
	})
	require.NoError(t, err)

	require.Equal(t, 2, summary.Total)
	require.Equal(t, 2, summary.StatusCounts["done"])
	require.Equal(t, 2, summary.AnalyzedCount)
	require.Equal(t, 2, summary.ReviewedCount)
	require.Equal(t, 2, summary.QualityPassCount)

	for _, url := range urls {
		got, err := st.Get(ctx, urlutil.Hash(url))
		require.NoError(t, err)
		require.Equal(t, task.StatusDone, got.Status)
		require.NotNil(t, got.Result)
		require.NotNil(t, got.Analysis)
		require.NotNil(t, got.Review)
	}
}

func TestRunReclaimsAbandonedLeasesFirst(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	logger := zap.NewNop()
	clk := fake.New(time.Unix(1700000000, 0).UTC())
	st := memory.New()
	coord := queue.NewCoordinator(st, clk, logger)

	// A task abandoned mid-crawl by a dead worker.
	url := "https://example.com/abandoned"
	now := clk.Now()
	require.NoError(t, st.Create(ctx, task.Task{
		ID:        urlutil.Hash(url),
		URL:       url,
		Status:    task.StatusPending,
		CreatedAt: now,
		UpdatedAt: now,
	}))
	_, err := coord.Claim(ctx, 1, time.Second, "dead-worker")
	require.NoError(t, err)
	clk.Advance(time.Minute)

	blob, err := local.New(local.Config{BaseDir: t.TempDir()})
	require.NoError(t, err)
	w := worker.New(
		coord, nil, openRobots{},
		throttle.New(throttle.Config{DelayBase: time.Millisecond, DelayMax: 10 * time.Millisecond}, clk),
		nil, stubFetcher{}, nil, clk,
		worker.Config{WorkerID: "w2", BatchLimit: 10, Lease: time.Minute, LocalStore: blob},
		logger,
	)
	maint := maintenance.New(st, clk, maintenance.Config{}, logger)
	p := New(st, maint, queue.NewEnqueuer(st, clk, logger), w, nil, nil, logger)

	summary, err := p.Run(ctx, Config{})
	require.NoError(t, err)
	require.Equal(t, 1, summary.StatusCounts["done"])
}
