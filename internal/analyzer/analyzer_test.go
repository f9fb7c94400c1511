package analyzer

import (
	"bytes"
	"compress/gzip"
	"context"
	"errors"
	"os"
	"path/filepath"
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
	err      error
	calls    int
}

func (s *stubCompleter) Complete(context.Context, string, string) (string, error) {
	s.calls++
	if s.err != nil {
		return "", s.err
	}
	return s.response, nil
}

func writeArchive(t *testing.T, dir, name, html string) string {
	t.Helper()
	var buf bytes.Buffer
	zw := gzip.NewWriter(&buf)
	_, err := zw.Write([]byte(html))
	require.NoError(t, err)
	require.NoError(t, zw.Close())

	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, buf.Bytes(), 0o644))
	return path
}

func seedDone(t *testing.T, st *memory.Store, id, localPath string) {
	t.Helper()
	now := time.Unix(1700000000, 0).UTC()
	require.NoError(t, st.Create(context.Background(), task.Task{
		ID:        id,
		URL:       "https://example.com/" + id,
		Status:    task.StatusDone,
		Campaign:  task.Campaign{Brand: "Acme", Product: "Widget"},
		Result:    &task.FetchResult{LocalPath: localPath, ResponseStatus: 200},
		CreatedAt: now,
		UpdatedAt: now,
	}))
}

func TestRunAnalyzesDoneTasks(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	st := memory.New()
	clk := fake.New(time.Unix(1700000000, 0).UTC())

	html := `<html><head><title>Review</title></head><body>
		<nav>menu</nav><p>The Widget is excellent, buyers love it.</p></body></html>`
	path := writeArchive(t, t.TempDir(), "page.html.gz", html)
	seedDone(t, st, "t1", path)

	completer := &stubCompleter{response: `{"sentiment_score": 12, "sentiment_summary": "very positive",
		"key_discussions": ["quality"], "buying_intent": "high"}`}
	an := New(st, nil, completer, clk, Config{}, zap.NewNop())

	n, err := an.Run(ctx, 10)
	require.NoError(t, err)
	require.Equal(t, 1, n)
	require.Equal(t, 1, completer.calls)

	got, err := st.Get(ctx, "t1")
	require.NoError(t, err)
	require.NotNil(t, got.Analysis)
	// Scores clamp into the 0-10 range.
	require.Equal(t, 10.0, got.Analysis.SentimentScore)
	require.Equal(t, "very positive", got.Analysis.SentimentSummary)
	require.Equal(t, []string{"quality"}, got.Analysis.KeyDiscussions)
	require.NotNil(t, got.AnalyzedAt)
}

func TestRunSkipsAlreadyAnalyzed(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	st := memory.New()
	clk := fake.New(time.Unix(1700000000, 0).UTC())

	path := writeArchive(t, t.TempDir(), "page.html.gz", "<html><body>text here</body></html>")
	seedDone(t, st, "t1", path)
	require.NoError(t, st.UpdateIf(ctx, "t1", store.Cond{Status: task.StatusDone}, func(u *task.Task) {
		u.Analysis = &task.Analysis{SentimentScore: 5}
	}))

	completer := &stubCompleter{response: `{"sentiment_score": 9}`}
	an := New(st, nil, completer, clk, Config{}, zap.NewNop())

	n, err := an.Run(ctx, 10)
	require.NoError(t, err)
	require.Zero(t, n)
	require.Zero(t, completer.calls)
}

func TestRunRecordsFailureWithoutChangingStatus(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	st := memory.New()
	clk := fake.New(time.Unix(1700000000, 0).UTC())

	path := writeArchive(t, t.TempDir(), "page.html.gz", "<html><body>text here</body></html>")
	seedDone(t, st, "t1", path)

	completer := &stubCompleter{err: errors.New("model unavailable")}
	an := New(st, nil, completer, clk, Config{}, zap.NewNop())

	n, err := an.Run(ctx, 10)
	require.NoError(t, err)
	require.Zero(t, n)

	got, err := st.Get(ctx, "t1")
	require.NoError(t, err)
	require.Equal(t, task.StatusDone, got.Status)
	require.Nil(t, got.Analysis)
	require.Contains(t, got.LastError, "model unavailable")
}

func TestLoadArchiveAcceptsPlainBytes(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	st := memory.New()
	clk := fake.New(time.Unix(1700000000, 0).UTC())

	dir := t.TempDir()
	path := filepath.Join(dir, "page.html")
	require.NoError(t, os.WriteFile(path, []byte("<html><body>plain text body</body></html>"), 0o644))
	seedDone(t, st, "t1", path)

	completer := &stubCompleter{response: `{"sentiment_score": 6}`}
	an := New(st, nil, completer, clk, Config{}, zap.NewNop())

	n, err := an.Run(ctx, 10)
	require.NoError(t, err)
	require.Equal(t, 1, n)
}

func TestNormalizeClampsAndCoerces(t *testing.T) {
	t.Parallel()
	got := Normalize(map[string]any{
		"sentiment_score":   -3.0,
		"sentiment_summary": "bad",
		"key_discussions":   []any{"price"},
		"buying_intent":     "low",
	})
	require.Zero(t, got.SentimentScore)
	require.Equal(t, "bad", got.SentimentSummary)
	require.Equal(t, []string{"price"}, got.KeyDiscussions)

	got = Normalize(map[string]any{"sentiment_score": "7.5"})
	require.Equal(t, 7.5, got.SentimentScore)
}
