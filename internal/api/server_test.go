package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/marketsense/marketsense/internal/clock/fake"
	"github.com/marketsense/marketsense/internal/queue"
	"github.com/marketsense/marketsense/internal/report"
	"github.com/marketsense/marketsense/internal/store/memory"
	"github.com/marketsense/marketsense/internal/task"
	"github.com/marketsense/marketsense/internal/urlutil"
)

func testServer(t *testing.T) (*Server, *memory.Store) {
	t.Helper()
	st := memory.New()
	clk := fake.New(time.Unix(1700000000, 0).UTC())
	enq := queue.NewEnqueuer(st, clk, zap.NewNop())
	return NewServer(st, enq, zap.NewNop()), st
}

func TestHealthz(t *testing.T) {
	t.Parallel()
	srv, _ := testServer(t)

	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	require.JSONEq(t, `{"status":"ok"}`, rec.Body.String())
}

func TestReadyz(t *testing.T) {
	t.Parallel()
	srv, _ := testServer(t)

	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/readyz", nil))

	require.Equal(t, http.StatusOK, rec.Code)
}

func TestEnqueueTasks(t *testing.T) {
	t.Parallel()
	srv, st := testServer(t)

	body, err := json.Marshal(map[string]any{
		"urls":  []string{"https://example.com/a", "https://example.com/b"},
		"brand": "Acme",
	})
	require.NoError(t, err)

	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/v1/tasks/", bytes.NewReader(body)))

	require.Equal(t, http.StatusAccepted, rec.Code)
	require.JSONEq(t, `{"enqueued":2}`, rec.Body.String())

	got, err := st.Get(context.Background(), urlutil.Hash("https://example.com/a"))
	require.NoError(t, err)
	require.Equal(t, "Acme", got.Campaign.Brand)
}

func TestEnqueueTasksRejectsEmptyBody(t *testing.T) {
	t.Parallel()
	srv, _ := testServer(t)

	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/v1/tasks/", bytes.NewReader([]byte(`{}`))))
	require.Equal(t, http.StatusBadRequest, rec.Code)

	rec = httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/v1/tasks/", bytes.NewReader([]byte(`not json`))))
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestGetTask(t *testing.T) {
	t.Parallel()
	srv, st := testServer(t)
	now := time.Unix(1700000000, 0).UTC()
	require.NoError(t, st.Create(context.Background(), task.Task{
		ID:        "abc123",
		URL:       "https://example.com/page",
		Status:    task.StatusDone,
		CreatedAt: now,
		UpdatedAt: now,
	}))

	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/tasks/abc123", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	var got task.Task
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	require.Equal(t, "https://example.com/page", got.URL)

	rec = httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/tasks/missing", nil))
	require.Equal(t, http.StatusNotFound, rec.Code)
}

func TestSummary(t *testing.T) {
	t.Parallel()
	srv, st := testServer(t)
	now := time.Unix(1700000000, 0).UTC()
	require.NoError(t, st.Create(context.Background(), task.Task{
		ID: "t1", URL: "https://example.com/1", Status: task.StatusDone,
		CreatedAt: now, UpdatedAt: now,
	}))
	require.NoError(t, st.Create(context.Background(), task.Task{
		ID: "t2", URL: "https://example.com/2", Status: task.StatusPending,
		CreatedAt: now, UpdatedAt: now,
	}))

	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/tasks/summary", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	var got report.Summary
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	require.Equal(t, 2, got.Total)
	require.Equal(t, 1, got.StatusCounts["done"])
	require.Equal(t, 1, got.StatusCounts["pending"])
}

func TestRequestIDHeaderIsSet(t *testing.T) {
	t.Parallel()
	srv, _ := testServer(t)

	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	require.NotEmpty(t, rec.Header().Get("X-Request-ID"))
}
