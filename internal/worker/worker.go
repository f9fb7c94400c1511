// Package worker implements the crawl execution loop: claim a batch under
// lease, fetch each page politely, archive the raw HTML, and report the
// outcome back to the queue.
package worker

import (
	"bytes"
	"compress/gzip"
	"context"
	"errors"
	"fmt"
	"path"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/marketsense/marketsense/internal/clock"
	"github.com/marketsense/marketsense/internal/crawler"
	"github.com/marketsense/marketsense/internal/metrics"
	"github.com/marketsense/marketsense/internal/publisher"
	"github.com/marketsense/marketsense/internal/queue"
	"github.com/marketsense/marketsense/internal/ratelimit"
	"github.com/marketsense/marketsense/internal/storage"
	"github.com/marketsense/marketsense/internal/task"
	"github.com/marketsense/marketsense/internal/throttle"
	"github.com/marketsense/marketsense/internal/urlutil"
)

// Skip reasons recorded on parked tasks.
const (
	SkipDomainNotAllowed = "domain_not_allowed"
	SkipRobotsDisallow   = "robots_disallow"
)

// Config controls Worker behavior.
type Config struct {
	WorkerID       string
	BatchLimit     int
	Lease          time.Duration
	Concurrency    int
	Retries        int
	UserAgent      string
	RawPrefix      string
	LocalStore     storage.BlobStore
	RemoteStore    storage.BlobStore
	LocalStoreOnly bool
	Topic          string
}

// Worker drains the task queue, one claimed batch at a time.
type Worker struct {
	coord     *queue.Coordinator
	policy    *crawler.DomainPolicy
	robots    crawler.RobotsPolicy
	throttle  *throttle.Throttle
	limiter   *ratelimit.Limiter
	fetcher   crawler.Fetcher
	publisher publisher.Publisher
	clock     clock.Clock
	cfg       Config
	logger    *zap.Logger
}

// New constructs a Worker.
func New(
	coord *queue.Coordinator,
	policy *crawler.DomainPolicy,
	robots crawler.RobotsPolicy,
	thr *throttle.Throttle,
	limiter *ratelimit.Limiter,
	fetcher crawler.Fetcher,
	pub publisher.Publisher,
	clk clock.Clock,
	cfg Config,
	logger *zap.Logger,
) *Worker {
	if cfg.BatchLimit <= 0 {
		cfg.BatchLimit = 50
	}
	if cfg.Lease <= 0 {
		cfg.Lease = 10 * time.Minute
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 3
	}
	if cfg.Retries <= 0 {
		cfg.Retries = 3
	}
	if cfg.RawPrefix == "" {
		cfg.RawPrefix = "raw_html"
	}
	if pub == nil {
		pub = publisher.NoOp{}
	}
	return &Worker{
		coord:     coord,
		policy:    policy,
		robots:    robots,
		throttle:  thr,
		limiter:   limiter,
		fetcher:   fetcher,
		publisher: pub,
		clock:     clk,
		cfg:       cfg,
		logger:    logger,
	}
}

// Drain claims and processes batches until the queue is empty or the context
// ends. Returns the number of tasks processed.
func (w *Worker) Drain(ctx context.Context) (int, error) {
	total := 0
	for {
		if ctx.Err() != nil {
			return total, ctx.Err()
		}
		batch, err := w.coord.Claim(ctx, w.cfg.BatchLimit, w.cfg.Lease, w.cfg.WorkerID)
		if err != nil {
			return total, fmt.Errorf("claim batch: %w", err)
		}
		if len(batch) == 0 {
			return total, nil
		}
		w.processBatch(ctx, batch)
		total += len(batch)
	}
}

func (w *Worker) processBatch(ctx context.Context, batch []task.Task) {
	metrics.IncActiveWorkers()
	defer metrics.DecActiveWorkers()

	sem := make(chan struct{}, w.cfg.Concurrency)
	var wg sync.WaitGroup
	for _, t := range batch {
		wg.Add(1)
		go func(t task.Task) {
			defer wg.Done()
			sem <- struct{}{}
			defer func() { <-sem }()
			w.processTask(ctx, t)
		}(t)
	}
	wg.Wait()
}

func (w *Worker) processTask(ctx context.Context, t task.Task) {
	domain := urlutil.Domain(t.URL)

	if !w.policy.Allowed(domain) {
		w.park(ctx, t, SkipDomainNotAllowed)
		return
	}
	if !w.robots.Allowed(ctx, t.URL) {
		w.park(ctx, t, SkipRobotsDisallow)
		return
	}

	resp, err := w.fetchWithRetries(ctx, t, domain)
	if err != nil {
		w.fail(ctx, t, err)
		return
	}

	result, err := w.buildResult(ctx, t, resp)
	if err != nil {
		w.fail(ctx, t, err)
		return
	}

	if err := w.coord.Complete(ctx, t.ID, w.cfg.WorkerID, result); err != nil {
		if errors.Is(err, task.ErrLeaseLost) {
			// Another worker owns the task now; discard our work.
			w.logger.Warn("discarding completed fetch, lease lost",
				zap.String("task_id", t.ID),
				zap.String("url", t.URL),
			)
			return
		}
		w.logger.Error("complete task failed", zap.String("task_id", t.ID), zap.Error(err))
		return
	}
	metrics.ObserveCompletion(string(task.StatusDone))
	w.publishCompletion(ctx, t, result)
}

func (w *Worker) fetchWithRetries(ctx context.Context, t task.Task, domain string) (crawler.FetchResponse, error) {
	var lastErr error
	for attempt := 1; attempt <= w.cfg.Retries; attempt++ {
		if w.limiter != nil {
			if err := w.limiter.Wait(ctx); err != nil {
				return crawler.FetchResponse{}, err
			}
		}
		if err := w.throttle.Wait(ctx, t.URL); err != nil {
			return crawler.FetchResponse{}, err
		}

		resp, err := w.fetcher.Fetch(ctx, crawler.FetchRequest{URL: t.URL})
		if err != nil {
			w.throttle.RecordAccess(domain, false)
			lastErr = err
			w.logger.Debug("fetch attempt failed",
				zap.String("url", t.URL),
				zap.Int("attempt", attempt),
				zap.Error(err),
			)
			continue
		}

		blocked := len(crawler.DetectBlockSignals(string(resp.Body), resp.StatusCode)) > 0
		w.throttle.RecordAccess(domain, blocked)
		metrics.ObserveFetch(domain, resp.Duration, len(resp.Body))
		return resp, nil
	}
	return crawler.FetchResponse{}, fmt.Errorf("fetch failed after %d attempts: %w", w.cfg.Retries, lastErr)
}

// buildResult archives the page body and assembles the completion record.
func (w *Worker) buildResult(ctx context.Context, t task.Task, resp crawler.FetchResponse) (task.FetchResult, error) {
	compressed, err := gzipBytes(resp.Body)
	if err != nil {
		return task.FetchResult{}, fmt.Errorf("compress body: %w", err)
	}
	name := fmt.Sprintf("%s_%d.html.gz", t.ID, w.clock.Now().Unix())

	result := task.FetchResult{
		Title:          resp.Title,
		ResponseStatus: resp.StatusCode,
		FetchLatencyMs: resp.Duration.Milliseconds(),
		ContentHash:    urlutil.Hash(t.URL),
		UsedHeadless:   resp.UsedHeadless,
	}
	result.BlockSignals = crawler.DetectBlockSignals(string(resp.Body), resp.StatusCode)
	result.BlockedSuspected = len(result.BlockSignals) > 0

	if w.cfg.LocalStore != nil {
		localPath, err := w.cfg.LocalStore.PutObject(ctx, name, "text/html", compressed)
		if err != nil {
			return task.FetchResult{}, fmt.Errorf("store local archive: %w", err)
		}
		result.LocalPath = localPath
	}
	if w.cfg.RemoteStore != nil && !w.cfg.LocalStoreOnly {
		remotePath := path.Join(w.cfg.RawPrefix, name)
		if _, err := w.cfg.RemoteStore.PutObject(ctx, remotePath, "text/html", compressed); err != nil {
			return task.FetchResult{}, fmt.Errorf("store remote archive: %w", err)
		}
		result.StoragePath = remotePath
	}
	if result.LocalPath == "" && result.StoragePath == "" {
		return task.FetchResult{}, fmt.Errorf("no archive destination configured")
	}
	return result, nil
}

func (w *Worker) park(ctx context.Context, t task.Task, reason string) {
	if err := w.coord.Skip(ctx, t.ID, w.cfg.WorkerID, reason); err != nil {
		if errors.Is(err, task.ErrLeaseLost) {
			return
		}
		w.logger.Error("skip task failed", zap.String("task_id", t.ID), zap.Error(err))
		return
	}
	metrics.ObserveCompletion(string(task.StatusSkipped))
	w.logger.Info("task skipped",
		zap.String("task_id", t.ID),
		zap.String("url", t.URL),
		zap.String("reason", reason),
	)
}

func (w *Worker) fail(ctx context.Context, t task.Task, cause error) {
	if err := w.coord.Fail(ctx, t.ID, w.cfg.WorkerID, cause.Error()); err != nil {
		if errors.Is(err, task.ErrLeaseLost) {
			return
		}
		w.logger.Error("fail task failed", zap.String("task_id", t.ID), zap.Error(err))
		return
	}
	metrics.ObserveCompletion(string(task.StatusError))
	w.logger.Warn("task errored",
		zap.String("task_id", t.ID),
		zap.String("url", t.URL),
		zap.Error(cause),
	)
}

func (w *Worker) publishCompletion(ctx context.Context, t task.Task, result task.FetchResult) {
	if w.cfg.Topic == "" {
		return
	}
	payload := map[string]any{
		"task_id":      t.ID,
		"url":          t.URL,
		"status":       result.ResponseStatus,
		"storage_path": result.StoragePath,
		"local_path":   result.LocalPath,
		"timestamp":    w.clock.Now().Format(time.RFC3339),
	}
	if _, err := w.publisher.Publish(ctx, w.cfg.Topic, payload); err != nil {
		w.logger.Warn("publish completion failed", zap.String("task_id", t.ID), zap.Error(err))
	}
}

func gzipBytes(data []byte) ([]byte, error) {
	var buf bytes.Buffer
	zw := gzip.NewWriter(&buf)
	if _, err := zw.Write(data); err != nil {
		return nil, err
	}
	if err := zw.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
