// Package pipeline drives a full batch run: maintenance sweep, enqueue,
// crawl, analyze, review, report.
package pipeline

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/marketsense/marketsense/internal/analyzer"
	"github.com/marketsense/marketsense/internal/maintenance"
	"github.com/marketsense/marketsense/internal/queue"
	"github.com/marketsense/marketsense/internal/report"
	"github.com/marketsense/marketsense/internal/review"
	"github.com/marketsense/marketsense/internal/store"
	"github.com/marketsense/marketsense/internal/task"
	"github.com/marketsense/marketsense/internal/worker"
)

// Config controls a pipeline run.
type Config struct {
	// URLs to enqueue before crawling. May be empty to drain what is already
	// queued.
	URLs     []string
	Campaign task.Campaign
	Force    bool

	// RequeueErrorsOlderThan gates the pre-run error requeue; zero skips it.
	RequeueErrorsOlderThan time.Duration
	MaintenanceLimit       int

	StageLimit int
}

// Pipeline owns the stage objects and runs them in order.
type Pipeline struct {
	store    store.Store
	maint    *maintenance.Job
	enqueuer *queue.Enqueuer
	worker   *worker.Worker
	analyzer *analyzer.Analyzer
	reviewer *review.Reviewer
	logger   *zap.Logger
}

// New constructs a Pipeline. analyzer and reviewer may be nil to skip those
// stages.
func New(
	st store.Store,
	maint *maintenance.Job,
	enq *queue.Enqueuer,
	w *worker.Worker,
	an *analyzer.Analyzer,
	rev *review.Reviewer,
	logger *zap.Logger,
) *Pipeline {
	return &Pipeline{
		store:    st,
		maint:    maint,
		enqueuer: enq,
		worker:   w,
		analyzer: an,
		reviewer: rev,
		logger:   logger,
	}
}

// Run executes every stage and returns the final summary. A store error in
// any stage stops the run; per-task failures inside a stage do not.
func (p *Pipeline) Run(ctx context.Context, cfg Config) (report.Summary, error) {
	if cfg.MaintenanceLimit <= 0 {
		cfg.MaintenanceLimit = 500
	}
	if cfg.StageLimit <= 0 {
		cfg.StageLimit = 500
	}

	reclaimed, err := p.maint.ReclaimExpired(ctx, cfg.MaintenanceLimit)
	if err != nil {
		return report.Summary{}, fmt.Errorf("maintenance: %w", err)
	}
	requeued := 0
	if cfg.RequeueErrorsOlderThan > 0 {
		requeued, err = p.maint.RequeueErrors(ctx, cfg.RequeueErrorsOlderThan, cfg.MaintenanceLimit)
		if err != nil {
			return report.Summary{}, fmt.Errorf("maintenance: %w", err)
		}
	}
	p.logger.Info("maintenance sweep complete",
		zap.Int("reclaimed", reclaimed),
		zap.Int("requeued", requeued),
	)

	if len(cfg.URLs) > 0 {
		enqueued, err := p.enqueuer.Enqueue(ctx, cfg.URLs, cfg.Campaign, cfg.Force)
		if err != nil {
			return report.Summary{}, fmt.Errorf("enqueue: %w", err)
		}
		p.logger.Info("enqueue complete", zap.Int("enqueued", enqueued))
	}

	crawled, err := p.worker.Drain(ctx)
	if err != nil {
		return report.Summary{}, fmt.Errorf("crawl: %w", err)
	}
	p.logger.Info("crawl complete", zap.Int("processed", crawled))

	if p.analyzer != nil {
		analyzed, err := p.analyzer.Run(ctx, cfg.StageLimit)
		if err != nil {
			return report.Summary{}, fmt.Errorf("analyze: %w", err)
		}
		p.logger.Info("analysis complete", zap.Int("analyzed", analyzed))
	}
	if p.reviewer != nil {
		reviewed, err := p.reviewer.Run(ctx, cfg.StageLimit, false)
		if err != nil {
			return report.Summary{}, fmt.Errorf("review: %w", err)
		}
		p.logger.Info("review complete", zap.Int("reviewed", reviewed))
	}

	tasks, err := report.Gather(ctx, p.store)
	if err != nil {
		return report.Summary{}, fmt.Errorf("report: %w", err)
	}
	return report.Summarize(tasks), nil
}
