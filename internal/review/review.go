// Package review scores completed analyses for quality.
package review

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/marketsense/marketsense/internal/analyzer"
	"github.com/marketsense/marketsense/internal/clock"
	"github.com/marketsense/marketsense/internal/llm"
	"github.com/marketsense/marketsense/internal/store"
	"github.com/marketsense/marketsense/internal/task"
)

// PassThreshold is the default score at which an analysis passes review.
const PassThreshold = 70

// Reviewer runs the quality-review stage over analyzed tasks.
type Reviewer struct {
	store  store.Store
	llm    analyzer.Completer
	clock  clock.Clock
	logger *zap.Logger
}

// New constructs a Reviewer.
func New(st store.Store, completer analyzer.Completer, clk clock.Clock, logger *zap.Logger) *Reviewer {
	return &Reviewer{store: st, llm: completer, clock: clk, logger: logger}
}

// Run reviews up to limit analyzed tasks lacking a review (all analyzed
// tasks when force is set) and returns how many were reviewed. Individual
// failures are logged and skipped; only a store failure stops the stage.
func (r *Reviewer) Run(ctx context.Context, limit int, force bool) (int, error) {
	q := store.Query{Status: task.StatusDone, Limit: limit}
	if !force {
		q.MissingReview = true
	}
	candidates, err := r.store.List(ctx, q)
	if err != nil {
		return 0, fmt.Errorf("list analyzed tasks: %w", err)
	}

	reviewed := 0
	for _, t := range candidates {
		if t.Analysis == nil {
			continue
		}
		if err := r.reviewOne(ctx, t); err != nil {
			if errors.Is(err, task.ErrConflict) {
				continue
			}
			r.logger.Warn("quality review failed",
				zap.String("task_id", t.ID),
				zap.Error(err),
			)
			continue
		}
		reviewed++
	}
	return reviewed, nil
}

func (r *Reviewer) reviewOne(ctx context.Context, t task.Task) error {
	analysisJSON, err := json.Marshal(t.Analysis)
	if err != nil {
		return fmt.Errorf("marshal analysis: %w", err)
	}
	completion, err := r.llm.Complete(ctx, reviewSystemPrompt, string(analysisJSON))
	if err != nil {
		return fmt.Errorf("llm completion: %w", err)
	}
	payload, err := llm.ExtractJSON(completion)
	if err != nil {
		return fmt.Errorf("parse review: %w", err)
	}
	review := Normalize(payload)

	now := r.clock.Now()
	return r.store.UpdateIf(ctx, t.ID, store.Cond{Status: task.StatusDone}, func(u *task.Task) {
		u.Review = &review
		u.ReviewedAt = &now
		u.UpdatedAt = now
	})
}

// Normalize clamps and coerces a raw LLM payload into a QualityReview.
// When the model omits the pass flag, it derives from the score threshold.
func Normalize(payload map[string]any) task.QualityReview {
	score := int(llm.AsFloat(payload["quality_score"], 0))
	if score < 0 {
		score = 0
	}
	if score > 100 {
		score = 100
	}
	pass := llm.AsBool(payload["quality_pass"], score >= PassThreshold)
	return task.QualityReview{
		Score:  score,
		Pass:   pass,
		Issues: llm.AsStringSlice(payload["issues"]),
		Notes:  llm.AsString(payload["notes"]),
	}
}

const reviewSystemPrompt = `You are a quality reviewer for market research ` +
	`analyses. Given an analysis JSON, respond with a JSON object containing ` +
	`quality_score (0-100), quality_pass (boolean), issues (array of ` +
	`strings), and notes.`
