// Package analyzer turns downloaded pages into market-sentiment analyses.
package analyzer

import (
	"bytes"
	"compress/gzip"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"go.uber.org/zap"

	"github.com/marketsense/marketsense/internal/clock"
	"github.com/marketsense/marketsense/internal/llm"
	"github.com/marketsense/marketsense/internal/storage"
	"github.com/marketsense/marketsense/internal/store"
	"github.com/marketsense/marketsense/internal/task"
)

// Completer is the slice of the LLM client the analyzer needs.
type Completer interface {
	Complete(ctx context.Context, system, user string) (string, error)
}

// Config controls the analysis stage.
type Config struct {
	MaxTextChars int
}

// Analyzer reads done tasks lacking an analysis, extracts readable text from
// the archived HTML, and records the normalized LLM assessment. Each write
// is CAS-guarded on the done status, so re-running after a crash skips
// completed work.
type Analyzer struct {
	store  store.Store
	blobs  storage.BlobStore
	llm    Completer
	clock  clock.Clock
	cfg    Config
	logger *zap.Logger
}

// New constructs an Analyzer. blobs may be nil when all archives are local.
func New(st store.Store, blobs storage.BlobStore, completer Completer, clk clock.Clock, cfg Config, logger *zap.Logger) *Analyzer {
	if cfg.MaxTextChars <= 0 {
		cfg.MaxTextChars = 12000
	}
	return &Analyzer{store: st, blobs: blobs, llm: completer, clock: clk, cfg: cfg, logger: logger}
}

// Run analyzes up to limit tasks and returns how many succeeded. Individual
// task failures are recorded on the task and do not stop the stage; only a
// store failure does.
func (a *Analyzer) Run(ctx context.Context, limit int) (int, error) {
	candidates, err := a.store.List(ctx, store.Query{
		Status:          task.StatusDone,
		MissingAnalysis: true,
		Limit:           limit,
	})
	if err != nil {
		return 0, fmt.Errorf("list unanalyzed tasks: %w", err)
	}

	processed := 0
	for _, t := range candidates {
		if err := a.analyzeOne(ctx, t); err != nil {
			if errors.Is(err, task.ErrConflict) {
				continue
			}
			a.logger.Warn("analysis failed",
				zap.String("task_id", t.ID),
				zap.String("url", t.URL),
				zap.Error(err),
			)
			a.recordFailure(ctx, t.ID, err)
			continue
		}
		processed++
	}
	return processed, nil
}

func (a *Analyzer) analyzeOne(ctx context.Context, t task.Task) error {
	html, err := a.loadArchive(ctx, t)
	if err != nil {
		return err
	}
	text := ExtractText(html, a.cfg.MaxTextChars)
	if strings.TrimSpace(text) == "" {
		return fmt.Errorf("page yielded no readable text")
	}

	completion, err := a.llm.Complete(ctx, analysisSystemPrompt, analysisUserPrompt(t, text))
	if err != nil {
		return fmt.Errorf("llm completion: %w", err)
	}
	payload, err := llm.ExtractJSON(completion)
	if err != nil {
		return fmt.Errorf("parse analysis: %w", err)
	}
	analysis := Normalize(payload)

	now := a.clock.Now()
	return a.store.UpdateIf(ctx, t.ID, store.Cond{Status: task.StatusDone}, func(u *task.Task) {
		u.Analysis = &analysis
		u.AnalyzedAt = &now
		u.UpdatedAt = now
	})
}

// loadArchive prefers the locally cached copy and falls back to the blob
// store. Archives are gzip-compressed; plain bytes pass through for
// robustness against older records.
func (a *Analyzer) loadArchive(ctx context.Context, t task.Task) (string, error) {
	if t.Result == nil {
		return "", fmt.Errorf("task has no fetch result")
	}
	var raw []byte
	if t.Result.LocalPath != "" {
		data, err := os.ReadFile(t.Result.LocalPath)
		if err != nil {
			return "", fmt.Errorf("read local archive: %w", err)
		}
		raw = data
	} else if t.Result.StoragePath != "" {
		if a.blobs == nil {
			return "", fmt.Errorf("no blob store configured for %s", t.Result.StoragePath)
		}
		data, err := a.blobs.GetObject(ctx, t.Result.StoragePath)
		if err != nil {
			return "", fmt.Errorf("download archive: %w", err)
		}
		raw = data
	} else {
		return "", fmt.Errorf("task has neither local_path nor storage_path")
	}

	reader, err := gzip.NewReader(bytes.NewReader(raw))
	if err != nil {
		return string(raw), nil
	}
	defer func() {
		_ = reader.Close()
	}()
	decoded, err := io.ReadAll(reader)
	if err != nil {
		return string(raw), nil
	}
	return string(decoded), nil
}

func (a *Analyzer) recordFailure(ctx context.Context, id string, cause error) {
	now := a.clock.Now()
	err := a.store.UpdateIf(ctx, id, store.Cond{Status: task.StatusDone}, func(u *task.Task) {
		u.LastError = fmt.Sprintf("analysis: %v", cause)
		u.UpdatedAt = now
	})
	if err != nil && !errors.Is(err, task.ErrConflict) {
		a.logger.Error("record analysis failure", zap.String("task_id", id), zap.Error(err))
	}
}

// Normalize clamps and coerces a raw LLM payload into an Analysis.
func Normalize(payload map[string]any) task.Analysis {
	score := llm.AsFloat(payload["sentiment_score"], 0)
	if score < 0 {
		score = 0
	}
	if score > 10 {
		score = 10
	}
	return task.Analysis{
		SentimentScore:   score,
		SentimentSummary: llm.AsString(payload["sentiment_summary"]),
		KeyDiscussions:   llm.AsStringSlice(payload["key_discussions"]),
		BuyingIntent:     llm.AsString(payload["buying_intent"]),
	}
}

const analysisSystemPrompt = `You are a market research analyst. ` +
	`Given page text, respond with a JSON object containing sentiment_score ` +
	`(0-10), sentiment_summary, key_discussions (array of strings), and ` +
	`buying_intent.`

func analysisUserPrompt(t task.Task, text string) string {
	var b strings.Builder
	if t.Campaign.Brand != "" {
		fmt.Fprintf(&b, "Brand: %s\n", t.Campaign.Brand)
	}
	if t.Campaign.Product != "" {
		fmt.Fprintf(&b, "Product: %s\n", t.Campaign.Product)
	}
	if t.Campaign.Objective != "" {
		fmt.Fprintf(&b, "Objective: %s\n", t.Campaign.Objective)
	}
	fmt.Fprintf(&b, "URL: %s\n\n%s", t.URL, text)
	return b.String()
}
