// Package task defines the crawl task record shared across subsystems.
package task

import (
	"errors"
	"time"
)

// Status represents the lifecycle state of a crawl task.
type Status string

// Task status values persisted in the task store.
const (
	StatusPending Status = "pending"
	StatusRunning Status = "running"
	StatusDone    Status = "done"
	StatusError   Status = "error"
	// StatusSkipped parks tasks that policy refused to fetch (denied domain,
	// robots disallow). Terminal: never claimed, never requeued.
	StatusSkipped Status = "skipped"
)

// Sentinel errors shared by the store and coordinator layers.
var (
	// ErrNotFound indicates the task id does not exist in the store.
	ErrNotFound = errors.New("task not found")
	// ErrExists indicates a create collided with an existing task id.
	ErrExists = errors.New("task already exists")
	// ErrConflict indicates a conditional update lost a race. Benign under
	// concurrent claims: the caller simply got fewer tasks than requested.
	ErrConflict = errors.New("conditional update conflict")
	// ErrLeaseLost indicates the caller no longer owns the task's lease.
	// Never swallow this: another worker owns the task and duplicate
	// completion would corrupt results.
	ErrLeaseLost = errors.New("task lease lost")
)

// Campaign carries the market-research metadata attached at enqueue time.
type Campaign struct {
	Brand     string `json:"brand,omitempty" firestore:"brand,omitempty"`
	Product   string `json:"product,omitempty" firestore:"product,omitempty"`
	Objective string `json:"objective,omitempty" firestore:"objective,omitempty"`
}

// FetchResult is what a worker reports back on successful completion.
type FetchResult struct {
	Title            string   `json:"title,omitempty" firestore:"title,omitempty"`
	ResponseStatus   int      `json:"response_status,omitempty" firestore:"response_status,omitempty"`
	FetchLatencyMs   int64    `json:"fetch_latency_ms,omitempty" firestore:"fetch_latency_ms,omitempty"`
	LocalPath        string   `json:"local_path,omitempty" firestore:"local_path,omitempty"`
	StoragePath      string   `json:"storage_path,omitempty" firestore:"storage_path,omitempty"`
	ContentHash      string   `json:"content_hash,omitempty" firestore:"content_hash,omitempty"`
	UsedHeadless     bool     `json:"used_headless,omitempty" firestore:"used_headless,omitempty"`
	BlockSignals     []string `json:"block_signals,omitempty" firestore:"block_signals,omitempty"`
	BlockedSuspected bool     `json:"blocked_suspected,omitempty" firestore:"blocked_suspected,omitempty"`
}

// Analysis holds the normalized LLM output for one page.
type Analysis struct {
	SentimentScore   float64  `json:"sentiment_score" firestore:"sentiment_score"`
	SentimentSummary string   `json:"sentiment_summary" firestore:"sentiment_summary"`
	KeyDiscussions   []string `json:"key_discussions" firestore:"key_discussions"`
	BuyingIntent     string   `json:"buying_intent" firestore:"buying_intent"`
}

// QualityReview holds the normalized quality assessment of an analysis.
type QualityReview struct {
	Score  int      `json:"quality_score" firestore:"quality_score"`
	Pass   bool     `json:"quality_pass" firestore:"quality_pass"`
	Issues []string `json:"issues,omitempty" firestore:"issues,omitempty"`
	Notes  string   `json:"notes,omitempty" firestore:"notes,omitempty"`
}

// Task represents one unit of crawl work.
//
// The id is the sha256 of the normalized URL so re-enqueueing the same page
// deduplicates naturally. Lease fields implement the at-most-one-worker
// guarantee: a task is leased while LeaseOwner is set and LeaseExpiresAt is
// in the future.
type Task struct {
	ID            string   `json:"id" firestore:"id"`
	URL           string   `json:"url" firestore:"url"`
	NormalizedURL string   `json:"normalized_url" firestore:"normalized_url"`
	Campaign      Campaign `json:"campaign" firestore:"campaign"`

	Status         Status     `json:"status" firestore:"status"`
	LeaseOwner     string     `json:"lease_owner,omitempty" firestore:"lease_owner,omitempty"`
	LeaseExpiresAt *time.Time `json:"lease_expires_at,omitempty" firestore:"lease_expires_at,omitempty"`
	Attempts       int        `json:"attempts" firestore:"attempts"`
	LastError      string     `json:"last_error,omitempty" firestore:"last_error,omitempty"`
	SkipReason     string     `json:"skip_reason,omitempty" firestore:"skip_reason,omitempty"`

	Result   *FetchResult   `json:"result,omitempty" firestore:"result,omitempty"`
	Analysis *Analysis      `json:"analysis,omitempty" firestore:"analysis,omitempty"`
	Review   *QualityReview `json:"review,omitempty" firestore:"review,omitempty"`

	CreatedAt    time.Time  `json:"created_at" firestore:"created_at"`
	UpdatedAt    time.Time  `json:"updated_at" firestore:"updated_at"`
	DownloadedAt *time.Time `json:"downloaded_at,omitempty" firestore:"downloaded_at,omitempty"`
	AnalyzedAt   *time.Time `json:"analyzed_at,omitempty" firestore:"analyzed_at,omitempty"`
	ReviewedAt   *time.Time `json:"reviewed_at,omitempty" firestore:"reviewed_at,omitempty"`
}

// LeaseHeld reports whether the task carries an unexpired lease at now.
func (t Task) LeaseHeld(now time.Time) bool {
	return t.LeaseOwner != "" && t.LeaseExpiresAt != nil && t.LeaseExpiresAt.After(now)
}

// LeaseExpired reports whether the task carries a lease that has lapsed.
func (t Task) LeaseExpired(now time.Time) bool {
	return t.LeaseExpiresAt != nil && !t.LeaseExpiresAt.After(now)
}

// ClearLease removes lease ownership from the task.
func (t *Task) ClearLease() {
	t.LeaseOwner = ""
	t.LeaseExpiresAt = nil
}

// Terminal reports whether the status ends the task's crawl lifecycle.
func (s Status) Terminal() bool {
	switch s {
	case StatusDone, StatusError, StatusSkipped:
		return true
	default:
		return false
	}
}
