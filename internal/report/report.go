// Package report aggregates the task collection into a run summary.
package report

import (
	"fmt"
	"sort"
	"strings"

	"github.com/marketsense/marketsense/internal/task"
	"github.com/marketsense/marketsense/internal/urlutil"
)

// DomainStats aggregates per-domain fetch outcomes.
type DomainStats struct {
	Total   int `json:"total"`
	Blocked int `json:"blocked"`
}

// Summary captures the state of the whole pipeline run.
type Summary struct {
	Total                int                    `json:"total"`
	StatusCounts         map[string]int         `json:"status_counts"`
	ResponseStatusCounts map[string]int         `json:"response_status_counts,omitempty"`
	BlockSignalCounts    map[string]int         `json:"block_signal_counts,omitempty"`
	BlockedCount         int                    `json:"blocked_count"`
	Errors               int                    `json:"errors"`
	AvgAttempts          float64                `json:"avg_attempts"`
	AvgLatencyMs         int64                  `json:"avg_latency_ms"`
	MaxLatencyMs         int64                  `json:"max_latency_ms"`
	Domains              map[string]DomainStats `json:"domains,omitempty"`
	AnalyzedCount        int                    `json:"analyzed_count"`
	AvgSentiment         float64                `json:"avg_sentiment"`
	ReviewedCount        int                    `json:"reviewed_count"`
	QualityPassCount     int                    `json:"quality_pass_count"`
	AvgQualityScore      float64                `json:"avg_quality_score"`
}

// Summarize folds the task list into a Summary.
func Summarize(tasks []task.Task) Summary {
	s := Summary{
		StatusCounts:         make(map[string]int),
		ResponseStatusCounts: make(map[string]int),
		BlockSignalCounts:    make(map[string]int),
		Domains:              make(map[string]DomainStats),
	}

	var (
		attemptsTotal  int
		latencyTotal   int64
		latencyCount   int64
		sentimentTotal float64
		qualityTotal   int
	)
	for _, t := range tasks {
		s.Total++
		s.StatusCounts[string(t.Status)]++
		if t.Status == task.StatusError {
			s.Errors++
		}
		attemptsTotal += t.Attempts

		domain := urlutil.Domain(t.URL)
		stats := s.Domains[domain]
		stats.Total++

		if t.Result != nil {
			if t.Result.ResponseStatus != 0 {
				s.ResponseStatusCounts[fmt.Sprintf("%d", t.Result.ResponseStatus)]++
			}
			for _, signal := range t.Result.BlockSignals {
				s.BlockSignalCounts[signal]++
			}
			if t.Result.BlockedSuspected {
				s.BlockedCount++
				stats.Blocked++
			}
			if t.Result.FetchLatencyMs > 0 {
				latencyTotal += t.Result.FetchLatencyMs
				latencyCount++
				if t.Result.FetchLatencyMs > s.MaxLatencyMs {
					s.MaxLatencyMs = t.Result.FetchLatencyMs
				}
			}
		}
		s.Domains[domain] = stats

		if t.Analysis != nil {
			s.AnalyzedCount++
			sentimentTotal += t.Analysis.SentimentScore
		}
		if t.Review != nil {
			s.ReviewedCount++
			qualityTotal += t.Review.Score
			if t.Review.Pass {
				s.QualityPassCount++
			}
		}
	}

	if s.Total > 0 {
		s.AvgAttempts = float64(attemptsTotal) / float64(s.Total)
	}
	if latencyCount > 0 {
		s.AvgLatencyMs = latencyTotal / latencyCount
	}
	if s.AnalyzedCount > 0 {
		s.AvgSentiment = sentimentTotal / float64(s.AnalyzedCount)
	}
	if s.ReviewedCount > 0 {
		s.AvgQualityScore = float64(qualityTotal) / float64(s.ReviewedCount)
	}
	return s
}

// Render formats the summary as operator-readable text.
func Render(s Summary) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Tasks: %d\n", s.Total)

	fmt.Fprintf(&b, "By status:\n")
	for _, status := range sortedKeys(s.StatusCounts) {
		fmt.Fprintf(&b, "  %-10s %d\n", status, s.StatusCounts[status])
	}
	if len(s.ResponseStatusCounts) > 0 {
		fmt.Fprintf(&b, "By response status:\n")
		for _, code := range sortedKeys(s.ResponseStatusCounts) {
			fmt.Fprintf(&b, "  %-10s %d\n", code, s.ResponseStatusCounts[code])
		}
	}
	if len(s.BlockSignalCounts) > 0 {
		fmt.Fprintf(&b, "Block signals:\n")
		for _, signal := range sortedKeys(s.BlockSignalCounts) {
			fmt.Fprintf(&b, "  %-24s %d\n", signal, s.BlockSignalCounts[signal])
		}
	}
	fmt.Fprintf(&b, "Blocked suspected: %d\n", s.BlockedCount)
	fmt.Fprintf(&b, "Avg attempts: %.2f\n", s.AvgAttempts)
	if s.AvgLatencyMs > 0 {
		fmt.Fprintf(&b, "Fetch latency: avg %dms, max %dms\n", s.AvgLatencyMs, s.MaxLatencyMs)
	}
	if len(s.Domains) > 0 {
		fmt.Fprintf(&b, "Domains:\n")
		domains := make([]string, 0, len(s.Domains))
		for d := range s.Domains {
			domains = append(domains, d)
		}
		sort.Strings(domains)
		for _, d := range domains {
			stats := s.Domains[d]
			fmt.Fprintf(&b, "  %-32s total=%d blocked=%d\n", d, stats.Total, stats.Blocked)
		}
	}
	if s.AnalyzedCount > 0 {
		fmt.Fprintf(&b, "Analyzed: %d (avg sentiment %.1f)\n", s.AnalyzedCount, s.AvgSentiment)
	}
	if s.ReviewedCount > 0 {
		fmt.Fprintf(&b, "Reviewed: %d, passed %d (avg score %.0f)\n",
			s.ReviewedCount, s.QualityPassCount, s.AvgQualityScore)
	}
	return b.String()
}

func sortedKeys(m map[string]int) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
