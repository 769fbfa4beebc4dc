// Package metrics aggregates operational numbers over a recent window
// of runs: volume, success rate, latency, per-stage latency, and how
// often reviewers accept what the pipeline proposes.
package metrics

import (
	"context"
	"fmt"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/kalambet/pengeplan/internal/storage"
)

const defaultWindowDays = 7

// Source is the read surface the aggregator scans.
type Source interface {
	ListRunsSince(since time.Time) ([]storage.Run, error)
	ListTracesSince(since time.Time) ([]storage.NodeTrace, error)
	ListSuggestionsSince(since time.Time) ([]storage.Suggestion, error)
}

// Metrics is a point-in-time aggregate; nothing here is persisted.
type Metrics struct {
	WindowDays      int                `json:"windowDays"`
	TotalRuns       int                `json:"totalRuns"`
	SucceededRuns   int                `json:"succeededRuns"`
	FailedRuns      int                `json:"failedRuns"`
	BlockedRuns     int                `json:"blockedRuns"`
	SuccessRate     float64            `json:"successRate"`
	AvgLatencyMs    float64            `json:"avgLatencyMs"`
	PerStageLatency map[string]float64 `json:"perStageLatencyMs"`
	SuggestionCount int                `json:"suggestionCount"`
	AppliedCount    int                `json:"appliedCount"`
	RejectedCount   int                `json:"rejectedCount"`
	AcceptRate      float64            `json:"acceptRate"`
}

type Aggregator struct {
	src   Source
	clock func() time.Time
}

func NewAggregator(src Source) *Aggregator {
	return &Aggregator{src: src, clock: time.Now}
}

// Aggregate scans the last windowDays of runs, traces, and suggestions.
// windowDays <= 0 means the default week. The three table scans are
// independent and run concurrently.
func (a *Aggregator) Aggregate(ctx context.Context, windowDays int) (Metrics, error) {
	if windowDays <= 0 {
		windowDays = defaultWindowDays
	}
	since := a.clock().AddDate(0, 0, -windowDays)

	var (
		runs        []storage.Run
		traces      []storage.NodeTrace
		suggestions []storage.Suggestion
	)
	g, _ := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		if runs, err = a.src.ListRunsSince(since); err != nil {
			return fmt.Errorf("scanning runs: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		var err error
		if traces, err = a.src.ListTracesSince(since); err != nil {
			return fmt.Errorf("scanning traces: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		var err error
		if suggestions, err = a.src.ListSuggestionsSince(since); err != nil {
			return fmt.Errorf("scanning suggestions: %w", err)
		}
		return nil
	})
	if err := g.Wait(); err != nil {
		return Metrics{}, err
	}

	m := Metrics{WindowDays: windowDays, PerStageLatency: map[string]float64{}}

	var totalLatency int64
	var finished int
	for _, r := range runs {
		m.TotalRuns++
		switch r.Status {
		case storage.RunSucceeded:
			m.SucceededRuns++
		case storage.RunFailed:
			m.FailedRuns++
		case storage.RunBlocked:
			m.BlockedRuns++
		default:
			continue // still running, excluded from latency
		}
		totalLatency += r.LatencyMs
		finished++
	}
	if finished > 0 {
		// A run that only produced blocked candidates still completed.
		m.SuccessRate = float64(m.SucceededRuns+m.BlockedRuns) / float64(finished)
		m.AvgLatencyMs = float64(totalLatency) / float64(finished)
	}

	stageTotals := map[string]int64{}
	stageCounts := map[string]int{}
	for _, t := range traces {
		stageTotals[t.StageName] += t.LatencyMs
		stageCounts[t.StageName]++
	}
	for name, total := range stageTotals {
		m.PerStageLatency[name] = float64(total) / float64(stageCounts[name])
	}

	for _, s := range suggestions {
		m.SuggestionCount++
		switch s.Status {
		case storage.SuggestionApplied:
			m.AppliedCount++
		case storage.SuggestionRejected:
			m.RejectedCount++
		}
	}
	if reviewed := m.AppliedCount + m.RejectedCount; reviewed > 0 {
		m.AcceptRate = float64(m.AppliedCount) / float64(reviewed)
	}

	return m, nil
}
