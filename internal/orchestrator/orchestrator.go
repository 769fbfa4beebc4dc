// Package orchestrator owns the run lifecycle: it creates the run
// record, threads the planning context through the fixed stage list,
// captures a trace per stage, persists surviving suggestions, and
// finalizes the run exactly once.
package orchestrator

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/kalambet/pengeplan/internal/audit"
	"github.com/kalambet/pengeplan/internal/guardrail"
	"github.com/kalambet/pengeplan/internal/impact"
	"github.com/kalambet/pengeplan/internal/planning"
	"github.com/kalambet/pengeplan/internal/reasoning"
	"github.com/kalambet/pengeplan/internal/stages"
	"github.com/kalambet/pengeplan/internal/storage"
)

// RunStore is the persistence surface the orchestrator writes to. All
// writes are append-only besides the single run finalization.
type RunStore interface {
	CreateRun(storage.Run) error
	FinalizeRun(id, status string, finishedAt time.Time, latencyMs int64, resultSummary string) error
	AppendTrace(storage.NodeTrace) error
	SaveSuggestion(storage.Suggestion) error
	SaveBlockedSuggestion(storage.BlockedSuggestion) error
}

// SnapshotLoader assembles the initial planning context.
type SnapshotLoader interface {
	Load(ctx context.Context, userID string, entry planning.EntryPoint, now time.Time) (*planning.Context, error)
}

// Options tunes a single run. The zero value is the normal case.
type Options struct {
	// Now pins the run clock; zero means wall clock. Admin-triggered
	// replays use it to reproduce an earlier run deterministically.
	Now time.Time
}

// Result is what the caller gets back once the run reaches a terminal state.
type Result struct {
	RunID       string
	Status      string
	Suggestions []planning.Suggestion
	Blocked     []planning.BlockedSuggestion
	Confidence  int
	ImpactScore float64
}

// Orchestrator executes pipeline runs. It is stateless across runs and
// safe for concurrent use; each run owns its context exclusively.
type Orchestrator struct {
	store  RunStore
	loader SnapshotLoader
	stages []stages.Stage
	audit  audit.Sink
	clock  func() time.Time
}

// DefaultStages returns the fixed stage sequence: the four analyzers,
// then guardrail, reasoning, and impact. The order is not reconfigurable
// at runtime.
func DefaultStages() []stages.Stage {
	return []stages.Stage{
		stages.BudgetAnalyzer{},
		stages.CashflowAnalyzer{},
		stages.DebtAnalyzer{},
		stages.GoalAnalyzer{},
		guardrail.Evaluator{},
		reasoning.Annotator{},
		impact.Projector{},
	}
}

// New wires an orchestrator. Collaborators are injected here; there is
// no process-wide instance.
func New(store RunStore, loader SnapshotLoader, stageList []stages.Stage, sink audit.Sink) *Orchestrator {
	if sink == nil {
		sink = audit.Discard{}
	}
	return &Orchestrator{
		store:  store,
		loader: loader,
		stages: stageList,
		audit:  sink,
		clock:  time.Now,
	}
}

// Run executes one pipeline run for the user and blocks until it
// reaches a terminal state. A stage error is fatal: the run is marked
// failed and no suggestions are persisted.
func (o *Orchestrator) Run(ctx context.Context, userID string, entry planning.EntryPoint, opts Options) (Result, error) {
	now := opts.Now
	if now.IsZero() {
		now = o.clock()
	}

	runID := uuid.New().String()
	if err := o.store.CreateRun(storage.Run{
		ID:         runID,
		UserID:     userID,
		EntryPoint: string(entry),
		Status:     storage.RunRunning,
		StartedAt:  now,
	}); err != nil {
		return Result{}, fmt.Errorf("creating run: %w", err)
	}
	started := o.clock()

	pc, err := o.loader.Load(ctx, userID, entry, now)
	if err != nil {
		return o.fail(runID, started, fmt.Errorf("loading snapshot: %w", err))
	}

	for i, st := range o.stages {
		stateIn, err := json.Marshal(pc.Clone())
		if err != nil {
			return o.fail(runID, started, fmt.Errorf("stage %s: snapshotting input: %w", st.Name(), err))
		}

		stageStart := o.clock()
		stageErr := st.Execute(ctx, pc)
		latency := o.clock().Sub(stageStart).Milliseconds()

		trace := storage.NodeTrace{
			RunID:     runID,
			StageName: st.Name(),
			StepIndex: i,
			StateIn:   string(stateIn),
			LatencyMs: latency,
			CreatedAt: o.clock(),
		}
		if stageErr != nil {
			errOut, _ := json.Marshal(map[string]string{"error": stageErr.Error()})
			trace.StateOut = string(errOut)
			if err := o.store.AppendTrace(trace); err != nil {
				slog.Error("failed to persist failure trace", "run_id", runID, "stage", st.Name(), "error", err)
			}
			return o.fail(runID, started, fmt.Errorf("stage %s: %w", st.Name(), stageErr))
		}

		stateOut, err := json.Marshal(pc)
		if err != nil {
			return o.fail(runID, started, fmt.Errorf("stage %s: snapshotting output: %w", st.Name(), err))
		}
		trace.StateOut = string(stateOut)
		if err := o.store.AppendTrace(trace); err != nil {
			// Persistence failure propagates as a failure of the
			// orchestrator itself.
			return o.fail(runID, started, fmt.Errorf("stage %s: persisting trace: %w", st.Name(), err))
		}
		slog.Debug("stage complete", "run_id", runID, "stage", st.Name(), "suggestions", len(pc.Suggestions), "latency_ms", latency)
	}

	if err := o.persistOutcome(runID, userID, pc, now); err != nil {
		return o.fail(runID, started, err)
	}

	status := storage.RunSucceeded
	if len(pc.Suggestions) == 0 && len(pc.Blocked) > 0 {
		status = storage.RunBlocked
	}

	latency := o.clock().Sub(started).Milliseconds()
	summary, err := json.Marshal(map[string]any{
		"suggestion_count": len(pc.Suggestions),
		"blocked_count":    len(pc.Blocked),
		"confidence":       pc.Confidence,
		"impact_score":     pc.ImpactScore,
	})
	if err != nil {
		return o.fail(runID, started, fmt.Errorf("building result summary: %w", err))
	}
	if err := o.store.FinalizeRun(runID, status, o.clock(), latency, string(summary)); err != nil {
		return Result{RunID: runID, Status: storage.RunFailed}, fmt.Errorf("finalizing run: %w", err)
	}

	o.audit.RunCompleted(runID, string(entry), len(pc.Suggestions), latency)
	slog.Info("run finished", "run_id", runID, "status", status,
		"suggestions", len(pc.Suggestions), "blocked", len(pc.Blocked), "latency_ms", latency)

	return Result{
		RunID:       runID,
		Status:      status,
		Suggestions: pc.Suggestions,
		Blocked:     pc.Blocked,
		Confidence:  pc.Confidence,
		ImpactScore: pc.ImpactScore,
	}, nil
}

// persistOutcome writes the surviving suggestions and the blocked list.
// It runs only after every stage completed; a failed run persists
// neither.
func (o *Orchestrator) persistOutcome(runID, userID string, pc *planning.Context, now time.Time) error {
	for i := range pc.Suggestions {
		s := &pc.Suggestions[i]
		s.ID = uuid.New().String()

		targetJSON, err := planning.EncodeTarget(s.Target)
		if err != nil {
			return err
		}
		impactJSON := ""
		if s.Impact != nil {
			data, err := json.Marshal(s.Impact)
			if err != nil {
				return fmt.Errorf("encoding impact for %s: %w", s.Kind, err)
			}
			impactJSON = string(data)
		}
		hints, err := json.Marshal(s.PolicyHints)
		if err != nil {
			return fmt.Errorf("encoding hints for %s: %w", s.Kind, err)
		}

		if err := o.store.SaveSuggestion(storage.Suggestion{
			ID:          s.ID,
			RunID:       runID,
			UserID:      userID,
			Kind:        string(s.Kind),
			Reasoning:   s.Reasoning,
			Confidence:  s.Confidence,
			TargetJSON:  targetJSON,
			ImpactJSON:  impactJSON,
			PolicyHints: string(hints),
			RiskLevel:   string(s.RiskLevel),
			Status:      storage.SuggestionProposed,
			CreatedAt:   now,
		}); err != nil {
			return fmt.Errorf("persisting suggestion %s: %w", s.Kind, err)
		}
	}

	for _, b := range pc.Blocked {
		targetJSON, err := planning.EncodeTarget(b.Target)
		if err != nil {
			return err
		}
		if err := o.store.SaveBlockedSuggestion(storage.BlockedSuggestion{
			ID:            uuid.New().String(),
			RunID:         runID,
			Kind:          string(b.Kind),
			TargetJSON:    targetJSON,
			ViolationType: b.ViolationType,
			BlockReason:   b.BlockReason,
			CreatedAt:     now,
		}); err != nil {
			return fmt.Errorf("persisting blocked suggestion %s: %w", b.Kind, err)
		}
	}

	return nil
}

// fail finalizes the run as failed and emits the audit event. The
// original error is returned to the caller; finalization problems are
// logged, not surfaced, so the first failure wins.
func (o *Orchestrator) fail(runID string, started time.Time, cause error) (Result, error) {
	latency := o.clock().Sub(started).Milliseconds()
	summary, _ := json.Marshal(map[string]string{"error": cause.Error()})
	if err := o.store.FinalizeRun(runID, storage.RunFailed, o.clock(), latency, string(summary)); err != nil {
		slog.Error("failed to finalize failed run", "run_id", runID, "error", err)
	}
	o.audit.RunFailed(runID, cause)
	slog.Error("run failed", "run_id", runID, "error", cause)
	return Result{RunID: runID, Status: storage.RunFailed}, cause
}
