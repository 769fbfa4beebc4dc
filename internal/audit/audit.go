// Package audit emits fire-and-forget events on run completion and
// failure. Audit problems are logged and swallowed; they must never
// affect run status.
package audit

import (
	"encoding/json"
	"log/slog"

	"github.com/kalambet/pengeplan/internal/storage"
)

const (
	EventRunCompleted = "run_completed"
	EventRunFailed    = "run_failed"
)

// Sink receives audit events. Implementations must be safe to call from
// concurrent runs.
type Sink interface {
	RunCompleted(runID, entryPoint string, suggestionCount int, latencyMs int64)
	RunFailed(runID string, err error)
}

// Recorder writes audit events to the store's audit_events table.
type Recorder struct {
	store *storage.Store
}

func NewRecorder(store *storage.Store) *Recorder {
	return &Recorder{store: store}
}

func (r *Recorder) RunCompleted(runID, entryPoint string, suggestionCount int, latencyMs int64) {
	r.emit(runID, EventRunCompleted, map[string]any{
		"run_id":           runID,
		"entry_point":      entryPoint,
		"suggestion_count": suggestionCount,
		"latency_ms":       latencyMs,
	})
}

func (r *Recorder) RunFailed(runID string, err error) {
	r.emit(runID, EventRunFailed, map[string]any{
		"run_id": runID,
		"error":  err.Error(),
	})
}

func (r *Recorder) emit(runID, eventType string, payload map[string]any) {
	data, err := json.Marshal(payload)
	if err != nil {
		slog.Warn("audit: failed to marshal event payload", "type", eventType, "error", err)
		return
	}
	if err := r.store.SaveAuditEvent(storage.AuditEvent{
		RunID:       runID,
		Type:        eventType,
		PayloadJSON: string(data),
	}); err != nil {
		slog.Warn("audit: failed to record event", "type", eventType, "run_id", runID, "error", err)
	}
}

// Discard is a no-op sink for tests and tooling.
type Discard struct{}

func (Discard) RunCompleted(string, string, int, int64) {}
func (Discard) RunFailed(string, error)                 {}
