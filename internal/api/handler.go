// Package api exposes the pipeline over HTTP: triggering runs,
// inspecting traces and suggestions, reviewing proposals, maintaining
// the snapshot tables, and reading aggregated metrics.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/kalambet/pengeplan/internal/ingest"
	"github.com/kalambet/pengeplan/internal/metrics"
	"github.com/kalambet/pengeplan/internal/orchestrator"
	"github.com/kalambet/pengeplan/internal/planning"
	"github.com/kalambet/pengeplan/internal/storage"
)

const maxRequestBodySize = 1 << 20 // 1MB

// Runner triggers pipeline runs.
type Runner interface {
	Run(ctx context.Context, userID string, entry planning.EntryPoint, opts orchestrator.Options) (orchestrator.Result, error)
}

// MetricsSource aggregates run metrics over a window.
type MetricsSource interface {
	Aggregate(ctx context.Context, windowDays int) (metrics.Metrics, error)
}

type AppDeps struct {
	Store   *storage.Store
	Runner  Runner
	Metrics MetricsSource
	Token   string
}

func NewAppHandler(deps AppDeps) http.Handler {
	r := chi.NewRouter()
	r.Get("/health", handleHealth)

	r.Group(func(r chi.Router) {
		r.Use(BearerAuth(deps.Token))

		r.Post("/runs", handleCreateRun(deps))
		r.Get("/runs/{id}", handleGetRun(deps))
		r.Get("/runs/{id}/trace", handleGetTrace(deps))
		r.Get("/runs/{id}/blocked", handleGetBlocked(deps))

		r.Get("/suggestions", handleListSuggestions(deps))
		r.Post("/suggestions/{id}/review", handleReviewSuggestion(deps))

		r.Get("/metrics", handleMetrics(deps))

		r.Post("/snapshot/profile", handleSetProfile(deps))
		r.Post("/snapshot/budget", handleSaveBudget(deps))
		r.Post("/snapshot/bills", handleUpsertBill(deps))
		r.Post("/snapshot/bills/import", handleImportBill(deps))
		r.Post("/snapshot/debts", handleUpsertDebt(deps))
		r.Post("/snapshot/goals", handleUpsertGoal(deps))
		r.Post("/snapshot/policies", handleUpsertPolicy(deps))
	})

	return r
}

func handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.Write([]byte(`{"status":"ok"}`))
}

type runRequest struct {
	UserID     string `json:"user_id"`
	EntryPoint string `json:"entry_point"`
}

type runView struct {
	ID            string          `json:"id"`
	UserID        string          `json:"user_id"`
	EntryPoint    string          `json:"entry_point"`
	Status        string          `json:"status"`
	StartedAt     time.Time       `json:"started_at"`
	FinishedAt    *time.Time      `json:"finished_at,omitempty"`
	LatencyMs     int64           `json:"latency_ms"`
	ResultSummary json.RawMessage `json:"result_summary,omitempty"`
}

func toRunView(r storage.Run) runView {
	v := runView{
		ID:         r.ID,
		UserID:     r.UserID,
		EntryPoint: r.EntryPoint,
		Status:     r.Status,
		StartedAt:  r.StartedAt,
		LatencyMs:  r.LatencyMs,
	}
	if !r.FinishedAt.IsZero() {
		t := r.FinishedAt
		v.FinishedAt = &t
	}
	if r.ResultSummary != "" {
		v.ResultSummary = json.RawMessage(r.ResultSummary)
	}
	return v
}

func handleCreateRun(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)
		defer r.Body.Close()

		var req runRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid request body: %v", err)
			return
		}
		if req.UserID == "" {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "user_id is required")
			return
		}
		entry, err := planning.ParseEntryPoint(req.EntryPoint)
		if err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "%v", err)
			return
		}

		result, err := deps.Runner.Run(r.Context(), req.UserID, entry, orchestrator.Options{})
		if err != nil {
			// The run record exists and is finalized; surface its id so
			// the trace can be inspected.
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusInternalServerError)
			json.NewEncoder(w).Encode(map[string]any{
				"run_id": result.RunID,
				"status": result.Status,
				"error":  err.Error(),
			})
			return
		}

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]any{
			"run_id":       result.RunID,
			"status":       result.Status,
			"suggestions":  result.Suggestions,
			"blocked":      result.Blocked,
			"confidence":   result.Confidence,
			"impact_score": result.ImpactScore,
		})
	}
}

func handleGetRun(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		run, err := deps.Store.GetRun(chi.URLParam(r, "id"))
		if errors.Is(err, storage.ErrNotFound) {
			httpError(w, http.StatusNotFound, "not_found", "run not found")
			return
		}
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to get run: %v", err)
			return
		}

		suggestions, err := deps.Store.ListSuggestionsByRun(run.ID)
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to list suggestions: %v", err)
			return
		}

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]any{
			"run":         toRunView(run),
			"suggestions": toSuggestionViews(suggestions),
		})
	}
}

type traceView struct {
	StageName string          `json:"stage_name"`
	StepIndex int             `json:"step_index"`
	StateIn   json.RawMessage `json:"state_in"`
	StateOut  json.RawMessage `json:"state_out"`
	LatencyMs int64           `json:"latency_ms"`
	CreatedAt time.Time       `json:"created_at"`
}

func handleGetTrace(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "id")
		if _, err := deps.Store.GetRun(id); errors.Is(err, storage.ErrNotFound) {
			httpError(w, http.StatusNotFound, "not_found", "run not found")
			return
		} else if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to get run: %v", err)
			return
		}

		traces, err := deps.Store.ListTraces(id)
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to list traces: %v", err)
			return
		}

		views := make([]traceView, 0, len(traces))
		for _, t := range traces {
			views = append(views, traceView{
				StageName: t.StageName,
				StepIndex: t.StepIndex,
				StateIn:   json.RawMessage(t.StateIn),
				StateOut:  json.RawMessage(t.StateOut),
				LatencyMs: t.LatencyMs,
				CreatedAt: t.CreatedAt,
			})
		}

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(views)
	}
}

type blockedView struct {
	ID            string          `json:"id"`
	Kind          string          `json:"kind"`
	Target        json.RawMessage `json:"target"`
	ViolationType string          `json:"violation_type"`
	BlockReason   string          `json:"block_reason"`
}

func handleGetBlocked(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		blocked, err := deps.Store.ListBlockedByRun(chi.URLParam(r, "id"))
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to list blocked suggestions: %v", err)
			return
		}

		views := make([]blockedView, 0, len(blocked))
		for _, b := range blocked {
			views = append(views, blockedView{
				ID:            b.ID,
				Kind:          b.Kind,
				Target:        json.RawMessage(b.TargetJSON),
				ViolationType: b.ViolationType,
				BlockReason:   b.BlockReason,
			})
		}

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(views)
	}
}

type suggestionView struct {
	ID          string          `json:"id"`
	RunID       string          `json:"run_id"`
	UserID      string          `json:"user_id"`
	Kind        string          `json:"kind"`
	Reasoning   string          `json:"reasoning"`
	Confidence  int             `json:"confidence"`
	Target      json.RawMessage `json:"target"`
	Impact      json.RawMessage `json:"impact,omitempty"`
	PolicyHints json.RawMessage `json:"policy_hints"`
	RiskLevel   string          `json:"risk_level"`
	Status      string          `json:"status"`
	CreatedAt   time.Time       `json:"created_at"`
}

func toSuggestionViews(records []storage.Suggestion) []suggestionView {
	views := make([]suggestionView, 0, len(records))
	for _, rec := range records {
		v := suggestionView{
			ID:          rec.ID,
			RunID:       rec.RunID,
			UserID:      rec.UserID,
			Kind:        rec.Kind,
			Reasoning:   rec.Reasoning,
			Confidence:  rec.Confidence,
			Target:      json.RawMessage(rec.TargetJSON),
			PolicyHints: json.RawMessage(rec.PolicyHints),
			RiskLevel:   rec.RiskLevel,
			Status:      rec.Status,
			CreatedAt:   rec.CreatedAt,
		}
		if rec.ImpactJSON != "" {
			v.Impact = json.RawMessage(rec.ImpactJSON)
		}
		views = append(views, v)
	}
	return views
}

func handleListSuggestions(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userID := r.URL.Query().Get("user_id")
		if userID == "" {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "user_id is required")
			return
		}
		limit := parseIntParam(r, "limit", 20, 100)

		records, err := deps.Store.ListSuggestionsByUser(userID, limit)
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to list suggestions: %v", err)
			return
		}

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(toSuggestionViews(records))
	}
}

type reviewRequest struct {
	Status string `json:"status"` // "applied" or "rejected"
}

func handleReviewSuggestion(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)
		var req reviewRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid request body: %v", err)
			return
		}
		if req.Status != storage.SuggestionApplied && req.Status != storage.SuggestionRejected {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "status must be %q or %q", storage.SuggestionApplied, storage.SuggestionRejected)
			return
		}

		err := deps.Store.ReviewSuggestion(chi.URLParam(r, "id"), req.Status)
		if errors.Is(err, storage.ErrNotFound) {
			httpError(w, http.StatusNotFound, "not_found", "suggestion not found or already reviewed")
			return
		}
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to review suggestion: %v", err)
			return
		}

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]string{"status": req.Status})
	}
}

func handleMetrics(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		windowDays := parseIntParam(r, "window_days", 0, 365)

		m, err := deps.Metrics.Aggregate(r.Context(), windowDays)
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to aggregate metrics: %v", err)
			return
		}

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(m)
	}
}

func handleSetProfile(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			UserID        string  `json:"user_id"`
			MonthlyIncome float64 `json:"monthly_income"`
			Currency      string  `json:"currency"`
		}
		if !decodeBody(w, r, &req) {
			return
		}
		if req.UserID == "" {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "user_id is required")
			return
		}
		saveSnapshotRecord(w, deps.Store.SetProfile(storage.Profile{
			UserID: req.UserID, MonthlyIncome: req.MonthlyIncome, Currency: req.Currency,
		}), req.UserID)
	}
}

func handleSaveBudget(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			ID         string                    `json:"id"`
			UserID     string                    `json:"user_id"`
			Month      string                    `json:"month"`
			Categories []planning.BudgetCategory `json:"categories"`
		}
		if !decodeBody(w, r, &req) {
			return
		}
		if req.UserID == "" {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "user_id is required")
			return
		}
		if req.ID == "" {
			req.ID = uuid.New().String()
		}
		categories, err := json.Marshal(req.Categories)
		if err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid categories: %v", err)
			return
		}
		saveSnapshotRecord(w, deps.Store.SaveBudget(storage.Budget{
			ID: req.ID, UserID: req.UserID, Month: req.Month, CategoriesJSON: string(categories),
		}), req.ID)
	}
}

func handleUpsertBill(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			ID       string    `json:"id"`
			UserID   string    `json:"user_id"`
			Name     string    `json:"name"`
			Amount   float64   `json:"amount"`
			DueDate  time.Time `json:"due_date"`
			Category string    `json:"category"`
			Paid     bool      `json:"paid"`
		}
		if !decodeBody(w, r, &req) {
			return
		}
		if req.UserID == "" || req.Name == "" {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "user_id and name are required")
			return
		}
		if req.ID == "" {
			req.ID = uuid.New().String()
		}
		saveSnapshotRecord(w, deps.Store.UpsertBill(storage.Bill{
			ID: req.ID, UserID: req.UserID, Name: req.Name, Amount: req.Amount,
			DueDate: req.DueDate, Category: req.Category, Paid: req.Paid,
		}), req.ID)
	}
}

func handleImportBill(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var payload ingest.Payload
		if !decodeBody(w, r, &payload) {
			return
		}
		if payload.UserID == "" {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "user_id is required")
			return
		}
		if payload.Path == "" && payload.URL == "" {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "at least one of path or url is required")
			return
		}

		data, err := json.Marshal(payload)
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to create job payload: %v", err)
			return
		}
		job := storage.Job{
			ID:          uuid.New().String(),
			Type:        ingest.JobType,
			PayloadJSON: string(data),
		}
		if err := deps.Store.EnqueueJob(job); err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to enqueue job: %v", err)
			return
		}

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]string{"id": job.ID, "status": "queued"})
	}
}

func handleUpsertDebt(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			ID             string  `json:"id"`
			UserID         string  `json:"user_id"`
			Name           string  `json:"name"`
			Principal      float64 `json:"principal"`
			AnnualRatePct  float64 `json:"annual_rate_pct"`
			MinimumPayment float64 `json:"minimum_payment"`
		}
		if !decodeBody(w, r, &req) {
			return
		}
		if req.UserID == "" || req.Name == "" {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "user_id and name are required")
			return
		}
		if req.ID == "" {
			req.ID = uuid.New().String()
		}
		saveSnapshotRecord(w, deps.Store.UpsertDebt(storage.Debt{
			ID: req.ID, UserID: req.UserID, Name: req.Name, Principal: req.Principal,
			AnnualRatePct: req.AnnualRatePct, MinimumPayment: req.MinimumPayment,
		}), req.ID)
	}
}

func handleUpsertGoal(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			ID           string    `json:"id"`
			UserID       string    `json:"user_id"`
			Name         string    `json:"name"`
			TargetAmount float64   `json:"target_amount"`
			SavedAmount  float64   `json:"saved_amount"`
			TargetDate   time.Time `json:"target_date"`
			Priority     int       `json:"priority"`
			Kind         string    `json:"kind"`
			Paused       bool      `json:"paused"`
		}
		if !decodeBody(w, r, &req) {
			return
		}
		if req.UserID == "" || req.Name == "" {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "user_id and name are required")
			return
		}
		if req.ID == "" {
			req.ID = uuid.New().String()
		}
		saveSnapshotRecord(w, deps.Store.UpsertGoal(storage.Goal{
			ID: req.ID, UserID: req.UserID, Name: req.Name, TargetAmount: req.TargetAmount,
			SavedAmount: req.SavedAmount, TargetDate: req.TargetDate, Priority: req.Priority,
			Kind: req.Kind, Paused: req.Paused,
		}), req.ID)
	}
}

func handleUpsertPolicy(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			ID       string          `json:"id"`
			UserID   string          `json:"user_id"`
			Name     string          `json:"name"`
			Kind     string          `json:"kind"`
			Params   json.RawMessage `json:"params"`
			Active   *bool           `json:"active"`
			Position int             `json:"position"`
		}
		if !decodeBody(w, r, &req) {
			return
		}
		if req.Name == "" || req.Kind == "" {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "name and kind are required")
			return
		}
		if req.ID == "" {
			req.ID = uuid.New().String()
		}
		active := true
		if req.Active != nil {
			active = *req.Active
		}
		saveSnapshotRecord(w, deps.Store.UpsertPolicy(storage.Policy{
			ID: req.ID, UserID: req.UserID, Name: req.Name, Kind: req.Kind,
			ParamsJSON: string(req.Params), Active: active, Position: req.Position,
		}), req.ID)
	}
}

func decodeBody(w http.ResponseWriter, r *http.Request, dst any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)
	defer r.Body.Close()
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid request body: %v", err)
		return false
	}
	return true
}

func saveSnapshotRecord(w http.ResponseWriter, err error, id string) {
	if err != nil {
		httpError(w, http.StatusInternalServerError, "api_error", "failed to save record: %v", err)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{"id": id, "status": "saved"})
}

func parseIntParam(r *http.Request, key string, defaultVal, maxVal int) int {
	s := r.URL.Query().Get(key)
	if s == "" {
		return defaultVal
	}
	v, err := strconv.Atoi(s)
	if err != nil || v < 0 {
		return defaultVal
	}
	if maxVal > 0 && v > maxVal {
		return maxVal
	}
	return v
}

func httpError(w http.ResponseWriter, code int, errType string, format string, args ...any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	msg := fmt.Sprintf(format, args...)
	json.NewEncoder(w).Encode(map[string]any{
		"error": map[string]any{
			"message": msg,
			"type":    errType,
		},
	})
}
