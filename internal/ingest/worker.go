// Package ingest turns imported bill documents (PDF or HTML invoices)
// into draft bill rows via the SQLite job queue.
package ingest

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/kalambet/pengeplan/internal/storage"
)

// JobType is the queue type this worker claims.
const JobType = "import_bill"

// JobStore abstracts the job queue plus the bill upsert the worker
// performs on success.
type JobStore interface {
	ClaimNextJob(types []string) (*storage.Job, error)
	CompleteJob(id string) error
	FailJob(id string, errMsg string) error
	UpsertBill(b storage.Bill) error
}

// Payload is the import_bill job payload. Exactly one of Path or URL is
// set.
type Payload struct {
	UserID string `json:"user_id"`
	Path   string `json:"path,omitempty"`
	URL    string `json:"url,omitempty"`
	Format string `json:"format"` // "pdf" or "html"
}

// Worker processes import_bill jobs from the SQLite job queue.
type Worker struct {
	store  JobStore
	client *http.Client
	poll   time.Duration
	logger *slog.Logger
}

// NewWorker creates a Worker with the given dependencies.
// If pollInterval is <= 0, it defaults to 500ms.
func NewWorker(store JobStore, pollInterval time.Duration) *Worker {
	if pollInterval <= 0 {
		pollInterval = 500 * time.Millisecond
	}
	return &Worker{
		store:  store,
		client: &http.Client{Timeout: 30 * time.Second},
		poll:   pollInterval,
		logger: slog.Default(),
	}
}

// Run polls for jobs until ctx is cancelled.
func (w *Worker) Run(ctx context.Context) {
	for {
		if ctx.Err() != nil {
			return
		}

		done, err := w.RunOnce(ctx)
		if err != nil {
			w.logger.Error("worker iteration failed", "error", err)
		}
		if done {
			continue
		}

		select {
		case <-ctx.Done():
			return
		case <-time.After(w.poll):
		}
	}
}

// RunOnce claims and processes a single import_bill job.
// Returns true if a job was processed (regardless of success/failure).
func (w *Worker) RunOnce(ctx context.Context) (bool, error) {
	job, err := w.store.ClaimNextJob([]string{JobType})
	if err != nil {
		return false, fmt.Errorf("claiming job: %w", err)
	}
	if job == nil {
		return false, nil
	}

	if err := w.processJob(ctx, job); err != nil {
		w.logger.Warn("job failed", "job_id", job.ID, "error", err)
		if failErr := w.store.FailJob(job.ID, err.Error()); failErr != nil {
			w.logger.Error("failed to mark job as failed", "job_id", job.ID, "error", failErr)
		}
		return true, nil
	}

	if err := w.store.CompleteJob(job.ID); err != nil {
		return true, fmt.Errorf("completing job %s: %w", job.ID, err)
	}
	return true, nil
}

func (w *Worker) processJob(ctx context.Context, job *storage.Job) error {
	var payload Payload
	if err := json.Unmarshal([]byte(job.PayloadJSON), &payload); err != nil {
		return fmt.Errorf("parsing payload: %w", err)
	}
	if payload.UserID == "" {
		return fmt.Errorf("payload missing user_id")
	}

	text, err := w.extract(ctx, payload)
	if err != nil {
		return err
	}

	inv, err := ParseInvoice(text, time.Now())
	if err != nil {
		return fmt.Errorf("parsing invoice: %w", err)
	}

	bill := storage.Bill{
		ID:       uuid.New().String(),
		UserID:   payload.UserID,
		Name:     inv.Name,
		Amount:   inv.Amount,
		DueDate:  inv.DueDate,
		Category: inv.Category,
	}
	if err := w.store.UpsertBill(bill); err != nil {
		return fmt.Errorf("saving draft bill: %w", err)
	}

	w.logger.Info("bill imported", "bill_id", bill.ID, "user_id", payload.UserID,
		"amount", bill.Amount, "category", bill.Category)
	return nil
}

func (w *Worker) extract(ctx context.Context, payload Payload) (string, error) {
	switch {
	case payload.Path != "" && payload.Format == "pdf":
		return ExtractPDF(payload.Path)
	case payload.Path != "":
		f, err := os.Open(payload.Path)
		if err != nil {
			return "", fmt.Errorf("opening document: %w", err)
		}
		defer f.Close()
		return ExtractHTML(f)
	case payload.URL != "":
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, payload.URL, nil)
		if err != nil {
			return "", fmt.Errorf("building request: %w", err)
		}
		resp, err := w.client.Do(req)
		if err != nil {
			return "", fmt.Errorf("fetching document: %w", err)
		}
		defer resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			return "", fmt.Errorf("fetching document: unexpected status %d", resp.StatusCode)
		}
		if strings.Contains(payload.Format, "pdf") {
			return "", fmt.Errorf("pdf import from url not supported, download it first")
		}
		return ExtractHTML(resp.Body)
	default:
		return "", fmt.Errorf("payload needs a path or url")
	}
}
