package storage

import (
	"errors"
	"time"
)

// ErrNotFound is returned when a requested record does not exist.
var ErrNotFound = errors.New("not found")

// Run lifecycle statuses. A run is created running and transitions
// exactly once to one of the terminal states.
const (
	RunRunning   = "running"
	RunSucceeded = "succeeded"
	RunFailed    = "failed"
	RunBlocked   = "blocked"
)

type Run struct {
	ID            string
	UserID        string
	EntryPoint    string
	Status        string
	StartedAt     time.Time
	FinishedAt    time.Time // zero while running
	LatencyMs     int64
	ResultSummary string // JSON
}

// NodeTrace is the append-only audit record for one stage execution.
type NodeTrace struct {
	ID        int64
	RunID     string
	StageName string
	StepIndex int
	StateIn   string // context snapshot JSON
	StateOut  string // context snapshot JSON, or error payload
	LatencyMs int64
	CreatedAt time.Time
}

// Suggestion review statuses. Proposed suggestions may later be marked
// applied or rejected by a human reviewer.
const (
	SuggestionProposed = "proposed"
	SuggestionApplied  = "applied"
	SuggestionRejected = "rejected"
)

type Suggestion struct {
	ID          string
	RunID       string
	UserID      string
	Kind        string
	Reasoning   string
	Confidence  int
	TargetJSON  string
	ImpactJSON  string
	PolicyHints string // JSON array stored as text
	RiskLevel   string
	Status      string
	CreatedAt   time.Time
}

type BlockedSuggestion struct {
	ID            string
	RunID         string
	Kind          string
	TargetJSON    string
	ViolationType string
	BlockReason   string
	CreatedAt     time.Time
}

type AuditEvent struct {
	ID          int64
	RunID       string
	Type        string
	PayloadJSON string
	CreatedAt   time.Time
}

type Job struct {
	ID          string
	Type        string
	PayloadJSON string
	Status      string // "pending", "running", "completed", "failed"
	Attempts    int
	MaxAttempts int
	RunAfter    time.Time
	CreatedAt   time.Time
	UpdatedAt   time.Time
	LastError   string
}

// --- snapshot source records ---

type Profile struct {
	UserID        string
	MonthlyIncome float64
	Currency      string
	UpdatedAt     time.Time
}

type Budget struct {
	ID             string
	UserID         string
	Month          string
	CategoriesJSON string
	CreatedAt      time.Time
}

type Bill struct {
	ID        string
	UserID    string
	Name      string
	Amount    float64
	DueDate   time.Time
	Category  string
	Paid      bool
	CreatedAt time.Time
}

type Debt struct {
	ID             string
	UserID         string
	Name           string
	Principal      float64
	AnnualRatePct  float64
	MinimumPayment float64
	CreatedAt      time.Time
}

type Goal struct {
	ID           string
	UserID       string
	Name         string
	TargetAmount float64
	SavedAmount  float64
	TargetDate   time.Time
	Priority     int
	Kind         string
	Paused       bool
	CreatedAt    time.Time
}

type Policy struct {
	ID         string
	UserID     string // empty for global policies
	Name       string
	Kind       string
	ParamsJSON string
	Active     bool
	Position   int
	CreatedAt  time.Time
}
