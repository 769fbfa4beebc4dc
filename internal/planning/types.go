package planning

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// EntryPoint identifies who triggered a pipeline run.
type EntryPoint string

const (
	EntryUserAssist     EntryPoint = "user_assist"
	EntryGuardianAssist EntryPoint = "guardian_assist"
	EntryAdminTrigger   EntryPoint = "admin_trigger"
)

// ParseEntryPoint validates a wire-format entry point string.
func ParseEntryPoint(s string) (EntryPoint, error) {
	switch EntryPoint(s) {
	case EntryUserAssist, EntryGuardianAssist, EntryAdminTrigger:
		return EntryPoint(s), nil
	}
	return "", fmt.Errorf("unknown entry point %q", s)
}

// RiskLevel grades an accepted suggestion. Ordered low < medium < high.
type RiskLevel string

const (
	RiskLow    RiskLevel = "low"
	RiskMedium RiskLevel = "medium"
	RiskHigh   RiskLevel = "high"
)

func riskRank(r RiskLevel) int {
	switch r {
	case RiskMedium:
		return 1
	case RiskHigh:
		return 2
	}
	return 0
}

// MaxRisk returns the more severe of two risk levels.
func MaxRisk(a, b RiskLevel) RiskLevel {
	if riskRank(b) > riskRank(a) {
		return b
	}
	return a
}

type BudgetCategory struct {
	Name    string  `json:"name"`
	Planned float64 `json:"planned"`
	Actual  float64 `json:"actual"`
}

type Budget struct {
	ID         string           `json:"id"`
	Month      string           `json:"month"` // "2026-08"
	Categories []BudgetCategory `json:"categories"`
}

type Bill struct {
	ID       string    `json:"id"`
	Name     string    `json:"name"`
	Amount   float64   `json:"amount"`
	DueDate  time.Time `json:"due_date"`
	Category string    `json:"category"`
	Paid     bool      `json:"paid"`
}

// essentialUtilities lists bill categories that must never be deferred.
// Norwegian labels appear alongside English because imported invoices
// commonly carry them.
var essentialUtilities = map[string]struct{}{
	"electricity": {},
	"strøm":       {},
	"water":       {},
	"vann":        {},
	"rent":        {},
	"husleie":     {},
}

// EssentialUtility reports whether the bill is an essential utility
// (electricity, water, rent) that safety rules protect from deferral.
func (b Bill) EssentialUtility() bool {
	_, ok := essentialUtilities[strings.ToLower(strings.TrimSpace(b.Category))]
	return ok
}

type Debt struct {
	ID             string  `json:"id"`
	Name           string  `json:"name"`
	Principal      float64 `json:"principal"`
	AnnualRatePct  float64 `json:"annual_rate_pct"`
	MinimumPayment float64 `json:"minimum_payment"`
}

// MonthlyRate converts the annual percentage rate to a monthly fraction.
func (d Debt) MonthlyRate() float64 {
	return d.AnnualRatePct / 100 / 12
}

const GoalKindEmergencyFund = "emergency_fund"

type Goal struct {
	ID           string    `json:"id"`
	Name         string    `json:"name"`
	TargetAmount float64   `json:"target_amount"`
	SavedAmount  float64   `json:"saved_amount"`
	TargetDate   time.Time `json:"target_date"`
	Priority     int       `json:"priority"`
	Kind         string    `json:"kind"`
	Paused       bool      `json:"paused"`
}

// MonthsToTarget returns the whole months remaining until the goal's
// target date, never less than one.
func (g Goal) MonthsToTarget(now time.Time) float64 {
	months := g.TargetDate.Sub(now).Hours() / 24 / 30
	if months < 1 {
		return 1
	}
	return months
}

// MonthlyContribution is the amount needed per month to reach the target
// on time from the current saved amount.
func (g Goal) MonthlyContribution(now time.Time) float64 {
	remaining := g.TargetAmount - g.SavedAmount
	if remaining <= 0 {
		return 0
	}
	return remaining / g.MonthsToTarget(now)
}

// Policy is an externally supplied guardrail rule document. Params is an
// opaque JSON object interpreted per Kind by the guardrail.
type Policy struct {
	ID       string          `json:"id"`
	Name     string          `json:"name"`
	Kind     string          `json:"kind"`
	Params   json.RawMessage `json:"params"`
	Position int             `json:"position"`
}

// Cashflow is derived once by the snapshot loader; stages read it but
// never re-derive it.
type Cashflow struct {
	MonthlyIncome   float64 `json:"monthly_income"`
	MonthlyExpenses float64 `json:"monthly_expenses"`
	NetFlow         float64 `json:"net_flow"`
	UpcomingBills   []Bill  `json:"upcoming_bills"`
}
