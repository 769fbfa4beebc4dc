package planning

import (
	"encoding/json"
	"fmt"
	"time"
)

// Kind discriminates the suggestion tagged union. Every kind has exactly
// one concrete Target payload type.
type Kind string

const (
	KindBudgetReallocate    Kind = "budget_reallocate"
	KindBillDefer           Kind = "bill_defer"
	KindBillPartialPay      Kind = "bill_partial_pay"
	KindBillPrioritize      Kind = "bill_prioritize"
	KindDebtReplan          Kind = "debt_replan"
	KindDebtConsolidate     Kind = "debt_consolidate"
	KindDebtEmergencyFund   Kind = "debt_emergency_fund"
	KindGoalPause           Kind = "goal_pause"
	KindGoalPrioritize      Kind = "goal_prioritize"
	KindGoalConsolidate     Kind = "goal_consolidate"
	KindGoalCreateEmergency Kind = "goal_create_emergency"
)

// MaxReasoningLen is the hard cap on a suggestion's rationale string.
const MaxReasoningLen = 240

// Target is the variant-specific proposal payload of a suggestion.
type Target interface {
	Kind() Kind
	Validate() error
}

// Suggestion is one proposed financial action flowing through the pipeline.
type Suggestion struct {
	ID          string    `json:"id,omitempty"`
	Kind        Kind      `json:"kind"`
	Reasoning   string    `json:"reasoning"`
	Confidence  int       `json:"confidence"` // 0-100
	Target      Target    `json:"target"`
	Impact      *Impact   `json:"impact,omitempty"`
	PolicyHints []string  `json:"policy_hints,omitempty"`
	RiskLevel   RiskLevel `json:"risk_level"`
}

// NewSuggestion builds a validated suggestion. The target payload must
// match the kind and pass its own validation; the base reasoning must be
// non-empty and within the hard cap.
func NewSuggestion(kind Kind, reasoning string, confidence int, target Target) (Suggestion, error) {
	if target == nil {
		return Suggestion{}, fmt.Errorf("suggestion %s: nil target", kind)
	}
	if target.Kind() != kind {
		return Suggestion{}, fmt.Errorf("suggestion %s: target payload is for %s", kind, target.Kind())
	}
	if err := target.Validate(); err != nil {
		return Suggestion{}, fmt.Errorf("suggestion %s: %w", kind, err)
	}
	if reasoning == "" {
		return Suggestion{}, fmt.Errorf("suggestion %s: empty reasoning", kind)
	}
	if len(reasoning) > MaxReasoningLen {
		return Suggestion{}, fmt.Errorf("suggestion %s: reasoning exceeds %d chars", kind, MaxReasoningLen)
	}
	if confidence < 0 {
		confidence = 0
	}
	if confidence > 100 {
		confidence = 100
	}
	return Suggestion{
		Kind:       kind,
		Reasoning:  reasoning,
		Confidence: confidence,
		Target:     target,
		RiskLevel:  RiskLow,
	}, nil
}

// BlockedSuggestion is a candidate the guardrail rejected. It never
// reaches reasoning, impact, or the persisted suggestion set.
type BlockedSuggestion struct {
	Suggestion
	ViolationType string // "policy" or "safety"
	BlockReason   string
}

const (
	ViolationPolicy = "policy"
	ViolationSafety = "safety"
)

// --- target payloads ---

// BillRef is a compact reference to a bill inside a target payload.
type BillRef struct {
	ID      string    `json:"id"`
	Name    string    `json:"name"`
	Amount  float64   `json:"amount"`
	DueDate time.Time `json:"due_date"`
}

type BudgetReallocateTarget struct {
	Category  string  `json:"category"`
	Planned   float64 `json:"planned"`
	Actual    float64 `json:"actual"`
	Variance  float64 `json:"variance"` // (actual-planned)/planned
	Amount    float64 `json:"amount"`   // 80% of the absolute variance
	Direction string  `json:"direction"`
}

const (
	ReallocateReduce = "reduce"     // over budget: cut spend
	ReallocateShift  = "reallocate" // under budget: move surplus
)

func (BudgetReallocateTarget) Kind() Kind { return KindBudgetReallocate }

func (t BudgetReallocateTarget) Validate() error {
	if t.Category == "" {
		return fmt.Errorf("missing category")
	}
	if t.Amount <= 0 {
		return fmt.Errorf("non-positive amount")
	}
	if t.Direction != ReallocateReduce && t.Direction != ReallocateShift {
		return fmt.Errorf("invalid direction %q", t.Direction)
	}
	return nil
}

type BillDeferTarget struct {
	Bills         []BillRef `json:"bills"`
	TotalDeferred float64   `json:"total_deferred"`
	Deficit       float64   `json:"deficit"`
	DeferDays     int       `json:"defer_days"`
}

func (BillDeferTarget) Kind() Kind { return KindBillDefer }

func (t BillDeferTarget) Validate() error {
	if len(t.Bills) == 0 {
		return fmt.Errorf("no bills to defer")
	}
	if t.TotalDeferred <= 0 {
		return fmt.Errorf("non-positive deferred total")
	}
	return nil
}

type BillPartialPayTarget struct {
	Bill            BillRef `json:"bill"`
	ProposedPayment float64 `json:"proposed_payment"`
}

func (BillPartialPayTarget) Kind() Kind { return KindBillPartialPay }

func (t BillPartialPayTarget) Validate() error {
	if t.Bill.ID == "" {
		return fmt.Errorf("missing bill")
	}
	if t.ProposedPayment <= 0 || t.ProposedPayment >= t.Bill.Amount {
		return fmt.Errorf("proposed payment must be positive and below the full amount")
	}
	return nil
}

type BillPrioritizeTarget struct {
	Order []BillRef `json:"order"`
}

func (BillPrioritizeTarget) Kind() Kind { return KindBillPrioritize }

func (t BillPrioritizeTarget) Validate() error {
	if len(t.Order) < 2 {
		return fmt.Errorf("prioritization needs at least two bills")
	}
	return nil
}

const (
	StrategySnowball  = "snowball"
	StrategyAvalanche = "avalanche"
)

// DebtPlanEntry carries everything needed to re-derive payoff months from
// the amortization formula independently of the stage that computed it.
type DebtPlanEntry struct {
	ID             string  `json:"id"`
	Name           string  `json:"name"`
	Principal      float64 `json:"principal"`
	AnnualRatePct  float64 `json:"annual_rate_pct"`
	MonthlyPayment float64 `json:"monthly_payment"`
	PayoffMonths   float64 `json:"payoff_months"`
}

type DebtReplanTarget struct {
	Strategy         string          `json:"strategy"`
	ExtraPayment     float64         `json:"extra_payment"`
	Order            []DebtPlanEntry `json:"order"`
	TotalMonths      float64         `json:"total_months"`
	BaselineMonths   float64         `json:"baseline_months"`
	BaselineInterest float64         `json:"baseline_interest"`
	PlanInterest     float64         `json:"plan_interest"`
	InterestSaved    float64         `json:"interest_saved"`
}

func (DebtReplanTarget) Kind() Kind { return KindDebtReplan }

func (t DebtReplanTarget) Validate() error {
	if t.Strategy != StrategySnowball && t.Strategy != StrategyAvalanche {
		return fmt.Errorf("invalid strategy %q", t.Strategy)
	}
	if len(t.Order) == 0 {
		return fmt.Errorf("empty payoff order")
	}
	return nil
}

type DebtConsolidateTarget struct {
	DebtIDs               []string `json:"debt_ids"`
	TotalPrincipal        float64  `json:"total_principal"`
	CurrentMonthlyPayment float64  `json:"current_monthly_payment"`
	NewMonthlyPayment     float64  `json:"new_monthly_payment"`
	NewRatePct            float64  `json:"new_rate_pct"`
	TermMonths            int      `json:"term_months"`
}

func (DebtConsolidateTarget) Kind() Kind { return KindDebtConsolidate }

func (t DebtConsolidateTarget) Validate() error {
	if len(t.DebtIDs) < 2 {
		return fmt.Errorf("consolidation needs at least two debts")
	}
	if t.TotalPrincipal <= 0 || t.NewMonthlyPayment <= 0 {
		return fmt.Errorf("non-positive principal or payment")
	}
	return nil
}

type DebtEmergencyFundTarget struct {
	MonthlyAmount float64 `json:"monthly_amount"`
	TargetAmount  float64 `json:"target_amount"`
}

func (DebtEmergencyFundTarget) Kind() Kind { return KindDebtEmergencyFund }

func (t DebtEmergencyFundTarget) Validate() error {
	if t.MonthlyAmount <= 0 || t.TargetAmount <= 0 {
		return fmt.Errorf("non-positive amount")
	}
	return nil
}

// GoalRef is a compact reference to a goal inside a target payload.
type GoalRef struct {
	ID                  string  `json:"id"`
	Name                string  `json:"name"`
	MonthlyContribution float64 `json:"monthly_contribution"`
	MonthsToTarget      float64 `json:"months_to_target"`
}

type GoalPauseTarget struct {
	Goals        []GoalRef `json:"goals"`
	MonthlyFreed float64   `json:"monthly_freed"`
}

func (GoalPauseTarget) Kind() Kind { return KindGoalPause }

func (t GoalPauseTarget) Validate() error {
	if len(t.Goals) == 0 {
		return fmt.Errorf("no goals to pause")
	}
	return nil
}

type GoalPrioritizeTarget struct {
	Order []GoalRef `json:"order"`
}

func (GoalPrioritizeTarget) Kind() Kind { return KindGoalPrioritize }

func (t GoalPrioritizeTarget) Validate() error {
	if len(t.Order) < 2 {
		return fmt.Errorf("prioritization needs at least two goals")
	}
	return nil
}

type GoalConsolidateTarget struct {
	GoalIDs        []string `json:"goal_ids"`
	Names          []string `json:"names"`
	CombinedTarget float64  `json:"combined_target"`
	CombinedSaved  float64  `json:"combined_saved"`
}

func (GoalConsolidateTarget) Kind() Kind { return KindGoalConsolidate }

func (t GoalConsolidateTarget) Validate() error {
	if len(t.GoalIDs) < 2 {
		return fmt.Errorf("consolidation needs at least two goals")
	}
	return nil
}

type GoalCreateEmergencyTarget struct {
	TargetAmount        float64 `json:"target_amount"`
	MonthlyContribution float64 `json:"monthly_contribution"`
	MonthsToTarget      float64 `json:"months_to_target"`
}

func (GoalCreateEmergencyTarget) Kind() Kind { return KindGoalCreateEmergency }

func (t GoalCreateEmergencyTarget) Validate() error {
	if t.TargetAmount <= 0 || t.MonthlyContribution <= 0 {
		return fmt.Errorf("non-positive amount")
	}
	return nil
}

// EncodeTarget serializes a target payload for storage.
func EncodeTarget(t Target) (string, error) {
	b, err := json.Marshal(t)
	if err != nil {
		return "", fmt.Errorf("encoding %s target: %w", t.Kind(), err)
	}
	return string(b), nil
}

// DecodeTarget reconstructs the concrete payload for a stored suggestion.
func DecodeTarget(kind Kind, data string) (Target, error) {
	var t Target
	switch kind {
	case KindBudgetReallocate:
		t = &BudgetReallocateTarget{}
	case KindBillDefer:
		t = &BillDeferTarget{}
	case KindBillPartialPay:
		t = &BillPartialPayTarget{}
	case KindBillPrioritize:
		t = &BillPrioritizeTarget{}
	case KindDebtReplan:
		t = &DebtReplanTarget{}
	case KindDebtConsolidate:
		t = &DebtConsolidateTarget{}
	case KindDebtEmergencyFund:
		t = &DebtEmergencyFundTarget{}
	case KindGoalPause:
		t = &GoalPauseTarget{}
	case KindGoalPrioritize:
		t = &GoalPrioritizeTarget{}
	case KindGoalConsolidate:
		t = &GoalConsolidateTarget{}
	case KindGoalCreateEmergency:
		t = &GoalCreateEmergencyTarget{}
	default:
		return nil, fmt.Errorf("unknown suggestion kind %q", kind)
	}
	if err := json.Unmarshal([]byte(data), t); err != nil {
		return nil, fmt.Errorf("decoding %s target: %w", kind, err)
	}
	return deref(t), nil
}

// deref unwraps the pointer used for unmarshalling so targets compare by
// value in tests.
func deref(t Target) Target {
	switch v := t.(type) {
	case *BudgetReallocateTarget:
		return *v
	case *BillDeferTarget:
		return *v
	case *BillPartialPayTarget:
		return *v
	case *BillPrioritizeTarget:
		return *v
	case *DebtReplanTarget:
		return *v
	case *DebtConsolidateTarget:
		return *v
	case *DebtEmergencyFundTarget:
		return *v
	case *GoalPauseTarget:
		return *v
	case *GoalPrioritizeTarget:
		return *v
	case *GoalConsolidateTarget:
		return *v
	case *GoalCreateEmergencyTarget:
		return *v
	}
	return t
}
