package stages

import (
	"context"
	"math"
	"testing"
	"time"

	"github.com/kalambet/pengeplan/internal/planning"
)

var testNow = time.Date(2026, 8, 15, 0, 0, 0, 0, time.UTC)

func findSuggestion(pc *planning.Context, kind planning.Kind) *planning.Suggestion {
	for i := range pc.Suggestions {
		if pc.Suggestions[i].Kind == kind {
			return &pc.Suggestions[i]
		}
	}
	return nil
}

// --- math ---

func TestAmortize(t *testing.T) {
	// Zero rate degenerates to simple division.
	months, ok := Amortize(10000, 0, 1000)
	if !ok || math.Abs(months-10) > 0.01 {
		t.Errorf("zero-rate amortization = %v (ok=%v), want 10", months, ok)
	}

	// Payment below the monthly interest can never retire the principal.
	months, ok = Amortize(100000, 0.02, 1000)
	if ok || months != maxPayoffMonths {
		t.Errorf("underwater payment: months = %v (ok=%v), want cap %d", months, ok, maxPayoffMonths)
	}

	if months, _ := Amortize(0, 0.01, 500); months != 0 {
		t.Errorf("zero principal: months = %v, want 0", months)
	}
}

func TestAmortizeInvertsAnnuityPayment(t *testing.T) {
	const (
		principal = 150000.0
		rate      = 0.01
		term      = 60.0
	)
	pmt := AnnuityPayment(principal, rate, term)
	if pmt <= principal/term {
		t.Fatalf("annuity payment %v should exceed interest-free installment", pmt)
	}
	months, ok := Amortize(principal, rate, pmt)
	if !ok {
		t.Fatal("amortization should converge for its own annuity payment")
	}
	if math.Abs(months-term) > 0.1 {
		t.Errorf("amortizing the annuity payment = %v months, want %v", months, term)
	}
}

// --- budget analyzer ---

func TestBudgetAnalyzer_OverBudgetCategory(t *testing.T) {
	pc := &planning.Context{
		Now: testNow,
		Budget: &planning.Budget{
			ID:    "b1",
			Month: "2026-08",
			Categories: []planning.BudgetCategory{
				{Name: "Food", Planned: 5000, Actual: 6500},
			},
		},
	}

	if err := (BudgetAnalyzer{}).Execute(context.Background(), pc); err != nil {
		t.Fatalf("Execute: %v", err)
	}

	s := findSuggestion(pc, planning.KindBudgetReallocate)
	if s == nil {
		t.Fatal("expected a budget_reallocate suggestion for the 30% overrun")
	}
	target := s.Target.(planning.BudgetReallocateTarget)
	if target.Direction != planning.ReallocateReduce {
		t.Errorf("direction = %q, want reduce", target.Direction)
	}
	if math.Abs(target.Amount-1200) > 0.01 {
		t.Errorf("proposed reduction = %v, want 1200 (80%% of the 1500 variance)", target.Amount)
	}
	if s.Confidence != 70 {
		t.Errorf("confidence = %d, want 70", s.Confidence)
	}
	if pc.Confidence != 60 {
		t.Errorf("context confidence = %d, want 60", pc.Confidence)
	}
}

func TestBudgetAnalyzer_UnderBudgetCategory(t *testing.T) {
	pc := &planning.Context{
		Now: testNow,
		Budget: &planning.Budget{
			Categories: []planning.BudgetCategory{
				{Name: "Transport", Planned: 2000, Actual: 1000},
			},
		},
	}

	if err := (BudgetAnalyzer{}).Execute(context.Background(), pc); err != nil {
		t.Fatalf("Execute: %v", err)
	}

	s := findSuggestion(pc, planning.KindBudgetReallocate)
	if s == nil {
		t.Fatal("expected a suggestion for the 50% underrun")
	}
	target := s.Target.(planning.BudgetReallocateTarget)
	if target.Direction != planning.ReallocateShift {
		t.Errorf("direction = %q, want reallocate", target.Direction)
	}
	if math.Abs(target.Amount-800) > 0.01 {
		t.Errorf("surplus shift = %v, want 800", target.Amount)
	}
}

func TestBudgetAnalyzer_WithinThresholdIsQuiet(t *testing.T) {
	pc := &planning.Context{
		Now: testNow,
		Budget: &planning.Budget{
			Categories: []planning.BudgetCategory{
				{Name: "Food", Planned: 5000, Actual: 5800},  // +16%
				{Name: "Misc", Planned: 1000, Actual: 900},   // -10%
				{Name: "Zero", Planned: 0, Actual: 500},      // unplannable
			},
		},
	}

	if err := (BudgetAnalyzer{}).Execute(context.Background(), pc); err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if len(pc.Suggestions) != 0 {
		t.Errorf("got %d suggestions, want none inside the ±20%% band", len(pc.Suggestions))
	}
	if pc.Confidence != 0 {
		t.Errorf("context confidence = %d, want untouched 0", pc.Confidence)
	}
}

func TestBudgetAnalyzer_NoBudget(t *testing.T) {
	pc := &planning.Context{Now: testNow}
	if err := (BudgetAnalyzer{}).Execute(context.Background(), pc); err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if len(pc.Suggestions) != 0 {
		t.Error("expected no suggestions without a budget")
	}
}

// --- cashflow analyzer ---

func negativeFlowContext() *planning.Context {
	bills := []planning.Bill{
		{ID: "b-strom", Name: "Strøm august", Amount: 1800, Category: "strøm", DueDate: testNow.AddDate(0, 0, 5)},
		{ID: "b-gym", Name: "Treningssenter", Amount: 600, Category: "fritid", DueDate: testNow.AddDate(0, 0, 10)},
		{ID: "b-stream", Name: "Streaming", Amount: 300, Category: "underholdning", DueDate: testNow.AddDate(0, 0, 12)},
	}
	return &planning.Context{
		Now:   testNow,
		Bills: bills,
		Cashflow: &planning.Cashflow{
			MonthlyIncome:   28000,
			MonthlyExpenses: 30000,
			NetFlow:         -2000,
			UpcomingBills:   bills,
		},
	}
}

func TestCashflowAnalyzer_DefersOnlyNonEssential(t *testing.T) {
	pc := negativeFlowContext()

	if err := (CashflowAnalyzer{}).Execute(context.Background(), pc); err != nil {
		t.Fatalf("Execute: %v", err)
	}

	s := findSuggestion(pc, planning.KindBillDefer)
	if s == nil {
		t.Fatal("expected a bill_defer suggestion for the negative flow")
	}
	target := s.Target.(planning.BillDeferTarget)
	for _, ref := range target.Bills {
		if ref.ID == "b-strom" {
			t.Error("deferral proposal includes the electricity bill")
		}
	}
	if target.DeferDays != 30 {
		t.Errorf("defer days = %d, want 30", target.DeferDays)
	}
	// Largest non-essential first.
	if len(target.Bills) == 0 || target.Bills[0].ID != "b-gym" {
		t.Errorf("expected the largest non-essential bill first, got %+v", target.Bills)
	}
}

func TestCashflowAnalyzer_PrioritizesEssentialsFirst(t *testing.T) {
	pc := negativeFlowContext()

	if err := (CashflowAnalyzer{}).Execute(context.Background(), pc); err != nil {
		t.Fatalf("Execute: %v", err)
	}

	s := findSuggestion(pc, planning.KindBillPrioritize)
	if s == nil {
		t.Fatal("expected a bill_prioritize suggestion")
	}
	order := s.Target.(planning.BillPrioritizeTarget).Order
	if len(order) != 3 {
		t.Fatalf("order length = %d, want 3", len(order))
	}
	if order[0].ID != "b-strom" {
		t.Errorf("first priority = %s, want the essential utility", order[0].ID)
	}
}

func TestCashflowAnalyzer_PositiveFlowIsQuiet(t *testing.T) {
	pc := negativeFlowContext()
	pc.Cashflow.NetFlow = 1500

	if err := (CashflowAnalyzer{}).Execute(context.Background(), pc); err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if len(pc.Suggestions) != 0 {
		t.Errorf("got %d suggestions with positive flow, want none", len(pc.Suggestions))
	}
}

// --- debt analyzer ---

func TestDebtAnalyzer_SnowballWithManySmallBalances(t *testing.T) {
	pc := &planning.Context{
		Now: testNow,
		Debts: []planning.Debt{
			{ID: "d1", Name: "Kredittkort A", Principal: 40000, AnnualRatePct: 22, MinimumPayment: 1200},
			{ID: "d2", Name: "Kredittkort B", Principal: 5000, AnnualRatePct: 19, MinimumPayment: 300},
			{ID: "d3", Name: "Forbrukslån", Principal: 15000, AnnualRatePct: 12, MinimumPayment: 500},
		},
		Cashflow: &planning.Cashflow{MonthlyIncome: 32000, MonthlyExpenses: 30000, NetFlow: 2000},
	}

	if err := (DebtAnalyzer{}).Execute(context.Background(), pc); err != nil {
		t.Fatalf("Execute: %v", err)
	}

	s := findSuggestion(pc, planning.KindDebtReplan)
	if s == nil {
		t.Fatal("expected a debt_replan suggestion with positive flow")
	}
	target := s.Target.(planning.DebtReplanTarget)
	if target.Strategy != planning.StrategySnowball {
		t.Errorf("strategy = %q, want snowball (three balances under the small threshold)", target.Strategy)
	}
	if len(target.Order) != 3 {
		t.Fatalf("plan entries = %d, want 3", len(target.Order))
	}
	// Snowball works smallest balance first.
	if target.Order[0].ID != "d2" || target.Order[1].ID != "d3" || target.Order[2].ID != "d1" {
		t.Errorf("snowball order = %s,%s,%s, want d2,d3,d1",
			target.Order[0].ID, target.Order[1].ID, target.Order[2].ID)
	}
	// The first debt absorbs the full extra payment.
	if math.Abs(target.Order[0].MonthlyPayment-(300+2000)) > 0.01 {
		t.Errorf("first payment = %v, want minimum plus extra", target.Order[0].MonthlyPayment)
	}
	if target.InterestSaved < 0 {
		t.Errorf("interest saved = %v, must not be negative", target.InterestSaved)
	}
}

func TestDebtAnalyzer_AvalancheWithLargeBalances(t *testing.T) {
	pc := &planning.Context{
		Now: testNow,
		Debts: []planning.Debt{
			{ID: "d1", Principal: 250000, AnnualRatePct: 8, MinimumPayment: 3000},
			{ID: "d2", Principal: 90000, AnnualRatePct: 18, MinimumPayment: 2200},
		},
		Cashflow: &planning.Cashflow{MonthlyIncome: 45000, MonthlyExpenses: 42000, NetFlow: 3000},
	}

	if err := (DebtAnalyzer{}).Execute(context.Background(), pc); err != nil {
		t.Fatalf("Execute: %v", err)
	}

	s := findSuggestion(pc, planning.KindDebtReplan)
	if s == nil {
		t.Fatal("expected a debt_replan suggestion")
	}
	target := s.Target.(planning.DebtReplanTarget)
	if target.Strategy != planning.StrategyAvalanche {
		t.Errorf("strategy = %q, want avalanche", target.Strategy)
	}
	if target.Order[0].ID != "d2" {
		t.Errorf("avalanche should front the 18%% debt, got %s", target.Order[0].ID)
	}
}

func TestDebtReplanPayoffRecomputableFromPlan(t *testing.T) {
	pc := &planning.Context{
		Now: testNow,
		Debts: []planning.Debt{
			{ID: "d1", Name: "Kredittkort", Principal: 38000, AnnualRatePct: 21.9, MinimumPayment: 1100},
			{ID: "d2", Name: "Forbrukslån", Principal: 12000, AnnualRatePct: 13.5, MinimumPayment: 450},
			{ID: "d3", Name: "Billån", Principal: 9000, AnnualRatePct: 9.9, MinimumPayment: 400},
		},
		Cashflow: &planning.Cashflow{MonthlyIncome: 38000, MonthlyExpenses: 36500, NetFlow: 1500},
	}

	if err := (DebtAnalyzer{}).Execute(context.Background(), pc); err != nil {
		t.Fatalf("Execute: %v", err)
	}
	s := findSuggestion(pc, planning.KindDebtReplan)
	if s == nil {
		t.Fatal("expected a debt_replan suggestion")
	}
	target := s.Target.(planning.DebtReplanTarget)
	if len(target.Order) != 3 {
		t.Fatalf("plan entries = %d, want 3", len(target.Order))
	}

	// Each entry carries enough to recompute its own payoff horizon.
	for _, e := range target.Order {
		months, ok := Amortize(e.Principal, e.AnnualRatePct/100/12, e.MonthlyPayment)
		if !ok {
			t.Fatalf("entry %s is not amortizable at its own stated payment", e.ID)
		}
		if math.Abs(round2(months)-e.PayoffMonths) > 0.01 {
			t.Errorf("entry %s: recomputed %v months, stored %v", e.ID, round2(months), e.PayoffMonths)
		}
	}

	// The plan interest figure follows from the entries alone.
	var planInterest float64
	for _, e := range target.Order {
		planInterest += e.MonthlyPayment*e.PayoffMonths - e.Principal
	}
	if math.Abs(round2(planInterest)-target.PlanInterest) > 0.01 {
		t.Errorf("recomputed plan interest %v, stored %v", round2(planInterest), target.PlanInterest)
	}
	// The stored figures are rounded independently, so allow two cents.
	if math.Abs(target.BaselineInterest-target.PlanInterest-target.InterestSaved) > 0.02 {
		t.Errorf("interest saved %v does not equal baseline %v minus plan %v",
			target.InterestSaved, target.BaselineInterest, target.PlanInterest)
	}
}

func TestDebtAnalyzer_ConsolidatesHighRateDebts(t *testing.T) {
	pc := &planning.Context{
		Now: testNow,
		Debts: []planning.Debt{
			{ID: "d1", Principal: 60000, AnnualRatePct: 24, MinimumPayment: 2000},
			{ID: "d2", Principal: 40000, AnnualRatePct: 19, MinimumPayment: 1400},
			{ID: "d3", Principal: 200000, AnnualRatePct: 6, MinimumPayment: 2500},
		},
	}

	if err := (DebtAnalyzer{}).Execute(context.Background(), pc); err != nil {
		t.Fatalf("Execute: %v", err)
	}

	s := findSuggestion(pc, planning.KindDebtConsolidate)
	if s == nil {
		t.Fatal("expected a debt_consolidate suggestion for two high-rate debts")
	}
	target := s.Target.(planning.DebtConsolidateTarget)
	if len(target.DebtIDs) != 2 {
		t.Errorf("consolidated %d debts, want the two above the rate floor", len(target.DebtIDs))
	}
	if math.Abs(target.TotalPrincipal-100000) > 0.01 {
		t.Errorf("total principal = %v, want 100000", target.TotalPrincipal)
	}
	if target.NewMonthlyPayment <= 0 {
		t.Errorf("new monthly payment = %v, want positive annuity", target.NewMonthlyPayment)
	}
}

func TestDebtAnalyzer_BufferBeforePaydown(t *testing.T) {
	pc := &planning.Context{
		Now: testNow,
		Debts: []planning.Debt{
			{ID: "d1", Principal: 80000, AnnualRatePct: 10, MinimumPayment: 1500},
		},
		Cashflow: &planning.Cashflow{MonthlyIncome: 30000, MonthlyExpenses: 27000, NetFlow: 3000},
	}

	if err := (DebtAnalyzer{}).Execute(context.Background(), pc); err != nil {
		t.Fatalf("Execute: %v", err)
	}

	s := findSuggestion(pc, planning.KindDebtEmergencyFund)
	if s == nil {
		t.Fatal("expected a buffer suggestion when no emergency goal exists")
	}
	target := s.Target.(planning.DebtEmergencyFundTarget)
	// min(netflow/2, 10% of income) = min(1500, 3000) = 1500
	if math.Abs(target.MonthlyAmount-1500) > 0.01 {
		t.Errorf("monthly buffer amount = %v, want 1500", target.MonthlyAmount)
	}
	if math.Abs(target.TargetAmount-27000) > 0.01 {
		t.Errorf("buffer target = %v, want one month of expenses", target.TargetAmount)
	}
}

func TestDebtAnalyzer_NoBufferWhenEmergencyGoalExists(t *testing.T) {
	pc := &planning.Context{
		Now:   testNow,
		Debts: []planning.Debt{{ID: "d1", Principal: 80000, AnnualRatePct: 10, MinimumPayment: 1500}},
		Goals: []planning.Goal{{ID: "g1", Kind: planning.GoalKindEmergencyFund, TargetAmount: 50000}},
		Cashflow: &planning.Cashflow{
			MonthlyIncome: 30000, MonthlyExpenses: 27000, NetFlow: 3000,
		},
	}

	if err := (DebtAnalyzer{}).Execute(context.Background(), pc); err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if s := findSuggestion(pc, planning.KindDebtEmergencyFund); s != nil {
		t.Error("buffer suggestion emitted despite an existing emergency fund goal")
	}
}

// --- goal analyzer ---

func TestGoalAnalyzer_PausesGoalsOnNegativeFlow(t *testing.T) {
	pc := &planning.Context{
		Now: testNow,
		Goals: []planning.Goal{
			{ID: "g1", Name: "Ferie", TargetAmount: 24000, TargetDate: testNow.AddDate(1, 0, 0)},
			{ID: "g2", Name: "Buffer", Kind: planning.GoalKindEmergencyFund, TargetAmount: 60000, TargetDate: testNow.AddDate(2, 0, 0)},
		},
		Cashflow: &planning.Cashflow{MonthlyIncome: 28000, MonthlyExpenses: 30000, NetFlow: -2000},
	}

	if err := (GoalAnalyzer{}).Execute(context.Background(), pc); err != nil {
		t.Fatalf("Execute: %v", err)
	}

	s := findSuggestion(pc, planning.KindGoalPause)
	if s == nil {
		t.Fatal("expected a goal_pause suggestion on negative flow")
	}
	target := s.Target.(planning.GoalPauseTarget)
	for _, ref := range target.Goals {
		if ref.ID == "g2" {
			t.Error("pause proposal includes the emergency fund goal")
		}
	}
	if target.MonthlyFreed <= 0 {
		t.Errorf("monthly freed = %v, want positive", target.MonthlyFreed)
	}
}

func TestGoalAnalyzer_CreatesEmergencyFund(t *testing.T) {
	pc := &planning.Context{
		Now:      testNow,
		Cashflow: &planning.Cashflow{MonthlyIncome: 32000, MonthlyExpenses: 28000, NetFlow: 4000},
	}

	if err := (GoalAnalyzer{}).Execute(context.Background(), pc); err != nil {
		t.Fatalf("Execute: %v", err)
	}

	s := findSuggestion(pc, planning.KindGoalCreateEmergency)
	if s == nil {
		t.Fatal("expected a goal_create_emergency suggestion")
	}
	target := s.Target.(planning.GoalCreateEmergencyTarget)
	if math.Abs(target.TargetAmount-84000) > 0.01 {
		t.Errorf("target = %v, want three months of expenses (84000)", target.TargetAmount)
	}
	if math.Abs(target.MonthlyContribution-2000) > 0.01 {
		t.Errorf("monthly contribution = %v, want half the net flow", target.MonthlyContribution)
	}
}

func TestGoalAnalyzer_PrioritizesShortHorizon(t *testing.T) {
	pc := &planning.Context{
		Now: testNow,
		Goals: []planning.Goal{
			{ID: "long", Name: "Bolig", TargetAmount: 500000, TargetDate: testNow.AddDate(5, 0, 0), Kind: planning.GoalKindEmergencyFund},
			{ID: "short", Name: "Jul", TargetAmount: 8000, TargetDate: testNow.AddDate(0, 4, 0)},
		},
		Cashflow: &planning.Cashflow{MonthlyIncome: 30000, MonthlyExpenses: 28000, NetFlow: 2000},
	}

	if err := (GoalAnalyzer{}).Execute(context.Background(), pc); err != nil {
		t.Fatalf("Execute: %v", err)
	}

	s := findSuggestion(pc, planning.KindGoalPrioritize)
	if s == nil {
		t.Fatal("expected a goal_prioritize suggestion with mixed horizons")
	}
	order := s.Target.(planning.GoalPrioritizeTarget).Order
	if order[0].ID != "short" {
		t.Errorf("first goal = %s, want the near-term one", order[0].ID)
	}
}
