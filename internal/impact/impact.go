// Package impact quantifies each surviving suggestion: a kind-specific
// before/after projection, three KPI pairs, and one aggregate score for
// the whole run.
package impact

import (
	"context"
	"fmt"
	"math"
	"strings"

	"github.com/kalambet/pengeplan/internal/planning"
)

// Aggregate score contribution caps.
const (
	cashflowPointsCap = 20.0
	interestPointsCap = 15.0
	timePointsCap     = 10.0
	riskPointsCap     = 15.0
)

// Projector is the impact pipeline stage.
type Projector struct{}

func (Projector) Name() string { return "impact" }

func (p Projector) Execute(ctx context.Context, pc *planning.Context) error {
	if len(pc.Suggestions) == 0 {
		return nil
	}
	for i := range pc.Suggestions {
		imp, err := project(&pc.Suggestions[i], pc)
		if err != nil {
			return fmt.Errorf("impact: %w", err)
		}
		pc.Suggestions[i].Impact = &imp
	}
	pc.RaiseImpactScore(aggregateScore(pc.Suggestions))
	return nil
}

// project derives the projection independently from the suggestion's own
// target payload; no hidden computation is shared with analysis stages.
func project(s *planning.Suggestion, pc *planning.Context) (planning.Impact, error) {
	var imp planning.Impact

	switch t := s.Target.(type) {
	case planning.BudgetReallocateTarget:
		if t.Direction == planning.ReallocateReduce {
			imp.CashflowDelta = t.Amount
		}
	case planning.BillDeferTarget:
		imp.ImmediateRelief = t.TotalDeferred
	case planning.BillPartialPayTarget:
		imp.ImmediateRelief = round2(t.Bill.Amount - t.ProposedPayment)
	case planning.BillPrioritizeTarget:
		// Ordering advice; no numeric projection.
	case planning.DebtReplanTarget:
		imp.InterestSaved = t.InterestSaved
		if t.BaselineMonths > t.TotalMonths {
			imp.MonthsSaved = round2(t.BaselineMonths - t.TotalMonths)
		}
	case planning.DebtConsolidateTarget:
		if t.CurrentMonthlyPayment > t.NewMonthlyPayment {
			imp.CashflowDelta = round2(t.CurrentMonthlyPayment - t.NewMonthlyPayment)
		}
	case planning.DebtEmergencyFundTarget:
		// Readiness change only, captured in the KPI pair below.
	case planning.GoalPauseTarget:
		imp.CashflowDelta = t.MonthlyFreed
	case planning.GoalPrioritizeTarget, planning.GoalConsolidateTarget:
		// Ordering/bookkeeping advice; no numeric projection.
	case planning.GoalCreateEmergencyTarget:
		imp.CashflowDelta = -t.MonthlyContribution
	default:
		return planning.Impact{}, fmt.Errorf("no projection for kind %s", s.Kind)
	}

	fillKPIs(&imp, s, pc)
	imp.Summary = summarize(imp)
	return imp, nil
}

func fillKPIs(imp *planning.Impact, s *planning.Suggestion, pc *planning.Context) {
	var income, expenses, net float64
	if pc.Cashflow != nil {
		income = pc.Cashflow.MonthlyIncome
		expenses = pc.Cashflow.MonthlyExpenses
		net = pc.Cashflow.NetFlow
	}

	imp.CashflowHealth = planning.TierChange{
		Before: cashflowTier(net, income),
		After:  cashflowTier(net+imp.CashflowDelta, income),
	}

	var minimums float64
	for _, d := range pc.Debts {
		minimums += d.MinimumPayment
	}
	afterMinimums := minimums
	if t, ok := s.Target.(planning.DebtConsolidateTarget); ok {
		afterMinimums = minimums - t.CurrentMonthlyPayment + t.NewMonthlyPayment
	}
	imp.DebtToIncome = planning.RatioChange{
		Before: debtToIncome(minimums, income),
		After:  debtToIncome(afterMinimums, income),
	}

	var saved float64
	for _, g := range pc.Goals {
		if g.Kind == planning.GoalKindEmergencyFund {
			saved += g.SavedAmount
		}
	}
	afterSaved := saved
	switch t := s.Target.(type) {
	case planning.GoalCreateEmergencyTarget:
		afterSaved += 6 * t.MonthlyContribution
	case planning.DebtEmergencyFundTarget:
		afterSaved += 6 * t.MonthlyAmount
	}
	imp.EmergencyReadiness = planning.TierChange{
		Before: readinessTier(saved, expenses),
		After:  readinessTier(afterSaved, expenses),
	}
}

func cashflowTier(net, income float64) string {
	switch {
	case net < 0:
		return "critical"
	case income > 0 && net < 0.1*income:
		return "tight"
	}
	return "healthy"
}

func debtToIncome(monthlyDebtPayments, income float64) float64 {
	if income <= 0 {
		return 0
	}
	return round2(monthlyDebtPayments / income)
}

func readinessTier(saved, monthlyExpenses float64) string {
	if monthlyExpenses <= 0 {
		return "ready"
	}
	ratio := saved / (3 * monthlyExpenses)
	switch {
	case ratio < 1.0/3:
		return "low"
	case ratio < 1:
		return "partial"
	}
	return "ready"
}

// summarize concatenates only the non-zero contributing metrics.
func summarize(imp planning.Impact) string {
	var parts []string
	if imp.CashflowDelta > 0 {
		parts = append(parts, fmt.Sprintf("improves monthly cash flow by %.0f kr", imp.CashflowDelta))
	}
	if imp.CashflowDelta < 0 {
		parts = append(parts, fmt.Sprintf("costs %.0f kr/month", -imp.CashflowDelta))
	}
	if imp.InterestSaved > 0 {
		parts = append(parts, fmt.Sprintf("saves %.0f kr in interest", imp.InterestSaved))
	}
	if imp.MonthsSaved > 0 {
		parts = append(parts, fmt.Sprintf("shortens payoff by %.0f months", imp.MonthsSaved))
	}
	if imp.ImmediateRelief > 0 {
		parts = append(parts, fmt.Sprintf("frees %.0f kr immediately", imp.ImmediateRelief))
	}
	if len(parts) == 0 {
		return "no direct monetary change; improves plan structure"
	}
	return strings.Join(parts, "; ")
}

// aggregateScore sums capped per-suggestion contributions and divides by
// the suggestion count.
func aggregateScore(suggestions []planning.Suggestion) float64 {
	if len(suggestions) == 0 {
		return 0
	}
	var total float64
	for _, s := range suggestions {
		imp := s.Impact
		if imp == nil {
			continue
		}
		cash := (math.Max(imp.CashflowDelta, 0) + imp.ImmediateRelief/12) / 50
		total += math.Min(cashflowPointsCap, cash)
		total += math.Min(interestPointsCap, imp.InterestSaved/1000)
		total += math.Min(timePointsCap, imp.MonthsSaved)
		total += riskBonus(s.RiskLevel)
	}
	return round2(total / float64(len(suggestions)))
}

func riskBonus(r planning.RiskLevel) float64 {
	switch r {
	case planning.RiskLow:
		return riskPointsCap
	case planning.RiskMedium:
		return 8
	}
	return 2
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
