package guardrail

import (
	"fmt"

	"github.com/kalambet/pengeplan/internal/planning"
)

// adequateBufferMonths: an emergency fund holding at least this many
// months of expenses counts as adequate when judging goal pauses.
const adequateBufferMonths = 1.0

// consolidationPaymentCeiling: a consolidation may not raise total
// monthly payments by more than 20%.
const consolidationPaymentCeiling = 1.2

// safetyRules are hard-coded invariants applied after the policy set,
// independent of policy configuration. Order matters only for which
// reason a doubly-offending suggestion reports first.
var safetyRules = []func(planning.Suggestion, *planning.Context) verdict{
	safetyEssentialUtilityDefer,
	safetyBudgetCutVersusDeficit,
	safetyConsolidationPayment,
	safetyGoalPauseWithoutBuffer,
}

// safetyEssentialUtilityDefer rejects outright any deferral touching an
// essential utility (electricity, water, rent). Never merely flagged.
func safetyEssentialUtilityDefer(s planning.Suggestion, pc *planning.Context) verdict {
	t, ok := s.Target.(planning.BillDeferTarget)
	if !ok {
		return pass()
	}
	byID := map[string]planning.Bill{}
	for _, b := range pc.Bills {
		byID[b.ID] = b
	}
	for _, ref := range t.Bills {
		if b, found := byID[ref.ID]; found && b.EssentialUtility() {
			return verdict{
				violated: true,
				reason:   fmt.Sprintf("deferring essential utility %q is not permitted", b.Name),
				risk:     planning.RiskHigh,
			}
		}
	}
	return pass()
}

// safetyBudgetCutVersusDeficit: while the net flow is already negative, a
// single budget cut may not exceed half of that deficit.
func safetyBudgetCutVersusDeficit(s planning.Suggestion, pc *planning.Context) verdict {
	t, ok := s.Target.(planning.BudgetReallocateTarget)
	if !ok || t.Direction != planning.ReallocateReduce {
		return pass()
	}
	if pc.Cashflow == nil || pc.Cashflow.NetFlow >= 0 {
		return pass()
	}
	deficit := -pc.Cashflow.NetFlow
	if t.Amount > deficit/2 {
		return verdict{
			violated: true,
			reason:   fmt.Sprintf("budget cut of %.0f kr exceeds half the current deficit (%.0f kr)", t.Amount, deficit),
			risk:     planning.RiskHigh,
		}
	}
	return pass()
}

// safetyConsolidationPayment rejects consolidations that raise the total
// monthly payment beyond the 20% ceiling.
func safetyConsolidationPayment(s planning.Suggestion, pc *planning.Context) verdict {
	t, ok := s.Target.(planning.DebtConsolidateTarget)
	if !ok {
		return pass()
	}
	if t.CurrentMonthlyPayment > 0 && t.NewMonthlyPayment > consolidationPaymentCeiling*t.CurrentMonthlyPayment {
		return verdict{
			violated: true,
			reason: fmt.Sprintf("consolidation raises monthly payments from %.0f to %.0f kr, past the 20%% ceiling",
				t.CurrentMonthlyPayment, t.NewMonthlyPayment),
			risk: planning.RiskHigh,
		}
	}
	return pass()
}

// safetyGoalPauseWithoutBuffer allows pausing goals without an adequate
// emergency fund but flags it medium-risk.
func safetyGoalPauseWithoutBuffer(s planning.Suggestion, pc *planning.Context) verdict {
	if _, ok := s.Target.(planning.GoalPauseTarget); !ok {
		return pass()
	}
	var expenses float64
	if pc.Cashflow != nil {
		expenses = pc.Cashflow.MonthlyExpenses
	}
	for _, g := range pc.Goals {
		if g.Kind == planning.GoalKindEmergencyFund && g.SavedAmount >= adequateBufferMonths*expenses {
			return pass()
		}
	}
	return verdict{
		risk:  planning.RiskMedium,
		hints: []string{"no adequate emergency fund backs this pause; rebuild the buffer first if possible"},
	}
}
