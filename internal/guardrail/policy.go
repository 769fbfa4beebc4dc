package guardrail

import (
	"encoding/json"
	"fmt"

	"github.com/kalambet/pengeplan/internal/planning"
)

// Policy kinds understood by the evaluator. Unknown kinds are skipped so
// that newer policy documents do not break older deployments.
const (
	PolicyMaxBudgetCut         = "max_budget_cut"
	PolicyMinPartialPayment    = "min_partial_payment"
	PolicyMaxConsolidation     = "max_consolidation"
	PolicyProtectEmergencyFund = "protect_emergency_fund"
)

type limitParams struct {
	Limit float64 `json:"limit"`
}

type floorParams struct {
	Floor float64 `json:"floor"`
}

// applyPolicy evaluates one policy document against one suggestion.
// Malformed params are a stage error: a policy set we cannot interpret
// must fail the run rather than silently wave suggestions through.
func applyPolicy(p planning.Policy, s planning.Suggestion, pc *planning.Context) (verdict, error) {
	switch p.Kind {
	case PolicyMaxBudgetCut:
		t, ok := s.Target.(planning.BudgetReallocateTarget)
		if !ok || t.Direction != planning.ReallocateReduce {
			return pass(), nil
		}
		var params limitParams
		if err := json.Unmarshal(p.Params, &params); err != nil {
			return verdict{}, fmt.Errorf("policy %q: %w", p.Name, err)
		}
		if params.Limit > 0 && t.Amount > params.Limit {
			return verdict{violated: true, reason: p.Name, risk: planning.RiskHigh}, nil
		}
		return pass(), nil

	case PolicyMinPartialPayment:
		t, ok := s.Target.(planning.BillPartialPayTarget)
		if !ok {
			return pass(), nil
		}
		var params floorParams
		if err := json.Unmarshal(p.Params, &params); err != nil {
			return verdict{}, fmt.Errorf("policy %q: %w", p.Name, err)
		}
		if params.Floor > 0 && t.ProposedPayment < params.Floor {
			return verdict{violated: true, reason: p.Name, risk: planning.RiskMedium}, nil
		}
		return pass(), nil

	case PolicyMaxConsolidation:
		t, ok := s.Target.(planning.DebtConsolidateTarget)
		if !ok {
			return pass(), nil
		}
		var params limitParams
		if err := json.Unmarshal(p.Params, &params); err != nil {
			return verdict{}, fmt.Errorf("policy %q: %w", p.Name, err)
		}
		if params.Limit > 0 && t.TotalPrincipal > params.Limit {
			return verdict{violated: true, reason: p.Name, risk: planning.RiskHigh}, nil
		}
		return pass(), nil

	case PolicyProtectEmergencyFund:
		t, ok := s.Target.(planning.GoalPauseTarget)
		if !ok {
			return pass(), nil
		}
		emergency := map[string]bool{}
		for _, g := range pc.Goals {
			if g.Kind == planning.GoalKindEmergencyFund {
				emergency[g.ID] = true
			}
		}
		for _, ref := range t.Goals {
			if emergency[ref.ID] {
				return verdict{violated: true, reason: p.Name, risk: planning.RiskHigh}, nil
			}
		}
		return pass(), nil
	}

	// Unknown kind: leave a hint so the trace shows it was seen.
	return verdict{risk: planning.RiskLow, hints: []string{fmt.Sprintf("policy %q has unknown kind %q, skipped", p.Name, p.Kind)}}, nil
}
