// Package guardrail validates candidate suggestions against the active
// policy set and a fixed set of safety rules. Policy rules run first, in
// policy order; safety rules run second. The first violated rule blocks
// the suggestion. Risk levels accumulate max-severity-wins; hints
// accumulate regardless of the final outcome.
package guardrail

import (
	"context"
	"fmt"

	"github.com/kalambet/pengeplan/internal/planning"
)

// Result is the verdict for one suggestion.
type Result struct {
	Allowed       bool
	ViolationType string // planning.ViolationPolicy or planning.ViolationSafety
	Reason        string
	RiskLevel     planning.RiskLevel
	Hints         []string
}

// Evaluator is the guardrail pipeline stage. It is stateless; policies
// are read from the planning context each run.
type Evaluator struct{}

func (Evaluator) Name() string { return "guardrail" }

// Execute partitions the candidate suggestions into accepted and
// blocked. Accepted suggestions keep their order and pick up the risk
// level and hints the rules produced; blocked ones move to the context's
// blocked list and never reach reasoning, impact, or persistence.
func (e Evaluator) Execute(ctx context.Context, pc *planning.Context) error {
	kept := make([]planning.Suggestion, 0, len(pc.Suggestions))
	for _, s := range pc.Suggestions {
		res, err := e.Validate(s, pc)
		if err != nil {
			return fmt.Errorf("guardrail: %w", err)
		}
		if !res.Allowed {
			blocked := planning.BlockedSuggestion{
				Suggestion:    s,
				ViolationType: res.ViolationType,
				BlockReason:   res.Reason,
			}
			blocked.PolicyHints = append(blocked.PolicyHints, res.Hints...)
			pc.Blocked = append(pc.Blocked, blocked)
			continue
		}
		s.RiskLevel = planning.MaxRisk(s.RiskLevel, res.RiskLevel)
		s.PolicyHints = append(s.PolicyHints, res.Hints...)
		kept = append(kept, s)
	}
	pc.Suggestions = kept
	return nil
}

// Validate applies the ordered policy rules, then the fixed safety
// rules, to a single suggestion.
func (e Evaluator) Validate(s planning.Suggestion, pc *planning.Context) (Result, error) {
	res := Result{Allowed: true, RiskLevel: planning.RiskLow}

	for _, p := range pc.Policies {
		verdict, err := applyPolicy(p, s, pc)
		if err != nil {
			return Result{}, err
		}
		res.Hints = append(res.Hints, verdict.hints...)
		res.RiskLevel = planning.MaxRisk(res.RiskLevel, verdict.risk)
		if verdict.violated {
			res.Allowed = false
			res.ViolationType = planning.ViolationPolicy
			res.Reason = p.Name
			return res, nil
		}
	}

	for _, rule := range safetyRules {
		verdict := rule(s, pc)
		res.Hints = append(res.Hints, verdict.hints...)
		res.RiskLevel = planning.MaxRisk(res.RiskLevel, verdict.risk)
		if verdict.violated {
			res.Allowed = false
			res.ViolationType = planning.ViolationSafety
			res.Reason = verdict.reason
			return res, nil
		}
	}

	return res, nil
}

// verdict is the outcome of one rule applied to one suggestion.
type verdict struct {
	violated bool
	reason   string
	risk     planning.RiskLevel
	hints    []string
}

func pass() verdict { return verdict{risk: planning.RiskLow} }
