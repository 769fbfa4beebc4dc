package stages

import (
	"context"
	"fmt"

	"github.com/kalambet/pengeplan/internal/planning"
)

// varianceThreshold flags categories whose actual/planned variance
// exceeds ±20%.
const varianceThreshold = 0.20

// reallocationFactor sizes proposals to 80% of the variance, leaving
// headroom for normal month-to-month noise.
const reallocationFactor = 0.8

// BudgetAnalyzer flags budget categories that drifted past the variance
// threshold and proposes a reduction (over budget) or a reallocation of
// the surplus (under budget).
type BudgetAnalyzer struct{}

func (BudgetAnalyzer) Name() string { return "budget_analyzer" }

func (a BudgetAnalyzer) Execute(ctx context.Context, pc *planning.Context) error {
	if pc.Budget == nil {
		return nil
	}

	appended := false
	for _, cat := range pc.Budget.Categories {
		if cat.Planned <= 0 {
			continue
		}
		variance := (cat.Actual - cat.Planned) / cat.Planned

		var (
			target planning.BudgetReallocateTarget
			reason string
			conf   int
		)
		switch {
		case variance > varianceThreshold:
			target = planning.BudgetReallocateTarget{
				Category:  cat.Name,
				Planned:   cat.Planned,
				Actual:    cat.Actual,
				Variance:  variance,
				Amount:    round2(reallocationFactor * (cat.Actual - cat.Planned)),
				Direction: planning.ReallocateReduce,
			}
			reason = fmt.Sprintf("Spending on %s is %.0f%% over budget; reducing it by %.0f kr brings the category back in range",
				cat.Name, variance*100, target.Amount)
			conf = 70
		case variance < -varianceThreshold:
			target = planning.BudgetReallocateTarget{
				Category:  cat.Name,
				Planned:   cat.Planned,
				Actual:    cat.Actual,
				Variance:  variance,
				Amount:    round2(reallocationFactor * (cat.Planned - cat.Actual)),
				Direction: planning.ReallocateShift,
			}
			reason = fmt.Sprintf("Spending on %s is %.0f%% under budget; %.0f kr of the surplus can work harder elsewhere",
				cat.Name, -variance*100, target.Amount)
			conf = 60
		default:
			continue
		}

		s, err := planning.NewSuggestion(planning.KindBudgetReallocate, reason, conf, target)
		if err != nil {
			return fmt.Errorf("budget analyzer: %w", err)
		}
		pc.Append(s)
		appended = true
	}

	if appended {
		pc.RaiseConfidence(60)
	}
	return nil
}
