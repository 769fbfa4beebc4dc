package stages

import (
	"context"
	"fmt"
	"sort"

	"github.com/kalambet/pengeplan/internal/planning"
)

const (
	// shortHorizonMonths splits goals into near-term and long-term.
	shortHorizonMonths = 12
	// emergencyFundMonths sizes a new emergency fund in months of expenses.
	emergencyFundMonths = 3
	// consolidateAboveGoals: with more goals than this, the smallest two
	// are candidates for merging.
	consolidateAboveGoals = 3
)

// GoalAnalyzer prioritizes near-term goals when cash flow is positive,
// proposes pausing non-essential goals when it is negative, and creates
// an emergency-fund goal when none exists.
type GoalAnalyzer struct{}

func (GoalAnalyzer) Name() string { return "goal_analyzer" }

func (a GoalAnalyzer) Execute(ctx context.Context, pc *planning.Context) error {
	cf := pc.Cashflow
	var flow float64
	if cf != nil {
		flow = cf.NetFlow
	}

	active := make([]planning.Goal, 0, len(pc.Goals))
	hasEmergency := false
	for _, g := range pc.Goals {
		if g.Kind == planning.GoalKindEmergencyFund {
			hasEmergency = true
		}
		if !g.Paused {
			active = append(active, g)
		}
	}

	appended := false
	if flow > 0 {
		if did, err := a.prioritize(pc, active); err != nil {
			return err
		} else if did {
			appended = true
		}
		if !hasEmergency && cf != nil {
			if err := a.createEmergency(pc, cf); err != nil {
				return err
			}
			appended = true
		}
		if len(active) > consolidateAboveGoals {
			if err := a.consolidateSmallest(pc, active); err != nil {
				return err
			}
			appended = true
		}
	} else if flow < 0 {
		if did, err := a.pause(pc, active); err != nil {
			return err
		} else if did {
			appended = true
		}
	}

	if appended {
		pc.RaiseConfidence(65)
	}
	return nil
}

// prioritize proposes working near-term goals (≤12 months to target)
// before longer-horizon ones. Emitted only when both horizons exist.
func (a GoalAnalyzer) prioritize(pc *planning.Context, active []planning.Goal) (bool, error) {
	var short, long []planning.Goal
	for _, g := range active {
		if g.MonthsToTarget(pc.Now) <= shortHorizonMonths {
			short = append(short, g)
		} else {
			long = append(long, g)
		}
	}
	if len(short) == 0 || len(long) == 0 {
		return false, nil
	}

	sort.SliceStable(short, func(i, j int) bool {
		return short[i].MonthsToTarget(pc.Now) < short[j].MonthsToTarget(pc.Now)
	})
	ordered := append(short, long...)
	refs := make([]planning.GoalRef, len(ordered))
	for i, g := range ordered {
		refs[i] = planning.GoalRef{
			ID:                  g.ID,
			Name:                g.Name,
			MonthlyContribution: round2(g.MonthlyContribution(pc.Now)),
			MonthsToTarget:      round2(g.MonthsToTarget(pc.Now)),
		}
	}
	reason := fmt.Sprintf("%d goal(s) land within a year; funding them before longer-horizon goals gets wins on the board sooner", len(short))
	s, err := planning.NewSuggestion(planning.KindGoalPrioritize, reason, 70, planning.GoalPrioritizeTarget{Order: refs})
	if err != nil {
		return false, fmt.Errorf("goal analyzer: %w", err)
	}
	pc.Append(s)
	return true, nil
}

func (a GoalAnalyzer) createEmergency(pc *planning.Context, cf *planning.Cashflow) error {
	target := round2(emergencyFundMonths * cf.MonthlyExpenses)
	if target <= 0 {
		return nil
	}
	monthly := cf.NetFlow / 2
	if monthly <= 0 {
		return nil
	}
	monthly = round2(monthly)
	t := planning.GoalCreateEmergencyTarget{
		TargetAmount:        target,
		MonthlyContribution: monthly,
		MonthsToTarget:      round2(target / monthly),
	}
	reason := fmt.Sprintf("No emergency fund exists; %.0f kr/month builds a %d-month buffer of %.0f kr",
		monthly, emergencyFundMonths, target)
	s, err := planning.NewSuggestion(planning.KindGoalCreateEmergency, reason, 70, t)
	if err != nil {
		return fmt.Errorf("goal analyzer: %w", err)
	}
	pc.Append(s)
	return nil
}

func (a GoalAnalyzer) consolidateSmallest(pc *planning.Context, active []planning.Goal) error {
	byTarget := append([]planning.Goal(nil), active...)
	sort.SliceStable(byTarget, func(i, j int) bool {
		return byTarget[i].TargetAmount < byTarget[j].TargetAmount
	})
	a1, a2 := byTarget[0], byTarget[1]
	t := planning.GoalConsolidateTarget{
		GoalIDs:        []string{a1.ID, a2.ID},
		Names:          []string{a1.Name, a2.Name},
		CombinedTarget: round2(a1.TargetAmount + a2.TargetAmount),
		CombinedSaved:  round2(a1.SavedAmount + a2.SavedAmount),
	}
	reason := fmt.Sprintf("Tracking %d goals splinters attention; merging %q and %q keeps the list focused",
		len(active), a1.Name, a2.Name)
	s, err := planning.NewSuggestion(planning.KindGoalConsolidate, reason, 55, t)
	if err != nil {
		return fmt.Errorf("goal analyzer: %w", err)
	}
	pc.Append(s)
	return nil
}

// pause proposes pausing non-essential goals while the net flow is
// negative. Emergency funds are never included here.
func (a GoalAnalyzer) pause(pc *planning.Context, active []planning.Goal) (bool, error) {
	var refs []planning.GoalRef
	var freed float64
	for _, g := range active {
		if g.Kind == planning.GoalKindEmergencyFund {
			continue
		}
		contrib := g.MonthlyContribution(pc.Now)
		if contrib <= 0 {
			continue
		}
		refs = append(refs, planning.GoalRef{
			ID:                  g.ID,
			Name:                g.Name,
			MonthlyContribution: round2(contrib),
			MonthsToTarget:      round2(g.MonthsToTarget(pc.Now)),
		})
		freed += contrib
	}
	if len(refs) == 0 {
		return false, nil
	}
	t := planning.GoalPauseTarget{Goals: refs, MonthlyFreed: round2(freed)}
	reason := fmt.Sprintf("Cash flow is negative; pausing %d savings goal(s) frees %.0f kr/month until the budget recovers",
		len(refs), t.MonthlyFreed)
	s, err := planning.NewSuggestion(planning.KindGoalPause, reason, 70, t)
	if err != nil {
		return false, fmt.Errorf("goal analyzer: %w", err)
	}
	pc.Append(s)
	return true, nil
}
