package stages

import (
	"context"
	"fmt"
	"sort"

	"github.com/kalambet/pengeplan/internal/planning"
)

const (
	// smallBalanceThreshold (kr) marks a debt as a quick snowball win.
	smallBalanceThreshold = 50000
	// snowballMinCount: with more than this many small balances the
	// motivational quick wins of snowball beat avalanche's rate math.
	snowballMinCount = 2
	// consolidationRateFloor: only debts at or above this annual rate are
	// worth folding into a consolidation loan.
	consolidationRateFloor = 15.0
	// consolidationRatePct is the assumed refinancing rate.
	consolidationRatePct = 12.0
	// consolidationTermMonths is the assumed refinancing term.
	consolidationTermMonths = 60
)

// DebtAnalyzer builds an extra-payment payoff plan (snowball or
// avalanche), considers consolidating high-rate debts, and suggests a
// small buffer before aggressive paydown when none exists.
type DebtAnalyzer struct{}

func (DebtAnalyzer) Name() string { return "debt_analyzer" }

func (a DebtAnalyzer) Execute(ctx context.Context, pc *planning.Context) error {
	if len(pc.Debts) == 0 {
		return nil
	}

	var extra float64
	if pc.Cashflow != nil && pc.Cashflow.NetFlow > 0 {
		extra = pc.Cashflow.NetFlow
	}

	if extra > 0 {
		if err := a.replan(pc, extra); err != nil {
			return err
		}
	}
	if err := a.consolidate(pc); err != nil {
		return err
	}
	if err := a.bufferFirst(pc); err != nil {
		return err
	}

	pc.RaiseConfidence(70)
	return nil
}

// replan orders the debts by the chosen strategy and assigns the extra
// payment to the front of the queue, rolling retired minimums forward.
func (a DebtAnalyzer) replan(pc *planning.Context, extra float64) error {
	strategy := planning.StrategyAvalanche
	small := 0
	for _, d := range pc.Debts {
		if d.Principal < smallBalanceThreshold {
			small++
		}
	}
	if small > snowballMinCount {
		strategy = planning.StrategySnowball
	}

	order := append([]planning.Debt(nil), pc.Debts...)
	if strategy == planning.StrategySnowball {
		sort.SliceStable(order, func(i, j int) bool { return order[i].Principal < order[j].Principal })
	} else {
		sort.SliceStable(order, func(i, j int) bool { return order[i].AnnualRatePct > order[j].AnnualRatePct })
	}

	var (
		entries          []planning.DebtPlanEntry
		freed            float64
		totalMonths      float64
		baselineMonths   float64
		baselineInterest float64
		planInterest     float64
	)
	for i, d := range order {
		pmt := d.MinimumPayment + freed
		if i == 0 {
			pmt = d.MinimumPayment + extra
		}
		months, _ := Amortize(d.Principal, d.MonthlyRate(), pmt)
		months = round2(months)
		entries = append(entries, planning.DebtPlanEntry{
			ID:             d.ID,
			Name:           d.Name,
			Principal:      d.Principal,
			AnnualRatePct:  d.AnnualRatePct,
			MonthlyPayment: round2(pmt),
			PayoffMonths:   months,
		})
		planInterest += pmt*months - d.Principal
		if months > totalMonths {
			totalMonths = months
		}
		if i == 0 {
			freed = d.MinimumPayment + extra
		} else {
			freed += d.MinimumPayment
		}

		baseMonths, _ := Amortize(d.Principal, d.MonthlyRate(), d.MinimumPayment)
		baseMonths = round2(baseMonths)
		baselineInterest += d.MinimumPayment*baseMonths - d.Principal
		if baseMonths > baselineMonths {
			baselineMonths = baseMonths
		}
	}

	saved := baselineInterest - planInterest
	if saved < 0 {
		saved = 0
	}
	target := planning.DebtReplanTarget{
		Strategy:         strategy,
		ExtraPayment:     round2(extra),
		Order:            entries,
		TotalMonths:      round2(totalMonths),
		BaselineMonths:   round2(baselineMonths),
		BaselineInterest: round2(baselineInterest),
		PlanInterest:     round2(planInterest),
		InterestSaved:    round2(saved),
	}
	reason := fmt.Sprintf("Putting an extra %.0f kr/month toward debt with the %s method saves about %.0f kr in interest",
		extra, strategy, target.InterestSaved)
	s, err := planning.NewSuggestion(planning.KindDebtReplan, reason, 80, target)
	if err != nil {
		return fmt.Errorf("debt analyzer: %w", err)
	}
	pc.Append(s)
	return nil
}

func (a DebtAnalyzer) consolidate(pc *planning.Context) error {
	var (
		ids     []string
		total   float64
		current float64
	)
	for _, d := range pc.Debts {
		if d.AnnualRatePct >= consolidationRateFloor {
			ids = append(ids, d.ID)
			total += d.Principal
			current += d.MinimumPayment
		}
	}
	if len(ids) < 2 {
		return nil
	}

	monthlyRate := consolidationRatePct / 100 / 12
	newPayment := round2(AnnuityPayment(total, monthlyRate, consolidationTermMonths))
	target := planning.DebtConsolidateTarget{
		DebtIDs:               ids,
		TotalPrincipal:        round2(total),
		CurrentMonthlyPayment: round2(current),
		NewMonthlyPayment:     newPayment,
		NewRatePct:            consolidationRatePct,
		TermMonths:            consolidationTermMonths,
	}
	reason := fmt.Sprintf("Folding %d high-rate debts (%.0f kr total) into one loan at %.0f%% simplifies payments and cuts the blended rate",
		len(ids), target.TotalPrincipal, consolidationRatePct)
	s, err := planning.NewSuggestion(planning.KindDebtConsolidate, reason, 65, target)
	if err != nil {
		return fmt.Errorf("debt analyzer: %w", err)
	}
	pc.Append(s)
	return nil
}

// bufferFirst suggests a small cash buffer before aggressive paydown when
// no emergency fund goal exists and there is positive flow to fund one.
func (a DebtAnalyzer) bufferFirst(pc *planning.Context) error {
	for _, g := range pc.Goals {
		if g.Kind == planning.GoalKindEmergencyFund {
			return nil
		}
	}
	cf := pc.Cashflow
	if cf == nil || cf.NetFlow <= 0 {
		return nil
	}

	monthly := cf.NetFlow / 2
	if lim := cf.MonthlyIncome * 0.1; lim > 0 && monthly > lim {
		monthly = lim
	}
	if monthly <= 0 {
		return nil
	}
	target := planning.DebtEmergencyFundTarget{
		MonthlyAmount: round2(monthly),
		TargetAmount:  round2(cf.MonthlyExpenses),
	}
	reason := "A one-month expense buffer before aggressive paydown keeps a surprise bill from landing on a credit card"
	s, err := planning.NewSuggestion(planning.KindDebtEmergencyFund, reason, 60, target)
	if err != nil {
		return fmt.Errorf("debt analyzer: %w", err)
	}
	pc.Append(s)
	return nil
}
