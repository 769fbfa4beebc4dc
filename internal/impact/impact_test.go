package impact

import (
	"context"
	"math"
	"testing"

	"github.com/kalambet/pengeplan/internal/planning"
)

func mustSuggestion(t *testing.T, kind planning.Kind, reasoning string, conf int, target planning.Target) planning.Suggestion {
	t.Helper()
	s, err := planning.NewSuggestion(kind, reasoning, conf, target)
	if err != nil {
		t.Fatalf("NewSuggestion(%s): %v", kind, err)
	}
	return s
}

func TestProjectorBudgetReduction(t *testing.T) {
	s := mustSuggestion(t, planning.KindBudgetReallocate, "trim mat", 70, planning.BudgetReallocateTarget{
		Category: "mat", Amount: 1200, Direction: planning.ReallocateReduce,
	})
	pc := &planning.Context{
		Cashflow:    &planning.Cashflow{MonthlyIncome: 30000, MonthlyExpenses: 31000, NetFlow: -1000},
		Suggestions: []planning.Suggestion{s},
	}

	if err := (Projector{}).Execute(context.Background(), pc); err != nil {
		t.Fatalf("Execute: %v", err)
	}

	imp := pc.Suggestions[0].Impact
	if imp == nil {
		t.Fatal("no impact attached")
	}
	if imp.CashflowDelta != 1200 {
		t.Errorf("cashflow delta = %v, want the full reduction 1200", imp.CashflowDelta)
	}
	// -1000 + 1200 = 200, positive but under 10% of income.
	if imp.CashflowHealth.Before != "critical" || imp.CashflowHealth.After != "tight" {
		t.Errorf("cashflow health = %s -> %s, want critical -> tight",
			imp.CashflowHealth.Before, imp.CashflowHealth.After)
	}
	if imp.Summary != "improves monthly cash flow by 1200 kr" {
		t.Errorf("summary = %q", imp.Summary)
	}
}

func TestProjectorBillDeferAndPartialPay(t *testing.T) {
	deferS := mustSuggestion(t, planning.KindBillDefer, "defer gym", 75, planning.BillDeferTarget{
		Bills:         []planning.BillRef{{ID: "b1", Name: "Gym", Amount: 600}},
		TotalDeferred: 600, Deficit: 2000, DeferDays: 30,
	})
	partial := mustSuggestion(t, planning.KindBillPartialPay, "split strøm", 70, planning.BillPartialPayTarget{
		Bill: planning.BillRef{ID: "b2", Name: "Strøm", Amount: 1800}, ProposedPayment: 900,
	})
	pc := &planning.Context{
		Cashflow:    &planning.Cashflow{MonthlyIncome: 28000, MonthlyExpenses: 30000, NetFlow: -2000},
		Suggestions: []planning.Suggestion{deferS, partial},
	}

	if err := (Projector{}).Execute(context.Background(), pc); err != nil {
		t.Fatalf("Execute: %v", err)
	}

	if got := pc.Suggestions[0].Impact.ImmediateRelief; got != 600 {
		t.Errorf("defer relief = %v, want the deferred total", got)
	}
	if got := pc.Suggestions[1].Impact.ImmediateRelief; got != 900 {
		t.Errorf("partial-pay relief = %v, want amount minus proposed payment", got)
	}
}

func TestProjectorDebtReplan(t *testing.T) {
	s := mustSuggestion(t, planning.KindDebtReplan, "extra toward debt", 80, planning.DebtReplanTarget{
		Strategy: planning.StrategySnowball,
		Order: []planning.DebtPlanEntry{
			{ID: "d1", Principal: 5000, MonthlyPayment: 2300, PayoffMonths: 2.2},
		},
		TotalMonths: 14, BaselineMonths: 36, InterestSaved: 4200,
	})
	pc := &planning.Context{
		Cashflow: &planning.Cashflow{MonthlyIncome: 32000, MonthlyExpenses: 30000, NetFlow: 2000},
		Debts: []planning.Debt{
			{ID: "d1", Principal: 5000, AnnualRatePct: 19, MinimumPayment: 300},
		},
		Suggestions: []planning.Suggestion{s},
	}

	if err := (Projector{}).Execute(context.Background(), pc); err != nil {
		t.Fatalf("Execute: %v", err)
	}

	imp := pc.Suggestions[0].Impact
	if imp.InterestSaved != 4200 {
		t.Errorf("interest saved = %v, want 4200", imp.InterestSaved)
	}
	if imp.MonthsSaved != 22 {
		t.Errorf("months saved = %v, want 22", imp.MonthsSaved)
	}
	if imp.Summary != "saves 4200 kr in interest; shortens payoff by 22 months" {
		t.Errorf("summary = %q", imp.Summary)
	}
}

func TestProjectorConsolidationDelta(t *testing.T) {
	s := mustSuggestion(t, planning.KindDebtConsolidate, "fold debts", 65, planning.DebtConsolidateTarget{
		DebtIDs: []string{"d1", "d2"}, TotalPrincipal: 100000,
		CurrentMonthlyPayment: 3400, NewMonthlyPayment: 2224.44,
		NewRatePct: 12, TermMonths: 60,
	})
	pc := &planning.Context{
		Cashflow: &planning.Cashflow{MonthlyIncome: 34000, MonthlyExpenses: 30000, NetFlow: 4000},
		Debts: []planning.Debt{
			{ID: "d1", MinimumPayment: 2000},
			{ID: "d2", MinimumPayment: 1400},
		},
		Suggestions: []planning.Suggestion{s},
	}

	if err := (Projector{}).Execute(context.Background(), pc); err != nil {
		t.Fatalf("Execute: %v", err)
	}

	imp := pc.Suggestions[0].Impact
	if math.Abs(imp.CashflowDelta-1175.56) > 0.01 {
		t.Errorf("cashflow delta = %v, want the payment reduction", imp.CashflowDelta)
	}
	if imp.DebtToIncome.Before != 0.1 {
		t.Errorf("debt-to-income before = %v, want 0.1", imp.DebtToIncome.Before)
	}
	if imp.DebtToIncome.After >= imp.DebtToIncome.Before {
		t.Errorf("debt-to-income after = %v, want below %v", imp.DebtToIncome.After, imp.DebtToIncome.Before)
	}
}

func TestProjectorEmergencyFundReadiness(t *testing.T) {
	s := mustSuggestion(t, planning.KindGoalCreateEmergency, "build a buffer", 70, planning.GoalCreateEmergencyTarget{
		TargetAmount: 90000, MonthlyContribution: 10000, MonthsToTarget: 9,
	})
	pc := &planning.Context{
		Cashflow:    &planning.Cashflow{MonthlyIncome: 52000, MonthlyExpenses: 30000, NetFlow: 20000},
		Suggestions: []planning.Suggestion{s},
	}

	if err := (Projector{}).Execute(context.Background(), pc); err != nil {
		t.Fatalf("Execute: %v", err)
	}

	imp := pc.Suggestions[0].Impact
	if imp.CashflowDelta != -10000 {
		t.Errorf("cashflow delta = %v, want the contribution as a cost", imp.CashflowDelta)
	}
	// Six months of contributions: 0 -> 60000 saved against a 90000 target.
	if imp.EmergencyReadiness.Before != "low" || imp.EmergencyReadiness.After != "partial" {
		t.Errorf("readiness = %s -> %s, want low -> partial",
			imp.EmergencyReadiness.Before, imp.EmergencyReadiness.After)
	}
	if imp.Summary != "costs 10000 kr/month" {
		t.Errorf("summary = %q", imp.Summary)
	}
}

func TestProjectorStructuralAdviceSummary(t *testing.T) {
	s := mustSuggestion(t, planning.KindBillPrioritize, "essentials first", 65, planning.BillPrioritizeTarget{
		Order: []planning.BillRef{{ID: "b1"}, {ID: "b2"}},
	})
	pc := &planning.Context{Suggestions: []planning.Suggestion{s}}

	if err := (Projector{}).Execute(context.Background(), pc); err != nil {
		t.Fatalf("Execute: %v", err)
	}

	imp := pc.Suggestions[0].Impact
	if imp.Summary != "no direct monetary change; improves plan structure" {
		t.Errorf("summary = %q", imp.Summary)
	}
}

func TestAggregateScoreCapsContributions(t *testing.T) {
	huge := mustSuggestion(t, planning.KindGoalPause, "pause everything", 70, planning.GoalPauseTarget{
		Goals: []planning.GoalRef{{ID: "g1", Name: "Alt", MonthlyContribution: 99999}}, MonthlyFreed: 99999,
	})
	huge.Impact = &planning.Impact{CashflowDelta: 99999}

	// 99999/50 blows past the cashflow cap; low risk adds the full bonus.
	got := aggregateScore([]planning.Suggestion{huge})
	if got != cashflowPointsCap+riskPointsCap {
		t.Errorf("score = %v, want the capped %v", got, cashflowPointsCap+riskPointsCap)
	}
}

func TestAggregateScoreAveragesAcrossSuggestions(t *testing.T) {
	a := mustSuggestion(t, planning.KindBudgetReallocate, "trim", 70, planning.BudgetReallocateTarget{
		Category: "mat", Amount: 500, Direction: planning.ReallocateReduce,
	})
	a.Impact = &planning.Impact{CashflowDelta: 500}
	b := mustSuggestion(t, planning.KindGoalPause, "pause", 70, planning.GoalPauseTarget{
		Goals: []planning.GoalRef{{ID: "g1"}}, MonthlyFreed: 0,
	})
	b.Impact = &planning.Impact{}
	b.RiskLevel = planning.RiskMedium

	// a: 500/50 = 10 cash points + 15 risk = 25. b: 0 + 8 risk = 8.
	got := aggregateScore([]planning.Suggestion{a, b})
	if got != 16.5 {
		t.Errorf("score = %v, want (25+8)/2", got)
	}
}

func TestRiskBonusOrdering(t *testing.T) {
	if riskBonus(planning.RiskLow) <= riskBonus(planning.RiskMedium) ||
		riskBonus(planning.RiskMedium) <= riskBonus(planning.RiskHigh) {
		t.Error("risk bonus must reward lower risk")
	}
}
