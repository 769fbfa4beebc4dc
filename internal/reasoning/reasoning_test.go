package reasoning

import (
	"context"
	"strings"
	"testing"
	"unicode/utf8"

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

func deferTarget() planning.BillDeferTarget {
	return planning.BillDeferTarget{
		Bills:         []planning.BillRef{{ID: "b1", Name: "Gym", Amount: 600}},
		TotalDeferred: 600, Deficit: 2000, DeferDays: 30,
	}
}

func pauseTarget() planning.GoalPauseTarget {
	return planning.GoalPauseTarget{
		Goals: []planning.GoalRef{{ID: "g1", Name: "Ferie", MonthlyContribution: 800}}, MonthlyFreed: 800,
	}
}

func TestAnnotatorOrdersByKindPriority(t *testing.T) {
	pc := &planning.Context{
		Cashflow: &planning.Cashflow{MonthlyIncome: 28000, MonthlyExpenses: 30000, NetFlow: -2000},
		Suggestions: []planning.Suggestion{
			mustSuggestion(t, planning.KindGoalPause, "pause goals", 70, pauseTarget()),
			mustSuggestion(t, planning.KindBudgetReallocate, "trim mat", 70, planning.BudgetReallocateTarget{
				Category: "mat", Amount: 800, Direction: planning.ReallocateReduce,
			}),
			mustSuggestion(t, planning.KindBillDefer, "defer gym", 75, deferTarget()),
		},
	}

	if err := (Annotator{}).Execute(context.Background(), pc); err != nil {
		t.Fatalf("Execute: %v", err)
	}

	want := []planning.Kind{planning.KindBillDefer, planning.KindBudgetReallocate, planning.KindGoalPause}
	for i, k := range want {
		if pc.Suggestions[i].Kind != k {
			t.Errorf("position %d = %s, want %s", i, pc.Suggestions[i].Kind, k)
		}
	}
}

func TestAnnotatorTiesBreakOnConfidence(t *testing.T) {
	pc := &planning.Context{
		Cashflow: &planning.Cashflow{NetFlow: -2000},
		Suggestions: []planning.Suggestion{
			mustSuggestion(t, planning.KindBillPartialPay, "pay part of strøm", 60, planning.BillPartialPayTarget{
				Bill: planning.BillRef{ID: "b1", Name: "Strøm", Amount: 1800}, ProposedPayment: 900,
			}),
			mustSuggestion(t, planning.KindBillDefer, "defer gym", 75, deferTarget()),
		},
	}

	if err := (Annotator{}).Execute(context.Background(), pc); err != nil {
		t.Fatalf("Execute: %v", err)
	}

	// Both kinds share the liquidity priority tier; higher confidence wins.
	if pc.Suggestions[0].Kind != planning.KindBillDefer {
		t.Errorf("first suggestion = %s, want the higher-confidence deferral", pc.Suggestions[0].Kind)
	}
}

func TestAnnotatorBoostsLiquidityKindsOnNegativeFlow(t *testing.T) {
	pc := &planning.Context{
		Cashflow:    &planning.Cashflow{NetFlow: -2000},
		Suggestions: []planning.Suggestion{mustSuggestion(t, planning.KindBillDefer, "defer gym", 75, deferTarget())},
	}

	if err := (Annotator{}).Execute(context.Background(), pc); err != nil {
		t.Fatalf("Execute: %v", err)
	}

	s := pc.Suggestions[0]
	if s.Confidence != 85 {
		t.Errorf("confidence = %d, want 75 + 10 negative-flow boost", s.Confidence)
	}
	if !strings.HasSuffix(s.Reasoning, "(high confidence)") {
		t.Errorf("reasoning = %q, want a high-confidence suffix", s.Reasoning)
	}
	if pc.Confidence != 85 {
		t.Errorf("context confidence = %d, want the best suggestion's 85", pc.Confidence)
	}
}

func TestAnnotatorPenalizesMissingSignals(t *testing.T) {
	pc := &planning.Context{
		Suggestions: []planning.Suggestion{
			mustSuggestion(t, planning.KindDebtEmergencyFund, "buffer first", 55, planning.DebtEmergencyFundTarget{
				MonthlyAmount: 500, TargetAmount: 20000,
			}),
		},
	}

	if err := (Annotator{}).Execute(context.Background(), pc); err != nil {
		t.Fatalf("Execute: %v", err)
	}

	s := pc.Suggestions[0]
	if s.Confidence != 45 {
		t.Errorf("confidence = %d, want 55 - 10 for missing budget and cashflow", s.Confidence)
	}
	if !strings.HasSuffix(s.Reasoning, "(low confidence)") {
		t.Errorf("reasoning = %q, want a low-confidence suffix", s.Reasoning)
	}
}

func TestAnnotatorAppendsContextClause(t *testing.T) {
	pc := &planning.Context{
		Cashflow:    &planning.Cashflow{NetFlow: -2000},
		Suggestions: []planning.Suggestion{mustSuggestion(t, planning.KindBillDefer, "defer gym", 75, deferTarget())},
	}

	if err := (Annotator{}).Execute(context.Background(), pc); err != nil {
		t.Fatalf("Execute: %v", err)
	}

	got := pc.Suggestions[0].Reasoning
	want := "defer gym; monthly net flow stands at -2000 kr (high confidence)"
	if got != want {
		t.Errorf("reasoning = %q, want %q", got, want)
	}
}

func TestBuildRationaleDropsClauseBeforeTruncating(t *testing.T) {
	base := strings.Repeat("a", 200)
	clause := "monthly net flow stands at -2000 kr"
	suffix := "(moderate confidence)"

	// base(200) + "; " + clause(35) + " " + suffix(21) = 259 > 240,
	// but base + " " + suffix = 222 fits: the clause is dropped whole.
	got := buildRationale(base, clause, suffix)
	if got != base+" "+suffix {
		t.Errorf("expected the clause dropped, got %q", got)
	}

	// With an oversized base even the suffix form overruns; hard truncate.
	base = strings.Repeat("ø", 130) // 260 bytes
	got = buildRationale(base, clause, suffix)
	if len(got) > planning.MaxReasoningLen {
		t.Errorf("rationale is %d bytes, cap is %d", len(got), planning.MaxReasoningLen)
	}
	if !utf8.ValidString(got) {
		t.Error("truncation split a multi-byte rune")
	}
}

func TestTierSuffix(t *testing.T) {
	cases := []struct {
		confidence int
		want       string
	}{
		{95, "(high confidence)"},
		{80, "(high confidence)"},
		{79, "(moderate confidence)"},
		{50, "(moderate confidence)"},
		{49, "(low confidence)"},
		{0, "(low confidence)"},
	}
	for _, c := range cases {
		if got := tierSuffix(c.confidence); got != c.want {
			t.Errorf("tierSuffix(%d) = %q, want %q", c.confidence, got, c.want)
		}
	}
}
