package planning

import (
	"testing"
	"time"
)

func TestParseEntryPoint(t *testing.T) {
	for _, valid := range []string{"user_assist", "guardian_assist", "admin_trigger"} {
		if _, err := ParseEntryPoint(valid); err != nil {
			t.Errorf("ParseEntryPoint(%q) failed: %v", valid, err)
		}
	}
	if _, err := ParseEntryPoint("cron"); err == nil {
		t.Error("expected error for unknown entry point")
	}
}

func TestMaxRisk(t *testing.T) {
	cases := []struct {
		a, b, want RiskLevel
	}{
		{RiskLow, RiskLow, RiskLow},
		{RiskLow, RiskMedium, RiskMedium},
		{RiskHigh, RiskMedium, RiskHigh},
		{RiskMedium, RiskHigh, RiskHigh},
	}
	for _, c := range cases {
		if got := MaxRisk(c.a, c.b); got != c.want {
			t.Errorf("MaxRisk(%s, %s) = %s, want %s", c.a, c.b, got, c.want)
		}
	}
}

func TestEssentialUtility(t *testing.T) {
	cases := []struct {
		category string
		want     bool
	}{
		{"strøm", true},
		{"electricity", true},
		{"  Vann ", true},
		{"husleie", true},
		{"rent", true},
		{"streaming", false},
		{"", false},
	}
	for _, c := range cases {
		b := Bill{Category: c.category}
		if got := b.EssentialUtility(); got != c.want {
			t.Errorf("EssentialUtility(%q) = %v, want %v", c.category, got, c.want)
		}
	}
}

func TestGoalMonthsToTarget_NeverBelowOne(t *testing.T) {
	now := time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC)
	g := Goal{TargetDate: now.AddDate(0, 0, -10)}
	if got := g.MonthsToTarget(now); got != 1 {
		t.Errorf("past target date: months = %v, want 1", got)
	}
}

func TestGoalMonthlyContribution(t *testing.T) {
	now := time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC)
	g := Goal{TargetAmount: 12000, SavedAmount: 0, TargetDate: now.AddDate(0, 0, 300)}
	contrib := g.MonthlyContribution(now)
	if contrib <= 0 {
		t.Fatalf("expected positive contribution, got %v", contrib)
	}

	done := Goal{TargetAmount: 5000, SavedAmount: 6000, TargetDate: now.AddDate(1, 0, 0)}
	if got := done.MonthlyContribution(now); got != 0 {
		t.Errorf("fully funded goal: contribution = %v, want 0", got)
	}
}

func TestNewSuggestionValidation(t *testing.T) {
	target := DebtEmergencyFundTarget{MonthlyAmount: 500, TargetAmount: 20000}

	if _, err := NewSuggestion(KindDebtEmergencyFund, "", 50, target); err == nil {
		t.Error("expected error for empty reasoning")
	}
	if _, err := NewSuggestion(KindBillDefer, "mismatched payload", 50, target); err == nil {
		t.Error("expected error for kind/target mismatch")
	}
	if _, err := NewSuggestion(KindDebtEmergencyFund, "ok", 50, DebtEmergencyFundTarget{}); err == nil {
		t.Error("expected error for invalid target payload")
	}

	long := make([]byte, MaxReasoningLen+1)
	for i := range long {
		long[i] = 'a'
	}
	if _, err := NewSuggestion(KindDebtEmergencyFund, string(long), 50, target); err == nil {
		t.Error("expected error for overlong reasoning")
	}
}

func TestNewSuggestionClampsConfidence(t *testing.T) {
	target := DebtEmergencyFundTarget{MonthlyAmount: 500, TargetAmount: 20000}

	s, err := NewSuggestion(KindDebtEmergencyFund, "buffer first", 150, target)
	if err != nil {
		t.Fatalf("NewSuggestion: %v", err)
	}
	if s.Confidence != 100 {
		t.Errorf("confidence = %d, want clamp to 100", s.Confidence)
	}
	if s.RiskLevel != RiskLow {
		t.Errorf("initial risk = %s, want low", s.RiskLevel)
	}

	s, err = NewSuggestion(KindDebtEmergencyFund, "buffer first", -5, target)
	if err != nil {
		t.Fatalf("NewSuggestion: %v", err)
	}
	if s.Confidence != 0 {
		t.Errorf("confidence = %d, want clamp to 0", s.Confidence)
	}
}

func TestEncodeDecodeTarget(t *testing.T) {
	original := BudgetReallocateTarget{
		Category: "mat", Planned: 5000, Actual: 6500, Variance: 0.3, Amount: 1200, Direction: ReallocateReduce,
	}
	data, err := EncodeTarget(original)
	if err != nil {
		t.Fatalf("EncodeTarget: %v", err)
	}

	decoded, err := DecodeTarget(KindBudgetReallocate, data)
	if err != nil {
		t.Fatalf("DecodeTarget: %v", err)
	}
	got, ok := decoded.(BudgetReallocateTarget)
	if !ok {
		t.Fatalf("decoded type = %T, want BudgetReallocateTarget", decoded)
	}
	if got != original {
		t.Errorf("round trip mismatch: got %+v, want %+v", got, original)
	}

	if _, err := DecodeTarget(Kind("nonsense"), "{}"); err == nil {
		t.Error("expected error for unknown kind")
	}
}

func TestContextClone_DeepCopies(t *testing.T) {
	target := GoalPauseTarget{Goals: []GoalRef{{ID: "g1", Name: "hytte"}}, MonthlyFreed: 800}
	s, err := NewSuggestion(KindGoalPause, "negative flow", 70, target)
	if err != nil {
		t.Fatalf("NewSuggestion: %v", err)
	}
	s.PolicyHints = []string{"hint"}
	s.Impact = &Impact{CashflowDelta: 800}

	pc := &Context{
		UserID:      "kari",
		Budget:      &Budget{ID: "b1", Categories: []BudgetCategory{{Name: "mat", Planned: 5000, Actual: 6500}}},
		Cashflow:    &Cashflow{MonthlyIncome: 30000, NetFlow: -2000, UpcomingBills: []Bill{{ID: "bill1"}}},
		Bills:       []Bill{{ID: "bill1", Category: "strøm"}},
		Suggestions: []Suggestion{s},
	}

	clone := pc.Clone()

	clone.Budget.Categories[0].Actual = 0
	clone.Cashflow.NetFlow = 0
	clone.Bills[0].Category = "other"
	clone.Suggestions[0].PolicyHints[0] = "changed"
	clone.Suggestions[0].Impact.CashflowDelta = 0

	if pc.Budget.Categories[0].Actual != 6500 {
		t.Error("clone shares budget categories with original")
	}
	if pc.Cashflow.NetFlow != -2000 {
		t.Error("clone shares cashflow with original")
	}
	if pc.Bills[0].Category != "strøm" {
		t.Error("clone shares bills with original")
	}
	if pc.Suggestions[0].PolicyHints[0] != "hint" {
		t.Error("clone shares suggestion hints with original")
	}
	if pc.Suggestions[0].Impact.CashflowDelta != 800 {
		t.Error("clone shares suggestion impact with original")
	}
}

func TestContextRaiseConfidence(t *testing.T) {
	pc := &Context{}
	pc.RaiseConfidence(60)
	if pc.Confidence != 60 {
		t.Errorf("confidence = %d, want 60", pc.Confidence)
	}
	pc.RaiseConfidence(40)
	if pc.Confidence != 60 {
		t.Errorf("confidence lowered to %d; RaiseConfidence must only raise", pc.Confidence)
	}
	pc.RaiseConfidence(250)
	if pc.Confidence != 100 {
		t.Errorf("confidence = %d, want clamp to 100", pc.Confidence)
	}
}
