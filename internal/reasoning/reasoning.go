// Package reasoning deterministically re-orders surviving suggestions,
// recomputes their confidence from context signals, and assembles the
// final rationale string within the 240-character cap.
package reasoning

import (
	"context"
	"fmt"
	"sort"
	"unicode/utf8"

	"github.com/kalambet/pengeplan/internal/planning"
)

// kindPriority fixes the presentation order. Liquidity relief first,
// long-horizon goal shuffling last. Lower sorts earlier.
var kindPriority = map[planning.Kind]int{
	planning.KindBillDefer:           1,
	planning.KindBillPartialPay:      1,
	planning.KindBillPrioritize:      2,
	planning.KindBudgetReallocate:    3,
	planning.KindDebtReplan:          4,
	planning.KindDebtConsolidate:     5,
	planning.KindDebtEmergencyFund:   6,
	planning.KindGoalPause:           7,
	planning.KindGoalPrioritize:      8,
	planning.KindGoalConsolidate:     9,
	planning.KindGoalCreateEmergency: 9,
}

// Annotator is the reasoning pipeline stage.
type Annotator struct{}

func (Annotator) Name() string { return "reasoning" }

func (r Annotator) Execute(ctx context.Context, pc *planning.Context) error {
	best := 0
	for i := range pc.Suggestions {
		s := &pc.Suggestions[i]
		s.Confidence = recomputeConfidence(*s, pc)
		s.Reasoning = buildRationale(s.Reasoning, contextClause(*s, pc), tierSuffix(s.Confidence))
		if s.Confidence > best {
			best = s.Confidence
		}
	}

	sort.SliceStable(pc.Suggestions, func(i, j int) bool {
		pi, pj := kindPriority[pc.Suggestions[i].Kind], kindPriority[pc.Suggestions[j].Kind]
		if pi != pj {
			return pi < pj
		}
		return pc.Suggestions[i].Confidence > pc.Suggestions[j].Confidence
	})

	pc.RaiseConfidence(best)
	return nil
}

// recomputeConfidence applies contextual boosts and penalties to the
// stage-assigned base, clamped to [0,100].
func recomputeConfidence(s planning.Suggestion, pc *planning.Context) int {
	c := s.Confidence

	negativeFlow := pc.Cashflow != nil && pc.Cashflow.NetFlow < 0
	switch s.Kind {
	case planning.KindBillDefer, planning.KindBillPartialPay:
		if negativeFlow {
			c += 10
		}
	case planning.KindDebtReplan, planning.KindDebtConsolidate:
		if len(pc.Debts) > 1 {
			c += 5
		}
	case planning.KindGoalCreateEmergency:
		if pc.Cashflow != nil && pc.Cashflow.NetFlow > 0 {
			c += 5
		}
	}

	if pc.Budget == nil && pc.Cashflow == nil {
		c -= 10
	}

	if c < 0 {
		c = 0
	}
	if c > 100 {
		c = 100
	}
	return c
}

// contextClause adds the situational framing the stage itself did not
// have when it wrote the base reason.
func contextClause(s planning.Suggestion, pc *planning.Context) string {
	cf := pc.Cashflow
	switch {
	case cf != nil && cf.NetFlow < 0:
		return fmt.Sprintf("monthly net flow stands at %.0f kr", cf.NetFlow)
	case cf != nil && cf.NetFlow > 0 && (s.Kind == planning.KindDebtReplan || s.Kind == planning.KindDebtConsolidate):
		return fmt.Sprintf("%.0f kr/month is available above minimum payments", cf.NetFlow)
	case cf != nil && cf.NetFlow > 0:
		return fmt.Sprintf("monthly net flow is a healthy %.0f kr", cf.NetFlow)
	}
	return ""
}

func tierSuffix(confidence int) string {
	switch {
	case confidence >= 80:
		return "(high confidence)"
	case confidence >= 50:
		return "(moderate confidence)"
	}
	return "(low confidence)"
}

// buildRationale assembles base + context clause + tier suffix. When the
// result overruns the cap the context clause is dropped first; only then
// is the base hard-truncated.
func buildRationale(base, clause, suffix string) string {
	if clause != "" {
		full := base + "; " + clause + " " + suffix
		if len(full) <= planning.MaxReasoningLen {
			return full
		}
	}
	withSuffix := base + " " + suffix
	if len(withSuffix) <= planning.MaxReasoningLen {
		return withSuffix
	}
	return truncate(withSuffix, planning.MaxReasoningLen)
}

// truncate cuts s to at most max bytes without splitting a rune.
func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	cut := max
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut]
}
