package planning

import "time"

// Context is the mutable state threaded through one pipeline run. It is
// created fresh by the snapshot loader, owned exclusively by the
// orchestrator, and discarded after persistence. Stages append
// suggestions and may raise the aggregate scalars but never lower them.
type Context struct {
	UserID     string     `json:"user_id"`
	EntryPoint EntryPoint `json:"entry_point"`
	Now        time.Time  `json:"now"` // fixed at run start for determinism

	Budget   *Budget   `json:"budget,omitempty"`
	Cashflow *Cashflow `json:"cashflow,omitempty"`
	Bills    []Bill    `json:"bills"`    // unpaid, ascending due date
	Debts    []Debt    `json:"debts"`    // descending interest rate
	Goals    []Goal    `json:"goals"`    // descending priority
	Policies []Policy  `json:"policies"` // ordered rule documents

	Suggestions []Suggestion        `json:"suggestions"`
	Blocked     []BlockedSuggestion `json:"blocked"`

	Confidence  int     `json:"confidence"`   // 0-100, non-decreasing
	ImpactScore float64 `json:"impact_score"` // non-decreasing
}

// Append adds a candidate suggestion produced by an analysis stage.
func (c *Context) Append(s Suggestion) {
	c.Suggestions = append(c.Suggestions, s)
}

// RaiseConfidence lifts the aggregate confidence to v if v is higher.
// Stages may raise, never lower.
func (c *Context) RaiseConfidence(v int) {
	if v > 100 {
		v = 100
	}
	if v > c.Confidence {
		c.Confidence = v
	}
}

// RaiseImpactScore lifts the aggregate impact score to v if v is higher.
func (c *Context) RaiseImpactScore(v float64) {
	if v > c.ImpactScore {
		c.ImpactScore = v
	}
}

// Clone returns an independent deep copy. NodeTraces snapshot the context
// before and after each stage; no aliasing back into the live run state.
func (c *Context) Clone() *Context {
	cp := *c
	if c.Budget != nil {
		b := *c.Budget
		b.Categories = append([]BudgetCategory(nil), c.Budget.Categories...)
		cp.Budget = &b
	}
	if c.Cashflow != nil {
		cf := *c.Cashflow
		cf.UpcomingBills = append([]Bill(nil), c.Cashflow.UpcomingBills...)
		cp.Cashflow = &cf
	}
	cp.Bills = append([]Bill(nil), c.Bills...)
	cp.Debts = append([]Debt(nil), c.Debts...)
	cp.Goals = append([]Goal(nil), c.Goals...)
	cp.Policies = append([]Policy(nil), c.Policies...)
	cp.Suggestions = cloneSuggestions(c.Suggestions)
	cp.Blocked = append([]BlockedSuggestion(nil), c.Blocked...)
	for i := range cp.Blocked {
		cp.Blocked[i].Suggestion = cloneSuggestion(cp.Blocked[i].Suggestion)
	}
	return &cp
}

func cloneSuggestions(in []Suggestion) []Suggestion {
	if in == nil {
		return nil
	}
	out := make([]Suggestion, len(in))
	for i, s := range in {
		out[i] = cloneSuggestion(s)
	}
	return out
}

func cloneSuggestion(s Suggestion) Suggestion {
	s.PolicyHints = append([]string(nil), s.PolicyHints...)
	if s.Impact != nil {
		imp := *s.Impact
		s.Impact = &imp
	}
	return s
}
