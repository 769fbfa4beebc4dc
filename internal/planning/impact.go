package planning

// TierChange is a before/after pair of qualitative KPI tiers.
type TierChange struct {
	Before string `json:"before"`
	After  string `json:"after"`
}

// RatioChange is a before/after pair of a numeric KPI.
type RatioChange struct {
	Before float64 `json:"before"`
	After  float64 `json:"after"`
}

// Impact is the quantified before/after projection attached to a
// suggestion by the impact stage. Only metrics relevant to the kind are
// non-zero; Summary concatenates the non-zero contributors.
type Impact struct {
	CashflowDelta   float64 `json:"cashflow_delta"`   // monthly, kr
	InterestSaved   float64 `json:"interest_saved"`   // total, kr
	MonthsSaved     float64 `json:"months_saved"`     // payoff time reduction
	ImmediateRelief float64 `json:"immediate_relief"` // one-off, kr
	Summary         string  `json:"summary"`

	CashflowHealth     TierChange  `json:"cashflow_health"`
	DebtToIncome       RatioChange `json:"debt_to_income"`
	EmergencyReadiness TierChange  `json:"emergency_readiness"`
}
