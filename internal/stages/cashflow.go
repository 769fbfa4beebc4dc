package stages

import (
	"context"
	"fmt"
	"sort"

	"github.com/kalambet/pengeplan/internal/planning"
)

const (
	// maxDeferBills bounds the deferral set; deferring everything at
	// once just moves the deficit a month forward.
	maxDeferBills = 3
	// deferDays is the proposed postponement window.
	deferDays = 30
	// deferCoverFraction stops adding bills once this share of the
	// deficit is covered.
	deferCoverFraction = 0.8
	// largeBillFraction marks a bill as "large" relative to the deficit,
	// making it a partial-payment candidate.
	largeBillFraction = 0.4
)

// CashflowAnalyzer reacts to a negative projected net monthly flow by
// proposing bill deferrals (never essential utilities), partial payment
// of large bills, and a payment priority order.
type CashflowAnalyzer struct{}

func (CashflowAnalyzer) Name() string { return "cashflow_analyzer" }

func (a CashflowAnalyzer) Execute(ctx context.Context, pc *planning.Context) error {
	cf := pc.Cashflow
	if cf == nil || cf.NetFlow >= 0 {
		return nil
	}
	deficit := -cf.NetFlow

	deferrable := make([]planning.Bill, 0, len(cf.UpcomingBills))
	for _, b := range cf.UpcomingBills {
		if !b.EssentialUtility() {
			deferrable = append(deferrable, b)
		}
	}
	// Largest first: fewer deferrals for the same relief.
	sort.SliceStable(deferrable, func(i, j int) bool {
		return deferrable[i].Amount > deferrable[j].Amount
	})

	deferred := map[string]bool{}
	var refs []planning.BillRef
	var total float64
	for _, b := range deferrable {
		if len(refs) == maxDeferBills || total >= deferCoverFraction*deficit {
			break
		}
		refs = append(refs, planning.BillRef{ID: b.ID, Name: b.Name, Amount: b.Amount, DueDate: b.DueDate})
		total += b.Amount
		deferred[b.ID] = true
	}
	if len(refs) > 0 {
		target := planning.BillDeferTarget{
			Bills:         refs,
			TotalDeferred: round2(total),
			Deficit:       round2(deficit),
			DeferDays:     deferDays,
		}
		reason := fmt.Sprintf("Projected net flow is %.0f kr this month; deferring %d non-essential bill(s) frees %.0f kr",
			cf.NetFlow, len(refs), target.TotalDeferred)
		s, err := planning.NewSuggestion(planning.KindBillDefer, reason, 75, target)
		if err != nil {
			return fmt.Errorf("cashflow analyzer: %w", err)
		}
		pc.Append(s)
	}

	// Partial payment of the largest bill not already deferred, sized to
	// half the bill but never more than half the deficit.
	var largest *planning.Bill
	for i := range cf.UpcomingBills {
		b := cf.UpcomingBills[i]
		if deferred[b.ID] || b.Amount < largeBillFraction*deficit {
			continue
		}
		if largest == nil || b.Amount > largest.Amount {
			largest = &cf.UpcomingBills[i]
		}
	}
	if largest != nil {
		cut := largest.Amount / 2
		if cut > deficit/2 {
			cut = deficit / 2
		}
		proposed := round2(largest.Amount - cut)
		if proposed > 0 && proposed < largest.Amount {
			target := planning.BillPartialPayTarget{
				Bill:            planning.BillRef{ID: largest.ID, Name: largest.Name, Amount: largest.Amount, DueDate: largest.DueDate},
				ProposedPayment: proposed,
			}
			reason := fmt.Sprintf("%s is large relative to this month's deficit; paying %.0f kr now and the rest next month eases the squeeze",
				largest.Name, proposed)
			s, err := planning.NewSuggestion(planning.KindBillPartialPay, reason, 70, target)
			if err != nil {
				return fmt.Errorf("cashflow analyzer: %w", err)
			}
			pc.Append(s)
		}
	}

	// Priority order: essential utilities first, then ascending due date.
	if len(cf.UpcomingBills) >= 2 {
		ordered := append([]planning.Bill(nil), cf.UpcomingBills...)
		sort.SliceStable(ordered, func(i, j int) bool {
			ei, ej := ordered[i].EssentialUtility(), ordered[j].EssentialUtility()
			if ei != ej {
				return ei
			}
			return ordered[i].DueDate.Before(ordered[j].DueDate)
		})
		refs := make([]planning.BillRef, len(ordered))
		for i, b := range ordered {
			refs[i] = planning.BillRef{ID: b.ID, Name: b.Name, Amount: b.Amount, DueDate: b.DueDate}
		}
		reason := "With a negative net flow, paying essential utilities first keeps the lights on while the rest can wait their due dates"
		s, err := planning.NewSuggestion(planning.KindBillPrioritize, reason, 65, planning.BillPrioritizeTarget{Order: refs})
		if err != nil {
			return fmt.Errorf("cashflow analyzer: %w", err)
		}
		pc.Append(s)
	}

	pc.RaiseConfidence(65)
	return nil
}
