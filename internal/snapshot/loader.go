// Package snapshot assembles the immutable input facts for one pipeline
// run: profile, budget, bills, debts, goals, and active policies, plus
// the cash-flow projection derived once at load time.
package snapshot

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/kalambet/pengeplan/internal/planning"
	"github.com/kalambet/pengeplan/internal/storage"
)

// upcomingWindow bounds which unpaid bills count as "upcoming" for the
// cash-flow projection.
const upcomingWindow = 30 * 24 * time.Hour

// Source is the read-only persistence surface the loader depends on.
type Source interface {
	GetProfile(userID string) (storage.Profile, error)
	LatestBudget(userID string) (storage.Budget, error)
	ListUnpaidBills(userID string) ([]storage.Bill, error)
	ListDebts(userID string) ([]storage.Debt, error)
	ListGoals(userID string) ([]storage.Goal, error)
	ListActivePolicies(userID string) ([]storage.Policy, error)
}

type Loader struct {
	src Source
}

func NewLoader(src Source) *Loader {
	return &Loader{src: src}
}

// Load builds a fresh planning context for the user. Orderings are fixed
// here: bills ascending by due date, debts descending by rate, goals
// descending by priority, policies in position order. A missing profile
// or budget is not an error; the context simply carries less signal.
func (l *Loader) Load(ctx context.Context, userID string, entry planning.EntryPoint, now time.Time) (*planning.Context, error) {
	pc := &planning.Context{
		UserID:     userID,
		EntryPoint: entry,
		Now:        now,
	}

	profile, err := l.src.GetProfile(userID)
	haveProfile := true
	if err != nil {
		if !errors.Is(err, storage.ErrNotFound) {
			return nil, fmt.Errorf("loading profile: %w", err)
		}
		haveProfile = false
	}

	budget, err := l.src.LatestBudget(userID)
	if err == nil {
		b, err := decodeBudget(budget)
		if err != nil {
			return nil, err
		}
		pc.Budget = b
	} else if !errors.Is(err, storage.ErrNotFound) {
		return nil, fmt.Errorf("loading budget: %w", err)
	}

	bills, err := l.src.ListUnpaidBills(userID)
	if err != nil {
		return nil, fmt.Errorf("loading bills: %w", err)
	}
	for _, b := range bills {
		pc.Bills = append(pc.Bills, planning.Bill{
			ID: b.ID, Name: b.Name, Amount: b.Amount, DueDate: b.DueDate, Category: b.Category, Paid: b.Paid,
		})
	}

	debts, err := l.src.ListDebts(userID)
	if err != nil {
		return nil, fmt.Errorf("loading debts: %w", err)
	}
	for _, d := range debts {
		pc.Debts = append(pc.Debts, planning.Debt{
			ID: d.ID, Name: d.Name, Principal: d.Principal, AnnualRatePct: d.AnnualRatePct, MinimumPayment: d.MinimumPayment,
		})
	}

	goals, err := l.src.ListGoals(userID)
	if err != nil {
		return nil, fmt.Errorf("loading goals: %w", err)
	}
	for _, g := range goals {
		pc.Goals = append(pc.Goals, planning.Goal{
			ID: g.ID, Name: g.Name, TargetAmount: g.TargetAmount, SavedAmount: g.SavedAmount,
			TargetDate: g.TargetDate, Priority: g.Priority, Kind: g.Kind, Paused: g.Paused,
		})
	}

	policies, err := l.src.ListActivePolicies(userID)
	if err != nil {
		return nil, fmt.Errorf("loading policies: %w", err)
	}
	for _, p := range policies {
		pc.Policies = append(pc.Policies, planning.Policy{
			ID: p.ID, Name: p.Name, Kind: p.Kind, Params: json.RawMessage(p.ParamsJSON), Position: p.Position,
		})
	}

	// Derive cash flow once; stages never recompute it. Without either a
	// profile or a budget there is nothing to derive from.
	if haveProfile || pc.Budget != nil {
		cf := &planning.Cashflow{}
		if haveProfile {
			cf.MonthlyIncome = profile.MonthlyIncome
		}
		if pc.Budget != nil {
			for _, cat := range pc.Budget.Categories {
				cf.MonthlyExpenses += cat.Actual
			}
		}
		cf.NetFlow = cf.MonthlyIncome - cf.MonthlyExpenses
		cutoff := now.Add(upcomingWindow)
		for _, b := range pc.Bills {
			if !b.DueDate.After(cutoff) {
				cf.UpcomingBills = append(cf.UpcomingBills, b)
			}
		}
		pc.Cashflow = cf
	}

	return pc, nil
}

func decodeBudget(b storage.Budget) (*planning.Budget, error) {
	var categories []planning.BudgetCategory
	if b.CategoriesJSON != "" {
		if err := json.Unmarshal([]byte(b.CategoriesJSON), &categories); err != nil {
			return nil, fmt.Errorf("decoding budget %s categories: %w", b.ID, err)
		}
	}
	return &planning.Budget{ID: b.ID, Month: b.Month, Categories: categories}, nil
}
