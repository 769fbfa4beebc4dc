package storage

import (
	"database/sql"
	"time"
)

// Snapshot-source tables: the facts a pipeline run is assembled from.
// All writes are upserts keyed by record ID; the loader only reads.

func (s *Store) SetProfile(p Profile) error {
	currency := p.Currency
	if currency == "" {
		currency = "NOK"
	}
	_, err := s.db.Exec(`
		INSERT INTO profiles (user_id, monthly_income, currency, updated_at) VALUES (?, ?, ?, ?)
		ON CONFLICT(user_id) DO UPDATE SET monthly_income = excluded.monthly_income, currency = excluded.currency, updated_at = excluded.updated_at`,
		p.UserID, p.MonthlyIncome, currency, fmtTime(time.Now()),
	)
	return err
}

func (s *Store) GetProfile(userID string) (Profile, error) {
	var p Profile
	var updatedAt string
	err := s.db.QueryRow(`SELECT user_id, monthly_income, currency, updated_at FROM profiles WHERE user_id = ?`, userID).
		Scan(&p.UserID, &p.MonthlyIncome, &p.Currency, &updatedAt)
	if err == sql.ErrNoRows {
		return Profile{}, ErrNotFound
	}
	if err != nil {
		return Profile{}, err
	}
	if p.UpdatedAt, err = parseTime(updatedAt); err != nil {
		return Profile{}, err
	}
	return p, nil
}

func (s *Store) SaveBudget(b Budget) error {
	createdAt := b.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now()
	}
	_, err := s.db.Exec(`
		INSERT INTO budgets (id, user_id, month, categories_json, created_at) VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET month = excluded.month, categories_json = excluded.categories_json`,
		b.ID, b.UserID, b.Month, b.CategoriesJSON, fmtTime(createdAt),
	)
	return err
}

// LatestBudget returns the most recently created budget for a user.
func (s *Store) LatestBudget(userID string) (Budget, error) {
	var b Budget
	var createdAt string
	err := s.db.QueryRow(`
		SELECT id, user_id, month, categories_json, created_at
		FROM budgets WHERE user_id = ? ORDER BY created_at DESC, id DESC LIMIT 1`, userID,
	).Scan(&b.ID, &b.UserID, &b.Month, &b.CategoriesJSON, &createdAt)
	if err == sql.ErrNoRows {
		return Budget{}, ErrNotFound
	}
	if err != nil {
		return Budget{}, err
	}
	if b.CreatedAt, err = parseTime(createdAt); err != nil {
		return Budget{}, err
	}
	return b, nil
}

func (s *Store) UpsertBill(b Bill) error {
	createdAt := b.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now()
	}
	_, err := s.db.Exec(`
		INSERT INTO bills (id, user_id, name, amount, due_date, category, paid, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET name = excluded.name, amount = excluded.amount,
			due_date = excluded.due_date, category = excluded.category, paid = excluded.paid`,
		b.ID, b.UserID, b.Name, b.Amount, fmtTime(b.DueDate), b.Category, b.Paid, fmtTime(createdAt),
	)
	return err
}

// ListUnpaidBills returns a user's unpaid bills ascending by due date.
func (s *Store) ListUnpaidBills(userID string) ([]Bill, error) {
	rows, err := s.db.Query(`
		SELECT id, user_id, name, amount, due_date, category, paid, created_at
		FROM bills WHERE user_id = ? AND paid = 0 ORDER BY due_date ASC, id ASC`, userID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var results []Bill
	for rows.Next() {
		var b Bill
		var dueDate, createdAt string
		if err := rows.Scan(&b.ID, &b.UserID, &b.Name, &b.Amount, &dueDate, &b.Category, &b.Paid, &createdAt); err != nil {
			return nil, err
		}
		if b.DueDate, err = parseTime(dueDate); err != nil {
			return nil, err
		}
		if b.CreatedAt, err = parseTime(createdAt); err != nil {
			return nil, err
		}
		results = append(results, b)
	}
	return results, rows.Err()
}

func (s *Store) UpsertDebt(d Debt) error {
	createdAt := d.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now()
	}
	_, err := s.db.Exec(`
		INSERT INTO debts (id, user_id, name, principal, annual_rate_pct, minimum_payment, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET name = excluded.name, principal = excluded.principal,
			annual_rate_pct = excluded.annual_rate_pct, minimum_payment = excluded.minimum_payment`,
		d.ID, d.UserID, d.Name, d.Principal, d.AnnualRatePct, d.MinimumPayment, fmtTime(createdAt),
	)
	return err
}

// ListDebts returns a user's debts descending by interest rate.
func (s *Store) ListDebts(userID string) ([]Debt, error) {
	rows, err := s.db.Query(`
		SELECT id, user_id, name, principal, annual_rate_pct, minimum_payment, created_at
		FROM debts WHERE user_id = ? ORDER BY annual_rate_pct DESC, id ASC`, userID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var results []Debt
	for rows.Next() {
		var d Debt
		var createdAt string
		if err := rows.Scan(&d.ID, &d.UserID, &d.Name, &d.Principal, &d.AnnualRatePct, &d.MinimumPayment, &createdAt); err != nil {
			return nil, err
		}
		if d.CreatedAt, err = parseTime(createdAt); err != nil {
			return nil, err
		}
		results = append(results, d)
	}
	return results, rows.Err()
}

func (s *Store) UpsertGoal(g Goal) error {
	createdAt := g.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now()
	}
	kind := g.Kind
	if kind == "" {
		kind = "savings"
	}
	_, err := s.db.Exec(`
		INSERT INTO goals (id, user_id, name, target_amount, saved_amount, target_date, priority, kind, paused, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET name = excluded.name, target_amount = excluded.target_amount,
			saved_amount = excluded.saved_amount, target_date = excluded.target_date,
			priority = excluded.priority, kind = excluded.kind, paused = excluded.paused`,
		g.ID, g.UserID, g.Name, g.TargetAmount, g.SavedAmount, fmtTime(g.TargetDate), g.Priority, kind, g.Paused, fmtTime(createdAt),
	)
	return err
}

// ListGoals returns a user's goals descending by priority.
func (s *Store) ListGoals(userID string) ([]Goal, error) {
	rows, err := s.db.Query(`
		SELECT id, user_id, name, target_amount, saved_amount, target_date, priority, kind, paused, created_at
		FROM goals WHERE user_id = ? ORDER BY priority DESC, id ASC`, userID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var results []Goal
	for rows.Next() {
		var g Goal
		var targetDate, createdAt string
		if err := rows.Scan(&g.ID, &g.UserID, &g.Name, &g.TargetAmount, &g.SavedAmount, &targetDate, &g.Priority, &g.Kind, &g.Paused, &createdAt); err != nil {
			return nil, err
		}
		if g.TargetDate, err = parseTime(targetDate); err != nil {
			return nil, err
		}
		if g.CreatedAt, err = parseTime(createdAt); err != nil {
			return nil, err
		}
		results = append(results, g)
	}
	return results, rows.Err()
}

func (s *Store) UpsertPolicy(p Policy) error {
	createdAt := p.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now()
	}
	params := p.ParamsJSON
	if params == "" {
		params = "{}"
	}
	_, err := s.db.Exec(`
		INSERT INTO policies (id, user_id, name, kind, params_json, active, position, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET name = excluded.name, kind = excluded.kind,
			params_json = excluded.params_json, active = excluded.active, position = excluded.position`,
		p.ID, p.UserID, p.Name, p.Kind, params, p.Active, p.Position, fmtTime(createdAt),
	)
	return err
}

// ListActivePolicies returns global policies plus the user's own,
// ordered by position. Global policies (empty user_id) sort first
// within equal positions.
func (s *Store) ListActivePolicies(userID string) ([]Policy, error) {
	rows, err := s.db.Query(`
		SELECT id, user_id, name, kind, params_json, active, position, created_at
		FROM policies WHERE active = 1 AND (user_id = '' OR user_id = ?)
		ORDER BY position ASC, user_id ASC, id ASC`, userID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var results []Policy
	for rows.Next() {
		var p Policy
		var createdAt string
		if err := rows.Scan(&p.ID, &p.UserID, &p.Name, &p.Kind, &p.ParamsJSON, &p.Active, &p.Position, &createdAt); err != nil {
			return nil, err
		}
		if p.CreatedAt, err = parseTime(createdAt); err != nil {
			return nil, err
		}
		results = append(results, p)
	}
	return results, rows.Err()
}
