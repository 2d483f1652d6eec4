package postgres

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"kasirinaja/posledger/internal/domain"
	"kasirinaja/posledger/internal/store"
	"kasirinaja/posledger/internal/xid"
)

func (s *Store) CreateLayawayPlan(ctx context.Context, plan domain.LayawayPlan) (*domain.LayawayPlan, error) {
	if plan.TenantID == "" || plan.CustomerID == "" || len(plan.Items) == 0 || plan.TotalCents < 1 {
		return nil, store.ErrInvalidTransaction
	}
	if plan.ID == "" {
		plan.ID = xid.New("layaway")
	}
	if plan.CreatedAt.IsZero() {
		plan.CreatedAt = time.Now().UTC()
	}
	if plan.Status == "" {
		plan.Status = domain.LayawayStatusActive
	}
	for i := range plan.Payments {
		if plan.Payments[i].ID == "" {
			plan.Payments[i].ID = xid.New("inst")
		}
	}
	plan.AmountPaidCents = domain.SumPayments(plan.Payments)

	pgTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer func() { _ = pgTx.Rollback() }()

	_, err = pgTx.ExecContext(ctx, `
		INSERT INTO layaway_plans (
			id, tenant_id, customer_id, total_cents, deposit_cents, amount_paid_cents,
			installment_count, due_date, status, created_at, closed_at
		)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)
	`, plan.ID, plan.TenantID, plan.CustomerID, plan.TotalCents, plan.DepositCents, plan.AmountPaidCents,
		plan.InstallmentCount, nullTime(plan.DueDate), plan.Status, plan.CreatedAt, nullTime(plan.ClosedAt))
	if err != nil {
		if isUniqueViolation(err) {
			return nil, store.ErrInvalidTransaction
		}
		return nil, err
	}

	for _, item := range plan.Items {
		_, err := pgTx.ExecContext(ctx, `
			INSERT INTO layaway_items (plan_id, item_id, name, quantity, unit_price_cents)
			VALUES ($1,$2,$3,$4,$5)
		`, plan.ID, item.ItemID, item.Name, item.Quantity, item.UnitPriceCents)
		if err != nil {
			return nil, err
		}
	}
	for _, payment := range plan.Payments {
		if err := insertPayment(ctx, pgTx, plan.ID, payment); err != nil {
			return nil, err
		}
	}

	if err := pgTx.Commit(); err != nil {
		return nil, err
	}
	return &plan, nil
}

func (s *Store) GetLayawayPlan(ctx context.Context, tenantID string, planID string) (*domain.LayawayPlan, error) {
	return loadPlan(ctx, s.db, tenantID, planID, false)
}

func (s *Store) AppendInstallment(ctx context.Context, tenantID string, planID string, payment domain.InstallmentPayment) (*domain.LayawayPlan, error) {
	if payment.ID == "" {
		payment.ID = xid.New("inst")
	}
	if payment.PaidAt.IsZero() {
		payment.PaidAt = time.Now().UTC()
	}

	return s.updatePlan(ctx, tenantID, planID, func(tx *sql.Tx, plan *domain.LayawayPlan) error {
		if err := plan.ApplyPayment(payment, payment.PaidAt); err != nil {
			return err
		}
		return insertPayment(ctx, tx, plan.ID, payment)
	})
}

func (s *Store) CancelLayawayPlan(ctx context.Context, tenantID string, planID string, at time.Time) (*domain.LayawayPlan, error) {
	return s.updatePlan(ctx, tenantID, planID, func(_ *sql.Tx, plan *domain.LayawayPlan) error {
		return plan.Cancel(at)
	})
}

// updatePlan locks the plan row, lets mutate change it and writes back the
// derived columns in the same transaction.
func (s *Store) updatePlan(ctx context.Context, tenantID string, planID string, mutate func(*sql.Tx, *domain.LayawayPlan) error) (*domain.LayawayPlan, error) {
	pgTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer func() { _ = pgTx.Rollback() }()

	plan, err := loadPlan(ctx, pgTx, tenantID, planID, true)
	if err != nil {
		return nil, err
	}
	if err := mutate(pgTx, plan); err != nil {
		return nil, err
	}

	_, err = pgTx.ExecContext(ctx, `
		UPDATE layaway_plans
		SET amount_paid_cents = $2, status = $3, closed_at = $4
		WHERE id = $1
	`, plan.ID, plan.AmountPaidCents, plan.Status, nullTime(plan.ClosedAt))
	if err != nil {
		return nil, err
	}

	if err := pgTx.Commit(); err != nil {
		return nil, err
	}
	return plan, nil
}

func insertPayment(ctx context.Context, tx *sql.Tx, planID string, payment domain.InstallmentPayment) error {
	_, err := tx.ExecContext(ctx, `
		INSERT INTO layaway_payments (id, plan_id, amount_cents, method, note, recorded_by, paid_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7)
	`, payment.ID, planID, payment.AmountCents, payment.Method, nullIfEmpty(payment.Note),
		nullIfEmpty(payment.RecordedBy), payment.PaidAt)
	return err
}

func loadPlan(ctx context.Context, q queryer, tenantID string, planID string, forUpdate bool) (*domain.LayawayPlan, error) {
	query := `
		SELECT id, tenant_id, customer_id, total_cents, deposit_cents, amount_paid_cents,
			installment_count, due_date, status, created_at, closed_at
		FROM layaway_plans
		WHERE tenant_id = $1 AND id = $2
	`
	if forUpdate {
		query += " FOR UPDATE"
	}

	var plan domain.LayawayPlan
	var dueDate, closedAt sql.NullTime
	err := q.QueryRowContext(ctx, query, tenantID, planID).Scan(
		&plan.ID, &plan.TenantID, &plan.CustomerID, &plan.TotalCents, &plan.DepositCents,
		&plan.AmountPaidCents, &plan.InstallmentCount, &dueDate, &plan.Status, &plan.CreatedAt, &closedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	plan.CreatedAt = plan.CreatedAt.UTC()
	if dueDate.Valid {
		due := dueDate.Time.UTC()
		plan.DueDate = &due
	}
	if closedAt.Valid {
		closed := closedAt.Time.UTC()
		plan.ClosedAt = &closed
	}

	itemRows, err := q.QueryContext(ctx, `
		SELECT item_id, name, quantity, unit_price_cents
		FROM layaway_items
		WHERE plan_id = $1
		ORDER BY id ASC
	`, plan.ID)
	if err != nil {
		return nil, err
	}
	for itemRows.Next() {
		var item domain.LayawayLineItem
		if err := itemRows.Scan(&item.ItemID, &item.Name, &item.Quantity, &item.UnitPriceCents); err != nil {
			_ = itemRows.Close()
			return nil, err
		}
		plan.Items = append(plan.Items, item)
	}
	if err := itemRows.Err(); err != nil {
		_ = itemRows.Close()
		return nil, err
	}
	_ = itemRows.Close()

	paymentRows, err := q.QueryContext(ctx, `
		SELECT id, amount_cents, method, COALESCE(note, ''), COALESCE(recorded_by, ''), paid_at
		FROM layaway_payments
		WHERE plan_id = $1
		ORDER BY paid_at ASC, id ASC
	`, plan.ID)
	if err != nil {
		return nil, err
	}
	for paymentRows.Next() {
		var payment domain.InstallmentPayment
		if err := paymentRows.Scan(&payment.ID, &payment.AmountCents, &payment.Method, &payment.Note, &payment.RecordedBy, &payment.PaidAt); err != nil {
			_ = paymentRows.Close()
			return nil, err
		}
		payment.PaidAt = payment.PaidAt.UTC()
		plan.Payments = append(plan.Payments, payment)
	}
	if err := paymentRows.Err(); err != nil {
		_ = paymentRows.Close()
		return nil, err
	}
	_ = paymentRows.Close()

	// the stored column is a cache of the ledger
	plan.AmountPaidCents = domain.SumPayments(plan.Payments)
	return &plan, nil
}
