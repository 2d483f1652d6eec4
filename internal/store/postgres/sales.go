package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sort"
	"time"

	"kasirinaja/posledger/internal/domain"
	"kasirinaja/posledger/internal/store"
	"kasirinaja/posledger/internal/xid"
)

func (s *Store) FindSaleByID(ctx context.Context, tenantID string, id string) (*domain.Sale, error) {
	return s.findSale(ctx, "id", tenantID, id)
}

func (s *Store) FindSaleByIdempotency(ctx context.Context, tenantID string, key string) (*domain.Sale, error) {
	return s.findSale(ctx, "idempotency_key", tenantID, key)
}

func (s *Store) findSale(ctx context.Context, column string, tenantID string, value string) (*domain.Sale, error) {
	if column != "id" && column != "idempotency_key" {
		return nil, fmt.Errorf("unsupported lookup column")
	}

	var sale domain.Sale
	var terminalID, customerID, createdBy sql.NullString
	var receiptSeq sql.NullInt64

	query := fmt.Sprintf(`
		SELECT id, tenant_id, terminal_id, customer_id, idempotency_key, total_cents,
			payment_method, payment_status, order_status, receipt_sequence,
			receipt_number, receipt_degraded, created_by, created_at
		FROM sales
		WHERE tenant_id = $1 AND %s = $2
	`, column)

	err := s.db.QueryRowContext(ctx, query, tenantID, value).Scan(
		&sale.ID,
		&sale.TenantID,
		&terminalID,
		&customerID,
		&sale.IdempotencyKey,
		&sale.TotalCents,
		&sale.PaymentMethod,
		&sale.PaymentStatus,
		&sale.OrderStatus,
		&receiptSeq,
		&sale.ReceiptNumber,
		&sale.ReceiptDegraded,
		&createdBy,
		&sale.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	sale.TerminalID = terminalID.String
	sale.CustomerID = customerID.String
	sale.CreatedBy = createdBy.String
	sale.ReceiptSequence = receiptSeq.Int64
	sale.CreatedAt = sale.CreatedAt.UTC()

	rows, err := s.db.QueryContext(ctx, `
		SELECT item_id, name, kind, quantity, unit_price_cents, line_total_cents
		FROM sale_items
		WHERE sale_id = $1
		ORDER BY id ASC
	`, sale.ID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	sale.Items = make([]domain.SaleLineItem, 0, 8)
	for rows.Next() {
		var item domain.SaleLineItem
		var kind string
		if err := rows.Scan(&item.ItemID, &item.Name, &kind, &item.Quantity, &item.UnitPriceCents, &item.LineTotalCents); err != nil {
			return nil, err
		}
		item.Kind = domain.ItemKind(kind)
		sale.Items = append(sale.Items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	splitRows, err := s.db.QueryContext(ctx, `
		SELECT method, amount_cents, COALESCE(reference, '')
		FROM sale_payment_splits
		WHERE sale_id = $1
		ORDER BY id ASC
	`, sale.ID)
	if err != nil {
		return nil, err
	}
	defer splitRows.Close()

	for splitRows.Next() {
		var split domain.PaymentSplitEntry
		if err := splitRows.Scan(&split.Method, &split.AmountCents, &split.Reference); err != nil {
			return nil, err
		}
		sale.PaymentSplits = append(sale.PaymentSplits, split)
	}
	if err := splitRows.Err(); err != nil {
		return nil, err
	}

	return &sale, nil
}

// CommitSale runs the whole sale in one transaction. Stock and credit are
// changed with conditional updates, so a concurrent checkout that would
// oversell or overdraw matches no row and is rejected instead of waiting on a
// stale read. Any failure rolls everything back.
func (s *Store) CommitSale(ctx context.Context, commit domain.SaleCommit) (*domain.Sale, error) {
	sale := commit.Sale
	if sale.TenantID == "" || sale.IdempotencyKey == "" || len(sale.Items) == 0 {
		return nil, store.ErrInvalidTransaction
	}
	if sale.ID == "" {
		sale.ID = xid.New("sale")
	}
	if sale.CreatedAt.IsZero() {
		sale.CreatedAt = time.Now().UTC()
	}

	pgTx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelReadCommitted})
	if err != nil {
		return nil, err
	}
	defer func() { _ = pgTx.Rollback() }()

	if err := decrementStock(ctx, pgTx, sale, commit.AllowBackorder); err != nil {
		return nil, err
	}
	if err := chargeCredit(ctx, pgTx, sale); err != nil {
		return nil, err
	}

	_, err = pgTx.ExecContext(ctx, `
		INSERT INTO sales (
			id, tenant_id, terminal_id, customer_id, idempotency_key, total_cents,
			payment_method, payment_status, order_status, receipt_sequence,
			receipt_number, receipt_degraded, created_by, created_at
		)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14)
	`, sale.ID, sale.TenantID, nullIfEmpty(sale.TerminalID), nullIfEmpty(sale.CustomerID),
		sale.IdempotencyKey, sale.TotalCents, sale.PaymentMethod, sale.PaymentStatus,
		sale.OrderStatus, nullSequence(sale.ReceiptSequence), sale.ReceiptNumber,
		sale.ReceiptDegraded, nullIfEmpty(sale.CreatedBy), sale.CreatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			_ = pgTx.Rollback()
			existing, lookupErr := s.FindSaleByIdempotency(ctx, sale.TenantID, sale.IdempotencyKey)
			if lookupErr == nil {
				return existing, store.ErrDuplicateSale
			}
			// the key is new, so the clash is on receipt_number
			return nil, &domain.AllocatorUnavailableError{
				TenantID: sale.TenantID,
				Attempts: 1,
				Err:      fmt.Errorf("receipt number %s already used: %w", sale.ReceiptNumber, err),
			}
		}
		return nil, &domain.PartialCommitError{SaleID: sale.ID, Step: store.StepSale, Compensated: true, Err: err}
	}

	for _, item := range sale.Items {
		_, err := pgTx.ExecContext(ctx, `
			INSERT INTO sale_items (sale_id, item_id, name, kind, quantity, unit_price_cents, line_total_cents)
			VALUES ($1,$2,$3,$4,$5,$6,$7)
		`, sale.ID, item.ItemID, item.Name, string(item.Kind), item.Quantity, item.UnitPriceCents, item.LineTotalCents)
		if err != nil {
			return nil, &domain.PartialCommitError{SaleID: sale.ID, Step: store.StepItems, Compensated: true, Err: err}
		}
	}

	for _, split := range sale.PaymentSplits {
		_, err := pgTx.ExecContext(ctx, `
			INSERT INTO sale_payment_splits (sale_id, method, amount_cents, reference)
			VALUES ($1,$2,$3,$4)
		`, sale.ID, split.Method, split.AmountCents, nullIfEmpty(split.Reference))
		if err != nil {
			return nil, &domain.PartialCommitError{SaleID: sale.ID, Step: store.StepSplits, Compensated: true, Err: err}
		}
	}

	if err := pgTx.Commit(); err != nil {
		// The outcome of a failed COMMIT is unknown to the client.
		return nil, &domain.PartialCommitError{SaleID: sale.ID, Step: store.StepCommit, Compensated: false, Err: err}
	}

	return &sale, nil
}

func decrementStock(ctx context.Context, tx *sql.Tx, sale domain.Sale, allowBackorder bool) error {
	requested := make(map[string]int)
	for _, line := range sale.Items {
		switch line.Kind {
		case domain.KindProduct:
			requested[line.ItemID] += line.Quantity
		case domain.KindService:
		default:
			return fmt.Errorf("%w: %q", domain.ErrUnknownItemKind, line.Kind)
		}
	}

	// fixed lock order keeps concurrent checkouts from deadlocking
	ids := make([]string, 0, len(requested))
	for id := range requested {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	for _, id := range ids {
		qty := requested[id]
		query := `
			UPDATE catalog_items
			SET stock_qty = stock_qty - $1, updated_at = now()
			WHERE tenant_id = $2 AND id = $3 AND kind = 'product' AND stock_qty >= $1
		`
		if allowBackorder {
			query = `
				UPDATE catalog_items
				SET stock_qty = stock_qty - $1, updated_at = now()
				WHERE tenant_id = $2 AND id = $3 AND kind = 'product'
			`
		}
		res, err := tx.ExecContext(ctx, query, qty, sale.TenantID, id)
		if err != nil {
			return fmt.Errorf("%s: %w", store.StepStock, err)
		}
		affected, err := res.RowsAffected()
		if err != nil {
			return fmt.Errorf("%s: %w", store.StepStock, err)
		}
		if affected == 1 {
			continue
		}

		var name string
		var available int
		err = tx.QueryRowContext(ctx, `
			SELECT name, stock_qty FROM catalog_items
			WHERE tenant_id = $1 AND id = $2 AND kind = 'product'
		`, sale.TenantID, id).Scan(&name, &available)
		if errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("item %s: %w", id, store.ErrNotFound)
		}
		if err != nil {
			return fmt.Errorf("%s: %w", store.StepStock, err)
		}
		return &domain.InsufficientStockError{ItemID: id, Name: name, Requested: qty, Available: available}
	}
	return nil
}

func chargeCredit(ctx context.Context, tx *sql.Tx, sale domain.Sale) error {
	if sale.PaymentMethod != domain.PaymentCredit {
		return nil
	}

	res, err := tx.ExecContext(ctx, `
		UPDATE credit_accounts
		SET current_balance_cents = current_balance_cents + $1, updated_at = now()
		WHERE tenant_id = $2 AND customer_id = $3
			AND credit_limit_cents - current_balance_cents >= $1
	`, sale.TotalCents, sale.TenantID, sale.CustomerID)
	if err != nil {
		return fmt.Errorf("%s: %w", store.StepCredit, err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("%s: %w", store.StepCredit, err)
	}
	if affected == 1 {
		return nil
	}

	account, err := getCreditAccount(ctx, tx, sale.TenantID, sale.CustomerID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return fmt.Errorf("customer %s: %w", sale.CustomerID, store.ErrNotFound)
		}
		return fmt.Errorf("%s: %w", store.StepCredit, err)
	}
	return &domain.InsufficientCreditError{
		CustomerID:     sale.CustomerID,
		RequiredCents:  sale.TotalCents,
		AvailableCents: account.AvailableCents(),
	}
}

func nullSequence(seq int64) any {
	if seq < 1 {
		return nil
	}
	return seq
}
