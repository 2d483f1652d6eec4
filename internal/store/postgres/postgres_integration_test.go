package postgres

import (
	"context"
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"

	"kasirinaja/posledger/internal/domain"
	"kasirinaja/posledger/internal/store"
)

func newIntegrationStore(t *testing.T) (*Store, string) {
	t.Helper()
	databaseURL := os.Getenv("POSLEDGER_TEST_DATABASE_URL")
	if databaseURL == "" {
		t.Skip("set POSLEDGER_TEST_DATABASE_URL to run postgres integration test")
	}

	ctx := context.Background()
	s, err := New(ctx, databaseURL)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	require.NoError(t, s.Migrate(ctx))

	tenantID := fmt.Sprintf("it-%d", time.Now().UnixNano())
	t.Cleanup(func() {
		_, _ = s.db.ExecContext(ctx, `DELETE FROM sale_payment_splits WHERE sale_id IN (SELECT id FROM sales WHERE tenant_id = $1)`, tenantID)
		_, _ = s.db.ExecContext(ctx, `DELETE FROM sale_items WHERE sale_id IN (SELECT id FROM sales WHERE tenant_id = $1)`, tenantID)
		_, _ = s.db.ExecContext(ctx, `DELETE FROM sales WHERE tenant_id = $1`, tenantID)
		_, _ = s.db.ExecContext(ctx, `DELETE FROM layaway_payments WHERE plan_id IN (SELECT id FROM layaway_plans WHERE tenant_id = $1)`, tenantID)
		_, _ = s.db.ExecContext(ctx, `DELETE FROM layaway_items WHERE plan_id IN (SELECT id FROM layaway_plans WHERE tenant_id = $1)`, tenantID)
		_, _ = s.db.ExecContext(ctx, `DELETE FROM layaway_plans WHERE tenant_id = $1`, tenantID)
		_, _ = s.db.ExecContext(ctx, `DELETE FROM catalog_items WHERE tenant_id = $1`, tenantID)
		_, _ = s.db.ExecContext(ctx, `DELETE FROM credit_accounts WHERE tenant_id = $1`, tenantID)
		_, _ = s.db.ExecContext(ctx, `DELETE FROM receipt_sequences WHERE tenant_id = $1`, tenantID)
	})

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO catalog_items (tenant_id, id, name, price_cents, kind, stock_qty)
		VALUES ($1, 'A', 'Product A', 1000, 'product', 5)
	`, tenantID)
	require.NoError(t, err)
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO credit_accounts (tenant_id, customer_id, credit_limit_cents, current_balance_cents)
		VALUES ($1, 'C1', 10000, 8000)
	`, tenantID)
	require.NoError(t, err)
	return s, tenantID
}

func saleFor(tenantID string, key string, method string, qty int) domain.SaleCommit {
	total := int64(qty) * 1000
	return domain.SaleCommit{Sale: domain.Sale{
		TenantID:       tenantID,
		CustomerID:     "C1",
		IdempotencyKey: key,
		TotalCents:     total,
		PaymentMethod:  method,
		PaymentStatus:  domain.PaymentStatusPaid,
		OrderStatus:    domain.OrderStatusCompleted,
		ReceiptNumber:  "RCP-" + key,
		Items: []domain.SaleLineItem{
			{ItemID: "A", Name: "Product A", Kind: domain.KindProduct, Quantity: qty, UnitPriceCents: 1000, LineTotalCents: total},
		},
	}}
}

func TestCommitSaleConcurrentStockNeverOversells(t *testing.T) {
	s, tenantID := newIntegrationStore(t)
	ctx := context.Background()

	var g errgroup.Group
	results := make([]error, 10)
	for i := range results {
		i := i
		g.Go(func() error {
			_, results[i] = s.CommitSale(ctx, saleFor(tenantID, fmt.Sprintf("k%d", i), domain.PaymentCash, 1))
			return nil
		})
	}
	require.NoError(t, g.Wait())

	succeeded := 0
	for _, err := range results {
		if err == nil {
			succeeded++
			continue
		}
		assert.ErrorIs(t, err, domain.ErrInsufficientStock)
	}
	assert.Equal(t, 5, succeeded)

	items, err := s.GetCatalogItems(ctx, tenantID, []string{"A"})
	require.NoError(t, err)
	assert.Equal(t, 0, items["A"].StockQty)
}

func TestCommitSaleCreditRejectionRollsBackStock(t *testing.T) {
	s, tenantID := newIntegrationStore(t)
	ctx := context.Background()

	_, err := s.CommitSale(ctx, saleFor(tenantID, "k1", domain.PaymentCredit, 3))
	require.ErrorIs(t, err, domain.ErrInsufficientCredit)

	items, err := s.GetCatalogItems(ctx, tenantID, []string{"A"})
	require.NoError(t, err)
	assert.Equal(t, 5, items["A"].StockQty)

	sale, err := s.CommitSale(ctx, saleFor(tenantID, "k2", domain.PaymentCredit, 2))
	require.NoError(t, err)
	account, err := s.GetCreditAccount(ctx, tenantID, "C1")
	require.NoError(t, err)
	assert.Equal(t, int64(10000), account.CurrentBalanceCents)

	again, err := s.CommitSale(ctx, saleFor(tenantID, "k2", domain.PaymentCredit, 2))
	require.ErrorIs(t, err, store.ErrDuplicateSale)
	assert.Equal(t, sale.ID, again.ID)
}

func TestNextReceiptSequenceIsUnique(t *testing.T) {
	s, tenantID := newIntegrationStore(t)
	ctx := context.Background()

	seen := make(chan int64, 50)
	var g errgroup.Group
	for i := 0; i < 50; i++ {
		g.Go(func() error {
			v, err := s.NextReceiptSequence(ctx, tenantID)
			seen <- v
			return err
		})
	}
	require.NoError(t, g.Wait())
	close(seen)

	unique := map[int64]struct{}{}
	for v := range seen {
		unique[v] = struct{}{}
	}
	assert.Len(t, unique, 50)
}

func TestReceiptSequenceFloorCoversSales(t *testing.T) {
	s, tenantID := newIntegrationStore(t)
	ctx := context.Background()

	_, err := s.NextReceiptSequence(ctx, tenantID)
	require.NoError(t, err)
	commit := saleFor(tenantID, "k1", domain.PaymentCash, 1)
	commit.Sale.ReceiptSequence = 7
	_, err = s.CommitSale(ctx, commit)
	require.NoError(t, err)

	floor, err := s.ReceiptSequenceFloor(ctx, tenantID)
	require.NoError(t, err)
	assert.Equal(t, int64(7), floor)
}

func TestCommitSaleReusedReceiptNumberIsAllocatorError(t *testing.T) {
	s, tenantID := newIntegrationStore(t)
	ctx := context.Background()

	_, err := s.CommitSale(ctx, saleFor(tenantID, "k1", domain.PaymentCash, 1))
	require.NoError(t, err)

	clash := saleFor(tenantID, "k2", domain.PaymentCash, 1)
	clash.Sale.ReceiptNumber = "RCP-k1"
	_, err = s.CommitSale(ctx, clash)
	require.ErrorIs(t, err, domain.ErrAllocatorUnavailable)

	items, err := s.GetCatalogItems(ctx, tenantID, []string{"A"})
	require.NoError(t, err)
	assert.Equal(t, 4, items["A"].StockQty)
}

func TestLayawayInstallmentsComplete(t *testing.T) {
	s, tenantID := newIntegrationStore(t)
	ctx := context.Background()

	plan, err := s.CreateLayawayPlan(ctx, domain.LayawayPlan{
		TenantID:         tenantID,
		CustomerID:       "C1",
		TotalCents:       10000,
		DepositCents:     2000,
		InstallmentCount: 2,
		Items:            []domain.LayawayLineItem{{ItemID: "A", Name: "Product A", Quantity: 10, UnitPriceCents: 1000}},
		Payments:         []domain.InstallmentPayment{{AmountCents: 2000, Method: domain.PaymentCash, PaidAt: time.Now().UTC()}},
	})
	require.NoError(t, err)

	plan, err = s.AppendInstallment(ctx, tenantID, plan.ID, domain.InstallmentPayment{AmountCents: 8000, Method: domain.PaymentCash})
	require.NoError(t, err)
	assert.Equal(t, domain.LayawayStatusCompleted, plan.Status)

	loaded, err := s.GetLayawayPlan(ctx, tenantID, plan.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(10000), loaded.AmountPaidCents)
	assert.Len(t, loaded.Payments, 2)
}
