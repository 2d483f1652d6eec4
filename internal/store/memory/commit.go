package memory

import (
	"context"
	"fmt"
	"slices"
	"time"

	"kasirinaja/posledger/internal/domain"
	"kasirinaja/posledger/internal/store"
	"kasirinaja/posledger/internal/xid"
)

// saga collects the undo actions of a commit in progress.
type saga struct {
	undo []func()
}

func (g *saga) add(fn func()) {
	g.undo = append(g.undo, fn)
}

func (g *saga) compensate() {
	for i := len(g.undo) - 1; i >= 0; i-- {
		g.undo[i]()
	}
	g.undo = nil
}

// CommitSale applies the sale as a sequence of steps under the store lock.
// A failing step runs the compensations of every earlier step in reverse, so
// stock, credit and the sale tables end up as they were before the call.
func (s *Store) CommitSale(ctx context.Context, commit domain.SaleCommit) (*domain.Sale, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	sale := commit.Sale
	if sale.TenantID == "" || sale.IdempotencyKey == "" || len(sale.Items) == 0 {
		return nil, store.ErrInvalidTransaction
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if id, ok := s.salesByIdem[idemKey(sale.TenantID, sale.IdempotencyKey)]; ok {
		return s.assembleSale(s.salesByID[id]), store.ErrDuplicateSale
	}

	if sale.ID == "" {
		sale.ID = xid.New("sale")
	}
	if sale.CreatedAt.IsZero() {
		sale.CreatedAt = time.Now().UTC()
	}

	var g saga

	if err := s.decrementStock(&g, sale, commit.AllowBackorder); err != nil {
		g.compensate()
		return nil, err
	}
	if err := s.chargeCredit(&g, sale); err != nil {
		g.compensate()
		return nil, err
	}

	if err := s.fail(store.StepSale); err != nil {
		g.compensate()
		return nil, &domain.PartialCommitError{SaleID: sale.ID, Step: store.StepSale, Compensated: true, Err: err}
	}
	header := sale
	header.Items = nil
	header.PaymentSplits = nil
	s.salesByID[sale.ID] = &header
	s.salesByIdem[idemKey(sale.TenantID, sale.IdempotencyKey)] = sale.ID
	g.add(func() {
		delete(s.salesByID, sale.ID)
		delete(s.salesByIdem, idemKey(sale.TenantID, sale.IdempotencyKey))
	})

	if err := s.fail(store.StepItems); err != nil {
		g.compensate()
		return nil, &domain.PartialCommitError{SaleID: sale.ID, Step: store.StepItems, Compensated: true, Err: err}
	}
	s.saleItems[sale.ID] = slices.Clone(sale.Items)
	g.add(func() { delete(s.saleItems, sale.ID) })

	if err := s.fail(store.StepSplits); err != nil {
		g.compensate()
		return nil, &domain.PartialCommitError{SaleID: sale.ID, Step: store.StepSplits, Compensated: true, Err: err}
	}
	if len(sale.PaymentSplits) > 0 {
		s.saleSplits[sale.ID] = slices.Clone(sale.PaymentSplits)
		g.add(func() { delete(s.saleSplits, sale.ID) })
	}

	if err := s.fail(store.StepCommit); err != nil {
		g.compensate()
		return nil, &domain.PartialCommitError{SaleID: sale.ID, Step: store.StepCommit, Compensated: true, Err: err}
	}

	return s.assembleSale(&header), nil
}

func (s *Store) decrementStock(g *saga, sale domain.Sale, allowBackorder bool) error {
	if err := s.fail(store.StepStock); err != nil {
		return fmt.Errorf("%s: %w", store.StepStock, err)
	}

	requested := make(map[string]int)
	order := make([]string, 0, len(sale.Items))
	for _, line := range sale.Items {
		switch line.Kind {
		case domain.KindProduct:
			if _, seen := requested[line.ItemID]; !seen {
				order = append(order, line.ItemID)
			}
			requested[line.ItemID] += line.Quantity
		case domain.KindService:
		default:
			return fmt.Errorf("%w: %q", domain.ErrUnknownItemKind, line.Kind)
		}
	}

	tenantCatalog := s.catalog[sale.TenantID]
	for _, itemID := range order {
		qty := requested[itemID]
		item, ok := tenantCatalog[itemID]
		if !ok {
			return fmt.Errorf("item %s: %w", itemID, store.ErrNotFound)
		}
		if !allowBackorder && item.StockQty < qty {
			return &domain.InsufficientStockError{ItemID: itemID, Name: item.Name, Requested: qty, Available: item.StockQty}
		}
		item.StockQty -= qty
		tenantCatalog[itemID] = item
		g.add(func() {
			restored := tenantCatalog[itemID]
			restored.StockQty += qty
			tenantCatalog[itemID] = restored
		})
	}
	return nil
}

func (s *Store) chargeCredit(g *saga, sale domain.Sale) error {
	if sale.PaymentMethod != domain.PaymentCredit {
		return nil
	}
	if err := s.fail(store.StepCredit); err != nil {
		return fmt.Errorf("%s: %w", store.StepCredit, err)
	}

	accounts := s.credit[sale.TenantID]
	account, ok := accounts[sale.CustomerID]
	if !ok {
		return fmt.Errorf("customer %s: %w", sale.CustomerID, store.ErrNotFound)
	}
	if account.AvailableCents() < sale.TotalCents {
		return &domain.InsufficientCreditError{
			CustomerID:     sale.CustomerID,
			RequiredCents:  sale.TotalCents,
			AvailableCents: account.AvailableCents(),
		}
	}
	account.CurrentBalanceCents += sale.TotalCents
	accounts[sale.CustomerID] = account
	g.add(func() {
		restored := accounts[sale.CustomerID]
		restored.CurrentBalanceCents -= sale.TotalCents
		accounts[sale.CustomerID] = restored
	})
	return nil
}

func (s *Store) fail(step string) error {
	err, ok := s.failpoints[step]
	if !ok {
		return nil
	}
	delete(s.failpoints, step)
	return err
}
