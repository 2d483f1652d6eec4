package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"kasirinaja/posledger/internal/cart"
	"kasirinaja/posledger/internal/domain"
	"kasirinaja/posledger/internal/store"
	"kasirinaja/posledger/internal/xid"
)

// Checkout outcome labels passed to Metrics.
const (
	OutcomeCommitted = "committed"
	OutcomeDuplicate = "duplicate"
	OutcomeRejected  = "rejected"
	OutcomeFailed    = "failed"
)

type commitMeta struct {
	terminalID     string
	idempotencyKey string
}

// Commit turns a cart into a completed sale. Every check runs before the
// first write; the store then applies stock, credit and the sale record
// atomically.
func (s *Service) Commit(ctx context.Context, c *cart.Cart, disposition domain.PaymentDisposition, customerID string) (domain.Sale, error) {
	resp, err := s.commit(ctx, c, disposition, customerID, commitMeta{})
	return resp.Sale, err
}

// Checkout builds a cart from catalog lookups and commits it. A request that
// reuses an idempotency key gets the original sale back with Duplicate set.
func (s *Service) Checkout(ctx context.Context, req domain.CheckoutRequest) (domain.CheckoutResponse, error) {
	tenantID := s.tenantID(ctx)
	req.IdempotencyKey = strings.TrimSpace(req.IdempotencyKey)
	if req.IdempotencyKey == "" {
		req.IdempotencyKey = xid.New("idem")
	}

	if existing, err := s.repo.FindSaleByIdempotency(ctx, tenantID, req.IdempotencyKey); err == nil {
		s.metrics.ObserveCheckout(OutcomeDuplicate)
		return domain.CheckoutResponse{Sale: *existing, Duplicate: true}, nil
	} else if !errors.Is(err, store.ErrNotFound) {
		return domain.CheckoutResponse{}, err
	}

	c, err := s.buildCart(ctx, tenantID, req.Lines)
	if err != nil {
		s.metrics.ObserveCheckout(OutcomeRejected)
		return domain.CheckoutResponse{}, err
	}

	method := normalizeMethod(req.PaymentMethod)
	if method == "" && len(req.PaymentSplits) > 0 {
		method = domain.PaymentSplit
	}
	disposition := domain.PaymentDisposition{Method: method, Splits: req.PaymentSplits}

	return s.commit(ctx, c, disposition, strings.TrimSpace(req.CustomerID), commitMeta{
		terminalID:     strings.TrimSpace(req.TerminalID),
		idempotencyKey: req.IdempotencyKey,
	})
}

func (s *Service) commit(ctx context.Context, c *cart.Cart, disposition domain.PaymentDisposition, customerID string, meta commitMeta) (domain.CheckoutResponse, error) {
	tenantID := s.tenantID(ctx)

	sale, err := s.validate(ctx, tenantID, c, disposition, customerID)
	if err != nil {
		s.metrics.ObserveCheckout(OutcomeRejected)
		return domain.CheckoutResponse{}, err
	}

	number, err := s.receipts.Next(ctx, tenantID)
	if err != nil {
		s.metrics.ObserveCheckout(OutcomeFailed)
		return domain.CheckoutResponse{}, err
	}

	actor, _ := ActorFromContext(ctx)
	sale.ID = xid.New("sale")
	sale.TerminalID = meta.terminalID
	sale.IdempotencyKey = meta.idempotencyKey
	if sale.IdempotencyKey == "" {
		sale.IdempotencyKey = xid.New("idem")
	}
	sale.ReceiptSequence = number.Sequence
	sale.ReceiptNumber = number.Value
	sale.ReceiptDegraded = number.Degraded
	sale.CreatedBy = actor.Username
	sale.CreatedAt = s.now()

	committed, err := s.repo.CommitSale(ctx, domain.SaleCommit{Sale: sale, AllowBackorder: s.allowBackorder})
	if errors.Is(err, store.ErrDuplicateSale) && committed != nil {
		// a concurrent request with the same key won; the number just drawn is
		// left unused
		s.metrics.ObserveCheckout(OutcomeDuplicate)
		return domain.CheckoutResponse{Sale: *committed, Duplicate: true}, nil
	}
	if err != nil {
		var partial *domain.PartialCommitError
		if errors.As(err, &partial) {
			s.logger.Error("sale commit failed after sale record",
				slog.String("tenant_id", tenantID),
				slog.String("sale_id", partial.SaleID),
				slog.String("step", partial.Step),
				slog.Bool("compensated", partial.Compensated),
				slog.Any("error", partial.Err))
			s.metrics.ObserveCheckout(OutcomeFailed)
		} else {
			s.metrics.ObserveCheckout(OutcomeRejected)
		}
		return domain.CheckoutResponse{}, err
	}

	s.recordAffinity(ctx, tenantID, customerID, committed.Items)
	s.logAudit(ctx, tenantID, "checkout", "sale", committed.ID,
		fmt.Sprintf("total=%d,payment=%s,receipt=%s,degraded=%t,split_count=%d",
			committed.TotalCents, committed.PaymentMethod, committed.ReceiptNumber,
			committed.ReceiptDegraded, len(committed.PaymentSplits)))
	s.metrics.ObserveCheckout(OutcomeCommitted)

	return domain.CheckoutResponse{Sale: *committed}, nil
}

// validate runs every pre-write check in order and returns the sale to write.
// Line prices come from the cart; the catalog is only read for stock.
func (s *Service) validate(ctx context.Context, tenantID string, c *cart.Cart, disposition domain.PaymentDisposition, customerID string) (domain.Sale, error) {
	if c == nil || c.IsEmpty() {
		return domain.Sale{}, domain.ErrEmptyCart
	}

	lines := c.Lines()
	items := make([]domain.SaleLineItem, 0, len(lines))
	var total int64
	for _, line := range lines {
		switch line.Kind {
		case domain.KindProduct, domain.KindService:
		default:
			return domain.Sale{}, fmt.Errorf("%w: %q", domain.ErrUnknownItemKind, line.Kind)
		}
		lineTotal, err := domain.LineTotal(line.UnitPriceCents, line.Quantity)
		if err != nil {
			return domain.Sale{}, fmt.Errorf("line %s: %w", line.LineID, err)
		}
		if total, err = domain.AddCents(total, lineTotal); err != nil {
			return domain.Sale{}, fmt.Errorf("sale total: %w", err)
		}
		items = append(items, domain.SaleLineItem{
			ItemID:         line.ItemID,
			Name:           line.Name,
			Kind:           line.Kind,
			Quantity:       line.Quantity,
			UnitPriceCents: line.UnitPriceCents,
			LineTotalCents: lineTotal,
		})
	}

	method := normalizeMethod(disposition.Method)
	switch method {
	case domain.PaymentCash, domain.PaymentMobileMoney, domain.PaymentCredit, domain.PaymentSplit:
	default:
		return domain.Sale{}, fmt.Errorf("%w: %q", domain.ErrUnsupportedPayment, disposition.Method)
	}

	var splits []domain.PaymentSplitEntry
	if method == domain.PaymentSplit {
		var err error
		if splits, err = validateSplits(disposition.Splits, total); err != nil {
			return domain.Sale{}, err
		}
	}

	if method == domain.PaymentCredit && customerID == "" {
		return domain.Sale{}, domain.ErrCustomerRequired
	}

	if !s.allowBackorder {
		if err := s.checkStock(ctx, tenantID, c.ProductQuantities()); err != nil {
			return domain.Sale{}, err
		}
	}

	if method == domain.PaymentCredit {
		account, err := s.repo.GetCreditAccount(ctx, tenantID, customerID)
		if err != nil {
			if errors.Is(err, store.ErrNotFound) {
				return domain.Sale{}, fmt.Errorf("customer %s: %w", customerID, store.ErrNotFound)
			}
			return domain.Sale{}, err
		}
		if account.AvailableCents() < total {
			return domain.Sale{}, &domain.InsufficientCreditError{
				CustomerID:     customerID,
				RequiredCents:  total,
				AvailableCents: account.AvailableCents(),
			}
		}
	}

	status := domain.PaymentStatusPaid
	if method == domain.PaymentCredit {
		status = domain.PaymentStatusUnpaid
	}

	return domain.Sale{
		TenantID:      tenantID,
		CustomerID:    customerID,
		TotalCents:    total,
		PaymentMethod: method,
		PaymentStatus: status,
		OrderStatus:   domain.OrderStatusCompleted,
		Items:         items,
		PaymentSplits: splits,
	}, nil
}

func validateSplits(raw []domain.PaymentSplitEntry, total int64) ([]domain.PaymentSplitEntry, error) {
	if len(raw) < 2 {
		return nil, fmt.Errorf("%w: at least two splits required", domain.ErrPaymentSplitMismatch)
	}

	splits := make([]domain.PaymentSplitEntry, 0, len(raw))
	var provided int64
	for _, split := range raw {
		method := normalizeMethod(split.Method)
		if !isTenderMethod(method) {
			return nil, fmt.Errorf("%w: unsupported split method %q", domain.ErrPaymentSplitMismatch, split.Method)
		}
		if split.AmountCents < 1 {
			return nil, fmt.Errorf("%w: split amounts must be positive", domain.ErrPaymentSplitMismatch)
		}
		if split.AmountCents > total {
			return nil, fmt.Errorf("%w: split of %d exceeds sale total %d", domain.ErrPaymentSplitMismatch, split.AmountCents, total)
		}
		next, err := domain.AddCents(provided, split.AmountCents)
		if err != nil {
			return nil, fmt.Errorf("%w: %w", domain.ErrPaymentSplitMismatch, err)
		}
		provided = next
		splits = append(splits, domain.PaymentSplitEntry{
			Method:      method,
			AmountCents: split.AmountCents,
			Reference:   strings.TrimSpace(split.Reference),
		})
	}
	if provided != total {
		return nil, &domain.PaymentSplitMismatchError{ExpectedCents: total, ProvidedCents: provided}
	}
	return splits, nil
}

func (s *Service) checkStock(ctx context.Context, tenantID string, requested map[string]int) error {
	if len(requested) == 0 {
		return nil
	}
	ids := make([]string, 0, len(requested))
	for id := range requested {
		ids = append(ids, id)
	}
	items, err := s.repo.GetCatalogItems(ctx, tenantID, ids)
	if err != nil {
		return err
	}

	for _, id := range ids {
		item, ok := items[id]
		if !ok {
			return fmt.Errorf("%w: item %s unavailable", store.ErrInvalidTransaction, id)
		}
		if item.StockQty < requested[id] {
			return &domain.InsufficientStockError{
				ItemID:    id,
				Name:      item.Name,
				Requested: requested[id],
				Available: item.StockQty,
			}
		}
	}
	return nil
}

// recordAffinity is best effort: the sale is already committed.
func (s *Service) recordAffinity(ctx context.Context, tenantID string, customerID string, items []domain.SaleLineItem) {
	if customerID == "" {
		return
	}
	seen := make(map[string]struct{}, len(items))
	ids := make([]string, 0, len(items))
	for _, item := range items {
		if _, ok := seen[item.ItemID]; ok {
			continue
		}
		seen[item.ItemID] = struct{}{}
		ids = append(ids, item.ItemID)
	}

	if err := s.repo.IncrementAffinity(ctx, tenantID, customerID, ids); err != nil {
		s.logger.Warn("affinity update failed",
			slog.String("tenant_id", tenantID),
			slog.String("customer_id", customerID),
			slog.Any("error", err))
		return
	}
	if err := s.favorites.Invalidate(ctx, tenantID, customerID); err != nil {
		s.logger.Warn("favorites cache invalidation failed",
			slog.String("tenant_id", tenantID),
			slog.String("customer_id", customerID),
			slog.Any("error", err))
	}
}

// buildCart resolves request lines against the live catalog. Overriding a
// product price needs an admin; services accept an override only when the
// catalog marks them custom-priceable.
func (s *Service) buildCart(ctx context.Context, tenantID string, lines []domain.CheckoutLine) (*cart.Cart, error) {
	if len(lines) == 0 {
		return nil, domain.ErrEmptyCart
	}

	ids := make([]string, 0, len(lines))
	for _, line := range lines {
		ids = append(ids, strings.TrimSpace(line.ItemID))
	}
	items, err := s.repo.GetCatalogItems(ctx, tenantID, ids)
	if err != nil {
		return nil, err
	}

	c := cart.New()
	for _, line := range lines {
		if line.Quantity < 1 {
			return nil, fmt.Errorf("%w: quantity must be at least 1", store.ErrInvalidTransaction)
		}
		item, ok := items[strings.TrimSpace(line.ItemID)]
		if !ok {
			return nil, fmt.Errorf("%w: item %s unavailable", store.ErrInvalidTransaction, line.ItemID)
		}
		if line.UnitPriceCents != nil && item.Kind == domain.KindProduct {
			if err := requireAdmin(ctx); err != nil {
				return nil, fmt.Errorf("price override on %s: %w", item.Name, err)
			}
		}
		if _, err := c.Add(item, line.Quantity, line.UnitPriceCents); err != nil {
			return nil, err
		}
	}
	if c.IsEmpty() {
		return nil, domain.ErrEmptyCart
	}
	return c, nil
}
