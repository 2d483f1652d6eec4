package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"kasirinaja/posledger/internal/cart"
	"kasirinaja/posledger/internal/domain"
	"kasirinaja/posledger/internal/store"
	"kasirinaja/posledger/internal/xid"
)

// OpenLayaway reserves a cart against installments. The lines are copied by
// value and the deposit becomes the first payment. Stock and credit are not
// touched.
func (s *Service) OpenLayaway(ctx context.Context, c *cart.Cart, customerID string, depositCents int64, depositMethod string, installmentCount int, dueDate *time.Time) (domain.LayawayPlan, error) {
	tenantID := s.tenantID(ctx)
	customerID = strings.TrimSpace(customerID)

	if c == nil || c.IsEmpty() {
		return domain.LayawayPlan{}, domain.ErrEmptyCart
	}
	if customerID == "" {
		return domain.LayawayPlan{}, domain.ErrCustomerRequired
	}
	if depositCents < 1 {
		return domain.LayawayPlan{}, fmt.Errorf("deposit: %w", domain.ErrInvalidAmount)
	}
	total := c.Total()
	if depositCents >= total {
		// a plan always opens active; paying in full is a checkout
		return domain.LayawayPlan{}, fmt.Errorf("%w: deposit %d must be below total %d", domain.ErrLayawayOverpayment, depositCents, total)
	}
	depositMethod = normalizeMethod(depositMethod)
	if depositMethod == "" {
		depositMethod = domain.PaymentCash
	}
	if !isTenderMethod(depositMethod) {
		return domain.LayawayPlan{}, fmt.Errorf("%w: %q", domain.ErrUnsupportedPayment, depositMethod)
	}
	if installmentCount < 1 {
		installmentCount = 1
	}

	lines := c.Lines()
	items := make([]domain.LayawayLineItem, 0, len(lines))
	for _, line := range lines {
		items = append(items, domain.LayawayLineItem{
			ItemID:         line.ItemID,
			Name:           line.Name,
			Quantity:       line.Quantity,
			UnitPriceCents: line.UnitPriceCents,
		})
	}

	actor, _ := ActorFromContext(ctx)
	now := s.now()
	plan := domain.LayawayPlan{
		ID:               xid.New("layaway"),
		TenantID:         tenantID,
		CustomerID:       customerID,
		TotalCents:       total,
		DepositCents:     depositCents,
		InstallmentCount: installmentCount,
		DueDate:          dueDate,
		Status:           domain.LayawayStatusActive,
		CreatedAt:        now,
		Items:            items,
	}
	deposit := domain.InstallmentPayment{
		ID:          xid.New("inst"),
		AmountCents: depositCents,
		Method:      depositMethod,
		Note:        "deposit",
		RecordedBy:  actor.Username,
		PaidAt:      now,
	}
	if err := plan.ApplyPayment(deposit, now); err != nil {
		return domain.LayawayPlan{}, err
	}

	created, err := s.repo.CreateLayawayPlan(ctx, plan)
	if err != nil {
		return domain.LayawayPlan{}, err
	}

	s.logAudit(ctx, tenantID, "layaway_open", "layaway", created.ID,
		fmt.Sprintf("customer=%s,total=%d,deposit=%d,installments=%d", customerID, total, depositCents, installmentCount))
	return *created, nil
}

// OpenLayawayFromRequest resolves request lines against the catalog the same
// way Checkout does, then opens the plan.
func (s *Service) OpenLayawayFromRequest(ctx context.Context, req domain.LayawayOpenRequest) (domain.LayawayResponse, error) {
	var dueDate *time.Time
	if raw := strings.TrimSpace(req.DueDate); raw != "" {
		parsed, err := time.Parse("2006-01-02", raw)
		if err != nil {
			return domain.LayawayResponse{}, fmt.Errorf("%w: due_date must be YYYY-MM-DD", store.ErrInvalidTransaction)
		}
		dueDate = &parsed
	}

	c, err := s.buildCart(ctx, s.tenantID(ctx), req.Lines)
	if err != nil {
		return domain.LayawayResponse{}, err
	}

	plan, err := s.OpenLayaway(ctx, c, req.CustomerID, req.DepositCents, req.DepositMethod, req.InstallmentCount, dueDate)
	if err != nil {
		return domain.LayawayResponse{}, err
	}
	return domain.LayawayResponse{Plan: plan}, nil
}

// RecordInstallment appends a payment to the plan's ledger. The plan moves to
// completed when the ledger sums to the total.
func (s *Service) RecordInstallment(ctx context.Context, planID string, amountCents int64, method string, note string) (domain.LayawayPlan, error) {
	tenantID := s.tenantID(ctx)
	planID = strings.TrimSpace(planID)
	if planID == "" {
		return domain.LayawayPlan{}, store.ErrInvalidTransaction
	}
	if amountCents < 1 {
		return domain.LayawayPlan{}, domain.ErrInvalidAmount
	}
	method = normalizeMethod(method)
	if !isTenderMethod(method) {
		return domain.LayawayPlan{}, fmt.Errorf("%w: %q", domain.ErrUnsupportedPayment, method)
	}

	actor, _ := ActorFromContext(ctx)
	updated, err := s.repo.AppendInstallment(ctx, tenantID, planID, domain.InstallmentPayment{
		ID:          xid.New("inst"),
		AmountCents: amountCents,
		Method:      method,
		Note:        strings.TrimSpace(note),
		RecordedBy:  actor.Username,
		PaidAt:      s.now(),
	})
	if err != nil {
		return domain.LayawayPlan{}, err
	}

	s.logAudit(ctx, tenantID, "layaway_installment", "layaway", updated.ID,
		fmt.Sprintf("amount=%d,method=%s,paid=%d,status=%s", amountCents, method, updated.AmountPaidCents, updated.Status))
	return *updated, nil
}

func (s *Service) CancelLayaway(ctx context.Context, planID string) (domain.LayawayPlan, error) {
	if err := requireAdmin(ctx); err != nil {
		return domain.LayawayPlan{}, err
	}
	tenantID := s.tenantID(ctx)

	updated, err := s.repo.CancelLayawayPlan(ctx, tenantID, strings.TrimSpace(planID), s.now())
	if err != nil {
		return domain.LayawayPlan{}, err
	}

	s.logAudit(ctx, tenantID, "layaway_cancel", "layaway", updated.ID,
		fmt.Sprintf("paid=%d,total=%d", updated.AmountPaidCents, updated.TotalCents))
	return *updated, nil
}

func (s *Service) GetLayaway(ctx context.Context, planID string) (domain.LayawayPlan, error) {
	plan, err := s.repo.GetLayawayPlan(ctx, s.tenantID(ctx), strings.TrimSpace(planID))
	if err != nil {
		return domain.LayawayPlan{}, err
	}
	return *plan, nil
}
