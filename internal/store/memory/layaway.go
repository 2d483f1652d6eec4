package memory

import (
	"context"
	"time"

	"kasirinaja/posledger/internal/domain"
	"kasirinaja/posledger/internal/store"
	"kasirinaja/posledger/internal/xid"
)

func (s *Store) CreateLayawayPlan(_ context.Context, plan domain.LayawayPlan) (*domain.LayawayPlan, error) {
	if plan.TenantID == "" || plan.CustomerID == "" || len(plan.Items) == 0 || plan.TotalCents < 1 {
		return nil, store.ErrInvalidTransaction
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if plan.ID == "" {
		plan.ID = xid.New("layaway")
	}
	if _, exists := s.layaways[plan.ID]; exists {
		return nil, store.ErrInvalidTransaction
	}
	if plan.CreatedAt.IsZero() {
		plan.CreatedAt = time.Now().UTC()
	}
	if plan.Status == "" {
		plan.Status = domain.LayawayStatusActive
	}
	plan.AmountPaidCents = domain.SumPayments(plan.Payments)

	stored := plan.Clone()
	s.layaways[plan.ID] = &stored
	out := stored.Clone()
	return &out, nil
}

func (s *Store) GetLayawayPlan(_ context.Context, tenantID string, planID string) (*domain.LayawayPlan, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	plan, ok := s.layaways[planID]
	if !ok || plan.TenantID != tenantID {
		return nil, store.ErrNotFound
	}
	out := plan.Clone()
	return &out, nil
}

func (s *Store) AppendInstallment(_ context.Context, tenantID string, planID string, payment domain.InstallmentPayment) (*domain.LayawayPlan, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	plan, ok := s.layaways[planID]
	if !ok || plan.TenantID != tenantID {
		return nil, store.ErrNotFound
	}
	if payment.ID == "" {
		payment.ID = xid.New("inst")
	}
	if payment.PaidAt.IsZero() {
		payment.PaidAt = time.Now().UTC()
	}

	updated := plan.Clone()
	if err := updated.ApplyPayment(payment, payment.PaidAt); err != nil {
		return nil, err
	}
	s.layaways[planID] = &updated
	out := updated.Clone()
	return &out, nil
}

func (s *Store) CancelLayawayPlan(_ context.Context, tenantID string, planID string, at time.Time) (*domain.LayawayPlan, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	plan, ok := s.layaways[planID]
	if !ok || plan.TenantID != tenantID {
		return nil, store.ErrNotFound
	}
	updated := plan.Clone()
	if err := updated.Cancel(at); err != nil {
		return nil, err
	}
	s.layaways[planID] = &updated
	out := updated.Clone()
	return &out, nil
}
