package domain

import "time"

// ApplyPayment appends payment to an active plan and re-derives the paid
// amount from the ledger. The plan completes once it is paid in full.
func (p *LayawayPlan) ApplyPayment(payment InstallmentPayment, at time.Time) error {
	if p.Status != LayawayStatusActive {
		return ErrLayawayNotActive
	}
	if payment.AmountCents < 1 {
		return ErrInvalidAmount
	}
	if payment.AmountCents > p.OutstandingCents() {
		return ErrLayawayOverpayment
	}

	p.Payments = append(p.Payments, payment)
	p.AmountPaidCents = SumPayments(p.Payments)
	if p.AmountPaidCents == p.TotalCents {
		p.Status = LayawayStatusCompleted
		closed := at
		p.ClosedAt = &closed
	}
	return nil
}

func (p *LayawayPlan) Cancel(at time.Time) error {
	if p.Status != LayawayStatusActive {
		return ErrLayawayNotActive
	}
	p.Status = LayawayStatusCancelled
	closed := at
	p.ClosedAt = &closed
	return nil
}

func (p LayawayPlan) Clone() LayawayPlan {
	dup := p
	dup.Items = append([]LayawayLineItem(nil), p.Items...)
	dup.Payments = append([]InstallmentPayment(nil), p.Payments...)
	if p.DueDate != nil {
		due := *p.DueDate
		dup.DueDate = &due
	}
	if p.ClosedAt != nil {
		closed := *p.ClosedAt
		dup.ClosedAt = &closed
	}
	return dup
}
