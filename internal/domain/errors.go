package domain

import (
	"errors"
	"fmt"
)

var (
	ErrEmptyCart            = errors.New("cart is empty")
	ErrInsufficientStock    = errors.New("insufficient stock")
	ErrInsufficientCredit   = errors.New("insufficient credit")
	ErrPaymentSplitMismatch = errors.New("payment split mismatch")
	ErrAllocatorUnavailable = errors.New("receipt allocator unavailable")
	ErrPartialCommit        = errors.New("partial commit failure")

	ErrUnsupportedPayment  = errors.New("unsupported payment method")
	ErrCustomerRequired    = errors.New("customer required")
	ErrUnknownItemKind     = errors.New("unknown catalog item kind")
	ErrPriceNotOverridable = errors.New("price is not overridable for this item")
	ErrLayawayNotActive    = errors.New("layaway plan is not active")
	ErrLayawayOverpayment  = errors.New("installment exceeds outstanding balance")
	ErrInvalidAmount       = errors.New("amount must be positive")
)

type InsufficientStockError struct {
	ItemID    string
	Name      string
	Requested int
	Available int
}

func (e *InsufficientStockError) Error() string {
	name := e.Name
	if name == "" {
		name = e.ItemID
	}
	if e.Available <= 0 {
		return fmt.Sprintf("%s is out of stock (requested %d)", name, e.Requested)
	}
	return fmt.Sprintf("only %d in stock for %s (requested %d)", e.Available, name, e.Requested)
}

func (e *InsufficientStockError) Is(target error) bool { return target == ErrInsufficientStock }

type InsufficientCreditError struct {
	CustomerID     string
	RequiredCents  int64
	AvailableCents int64
}

func (e *InsufficientCreditError) Error() string {
	return fmt.Sprintf("customer credit limit exceeded by %d (required %d, available %d)",
		e.RequiredCents-e.AvailableCents, e.RequiredCents, e.AvailableCents)
}

func (e *InsufficientCreditError) Is(target error) bool { return target == ErrInsufficientCredit }

type PaymentSplitMismatchError struct {
	ExpectedCents int64
	ProvidedCents int64
}

func (e *PaymentSplitMismatchError) Error() string {
	return fmt.Sprintf("payment splits total %d but sale total is %d", e.ProvidedCents, e.ExpectedCents)
}

func (e *PaymentSplitMismatchError) Is(target error) bool { return target == ErrPaymentSplitMismatch }

type AllocatorUnavailableError struct {
	TenantID string
	Attempts int
	Err      error
}

func (e *AllocatorUnavailableError) Error() string {
	return fmt.Sprintf("receipt allocator unavailable for tenant %s after %d attempts: %v", e.TenantID, e.Attempts, e.Err)
}

func (e *AllocatorUnavailableError) Is(target error) bool { return target == ErrAllocatorUnavailable }

func (e *AllocatorUnavailableError) Unwrap() error { return e.Err }

// PartialCommitError reports a failure after the sale record was written.
// Compensated is true when every earlier write was rolled back or undone.
type PartialCommitError struct {
	SaleID      string
	Step        string
	Compensated bool
	Err         error
}

func (e *PartialCommitError) Error() string {
	state := "rolled back"
	if !e.Compensated {
		state = "compensation incomplete"
	}
	return fmt.Sprintf("sale %s failed at %s (%s): %v", e.SaleID, e.Step, state, e.Err)
}

func (e *PartialCommitError) Is(target error) bool { return target == ErrPartialCommit }

func (e *PartialCommitError) Unwrap() error { return e.Err }
