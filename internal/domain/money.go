package domain

import (
	"errors"
	"fmt"
)

// Upper bounds for anything that ends up in a sale or ledger. Line and cart
// totals are capped at MaxAmountCents, which keeps every sum of two amounts
// well inside int64.
const (
	MaxLineQuantity       = 100_000
	MaxAmountCents  int64 = 100_000_000_000_000
)

var ErrAmountOutOfRange = errors.New("amount out of range")

// LineTotal multiplies a unit price by a quantity without wrapping.
func LineTotal(unitPriceCents int64, quantity int) (int64, error) {
	if unitPriceCents < 0 || unitPriceCents > MaxAmountCents {
		return 0, fmt.Errorf("%w: unit price %d", ErrAmountOutOfRange, unitPriceCents)
	}
	if quantity < 0 || quantity > MaxLineQuantity {
		return 0, fmt.Errorf("%w: quantity %d", ErrAmountOutOfRange, quantity)
	}
	if quantity > 0 && unitPriceCents > MaxAmountCents/int64(quantity) {
		return 0, fmt.Errorf("%w: %d x %d", ErrAmountOutOfRange, unitPriceCents, quantity)
	}
	return unitPriceCents * int64(quantity), nil
}

// AddCents sums two non-negative amounts, failing once the result passes
// MaxAmountCents.
func AddCents(a, b int64) (int64, error) {
	if a < 0 || b < 0 || a > MaxAmountCents || b > MaxAmountCents-a {
		return 0, fmt.Errorf("%w: %d + %d", ErrAmountOutOfRange, a, b)
	}
	return a + b, nil
}
