// Package cart holds one operator's pending selections before checkout.
// A Cart is not safe for concurrent use and never touches stock or storage.
package cart

import (
	"errors"
	"fmt"

	"kasirinaja/posledger/internal/domain"
)

var (
	ErrLineNotFound  = errors.New("cart line not found")
	ErrInvalidItem   = errors.New("invalid catalog item")
	ErrNegativePrice = errors.New("price must not be negative")
	ErrPriceConflict = errors.New("line already priced differently")
)

type Line struct {
	LineID          string          `json:"line_id"`
	ItemID          string          `json:"item_id"`
	Name            string          `json:"name"`
	Kind            domain.ItemKind `json:"kind"`
	Quantity        int             `json:"quantity"`
	UnitPriceCents  int64           `json:"unit_price_cents"`
	PriceOverridden bool            `json:"price_overridden"`
}

// TotalCents is safe to call on lines held by a Cart, which keeps every line
// within domain.LineTotal's bounds.
func (l Line) TotalCents() int64 {
	return l.UnitPriceCents * int64(l.Quantity)
}

type Cart struct {
	lines  []Line
	custom int
}

func New() *Cart {
	return &Cart{}
}

// Add puts quantityDelta units of item into the cart. Products and
// fixed-price services merge into the line for the same item; a service with
// an override price always gets its own line. A merged quantity that drops to
// zero or below removes the line. Overriding the price of a product already
// in the cart at a different price is rejected; the line keeps the price it
// was first added with.
func (c *Cart) Add(item domain.CatalogItem, quantityDelta int, overridePrice *int64) (Line, error) {
	if item.ID == "" {
		return Line{}, ErrInvalidItem
	}
	if overridePrice != nil && *overridePrice < 0 {
		return Line{}, ErrNegativePrice
	}
	if quantityDelta > domain.MaxLineQuantity || quantityDelta < -domain.MaxLineQuantity {
		return Line{}, fmt.Errorf("%w: quantity %d", domain.ErrAmountOutOfRange, quantityDelta)
	}

	switch item.Kind {
	case domain.KindProduct:
		return c.merge(item, quantityDelta, overridePrice)
	case domain.KindService:
		if overridePrice == nil {
			return c.merge(item, quantityDelta, nil)
		}
		if !item.CustomPriceable {
			return Line{}, fmt.Errorf("%w: %s", domain.ErrPriceNotOverridable, item.Name)
		}
		if quantityDelta < 1 {
			return Line{}, nil
		}
		line := Line{
			LineID:          fmt.Sprintf("%s#%d", item.ID, c.custom+1),
			ItemID:          item.ID,
			Name:            item.Name,
			Kind:            item.Kind,
			Quantity:        quantityDelta,
			UnitPriceCents:  *overridePrice,
			PriceOverridden: true,
		}
		if err := c.fits(-1, line); err != nil {
			return Line{}, err
		}
		c.custom++
		c.lines = append(c.lines, line)
		return line, nil
	default:
		return Line{}, fmt.Errorf("%w: %q", domain.ErrUnknownItemKind, item.Kind)
	}
}

func (c *Cart) merge(item domain.CatalogItem, quantityDelta int, overridePrice *int64) (Line, error) {
	idx := c.indexOf(item.ID)
	if idx < 0 {
		if quantityDelta < 1 {
			return Line{}, nil
		}
		line := Line{
			LineID:         item.ID,
			ItemID:         item.ID,
			Name:           item.Name,
			Kind:           item.Kind,
			Quantity:       quantityDelta,
			UnitPriceCents: item.PriceCents,
		}
		if overridePrice != nil {
			line.UnitPriceCents = *overridePrice
			line.PriceOverridden = true
		}
		if err := c.fits(-1, line); err != nil {
			return Line{}, err
		}
		c.lines = append(c.lines, line)
		return line, nil
	}

	line := c.lines[idx]
	if overridePrice != nil && *overridePrice != line.UnitPriceCents {
		return Line{}, fmt.Errorf("%w: %s is at %d", ErrPriceConflict, line.Name, line.UnitPriceCents)
	}
	line.Quantity += quantityDelta
	if line.Quantity < 1 {
		c.removeAt(idx)
		return Line{}, nil
	}
	if err := c.fits(idx, line); err != nil {
		return Line{}, err
	}
	c.lines[idx] = line
	return line, nil
}

// fits reports whether the cart stays within domain.MaxAmountCents with
// candidate placed at idx, or appended when idx is negative.
func (c *Cart) fits(idx int, candidate Line) error {
	total, err := domain.LineTotal(candidate.UnitPriceCents, candidate.Quantity)
	if err != nil {
		return err
	}
	for i, line := range c.lines {
		if i == idx {
			continue
		}
		if total, err = domain.AddCents(total, line.TotalCents()); err != nil {
			return err
		}
	}
	return nil
}

func (c *Cart) UpdateQuantity(lineID string, delta int) error {
	idx := c.indexOf(lineID)
	if idx < 0 {
		return ErrLineNotFound
	}
	if delta > domain.MaxLineQuantity || delta < -domain.MaxLineQuantity {
		return fmt.Errorf("%w: quantity %d", domain.ErrAmountOutOfRange, delta)
	}
	line := c.lines[idx]
	line.Quantity += delta
	if line.Quantity < 1 {
		c.removeAt(idx)
		return nil
	}
	if err := c.fits(idx, line); err != nil {
		return err
	}
	c.lines[idx] = line
	return nil
}

func (c *Cart) Remove(lineID string) error {
	idx := c.indexOf(lineID)
	if idx < 0 {
		return ErrLineNotFound
	}
	c.removeAt(idx)
	return nil
}

// Total never overflows: every mutation keeps the sum within
// domain.MaxAmountCents.
func (c *Cart) Total() int64 {
	var total int64
	for _, line := range c.lines {
		total += line.TotalCents()
	}
	return total
}

// Lines returns a copy so callers cannot mutate the cart behind its back.
func (c *Cart) Lines() []Line {
	out := make([]Line, len(c.lines))
	copy(out, c.lines)
	return out
}

func (c *Cart) Len() int {
	return len(c.lines)
}

func (c *Cart) IsEmpty() bool {
	return len(c.lines) == 0
}

// ProductQuantities sums requested units per product item.
func (c *Cart) ProductQuantities() map[string]int {
	qty := make(map[string]int)
	for _, line := range c.lines {
		if line.Kind == domain.KindProduct {
			qty[line.ItemID] += line.Quantity
		}
	}
	return qty
}

func (c *Cart) indexOf(lineID string) int {
	for i, line := range c.lines {
		if line.LineID == lineID {
			return i
		}
	}
	return -1
}

func (c *Cart) removeAt(idx int) {
	c.lines = append(c.lines[:idx], c.lines[idx+1:]...)
}
