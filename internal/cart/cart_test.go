package cart

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"kasirinaja/posledger/internal/domain"
)

var (
	productA = domain.CatalogItem{ID: "A", Name: "Product A", PriceCents: 1000, Kind: domain.KindProduct, StockQty: 5}
	serviceB = domain.CatalogItem{ID: "B", Name: "Service B", PriceCents: 4000, Kind: domain.KindService, CustomPriceable: true}
	serviceC = domain.CatalogItem{ID: "C", Name: "Service C", PriceCents: 2500, Kind: domain.KindService}
)

func price(v int64) *int64 { return &v }

func TestAddSameProductMergesLines(t *testing.T) {
	c := New()

	_, err := c.Add(productA, 1, nil)
	require.NoError(t, err)
	line, err := c.Add(productA, 1, nil)
	require.NoError(t, err)

	require.Equal(t, 1, c.Len())
	assert.Equal(t, 2, line.Quantity)
	assert.Equal(t, int64(2000), c.Total())
}

func TestAddCustomPricedServiceNeverMerges(t *testing.T) {
	c := New()

	first, err := c.Add(serviceB, 1, price(5000))
	require.NoError(t, err)
	second, err := c.Add(serviceB, 1, price(5000))
	require.NoError(t, err)

	require.Equal(t, 2, c.Len())
	assert.NotEqual(t, first.LineID, second.LineID)
	assert.True(t, first.PriceOverridden)
	assert.Equal(t, int64(10000), c.Total())
}

func TestAddServiceWithoutOverrideMerges(t *testing.T) {
	c := New()

	_, err := c.Add(serviceC, 1, nil)
	require.NoError(t, err)
	_, err = c.Add(serviceC, 2, nil)
	require.NoError(t, err)

	require.Equal(t, 1, c.Len())
	assert.Equal(t, 3, c.Lines()[0].Quantity)
}

func TestAddOverrideOnFixedPriceServiceRejected(t *testing.T) {
	c := New()

	_, err := c.Add(serviceC, 1, price(100))
	require.ErrorIs(t, err, domain.ErrPriceNotOverridable)
	assert.True(t, c.IsEmpty())
}

func TestAddRejectsUnknownKind(t *testing.T) {
	c := New()

	_, err := c.Add(domain.CatalogItem{ID: "X", Kind: "bundle"}, 1, nil)
	require.ErrorIs(t, err, domain.ErrUnknownItemKind)
}

func TestAddNegativeDeltaRemovesLine(t *testing.T) {
	c := New()

	_, err := c.Add(productA, 2, nil)
	require.NoError(t, err)
	_, err = c.Add(productA, -2, nil)
	require.NoError(t, err)

	assert.True(t, c.IsEmpty())
}

func TestAddNonPositiveQuantityOnNewLineIsNoop(t *testing.T) {
	c := New()

	_, err := c.Add(productA, 0, nil)
	require.NoError(t, err)
	assert.True(t, c.IsEmpty())
}

func TestPriceIsCopiedAtAddTime(t *testing.T) {
	c := New()
	item := productA

	_, err := c.Add(item, 1, nil)
	require.NoError(t, err)
	item.PriceCents = 99999

	assert.Equal(t, int64(1000), c.Total())
}

func TestUpdateQuantityAndRemove(t *testing.T) {
	c := New()
	line, err := c.Add(productA, 3, nil)
	require.NoError(t, err)

	require.NoError(t, c.UpdateQuantity(line.LineID, -1))
	assert.Equal(t, 2, c.Lines()[0].Quantity)

	require.NoError(t, c.UpdateQuantity(line.LineID, -5))
	assert.True(t, c.IsEmpty())

	assert.ErrorIs(t, c.UpdateQuantity("missing", 1), ErrLineNotFound)
	assert.ErrorIs(t, c.Remove("missing"), ErrLineNotFound)

	custom, err := c.Add(serviceB, 1, price(5000))
	require.NoError(t, err)
	require.NoError(t, c.Remove(custom.LineID))
	assert.Zero(t, c.Total())
}

func TestLinesReturnsCopy(t *testing.T) {
	c := New()
	_, err := c.Add(productA, 1, nil)
	require.NoError(t, err)

	lines := c.Lines()
	lines[0].Quantity = 50

	assert.Equal(t, int64(1000), c.Total())
}

func TestProductQuantitiesSkipsServices(t *testing.T) {
	c := New()
	_, _ = c.Add(productA, 2, nil)
	_, _ = c.Add(serviceB, 1, price(5000))

	assert.Equal(t, map[string]int{"A": 2}, c.ProductQuantities())
}

func TestAddRejectsLineTotalOverflow(t *testing.T) {
	c := New()
	_, err := c.Add(productA, 1, nil)
	require.NoError(t, err)

	_, err = c.Add(serviceB, 2, price(1<<62))
	require.ErrorIs(t, err, domain.ErrAmountOutOfRange)

	require.Equal(t, 1, c.Len())
	assert.Equal(t, int64(1000), c.Total())
}

func TestAddRejectsQuantityAboveLimit(t *testing.T) {
	c := New()

	_, err := c.Add(productA, domain.MaxLineQuantity+1, nil)
	require.ErrorIs(t, err, domain.ErrAmountOutOfRange)
	assert.True(t, c.IsEmpty())

	line, err := c.Add(productA, domain.MaxLineQuantity, nil)
	require.NoError(t, err)
	_, err = c.Add(productA, 1, nil)
	require.ErrorIs(t, err, domain.ErrAmountOutOfRange)
	assert.ErrorIs(t, c.UpdateQuantity(line.LineID, 1), domain.ErrAmountOutOfRange)
	assert.Equal(t, domain.MaxLineQuantity, c.Lines()[0].Quantity)
}

func TestAddRejectsCartTotalAboveLimit(t *testing.T) {
	c := New()
	half := domain.MaxAmountCents / 2

	_, err := c.Add(serviceB, 1, price(half))
	require.NoError(t, err)
	_, err = c.Add(serviceB, 1, price(half))
	require.NoError(t, err)
	_, err = c.Add(serviceB, 1, price(1))
	require.ErrorIs(t, err, domain.ErrAmountOutOfRange)

	assert.Equal(t, 2, c.Len())
	assert.Equal(t, 2*half, c.Total())
}

func TestOverrideOnExistingProductKeepsAddTimePrice(t *testing.T) {
	c := New()
	_, err := c.Add(productA, 2, price(800))
	require.NoError(t, err)

	_, err = c.Add(productA, 1, price(500))
	require.ErrorIs(t, err, ErrPriceConflict)
	assert.Equal(t, 2, c.Lines()[0].Quantity)
	assert.Equal(t, int64(1600), c.Total())

	line, err := c.Add(productA, 1, price(800))
	require.NoError(t, err)
	assert.Equal(t, 3, line.Quantity)

	line, err = c.Add(productA, 1, nil)
	require.NoError(t, err)
	assert.Equal(t, int64(800), line.UnitPriceCents)
}
