// Package pricing resolves the unit price charged for each sale line.
//
// The resolver is deliberately small: the catalog price is the single source
// of truth, and overrides enter through the resolver so that every price
// decision goes through one place.
package pricing

import (
	"github.com/shopspring/decimal"

	"github.com/davinic7/tienda2-sub000/internal/domain"
)

// Resolver picks the unit price for a product within a sale.
type Resolver interface {
	UnitPrice(product domain.Product, quantity int) decimal.Decimal
}

// CatalogResolver charges the catalog price as-is.
type CatalogResolver struct{}

func (CatalogResolver) UnitPrice(product domain.Product, _ int) decimal.Decimal {
	return product.Price
}

// Line computes the subtotal for one resolved sale line.
func Line(productID string, quantity int, unitPrice decimal.Decimal) domain.SaleLine {
	return domain.SaleLine{
		ProductID: productID,
		Quantity:  quantity,
		UnitPrice: unitPrice,
		Subtotal:  unitPrice.Mul(decimal.NewFromInt(int64(quantity))),
	}
}

// Total sums the subtotals of the resolved lines.
func Total(lines []domain.SaleLine) decimal.Decimal {
	total := decimal.Zero
	for _, line := range lines {
		total = total.Add(line.Subtotal)
	}
	return total
}
