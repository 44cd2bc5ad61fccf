package pricing

import (
	"testing"

	"github.com/shopspring/decimal"

	"github.com/davinic7/tienda2-sub000/internal/domain"
)

func TestCatalogResolverUsesCatalogPrice(t *testing.T) {
	product := domain.Product{ID: "prd-x", Price: decimal.RequireFromString("2.45")}

	got := CatalogResolver{}.UnitPrice(product, 7)
	if !got.Equal(product.Price) {
		t.Fatalf("expected %s, got %s", product.Price, got)
	}
}

func TestLineSubtotal(t *testing.T) {
	line := Line("prd-x", 3, decimal.RequireFromString("1.25"))

	if !line.Subtotal.Equal(decimal.RequireFromString("3.75")) {
		t.Fatalf("expected subtotal 3.75, got %s", line.Subtotal)
	}
}

func TestTotalSumsLines(t *testing.T) {
	lines := []domain.SaleLine{
		Line("prd-a", 2, decimal.RequireFromString("0.10")),
		Line("prd-b", 1, decimal.RequireFromString("0.20")),
	}

	if total := Total(lines); !total.Equal(decimal.RequireFromString("0.40")) {
		t.Fatalf("expected total 0.40, got %s", total)
	}

	if total := Total(nil); !total.IsZero() {
		t.Fatalf("expected zero total for no lines, got %s", total)
	}
}
