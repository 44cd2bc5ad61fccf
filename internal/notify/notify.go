// Package notify is the outbound event boundary. The service emits domain
// events after a sale or catalog change commits; delivery is best effort and
// never affects the committed state.
package notify

import (
	"context"

	"github.com/davinic7/tienda2-sub000/internal/domain"
)

type Notifier interface {
	SaleCreated(ctx context.Context, event domain.SaleCreatedEvent) error
	StockLow(ctx context.Context, event domain.StockLowEvent) error
	PriceChanged(ctx context.Context, event domain.PriceChangedEvent) error
}

// Noop drops every event. Used in tests and when no broker is configured.
type Noop struct{}

func (Noop) SaleCreated(context.Context, domain.SaleCreatedEvent) error { return nil }

func (Noop) StockLow(context.Context, domain.StockLowEvent) error { return nil }

func (Noop) PriceChanged(context.Context, domain.PriceChangedEvent) error { return nil }
