package notify

import (
	"context"
	"encoding/json"

	redis "github.com/redis/go-redis/v9"

	"github.com/davinic7/tienda2-sub000/internal/domain"
)

const (
	channelSales  = "pos.sales"
	channelStock  = "pos.stock"
	channelPrices = "pos.prices"
)

// RedisNotifier publishes events to redis pub/sub channels, one channel per
// event kind.
type RedisNotifier struct {
	client *redis.Client
}

func NewRedisNotifier(addr string, password string, db int) *RedisNotifier {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})

	return &RedisNotifier{client: client}
}

func (n *RedisNotifier) Ping(ctx context.Context) error {
	return n.client.Ping(ctx).Err()
}

func (n *RedisNotifier) Close() error {
	return n.client.Close()
}

func (n *RedisNotifier) SaleCreated(ctx context.Context, event domain.SaleCreatedEvent) error {
	return n.publish(ctx, channelSales, event)
}

func (n *RedisNotifier) StockLow(ctx context.Context, event domain.StockLowEvent) error {
	return n.publish(ctx, channelStock, event)
}

func (n *RedisNotifier) PriceChanged(ctx context.Context, event domain.PriceChangedEvent) error {
	return n.publish(ctx, channelPrices, event)
}

func (n *RedisNotifier) publish(ctx context.Context, channel string, event any) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return err
	}
	return n.client.Publish(ctx, channel, payload).Err()
}
