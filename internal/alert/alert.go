// Package alert delivers stock threshold events. Delivery is best effort and
// never affects the transaction that produced the event.
package alert

import (
	"context"
	"encoding/json"
	"errors"

	redis "github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"posledger/internal/domain"
)

type Notifier interface {
	Notify(ctx context.Context, event domain.StockAlert) error
}

type NoopNotifier struct{}

func (NoopNotifier) Notify(_ context.Context, _ domain.StockAlert) error {
	return nil
}

type LogNotifier struct {
	logger *zap.Logger
}

func NewLogNotifier(logger *zap.Logger) *LogNotifier {
	return &LogNotifier{logger: logger}
}

func (n *LogNotifier) Notify(_ context.Context, event domain.StockAlert) error {
	n.logger.Warn("stock threshold crossed",
		zap.String("product_id", event.ProductID),
		zap.String("product_name", event.ProductName),
		zap.Int("new_stock", event.NewStock),
		zap.String("crossed_threshold", string(event.CrossedThreshold)),
		zap.String("ref_id", event.RefID),
	)
	return nil
}

// RedisNotifier publishes events as JSON on a pub/sub channel.
type RedisNotifier struct {
	client  redis.UniversalClient
	channel string
}

func NewRedisNotifier(client redis.UniversalClient, channel string) *RedisNotifier {
	return &RedisNotifier{client: client, channel: channel}
}

func (n *RedisNotifier) Notify(ctx context.Context, event domain.StockAlert) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return err
	}
	return n.client.Publish(ctx, n.channel, payload).Err()
}

// Multi fans an event out to every notifier and joins their errors.
type Multi []Notifier

func (m Multi) Notify(ctx context.Context, event domain.StockAlert) error {
	var errs []error
	for _, n := range m {
		if err := n.Notify(ctx, event); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
