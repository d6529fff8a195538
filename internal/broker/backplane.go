package broker

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/redis/go-redis/v9"
)

// Delivery is one event published to a channel.
type Delivery struct {
	Channel string          `json:"channel"`
	Event   string          `json:"event"`
	Data    json.RawMessage `json:"data"`
}

// Backplane carries deliveries between broker instances. Subscribe blocks
// and hands every delivery to fn until ctx is cancelled.
type Backplane interface {
	Publish(ctx context.Context, d Delivery) error
	Subscribe(ctx context.Context, fn func(Delivery)) error
	Close() error
}

// LocalBackplane delivers within the process. It is used when no Redis URL
// is configured and in tests.
type LocalBackplane struct {
	deliveries chan Delivery
	closeOnce  sync.Once
	closed     chan struct{}
}

func NewLocalBackplane(buffer int) *LocalBackplane {
	if buffer <= 0 {
		buffer = 1024
	}
	return &LocalBackplane{
		deliveries: make(chan Delivery, buffer),
		closed:     make(chan struct{}),
	}
}

func (b *LocalBackplane) Publish(ctx context.Context, d Delivery) error {
	select {
	case <-b.closed:
		return ErrBackplaneClosed
	default:
	}
	select {
	case b.deliveries <- d:
		return nil
	case <-b.closed:
		return ErrBackplaneClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (b *LocalBackplane) Subscribe(ctx context.Context, fn func(Delivery)) error {
	for {
		select {
		case d := <-b.deliveries:
			fn(d)
		case <-b.closed:
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

func (b *LocalBackplane) Close() error {
	b.closeOnce.Do(func() { close(b.closed) })
	return nil
}

const redisChannelPrefix = "realtime:"

// RedisBackplane fans deliveries out through Redis PubSub so that every
// broker instance reaches its own sockets.
type RedisBackplane struct {
	client *redis.Client
	log    *slog.Logger
}

func NewRedisBackplane(client *redis.Client, log *slog.Logger) *RedisBackplane {
	if log == nil {
		log = slog.Default()
	}
	return &RedisBackplane{client: client, log: log.With("component", "redis-backplane")}
}

func (b *RedisBackplane) Publish(ctx context.Context, d Delivery) error {
	data, err := json.Marshal(d)
	if err != nil {
		return fmt.Errorf("failed to marshal delivery: %w", err)
	}
	if err := b.client.Publish(ctx, redisChannelPrefix+d.Channel, data).Err(); err != nil {
		b.log.Error("Failed to publish delivery", "channel", d.Channel, "error", err)
		return err
	}
	return nil
}

func (b *RedisBackplane) Subscribe(ctx context.Context, fn func(Delivery)) error {
	pubsub := b.client.PSubscribe(ctx, redisChannelPrefix+"*")
	defer pubsub.Close()

	if _, err := pubsub.Receive(ctx); err != nil {
		return fmt.Errorf("failed to subscribe to backplane: %w", err)
	}
	b.log.Debug("Pattern subscribed to backplane", "pattern", redisChannelPrefix+"*")

	messages := pubsub.Channel()
	for {
		select {
		case msg, ok := <-messages:
			if !ok {
				return nil
			}
			d, err := decodeDelivery(msg.Channel, msg.Payload)
			if err != nil {
				b.log.Warn("Dropping malformed delivery", "channel", msg.Channel, "error", err)
				continue
			}
			fn(d)
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

func (b *RedisBackplane) Close() error {
	return b.client.Close()
}

func decodeDelivery(redisChannel, payload string) (Delivery, error) {
	var d Delivery
	if err := json.Unmarshal([]byte(payload), &d); err != nil {
		return Delivery{}, err
	}
	if d.Channel == "" {
		d.Channel = strings.TrimPrefix(redisChannel, redisChannelPrefix)
	}
	if d.Event == "" {
		return Delivery{}, fmt.Errorf("delivery without event")
	}
	return d, nil
}
