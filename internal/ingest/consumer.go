package ingest

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"notify-realtime/internal/config"
	"notify-realtime/internal/metrics"
	"notify-realtime/internal/protocol"

	"github.com/cenkalti/backoff/v4"
	"github.com/segmentio/kafka-go"
)

// EventNewNotification is the event name clients listen for on their
// private-user channel.
const EventNewNotification = "new-notification"

const publishRetries = 5

var ErrInvalidKey = errors.New("record key is not a positive user id")

// Publisher delivers an event to a channel. *broker.Hub implements it.
type Publisher interface {
	Publish(ctx context.Context, channel, event string, data interface{}) error
}

// Reader is the subset of *kafka.Reader the consumer uses.
type Reader interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// NewReader builds a consumer-group reader for the notification topic.
func NewReader(cfg config.KafkaConfig) *kafka.Reader {
	return kafka.NewReader(kafka.ReaderConfig{
		Brokers:        cfg.Brokers,
		Topic:          cfg.Topic,
		GroupID:        cfg.GroupID,
		MinBytes:       1,
		MaxBytes:       10e6,
		CommitInterval: 0,
	})
}

// Consumer turns notification records into new-notification events. The
// record key is the decimal user id and the value the JSON payload.
type Consumer struct {
	reader     Reader
	publisher  Publisher
	log        *slog.Logger
	metrics    *metrics.Collector
	newBackOff func() backoff.BackOff
}

func NewConsumer(reader Reader, publisher Publisher, log *slog.Logger, m *metrics.Collector) *Consumer {
	if log == nil {
		log = slog.Default()
	}
	return &Consumer{
		reader:     reader,
		publisher:  publisher,
		log:        log.With("component", "ingest"),
		metrics:    m,
		newBackOff: publishBackOff,
	}
}

func publishBackOff() backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 200 * time.Millisecond
	b.MaxInterval = 5 * time.Second
	return backoff.WithMaxRetries(b, publishRetries)
}

// Run consumes until ctx is cancelled. Records are committed once handled,
// including the ones that had to be dropped.
func (c *Consumer) Run(ctx context.Context) error {
	defer c.reader.Close()

	for {
		msg, err := c.reader.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("fetch message: %w", err)
		}

		c.handle(ctx, msg)

		if err := c.reader.CommitMessages(ctx, msg); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("commit message: %w", err)
		}
	}
}

func (c *Consumer) handle(ctx context.Context, msg kafka.Message) {
	log := c.log.With("partition", msg.Partition, "offset", msg.Offset)

	userID, err := parseKey(msg.Key)
	if err != nil {
		log.Warn("Dropping notification record", "key", string(msg.Key), "error", err)
		c.metrics.Ingested("invalid")
		return
	}
	if !json.Valid(msg.Value) {
		log.Warn("Dropping notification record with invalid JSON", "userID", userID)
		c.metrics.Ingested("invalid")
		return
	}

	channel := protocol.PrivateUserChannel(userID)
	publish := func() error {
		return c.publisher.Publish(ctx, channel, EventNewNotification, json.RawMessage(msg.Value))
	}
	if err := backoff.Retry(publish, backoff.WithContext(c.newBackOff(), ctx)); err != nil {
		log.Error("Failed to publish notification", "userID", userID, "error", err)
		c.metrics.Ingested("failed")
		return
	}

	log.Debug("Published notification", "userID", userID, "channel", channel)
	c.metrics.Ingested("published")
}

func parseKey(key []byte) (int64, error) {
	userID, err := strconv.ParseInt(string(key), 10, 64)
	if err != nil || userID <= 0 {
		return 0, fmt.Errorf("%w: %q", ErrInvalidKey, key)
	}
	return userID, nil
}
