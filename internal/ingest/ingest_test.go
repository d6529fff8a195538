package ingest

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"notify-realtime/internal/logging"

	"github.com/IBM/sarama"
	"github.com/IBM/sarama/mocks"
	"github.com/cenkalti/backoff/v4"
	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeReader serves a fixed set of records, then blocks until cancelled.
type fakeReader struct {
	mu        sync.Mutex
	records   []kafka.Message
	committed []int64
	closed    bool
}

func (r *fakeReader) FetchMessage(ctx context.Context) (kafka.Message, error) {
	r.mu.Lock()
	if len(r.records) > 0 {
		msg := r.records[0]
		r.records = r.records[1:]
		r.mu.Unlock()
		return msg, nil
	}
	r.mu.Unlock()
	<-ctx.Done()
	return kafka.Message{}, ctx.Err()
}

func (r *fakeReader) CommitMessages(_ context.Context, msgs ...kafka.Message) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, msg := range msgs {
		r.committed = append(r.committed, msg.Offset)
	}
	return nil
}

func (r *fakeReader) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.closed = true
	return nil
}

func (r *fakeReader) committedOffsets() []int64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]int64(nil), r.committed...)
}

type published struct {
	channel string
	event   string
	data    json.RawMessage
}

type fakePublisher struct {
	mu       sync.Mutex
	failures int
	calls    int
	events   []published
}

func (p *fakePublisher) Publish(_ context.Context, channel, event string, data interface{}) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls++
	if p.failures > 0 {
		p.failures--
		return errors.New("backplane unavailable")
	}
	p.events = append(p.events, published{channel: channel, event: event, data: data.(json.RawMessage)})
	return nil
}

func (p *fakePublisher) snapshot() []published {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]published(nil), p.events...)
}

func runConsumer(t *testing.T, reader *fakeReader, pub *fakePublisher, wantCommits int) {
	t.Helper()
	c := NewConsumer(reader, pub, logging.Discard(), nil)
	c.newBackOff = func() backoff.BackOff { return backoff.WithMaxRetries(&backoff.ZeroBackOff{}, 2) }

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- c.Run(ctx) }()

	require.Eventually(t, func() bool { return len(reader.committedOffsets()) == wantCommits }, 2*time.Second, 10*time.Millisecond)
	cancel()
	require.NoError(t, <-done)
	assert.True(t, reader.closed)
}

func TestConsumerPublishesToUserChannel(t *testing.T) {
	reader := &fakeReader{records: []kafka.Message{
		{Key: []byte("42"), Value: []byte(`{"title":"Order shipped"}`), Offset: 1},
	}}
	pub := &fakePublisher{}

	runConsumer(t, reader, pub, 1)

	events := pub.snapshot()
	require.Len(t, events, 1)
	assert.Equal(t, "private-user.42", events[0].channel)
	assert.Equal(t, EventNewNotification, events[0].event)
	assert.JSONEq(t, `{"title":"Order shipped"}`, string(events[0].data))
	assert.Equal(t, []int64{1}, reader.committedOffsets())
}

func TestConsumerDropsInvalidRecords(t *testing.T) {
	reader := &fakeReader{records: []kafka.Message{
		{Key: []byte("abc"), Value: []byte(`{}`), Offset: 1},
		{Key: []byte("-4"), Value: []byte(`{}`), Offset: 2},
		{Key: []byte("5"), Value: []byte(`not json`), Offset: 3},
		{Key: []byte("5"), Value: []byte(`{"ok":true}`), Offset: 4},
	}}
	pub := &fakePublisher{}

	runConsumer(t, reader, pub, 4)

	events := pub.snapshot()
	require.Len(t, events, 1)
	assert.Equal(t, "private-user.5", events[0].channel)
	assert.Equal(t, []int64{1, 2, 3, 4}, reader.committedOffsets())
}

func TestConsumerRetriesPublish(t *testing.T) {
	reader := &fakeReader{records: []kafka.Message{
		{Key: []byte("9"), Value: []byte(`{}`), Offset: 1},
	}}
	pub := &fakePublisher{failures: 2}

	runConsumer(t, reader, pub, 1)

	assert.Equal(t, 3, pub.calls)
	assert.Len(t, pub.snapshot(), 1)
}

func TestConsumerGivesUpAfterRetries(t *testing.T) {
	reader := &fakeReader{records: []kafka.Message{
		{Key: []byte("9"), Value: []byte(`{}`), Offset: 1},
	}}
	pub := &fakePublisher{failures: 10}

	runConsumer(t, reader, pub, 1)

	assert.Equal(t, 3, pub.calls)
	assert.Empty(t, pub.snapshot())
}

func TestParseKey(t *testing.T) {
	id, err := parseKey([]byte("17"))
	require.NoError(t, err)
	assert.Equal(t, int64(17), id)

	for _, key := range []string{"", "0", "-1", "1.5", "user-1"} {
		_, err := parseKey([]byte(key))
		assert.ErrorIs(t, err, ErrInvalidKey, key)
	}
}

func TestProducerSend(t *testing.T) {
	sp := mocks.NewSyncProducer(t, nil)
	sp.ExpectSendMessageWithCheckerFunctionAndSucceed(func(val []byte) error {
		var body map[string]string
		if err := json.Unmarshal(val, &body); err != nil {
			return err
		}
		if body["title"] != "hello" {
			return errors.New("unexpected payload")
		}
		return nil
	})

	p := NewProducerFrom(sp, "notifications")
	_, _, err := p.Send(3, map[string]string{"title": "hello"})
	require.NoError(t, err)

	_, _, err = p.Send(0, map[string]string{})
	assert.ErrorIs(t, err, ErrInvalidKey)

	require.NoError(t, p.Close())
}

func TestProducerSendError(t *testing.T) {
	sp := mocks.NewSyncProducer(t, nil)
	sp.ExpectSendMessageAndFail(sarama.ErrOutOfBrokers)

	p := NewProducerFrom(sp, "notifications")
	_, _, err := p.Send(3, map[string]string{"title": "hello"})
	assert.ErrorIs(t, err, sarama.ErrOutOfBrokers)
	require.NoError(t, p.Close())
}
