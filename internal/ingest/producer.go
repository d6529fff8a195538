package ingest

import (
	"encoding/json"
	"fmt"
	"strconv"

	"notify-realtime/internal/config"

	"github.com/IBM/sarama"
)

// Producer writes notification records keyed by user id. Hash
// partitioning keeps one user's notifications in order.
type Producer struct {
	producer sarama.SyncProducer
	topic    string
}

// NewProducer dials the brokers with a synchronous sarama producer.
func NewProducer(cfg config.KafkaConfig, clientID string) (*Producer, error) {
	sc := sarama.NewConfig()
	sc.Producer.RequiredAcks = sarama.WaitForAll
	sc.Producer.Retry.Max = 5
	sc.Producer.Return.Successes = true
	sc.Producer.Compression = sarama.CompressionSnappy
	sc.Producer.Partitioner = sarama.NewHashPartitioner
	sc.Producer.MaxMessageBytes = 1000000
	sc.Version = sarama.V2_0_0_0
	sc.ClientID = clientID

	sp, err := sarama.NewSyncProducer(cfg.Brokers, sc)
	if err != nil {
		return nil, fmt.Errorf("failed to create kafka producer: %w", err)
	}
	return NewProducerFrom(sp, cfg.Topic), nil
}

func NewProducerFrom(sp sarama.SyncProducer, topic string) *Producer {
	return &Producer{producer: sp, topic: topic}
}

// Send publishes payload for userID and returns the partition and offset
// the record landed on.
func (p *Producer) Send(userID int64, payload interface{}) (int32, int64, error) {
	if userID <= 0 {
		return 0, 0, fmt.Errorf("%w: %d", ErrInvalidKey, userID)
	}
	value, err := json.Marshal(payload)
	if err != nil {
		return 0, 0, fmt.Errorf("failed to marshal notification: %w", err)
	}

	return p.producer.SendMessage(&sarama.ProducerMessage{
		Topic: p.topic,
		Key:   sarama.StringEncoder(strconv.FormatInt(userID, 10)),
		Value: sarama.ByteEncoder(value),
	})
}

func (p *Producer) Close() error {
	return p.producer.Close()
}
