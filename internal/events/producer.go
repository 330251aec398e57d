// Package events publishes a record of every detection to Kafka.
package events

import (
	"context"
	"encoding/json"
	"time"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"

	"github.com/example/maskdetect/internal/vision"
)

// DetectionEvent describes one /detect call.
type DetectionEvent struct {
	RequestID  string           `json:"request_id"`
	SHA1       string           `json:"sha1"`
	Faces      []vision.FaceBox `json:"faces,omitempty"`
	MaskStatus vision.MaskLabel `json:"mask_status,omitempty"`
	Error      string           `json:"error,omitempty"`
	Cached     bool             `json:"cached"`
	LatencyMs  float64          `json:"latency_ms"`
	CreatedAt  time.Time        `json:"created_at"`
}

// Producer publishes detection events.
type Producer interface {
	Publish(ctx context.Context, event DetectionEvent) error
	Close() error
}

// messageWriter is the part of *kafka.Writer the producer uses.
type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

type kafkaProducer struct {
	writer messageWriter
	logger *zap.Logger
}

// NewProducer returns a Kafka producer for topic, or a no-op producer when
// brokers is empty or the first broker is unreachable.
func NewProducer(ctx context.Context, brokers []string, topic string, logger *zap.Logger) Producer {
	logger = logger.Named("events")
	if len(brokers) == 0 {
		logger.Info("kafka brokers not configured, detection events disabled")
		return NoopProducer{}
	}

	dialCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	conn, err := kafka.DialContext(dialCtx, "tcp", brokers[0])
	if err != nil {
		logger.Warn("kafka connection failed, detection events disabled", zap.Error(err), zap.Strings("brokers", brokers))
		return NoopProducer{}
	}
	defer conn.Close()

	err = conn.CreateTopics(kafka.TopicConfig{Topic: topic, NumPartitions: 1, ReplicationFactor: 1})
	if err != nil {
		logger.Debug("could not create topic (might already exist)", zap.String("topic", topic), zap.Error(err))
	}

	writer := &kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Topic:        topic,
		Balancer:     &kafka.Hash{},
		BatchTimeout: 10 * time.Millisecond,
		RequiredAcks: kafka.RequireOne,
		Async:        true,
		Completion: func(messages []kafka.Message, err error) {
			if err != nil {
				logger.Warn("failed to deliver detection events", zap.Int("count", len(messages)), zap.Error(err))
			}
		},
	}

	logger.Info("kafka producer ready", zap.Strings("brokers", brokers), zap.String("topic", topic))
	return &kafkaProducer{writer: writer, logger: logger}
}

// Publish enqueues the event keyed by image hash, so repeat uploads land on
// the same partition. Delivery is asynchronous.
func (p *kafkaProducer) Publish(ctx context.Context, event DetectionEvent) error {
	msg, err := newMessage(event)
	if err != nil {
		return err
	}
	return p.writer.WriteMessages(ctx, msg)
}

func newMessage(event DetectionEvent) (kafka.Message, error) {
	value, err := json.Marshal(event)
	if err != nil {
		return kafka.Message{}, err
	}
	return kafka.Message{
		Key:   []byte(event.SHA1),
		Value: value,
		Time:  event.CreatedAt,
	}, nil
}

func (p *kafkaProducer) Close() error {
	return p.writer.Close()
}

// NoopProducer drops every event.
type NoopProducer struct{}

func (NoopProducer) Publish(context.Context, DetectionEvent) error { return nil }

func (NoopProducer) Close() error { return nil }
