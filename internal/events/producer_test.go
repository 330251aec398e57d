package events

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"

	"github.com/example/maskdetect/internal/vision"
)

type recordingWriter struct {
	messages []kafka.Message
	err      error
	closed   bool
}

func (w *recordingWriter) WriteMessages(_ context.Context, msgs ...kafka.Message) error {
	if w.err != nil {
		return w.err
	}
	w.messages = append(w.messages, msgs...)
	return nil
}

func (w *recordingWriter) Close() error {
	w.closed = true
	return nil
}

func TestNewProducerWithoutBrokersIsNoop(t *testing.T) {
	p := NewProducer(context.Background(), nil, "mask-detections", zap.NewNop())

	if _, ok := p.(NoopProducer); !ok {
		t.Fatalf("expected NoopProducer, got %T", p)
	}
	if err := p.Publish(context.Background(), DetectionEvent{RequestID: "req-1"}); err != nil {
		t.Fatalf("expected noop publish to succeed, got %v", err)
	}
	if err := p.Close(); err != nil {
		t.Fatalf("expected noop close to succeed, got %v", err)
	}
}

func TestPublishKeysByImageHash(t *testing.T) {
	writer := &recordingWriter{}
	p := &kafkaProducer{writer: writer, logger: zap.NewNop()}
	createdAt := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	event := DetectionEvent{
		RequestID:  "req-42",
		SHA1:       "da39a3ee5e6b4b0d3255bfef95601890afd80709",
		Faces:      []vision.FaceBox{{X: 1, Y: 2, W: 3, H: 4}},
		MaskStatus: vision.LabelNoMask,
		LatencyMs:  12.5,
		CreatedAt:  createdAt,
	}

	if err := p.Publish(context.Background(), event); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(writer.messages) != 1 {
		t.Fatalf("expected 1 message, got %d", len(writer.messages))
	}

	msg := writer.messages[0]
	if string(msg.Key) != event.SHA1 {
		t.Fatalf("expected key %s, got %s", event.SHA1, msg.Key)
	}
	if !msg.Time.Equal(createdAt) {
		t.Fatalf("expected time %v, got %v", createdAt, msg.Time)
	}

	var decoded map[string]any
	if err := json.Unmarshal(msg.Value, &decoded); err != nil {
		t.Fatalf("value is not json: %v", err)
	}
	if decoded["request_id"] != "req-42" || decoded["mask_status"] != "No Mask" {
		t.Fatalf("unexpected payload %s", msg.Value)
	}
	if _, ok := decoded["error"]; ok {
		t.Fatalf("expected error to be omitted on success, got %s", msg.Value)
	}

	if err := p.Close(); err != nil || !writer.closed {
		t.Fatalf("expected writer to be closed, err=%v", err)
	}
}

func TestPublishReturnsWriterError(t *testing.T) {
	p := &kafkaProducer{writer: &recordingWriter{err: errors.New("queue full")}, logger: zap.NewNop()}

	if err := p.Publish(context.Background(), DetectionEvent{SHA1: "abc"}); err == nil {
		t.Fatal("expected writer error to be returned")
	}
}
