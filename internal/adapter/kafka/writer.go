package kafka

import (
	"context"
	"log/slog"
	"slices"

	"github.com/couchcryptid/obs-decoder-service/internal/config"
	"github.com/couchcryptid/obs-decoder-service/internal/domain"
	kafkago "github.com/segmentio/kafka-go"
)

// Writer produces decoded records to the sink topic and fault reports to the
// review topic. It implements pipeline.BatchLoader.
type Writer struct {
	writer       *kafkago.Writer
	defaultTopic string
	logger       *slog.Logger
}

// NewWriter creates a Kafka producer. Events without a topic go to the
// configured sink topic.
func NewWriter(cfg *config.Config, logger *slog.Logger) *Writer {
	w := &kafkago.Writer{
		Addr:         kafkago.TCP(cfg.KafkaBrokers...),
		Balancer:     &kafkago.Hash{},
		RequiredAcks: kafkago.RequireAll,
	}
	return &Writer{writer: w, defaultTopic: cfg.KafkaSinkTopic, logger: logger}
}

// LoadBatch publishes output events in a single WriteMessages call.
func (w *Writer) LoadBatch(ctx context.Context, events []domain.OutputEvent) error {
	if len(events) == 0 {
		return nil
	}
	msgs := make([]kafkago.Message, len(events))
	for i := range events {
		msgs[i] = toMessage(events[i], w.defaultTopic)
	}
	return w.writer.WriteMessages(ctx, msgs...)
}

func (w *Writer) Close() error {
	return w.writer.Close()
}

// toMessage converts an output event into a Kafka message. Headers are
// written in key order so the same event always produces the same message.
func toMessage(ev domain.OutputEvent, defaultTopic string) kafkago.Message {
	topic := ev.Topic
	if topic == "" {
		topic = defaultTopic
	}
	keys := make([]string, 0, len(ev.Headers))
	for k := range ev.Headers {
		keys = append(keys, k)
	}
	slices.Sort(keys)

	headers := make([]kafkago.Header, len(keys))
	for i, k := range keys {
		headers[i] = kafkago.Header{Key: k, Value: []byte(ev.Headers[k])}
	}
	return kafkago.Message{
		Topic:   topic,
		Key:     ev.Key,
		Value:   ev.Value,
		Headers: headers,
	}
}
