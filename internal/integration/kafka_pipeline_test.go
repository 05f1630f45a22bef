//go:build integration

package integration_test

import (
	"context"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/couchcryptid/obs-decoder-service/internal/adapter/kafka"
	"github.com/couchcryptid/obs-decoder-service/internal/config"
	"github.com/couchcryptid/obs-decoder-service/internal/decode"
	"github.com/couchcryptid/obs-decoder-service/internal/domain"
	"github.com/couchcryptid/obs-decoder-service/internal/observability"
	"github.com/couchcryptid/obs-decoder-service/internal/pipeline"
	"github.com/couchcryptid/obs-decoder-service/internal/rules"
	json "github.com/goccy/go-json"
	kafkago "github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	testSourceTopic = "test-source"
	testSinkTopic   = "test-sink"
	testReviewTopic = "test-review"
)

// outputMessage holds a message read from the sink or review topic.
type outputMessage struct {
	Value   []byte
	Key     string
	Headers map[string]string
}

// readOutput reads a single message from a consumer.
func readOutput(ctx context.Context, t *testing.T, consumer *kafkago.Reader) outputMessage {
	t.Helper()
	readCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	msg, err := consumer.ReadMessage(readCtx)
	require.NoError(t, err, "read from output topic")

	headers := make(map[string]string, len(msg.Headers))
	for _, h := range msg.Headers {
		headers[h.Key] = string(h.Value)
	}
	return outputMessage{Value: msg.Value, Key: string(msg.Key), Headers: headers}
}

func newConsumer(t *testing.T, broker, topic string) *kafkago.Reader {
	t.Helper()
	consumer := kafkago.NewReader(kafkago.ReaderConfig{
		Brokers:     []string{broker},
		Topic:       topic,
		GroupID:     fmt.Sprintf("test-consumer-%s-%d", topic, time.Now().UnixNano()),
		StartOffset: kafkago.FirstOffset,
	})
	t.Cleanup(func() { _ = consumer.Close() })
	return consumer
}

func testConfig(broker, group string) *config.Config {
	return &config.Config{
		KafkaBrokers:       []string{broker},
		KafkaSourceTopic:   testSourceTopic,
		KafkaSinkTopic:     testSinkTopic,
		KafkaReviewTopic:   testReviewTopic,
		KafkaGroupID:       fmt.Sprintf("%s-%d", group, time.Now().UnixNano()),
		BatchFlushInterval: 5 * time.Second,
	}
}

func newTransformer(t *testing.T) *pipeline.DecodeTransformer {
	t.Helper()
	tbl, err := rules.Load(filepath.Join("..", "..", "configs", "bufr_map.yaml"))
	require.NoError(t, err)
	engine := decode.New(tbl, discardLogger())
	return pipeline.NewTransformer(engine, testReviewTopic, observability.NewMetricsForTesting(), discardLogger())
}

// TestKafkaReaderWriter verifies the adapter layer: kafka.Reader (Extractor) and
// kafka.Writer (Loader) round-trip a token stream through Kafka and route
// records and faults to their topics.
func TestKafkaReaderWriter(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 90*time.Second)
	defer cancel()

	broker := startKafka(ctx, t)
	for _, topic := range []string{testSourceTopic, testSinkTopic, testReviewTopic} {
		createTopic(t, broker, topic)
	}
	cfg := testConfig(broker, "test-reader")

	payload := loadStream(t, "moored_buoy.json")
	producer := &kafkago.Writer{Addr: kafkago.TCP(broker), Topic: testSourceTopic}
	t.Cleanup(func() { _ = producer.Close() })
	require.NoError(t, producer.WriteMessages(ctx, kafkago.Message{Key: []byte("test-key"), Value: payload}))

	// Retry because the consumer group may need time to rebalance before
	// partitions are assigned and messages become available.
	reader := kafka.NewReader(cfg, discardLogger())
	t.Cleanup(func() { _ = reader.Close() })

	var batch []domain.RawMessage
	for {
		var err error
		batch, err = reader.ExtractBatch(ctx, 1)
		require.NoError(t, err)
		if len(batch) > 0 {
			break
		}
		if ctx.Err() != nil {
			t.Fatal("timed out waiting for message from source topic")
		}
	}
	require.Len(t, batch, 1)
	raw := batch[0]
	assert.Equal(t, []byte("test-key"), raw.Key)
	assert.Equal(t, payload, raw.Value)
	assert.Equal(t, testSourceTopic, raw.Topic)
	require.NotNil(t, raw.Commit, "commit callback should be set")
	require.NoError(t, raw.Commit(ctx))

	events, err := newTransformer(t).Transform(ctx, raw)
	require.NoError(t, err)
	require.Len(t, events, 2)

	writer := kafka.NewWriter(cfg, discardLogger())
	t.Cleanup(func() { _ = writer.Close() })
	require.NoError(t, writer.LoadBatch(ctx, events))

	rec := readOutput(ctx, t, newConsumer(t, broker, testSinkTopic))
	assert.Equal(t, "IOBX01 RJTD 170700/0", rec.Key)
	assert.Equal(t, "IOBX01 RJTD 170700", rec.Headers["message_id"])
	_, err = time.Parse(time.RFC3339, rec.Headers["decoded_at"])
	assert.NoError(t, err, "decoded_at should be valid RFC3339")

	var record domain.ObservationRecord
	require.NoError(t, json.Unmarshal(rec.Value, &record))
	callSign, ok := record.MetadataValue("CallSign")
	require.True(t, ok)
	assert.True(t, domain.Text("7KET").Equal(callSign))
	assert.Len(t, record.SubrecordsOfType("PROFILE"), 2)

	review := readOutput(ctx, t, newConsumer(t, broker, testReviewTopic))
	assert.Equal(t, "raise_triggered", review.Headers["fault_kind"])
	var report domain.FaultReport
	require.NoError(t, json.Unmarshal(review.Value, &report))
	assert.Equal(t, 1, report.Subset)
	assert.Equal(t, "008080", report.Code)
}

// TestPipelineEndToEnd wires the full pipeline (Reader → DecodeTransformer →
// Writer) with real Kafka, including a poison pill that must be skipped.
func TestPipelineEndToEnd(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	broker := startKafka(ctx, t)
	for _, topic := range []string{testSourceTopic, testSinkTopic, testReviewTopic} {
		createTopic(t, broker, topic)
	}
	cfg := testConfig(broker, "test-pipeline")

	payload := loadStream(t, "moored_buoy.json")
	const copies = 5

	producer := &kafkago.Writer{Addr: kafkago.TCP(broker), Topic: testSourceTopic}
	t.Cleanup(func() { _ = producer.Close() })

	msgs := []kafkago.Message{{Key: []byte("bad"), Value: []byte("not-json{{{")}}
	for i := range copies {
		msgs = append(msgs, kafkago.Message{Key: []byte(fmt.Sprintf("buoy-%d", i)), Value: payload})
	}
	require.NoError(t, producer.WriteMessages(ctx, msgs...))

	reader := kafka.NewReader(cfg, discardLogger())
	t.Cleanup(func() { _ = reader.Close() })
	writer := kafka.NewWriter(cfg, discardLogger())
	t.Cleanup(func() { _ = writer.Close() })

	metrics := observability.NewMetricsForTesting()
	p := pipeline.New(reader, newTransformer(t), writer, discardLogger(), metrics, 50, 4)

	pipelineCtx, pipelineCancel := context.WithCancel(ctx)
	errCh := make(chan error, 1)
	go func() { errCh <- p.Run(pipelineCtx) }()

	sink := newConsumer(t, broker, testSinkTopic)
	for range copies {
		rec := readOutput(ctx, t, sink)
		assert.Equal(t, "0", rec.Headers["subset"])
		assert.Len(t, rec.Headers["rules_version"], 12)
	}

	review := newConsumer(t, broker, testReviewTopic)
	for range copies {
		f := readOutput(ctx, t, review)
		assert.Equal(t, "raise_triggered", f.Headers["fault_kind"])
	}

	// The poison pill produced nothing.
	readCtx, readCancel := context.WithTimeout(ctx, 5*time.Second)
	_, err := sink.ReadMessage(readCtx)
	readCancel()
	assert.Error(t, err, "expected no further message on sink topic")

	pipelineCancel()
	require.NoError(t, <-errCh)
	assert.NoError(t, p.CheckReadiness(ctx))
}
