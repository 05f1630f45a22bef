package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/couchcryptid/obs-decoder-service/internal/decode"
	"github.com/couchcryptid/obs-decoder-service/internal/domain"
	"github.com/couchcryptid/obs-decoder-service/internal/observability"
)

// DecodeTransformer implements Transformer by running each token stream
// through the rule engine. Records go to the writer's default topic and
// fault reports to the review topic.
type DecodeTransformer struct {
	engine      *decode.Engine
	reviewTopic string
	metrics     *observability.Metrics
	logger      *slog.Logger
}

func NewTransformer(engine *decode.Engine, reviewTopic string, metrics *observability.Metrics, logger *slog.Logger) *DecodeTransformer {
	return &DecodeTransformer{
		engine:      engine,
		reviewTopic: reviewTopic,
		metrics:     metrics,
		logger:      logger,
	}
}

// Decode parses and decodes one raw message. Only an unparseable payload is
// an error; decode faults, including a malformed stream, are returned as
// fault reports on the message.
func (t *DecodeTransformer) Decode(ctx context.Context, raw domain.RawMessage) (domain.DecodedMessage, error) {
	if err := ctx.Err(); err != nil {
		return domain.DecodedMessage{}, err
	}
	stream, err := domain.ParseRawMessage(raw)
	if err != nil {
		return domain.DecodedMessage{}, err
	}

	start := time.Now()
	res, err := t.engine.Decode(stream.Tokens)
	t.metrics.DecodeDuration.Observe(time.Since(start).Seconds())

	msg := domain.DecodedMessage{
		ID:           stream.ID,
		RulesVersion: res.RulesVersion,
		DecodedAt:    domain.Now(),
	}

	if err != nil {
		var f *decode.Fault
		if !errors.As(err, &f) {
			return domain.DecodedMessage{}, fmt.Errorf("decode %s: %w", stream.ID, err)
		}
		t.metrics.MalformedMessages.Inc()
		t.logger.Warn("malformed token stream", "message_id", msg.ID, "path", f.Path, "error", f.Detail)
		msg.Faults = append(msg.Faults, f.Report())
		return msg, nil
	}

	for _, sr := range res.Subsets {
		if sr.Fault != nil {
			t.metrics.SubsetFaults.WithLabelValues(string(sr.Fault.Kind)).Inc()
			t.logger.Warn("subset faulted",
				"message_id", msg.ID,
				"subset", sr.Index,
				"kind", sr.Fault.Kind,
				"code", sr.Fault.Code.String(),
				"path", sr.Fault.Path,
			)
			msg.Faults = append(msg.Faults, sr.Fault.Report())
			continue
		}
		t.metrics.SubsetsDecoded.Inc()
		msg.Records = append(msg.Records, domain.SubsetRecord{Index: sr.Index, Record: sr.Record})
	}
	return msg, nil
}

// Transform decodes a raw message and serializes its records and faults.
func (t *DecodeTransformer) Transform(ctx context.Context, raw domain.RawMessage) ([]domain.OutputEvent, error) {
	msg, err := t.Decode(ctx, raw)
	if err != nil {
		return nil, err
	}

	out := make([]domain.OutputEvent, 0, len(msg.Records)+len(msg.Faults))
	for _, rec := range msg.Records {
		ev, err := domain.SerializeRecord(msg, rec)
		if err != nil {
			return nil, err
		}
		out = append(out, ev)
	}
	for _, f := range msg.Faults {
		ev, err := domain.SerializeFault(msg, f)
		if err != nil {
			return nil, err
		}
		ev.Topic = t.reviewTopic
		out = append(out, ev)
	}
	return out, nil
}
