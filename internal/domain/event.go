package domain

import (
	"context"
	"fmt"
	"strconv"
	"time"

	json "github.com/goccy/go-json"
)

// RawMessage represents an unprocessed message from the source topic.
type RawMessage struct {
	Key       []byte
	Value     []byte
	Headers   map[string]string
	Topic     string
	Partition int
	Offset    int64
	Timestamp time.Time
	Commit    func(ctx context.Context) error
}

// SubsetRecord is a successfully decoded subset.
type SubsetRecord struct {
	Index  int                `json:"subset"`
	Record *ObservationRecord `json:"record"`
}

// FaultReport is the serializable form of a decode fault. Subset is -1 when
// the fault aborted the whole message.
type FaultReport struct {
	Kind    string             `json:"kind"`
	Code    string             `json:"code,omitempty"`
	Path    string             `json:"path,omitempty"`
	Subset  int                `json:"subset"`
	Message string             `json:"message"`
	Record  *ObservationRecord `json:"partial_record,omitempty"`
}

// DecodedMessage is the outcome of decoding one source message.
type DecodedMessage struct {
	ID           string         `json:"id"`
	RulesVersion string         `json:"rules_version"`
	DecodedAt    time.Time      `json:"decoded_at"`
	Records      []SubsetRecord `json:"records,omitempty"`
	Faults       []FaultReport  `json:"faults,omitempty"`
}

// OutputEvent is the serialized form destined for a sink topic. An empty Topic
// means the writer's default.
type OutputEvent struct {
	Topic   string
	Key     []byte
	Value   []byte
	Headers map[string]string
}

// ParseRawMessage deserializes a RawMessage's value into a token Stream. When
// the payload carries no id, one is derived from the Kafka key or position.
func ParseRawMessage(raw RawMessage) (Stream, error) {
	var s Stream
	if err := json.Unmarshal(raw.Value, &s); err != nil {
		return Stream{}, fmt.Errorf("parse raw message: %w", err)
	}
	if err := s.Validate(); err != nil {
		return Stream{}, fmt.Errorf("parse raw message: %w", err)
	}
	if s.ID == "" {
		if len(raw.Key) > 0 {
			s.ID = string(raw.Key)
		} else {
			s.ID = fmt.Sprintf("%s/%d/%d", raw.Topic, raw.Partition, raw.Offset)
		}
	}
	return s, nil
}

// SerializeRecord marshals one decoded subset for the sink topic.
func SerializeRecord(msg DecodedMessage, rec SubsetRecord) (OutputEvent, error) {
	data, err := json.Marshal(rec.Record)
	if err != nil {
		return OutputEvent{}, fmt.Errorf("serialize record %s/%d: %w", msg.ID, rec.Index, err)
	}
	return OutputEvent{
		Key:     []byte(msg.ID + "/" + strconv.Itoa(rec.Index)),
		Value:   data,
		Headers: messageHeaders(msg, rec.Index),
	}, nil
}

// SerializeFault marshals a fault report for the review topic.
func SerializeFault(msg DecodedMessage, f FaultReport) (OutputEvent, error) {
	data, err := json.Marshal(f)
	if err != nil {
		return OutputEvent{}, fmt.Errorf("serialize fault %s/%d: %w", msg.ID, f.Subset, err)
	}
	headers := messageHeaders(msg, f.Subset)
	headers["fault_kind"] = f.Kind
	return OutputEvent{
		Key:     []byte(msg.ID + "/" + strconv.Itoa(f.Subset)),
		Value:   data,
		Headers: headers,
	}, nil
}

func messageHeaders(msg DecodedMessage, subset int) map[string]string {
	return map[string]string{
		"message_id":    msg.ID,
		"subset":        strconv.Itoa(subset),
		"rules_version": msg.RulesVersion,
		"decoded_at":    msg.DecodedAt.Format(time.RFC3339),
	}
}
