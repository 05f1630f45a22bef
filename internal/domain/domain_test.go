package domain_test

import (
	"math"
	"testing"
	"time"

	"github.com/couchcryptid/obs-decoder-service/internal/domain"
	json "github.com/goccy/go-json"
	"github.com/google/go-cmp/cmp"
	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValue_JSONForms(t *testing.T) {
	cases := []struct {
		name string
		in   string
		want domain.Value
	}{
		{"missing", `null`, domain.Missing()},
		{"number", `12.5`, domain.Number(12.5)},
		{"text", `"7KET"`, domain.Text("7KET")},
		{"enum", `{"code": 3}`, domain.Enum(3)},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			var v domain.Value
			require.NoError(t, json.Unmarshal([]byte(tc.in), &v))
			assert.True(t, tc.want.Equal(v), "got %s", v)

			out, err := json.Marshal(v)
			require.NoError(t, err)
			assert.JSONEq(t, tc.in, string(out))
		})
	}
}

func TestValue_UnmarshalErrors(t *testing.T) {
	var v domain.Value
	assert.Error(t, json.Unmarshal([]byte(`{"name": "x"}`), &v))
	assert.Error(t, json.Unmarshal([]byte(`true`), &v))
}

func TestValue_NonFiniteNumberMarshalsAsNull(t *testing.T) {
	out, err := json.Marshal(domain.Number(math.NaN()))
	require.NoError(t, err)
	assert.Equal(t, "null", string(out))
}

func TestValue_KeySharedByNumberAndEnum(t *testing.T) {
	assert.Equal(t, "3", domain.Number(3).Key())
	assert.Equal(t, "3", domain.Enum(3).Key())
	assert.Equal(t, "0.25", domain.Number(0.25).Key())
	assert.False(t, domain.Number(3).Equal(domain.Enum(3)))
	assert.Empty(t, domain.Missing().Key())
}

func TestValue_Accessors(t *testing.T) {
	f, ok := domain.Enum(7).AsFloat()
	assert.True(t, ok)
	assert.InDelta(t, 7.0, f, 0)

	_, ok = domain.Text("x").AsFloat()
	assert.False(t, ok)

	s, ok := domain.Text("x").AsText()
	assert.True(t, ok)
	assert.Equal(t, "x", s)

	n, ok := domain.Enum(2).AsEnum()
	assert.True(t, ok)
	assert.Equal(t, int64(2), n)

	assert.Equal(t, "<missing>", domain.Missing().String())
	assert.Equal(t, `"x"`, domain.Text("x").String())
	assert.Equal(t, "code 2", domain.Enum(2).String())
}

func TestToken_RawValueAndString(t *testing.T) {
	tok := domain.Token{Op: domain.OpValue, Code: 22043}
	assert.True(t, tok.RawValue().IsMissing())
	assert.Equal(t, "value 022043=<missing>", tok.String())
	assert.Equal(t, "enter 306004", domain.Enter(306004).String())
	assert.Equal(t, "subset_start", domain.SubsetStart().String())
}

func TestStream_Validate(t *testing.T) {
	ok := domain.Stream{Tokens: []domain.Token{
		domain.MessageStart(nil),
		domain.SubsetStart(),
		domain.Element(1011, domain.Text("7KET")),
		domain.SubsetEnd(),
		domain.MessageEnd(),
	}}
	require.NoError(t, ok.Validate())

	badOp := domain.Stream{Tokens: []domain.Token{{Op: "jump"}}}
	err := badOp.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown op")

	noCode := domain.Stream{Tokens: []domain.Token{{Op: domain.OpEnter}}}
	err = noCode.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "descriptor code")
}

func TestParseRawMessage(t *testing.T) {
	payload := `{"id": "IOSC01 RJTD 170700", "tokens": [
		{"op": "message_start", "metadata": {"GTSHeader": "IOSC01 RJTD 170700"}},
		{"op": "subset_start"},
		{"op": "value", "code": 1011, "value": "7KET"},
		{"op": "value", "code": 7062, "value": 4, "metadata": {"Units": "m"}},
		{"op": "value", "code": 2036, "value": {"code": 1}},
		{"op": "value", "code": 22043, "value": null},
		{"op": "subset_end"},
		{"op": "message_end"}
	]}`

	s, err := domain.ParseRawMessage(domain.RawMessage{Key: []byte("k"), Value: []byte(payload)})
	require.NoError(t, err)
	assert.Equal(t, "IOSC01 RJTD 170700", s.ID)
	require.Len(t, s.Tokens, 8)

	header, ok := s.Tokens[0].Metadata["GTSHeader"]
	require.True(t, ok)
	assert.True(t, domain.Text("IOSC01 RJTD 170700").Equal(header))
	assert.True(t, domain.Number(4).Equal(s.Tokens[3].RawValue()))
	assert.True(t, domain.Text("m").Equal(s.Tokens[3].Metadata["Units"]))
	assert.True(t, domain.Enum(1).Equal(s.Tokens[4].RawValue()))
	assert.True(t, s.Tokens[5].RawValue().IsMissing())
}

func TestParseRawMessage_IDFallback(t *testing.T) {
	payload := []byte(`{"tokens": [{"op": "message_start"}, {"op": "message_end"}]}`)

	s, err := domain.ParseRawMessage(domain.RawMessage{Key: []byte("key-1"), Value: payload})
	require.NoError(t, err)
	assert.Equal(t, "key-1", s.ID)

	s, err = domain.ParseRawMessage(domain.RawMessage{Value: payload, Topic: "bufr-token-streams", Partition: 2, Offset: 42})
	require.NoError(t, err)
	assert.Equal(t, "bufr-token-streams/2/42", s.ID)
}

func TestParseRawMessage_Invalid(t *testing.T) {
	_, err := domain.ParseRawMessage(domain.RawMessage{Value: []byte("not json")})
	assert.Error(t, err)

	_, err = domain.ParseRawMessage(domain.RawMessage{Value: []byte(`{"tokens": [{"op": "value"}]}`)})
	assert.Error(t, err)
}

func TestSerializeRecord(t *testing.T) {
	decodedAt := time.Date(2024, time.April, 26, 15, 10, 0, 0, time.UTC)
	rec := domain.NewObservationRecord()
	rec.SetMetadata("WMOPlatformID", domain.Text("7KET"))
	rec.Variables = append(rec.Variables, domain.Assignment{Name: "AirTemperature", Value: domain.Number(285.2)})

	msg := domain.DecodedMessage{ID: "msg-1", RulesVersion: "abc123", DecodedAt: decodedAt}
	out, err := domain.SerializeRecord(msg, domain.SubsetRecord{Index: 2, Record: rec})
	require.NoError(t, err)

	assert.Equal(t, []byte("msg-1/2"), out.Key)
	assert.Empty(t, out.Topic)
	want := map[string]string{
		"message_id":    "msg-1",
		"subset":        "2",
		"rules_version": "abc123",
		"decoded_at":    "2024-04-26T15:10:00Z",
	}
	if diff := cmp.Diff(want, out.Headers); diff != "" {
		t.Fatalf("headers mismatch (-want +got):\n%s", diff)
	}
	assert.JSONEq(t, `{
		"metadata": {"WMOPlatformID": "7KET"},
		"variables": [{"name": "AirTemperature", "value": 285.2}]
	}`, string(out.Value))
}

func TestObservationRecord_NestedSubrecordsJSON(t *testing.T) {
	rec := domain.NewObservationRecord()
	rec.SetMetadata("CallSign", domain.Text("7KET"))
	inner := &domain.Subrecord{Type: "SENSORS"}
	inner.Variables = []domain.Assignment{{Name: "WaveHeight", Value: domain.Number(1.5)}}
	level := &domain.Subrecord{Type: "PROFILE", Direction: &domain.Direction{Coordinate: "Depth", Steps: []int{1}}}
	level.Coordinates = []domain.Assignment{{Name: "Depth", Value: domain.Number(10)}}
	level.Subrecords = []*domain.Subrecord{inner}
	rec.Subrecords = []*domain.Subrecord{level}

	data, err := json.Marshal(rec)
	require.NoError(t, err)
	assert.JSONEq(t, `{
		"metadata": {"CallSign": "7KET"},
		"subrecords": [{
			"type": "PROFILE",
			"direction": {"coordinate": "Depth", "steps": [1]},
			"coordinates": [{"name": "Depth", "value": 10}],
			"subrecords": [{
				"type": "SENSORS",
				"variables": [{"name": "WaveHeight", "value": 1.5}]
			}]
		}]
	}`, string(data))

	var back domain.ObservationRecord
	require.NoError(t, json.Unmarshal(data, &back))
	if diff := cmp.Diff(rec, &back); diff != "" {
		t.Fatalf("round trip mismatch (-want +got):\n%s", diff)
	}

	// Fault reports carry partial records through the same codec.
	_, err = json.Marshal(domain.FaultReport{Kind: "raise_triggered", Record: rec})
	require.NoError(t, err)
}

func TestSerializeFault(t *testing.T) {
	msg := domain.DecodedMessage{ID: "msg-1", RulesVersion: "abc123", DecodedAt: time.Unix(0, 0).UTC()}
	f := domain.FaultReport{Kind: "raise_triggered", Code: "008080", Path: "S#1>306004", Subset: 1, Message: "boom"}

	out, err := domain.SerializeFault(msg, f)
	require.NoError(t, err)
	assert.Equal(t, []byte("msg-1/1"), out.Key)
	assert.Equal(t, "raise_triggered", out.Headers["fault_kind"])
	assert.Equal(t, "1", out.Headers["subset"])
	assert.JSONEq(t, `{
		"kind": "raise_triggered",
		"code": "008080",
		"path": "S#1>306004",
		"subset": 1,
		"message": "boom"
	}`, string(out.Value))
}

func TestObservationRecord_CloneIsDeep(t *testing.T) {
	rec := domain.NewObservationRecord()
	rec.SetMetadata("GTSHeader", domain.Text("a"))
	sub := &domain.Subrecord{Type: "PROFILE", Direction: &domain.Direction{Coordinate: "Depth", Steps: []int{1}}}
	sub.Coordinates = []domain.Assignment{{Name: "Depth", Value: domain.Number(4), Metadata: map[string]domain.Value{"Units": domain.Text("m")}}}
	rec.Subrecords = append(rec.Subrecords, sub)

	cp := rec.Clone()
	cp.SetMetadata("GTSHeader", domain.Text("b"))
	cp.Subrecords[0].Direction.Steps[0] = -1
	cp.Subrecords[0].Coordinates[0].Metadata["Units"] = domain.Text("ft")

	header, _ := rec.MetadataValue("GTSHeader")
	assert.True(t, domain.Text("a").Equal(header))
	assert.Equal(t, []int{1}, rec.Subrecords[0].Direction.Steps)
	depth, ok := rec.Subrecords[0].Coordinate("Depth")
	require.True(t, ok)
	assert.True(t, domain.Text("m").Equal(depth.Metadata["Units"]))

	var nilRec *domain.ObservationRecord
	assert.Nil(t, nilRec.Clone())
}

func TestContainer_Lookups(t *testing.T) {
	var c domain.Container
	c.Variables = []domain.Assignment{{Name: "Salinity", Value: domain.Number(35)}}
	c.Subrecords = []*domain.Subrecord{{Type: "PROFILE"}, {Type: "SENSORS"}, {Type: "PROFILE"}}

	assert.True(t, c.Has("Salinity"))
	assert.False(t, c.Has("Depth"))
	assert.Len(t, c.SubrecordsOfType("PROFILE"), 2)
	_, ok := c.MetadataValue("missing")
	assert.False(t, ok)
}

func TestClock_FakeAndReset(t *testing.T) {
	fake := clockwork.NewFakeClockAt(time.Date(2024, time.April, 26, 15, 10, 0, 0, time.FixedZone("CDT", -5*3600)))
	domain.SetClock(fake)
	t.Cleanup(func() { domain.SetClock(nil) })

	now := domain.Now()
	assert.Equal(t, time.UTC, now.Location())
	assert.Equal(t, time.Date(2024, time.April, 26, 20, 10, 0, 0, time.UTC), now)

	fake.Advance(time.Minute)
	assert.Equal(t, time.Date(2024, time.April, 26, 20, 11, 0, 0, time.UTC), domain.Now())
}
