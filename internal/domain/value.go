package domain

import (
	"bytes"
	"errors"
	"fmt"
	"math"
	"strconv"

	json "github.com/goccy/go-json"
)

// ValueKind tags the variant held by a Value.
type ValueKind uint8

const (
	ValueMissing ValueKind = iota
	ValueNumber
	ValueText
	ValueEnum
)

func (k ValueKind) String() string {
	switch k {
	case ValueMissing:
		return "missing"
	case ValueNumber:
		return "number"
	case ValueText:
		return "text"
	case ValueEnum:
		return "enum"
	default:
		return fmt.Sprintf("ValueKind(%d)", uint8(k))
	}
}

// Value is a raw or decoded element value. The zero Value is missing.
type Value struct {
	kind ValueKind
	num  float64
	text string
	enum int64
}

// Missing returns the missing value.
func Missing() Value { return Value{} }

// Number returns a numeric value.
func Number(f float64) Value { return Value{kind: ValueNumber, num: f} }

// Text returns a character value.
func Text(s string) Value { return Value{kind: ValueText, text: s} }

// Enum returns a code-table entry.
func Enum(n int64) Value { return Value{kind: ValueEnum, enum: n} }

func (v Value) Kind() ValueKind { return v.kind }

func (v Value) IsMissing() bool { return v.kind == ValueMissing }

// AsFloat returns the numeric form of number and enum values.
func (v Value) AsFloat() (float64, bool) {
	switch v.kind {
	case ValueNumber:
		return v.num, true
	case ValueEnum:
		return float64(v.enum), true
	default:
		return 0, false
	}
}

// AsText returns the string of a text value.
func (v Value) AsText() (string, bool) {
	if v.kind != ValueText {
		return "", false
	}
	return v.text, true
}

// AsEnum returns the entry number of an enum value.
func (v Value) AsEnum() (int64, bool) {
	if v.kind != ValueEnum {
		return 0, false
	}
	return v.enum, true
}

// Key is the canonical lookup form used by value maps and match keys.
// Numbers and enums with the same integral value share a key, so a code
// table entry written as `3:` in a rule file matches both.
func (v Value) Key() string {
	switch v.kind {
	case ValueNumber:
		return strconv.FormatFloat(v.num, 'f', -1, 64)
	case ValueText:
		return v.text
	case ValueEnum:
		return strconv.FormatInt(v.enum, 10)
	default:
		return ""
	}
}

func (v Value) String() string {
	switch v.kind {
	case ValueMissing:
		return "<missing>"
	case ValueText:
		return strconv.Quote(v.text)
	case ValueEnum:
		return "code " + v.Key()
	default:
		return v.Key()
	}
}

func (v Value) Equal(o Value) bool {
	if v.kind != o.kind {
		return false
	}
	switch v.kind {
	case ValueNumber:
		return v.num == o.num
	case ValueText:
		return v.text == o.text
	case ValueEnum:
		return v.enum == o.enum
	default:
		return true
	}
}

type enumJSON struct {
	Code *int64 `json:"code"`
}

func (v Value) MarshalJSON() ([]byte, error) {
	switch v.kind {
	case ValueNumber:
		if math.IsNaN(v.num) || math.IsInf(v.num, 0) {
			return []byte("null"), nil
		}
		return json.Marshal(v.num)
	case ValueText:
		return json.Marshal(v.text)
	case ValueEnum:
		return json.Marshal(enumJSON{Code: &v.enum})
	default:
		return []byte("null"), nil
	}
}

func (v *Value) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 {
		return errors.New("value: empty input")
	}
	switch data[0] {
	case 'n':
		*v = Missing()
		return nil
	case '"':
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return fmt.Errorf("value: %w", err)
		}
		*v = Text(s)
		return nil
	case '{':
		var e enumJSON
		if err := json.Unmarshal(data, &e); err != nil {
			return fmt.Errorf("value: %w", err)
		}
		if e.Code == nil {
			return errors.New("value: object form requires a code")
		}
		*v = Enum(*e.Code)
		return nil
	default:
		var f float64
		if err := json.Unmarshal(data, &f); err != nil {
			return fmt.Errorf("value: %w", err)
		}
		*v = Number(f)
		return nil
	}
}
