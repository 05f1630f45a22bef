package domain

import (
	"fmt"
)

// Op identifies a token in an unpacked descriptor stream.
type Op string

const (
	OpMessageStart Op = "message_start"
	OpSubsetStart  Op = "subset_start"
	OpEnter        Op = "enter"
	OpLeave        Op = "leave"
	OpValue        Op = "value"
	OpSubsetEnd    Op = "subset_end"
	OpMessageEnd   Op = "message_end"
)

func (o Op) valid() bool {
	switch o {
	case OpMessageStart, OpSubsetStart, OpEnter, OpLeave, OpValue, OpSubsetEnd, OpMessageEnd:
		return true
	default:
		return false
	}
}

// Token is one element of the stream produced by an unpacker. Enter and Leave
// bracket one repetition of a structural (replication or sequence) descriptor.
type Token struct {
	Op   Op  `json:"op"`
	Code int `json:"code,omitempty"`

	// Value is nil for structural tokens and for missing values.
	Value *Value `json:"value,omitempty"`

	// Metadata holds message-level fields on message_start and unpacker
	// annotations (Units, scale-derived Uncertainty) on value tokens.
	Metadata map[string]Value `json:"metadata,omitempty"`
}

// RawValue returns the token value, treating an absent value as missing.
func (t Token) RawValue() Value {
	if t.Value == nil {
		return Missing()
	}
	return *t.Value
}

func (t Token) String() string {
	switch t.Op {
	case OpValue:
		return fmt.Sprintf("%s %06d=%s", t.Op, t.Code, t.RawValue())
	case OpEnter, OpLeave:
		return fmt.Sprintf("%s %06d", t.Op, t.Code)
	default:
		return string(t.Op)
	}
}

// MessageStart opens a message; metadata is copied onto every subset record.
func MessageStart(metadata map[string]Value) Token {
	return Token{Op: OpMessageStart, Metadata: metadata}
}

func SubsetStart() Token { return Token{Op: OpSubsetStart} }

func SubsetEnd() Token { return Token{Op: OpSubsetEnd} }

func MessageEnd() Token { return Token{Op: OpMessageEnd} }

// Enter opens one repetition of a structural descriptor.
func Enter(code int) Token { return Token{Op: OpEnter, Code: code} }

// Leave closes the repetition opened by the matching Enter.
func Leave(code int) Token { return Token{Op: OpLeave, Code: code} }

// Element is a value token for an element descriptor.
func Element(code int, v Value) Token {
	return Token{Op: OpValue, Code: code, Value: &v}
}

// AnnotatedElement is a value token carrying unpacker annotations.
func AnnotatedElement(code int, v Value, metadata map[string]Value) Token {
	return Token{Op: OpValue, Code: code, Value: &v, Metadata: metadata}
}

// Stream is the payload of one source message: an unpacked message as tokens.
type Stream struct {
	ID     string  `json:"id"`
	Tokens []Token `json:"tokens"`
}

// Validate checks that every token has a known op and that element and
// structural tokens carry a code.
func (s Stream) Validate() error {
	for i, tok := range s.Tokens {
		if !tok.Op.valid() {
			return fmt.Errorf("token %d: unknown op %q", i, tok.Op)
		}
		switch tok.Op {
		case OpValue, OpEnter, OpLeave:
			if tok.Code <= 0 {
				return fmt.Errorf("token %d: %s requires a descriptor code", i, tok.Op)
			}
		}
	}
	return nil
}
