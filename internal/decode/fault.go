package decode

import (
	"errors"
	"fmt"

	"github.com/couchcryptid/obs-decoder-service/internal/domain"
	"github.com/couchcryptid/obs-decoder-service/internal/rules"
)

// Sentinel errors matched by Fault via errors.Is.
var (
	ErrUnknownDescriptor = errors.New("unknown descriptor")
	ErrRaiseTriggered    = errors.New("raise triggered")
	ErrEnumerationMiss   = errors.New("enumeration miss")
	ErrMalformedStream   = errors.New("malformed stream")
)

// FaultKind classifies a decode fault.
type FaultKind string

const (
	FaultUnknownDescriptor FaultKind = "unknown_descriptor"
	FaultRaiseTriggered    FaultKind = "raise_triggered"
	FaultEnumerationMiss   FaultKind = "enumeration_miss"
	FaultMalformedStream   FaultKind = "malformed_stream"
)

// MessageSubset is the Subset of a fault that aborted the whole message.
const MessageSubset = -1

// Fault is a decode failure with enough context to review it: the offending
// code, the open structural path and the record assembled so far.
type Fault struct {
	Kind   FaultKind
	Code   rules.Code
	Path   string
	Subset int
	Detail string
	Record *domain.ObservationRecord
}

func (f *Fault) Error() string {
	loc := fmt.Sprintf("subset %d", f.Subset)
	if f.Subset == MessageSubset {
		loc = "message"
	}
	if f.Path != "" {
		loc += " at " + f.Path
	}
	if f.Code != 0 {
		return fmt.Sprintf("%s: %s %s: %s", loc, f.Kind, f.Code, f.Detail)
	}
	return fmt.Sprintf("%s: %s: %s", loc, f.Kind, f.Detail)
}

func (f *Fault) Unwrap() error {
	switch f.Kind {
	case FaultUnknownDescriptor:
		return ErrUnknownDescriptor
	case FaultRaiseTriggered:
		return ErrRaiseTriggered
	case FaultEnumerationMiss:
		return ErrEnumerationMiss
	case FaultMalformedStream:
		return ErrMalformedStream
	default:
		return nil
	}
}

// Report converts the fault for publication.
func (f *Fault) Report() domain.FaultReport {
	r := domain.FaultReport{
		Kind:    string(f.Kind),
		Path:    f.Path,
		Subset:  f.Subset,
		Message: f.Error(),
		Record:  f.Record,
	}
	if f.Code != 0 {
		r.Code = f.Code.String()
	}
	return r
}
