package decode

import (
	"fmt"
	"log/slog"
	"maps"
	"math"
	"slices"

	"github.com/couchcryptid/obs-decoder-service/internal/domain"
	"github.com/couchcryptid/obs-decoder-service/internal/rules"
)

// SubsetIndexField is the metadata field every subset record carries.
const SubsetIndexField = "SubsetIndex"

// TableSource supplies the rule table. A session takes one table per message,
// so a reload only affects messages that start after it.
type TableSource interface {
	Table() *rules.Table
}

// State is the position of a Session in the token stream.
type State uint8

const (
	StateIdle State = iota
	StateInMessage
	StateInSubset
	StateFaulted
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateInMessage:
		return "in_message"
	case StateInSubset:
		return "in_subset"
	case StateFaulted:
		return "faulted"
	default:
		return fmt.Sprintf("State(%d)", uint8(s))
	}
}

// SubsetResult is the outcome of one subset: a record or a fault.
type SubsetResult struct {
	Index  int
	Record *domain.ObservationRecord
	Fault  *Fault
}

// MessageResult is the outcome of one message.
type MessageResult struct {
	RulesVersion string
	Subsets      []SubsetResult
}

// Engine decodes token streams against a rule table. It is safe for
// concurrent use; each goroutine should work through its own Session.
type Engine struct {
	src    TableSource
	logger *slog.Logger
}

// New creates an Engine. Pass a *rules.Table for a fixed table or a
// *rules.Store to follow reloads.
func New(src TableSource, logger *slog.Logger) *Engine {
	return &Engine{src: src, logger: logger}
}

// NewSession returns an idle session.
func (e *Engine) NewSession() *Session {
	s := &Session{
		engine: e,
		scopes: NewScopeTracker(),
	}
	s.asm = NewAssembler(s.closeSubrecord)
	return s
}

// Decode runs one message through a fresh session. A MalformedStream fault is
// returned as the error and no subset results are kept.
func (e *Engine) Decode(tokens []domain.Token) (MessageResult, error) {
	s := e.NewSession()
	for _, tok := range tokens {
		if err := s.Feed(tok); err != nil {
			return MessageResult{RulesVersion: s.RulesVersion()}, err
		}
	}
	if s.state != StateIdle {
		return MessageResult{RulesVersion: s.RulesVersion()}, s.malformed(domain.MessageEnd(), 0, "stream ended inside a message")
	}
	return MessageResult{RulesVersion: s.RulesVersion(), Subsets: s.Results()}, nil
}

// Session walks one token stream. It is not safe for concurrent use.
type Session struct {
	engine  *Engine
	table   *rules.Table
	state   State
	aborted bool

	stack  ContextStack
	scopes *ScopeTracker
	asm    *Assembler

	meta    map[string]domain.Value
	subset  int
	fault   *Fault
	results []SubsetResult

	run   *compositeRun
	scale domain.Value
}

func (s *Session) State() State { return s.state }

// Results returns the subsets completed so far in the current message.
func (s *Session) Results() []SubsetResult { return s.results }

// RulesVersion is the version of the table the current message decodes with.
func (s *Session) RulesVersion() string {
	if s.table == nil {
		return ""
	}
	return s.table.Version()
}

// Snapshot returns a copy of the record being assembled, or nil outside a subset.
func (s *Session) Snapshot() *domain.ObservationRecord {
	if s.state != StateInSubset && s.state != StateFaulted {
		return nil
	}
	return s.asm.Snapshot()
}

// Scopes lists the scopes open in the current subset.
func (s *Session) Scopes() []ScopeInfo { return s.scopes.Active() }

// Feed advances the session by one token. Faults that abort a subset are
// recorded in its result; only a MalformedStream fault is returned, after
// which the rest of the message is skipped.
func (s *Session) Feed(tok domain.Token) error {
	if s.aborted {
		if tok.Op == domain.OpMessageEnd {
			s.aborted = false
			s.state = StateIdle
		}
		return nil
	}
	code := rules.Code(tok.Code)
	switch tok.Op {
	case domain.OpMessageStart:
		if s.state != StateIdle {
			return s.malformed(tok, 0, "message_start inside a message")
		}
		s.table = s.engine.src.Table()
		s.meta = maps.Clone(tok.Metadata)
		s.subset = 0
		s.results = nil
		s.state = StateInMessage
	case domain.OpSubsetStart:
		if s.state != StateInMessage {
			return s.malformed(tok, 0, "subset_start outside a message or inside a subset")
		}
		s.startSubset()
	case domain.OpEnter:
		if !s.inSubset() {
			return s.malformed(tok, code, "enter outside a subset")
		}
		if !code.Structural() {
			return s.malformed(tok, code, fmt.Sprintf("enter with non-structural descriptor %s", code))
		}
		s.breakComposite(code)
		s.enter(code)
	case domain.OpLeave:
		if !s.inSubset() {
			return s.malformed(tok, code, "leave outside a subset")
		}
		s.breakComposite(code)
		if err := s.stack.Pop(code); err != nil {
			return s.malformed(tok, code, err.Error())
		}
		if s.state == StateInSubset {
			s.asm.Leave()
			s.scopes.CloseDeeperThan(s.stack.Depth())
		}
	case domain.OpValue:
		if !s.inSubset() {
			return s.malformed(tok, code, "value outside a subset")
		}
		if s.state == StateInSubset {
			s.value(code, tok)
		}
	case domain.OpSubsetEnd:
		if !s.inSubset() {
			return s.malformed(tok, 0, "subset_end outside a subset")
		}
		if s.stack.Depth() > 0 {
			return s.malformed(tok, 0, fmt.Sprintf("subset ended with %s still open", s.stack.String()))
		}
		if s.state == StateInSubset {
			s.flushComposite()
		}
		s.endSubset()
	case domain.OpMessageEnd:
		if s.state != StateInMessage {
			return s.malformed(tok, 0, "message_end inside a subset or outside a message")
		}
		s.state = StateIdle
	default:
		return s.malformed(tok, 0, fmt.Sprintf("unknown token op %q", tok.Op))
	}
	return nil
}

func (s *Session) inSubset() bool {
	return s.state == StateInSubset || s.state == StateFaulted
}

func (s *Session) startSubset() {
	s.stack.Reset()
	s.scopes.Reset()
	base := make(map[string]domain.Value, len(s.meta)+1)
	maps.Copy(base, s.meta)
	base[SubsetIndexField] = domain.Number(float64(s.subset))
	s.asm.Reset(base)
	s.fault = nil
	s.run = nil
	s.scale = domain.Missing()
	s.state = StateInSubset
}

func (s *Session) endSubset() {
	if s.state == StateFaulted {
		s.results = append(s.results, SubsetResult{Index: s.subset, Fault: s.fault})
	} else {
		s.results = append(s.results, SubsetResult{Index: s.subset, Record: s.asm.Finish()})
	}
	s.subset++
	s.fault = nil
	s.state = StateInMessage
}

// enter opens a group. A structural code may carry its own rule, resolved
// against the enclosing path and applied inside the new group with no raw
// value. Structural codes without a rule are just pushed.
func (s *Session) enter(code rules.Code) {
	if s.state == StateFaulted {
		s.stack.Push(code)
		return
	}
	r, err := s.table.Resolve(code, s.stack.Path())
	s.stack.Push(code)
	s.asm.Enter(code)
	if err == nil {
		s.apply(code, r, domain.Missing(), nil, true)
	}
}

func (s *Session) value(code rules.Code, tok domain.Token) {
	if s.run != nil && s.continueComposite(code, tok) {
		return
	}
	if s.state != StateInSubset || s.startComposite(code, tok) {
		return
	}
	s.valueAt(code, tok.RawValue(), tok.Metadata, s.stack.Path())
}

func (s *Session) valueAt(code rules.Code, v domain.Value, ann map[string]domain.Value, path []rules.Code) {
	r, err := s.table.Resolve(code, path)
	if err != nil {
		s.fail(FaultUnknownDescriptor, code, fmt.Sprintf("no rule for %s in context %q", code, s.stack.String()))
		return
	}
	if r.Kind != rules.KindScale {
		v = s.scaled(v)
	}
	s.apply(code, r, v, ann, false)
}

// breakComposite flushes an open composite run unless groups with code may
// open and close inside it.
func (s *Session) breakComposite(code rules.Code) {
	if s.state == StateInSubset && s.run != nil && !s.run.passes(code) {
		s.flushComposite()
	}
}

// scaled applies the current scale factor to a number.
func (s *Session) scaled(v domain.Value) domain.Value {
	exp, ok := s.scale.AsFloat()
	if !ok || v.Kind() != domain.ValueNumber {
		return v
	}
	f, _ := v.AsFloat()
	return domain.Number(f * math.Pow(10, exp))
}

// apply runs one resolved rule. remove_metadata always runs before the rule
// assigns anything.
func (s *Session) apply(code rules.Code, r *rules.Rule, raw domain.Value, ann map[string]domain.Value, structural bool) {
	switch r.Kind {
	case rules.KindNoop:
		return
	case rules.KindRaise:
		s.fail(FaultRaiseTriggered, code, "raise rule fired")
		return
	}

	v := raw
	if r.Value != nil {
		v = *r.Value
	}
	if r.ValueMap != nil && !v.IsMissing() {
		mapped, ok := r.ValueMap[v.Key()]
		if !ok {
			s.fail(FaultEnumerationMiss, code, fmt.Sprintf("value %s has no value_map entry", v))
			return
		}
		v = mapped
	}
	if r.Duration != "" && !v.IsMissing() {
		if d, ok := isoDuration(v, r.Duration); ok {
			v = domain.Text(d)
		}
	}

	if len(r.RemoveMetadata) > 0 {
		s.scopes.Remove(r.RemoveMetadata)
		s.asm.RemoveMetadata(r.RemoveMetadata)
		if len(ann) > 0 {
			ann = maps.Clone(ann)
			for _, n := range r.RemoveMetadata {
				delete(ann, n)
			}
		}
	}

	// A missing value never replaces or adds a target assignment; on scoped
	// rules it is the terminator.
	if v.IsMissing() && r.Scope == rules.ScopeTarget && r.Kind != rules.KindMetadataMap {
		return
	}

	depth := s.stack.Depth()
	switch r.Kind {
	case rules.KindScale:
		s.scale = v
	case rules.KindMetadata:
		switch r.Scope {
		case rules.ScopeTarget:
			s.asm.SetMetadata(r.Name, v)
		case rules.ScopeFollowing:
			s.scopes.OpenFollowing(code, r, v, depth)
			if !r.Deferred && !v.IsMissing() {
				s.asm.SetMetadata(r.Name, v)
			}
		case rules.ScopeSubrecords:
			s.scopes.OpenSubrecords(code, r, v, depth)
			if cur := s.asm.Current(); cur != nil && !r.Deferred && !v.IsMissing() && subrecordAdmits(r, cur) {
				cur.SetMetadata(r.Name, v)
			}
		}
	case rules.KindMetadataMap:
		if s.scopes.FireMetadataMap(code, r, v, structural) {
			for _, k := range slices.Sorted(maps.Keys(r.MetadataMap)) {
				s.asm.SetMetadata(k, r.MetadataMap[k])
			}
		}
	case rules.KindCoordinate:
		s.asm.AddCoordinate(r, domain.Assignment{
			Name:     r.Name,
			Value:    v,
			Metadata: mergeAnnotations(ann, s.scopes.AnnotateCoordinate(r.Name), r.Metadata),
		})
	case rules.KindVariable:
		s.asm.AddVariable(r, domain.Assignment{
			Name:     r.Name,
			Value:    v,
			Metadata: mergeAnnotations(ann, s.scopes.AnnotateVariable(r.Name), r.Metadata),
		})
	}
}

// closeSubrecord asserts open Subrecords scopes on an instance as it closes.
// Metadata the instance already set explicitly is kept.
func (s *Session) closeSubrecord(sub *domain.Subrecord) {
	for name, v := range s.scopes.ForSubrecord(sub) {
		if _, ok := sub.Metadata[name]; !ok {
			sub.SetMetadata(name, v)
		}
	}
}

func (s *Session) hierarchy() string {
	if s.stack.Depth() == 0 {
		return fmt.Sprintf("S#%d", s.subset)
	}
	return fmt.Sprintf("S#%d>%s", s.subset, s.stack.String())
}

func (s *Session) fail(kind FaultKind, code rules.Code, detail string) {
	s.fault = &Fault{
		Kind:   kind,
		Code:   code,
		Path:   s.hierarchy(),
		Subset: s.subset,
		Detail: detail,
		Record: s.asm.Snapshot(),
	}
	s.state = StateFaulted
	s.engine.logger.Debug("subset faulted",
		"kind", kind, "code", code.String(), "path", s.fault.Path, "detail", detail)
}

// malformed aborts the current message. Subsets already decoded are dropped
// since their boundaries can no longer be trusted.
func (s *Session) malformed(tok domain.Token, code rules.Code, detail string) error {
	f := &Fault{
		Kind:   FaultMalformedStream,
		Code:   code,
		Subset: MessageSubset,
		Detail: detail,
	}
	if s.inSubset() {
		f.Path = s.hierarchy()
		f.Record = s.asm.Snapshot()
	}
	s.results = nil
	s.fault = nil
	s.run = nil
	s.stack.Reset()
	if tok.Op == domain.OpMessageEnd {
		s.state = StateIdle
	} else {
		s.aborted = true
		s.state = StateFaulted
	}
	s.engine.logger.Debug("message aborted", "code", code.String(), "path", f.Path, "detail", detail)
	return f
}

// mergeAnnotations layers annotation maps; later layers win.
func mergeAnnotations(layers ...map[string]domain.Value) map[string]domain.Value {
	var out map[string]domain.Value
	for _, l := range layers {
		if len(l) == 0 {
			continue
		}
		if out == nil {
			out = make(map[string]domain.Value, len(l))
		}
		maps.Copy(out, l)
	}
	return out
}
