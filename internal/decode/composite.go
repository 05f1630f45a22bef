package decode

import (
	"fmt"
	"math"
	"slices"
	"strconv"
	"strings"

	"github.com/couchcryptid/obs-decoder-service/internal/domain"
	"github.com/couchcryptid/obs-decoder-service/internal/rules"
)

// bufferedValue is a value token held back while a composite run is open.
// It keeps the context it arrived in so a replay resolves the same rule.
type bufferedValue struct {
	code  rules.Code
	value domain.Value
	ann   map[string]domain.Value
	path  []rules.Code
}

// compositeRun tracks the composites still matching the values seen so far.
type compositeRun struct {
	candidates []*rules.Composite
	vals       []bufferedValue
}

// extend keeps the candidates whose next member is code.
func (r *compositeRun) extend(code rules.Code) bool {
	n := len(r.vals)
	var next []*rules.Composite
	for _, c := range r.candidates {
		if n < len(c.Codes) && c.Codes[n] == code {
			next = append(next, c)
		}
	}
	if len(next) == 0 {
		return false
	}
	r.candidates = next
	return true
}

// done returns the composite to finish with once no candidate can grow further.
func (r *compositeRun) done() *rules.Composite {
	var full *rules.Composite
	for _, c := range r.candidates {
		if len(c.Codes) > len(r.vals) {
			return nil
		}
		if full == nil {
			full = c
		}
	}
	return full
}

func (r *compositeRun) passes(code rules.Code) bool {
	return slices.ContainsFunc(r.candidates, func(c *rules.Composite) bool { return c.Passes(code) })
}

// closing returns the candidate a broken run composes with, or nil when
// the run is too short for all of them.
func (r *compositeRun) closing() *rules.Composite {
	for _, c := range r.candidates {
		if len(r.vals) >= c.MinMembers() {
			return c
		}
	}
	return nil
}

func (s *Session) buffer(code rules.Code, tok domain.Token) bufferedValue {
	return bufferedValue{code: code, value: tok.RawValue(), ann: tok.Metadata, path: s.stack.Path()}
}

// startComposite opens a run if code begins any composite.
func (s *Session) startComposite(code rules.Code, tok domain.Token) bool {
	cs := s.table.CompositesFrom(code)
	if len(cs) == 0 {
		return false
	}
	s.run = &compositeRun{candidates: cs, vals: []bufferedValue{s.buffer(code, tok)}}
	return true
}

// continueComposite adds tok to the open run. It reports false when tok
// does not belong to the run, which is then flushed.
func (s *Session) continueComposite(code rules.Code, tok domain.Token) bool {
	if !s.run.extend(code) {
		s.flushComposite()
		return false
	}
	s.run.vals = append(s.run.vals, s.buffer(code, tok))
	if c := s.run.done(); c != nil {
		run := s.run
		s.run = nil
		s.finishComposite(c, run.vals)
	}
	return true
}

// flushComposite ends the open run at a token that does not continue it.
func (s *Session) flushComposite() {
	run := s.run
	if run == nil {
		return
	}
	s.run = nil
	if c := run.closing(); c != nil {
		s.finishComposite(c, run.vals)
		return
	}
	s.replay(run.vals)
}

func (s *Session) finishComposite(c *rules.Composite, vals []bufferedValue) {
	first := vals[0]
	if c.Compose == rules.ComposeQuality {
		s.applyQuality(c, vals)
		return
	}
	v, ok := compose(c, vals)
	if !ok {
		s.replay(vals)
		return
	}
	if v.IsMissing() {
		return
	}
	r := c.Rule
	if r == nil {
		var err error
		if r, err = s.table.Resolve(first.code, first.path); err != nil {
			s.fail(FaultUnknownDescriptor, first.code, fmt.Sprintf("no rule for %s in context %q", first.code, s.stack.String()))
			return
		}
	}
	s.engine.logger.Debug("composite decoded", "composite", c.Name, "value", v.String())
	s.apply(first.code, r, v, nil, false)
}

// replay decodes buffered values one by one, as if no composite matched.
func (s *Session) replay(vals []bufferedValue) {
	for _, b := range vals {
		if s.state != StateInSubset {
			return
		}
		s.valueAt(b.code, b.value, b.ann, b.path)
	}
}

// applyQuality sets the flag as a Quality annotation on the fields the
// applies-to code names. A missing flag or applies-to code sets nothing.
func (s *Session) applyQuality(c *rules.Composite, vals []bufferedValue) {
	appliesTo, flag := vals[0].value, vals[1].value
	if appliesTo.IsMissing() {
		return
	}
	names, ok := c.Targets[appliesTo.Key()]
	if !ok {
		s.fail(FaultEnumerationMiss, vals[0].code, fmt.Sprintf("quality flag applies to %s, which has no target", appliesTo))
		return
	}
	if flag.IsMissing() {
		return
	}
	q := domain.Text(flag.Key())
	for _, name := range names {
		if !s.asm.Annotate(name, QualityField, q) {
			s.engine.logger.Debug("quality flag target not found", "name", name, "path", s.hierarchy())
		}
	}
}

// QualityField is the annotation quality composites set.
const QualityField = "Quality"

// compose builds the composite value. ok is false when the members are only
// partly present; a Missing value with ok means every member was missing.
func compose(c *rules.Composite, vals []bufferedValue) (domain.Value, bool) {
	present := 0
	for _, b := range vals {
		if !b.value.IsMissing() {
			present++
		}
	}
	if present == 0 {
		return domain.Missing(), true
	}

	switch c.Compose {
	case rules.ComposeDateTime:
		return composeDateTime(c, vals)
	case rules.ComposeInterval:
		if present != len(vals) {
			return domain.Value{}, false
		}
		parts := make([]string, len(vals))
		for i, b := range vals {
			d, ok := isoDuration(b.value, c.Unit)
			if !ok {
				return domain.Value{}, false
			}
			parts[i] = d
		}
		return domain.Text(strings.Join(parts, "/")), true
	default:
		if present != len(vals) {
			return domain.Value{}, false
		}
		parts := make([]string, len(vals))
		for i, b := range vals {
			width := 0
			if i < len(c.Pad) {
				width = c.Pad[i]
			}
			parts[i] = zeroPad(valueText(b.value), width)
		}
		return domain.Text(strings.Join(parts, c.Separator)), true
	}
}

// composeDateTime writes YYYY-MM-DD, then THH[:MM[:SS]]+00:00 for whatever
// time members are present.
func composeDateTime(c *rules.Composite, vals []bufferedValue) (domain.Value, bool) {
	n := len(vals)
	for n > 0 && vals[n-1].value.IsMissing() {
		n--
	}
	if n < c.MinMembers() {
		return domain.Value{}, false
	}
	parts := make([]string, n)
	for i, b := range vals[:n] {
		if _, ok := b.value.AsFloat(); !ok {
			return domain.Value{}, false
		}
		parts[i] = zeroPad(valueText(b.value), 2)
	}
	out := strings.Join(parts[:3], "-")
	if n > 3 {
		out += "T" + strings.Join(parts[3:], ":") + "+00:00"
	}
	return domain.Text(out), true
}

// isoDuration writes a numeric period as an ISO 8601 duration.
func isoDuration(v domain.Value, unit rules.DurationUnit) (string, bool) {
	f, ok := v.AsFloat()
	if !ok {
		return "", false
	}
	n := formatNumber(f)
	switch unit {
	case rules.UnitYears:
		return "P" + n + "Y", true
	case rules.UnitMonths:
		return "P" + n + "M", true
	case rules.UnitDays:
		return "P" + n + "D", true
	case rules.UnitHours:
		return "PT" + n + "H", true
	case rules.UnitMinutes:
		return "PT" + n + "M", true
	case rules.UnitSeconds:
		return "PT" + n + "S", true
	default:
		return "", false
	}
}

func valueText(v domain.Value) string {
	if f, ok := v.AsFloat(); ok {
		return formatNumber(f)
	}
	return v.Key()
}

func formatNumber(f float64) string {
	if f == math.Trunc(f) && math.Abs(f) < 1e15 {
		return strconv.FormatInt(int64(f), 10)
	}
	return strconv.FormatFloat(f, 'f', -1, 64)
}

// zeroPad left-pads the integer part of s with zeros to width.
func zeroPad(s string, width int) string {
	neg := strings.HasPrefix(s, "-")
	if neg {
		s = s[1:]
	}
	whole := s
	if i := strings.IndexByte(s, '.'); i >= 0 {
		whole = s[:i]
	}
	if pad := width - len(whole); pad > 0 {
		s = strings.Repeat("0", pad) + s
	}
	if neg {
		return "-" + s
	}
	return s
}
