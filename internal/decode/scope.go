package decode

import (
	"maps"
	"slices"

	"github.com/couchcryptid/obs-decoder-service/internal/domain"
	"github.com/couchcryptid/obs-decoder-service/internal/rules"
)

// scope is an open Following or Subrecords rule.
type scope struct {
	code    rules.Code
	rule    *rules.Rule
	value   domain.Value
	depth   int
	covered []string
}

// ScopeInfo describes an open scope for diagnostics. Metadata maps seen in
// the subset are listed too: Fired counts their assertions and Spent is set
// once a map without iterate_after has asserted.
type ScopeInfo struct {
	Name    string
	Code    rules.Code
	Kind    rules.Kind
	Scope   rules.Scope
	Value   domain.Value
	Depth   int
	Covered []string
	Fired   int
	Spent   bool
}

type mapState struct {
	rule  *rules.Rule
	fired int
	spent bool
}

// ScopeTracker owns the rules whose effect outlives the value that fired
// them. Scopes are kept in opening order; when two scopes set the same
// field, the one opened last wins.
type ScopeTracker struct {
	following  []*scope
	subrecords []*scope
	maps       map[rules.Code]*mapState
}

func NewScopeTracker() *ScopeTracker {
	return &ScopeTracker{maps: map[rules.Code]*mapState{}}
}

// Reset drops every scope and metadata map state.
func (t *ScopeTracker) Reset() {
	t.following = t.following[:0]
	t.subrecords = t.subrecords[:0]
	clear(t.maps)
}

// OpenFollowing opens a scope annotating subsequent variables. A missing value
// is the terminator for scopes of the same name. Reopening from the same code
// replaces the earlier scope.
func (t *ScopeTracker) OpenFollowing(code rules.Code, r *rules.Rule, v domain.Value, depth int) {
	t.following = t.open(t.following, code, r, v, depth)
}

// OpenSubrecords opens a scope asserted on each subrecord instance that closes
// while it is open.
func (t *ScopeTracker) OpenSubrecords(code rules.Code, r *rules.Rule, v domain.Value, depth int) {
	t.subrecords = t.open(t.subrecords, code, r, v, depth)
}

func (t *ScopeTracker) open(list []*scope, code rules.Code, r *rules.Rule, v domain.Value, depth int) []*scope {
	if v.IsMissing() {
		return slices.DeleteFunc(list, func(s *scope) bool { return s.rule.Name == r.Name })
	}
	list = slices.DeleteFunc(list, func(s *scope) bool { return s.code == code && s.rule.Name == r.Name })
	return append(list, &scope{code: code, rule: r, value: v, depth: depth})
}

// AnnotateVariable closes Following scopes whose filter excludes name and
// returns the annotations of the rest.
func (t *ScopeTracker) AnnotateVariable(name string) map[string]domain.Value {
	t.following = slices.DeleteFunc(t.following, func(s *scope) bool { return !s.rule.Admits(name) })
	return annotate(t.following, name)
}

// AnnotateCoordinate returns the annotations of Following scopes that admit
// name. Coordinates never close a scope.
func (t *ScopeTracker) AnnotateCoordinate(name string) map[string]domain.Value {
	var admitted []*scope
	for _, s := range t.following {
		if s.rule.Admits(name) {
			admitted = append(admitted, s)
		}
	}
	return annotate(admitted, name)
}

func annotate(list []*scope, name string) map[string]domain.Value {
	if len(list) == 0 {
		return nil
	}
	out := make(map[string]domain.Value, len(list))
	for _, s := range list {
		out[s.rule.Name] = s.value
		s.covered = append(s.covered, name)
	}
	return out
}

// ForSubrecord returns the metadata of Subrecords scopes that apply to sub:
// unfiltered scopes, or scopes whose filter names the subrecord type or one
// of its fields.
func (t *ScopeTracker) ForSubrecord(sub *domain.Subrecord) map[string]domain.Value {
	var out map[string]domain.Value
	for _, s := range t.subrecords {
		if !subrecordAdmits(s.rule, sub) {
			continue
		}
		if out == nil {
			out = map[string]domain.Value{}
		}
		out[s.rule.Name] = s.value
		s.covered = append(s.covered, sub.Type)
	}
	return out
}

func subrecordAdmits(r *rules.Rule, sub *domain.Subrecord) bool {
	if r.Filter == nil || slices.Contains(r.Filter, sub.Type) {
		return true
	}
	return slices.ContainsFunc(r.Filter, sub.Has)
}

// FireMetadataMap reports whether a metadata_map rule asserts for this
// occurrence. A rule without iterate_after asserts once and is then spent.
// Structural codes carry no value, so they fire whenever no match key is set.
func (t *ScopeTracker) FireMetadataMap(code rules.Code, r *rules.Rule, v domain.Value, structural bool) bool {
	st := t.maps[code]
	if st == nil {
		st = &mapState{}
		t.maps[code] = st
	}
	st.rule = r
	if st.spent {
		return false
	}
	if r.Match != nil {
		if v.IsMissing() || r.Match.Key() != v.Key() {
			return false
		}
	} else if v.IsMissing() && !structural {
		return false
	}
	st.fired++
	if !r.IterateAfter {
		st.spent = true
	}
	return true
}

// Remove closes Following and Subrecords scopes with any of the given names.
func (t *ScopeTracker) Remove(names []string) {
	drop := func(s *scope) bool { return slices.Contains(names, s.rule.Name) }
	t.following = slices.DeleteFunc(t.following, drop)
	t.subrecords = slices.DeleteFunc(t.subrecords, drop)
}

// CloseDeeperThan closes scopes opened inside groups that are no longer open.
func (t *ScopeTracker) CloseDeeperThan(depth int) {
	drop := func(s *scope) bool { return s.depth > depth }
	t.following = slices.DeleteFunc(t.following, drop)
	t.subrecords = slices.DeleteFunc(t.subrecords, drop)
}

// Active lists open scopes, Following first, each in opening order, then
// the metadata maps seen so far ordered by code.
func (t *ScopeTracker) Active() []ScopeInfo {
	out := make([]ScopeInfo, 0, len(t.following)+len(t.subrecords)+len(t.maps))
	for _, list := range [][]*scope{t.following, t.subrecords} {
		for _, s := range list {
			out = append(out, ScopeInfo{
				Name:    s.rule.Name,
				Code:    s.code,
				Kind:    s.rule.Kind,
				Scope:   s.rule.Scope,
				Value:   s.value,
				Depth:   s.depth,
				Covered: slices.Clone(s.covered),
			})
		}
	}
	for _, code := range slices.Sorted(maps.Keys(t.maps)) {
		st := t.maps[code]
		out = append(out, ScopeInfo{
			Code:    code,
			Kind:    st.rule.Kind,
			Scope:   st.rule.Scope,
			Covered: slices.Sorted(maps.Keys(st.rule.MetadataMap)),
			Fired:   st.fired,
			Spent:   st.spent,
		})
	}
	return out
}
