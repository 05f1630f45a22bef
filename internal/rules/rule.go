package rules

import (
	"fmt"
	"slices"

	"github.com/couchcryptid/obs-decoder-service/internal/domain"
)

// Kind is what a rule does with the value it resolves for.
type Kind uint8

const (
	KindMetadata Kind = iota
	KindCoordinate
	KindVariable
	KindMetadataMap
	KindNoop
	KindRaise
	// KindScale sets a power-of-ten factor applied to the numeric values
	// that follow it in the subset. A missing value clears it.
	KindScale
)

var kindNames = map[Kind]string{
	KindMetadata:    "metadata",
	KindCoordinate:  "coordinates",
	KindVariable:    "variables",
	KindMetadataMap: "metadata_map",
	KindNoop:        "noop",
	KindRaise:       "raise",
	KindScale:       "scale",
}

func (k Kind) String() string {
	if s, ok := kindNames[k]; ok {
		return s
	}
	return fmt.Sprintf("Kind(%d)", uint8(k))
}

func parseKind(s string) (Kind, bool) {
	switch s {
	case "", "metadata":
		return KindMetadata, true
	case "coordinates", "coordinate":
		return KindCoordinate, true
	case "variables", "variable":
		return KindVariable, true
	case "metadata_map":
		return KindMetadataMap, true
	case "noop":
		return KindNoop, true
	case "raise":
		return KindRaise, true
	case "scale":
		return KindScale, true
	default:
		return 0, false
	}
}

// Scope is how long a rule's effect lasts.
type Scope uint8

const (
	// ScopeTarget applies to the triggering value only.
	ScopeTarget Scope = iota
	// ScopeFollowing applies to subsequent variables until the filter excludes one.
	ScopeFollowing
	// ScopeSubrecords applies to each subrecord instance closed beneath the
	// group in which the rule fired.
	ScopeSubrecords
	ScopeRaise
	ScopeNoop
)

var scopeNames = map[Scope]string{
	ScopeTarget:     "target",
	ScopeFollowing:  "following",
	ScopeSubrecords: "subrecords",
	ScopeRaise:      "raise",
	ScopeNoop:       "noop",
}

func (s Scope) String() string {
	if n, ok := scopeNames[s]; ok {
		return n
	}
	return fmt.Sprintf("Scope(%d)", uint8(s))
}

func parseScope(s string) (Scope, bool) {
	switch s {
	case "", "target":
		return ScopeTarget, true
	case "following":
		return ScopeFollowing, true
	case "subrecords":
		return ScopeSubrecords, true
	case "raise":
		return ScopeRaise, true
	case "noop":
		return ScopeNoop, true
	default:
		return 0, false
	}
}

// Rule is the normalized decode instruction for one descriptor code. Rules are
// immutable once the table is built.
type Rule struct {
	Kind  Kind
	Name  string
	Scope Scope

	// Filter bounds Following and Subrecords scopes. Nil means unbounded.
	Filter []string

	// Deferred rules do not touch the container they fire in; they only open
	// a scope that takes effect at the next variable or subrecord boundary.
	Deferred bool

	RemoveMetadata []string

	// ValueMap is keyed by domain.Value.Key of the raw value.
	ValueMap map[string]domain.Value

	// MetadataMap is asserted when the value matches Match, or on any present
	// value when Match is nil.
	MetadataMap  map[string]domain.Value
	Match        *domain.Value
	IterateAfter bool

	SubrecordType string
	Directional   bool

	// Metadata is attached to every value the rule assigns.
	Metadata map[string]domain.Value

	// Value replaces the raw value before any other processing.
	Value *domain.Value

	// Duration turns a numeric value into an ISO 8601 duration in this unit.
	Duration DurationUnit
}

// Admits reports whether name passes the rule's filter.
func (r *Rule) Admits(name string) bool {
	return r.Filter == nil || slices.Contains(r.Filter, name)
}

// AssignsValue reports whether the rule writes a named field.
func (r *Rule) AssignsValue() bool {
	switch r.Kind {
	case KindMetadata, KindCoordinate, KindVariable:
		return true
	default:
		return false
	}
}

func (r *Rule) String() string {
	switch r.Kind {
	case KindNoop, KindRaise, KindScale:
		return r.Kind.String()
	case KindMetadataMap:
		return fmt.Sprintf("metadata_map(%d keys)", len(r.MetadataMap))
	default:
		return fmt.Sprintf("%s:%s/%s", r.Kind, r.Name, r.Scope)
	}
}

// Entry is everything the table knows about one code at one nesting level:
// an optional default rule plus overrides keyed by an enclosing structural
// code. A nil Rule means the entry only carries overrides.
type Entry struct {
	Rule    *Rule
	Context map[Code]*Entry
}
