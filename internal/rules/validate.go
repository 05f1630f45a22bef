package rules

import (
	"errors"
	"fmt"
	"slices"
	"strings"
)

// ErrInvalidTable matches any Issues returned while loading a table.
var ErrInvalidTable = errors.New("invalid rule table")

// Issue is one problem found in a rule table.
type Issue struct {
	// Path is the code followed by any context codes leading to the rule,
	// e.g. "022043>306004".
	Path    string
	Message string
}

// Issues collects every problem in a table so they can be fixed in one pass.
type Issues []Issue

func (iss Issues) Error() string {
	b := &strings.Builder{}
	fmt.Fprintf(b, "%s: %d issue(s)", ErrInvalidTable, len(iss))
	for _, it := range iss {
		fmt.Fprintf(b, "\n  %s: %s", it.Path, it.Message)
	}
	return b.String()
}

func (iss Issues) Is(target error) bool { return target == ErrInvalidTable }

func (iss *Issues) add(path, format string, args ...any) {
	*iss = append(*iss, Issue{Path: path, Message: fmt.Sprintf(format, args...)})
}

// Validate checks every entry and override in entries.
func Validate(entries map[Code]*Entry) error {
	var iss Issues
	codes := make([]Code, 0, len(entries))
	for c := range entries {
		codes = append(codes, c)
	}
	slices.Sort(codes)
	for _, c := range codes {
		validateEntry(&iss, c, c.String(), entries[c])
	}
	if len(iss) > 0 {
		return iss
	}
	return nil
}

func validateEntry(iss *Issues, code Code, path string, e *Entry) {
	if e == nil || (e.Rule == nil && len(e.Context) == 0) {
		iss.add(path, "entry has neither a rule nor context overrides")
		return
	}
	if e.Rule != nil {
		validateRule(iss, path, e.Rule)
	}
	ctx := make([]Code, 0, len(e.Context))
	for c := range e.Context {
		ctx = append(ctx, c)
	}
	slices.Sort(ctx)
	for _, c := range ctx {
		sub := path + ">" + c.String()
		if c == code {
			iss.add(sub, "context override keyed by its own code")
			continue
		}
		validateEntry(iss, code, sub, e.Context[c])
	}
}

func validateRule(iss *Issues, path string, r *Rule) {
	if _, ok := kindNames[r.Kind]; !ok {
		iss.add(path, "unknown type %s", r.Kind)
		return
	}
	if _, ok := scopeNames[r.Scope]; !ok {
		iss.add(path, "unknown apply_to %s", r.Scope)
		return
	}
	if (r.Kind == KindNoop) != (r.Scope == ScopeNoop) {
		iss.add(path, "type %s cannot apply_to %s", r.Kind, r.Scope)
	}
	if (r.Kind == KindRaise) != (r.Scope == ScopeRaise) {
		iss.add(path, "type %s cannot apply_to %s", r.Kind, r.Scope)
	}

	if r.AssignsValue() && r.Name == "" {
		iss.add(path, "%s rule requires a name", r.Kind)
	}
	if r.Name != "" && slices.Contains(r.Filter, r.Name) {
		iss.add(path, "filter references the rule's own name %q", r.Name)
	}
	if (r.Kind == KindCoordinate || r.Kind == KindVariable) && r.Scope != ScopeTarget {
		iss.add(path, "%s rule must apply_to target, got %s", r.Kind, r.Scope)
	}
	if r.Kind == KindMetadataMap {
		if len(r.MetadataMap) == 0 {
			iss.add(path, "metadata_map rule requires a non-empty map")
		}
		if r.Scope != ScopeTarget {
			iss.add(path, "metadata_map rule must apply_to target, got %s", r.Scope)
		}
	}
	if r.Deferred && r.Scope != ScopeFollowing && r.Scope != ScopeSubrecords {
		iss.add(path, "deferred requires apply_to following or subrecords")
	}
	if r.Filter != nil && r.Scope != ScopeFollowing && r.Scope != ScopeSubrecords {
		iss.add(path, "filter requires apply_to following or subrecords")
	}
	if r.SubrecordType != "" && r.Kind != KindCoordinate && r.Kind != KindVariable {
		iss.add(path, "subrecord_type is only valid on coordinates and variables")
	}
	if r.Directional && r.Kind != KindCoordinate {
		iss.add(path, "directional is only valid on coordinates")
	}
	if r.IterateAfter && r.Kind != KindMetadataMap {
		iss.add(path, "iterate_after is only valid on metadata_map rules")
	}
	if r.Kind == KindScale && (r.Scope != ScopeFollowing || r.Filter != nil) {
		iss.add(path, "scale rule must apply_to following without a filter")
	}
	if r.Duration != "" {
		if !r.Duration.valid() {
			iss.add(path, "unknown duration unit %q", r.Duration)
		}
		if !r.AssignsValue() {
			iss.add(path, "duration requires a metadata, coordinates or variables rule")
		}
	}
}
