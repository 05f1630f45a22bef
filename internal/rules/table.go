package rules

import (
	"errors"
	"fmt"
	"slices"
)

// ErrNoRule is returned by Resolve when neither a default rule nor an
// applicable override exists for a code.
var ErrNoRule = errors.New("no rule for descriptor")

// Table is the immutable code-to-rule mapping. A Table is safe for concurrent
// use once built.
type Table struct {
	entries    map[Code]*Entry
	composites []*Composite
	version    string
}

// NewTable builds a table from already-normalized entries. The entries are
// validated and must not be modified afterwards.
func NewTable(entries map[Code]*Entry) (*Table, error) {
	if err := Validate(entries); err != nil {
		return nil, err
	}
	return &Table{entries: entries, version: "inline"}, nil
}

// Version identifies the source the table was loaded from.
func (t *Table) Version() string { return t.version }

// Len returns the number of codes with an entry.
func (t *Table) Len() int { return len(t.entries) }

// Codes returns the codes with an entry in ascending order.
func (t *Table) Codes() []Code {
	out := make([]Code, 0, len(t.entries))
	for c := range t.entries {
		out = append(out, c)
	}
	slices.Sort(out)
	return out
}

// Entry returns the raw entry for a code.
func (t *Table) Entry(code Code) (*Entry, bool) {
	e, ok := t.entries[code]
	return e, ok
}

// Resolve returns the effective rule for code given the open structural codes
// in path, outermost first. The innermost enclosing code with an override wins.
// An override entry may itself carry overrides, which are resolved against the
// part of the path outside the code that selected it.
func (t *Table) Resolve(code Code, path []Code) (*Rule, error) {
	e, ok := t.entries[code]
	if !ok {
		return nil, fmt.Errorf("%w %s", ErrNoRule, code)
	}
	if r := resolveEntry(e, path); r != nil {
		return r, nil
	}
	return nil, fmt.Errorf("%w %s in context %v", ErrNoRule, code, path)
}

func resolveEntry(e *Entry, path []Code) *Rule {
	if len(e.Context) > 0 {
		for i := len(path) - 1; i >= 0; i-- {
			sub, ok := e.Context[path[i]]
			if !ok {
				continue
			}
			if r := resolveEntry(sub, path[:i]); r != nil {
				return r
			}
		}
	}
	return e.Rule
}
