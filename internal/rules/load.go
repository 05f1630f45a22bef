package rules

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/couchcryptid/obs-decoder-service/internal/domain"
	"gopkg.in/yaml.v3"
)

// Load reads and parses a rule table file.
func Load(path string) (*Table, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read rule table: %w", err)
	}
	t, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("load %s: %w", path, err)
	}
	return t, nil
}

// Parse builds a table from YAML (or JSON) source. Top-level keys are
// descriptor codes; values are shorthand strings or rule mappings. The
// optional "composites" key lists multi-element rules. Every problem found
// is returned together as Issues.
func Parse(data []byte) (*Table, error) {
	var doc yaml.Node
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("parse rule table: %w", err)
	}
	entries := map[Code]*Entry{}
	var composites []*Composite
	var iss Issues

	root := &doc
	if root.Kind == yaml.DocumentNode && len(root.Content) > 0 {
		root = root.Content[0]
	}
	switch root.Kind {
	case 0, yaml.DocumentNode:
		// empty file
	case yaml.MappingNode:
		for i := 0; i+1 < len(root.Content); i += 2 {
			k, v := root.Content[i], root.Content[i+1]
			if k.Value == "composites" {
				composites = append(composites, decodeComposites(&iss, v)...)
				continue
			}
			code, err := ParseCode(k.Value)
			if err != nil {
				iss.add(fmt.Sprintf("line %d", k.Line), "%v", err)
				continue
			}
			if _, dup := entries[code]; dup {
				iss.add(code.String(), "duplicate code on line %d", k.Line)
				continue
			}
			if e := decodeEntry(&iss, code.String(), v); e != nil {
				entries[code] = e
			}
		}
	default:
		return nil, fmt.Errorf("parse rule table: top level must be a mapping of codes, got line %d", root.Line)
	}

	if err := Validate(entries); err != nil {
		var more Issues
		if errors.As(err, &more) {
			iss = append(iss, more...)
		}
	}
	validateComposites(&iss, composites, entries)
	if len(iss) > 0 {
		return nil, iss
	}

	sum := sha256.Sum256(data)
	return &Table{entries: entries, composites: composites, version: hex.EncodeToString(sum[:6])}, nil
}

func decodeEntry(iss *Issues, path string, n *yaml.Node) *Entry {
	switch n.Kind {
	case yaml.ScalarNode:
		r, err := parseShorthand(n.Value)
		if err != nil {
			iss.add(path, "%v", err)
			return nil
		}
		return &Entry{Rule: r}
	case yaml.MappingNode:
		return decodeMapping(iss, path, n)
	default:
		iss.add(path, "rule must be a string or a mapping (line %d)", n.Line)
		return nil
	}
}

func parseShorthand(s string) (*Rule, error) {
	s = strings.TrimSpace(s)
	switch s {
	case "noop":
		return &Rule{Kind: KindNoop, Scope: ScopeNoop}, nil
	case "raise":
		return &Rule{Kind: KindRaise, Scope: ScopeRaise}, nil
	case "scale":
		return &Rule{Kind: KindScale, Scope: ScopeFollowing}, nil
	}
	parts := strings.Split(s, ":")
	switch {
	case len(parts) == 2:
		kind, ok := parseKind(parts[0])
		if !ok || !(kind == KindMetadata || kind == KindCoordinate || kind == KindVariable) {
			break
		}
		return &Rule{Kind: kind, Name: strings.TrimSpace(parts[1]), Scope: ScopeTarget}, nil
	case len(parts) == 3 && (parts[0] == "next_vars" || parts[0] == "next_recs"):
		if parts[1] != "metadata" {
			return nil, fmt.Errorf("shorthand %q: only metadata can be applied to %s", s, parts[0])
		}
		scope := ScopeFollowing
		if parts[0] == "next_recs" {
			scope = ScopeSubrecords
		}
		return &Rule{Kind: KindMetadata, Name: strings.TrimSpace(parts[2]), Scope: scope, Deferred: true}, nil
	}
	return nil, fmt.Errorf("unrecognized shorthand %q", s)
}

func decodeMapping(iss *Issues, path string, n *yaml.Node) *Entry {
	e := &Entry{}
	r := &Rule{}
	var typ, applyTo string
	fields := 0

	for i := 0; i+1 < len(n.Content); i += 2 {
		key, val := n.Content[i].Value, n.Content[i+1]
		if key == "context" {
			e.Context = decodeContext(iss, path, val)
			continue
		}
		fields++
		var err error
		switch key {
		case "type":
			typ, err = scalarString(val)
		case "name":
			r.Name, err = scalarString(val)
		case "apply_to":
			applyTo, err = scalarString(val)
		case "filter":
			r.Filter, err = stringList(val)
		case "remove_metadata":
			r.RemoveMetadata, err = stringList(val)
		case "deferred":
			err = val.Decode(&r.Deferred)
		case "iterate_after":
			err = val.Decode(&r.IterateAfter)
		case "directional":
			err = val.Decode(&r.Directional)
		case "subrecord_type":
			r.SubrecordType, err = scalarString(val)
		case "value_map":
			r.ValueMap, err = valueMap(val, true)
		case "map":
			r.MetadataMap, err = valueMap(val, false)
		case "metadata":
			r.Metadata, err = valueMap(val, false)
		case "match":
			var v domain.Value
			v, err = decodeValue(val)
			r.Match = &v
		case "value":
			var v domain.Value
			v, err = decodeValue(val)
			r.Value = &v
		case "duration":
			var u string
			u, err = scalarString(val)
			r.Duration = DurationUnit(strings.ToUpper(u))
		default:
			err = fmt.Errorf("unknown key %q", key)
		}
		if err != nil {
			iss.add(path, "%s (line %d): %v", key, val.Line, err)
		}
	}

	if fields == 0 {
		if len(e.Context) == 0 {
			iss.add(path, "empty rule mapping (line %d)", n.Line)
			return nil
		}
		return e
	}

	kind, okKind := parseKind(typ)
	scope, okScope := parseScope(applyTo)
	if !okKind {
		iss.add(path, "unknown type %q", typ)
		return nil
	}
	if !okScope {
		iss.add(path, "unknown apply_to %q", applyTo)
		return nil
	}
	switch {
	case kind == KindNoop || scope == ScopeNoop:
		kind, scope = KindNoop, ScopeNoop
	case kind == KindRaise || scope == ScopeRaise:
		kind, scope = KindRaise, ScopeRaise
	}
	r.Kind, r.Scope = kind, scope
	e.Rule = r
	return e
}

func decodeContext(iss *Issues, path string, n *yaml.Node) map[Code]*Entry {
	if n.Kind != yaml.MappingNode {
		iss.add(path, "context must be a mapping of codes (line %d)", n.Line)
		return nil
	}
	out := make(map[Code]*Entry, len(n.Content)/2)
	for i := 0; i+1 < len(n.Content); i += 2 {
		k, v := n.Content[i], n.Content[i+1]
		code, err := ParseCode(k.Value)
		if err != nil {
			iss.add(path, "context key (line %d): %v", k.Line, err)
			continue
		}
		sub := path + ">" + code.String()
		if _, dup := out[code]; dup {
			iss.add(sub, "duplicate context code on line %d", k.Line)
			continue
		}
		if e := decodeEntry(iss, sub, v); e != nil {
			out[code] = e
		}
	}
	return out
}

func scalarString(n *yaml.Node) (string, error) {
	if n.Kind != yaml.ScalarNode {
		return "", errors.New("expected a string")
	}
	return strings.TrimSpace(n.Value), nil
}

// stringList accepts a sequence or a single string.
func stringList(n *yaml.Node) ([]string, error) {
	switch n.Kind {
	case yaml.ScalarNode:
		return []string{strings.TrimSpace(n.Value)}, nil
	case yaml.SequenceNode:
		out := make([]string, 0, len(n.Content))
		for _, c := range n.Content {
			s, err := scalarString(c)
			if err != nil {
				return nil, err
			}
			out = append(out, s)
		}
		return out, nil
	default:
		return nil, errors.New("expected a list of names")
	}
}

// valueMap decodes a mapping of scalar keys to values. Keys of value maps are
// raw values and are normalized through domain.Value.Key.
func valueMap(n *yaml.Node, rawKeys bool) (map[string]domain.Value, error) {
	if n.Kind != yaml.MappingNode {
		return nil, errors.New("expected a mapping")
	}
	out := make(map[string]domain.Value, len(n.Content)/2)
	for i := 0; i+1 < len(n.Content); i += 2 {
		k, v := n.Content[i], n.Content[i+1]
		key := k.Value
		if rawKeys {
			kv, err := decodeValue(k)
			if err != nil {
				return nil, fmt.Errorf("key %q: %w", k.Value, err)
			}
			if kv.IsMissing() {
				return nil, errors.New("null is not a valid value_map key")
			}
			key = kv.Key()
		}
		val, err := decodeValue(v)
		if err != nil {
			return nil, fmt.Errorf("%q: %w", key, err)
		}
		if _, dup := out[key]; dup {
			return nil, fmt.Errorf("duplicate key %q", key)
		}
		out[key] = val
	}
	return out, nil
}

// decodeValue maps a YAML node onto a domain.Value: null, numbers, strings
// and the {code: n} form for code-table entries.
func decodeValue(n *yaml.Node) (domain.Value, error) {
	switch n.Kind {
	case yaml.ScalarNode:
		switch n.ShortTag() {
		case "!!null":
			return domain.Missing(), nil
		case "!!int", "!!float":
			var f float64
			if err := n.Decode(&f); err != nil {
				return domain.Value{}, err
			}
			return domain.Number(f), nil
		default:
			return domain.Text(n.Value), nil
		}
	case yaml.MappingNode:
		if len(n.Content) == 2 && n.Content[0].Value == "code" {
			var c int64
			if err := n.Content[1].Decode(&c); err != nil {
				return domain.Value{}, err
			}
			return domain.Enum(c), nil
		}
	}
	return domain.Value{}, fmt.Errorf("unsupported value on line %d", n.Line)
}
