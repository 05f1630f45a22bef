package rules

import (
	"bytes"
	"fmt"
	"slices"
	"strconv"

	"github.com/couchcryptid/obs-decoder-service/internal/domain"
	"gopkg.in/yaml.v3"
)

// Marshal writes the table back out as YAML in structured form. The output
// is deterministic and parses to a table with identical resolution results.
func Marshal(t *Table) ([]byte, error) {
	root := &yaml.Node{Kind: yaml.MappingNode}
	for _, c := range t.Codes() {
		root.Content = append(root.Content, strNode(c.String()), entryNode(t.entries[c]))
	}
	if len(t.composites) > 0 {
		list := &yaml.Node{Kind: yaml.SequenceNode}
		for _, c := range t.composites {
			list.Content = append(list.Content, compositeNode(c))
		}
		root.Content = append(root.Content, strNode("composites"), list)
	}
	var buf bytes.Buffer
	enc := yaml.NewEncoder(&buf)
	enc.SetIndent(2)
	if err := enc.Encode(root); err != nil {
		return nil, fmt.Errorf("marshal rule table: %w", err)
	}
	if err := enc.Close(); err != nil {
		return nil, fmt.Errorf("marshal rule table: %w", err)
	}
	return buf.Bytes(), nil
}

func entryNode(e *Entry) *yaml.Node {
	n := &yaml.Node{Kind: yaml.MappingNode}
	if r := e.Rule; r != nil {
		n.Content = append(n.Content, strNode("type"), strNode(r.Kind.String()))
		n.Content = append(n.Content, strNode("apply_to"), strNode(r.Scope.String()))
		if r.Name != "" {
			n.Content = append(n.Content, strNode("name"), strNode(r.Name))
		}
		if r.Filter != nil {
			n.Content = append(n.Content, strNode("filter"), listNode(r.Filter))
		}
		if r.Deferred {
			n.Content = append(n.Content, strNode("deferred"), boolNode(true))
		}
		if len(r.RemoveMetadata) > 0 {
			n.Content = append(n.Content, strNode("remove_metadata"), listNode(r.RemoveMetadata))
		}
		if r.ValueMap != nil {
			n.Content = append(n.Content, strNode("value_map"), valueMapNode(r.ValueMap, true))
		}
		if r.MetadataMap != nil {
			n.Content = append(n.Content, strNode("map"), valueMapNode(r.MetadataMap, false))
		}
		if r.Match != nil {
			n.Content = append(n.Content, strNode("match"), valueNode(*r.Match))
		}
		if r.IterateAfter {
			n.Content = append(n.Content, strNode("iterate_after"), boolNode(true))
		}
		if r.SubrecordType != "" {
			n.Content = append(n.Content, strNode("subrecord_type"), strNode(r.SubrecordType))
		}
		if r.Directional {
			n.Content = append(n.Content, strNode("directional"), boolNode(true))
		}
		if r.Metadata != nil {
			n.Content = append(n.Content, strNode("metadata"), valueMapNode(r.Metadata, false))
		}
		if r.Value != nil {
			n.Content = append(n.Content, strNode("value"), valueNode(*r.Value))
		}
		if r.Duration != "" {
			n.Content = append(n.Content, strNode("duration"), strNode(string(r.Duration)))
		}
	}
	if len(e.Context) > 0 {
		ctx := &yaml.Node{Kind: yaml.MappingNode}
		codes := make([]Code, 0, len(e.Context))
		for c := range e.Context {
			codes = append(codes, c)
		}
		slices.Sort(codes)
		for _, c := range codes {
			ctx.Content = append(ctx.Content, strNode(c.String()), entryNode(e.Context[c]))
		}
		n.Content = append(n.Content, strNode("context"), ctx)
	}
	return n
}

func strNode(s string) *yaml.Node {
	return &yaml.Node{Kind: yaml.ScalarNode, Tag: "!!str", Value: s}
}

// numNode leaves the tag implicit so integers and floats print plainly.
func numNode(s string) *yaml.Node {
	return &yaml.Node{Kind: yaml.ScalarNode, Value: s}
}

func boolNode(b bool) *yaml.Node {
	return &yaml.Node{Kind: yaml.ScalarNode, Tag: "!!bool", Value: strconv.FormatBool(b)}
}

func listNode(items []string) *yaml.Node {
	n := &yaml.Node{Kind: yaml.SequenceNode, Style: yaml.FlowStyle}
	for _, s := range items {
		n.Content = append(n.Content, strNode(s))
	}
	return n
}

// valueMapNode writes map keys in sorted order. Raw value keys are written
// untagged so numeric keys stay numeric on reload.
func valueMapNode(m map[string]domain.Value, rawKeys bool) *yaml.Node {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	n := &yaml.Node{Kind: yaml.MappingNode}
	for _, k := range keys {
		key := strNode(k)
		if rawKeys {
			if _, err := strconv.ParseFloat(k, 64); err == nil {
				key = numNode(k)
			}
		}
		n.Content = append(n.Content, key, valueNode(m[k]))
	}
	return n
}

func valueNode(v domain.Value) *yaml.Node {
	switch v.Kind() {
	case domain.ValueNumber:
		return numNode(v.Key())
	case domain.ValueText:
		return strNode(v.Key())
	case domain.ValueEnum:
		return &yaml.Node{
			Kind:    yaml.MappingNode,
			Style:   yaml.FlowStyle,
			Content: []*yaml.Node{strNode("code"), numNode(v.Key())},
		}
	default:
		return &yaml.Node{Kind: yaml.ScalarNode, Tag: "!!null", Value: "null"}
	}
}
