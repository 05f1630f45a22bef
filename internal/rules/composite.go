package rules

import (
	"fmt"
	"slices"
	"strings"

	"gopkg.in/yaml.v3"
)

// Compose is how a composite turns its member values into one value.
type Compose uint8

const (
	// ComposeJoin joins the members' text forms with Separator, zero-padding
	// each to its Pad width.
	ComposeJoin Compose = iota
	// ComposeDateTime builds an ISO 8601 timestamp from year, month, day and
	// optional hour, minute, second. Trailing missing members are dropped.
	ComposeDateTime
	// ComposeInterval writes each member as an ISO 8601 duration in Unit and
	// joins them with "/".
	ComposeInterval
	// ComposeQuality reads a GTSPP "applies to" code and a flag, and sets a
	// Quality annotation on the named coordinates or variables.
	ComposeQuality
)

var composeNames = map[Compose]string{
	ComposeJoin:     "join",
	ComposeDateTime: "datetime",
	ComposeInterval: "interval",
	ComposeQuality:  "quality",
}

func (c Compose) String() string {
	if s, ok := composeNames[c]; ok {
		return s
	}
	return fmt.Sprintf("Compose(%d)", uint8(c))
}

func parseCompose(s string) (Compose, bool) {
	for k, v := range composeNames {
		if v == s {
			return k, true
		}
	}
	return 0, false
}

// DurationUnit is the unit of a numeric time period.
type DurationUnit string

const (
	UnitYears   DurationUnit = "Y"
	UnitMonths  DurationUnit = "MO"
	UnitDays    DurationUnit = "D"
	UnitHours   DurationUnit = "H"
	UnitMinutes DurationUnit = "MIN"
	UnitSeconds DurationUnit = "S"
)

func (u DurationUnit) valid() bool {
	switch u {
	case UnitYears, UnitMonths, UnitDays, UnitHours, UnitMinutes, UnitSeconds:
		return true
	default:
		return false
	}
}

// Composite reads a run of consecutive elements as one value. A run starts
// at the first member code and continues while the next value token carries
// the next member code; Enter and Leave of a Through code do not break it.
// Runs that end short of MinMembers, or with some members missing, are
// decoded element by element instead.
type Composite struct {
	Name    string
	Codes   []Code
	Min     int
	Through []Code
	Compose Compose

	Separator string
	Pad       []int
	Unit      DurationUnit

	// Targets maps an "applies to" value key to the fields it flags.
	Targets map[string][]string

	// Rule is applied to the composed value. When nil, the rule of the
	// first member code is resolved in the current context instead.
	Rule *Rule
}

// MinMembers is the number of members a run needs before it can compose.
func (c *Composite) MinMembers() int {
	if c.Min > 0 {
		return c.Min
	}
	return len(c.Codes)
}

// Passes reports whether a group with this code may open or close inside a run.
func (c *Composite) Passes(code Code) bool {
	return slices.Contains(c.Through, code)
}

// Composites returns the composites in declaration order.
func (t *Table) Composites() []*Composite { return t.composites }

// CompositesFrom returns the composites whose first member is code.
func (t *Table) CompositesFrom(code Code) []*Composite {
	var out []*Composite
	for _, c := range t.composites {
		if c.Codes[0] == code {
			out = append(out, c)
		}
	}
	return out
}

func decodeComposites(iss *Issues, n *yaml.Node) []*Composite {
	if n.Kind != yaml.SequenceNode {
		iss.add("composites", "must be a list (line %d)", n.Line)
		return nil
	}
	out := make([]*Composite, 0, len(n.Content))
	for i, item := range n.Content {
		if c := decodeComposite(iss, fmt.Sprintf("composites[%d]", i), item); c != nil {
			out = append(out, c)
		}
	}
	return out
}

func decodeComposite(iss *Issues, path string, n *yaml.Node) *Composite {
	if n.Kind != yaml.MappingNode {
		iss.add(path, "composite must be a mapping (line %d)", n.Line)
		return nil
	}
	c := &Composite{}
	compose := "join"
	for i := 0; i+1 < len(n.Content); i += 2 {
		key, val := n.Content[i].Value, n.Content[i+1]
		var err error
		switch key {
		case "name":
			c.Name, err = scalarString(val)
		case "codes":
			c.Codes, err = codeList(val)
		case "through":
			c.Through, err = codeList(val)
		case "min":
			err = val.Decode(&c.Min)
		case "compose":
			compose, err = scalarString(val)
		case "separator":
			c.Separator = val.Value
		case "pad":
			err = val.Decode(&c.Pad)
		case "unit":
			var u string
			u, err = scalarString(val)
			c.Unit = DurationUnit(strings.ToUpper(u))
		case "targets":
			c.Targets, err = targetMap(val)
		case "rule":
			e := decodeEntry(iss, path+".rule", val)
			switch {
			case e == nil:
			case len(e.Context) > 0 || e.Rule == nil:
				err = fmt.Errorf("context overrides are not supported here")
			default:
				c.Rule = e.Rule
			}
		default:
			err = fmt.Errorf("unknown key %q", key)
		}
		if err != nil {
			iss.add(path, "%s (line %d): %v", key, val.Line, err)
		}
	}
	kind, ok := parseCompose(compose)
	if !ok {
		iss.add(path, "unknown compose %q", compose)
		return nil
	}
	c.Compose = kind
	return c
}

func codeList(n *yaml.Node) ([]Code, error) {
	if n.Kind != yaml.SequenceNode {
		return nil, fmt.Errorf("expected a list of codes")
	}
	out := make([]Code, 0, len(n.Content))
	for _, item := range n.Content {
		c, err := ParseCode(item.Value)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, nil
}

// targetMap keys are raw values, normalized like value_map keys.
func targetMap(n *yaml.Node) (map[string][]string, error) {
	if n.Kind != yaml.MappingNode {
		return nil, fmt.Errorf("expected a mapping")
	}
	out := make(map[string][]string, len(n.Content)/2)
	for i := 0; i+1 < len(n.Content); i += 2 {
		k, v := n.Content[i], n.Content[i+1]
		kv, err := decodeValue(k)
		if err != nil || kv.IsMissing() {
			return nil, fmt.Errorf("key %q: not a value", k.Value)
		}
		names, err := stringList(v)
		if err != nil {
			return nil, fmt.Errorf("%q: %w", k.Value, err)
		}
		out[kv.Key()] = names
	}
	return out, nil
}

func validateComposites(iss *Issues, list []*Composite, entries map[Code]*Entry) {
	seen := map[string]bool{}
	for i, c := range list {
		path := fmt.Sprintf("composites[%d]", i)
		if c.Name == "" {
			iss.add(path, "composite requires a name")
		} else {
			path = "composite " + c.Name
			if seen[c.Name] {
				iss.add(path, "duplicate composite name")
			}
			seen[c.Name] = true
		}
		if len(c.Codes) < 2 {
			iss.add(path, "composite needs at least two codes")
			continue
		}
		for _, code := range c.Codes {
			if code.Structural() {
				iss.add(path, "member %s is structural", code)
			}
		}
		for _, code := range c.Through {
			if !code.Structural() {
				iss.add(path, "through code %s is not structural", code)
			}
		}
		if c.Min < 0 || c.Min > len(c.Codes) {
			iss.add(path, "min %d out of range 1..%d", c.Min, len(c.Codes))
		}
		if c.Pad != nil && len(c.Pad) != len(c.Codes) {
			iss.add(path, "pad needs one width per code")
		}
		switch c.Compose {
		case ComposeQuality:
			if len(c.Codes) != 2 {
				iss.add(path, "quality composite takes an applies-to code and a flag code")
			}
			if len(c.Targets) == 0 {
				iss.add(path, "quality composite requires targets")
			}
			if c.Rule != nil {
				iss.add(path, "quality composite takes no rule")
			}
			continue
		case ComposeInterval:
			if !c.Unit.valid() {
				iss.add(path, "unknown unit %q", c.Unit)
			}
		case ComposeDateTime:
			if c.MinMembers() < 3 || len(c.Codes) > 6 {
				iss.add(path, "datetime needs year, month and day and at most six codes")
			}
		}
		if c.Rule != nil {
			validateRule(iss, path+".rule", c.Rule)
			if !c.Rule.AssignsValue() {
				iss.add(path+".rule", "composite rule must assign a named value")
			}
		} else if _, ok := entries[c.Codes[0]]; !ok {
			iss.add(path, "no rule given and %s has no entry", c.Codes[0])
		}
	}
}

func compositeNode(c *Composite) *yaml.Node {
	n := &yaml.Node{Kind: yaml.MappingNode}
	n.Content = append(n.Content, strNode("name"), strNode(c.Name))
	n.Content = append(n.Content, strNode("codes"), codeListNode(c.Codes))
	n.Content = append(n.Content, strNode("compose"), strNode(c.Compose.String()))
	if c.Min > 0 {
		n.Content = append(n.Content, strNode("min"), numNode(fmt.Sprint(c.Min)))
	}
	if len(c.Through) > 0 {
		n.Content = append(n.Content, strNode("through"), codeListNode(c.Through))
	}
	if c.Separator != "" {
		n.Content = append(n.Content, strNode("separator"), strNode(c.Separator))
	}
	if c.Pad != nil {
		pad := &yaml.Node{Kind: yaml.SequenceNode, Style: yaml.FlowStyle}
		for _, w := range c.Pad {
			pad.Content = append(pad.Content, numNode(fmt.Sprint(w)))
		}
		n.Content = append(n.Content, strNode("pad"), pad)
	}
	if c.Unit != "" {
		n.Content = append(n.Content, strNode("unit"), strNode(string(c.Unit)))
	}
	if len(c.Targets) > 0 {
		t := &yaml.Node{Kind: yaml.MappingNode}
		for _, k := range sortedKeys(c.Targets) {
			t.Content = append(t.Content, numNode(k), listNode(c.Targets[k]))
		}
		n.Content = append(n.Content, strNode("targets"), t)
	}
	if c.Rule != nil {
		n.Content = append(n.Content, strNode("rule"), entryNode(&Entry{Rule: c.Rule}))
	}
	return n
}

func codeListNode(codes []Code) *yaml.Node {
	n := &yaml.Node{Kind: yaml.SequenceNode, Style: yaml.FlowStyle}
	for _, c := range codes {
		n.Content = append(n.Content, numNode(fmt.Sprint(int(c))))
	}
	return n
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	return keys
}
