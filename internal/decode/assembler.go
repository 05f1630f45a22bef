package decode

import (
	"maps"
	"slices"

	"github.com/couchcryptid/obs-decoder-service/internal/domain"
	"github.com/couchcryptid/obs-decoder-service/internal/rules"
)

type itemKind uint8

const (
	itemMetadata itemKind = iota
	itemCoordinate
	itemVariable
)

// pendingItem is an untagged assignment made inside a group before any
// subrecord opened there.
type pendingItem struct {
	kind itemKind
	a    domain.Assignment
}

// frame is one open group. The root frame has code 0 and writes straight to
// the record.
type frame struct {
	code    rules.Code
	root    bool
	parent  *domain.Container
	open    map[string]*domain.Subrecord
	order   []*domain.Subrecord
	current *domain.Subrecord
	pending []pendingItem
}

type siblingKey struct {
	parent *domain.Container
	typ    string
	coord  string
}

type dirState struct {
	last float64
	seen bool
}

// Assembler builds one ObservationRecord. Tagged coordinates and variables
// are routed to the open subrecord of their type in the innermost group,
// everything else to the active container.
type Assembler struct {
	record   *domain.ObservationRecord
	frames   []*frame
	dirs     map[*domain.Subrecord]*dirState
	siblings map[siblingKey]float64
	onClose  func(*domain.Subrecord)
}

// NewAssembler returns an assembler that calls onClose as each subrecord
// instance closes, before it is final.
func NewAssembler(onClose func(*domain.Subrecord)) *Assembler {
	return &Assembler{onClose: onClose}
}

// Reset starts a new record seeded with base metadata.
func (a *Assembler) Reset(base map[string]domain.Value) {
	a.record = domain.NewObservationRecord()
	maps.Copy(a.record.Metadata, base)
	a.frames = []*frame{{root: true, parent: &a.record.Container, open: map[string]*domain.Subrecord{}}}
	a.dirs = map[*domain.Subrecord]*dirState{}
	a.siblings = map[siblingKey]float64{}
}

func (a *Assembler) top() *frame { return a.frames[len(a.frames)-1] }

// Active returns the container untagged assignments currently go to, or nil
// when a group is holding them until its first subrecord opens.
func (a *Assembler) Active() *domain.Container {
	f := a.top()
	switch {
	case f.root:
		return f.parent
	case f.current != nil:
		return &f.current.Container
	default:
		return nil
	}
}

// Enter opens a group. Subrecords created inside it attach to the container
// active now.
func (a *Assembler) Enter(code rules.Code) {
	parent := a.Active()
	if parent == nil {
		parent = a.top().parent
	}
	a.frames = append(a.frames, &frame{code: code, parent: parent, open: map[string]*domain.Subrecord{}})
}

// Leave closes the innermost group: its subrecords close in opening order and
// anything still pending moves to the enclosing group.
func (a *Assembler) Leave() {
	f := a.top()
	if f.root {
		return
	}
	a.closeFrame(f)
	a.frames = a.frames[:len(a.frames)-1]
	for _, p := range f.pending {
		a.put(p.kind, p.a)
	}
}

func (a *Assembler) closeFrame(f *frame) {
	for _, s := range f.order {
		if a.onClose != nil {
			a.onClose(s)
		}
		delete(a.dirs, s)
	}
	f.order = nil
	f.current = nil
	clear(f.open)
}

// Finish closes the root frame and returns the record. The stack must have
// been unwound.
func (a *Assembler) Finish() *domain.ObservationRecord {
	for len(a.frames) > 1 {
		a.Leave()
	}
	a.closeFrame(a.frames[0])
	rec := a.record
	a.record = nil
	return rec
}

// Snapshot returns a deep copy of the record so far. Pending items are not
// part of the record yet.
func (a *Assembler) Snapshot() *domain.ObservationRecord {
	return a.record.Clone()
}

// SetMetadata assigns a metadata field on the active container.
func (a *Assembler) SetMetadata(name string, v domain.Value) {
	a.put(itemMetadata, domain.Assignment{Name: name, Value: v})
}

// Current returns the subrecord open in the innermost group, if any.
func (a *Assembler) Current() *domain.Subrecord {
	return a.top().current
}

// RemoveMetadata clears fields from the active container and from pending items.
func (a *Assembler) RemoveMetadata(names []string) {
	if c := a.Active(); c != nil {
		for _, n := range names {
			delete(c.Metadata, n)
		}
	}
	f := a.top()
	kept := f.pending[:0]
	for _, p := range f.pending {
		if p.kind == itemMetadata && slices.Contains(names, p.a.Name) {
			continue
		}
		kept = append(kept, p)
	}
	f.pending = kept
}

// Annotate sets key on the most recent coordinate or variable called name in
// the active container, or among the pending items of the innermost group.
// Variables are searched before coordinates.
func (a *Assembler) Annotate(name, key string, v domain.Value) bool {
	var lists []*[]domain.Assignment
	if c := a.Active(); c != nil {
		lists = append(lists, &c.Variables, &c.Coordinates)
	}
	for _, l := range lists {
		for i := len(*l) - 1; i >= 0; i-- {
			if (*l)[i].Name == name {
				setAnnotation(&(*l)[i], key, v)
				return true
			}
		}
	}
	f := a.top()
	for i := len(f.pending) - 1; i >= 0; i-- {
		p := &f.pending[i]
		if p.kind != itemMetadata && p.a.Name == name {
			setAnnotation(&p.a, key, v)
			return true
		}
	}
	return false
}

func setAnnotation(asg *domain.Assignment, key string, v domain.Value) {
	if asg.Metadata == nil {
		asg.Metadata = map[string]domain.Value{}
	}
	asg.Metadata[key] = v
}

// AddCoordinate records a coordinate per the rule's subrecord type.
func (a *Assembler) AddCoordinate(r *rules.Rule, asg domain.Assignment) {
	if r.SubrecordType == "" {
		a.put(itemCoordinate, asg)
		return
	}
	sub := a.subrecord(r.SubrecordType)
	sub.Coordinates = append(sub.Coordinates, asg)
	if r.Directional {
		a.direction(sub, asg)
	}
}

// AddVariable records a variable per the rule's subrecord type.
func (a *Assembler) AddVariable(r *rules.Rule, asg domain.Assignment) {
	if r.SubrecordType == "" {
		a.put(itemVariable, asg)
		return
	}
	sub := a.subrecord(r.SubrecordType)
	sub.Variables = append(sub.Variables, asg)
}

func (a *Assembler) put(kind itemKind, asg domain.Assignment) {
	c := a.Active()
	if c == nil {
		f := a.top()
		f.pending = append(f.pending, pendingItem{kind: kind, a: asg})
		return
	}
	switch kind {
	case itemMetadata:
		c.SetMetadata(asg.Name, asg.Value)
	case itemCoordinate:
		c.Coordinates = append(c.Coordinates, asg)
	case itemVariable:
		c.Variables = append(c.Variables, asg)
	}
}

// subrecord returns the open instance of typ in the innermost group, starting
// one if needed. The first instance opened in a group takes its pending items.
func (a *Assembler) subrecord(typ string) *domain.Subrecord {
	f := a.top()
	if s, ok := f.open[typ]; ok {
		f.current = s
		return s
	}
	s := &domain.Subrecord{Type: typ}
	f.parent.Subrecords = append(f.parent.Subrecords, s)
	f.open[typ] = s
	f.order = append(f.order, s)
	f.current = s
	if len(f.pending) > 0 {
		pending := f.pending
		f.pending = nil
		for _, p := range pending {
			a.put(p.kind, p.a)
		}
	}
	return s
}

// direction records the sign of each step of a directional coordinate inside
// an instance, and of the first value against the previous sibling's last.
func (a *Assembler) direction(sub *domain.Subrecord, asg domain.Assignment) {
	v, ok := asg.Value.AsFloat()
	if !ok {
		return
	}
	if sub.Direction == nil {
		sub.Direction = &domain.Direction{Coordinate: asg.Name}
	} else if sub.Direction.Coordinate != asg.Name {
		return
	}
	key := siblingKey{parent: a.top().parent, typ: sub.Type, coord: asg.Name}
	st := a.dirs[sub]
	if st == nil {
		st = &dirState{}
		a.dirs[sub] = st
	}
	if st.seen {
		sub.Direction.Steps = append(sub.Direction.Steps, sign(v-st.last))
	} else if prev, ok := a.siblings[key]; ok {
		sub.Direction.FromPrevious = sign(v - prev)
	}
	st.last, st.seen = v, true
	a.siblings[key] = v
}

func sign(d float64) int {
	switch {
	case d > 0:
		return 1
	case d < 0:
		return -1
	default:
		return 0
	}
}
