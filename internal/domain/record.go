package domain

// Assignment is one coordinate or variable value together with its annotations.
type Assignment struct {
	Name     string           `json:"name"`
	Value    Value            `json:"value"`
	Metadata map[string]Value `json:"metadata,omitempty"`
}

// Container holds the fields shared by records and subrecords.
type Container struct {
	Metadata    map[string]Value `json:"metadata,omitempty"`
	Coordinates []Assignment     `json:"coordinates,omitempty"`
	Variables   []Assignment     `json:"variables,omitempty"`
	Subrecords  []*Subrecord     `json:"subrecords,omitempty"`
}

// Direction records the raw order of a directional coordinate (depth,
// pressure). Each entry is the sign (-1, 0, +1) of the difference between
// consecutive values; interpreting it is left to consumers.
type Direction struct {
	Coordinate string `json:"coordinate"`

	// Steps compares successive values inside one subrecord instance.
	Steps []int `json:"steps,omitempty"`

	// FromPrevious compares the first value of this instance with the last
	// value of the previous sibling instance of the same type.
	FromPrevious int `json:"from_previous,omitempty"`
}

// Subrecord is one instance of a repeated group, e.g. one profile level.
type Subrecord struct {
	Type      string     `json:"type"`
	Direction *Direction `json:"direction,omitempty"`
	Container
}

// ObservationRecord is the decoded form of one message subset.
type ObservationRecord struct {
	Container
}

// NewObservationRecord returns an empty record ready for assembly.
func NewObservationRecord() *ObservationRecord {
	return &ObservationRecord{Container: Container{Metadata: map[string]Value{}}}
}

// SetMetadata overwrites a metadata field.
func (c *Container) SetMetadata(name string, v Value) {
	if c.Metadata == nil {
		c.Metadata = map[string]Value{}
	}
	c.Metadata[name] = v
}

// MetadataValue returns a metadata field.
func (c *Container) MetadataValue(name string) (Value, bool) {
	v, ok := c.Metadata[name]
	return v, ok
}

// Coordinate returns the first coordinate assignment with the given name.
func (c *Container) Coordinate(name string) (Assignment, bool) {
	return findAssignment(c.Coordinates, name)
}

// Variable returns the first variable assignment with the given name.
func (c *Container) Variable(name string) (Assignment, bool) {
	return findAssignment(c.Variables, name)
}

// SubrecordsOfType returns the direct subrecords with the given type, in order.
func (c *Container) SubrecordsOfType(typ string) []*Subrecord {
	var out []*Subrecord
	for _, s := range c.Subrecords {
		if s.Type == typ {
			out = append(out, s)
		}
	}
	return out
}

// Has reports whether a coordinate or variable with the given name was assigned.
func (c *Container) Has(name string) bool {
	if _, ok := c.Coordinate(name); ok {
		return true
	}
	_, ok := c.Variable(name)
	return ok
}

func findAssignment(list []Assignment, name string) (Assignment, bool) {
	for _, a := range list {
		if a.Name == name {
			return a, true
		}
	}
	return Assignment{}, false
}

// Clone returns a deep copy of the record.
func (r *ObservationRecord) Clone() *ObservationRecord {
	if r == nil {
		return nil
	}
	return &ObservationRecord{Container: r.Container.clone()}
}

func (c Container) clone() Container {
	out := Container{
		Metadata:    cloneMetadata(c.Metadata),
		Coordinates: cloneAssignments(c.Coordinates),
		Variables:   cloneAssignments(c.Variables),
	}
	if c.Subrecords != nil {
		out.Subrecords = make([]*Subrecord, len(c.Subrecords))
		for i, s := range c.Subrecords {
			out.Subrecords[i] = s.clone()
		}
	}
	return out
}

func (s *Subrecord) clone() *Subrecord {
	out := &Subrecord{Type: s.Type, Container: s.Container.clone()}
	if s.Direction != nil {
		d := *s.Direction
		d.Steps = append([]int(nil), s.Direction.Steps...)
		out.Direction = &d
	}
	return out
}

func cloneAssignments(in []Assignment) []Assignment {
	if in == nil {
		return nil
	}
	out := make([]Assignment, len(in))
	for i, a := range in {
		out[i] = Assignment{Name: a.Name, Value: a.Value, Metadata: cloneMetadata(a.Metadata)}
	}
	return out
}

func cloneMetadata(in map[string]Value) map[string]Value {
	if in == nil {
		return nil
	}
	out := make(map[string]Value, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}
