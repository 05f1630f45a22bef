package domain

import json "github.com/goccy/go-json"

// Records and subrecords nest through an embedded Container. The encoder
// cannot compile that recursive embedding, so both types marshal through
// flat wire structs and the recursion is broken at each Subrecord.

type recordWire struct {
	Metadata    map[string]Value `json:"metadata,omitempty"`
	Coordinates []Assignment     `json:"coordinates,omitempty"`
	Variables   []Assignment     `json:"variables,omitempty"`
	Subrecords  []*Subrecord     `json:"subrecords,omitempty"`
}

type subrecordWire struct {
	Type        string           `json:"type"`
	Direction   *Direction       `json:"direction,omitempty"`
	Metadata    map[string]Value `json:"metadata,omitempty"`
	Coordinates []Assignment     `json:"coordinates,omitempty"`
	Variables   []Assignment     `json:"variables,omitempty"`
	Subrecords  []*Subrecord     `json:"subrecords,omitempty"`
}

func (c Container) wire() recordWire {
	return recordWire(c)
}

func (r ObservationRecord) MarshalJSON() ([]byte, error) {
	return json.Marshal(r.Container.wire())
}

func (r *ObservationRecord) UnmarshalJSON(data []byte) error {
	var w recordWire
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}
	r.Container = Container(w)
	return nil
}

func (s Subrecord) MarshalJSON() ([]byte, error) {
	return json.Marshal(subrecordWire{
		Type:        s.Type,
		Direction:   s.Direction,
		Metadata:    s.Metadata,
		Coordinates: s.Coordinates,
		Variables:   s.Variables,
		Subrecords:  s.Subrecords,
	})
}

func (s *Subrecord) UnmarshalJSON(data []byte) error {
	var w subrecordWire
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}
	*s = Subrecord{
		Type:      w.Type,
		Direction: w.Direction,
		Container: Container{
			Metadata:    w.Metadata,
			Coordinates: w.Coordinates,
			Variables:   w.Variables,
			Subrecords:  w.Subrecords,
		},
	}
	return nil
}
