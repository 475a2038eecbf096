package glyph

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// Curve is one drawing command of a stroke outline.
type Curve struct {
	Command    string    `json:"command"`
	Parameters []float64 `json:"parameterList"`
}

// StrokeShape is a raw stroke outline.
type StrokeShape struct {
	Feature string     `json:"feature"`
	Start   [2]float64 `json:"start"`
	Curves  []Curve    `json:"curveList"`
}

// Stroke is either a raw shape or a reference to a numbered stroke of the
// source glyph. References encode as bare integers.
type Stroke struct {
	Shape     *StrokeShape
	Reference int
}

// StrokeRef returns a stroke referring to stroke index i of the source glyph.
func StrokeRef(i int) Stroke {
	return Stroke{Reference: i}
}

// IsReference reports whether s refers to a stroke of another glyph.
func (s Stroke) IsReference() bool {
	return s.Shape == nil
}

// MarshalJSON encodes a reference as its index and a shape as an object.
func (s Stroke) MarshalJSON() ([]byte, error) {
	if s.Shape == nil {
		return json.Marshal(s.Reference)
	}
	return json.Marshal(s.Shape)
}

// UnmarshalJSON accepts a bare index, a shape object, or the legacy
// {"feature": "reference", "index": n} object.
func (s *Stroke) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) > 0 && data[0] == '{' {
		var raw struct {
			StrokeShape
			Index *int `json:"index"`
		}
		if err := json.Unmarshal(data, &raw); err != nil {
			return err
		}
		if raw.Feature == "reference" && raw.Index != nil {
			*s = Stroke{Reference: *raw.Index}
			return nil
		}
		shape := raw.StrokeShape
		*s = Stroke{Shape: &shape}
		return nil
	}

	var index int
	if err := json.Unmarshal(data, &index); err != nil {
		return fmt.Errorf("stroke is neither a shape nor a stroke index: %w", err)
	}
	*s = Stroke{Reference: index}
	return nil
}
