package glyph

import (
	"encoding/json"
	"errors"
	"fmt"
)

// ErrEmptyDecomposition is returned when encoding a decomposition with no variant set.
var ErrEmptyDecomposition = errors.New("decomposition has no variant")

// BasicComponent is a leaf glyph described only by its strokes.
type BasicComponent struct {
	Strokes []Stroke `json:"strokes"`
}

// DerivedComponent is a structural variant of a source glyph.
type DerivedComponent struct {
	Source  string   `json:"source,omitempty"`
	Strokes []Stroke `json:"strokes"`
}

// Compound combines two or more operand glyphs under an operator such as
// ⿰ (left-right) or ⿱ (top-bottom).
type Compound struct {
	Operator string   `json:"operator"`
	Operands []string `json:"operandList"`
}

// Decomposition holds exactly one variant.
type Decomposition struct {
	Basic    *BasicComponent
	Derived  *DerivedComponent
	Compound *Compound
}

// Basic wraps a basic component.
func Basic(strokes ...Stroke) Decomposition {
	return Decomposition{Basic: &BasicComponent{Strokes: strokes}}
}

// Derived wraps a derived component of source.
func Derived(source string, strokes ...Stroke) Decomposition {
	return Decomposition{Derived: &DerivedComponent{Source: source, Strokes: strokes}}
}

// Compose wraps a compound of operands under operator.
func Compose(operator string, operands ...string) Decomposition {
	return Decomposition{Compound: &Compound{Operator: operator, Operands: operands}}
}

// Kind returns the variant kind, or "" when no variant is set.
func (d Decomposition) Kind() Kind {
	switch {
	case d.Basic != nil:
		return KindBasic
	case d.Derived != nil:
		return KindDerived
	case d.Compound != nil:
		return KindCompound
	}
	return ""
}

// MarshalJSON encodes the variant fields alongside a "type" tag.
func (d Decomposition) MarshalJSON() ([]byte, error) {
	switch {
	case d.Basic != nil:
		return json.Marshal(struct {
			Type Kind `json:"type"`
			*BasicComponent
		}{KindBasic, d.Basic})
	case d.Derived != nil:
		return json.Marshal(struct {
			Type Kind `json:"type"`
			*DerivedComponent
		}{KindDerived, d.Derived})
	case d.Compound != nil:
		return json.Marshal(struct {
			Type Kind `json:"type"`
			*Compound
		}{KindCompound, d.Compound})
	}
	return nil, ErrEmptyDecomposition
}

// UnmarshalJSON decodes a tagged variant. Untagged objects from older
// exports are classified the way they were migrated: an operator makes a
// compound, a source makes a derived component, anything else is basic.
func (d *Decomposition) UnmarshalJSON(data []byte) error {
	var head struct {
		Type     Kind            `json:"type"`
		Operator *string         `json:"operator"`
		Source   json.RawMessage `json:"source"`
	}
	if err := json.Unmarshal(data, &head); err != nil {
		return err
	}

	kind := head.Type
	if kind == "" {
		switch {
		case head.Operator != nil:
			kind = KindCompound
		case len(head.Source) > 0 && string(head.Source) != "null":
			kind = KindDerived
		default:
			kind = KindBasic
		}
	}

	*d = Decomposition{}
	switch kind {
	case KindBasic:
		d.Basic = &BasicComponent{}
		return json.Unmarshal(data, d.Basic)
	case KindDerived:
		d.Derived = &DerivedComponent{}
		return json.Unmarshal(data, d.Derived)
	case KindCompound:
		d.Compound = &Compound{}
		return json.Unmarshal(data, d.Compound)
	}
	return fmt.Errorf("unknown decomposition type %q", kind)
}
