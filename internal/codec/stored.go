// Package codec converts entries between their storage form, where references
// are integer code points inside serialized JSON text, and their external form,
// where references are literal characters inside typed values.
package codec

import (
	"encoding/json"
	"errors"
	"fmt"
	"unicode/utf8"

	"github.com/zot/repertoire/internal/glyph"
)

var (
	// ErrMalformed is wrapped by errors for unparseable or structurally
	// invalid values.
	ErrMalformed = errors.New("malformed value")

	// ErrCodePoint is wrapped by errors for code points or stroke indexes
	// outside their valid range.
	ErrCodePoint = errors.New("value out of range")
)

// Error reports a conversion failure at a field.
type Error struct {
	Field string
	Err   error
}

func (e *Error) Error() string {
	return fmt.Sprintf("codec: %s: %v", e.Field, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

func malformed(field string, format string, args ...any) error {
	return &Error{Field: field, Err: fmt.Errorf("%w: %s", ErrMalformed, fmt.Sprintf(format, args...))}
}

func outOfRange(field string, format string, args ...any) error {
	return &Error{Field: field, Err: fmt.Errorf("%w: %s", ErrCodePoint, fmt.Sprintf(format, args...))}
}

// Stored is the storage shape of one decomposition. Only the fields of Kind
// are meaningful.
type Stored struct {
	Kind     glyph.Kind
	Source   *rune
	Strokes  []glyph.Stroke
	Operator string
	Operands []rune
}

// RewriteSource replaces a derived source equal to from. It reports whether
// anything changed.
func (s *Stored) RewriteSource(from, to rune) bool {
	if s.Kind != glyph.KindDerived || s.Source == nil || *s.Source != from {
		return false
	}
	s.Source = &to
	return true
}

// RewriteOperands replaces every operand equal to from and returns how many
// were replaced.
func (s *Stored) RewriteOperands(from, to rune) int {
	if s.Kind != glyph.KindCompound {
		return 0
	}
	n := 0
	for i, op := range s.Operands {
		if op == from {
			s.Operands[i] = to
			n++
		}
	}
	return n
}

// encode serializes s. Tagged output carries a "type" field, used where the
// kind is not implied by the column.
func (s *Stored) encode(tagged bool) ([]byte, error) {
	var typ glyph.Kind
	if tagged {
		typ = s.Kind
	}
	switch s.Kind {
	case glyph.KindBasic:
		return json.Marshal(struct {
			Type    glyph.Kind     `json:"type,omitempty"`
			Strokes []glyph.Stroke `json:"strokes"`
		}{typ, s.Strokes})
	case glyph.KindDerived:
		return json.Marshal(struct {
			Type    glyph.Kind     `json:"type,omitempty"`
			Source  *rune          `json:"source,omitempty"`
			Strokes []glyph.Stroke `json:"strokes"`
		}{typ, s.Source, s.Strokes})
	case glyph.KindCompound:
		return json.Marshal(struct {
			Type     glyph.Kind `json:"type,omitempty"`
			Operator string     `json:"operator"`
			Operands []rune     `json:"operandList"`
		}{typ, s.Operator, s.Operands})
	}
	return nil, malformed("type", "unknown decomposition type %q", s.Kind)
}

type storedJSON struct {
	Type     glyph.Kind     `json:"type"`
	Source   *int64         `json:"source"`
	Strokes  []glyph.Stroke `json:"strokes"`
	Operator *string        `json:"operator"`
	Operands []int64        `json:"operandList"`
}

// decode parses one stored decomposition. An empty kind is read from the
// "type" field, or inferred for untagged legacy values.
func decode(field string, data []byte, kind glyph.Kind) (Stored, error) {
	var raw storedJSON
	if err := json.Unmarshal(data, &raw); err != nil {
		return Stored{}, malformed(field, "%v", err)
	}

	if kind == "" {
		kind = raw.Type
	}
	if kind == "" {
		switch {
		case raw.Operator != nil:
			kind = glyph.KindCompound
		case raw.Source != nil:
			kind = glyph.KindDerived
		default:
			kind = glyph.KindBasic
		}
	}

	s := Stored{Kind: kind}
	switch kind {
	case glyph.KindBasic:
		s.Strokes = raw.Strokes
	case glyph.KindDerived:
		if raw.Source != nil {
			r, err := codePoint(field+".source", *raw.Source)
			if err != nil {
				return Stored{}, err
			}
			s.Source = &r
		}
		s.Strokes = raw.Strokes
	case glyph.KindCompound:
		if raw.Operator != nil {
			s.Operator = *raw.Operator
		}
		if len(raw.Operands) < 2 {
			return Stored{}, malformed(field+".operandList", "compound needs at least two operands, got %d", len(raw.Operands))
		}
		s.Operands = make([]rune, len(raw.Operands))
		for i, n := range raw.Operands {
			r, err := codePoint(fmt.Sprintf("%s.operandList[%d]", field, i), n)
			if err != nil {
				return Stored{}, err
			}
			s.Operands[i] = r
		}
	default:
		return Stored{}, malformed(field+".type", "unknown decomposition type %q", kind)
	}
	if err := checkStrokes(field, s.Strokes); err != nil {
		return Stored{}, err
	}
	return s, nil
}

func codePoint(field string, n int64) (rune, error) {
	if n < 0 || n > utf8.MaxRune || !utf8.ValidRune(rune(n)) {
		return 0, outOfRange(field, "%d is not a Unicode scalar value", n)
	}
	return rune(n), nil
}

func checkStrokes(field string, strokes []glyph.Stroke) error {
	for i, st := range strokes {
		if st.IsReference() && st.Reference < 0 {
			return outOfRange(fmt.Sprintf("%s.strokes[%d]", field, i), "negative stroke index %d", st.Reference)
		}
	}
	return nil
}

// DecodeList parses a stored list of tagged decompositions.
func DecodeList(text string) ([]Stored, error) {
	var items []json.RawMessage
	if err := json.Unmarshal([]byte(text), &items); err != nil {
		return nil, malformed("glyphs", "%v", err)
	}
	out := make([]Stored, 0, len(items))
	for i, item := range items {
		s, err := decode(fmt.Sprintf("glyphs[%d]", i), item, "")
		if err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, nil
}

// EncodeList serializes decompositions as a list of tagged values.
func EncodeList(list []Stored) (string, error) {
	items := make([]json.RawMessage, 0, len(list))
	for i := range list {
		data, err := list[i].encode(true)
		if err != nil {
			return "", err
		}
		items = append(items, data)
	}
	data, err := json.Marshal(items)
	if err != nil {
		return "", err
	}
	return string(data), nil
}
