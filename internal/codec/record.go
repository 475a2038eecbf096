package codec

import (
	"encoding/json"
	"fmt"
	"unicode/utf8"

	"github.com/zot/repertoire/internal/glyph"
	"github.com/zot/repertoire/internal/storage"
)

// Values of the default_type column.
const (
	DefaultComponent = 0
	DefaultCompound  = 1
	DefaultDerived   = 2
)

// DefaultType returns the default_type column value for kind.
func DefaultType(kind glyph.Kind) int {
	switch kind {
	case glyph.KindCompound:
		return DefaultCompound
	case glyph.KindDerived:
		return DefaultDerived
	}
	return DefaultComponent
}

// CheckCode validates a primary key: a Unicode scalar value other than U+0000.
func CheckCode(code rune) error {
	if code <= 0 || !utf8.ValidRune(code) {
		return outOfRange("unicode", "%d is not a usable code point", code)
	}
	return nil
}

// GlyphToStorage converts a glyph to its stored record.
func GlyphToStorage(g *glyph.Glyph) (*storage.GlyphRecord, error) {
	if err := CheckCode(g.Code); err != nil {
		return nil, err
	}
	s, err := FromExternal("decomposition", g.Decomposition)
	if err != nil {
		return nil, err
	}
	rec := &storage.GlyphRecord{
		Code:        g.Code,
		Name:        g.Name,
		DefaultType: DefaultType(s.Kind),
		GF0014ID:    g.GF0014ID,
		Ambiguous:   g.Ambiguous,
	}
	if err := SetDecomposition(rec, s); err != nil {
		return nil, err
	}
	return rec, nil
}

// GlyphToExternal converts a stored glyph record to a glyph.
func GlyphToExternal(rec *storage.GlyphRecord) (*glyph.Glyph, error) {
	s, err := Decomposition(rec)
	if err != nil {
		return nil, err
	}
	d, err := ToExternal("decomposition", s)
	if err != nil {
		return nil, err
	}
	return &glyph.Glyph{
		Code:          rec.Code,
		Name:          rec.Name,
		Decomposition: d,
		GF0014ID:      rec.GF0014ID,
		Ambiguous:     rec.Ambiguous,
	}, nil
}

// Decomposition decodes the one non-null decomposition column of rec.
func Decomposition(rec *storage.GlyphRecord) (Stored, error) {
	var (
		column string
		kind   glyph.Kind
		text   *string
	)
	for _, c := range []struct {
		name string
		kind glyph.Kind
		text *string
	}{
		{"component", glyph.KindBasic, rec.Component},
		{"compound", glyph.KindCompound, rec.Compound},
		{"slice", glyph.KindDerived, rec.Slice},
	} {
		if c.text == nil {
			continue
		}
		if text != nil {
			return Stored{}, malformed(c.name, "both %s and %s are set", column, c.name)
		}
		column, kind, text = c.name, c.kind, c.text
	}
	if text == nil {
		return Stored{}, malformed("decomposition", "no decomposition column is set")
	}
	return decode(column, []byte(*text), kind)
}

// SetDecomposition serializes s into the column for its kind and clears the
// others. The default type is left alone.
func SetDecomposition(rec *storage.GlyphRecord, s Stored) error {
	data, err := s.encode(false)
	if err != nil {
		return err
	}
	text := string(data)
	rec.Component, rec.Compound, rec.Slice = nil, nil, nil
	switch s.Kind {
	case glyph.KindBasic:
		rec.Component = &text
	case glyph.KindCompound:
		rec.Compound = &text
	case glyph.KindDerived:
		rec.Slice = &text
	}
	return nil
}

// CharacterToStorage converts a character to its stored record. Nil readings
// and glyph lists are stored as empty lists.
func CharacterToStorage(c *glyph.Character) (*storage.CharacterRecord, error) {
	if err := CheckCode(c.Code); err != nil {
		return nil, err
	}
	readings := c.Readings
	if readings == nil {
		readings = []string{}
	}
	rtext, err := json.Marshal(readings)
	if err != nil {
		return nil, malformed("readings", "%v", err)
	}

	list := make([]Stored, 0, len(c.Glyphs))
	for i, d := range c.Glyphs {
		s, err := FromExternal(fmt.Sprintf("glyphs[%d]", i), d)
		if err != nil {
			return nil, err
		}
		list = append(list, s)
	}
	gtext, err := EncodeList(list)
	if err != nil {
		return nil, err
	}

	return &storage.CharacterRecord{
		Code:      c.Code,
		Tygf:      int(c.Tier),
		GB2312:    c.GB2312,
		Readings:  string(rtext),
		Glyphs:    gtext,
		Name:      c.Name,
		GF0014ID:  c.GF0014ID,
		Ambiguous: c.Ambiguous,
	}, nil
}

// CharacterToExternal converts a stored character record to a character.
func CharacterToExternal(rec *storage.CharacterRecord) (*glyph.Character, error) {
	readings := []string{}
	if err := json.Unmarshal([]byte(rec.Readings), &readings); err != nil {
		return nil, malformed("readings", "%v", err)
	}
	if readings == nil {
		readings = []string{}
	}

	list, err := DecodeList(rec.Glyphs)
	if err != nil {
		return nil, err
	}
	glyphs := make([]glyph.Decomposition, 0, len(list))
	for i, s := range list {
		d, err := ToExternal(fmt.Sprintf("glyphs[%d]", i), s)
		if err != nil {
			return nil, err
		}
		glyphs = append(glyphs, d)
	}

	return &glyph.Character{
		Code:      rec.Code,
		Tier:      glyph.Tier(rec.Tygf),
		GB2312:    rec.GB2312,
		Readings:  readings,
		Glyphs:    glyphs,
		Name:      rec.Name,
		GF0014ID:  rec.GF0014ID,
		Ambiguous: rec.Ambiguous,
	}, nil
}

// FromExternal converts an external decomposition to its stored shape.
func FromExternal(field string, d glyph.Decomposition) (Stored, error) {
	var s Stored
	switch {
	case d.Basic != nil:
		s = Stored{Kind: glyph.KindBasic, Strokes: d.Basic.Strokes}
	case d.Derived != nil:
		s = Stored{Kind: glyph.KindDerived, Strokes: d.Derived.Strokes}
		if d.Derived.Source != "" {
			r, err := character(field+".source", d.Derived.Source)
			if err != nil {
				return Stored{}, err
			}
			s.Source = &r
		}
	case d.Compound != nil:
		if len(d.Compound.Operands) < 2 {
			return Stored{}, malformed(field+".operandList", "compound needs at least two operands, got %d", len(d.Compound.Operands))
		}
		s = Stored{Kind: glyph.KindCompound, Operator: d.Compound.Operator}
		s.Operands = make([]rune, len(d.Compound.Operands))
		for i, op := range d.Compound.Operands {
			r, err := character(fmt.Sprintf("%s.operandList[%d]", field, i), op)
			if err != nil {
				return Stored{}, err
			}
			s.Operands[i] = r
		}
	default:
		return Stored{}, malformed(field, "%v", glyph.ErrEmptyDecomposition)
	}
	if err := checkStrokes(field, s.Strokes); err != nil {
		return Stored{}, err
	}
	return s, nil
}

// ToExternal converts a stored decomposition to its external shape.
func ToExternal(field string, s Stored) (glyph.Decomposition, error) {
	if err := checkStrokes(field, s.Strokes); err != nil {
		return glyph.Decomposition{}, err
	}
	switch s.Kind {
	case glyph.KindBasic:
		return glyph.Decomposition{Basic: &glyph.BasicComponent{Strokes: s.Strokes}}, nil
	case glyph.KindDerived:
		d := &glyph.DerivedComponent{Strokes: s.Strokes}
		if s.Source != nil {
			if _, err := codePoint(field+".source", int64(*s.Source)); err != nil {
				return glyph.Decomposition{}, err
			}
			d.Source = string(*s.Source)
		}
		return glyph.Decomposition{Derived: d}, nil
	case glyph.KindCompound:
		c := &glyph.Compound{Operator: s.Operator, Operands: make([]string, len(s.Operands))}
		for i, op := range s.Operands {
			if _, err := codePoint(fmt.Sprintf("%s.operandList[%d]", field, i), int64(op)); err != nil {
				return glyph.Decomposition{}, err
			}
			c.Operands[i] = string(op)
		}
		return glyph.Decomposition{Compound: c}, nil
	}
	return glyph.Decomposition{}, malformed(field+".type", "unknown decomposition type %q", s.Kind)
}

// character reads a reference written as exactly one literal character.
func character(field, s string) (rune, error) {
	if !utf8.ValidString(s) {
		return 0, outOfRange(field, "%q is not valid UTF-8", s)
	}
	if utf8.RuneCountInString(s) != 1 {
		return 0, malformed(field, "reference %q is not exactly one character", s)
	}
	r, _ := utf8.DecodeRuneInString(s)
	return r, nil
}
