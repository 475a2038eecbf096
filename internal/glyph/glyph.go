// Package glyph defines the external representation of repertoire entries:
// glyphs and characters with their decompositions, where references to other
// entries are literal characters rather than code points.
package glyph

// Kind identifies a decomposition variant.
type Kind string

const (
	KindBasic    Kind = "basic_component"
	KindDerived  Kind = "derived_component"
	KindCompound Kind = "compound"
)

// Glyph is an entry of the glyph (form) table.
type Glyph struct {
	Code          rune          `json:"unicode"`
	Name          *string       `json:"name,omitempty"`
	Decomposition Decomposition `json:"decomposition"`
	GF0014ID      *int          `json:"gf0014_id,omitempty"`
	Ambiguous     bool          `json:"ambiguous"`
}

// Kind returns the kind of the glyph's decomposition.
func (g *Glyph) Kind() Kind {
	return g.Decomposition.Kind()
}

// Tier is the frequency tier of a character (0 = most common).
type Tier int

// Character is an entry of the repertoire table. Its glyph variants are
// stored inline.
type Character struct {
	Code      rune            `json:"unicode"`
	Tier      Tier            `json:"tygf"`
	GB2312    bool            `json:"gb2312"`
	Readings  []string        `json:"readings"`
	Glyphs    []Decomposition `json:"glyphs"`
	Name      *string         `json:"name,omitempty"`
	GF0014ID  *int            `json:"gf0014_id,omitempty"`
	Ambiguous bool            `json:"ambiguous"`
}

// Kind returns the kind of the character's default (first) glyph, or
// KindBasic when it has none.
func (c *Character) Kind() Kind {
	if len(c.Glyphs) == 0 {
		return KindBasic
	}
	return c.Glyphs[0].Kind()
}

// CharacterPatch carries the fields replaced by a partial character update.
type CharacterPatch struct {
	Name      *string         `json:"name,omitempty"`
	GF0014ID  *int            `json:"gf0014_id,omitempty"`
	Glyphs    []Decomposition `json:"glyphs"`
	Ambiguous bool            `json:"ambiguous"`
}

// Apply replaces the patched fields of c.
func (p *CharacterPatch) Apply(c *Character) {
	c.Name = p.Name
	c.GF0014ID = p.GF0014ID
	c.Glyphs = p.Glyphs
	c.Ambiguous = p.Ambiguous
}
