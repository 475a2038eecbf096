package repclient

import "github.com/zot/repertoire/internal/glyph"

// Entry model, shared with the server.
type (
	Glyph            = glyph.Glyph
	Character        = glyph.Character
	CharacterPatch   = glyph.CharacterPatch
	Decomposition    = glyph.Decomposition
	BasicComponent   = glyph.BasicComponent
	DerivedComponent = glyph.DerivedComponent
	Compound         = glyph.Compound
	Stroke           = glyph.Stroke
	StrokeShape      = glyph.StrokeShape
	Curve            = glyph.Curve
	Tier             = glyph.Tier
	Kind             = glyph.Kind
)

// Decomposition and code helpers.
var (
	Basic      = glyph.Basic
	Derived    = glyph.Derived
	Compose    = glyph.Compose
	StrokeRef  = glyph.StrokeRef
	ParseCode  = glyph.ParseCode
	FormatCode = glyph.FormatCode
)
