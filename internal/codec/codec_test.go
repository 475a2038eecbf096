package codec

import (
	"errors"
	"reflect"
	"testing"

	"github.com/zot/repertoire/internal/glyph"
	"github.com/zot/repertoire/internal/storage"
)

func strPtr(s string) *string { return &s }
func intPtr(i int) *int       { return &i }

func shape() glyph.Stroke {
	return glyph.Stroke{Shape: &glyph.StrokeShape{
		Feature: "horizontal",
		Start:   [2]float64{12, 50.5},
		Curves:  []glyph.Curve{{Command: "h", Parameters: []float64{76}}},
	}}
}

// TestGlyphRoundTrip verifies toExternal(toStorage(x)) == x for each variant
func TestGlyphRoundTrip(t *testing.T) {
	tests := []struct {
		name string
		g    glyph.Glyph
	}{
		{"basic", glyph.Glyph{Code: 0xE000, Name: strPtr("dot"), Decomposition: glyph.Basic(shape(), glyph.StrokeRef(3))}},
		{"basic without strokes", glyph.Glyph{Code: 0xE001, Decomposition: glyph.Basic()}},
		{"derived", glyph.Glyph{Code: 0xE002, Decomposition: glyph.Derived("\uE000", glyph.StrokeRef(0), shape()), GF0014ID: intPtr(42)}},
		{"derived without source", glyph.Glyph{Code: 0xE003, Decomposition: glyph.Derived("", glyph.StrokeRef(1))}},
		{"compound", glyph.Glyph{Code: 0xE800, Decomposition: glyph.Compose("⿰", "\uE002", "一"), Ambiguous: true}},
		{"compound with many operands", glyph.Glyph{Code: 0xE801, Decomposition: glyph.Compose("⿲", "亻", "\uE002", "亻", "口")}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec, err := GlyphToStorage(&tt.g)
			if err != nil {
				t.Fatalf("GlyphToStorage failed: %v", err)
			}
			got, err := GlyphToExternal(rec)
			if err != nil {
				t.Fatalf("GlyphToExternal failed: %v", err)
			}
			if !reflect.DeepEqual(got, &tt.g) {
				t.Errorf("Round trip mismatch:\nwant %+v\ngot  %+v", tt.g, *got)
			}
		})
	}
}

// TestGlyphStorageForm verifies references are stored as integers in the variant's column
func TestGlyphStorageForm(t *testing.T) {
	g := &glyph.Glyph{Code: 0xE800, Decomposition: glyph.Compose("⿰", "\uE002", "一")}
	rec, err := GlyphToStorage(g)
	if err != nil {
		t.Fatalf("GlyphToStorage failed: %v", err)
	}
	if rec.Component != nil || rec.Slice != nil {
		t.Error("Absent variants must be nil, not empty text")
	}
	if rec.Compound == nil || *rec.Compound != `{"operator":"⿰","operandList":[57346,19968]}` {
		t.Errorf("Unexpected compound text: %v", rec.Compound)
	}
	if rec.DefaultType != DefaultCompound {
		t.Errorf("Expected default type %d, got %d", DefaultCompound, rec.DefaultType)
	}

	d := &glyph.Glyph{Code: 0xE001, Decomposition: glyph.Derived("\uE000", glyph.StrokeRef(0), glyph.StrokeRef(2))}
	rec, err = GlyphToStorage(d)
	if err != nil {
		t.Fatalf("GlyphToStorage failed: %v", err)
	}
	if rec.Slice == nil || *rec.Slice != `{"source":57344,"strokes":[0,2]}` {
		t.Errorf("Unexpected slice text: %v", rec.Slice)
	}

	d.Decomposition = glyph.Derived("", glyph.StrokeRef(0))
	rec, _ = GlyphToStorage(d)
	if *rec.Slice != `{"strokes":[0]}` {
		t.Errorf("Absent source should be omitted, got %s", *rec.Slice)
	}
}

// TestGlyphLegacyStrokes verifies legacy reference strokes decode as bare indexes
func TestGlyphLegacyStrokes(t *testing.T) {
	rec := &storage.GlyphRecord{
		Code:  0xE001,
		Slice: strPtr(`{"source":57344,"strokes":[{"feature":"reference","index":2},1]}`),
	}
	g, err := GlyphToExternal(rec)
	if err != nil {
		t.Fatalf("GlyphToExternal failed: %v", err)
	}
	want := glyph.Derived("\uE000", glyph.StrokeRef(2), glyph.StrokeRef(1))
	if !reflect.DeepEqual(g.Decomposition, want) {
		t.Errorf("Expected %+v, got %+v", want, g.Decomposition)
	}
}

// TestGlyphErrors verifies malformed and out-of-range values are rejected
func TestGlyphErrors(t *testing.T) {
	toStorage := []struct {
		name string
		d    glyph.Decomposition
		want error
	}{
		{"empty", glyph.Decomposition{}, ErrMalformed},
		{"single operand", glyph.Compose("⿰", "一"), ErrMalformed},
		{"multi-character operand", glyph.Compose("⿰", "一二", "三"), ErrMalformed},
		{"empty operand", glyph.Compose("⿰", "", "三"), ErrMalformed},
		{"invalid utf-8 source", glyph.Derived("\xff"), ErrCodePoint},
		{"negative stroke", glyph.Basic(glyph.StrokeRef(-1)), ErrCodePoint},
	}
	for _, tt := range toStorage {
		t.Run("storage "+tt.name, func(t *testing.T) {
			_, err := GlyphToStorage(&glyph.Glyph{Code: 0xE000, Decomposition: tt.d})
			if !errors.Is(err, tt.want) {
				t.Errorf("Expected %v, got %v", tt.want, err)
			}
			var ce *Error
			if !errors.As(err, &ce) {
				t.Errorf("Expected *Error, got %T", err)
			}
		})
	}

	toExternal := []struct {
		name string
		rec  storage.GlyphRecord
		want error
	}{
		{"no column", storage.GlyphRecord{}, ErrMalformed},
		{"two columns", storage.GlyphRecord{Component: strPtr(`{"strokes":[]}`), Slice: strPtr(`{"strokes":[]}`)}, ErrMalformed},
		{"bad json", storage.GlyphRecord{Compound: strPtr(`{"operator":`)}, ErrMalformed},
		{"surrogate operand", storage.GlyphRecord{Compound: strPtr(`{"operator":"⿰","operandList":[55296,19968]}`)}, ErrCodePoint},
		{"huge operand", storage.GlyphRecord{Compound: strPtr(`{"operator":"⿰","operandList":[19968,1114112]}`)}, ErrCodePoint},
		{"negative source", storage.GlyphRecord{Slice: strPtr(`{"source":-1,"strokes":[]}`)}, ErrCodePoint},
		{"negative stroke", storage.GlyphRecord{Component: strPtr(`{"strokes":[-4]}`)}, ErrCodePoint},
		{"string stroke", storage.GlyphRecord{Component: strPtr(`{"strokes":["x"]}`)}, ErrMalformed},
	}
	for _, tt := range toExternal {
		t.Run("external "+tt.name, func(t *testing.T) {
			rec := tt.rec
			if _, err := GlyphToExternal(&rec); !errors.Is(err, tt.want) {
				t.Errorf("Expected %v, got %v", tt.want, err)
			}
		})
	}
}

// TestCharacterRoundTrip verifies characters and their inline glyph lists round trip
func TestCharacterRoundTrip(t *testing.T) {
	c := &glyph.Character{
		Code:     0x4F60,
		Tier:     1,
		GB2312:   true,
		Readings: []string{"ni3"},
		Glyphs: []glyph.Decomposition{
			glyph.Compose("⿰", "亻", "尔"),
			glyph.Derived("\uE000", glyph.StrokeRef(0)),
			glyph.Basic(shape()),
		},
		Name:     strPtr("you"),
		GF0014ID: intPtr(7),
	}

	rec, err := CharacterToStorage(c)
	if err != nil {
		t.Fatalf("CharacterToStorage failed: %v", err)
	}
	if rec.Readings != `["ni3"]` {
		t.Errorf("Unexpected readings text %s", rec.Readings)
	}
	wantPrefix := `[{"type":"compound","operator":"⿰","operandList":[20155,23572]},{"type":"derived_component","source":57344,"strokes":[0]}`
	if len(rec.Glyphs) < len(wantPrefix) || rec.Glyphs[:len(wantPrefix)] != wantPrefix {
		t.Errorf("Unexpected glyphs text %s", rec.Glyphs)
	}

	got, err := CharacterToExternal(rec)
	if err != nil {
		t.Fatalf("CharacterToExternal failed: %v", err)
	}
	if !reflect.DeepEqual(got, c) {
		t.Errorf("Round trip mismatch:\nwant %+v\ngot  %+v", *c, *got)
	}
}

// TestCharacterEmptyLists verifies nil lists are stored and read back as empty lists
func TestCharacterEmptyLists(t *testing.T) {
	rec, err := CharacterToStorage(&glyph.Character{Code: 0x4E00})
	if err != nil {
		t.Fatalf("CharacterToStorage failed: %v", err)
	}
	if rec.Readings != "[]" || rec.Glyphs != "[]" {
		t.Errorf("Expected empty lists, got %s and %s", rec.Readings, rec.Glyphs)
	}
	c, err := CharacterToExternal(rec)
	if err != nil {
		t.Fatalf("CharacterToExternal failed: %v", err)
	}
	if c.Readings == nil || c.Glyphs == nil || len(c.Readings) != 0 || len(c.Glyphs) != 0 {
		t.Errorf("Expected non-nil empty lists, got %#v and %#v", c.Readings, c.Glyphs)
	}
}

// TestDecodeListLegacy verifies untagged list items are classified by their fields
func TestDecodeListLegacy(t *testing.T) {
	list, err := DecodeList(`[{"source":57344,"strokes":[0]},{"operator":"⿱","operandList":[19968,19969]},{"strokes":[1]}]`)
	if err != nil {
		t.Fatalf("DecodeList failed: %v", err)
	}
	kinds := []glyph.Kind{list[0].Kind, list[1].Kind, list[2].Kind}
	want := []glyph.Kind{glyph.KindDerived, glyph.KindCompound, glyph.KindBasic}
	if !reflect.DeepEqual(kinds, want) {
		t.Errorf("Expected kinds %v, got %v", want, kinds)
	}

	if _, err := DecodeList(`[{"type":"slice"}]`); !errors.Is(err, ErrMalformed) {
		t.Errorf("Expected ErrMalformed for unknown type, got %v", err)
	}
	if _, err := DecodeList(`{}`); !errors.Is(err, ErrMalformed) {
		t.Errorf("Expected ErrMalformed for non-list, got %v", err)
	}
}

// TestRewrite verifies source and operand rewriting
func TestRewrite(t *testing.T) {
	src := rune(0xE002)
	d := Stored{Kind: glyph.KindDerived, Source: &src}
	if !d.RewriteSource(0xE002, 0xE100) || *d.Source != 0xE100 {
		t.Errorf("Expected source rewritten, got %X", *d.Source)
	}
	if d.RewriteSource(0xE002, 0xE100) {
		t.Error("Second rewrite should find nothing")
	}
	if src != 0xE002 {
		t.Error("Rewrite must not alias the previous source")
	}

	c := Stored{Kind: glyph.KindCompound, Operands: []rune{0xE002, 0x4E00, 0xE002}}
	if n := c.RewriteOperands(0xE002, 0xE100); n != 2 {
		t.Errorf("Expected 2 operands rewritten, got %d", n)
	}
	if !reflect.DeepEqual(c.Operands, []rune{0xE100, 0x4E00, 0xE100}) {
		t.Errorf("Unexpected operands %X", c.Operands)
	}
	if d.RewriteOperands(0xE100, 0xE200) != 0 {
		t.Error("Derived components have no operands")
	}
}
