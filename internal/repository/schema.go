package repository

import (
	"github.com/zot/repertoire/internal/codec"
	"github.com/zot/repertoire/internal/glyph"
	"github.com/zot/repertoire/internal/refindex"
	"github.com/zot/repertoire/internal/storage"
)

// Schema binds an external entry type to its table.
type Schema[E any] interface {
	Table() storage.Table

	// Code returns the entry's code, or 0 when none was given.
	Code(e E) rune

	// Kind selects the allocation range for the entry.
	Kind(e E) glyph.Kind

	// Load reads one entry, returning storage.ErrNotFound when absent.
	Load(tx storage.Tx, code rune) (E, error)

	// List reads a page of entries ordered by code.
	List(tx storage.Tx, offset, limit int) ([]E, error)

	// Store writes e under code, inserting or replacing, and refreshes its
	// outgoing edges. It returns the edges written.
	Store(tx storage.Tx, code rune, e E, insert bool) ([]storage.Edge, error)
}

type glyphSchema struct{}

func (glyphSchema) Table() storage.Table { return storage.TableGlyph }

func (glyphSchema) Code(g *glyph.Glyph) rune { return g.Code }

func (glyphSchema) Kind(g *glyph.Glyph) glyph.Kind { return g.Kind() }

func (glyphSchema) Load(tx storage.Tx, code rune) (*glyph.Glyph, error) {
	rec, err := tx.Glyph(code)
	if err != nil {
		return nil, err
	}
	return codec.GlyphToExternal(rec)
}

func (glyphSchema) List(tx storage.Tx, offset, limit int) ([]*glyph.Glyph, error) {
	recs, err := tx.Glyphs(offset, limit)
	if err != nil {
		return nil, err
	}
	out := make([]*glyph.Glyph, 0, len(recs))
	for _, rec := range recs {
		g, err := codec.GlyphToExternal(rec)
		if err != nil {
			return nil, err
		}
		out = append(out, g)
	}
	return out, nil
}

func (glyphSchema) Store(tx storage.Tx, code rune, g *glyph.Glyph, insert bool) ([]storage.Edge, error) {
	keyed := *g
	keyed.Code = code
	rec, err := codec.GlyphToStorage(&keyed)
	if err != nil {
		return nil, err
	}
	es, err := refindex.GlyphEdges(rec)
	if err != nil {
		return nil, err
	}
	if insert {
		err = tx.InsertGlyph(rec)
	} else {
		err = tx.UpdateGlyph(rec)
	}
	if err != nil {
		return nil, err
	}
	return es, tx.SetEdges(storage.Ref{Table: storage.TableGlyph, Code: code}, es)
}

type characterSchema struct{}

func (characterSchema) Table() storage.Table { return storage.TableCharacter }

func (characterSchema) Code(c *glyph.Character) rune { return c.Code }

func (characterSchema) Kind(c *glyph.Character) glyph.Kind { return c.Kind() }

func (characterSchema) Load(tx storage.Tx, code rune) (*glyph.Character, error) {
	rec, err := tx.Character(code)
	if err != nil {
		return nil, err
	}
	return codec.CharacterToExternal(rec)
}

func (characterSchema) List(tx storage.Tx, offset, limit int) ([]*glyph.Character, error) {
	recs, err := tx.Characters(offset, limit)
	if err != nil {
		return nil, err
	}
	out := make([]*glyph.Character, 0, len(recs))
	for _, rec := range recs {
		c, err := codec.CharacterToExternal(rec)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, nil
}

func (characterSchema) Store(tx storage.Tx, code rune, c *glyph.Character, insert bool) ([]storage.Edge, error) {
	keyed := *c
	keyed.Code = code
	rec, err := codec.CharacterToStorage(&keyed)
	if err != nil {
		return nil, err
	}
	es, err := refindex.CharacterEdges(rec)
	if err != nil {
		return nil, err
	}
	if insert {
		err = tx.InsertCharacter(rec)
	} else {
		err = tx.UpdateCharacter(rec)
	}
	if err != nil {
		return nil, err
	}
	return es, tx.SetEdges(storage.Ref{Table: storage.TableCharacter, Code: code}, es)
}
