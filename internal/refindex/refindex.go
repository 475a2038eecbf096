// Package refindex maintains and queries the reference graph between entries.
//
// Entries reference each other through a derived component's source and a
// compound's operands. The storage layer keeps an inverse index of these
// edges; this package extracts edges from stored records, answers incoming
// reference queries, rewrites references when a code is renamed, and walks
// the graph to detect cycles.
package refindex

import (
	"cmp"
	"slices"

	"github.com/zot/repertoire/internal/codec"
	"github.com/zot/repertoire/internal/storage"
)

// edges builds the distinct outgoing edges of from, ordered by role then target.
func edges(from storage.Ref, list ...codec.Stored) []storage.Edge {
	var out []storage.Edge
	add := func(target rune, role storage.Role) {
		e := storage.Edge{From: from, Target: target, Role: role}
		if !slices.Contains(out, e) {
			out = append(out, e)
		}
	}
	for _, s := range list {
		if s.Source != nil {
			add(*s.Source, storage.RoleSource)
		}
		for _, op := range s.Operands {
			add(op, storage.RoleOperand)
		}
	}
	slices.SortFunc(out, func(a, b storage.Edge) int {
		if c := cmp.Compare(a.Role, b.Role); c != 0 {
			return c
		}
		return cmp.Compare(a.Target, b.Target)
	})
	return out
}

// GlyphEdges extracts the outgoing edges of a stored glyph.
func GlyphEdges(rec *storage.GlyphRecord) ([]storage.Edge, error) {
	s, err := codec.Decomposition(rec)
	if err != nil {
		return nil, err
	}
	return edges(storage.Ref{Table: storage.TableGlyph, Code: rec.Code}, s), nil
}

// CharacterEdges extracts the outgoing edges of a stored character.
func CharacterEdges(rec *storage.CharacterRecord) ([]storage.Edge, error) {
	list, err := codec.DecodeList(rec.Glyphs)
	if err != nil {
		return nil, err
	}
	return edges(storage.Ref{Table: storage.TableCharacter, Code: rec.Code}, list...), nil
}

// Targets returns the distinct codes referenced by es, ascending.
func Targets(es []storage.Edge) []rune {
	out := make([]rune, 0, len(es))
	for _, e := range es {
		out = append(out, e.Target)
	}
	slices.Sort(out)
	return slices.Compact(out)
}

// ReferencedBy returns every entry, in any table, whose source or operands
// name code.
func ReferencedBy(tx storage.Tx, code rune) ([]storage.Ref, error) {
	incoming, err := tx.EdgesTo(code)
	if err != nil {
		return nil, err
	}
	return referrers(incoming, ""), nil
}

// referrers returns the distinct referrers of es, optionally limited to role.
func referrers(es []storage.Edge, role storage.Role) []storage.Ref {
	var out []storage.Ref
	for _, e := range es {
		if role != "" && e.Role != role {
			continue
		}
		if !slices.Contains(out, e.From) {
			out = append(out, e.From)
		}
	}
	return out
}

// Dangling returns the targets of es that exist in no table.
func Dangling(tx storage.Tx, es []storage.Edge) ([]rune, error) {
	var missing []rune
	for _, target := range Targets(es) {
		found := false
		for _, t := range storage.Tables {
			ok, err := tx.Exists(t, target)
			if err != nil {
				return nil, err
			}
			if ok {
				found = true
				break
			}
		}
		if !found {
			missing = append(missing, target)
		}
	}
	return missing, nil
}
