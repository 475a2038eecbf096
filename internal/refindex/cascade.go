package refindex

import (
	"fmt"
	"slices"

	"github.com/zot/repertoire/internal/codec"
	"github.com/zot/repertoire/internal/storage"
)

// Cascade rewrites every reference to from so it names to, across all
// tables. Derived sources are rewritten first, then every matching operand
// of every compound. The renamed entry's own key must already have moved.
// Cascade returns the referrers it touched.
//
// Cascade performs several writes; callers run it inside the transaction
// that renamed the key and roll back on error.
func Cascade(tx storage.Tx, from, to rune) ([]storage.Ref, error) {
	incoming, err := tx.EdgesTo(from)
	if err != nil {
		return nil, err
	}

	var touched []storage.Ref
	for _, ref := range referrers(incoming, storage.RoleSource) {
		if err := rewrite(tx, ref, func(s *codec.Stored) bool {
			return s.RewriteSource(from, to)
		}); err != nil {
			return nil, err
		}
		touched = append(touched, ref)
	}
	for _, ref := range referrers(incoming, storage.RoleOperand) {
		if err := rewrite(tx, ref, func(s *codec.Stored) bool {
			return s.RewriteOperands(from, to) > 0
		}); err != nil {
			return nil, err
		}
		if !slices.Contains(touched, ref) {
			touched = append(touched, ref)
		}
	}
	return touched, nil
}

// rewrite applies fn to each decomposition of ref and writes the record back
// with refreshed edges when anything changed.
func rewrite(tx storage.Tx, ref storage.Ref, fn func(*codec.Stored) bool) error {
	switch ref.Table {
	case storage.TableGlyph:
		rec, err := tx.Glyph(ref.Code)
		if err != nil {
			return fmt.Errorf("load referrer %s %X: %w", ref.Table, ref.Code, err)
		}
		s, err := codec.Decomposition(rec)
		if err != nil {
			return err
		}
		if !fn(&s) {
			return nil
		}
		if err := codec.SetDecomposition(rec, s); err != nil {
			return err
		}
		if err := tx.UpdateGlyph(rec); err != nil {
			return err
		}
		return tx.SetEdges(ref, edges(ref, s))

	case storage.TableCharacter:
		rec, err := tx.Character(ref.Code)
		if err != nil {
			return fmt.Errorf("load referrer %s %X: %w", ref.Table, ref.Code, err)
		}
		list, err := codec.DecodeList(rec.Glyphs)
		if err != nil {
			return err
		}
		changed := false
		for i := range list {
			if fn(&list[i]) {
				changed = true
			}
		}
		if !changed {
			return nil
		}
		if rec.Glyphs, err = codec.EncodeList(list); err != nil {
			return err
		}
		if err := tx.UpdateCharacter(rec); err != nil {
			return err
		}
		return tx.SetEdges(ref, edges(ref, list...))
	}
	return fmt.Errorf("unknown table %q", ref.Table)
}
