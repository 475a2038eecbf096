// Package repository implements the entry operations of the repertoire on top
// of a storage backend: create, read, list, update, patch, delete, rename and
// batch import.
//
// Every operation runs in exactly one storage transaction. Writes keep the
// reference graph consistent: references must resolve to an entry in some
// table, must not form a cycle, and a rename rewrites every reference to the
// old code before the transaction commits.
package repository

import (
	"context"
	"errors"

	"go.uber.org/zap"

	"github.com/zot/repertoire/internal/alloc"
	"github.com/zot/repertoire/internal/codec"
	"github.com/zot/repertoire/internal/glyph"
	"github.com/zot/repertoire/internal/refindex"
	"github.com/zot/repertoire/internal/storage"
)

// Repository performs entry operations on one table.
type Repository[E any] struct {
	store  storage.Backend
	schema Schema[E]
	alloc  *alloc.Allocator
	log    *zap.SugaredLogger
}

// New creates a repository. A nil allocator uses the default ranges and a nil
// logger discards output.
func New[E any](store storage.Backend, schema Schema[E], a *alloc.Allocator, log *zap.SugaredLogger) *Repository[E] {
	if a == nil {
		a = alloc.Default()
	}
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	return &Repository[E]{
		store:  store,
		schema: schema,
		alloc:  a,
		log:    log.With("table", string(schema.Table())),
	}
}

// NewGlyphs creates a repository over the glyph table.
func NewGlyphs(store storage.Backend, a *alloc.Allocator, log *zap.SugaredLogger) *Repository[*glyph.Glyph] {
	return New[*glyph.Glyph](store, glyphSchema{}, a, log)
}

// NewCharacters creates a repository over the character table.
func NewCharacters(store storage.Backend, a *alloc.Allocator, log *zap.SugaredLogger) *Repository[*glyph.Character] {
	return New[*glyph.Character](store, characterSchema{}, a, log)
}

// Table returns the repository's table.
func (r *Repository[E]) Table() storage.Table {
	return r.schema.Table()
}

// inTx runs fn in a transaction and commits when it succeeds. Errors that are
// not part of the repository's vocabulary become a logged StorageError.
func (r *Repository[E]) inTx(ctx context.Context, op string, code rune, fn func(tx storage.Tx) error) error {
	tx, err := r.store.Begin(ctx)
	if err != nil {
		return r.storageError(op, code, err)
	}
	defer tx.Rollback()

	if err := fn(tx); err != nil {
		if domainError(err) {
			return err
		}
		return r.storageError(op, code, err)
	}
	if err := tx.Commit(); err != nil {
		return r.storageError(op, code, err)
	}
	return nil
}

func domainError(err error) bool {
	var ce *codec.Error
	return errors.Is(err, ErrNotFound) ||
		errors.Is(err, ErrConflict) ||
		errors.Is(err, ErrReferenced) ||
		errors.Is(err, ErrInvalidReference) ||
		errors.Is(err, alloc.ErrExhausted) ||
		errors.As(err, &ce)
}

func (r *Repository[E]) storageError(op string, code rune, err error) error {
	r.log.Errorw("storage failure", "op", op, "code", glyph.FormatCode(code), "error", err)
	return &StorageError{Op: op, Table: r.schema.Table(), Code: code, Err: err}
}

func (r *Repository[E]) notFound(code rune) error {
	return &NotFoundError{Table: r.schema.Table(), Code: code}
}

// checkReferences verifies that the edges just written for code resolve and
// do not close a cycle.
func (r *Repository[E]) checkReferences(tx storage.Tx, code rune, es []storage.Edge) error {
	missing, err := refindex.Dangling(tx, es)
	if err != nil {
		return err
	}
	if len(missing) > 0 {
		return &ReferenceError{Table: r.schema.Table(), Code: code, Missing: missing}
	}
	cycle, err := refindex.Cycle(tx, code)
	if err != nil {
		return err
	}
	if cycle != nil {
		return &ReferenceError{Table: r.schema.Table(), Code: code, Cycle: cycle}
	}
	return nil
}

// occupied returns the tables holding code. References name bare codes, so a
// code is in use when any table holds it.
func occupied(tx storage.Tx, code rune) ([]storage.Table, error) {
	var holders []storage.Table
	for _, t := range storage.Tables {
		exists, err := tx.Exists(t, code)
		if err != nil {
			return nil, err
		}
		if exists {
			holders = append(holders, t)
		}
	}
	return holders, nil
}

// insert writes a new entry. A zero code is allocated from the range of the
// entry's kind.
func (r *Repository[E]) insert(tx storage.Tx, e E) (rune, []storage.Edge, error) {
	code := r.schema.Code(e)
	explicit := code != 0
	if explicit {
		holders, err := occupied(tx, code)
		if err != nil {
			return 0, nil, err
		}
		if len(holders) > 0 {
			return 0, nil, &ConflictError{Table: holders[0], Code: code}
		}
	} else {
		var err error
		code, err = r.alloc.Allocate(tx, alloc.KindOf(r.schema.Kind(e)))
		if err != nil {
			return 0, nil, err
		}
	}

	es, err := r.schema.Store(tx, code, e, true)
	if errors.Is(err, storage.ErrDuplicate) {
		return 0, nil, &ConflictError{Table: r.schema.Table(), Code: code, Retryable: !explicit, Err: err}
	}
	return code, es, err
}

// Create adds an entry and returns its code. The entry's code is used when
// non-zero and free in every table; otherwise one is allocated.
func (r *Repository[E]) Create(ctx context.Context, e E) (rune, error) {
	var code rune
	err := r.inTx(ctx, "create", r.schema.Code(e), func(tx storage.Tx) error {
		var (
			es  []storage.Edge
			err error
		)
		code, es, err = r.insert(tx, e)
		if err != nil {
			return err
		}
		return r.checkReferences(tx, code, es)
	})
	if err != nil {
		return 0, err
	}
	r.log.Debugw("created entry", "code", glyph.FormatCode(code))
	return code, nil
}

// Get reads one entry.
func (r *Repository[E]) Get(ctx context.Context, code rune) (E, error) {
	var e E
	err := r.inTx(ctx, "get", code, func(tx storage.Tx) error {
		var err error
		e, err = r.schema.Load(tx, code)
		if errors.Is(err, storage.ErrNotFound) {
			return r.notFound(code)
		}
		return err
	})
	return e, err
}

// List reads entries ordered by code, along with the total number of entries.
// A negative limit reads to the end.
func (r *Repository[E]) List(ctx context.Context, offset, limit int) ([]E, int, error) {
	var (
		entries []E
		total   int
	)
	err := r.inTx(ctx, "list", 0, func(tx storage.Tx) error {
		var err error
		if total, err = tx.Count(r.schema.Table()); err != nil {
			return err
		}
		entries, err = r.schema.List(tx, max(offset, 0), limit)
		return err
	})
	return entries, total, err
}

// Update replaces every field of an entry except its code, which is taken
// from the argument rather than the entry.
func (r *Repository[E]) Update(ctx context.Context, code rune, e E) error {
	err := r.inTx(ctx, "update", code, func(tx storage.Tx) error {
		es, err := r.schema.Store(tx, code, e, false)
		if errors.Is(err, storage.ErrNotFound) {
			return r.notFound(code)
		}
		if err != nil {
			return err
		}
		return r.checkReferences(tx, code, es)
	})
	if err == nil {
		r.log.Debugw("updated entry", "code", glyph.FormatCode(code))
	}
	return err
}

// Patch reads an entry, applies fn to it and writes it back.
func (r *Repository[E]) Patch(ctx context.Context, code rune, fn func(E)) error {
	err := r.inTx(ctx, "patch", code, func(tx storage.Tx) error {
		e, err := r.schema.Load(tx, code)
		if errors.Is(err, storage.ErrNotFound) {
			return r.notFound(code)
		}
		if err != nil {
			return err
		}
		fn(e)
		es, err := r.schema.Store(tx, code, e, false)
		if err != nil {
			return err
		}
		return r.checkReferences(tx, code, es)
	})
	if err == nil {
		r.log.Debugw("patched entry", "code", glyph.FormatCode(code))
	}
	return err
}

// Delete removes an entry. It is refused while any entry references the code.
func (r *Repository[E]) Delete(ctx context.Context, code rune) error {
	err := r.inTx(ctx, "delete", code, func(tx storage.Tx) error {
		exists, err := tx.Exists(r.schema.Table(), code)
		if err != nil {
			return err
		}
		if !exists {
			return r.notFound(code)
		}
		refs, err := refindex.ReferencedBy(tx, code)
		if err != nil {
			return err
		}
		if len(refs) > 0 {
			return &ReferencedError{Table: r.schema.Table(), Code: code, Referrers: refs}
		}
		return tx.Delete(r.schema.Table(), code)
	})
	if err == nil {
		r.log.Debugw("deleted entry", "code", glyph.FormatCode(code))
	}
	return err
}

// Rename changes an entry's code and rewrites every reference to it, all in
// one transaction. The new code must be free in every table, and the old code
// must be held by this table alone, since references cannot say which
// holder they meant.
func (r *Repository[E]) Rename(ctx context.Context, from, to rune) error {
	if err := codec.CheckCode(to); err != nil {
		return err
	}
	var touched []storage.Ref
	err := r.inTx(ctx, "rename", from, func(tx storage.Tx) error {
		table := r.schema.Table()
		exists, err := tx.Exists(table, from)
		if err != nil {
			return err
		}
		if !exists {
			return r.notFound(from)
		}
		if from == to {
			return nil
		}
		holders, err := occupied(tx, from)
		if err != nil {
			return err
		}
		for _, t := range holders {
			if t != table {
				return &ConflictError{Table: t, Code: from}
			}
		}
		if holders, err = occupied(tx, to); err != nil {
			return err
		}
		if len(holders) > 0 {
			return &ConflictError{Table: holders[0], Code: to}
		}

		if err := tx.Rename(table, from, to); err != nil {
			if errors.Is(err, storage.ErrDuplicate) {
				return &ConflictError{Table: table, Code: to, Err: err}
			}
			return err
		}
		if touched, err = refindex.Cascade(tx, from, to); err != nil {
			return err
		}
		cycle, err := refindex.Cycle(tx, to)
		if err != nil {
			return err
		}
		if cycle != nil {
			return &ReferenceError{Table: table, Code: to, Cycle: cycle}
		}
		return nil
	})
	if err == nil {
		r.log.Debugw("renamed entry", "code", glyph.FormatCode(from), "to", glyph.FormatCode(to), "rewritten", len(touched))
	}
	return err
}

// ReferencedBy returns the entries, in any table, that reference code.
func (r *Repository[E]) ReferencedBy(ctx context.Context, code rune) ([]storage.Ref, error) {
	var refs []storage.Ref
	err := r.inTx(ctx, "references", code, func(tx storage.Tx) error {
		var err error
		refs, err = refindex.ReferencedBy(tx, code)
		return err
	})
	return refs, err
}

// Import creates many entries in one transaction. References are checked
// after every entry is written, so entries may refer to later ones. It returns
// the codes in input order.
func (r *Repository[E]) Import(ctx context.Context, entries []E) ([]rune, error) {
	codes := make([]rune, len(entries))
	err := r.inTx(ctx, "import", 0, func(tx storage.Tx) error {
		written := make([][]storage.Edge, len(entries))
		for i, e := range entries {
			var err error
			if codes[i], written[i], err = r.insert(tx, e); err != nil {
				return err
			}
		}
		for i, code := range codes {
			if err := r.checkReferences(tx, code, written[i]); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	r.log.Debugw("imported entries", "count", len(codes))
	return codes, nil
}

// ImportAll creates glyphs and characters in one transaction, so entries of
// either table may refer to entries of the other. Both repositories must share
// a backend; the transaction is begun on the glyph repository's. It returns
// the codes of each list in input order.
func ImportAll(ctx context.Context, glyphs *Repository[*glyph.Glyph], characters *Repository[*glyph.Character], gs []*glyph.Glyph, cs []*glyph.Character) ([]rune, []rune, error) {
	gcodes := make([]rune, len(gs))
	ccodes := make([]rune, len(cs))
	err := glyphs.inTx(ctx, "import", 0, func(tx storage.Tx) error {
		gedges := make([][]storage.Edge, len(gs))
		for i, g := range gs {
			var err error
			if gcodes[i], gedges[i], err = glyphs.insert(tx, g); err != nil {
				return err
			}
		}
		cedges := make([][]storage.Edge, len(cs))
		for i, c := range cs {
			var err error
			if ccodes[i], cedges[i], err = characters.insert(tx, c); err != nil {
				return err
			}
		}
		for i, code := range gcodes {
			if err := glyphs.checkReferences(tx, code, gedges[i]); err != nil {
				return err
			}
		}
		for i, code := range ccodes {
			if err := characters.checkReferences(tx, code, cedges[i]); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, nil, err
	}
	glyphs.log.Debugw("imported snapshot", "glyphs", len(gcodes), "characters", len(ccodes))
	return gcodes, ccodes, nil
}

// ListAll reads every glyph and character in one transaction, so the two
// lists describe the same state of the reference graph. Both repositories
// must share a backend.
func ListAll(ctx context.Context, glyphs *Repository[*glyph.Glyph], characters *Repository[*glyph.Character]) ([]*glyph.Glyph, []*glyph.Character, error) {
	var (
		gs []*glyph.Glyph
		cs []*glyph.Character
	)
	err := glyphs.inTx(ctx, "export", 0, func(tx storage.Tx) error {
		var err error
		if gs, err = glyphs.schema.List(tx, 0, -1); err != nil {
			return err
		}
		cs, err = characters.schema.List(tx, 0, -1)
		return err
	})
	if err != nil {
		return nil, nil, err
	}
	return gs, cs, nil
}
