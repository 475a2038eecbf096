// Package storage implements storage backends for the repertoire.
//
// Entries are stored with their references as integer code points and their
// decompositions as serialized JSON text. Every write of an entry also
// replaces its outgoing edges in an inverse reference index, so incoming
// references can be answered without scanning serialized text.
package storage

import (
	"context"
	"errors"
	"fmt"
)

var (
	// ErrNotFound is returned when a row does not exist.
	ErrNotFound = errors.New("storage: row not found")

	// ErrDuplicate is returned when an insert or rename collides with an
	// existing primary key.
	ErrDuplicate = errors.New("storage: duplicate key")

	// ErrTxDone is returned when using a committed or rolled back transaction.
	ErrTxDone = errors.New("storage: transaction already finished")
)

// Table names an entity table.
type Table string

const (
	TableGlyph     Table = "form"
	TableCharacter Table = "repertoire"
)

// Tables lists every table that can hold decompositions.
var Tables = []Table{TableGlyph, TableCharacter}

// Ref identifies one entry.
type Ref struct {
	Table Table `json:"table"`
	Code  rune  `json:"unicode"`
}

// Role is the position through which an entry references another.
type Role string

const (
	RoleSource  Role = "source"
	RoleOperand Role = "operand"
)

// Edge is one reference from an entry to a code point.
type Edge struct {
	From   Ref
	Target rune
	Role   Role
}

// GlyphRecord is the stored form of a glyph. Exactly one of Component,
// Compound and Slice is non-nil; nil is stored as NULL.
type GlyphRecord struct {
	Code        rune
	Name        *string
	DefaultType int
	GF0014ID    *int
	Component   *string
	Compound    *string
	Slice       *string
	Ambiguous   bool
}

// CharacterRecord is the stored form of a character.
type CharacterRecord struct {
	Code      rune
	Tygf      int
	GB2312    bool
	Readings  string
	Glyphs    string
	Name      *string
	GF0014ID  *int
	Ambiguous bool
}

// Backend defines the interface for storage backends.
type Backend interface {
	// Begin starts an atomic unit of work. Every repository operation runs
	// in exactly one transaction.
	Begin(ctx context.Context) (Tx, error)

	// Close closes the storage backend.
	Close() error
}

// Tx represents an atomic storage operation. Nothing written through a Tx is
// visible to other transactions before Commit.
type Tx interface {
	Glyph(code rune) (*GlyphRecord, error)
	InsertGlyph(rec *GlyphRecord) error
	UpdateGlyph(rec *GlyphRecord) error
	Glyphs(offset, limit int) ([]*GlyphRecord, error)

	Character(code rune) (*CharacterRecord, error)
	InsertCharacter(rec *CharacterRecord) error
	UpdateCharacter(rec *CharacterRecord) error
	Characters(offset, limit int) ([]*CharacterRecord, error)

	// Exists checks if an entry exists in table t.
	Exists(t Table, code rune) (bool, error)

	// Count returns the number of entries in table t.
	Count(t Table) (int, error)

	// Codes returns every code in [floor, ceiling) occupied in any table,
	// ascending and without duplicates.
	Codes(floor, ceiling rune) ([]rune, error)

	// Delete removes an entry and its outgoing edges.
	Delete(t Table, code rune) error

	// Rename changes an entry's primary key and moves its outgoing edges.
	// Incoming edges are left for the caller to rewrite.
	Rename(t Table, from, to rune) error

	// SetEdges replaces the outgoing edges of from.
	SetEdges(from Ref, edges []Edge) error

	// EdgesTo returns every edge whose target is code.
	EdgesTo(code rune) ([]Edge, error)

	// EdgesFrom returns the outgoing edges of every entry with the given code.
	EdgesFrom(code rune) ([]Edge, error)

	// Commit completes the transaction.
	Commit() error

	// Rollback cancels the transaction. Rollback after Commit is a no-op.
	Rollback() error
}

func unknownTable(t Table) error {
	return fmt.Errorf("storage: unknown table %q", t)
}
