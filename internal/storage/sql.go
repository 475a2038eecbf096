package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
)

// dialect captures what differs between the SQL backends.
type dialect struct {
	driver      string
	schema      string
	numbered    bool // $1, $2 placeholders instead of ?
	isDuplicate func(error) bool
}

// SQLStorage is a database/sql storage backend shared by SQLite and
// PostgreSQL. Queries are written with ? placeholders and rebound per dialect.
type SQLStorage struct {
	db      *sql.DB
	dialect dialect
}

func openSQL(d dialect, dsn string, configure func(*sql.DB)) (*SQLStorage, error) {
	db, err := sql.Open(d.driver, dsn)
	if err != nil {
		return nil, err
	}
	if configure != nil {
		configure(db)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to %s: %w", d.driver, err)
	}

	s := &SQLStorage{db: db, dialect: d}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

// migrate creates or updates the database schema.
func (s *SQLStorage) migrate() error {
	if _, err := s.db.Exec(s.dialect.schema); err != nil {
		return fmt.Errorf("failed to create schema: %w", err)
	}
	return nil
}

// rebind rewrites ? placeholders for dialects that number them.
func (s *SQLStorage) rebind(query string) string {
	if !s.dialect.numbered {
		return query
	}
	var b strings.Builder
	n := 0
	for _, c := range query {
		if c == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteRune(c)
	}
	return b.String()
}

// Begin starts a database transaction.
func (s *SQLStorage) Begin(ctx context.Context) (Tx, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	return &sqlTransaction{tx: tx, storage: s}, nil
}

// Close closes the storage backend.
func (s *SQLStorage) Close() error {
	return s.db.Close()
}

const (
	glyphColumns     = "unicode, name, default_type, gf0014_id, component, compound, slice, ambiguous"
	characterColumns = "unicode, tygf, gb2312, readings, glyphs, name, gf0014_id, ambiguous"
)

// sqlTransaction implements Tx over a database/sql transaction. Result sets
// are always drained and closed before the next statement.
type sqlTransaction struct {
	tx      *sql.Tx
	storage *SQLStorage
}

func (t *sqlTransaction) exec(query string, args ...any) (sql.Result, error) {
	res, err := t.tx.Exec(t.storage.rebind(query), args...)
	if err != nil && t.storage.dialect.isDuplicate(err) {
		return nil, fmt.Errorf("%w: %v", ErrDuplicate, err)
	}
	return res, err
}

func (t *sqlTransaction) query(query string, args ...any) (*sql.Rows, error) {
	return t.tx.Query(t.storage.rebind(query), args...)
}

func (t *sqlTransaction) queryRow(query string, args ...any) *sql.Row {
	return t.tx.QueryRow(t.storage.rebind(query), args...)
}

func tableName(t Table) (string, error) {
	switch t {
	case TableGlyph, TableCharacter:
		return string(t), nil
	}
	return "", unknownTable(t)
}

type scanner interface {
	Scan(dest ...any) error
}

func scanGlyph(row scanner) (*GlyphRecord, error) {
	var r GlyphRecord
	err := row.Scan(&r.Code, &r.Name, &r.DefaultType, &r.GF0014ID, &r.Component, &r.Compound, &r.Slice, &r.Ambiguous)
	if err != nil {
		return nil, err
	}
	return &r, nil
}

func scanCharacter(row scanner) (*CharacterRecord, error) {
	var r CharacterRecord
	err := row.Scan(&r.Code, &r.Tygf, &r.GB2312, &r.Readings, &r.Glyphs, &r.Name, &r.GF0014ID, &r.Ambiguous)
	if err != nil {
		return nil, err
	}
	return &r, nil
}

func (t *sqlTransaction) Glyph(code rune) (*GlyphRecord, error) {
	rec, err := scanGlyph(t.queryRow("SELECT "+glyphColumns+" FROM form WHERE unicode = ?", code))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return rec, err
}

func (t *sqlTransaction) InsertGlyph(r *GlyphRecord) error {
	_, err := t.exec(`
		INSERT INTO form (`+glyphColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`, r.Code, r.Name, r.DefaultType, r.GF0014ID, r.Component, r.Compound, r.Slice, r.Ambiguous)
	return err
}

func (t *sqlTransaction) UpdateGlyph(r *GlyphRecord) error {
	res, err := t.exec(`
		UPDATE form SET name = ?, default_type = ?, gf0014_id = ?, component = ?, compound = ?, slice = ?, ambiguous = ?
		WHERE unicode = ?
	`, r.Name, r.DefaultType, r.GF0014ID, r.Component, r.Compound, r.Slice, r.Ambiguous, r.Code)
	if err != nil {
		return err
	}
	return expectRow(res)
}

func (t *sqlTransaction) Glyphs(offset, limit int) ([]*GlyphRecord, error) {
	rows, err := t.query("SELECT "+glyphColumns+" FROM form ORDER BY unicode LIMIT ? OFFSET ?", pageLimit(limit), offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*GlyphRecord
	for rows.Next() {
		rec, err := scanGlyph(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

func (t *sqlTransaction) Character(code rune) (*CharacterRecord, error) {
	rec, err := scanCharacter(t.queryRow("SELECT "+characterColumns+" FROM repertoire WHERE unicode = ?", code))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return rec, err
}

func (t *sqlTransaction) InsertCharacter(r *CharacterRecord) error {
	_, err := t.exec(`
		INSERT INTO repertoire (`+characterColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`, r.Code, r.Tygf, r.GB2312, r.Readings, r.Glyphs, r.Name, r.GF0014ID, r.Ambiguous)
	return err
}

func (t *sqlTransaction) UpdateCharacter(r *CharacterRecord) error {
	res, err := t.exec(`
		UPDATE repertoire SET tygf = ?, gb2312 = ?, readings = ?, glyphs = ?, name = ?, gf0014_id = ?, ambiguous = ?
		WHERE unicode = ?
	`, r.Tygf, r.GB2312, r.Readings, r.Glyphs, r.Name, r.GF0014ID, r.Ambiguous, r.Code)
	if err != nil {
		return err
	}
	return expectRow(res)
}

func (t *sqlTransaction) Characters(offset, limit int) ([]*CharacterRecord, error) {
	rows, err := t.query("SELECT "+characterColumns+" FROM repertoire ORDER BY unicode LIMIT ? OFFSET ?", pageLimit(limit), offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*CharacterRecord
	for rows.Next() {
		rec, err := scanCharacter(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

func (t *sqlTransaction) Exists(table Table, code rune) (bool, error) {
	name, err := tableName(table)
	if err != nil {
		return false, err
	}
	var count int
	err = t.queryRow("SELECT COUNT(*) FROM "+name+" WHERE unicode = ?", code).Scan(&count)
	return count > 0, err
}

func (t *sqlTransaction) Count(table Table) (int, error) {
	name, err := tableName(table)
	if err != nil {
		return 0, err
	}
	var count int
	err = t.queryRow("SELECT COUNT(*) FROM " + name).Scan(&count)
	return count, err
}

func (t *sqlTransaction) Codes(floor, ceiling rune) ([]rune, error) {
	rows, err := t.query(`
		SELECT unicode FROM form WHERE unicode >= ? AND unicode < ?
		UNION
		SELECT unicode FROM repertoire WHERE unicode >= ? AND unicode < ?
		ORDER BY unicode
	`, floor, ceiling, floor, ceiling)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var codes []rune
	for rows.Next() {
		var code rune
		if err := rows.Scan(&code); err != nil {
			return nil, err
		}
		codes = append(codes, code)
	}
	return codes, rows.Err()
}

func (t *sqlTransaction) Delete(table Table, code rune) error {
	name, err := tableName(table)
	if err != nil {
		return err
	}
	if _, err := t.exec("DELETE FROM "+name+" WHERE unicode = ?", code); err != nil {
		return err
	}
	_, err = t.exec("DELETE FROM edge WHERE referrer_table = ? AND referrer_code = ?", string(table), code)
	return err
}

func (t *sqlTransaction) Rename(table Table, from, to rune) error {
	name, err := tableName(table)
	if err != nil {
		return err
	}
	res, err := t.exec("UPDATE "+name+" SET unicode = ? WHERE unicode = ?", to, from)
	if err != nil {
		return err
	}
	if err := expectRow(res); err != nil {
		return err
	}
	_, err = t.exec("UPDATE edge SET referrer_code = ? WHERE referrer_table = ? AND referrer_code = ?", to, string(table), from)
	return err
}

func (t *sqlTransaction) SetEdges(from Ref, edges []Edge) error {
	if _, err := t.exec("DELETE FROM edge WHERE referrer_table = ? AND referrer_code = ?", string(from.Table), from.Code); err != nil {
		return err
	}
	for _, e := range edges {
		_, err := t.exec(`
			INSERT INTO edge (referrer_table, referrer_code, target, role)
			VALUES (?, ?, ?, ?)
		`, string(from.Table), from.Code, e.Target, string(e.Role))
		if err != nil {
			return err
		}
	}
	return nil
}

func (t *sqlTransaction) EdgesTo(code rune) ([]Edge, error) {
	return t.edges(`
		SELECT referrer_table, referrer_code, target, role FROM edge
		WHERE target = ?
		ORDER BY referrer_table, referrer_code, role, target
	`, code)
}

func (t *sqlTransaction) EdgesFrom(code rune) ([]Edge, error) {
	return t.edges(`
		SELECT referrer_table, referrer_code, target, role FROM edge
		WHERE referrer_code = ?
		ORDER BY referrer_table, role, target
	`, code)
}

func (t *sqlTransaction) edges(query string, args ...any) ([]Edge, error) {
	rows, err := t.query(query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Edge
	for rows.Next() {
		var (
			e           Edge
			table, role string
		)
		if err := rows.Scan(&table, &e.From.Code, &e.Target, &role); err != nil {
			return nil, err
		}
		e.From.Table = Table(table)
		e.Role = Role(role)
		out = append(out, e)
	}
	return out, rows.Err()
}

// Commit completes the transaction.
func (t *sqlTransaction) Commit() error {
	err := t.tx.Commit()
	if errors.Is(err, sql.ErrTxDone) {
		return ErrTxDone
	}
	return err
}

// Rollback cancels the transaction.
func (t *sqlTransaction) Rollback() error {
	err := t.tx.Rollback()
	if errors.Is(err, sql.ErrTxDone) {
		return nil
	}
	return err
}

func expectRow(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

func pageLimit(limit int) int {
	if limit < 0 {
		return math.MaxInt32
	}
	return limit
}
