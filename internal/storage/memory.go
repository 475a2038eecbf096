package storage

import (
	"context"
	"slices"
	"sync"
)

// MemoryStorage is an in-memory storage backend. Transactions are
// serialized: Begin takes the lock and Commit or Rollback releases it.
type MemoryStorage struct {
	mu    sync.Mutex
	state *memoryState
}

type memoryState struct {
	glyphs     map[rune]GlyphRecord
	characters map[rune]CharacterRecord
	edges      map[Ref][]Edge // referrer -> outgoing edges
}

// NewMemoryStorage creates a new in-memory storage backend.
func NewMemoryStorage() *MemoryStorage {
	return &MemoryStorage{
		state: &memoryState{
			glyphs:     make(map[rune]GlyphRecord),
			characters: make(map[rune]CharacterRecord),
			edges:      make(map[Ref][]Edge),
		},
	}
}

// clone copies the maps. Records are replaced, never mutated, so sharing
// their pointer fields is safe.
func (s *memoryState) clone() *memoryState {
	c := &memoryState{
		glyphs:     make(map[rune]GlyphRecord, len(s.glyphs)),
		characters: make(map[rune]CharacterRecord, len(s.characters)),
		edges:      make(map[Ref][]Edge, len(s.edges)),
	}
	for k, v := range s.glyphs {
		c.glyphs[k] = v
	}
	for k, v := range s.characters {
		c.characters[k] = v
	}
	for k, v := range s.edges {
		c.edges[k] = v
	}
	return c
}

// Begin starts a transaction on a private copy of the current state.
func (m *MemoryStorage) Begin(ctx context.Context) (Tx, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.Lock()
	return &memoryTransaction{storage: m, state: m.state.clone()}, nil
}

// Close closes the storage backend.
func (m *MemoryStorage) Close() error {
	return nil
}

// Count returns the number of stored entries across both tables.
func (m *MemoryStorage) Count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.state.glyphs) + len(m.state.characters)
}

// memoryTransaction implements Tx for MemoryStorage.
type memoryTransaction struct {
	storage *MemoryStorage
	state   *memoryState
	done    bool
}

func (tx *memoryTransaction) check() error {
	if tx.done {
		return ErrTxDone
	}
	return nil
}

func (tx *memoryTransaction) Glyph(code rune) (*GlyphRecord, error) {
	if err := tx.check(); err != nil {
		return nil, err
	}
	rec, ok := tx.state.glyphs[code]
	if !ok {
		return nil, ErrNotFound
	}
	return &rec, nil
}

func (tx *memoryTransaction) InsertGlyph(rec *GlyphRecord) error {
	if err := tx.check(); err != nil {
		return err
	}
	if _, ok := tx.state.glyphs[rec.Code]; ok {
		return ErrDuplicate
	}
	tx.state.glyphs[rec.Code] = *rec
	return nil
}

func (tx *memoryTransaction) UpdateGlyph(rec *GlyphRecord) error {
	if err := tx.check(); err != nil {
		return err
	}
	if _, ok := tx.state.glyphs[rec.Code]; !ok {
		return ErrNotFound
	}
	tx.state.glyphs[rec.Code] = *rec
	return nil
}

func (tx *memoryTransaction) Glyphs(offset, limit int) ([]*GlyphRecord, error) {
	if err := tx.check(); err != nil {
		return nil, err
	}
	codes := page(sortedKeys(tx.state.glyphs), offset, limit)
	out := make([]*GlyphRecord, 0, len(codes))
	for _, code := range codes {
		rec := tx.state.glyphs[code]
		out = append(out, &rec)
	}
	return out, nil
}

func (tx *memoryTransaction) Character(code rune) (*CharacterRecord, error) {
	if err := tx.check(); err != nil {
		return nil, err
	}
	rec, ok := tx.state.characters[code]
	if !ok {
		return nil, ErrNotFound
	}
	return &rec, nil
}

func (tx *memoryTransaction) InsertCharacter(rec *CharacterRecord) error {
	if err := tx.check(); err != nil {
		return err
	}
	if _, ok := tx.state.characters[rec.Code]; ok {
		return ErrDuplicate
	}
	tx.state.characters[rec.Code] = *rec
	return nil
}

func (tx *memoryTransaction) UpdateCharacter(rec *CharacterRecord) error {
	if err := tx.check(); err != nil {
		return err
	}
	if _, ok := tx.state.characters[rec.Code]; !ok {
		return ErrNotFound
	}
	tx.state.characters[rec.Code] = *rec
	return nil
}

func (tx *memoryTransaction) Characters(offset, limit int) ([]*CharacterRecord, error) {
	if err := tx.check(); err != nil {
		return nil, err
	}
	codes := page(sortedKeys(tx.state.characters), offset, limit)
	out := make([]*CharacterRecord, 0, len(codes))
	for _, code := range codes {
		rec := tx.state.characters[code]
		out = append(out, &rec)
	}
	return out, nil
}

func (tx *memoryTransaction) Exists(t Table, code rune) (bool, error) {
	if err := tx.check(); err != nil {
		return false, err
	}
	switch t {
	case TableGlyph:
		_, ok := tx.state.glyphs[code]
		return ok, nil
	case TableCharacter:
		_, ok := tx.state.characters[code]
		return ok, nil
	}
	return false, unknownTable(t)
}

func (tx *memoryTransaction) Count(t Table) (int, error) {
	if err := tx.check(); err != nil {
		return 0, err
	}
	switch t {
	case TableGlyph:
		return len(tx.state.glyphs), nil
	case TableCharacter:
		return len(tx.state.characters), nil
	}
	return 0, unknownTable(t)
}

func (tx *memoryTransaction) Codes(floor, ceiling rune) ([]rune, error) {
	if err := tx.check(); err != nil {
		return nil, err
	}
	var codes []rune
	for code := range tx.state.glyphs {
		if code >= floor && code < ceiling {
			codes = append(codes, code)
		}
	}
	for code := range tx.state.characters {
		if code >= floor && code < ceiling {
			codes = append(codes, code)
		}
	}
	slices.Sort(codes)
	return slices.Compact(codes), nil
}

func (tx *memoryTransaction) Delete(t Table, code rune) error {
	if err := tx.check(); err != nil {
		return err
	}
	switch t {
	case TableGlyph:
		delete(tx.state.glyphs, code)
	case TableCharacter:
		delete(tx.state.characters, code)
	default:
		return unknownTable(t)
	}
	delete(tx.state.edges, Ref{Table: t, Code: code})
	return nil
}

func (tx *memoryTransaction) Rename(t Table, from, to rune) error {
	if err := tx.check(); err != nil {
		return err
	}
	switch t {
	case TableGlyph:
		rec, ok := tx.state.glyphs[from]
		if !ok {
			return ErrNotFound
		}
		if _, ok := tx.state.glyphs[to]; ok {
			return ErrDuplicate
		}
		delete(tx.state.glyphs, from)
		rec.Code = to
		tx.state.glyphs[to] = rec
	case TableCharacter:
		rec, ok := tx.state.characters[from]
		if !ok {
			return ErrNotFound
		}
		if _, ok := tx.state.characters[to]; ok {
			return ErrDuplicate
		}
		delete(tx.state.characters, from)
		rec.Code = to
		tx.state.characters[to] = rec
	default:
		return unknownTable(t)
	}

	oldRef, newRef := Ref{Table: t, Code: from}, Ref{Table: t, Code: to}
	if edges, ok := tx.state.edges[oldRef]; ok {
		moved := make([]Edge, len(edges))
		for i, e := range edges {
			e.From = newRef
			moved[i] = e
		}
		delete(tx.state.edges, oldRef)
		tx.state.edges[newRef] = moved
	}
	return nil
}

func (tx *memoryTransaction) SetEdges(from Ref, edges []Edge) error {
	if err := tx.check(); err != nil {
		return err
	}
	if len(edges) == 0 {
		delete(tx.state.edges, from)
		return nil
	}
	tx.state.edges[from] = slices.Clone(edges)
	return nil
}

// EdgesTo scans every referrer. The SQL backends answer this from an index.
func (tx *memoryTransaction) EdgesTo(code rune) ([]Edge, error) {
	if err := tx.check(); err != nil {
		return nil, err
	}
	var out []Edge
	for _, edges := range tx.state.edges {
		for _, e := range edges {
			if e.Target == code {
				out = append(out, e)
			}
		}
	}
	sortEdges(out)
	return out, nil
}

func (tx *memoryTransaction) EdgesFrom(code rune) ([]Edge, error) {
	if err := tx.check(); err != nil {
		return nil, err
	}
	var out []Edge
	for _, t := range Tables {
		out = append(out, tx.state.edges[Ref{Table: t, Code: code}]...)
	}
	return out, nil
}

// Commit publishes the transaction's state.
func (tx *memoryTransaction) Commit() error {
	if tx.done {
		return ErrTxDone
	}
	tx.done = true
	tx.storage.state = tx.state
	tx.storage.mu.Unlock()
	return nil
}

// Rollback discards the transaction's state.
func (tx *memoryTransaction) Rollback() error {
	if tx.done {
		return nil
	}
	tx.done = true
	tx.state = nil
	tx.storage.mu.Unlock()
	return nil
}

func sortedKeys[V any](m map[rune]V) []rune {
	keys := make([]rune, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	return keys
}

func page(codes []rune, offset, limit int) []rune {
	if offset >= len(codes) {
		return nil
	}
	codes = codes[offset:]
	if limit >= 0 && limit < len(codes) {
		codes = codes[:limit]
	}
	return codes
}

func sortEdges(edges []Edge) {
	slices.SortFunc(edges, func(a, b Edge) int {
		if a.From.Table != b.From.Table {
			if a.From.Table < b.From.Table {
				return -1
			}
			return 1
		}
		if a.From.Code != b.From.Code {
			return int(a.From.Code - b.From.Code)
		}
		if a.Role != b.Role {
			if a.Role < b.Role {
				return -1
			}
			return 1
		}
		return int(a.Target - b.Target)
	})
}
