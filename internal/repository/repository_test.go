package repository

import (
	"context"
	"errors"
	"reflect"
	"testing"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/zot/repertoire/internal/alloc"
	"github.com/zot/repertoire/internal/glyph"
	"github.com/zot/repertoire/internal/storage"
)

var ctx = context.Background()

func strPtr(s string) *string { return &s }

type fixture struct {
	store  storage.Backend
	glyphs *Repository[*glyph.Glyph]
	chars  *Repository[*glyph.Character]
	logs   *observer.ObservedLogs
}

func newFixture(t *testing.T, store storage.Backend, a *alloc.Allocator) *fixture {
	t.Helper()
	core, logs := observer.New(zapcore.DebugLevel)
	log := zap.New(core).Sugar()
	return &fixture{
		store:  store,
		glyphs: NewGlyphs(store, a, log),
		chars:  NewCharacters(store, a, log),
		logs:   logs,
	}
}

func (f *fixture) glyph(t *testing.T, code rune, d glyph.Decomposition) {
	t.Helper()
	if _, err := f.glyphs.Create(ctx, &glyph.Glyph{Code: code, Decomposition: d}); err != nil {
		t.Fatalf("Create glyph %X failed: %v", code, err)
	}
}

func (f *fixture) char(t *testing.T, code rune, ds ...glyph.Decomposition) {
	t.Helper()
	if _, err := f.chars.Create(ctx, &glyph.Character{Code: code, Readings: []string{}, Glyphs: ds}); err != nil {
		t.Fatalf("Create character %X failed: %v", code, err)
	}
}

// faultyBackend wraps every transaction it begins.
type faultyBackend struct {
	storage.Backend
	wrap func(storage.Tx) storage.Tx
}

func (b faultyBackend) Begin(ctx context.Context) (storage.Tx, error) {
	tx, err := b.Backend.Begin(ctx)
	if err != nil {
		return nil, err
	}
	return b.wrap(tx), nil
}

// failUpdate fails the glyph update of one code and records the others.
type failUpdate struct {
	storage.Tx
	code    rune
	updated *[]rune
}

func (f failUpdate) UpdateGlyph(rec *storage.GlyphRecord) error {
	if rec.Code == f.code {
		return errors.New("injected failure")
	}
	*f.updated = append(*f.updated, rec.Code)
	return f.Tx.UpdateGlyph(rec)
}

// staleCodes hides every occupied code from the allocator, as a concurrent
// writer would.
type staleCodes struct {
	storage.Tx
}

func (staleCodes) Codes(floor, ceiling rune) ([]rune, error) {
	return nil, nil
}

type snapshot struct {
	glyphs []*storage.GlyphRecord
	chars  []*storage.CharacterRecord
	edges  map[rune][]storage.Edge
}

func takeSnapshot(t *testing.T, store storage.Backend) snapshot {
	t.Helper()
	tx, err := store.Begin(ctx)
	if err != nil {
		t.Fatalf("Begin failed: %v", err)
	}
	defer tx.Rollback()

	var s snapshot
	if s.glyphs, err = tx.Glyphs(0, -1); err != nil {
		t.Fatalf("Glyphs failed: %v", err)
	}
	if s.chars, err = tx.Characters(0, -1); err != nil {
		t.Fatalf("Characters failed: %v", err)
	}
	s.edges = make(map[rune][]storage.Edge)
	var codes []rune
	for _, g := range s.glyphs {
		codes = append(codes, g.Code)
	}
	for _, c := range s.chars {
		codes = append(codes, c.Code)
	}
	for _, code := range codes {
		es, err := tx.EdgesFrom(code)
		if err != nil {
			t.Fatalf("EdgesFrom failed: %v", err)
		}
		if len(es) > 0 {
			s.edges[code] = es
		}
	}
	return s
}

// graph seeds a small reference graph around glyph E002.
func graph(t *testing.T, f *fixture) {
	t.Helper()
	f.char(t, 0x4E00)
	f.glyph(t, 0xE002, glyph.Basic(glyph.StrokeRef(0)))
	f.glyph(t, 0xE010, glyph.Derived("\uE002", glyph.StrokeRef(0)))
	f.glyph(t, 0xE800, glyph.Compose("⿲", "\uE002", "一", "\uE002"))
	f.char(t, 0x4E2D, glyph.Compose("⿻", "一", "\uE002"))
}

// TestAllocateLowestGap verifies a code-less create takes the first free component code
func TestAllocateLowestGap(t *testing.T) {
	f := newFixture(t, storage.NewMemoryStorage(), nil)
	for _, code := range []rune{0xE000, 0xE001, 0xE003} {
		f.glyph(t, code, glyph.Basic())
	}

	code, err := f.glyphs.Create(ctx, &glyph.Glyph{Decomposition: glyph.Derived("\uE000", glyph.StrokeRef(0))})
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	if code != 0xE002 {
		t.Errorf("Expected E002, got %X", code)
	}

	code, err = f.chars.Create(ctx, &glyph.Character{Glyphs: []glyph.Decomposition{glyph.Compose("⿰", "\uE000", "\uE001")}})
	if err != nil {
		t.Fatalf("Create character failed: %v", err)
	}
	if code != 0xE800 {
		t.Errorf("Expected compound character at E800, got %X", code)
	}
}

// TestDeleteReferenced verifies delete is refused while references exist
func TestDeleteReferenced(t *testing.T) {
	f := newFixture(t, storage.NewMemoryStorage(), nil)
	f.char(t, 0x4E00)
	f.glyph(t, 0xE002, glyph.Basic())
	f.glyph(t, 0xE800, glyph.Compose("⿰", "\uE002", "一"))

	err := f.glyphs.Delete(ctx, 0xE002)
	if !errors.Is(err, ErrReferenced) {
		t.Fatalf("Expected ErrReferenced, got %v", err)
	}
	var re *ReferencedError
	if !errors.As(err, &re) || re.Count() != 1 || re.Referrers[0] != (storage.Ref{Table: storage.TableGlyph, Code: 0xE800}) {
		t.Errorf("Unexpected referrers: %+v", re)
	}

	if err := f.glyphs.Delete(ctx, 0xE800); err != nil {
		t.Fatalf("Delete of unreferenced compound failed: %v", err)
	}
	if err := f.glyphs.Delete(ctx, 0xE002); err != nil {
		t.Errorf("Delete should succeed once references are gone: %v", err)
	}
	if err := f.glyphs.Delete(ctx, 0xE002); !errors.Is(err, ErrNotFound) {
		t.Errorf("Expected ErrNotFound deleting twice, got %v", err)
	}
}

// TestRenameCascades verifies every reference follows a renamed code
func TestRenameCascades(t *testing.T) {
	f := newFixture(t, storage.NewMemoryStorage(), nil)
	graph(t, f)

	if err := f.glyphs.Rename(ctx, 0xE002, 0xE100); err != nil {
		t.Fatalf("Rename failed: %v", err)
	}

	if _, err := f.glyphs.Get(ctx, 0xE002); !errors.Is(err, ErrNotFound) {
		t.Errorf("Old code should be gone, got %v", err)
	}
	compound, err := f.glyphs.Get(ctx, 0xE800)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if want := []string{"\uE100", "一", "\uE100"}; !reflect.DeepEqual(compound.Decomposition.Compound.Operands, want) {
		t.Errorf("Expected operands %q, got %q", want, compound.Decomposition.Compound.Operands)
	}
	derived, _ := f.glyphs.Get(ctx, 0xE010)
	if derived.Decomposition.Derived.Source != "\uE100" {
		t.Errorf("Expected source U+E100, got %q", derived.Decomposition.Derived.Source)
	}
	char, _ := f.chars.Get(ctx, 0x4E2D)
	if char.Glyphs[0].Compound.Operands[1] != "\uE100" {
		t.Errorf("Character operand not rewritten: %q", char.Glyphs[0].Compound.Operands)
	}

	refs, err := f.glyphs.ReferencedBy(ctx, 0xE100)
	if err != nil {
		t.Fatalf("ReferencedBy failed: %v", err)
	}
	if len(refs) != 3 {
		t.Errorf("Expected 3 referrers, got %+v", refs)
	}
}

// TestRenameRoundTrip verifies renaming back restores identical records and edges
func TestRenameRoundTrip(t *testing.T) {
	f := newFixture(t, storage.NewMemoryStorage(), nil)
	graph(t, f)
	before := takeSnapshot(t, f.store)

	if err := f.glyphs.Rename(ctx, 0xE002, 0xE100); err != nil {
		t.Fatalf("Rename failed: %v", err)
	}
	if reflect.DeepEqual(takeSnapshot(t, f.store), before) {
		t.Fatal("Rename should change the stored state")
	}
	if err := f.glyphs.Rename(ctx, 0xE100, 0xE002); err != nil {
		t.Fatalf("Rename back failed: %v", err)
	}

	after := takeSnapshot(t, f.store)
	if !reflect.DeepEqual(after, before) {
		t.Errorf("State not restored:\nbefore %+v\nafter  %+v", before, after)
	}
}

// TestRenameConflicts verifies pre-checks reject taken and missing codes without mutating
func TestRenameConflicts(t *testing.T) {
	f := newFixture(t, storage.NewMemoryStorage(), nil)
	graph(t, f)
	before := takeSnapshot(t, f.store)

	err := f.glyphs.Rename(ctx, 0xE002, 0xE010)
	if !errors.Is(err, ErrConflict) {
		t.Errorf("Expected ErrConflict, got %v", err)
	}
	if IsRetryable(err) {
		t.Error("Rename conflicts are not retryable")
	}
	if err := f.glyphs.Rename(ctx, 0xE555, 0xE556); !errors.Is(err, ErrNotFound) {
		t.Errorf("Expected ErrNotFound, got %v", err)
	}
	if err := f.glyphs.Rename(ctx, 0xE002, 0xD800); err == nil {
		t.Error("Expected error renaming to a surrogate")
	}
	if err := f.glyphs.Rename(ctx, 0xE002, 0xE002); err != nil {
		t.Errorf("Renaming to the same code should be a no-op, got %v", err)
	}

	if !reflect.DeepEqual(takeSnapshot(t, f.store), before) {
		t.Error("Rejected renames must not change stored state")
	}
}

// TestCrossTableCodes verifies a code held by either table is taken for create and rename
func TestCrossTableCodes(t *testing.T) {
	tests := []struct {
		name   string
		op     func(f *fixture) error
		holder storage.Table
		code   rune
	}{
		{
			name: "create character on glyph code",
			op: func(f *fixture) error {
				_, err := f.chars.Create(ctx, &glyph.Character{Code: 0xE002})
				return err
			},
			holder: storage.TableGlyph,
			code:   0xE002,
		},
		{
			name: "create glyph on character code",
			op: func(f *fixture) error {
				_, err := f.glyphs.Create(ctx, &glyph.Glyph{Code: 0x4E2D, Decomposition: glyph.Basic()})
				return err
			},
			holder: storage.TableCharacter,
			code:   0x4E2D,
		},
		{
			name:   "rename character onto glyph code",
			op:     func(f *fixture) error { return f.chars.Rename(ctx, 0x4E00, 0xE002) },
			holder: storage.TableGlyph,
			code:   0xE002,
		},
		{
			name:   "rename glyph onto character code",
			op:     func(f *fixture) error { return f.glyphs.Rename(ctx, 0xE010, 0x4E2D) },
			holder: storage.TableCharacter,
			code:   0x4E2D,
		},
		{
			name: "import glyph on character code",
			op: func(f *fixture) error {
				_, err := f.glyphs.Import(ctx, []*glyph.Glyph{{Code: 0x4E00, Decomposition: glyph.Basic()}})
				return err
			},
			holder: storage.TableCharacter,
			code:   0x4E00,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t, storage.NewMemoryStorage(), nil)
			graph(t, f)
			before := takeSnapshot(t, f.store)

			err := tt.op(f)
			var ce *ConflictError
			if !errors.As(err, &ce) || ce.Table != tt.holder || ce.Code != tt.code {
				t.Fatalf("Expected conflict on %s %X, got %v", tt.holder, tt.code, err)
			}
			if !reflect.DeepEqual(takeSnapshot(t, f.store), before) {
				t.Error("Rejected operation must not change stored state")
			}
		})
	}
}

// TestRenameKeepsOtherTableReferences verifies a rename cannot capture references to another table's entry
func TestRenameKeepsOtherTableReferences(t *testing.T) {
	f := newFixture(t, storage.NewMemoryStorage(), nil)
	f.glyph(t, 0xE000, glyph.Basic())
	f.char(t, 0x4E00)
	f.glyph(t, 0xE800, glyph.Compose("⿰", "\uE000", "一"))
	before := takeSnapshot(t, f.store)

	if err := f.chars.Rename(ctx, 0x4E00, 0xE000); !errors.Is(err, ErrConflict) {
		t.Fatalf("Expected ErrConflict, got %v", err)
	}
	if err := f.chars.Rename(ctx, 0xE000, 0x4E00); !errors.Is(err, ErrNotFound) {
		t.Errorf("Expected ErrNotFound for a glyph code, got %v", err)
	}
	g, err := f.glyphs.Get(ctx, 0xE800)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if want := []string{"\uE000", "一"}; !reflect.DeepEqual(g.Decomposition.Compound.Operands, want) {
		t.Errorf("Expected operands %q, got %q", want, g.Decomposition.Compound.Operands)
	}
	if !reflect.DeepEqual(takeSnapshot(t, f.store), before) {
		t.Error("Rejected renames must not change stored state")
	}
}

// TestSharedCode verifies a code held by both tables cannot be renamed or deleted while referenced
func TestSharedCode(t *testing.T) {
	f := newFixture(t, storage.NewMemoryStorage(), nil)

	// Older stores may hold the same code in both tables.
	tx, err := f.store.Begin(ctx)
	if err != nil {
		t.Fatalf("Begin failed: %v", err)
	}
	if _, err := (glyphSchema{}).Store(tx, 0xE020, &glyph.Glyph{Decomposition: glyph.Basic()}, true); err != nil {
		t.Fatalf("Store glyph failed: %v", err)
	}
	if _, err := (characterSchema{}).Store(tx, 0xE020, &glyph.Character{Readings: []string{}}, true); err != nil {
		t.Fatalf("Store character failed: %v", err)
	}
	if err := tx.Commit(); err != nil {
		t.Fatalf("Commit failed: %v", err)
	}
	f.glyph(t, 0xE030, glyph.Derived("\uE020"))
	before := takeSnapshot(t, f.store)

	var ce *ConflictError
	if err := f.glyphs.Rename(ctx, 0xE020, 0xE040); !errors.As(err, &ce) || ce.Table != storage.TableCharacter || ce.Code != 0xE020 {
		t.Errorf("Expected conflict with the character at E020, got %v", err)
	}
	if err := f.chars.Rename(ctx, 0xE020, 0xE040); !errors.As(err, &ce) || ce.Table != storage.TableGlyph {
		t.Errorf("Expected conflict with the glyph at E020, got %v", err)
	}
	if err := f.glyphs.Delete(ctx, 0xE020); !errors.Is(err, ErrReferenced) {
		t.Errorf("Expected ErrReferenced deleting the glyph, got %v", err)
	}
	if err := f.chars.Delete(ctx, 0xE020); !errors.Is(err, ErrReferenced) {
		t.Errorf("Expected ErrReferenced deleting the character, got %v", err)
	}
	if !reflect.DeepEqual(takeSnapshot(t, f.store), before) {
		t.Error("Rejected operations must not change stored state")
	}

	if err := f.glyphs.Delete(ctx, 0xE030); err != nil {
		t.Fatalf("Delete of referrer failed: %v", err)
	}
	if err := f.chars.Delete(ctx, 0xE020); err != nil {
		t.Errorf("Delete should succeed once references are gone: %v", err)
	}
	if err := f.glyphs.Rename(ctx, 0xE020, 0xE040); err != nil {
		t.Errorf("Rename should succeed once the code is held once: %v", err)
	}
}

// TestRenameAtomic verifies a failure between the source and operand steps leaves no trace
func TestRenameAtomic(t *testing.T) {
	mem := storage.NewMemoryStorage()
	graph(t, newFixture(t, mem, nil))
	before := takeSnapshot(t, mem)

	var updated []rune
	faulty := faultyBackend{Backend: mem, wrap: func(tx storage.Tx) storage.Tx {
		return failUpdate{Tx: tx, code: 0xE800, updated: &updated}
	}}
	f := newFixture(t, faulty, nil)

	err := f.glyphs.Rename(ctx, 0xE002, 0xE100)
	if !errors.Is(err, ErrStorage) {
		t.Fatalf("Expected ErrStorage, got %v", err)
	}
	if !reflect.DeepEqual(updated, []rune{0xE010}) {
		t.Fatalf("Expected the source step to run before the failure, updated %X", updated)
	}

	if !reflect.DeepEqual(takeSnapshot(t, mem), before) {
		t.Error("Failed rename left partial changes")
	}

	entries := f.logs.FilterMessage("storage failure").All()
	if len(entries) != 1 {
		t.Fatalf("Expected one storage failure log, got %d", len(entries))
	}
	fields := entries[0].ContextMap()
	if fields["op"] != "rename" || fields["table"] != "form" || fields["code"] != "U+E002" {
		t.Errorf("Unexpected log fields %v", fields)
	}
}

// TestCreateConflicts verifies taken explicit codes and exhausted ranges are reported distinctly
func TestCreateConflicts(t *testing.T) {
	a, err := alloc.New(map[alloc.Kind]alloc.Range{
		alloc.Component: {Floor: 0xE000, Ceiling: 0xE800},
		alloc.Compound:  {Floor: 0xE800, Ceiling: 0xE802},
	})
	if err != nil {
		t.Fatalf("alloc.New failed: %v", err)
	}
	f := newFixture(t, storage.NewMemoryStorage(), a)
	f.char(t, 0x4E00)
	f.char(t, 0x4E2D)

	_, err = f.chars.Create(ctx, &glyph.Character{Code: 0x4E2D})
	if !errors.Is(err, ErrConflict) {
		t.Errorf("Expected ErrConflict, got %v", err)
	}
	if IsRetryable(err) {
		t.Error("Explicit code conflicts are not retryable")
	}

	compound := func() *glyph.Glyph {
		return &glyph.Glyph{Decomposition: glyph.Compose("⿱", "一", "中")}
	}
	for _, want := range []rune{0xE800, 0xE801} {
		code, err := f.glyphs.Create(ctx, compound())
		if err != nil || code != want {
			t.Fatalf("Expected %X, got %X (%v)", want, code, err)
		}
	}
	_, err = f.glyphs.Create(ctx, compound())
	if !errors.Is(err, alloc.ErrExhausted) {
		t.Errorf("Expected ErrExhausted, got %v", err)
	}
	if errors.Is(err, ErrStorage) {
		t.Error("Exhaustion must not be reported as a storage failure")
	}
}

// TestCreateRaceIsRetryable verifies an allocation collision is a retryable conflict
func TestCreateRaceIsRetryable(t *testing.T) {
	mem := storage.NewMemoryStorage()
	newFixture(t, mem, nil).glyph(t, 0xE000, glyph.Basic())

	stale := faultyBackend{Backend: mem, wrap: func(tx storage.Tx) storage.Tx { return staleCodes{tx} }}
	f := newFixture(t, stale, nil)

	_, err := f.glyphs.Create(ctx, &glyph.Glyph{Decomposition: glyph.Basic()})
	if !errors.Is(err, ErrConflict) || !IsRetryable(err) {
		t.Errorf("Expected retryable conflict, got %v", err)
	}
	if !errors.Is(err, storage.ErrDuplicate) {
		t.Errorf("Expected the duplicate key cause to be kept, got %v", err)
	}
}

// TestReferenceChecks verifies dangling references and cycles are rejected
func TestReferenceChecks(t *testing.T) {
	f := newFixture(t, storage.NewMemoryStorage(), nil)
	f.glyph(t, 0xE000, glyph.Basic())
	f.glyph(t, 0xE001, glyph.Derived("\uE000", glyph.StrokeRef(0)))

	_, err := f.glyphs.Create(ctx, &glyph.Glyph{Code: 0xE800, Decomposition: glyph.Compose("⿰", "\uE000", "\uE005")})
	var re *ReferenceError
	if !errors.As(err, &re) || !reflect.DeepEqual(re.Missing, []rune{0xE005}) {
		t.Errorf("Expected missing E005, got %v", err)
	}
	if _, err := f.glyphs.Get(ctx, 0xE800); !errors.Is(err, ErrNotFound) {
		t.Error("Rejected create must not be stored")
	}

	err = f.glyphs.Update(ctx, 0xE000, &glyph.Glyph{Decomposition: glyph.Derived("\uE001")})
	if !errors.As(err, &re) || !reflect.DeepEqual(re.Cycle, []rune{0xE000, 0xE001, 0xE000}) {
		t.Errorf("Expected cycle E000 -> E001 -> E000, got %v", err)
	}

	err = f.glyphs.Update(ctx, 0xE001, &glyph.Glyph{Decomposition: glyph.Derived("\uE001")})
	if !errors.Is(err, ErrInvalidReference) {
		t.Errorf("Expected self-reference to be rejected, got %v", err)
	}

	g, _ := f.glyphs.Get(ctx, 0xE000)
	if g.Kind() != glyph.KindBasic {
		t.Error("Rejected update must not be stored")
	}
}

// TestUpdateAndGet verifies full replacement keeps the key
func TestUpdateAndGet(t *testing.T) {
	f := newFixture(t, storage.NewMemoryStorage(), nil)
	f.glyph(t, 0xE000, glyph.Basic())

	err := f.glyphs.Update(ctx, 0xE000, &glyph.Glyph{Code: 0xE999, Name: strPtr("dot"), Decomposition: glyph.Basic(glyph.StrokeRef(1)), Ambiguous: true})
	if err != nil {
		t.Fatalf("Update failed: %v", err)
	}
	g, err := f.glyphs.Get(ctx, 0xE000)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	want := &glyph.Glyph{Code: 0xE000, Name: strPtr("dot"), Decomposition: glyph.Basic(glyph.StrokeRef(1)), Ambiguous: true}
	if !reflect.DeepEqual(g, want) {
		t.Errorf("Expected %+v, got %+v", want, g)
	}
	if _, err := f.glyphs.Get(ctx, 0xE999); !errors.Is(err, ErrNotFound) {
		t.Error("Update must not change the key")
	}

	if err := f.glyphs.Update(ctx, 0xE123, &glyph.Glyph{Decomposition: glyph.Basic()}); !errors.Is(err, ErrNotFound) {
		t.Errorf("Expected ErrNotFound, got %v", err)
	}
}

// TestPatchCharacter verifies a patch replaces only its fields
func TestPatchCharacter(t *testing.T) {
	f := newFixture(t, storage.NewMemoryStorage(), nil)
	f.glyph(t, 0xE000, glyph.Basic())
	if _, err := f.chars.Create(ctx, &glyph.Character{Code: 0x4E2D, Tier: 1, GB2312: true, Readings: []string{"zhong1"}}); err != nil {
		t.Fatalf("Create failed: %v", err)
	}

	patch := &glyph.CharacterPatch{
		Name:   strPtr("middle"),
		Glyphs: []glyph.Decomposition{glyph.Derived("\uE000", glyph.StrokeRef(0))},
	}
	if err := f.chars.Patch(ctx, 0x4E2D, patch.Apply); err != nil {
		t.Fatalf("Patch failed: %v", err)
	}
	c, _ := f.chars.Get(ctx, 0x4E2D)
	if *c.Name != "middle" || c.Tier != 1 || !c.GB2312 || c.Readings[0] != "zhong1" || len(c.Glyphs) != 1 {
		t.Errorf("Unexpected patched character %+v", c)
	}
	refs, _ := f.chars.ReferencedBy(ctx, 0xE000)
	if len(refs) != 1 || refs[0].Table != storage.TableCharacter {
		t.Errorf("Patched glyphs should be indexed, got %+v", refs)
	}

	if err := f.chars.Patch(ctx, 0x4E00, patch.Apply); !errors.Is(err, ErrNotFound) {
		t.Errorf("Expected ErrNotFound, got %v", err)
	}
}

// TestList verifies ordered pages and the total count
func TestList(t *testing.T) {
	f := newFixture(t, storage.NewMemoryStorage(), nil)
	for _, code := range []rune{0xE003, 0xE000, 0xE001} {
		f.glyph(t, code, glyph.Basic())
	}

	page, total, err := f.glyphs.List(ctx, 1, 1)
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}
	if total != 3 || len(page) != 1 || page[0].Code != 0xE001 {
		t.Errorf("Unexpected page %+v (total %d)", page, total)
	}
	all, _, _ := f.glyphs.List(ctx, 0, -1)
	if len(all) != 3 {
		t.Errorf("Expected all 3 glyphs, got %d", len(all))
	}
}

// TestImport verifies batch order is free and a bad batch is rolled back whole
func TestImport(t *testing.T) {
	f := newFixture(t, storage.NewMemoryStorage(), nil)

	codes, err := f.glyphs.Import(ctx, []*glyph.Glyph{
		{Code: 0xE800, Decomposition: glyph.Compose("⿰", "\uE000", "\uE001")},
		{Code: 0xE000, Decomposition: glyph.Basic()},
		{Code: 0xE001, Decomposition: glyph.Derived("\uE000")},
		{Decomposition: glyph.Basic()},
	})
	if err != nil {
		t.Fatalf("Import failed: %v", err)
	}
	if want := []rune{0xE800, 0xE000, 0xE001, 0xE002}; !reflect.DeepEqual(codes, want) {
		t.Errorf("Expected codes %X, got %X", want, codes)
	}

	_, err = f.glyphs.Import(ctx, []*glyph.Glyph{
		{Code: 0xE010, Decomposition: glyph.Basic()},
		{Code: 0xE011, Decomposition: glyph.Derived("\uE0FF")},
	})
	if !errors.Is(err, ErrInvalidReference) {
		t.Errorf("Expected ErrInvalidReference, got %v", err)
	}
	_, total, _ := f.glyphs.List(ctx, 0, -1)
	if total != 4 {
		t.Errorf("Failed batch must be rolled back, have %d glyphs", total)
	}
}

// TestSQLiteRepository runs the rename cascade against SQLite
func TestSQLiteRepository(t *testing.T) {
	store, err := storage.NewSQLiteStorage(":memory:")
	if err != nil {
		t.Fatalf("NewSQLiteStorage failed: %v", err)
	}
	defer store.Close()

	f := newFixture(t, store, nil)
	graph(t, f)
	before := takeSnapshot(t, store)

	if err := f.glyphs.Delete(ctx, 0xE002); !errors.Is(err, ErrReferenced) {
		t.Errorf("Expected ErrReferenced, got %v", err)
	}
	if err := f.glyphs.Rename(ctx, 0xE002, 0xE100); err != nil {
		t.Fatalf("Rename failed: %v", err)
	}
	compound, err := f.glyphs.Get(ctx, 0xE800)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if compound.Decomposition.Compound.Operands[2] != "\uE100" {
		t.Errorf("Operand not rewritten: %q", compound.Decomposition.Compound.Operands)
	}
	if err := f.glyphs.Rename(ctx, 0xE100, 0xE002); err != nil {
		t.Fatalf("Rename back failed: %v", err)
	}
	if !reflect.DeepEqual(takeSnapshot(t, store), before) {
		t.Error("SQLite state not restored after round trip")
	}
}

// TestImportAll verifies glyphs and characters may refer to each other within one batch
func TestImportAll(t *testing.T) {
	f := newFixture(t, storage.NewMemoryStorage(), nil)

	gcodes, ccodes, err := ImportAll(ctx, f.glyphs, f.chars,
		[]*glyph.Glyph{
			{Code: 0xE000, Decomposition: glyph.Derived("一")},
			{Decomposition: glyph.Basic()},
		},
		[]*glyph.Character{
			{Code: 0x4E00, Readings: []string{}, Glyphs: []glyph.Decomposition{glyph.Basic()}},
			{Code: 0x4E2D, Glyphs: []glyph.Decomposition{glyph.Compose("⿻", "\uE000", "一")}},
		})
	if err != nil {
		t.Fatalf("ImportAll failed: %v", err)
	}
	if want := []rune{0xE000, 0xE001}; !reflect.DeepEqual(gcodes, want) {
		t.Errorf("Expected glyph codes %X, got %X", want, gcodes)
	}
	if want := []rune{0x4E00, 0x4E2D}; !reflect.DeepEqual(ccodes, want) {
		t.Errorf("Expected character codes %X, got %X", want, ccodes)
	}
	refs, err := f.chars.ReferencedBy(ctx, 0x4E00)
	if err != nil || len(refs) != 2 {
		t.Errorf("Expected 2 referrers of 4E00, got %v (%v)", refs, err)
	}

	_, _, err = ImportAll(ctx, f.glyphs, f.chars,
		[]*glyph.Glyph{{Code: 0xE010, Decomposition: glyph.Basic()}},
		[]*glyph.Character{{Code: 0x4E01, Glyphs: []glyph.Decomposition{glyph.Derived("\uE0FF")}}})
	if !errors.Is(err, ErrInvalidReference) {
		t.Errorf("Expected ErrInvalidReference, got %v", err)
	}
	if _, err := f.glyphs.Get(ctx, 0xE010); !errors.Is(err, ErrNotFound) {
		t.Errorf("Failed batch must be rolled back, got %v", err)
	}
}
