// Package alloc assigns private-use code points to new entries.
//
// Each allocation kind owns a contiguous sub-range of a private-use area. An
// allocation is the lowest code in the kind's range that no table occupies.
// It is a hint, not a reservation: the caller inserts in the same transaction
// and relies on the primary key to catch a concurrent allocation.
package alloc

import (
	"errors"
	"fmt"
	"maps"
	"slices"

	"github.com/zot/repertoire/internal/glyph"
)

// ErrExhausted is wrapped by ExhaustedError.
var ErrExhausted = errors.New("code range exhausted")

// ExhaustedError reports that every code of a kind's range is occupied.
type ExhaustedError struct {
	Kind  Kind
	Range Range
}

func (e *ExhaustedError) Error() string {
	return fmt.Sprintf("%s: no free %s code in %s", ErrExhausted, e.Kind, e.Range)
}

func (e *ExhaustedError) Is(target error) bool {
	return target == ErrExhausted
}

// Kind selects an allocation range.
type Kind string

const (
	// Component covers basic and derived components.
	Component Kind = "component"
	Compound  Kind = "compound"
)

// KindOf maps a decomposition kind to its allocation kind.
func KindOf(k glyph.Kind) Kind {
	if k == glyph.KindCompound {
		return Compound
	}
	return Component
}

// Range is the half-open interval [Floor, Ceiling).
type Range struct {
	Floor   rune
	Ceiling rune
}

func (r Range) String() string {
	return fmt.Sprintf("[%s, %s)", glyph.FormatCode(r.Floor), glyph.FormatCode(r.Ceiling))
}

func (r Range) overlaps(o Range) bool {
	return r.Floor < o.Ceiling && o.Floor < r.Ceiling
}

// Private-use areas of Unicode, as half-open ranges.
var privateUse = []Range{
	{0xE000, 0xF900},
	{0xF0000, 0xFFFFE},
	{0x100000, 0x10FFFE},
}

func inPrivateUse(r Range) bool {
	for _, p := range privateUse {
		if r.Floor >= p.Floor && r.Ceiling <= p.Ceiling {
			return true
		}
	}
	return false
}

// DefaultRanges returns the standard sub-ranges of the Basic Multilingual
// Plane private-use area.
func DefaultRanges() map[Kind]Range {
	return map[Kind]Range{
		Component: {0xE000, 0xE800},
		Compound:  {0xE800, 0xF000},
	}
}

// Querier lists occupied codes.
type Querier interface {
	// Codes returns every code in [floor, ceiling) occupied in any table,
	// ascending and without duplicates.
	Codes(floor, ceiling rune) ([]rune, error)
}

// Allocator picks free codes from per-kind ranges.
type Allocator struct {
	ranges map[Kind]Range
}

// New creates an allocator. Every range must be non-empty, inside a
// private-use area, and disjoint from the others.
func New(ranges map[Kind]Range) (*Allocator, error) {
	kinds := make([]Kind, 0, len(ranges))
	for k := range ranges {
		kinds = append(kinds, k)
	}
	slices.Sort(kinds)

	for i, k := range kinds {
		r := ranges[k]
		if r.Floor >= r.Ceiling {
			return nil, fmt.Errorf("%s range %s is empty", k, r)
		}
		if !inPrivateUse(r) {
			return nil, fmt.Errorf("%s range %s is outside the private-use areas", k, r)
		}
		for _, other := range kinds[:i] {
			if r.overlaps(ranges[other]) {
				return nil, fmt.Errorf("%s range %s overlaps %s range %s", k, r, other, ranges[other])
			}
		}
	}
	return &Allocator{ranges: maps.Clone(ranges)}, nil
}

// Default returns an allocator over DefaultRanges.
func Default() *Allocator {
	a, err := New(DefaultRanges())
	if err != nil {
		panic(err)
	}
	return a
}

// Range returns the range of kind.
func (a *Allocator) Range(kind Kind) (Range, bool) {
	r, ok := a.ranges[kind]
	return r, ok
}

// Allocate returns the lowest code of kind's range not occupied according to q.
func (a *Allocator) Allocate(q Querier, kind Kind) (rune, error) {
	r, ok := a.ranges[kind]
	if !ok {
		return 0, fmt.Errorf("no range for allocation kind %q", kind)
	}
	used, err := q.Codes(r.Floor, r.Ceiling)
	if err != nil {
		return 0, err
	}

	next := r.Floor
	for _, code := range used {
		if code != next {
			break
		}
		next++
	}
	if next >= r.Ceiling {
		return 0, &ExhaustedError{Kind: kind, Range: r}
	}
	return next, nil
}
