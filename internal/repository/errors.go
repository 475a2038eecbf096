package repository

import (
	"errors"
	"fmt"

	"github.com/zot/repertoire/internal/glyph"
	"github.com/zot/repertoire/internal/storage"
)

// Sentinel errors returned by repository operations. Each is matched by the
// corresponding typed error through errors.Is.
var (
	// ErrNotFound is returned when an entry does not exist.
	ErrNotFound = errors.New("entry not found")

	// ErrConflict is returned when a code is already taken on create or rename.
	ErrConflict = errors.New("code already in use")

	// ErrReferenced is returned when deleting an entry other entries reference.
	ErrReferenced = errors.New("entry is referenced")

	// ErrInvalidReference is returned for dangling or cyclic references.
	ErrInvalidReference = errors.New("invalid reference")

	// ErrStorage is returned when the backing store fails.
	ErrStorage = errors.New("storage failure")
)

// NotFoundError names the missing entry.
type NotFoundError struct {
	Table storage.Table
	Code  rune
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s %s: %v", e.Table, glyph.FormatCode(e.Code), ErrNotFound)
}

func (e *NotFoundError) Is(target error) bool { return target == ErrNotFound }

// ConflictError names the code already in use. Retryable is set when the code
// came from the allocator and another writer took it first.
type ConflictError struct {
	Table     storage.Table
	Code      rune
	Retryable bool
	Err       error
}

func (e *ConflictError) Error() string {
	msg := fmt.Sprintf("%s %s: %v", e.Table, glyph.FormatCode(e.Code), ErrConflict)
	if e.Retryable {
		msg += " (allocation raced, retry)"
	}
	return msg
}

func (e *ConflictError) Is(target error) bool { return target == ErrConflict }

func (e *ConflictError) Unwrap() error { return e.Err }

// ReferencedError lists the entries blocking a delete.
type ReferencedError struct {
	Table     storage.Table
	Code      rune
	Referrers []storage.Ref
}

// Count returns the number of blocking referrers.
func (e *ReferencedError) Count() int { return len(e.Referrers) }

func (e *ReferencedError) Error() string {
	return fmt.Sprintf("%s %s: %v by %d entries", e.Table, glyph.FormatCode(e.Code), ErrReferenced, e.Count())
}

func (e *ReferencedError) Is(target error) bool { return target == ErrReferenced }

// ReferenceError reports references that resolve to no entry, or a cycle
// through the entry being written.
type ReferenceError struct {
	Table   storage.Table
	Code    rune
	Missing []rune
	Cycle   []rune
}

func (e *ReferenceError) Error() string {
	at := fmt.Sprintf("%s %s", e.Table, glyph.FormatCode(e.Code))
	if len(e.Cycle) > 0 {
		return fmt.Sprintf("%s: %v: cycle %s", at, ErrInvalidReference, formatCodes(e.Cycle, " -> "))
	}
	return fmt.Sprintf("%s: %v: no entry for %s", at, ErrInvalidReference, formatCodes(e.Missing, ", "))
}

func (e *ReferenceError) Is(target error) bool { return target == ErrInvalidReference }

// StorageError wraps an unexpected backend failure.
type StorageError struct {
	Op    string
	Table storage.Table
	Code  rune
	Err   error
}

func (e *StorageError) Error() string {
	if e.Code == 0 {
		return fmt.Sprintf("%s %s: %v: %v", e.Op, e.Table, ErrStorage, e.Err)
	}
	return fmt.Sprintf("%s %s %s: %v: %v", e.Op, e.Table, glyph.FormatCode(e.Code), ErrStorage, e.Err)
}

func (e *StorageError) Is(target error) bool { return target == ErrStorage }

func (e *StorageError) Unwrap() error { return e.Err }

// IsRetryable reports whether err is a conflict the caller may retry.
func IsRetryable(err error) bool {
	var ce *ConflictError
	return errors.As(err, &ce) && ce.Retryable
}

func formatCodes(codes []rune, sep string) string {
	s := ""
	for i, c := range codes {
		if i > 0 {
			s += sep
		}
		s += glyph.FormatCode(c)
	}
	return s
}
