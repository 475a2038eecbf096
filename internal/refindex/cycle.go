package refindex

import (
	"github.com/zot/repertoire/internal/storage"
)

// Reaches reports whether target is reachable from start by following
// outgoing edges. When it is, the returned path runs from start to target
// inclusive.
func Reaches(tx storage.Tx, start, target rune) ([]rune, error) {
	visited := make(map[rune]bool)
	var walk func(code rune) ([]rune, error)
	walk = func(code rune) ([]rune, error) {
		if code == target {
			return []rune{code}, nil
		}
		if visited[code] {
			return nil, nil
		}
		visited[code] = true

		out, err := tx.EdgesFrom(code)
		if err != nil {
			return nil, err
		}
		for _, next := range Targets(out) {
			path, err := walk(next)
			if err != nil {
				return nil, err
			}
			if path != nil {
				return append([]rune{code}, path...), nil
			}
		}
		return nil, nil
	}
	return walk(start)
}

// Cycle returns a reference cycle through code, or nil when there is none.
// The path starts and ends with code.
func Cycle(tx storage.Tx, code rune) ([]rune, error) {
	out, err := tx.EdgesFrom(code)
	if err != nil {
		return nil, err
	}
	for _, next := range Targets(out) {
		path, err := Reaches(tx, next, code)
		if err != nil {
			return nil, err
		}
		if path != nil {
			return append([]rune{code}, path...), nil
		}
	}
	return nil, nil
}
