package storage

import "fmt"

// Open creates the backend named by kind: "memory", "sqlite" or "postgresql".
func Open(kind, path, url string) (Backend, error) {
	switch kind {
	case "", "memory":
		return NewMemoryStorage(), nil
	case "sqlite":
		return NewSQLiteStorage(path)
	case "postgres", "postgresql":
		return NewPostgresStorage(url)
	}
	return nil, fmt.Errorf("unknown storage type %q", kind)
}
