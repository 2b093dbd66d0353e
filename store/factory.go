package store

import (
	"fmt"
	"path/filepath"
	"strings"
)

// NewBackend creates a Backend based on the backend name.
//
// Supported backends:
//
//	"json"   - one JSON file at path (default)
//	"sqlite" - SQLite database at path, or next to it with a .db suffix
//	           when path names a .json file
//	"memory" - in-memory (ephemeral, for testing)
func NewBackend(backend, path string) (Backend, error) {
	switch backend {
	case "json", "":
		return NewJsonFileBackend(path)
	case "sqlite":
		if strings.EqualFold(filepath.Ext(path), ".json") {
			path = strings.TrimSuffix(path, filepath.Ext(path)) + ".db"
		}
		return NewSqliteBackend(path)
	case "memory":
		return NewMemoryBackend(nil), nil
	default:
		return nil, fmt.Errorf("unknown store backend: %q (supported: json, sqlite, memory)", backend)
	}
}
