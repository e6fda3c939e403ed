package catalog

import (
	"fmt"
	"path/filepath"
)

const (
	BackendSQLite = "sqlite"
	BackendMemory = "memory"

	sqliteFileName = "series.db"
)

// Open returns the catalog of the database stored under dir.
func Open(backend, dir string) (Store, error) {
	switch backend {
	case BackendSQLite, "":
		return OpenSQLiteStore(filepath.Join(dir, sqliteFileName))
	case BackendMemory:
		return NewMemoryStore()
	default:
		return nil, fmt.Errorf("unknown catalog backend %q", backend)
	}
}
