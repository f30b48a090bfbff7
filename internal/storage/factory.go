package storage

import "fmt"

// BackendType names a persistence backend.
type BackendType string

const (
	// BackendFile stores clusters in a single binary blob (default).
	BackendFile BackendType = "file"
	// BackendSQLite stores clusters in a SQLite database.
	BackendSQLite BackendType = "sqlite"
	// BackendMemory keeps state in process memory only.
	BackendMemory BackendType = "memory"
)

// NewBackend creates a backend of the given type. path is the blob file for "file"
// and the database file for "sqlite"; it is ignored for "memory".
func NewBackend(kind string, path string) (Backend, error) {
	switch BackendType(kind) {
	case BackendFile, "":
		return NewFileBackend(path)
	case BackendSQLite:
		return NewSQLiteBackend(path)
	case BackendMemory:
		return NewMemoryBackend(), nil
	default:
		return nil, fmt.Errorf("unknown storage backend: %s (supported: file, sqlite, memory)", kind)
	}
}
