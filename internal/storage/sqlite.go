package storage

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"

	_ "github.com/mattn/go-sqlite3"

	"github.com/hyperjump/gamesense/internal/vector"
)

// SQLiteBackend persists the snapshot in SQLite.
type SQLiteBackend struct {
	db   *sql.DB
	path string
}

// NewSQLiteBackend opens or creates a SQLite database at dbPath and initializes the schema.
// Parent directories are created if they do not exist.
func NewSQLiteBackend(dbPath string) (*SQLiteBackend, error) {
	if dir := filepath.Dir(dbPath); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
	}
	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to enable WAL: %w", err)
	}

	if err := initSchema(db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	return &SQLiteBackend{db: db, path: dbPath}, nil
}

func initSchema(db *sql.DB) error {
	schema := `
	CREATE TABLE IF NOT EXISTS store_meta (
		key TEXT PRIMARY KEY,
		value INTEGER NOT NULL
	);

	CREATE TABLE IF NOT EXISTS clusters (
		name TEXT PRIMARY KEY,
		position INTEGER NOT NULL
	);

	CREATE TABLE IF NOT EXISTS cluster_vectors (
		cluster TEXT NOT NULL,
		seq INTEGER NOT NULL,
		data BLOB NOT NULL,
		PRIMARY KEY (cluster, seq),
		FOREIGN KEY (cluster) REFERENCES clusters(name) ON DELETE CASCADE
	);

	CREATE INDEX IF NOT EXISTS idx_clusters_position ON clusters(position);
	`
	_, err := db.Exec(schema)
	return err
}

// Kind returns the backend identifier.
func (s *SQLiteBackend) Kind() string { return "sqlite" }

// Paths returns the database file and its WAL side files.
func (s *SQLiteBackend) Paths() []string {
	return []string{s.path, s.path + "-wal", s.path + "-shm"}
}

// Load reads all clusters ordered by creation position. An empty database yields nil, nil.
func (s *SQLiteBackend) Load(ctx context.Context) (*Snapshot, error) {
	var dims int
	err := s.db.QueryRowContext(ctx, `SELECT value FROM store_meta WHERE key = 'dimensions'`).Scan(&dims)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read dimensions: %w", err)
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT c.name, v.data
		 FROM clusters c JOIN cluster_vectors v ON v.cluster = c.name
		 ORDER BY c.position, v.seq`,
	)
	if err != nil {
		return nil, fmt.Errorf("query vectors: %w", err)
	}
	defer rows.Close()

	snap := &Snapshot{Dimensions: dims}
	index := make(map[string]int)
	for rows.Next() {
		var name string
		var data []byte
		if err := rows.Scan(&name, &data); err != nil {
			return nil, err
		}
		if len(data) != dims*4 {
			return nil, fmt.Errorf("%w: cluster %q has a %d-byte vector, expected %d", ErrCorrupt, name, len(data), dims*4)
		}
		i, ok := index[name]
		if !ok {
			i = len(snap.Clusters)
			index[name] = i
			snap.Clusters = append(snap.Clusters, ClusterRecord{Name: name})
		}
		snap.Clusters[i].Vectors = append(snap.Clusters[i].Vectors, vector.BytesToFloat32Slice(data))
	}
	return snap, rows.Err()
}

// Save replaces the stored state with snap in one transaction.
func (s *SQLiteBackend) Save(ctx context.Context, snap *Snapshot) error {
	if snap == nil {
		snap = &Snapshot{}
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	for _, stmt := range []string{`DELETE FROM cluster_vectors`, `DELETE FROM clusters`} {
		if _, err := tx.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("clear state: %w", err)
		}
	}
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO store_meta (key, value) VALUES ('dimensions', ?)
		 ON CONFLICT(key) DO UPDATE SET value = excluded.value`, snap.Dimensions); err != nil {
		return fmt.Errorf("write dimensions: %w", err)
	}

	clusterStmt, err := tx.PrepareContext(ctx, `INSERT INTO clusters (name, position) VALUES (?, ?)`)
	if err != nil {
		return err
	}
	defer clusterStmt.Close()
	vectorStmt, err := tx.PrepareContext(ctx, `INSERT INTO cluster_vectors (cluster, seq, data) VALUES (?, ?, ?)`)
	if err != nil {
		return err
	}
	defer vectorStmt.Close()

	for pos, c := range snap.Clusters {
		if _, err := clusterStmt.ExecContext(ctx, c.Name, pos); err != nil {
			return fmt.Errorf("insert cluster %q: %w", c.Name, err)
		}
		for seq, v := range c.Vectors {
			if _, err := vectorStmt.ExecContext(ctx, c.Name, seq, vector.Float32SliceToBytes(v)); err != nil {
				return fmt.Errorf("insert vector: %w", err)
			}
		}
	}
	return tx.Commit()
}

// Close closes the database connection.
func (s *SQLiteBackend) Close() error {
	return s.db.Close()
}
