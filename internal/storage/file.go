package storage

import (
	"bufio"
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/gofrs/flock"
	"github.com/hyperjump/gamesense/internal/vector"
)

const (
	fileMagic   = "GSCL"
	fileVersion = 1
)

// FileBackend persists the snapshot as a single binary blob. Writes go to a temp file
// that is renamed over the target, so a crash never leaves a half-written state file.
// The backend holds an exclusive lock on <path>.lock for its lifetime.
//
// Format: magic (4), version (4), dimensions (4), cluster count (4), then per cluster:
// nameLen (4), name bytes, vector count (4), vectors (dimensions*4 bytes each).
type FileBackend struct {
	path string
	lock *flock.Flock
}

// NewFileBackend opens a file backend at path. Parent directories are created if needed.
// Fails when another process already owns the state file.
func NewFileBackend(path string) (*FileBackend, error) {
	if path == "" {
		return nil, fmt.Errorf("clusters path is required")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("failed to create clusters directory: %w", err)
	}
	lock := flock.New(path + ".lock")
	locked, err := lock.TryLock()
	if err != nil {
		return nil, fmt.Errorf("failed to lock clusters file: %w", err)
	}
	if !locked {
		return nil, fmt.Errorf("clusters file %s is in use by another process", path)
	}
	return &FileBackend{path: path, lock: lock}, nil
}

// Kind returns the backend identifier.
func (b *FileBackend) Kind() string { return "file" }

// Paths returns the state file path.
func (b *FileBackend) Paths() []string { return []string{b.path} }

// Load reads the snapshot. A missing or empty file yields nil, nil.
func (b *FileBackend) Load(ctx context.Context) (*Snapshot, error) {
	data, err := os.ReadFile(b.path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("read clusters file: %w", err)
	}
	if len(data) == 0 {
		return nil, nil
	}
	snap, err := decodeSnapshot(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrCorrupt, b.path, err)
	}
	return snap, nil
}

// Save writes the snapshot atomically via temp file and rename.
func (b *FileBackend) Save(ctx context.Context, snap *Snapshot) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	tmpPath := b.path + ".tmp"
	f, err := os.Create(tmpPath)
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	w := bufio.NewWriter(f)
	if err := encodeSnapshot(w, snap); err != nil {
		f.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("encode clusters: %w", err)
	}
	if err := w.Flush(); err != nil {
		f.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("flush clusters: %w", err)
	}
	if err := f.Sync(); err != nil {
		f.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("sync clusters: %w", err)
	}
	if err := f.Close(); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("close temp file: %w", err)
	}
	if err := os.Rename(tmpPath, b.path); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("rename temp file: %w", err)
	}
	return nil
}

// Close releases the file lock.
func (b *FileBackend) Close() error {
	if b.lock == nil {
		return nil
	}
	err := b.lock.Unlock()
	b.lock = nil
	return err
}

func encodeSnapshot(w io.Writer, snap *Snapshot) error {
	if snap == nil {
		snap = &Snapshot{}
	}
	if _, err := io.WriteString(w, fileMagic); err != nil {
		return err
	}
	header := []uint32{fileVersion, uint32(snap.Dimensions), uint32(len(snap.Clusters))}
	if err := binary.Write(w, binary.LittleEndian, header); err != nil {
		return err
	}
	for _, c := range snap.Clusters {
		name := []byte(c.Name)
		if err := binary.Write(w, binary.LittleEndian, uint32(len(name))); err != nil {
			return fmt.Errorf("write name len: %w", err)
		}
		if _, err := w.Write(name); err != nil {
			return fmt.Errorf("write name: %w", err)
		}
		if err := binary.Write(w, binary.LittleEndian, uint32(len(c.Vectors))); err != nil {
			return fmt.Errorf("write vector count: %w", err)
		}
		for _, v := range c.Vectors {
			if len(v) != snap.Dimensions {
				return fmt.Errorf("cluster %q: vector dimension %d, expected %d", c.Name, len(v), snap.Dimensions)
			}
			if _, err := w.Write(vector.Float32SliceToBytes(v)); err != nil {
				return fmt.Errorf("write vector: %w", err)
			}
		}
	}
	return nil
}

// decodeSnapshot bounds every header-declared size by the bytes left in r before allocating.
func decodeSnapshot(r *bytes.Reader) (*Snapshot, error) {
	magic := make([]byte, len(fileMagic))
	if _, err := io.ReadFull(r, magic); err != nil {
		return nil, fmt.Errorf("read magic: %w", err)
	}
	if string(magic) != fileMagic {
		return nil, fmt.Errorf("bad magic %q", magic)
	}
	var header [3]uint32
	if err := binary.Read(r, binary.LittleEndian, &header); err != nil {
		return nil, fmt.Errorf("read header: %w", err)
	}
	if header[0] != fileVersion {
		return nil, fmt.Errorf("unsupported version %d", header[0])
	}
	snap := &Snapshot{Dimensions: int(header[1])}
	n := header[2]
	if n > 0 && snap.Dimensions == 0 {
		return nil, fmt.Errorf("clusters present but dimensions is zero")
	}
	vecBytes := int64(snap.Dimensions) * 4
	// Each cluster needs at least its name length and vector count.
	if int64(n)*8 > int64(r.Len()) || (n > 0 && vecBytes > int64(r.Len())) {
		return nil, fmt.Errorf("header declares %d clusters of dimension %d, only %d bytes left", n, snap.Dimensions, r.Len())
	}
	seen := make(map[string]bool, n)
	buf := make([]byte, vecBytes)
	for i := uint32(0); i < n; i++ {
		var nameLen uint32
		if err := binary.Read(r, binary.LittleEndian, &nameLen); err != nil {
			return nil, fmt.Errorf("read name len: %w", err)
		}
		if int64(nameLen) > int64(r.Len()) {
			return nil, fmt.Errorf("name length %d exceeds remaining %d bytes", nameLen, r.Len())
		}
		name := make([]byte, nameLen)
		if _, err := io.ReadFull(r, name); err != nil {
			return nil, fmt.Errorf("read name: %w", err)
		}
		if seen[string(name)] {
			return nil, fmt.Errorf("duplicate cluster %q", name)
		}
		seen[string(name)] = true
		var count uint32
		if err := binary.Read(r, binary.LittleEndian, &count); err != nil {
			return nil, fmt.Errorf("read vector count: %w", err)
		}
		if int64(count)*vecBytes > int64(r.Len()) {
			return nil, fmt.Errorf("cluster %q declares %d vectors, only %d bytes left", name, count, r.Len())
		}
		rec := ClusterRecord{Name: string(name), Vectors: make([][]float32, 0, count)}
		for j := uint32(0); j < count; j++ {
			if _, err := io.ReadFull(r, buf); err != nil {
				return nil, fmt.Errorf("read vector: %w", err)
			}
			v := vector.BytesToFloat32Slice(buf)
			if !vector.IsFinite(v) {
				return nil, fmt.Errorf("cluster %q vector %d has a non-finite component", name, j)
			}
			rec.Vectors = append(rec.Vectors, v)
		}
		snap.Clusters = append(snap.Clusters, rec)
	}
	var trailing [1]byte
	if k, _ := r.Read(trailing[:]); k != 0 {
		return nil, fmt.Errorf("trailing data after %d clusters", n)
	}
	return snap, nil
}
