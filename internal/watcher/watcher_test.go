package watcher

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"
)

func TestWatcher_AddRemoveDirectories(t *testing.T) {
	dir := t.TempDir()
	w := NewWatcher(nil, []string{".mp4"}, true, nil)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := w.Start(ctx); err != nil {
		t.Fatal(err)
	}
	defer w.Stop()

	if err := w.AddDirectory(dir, false); err != nil {
		t.Fatal(err)
	}
	dirs := w.Directories()
	if len(dirs) != 1 || filepath.Clean(dirs[0]) != filepath.Clean(dir) {
		t.Errorf("Directories() = %v", dirs)
	}

	if err := w.RemoveDirectory(dir); err != nil {
		t.Fatal(err)
	}
	if len(w.Directories()) != 0 {
		t.Errorf("after remove: %v", w.Directories())
	}
}

func TestWatcher_DebounceAndExtensionFilter(t *testing.T) {
	dir := t.TempDir()
	sub := filepath.Join(dir, "sub")
	if err := mkdirAll(sub); err != nil {
		t.Fatal(err)
	}

	rec := &clipRecorder{}
	w := NewWatcher([]string{dir}, []string{".txt"}, true, rec.record)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := w.Start(ctx); err != nil {
		t.Fatal(err)
	}
	defer w.Stop()

	// Create a .txt file
	fPath := filepath.Join(sub, "f.txt")
	if err := writeFile(fPath, "hello"); err != nil {
		t.Fatal(err)
	}
	// Several writes settle into one callback.
	for i := 0; i < 3; i++ {
		if err := writeFile(fPath, strings.Repeat("x", i+1)); err != nil {
			t.Fatal(err)
		}
	}
	if err := writeFile(filepath.Join(sub, "f.md"), "ignored"); err != nil {
		t.Fatal(err)
	}
	time.Sleep(600 * time.Millisecond)
	clips := rec.get()
	if len(clips) != 1 {
		t.Fatalf("expected one clip callback, got %v", clips)
	}
	if !clips[0].Labeled || clips[0].Game != "sub" {
		t.Errorf("clip = %+v, want labeled sub", clips[0])
	}
}

func TestMatchExtension(t *testing.T) {
	tests := []struct {
		path       string
		extensions []string
		want       bool
	}{
		{"/a/b.txt", []string{".txt"}, true},
		{"/a/b.TXT", []string{".txt"}, true},
		{"/a/b.md", []string{".txt"}, false},
		{"/a/b", nil, true},
		{"/a/b", []string{}, true},
	}
	for _, tt := range tests {
		got := matchExtension(tt.path, tt.extensions)
		if got != tt.want {
			t.Errorf("matchExtension(%q, %v) = %v, want %v", tt.path, tt.extensions, got, tt.want)
		}
	}
}

func TestInDir(t *testing.T) {
	tests := []struct {
		dir  string
		path string
		want bool
	}{
		{"/tmp/a", "/tmp/a", true},
		{"/tmp/a", "/tmp/a/b.txt", true},
		{"/tmp/a", "/tmp/b", false},
		{"/tmp/a", "/tmp/a/../b", false},
	}
	for _, tt := range tests {
		got := inDir(tt.dir, tt.path)
		if got != tt.want {
			t.Errorf("inDir(%q, %q) = %v, want %v", tt.dir, tt.path, got, tt.want)
		}
	}
}

func TestWatcher_SyncExistingFiles_indexesMatchingFiles(t *testing.T) {
	dir := t.TempDir()
	if err := writeFile(filepath.Join(dir, "a.txt"), "hello"); err != nil {
		t.Fatal(err)
	}
	if err := writeFile(filepath.Join(dir, "ignore.xyz"), "x"); err != nil {
		t.Fatal(err)
	}

	rec := &clipRecorder{}
	w := NewWatcher([]string{dir}, []string{".txt"}, true, rec.record)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := w.Start(ctx); err != nil {
		t.Fatal(err)
	}
	w.SyncExistingFiles()

	clips := rec.get()
	if len(clips) != 1 || !strings.HasSuffix(clips[0].Path, "a.txt") {
		t.Errorf("expected one clip a.txt, got %v", clips)
	}
	if clips[0].Labeled {
		t.Error("a clip directly in the root is unlabeled")
	}
}

func TestWatcher_Start_createsMissingRootDirectory(t *testing.T) {
	base := t.TempDir()
	root := filepath.Join(base, "watch", "me")
	// Ensure the root does not exist.
	_ = os.RemoveAll(filepath.Join(base, "watch"))

	w := NewWatcher([]string{root}, []string{".mp4"}, true, nil)
	// Use Background so we don't cancel; avoid race with run() reading w.watcher after Stop() nils it.
	if err := w.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	// Don't call Stop() to avoid race where run() reads w.watcher after Stop() nils it; test exit is enough.

	if _, err := os.Stat(root); err != nil {
		t.Errorf("root directory should exist after Start: %v", err)
	}
}

func TestWatcher_HandleNewDirectory_indexesFilesInNewFolder(t *testing.T) {
	dir := t.TempDir()

	rec := &clipRecorder{}

	w := NewWatcher([]string{dir}, []string{".txt", ".md"}, true, rec.record)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := w.Start(ctx); err != nil {
		t.Fatal(err)
	}
	defer w.Stop()

	// Simulate copying a folder with files into the watched directory
	newFolder := filepath.Join(dir, "new-folder")
	if err := mkdirAll(newFolder); err != nil {
		t.Fatal(err)
	}

	// Create files inside the new folder
	if err := writeFile(filepath.Join(newFolder, "doc1.txt"), "hello"); err != nil {
		t.Fatal(err)
	}
	if err := writeFile(filepath.Join(newFolder, "doc2.md"), "world"); err != nil {
		t.Fatal(err)
	}
	if err := writeFile(filepath.Join(newFolder, "ignore.xyz"), "skip"); err != nil {
		t.Fatal(err)
	}

	// Wait for debounce and directory handling
	time.Sleep(800 * time.Millisecond)

	clips := rec.get()
	// Each file is reported once even though both the folder walk and the file events see it.
	if len(clips) != 2 {
		t.Errorf("expected 2 clips, got %d: %v", len(clips), clips)
	}
	txtFound, mdFound := false, false
	for _, c := range clips {
		if strings.HasSuffix(c.Path, "doc1.txt") {
			txtFound = true
		}
		if strings.HasSuffix(c.Path, "doc2.md") {
			mdFound = true
		}
		if strings.HasSuffix(c.Path, "ignore.xyz") {
			t.Errorf("ignore.xyz should not be reported")
		}
		if c.Game != "new-folder" {
			t.Errorf("clip %s game = %q, want new-folder", c.Path, c.Game)
		}
	}
	if !txtFound || !mdFound {
		t.Errorf("expected doc1.txt and doc2.md, got %v", clips)
	}
}

func TestWatcher_HandleNewDirectory_recursiveSubfolders(t *testing.T) {
	dir := t.TempDir()

	rec := &clipRecorder{}

	w := NewWatcher([]string{dir}, []string{".txt"}, true, rec.record)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := w.Start(ctx); err != nil {
		t.Fatal(err)
	}
	defer w.Stop()

	// Create a nested folder structure
	nested := filepath.Join(dir, "level1", "level2")
	if err := mkdirAll(nested); err != nil {
		t.Fatal(err)
	}
	if err := writeFile(filepath.Join(nested, "deep.txt"), "deep content"); err != nil {
		t.Fatal(err)
	}

	// Wait for debounce and directory handling
	time.Sleep(800 * time.Millisecond)

	found := false
	for _, c := range rec.get() {
		if strings.HasSuffix(c.Path, "deep.txt") {
			found = true
			if c.Game != "level1" {
				t.Errorf("deep clip game = %q, want level1", c.Game)
			}
			break
		}
	}
	if !found {
		t.Errorf("expected deep.txt to be reported, got %v", rec.get())
	}
}

type clipRecorder struct {
	mu    sync.Mutex
	clips []Clip
}

func (r *clipRecorder) record(c Clip) {
	r.mu.Lock()
	r.clips = append(r.clips, c)
	r.mu.Unlock()
}

func (r *clipRecorder) get() []Clip {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Clip(nil), r.clips...)
}

func TestClipFor(t *testing.T) {
	root := filepath.Join(string(filepath.Separator), "inbox")
	tests := []struct {
		path    string
		game    string
		labeled bool
	}{
		{filepath.Join(root, "clip.mp4"), "", false},
		{filepath.Join(root, "Chess", "clip.mp4"), "Chess", true},
		{filepath.Join(root, "Street  Fighter II", "round1", "clip.mp4"), "Street Fighter II", true},
		{filepath.Join(root, "   ", "clip.mp4"), "", false},
	}
	for _, tt := range tests {
		c := ClipFor(root, tt.path)
		if c.Game != tt.game || c.Labeled != tt.labeled || c.Path != tt.path || c.Root != root {
			t.Errorf("ClipFor(%q) = %+v, want game %q labeled %v", tt.path, c, tt.game, tt.labeled)
		}
	}
}

func TestWatcher_IgnoresProcessedDir(t *testing.T) {
	dir := t.TempDir()
	processed := filepath.Join(dir, "processed")
	if err := mkdirAll(filepath.Join(processed, "Chess")); err != nil {
		t.Fatal(err)
	}
	if err := writeFile(filepath.Join(processed, "Chess", "old.txt"), "done"); err != nil {
		t.Fatal(err)
	}
	if err := writeFile(filepath.Join(dir, "new.txt"), "todo"); err != nil {
		t.Fatal(err)
	}
	rec := &clipRecorder{}
	w := NewWatcher([]string{dir}, []string{".txt"}, true, rec.record, WithIgnore(processed), WithDebounce(50*time.Millisecond))
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := w.Start(ctx); err != nil {
		t.Fatal(err)
	}
	defer w.Stop()
	w.SyncExistingFiles()

	if err := writeFile(filepath.Join(processed, "Chess", "moved.txt"), "done"); err != nil {
		t.Fatal(err)
	}
	time.Sleep(300 * time.Millisecond)

	clips := rec.get()
	if len(clips) != 1 || !strings.HasSuffix(clips[0].Path, "new.txt") {
		t.Errorf("expected only new.txt, got %v", clips)
	}
}

func mkdirAll(path string) error {
	return os.MkdirAll(path, 0755)
}

func writeFile(path, content string) error {
	return os.WriteFile(path, []byte(content), 0600)
}
