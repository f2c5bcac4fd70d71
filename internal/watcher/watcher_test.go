package watcher

import (
	"context"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"
)

func mkdirAll(path string) error {
	return os.MkdirAll(path, 0755)
}

func writeFile(path, content string) error {
	return os.WriteFile(path, []byte(content), 0600)
}

// startWatcher runs a watcher over dir with a short debounce and returns a
// counter of sync callbacks.
func startWatcher(t *testing.T, dir string, extensions, ignoreDirs []string) *atomic.Int64 {
	t.Helper()
	var syncs atomic.Int64
	w := New(dir, extensions, ignoreDirs, func() { syncs.Add(1) }, WithDebounce(50*time.Millisecond))
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	if err := w.Start(ctx); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(w.Stop)
	return &syncs
}

// waitFor polls until cond holds or the deadline passes.
func waitFor(t *testing.T, d time.Duration, cond func() bool) bool {
	t.Helper()
	deadline := time.Now().Add(d)
	for time.Now().Before(deadline) {
		if cond() {
			return true
		}
		time.Sleep(10 * time.Millisecond)
	}
	return cond()
}

func TestWatcher_SyncAfterWrite(t *testing.T) {
	dir := t.TempDir()
	syncs := startWatcher(t, dir, []string{".py"}, nil)

	if err := writeFile(filepath.Join(dir, "a.py"), "content"); err != nil {
		t.Fatal(err)
	}
	if !waitFor(t, 3*time.Second, func() bool { return syncs.Load() >= 1 }) {
		t.Fatal("no sync after a matching write")
	}
}

func TestWatcher_BurstCollapsesToOneSync(t *testing.T) {
	dir := t.TempDir()
	syncs := startWatcher(t, dir, []string{".py"}, nil)

	// A burst of writes inside one debounce window.
	for i := 0; i < 5; i++ {
		if err := writeFile(filepath.Join(dir, "a.py"), "content"); err != nil {
			t.Fatal(err)
		}
		time.Sleep(5 * time.Millisecond)
	}
	if !waitFor(t, 3*time.Second, func() bool { return syncs.Load() >= 1 }) {
		t.Fatal("no sync after the burst")
	}
	time.Sleep(200 * time.Millisecond)
	if n := syncs.Load(); n > 2 {
		t.Errorf("syncs = %d, want the burst collapsed", n)
	}
}

func TestWatcher_IgnoresNonMatchingWrites(t *testing.T) {
	dir := t.TempDir()
	syncs := startWatcher(t, dir, []string{".py"}, nil)

	if err := writeFile(filepath.Join(dir, "notes.txt"), "content"); err != nil {
		t.Fatal(err)
	}
	time.Sleep(300 * time.Millisecond)
	if n := syncs.Load(); n != 0 {
		t.Errorf("syncs = %d after a non-matching write", n)
	}
}

func TestWatcher_IgnoresCollectionDir(t *testing.T) {
	dir := t.TempDir()
	if err := mkdirAll(filepath.Join(dir, "index-data")); err != nil {
		t.Fatal(err)
	}
	syncs := startWatcher(t, dir, nil, []string{"index-data"})

	if err := writeFile(filepath.Join(dir, "index-data", "catalog.db"), "x"); err != nil {
		t.Fatal(err)
	}
	time.Sleep(300 * time.Millisecond)
	if n := syncs.Load(); n != 0 {
		t.Errorf("syncs = %d after a write inside the ignored dir", n)
	}
}

func TestWatcher_IgnoresHiddenDirs(t *testing.T) {
	dir := t.TempDir()
	if err := mkdirAll(filepath.Join(dir, ".git")); err != nil {
		t.Fatal(err)
	}
	syncs := startWatcher(t, dir, nil, nil)

	if err := writeFile(filepath.Join(dir, ".git", "index"), "x"); err != nil {
		t.Fatal(err)
	}
	time.Sleep(300 * time.Millisecond)
	if n := syncs.Load(); n != 0 {
		t.Errorf("syncs = %d after a write under .git", n)
	}
}

func TestWatcher_NewDirectoryIsWatched(t *testing.T) {
	dir := t.TempDir()
	syncs := startWatcher(t, dir, []string{".py"}, nil)

	sub := filepath.Join(dir, "pkg")
	if err := mkdirAll(sub); err != nil {
		t.Fatal(err)
	}
	// Give the watcher a moment to register the new directory.
	time.Sleep(200 * time.Millisecond)
	before := syncs.Load()

	if err := writeFile(filepath.Join(sub, "b.py"), "content"); err != nil {
		t.Fatal(err)
	}
	if !waitFor(t, 3*time.Second, func() bool { return syncs.Load() > before }) {
		t.Fatal("no sync after a write in a newly created directory")
	}
}

func TestWatcher_RemoveTriggersSync(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "a.py")
	if err := writeFile(path, "content"); err != nil {
		t.Fatal(err)
	}
	syncs := startWatcher(t, dir, []string{".py"}, nil)

	if err := os.Remove(path); err != nil {
		t.Fatal(err)
	}
	if !waitFor(t, 3*time.Second, func() bool { return syncs.Load() >= 1 }) {
		t.Fatal("no sync after a deletion")
	}
}

func TestWatcher_StopIsIdempotent(t *testing.T) {
	dir := t.TempDir()
	w := New(dir, nil, nil, func() {})
	if err := w.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	w.Stop()
	w.Stop()
}

func TestWatcher_SkipPaths(t *testing.T) {
	w := New("/tree", nil, []string{"/tree/.shirabe"}, func() {})
	tests := []struct {
		path string
		want bool
	}{
		{"/tree/a.py", false},
		{"/tree/pkg/b.py", false},
		{"/tree/.git/index", true},
		{"/tree/.shirabe/catalog.db", true},
		{"/tree/pkg/.hidden/c.py", true},
		{"/elsewhere/d.py", true},
	}
	for _, tt := range tests {
		if got := w.skip(tt.path); got != tt.want {
			t.Errorf("skip(%q) = %v, want %v", tt.path, got, tt.want)
		}
	}
}
