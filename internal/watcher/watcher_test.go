package watcher

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/hyperjump/obra/internal/vault"
)

func startWatcher(t *testing.T, root string, buffer int) *Watcher {
	t.Helper()
	w := NewWatcher(root, vault.NewWalker(root, []string{".md", ".txt"}, []string{"templates"}), buffer)
	if err := w.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(w.Stop)
	return w
}

// waitFor collects events until want is seen or the deadline passes.
func waitFor(t *testing.T, w *Watcher, want Event) []Event {
	t.Helper()
	var seen []Event
	deadline := time.After(3 * time.Second)
	for {
		select {
		case ev, ok := <-w.Events():
			if !ok {
				t.Fatalf("channel closed before %+v; saw %+v", want, seen)
			}
			seen = append(seen, ev)
			if ev == want {
				return seen
			}
		case <-deadline:
			t.Fatalf("timed out waiting for %+v; saw %+v", want, seen)
		}
	}
}

func TestWatcher_FileEvents(t *testing.T) {
	dir := t.TempDir()
	w := startWatcher(t, dir, 16)

	if err := writeFile(filepath.Join(dir, "note.md"), "hello"); err != nil {
		t.Fatal(err)
	}
	waitFor(t, w, Event{Path: "note.md", Op: Changed})

	if err := os.Remove(filepath.Join(dir, "note.md")); err != nil {
		t.Fatal(err)
	}
	waitFor(t, w, Event{Path: "note.md", Op: Removed})
}

func TestWatcher_FiltersIgnoredAndUnsupported(t *testing.T) {
	dir := t.TempDir()
	if err := mkdirAll(filepath.Join(dir, "templates")); err != nil {
		t.Fatal(err)
	}
	w := startWatcher(t, dir, 16)

	if err := writeFile(filepath.Join(dir, "templates", "daily.md"), "skip"); err != nil {
		t.Fatal(err)
	}
	if err := writeFile(filepath.Join(dir, "image.png"), "skip"); err != nil {
		t.Fatal(err)
	}
	if err := writeFile(filepath.Join(dir, "last.md"), "keep"); err != nil {
		t.Fatal(err)
	}
	seen := waitFor(t, w, Event{Path: "last.md", Op: Changed})
	for _, ev := range seen {
		if ev.Path != "last.md" {
			t.Errorf("unexpected event %+v", ev)
		}
	}
}

func TestWatcher_HandleNewDirectory_reportsFilesInside(t *testing.T) {
	dir := t.TempDir()
	w := startWatcher(t, dir, 64)

	// Build the folder elsewhere, then move it in so it appears at once.
	staging := filepath.Join(t.TempDir(), "new-folder")
	if err := mkdirAll(filepath.Join(staging, "level2")); err != nil {
		t.Fatal(err)
	}
	if err := writeFile(filepath.Join(staging, "level2", "deep.txt"), "deep content"); err != nil {
		t.Fatal(err)
	}
	if err := os.Rename(staging, filepath.Join(dir, "new-folder")); err != nil {
		t.Fatal(err)
	}
	waitFor(t, w, Event{Path: "new-folder/level2/deep.txt", Op: Changed})

	// The new directories are watched too.
	if err := writeFile(filepath.Join(dir, "new-folder", "level2", "later.md"), "x"); err != nil {
		t.Fatal(err)
	}
	waitFor(t, w, Event{Path: "new-folder/level2/later.md", Op: Changed})
}

func TestWatcher_DirectoryRemoval(t *testing.T) {
	dir := t.TempDir()
	if err := mkdirAll(filepath.Join(dir, "projects")); err != nil {
		t.Fatal(err)
	}
	if err := writeFile(filepath.Join(dir, "projects", "a.md"), "a"); err != nil {
		t.Fatal(err)
	}
	w := startWatcher(t, dir, 16)

	if err := os.RemoveAll(filepath.Join(dir, "projects")); err != nil {
		t.Fatal(err)
	}
	waitFor(t, w, Event{Path: "projects", Op: Removed})
}

func TestWatcher_OverflowRaisesFlag(t *testing.T) {
	dir := t.TempDir()
	w := startWatcher(t, dir, 1)

	for _, name := range []string{"a.md", "b.md", "c.md", "d.md"} {
		if err := writeFile(filepath.Join(dir, name), "x"); err != nil {
			t.Fatal(err)
		}
	}
	deadline := time.Now().Add(3 * time.Second)
	for !w.TakeOverflow() {
		if time.Now().After(deadline) {
			t.Fatal("expected overflow with a one-slot buffer")
		}
		time.Sleep(20 * time.Millisecond)
	}
	if w.TakeOverflow() {
		t.Error("TakeOverflow should clear the flag")
	}
}

func TestWatcher_StopClosesEvents(t *testing.T) {
	dir := t.TempDir()
	w := NewWatcher(dir, vault.NewWalker(dir, []string{".md"}, nil), 4)
	if err := w.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	w.Stop()
	select {
	case _, ok := <-w.Events():
		if ok {
			t.Error("expected closed channel")
		}
	case <-time.After(time.Second):
		t.Fatal("events channel not closed after Stop")
	}
	w.Stop()
}

func TestWatcher_StartMissingRoot(t *testing.T) {
	root := filepath.Join(t.TempDir(), "missing")
	w := NewWatcher(root, vault.NewWalker(root, []string{".md"}, nil), 4)
	if err := w.Start(context.Background()); err == nil {
		t.Error("expected error for missing root")
	}
}

func mkdirAll(path string) error {
	return os.MkdirAll(path, 0755)
}

func writeFile(path, content string) error {
	return os.WriteFile(path, []byte(content), 0600)
}
