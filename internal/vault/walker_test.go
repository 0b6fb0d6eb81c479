package vault

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/hyperjump/obra/internal/models"
)

func writeFile(t *testing.T, root, rel, content string) string {
	t.Helper()
	p := filepath.Join(root, filepath.FromSlash(rel))
	if err := os.MkdirAll(filepath.Dir(p), 0755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(p, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}
	return p
}

func defaultWalker(root string, opts ...Option) *Walker {
	return NewWalker(root, []string{".md"}, []string{".obsidian", ".git", ".stfolder", "templates"}, opts...)
}

func relPaths(files []*models.VaultFile) []string {
	out := make([]string, len(files))
	for i, f := range files {
		out[i] = f.RelPath
	}
	return out
}

func TestScan_filtersIgnoredAndUnsupported(t *testing.T) {
	root := t.TempDir()
	writeFile(t, root, "a.md", "alpha")
	writeFile(t, root, "notes/b.md", "beta")
	writeFile(t, root, "notes/deep/c.MD", "gamma")
	writeFile(t, root, ".obsidian/workspace.md", "ignored")
	writeFile(t, root, ".git/HEAD.md", "ignored")
	writeFile(t, root, ".stfolder/x.md", "ignored")
	writeFile(t, root, "templates/daily.md", "ignored")
	writeFile(t, root, ".hidden.md", "ignored")
	writeFile(t, root, "notes/.draft/d.md", "ignored")
	writeFile(t, root, "image.png", "binary")
	writeFile(t, root, "todo.txt", "not enabled")
	writeFile(t, root, "empty.md", "  \n\t")

	res, err := defaultWalker(root).Scan(context.Background(), nil)
	if err != nil {
		t.Fatal(err)
	}
	got := relPaths(res.Files)
	want := []string{"a.md", "notes/b.md", "notes/deep/c.MD"}
	if len(got) != len(want) {
		t.Fatalf("files = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("file %d = %q, want %q", i, got[i], want[i])
		}
	}
	for _, f := range res.Files {
		if f.Fingerprint == "" {
			t.Errorf("%s has no fingerprint", f.RelPath)
		}
	}
	if len(res.Warnings) != 0 {
		t.Errorf("unexpected warnings: %v", res.Warnings)
	}
}

func TestScan_ignoreGlobs(t *testing.T) {
	root := t.TempDir()
	writeFile(t, root, "keep.md", "keep")
	writeFile(t, root, "archive/old.md", "old")
	writeFile(t, root, "scratch-1.md", "scratch")

	w := defaultWalker(root, WithIgnoreGlobs([]string{"archive/**", "scratch-*.md"}))
	res, err := w.Scan(context.Background(), nil)
	if err != nil {
		t.Fatal(err)
	}
	if got := relPaths(res.Files); len(got) != 1 || got[0] != "keep.md" {
		t.Errorf("files = %v, want [keep.md]", got)
	}
}

func TestScan_missingRootIsFatal(t *testing.T) {
	w := defaultWalker(filepath.Join(t.TempDir(), "nope"))
	_, err := w.Scan(context.Background(), nil)
	if !errors.Is(err, ErrVaultRoot) {
		t.Errorf("err = %v, want ErrVaultRoot", err)
	}
}

func TestScan_unreadableFileIsWarning(t *testing.T) {
	if os.Geteuid() == 0 {
		t.Skip("permissions are not enforced for root")
	}
	root := t.TempDir()
	writeFile(t, root, "ok.md", "fine")
	bad := writeFile(t, root, "bad.md", "secret")
	if err := os.Chmod(bad, 0); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = os.Chmod(bad, 0644) })

	res, err := defaultWalker(root).Scan(context.Background(), nil)
	if err != nil {
		t.Fatal(err)
	}
	if got := relPaths(res.Files); len(got) != 1 || got[0] != "ok.md" {
		t.Errorf("files = %v", got)
	}
	if len(res.Warnings) != 1 || res.Warnings[0].Path != "bad.md" {
		t.Errorf("warnings = %v", res.Warnings)
	}
}

func TestScan_reusesKnownFingerprint(t *testing.T) {
	root := t.TempDir()
	p := writeFile(t, root, "a.md", "alpha")
	info, err := os.Stat(p)
	if err != nil {
		t.Fatal(err)
	}
	known := func(key string) (models.FileState, bool) {
		return models.FileState{Path: key, Fingerprint: "recorded", ModTime: info.ModTime(), Size: info.Size()}, true
	}
	w := defaultWalker(root)

	res, err := w.Scan(context.Background(), known)
	if err != nil {
		t.Fatal(err)
	}
	if res.Files[0].Fingerprint != "recorded" {
		t.Errorf("fingerprint = %q, want recorded", res.Files[0].Fingerprint)
	}

	later := info.ModTime().Add(time.Second)
	if err := os.Chtimes(p, later, later); err != nil {
		t.Fatal(err)
	}
	res, err = w.Scan(context.Background(), known)
	if err != nil {
		t.Fatal(err)
	}
	if res.Files[0].Fingerprint == "recorded" {
		t.Error("changed mtime should force rehash")
	}
}

func TestFile(t *testing.T) {
	root := t.TempDir()
	writeFile(t, root, "a.md", "alpha")
	writeFile(t, root, "blank.md", "")
	writeFile(t, root, "templates/t.md", "template")
	w := defaultWalker(root)

	tests := []struct {
		key  string
		want bool
	}{
		{"a.md", true},
		{"missing.md", false},
		{"blank.md", false},
		{"templates/t.md", false},
	}
	for _, tt := range tests {
		vf, ok, err := w.File(tt.key, nil)
		if err != nil {
			t.Fatalf("File(%q): %v", tt.key, err)
		}
		if ok != tt.want {
			t.Errorf("File(%q) included = %v, want %v", tt.key, ok, tt.want)
		}
		if ok && vf.RelPath != tt.key {
			t.Errorf("RelPath = %q", vf.RelPath)
		}
	}
}

func TestRead(t *testing.T) {
	root := t.TempDir()
	writeFile(t, root, "a.md", "first")
	w := defaultWalker(root)
	vf, ok, err := w.File("a.md", nil)
	if err != nil || !ok {
		t.Fatalf("File: %v %v", ok, err)
	}
	before := vf.Fingerprint

	writeFile(t, root, "a.md", "second version")
	text, err := w.Read(vf)
	if err != nil {
		t.Fatal(err)
	}
	if text != "second version" {
		t.Errorf("text = %q", text)
	}
	if vf.Fingerprint == before {
		t.Error("Read should refresh the fingerprint")
	}
}
