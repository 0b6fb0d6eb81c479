package storage

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/hyperjump/obra/internal/models"
)

var testTag = Tag{Dimensions: 3, Model: "test-model"}

func newChunk(path string, idx int, text string, emb []float32) *models.Chunk {
	return &models.Chunk{
		ID:          path + "#" + text,
		Path:        path,
		Index:       idx,
		Text:        text,
		StartOffset: idx * 10,
		EndOffset:   idx*10 + len(text),
		Embedding:   emb,
	}
}

func collect(t *testing.T, s ChunkStore) []*models.Chunk {
	t.Helper()
	var out []*models.Chunk
	err := s.Each(context.Background(), func(c *models.Chunk) error {
		out = append(out, c)
		return nil
	})
	if err != nil {
		t.Fatal(err)
	}
	return out
}

func TestSQLiteChunkStore_ReplaceAndDelete(t *testing.T) {
	path := filepath.Join(t.TempDir(), "index.db")
	store, err := NewSQLiteChunkStore(path, testTag, Options{})
	if err != nil {
		t.Fatal(err)
	}
	defer store.Close()
	ctx := context.Background()

	if !store.Reset() {
		t.Error("fresh store should report Reset")
	}

	err = store.ReplaceFile(ctx, "b.md", []*models.Chunk{
		newChunk("b.md", 0, "b0", []float32{1, 0, 0}),
		newChunk("b.md", 1, "b1", []float32{0, 1, 0}),
	})
	if err != nil {
		t.Fatal(err)
	}
	err = store.ReplaceFile(ctx, "a.md", []*models.Chunk{newChunk("a.md", 0, "a0", []float32{0, 0, 1})})
	if err != nil {
		t.Fatal(err)
	}

	got := collect(t, store)
	if len(got) != 3 {
		t.Fatalf("got %d chunks, want 3", len(got))
	}
	if got[0].Path != "a.md" || got[1].Text != "b0" || got[2].Text != "b1" {
		t.Errorf("unexpected order: %s %s %s", got[0].Text, got[1].Text, got[2].Text)
	}
	if got[2].Embedding[1] != 1 || got[2].EndOffset != 12 {
		t.Errorf("round trip lost data: %+v", got[2])
	}

	// Replacing drops the old chunk set entirely.
	err = store.ReplaceFile(ctx, "b.md", []*models.Chunk{newChunk("b.md", 0, "new", []float32{1, 1, 0})})
	if err != nil {
		t.Fatal(err)
	}
	n, err := store.CountChunks(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if n != 2 {
		t.Errorf("count = %d, want 2", n)
	}

	if err := store.DeleteFile(ctx, "a.md"); err != nil {
		t.Fatal(err)
	}
	got = collect(t, store)
	if len(got) != 1 || got[0].Text != "new" {
		t.Errorf("after delete: %+v", got)
	}
}

func TestSQLiteChunkStore_ReplaceIsAtomic(t *testing.T) {
	path := filepath.Join(t.TempDir(), "index.db")
	store, err := NewSQLiteChunkStore(path, testTag, Options{})
	if err != nil {
		t.Fatal(err)
	}
	defer store.Close()
	ctx := context.Background()

	if err := store.ReplaceFile(ctx, "a.md", []*models.Chunk{newChunk("a.md", 0, "old", []float32{1, 0, 0})}); err != nil {
		t.Fatal(err)
	}
	// Duplicate ids violate the primary key halfway through the insert.
	dup := newChunk("a.md", 0, "x", []float32{1, 0, 0})
	dup2 := newChunk("a.md", 1, "x", []float32{0, 1, 0})
	if err := store.ReplaceFile(ctx, "a.md", []*models.Chunk{dup, dup2}); err == nil {
		t.Fatal("expected constraint error")
	}
	got := collect(t, store)
	if len(got) != 1 || got[0].Text != "old" {
		t.Errorf("failed replace should leave the old chunks, got %+v", got)
	}
}

func TestSQLiteChunkStore_Reopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "index.db")
	ctx := context.Background()
	store, err := NewSQLiteChunkStore(path, testTag, Options{})
	if err != nil {
		t.Fatal(err)
	}
	if err := store.ReplaceFile(ctx, "a.md", []*models.Chunk{newChunk("a.md", 0, "a0", []float32{1, 0, 0})}); err != nil {
		t.Fatal(err)
	}
	store.Close()

	store, err = NewSQLiteChunkStore(path, testTag, Options{})
	if err != nil {
		t.Fatal(err)
	}
	defer store.Close()
	if store.Reset() {
		t.Error("reopening a compatible store should not reset it")
	}
	if n, _ := store.CountChunks(ctx); n != 1 {
		t.Errorf("count = %d, want 1", n)
	}
}

func TestSQLiteChunkStore_Incompatible(t *testing.T) {
	path := filepath.Join(t.TempDir(), "index.db")
	ctx := context.Background()
	store, err := NewSQLiteChunkStore(path, testTag, Options{})
	if err != nil {
		t.Fatal(err)
	}
	if err := store.ReplaceFile(ctx, "a.md", []*models.Chunk{newChunk("a.md", 0, "a0", []float32{1, 0, 0})}); err != nil {
		t.Fatal(err)
	}
	store.Close()

	other := Tag{Dimensions: 4, Model: "test-model"}
	if _, err := NewSQLiteChunkStore(path, other, Options{ReadOnly: true}); !errors.Is(err, ErrIncompatible) {
		t.Fatalf("read-only open: err = %v, want ErrIncompatible", err)
	}

	store, err = NewSQLiteChunkStore(path, other, Options{})
	if err != nil {
		t.Fatal(err)
	}
	defer store.Close()
	if !store.Reset() {
		t.Error("dimension change should rebuild the store")
	}
	if n, _ := store.CountChunks(ctx); n != 0 {
		t.Errorf("rebuilt store has %d chunks", n)
	}
}

func TestSQLiteChunkStore_Rebuild(t *testing.T) {
	path := filepath.Join(t.TempDir(), "index.db")
	ctx := context.Background()
	store, err := NewSQLiteChunkStore(path, testTag, Options{})
	if err != nil {
		t.Fatal(err)
	}
	// Rows are not checked against the tag, so a short vector can be stored.
	if err := store.ReplaceFile(ctx, "a.md", []*models.Chunk{newChunk("a.md", 0, "a0", []float32{1, 0})}); err != nil {
		t.Fatal(err)
	}
	store.Close()

	store, err = NewSQLiteChunkStore(path, testTag, Options{})
	if err != nil {
		t.Fatal(err)
	}
	defer store.Close()
	if got := collect(t, store); len(got) != 1 || len(got[0].Embedding) != 2 {
		t.Fatalf("stored chunks = %+v", got)
	}
	if err := store.Rebuild(); err != nil {
		t.Fatal(err)
	}
	if !store.Reset() {
		t.Error("Reset should report the rebuild")
	}
	if n, _ := store.CountChunks(ctx); n != 0 {
		t.Errorf("rebuilt store has %d chunks", n)
	}
	store.Close()

	store, err = NewSQLiteChunkStore(path, testTag, Options{})
	if err != nil {
		t.Fatal(err)
	}
	defer store.Close()
	if store.Reset() {
		t.Error("rebuilt store should keep its tag")
	}
}

func TestSQLiteChunkStore_CorruptFileRecreated(t *testing.T) {
	path := filepath.Join(t.TempDir(), "index.db")
	garbage := make([]byte, 8192)
	for i := range garbage {
		garbage[i] = byte(i % 251)
	}
	if err := os.WriteFile(path, garbage, 0644); err != nil {
		t.Fatal(err)
	}
	store, err := NewSQLiteChunkStore(path, testTag, Options{})
	if err != nil {
		t.Fatal(err)
	}
	defer store.Close()
	if !store.Reset() {
		t.Error("corrupt file should be recreated")
	}
	if n, err := store.CountChunks(context.Background()); err != nil || n != 0 {
		t.Errorf("count = %d, err = %v", n, err)
	}
}

func TestSQLiteSyncState(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state.db")
	st, err := NewSQLiteSyncState(path, Options{})
	if err != nil {
		t.Fatal(err)
	}
	defer st.Close()
	ctx := context.Background()

	last, err := st.LastSync(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if !last.IsZero() {
		t.Errorf("last sync = %v, want zero", last)
	}

	mtime := time.Unix(1700000000, 123)
	rec := models.FileState{Path: "notes/a.md", Fingerprint: "sha256:aa", ModTime: mtime, Size: 42, IndexedAt: time.Now()}
	if err := st.Put(ctx, rec); err != nil {
		t.Fatal(err)
	}
	rec.Fingerprint = "sha256:bb"
	if err := st.Put(ctx, rec); err != nil {
		t.Fatal(err)
	}
	if err := st.Put(ctx, models.FileState{Path: "b.md", Fingerprint: "sha256:cc"}); err != nil {
		t.Fatal(err)
	}

	all, err := st.All(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(all) != 2 {
		t.Fatalf("got %d records, want 2", len(all))
	}
	got := all["notes/a.md"]
	if got.Fingerprint != "sha256:bb" || got.Size != 42 || !got.ModTime.Equal(mtime) {
		t.Errorf("record = %+v", got)
	}

	if err := st.Delete(ctx, "b.md"); err != nil {
		t.Fatal(err)
	}
	if n, _ := st.Count(ctx); n != 1 {
		t.Errorf("count = %d, want 1", n)
	}

	now := time.Unix(1800000000, 0)
	if err := st.SetLastSync(ctx, now); err != nil {
		t.Fatal(err)
	}
	if last, _ := st.LastSync(ctx); !last.Equal(now) {
		t.Errorf("last sync = %v, want %v", last, now)
	}
	if err := st.SetLastSync(ctx, time.Time{}); err != nil {
		t.Fatal(err)
	}
	if last, _ := st.LastSync(ctx); !last.IsZero() {
		t.Errorf("zero time should forget last sync, got %v", last)
	}
	if n, _ := st.Count(ctx); n != 1 {
		t.Errorf("forgetting last sync kept %d records, want 1", n)
	}
	_ = st.SetLastSync(ctx, now)

	if err := st.Clear(ctx); err != nil {
		t.Fatal(err)
	}
	if n, _ := st.Count(ctx); n != 0 {
		t.Errorf("count after clear = %d", n)
	}
	if last, _ := st.LastSync(ctx); !last.IsZero() {
		t.Errorf("clear should drop last sync, got %v", last)
	}
}

func TestSQLiteSyncState_ReadOnlyMissingSchema(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state.db")
	rw, err := NewSQLiteSyncState(path, Options{})
	if err != nil {
		t.Fatal(err)
	}
	rw.Close()

	ro, err := NewSQLiteSyncState(path, Options{ReadOnly: true})
	if err != nil {
		t.Fatal(err)
	}
	defer ro.Close()
	if ro.Reset() {
		t.Error("read-only open should never reset")
	}
	if err := ro.Put(context.Background(), models.FileState{Path: "x"}); err == nil {
		t.Error("expected write to fail on read-only database")
	}
}
