package vector

import (
	"context"
	"path/filepath"
	"sync"
	"testing"

	"github.com/hyperjump/obra/internal/models"
	"github.com/hyperjump/obra/internal/storage"
)

func openTestStore(t *testing.T, path string, dims int) *Store {
	t.Helper()
	db, err := storage.NewSQLiteChunkStore(path, storage.Tag{Dimensions: dims, Model: "test"}, storage.Options{})
	if err != nil {
		t.Fatal(err)
	}
	s, err := Open(context.Background(), db, dims)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func chunk(path string, idx int, id string, vec ...float32) *models.Chunk {
	return &models.Chunk{ID: id, Path: path, Index: idx, Text: id, Embedding: vec}
}

func TestStore_ReplaceQueryDelete(t *testing.T) {
	s := openTestStore(t, filepath.Join(t.TempDir(), "index.db"), 2)
	ctx := context.Background()

	if err := s.ReplaceFile(ctx, "a.md", []*models.Chunk{chunk("a.md", 0, "a0", 1, 0), chunk("a.md", 1, "a1", 0, 1)}); err != nil {
		t.Fatal(err)
	}
	if err := s.ReplaceFile(ctx, "b.md", []*models.Chunk{chunk("b.md", 0, "b0", 0.6, 0.8)}); err != nil {
		t.Fatal(err)
	}

	got, err := s.Query(ctx, []float32{0, 1}, 2)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 2 || got[0].Chunk.ID != "a1" || got[1].Chunk.ID != "b0" {
		t.Fatalf("query = %+v", got)
	}
	if got[0].Chunk.Embedding != nil {
		t.Error("candidates should not carry embeddings")
	}

	if err := s.ReplaceFile(ctx, "a.md", []*models.Chunk{chunk("a.md", 0, "a2", 1, 0)}); err != nil {
		t.Fatal(err)
	}
	if st := s.Stats(); st.Files != 2 || st.Chunks != 2 {
		t.Errorf("stats = %+v, want 2 files 2 chunks", st)
	}

	if err := s.DeleteFile(ctx, "b.md"); err != nil {
		t.Fatal(err)
	}
	if s.HasFile("b.md") {
		t.Error("b.md should be gone")
	}
	if paths := s.Paths(); len(paths) != 1 || paths[0] != "a.md" {
		t.Errorf("paths = %v", paths)
	}
}

func TestStore_ReloadFromDisk(t *testing.T) {
	path := filepath.Join(t.TempDir(), "index.db")
	ctx := context.Background()

	db, err := storage.NewSQLiteChunkStore(path, storage.Tag{Dimensions: 2, Model: "test"}, storage.Options{})
	if err != nil {
		t.Fatal(err)
	}
	s, err := Open(ctx, db, 2)
	if err != nil {
		t.Fatal(err)
	}
	if !s.Rebuilt() {
		t.Error("fresh store should report Rebuilt")
	}
	if err := s.ReplaceFile(ctx, "n/a.md", []*models.Chunk{chunk("n/a.md", 0, "x", 1, 0)}); err != nil {
		t.Fatal(err)
	}
	s.Close()

	s = openTestStore(t, path, 2)
	if s.Rebuilt() {
		t.Error("reopened store should not report Rebuilt")
	}
	got, err := s.Query(ctx, []float32{1, 0}, 5)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 1 || got[0].Chunk.Path != "n/a.md" {
		t.Errorf("query after reload = %+v", got)
	}
}

func TestStore_RejectsWrongDimensions(t *testing.T) {
	s := openTestStore(t, filepath.Join(t.TempDir(), "index.db"), 3)
	err := s.ReplaceFile(context.Background(), "a.md", []*models.Chunk{chunk("a.md", 0, "a0", 1, 0)})
	if err == nil {
		t.Fatal("expected dimension error")
	}
	if s.HasFile("a.md") {
		t.Error("rejected replace must not change the store")
	}
}

func TestStore_ConcurrentReadersSeeWholeSets(t *testing.T) {
	s := openTestStore(t, filepath.Join(t.TempDir(), "index.db"), 2)
	ctx := context.Background()
	set := func(gen string) []*models.Chunk {
		return []*models.Chunk{
			chunk("a.md", 0, gen+"0", 1, 0),
			chunk("a.md", 1, gen+"1", 0.8, 0.6),
		}
	}
	if err := s.ReplaceFile(ctx, "a.md", set("x")); err != nil {
		t.Fatal(err)
	}

	var wg sync.WaitGroup
	stop := make(chan struct{})
	errs := make(chan string, 1)
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				select {
				case <-stop:
					return
				default:
				}
				got, err := s.Query(ctx, []float32{1, 0}, 10)
				if err != nil || len(got) != 2 || got[0].Chunk.ID[:1] != got[1].Chunk.ID[:1] {
					select {
					case errs <- "reader saw a partial chunk set":
					default:
					}
					return
				}
			}
		}()
	}
	for i := 0; i < 50; i++ {
		gen := "x"
		if i%2 == 0 {
			gen = "y"
		}
		if err := s.ReplaceFile(ctx, "a.md", set(gen)); err != nil {
			t.Fatal(err)
		}
	}
	close(stop)
	wg.Wait()
	select {
	case msg := <-errs:
		t.Error(msg)
	default:
	}
}
