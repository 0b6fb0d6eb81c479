package embedding

import (
	"context"
	"math"
	"testing"
)

func dot(a, b []float32) float64 {
	var s float64
	for i := range a {
		s += float64(a[i]) * float64(b[i])
	}
	return s
}

func TestHashEmbedder_deterministicAndNormalized(t *testing.T) {
	e := NewHashEmbedder(64)
	ctx := context.Background()
	a, err := e.Embed(ctx, "deep learning project notes")
	if err != nil {
		t.Fatal(err)
	}
	b, _ := e.Embed(ctx, "deep learning project notes")
	if len(a) != 64 {
		t.Fatalf("len = %d", len(a))
	}
	for i := range a {
		if a[i] != b[i] {
			t.Fatal("same text should embed identically")
		}
	}
	if n := dot(a, a); math.Abs(n-1) > 1e-5 {
		t.Errorf("norm^2 = %v, want 1", n)
	}
}

func TestHashEmbedder_sharedWordsAreCloser(t *testing.T) {
	e := NewHashEmbedder(384)
	ctx := context.Background()
	vecs, err := e.EmbedBatch(ctx, []string{"machine learning", "deep learning project notes", "grocery list bread milk"})
	if err != nil {
		t.Fatal(err)
	}
	related := dot(vecs[0], vecs[1])
	unrelated := dot(vecs[0], vecs[2])
	if related <= unrelated {
		t.Errorf("related similarity %v should exceed unrelated %v", related, unrelated)
	}
}

func TestHashEmbedder_emptyText(t *testing.T) {
	v, err := NewHashEmbedder(8).Embed(context.Background(), "  ")
	if err != nil {
		t.Fatal(err)
	}
	for _, x := range v {
		if x != 0 {
			t.Fatalf("expected zero vector, got %v", v)
		}
	}
}

func TestHashEmbedder_cancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := NewHashEmbedder(8).EmbedBatch(ctx, []string{"x"}); err == nil {
		t.Error("expected context error")
	}
}
