package embedding

import (
	"context"
	"math"
	"testing"
)

var (
	_ Embedder = (*Client)(nil)
	_ Embedder = (*MockEmbedder)(nil)
)

func TestMockEmbedder_Deterministic(t *testing.T) {
	e := NewMockEmbedder(8)
	ctx := context.Background()

	a1, err := e.Embed(ctx, "func Add(a, b int) int")
	if err != nil {
		t.Fatalf("Embed() error: %v", err)
	}
	a2, err := e.Embed(ctx, "func Add(a, b int) int")
	if err != nil {
		t.Fatalf("Embed() error: %v", err)
	}
	b, err := e.Embed(ctx, "func Sub(a, b int) int")
	if err != nil {
		t.Fatalf("Embed() error: %v", err)
	}

	if len(a1) != 8 {
		t.Fatalf("embedding has %d dims, want 8", len(a1))
	}
	for i := range a1 {
		if a1[i] != a2[i] {
			t.Fatalf("same text produced different embeddings at %d", i)
		}
	}
	same := true
	for i := range a1 {
		if a1[i] != b[i] {
			same = false
			break
		}
	}
	if same {
		t.Error("different texts produced identical embeddings")
	}

	var norm float64
	for _, v := range a1 {
		norm += float64(v) * float64(v)
	}
	if math.Abs(norm-1) > 1e-5 {
		t.Errorf("embedding norm squared = %v, want 1", norm)
	}
}

func TestMockEmbedder_BatchMatchesSingle(t *testing.T) {
	e := NewMockEmbedder(8)
	ctx := context.Background()

	texts := []string{"alpha", "beta"}
	batch, err := e.EmbedBatch(ctx, texts)
	if err != nil {
		t.Fatalf("EmbedBatch() error: %v", err)
	}
	for i, text := range texts {
		single, err := e.Embed(ctx, text)
		if err != nil {
			t.Fatalf("Embed() error: %v", err)
		}
		for d := range single {
			if batch[i][d] != single[d] {
				t.Fatalf("batch and single embeddings differ for %q at %d", text, d)
			}
		}
	}
}

func TestNewMockEmbedder_DefaultDimensions(t *testing.T) {
	if got := NewMockEmbedder(0).Dimensions(); got != 768 {
		t.Errorf("Dimensions() = %d, want 768", got)
	}
}
