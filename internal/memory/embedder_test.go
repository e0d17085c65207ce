package memory

import (
	"context"
	"math"
	"testing"
)

func TestHashEmbedderShape(t *testing.T) {
	h := NewHashEmbedder(128)
	if h.Dimensions() != 128 {
		t.Fatalf("dimensions = %d", h.Dimensions())
	}

	vecs, err := h.Embed(context.Background(), []string{"alpha beta", "gamma"})
	if err != nil {
		t.Fatalf("embed: %v", err)
	}
	if len(vecs) != 2 || len(vecs[0]) != 128 || len(vecs[1]) != 128 {
		t.Fatalf("unexpected shape: %d vectors", len(vecs))
	}

	if NewHashEmbedder(0).Dimensions() != 256 {
		t.Error("zero dim did not default to 256")
	}
}

func TestHashEmbedderDeterministic(t *testing.T) {
	h := NewHashEmbedder(64)
	ctx := context.Background()

	a, _ := h.Embed(ctx, []string{"the deploy failed on staging"})
	b, _ := h.Embed(ctx, []string{"the deploy failed on staging"})
	for i := range a[0] {
		if a[0][i] != b[0][i] {
			t.Fatalf("component %d differs across runs", i)
		}
	}

	c, _ := h.Embed(ctx, []string{"an entirely different sentence about cooking"})
	same := true
	for i := range a[0] {
		if a[0][i] != c[0][i] {
			same = false
			break
		}
	}
	if same {
		t.Error("distinct texts produced identical vectors")
	}
}

func TestHashEmbedderNormalized(t *testing.T) {
	h := NewHashEmbedder(64)
	vecs, _ := h.Embed(context.Background(), []string{"normalize this vector please"})

	var norm float64
	for _, v := range vecs[0] {
		norm += float64(v) * float64(v)
	}
	if math.Abs(norm-1) > 1e-5 {
		t.Errorf("squared norm = %f, want 1", norm)
	}

	// Empty text embeds to the zero vector, not NaN.
	vecs, _ = h.Embed(context.Background(), []string{""})
	for i, v := range vecs[0] {
		if v != 0 {
			t.Fatalf("empty text component %d = %f", i, v)
		}
	}
}

func TestHashEmbedderCaseInsensitive(t *testing.T) {
	h := NewHashEmbedder(64)
	ctx := context.Background()

	a, _ := h.Embed(ctx, []string{"Deploy The Service"})
	b, _ := h.Embed(ctx, []string{"deploy the service"})
	for i := range a[0] {
		if a[0][i] != b[0][i] {
			t.Fatal("case changed the embedding")
		}
	}
}
