package memory

import (
	"context"
	"hash/fnv"
	"math"
	"strings"
)

// Embedder produces fixed-dimension embeddings for text.
type Embedder interface {
	Embed(ctx context.Context, texts []string) ([][]float32, error)
	Dimensions() int
	Name() string
}

// HashEmbedder is the built-in embedder: feature hashing of word
// bigrams into a fixed-dimension L2-normalized vector. No network,
// deterministic, good enough for dedup and coarse recall; swap in a
// real embedding provider for semantic quality.
type HashEmbedder struct {
	dim int
}

func NewHashEmbedder(dim int) *HashEmbedder {
	if dim <= 0 {
		dim = 256
	}
	return &HashEmbedder{dim: dim}
}

func (h *HashEmbedder) Name() string    { return "hash" }
func (h *HashEmbedder) Dimensions() int { return h.dim }

func (h *HashEmbedder) Embed(_ context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, text := range texts {
		out[i] = h.embedOne(text)
	}
	return out, nil
}

func (h *HashEmbedder) embedOne(text string) []float32 {
	vec := make([]float32, h.dim)
	words := strings.Fields(strings.ToLower(text))
	for i, w := range words {
		h.bump(vec, w)
		if i+1 < len(words) {
			h.bump(vec, w+" "+words[i+1])
		}
	}

	var norm float64
	for _, v := range vec {
		norm += float64(v) * float64(v)
	}
	if norm > 0 {
		scale := float32(1 / math.Sqrt(norm))
		for i := range vec {
			vec[i] *= scale
		}
	}
	return vec
}

func (h *HashEmbedder) bump(vec []float32, token string) {
	hash := fnv.New64a()
	hash.Write([]byte(token))
	sum := hash.Sum64()
	idx := int(sum % uint64(h.dim))
	// Second hash bit decides sign so collisions partially cancel.
	if sum&(1<<63) != 0 {
		vec[idx] -= 1
	} else {
		vec[idx] += 1
	}
}
