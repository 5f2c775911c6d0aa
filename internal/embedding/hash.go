package embedding

import (
	"context"
	"math"
	"unicode/utf16"
)

// HashEmbedder is a deterministic stand-in for a real model: the vector is a pure
// function of the text, so identical text always yields an identical unit vector.
type HashEmbedder struct {
	dims int
}

// NewHashEmbedder creates a mock embedder producing dims-length vectors.
func NewHashEmbedder(dims int) *HashEmbedder {
	if dims <= 0 {
		dims = DefaultDims
	}
	return &HashEmbedder{dims: dims}
}

func (e *HashEmbedder) Embed(_ context.Context, text string) (Vector, error) {
	hash := textHash(text)
	raw := make([]float64, e.dims)
	for i := range raw {
		seed := float64(hash+int64(i)) * 2654435761
		raw[i] = math.Sin(seed)*2 - 1
	}
	return normalize64(raw), nil
}

func (e *HashEmbedder) Dims() int    { return e.dims }
func (e *HashEmbedder) Name() string { return "mock/hash" }

// textHash is a 32-bit rolling hash (h*31 + c) over UTF-16 code units, returned as
// an absolute value.
func textHash(s string) int64 {
	var h int32
	for _, c := range utf16.Encode([]rune(s)) {
		h = (h << 5) - h + int32(c)
	}
	if h < 0 {
		return -int64(h)
	}
	return int64(h)
}

func normalize64(v []float64) Vector {
	var sum float64
	for _, x := range v {
		sum += x * x
	}
	out := make(Vector, len(v))
	norm := math.Sqrt(sum)
	if norm == 0 {
		return out
	}
	for i, x := range v {
		out[i] = float32(x / norm)
	}
	return out
}

// Normalize returns an L2-normalized copy of v. A zero vector is returned unchanged.
func Normalize(v Vector) Vector {
	raw := make([]float64, len(v))
	for i, x := range v {
		raw[i] = float64(x)
	}
	return normalize64(raw)
}

// Norm returns the L2 magnitude of v.
func Norm(v Vector) float64 {
	var sum float64
	for _, x := range v {
		sum += float64(x) * float64(x)
	}
	return math.Sqrt(sum)
}
