// Package similarity ranks embedding vectors by cosine similarity.
package similarity

import (
	"math"
	"sort"

	"github.com/m-mizutani/goerr/v2"

	"github.com/rcliao/narrative-market/internal/errs"
)

// DefaultLimit caps FindSimilar results when the caller has no preference.
const DefaultLimit = 50

// Candidate is a keyed vector to compare against a query.
type Candidate[K any] struct {
	Key    K
	Vector []float32
}

// Match is a candidate key with its similarity to the query.
type Match[K any] struct {
	Key        K       `json:"key"`
	Similarity float64 `json:"similarity"`
}

// CosineSimilarity computes dot(a,b)/(|a||b|) in float64.
// A zero-magnitude vector on either side yields 0.
func CosineSimilarity(a, b []float32) (float64, error) {
	if len(a) != len(b) {
		return 0, goerr.Wrap(errs.ErrDimensionMismatch, "vectors differ in length",
			goerr.V("len_a", len(a)), goerr.V("len_b", len(b)))
	}
	var dot, normA, normB float64
	for i := range a {
		x, y := float64(a[i]), float64(b[i])
		dot += x * y
		normA += x * x
		normB += y * y
	}
	if normA == 0 || normB == 0 {
		return 0, nil
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB)), nil
}

// FindSimilar returns candidates whose similarity to query is at least threshold, most
// similar first. Equal similarities keep their input order. At most limit matches are
// returned; limit 0 returns none.
func FindSimilar[K any](query []float32, candidates []Candidate[K], threshold float64, limit int) ([]Match[K], error) {
	if limit < 0 {
		return nil, goerr.Wrap(errs.ErrInvalidInput, "limit must not be negative", goerr.V("limit", limit))
	}

	matches := make([]Match[K], 0, len(candidates))
	for _, c := range candidates {
		s, err := CosineSimilarity(query, c.Vector)
		if err != nil {
			return nil, goerr.Wrap(err, "compare candidate", goerr.V("key", c.Key))
		}
		if s >= threshold {
			matches = append(matches, Match[K]{Key: c.Key, Similarity: s})
		}
	}

	sort.SliceStable(matches, func(i, j int) bool {
		return matches[i].Similarity > matches[j].Similarity
	})

	if limit < len(matches) {
		matches = matches[:limit]
	}
	return matches, nil
}
