package index

import (
	"math"
	"sort"

	"paperquote/internal/model"
)

// Rank scores chunks against the query vector and returns the top k in
// descending similarity order. Stored vectors are L2-normalized at write
// time and the query is normalized here, so the dot product is cosine
// similarity. Ties break on chunk key ascending to keep rankings
// deterministic.
func Rank(queryVec []float32, chunks []model.Chunk, k int) []ScoredChunk {
	if k <= 0 || len(chunks) == 0 || len(queryVec) == 0 {
		return nil
	}
	query := Normalize(queryVec)

	scored := make([]ScoredChunk, 0, len(chunks))
	for _, c := range chunks {
		vec := c.EmbeddingVector()
		if len(vec) != len(query) {
			continue
		}
		scored = append(scored, ScoredChunk{Chunk: c, Score: dot(query, vec)})
	}

	sort.Slice(scored, func(i, j int) bool {
		if scored[i].Score != scored[j].Score {
			return scored[i].Score > scored[j].Score
		}
		return scored[i].Chunk.ChunkKey < scored[j].Chunk.ChunkKey
	})

	if k > len(scored) {
		k = len(scored)
	}
	return scored[:k]
}

// Normalize returns the L2-normalized copy of v; zero vectors pass through.
func Normalize(v []float32) []float32 {
	var sum float64
	for _, x := range v {
		sum += float64(x) * float64(x)
	}
	if sum == 0 {
		return v
	}
	norm := math.Sqrt(sum)
	out := make([]float32, len(v))
	for i, x := range v {
		out[i] = float32(float64(x) / norm)
	}
	return out
}

func dot(a, b []float32) float64 {
	var sum float64
	for i := range a {
		sum += float64(a[i]) * float64(b[i])
	}
	return sum
}
