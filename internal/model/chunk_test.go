package model

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestChunkKeyFor(t *testing.T) {
	key := ChunkKeyFor(1, 0, "some chunk text")
	require.Len(t, key, 64)
	require.Equal(t, key, ChunkKeyFor(1, 0, "some chunk text"), "identical inputs yield identical keys")

	require.NotEqual(t, key, ChunkKeyFor(2, 0, "some chunk text"), "key depends on document")
	require.NotEqual(t, key, ChunkKeyFor(1, 10, "some chunk text"), "key depends on offset")
	require.NotEqual(t, key, ChunkKeyFor(1, 0, "other chunk text"), "key depends on text")
}

func TestChunkEmbeddingRoundTrip(t *testing.T) {
	var c Chunk
	require.Empty(t, c.EmbeddingVector())

	c.SetEmbedding([]float32{0.25, -1, 3})
	require.Equal(t, []float32{0.25, -1, 3}, c.EmbeddingVector())

	c.SetEmbedding(nil)
	require.Empty(t, c.EmbeddingVector())
}
