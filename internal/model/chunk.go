package model

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"time"
)

// Section labels assigned by the heading detector. Detected headings
// collapse onto this fixed set; anything unrecognized becomes SectionOther.
const (
	SectionIntroduction = "introduction"
	SectionMethods      = "methods"
	SectionResults      = "results"
	SectionDiscussion   = "discussion"
	SectionOther        = "other"
)

// Chunk stores one retrievable passage with its embedding and provenance.
// ChunkKey is content-addressed: re-ingesting an unchanged document yields
// the same keys, so upserts are idempotent. Embedding is stored as a JSON
// array of float32 for portability.
type Chunk struct {
	ID           uint      `gorm:"primaryKey" json:"id"`
	ChunkKey     string    `gorm:"size:64;not null;uniqueIndex" json:"chunk_key"`
	DocumentID   uint      `gorm:"not null;index" json:"document_id"`
	SectionLabel string    `gorm:"size:32;not null;index" json:"section_label"`
	PageNumber   int       `gorm:"not null" json:"page_number"`
	CharOffset   int       `gorm:"not null" json:"char_offset"`
	Content      string    `gorm:"type:text;not null" json:"content"`
	Embedding    string    `gorm:"type:mediumtext" json:"-"`
	CreatedAt    time.Time `json:"created_at"`
}

// ChunkKeyFor derives the content-addressed key for a chunk.
func ChunkKeyFor(documentID uint, charOffset int, text string) string {
	sum := sha256.Sum256([]byte(fmt.Sprintf("%d|%d|%s", documentID, charOffset, text)))
	return hex.EncodeToString(sum[:])
}

// EmbeddingVector returns the parsed embedding slice; empty on parse error.
func (c *Chunk) EmbeddingVector() []float32 {
	if c.Embedding == "" {
		return nil
	}
	var v []float32
	_ = json.Unmarshal([]byte(c.Embedding), &v)
	return v
}

// SetEmbedding stores the embedding as JSON.
func (c *Chunk) SetEmbedding(vec []float32) {
	if len(vec) == 0 {
		c.Embedding = "[]"
		return
	}
	b, _ := json.Marshal(vec)
	c.Embedding = string(b)
}
