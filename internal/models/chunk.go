package models

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// pointNamespace seeds deterministic point ids. Never change this value:
// point ids are the join key between the relational store and the vector
// store, and must be stable across restarts and processes.
var pointNamespace = uuid.MustParse("6ba7b810-9dad-11d1-80b4-00c04fd430c8")

// PointID derives the stable vector-store point id for a chunk.
func PointID(docID string, chunkIndex int) string {
	return uuid.NewSHA1(pointNamespace, []byte(fmt.Sprintf("%s:%d", docID, chunkIndex))).String()
}

// Chunk is a contiguous slice of a document's text carrying its title chain.
// Chunks of a document are totally ordered by ChunkIndex, which is dense and
// 0-based.
type Chunk struct {
	PointID      string   `json:"point_id"`
	DocID        string   `json:"doc_id"`
	CollectionID string   `json:"collection_id"`
	ChunkIndex   int      `json:"chunk_index"`
	TitleChain   []string `json:"title_chain,omitempty"`
	Content      string   `json:"content"`
}

// Validate checks if the chunk is valid.
func (c *Chunk) Validate() error {
	if c.PointID == "" {
		return &ValidationError{Field: "point_id", Message: "point ID is required"}
	}
	if c.DocID == "" {
		return &ValidationError{Field: "doc_id", Message: "document ID is required"}
	}
	if c.CollectionID == "" {
		return &ValidationError{Field: "collection_id", Message: "collection ID is required"}
	}
	if c.Content == "" {
		return &ValidationError{Field: "content", Message: "content is required"}
	}
	if c.ChunkIndex < 0 {
		return &ValidationError{Field: "chunk_index", Message: "chunk index cannot be negative"}
	}
	return nil
}

// TitleChainString joins the title chain for storage and payloads.
func (c *Chunk) TitleChainString() string {
	return strings.Join(c.TitleChain, " > ")
}

// EmbeddingStatus tracks per-chunk embedding progress.
type EmbeddingStatus string

const (
	EmbeddingStatusPending   EmbeddingStatus = "pending"
	EmbeddingStatusCompleted EmbeddingStatus = "completed"
	EmbeddingStatusFailed    EmbeddingStatus = "failed"
)

// ChunkMeta records the durable embedding state of one chunk. A vector point
// exists in the vector store iff a ChunkMeta exists with status completed and
// a non-nil SyncedAt.
type ChunkMeta struct {
	PointID      string          `json:"point_id"`
	DocID        string          `json:"doc_id"`
	CollectionID string          `json:"collection_id"`
	ChunkIndex   int             `json:"chunk_index"`
	TitleChain   string          `json:"title_chain,omitempty"`
	Content      string          `json:"content"`
	ContentHash  string          `json:"content_hash"`
	Status       EmbeddingStatus `json:"embedding_status"`
	SyncedAt     *time.Time      `json:"synced_at,omitempty"`
	Error        string          `json:"error,omitempty"`
}

// NewChunkMeta builds the pending metadata row for a freshly split chunk.
func NewChunkMeta(chunk *Chunk) *ChunkMeta {
	return &ChunkMeta{
		PointID:      chunk.PointID,
		DocID:        chunk.DocID,
		CollectionID: chunk.CollectionID,
		ChunkIndex:   chunk.ChunkIndex,
		TitleChain:   chunk.TitleChainString(),
		Content:      chunk.Content,
		ContentHash:  HashContent(chunk.Content),
		Status:       EmbeddingStatusPending,
	}
}

// ToChunk reconstructs the chunk view of a metadata row.
func (m *ChunkMeta) ToChunk() *Chunk {
	var chain []string
	if m.TitleChain != "" {
		chain = strings.Split(m.TitleChain, " > ")
	}
	return &Chunk{
		PointID:      m.PointID,
		DocID:        m.DocID,
		CollectionID: m.CollectionID,
		ChunkIndex:   m.ChunkIndex,
		TitleChain:   chain,
		Content:      m.Content,
	}
}

// FullTextEntry mirrors a chunk into the keyword index, one-to-one by PointID.
type FullTextEntry struct {
	PointID    string `json:"point_id"`
	Content    string `json:"content"`
	TitleChain string `json:"title_chain,omitempty"`
}

// KeywordHit is a scored match from the full-text index.
type KeywordHit struct {
	PointID string  `json:"point_id"`
	Score   float64 `json:"score"`
}

// VectorHit is a scored match from the vector store, payload fields included.
type VectorHit struct {
	PointID    string  `json:"point_id"`
	DocID      string  `json:"doc_id"`
	ChunkIndex int     `json:"chunk_index"`
	TitleChain string  `json:"title_chain,omitempty"`
	Score      float32 `json:"score"`
}
