package core

import (
	"encoding/binary"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/go-crypt/x/blake2b"
)

// ID is a compact content-derived identifier.
type ID uint64

// IDFromContent generates a deterministic ID from text content using BLAKE2b hashing.
// This ensures that identical content produces identical IDs.
func IDFromContent(text string) ID {
	h, _ := blake2b.New(8, nil) // 8 bytes = 64 bits
	h.Write([]byte(text))
	sum := h.Sum(nil)
	return ID(binary.LittleEndian.Uint64(sum))
}

// String renders the ID as fixed-width hex.
func (id ID) String() string {
	return fmt.Sprintf("%016x", uint64(id))
}

// ContentType declares how a source document should be chunked.
type ContentType string

const (
	ContentTypeConversation ContentType = "conversation"
	ContentTypeCode         ContentType = "code"
	ContentTypeMarkdown     ContentType = "markdown"
	ContentTypeIssue        ContentType = "issue"
	ContentTypeTabular      ContentType = "tabular"
	ContentTypeGeneric      ContentType = "generic"
)

// Well-known chunk metadata keys.
const (
	MetaDocumentID  = "document_id"
	MetaContentType = "content_type"
	MetaStartOffset = "start_offset"
	MetaEndOffset   = "end_offset"
	MetaSynthetic   = "synthetic"
	MetaStartTime   = "start_time"
	MetaEndTime     = "end_time"
	MetaUnitCount   = "unit_count"
	MetaLineRange   = "line_range"
	MetaSheetName   = "sheet_name"
	MetaRowNumber   = "row_number"
	MetaIssueTitle  = "issue_title"
)

// SourceDocument is a raw document handed to ingestion.
type SourceDocument struct {
	ID          string
	ContentType ContentType
	RawText     string
	Metadata    map[string]string
}

// Chunk is a contiguous, retrievable piece of a source document.
type Chunk struct {
	ID         string
	DocumentID string
	Text       string
	OrderIndex int
	Metadata   map[string]string
}

// MatchesFilters reports whether every filter key equals the chunk's metadata
// value. The document_id key also matches the chunk's DocumentID field.
func (c *Chunk) MatchesFilters(filters map[string]string) bool {
	for k, want := range filters {
		got, ok := c.Metadata[k]
		if !ok && k == MetaDocumentID {
			got, ok = c.DocumentID, true
		}
		if !ok || got != want {
			return false
		}
	}
	return true
}

// ChunkID derives the deterministic chunk identifier for a document position.
// Zero padding keeps lexical order equal to order_index order.
func ChunkID(documentID string, orderIndex int) string {
	return fmt.Sprintf("%s/%05d", documentID, orderIndex)
}

// EmbeddingRecord binds a chunk to its vector under one embedding model version.
type EmbeddingRecord struct {
	ChunkID      string
	Vector       []float32
	ModelVersion string
	EmbeddedAt   time.Time
}

// IndexedChunk is the unit written to a KnowledgeStore.
type IndexedChunk struct {
	Chunk     Chunk
	Embedding EmbeddingRecord
}

// ScoredChunk is a chunk with a relevance score.
type ScoredChunk struct {
	Chunk *Chunk
	Score float32
}

// SortScored orders results by score descending, breaking ties by chunk id ascending.
func SortScored(results []*ScoredChunk) {
	slices.SortStableFunc(results, func(a, b *ScoredChunk) int {
		switch {
		case a.Score > b.Score:
			return -1
		case a.Score < b.Score:
			return 1
		}
		return strings.Compare(a.Chunk.ID, b.Chunk.ID)
	})
}

// VectorQuery describes a similarity lookup against a KnowledgeStore.
type VectorQuery struct {
	Vector       []float32
	ModelVersion string
	Limit        int
	Filters      map[string]string
}

// ConversationTurn records one completed exchange.
type ConversationTurn struct {
	TurnID        string
	UserMessage   string
	PlanID        string
	PlanStatus    PlanStatus
	FinalAnswer   string
	CitedChunkIDs []string
	Cached        bool
	CreatedAt     time.Time
}

// CacheEntry is a memoized final answer.
type CacheEntry struct {
	Fingerprint   string
	Answer        string
	CitedChunkIDs []string
	ExpiresAt     time.Time
}

// Expired reports whether the entry is no longer servable at now.
func (e *CacheEntry) Expired(now time.Time) bool {
	return !e.ExpiresAt.After(now)
}

// DeadLetter holds an embedding batch that exhausted its retries.
type DeadLetter struct {
	ID           string
	Chunks       []Chunk
	ModelVersion string
	Reason       string
	Attempts     int
	CreatedAt    time.Time
}

// DocumentIDs returns the distinct owning documents of the dead-lettered chunks in first-seen order.
func (d *DeadLetter) DocumentIDs() []string {
	seen := make(map[string]bool)
	var ids []string
	for _, c := range d.Chunks {
		if !seen[c.DocumentID] {
			seen[c.DocumentID] = true
			ids = append(ids, c.DocumentID)
		}
	}
	return ids
}
