// Copyright 2025 Poiesic Systems
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.


// Package chunking splits source documents into content-aware chunks.
//
// The Router selects a strategy from the document's content type:
//
//   - conversation: sliding windows of message lines
//   - code, markdown, generic: size-bounded recursive splitting at structural boundaries
//   - issue: one chunk per issue thread, split only between comments
//   - tabular: one chunk per row plus a synthetic summary chunk per table
//
// Text-derived chunks record start_offset and end_offset metadata such that
// chunk.Text == raw_text[start_offset:end_offset].
package chunking

import (
	"log/slog"
	"maps"
	"strconv"

	"github.com/poiesic/conductor/core"
)

// Default sizes, in bytes of raw text.
const (
	DefaultMinSize            = 800
	DefaultTargetSize         = 1000
	DefaultMaxSize            = 1200
	DefaultOverlap            = 150
	DefaultConversationWindow = 10
	DefaultConversationStep   = 2
	DefaultIssueCeiling       = 4000
)

// segment is a strategy's output before ids and shared metadata are assigned.
// start is negative for synthesized text that has no span in the raw document.
type segment struct {
	text       string
	start, end int
	meta       map[string]string
}

// Router splits documents into chunks according to their content type.
// A Router is immutable after construction and safe for concurrent use.
type Router struct {
	minSize    int
	targetSize int
	maxSize    int
	overlap    int

	convWindow  int
	convOverlap int

	issueCeiling int

	logger *slog.Logger
}

// Option configures a Router.
type Option func(*Router)

// WithTextSizes sets the recursive splitter bounds. Invalid combinations are ignored.
func WithTextSizes(minSize, targetSize, maxSize, overlap int) Option {
	return func(r *Router) {
		if minSize <= 0 || minSize > targetSize || targetSize > maxSize || overlap < 0 || overlap >= minSize {
			return
		}
		r.minSize, r.targetSize, r.maxSize, r.overlap = minSize, targetSize, maxSize, overlap
	}
}

// WithConversationWindow sets the number of message units per chunk and how
// many units consecutive windows share.
func WithConversationWindow(window, overlap int) Option {
	return func(r *Router) {
		if window > 0 && overlap >= 0 && overlap < window {
			r.convWindow, r.convOverlap = window, overlap
		}
	}
}

// WithIssueCeiling sets the size above which an issue thread is split between comments.
func WithIssueCeiling(size int) Option {
	return func(r *Router) {
		if size > 0 {
			r.issueCeiling = size
		}
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(r *Router) {
		if logger != nil {
			r.logger = logger
		}
	}
}

// NewRouter creates a Router with default sizes.
func NewRouter(opts ...Option) *Router {
	r := &Router{
		minSize:      DefaultMinSize,
		targetSize:   DefaultTargetSize,
		maxSize:      DefaultMaxSize,
		overlap:      DefaultOverlap,
		convWindow:   DefaultConversationWindow,
		convOverlap:  DefaultConversationStep,
		issueCeiling: DefaultIssueCeiling,
		logger:       slog.Default(),
	}
	for _, opt := range opts {
		opt(r)
	}
	r.logger = r.logger.With("component", "chunk-router")
	return r
}

// Route splits doc into chunks in order. Unknown content types use the
// generic strategy. A document without content yields no chunks.
func (r *Router) Route(doc *core.SourceDocument) []core.Chunk {
	if doc == nil || isBlank(doc.RawText) {
		return nil
	}

	var segments []segment
	switch doc.ContentType {
	case core.ContentTypeConversation:
		segments = r.splitConversation(doc.RawText)
	case core.ContentTypeIssue:
		segments = r.splitIssues(doc.RawText)
	case core.ContentTypeTabular:
		var err error
		segments, err = r.splitTabular(doc.RawText, doc.Metadata)
		if err != nil {
			r.logger.Warn("tabular parse failed, using generic splitting", "document_id", doc.ID, "err", err)
			segments = r.splitText(doc.RawText, core.ContentTypeGeneric)
		}
	case core.ContentTypeCode, core.ContentTypeMarkdown:
		segments = r.splitText(doc.RawText, doc.ContentType)
	default:
		segments = r.splitText(doc.RawText, core.ContentTypeGeneric)
	}

	chunks := make([]core.Chunk, 0, len(segments))
	for i, seg := range segments {
		meta := make(map[string]string, len(doc.Metadata)+len(seg.meta)+4)
		maps.Copy(meta, doc.Metadata)
		maps.Copy(meta, seg.meta)
		meta[core.MetaDocumentID] = doc.ID
		meta[core.MetaContentType] = string(effectiveType(doc.ContentType))
		if seg.start >= 0 {
			meta[core.MetaStartOffset] = strconv.Itoa(seg.start)
			meta[core.MetaEndOffset] = strconv.Itoa(seg.end)
		}
		chunks = append(chunks, core.Chunk{
			ID:         core.ChunkID(doc.ID, i),
			DocumentID: doc.ID,
			Text:       seg.text,
			OrderIndex: i,
			Metadata:   meta,
		})
	}

	r.logger.Debug("routed document", "document_id", doc.ID, "content_type", doc.ContentType, "chunks", len(chunks))
	return chunks
}

func effectiveType(ct core.ContentType) core.ContentType {
	if core.IsKnownContentType(ct) {
		return ct
	}
	return core.ContentTypeGeneric
}

func isBlank(s string) bool {
	for i := 0; i < len(s); i++ {
		switch s[i] {
		case ' ', '\t', '\n', '\r':
		default:
			return false
		}
	}
	return true
}
