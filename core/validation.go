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


package core

import (
	"fmt"
	"strings"
)

// ValidateSourceDocument validates a SourceDocument according to domain rules.
//
// Validation rules:
//   - ID must not be empty
//   - RawText must contain something other than whitespace
//
// NOT validated:
//   - ContentType (unknown types fall back to generic chunking)
func ValidateSourceDocument(doc *SourceDocument) error {
	if doc == nil {
		return fmt.Errorf("%w: document is nil", ErrValidation)
	}
	if strings.TrimSpace(doc.ID) == "" {
		return fmt.Errorf("%w: %w", ErrValidation, ErrEmptyDocumentID)
	}
	if strings.TrimSpace(doc.RawText) == "" {
		return fmt.Errorf("%w: %w", ErrValidation, ErrEmptyContent)
	}
	return nil
}

// ValidateIndexedChunk validates a record before it is written to a store.
func ValidateIndexedChunk(rec *IndexedChunk) error {
	if rec == nil {
		return fmt.Errorf("%w: record is nil", ErrValidation)
	}
	if rec.Chunk.ID == "" || rec.Embedding.ChunkID != rec.Chunk.ID {
		return fmt.Errorf("%w: %w", ErrValidation, ErrEmptyChunkID)
	}
	if rec.Chunk.DocumentID == "" {
		return fmt.Errorf("%w: %w", ErrValidation, ErrEmptyDocumentID)
	}
	if len(rec.Embedding.Vector) == 0 {
		return fmt.Errorf("%w: %w", ErrValidation, ErrEmptyVector)
	}
	if rec.Embedding.ModelVersion == "" {
		return fmt.Errorf("%w: %w", ErrValidation, ErrEmptyModel)
	}
	return nil
}

// IsKnownContentType reports whether ct names a chunking strategy.
func IsKnownContentType(ct ContentType) bool {
	switch ct {
	case ContentTypeConversation, ContentTypeCode, ContentTypeMarkdown,
		ContentTypeIssue, ContentTypeTabular, ContentTypeGeneric:
		return true
	}
	return false
}
