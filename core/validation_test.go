package core

import (
	"errors"
	"testing"
)

func TestValidateSourceDocument(t *testing.T) {
	tests := []struct {
		name    string
		doc     *SourceDocument
		wantErr error
	}{
		{
			name:    "valid document",
			doc:     &SourceDocument{ID: "doc-1", ContentType: ContentTypeMarkdown, RawText: "# Title"},
			wantErr: nil,
		},
		{
			name:    "unknown content type is still valid",
			doc:     &SourceDocument{ID: "doc-1", ContentType: "spreadsheet", RawText: "x"},
			wantErr: nil,
		},
		{
			name:    "nil document",
			doc:     nil,
			wantErr: ErrValidation,
		},
		{
			name:    "empty id",
			doc:     &SourceDocument{ID: "  ", RawText: "text"},
			wantErr: ErrEmptyDocumentID,
		},
		{
			name:    "whitespace content",
			doc:     &SourceDocument{ID: "doc-1", RawText: " \n\t"},
			wantErr: ErrEmptyContent,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateSourceDocument(tt.doc)
			if tt.wantErr == nil {
				if err != nil {
					t.Errorf("ValidateSourceDocument() unexpected error = %v", err)
				}
				return
			}
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("ValidateSourceDocument() error = %v, want %v", err, tt.wantErr)
			}
			if !errors.Is(err, ErrValidation) {
				t.Errorf("ValidateSourceDocument() error = %v, should wrap ErrValidation", err)
			}
		})
	}
}

func TestValidateIndexedChunk(t *testing.T) {
	valid := func() *IndexedChunk {
		return &IndexedChunk{
			Chunk:     Chunk{ID: "d/00000", DocumentID: "d", Text: "t"},
			Embedding: EmbeddingRecord{ChunkID: "d/00000", Vector: []float32{1}, ModelVersion: "m"},
		}
	}

	tests := []struct {
		name    string
		mutate  func(*IndexedChunk)
		wantErr error
	}{
		{"valid", func(*IndexedChunk) {}, nil},
		{"mismatched chunk id", func(r *IndexedChunk) { r.Embedding.ChunkID = "other" }, ErrEmptyChunkID},
		{"missing document", func(r *IndexedChunk) { r.Chunk.DocumentID = "" }, ErrEmptyDocumentID},
		{"empty vector", func(r *IndexedChunk) { r.Embedding.Vector = nil }, ErrEmptyVector},
		{"empty model", func(r *IndexedChunk) { r.Embedding.ModelVersion = "" }, ErrEmptyModel},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := valid()
			tt.mutate(rec)
			err := ValidateIndexedChunk(rec)
			if tt.wantErr == nil && err != nil {
				t.Errorf("unexpected error = %v", err)
			}
			if tt.wantErr != nil && !errors.Is(err, tt.wantErr) {
				t.Errorf("error = %v, want %v", err, tt.wantErr)
			}
		})
	}
}

func TestIsKnownContentType(t *testing.T) {
	for _, ct := range []ContentType{ContentTypeConversation, ContentTypeCode, ContentTypeMarkdown, ContentTypeIssue, ContentTypeTabular, ContentTypeGeneric} {
		if !IsKnownContentType(ct) {
			t.Errorf("IsKnownContentType(%q) = false", ct)
		}
	}
	if IsKnownContentType("pdf") {
		t.Errorf("IsKnownContentType(pdf) = true")
	}
}
