package storage

import (
	"testing"

	"github.com/poiesic/conductor/core"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMarshalUnmarshalChunk(t *testing.T) {
	chunk := &core.Chunk{
		ID:         core.ChunkID("notes", 7),
		DocumentID: "notes",
		Text:       "## Deploy\nRun the pipeline.",
		OrderIndex: 7,
		Metadata:   map[string]string{core.MetaContentType: "markdown"},
	}

	decoded, err := UnmarshalChunk(MarshalChunk(chunk))
	require.NoError(t, err)
	assert.Equal(t, chunk, decoded)
}

func TestUnmarshal_InvalidData(t *testing.T) {
	tests := []struct {
		name string
		data []byte
	}{
		{"nil data", nil},
		{"empty data", []byte{}},
		{"truncated length", []byte{0x10, 'a'}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := UnmarshalChunk(tt.data)
			assert.ErrorIs(t, err, ErrSerializationFailed)

			_, err = UnmarshalDeadLetter(tt.data)
			assert.ErrorIs(t, err, ErrSerializationFailed)

			_, err = UnmarshalCacheEntry(tt.data)
			assert.ErrorIs(t, err, ErrSerializationFailed)

			_, err = UnmarshalEmbeddingRecord(tt.data)
			assert.ErrorIs(t, err, ErrSerializationFailed)
		})
	}
}

func TestMarshalUnmarshalDeadLetter(t *testing.T) {
	dl := &core.DeadLetter{
		ID:           "dl-1",
		Chunks:       []core.Chunk{{ID: "a/00000", DocumentID: "a", Text: "x"}},
		ModelVersion: "m",
		Reason:       "unavailable",
		Attempts:     5,
	}
	decoded, err := UnmarshalDeadLetter(MarshalDeadLetter(dl))
	require.NoError(t, err)
	assert.Equal(t, dl, decoded)
}
