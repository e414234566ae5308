package badger

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	badgerdb "github.com/dgraph-io/badger/v4"
	"github.com/dgraph-io/badger/v4/options"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/poiesic/conductor/core"
	"github.com/poiesic/conductor/storage"
)

func TestOpenBackend_InMemory(t *testing.T) {
	backend, err := OpenBackend("", true)
	require.NoError(t, err)
	require.NotNil(t, backend)
	defer backend.Close()

	assert.False(t, backend.IsClosed())
}

func TestOpenBackend_FileSystem(t *testing.T) {
	tmpDir := t.TempDir() + "/db"
	backend, err := OpenBackend(tmpDir, false)
	require.NoError(t, err)
	require.NotNil(t, backend)
	defer backend.Close()

	assert.False(t, backend.IsClosed())
	assert.DirExists(t, tmpDir)
}

func TestOpenBackend_BadPath(t *testing.T) {
	t.Run("empty path on disk", func(t *testing.T) {
		_, err := OpenBackend("", false)
		assert.ErrorIs(t, err, core.ErrValidation)
	})

	t.Run("path is a file", func(t *testing.T) {
		file := filepath.Join(t.TempDir(), "db")
		require.NoError(t, os.WriteFile(file, []byte("x"), 0o600))
		_, err := OpenBackend(file, false)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "not a directory")
	})
}

func TestBackendClose(t *testing.T) {
	backend, err := OpenBackend("", true, WithBackendLogger(slog.Default()), WithCompression(options.Snappy))
	require.NoError(t, err)

	assert.False(t, backend.IsClosed())
	require.NoError(t, backend.Close())
	assert.True(t, backend.IsClosed())

	err = backend.WithTx(func(*badgerdb.Txn) error { return nil }, false)
	assert.ErrorIs(t, err, storage.ErrStorageClosed)
}

func TestBackend_CollectGarbage(t *testing.T) {
	t.Run("in memory is a no-op", func(t *testing.T) {
		backend, err := OpenBackend("", true)
		require.NoError(t, err)
		defer backend.Close()

		n, err := backend.CollectGarbage(DefaultGCDiscardRatio)
		require.NoError(t, err)
		assert.Zero(t, n)
	})

	t.Run("fresh database has nothing to rewrite", func(t *testing.T) {
		backend, err := OpenBackend(t.TempDir(), false)
		require.NoError(t, err)
		defer backend.Close()

		n, err := backend.CollectGarbage(DefaultGCDiscardRatio)
		require.NoError(t, err)
		assert.Zero(t, n)
	})

	t.Run("closed", func(t *testing.T) {
		backend, err := OpenBackend(t.TempDir(), false)
		require.NoError(t, err)
		require.NoError(t, backend.Close())

		_, err = backend.CollectGarbage(DefaultGCDiscardRatio)
		assert.ErrorIs(t, err, storage.ErrStorageClosed)
	})
}

func TestDocChunkKeyRoundTrip(t *testing.T) {
	tests := []struct {
		doc   string
		order int
	}{
		{"doc", 0},
		{"a:b", 42},
		{"notes/2024", 12345},
	}
	for _, tt := range tests {
		key := makeDocChunkKey(tt.doc, tt.order)
		assert.True(t, len(key) > len(makeDocPrefix(tt.doc)))
		order, err := parseDocChunkOrder(key)
		require.NoError(t, err)
		assert.Equal(t, tt.order, order)
	}

	// One document id is never the index prefix of another.
	assert.NotContains(t, string(makeDocChunkKey("ab", 1)), string(makeDocPrefix("a")))
}

func TestStores(t *testing.T) {
	stores, err := NewMemoryStores()
	require.NoError(t, err)
	require.NotNil(t, stores.Knowledge)
	require.NotNil(t, stores.DeadLetters)
	require.NotNil(t, stores.Cache)

	require.NoError(t, stores.Close())
	_, err = stores.Knowledge.Query(context.Background(), queryFor([]float32{1}, 1))
	assert.Error(t, err)
}
