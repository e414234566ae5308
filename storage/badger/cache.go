package badger

import (
	"context"
	"errors"

	"github.com/dgraph-io/badger/v4"
	"github.com/poiesic/conductor/core"
	"github.com/poiesic/conductor/storage"
)

// CacheStore implements storage.CacheStore for BadgerDB. Expired entries stay
// on disk until the next put for the same fingerprint replaces them.
type CacheStore struct {
	backend *Backend
}

var _ storage.CacheStore = (*CacheStore)(nil)

// NewCacheStore creates a new CacheStore.
func NewCacheStore(backend *Backend) *CacheStore {
	return &CacheStore{backend: backend}
}

// GetEntry returns the entry for fingerprint or storage.ErrNotFound.
func (c *CacheStore) GetEntry(ctx context.Context, fingerprint string) (*core.CacheEntry, error) {
	var entry *core.CacheEntry
	err := c.backend.WithTx(func(tx *badger.Txn) error {
		item, err := tx.Get(makeCacheKey(fingerprint))
		if errors.Is(err, badger.ErrKeyNotFound) {
			return storage.ErrNotFound
		}
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			entry, err = storage.UnmarshalCacheEntry(val)
			return err
		})
	}, false)
	return entry, err
}

// PutEntry saves entry, replacing any previous entry for the fingerprint.
func (c *CacheStore) PutEntry(ctx context.Context, entry *core.CacheEntry) error {
	return c.backend.WithTx(func(tx *badger.Txn) error {
		if err := tx.Set(makeCacheKey(entry.Fingerprint), storage.MarshalCacheEntry(entry)); err != nil {
			return err
		}
		return tx.Commit()
	}, true)
}

// DeleteEntry removes the entry for fingerprint.
func (c *CacheStore) DeleteEntry(ctx context.Context, fingerprint string) error {
	return c.backend.WithTx(func(tx *badger.Txn) error {
		if err := tx.Delete(makeCacheKey(fingerprint)); err != nil {
			return err
		}
		return tx.Commit()
	}, true)
}
