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


// Package cache memoizes final answers keyed by a normalized query
// fingerprint.
//
// Entries are never swept. A lookup that finds an expired entry reports a
// miss and leaves the entry in place; the next Put for the fingerprint
// overwrites it.
package cache

import (
	"context"
	"encoding/binary"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"slices"
	"strings"
	"time"

	"github.com/go-crypt/x/blake2b"

	"github.com/poiesic/conductor/core"
	"github.com/poiesic/conductor/storage"
)

// DefaultTTL is used when Put is called without a positive ttl.
const DefaultTTL = 10 * time.Minute

// ErrStoreRequired is returned when no CacheStore is provided.
var ErrStoreRequired = errors.New("cache store is required")

// Fingerprint hashes the lower-cased, trimmed query together with the sorted
// filter set. Runs of whitespace inside the query count as one space. Each
// component is length-prefixed.
func Fingerprint(query string, filters map[string]string) string {
	var buf []byte
	field := func(s string) {
		buf = binary.AppendUvarint(buf, uint64(len(s)))
		buf = append(buf, s...)
	}
	field(strings.Join(strings.Fields(strings.ToLower(query)), " "))

	keys := slices.Sorted(maps.Keys(filters))
	buf = binary.AppendUvarint(buf, uint64(len(keys)))
	for _, k := range keys {
		field(k)
		field(filters[k])
	}

	sum := blake2b.Sum256(buf)
	return hex.EncodeToString(sum[:])
}

// ResponseCache is a read-through answer cache over a storage.CacheStore.
type ResponseCache struct {
	store  storage.CacheStore
	ttl    time.Duration
	now    func() time.Time
	logger *slog.Logger
}

// Option configures a ResponseCache.
type Option func(*ResponseCache)

// WithDefaultTTL sets the ttl used when Put receives a non-positive ttl.
func WithDefaultTTL(ttl time.Duration) Option {
	return func(c *ResponseCache) {
		if ttl > 0 {
			c.ttl = ttl
		}
	}
}

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(c *ResponseCache) {
		if now != nil {
			c.now = now
		}
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(c *ResponseCache) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// New creates a ResponseCache.
func New(store storage.CacheStore, opts ...Option) (*ResponseCache, error) {
	if store == nil {
		return nil, ErrStoreRequired
	}
	c := &ResponseCache{
		store:  store,
		ttl:    DefaultTTL,
		now:    time.Now,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.logger = c.logger.With("component", "response-cache")
	return c, nil
}

// Get returns the servable entry for fingerprint. A missing or expired entry
// is a miss: (nil, false, nil).
func (c *ResponseCache) Get(ctx context.Context, fingerprint string) (*core.CacheEntry, bool, error) {
	entry, err := c.store.GetEntry(ctx, fingerprint)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("cache lookup: %w", err)
	}
	if entry.Expired(c.now()) {
		c.logger.Debug("cache entry expired", "fingerprint", fingerprint, "expired_at", entry.ExpiresAt)
		return nil, false, nil
	}
	return entry, true, nil
}

// Put stores answer under fingerprint for ttl, overwriting any previous
// entry, expired or not.
func (c *ResponseCache) Put(ctx context.Context, fingerprint, answer string, citedChunkIDs []string, ttl time.Duration) error {
	if fingerprint == "" {
		return fmt.Errorf("%w: fingerprint cannot be empty", core.ErrValidation)
	}
	if ttl <= 0 {
		ttl = c.ttl
	}
	entry := &core.CacheEntry{
		Fingerprint:   fingerprint,
		Answer:        answer,
		CitedChunkIDs: slices.Clone(citedChunkIDs),
		ExpiresAt:     c.now().Add(ttl),
	}
	if err := c.store.PutEntry(ctx, entry); err != nil {
		return fmt.Errorf("cache store: %w", err)
	}
	return nil
}

// Invalidate drops the entry for fingerprint.
func (c *ResponseCache) Invalidate(ctx context.Context, fingerprint string) error {
	return c.store.DeleteEntry(ctx, fingerprint)
}
