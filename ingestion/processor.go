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


package ingestion

import (
	"sync"

	"github.com/poiesic/conductor/core"
)

// packBatches groups chunks, in order, into batches of at most size chunks.
// Batches may span documents.
func packBatches(chunks []core.Chunk, size int) [][]core.Chunk {
	if size < 1 {
		size = 1
	}
	batches := make([][]core.Chunk, 0, (len(chunks)+size-1)/size)
	for start := 0; start < len(chunks); start += size {
		end := min(start+size, len(chunks))
		batches = append(batches, chunks[start:end])
	}
	return batches
}

// splitByDocument partitions a batch into one part per owning document,
// keeping first-seen document order.
func splitByDocument(chunks []core.Chunk) [][]core.Chunk {
	index := make(map[string]int)
	var parts [][]core.Chunk
	for _, c := range chunks {
		i, ok := index[c.DocumentID]
		if !ok {
			i = len(parts)
			index[c.DocumentID] = i
			parts = append(parts, nil)
		}
		parts[i] = append(parts[i], c)
	}
	return parts
}

// tracker collects batch outcomes from concurrent workers.
type tracker struct {
	mu          sync.Mutex
	stored      map[string]int
	errs        map[string]error
	deadLetters []string
	chunks      int
}

func newTracker() *tracker {
	return &tracker{stored: make(map[string]int), errs: make(map[string]error)}
}

func (t *tracker) succeeded(chunks []core.Chunk) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for _, c := range chunks {
		t.stored[c.DocumentID]++
	}
	t.chunks += len(chunks)
}

// failed records err against every document in chunks. The first error per
// document wins.
func (t *tracker) failed(chunks []core.Chunk, err error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for _, c := range chunks {
		if _, ok := t.errs[c.DocumentID]; !ok {
			t.errs[c.DocumentID] = err
		}
	}
}

func (t *tracker) deadLettered(id string, chunks []core.Chunk, err error) {
	t.failed(chunks, err)
	t.mu.Lock()
	t.deadLetters = append(t.deadLetters, id)
	t.mu.Unlock()
}
