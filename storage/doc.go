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


// Package storage provides the storage abstraction layer for conductor.
//
// This package defines repository interfaces that decouple storage implementation
// from the ingestion and retrieval logic. Three KnowledgeStore backends are
// provided and can be used interchangeably:
//
//   - storage/badger: embedded key-value store with brute-force vector scoring
//   - storage/chromem: embedded vector database
//   - storage/qdrant: remote Qdrant service
//
// The badger package also implements DeadLetterRepository and CacheStore.
//
// # Architecture
//
//   - KnowledgeStore: chunk and embedding persistence plus similarity queries
//   - ChunkScanner: full iteration over stored chunks, used for re-embedding
//   - DeadLetterRepository: failed ingestion batches awaiting re-drive
//   - CacheStore: response cache entries
//
// # Usage
//
//	stores, err := badger.NewMemoryStores()
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer stores.Close()
//
// # Thread Safety
//
// All implementations must be thread-safe. KnowledgeStore instances are
// long-lived and shared by every ingestion batch and retrieval request.
package storage
