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


package badger

// Stores bundles every badger-backed repository sharing one backend.
type Stores struct {
	Backend     *Backend
	Knowledge   *KnowledgeStore
	DeadLetters *DeadLetterRepository
	Cache       *CacheStore
}

// OpenStores opens a backend at path and builds every repository on it.
func OpenStores(path string, inMemory bool, opts ...BackendOption) (*Stores, error) {
	backend, err := OpenBackend(path, inMemory, opts...)
	if err != nil {
		return nil, err
	}
	return &Stores{
		Backend:     backend,
		Knowledge:   NewKnowledgeStore(backend),
		DeadLetters: NewDeadLetterRepository(backend),
		Cache:       NewCacheStore(backend),
	}, nil
}

// NewMemoryStores creates in-memory repositories for testing.
// Caller must Close the returned Stores when done.
func NewMemoryStores() (*Stores, error) {
	return OpenStores("", true)
}

// Close closes the shared backend.
func (s *Stores) Close() error {
	return s.Backend.Close()
}
