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


package mock

import (
	"sync/atomic"

	"github.com/poiesic/conductor/ai"
)

// MockProvider pairs a MockEmbedder with a MockCompleter and records Close.
type MockProvider struct {
	embedder  *MockEmbedder
	completer *MockCompleter
	closed    atomic.Int32

	// CloseErr is returned by Close when set.
	CloseErr error
}

// NewMockProvider returns a provider with default mock services.
// Type-assert to *MockProvider to reach the concrete services.
func NewMockProvider() ai.AIProvider {
	return NewMockProviderWithServices(nil, nil)
}

// NewMockProviderWithServices uses the given services. A nil service is
// replaced by its default mock.
func NewMockProviderWithServices(embedder *MockEmbedder, completer *MockCompleter) ai.AIProvider {
	if embedder == nil {
		embedder = NewMockEmbedder()
	}
	if completer == nil {
		completer = NewMockCompleter()
	}
	return &MockProvider{
		embedder:  embedder,
		completer: completer,
	}
}

// Embedder returns the mock embedder.
func (p *MockProvider) Embedder() ai.Embedder {
	return p.embedder
}

// Completer returns the mock completer.
func (p *MockProvider) Completer() ai.Completer {
	return p.completer
}

// Close counts the call and returns CloseErr.
func (p *MockProvider) Close() error {
	p.closed.Add(1)
	return p.CloseErr
}

// CloseCalls reports how many times Close ran.
func (p *MockProvider) CloseCalls() int {
	return int(p.closed.Load())
}

// GetMockEmbedder returns the underlying mock embedder for test assertions.
func (p *MockProvider) GetMockEmbedder() *MockEmbedder {
	return p.embedder
}

// GetMockCompleter returns the underlying mock completer for test assertions.
func (p *MockProvider) GetMockCompleter() *MockCompleter {
	return p.completer
}
