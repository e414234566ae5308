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


// Package ai provides abstractions for AI services used by Conductor.
//
// This package defines interfaces for text embeddings and text generation. It
// lets ingestion, retrieval, planning and the capability executors depend on
// abstractions rather than on a particular model host.
//
// # Interfaces
//
//   - Embedder: Generates vector embeddings from text and reports the model version
//   - Completer: Generates text from a list of messages
//   - AIProvider: Aggregates both for convenient initialization
//
// # Errors
//
// Implementations return *ProviderError so callers can classify failures with
// errors.Is against core.ErrProviderRateLimited, core.ErrProviderUnavailable,
// core.ErrInvalidRequest and core.ErrTimeout.
//
// # Implementation Packages
//
//   - ai/openai: Production implementation using OpenAI-compatible APIs
//   - ai/mock: Test doubles for unit testing without external dependencies
//
// Public constructors in ai/openai return interface types. Test constructors
// in ai/mock return concrete types so tests can inject behavior and inspect
// call counts.
//
// # Usage Example
//
//	provider, err := openai.NewProvider(ai.DefaultConfig())
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer provider.Close()
//
//	vec, err := provider.Embedder().EmbedText(ctx, "Hello world")
//	text, err := provider.Completer().Complete(ctx, ai.CompletionRequest{
//	    Messages: []ai.Message{{Role: ai.RoleUser, Content: "Summarize this"}},
//	})
package ai
