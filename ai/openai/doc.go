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


// Package openai serves embeddings and completions from OpenAI-compatible
// hosts (OpenAI, Ollama, vLLM, LocalAI) through langchaingo.
//
// Embedder and Completer share one HTTP client per Provider. Failures come
// back as *ai.ProviderError so the ingestion retry policy can tell a 429 or
// an outage from a request the host will never accept.
//
//	cfg := ai.NewConfig(ai.WithHost("http://localhost:11434"))
//	provider, err := openai.NewProvider(cfg, openai.WithLogger(logger))
//	if err != nil {
//	    return err
//	}
//	defer provider.Close()
//
//	vectors, err := provider.Embedder().EmbedTexts(ctx, []string{"deploys go out on tuesday"})
package openai
