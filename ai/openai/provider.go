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


package openai

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/poiesic/conductor/ai"
)

// DefaultRequestTimeout bounds a single embedding or completion HTTP call.
const DefaultRequestTimeout = 2 * time.Minute

// Option configures the HTTP client and logger shared by a Provider's
// embedder and completer.
type Option func(*settings)

type settings struct {
	httpClient *http.Client
	logger     *slog.Logger
}

// WithHTTPClient sends every request through client.
func WithHTTPClient(client *http.Client) Option {
	return func(s *settings) {
		if client != nil {
			s.httpClient = client
		}
	}
}

// WithLogger sets the logger. Default is slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(s *settings) {
		if logger != nil {
			s.logger = logger
		}
	}
}

func newSettings(opts []Option) *settings {
	s := &settings{
		httpClient: &http.Client{Timeout: DefaultRequestTimeout},
		logger:     slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Provider serves embeddings and completions from OpenAI-compatible hosts.
// Both share one HTTP client so connection reuse spans ingestion and
// planning traffic.
type Provider struct {
	embedder   *Embedder
	completer  *Completer
	httpClient *http.Client
	logger     *slog.Logger
}

// NewProvider validates config and builds the embedder and completer.
func NewProvider(config *ai.Config, opts ...Option) (ai.AIProvider, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}
	s := newSettings(opts)

	embedder, err := newEmbedder(config, s)
	if err != nil {
		return nil, err
	}
	completer, err := newCompleter(config, s)
	if err != nil {
		return nil, err
	}

	logger := s.logger.With("component", "openai-provider")
	logger.Debug("provider ready",
		"embedding_host", config.EmbeddingHost,
		"embedding_model", config.EmbeddingModel,
		"completion_host", config.CompletionHost,
		"completion_model", config.CompletionModel)

	return &Provider{
		embedder:   embedder,
		completer:  completer,
		httpClient: s.httpClient,
		logger:     logger,
	}, nil
}

// Embedder returns the text embedding service.
func (p *Provider) Embedder() ai.Embedder {
	return p.embedder
}

// Completer returns the text generation service.
func (p *Provider) Completer() ai.Completer {
	return p.completer
}

// Close drops idle connections of the shared HTTP client.
func (p *Provider) Close() error {
	p.httpClient.CloseIdleConnections()
	p.logger.Debug("provider closed")
	return nil
}
