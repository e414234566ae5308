package openai

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/poiesic/conductor/ai"
	"github.com/poiesic/conductor/core"
	"github.com/tmc/langchaingo/embeddings"
	"github.com/tmc/langchaingo/llms/openai"
)

// Embedder implements ai.Embedder using OpenAI-compatible embedding APIs.
type Embedder struct {
	embedder embeddings.Embedder
	model    string
	logger   *slog.Logger
}

func newEmbedder(config *ai.Config, s *settings) (*Embedder, error) {
	client, err := openai.New(
		openai.WithBaseURL(config.EmbeddingHost),
		openai.WithToken(token(config)),
		openai.WithEmbeddingModel(config.EmbeddingModel),
		openai.WithHTTPClient(s.httpClient),
	)
	if err != nil {
		return nil, err
	}

	embedder, err := embeddings.NewEmbedder(client, embeddings.WithStripNewLines(true))
	if err != nil {
		return nil, err
	}

	return &Embedder{
		embedder: embedder,
		model:    config.EmbeddingModel,
		logger:   s.logger.With("component", "openai-embedder", "model", config.EmbeddingModel),
	}, nil
}

// NewEmbedder builds a standalone embedder, as used when re-embedding under
// a model other than the provider's.
func NewEmbedder(config *ai.Config, opts ...Option) (ai.Embedder, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}
	return newEmbedder(config, newSettings(opts))
}

// ModelVersion returns the configured embedding model name.
func (e *Embedder) ModelVersion() string {
	return e.model
}

// EmbedText generates a vector embedding for a single text string.
func (e *Embedder) EmbedText(ctx context.Context, text string) ([]float32, error) {
	vectors, err := e.EmbedTexts(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vectors[0], nil
}

// EmbedTexts generates vector embeddings for multiple text strings in a batch.
func (e *Embedder) EmbedTexts(ctx context.Context, texts []string) ([][]float32, error) {
	e.logger.Debug("generating embeddings for texts", "count", len(texts))

	vectors, err := e.embedder.EmbedDocuments(ctx, texts)
	if err != nil {
		e.logger.Error("failed to generate embeddings", "count", len(texts), "err", err)
		return nil, classifyError(err)
	}
	if len(vectors) != len(texts) {
		return nil, ai.NewProviderError(providerName, core.ErrorKindInternal,
			fmt.Errorf("embedder returned %d vectors for %d texts", len(vectors), len(texts)))
	}

	return vectors, nil
}

func token(config *ai.Config) string {
	// Local OpenAI-compatible services accept any token.
	if config.APIKey == "" {
		return "none"
	}
	return config.APIKey
}
