package ai

import (
	"fmt"
	"testing"

	"github.com/poiesic/conductor/core"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	assert.NotNil(t, cfg)
	assert.Equal(t, "http://localhost:11434/v1", cfg.EmbeddingHost)
	assert.Equal(t, "http://localhost:11434/v1", cfg.CompletionHost)
	assert.Equal(t, "embeddinggemma", cfg.EmbeddingModel)
	assert.Equal(t, "qwen2.5:3b", cfg.CompletionModel)
}

func TestNewConfig(t *testing.T) {
	t.Run("with custom host", func(t *testing.T) {
		cfg := NewConfig(WithHost("http://custom:8080/v1"))

		assert.Equal(t, "http://custom:8080/v1", cfg.EmbeddingHost)
		assert.Equal(t, "http://custom:8080/v1", cfg.CompletionHost)
	})

	t.Run("with separate hosts", func(t *testing.T) {
		cfg := NewConfig(
			WithEmbeddingHost("http://embed:8080/v1"),
			WithCompletionHost("http://complete:9090/v1"),
		)

		assert.Equal(t, "http://embed:8080/v1", cfg.EmbeddingHost)
		assert.Equal(t, "http://complete:9090/v1", cfg.CompletionHost)
	})

	t.Run("with custom models and key", func(t *testing.T) {
		cfg := NewConfig(
			WithEmbeddingModel("text-embedding-3-small"),
			WithCompletionModel("gpt-4o-mini"),
			WithAPIKey("sk-test"),
		)

		assert.Equal(t, "text-embedding-3-small", cfg.EmbeddingModel)
		assert.Equal(t, "gpt-4o-mini", cfg.CompletionModel)
		assert.Equal(t, "sk-test", cfg.APIKey)
	})
}

func TestConfigNormalize(t *testing.T) {
	tests := []struct {
		name     string
		host     string
		expected string
	}{
		{"already has /v1", "http://localhost:11434/v1", "http://localhost:11434/v1"},
		{"missing /v1", "http://localhost:11434", "http://localhost:11434/v1"},
		{"has trailing slash", "http://localhost:11434/", "http://localhost:11434/v1"},
		{"empty host", "", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := &Config{EmbeddingHost: tt.host, CompletionHost: tt.host}
			cfg.Normalize()

			assert.Equal(t, tt.expected, cfg.EmbeddingHost)
			assert.Equal(t, tt.expected, cfg.CompletionHost)
		})
	}
}

func TestConfigValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{"valid config", func(*Config) {}, ""},
		{"missing embedding host", func(c *Config) { c.EmbeddingHost = "" }, "EmbeddingHost"},
		{"missing completion host", func(c *Config) { c.CompletionHost = "" }, "CompletionHost"},
		{"missing embedding model", func(c *Config) { c.EmbeddingModel = "" }, "EmbeddingModel"},
		{"missing completion model", func(c *Config) { c.CompletionModel = "" }, "CompletionModel"},
		{"host without scheme", func(c *Config) { c.EmbeddingHost = "localhost:11434" }, "EmbeddingHost must be an http or https URL"},
		{"ftp host", func(c *Config) { c.CompletionHost = "ftp://models.internal" }, "CompletionHost must be"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			assert.ErrorIs(t, err, core.ErrValidation)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}

	t.Run("reports every problem", func(t *testing.T) {
		err := (&Config{}).Validate()
		require.Error(t, err)
		for _, field := range []string{"EmbeddingHost", "CompletionHost", "EmbeddingModel", "CompletionModel"} {
			assert.Contains(t, err.Error(), field+" is required")
		}
	})
}

func TestProviderErrorIs(t *testing.T) {
	tests := []struct {
		kind   core.ErrorKind
		target error
	}{
		{core.ErrorKindRateLimited, core.ErrProviderRateLimited},
		{core.ErrorKindUnavailable, core.ErrProviderUnavailable},
		{core.ErrorKindInvalidRequest, core.ErrInvalidRequest},
		{core.ErrorKindTimeout, core.ErrTimeout},
	}
	for _, tt := range tests {
		t.Run(string(tt.kind), func(t *testing.T) {
			err := fmt.Errorf("embed batch: %w", NewProviderError("openai", tt.kind, fmt.Errorf("upstream said no")))
			assert.ErrorIs(t, err, tt.target)
			assert.Equal(t, tt.kind, core.KindOf(err))
		})
	}

	err := NewProviderError("openai", core.ErrorKindInternal, fmt.Errorf("boom"))
	assert.False(t, core.IsTransient(err))
	assert.Contains(t, err.Error(), "openai")
}
