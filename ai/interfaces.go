package ai

import "context"

// Embedder generates vector embeddings from text for semantic similarity search.
// Implementations must be thread-safe for concurrent use.
type Embedder interface {
	// EmbedText generates a vector embedding for a single text string.
	EmbedText(ctx context.Context, text string) ([]float32, error)

	// EmbedTexts generates vector embeddings for multiple text strings in a batch.
	// The returned slice contains embeddings in the same order as the input texts.
	// Either every text is embedded or an error is returned.
	EmbedTexts(ctx context.Context, texts []string) ([][]float32, error)

	// ModelVersion identifies the model that produced the vectors. Vectors
	// from different model versions are never compared with each other.
	ModelVersion() string
}

// Role is the author of a completion message.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Message is one turn of a completion prompt.
type Message struct {
	Role    Role
	Content string
}

// CompletionRequest describes a single text generation call.
type CompletionRequest struct {
	Messages []Message

	// Model overrides the provider's default completion model when set.
	Model string

	MaxTokens   int
	Temperature float64

	// JSON asks the model to answer with a JSON document.
	JSON bool
}

// Completer generates text from a prompt.
// Implementations must be thread-safe for concurrent use.
type Completer interface {
	Complete(ctx context.Context, req CompletionRequest) (string, error)
}

// AIProvider aggregates AI services for convenient initialization and lifecycle management.
type AIProvider interface {
	// Embedder returns the text embedding service.
	Embedder() Embedder

	// Completer returns the text generation service.
	Completer() Completer

	// Close releases resources held by the provider and its services.
	// After Close is called, the provider and its services should not be used.
	Close() error
}
