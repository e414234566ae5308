package openai

import (
	"context"
	"log/slog"

	"github.com/poiesic/conductor/ai"
	"github.com/poiesic/conductor/core"
	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/llms/openai"
)

// Completer implements ai.Completer using OpenAI-compatible chat APIs.
type Completer struct {
	client llms.Model
	model  string
	logger *slog.Logger
}

func newCompleter(config *ai.Config, s *settings) (*Completer, error) {
	client, err := openai.New(
		openai.WithBaseURL(config.CompletionHost),
		openai.WithToken(token(config)),
		openai.WithModel(config.CompletionModel),
		openai.WithHTTPClient(s.httpClient),
	)
	if err != nil {
		return nil, err
	}

	return &Completer{
		client: client,
		model:  config.CompletionModel,
		logger: s.logger.With("component", "openai-completer"),
	}, nil
}

// NewCompleter builds a standalone completer.
func NewCompleter(config *ai.Config, opts ...Option) (ai.Completer, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}
	return newCompleter(config, newSettings(opts))
}

// Complete sends the request messages and returns the first choice.
func (c *Completer) Complete(ctx context.Context, req ai.CompletionRequest) (string, error) {
	content := make([]llms.MessageContent, 0, len(req.Messages))
	for _, m := range req.Messages {
		content = append(content, llms.MessageContent{
			Role:  chatRole(m.Role),
			Parts: []llms.ContentPart{llms.TextPart(m.Content)},
		})
	}

	model := c.model
	if req.Model != "" {
		model = req.Model
	}
	opts := []llms.CallOption{
		llms.WithModel(model),
		llms.WithTemperature(req.Temperature),
	}
	if req.MaxTokens > 0 {
		opts = append(opts, llms.WithMaxTokens(req.MaxTokens))
	}
	if req.JSON {
		opts = append(opts, llms.WithJSONMode())
	}

	response, err := c.client.GenerateContent(ctx, content, opts...)
	if err != nil {
		c.logger.Error("failed to generate content", "model", model, "err", err)
		return "", classifyError(err)
	}
	if len(response.Choices) < 1 {
		return "", ai.NewProviderError(providerName, core.ErrorKindUnavailable, errNoChoices)
	}
	return response.Choices[0].Content, nil
}

func chatRole(r ai.Role) llms.ChatMessageType {
	switch r {
	case ai.RoleSystem:
		return llms.ChatMessageTypeSystem
	case ai.RoleAssistant:
		return llms.ChatMessageTypeAI
	default:
		return llms.ChatMessageTypeHuman
	}
}
