package openai

import (
	"context"
	"errors"
	"net"

	"github.com/poiesic/conductor/ai"
	"github.com/poiesic/conductor/core"
	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/llms/openai"
)

const providerName = "openai"

var errNoChoices = errors.New("model returned no choices")

// classifyError maps a langchaingo error onto the ai error taxonomy.
func classifyError(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.Canceled) {
		return err
	}
	mapped := openai.MapError(err)
	switch {
	case errors.Is(err, context.DeadlineExceeded), llms.IsTimeoutError(mapped):
		return ai.NewProviderError(providerName, core.ErrorKindTimeout, err)
	case llms.IsRateLimitError(mapped), llms.IsQuotaExceededError(mapped):
		return ai.NewProviderError(providerName, core.ErrorKindRateLimited, err)
	case llms.IsProviderUnavailableError(mapped):
		return ai.NewProviderError(providerName, core.ErrorKindUnavailable, err)
	case llms.IsInvalidRequestError(mapped), llms.IsTokenLimitError(mapped),
		llms.IsContentFilterError(mapped), llms.IsAuthenticationError(mapped):
		return ai.NewProviderError(providerName, core.ErrorKindInvalidRequest, err)
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return ai.NewProviderError(providerName, core.ErrorKindUnavailable, err)
	}
	return ai.NewProviderError(providerName, core.ErrorKindInternal, err)
}
