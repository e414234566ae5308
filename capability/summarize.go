package capability

import (
	"context"
	"fmt"
	"strings"

	"github.com/poiesic/conductor/ai"
	"github.com/poiesic/conductor/core"
)

const summarizeSystemPrompt = `You summarize material for a teammate. Be concise and factual.
Use only the material provided. Keep chunk references in square brackets, such as [doc/00003], when you rely on them.`

// maxConversationTurns limits how much history is included in a prompt.
const maxConversationTurns = 5

// SummarizeExecutor asks a completion model to summarize upstream outputs,
// the node's "text" input and recent conversation.
type SummarizeExecutor struct {
	completer ai.Completer
	maxTokens int
}

// NewSummarizeExecutor creates a summarize executor.
func NewSummarizeExecutor(completer ai.Completer, maxTokens int) (*SummarizeExecutor, error) {
	if completer == nil {
		return nil, ErrCompleterRequired
	}
	return &SummarizeExecutor{completer: completer, maxTokens: maxTokens}, nil
}

// Capability implements Executor.
func (e *SummarizeExecutor) Capability() core.Capability { return core.CapabilitySummarize }

// Invoke implements Executor.
func (e *SummarizeExecutor) Invoke(ctx context.Context, inv *core.Invocation) (*core.Output, error) {
	text, err := e.completer.Complete(ctx, ai.CompletionRequest{
		Messages: []ai.Message{
			{Role: ai.RoleSystem, Content: summarizeSystemPrompt},
			{Role: ai.RoleUser, Content: summarizePrompt(inv)},
		},
		MaxTokens:   e.maxTokens,
		Temperature: 0.2,
	})
	if err != nil {
		return nil, err
	}
	return &core.Output{
		Text:          strings.TrimSpace(text),
		CitedChunkIDs: upstreamCitations(inv),
	}, nil
}

func summarizePrompt(inv *core.Invocation) string {
	var b strings.Builder

	turns := inv.Conversation
	if len(turns) > maxConversationTurns {
		turns = turns[len(turns)-maxConversationTurns:]
	}
	if len(turns) > 0 {
		b.WriteString("Conversation:\n")
		for _, t := range turns {
			fmt.Fprintf(&b, "User: %s\nAssistant: %s\n", t.UserMessage, t.FinalAnswer)
		}
		b.WriteString("\n")
	}

	if material := upstreamText(inv); material != "" {
		b.WriteString("Material:\n")
		b.WriteString(material)
		b.WriteString("\n\n")
	}

	request := input(inv, "text")
	if request == "" {
		request = inv.Message
	}
	b.WriteString("Request: ")
	b.WriteString(request)
	return b.String()
}
