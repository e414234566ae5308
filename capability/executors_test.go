package capability

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/poiesic/conductor/ai"
	"github.com/poiesic/conductor/ai/mock"
	"github.com/poiesic/conductor/core"
)

type fakeRetriever struct {
	query   string
	k       int
	filters map[string]string
	results []*core.ScoredChunk
	err     error
}

func (f *fakeRetriever) Retrieve(ctx context.Context, query string, k int, filters map[string]string) ([]*core.ScoredChunk, error) {
	f.query, f.k, f.filters = query, k, filters
	return f.results, f.err
}

func invocation(id core.NodeID, c core.Capability, input map[string]string) *core.Invocation {
	return &core.Invocation{
		PlanID:  "plan-1",
		Message: "what is open?",
		Node:    &core.PlanNode{ID: id, Capability: c, Input: input},
	}
}

func TestRetrieveExecutor(t *testing.T) {
	f := &fakeRetriever{results: []*core.ScoredChunk{
		{Chunk: &core.Chunk{ID: "report/00001", Text: " Item one is open. "}, Score: 0.9},
		{Chunk: &core.Chunk{ID: "report/00004", Text: "Item four is blocked."}, Score: 0.5},
	}}
	exec, err := NewRetrieveExecutor(f, 0)
	require.NoError(t, err)
	assert.Equal(t, core.CapabilityRetrieve, exec.Capability())

	out, err := exec.Invoke(context.Background(), invocation("n1", core.CapabilityRetrieve, map[string]string{
		"query":             "open items",
		"k":                 "3",
		"filter.sheet_name": "Q1",
	}))
	require.NoError(t, err)
	assert.Equal(t, "open items", f.query)
	assert.Equal(t, 3, f.k)
	assert.Equal(t, map[string]string{"sheet_name": "Q1"}, f.filters)
	assert.Equal(t, "[report/00001] Item one is open.\n\n[report/00004] Item four is blocked.", out.Text)
	assert.Equal(t, []string{"report/00001", "report/00004"}, out.CitedChunkIDs)
	assert.Equal(t, "2", out.Data["count"])
}

func TestRetrieveExecutor_Defaults(t *testing.T) {
	f := &fakeRetriever{}
	exec, err := NewRetrieveExecutor(f, 0)
	require.NoError(t, err)

	out, err := exec.Invoke(context.Background(), invocation("n1", core.CapabilityRetrieve, nil))
	require.NoError(t, err)
	assert.Equal(t, "what is open?", f.query)
	assert.Equal(t, 5, f.k)
	assert.Nil(t, f.filters)
	assert.Equal(t, "No relevant context found.", out.Text)
	assert.Empty(t, out.CitedChunkIDs)
}

func TestRetrieveExecutor_Errors(t *testing.T) {
	_, err := NewRetrieveExecutor(nil, 5)
	assert.ErrorIs(t, err, ErrRetrieverRequired)

	exec, err := NewRetrieveExecutor(&fakeRetriever{}, 5)
	require.NoError(t, err)
	_, err = exec.Invoke(context.Background(), invocation("n1", core.CapabilityRetrieve, map[string]string{"k": "-1"}))
	assert.ErrorIs(t, err, core.ErrValidation)

	failing, err := NewRetrieveExecutor(&fakeRetriever{err: core.ErrProviderUnavailable}, 5)
	require.NoError(t, err)
	_, err = failing.Invoke(context.Background(), invocation("n1", core.CapabilityRetrieve, nil))
	assert.ErrorIs(t, err, core.ErrProviderUnavailable)
}

func TestSummarizeExecutor(t *testing.T) {
	completer := mock.NewMockCompleter()
	completer.CompleteFunc = func(ctx context.Context, req ai.CompletionRequest) (string, error) {
		return "  Two items are open. [report/00001]  ", nil
	}
	exec, err := NewSummarizeExecutor(completer, 256)
	require.NoError(t, err)

	inv := invocation("n2", core.CapabilitySummarize, map[string]string{"text": "summarize the report"})
	inv.Upstream = map[core.NodeID]*core.Output{
		"n1": {Text: "[report/00001] Item one is open.", CitedChunkIDs: []string{"report/00001"}},
	}
	inv.Conversation = []core.ConversationTurn{{UserMessage: "hello", FinalAnswer: "hi"}}

	out, err := exec.Invoke(context.Background(), inv)
	require.NoError(t, err)
	assert.Equal(t, "Two items are open. [report/00001]", out.Text)
	assert.Equal(t, []string{"report/00001"}, out.CitedChunkIDs)

	req := completer.Requests()[0]
	assert.Equal(t, 256, req.MaxTokens)
	prompt := req.Messages[1].Content
	assert.Contains(t, prompt, "User: hello")
	assert.Contains(t, prompt, "Material:\n[report/00001] Item one is open.")
	assert.Contains(t, prompt, "Request: summarize the report")
}

func TestSummarizeExecutor_ProviderError(t *testing.T) {
	completer := mock.NewMockCompleter()
	completer.CompleteFunc = func(ctx context.Context, req ai.CompletionRequest) (string, error) {
		return "", ai.NewProviderError("test", core.ErrorKindRateLimited, errors.New("429"))
	}
	exec, err := NewSummarizeExecutor(completer, 0)
	require.NoError(t, err)

	_, err = exec.Invoke(context.Background(), invocation("n1", core.CapabilitySummarize, nil))
	assert.ErrorIs(t, err, core.ErrProviderRateLimited)

	_, err = NewSummarizeExecutor(nil, 0)
	assert.ErrorIs(t, err, ErrCompleterRequired)
}

func TestUpstreamHelpers(t *testing.T) {
	inv := &core.Invocation{Upstream: map[core.NodeID]*core.Output{
		"n3": {Text: "third", CitedChunkIDs: []string{"b", "a"}},
		"n1": {Text: "first", CitedChunkIDs: []string{"a"}},
		"n2": {Text: "  "},
	}}
	assert.Equal(t, "first\n\nthird", upstreamText(inv))
	assert.Equal(t, []string{"a", "b"}, upstreamCitations(inv))
}

func TestTicketTitle(t *testing.T) {
	long := "This title is definitely much longer than eighty characters and so it has to be cut down"
	tests := []struct {
		name       string
		candidates []string
		want       string
	}{
		{"explicit title", []string{"Fix login", "ignored"}, "Fix login"},
		{"first line", []string{"", "Login broken\nmore details"}, "Login broken"},
		{"truncated", []string{long}, "This title is definitely much longer than eighty characters and so it has to be…"},
		{"fallback", []string{" ", ""}, "New ticket"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ticketTitle(tt.candidates...))
		})
	}
}
