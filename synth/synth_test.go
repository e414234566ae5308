package synth

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

func succeeded(id core.NodeID, c core.Capability, text string, cited ...string) *core.AgentInvocationResult {
	return &core.AgentInvocationResult{
		NodeID:     id,
		Capability: c,
		Status:     core.NodeSucceeded,
		Output:     &core.Output{Text: text, CitedChunkIDs: cited},
	}
}

func TestSynthesize_SimpleRetrieval(t *testing.T) {
	plan := &core.ExecutionPlan{ID: "p", Message: "What are the open items in the report?", Nodes: []core.PlanNode{
		{ID: "n1", Capability: core.CapabilityRetrieve},
	}}
	result := &core.PlanResult{Status: core.PlanCompleted, Results: map[core.NodeID]*core.AgentInvocationResult{
		"n1": succeeded("n1", core.CapabilityRetrieve, "[report/00001] Item one is open.", "report/00001"),
	}}

	answer, err := New().Synthesize(context.Background(), plan, result)
	require.NoError(t, err)
	assert.Equal(t, "[report/00001] Item one is open.", answer.Text)
	assert.Equal(t, []string{"report/00001"}, answer.CitedChunkIDs)
	assert.False(t, answer.Degraded)
}

func TestSynthesize_TopologicalOrderNotCompletionOrder(t *testing.T) {
	plan := &core.ExecutionPlan{ID: "p", Nodes: []core.PlanNode{
		{ID: "n3", Capability: core.CapabilitySummarize, DependsOn: []core.NodeID{"n1"}},
		{ID: "n2", Capability: core.CapabilityRetrieve},
		{ID: "n1", Capability: core.CapabilityRetrieve},
	}}
	result := &core.PlanResult{Status: core.PlanCompleted, Results: map[core.NodeID]*core.AgentInvocationResult{
		"n3": succeeded("n3", core.CapabilitySummarize, "summary", "b/00000"),
		"n2": succeeded("n2", core.CapabilityRetrieve, "second", "c/00000"),
		"n1": succeeded("n1", core.CapabilityRetrieve, "first", "a/00000", "b/00000"),
	}}

	for i := 0; i < 5; i++ {
		answer, err := New().Synthesize(context.Background(), plan, result)
		require.NoError(t, err)
		assert.Equal(t, "first\n\nsecond\n\nsummary", answer.Text)
		assert.Equal(t, []string{"a/00000", "b/00000", "c/00000"}, answer.CitedChunkIDs)
	}
}

func TestSynthesize_SkippedTicketIsReported(t *testing.T) {
	plan := &core.ExecutionPlan{ID: "p", Message: "Summarize yesterday's thread, then create a ticket from it", Nodes: []core.PlanNode{
		{ID: "n1", Capability: core.CapabilitySummarize},
		{ID: "n2", Capability: core.CapabilityCreateTicket, DependsOn: []core.NodeID{"n1"}},
		{ID: "n3", Capability: core.CapabilityRetrieve},
	}}
	result := &core.PlanResult{Status: core.PlanPartiallyCompleted, Results: map[core.NodeID]*core.AgentInvocationResult{
		"n1": {NodeID: "n1", Capability: core.CapabilitySummarize, Status: core.NodeFailed, ErrorKind: core.ErrorKindUnavailable, Reason: "provider unavailable"},
		"n2": {NodeID: "n2", Capability: core.CapabilityCreateTicket, Status: core.NodeSkipped, ErrorKind: core.ErrorKindDependencyFailed, Reason: "dependency n1 failed"},
		"n3": succeeded("n3", core.CapabilityRetrieve, "[thread/00000] Deploy broke.", "thread/00000"),
	}}

	answer, err := New().Synthesize(context.Background(), plan, result)
	require.NoError(t, err)
	assert.True(t, answer.Degraded)
	assert.Equal(t, "[thread/00000] Deploy broke.\n\n"+
		"Note: the summary was not produced (n1 failed: provider unavailable).\n"+
		"Note: the ticket was not created (n2 skipped: dependency n1 failed).", answer.Text)
	assert.Equal(t, []string{"thread/00000"}, answer.CitedChunkIDs)
}

func TestSynthesize_Aborted(t *testing.T) {
	plan := &core.ExecutionPlan{ID: "p", Nodes: []core.PlanNode{
		{ID: "n1", Capability: core.CapabilityRetrieve},
		{ID: "n2", Capability: core.CapabilityPostMessage},
	}}
	result := &core.PlanResult{Status: core.PlanAborted, Results: map[core.NodeID]*core.AgentInvocationResult{
		"n1": {NodeID: "n1", Capability: core.CapabilityRetrieve, Status: core.NodeTimedOut, Err: errors.New("retrieve exceeded 30s")},
		"n2": {NodeID: "n2", Capability: core.CapabilityPostMessage, Status: core.NodeFailed, ErrorKind: core.ErrorKindInvalidRequest},
	}}

	answer, err := New().Synthesize(context.Background(), plan, result)
	require.NoError(t, err)
	assert.Equal(t, UnableToHelp+"\n\n"+
		"Note: the knowledge base search did not complete (n1 timed out: retrieve exceeded 30s).\n"+
		"Note: the message was not posted (n2 failed: invalid_request).", answer.Text)
	assert.Empty(t, answer.CitedChunkIDs)
	assert.True(t, answer.Degraded)
}

func TestSynthesize_WithCompleter(t *testing.T) {
	plan := &core.ExecutionPlan{ID: "p", Message: "how many rows are in the sheet?", Nodes: []core.PlanNode{
		{ID: "n1", Capability: core.CapabilityRetrieve},
		{ID: "n2", Capability: core.CapabilityPostMessage},
	}}
	result := &core.PlanResult{Status: core.PlanPartiallyCompleted, Results: map[core.NodeID]*core.AgentInvocationResult{
		"n1": succeeded("n1", core.CapabilityRetrieve, "[sheet/00105] Sheet1 has 105 rows and 3 columns.", "sheet/00105"),
		"n2": {NodeID: "n2", Capability: core.CapabilityPostMessage, Status: core.NodeFailed, Reason: "nats down"},
	}}

	completer := mock.NewMockCompleter()
	completer.CompleteFunc = func(ctx context.Context, req ai.CompletionRequest) (string, error) {
		return "The sheet has 105 rows [sheet/00105].", nil
	}
	answer, err := New(WithCompleter(completer, 300)).Synthesize(context.Background(), plan, result)
	require.NoError(t, err)
	assert.Equal(t, "The sheet has 105 rows [sheet/00105].\n\nNote: the message was not posted (n2 failed: nats down).", answer.Text)
	assert.Contains(t, completer.Requests()[0].Messages[1].Content, "Sheet1 has 105 rows")

	completer.CompleteFunc = func(ctx context.Context, req ai.CompletionRequest) (string, error) {
		return "", core.ErrProviderUnavailable
	}
	answer, err = New(WithCompleter(completer, 300)).Synthesize(context.Background(), plan, result)
	require.NoError(t, err)
	assert.True(t, len(answer.Text) > 0)
	assert.Contains(t, answer.Text, "Sheet1 has 105 rows and 3 columns.")
}

func TestSynthesize_Errors(t *testing.T) {
	_, err := New().Synthesize(context.Background(), nil, &core.PlanResult{})
	assert.ErrorIs(t, err, ErrPlanRequired)

	cyclic := &core.ExecutionPlan{Nodes: []core.PlanNode{
		{ID: "a", DependsOn: []core.NodeID{"b"}},
		{ID: "b", DependsOn: []core.NodeID{"a"}},
	}}
	_, err = New().Synthesize(context.Background(), cyclic, &core.PlanResult{})
	assert.ErrorIs(t, err, core.ErrPlanning)
}
