package planner

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/poiesic/conductor/ai"
	"github.com/poiesic/conductor/ai/mock"
	"github.com/poiesic/conductor/core"
)

func fixedID() string { return "plan-1" }

func capabilities(p *core.ExecutionPlan) []core.Capability {
	out := make([]core.Capability, len(p.Nodes))
	for i, n := range p.Nodes {
		out[i] = n.Capability
	}
	return out
}

func TestRulePlanner(t *testing.T) {
	tests := []struct {
		name    string
		message string
		want    []core.Capability
		edges   []core.Edge
	}{
		{
			name:    "informational question",
			message: "What are the open items in the report?",
			want:    []core.Capability{core.CapabilityRetrieve},
		},
		{
			name:    "tabular aggregate question",
			message: "how many rows are in the sheet?",
			want:    []core.Capability{core.CapabilityRetrieve},
		},
		{
			name:    "sequential action",
			message: "Summarize yesterday's thread, then create a ticket from it",
			want:    []core.Capability{core.CapabilitySummarize, core.CapabilityCreateTicket},
			edges:   []core.Edge{{From: "n01", To: "n02"}},
		},
		{
			name:    "based on runs the basis first",
			message: "Create a ticket based on the latest incident notes",
			want:    []core.Capability{core.CapabilityRetrieve, core.CapabilityCreateTicket},
			edges:   []core.Edge{{From: "n01", To: "n02"}},
		},
		{
			name:    "after runs the later clause first",
			message: "Post a message to the team after you summarize the outage",
			want:    []core.Capability{core.CapabilitySummarize, core.CapabilityPostMessage},
			edges:   []core.Edge{{From: "n01", To: "n02"}},
		},
		{
			name:    "single action gets optional retrieve context",
			message: "Create a ticket for the login timeout on Safari",
			want:    []core.Capability{core.CapabilityRetrieve, core.CapabilityCreateTicket},
			edges:   []core.Edge{{From: "n01", To: "n02", Optional: true}},
		},
		{
			name:    "several actions share one retrieve",
			message: "Summarize the incident and post it to the channel",
			want:    []core.Capability{core.CapabilityRetrieve, core.CapabilityPostMessage, core.CapabilitySummarize},
			edges: []core.Edge{
				{From: "n01", To: "n02", Optional: true},
				{From: "n01", To: "n03", Optional: true},
			},
		},
		{
			name:    "status request fans out",
			message: "Give me a status report on billing, auth and search",
			want: []core.Capability{
				core.CapabilityRetrieve, core.CapabilityRetrieve, core.CapabilityRetrieve, core.CapabilitySummarize,
			},
		},
		{
			name:    "temporal after without action stays informational",
			message: "What happened after the deploy?",
			want:    []core.Capability{core.CapabilityRetrieve},
		},
		{
			name:    "question about open issues",
			message: "What are the open issues in the tracker?",
			want:    []core.Capability{core.CapabilityRetrieve},
		},
		{
			name:    "yes-no question mentioning a bug",
			message: "Is there an open bug about login?",
			want:    []core.Capability{core.CapabilityRetrieve},
		},
		{
			name:    "log as a noun",
			message: "Show me the log for issue 42",
			want:    []core.Capability{core.CapabilityRetrieve},
		},
		{
			name:    "how-to question with an action verb",
			message: "How do I send an email from the app?",
			want:    []core.Capability{core.CapabilityRetrieve},
		},
		{
			name:    "verb mid-clause is not a request",
			message: "The alert will ping whoever is on call",
			want:    []core.Capability{core.CapabilityRetrieve},
		},
		{
			name:    "polite request with a question mark",
			message: "Can you open a ticket for the flaky deploy?",
			want:    []core.Capability{core.CapabilityRetrieve, core.CapabilityCreateTicket},
			edges:   []core.Edge{{From: "n01", To: "n02", Optional: true}},
		},
		{
			name:    "please prefix",
			message: "Please notify the on-call channel about the outage",
			want:    []core.Capability{core.CapabilityRetrieve, core.CapabilityPostMessage},
			edges:   []core.Edge{{From: "n01", To: "n02", Optional: true}},
		},
	}

	p := NewRulePlanner(WithIDGenerator(fixedID))
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			plan, err := p.Plan(context.Background(), tt.message, nil)
			require.NoError(t, err)
			assert.Equal(t, "plan-1", plan.ID)
			assert.Equal(t, tt.want, capabilities(plan))
			assert.Equal(t, tt.edges, plan.Edges())
			assert.NoError(t, plan.Validate())
		})
	}
}

func TestRulePlanner_StatusTopics(t *testing.T) {
	p := NewRulePlanner()
	plan, err := p.Plan(context.Background(), "Give me a status report on billing, auth and search", nil)
	require.NoError(t, err)
	require.Len(t, plan.Nodes, 4)
	assert.Equal(t, "billing status", plan.Nodes[0].Input[InputQuery])
	assert.Equal(t, "auth status", plan.Nodes[1].Input[InputQuery])
	assert.Equal(t, "search status", plan.Nodes[2].Input[InputQuery])
	assert.Empty(t, plan.Edges())
}

func TestRulePlanner_NodeIDsSortInPlanOrder(t *testing.T) {
	topics := []string{"alpha", "bravo", "charlie", "delta", "echo", "foxtrot", "golf", "hotel", "india", "juliet", "kilo"}
	p := NewRulePlanner()
	plan, err := p.Plan(context.Background(), "Give me a status report on "+strings.Join(topics, ", "), nil)
	require.NoError(t, err)
	require.Len(t, plan.Nodes, len(topics)+1)

	want := make([]core.NodeID, len(plan.Nodes))
	for i, n := range plan.Nodes {
		want[i] = n.ID
	}
	order, err := plan.TopologicalOrder()
	require.NoError(t, err)
	assert.Equal(t, want, order)
	assert.Equal(t, core.NodeID("n12"), plan.Nodes[11].ID)
	assert.Equal(t, core.CapabilitySummarize, plan.Nodes[11].Capability)
	assert.Equal(t, "kilo status", plan.Nodes[10].Input[InputQuery])
}

func TestRulePlanner_ReviewInputs(t *testing.T) {
	p := NewRulePlanner()
	plan, err := p.Plan(context.Background(), "Please review the code in poiesic/conductor#42", nil)
	require.NoError(t, err)
	require.Len(t, plan.Nodes, 2)
	review := plan.Nodes[1]
	assert.Equal(t, core.CapabilityReviewCode, review.Capability)
	assert.Equal(t, "poiesic", review.Input[InputOwner])
	assert.Equal(t, "conductor", review.Input[InputRepo])
	assert.Equal(t, "42", review.Input[InputPR])
}

func TestRulePlanner_Inputs(t *testing.T) {
	p := NewRulePlanner()
	plan, err := p.Plan(context.Background(), "Summarize yesterday's thread, then create a ticket from it", nil)
	require.NoError(t, err)
	assert.Equal(t, "Summarize yesterday's thread", plan.Nodes[0].Input[InputText])
	assert.Equal(t, "create a ticket from it", plan.Nodes[1].Input[InputText])
	assert.Equal(t, []core.NodeID{"n01"}, plan.Nodes[1].DependsOn)
}

func TestRulePlanner_Validation(t *testing.T) {
	p := NewRulePlanner()
	_, err := p.Plan(context.Background(), "   ", nil)
	assert.ErrorIs(t, err, core.ErrValidation)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = p.Plan(ctx, "hello", nil)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestRulePlanner_Deterministic(t *testing.T) {
	p := NewRulePlanner(WithIDGenerator(fixedID))
	msg := "Summarize the incident and post it to the channel"
	first, err := p.Plan(context.Background(), msg, nil)
	require.NoError(t, err)
	for i := 0; i < 5; i++ {
		again, err := p.Plan(context.Background(), msg, nil)
		require.NoError(t, err)
		assert.Equal(t, first, again)
	}
}

func TestLLMPlanner(t *testing.T) {
	tests := []struct {
		name     string
		response string
		err      error
		want     []core.Capability
	}{
		{
			name:     "valid plan",
			response: `{"steps":[{"id":"n1","capability":"retrieve","input":{"query":"q"}},{"id":"n2","capability":"summarize","optional_depends_on":["n1"]}]}`,
			want:     []core.Capability{core.CapabilityRetrieve, core.CapabilitySummarize},
		},
		{
			name:     "fenced and missing quote",
			response: "```json\n{\"steps\":[{id\":\"n1\",\"capability\":\"review-code\"}]}\n```",
			want:     []core.Capability{core.CapabilityReviewCode},
		},
		{
			name:     "unknown capability falls back",
			response: `{"steps":[{"id":"n1","capability":"launch-rockets"}]}`,
			want:     []core.Capability{core.CapabilityRetrieve},
		},
		{
			name:     "cycle falls back",
			response: `{"steps":[{"id":"n1","capability":"retrieve","depends_on":["n2"]},{"id":"n2","capability":"summarize","depends_on":["n1"]}]}`,
			want:     []core.Capability{core.CapabilityRetrieve},
		},
		{
			name:     "empty plan falls back",
			response: `{"steps":[]}`,
			want:     []core.Capability{core.CapabilityRetrieve},
		},
		{
			name:     "garbage falls back",
			response: "I cannot help with that",
			want:     []core.Capability{core.CapabilityRetrieve},
		},
		{
			name: "provider error falls back",
			err:  ai.NewProviderError("test", core.ErrorKindUnavailable, errors.New("down")),
			want: []core.Capability{core.CapabilityRetrieve},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			completer := mock.NewMockCompleter()
			completer.CompleteFunc = func(ctx context.Context, req ai.CompletionRequest) (string, error) {
				assert.True(t, req.JSON)
				return tt.response, tt.err
			}
			p, err := NewLLMPlanner(completer, nil)
			require.NoError(t, err)

			plan, err := p.Plan(context.Background(), "What changed in the billing service?", nil)
			require.NoError(t, err)
			assert.Equal(t, tt.want, capabilities(plan))
		})
	}
}

func TestLLMPlanner_RetriesMalformedJSON(t *testing.T) {
	completer := mock.NewMockCompleter()
	calls := 0
	completer.CompleteFunc = func(ctx context.Context, req ai.CompletionRequest) (string, error) {
		calls++
		if calls < 2 {
			return `{"steps": [`, nil
		}
		return `{"steps":[{"id":"n1","capability":"summarize"}]}`, nil
	}
	p, err := NewLLMPlanner(completer, NewRulePlanner())
	require.NoError(t, err)

	plan, err := p.Plan(context.Background(), "recap please", []core.ConversationTurn{{UserMessage: "hi", FinalAnswer: "hello"}})
	require.NoError(t, err)
	assert.Equal(t, []core.Capability{core.CapabilitySummarize}, capabilities(plan))
	assert.Equal(t, 2, calls)
	assert.Contains(t, completer.Requests()[0].Messages[1].Content, "Conversation so far")
}

func TestNewLLMPlanner_RequiresCompleter(t *testing.T) {
	_, err := NewLLMPlanner(nil, nil)
	assert.ErrorIs(t, err, ErrCompleterRequired)
}

func TestRepairJSON(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{`{"a":1}`, `{"a":1}`},
		{`{a":1, b":2}`, `{"a":1, "b":2}`},
		{`[1, 2]`, `[1, 2]`},
		{`{"list":[x, y]}`, `{"list":[x, y]}`},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, repairJSON(tt.in))
	}
	assert.Equal(t, `{"a":1}`, extractJSON("Sure! ```json\n{\"a\":1}\n``` hope that helps"))
}
