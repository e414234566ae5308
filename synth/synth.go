// Package synth merges executed plan results into one user-facing answer.
package synth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/poiesic/conductor/ai"
	"github.com/poiesic/conductor/core"
)

// UnableToHelp opens the answer of an aborted plan.
const UnableToHelp = "Sorry, I was unable to help with that request."

var (
	// ErrPlanRequired is returned when the plan or its result is missing.
	ErrPlanRequired = errors.New("plan and plan result are required")
)

// Answer is the synthesized response for one turn.
type Answer struct {
	Text          string
	CitedChunkIDs []string
	// Degraded is set when any node did not succeed.
	Degraded bool
}

// Synthesizer composes answers. With a completer configured it asks the
// model to phrase the successful outputs as one reply; notes about failed and
// skipped nodes are appended verbatim either way.
type Synthesizer struct {
	completer ai.Completer
	maxTokens int
	logger    *slog.Logger
}

// Option configures a Synthesizer.
type Option func(*Synthesizer)

// WithCompleter enables model-phrased answers.
func WithCompleter(c ai.Completer, maxTokens int) Option {
	return func(s *Synthesizer) {
		s.completer = c
		s.maxTokens = maxTokens
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Synthesizer) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// New creates a Synthesizer.
func New(opts ...Option) *Synthesizer {
	s := &Synthesizer{logger: slog.Default()}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = s.logger.With("component", "synthesizer")
	return s
}

// Synthesize builds the answer for result. Successful outputs appear in the
// plan's topological order, ties broken by node id, regardless of the order
// in which nodes finished.
func (s *Synthesizer) Synthesize(ctx context.Context, plan *core.ExecutionPlan, result *core.PlanResult) (*Answer, error) {
	if plan == nil || result == nil {
		return nil, ErrPlanRequired
	}
	order, err := plan.TopologicalOrder()
	if err != nil {
		return nil, err
	}

	var (
		sections []string
		notes    []string
		cited    []string
		seen     = make(map[string]bool)
	)
	for _, id := range order {
		r := result.Results[id]
		if r == nil {
			node, _ := plan.Node(id)
			r = &core.AgentInvocationResult{NodeID: id, Capability: node.Capability, Status: core.NodeSkipped, Reason: "not executed"}
		}
		if r.Status != core.NodeSucceeded {
			notes = append(notes, note(r))
			continue
		}
		if r.Output == nil {
			continue
		}
		if text := strings.TrimSpace(r.Output.Text); text != "" {
			sections = append(sections, text)
		}
		for _, c := range r.Output.CitedChunkIDs {
			if !seen[c] {
				seen[c] = true
				cited = append(cited, c)
			}
		}
	}

	answer := &Answer{Degraded: len(notes) > 0}

	if result.Status == core.PlanAborted || (len(sections) == 0 && len(notes) > 0) {
		answer.Text = joinNotes(UnableToHelp, notes)
		return answer, nil
	}

	body := strings.Join(sections, "\n\n")
	if s.completer != nil && len(sections) > 0 {
		phrased, err := s.phrase(ctx, plan.Message, body)
		if err != nil {
			s.logger.Warn("model phrasing failed, using plain answer", "plan_id", plan.ID, "error", err)
		} else {
			body = phrased
		}
	}

	answer.Text = joinNotes(body, notes)
	answer.CitedChunkIDs = cited
	return answer, nil
}

const phrasePrompt = `Answer the user's request using only the material provided.
Keep chunk references such as [doc/00001] next to the statements they support.
Do not mention steps that are not in the material.`

func (s *Synthesizer) phrase(ctx context.Context, message, material string) (string, error) {
	out, err := s.completer.Complete(ctx, ai.CompletionRequest{
		Messages: []ai.Message{
			{Role: ai.RoleSystem, Content: phrasePrompt},
			{Role: ai.RoleUser, Content: fmt.Sprintf("Request: %s\n\nMaterial:\n%s", message, material)},
		},
		MaxTokens:   s.maxTokens,
		Temperature: 0.2,
	})
	if err != nil {
		return "", err
	}
	out = strings.TrimSpace(out)
	if out == "" {
		return "", errors.New("empty completion")
	}
	return out, nil
}

func joinNotes(body string, notes []string) string {
	if len(notes) == 0 {
		return body
	}
	return body + "\n\n" + strings.Join(notes, "\n")
}

// outcome phrases what a capability failed to deliver.
var outcome = map[core.Capability]string{
	core.CapabilityRetrieve:     "the knowledge base search did not complete",
	core.CapabilitySummarize:    "the summary was not produced",
	core.CapabilityCreateTicket: "the ticket was not created",
	core.CapabilityPostMessage:  "the message was not posted",
	core.CapabilityReviewCode:   "the code review was not completed",
}

func note(r *core.AgentInvocationResult) string {
	what, ok := outcome[r.Capability]
	if !ok {
		what = fmt.Sprintf("the %s step did not complete", r.Capability)
	}
	reason := r.Reason
	if reason == "" && r.Err != nil {
		reason = r.Err.Error()
	}
	if reason == "" {
		reason = string(r.ErrorKind)
	}
	detail := fmt.Sprintf("%s %s", r.NodeID, strings.ReplaceAll(string(r.Status), "_", " "))
	if reason != "" {
		detail += ": " + reason
	}
	return fmt.Sprintf("Note: %s (%s).", what, detail)
}
