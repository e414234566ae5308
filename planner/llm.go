package planner

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/poiesic/conductor/ai"
	"github.com/poiesic/conductor/core"
)

const maxParseAttempts = 3

// ErrCompleterRequired is returned when an LLMPlanner has no completer.
var ErrCompleterRequired = errors.New("completer is required")

type planResponse struct {
	Steps []planStep `json:"steps"`
}

type planStep struct {
	ID                string            `json:"id"`
	Capability        string            `json:"capability"`
	Input             map[string]string `json:"input"`
	DependsOn         []string          `json:"depends_on"`
	OptionalDependsOn []string          `json:"optional_depends_on"`
}

// LLMPlanner asks a completion model for the plan. Whenever the model fails or
// returns something that is not a valid plan, it uses the fallback planner.
type LLMPlanner struct {
	completer ai.Completer
	fallback  Planner
	newID     func() string
	logger    *slog.Logger
}

// NewLLMPlanner creates a model-backed planner. A nil fallback uses a RulePlanner.
func NewLLMPlanner(completer ai.Completer, fallback Planner, opts ...Option) (*LLMPlanner, error) {
	if completer == nil {
		return nil, ErrCompleterRequired
	}
	if fallback == nil {
		fallback = NewRulePlanner(opts...)
	}
	o := buildOptions(opts)
	return &LLMPlanner{
		completer: completer,
		fallback:  fallback,
		newID:     o.newID,
		logger:    o.logger.With("component", "llm-planner"),
	}, nil
}

// Plan implements Planner.
func (p *LLMPlanner) Plan(ctx context.Context, message string, conversation []core.ConversationTurn) (*core.ExecutionPlan, error) {
	message = strings.TrimSpace(message)
	if message == "" {
		return nil, fmt.Errorf("%w: message cannot be empty", core.ErrValidation)
	}

	plan, err := p.modelPlan(ctx, message, conversation)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		p.logger.Warn("model plan unusable, using fallback planner", "err", err)
		return p.fallback.Plan(ctx, message, conversation)
	}
	return plan, nil
}

func (p *LLMPlanner) modelPlan(ctx context.Context, message string, conversation []core.ConversationTurn) (*core.ExecutionPlan, error) {
	req := ai.CompletionRequest{
		Messages: []ai.Message{
			{Role: ai.RoleSystem, Content: buildSystemPrompt()},
			{Role: ai.RoleUser, Content: buildUserPrompt(message, conversation)},
		},
		Temperature: 0,
		JSON:        true,
	}

	var lastErr error
	for attempt := 0; attempt < maxParseAttempts; attempt++ {
		text, err := p.completer.Complete(ctx, req)
		if err != nil {
			return nil, err
		}

		var resp planResponse
		responseText := repairJSON(extractJSON(text))
		if err := json.Unmarshal([]byte(responseText), &resp); err != nil {
			lastErr = err
			p.logger.Warn("error parsing plan response", "attempt", attempt+1, "response", responseText, "err", err)
			continue
		}

		nodes, err := toNodes(resp.Steps)
		if err != nil {
			return nil, err
		}
		return finish(p.newID(), message, conversation, nodes)
	}
	return nil, lastErr
}

func toNodes(steps []planStep) ([]core.PlanNode, error) {
	nodes := make([]core.PlanNode, 0, len(steps))
	for _, s := range steps {
		c, err := core.ParseCapability(strings.TrimSpace(s.Capability))
		if err != nil {
			return nil, fmt.Errorf("%w: %w", core.ErrPlanning, err)
		}
		nodes = append(nodes, core.PlanNode{
			ID:                core.NodeID(s.ID),
			Capability:        c,
			Input:             s.Input,
			DependsOn:         toNodeIDs(s.DependsOn),
			OptionalDependsOn: toNodeIDs(s.OptionalDependsOn),
		})
	}
	return nodes, nil
}

func toNodeIDs(ids []string) []core.NodeID {
	if len(ids) == 0 {
		return nil
	}
	out := make([]core.NodeID, len(ids))
	for i, id := range ids {
		out[i] = core.NodeID(id)
	}
	return out
}
