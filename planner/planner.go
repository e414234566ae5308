// Copyright 2025 Poiesic Systems
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.


// Package planner turns a user message into an ExecutionPlan.
//
// RulePlanner classifies messages with an ordered, deterministic rule set.
// LLMPlanner asks a completion model for the plan and falls back to a
// RulePlanner whenever the model's answer cannot be used.
package planner

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	"github.com/poiesic/conductor/core"
)

// Input parameter keys understood by the built-in executors.
const (
	InputQuery = "query"
	InputText  = "text"
	InputOwner = "owner"
	InputRepo  = "repo"
	InputPR    = "number"
)

// Planner builds an execution plan for one user turn. Returned plans are
// always valid DAGs with at least one node.
type Planner interface {
	Plan(ctx context.Context, message string, conversation []core.ConversationTurn) (*core.ExecutionPlan, error)
}

// Option configures planners.
type Option func(*options)

type options struct {
	logger *slog.Logger
	newID  func() string
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(o *options) {
		if logger != nil {
			o.logger = logger
		}
	}
}

// WithIDGenerator overrides plan id generation.
func WithIDGenerator(fn func() string) Option {
	return func(o *options) {
		if fn != nil {
			o.newID = fn
		}
	}
}

func buildOptions(opts []Option) options {
	o := options{logger: slog.Default(), newID: uuid.NewString}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// builder accumulates nodes with sequential ids.
type builder struct {
	nodes []core.PlanNode
}

func (b *builder) add(capability core.Capability, input map[string]string) core.NodeID {
	id := core.NodeID(fmt.Sprintf("n%02d", len(b.nodes)+1))
	b.nodes = append(b.nodes, core.PlanNode{ID: id, Capability: capability, Input: input})
	return id
}

func (b *builder) link(node, upstream core.NodeID, optional bool) {
	for i := range b.nodes {
		if b.nodes[i].ID != node {
			continue
		}
		if optional {
			b.nodes[i].OptionalDependsOn = append(b.nodes[i].OptionalDependsOn, upstream)
		} else {
			b.nodes[i].DependsOn = append(b.nodes[i].DependsOn, upstream)
		}
	}
}

func finish(id string, message string, conversation []core.ConversationTurn, nodes []core.PlanNode) (*core.ExecutionPlan, error) {
	plan := &core.ExecutionPlan{ID: id, Message: message, Nodes: nodes, Conversation: conversation}
	if err := plan.Validate(); err != nil {
		return nil, err
	}
	return plan, nil
}
