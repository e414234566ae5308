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


package core

import (
	"fmt"
	"slices"
	"time"
)

// Capability names one kind of executor. The set is closed.
type Capability string

const (
	CapabilityRetrieve     Capability = "retrieve"
	CapabilitySummarize    Capability = "summarize"
	CapabilityCreateTicket Capability = "create-ticket"
	CapabilityPostMessage  Capability = "post-message"
	CapabilityReviewCode   Capability = "review-code"
)

// Capabilities lists every known capability kind.
func Capabilities() []Capability {
	return []Capability{
		CapabilityRetrieve,
		CapabilitySummarize,
		CapabilityCreateTicket,
		CapabilityPostMessage,
		CapabilityReviewCode,
	}
}

// ParseCapability resolves a name against the closed set.
func ParseCapability(name string) (Capability, error) {
	c := Capability(name)
	if !slices.Contains(Capabilities(), c) {
		return "", fmt.Errorf("%w: %q", ErrUnknownCapability, name)
	}
	return c, nil
}

// SideEffecting reports whether invoking the capability changes external state.
func (c Capability) SideEffecting() bool {
	return c == CapabilityCreateTicket || c == CapabilityPostMessage
}

// NodeID identifies a node within one plan.
type NodeID string

// PlanNode is one capability invocation in an ExecutionPlan.
//
// DependsOn edges are hard: the node is skipped unless every listed node succeeds.
// OptionalDependsOn edges only order execution; their outputs are passed along when available.
type PlanNode struct {
	ID                NodeID
	Capability        Capability
	Input             map[string]string
	DependsOn         []NodeID
	OptionalDependsOn []NodeID
}

// Dependencies returns hard and optional upstream nodes together.
func (n *PlanNode) Dependencies() []NodeID {
	deps := make([]NodeID, 0, len(n.DependsOn)+len(n.OptionalDependsOn))
	deps = append(deps, n.DependsOn...)
	return append(deps, n.OptionalDependsOn...)
}

// Edge is a directed dependency from an upstream node to a downstream node.
type Edge struct {
	From     NodeID
	To       NodeID
	Optional bool
}

// ExecutionPlan is a DAG of capability invocations built for one user turn.
type ExecutionPlan struct {
	ID           string
	Message      string
	Nodes        []PlanNode
	Conversation []ConversationTurn
}

// Node looks up a node by id.
func (p *ExecutionPlan) Node(id NodeID) (*PlanNode, bool) {
	for i := range p.Nodes {
		if p.Nodes[i].ID == id {
			return &p.Nodes[i], true
		}
	}
	return nil, false
}

// Edges lists every dependency edge of the plan.
func (p *ExecutionPlan) Edges() []Edge {
	var edges []Edge
	for _, n := range p.Nodes {
		for _, dep := range n.DependsOn {
			edges = append(edges, Edge{From: dep, To: n.ID})
		}
		for _, dep := range n.OptionalDependsOn {
			edges = append(edges, Edge{From: dep, To: n.ID, Optional: true})
		}
	}
	return edges
}

// Validate checks structure. Malformed plans fail with ErrValidation,
// cyclic plans with ErrPlanning.
func (p *ExecutionPlan) Validate() error {
	if p == nil || len(p.Nodes) == 0 {
		return fmt.Errorf("%w: %w", ErrValidation, ErrEmptyPlan)
	}
	ids := make(map[NodeID]bool, len(p.Nodes))
	for _, n := range p.Nodes {
		if n.ID == "" {
			return fmt.Errorf("%w: node id cannot be empty", ErrValidation)
		}
		if ids[n.ID] {
			return fmt.Errorf("%w: %w: %s", ErrValidation, ErrDuplicateNode, n.ID)
		}
		ids[n.ID] = true
	}
	for _, n := range p.Nodes {
		for _, dep := range n.Dependencies() {
			if !ids[dep] {
				return fmt.Errorf("%w: %w: %s -> %s", ErrValidation, ErrUnknownNode, dep, n.ID)
			}
		}
	}
	if _, err := p.TopologicalOrder(); err != nil {
		return err
	}
	return nil
}

// TopologicalOrder returns node ids so every node follows its dependencies.
// Among nodes ready at the same time, lower ids come first.
func (p *ExecutionPlan) TopologicalOrder() ([]NodeID, error) {
	indegree := make(map[NodeID]int, len(p.Nodes))
	downstream := make(map[NodeID][]NodeID, len(p.Nodes))
	for _, n := range p.Nodes {
		if _, ok := indegree[n.ID]; !ok {
			indegree[n.ID] = 0
		}
		for _, dep := range n.Dependencies() {
			indegree[n.ID]++
			downstream[dep] = append(downstream[dep], n.ID)
		}
	}

	var ready []NodeID
	for id, deg := range indegree {
		if deg == 0 {
			ready = append(ready, id)
		}
	}

	order := make([]NodeID, 0, len(indegree))
	for len(ready) > 0 {
		slices.Sort(ready)
		next := ready[0]
		ready = ready[1:]
		order = append(order, next)
		for _, d := range downstream[next] {
			indegree[d]--
			if indegree[d] == 0 {
				ready = append(ready, d)
			}
		}
	}

	if len(order) != len(indegree) {
		return nil, fmt.Errorf("%w: %w", ErrPlanning, ErrCyclicPlan)
	}
	return order, nil
}

// NodeStatus is the lifecycle state of a plan node.
type NodeStatus string

const (
	NodePending   NodeStatus = "pending"
	NodeRunning   NodeStatus = "running"
	NodeSucceeded NodeStatus = "succeeded"
	NodeFailed    NodeStatus = "failed"
	NodeTimedOut  NodeStatus = "timed_out"
	NodeSkipped   NodeStatus = "skipped"
)

// Terminal reports whether the status is final.
func (s NodeStatus) Terminal() bool {
	return s == NodeSucceeded || s == NodeFailed || s == NodeTimedOut || s == NodeSkipped
}

// PlanStatus is the lifecycle state of a whole plan.
type PlanStatus string

const (
	PlanExecuting          PlanStatus = "executing"
	PlanCompleted          PlanStatus = "completed"
	PlanPartiallyCompleted PlanStatus = "partially_completed"
	PlanAborted            PlanStatus = "aborted"
)

// Output is the opaque payload an executor returns.
type Output struct {
	Text          string
	CitedChunkIDs []string
	Data          map[string]string
}

// Invocation is what an executor receives for one node.
type Invocation struct {
	PlanID       string
	Message      string
	Node         *PlanNode
	Upstream     map[NodeID]*Output
	Conversation []ConversationTurn
}

// UpstreamInOrder returns upstream outputs sorted by node id.
func (inv *Invocation) UpstreamInOrder() []*Output {
	ids := make([]NodeID, 0, len(inv.Upstream))
	for id := range inv.Upstream {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	outs := make([]*Output, 0, len(ids))
	for _, id := range ids {
		outs = append(outs, inv.Upstream[id])
	}
	return outs
}

// AgentInvocationResult is the terminal outcome of one node.
type AgentInvocationResult struct {
	NodeID     NodeID
	Capability Capability
	Status     NodeStatus
	Output     *Output
	ErrorKind  ErrorKind
	Err        error
	Reason     string
	StartedAt  time.Time
	FinishedAt time.Time
}

// PlanResult collects every node outcome of an executed plan.
type PlanResult struct {
	PlanID     string
	Status     PlanStatus
	Results    map[NodeID]*AgentInvocationResult
	StartedAt  time.Time
	FinishedAt time.Time
}
