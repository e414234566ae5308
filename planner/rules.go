package planner

import (
	"context"
	"fmt"
	"log/slog"
	"regexp"
	"strings"

	"github.com/poiesic/conductor/core"
)

var (
	chainSeparator   = regexp.MustCompile(`(?i)\s*[,;.]?\s*\b(?:and then|after that|afterwards|then)\b[,:]?\s*`)
	reverseSeparator = regexp.MustCompile(`(?i)\s+\b(?:based on|after)\b\s+`)

	ticketPhrase    = regexp.MustCompile(`(?i)^(?:(?:create|file|raise|submit|update)\s+(?:(?:a|an|the|new|another)\s+)*(?:[\w-]+\s+)?|(?:open|log)\s+(?:a|an|another)\s+(?:new\s+)?(?:[\w-]+\s+)?)(?:ticket|issue|bug report|bug|task)s?\b`)
	postPhrase      = regexp.MustCompile(`(?i)^(?:post|send|notify|announce|ping|broadcast)\b`)
	reviewPhrase    = regexp.MustCompile(`(?i)^review\b.*\b(?:pr|pull request|code|diff|change|patch)(?:es|s)?\b`)
	summarizePhrase = regexp.MustCompile(`(?i)^(?:(?:summari[sz]e|recap|digest|tl;?dr)\b|(?:give|write|make|produce|get)\s+(?:me\s+|us\s+)?(?:(?:a|an|short|quick|brief)\s+)*(?:summary|recap|digest|tl;?dr)\b)`)
	statusPhrase    = regexp.MustCompile(`(?i)\b(?:status|standup|stand-up|progress report|report on)\b`)

	// Action verbs count only when they open a clause of a request.
	clauseSeparator = regexp.MustCompile(`(?i)[,;:.!?](?:\s+|$)|\s+(?:and|then|also|but)\s+`)
	requestLead     = regexp.MustCompile(`(?i)^(?:(?:please|kindly|also|now|can you|could you|would you|will you|you|we|let's|go ahead and|i need you to|i want you to)\b[\s,]*)+`)
	questionLead    = regexp.MustCompile(`(?i)^(?:what|how|why|when|where|who|whom|whose|which|is|are|was|were|am|do|does|did|has|have|had|should|shall|may|might)\b`)

	topicClause    = regexp.MustCompile(`(?i)\b(?:on|for|about|of)\s+(.+)$`)
	topicSeparator = regexp.MustCompile(`(?i)\s*(?:,|&|\band\b)\s*`)

	repoPullRef = regexp.MustCompile(`([\w.-]+)/([\w.-]+)\s*(?:#|\s(?:pr|pull request)\s*#?)(\d+)`)
	pullRef     = regexp.MustCompile(`(?i)\b(?:pr|pull request)\s*#?(\d+)`)
)

// actionMatchers in priority order. A chain step takes the first match.
var actionMatchers = []struct {
	capability core.Capability
	pattern    *regexp.Regexp
}{
	{core.CapabilityReviewCode, reviewPhrase},
	{core.CapabilityCreateTicket, ticketPhrase},
	{core.CapabilityPostMessage, postPhrase},
	{core.CapabilitySummarize, summarizePhrase},
}

// rule returns nil when it does not apply to the message.
type rule struct {
	name  string
	apply func(message string) []core.PlanNode
}

// RulePlanner classifies messages with an ordered set of keyword rules:
//
//  1. multi-step phrasing ("then", "after", "based on") chains one node per step with hard edges
//  2. status or report requests fan out into independent nodes
//  3. action phrases add side-effecting nodes fed by an optional retrieve
//  4. anything else is a single retrieve
type RulePlanner struct {
	rules  []rule
	newID  func() string
	logger *slog.Logger
}

// NewRulePlanner creates a deterministic planner.
func NewRulePlanner(opts ...Option) *RulePlanner {
	o := buildOptions(opts)
	return &RulePlanner{
		rules: []rule{
			{"sequence", planSequence},
			{"status", planStatus},
			{"action", planActions},
			{"retrieve", planRetrieve},
		},
		newID:  o.newID,
		logger: o.logger.With("component", "rule-planner"),
	}
}

// Plan implements Planner.
func (p *RulePlanner) Plan(ctx context.Context, message string, conversation []core.ConversationTurn) (*core.ExecutionPlan, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	message = strings.TrimSpace(message)
	if message == "" {
		return nil, fmt.Errorf("%w: message cannot be empty", core.ErrValidation)
	}

	for _, r := range p.rules {
		nodes := r.apply(message)
		if len(nodes) == 0 {
			continue
		}
		plan, err := finish(p.newID(), message, conversation, nodes)
		if err != nil {
			return nil, err
		}
		p.logger.Debug("planned message", "rule", r.name, "plan_id", plan.ID, "nodes", len(plan.Nodes))
		return plan, nil
	}
	// planRetrieve always applies
	return nil, fmt.Errorf("%w: no rule matched", core.ErrPlanning)
}

func planSequence(message string) []core.PlanNode {
	if isQuestion(message) {
		return nil
	}
	steps := splitSteps(chainSeparator.Split(message, -1))
	if len(steps) < 2 {
		parts := splitSteps(reverseSeparator.Split(message, 2))
		if len(parts) != 2 {
			return nil
		}
		steps = []string{parts[1], parts[0]}
	}

	hasAction := false
	for _, step := range steps {
		if classifyStep(step) != core.CapabilityRetrieve {
			hasAction = true
		}
	}
	if !hasAction {
		return nil
	}

	var b builder
	var prev core.NodeID
	for _, step := range steps {
		c := classifyStep(step)
		id := b.add(c, stepInput(c, step))
		if prev != "" {
			b.link(id, prev, false)
		}
		prev = id
	}
	return b.nodes
}

func planStatus(message string) []core.PlanNode {
	loc := statusPhrase.FindStringIndex(message)
	if loc == nil {
		return nil
	}

	var b builder
	topics := statusTopics(message[loc[0]:])
	if len(topics) == 0 {
		b.add(core.CapabilityRetrieve, map[string]string{InputQuery: message})
	}
	for _, topic := range topics {
		b.add(core.CapabilityRetrieve, map[string]string{InputQuery: topic + " status"})
	}
	b.add(core.CapabilitySummarize, map[string]string{InputText: message})
	return b.nodes
}

func planActions(message string) []core.PlanNode {
	if isQuestion(message) {
		return nil
	}
	var actions []core.Capability
	for _, m := range actionMatchers {
		if requestsAction(message, m.pattern) {
			actions = append(actions, m.capability)
		}
	}
	if len(actions) == 0 {
		return nil
	}

	var b builder
	gather := b.add(core.CapabilityRetrieve, map[string]string{InputQuery: message})
	for _, c := range actions {
		id := b.add(c, stepInput(c, message))
		b.link(id, gather, true)
	}
	return b.nodes
}

func planRetrieve(message string) []core.PlanNode {
	var b builder
	b.add(core.CapabilityRetrieve, map[string]string{InputQuery: message})
	return b.nodes
}

func classifyStep(step string) core.Capability {
	if isQuestion(step) {
		return core.CapabilityRetrieve
	}
	for _, m := range actionMatchers {
		if requestsAction(step, m.pattern) {
			return m.capability
		}
	}
	return core.CapabilityRetrieve
}

// isQuestion reports whether text asks something rather than requesting an
// action. "Can you ..." and "please ..." are requests even with a question mark.
func isQuestion(text string) bool {
	text = strings.TrimSpace(text)
	if requestLead.MatchString(text) {
		return false
	}
	return questionLead.MatchString(text) || strings.HasSuffix(text, "?")
}

// requestsAction reports whether some clause of text opens with pattern.
func requestsAction(text string, pattern *regexp.Regexp) bool {
	for _, clause := range clauseSeparator.Split(text, -1) {
		clause = requestLead.ReplaceAllString(strings.TrimSpace(clause), "")
		if pattern.MatchString(clause) {
			return true
		}
	}
	return false
}

func stepInput(c core.Capability, text string) map[string]string {
	if c == core.CapabilityRetrieve {
		return map[string]string{InputQuery: text}
	}
	input := map[string]string{InputText: text}
	if c == core.CapabilityReviewCode {
		if m := repoPullRef.FindStringSubmatch(text); m != nil {
			input[InputOwner], input[InputRepo], input[InputPR] = m[1], m[2], m[3]
		} else if m := pullRef.FindStringSubmatch(text); m != nil {
			input[InputPR] = m[1]
		}
	}
	return input
}

func splitSteps(parts []string) []string {
	steps := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.Trim(p, " \t\n,;.")
		if p != "" {
			steps = append(steps, p)
		}
	}
	return steps
}

func statusTopics(text string) []string {
	m := topicClause.FindStringSubmatch(text)
	if m == nil {
		return nil
	}
	var topics []string
	for _, t := range topicSeparator.Split(m[1], -1) {
		t = strings.Trim(t, " \t?.!")
		t = strings.TrimPrefix(strings.TrimPrefix(t, "the "), "The ")
		if t != "" {
			topics = append(topics, t)
		}
	}
	return topics
}
