package capability

import (
	"context"
	"strings"

	"github.com/poiesic/conductor/core"
)

// Executor carries out one capability. Implementations must be safe for
// concurrent use and should return promptly once ctx is done.
type Executor interface {
	Capability() core.Capability
	Invoke(ctx context.Context, inv *core.Invocation) (*core.Output, error)
}

// Func adapts a function to the Executor interface.
type Func struct {
	Kind core.Capability
	Fn   func(ctx context.Context, inv *core.Invocation) (*core.Output, error)
}

// Capability implements Executor.
func (f Func) Capability() core.Capability { return f.Kind }

// Invoke implements Executor.
func (f Func) Invoke(ctx context.Context, inv *core.Invocation) (*core.Output, error) {
	return f.Fn(ctx, inv)
}

func input(inv *core.Invocation, key string) string {
	if inv.Node == nil {
		return ""
	}
	return strings.TrimSpace(inv.Node.Input[key])
}

// upstreamText joins upstream outputs in node id order.
func upstreamText(inv *core.Invocation) string {
	var parts []string
	for _, out := range inv.UpstreamInOrder() {
		if out != nil && strings.TrimSpace(out.Text) != "" {
			parts = append(parts, strings.TrimSpace(out.Text))
		}
	}
	return strings.Join(parts, "\n\n")
}

// upstreamCitations returns the distinct chunk ids cited upstream, in node id order.
func upstreamCitations(inv *core.Invocation) []string {
	seen := make(map[string]bool)
	var ids []string
	for _, out := range inv.UpstreamInOrder() {
		if out == nil {
			continue
		}
		for _, id := range out.CitedChunkIDs {
			if !seen[id] {
				seen[id] = true
				ids = append(ids, id)
			}
		}
	}
	return ids
}
