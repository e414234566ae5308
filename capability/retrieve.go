package capability

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/poiesic/conductor/core"
)

// FilterPrefix marks node inputs that become retrieval metadata filters.
const FilterPrefix = "filter."

// Retriever ranks stored chunks for a query. *retrieval.Engine implements it.
type Retriever interface {
	Retrieve(ctx context.Context, query string, k int, filters map[string]string) ([]*core.ScoredChunk, error)
}

// RetrieveExecutor answers with the chunks most relevant to the node's query.
//
// Inputs: "query" (defaults to the user message), optional "k", and any
// number of "filter.<key>" metadata filters.
type RetrieveExecutor struct {
	retriever Retriever
	k         int
}

// NewRetrieveExecutor creates a retrieve executor returning k results by default.
func NewRetrieveExecutor(retriever Retriever, k int) (*RetrieveExecutor, error) {
	if retriever == nil {
		return nil, ErrRetrieverRequired
	}
	if k <= 0 {
		k = 5
	}
	return &RetrieveExecutor{retriever: retriever, k: k}, nil
}

// Capability implements Executor.
func (e *RetrieveExecutor) Capability() core.Capability { return core.CapabilityRetrieve }

// Invoke implements Executor.
func (e *RetrieveExecutor) Invoke(ctx context.Context, inv *core.Invocation) (*core.Output, error) {
	query := input(inv, "query")
	if query == "" {
		query = inv.Message
	}

	k := e.k
	if raw := input(inv, "k"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			return nil, fmt.Errorf("%w: invalid k %q", core.ErrValidation, raw)
		}
		k = n
	}

	var filters map[string]string
	if inv.Node != nil {
		for key, v := range inv.Node.Input {
			if name, ok := strings.CutPrefix(key, FilterPrefix); ok && name != "" {
				if filters == nil {
					filters = make(map[string]string)
				}
				filters[name] = v
			}
		}
	}

	results, err := e.retriever.Retrieve(ctx, query, k, filters)
	if err != nil {
		return nil, err
	}

	out := &core.Output{Data: map[string]string{"count": strconv.Itoa(len(results))}}
	if len(results) == 0 {
		out.Text = "No relevant context found."
		return out, nil
	}

	var b strings.Builder
	for i, r := range results {
		if i > 0 {
			b.WriteString("\n\n")
		}
		fmt.Fprintf(&b, "[%s] %s", r.Chunk.ID, strings.TrimSpace(r.Chunk.Text))
		out.CitedChunkIDs = append(out.CitedChunkIDs, r.Chunk.ID)
	}
	out.Text = b.String()
	return out, nil
}
