package retrieval

import "github.com/poiesic/conductor/core"

// Monitor provides hooks to observe retrieval.
// Implement this interface to trace candidates and scoring decisions.
type Monitor interface {
	Start(query string, k int)
	AfterVectorSearch(candidates []*core.ScoredChunk)
	Scored(chunk *core.Chunk, vectorScore, keywordScore, score float32)
	Finish(results []*core.ScoredChunk)
}

// noopMonitor is a no-op implementation of Monitor
type noopMonitor struct{}

var _ Monitor = (*noopMonitor)(nil)

func (n *noopMonitor) Start(_ string, _ int)                       {}
func (n *noopMonitor) AfterVectorSearch(_ []*core.ScoredChunk)     {}
func (n *noopMonitor) Scored(_ *core.Chunk, _, _, _ float32)       {}
func (n *noopMonitor) Finish(_ []*core.ScoredChunk)                {}
