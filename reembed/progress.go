package reembed

import (
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/poiesic/conductor/core"
)

// ProgressTracker prints re-embedding progress as batches complete.
type ProgressTracker struct {
	mu        sync.Mutex
	writer    io.Writer
	total     int
	every     int
	chunks    int
	reported  int
	documents map[string]struct{}
	start     time.Time
	now       func() time.Time
}

// NewProgressTracker creates a tracker for total chunks that prints a line
// whenever at least every chunks completed since the last one.
func NewProgressTracker(writer io.Writer, total, every int) *ProgressTracker {
	return &ProgressTracker{
		writer: writer,
		total:  total,
		every:  max(every, 1),
		now:    time.Now,
	}
}

// Start resets the counters and the clock.
func (p *ProgressTracker) Start() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.start = p.now()
	p.chunks = 0
	p.reported = 0
	p.documents = make(map[string]struct{})
}

// Add records a completed batch. Counts past total are capped.
func (p *ProgressTracker) Add(batch []core.Chunk) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.documents == nil {
		return
	}
	for _, c := range batch {
		p.documents[c.DocumentID] = struct{}{}
	}
	p.chunks = min(p.chunks+len(batch), p.total)
	if p.chunks-p.reported >= p.every {
		p.report()
		p.reported = p.chunks
	}
}

// Finish prints the final line and ends it with a newline.
func (p *ProgressTracker) Finish() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.documents == nil {
		return
	}
	p.chunks = p.total
	p.report()
	fmt.Fprintln(p.writer)
}

// Elapsed returns the time since Start, or zero before it.
func (p *ProgressTracker) Elapsed() time.Duration {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.documents == nil {
		return 0
	}
	return p.now().Sub(p.start)
}

// Documents returns how many distinct documents the added batches touched.
func (p *ProgressTracker) Documents() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.documents)
}

// report must be called with the lock held.
func (p *ProgressTracker) report() {
	elapsed := p.now().Sub(p.start)
	var rate float64
	if elapsed > 0 {
		rate = float64(p.chunks) / elapsed.Seconds()
	}
	pct := 100.0
	if p.total > 0 {
		pct = float64(p.chunks) / float64(p.total) * 100
	}
	eta := "-"
	if rate > 0 && p.chunks < p.total {
		eta = time.Duration(float64(p.total-p.chunks) / rate * float64(time.Second)).Round(time.Second).String()
	}
	fmt.Fprintf(p.writer, "\rProgress: %d/%d chunks (%.1f%%) from %d documents, %.1f chunks/s, eta %s",
		p.chunks, p.total, pct, len(p.documents), rate, eta)
}
