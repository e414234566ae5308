package ingestion

import (
	"context"
	"fmt"
	"slices"
	"time"
)

// Redrive replays every dead letter under the current embedding model.
// Dead letters that index successfully are deleted; the rest are kept with
// their attempt count and reason updated. Documents of redriven letters are
// reported as accepted, and kept letters as dead-lettered.
func (p *Pipeline) Redrive(ctx context.Context) (*Report, error) {
	letters, err := p.deadLetters.ListDeadLetters(ctx)
	if err != nil {
		return nil, fmt.Errorf("list dead letters: %w", err)
	}

	report := &Report{}
	for _, dl := range letters {
		if err := ctx.Err(); err != nil {
			return report, err
		}

		start := time.Now()
		attempts, indexErr := p.indexer.index(ctx, dl.Chunks)
		p.metrics.BatchDuration.Observe(time.Since(start).Seconds())

		if indexErr == nil {
			if err := p.deadLetters.DeleteDeadLetter(ctx, dl.ID); err != nil {
				return report, fmt.Errorf("delete dead letter %s: %w", dl.ID, err)
			}
			report.Chunks += len(dl.Chunks)
			for _, id := range dl.DocumentIDs() {
				if !slices.Contains(report.Accepted, id) {
					report.Accepted = append(report.Accepted, id)
				}
			}
			p.metrics.BatchesTotal.WithLabelValues(outcomeStored).Inc()
			p.metrics.ChunksTotal.Add(float64(len(dl.Chunks)))
			p.logger.Info("dead letter redriven", "dead_letter", dl.ID, "chunks", len(dl.Chunks))
			continue
		}

		dl.Attempts += attempts
		dl.Reason = indexErr.Error()
		dl.ModelVersion = p.embedder.ModelVersion()
		if err := p.deadLetters.PutDeadLetter(ctx, dl); err != nil {
			return report, fmt.Errorf("update dead letter %s: %w", dl.ID, err)
		}
		failure := fmt.Errorf("%w: %w", ErrRedriveFailed, indexErr)
		for _, id := range dl.DocumentIDs() {
			report.Failed = append(report.Failed, Failure{DocumentID: id, Err: failure})
		}
		report.DeadLettered = append(report.DeadLettered, dl.ID)
		p.metrics.BatchesTotal.WithLabelValues(outcomeDeadLettered).Inc()
		p.logger.Warn("dead letter redrive failed", "dead_letter", dl.ID, "attempts", dl.Attempts, "err", indexErr)
	}
	slices.Sort(report.DeadLettered)
	return report, nil
}
