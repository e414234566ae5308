// Package ingestion indexes source documents into a KnowledgeStore.
//
// The Pipeline routes each document into chunks, packs chunks from all
// documents of a run into embedding batches, embeds every batch under a
// shared rate limiter with retry, and upserts the results. Batches run
// concurrently on a worker pool.
//
// A batch that still fails after its retries is split per document and each
// part retried on its own, so one bad document cannot sink its neighbours.
// Parts that fail again are written to the dead-letter repository and the run
// continues. Redrive replays dead letters later.
package ingestion
