// Package reembed re-embeds every stored chunk under a new embedding model.
//
// Records are written under the new model version alongside the old ones.
// Nothing is mutated in place, so queries pinned to the previous model keep
// working until the operator switches over. Requests share the ingestion rate
// limiter and retry transient provider failures with exponential backoff.
package reembed
