package badger

import (
	"fmt"
	"strings"
)

// Key prefixes for different data types. Variable-length components are
// terminated with a NUL byte so one document or model name can never be a
// prefix of another.
const (
	chunkPrefix      = "chunk:"
	embeddingPrefix  = "emb:"
	docChunkPrefix   = "docchunk:"
	modelPrefix      = "model:"
	deadLetterPrefix = "deadletter:"
	cachePrefix      = "cache:"

	keySep = "\x00"
)

// makeChunkKey generates a key for a chunk by id.
func makeChunkKey(chunkID string) []byte {
	return []byte(chunkPrefix + chunkID)
}

// makeEmbeddingKey generates a key for an embedding record.
// Format: prefix:model\x00chunkID
func makeEmbeddingKey(model, chunkID string) []byte {
	return []byte(embeddingPrefix + model + keySep + chunkID)
}

// makeModelEmbeddingPrefix returns the prefix shared by every embedding of a model.
func makeModelEmbeddingPrefix(model string) []byte {
	return []byte(embeddingPrefix + model + keySep)
}

// makeDocChunkKey generates a key for the document index.
// Format: prefix:documentID\x00orderIndex, with the index zero padded so keys
// sort in order.
func makeDocChunkKey(documentID string, orderIndex int) []byte {
	return []byte(fmt.Sprintf("%s%s%s%010d", docChunkPrefix, documentID, keySep, orderIndex))
}

// makeDocPrefix returns the prefix shared by every index entry of a document.
func makeDocPrefix(documentID string) []byte {
	return []byte(docChunkPrefix + documentID + keySep)
}

// parseDocChunkOrder extracts the order index from a document index key.
func parseDocChunkOrder(key []byte) (int, error) {
	s := string(key)
	i := strings.LastIndex(s, keySep)
	if i < 0 {
		return 0, fmt.Errorf("malformed document index key %q", s)
	}
	var order int
	if _, err := fmt.Sscanf(s[i+1:], "%d", &order); err != nil {
		return 0, fmt.Errorf("malformed document index key %q: %w", s, err)
	}
	return order, nil
}

// makeModelKey marks that at least one embedding exists under model.
func makeModelKey(model string) []byte {
	return []byte(modelPrefix + model)
}

// makeDeadLetterKey generates a key for a dead letter by id.
func makeDeadLetterKey(id string) []byte {
	return []byte(deadLetterPrefix + id)
}

// makeCacheKey generates a key for a cache entry by fingerprint.
func makeCacheKey(fingerprint string) []byte {
	return []byte(cachePrefix + fingerprint)
}
