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


// Package retrieval provides hybrid vector and keyword ranking over a
// KnowledgeStore.
//
// The Engine embeds the query with the same embedder used at ingestion,
// fetches a candidate pool larger than k from the store, scores each
// candidate as
//
//	score = w_v * vector_similarity + w_k * keyword_score
//
// and keeps the top k. Equal scores are ordered by chunk id so repeated
// calls against an unchanged store return identical results.
//
// Example usage:
//
//	engine, err := retrieval.NewEngine(store, provider.Embedder())
//	if err != nil {
//	    log.Fatal(err)
//	}
//
//	results, err := engine.Retrieve(ctx, "open items in the report", 5, nil)
//	for _, r := range results {
//	    fmt.Printf("%.3f %s\n", r.Score, r.Chunk.ID)
//	}
package retrieval
