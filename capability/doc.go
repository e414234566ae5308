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


// Package capability maps capability kinds to the executors that carry them out.
//
// The set of kinds is closed (see core.Capabilities). Each kind has at most
// one registered Executor:
//
//   - retrieve: ranked chunks from a retrieval engine
//   - summarize: a completion over upstream outputs and conversation context
//   - create-ticket: a GitHub issue
//   - post-message: a JSON message published on a NATS subject
//   - review-code: a completion over a GitHub pull request diff
//
// Executors report failures with the core error taxonomy so the scheduler
// can record why a node failed. External executors can be wrapped with
// WithCircuitBreaker to fail fast while a backend is down.
package capability
