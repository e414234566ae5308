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


// Package scheduler executes ExecutionPlans against a capability registry.
//
// Ready nodes run concurrently on a bounded worker pool. A node becomes ready
// once every upstream node is terminal; it is skipped instead when a hard
// (DependsOn) upstream did not succeed. Failures stay contained: they are
// recorded as AgentInvocationResults and never cancel independent branches.
//
// Only the event loop of Execute writes the result map, once per node.
// Workers report outcomes over a channel.
package scheduler
