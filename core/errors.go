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


package core

import (
	"context"
	"errors"
)

// Error taxonomy shared by every component.
var (
	// ErrValidation indicates malformed input or a malformed plan. Never retried.
	ErrValidation = errors.New("validation error")

	// ErrProviderRateLimited indicates an external provider throttled the request.
	ErrProviderRateLimited = errors.New("provider rate limited")

	// ErrProviderUnavailable indicates an external provider could not serve the request.
	ErrProviderUnavailable = errors.New("provider unavailable")

	// ErrInvalidRequest indicates an external provider rejected the request as malformed.
	ErrInvalidRequest = errors.New("invalid provider request")

	// ErrTimeout indicates an operation exceeded its deadline.
	ErrTimeout = errors.New("timeout")

	// ErrPlanning indicates a cyclic or unresolvable execution plan.
	ErrPlanning = errors.New("planning error")

	// ErrIngestionBatchFailure indicates an embedding batch was moved to the dead-letter area.
	ErrIngestionBatchFailure = errors.New("ingestion batch failure")

	// ErrUnknownCapability indicates a capability name outside the closed set.
	ErrUnknownCapability = errors.New("unknown capability")
)

// Validation details.
var (
	ErrEmptyDocumentID = errors.New("document id cannot be empty")
	ErrEmptyContent    = errors.New("content cannot be empty")
	ErrEmptyChunkID    = errors.New("chunk id cannot be empty")
	ErrEmptyVector     = errors.New("vector cannot be empty")
	ErrEmptyModel      = errors.New("model version cannot be empty")
	ErrEmptyPlan       = errors.New("plan has no nodes")
	ErrDuplicateNode   = errors.New("duplicate node id")
	ErrUnknownNode     = errors.New("dependency on unknown node")
	ErrCyclicPlan      = errors.New("plan contains a cycle")
)

// ErrorKind classifies a terminal node failure.
type ErrorKind string

const (
	ErrorKindNone             ErrorKind = ""
	ErrorKindValidation       ErrorKind = "validation"
	ErrorKindRateLimited      ErrorKind = "rate_limited"
	ErrorKindUnavailable      ErrorKind = "unavailable"
	ErrorKindInvalidRequest   ErrorKind = "invalid_request"
	ErrorKindTimeout          ErrorKind = "timeout"
	ErrorKindDependencyFailed ErrorKind = "dependency_failed"
	ErrorKindCanceled         ErrorKind = "canceled"
	ErrorKindInternal         ErrorKind = "internal"
)

// KindOf maps an error onto the taxonomy.
func KindOf(err error) ErrorKind {
	switch {
	case err == nil:
		return ErrorKindNone
	case errors.Is(err, ErrValidation):
		return ErrorKindValidation
	case errors.Is(err, ErrProviderRateLimited):
		return ErrorKindRateLimited
	case errors.Is(err, ErrProviderUnavailable):
		return ErrorKindUnavailable
	case errors.Is(err, ErrInvalidRequest):
		return ErrorKindInvalidRequest
	case errors.Is(err, ErrTimeout), errors.Is(err, context.DeadlineExceeded):
		return ErrorKindTimeout
	case errors.Is(err, context.Canceled):
		return ErrorKindCanceled
	default:
		return ErrorKindInternal
	}
}

// IsTransient reports whether err is worth retrying.
func IsTransient(err error) bool {
	switch KindOf(err) {
	case ErrorKindRateLimited, ErrorKindUnavailable, ErrorKindTimeout:
		return true
	default:
		return false
	}
}
