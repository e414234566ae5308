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


// Package retry runs operations with exponential backoff.
package retry

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/poiesic/conductor/core"
)

// ErrInvalidMaxAttempts is returned when maxAttempts is not positive.
var ErrInvalidMaxAttempts = errors.New("maxAttempts must be greater than 0")

// Policy controls how an operation is retried.
type Policy struct {
	// MaxAttempts is the total number of attempts, including the first.
	MaxAttempts int

	// BaseDelay is the delay before the second attempt. It doubles on each retry.
	BaseDelay time.Duration

	// MaxDelay caps the delay between attempts. Zero means no cap.
	MaxDelay time.Duration

	// Retryable decides whether a failed attempt is worth repeating.
	// Nil retries every error.
	Retryable func(error) bool
}

// DefaultPolicy retries transient provider failures five times starting at 500ms.
func DefaultPolicy() Policy {
	return Policy{
		MaxAttempts: 5,
		BaseDelay:   500 * time.Millisecond,
		MaxDelay:    30 * time.Second,
		Retryable:   core.IsTransient,
	}
}

// Do runs operation until it succeeds, fails with a non-retryable error, the
// attempts are exhausted or ctx is done. A rate-limited operation that never
// recovers is reported as core.ErrProviderUnavailable.
func Do(ctx context.Context, p Policy, operation func(ctx context.Context) error) (int, error) {
	if p.MaxAttempts <= 0 {
		return 0, ErrInvalidMaxAttempts
	}

	var lastErr error
	attempt := 1
	for ; attempt <= p.MaxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return attempt - 1, err
		}

		lastErr = operation(ctx)
		if lastErr == nil {
			if attempt > 1 {
				slog.Debug("operation succeeded after retry", "attempt", attempt)
			}
			return attempt, nil
		}
		if p.Retryable != nil && !p.Retryable(lastErr) {
			return attempt, lastErr
		}

		slog.Debug("operation failed, will retry", "attempt", attempt, "maxAttempts", p.MaxAttempts, "error", lastErr)

		if attempt == p.MaxAttempts {
			break
		}

		timer := time.NewTimer(p.delay(attempt))
		select {
		case <-ctx.Done():
			timer.Stop()
			return attempt, ctx.Err()
		case <-timer.C:
		}
	}

	if core.KindOf(lastErr) == core.ErrorKindRateLimited {
		return p.MaxAttempts, fmt.Errorf("%w: still rate limited after %d attempts: %v",
			core.ErrProviderUnavailable, p.MaxAttempts, lastErr)
	}
	return p.MaxAttempts, lastErr
}

// delay returns BaseDelay * 2^(attempt-1), capped at MaxDelay.
func (p Policy) delay(attempt int) time.Duration {
	d := p.BaseDelay
	for i := 1; i < attempt; i++ {
		d *= 2
		if p.MaxDelay > 0 && d >= p.MaxDelay {
			return p.MaxDelay
		}
	}
	return d
}
