// Package ratelimit provides the shared token bucket that keeps embedding
// traffic under an external requests-per-window ceiling.
package ratelimit

import (
	"context"
	"errors"
	"time"

	"golang.org/x/time/rate"
)

// ErrInvalidLimit is returned for a non-positive limit or window.
var ErrInvalidLimit = errors.New("rate limit and window must be positive")

// Limiter admits at most Limit events in any window of length Window.
//
// The bucket holds a single token refilled every Window/Limit, so no burst can
// exceed the ceiling even when the limiter has been idle. It is safe for
// concurrent use and is meant to be shared by every caller of one provider.
type Limiter struct {
	limiter *rate.Limiter
	limit   int
	window  time.Duration
}

// New creates a limiter admitting limit events per window.
func New(limit int, window time.Duration) (*Limiter, error) {
	if limit <= 0 || window <= 0 {
		return nil, ErrInvalidLimit
	}
	every := rate.Every(window / time.Duration(limit))
	return &Limiter{
		limiter: rate.NewLimiter(every, 1),
		limit:   limit,
		window:  window,
	}, nil
}

// PerMinute creates a limiter admitting rpm events per minute.
func PerMinute(rpm int) (*Limiter, error) {
	return New(rpm, time.Minute)
}

// Wait blocks until an event is admitted or ctx is done.
func (l *Limiter) Wait(ctx context.Context) error {
	return l.limiter.Wait(ctx)
}

// Allow reports whether an event may happen now without waiting.
func (l *Limiter) Allow() bool {
	return l.limiter.Allow()
}

// Limit returns the configured events per window.
func (l *Limiter) Limit() int {
	return l.limit
}

// Window returns the configured window.
func (l *Limiter) Window() time.Duration {
	return l.window
}
