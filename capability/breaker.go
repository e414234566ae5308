package capability

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/sony/gobreaker"

	"github.com/poiesic/conductor/core"
)

// BreakerConfig holds circuit breaker settings.
type BreakerConfig struct {
	MaxRequests      uint32
	Interval         time.Duration
	Timeout          time.Duration
	FailureThreshold float64
	MinRequests      uint32
}

// DefaultBreakerConfig returns settings suited to slow external APIs.
func DefaultBreakerConfig() BreakerConfig {
	return BreakerConfig{
		MaxRequests:      1,
		Interval:         time.Minute,
		Timeout:          30 * time.Second,
		FailureThreshold: 0.6,
		MinRequests:      3,
	}
}

type breakerExecutor struct {
	next Executor
	cb   *gobreaker.CircuitBreaker
}

// WithCircuitBreaker wraps exec so that repeated transient failures open the
// circuit. While open, invocations fail immediately with ErrProviderUnavailable.
// Invalid requests and cancellations do not count as failures.
func WithCircuitBreaker(exec Executor, cfg BreakerConfig, logger *slog.Logger) Executor {
	if logger == nil {
		logger = slog.Default()
	}
	name := string(exec.Capability())
	cb := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        name,
		MaxRequests: cfg.MaxRequests,
		Interval:    cfg.Interval,
		Timeout:     cfg.Timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			if counts.Requests < cfg.MinRequests {
				return false
			}
			return float64(counts.TotalFailures)/float64(counts.Requests) >= cfg.FailureThreshold
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("circuit breaker state changed", "capability", name, "from", from.String(), "to", to.String())
		},
		IsSuccessful: func(err error) bool {
			return err == nil || !core.IsTransient(err)
		},
	})
	return &breakerExecutor{next: exec, cb: cb}
}

func (b *breakerExecutor) Capability() core.Capability { return b.next.Capability() }

func (b *breakerExecutor) Invoke(ctx context.Context, inv *core.Invocation) (*core.Output, error) {
	res, err := b.cb.Execute(func() (interface{}, error) {
		return b.next.Invoke(ctx, inv)
	})
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return nil, fmt.Errorf("%w: %s: %w", core.ErrProviderUnavailable, b.cb.Name(), err)
	}
	if err != nil {
		return nil, err
	}
	out, _ := res.(*core.Output)
	return out, nil
}
