package capability

import (
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/poiesic/conductor/core"
)

// DefaultTimeout bounds one invocation unless a per-capability timeout is set.
const DefaultTimeout = 30 * time.Second

// Registry resolves capability kinds to executors. Register executors at
// startup; Resolve is safe for concurrent use.
type Registry struct {
	mu             sync.RWMutex
	executors      map[core.Capability]Executor
	timeouts       map[core.Capability]time.Duration
	defaultTimeout time.Duration
	logger         *slog.Logger
}

// Option configures a Registry.
type Option func(*Registry)

// WithDefaultTimeout sets the invocation timeout for capabilities without their own.
func WithDefaultTimeout(d time.Duration) Option {
	return func(r *Registry) {
		if d > 0 {
			r.defaultTimeout = d
		}
	}
}

// WithTimeout sets the invocation timeout for one capability.
func WithTimeout(c core.Capability, d time.Duration) Option {
	return func(r *Registry) {
		if d > 0 {
			r.timeouts[c] = d
		}
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(r *Registry) {
		if logger != nil {
			r.logger = logger
		}
	}
}

// NewRegistry creates an empty registry.
func NewRegistry(opts ...Option) *Registry {
	r := &Registry{
		executors:      make(map[core.Capability]Executor),
		timeouts:       make(map[core.Capability]time.Duration),
		defaultTimeout: DefaultTimeout,
		logger:         slog.Default(),
	}
	for _, opt := range opts {
		opt(r)
	}
	r.logger = r.logger.With("component", "capability-registry")
	return r
}

// Register adds an executor for its capability kind. Unknown kinds and
// kinds that already have an executor are rejected.
func (r *Registry) Register(exec Executor) error {
	if exec == nil {
		return ErrExecutorRequired
	}
	kind, err := core.ParseCapability(string(exec.Capability()))
	if err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.executors[kind]; ok {
		return fmt.Errorf("%w: %s", ErrAlreadyRegistered, kind)
	}
	r.executors[kind] = exec
	r.logger.Debug("registered executor", "capability", kind)
	return nil
}

// Resolve returns the executor for c.
func (r *Registry) Resolve(c core.Capability) (Executor, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	exec, ok := r.executors[c]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotRegistered, c)
	}
	return exec, nil
}

// Timeout returns the invocation timeout for c.
func (r *Registry) Timeout(c core.Capability) time.Duration {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if d, ok := r.timeouts[c]; ok {
		return d
	}
	return r.defaultTimeout
}

// Kinds lists registered capabilities in sorted order.
func (r *Registry) Kinds() []core.Capability {
	r.mu.RLock()
	defer r.mu.RUnlock()
	kinds := make([]core.Capability, 0, len(r.executors))
	for k := range r.executors {
		kinds = append(kinds, k)
	}
	slices.Sort(kinds)
	return kinds
}

// Validate fails unless every listed capability has an executor. Call it at
// startup with the kinds the configured planner may emit.
func (r *Registry) Validate(kinds ...core.Capability) error {
	for _, k := range kinds {
		if _, err := r.Resolve(k); err != nil {
			return err
		}
	}
	return nil
}
