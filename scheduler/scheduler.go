package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime"
	"time"

	"github.com/panjf2000/ants/v2"

	"github.com/poiesic/conductor/capability"
	"github.com/poiesic/conductor/core"
)

// DefaultPlanDeadline bounds the execution of a whole plan.
const DefaultPlanDeadline = 120 * time.Second

// Registry resolves executors and their timeouts. *capability.Registry
// implements it.
type Registry interface {
	Resolve(c core.Capability) (capability.Executor, error)
	Timeout(c core.Capability) time.Duration
}

// Scheduler runs ExecutionPlans. One Scheduler can execute many plans at
// once; they share its worker pool.
type Scheduler struct {
	registry Registry
	pool     *ants.Pool
	deadline time.Duration
	metrics  *Metrics
	logger   *slog.Logger
}

// Option configures a Scheduler.
type Option func(*Scheduler) error

// WithPoolSize sets how many nodes may run at once across all plans.
// Default is runtime.NumCPU() * 4, with a minimum of 4.
func WithPoolSize(size int) Option {
	return func(s *Scheduler) error {
		if size < 1 {
			size = 1
		}
		pool, err := ants.NewPool(size)
		if err != nil {
			return err
		}
		if s.pool != nil {
			s.pool.Release()
		}
		s.pool = pool
		return nil
	}
}

// WithPlanDeadline sets the overall plan deadline.
func WithPlanDeadline(d time.Duration) Option {
	return func(s *Scheduler) error {
		if d <= 0 {
			return fmt.Errorf("%w: plan deadline must be positive", core.ErrValidation)
		}
		s.deadline = d
		return nil
	}
}

// WithMetrics sets the Prometheus collectors.
func WithMetrics(m *Metrics) Option {
	return func(s *Scheduler) error {
		if m != nil {
			s.metrics = m
		}
		return nil
	}
}

// WithLogger sets a custom logger.
// Default is slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(s *Scheduler) error {
		if logger == nil {
			logger = slog.Default()
		}
		s.logger = logger
		return nil
	}
}

// NewScheduler creates a scheduler dispatching to registry.
func NewScheduler(registry Registry, opts ...Option) (*Scheduler, error) {
	if registry == nil {
		return nil, ErrRegistryRequired
	}

	poolSize := runtime.NumCPU() * 4
	if poolSize < 4 {
		poolSize = 4
	}
	pool, err := ants.NewPool(poolSize)
	if err != nil {
		return nil, err
	}

	s := &Scheduler{
		registry: registry,
		pool:     pool,
		deadline: DefaultPlanDeadline,
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		if optErr := opt(s); optErr != nil {
			s.Release()
			return nil, optErr
		}
	}
	if s.metrics == nil {
		s.metrics = NewMetrics(nil)
	}
	s.logger = s.logger.With("component", "scheduler")
	return s, nil
}

// Release stops the worker pool. Executions in progress are not waited for.
func (s *Scheduler) Release() {
	if s.pool != nil {
		s.pool.Release()
	}
}

// completion is what a worker reports back to the event loop.
type completion struct {
	id         core.NodeID
	output     *core.Output
	err        error
	startedAt  time.Time
	finishedAt time.Time
}

// execution is the state of one plan run. Only the event loop touches it.
type execution struct {
	plan      *core.ExecutionPlan
	order     []core.NodeID
	executors map[core.NodeID]capability.Executor
	status    map[core.NodeID]core.NodeStatus
	results   map[core.NodeID]*core.AgentInvocationResult
	running   int
}

// Execute runs plan to completion and returns every node's outcome.
//
// Malformed plans fail with core.ErrValidation and cyclic or unresolvable
// plans with core.ErrPlanning; in both cases nothing runs. Once execution
// starts, Execute always returns a PlanResult and a nil error.
func (s *Scheduler) Execute(ctx context.Context, plan *core.ExecutionPlan) (*core.PlanResult, error) {
	if err := plan.Validate(); err != nil {
		return nil, err
	}
	order, err := plan.TopologicalOrder()
	if err != nil {
		return nil, err
	}

	ex := &execution{
		plan:      plan,
		order:     order,
		executors: make(map[core.NodeID]capability.Executor, len(plan.Nodes)),
		status:    make(map[core.NodeID]core.NodeStatus, len(plan.Nodes)),
		results:   make(map[core.NodeID]*core.AgentInvocationResult, len(plan.Nodes)),
	}
	for _, n := range plan.Nodes {
		exec, err := s.registry.Resolve(n.Capability)
		if err != nil {
			return nil, fmt.Errorf("%w: node %s: %w", core.ErrPlanning, n.ID, err)
		}
		ex.executors[n.ID] = exec
		ex.status[n.ID] = core.NodePending
	}

	logger := s.logger.With("plan_id", plan.ID)
	logger.Debug("executing plan", "nodes", len(plan.Nodes))

	result := &core.PlanResult{PlanID: plan.ID, Status: core.PlanExecuting, StartedAt: time.Now()}

	planCtx, cancel := context.WithTimeout(ctx, s.deadline)
	defer cancel()

	// Buffered so abandoned workers never block after the loop returns.
	done := make(chan completion, len(plan.Nodes))

	for {
		if err := planCtx.Err(); err != nil {
			s.expire(ex, err, logger)
			break
		}
		s.dispatch(planCtx, ex, done, logger)
		if ex.running == 0 {
			break
		}

		select {
		case c := <-done:
			ex.running--
			s.record(ex, c, logger)
		case <-planCtx.Done():
		}
	}

	result.Results = ex.results
	result.FinishedAt = time.Now()
	result.Status = planStatus(ex.results)
	s.metrics.PlansTotal.WithLabelValues(string(result.Status)).Inc()
	logger.Info("plan finished",
		"status", result.Status,
		"nodes", len(plan.Nodes),
		"duration", result.FinishedAt.Sub(result.StartedAt))
	return result, nil
}

// dispatch skips nodes whose hard dependencies did not succeed and starts
// every node whose dependencies are all terminal. Skips cascade because
// order is topological.
func (s *Scheduler) dispatch(ctx context.Context, ex *execution, done chan<- completion, logger *slog.Logger) {
	for _, id := range ex.order {
		if ex.status[id] != core.NodePending {
			continue
		}
		node, _ := ex.plan.Node(id)

		ready := true
		var failedDep core.NodeID
		for _, dep := range node.DependsOn {
			st := ex.status[dep]
			if !st.Terminal() {
				ready = false
				continue
			}
			if st != core.NodeSucceeded && failedDep == "" {
				failedDep = dep
			}
		}
		if failedDep != "" {
			s.skip(ex, node, core.ErrorKindDependencyFailed,
				fmt.Sprintf("dependency %s %s", failedDep, ex.status[failedDep]), logger)
			continue
		}
		for _, dep := range node.OptionalDependsOn {
			if !ex.status[dep].Terminal() {
				ready = false
			}
		}
		if !ready {
			continue
		}

		s.start(ctx, ex, node, done, logger)
	}
}

func (s *Scheduler) start(ctx context.Context, ex *execution, node *core.PlanNode, done chan<- completion, logger *slog.Logger) {
	inv := &core.Invocation{
		PlanID:       ex.plan.ID,
		Message:      ex.plan.Message,
		Node:         node,
		Upstream:     make(map[core.NodeID]*core.Output),
		Conversation: ex.plan.Conversation,
	}
	for _, dep := range node.Dependencies() {
		if r := ex.results[dep]; r != nil && r.Status == core.NodeSucceeded {
			inv.Upstream[dep] = r.Output
		}
	}

	exec := ex.executors[node.ID]
	timeout := s.registry.Timeout(node.Capability)
	id := node.ID

	ex.status[id] = core.NodeRunning
	ex.results[id] = &core.AgentInvocationResult{
		NodeID:     id,
		Capability: node.Capability,
		Status:     core.NodeRunning,
		StartedAt:  time.Now(),
	}
	ex.running++
	logger.Debug("node started", "node", id, "capability", node.Capability, "timeout", timeout)

	task := func() {
		started := time.Now()
		if err := ctx.Err(); err != nil {
			// the plan was settled while this node waited for a worker
			done <- completion{id: id, err: planError(err), startedAt: started, finishedAt: started}
			return
		}
		out, err := invoke(ctx, exec, inv, timeout)
		done <- completion{id: id, output: out, err: err, startedAt: started, finishedAt: time.Now()}
	}
	// Submit blocks while the shared pool is full. The event loop keeps
	// watching the plan deadline meanwhile.
	go func() {
		if err := s.pool.Submit(task); err != nil {
			done <- completion{
				id:         id,
				err:        fmt.Errorf("%w: worker pool: %w", core.ErrProviderUnavailable, err),
				startedAt:  time.Now(),
				finishedAt: time.Now(),
			}
		}
	}()
}

// invoke runs one executor under its timeout. An executor that ignores its
// context is abandoned when the timeout fires.
func invoke(ctx context.Context, exec capability.Executor, inv *core.Invocation, timeout time.Duration) (*core.Output, error) {
	nodeCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	type outcome struct {
		out *core.Output
		err error
	}
	ch := make(chan outcome, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				ch <- outcome{err: fmt.Errorf("executor panicked: %v", r)}
			}
		}()
		out, err := exec.Invoke(nodeCtx, inv)
		ch <- outcome{out: out, err: err}
	}()

	select {
	case o := <-ch:
		if o.err == nil {
			if o.out == nil {
				o.out = &core.Output{}
			}
			return o.out, nil
		}
		if cause := ctx.Err(); cause != nil {
			return nil, fmt.Errorf("%w: %w", planError(cause), o.err)
		}
		return nil, o.err
	case <-nodeCtx.Done():
		if cause := ctx.Err(); cause != nil {
			return nil, planError(cause)
		}
		return nil, fmt.Errorf("%w: %s exceeded %s", core.ErrTimeout, inv.Node.Capability, timeout)
	}
}

// planError wraps the plan context's error with the matching sentinel.
func planError(cause error) error {
	if errors.Is(cause, context.Canceled) {
		return fmt.Errorf("%w: %w", ErrPlanCanceled, cause)
	}
	return fmt.Errorf("%w: %w", ErrDeadlineExceeded, cause)
}

// record stores a worker's outcome. Completions for nodes the deadline
// already settled are dropped.
func (s *Scheduler) record(ex *execution, c completion, logger *slog.Logger) {
	if ex.status[c.id] != core.NodeRunning {
		return
	}
	r := ex.results[c.id]
	r.StartedAt = c.startedAt
	r.FinishedAt = c.finishedAt

	switch kind := core.KindOf(c.err); {
	case c.err == nil:
		r.Status = core.NodeSucceeded
		r.Output = c.output
	case kind == core.ErrorKindTimeout:
		r.Status = core.NodeTimedOut
		r.ErrorKind = kind
		r.Err = c.err
		r.Reason = c.err.Error()
	default:
		r.Status = core.NodeFailed
		r.ErrorKind = kind
		r.Err = c.err
		r.Reason = c.err.Error()
	}
	ex.status[c.id] = r.Status

	s.metrics.NodesTotal.WithLabelValues(string(r.Capability), string(r.Status)).Inc()
	s.metrics.NodeDuration.WithLabelValues(string(r.Capability)).Observe(r.FinishedAt.Sub(r.StartedAt).Seconds())
	if c.err != nil {
		logger.Warn("node failed", "node", c.id, "capability", r.Capability, "status", r.Status, "error", c.err)
	} else {
		logger.Debug("node succeeded", "node", c.id, "capability", r.Capability)
	}
}

func (s *Scheduler) skip(ex *execution, node *core.PlanNode, kind core.ErrorKind, reason string, logger *slog.Logger) {
	ex.status[node.ID] = core.NodeSkipped
	ex.results[node.ID] = &core.AgentInvocationResult{
		NodeID:     node.ID,
		Capability: node.Capability,
		Status:     core.NodeSkipped,
		ErrorKind:  kind,
		Reason:     reason,
	}
	s.metrics.NodesTotal.WithLabelValues(string(node.Capability), string(core.NodeSkipped)).Inc()
	logger.Debug("node skipped", "node", node.ID, "reason", reason)
}

// expire settles every unfinished node once the plan context ends. Running
// nodes time out (or fail, on caller cancellation); pending nodes are skipped.
func (s *Scheduler) expire(ex *execution, cause error, logger *slog.Logger) {
	err := planError(cause)
	sentinel, kind, runningStatus := ErrDeadlineExceeded, core.ErrorKindTimeout, core.NodeTimedOut
	if errors.Is(err, ErrPlanCanceled) {
		sentinel, kind, runningStatus = ErrPlanCanceled, core.ErrorKindCanceled, core.NodeFailed
	}
	logger.Warn("plan cut short", "reason", sentinel.Error(), "running", ex.running)

	now := time.Now()
	for _, id := range ex.order {
		switch ex.status[id] {
		case core.NodeRunning:
			r := ex.results[id]
			r.Status = runningStatus
			r.ErrorKind = kind
			r.Err = err
			r.Reason = sentinel.Error()
			r.FinishedAt = now
			ex.status[id] = runningStatus
			s.metrics.NodesTotal.WithLabelValues(string(r.Capability), string(runningStatus)).Inc()
		case core.NodePending:
			node, _ := ex.plan.Node(id)
			s.skip(ex, node, kind, sentinel.Error(), logger)
		}
	}
	ex.running = 0
}

func planStatus(results map[core.NodeID]*core.AgentInvocationResult) core.PlanStatus {
	succeeded := 0
	for _, r := range results {
		if r.Status == core.NodeSucceeded {
			succeeded++
		}
	}
	switch {
	case succeeded == len(results):
		return core.PlanCompleted
	case succeeded == 0:
		return core.PlanAborted
	default:
		return core.PlanPartiallyCompleted
	}
}
