package pipeline

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync/atomic"
	"time"

	"github.com/songzhibin97/gkit/generator"

	"github.com/alexpron/mri-processing/events"
	"github.com/alexpron/mri-processing/storage"
	"github.com/alexpron/mri-processing/types"
)

// Executor runs flattened graphs. The graph is read-only during execution;
// all per-run state lives in a fresh executionState, mutated only by the
// scheduler loop, so node invocations may proceed concurrently while status
// transitions stay serialized.
type Executor struct {
	workers int
	gen     generator.Generator
	bus     *events.EventBus
	store   storage.RunStore
	counter uint64
}

// Option configures an Executor.
type Option func(*Executor)

// WithWorkers bounds the number of nodes running concurrently. The default
// is 1 (sequential execution).
func WithWorkers(n int) Option {
	return func(e *Executor) {
		if n > 0 {
			e.workers = n
		}
	}
}

// WithGenerator sets the run ID generator.
func WithGenerator(gen generator.Generator) Option {
	return func(e *Executor) { e.gen = gen }
}

// WithEventBus publishes node and run lifecycle events to the given bus.
func WithEventBus(bus *events.EventBus) Option {
	return func(e *Executor) { e.bus = bus }
}

// WithStore persists a run report at the end of every execution.
func WithStore(store storage.RunStore) Option {
	return func(e *Executor) { e.store = store }
}

// NewExecutor creates an executor. All options are optional; without them
// runs are sequential, run IDs come from a process-local counter, and no
// events or reports are emitted.
func NewExecutor(options ...Option) *Executor {
	e := &Executor{workers: 1}
	for _, option := range options {
		option(e)
	}
	return e
}

// Result is the outcome of one graph execution.
type Result struct {
	RunID    uint64
	Status   string // types.RunCompleted or types.RunPartialFailure
	Outputs  map[string]types.Value
	Nodes    map[string]types.NodeResult
	Failures map[string]*NodeError
}

// Succeeded reports whether every node reached done.
func (r *Result) Succeeded() bool {
	return r.Status == types.RunCompleted
}

// FirstFailure returns the failure of the lexicographically first failed
// node, or nil if the run succeeded.
func (r *Result) FirstFailure() *NodeError {
	if len(r.Failures) == 0 {
		return nil
	}
	ids := make([]string, 0, len(r.Failures))
	for id := range r.Failures {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return r.Failures[ids[0]]
}

// executionState is the per-run mutable record. It is created fresh for
// every Run call and owns no cross-run state.
type executionState struct {
	status    map[string]string
	bound     map[string]map[string]types.Value
	remaining map[string]int
	succs     map[string][]types.Connection
	outVals   map[string]map[string]types.Value
	results   map[string]types.NodeResult
	failures  map[string]*NodeError
	ready     []string
	terminal  int
}

type nodeDone struct {
	id  string
	out map[string]types.Value
	err *NodeError
}

// Run executes the graph once with the given initial input values bound to
// the graph's exposed input ports. It returns an error up front for invalid
// bindings; execution-time node failures are aggregated into the Result
// instead. A node never runs before all of its predecessors are done; when
// a node fails, everything downstream of it is marked failed without
// running, while independent branches continue.
func (e *Executor) Run(ctx context.Context, g *Graph, inputs map[string]types.Value) (*Result, error) {
	runID, err := e.nextRunID()
	if err != nil {
		return nil, fmt.Errorf("failed to generate run ID: %w", err)
	}

	st, err := newExecutionState(g, inputs)
	if err != nil {
		return nil, err
	}

	startedAt := time.Now().UnixMilli()
	doneCh := make(chan nodeDone)
	running := 0

	for st.terminal < len(g.Nodes) {
		if ctx.Err() == nil {
			for len(st.ready) > 0 && running < e.workers {
				id := st.ready[0]
				st.ready = st.ready[1:]
				st.status[id] = types.StatusRunning
				e.publish(ctx, events.Event{Type: events.EventNodeStarted, RunID: runID, NodeID: id})
				running++
				go func(id string, node Node, in map[string]types.Value) {
					out, nerr := e.invoke(ctx, id, node, in)
					doneCh <- nodeDone{id: id, out: out, err: nerr}
				}(id, g.Nodes[id], st.bound[id])
			}
		}
		if running == 0 {
			break
		}
		d := <-doneCh
		running--
		e.settle(ctx, runID, st, d)
	}

	// Whatever never got dispatched was cut off by cancellation.
	for id, s := range st.status {
		if s == types.StatusPending || s == types.StatusReady {
			st.fail(id, &NodeError{NodeID: id, Reason: ReasonCancelled, Err: ctx.Err()})
		}
	}

	res := &Result{
		RunID:    runID,
		Status:   types.RunCompleted,
		Outputs:  make(map[string]types.Value),
		Nodes:    st.results,
		Failures: st.failures,
	}
	if len(st.failures) > 0 {
		res.Status = types.RunPartialFailure
	}
	for name, ep := range g.Outputs {
		if ep.Node == "" {
			if v, ok := inputs[ep.Port]; ok {
				res.Outputs[name] = v
			}
			continue
		}
		if vals, ok := st.outVals[ep.Node]; ok {
			if v, ok := vals[ep.Port]; ok {
				res.Outputs[name] = v
			}
		}
	}

	e.publish(ctx, events.Event{
		Type:  events.EventRunCompleted,
		RunID: runID,
		Data:  map[string]interface{}{"status": res.Status, "failed": len(st.failures)},
	})

	if e.store != nil {
		report := types.RunReport{
			ID:        runID,
			Pipeline:  g.Name,
			Status:    res.Status,
			Nodes:     st.results,
			Outputs:   res.Outputs,
			StartedAt: startedAt,
			EndedAt:   time.Now().UnixMilli(),
		}
		if err := e.store.SaveRun(ctx, report); err != nil {
			return res, fmt.Errorf("failed to save run report: %w", err)
		}
	}
	return res, nil
}

func (e *Executor) nextRunID() (uint64, error) {
	if e.gen != nil {
		return e.gen.NextID()
	}
	return atomic.AddUint64(&e.counter, 1), nil
}

func newExecutionState(g *Graph, inputs map[string]types.Value) (*executionState, error) {
	for name := range inputs {
		if _, ok := g.Inputs[name]; !ok {
			return nil, fmt.Errorf("%w: no exposed input %q", ErrUnknownPort, name)
		}
	}

	st := &executionState{
		status:    make(map[string]string, len(g.Nodes)),
		bound:     make(map[string]map[string]types.Value),
		remaining: make(map[string]int, len(g.Nodes)),
		succs:     make(map[string][]types.Connection),
		outVals:   make(map[string]map[string]types.Value),
		results:   make(map[string]types.NodeResult, len(g.Nodes)),
		failures:  make(map[string]*NodeError),
	}
	for id := range g.Nodes {
		st.status[id] = types.StatusPending
		st.bound[id] = make(map[string]types.Value)
	}

	connected := make(map[Endpoint]bool)
	for _, c := range g.Connections {
		st.remaining[c.DestNode]++
		st.succs[c.SourceNode] = append(st.succs[c.SourceNode], c)
		connected[Endpoint{Node: c.DestNode, Port: c.DestPort}] = true
	}
	for name, eps := range g.Inputs {
		v, ok := inputs[name]
		if !ok {
			continue
		}
		for _, ep := range eps {
			st.bound[ep.Node][ep.Port] = v
			connected[ep] = true
		}
	}

	ids := make([]string, 0, len(g.Nodes))
	for id := range g.Nodes {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	for _, id := range ids {
		for _, p := range g.Nodes[id].InputPorts() {
			if !connected[Endpoint{Node: id, Port: p}] {
				return nil, fmt.Errorf("%w: %s.%s", ErrUnboundInput, id, p)
			}
		}
		if st.remaining[id] == 0 {
			st.status[id] = types.StatusReady
			st.ready = append(st.ready, id)
		}
	}
	return st, nil
}

// settle applies one node completion to the state and unlocks or fails its
// dependents.
func (e *Executor) settle(ctx context.Context, runID uint64, st *executionState, d nodeDone) {
	if d.err != nil {
		st.fail(d.id, d.err)
		e.publish(ctx, events.Event{
			Type: events.EventNodeFailed, RunID: runID, NodeID: d.id,
			Data: map[string]interface{}{"reason": d.err.Reason},
		})
		st.propagateFailure(d.id)
		return
	}

	st.status[d.id] = types.StatusDone
	st.outVals[d.id] = d.out
	st.results[d.id] = types.NodeResult{NodeID: d.id, Status: types.StatusDone, Outputs: d.out}
	st.terminal++
	e.publish(ctx, events.Event{Type: events.EventNodeSucceeded, RunID: runID, NodeID: d.id})

	for _, c := range st.succs[d.id] {
		st.bound[c.DestNode][c.DestPort] = d.out[c.SourcePort]
		st.remaining[c.DestNode]--
		if st.remaining[c.DestNode] == 0 && st.status[c.DestNode] == types.StatusPending {
			st.status[c.DestNode] = types.StatusReady
			st.ready = append(st.ready, c.DestNode)
		}
	}
}

func (st *executionState) fail(id string, nerr *NodeError) {
	st.status[id] = types.StatusFailed
	st.failures[id] = nerr
	st.results[id] = types.NodeResult{
		NodeID: id,
		Status: types.StatusFailed,
		Reason: nerr.Reason,
		Error:  nerr.Error(),
	}
	st.terminal++
}

// propagateFailure marks every node transitively depending on the failed
// node as failed without running it. Fail-fast per branch: unrelated nodes
// are untouched.
func (st *executionState) propagateFailure(failed string) {
	stack := []string{failed}
	for len(stack) > 0 {
		id := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		for _, c := range st.succs[id] {
			dep := c.DestNode
			if s := st.status[dep]; s != types.StatusPending && s != types.StatusReady {
				continue
			}
			st.fail(dep, &NodeError{
				NodeID: dep,
				Reason: ReasonUpstreamFailed,
				Err:    fmt.Errorf("upstream node %q failed", failed),
			})
			stack = append(stack, dep)
		}
	}
	// A failed node may already sit in the ready queue; drop it.
	kept := st.ready[:0]
	for _, id := range st.ready {
		if st.status[id] == types.StatusReady {
			kept = append(kept, id)
		}
	}
	st.ready = kept
}

// invoke runs one node, honoring its timeout hint and retry policy. Run is
// required to be idempotent, so retrying on failure is safe.
func (e *Executor) invoke(ctx context.Context, id string, node Node, in map[string]types.Value) (map[string]types.Value, *NodeError) {
	var (
		maxRetries int
		delay      time.Duration
		timeout    time.Duration
	)
	if r, ok := node.(Retryable); ok {
		maxRetries, delay = r.RetryPolicy()
	}
	if th, ok := node.(TimeoutHinter); ok {
		timeout = th.RunTimeout()
	}

	var lastErr *NodeError
	for attempt := 0; attempt <= maxRetries; attempt++ {
		rctx := ctx
		var cancel context.CancelFunc
		if timeout > 0 {
			rctx, cancel = context.WithTimeout(ctx, timeout)
		}
		out, err := safeRun(rctx, node, in)
		if err == nil {
			err = checkOutputs(id, node, out)
			if err == nil {
				if cancel != nil {
					cancel()
				}
				return out, nil
			}
		}
		lastErr = e.classify(id, rctx, err)
		if cancel != nil {
			cancel()
		}
		if lastErr.Reason == ReasonCancelled {
			return nil, lastErr
		}
		if attempt < maxRetries && delay > 0 {
			select {
			case <-ctx.Done():
				return nil, &NodeError{NodeID: id, Reason: ReasonCancelled, Err: ctx.Err()}
			case <-time.After(delay):
			}
		}
	}
	return nil, lastErr
}

// safeRun converts a panicking node into an ordinary failure.
func safeRun(ctx context.Context, node Node, in map[string]types.Value) (out map[string]types.Value, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic occurred: %v", r)
		}
	}()
	return node.Run(ctx, in)
}

// checkOutputs verifies the node returned a value for every declared output
// port. A successful run with a missing output value is a failure, not a
// silently accepted no-op.
func checkOutputs(id string, node Node, out map[string]types.Value) error {
	for _, p := range node.OutputPorts() {
		if _, ok := out[p]; !ok {
			return &NodeError{
				NodeID: id,
				Reason: ReasonMissingOutput,
				Err:    fmt.Errorf("no value returned for output port %q", p),
			}
		}
	}
	return nil
}

func (e *Executor) classify(id string, rctx context.Context, err error) *NodeError {
	var nerr *NodeError
	if errors.As(err, &nerr) {
		// Node implementations only know their local id; report the
		// flattened one.
		nerr.NodeID = id
		return nerr
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(rctx.Err(), context.DeadlineExceeded) {
		return &NodeError{NodeID: id, Reason: ReasonTimeout, Err: err}
	}
	if errors.Is(err, context.Canceled) || errors.Is(rctx.Err(), context.Canceled) {
		return &NodeError{NodeID: id, Reason: ReasonCancelled, Err: err}
	}
	return &NodeError{NodeID: id, Reason: ReasonRunError, Err: err}
}

func (e *Executor) publish(ctx context.Context, event events.Event) {
	if e.bus == nil {
		return
	}
	// Best effort: a full bus or missing subscriber never affects the run.
	_ = e.bus.Publish(context.WithoutCancel(ctx), event)
}
