package pipeline

import (
	"context"
	"time"

	"github.com/alexpron/mri-processing/types"
)

// Node is the smallest schedulable unit of work. A node declares its ports
// up front; Run is only ever invoked by the executor, after every declared
// input port has a bound value, and must be idempotent given identical
// inputs. Run returns one value per declared output port.
type Node interface {
	ID() string
	InputPorts() []string
	OutputPorts() []string
	Run(ctx context.Context, inputs map[string]types.Value) (map[string]types.Value, error)
}

// TimeoutHinter is implemented by nodes that want a per-invocation deadline.
// On expiry the node is marked failed with reason timeout.
type TimeoutHinter interface {
	RunTimeout() time.Duration
}

// Retryable is implemented by nodes that may be re-invoked on failure.
// RetryPolicy returns the maximum number of retries and the delay between
// attempts.
type Retryable interface {
	RetryPolicy() (maxRetries int, delay time.Duration)
}

// RunFunc is the execution function of a FuncNode.
type RunFunc func(ctx context.Context, inputs map[string]types.Value) (map[string]types.Value, error)

// FuncNode is an atomic node backed by a plain function.
type FuncNode struct {
	id      string
	inputs  []string
	outputs []string
	fn      RunFunc

	Timeout    time.Duration
	MaxRetries int
	RetryDelay time.Duration
}

// NewFuncNode builds an atomic node with the given ports and run function.
func NewFuncNode(id string, inputs, outputs []string, fn RunFunc) *FuncNode {
	return &FuncNode{id: id, inputs: inputs, outputs: outputs, fn: fn}
}

func (n *FuncNode) ID() string            { return n.id }
func (n *FuncNode) InputPorts() []string  { return n.inputs }
func (n *FuncNode) OutputPorts() []string { return n.outputs }

func (n *FuncNode) RunTimeout() time.Duration { return n.Timeout }

func (n *FuncNode) RetryPolicy() (int, time.Duration) { return n.MaxRetries, n.RetryDelay }

func (n *FuncNode) Run(ctx context.Context, inputs map[string]types.Value) (map[string]types.Value, error) {
	return n.fn(ctx, inputs)
}

// identityNode passes each input through to the same-named output. Every
// workflow owns two of them as its inputnode/outputnode facades; flattening
// contracts them away.
type identityNode struct {
	id     string
	fields []string
}

// NewIdentityNode builds a pass-through node whose outputs equal its inputs
// by name. Identity nodes added explicitly to a workflow (as opposed to the
// built-in facades) survive flattening and execute like any other node.
func NewIdentityNode(id string, fields ...string) Node {
	return &identityNode{id: id, fields: fields}
}

func (n *identityNode) ID() string            { return n.id }
func (n *identityNode) InputPorts() []string  { return n.fields }
func (n *identityNode) OutputPorts() []string { return n.fields }

func (n *identityNode) addField(name string) error {
	for _, f := range n.fields {
		if f == name {
			return ErrDuplicatePort
		}
	}
	n.fields = append(n.fields, name)
	return nil
}

func (n *identityNode) Run(_ context.Context, inputs map[string]types.Value) (map[string]types.Value, error) {
	out := make(map[string]types.Value, len(inputs))
	for name, v := range inputs {
		out[name] = v
	}
	return out, nil
}
