package pipeline

import (
	"context"
	"fmt"

	"github.com/alexpron/mri-processing/types"
)

// Reserved ids of the facade nodes every workflow owns.
const (
	inputFacadeID  = "inputnode"
	outputFacadeID = "outputnode"
)

// Workflow is a composite node: a named graph of child nodes (atomic nodes
// or nested workflows) wired through explicit port-to-port connections.
// Externally it behaves like a node whose ports are the ones exposed through
// its inputnode/outputnode facades. Composition is a pure declaration: no
// execution happens until the workflow is flattened and handed to an
// executor.
type Workflow struct {
	id    string
	nodes map[string]Node
	order []string
	conns []types.Connection
	bound map[string]bool

	inputNode  *identityNode
	outputNode *identityNode
}

// NewWorkflow creates an empty workflow with fresh facade nodes. No
// process-wide state is involved; independent workflows may be built and
// executed concurrently.
func NewWorkflow(id string) *Workflow {
	w := &Workflow{
		id:         id,
		nodes:      make(map[string]Node),
		bound:      make(map[string]bool),
		inputNode:  &identityNode{id: inputFacadeID},
		outputNode: &identityNode{id: outputFacadeID},
	}
	w.nodes[inputFacadeID] = w.inputNode
	w.nodes[outputFacadeID] = w.outputNode
	w.order = append(w.order, inputFacadeID, outputFacadeID)
	return w
}

func (w *Workflow) ID() string { return w.id }

// InputPorts lists the exposed input ports (the inputnode fields).
func (w *Workflow) InputPorts() []string { return w.inputNode.fields }

// OutputPorts lists the exposed output ports (the outputnode fields).
func (w *Workflow) OutputPorts() []string { return w.outputNode.fields }

// InputNode returns the input facade, for wiring exposed inputs to internal
// destinations.
func (w *Workflow) InputNode() Node { return w.inputNode }

// OutputNode returns the output facade, for wiring internal sources to
// exposed outputs.
func (w *Workflow) OutputNode() Node { return w.outputNode }

// AddNode registers a child node or nested workflow.
func (w *Workflow) AddNode(n Node) error {
	id := n.ID()
	if id == "" {
		return fmt.Errorf("%w: empty node id in workflow %q", ErrDuplicateNodeID, w.id)
	}
	if _, ok := w.nodes[id]; ok {
		return fmt.Errorf("%w: %q in workflow %q", ErrDuplicateNodeID, id, w.id)
	}
	if err := checkPortSet(id, n.InputPorts()); err != nil {
		return err
	}
	if err := checkPortSet(id, n.OutputPorts()); err != nil {
		return err
	}
	w.nodes[id] = n
	w.order = append(w.order, id)
	return nil
}

func checkPortSet(nodeID string, ports []string) error {
	seen := make(map[string]bool, len(ports))
	for _, p := range ports {
		if seen[p] {
			return fmt.Errorf("%w: %q on node %q", ErrDuplicatePort, p, nodeID)
		}
		seen[p] = true
	}
	return nil
}

// Connect records an edge from src's output port to dst's input port. Both
// nodes must already be registered. Each destination input accepts exactly
// one connection; fan-out from an output is unrestricted.
func (w *Workflow) Connect(src Node, srcPort string, dst Node, dstPort string) error {
	srcNode, ok := w.nodes[src.ID()]
	if !ok {
		return fmt.Errorf("%w: source node %q is not part of workflow %q", ErrUnknownPort, src.ID(), w.id)
	}
	dstNode, ok := w.nodes[dst.ID()]
	if !ok {
		return fmt.Errorf("%w: destination node %q is not part of workflow %q", ErrUnknownPort, dst.ID(), w.id)
	}

	if !hasPort(srcNode.OutputPorts(), srcPort) {
		if hasPort(srcNode.InputPorts(), srcPort) {
			return fmt.Errorf("%w: %q is an input port of node %q", ErrPortDirectionMismatch, srcPort, src.ID())
		}
		return fmt.Errorf("%w: no output port %q on node %q", ErrUnknownPort, srcPort, src.ID())
	}
	if !hasPort(dstNode.InputPorts(), dstPort) {
		if hasPort(dstNode.OutputPorts(), dstPort) {
			return fmt.Errorf("%w: %q is an output port of node %q", ErrPortDirectionMismatch, dstPort, dst.ID())
		}
		return fmt.Errorf("%w: no input port %q on node %q", ErrUnknownPort, dstPort, dst.ID())
	}

	key := dst.ID() + ":" + dstPort
	if w.bound[key] {
		return fmt.Errorf("%w: %s.%s in workflow %q", ErrDestinationAlreadyBound, dst.ID(), dstPort, w.id)
	}
	w.bound[key] = true

	w.conns = append(w.conns, types.Connection{
		SourceNode: src.ID(),
		SourcePort: srcPort,
		DestNode:   dst.ID(),
		DestPort:   dstPort,
	})
	return nil
}

func hasPort(ports []string, name string) bool {
	for _, p := range ports {
		if p == name {
			return true
		}
	}
	return false
}

// ExposeInput adds a port to the workflow's input facade. External values
// connected to the workflow under this name reach, after flattening, the
// internal destinations wired from the inputnode.
func (w *Workflow) ExposeInput(name string) error {
	if err := w.inputNode.addField(name); err != nil {
		return fmt.Errorf("%w: input %q on workflow %q", err, name, w.id)
	}
	return nil
}

// ExposeOutput adds a port to the workflow's output facade. The port must be
// wired from an internal source before flattening, or flattening fails.
func (w *Workflow) ExposeOutput(name string) error {
	if err := w.outputNode.addField(name); err != nil {
		return fmt.Errorf("%w: output %q on workflow %q", err, name, w.id)
	}
	return nil
}

// Run lets a workflow execute standalone as a node: it flattens itself and
// runs the resulting graph sequentially. Composite children of a larger
// pipeline never take this path; the enclosing flattening inlines them.
func (w *Workflow) Run(ctx context.Context, inputs map[string]types.Value) (map[string]types.Value, error) {
	g, err := w.Flatten()
	if err != nil {
		return nil, err
	}
	res, err := NewExecutor().Run(ctx, g, inputs)
	if err != nil {
		return nil, err
	}
	if !res.Succeeded() {
		return res.Outputs, res.FirstFailure()
	}
	return res.Outputs, nil
}
