package pipeline

import (
	"fmt"

	"github.com/alexpron/mri-processing/types"
)

// Endpoint names one port on one atomic node of a flattened graph. An empty
// Node marks a pipeline entry: the value comes from the initial input named
// by Port.
type Endpoint struct {
	Node string
	Port string
}

// Graph is the result of flattening: atomic nodes keyed by dotted path id,
// direct atomic-to-atomic connections, and the mapping of the root
// workflow's exposed ports to their real internal endpoints. A graph is
// read-only during execution and may be executed any number of times.
type Graph struct {
	Name        string
	Nodes       map[string]Node
	Connections []types.Connection

	// Inputs maps each exposed input port to the atomic input ports it
	// feeds. Exposed inputs that nothing consumes map to an empty slice.
	Inputs map[string][]Endpoint

	// Outputs maps each exposed output port to its atomic source.
	Outputs map[string]Endpoint
}

type facadeKind int

const (
	facadeInput facadeKind = iota
	facadeOutput
)

type facadeInfo struct {
	owner string // id of the owning workflow, for error messages
	kind  facadeKind
	root  bool
	ports []string
}

type flattener struct {
	nodes   map[string]Node
	facades map[string]*facadeInfo
	conns   []types.Connection
	inEdge  map[Endpoint]types.Connection
}

// Flatten expands the workflow's nested structure into a single flat DAG of
// atomic nodes, rewriting every connection that crosses a workflow boundary
// into a direct edge by following facade connections inward. It fails with
// ErrUnboundExposedPort if any workflow exposes an output that is never
// internally connected, and with ErrCyclicConnection if the graph is not a
// DAG. Exposed inputs that are never consumed internally are dropped.
func (w *Workflow) Flatten() (*Graph, error) {
	fl := &flattener{
		nodes:   make(map[string]Node),
		facades: make(map[string]*facadeInfo),
		inEdge:  make(map[Endpoint]types.Connection),
	}
	if err := fl.collect("", w, make(map[*Workflow]bool)); err != nil {
		return nil, err
	}

	for _, c := range fl.conns {
		dst := Endpoint{Node: c.DestNode, Port: c.DestPort}
		if _, ok := fl.inEdge[dst]; ok {
			return nil, fmt.Errorf("%w: %s.%s", ErrDestinationAlreadyBound, dst.Node, dst.Port)
		}
		fl.inEdge[dst] = c
	}

	// Every exposed output, at every nesting level, must be fed internally.
	for id, info := range fl.facades {
		if info.kind != facadeOutput {
			continue
		}
		for _, p := range info.ports {
			if _, ok := fl.inEdge[Endpoint{Node: id, Port: p}]; !ok {
				return nil, fmt.Errorf("%w: %q on workflow %q", ErrUnboundExposedPort, p, info.owner)
			}
		}
	}

	g := &Graph{
		Name:    w.id,
		Nodes:   fl.nodes,
		Inputs:  make(map[string][]Endpoint),
		Outputs: make(map[string]Endpoint),
	}
	for _, p := range w.inputNode.fields {
		g.Inputs[p] = nil
	}

	for _, c := range fl.conns {
		if _, isFacade := fl.facades[c.DestNode]; isFacade {
			continue // handled transitively from the real consumers
		}
		dst := Endpoint{Node: c.DestNode, Port: c.DestPort}
		src, entry, unbound, err := fl.resolveSource(Endpoint{Node: c.SourceNode, Port: c.SourcePort}, make(map[Endpoint]bool))
		if err != nil {
			return nil, err
		}
		switch {
		case unbound:
			// Source chain ends at an exposed input the parent never wired.
			// The destination input stays unbound; the executor rejects the
			// graph if no initial value covers it.
		case entry:
			g.Inputs[src.Port] = append(g.Inputs[src.Port], dst)
		default:
			g.Connections = append(g.Connections, types.Connection{
				SourceNode: src.Node,
				SourcePort: src.Port,
				DestNode:   dst.Node,
				DestPort:   dst.Port,
			})
		}
	}

	rootOut := outputFacadeID
	for _, p := range w.outputNode.fields {
		src, entry, _, err := fl.resolveSource(Endpoint{Node: rootOut, Port: p}, make(map[Endpoint]bool))
		if err != nil {
			return nil, err
		}
		if entry {
			g.Outputs[p] = Endpoint{Port: src.Port} // pass-through from an initial input
		} else {
			g.Outputs[p] = src
		}
	}

	if err := g.checkAcyclic(); err != nil {
		return nil, err
	}
	return g, nil
}

func (fl *flattener) collect(prefix string, w *Workflow, visiting map[*Workflow]bool) error {
	if visiting[w] {
		return fmt.Errorf("%w: workflow %q nested within itself", ErrCyclicConnection, w.id)
	}
	visiting[w] = true
	defer delete(visiting, w)

	for _, id := range w.order {
		node := w.nodes[id]
		full := join(prefix, id)
		switch {
		case id == inputFacadeID:
			fl.facades[full] = &facadeInfo{owner: w.id, kind: facadeInput, root: prefix == "", ports: w.inputNode.fields}
		case id == outputFacadeID:
			fl.facades[full] = &facadeInfo{owner: w.id, kind: facadeOutput, root: prefix == "", ports: w.outputNode.fields}
		default:
			if sub, ok := node.(*Workflow); ok {
				if err := fl.collect(full, sub, visiting); err != nil {
					return err
				}
			} else {
				fl.nodes[full] = node
			}
		}
	}

	for _, c := range w.conns {
		fl.conns = append(fl.conns, types.Connection{
			SourceNode: fl.qualify(prefix, w, c.SourceNode, facadeOutput),
			SourcePort: c.SourcePort,
			DestNode:   fl.qualify(prefix, w, c.DestNode, facadeInput),
			DestPort:   c.DestPort,
		})
	}
	return nil
}

// qualify rewrites a connection endpoint to its fully-qualified node id. An
// endpoint naming a nested workflow is redirected to that workflow's facade:
// its outputnode when used as a source, its inputnode when used as a
// destination.
func (fl *flattener) qualify(prefix string, w *Workflow, nodeID string, side facadeKind) string {
	full := join(prefix, nodeID)
	if _, ok := w.nodes[nodeID].(*Workflow); ok {
		if side == facadeOutput {
			return join(full, outputFacadeID)
		}
		return join(full, inputFacadeID)
	}
	return full
}

// resolveSource follows facade indirections backwards until it reaches an
// atomic source, a pipeline entry, or an unbound exposed input. Revisiting
// an endpoint on the current resolution stack means the facade wiring is
// circular.
func (fl *flattener) resolveSource(ep Endpoint, visiting map[Endpoint]bool) (src Endpoint, entry, unbound bool, err error) {
	info, isFacade := fl.facades[ep.Node]
	if !isFacade {
		return ep, false, false, nil
	}
	if visiting[ep] {
		return Endpoint{}, false, false, fmt.Errorf("%w: resolution revisits %s.%s", ErrCyclicConnection, ep.Node, ep.Port)
	}
	visiting[ep] = true

	in, ok := fl.inEdge[ep]
	if !ok {
		if info.kind == facadeOutput {
			return Endpoint{}, false, false, fmt.Errorf("%w: %q on workflow %q", ErrUnboundExposedPort, ep.Port, info.owner)
		}
		if info.root {
			return Endpoint{Port: ep.Port}, true, false, nil
		}
		return Endpoint{}, false, true, nil
	}
	return fl.resolveSource(Endpoint{Node: in.SourceNode, Port: in.SourcePort}, visiting)
}

// checkAcyclic runs Kahn's algorithm over the atomic graph.
func (g *Graph) checkAcyclic() error {
	indeg := make(map[string]int, len(g.Nodes))
	succs := make(map[string][]string)
	for id := range g.Nodes {
		indeg[id] = 0
	}
	for _, c := range g.Connections {
		indeg[c.DestNode]++
		succs[c.SourceNode] = append(succs[c.SourceNode], c.DestNode)
	}

	queue := make([]string, 0, len(g.Nodes))
	for id, d := range indeg {
		if d == 0 {
			queue = append(queue, id)
		}
	}
	seen := 0
	for len(queue) > 0 {
		id := queue[0]
		queue = queue[1:]
		seen++
		for _, s := range succs[id] {
			indeg[s]--
			if indeg[s] == 0 {
				queue = append(queue, s)
			}
		}
	}
	if seen != len(g.Nodes) {
		return fmt.Errorf("%w: flattened graph is not a DAG", ErrCyclicConnection)
	}
	return nil
}

func join(prefix, id string) string {
	if prefix == "" {
		return id
	}
	return prefix + "." + id
}
