package pipeline

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alexpron/mri-processing/types"
)

// chainWorkflow builds in -> a -> b -> out with one exposed input and
// output.
func chainWorkflow(t *testing.T, id string) (*Workflow, *FuncNode, *FuncNode) {
	t.Helper()
	w := NewWorkflow(id)
	a := passthrough("a", []string{"in"}, []string{"out"})
	b := passthrough("b", []string{"in"}, []string{"out"})
	require.NoError(t, w.AddNode(a))
	require.NoError(t, w.AddNode(b))
	require.NoError(t, w.ExposeInput("source"))
	require.NoError(t, w.ExposeOutput("result"))
	require.NoError(t, w.Connect(w.InputNode(), "source", a, "in"))
	require.NoError(t, w.Connect(a, "out", b, "in"))
	require.NoError(t, w.Connect(b, "out", w.OutputNode(), "result"))
	return w, a, b
}

func TestFlattenFlatWorkflowIsIdentity(t *testing.T) {
	w, _, _ := chainWorkflow(t, "flat")

	g, err := w.Flatten()
	require.NoError(t, err)

	assert.Equal(t, "flat", g.Name)
	assert.Len(t, g.Nodes, 2)
	assert.Contains(t, g.Nodes, "a")
	assert.Contains(t, g.Nodes, "b")
	assert.Equal(t, []types.Connection{
		{SourceNode: "a", SourcePort: "out", DestNode: "b", DestPort: "in"},
	}, g.Connections)
	assert.Equal(t, []Endpoint{{Node: "a", Port: "in"}}, g.Inputs["source"])
	assert.Equal(t, Endpoint{Node: "b", Port: "out"}, g.Outputs["result"])
}

func TestFlattenNested(t *testing.T) {
	inner, _, _ := chainWorkflow(t, "inner")

	outer := NewWorkflow("outer")
	head := passthrough("head", []string{"in"}, []string{"out"})
	tail := passthrough("tail", []string{"in"}, []string{"out"})
	require.NoError(t, outer.AddNode(head))
	require.NoError(t, outer.AddNode(inner))
	require.NoError(t, outer.AddNode(tail))
	require.NoError(t, outer.ExposeInput("source"))
	require.NoError(t, outer.ExposeOutput("result"))
	require.NoError(t, outer.Connect(outer.InputNode(), "source", head, "in"))
	require.NoError(t, outer.Connect(head, "out", inner, "source"))
	require.NoError(t, outer.Connect(inner, "result", tail, "in"))
	require.NoError(t, outer.Connect(tail, "out", outer.OutputNode(), "result"))

	g, err := outer.Flatten()
	require.NoError(t, err)

	assert.Len(t, g.Nodes, 4)
	for _, id := range []string{"head", "inner.a", "inner.b", "tail"} {
		assert.Contains(t, g.Nodes, id)
	}
	assert.ElementsMatch(t, []types.Connection{
		{SourceNode: "head", SourcePort: "out", DestNode: "inner.a", DestPort: "in"},
		{SourceNode: "inner.a", SourcePort: "out", DestNode: "inner.b", DestPort: "in"},
		{SourceNode: "inner.b", SourcePort: "out", DestNode: "tail", DestPort: "in"},
	}, g.Connections)
	assert.Equal(t, []Endpoint{{Node: "head", Port: "in"}}, g.Inputs["source"])
	assert.Equal(t, Endpoint{Node: "tail", Port: "out"}, g.Outputs["result"])
}

func TestFlattenDeeplyNested(t *testing.T) {
	// Three nesting levels resolve to the same flat DAG as a single-level
	// composition of the same atomic nodes.
	w2, _, _ := chainWorkflow(t, "w2")

	w1 := NewWorkflow("w1")
	require.NoError(t, w1.AddNode(w2))
	require.NoError(t, w1.ExposeInput("source"))
	require.NoError(t, w1.ExposeOutput("result"))
	require.NoError(t, w1.Connect(w1.InputNode(), "source", w2, "source"))
	require.NoError(t, w1.Connect(w2, "result", w1.OutputNode(), "result"))

	w := NewWorkflow("w")
	head := passthrough("head", []string{"in"}, []string{"out"})
	require.NoError(t, w.AddNode(head))
	require.NoError(t, w.AddNode(w1))
	require.NoError(t, w.ExposeInput("source"))
	require.NoError(t, w.ExposeOutput("result"))
	require.NoError(t, w.Connect(w.InputNode(), "source", head, "in"))
	require.NoError(t, w.Connect(head, "out", w1, "source"))
	require.NoError(t, w.Connect(w1, "result", w.OutputNode(), "result"))

	g, err := w.Flatten()
	require.NoError(t, err)

	assert.Len(t, g.Nodes, 3)
	assert.ElementsMatch(t, []types.Connection{
		{SourceNode: "head", SourcePort: "out", DestNode: "w1.w2.a", DestPort: "in"},
		{SourceNode: "w1.w2.a", SourcePort: "out", DestNode: "w1.w2.b", DestPort: "in"},
	}, g.Connections)
	assert.Equal(t, Endpoint{Node: "w1.w2.b", Port: "out"}, g.Outputs["result"])
}

func TestFlattenUnboundExposedOutput(t *testing.T) {
	w := NewWorkflow("broken")
	a := passthrough("a", []string{"in"}, []string{"out"})
	require.NoError(t, w.AddNode(a))
	require.NoError(t, w.ExposeInput("source"))
	require.NoError(t, w.ExposeOutput("result")) // never wired internally
	require.NoError(t, w.Connect(w.InputNode(), "source", a, "in"))

	_, err := w.Flatten()
	assert.ErrorIs(t, err, ErrUnboundExposedPort)
}

func TestFlattenNestedUnboundExposedOutput(t *testing.T) {
	inner := NewWorkflow("inner")
	a := passthrough("a", []string{"in"}, []string{"out"})
	require.NoError(t, inner.AddNode(a))
	require.NoError(t, inner.ExposeInput("source"))
	require.NoError(t, inner.ExposeOutput("result")) // unbound inside inner
	require.NoError(t, inner.Connect(inner.InputNode(), "source", a, "in"))

	outer := NewWorkflow("outer")
	require.NoError(t, outer.AddNode(inner))
	require.NoError(t, outer.ExposeInput("source"))
	require.NoError(t, outer.Connect(outer.InputNode(), "source", inner, "source"))

	_, err := outer.Flatten()
	assert.ErrorIs(t, err, ErrUnboundExposedPort)
}

func TestFlattenUnusedExposedInputDropped(t *testing.T) {
	w, _, _ := chainWorkflow(t, "permissive")
	require.NoError(t, w.ExposeInput("defensive")) // declared, never consumed

	g, err := w.Flatten()
	require.NoError(t, err)

	// The port survives as a bindable name but feeds nothing.
	eps, ok := g.Inputs["defensive"]
	assert.True(t, ok)
	assert.Empty(t, eps)
}

func TestFlattenCyclicConnection(t *testing.T) {
	w := NewWorkflow("cyclic")
	a := passthrough("a", []string{"in"}, []string{"out"})
	b := passthrough("b", []string{"in"}, []string{"out"})
	require.NoError(t, w.AddNode(a))
	require.NoError(t, w.AddNode(b))
	require.NoError(t, w.Connect(a, "out", b, "in"))
	require.NoError(t, w.Connect(b, "out", a, "in"))

	_, err := w.Flatten()
	assert.ErrorIs(t, err, ErrCyclicConnection)
}

func TestFlattenPassthroughOutput(t *testing.T) {
	// An output wired straight from the input facade resolves to the
	// initial value at execution time.
	w := NewWorkflow("wire")
	a := passthrough("a", []string{"in"}, []string{"out"})
	require.NoError(t, w.AddNode(a))
	require.NoError(t, w.ExposeInput("source"))
	require.NoError(t, w.ExposeOutput("echo"))
	require.NoError(t, w.ExposeOutput("result"))
	require.NoError(t, w.Connect(w.InputNode(), "source", a, "in"))
	require.NoError(t, w.Connect(a, "out", w.OutputNode(), "result"))
	require.NoError(t, w.Connect(w.InputNode(), "source", w.OutputNode(), "echo"))

	g, err := w.Flatten()
	require.NoError(t, err)
	assert.Equal(t, Endpoint{Port: "source"}, g.Outputs["echo"])
}
