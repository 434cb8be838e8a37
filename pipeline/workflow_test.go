package pipeline

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alexpron/mri-processing/types"
)

// passthrough builds a node that copies each input to the same-positioned
// output port.
func passthrough(id string, inputs, outputs []string) *FuncNode {
	return NewFuncNode(id, inputs, outputs,
		func(_ context.Context, in map[string]types.Value) (map[string]types.Value, error) {
			out := make(map[string]types.Value, len(outputs))
			for i, p := range outputs {
				if i < len(inputs) {
					out[p] = in[inputs[i]]
				} else {
					out[p] = id
				}
			}
			return out, nil
		})
}

func TestAddNode(t *testing.T) {
	w := NewWorkflow("test")

	require.NoError(t, w.AddNode(passthrough("a", nil, []string{"out"})))

	t.Run("DuplicateID", func(t *testing.T) {
		err := w.AddNode(passthrough("a", nil, []string{"out"}))
		assert.ErrorIs(t, err, ErrDuplicateNodeID)
	})

	t.Run("FacadeIDsReserved", func(t *testing.T) {
		err := w.AddNode(passthrough("inputnode", nil, []string{"out"}))
		assert.ErrorIs(t, err, ErrDuplicateNodeID)
	})

	t.Run("DuplicatePort", func(t *testing.T) {
		err := w.AddNode(passthrough("b", []string{"x", "x"}, nil))
		assert.ErrorIs(t, err, ErrDuplicatePort)
	})
}

func TestConnect(t *testing.T) {
	w := NewWorkflow("test")
	a := passthrough("a", []string{"in"}, []string{"out"})
	b := passthrough("b", []string{"in"}, []string{"out"})
	require.NoError(t, w.AddNode(a))
	require.NoError(t, w.AddNode(b))

	t.Run("Valid", func(t *testing.T) {
		assert.NoError(t, w.Connect(a, "out", b, "in"))
	})

	t.Run("UnregisteredNode", func(t *testing.T) {
		// Connecting before AddNode fails: connection validity depends on
		// prior node registration.
		c := passthrough("c", []string{"in"}, []string{"out"})
		err := w.Connect(a, "out", c, "in")
		assert.ErrorIs(t, err, ErrUnknownPort)
		err = w.Connect(c, "out", a, "in")
		assert.ErrorIs(t, err, ErrUnknownPort)
	})

	t.Run("UnknownPort", func(t *testing.T) {
		err := w.Connect(a, "nope", b, "in")
		assert.ErrorIs(t, err, ErrUnknownPort)
		err = w.Connect(a, "out", b, "nope")
		assert.ErrorIs(t, err, ErrUnknownPort)
	})

	t.Run("DirectionMismatch", func(t *testing.T) {
		err := w.Connect(a, "in", b, "in")
		assert.ErrorIs(t, err, ErrPortDirectionMismatch)
		err = w.Connect(a, "out", b, "out")
		assert.ErrorIs(t, err, ErrPortDirectionMismatch)
	})

	t.Run("DestinationAlreadyBound", func(t *testing.T) {
		// b.in is already fed by a.out; a second connection to it must be
		// rejected rather than silently overriding the first.
		c := passthrough("c", []string{"in"}, []string{"out"})
		require.NoError(t, w.AddNode(c))
		err := w.Connect(c, "out", b, "in")
		assert.ErrorIs(t, err, ErrDestinationAlreadyBound)
	})

	t.Run("FanOutAllowed", func(t *testing.T) {
		c := w.nodes["c"]
		assert.NoError(t, w.Connect(a, "out", c, "in"))
	})
}

func TestExposePorts(t *testing.T) {
	w := NewWorkflow("test")
	a := passthrough("a", []string{"in"}, []string{"out"})
	require.NoError(t, w.AddNode(a))

	require.NoError(t, w.ExposeInput("volume"))
	require.NoError(t, w.ExposeOutput("result"))
	assert.Equal(t, []string{"volume"}, w.InputPorts())
	assert.Equal(t, []string{"result"}, w.OutputPorts())

	assert.ErrorIs(t, w.ExposeInput("volume"), ErrDuplicatePort)
	assert.ErrorIs(t, w.ExposeOutput("result"), ErrDuplicatePort)

	require.NoError(t, w.Connect(w.InputNode(), "volume", a, "in"))
	require.NoError(t, w.Connect(a, "out", w.OutputNode(), "result"))
}

func TestWorkflowRunStandalone(t *testing.T) {
	w := NewWorkflow("standalone")
	a := passthrough("a", []string{"in"}, []string{"out"})
	require.NoError(t, w.AddNode(a))
	require.NoError(t, w.ExposeInput("volume"))
	require.NoError(t, w.ExposeOutput("result"))
	require.NoError(t, w.Connect(w.InputNode(), "volume", a, "in"))
	require.NoError(t, w.Connect(a, "out", w.OutputNode(), "result"))

	out, err := w.Run(context.Background(), map[string]types.Value{"volume": "/data/dwi.mif"})
	require.NoError(t, err)
	assert.Equal(t, "/data/dwi.mif", out["result"])
}
