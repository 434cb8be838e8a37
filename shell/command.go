// Package shell turns external command-line tools into pipeline nodes. The
// executable and every flag or value stay distinct argv elements; nothing is
// ever concatenated into a shell string.
package shell

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"time"

	"github.com/alexpron/mri-processing/pipeline"
	"github.com/alexpron/mri-processing/types"
)

type argKind int

const (
	argLiteral argKind = iota
	argInput
	argOutput
)

// Arg is one element of a tool's argument list.
type Arg struct {
	kind argKind
	text string // literal token, input port name, or output port name
	file string // output file name, relative to the node work dir
}

// Literal is a fixed argument token, such as a flag or a constant value.
func Literal(s string) Arg { return Arg{kind: argLiteral, text: s} }

// Input is an argument filled with the value bound to the named input port.
func Input(port string) Arg { return Arg{kind: argInput, text: port} }

// Output is an argument naming the file the tool is expected to write. The
// file lives under the node's private work directory and its path becomes
// the value of the named output port.
func Output(port, file string) Arg { return Arg{kind: argOutput, text: port, file: file} }

// ToolSpec is the immutable configuration of a Tool, fixed at construction.
type ToolSpec struct {
	ID         string
	Executable string
	WorkDir    string
	Args       []Arg
	Timeout    time.Duration
	MaxRetries int
	RetryDelay time.Duration
}

// Tool is an atomic pipeline node backed by an external executable. Its
// input and output ports are derived from the argument list. The executable
// is located on the process search path at run time; a non-zero exit status
// or a missing declared output file fails the node.
type Tool struct {
	spec    ToolSpec
	inputs  []string
	outputs []string
}

// NewTool validates the spec and builds the node.
func NewTool(spec ToolSpec) (*Tool, error) {
	if spec.ID == "" {
		return nil, fmt.Errorf("tool id is required")
	}
	if spec.Executable == "" {
		return nil, fmt.Errorf("tool %q: executable is required", spec.ID)
	}
	t := &Tool{spec: spec}
	seenIn := make(map[string]bool)
	seenOut := make(map[string]bool)
	for _, a := range spec.Args {
		switch a.kind {
		case argInput:
			if !seenIn[a.text] {
				seenIn[a.text] = true
				t.inputs = append(t.inputs, a.text)
			}
		case argOutput:
			if seenOut[a.text] {
				return nil, fmt.Errorf("%w: output %q on tool %q", pipeline.ErrDuplicatePort, a.text, spec.ID)
			}
			if a.file == "" {
				return nil, fmt.Errorf("tool %q: output %q has no file name", spec.ID, a.text)
			}
			seenOut[a.text] = true
			t.outputs = append(t.outputs, a.text)
		}
	}
	return t, nil
}

func (t *Tool) ID() string            { return t.spec.ID }
func (t *Tool) InputPorts() []string  { return t.inputs }
func (t *Tool) OutputPorts() []string { return t.outputs }

func (t *Tool) RunTimeout() time.Duration { return t.spec.Timeout }

func (t *Tool) RetryPolicy() (int, time.Duration) { return t.spec.MaxRetries, t.spec.RetryDelay }

// Run locates the executable, invokes it with the resolved argument list,
// waits for exit, and returns the paths of the declared output files. All
// outputs go to a node-private directory, so independent nodes are safe to
// run concurrently.
func (t *Tool) Run(ctx context.Context, inputs map[string]types.Value) (map[string]types.Value, error) {
	exe, err := exec.LookPath(t.spec.Executable)
	if err != nil {
		return nil, &pipeline.NodeError{
			NodeID: t.spec.ID,
			Reason: pipeline.ReasonExecutableNotFound,
			Err:    err,
		}
	}

	nodeDir := filepath.Join(t.spec.WorkDir, t.spec.ID)
	argv := make([]string, 0, len(t.spec.Args))
	outPaths := make(map[string]types.Value, len(t.outputs))
	for _, a := range t.spec.Args {
		switch a.kind {
		case argLiteral:
			argv = append(argv, a.text)
		case argInput:
			v, ok := inputs[a.text]
			if !ok {
				return nil, fmt.Errorf("%w: %s.%s", pipeline.ErrUnboundInput, t.spec.ID, a.text)
			}
			argv = append(argv, fmt.Sprint(v))
		case argOutput:
			path := filepath.Join(nodeDir, a.file)
			outPaths[a.text] = path
			argv = append(argv, path)
		}
	}

	if len(outPaths) > 0 {
		if err := os.MkdirAll(nodeDir, 0o755); err != nil {
			return nil, fmt.Errorf("failed to create work dir for %q: %w", t.spec.ID, err)
		}
	}

	var stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, exe, argv...)
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, &pipeline.NodeError{
			NodeID: t.spec.ID,
			Reason: pipeline.ReasonNonZeroExit,
			Err:    fmt.Errorf("%s %v: %w%s", t.spec.Executable, argv, err, stderrTail(&stderr)),
		}
	}

	for port, path := range outPaths {
		if _, err := os.Stat(fmt.Sprint(path)); err != nil {
			return nil, &pipeline.NodeError{
				NodeID: t.spec.ID,
				Reason: pipeline.ReasonMissingOutput,
				Err:    fmt.Errorf("expected output %q not produced at %s", port, path),
			}
		}
	}
	return outPaths, nil
}

// stderrTail formats the last part of the captured stderr for diagnostics.
func stderrTail(buf *bytes.Buffer) string {
	const max = 512
	b := buf.Bytes()
	if len(b) == 0 {
		return ""
	}
	if len(b) > max {
		b = b[len(b)-max:]
	}
	return fmt.Sprintf("\nstderr: %s", bytes.TrimSpace(b))
}
