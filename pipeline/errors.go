package pipeline

import (
	"errors"
	"fmt"
)

// Construction-time errors. They indicate a malformed pipeline definition
// and always surface to the caller before any execution starts.
var (
	ErrDuplicateNodeID         = errors.New("duplicate node id")
	ErrDuplicatePort           = errors.New("duplicate port")
	ErrUnknownPort             = errors.New("unknown port")
	ErrPortDirectionMismatch   = errors.New("port direction mismatch")
	ErrDestinationAlreadyBound = errors.New("destination port already bound")
	ErrUnboundExposedPort      = errors.New("exposed output port not connected internally")
	ErrCyclicConnection        = errors.New("cyclic connection")
	ErrUnboundInput            = errors.New("input port not bound")
)

// Failure reasons recorded on a NodeError. Execution-time failures are
// localized to one node and never abort the process.
const (
	ReasonExecutableNotFound = "executable_not_found"
	ReasonNonZeroExit        = "non_zero_exit"
	ReasonMissingOutput      = "missing_output"
	ReasonTimeout            = "timeout"
	ReasonCancelled          = "cancelled"
	ReasonUpstreamFailed     = "upstream_failed"
	ReasonRunError           = "run_error"
)

// NodeError is the typed failure of a single node execution.
type NodeError struct {
	NodeID string
	Reason string
	Err    error
}

func (e *NodeError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("node %q failed (%s): %v", e.NodeID, e.Reason, e.Err)
	}
	return fmt.Sprintf("node %q failed (%s)", e.NodeID, e.Reason)
}

func (e *NodeError) Unwrap() error {
	return e.Err
}
