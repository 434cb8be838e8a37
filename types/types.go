package types

// Value is an opaque unit of data exchanged between nodes. In practice it is
// a filesystem path or a small scalar; the engine never inspects it.
type Value interface{}

// PortDirection distinguishes input from output ports.
type PortDirection string

const (
	DirectionInput  PortDirection = "input"
	DirectionOutput PortDirection = "output"
)

// Port identifies a named slot on a node. Identity within a node is
// (name, direction); no two ports on the same node may share both.
type Port struct {
	Name      string        `json:"name"`
	Direction PortDirection `json:"direction"`
}

// Connection is a directed edge from one node's output port to another
// node's input port. Node IDs are unique within the enclosing workflow;
// in a flattened graph they are dotted paths from the root.
type Connection struct {
	SourceNode string `json:"source_node"`
	SourcePort string `json:"source_port"`
	DestNode   string `json:"dest_node"`
	DestPort   string `json:"dest_port"`
}

// Node execution statuses.
const (
	StatusPending = "pending"
	StatusReady   = "ready"
	StatusRunning = "running"
	StatusDone    = "done"
	StatusFailed  = "failed"
)

// Run statuses.
const (
	RunCompleted      = "completed"
	RunPartialFailure = "partial_failure"
)

// NodeResult records the outcome of one atomic node in a run.
type NodeResult struct {
	NodeID  string           `json:"node_id"`
	Status  string           `json:"status"`
	Reason  string           `json:"reason,omitempty"` // failure reason, empty on success
	Error   string           `json:"error,omitempty"`
	Outputs map[string]Value `json:"outputs,omitempty"`
}

// RunReport is the persisted record of one pipeline execution.
type RunReport struct {
	ID        uint64                `json:"id"`
	Pipeline  string                `json:"pipeline"`
	Status    string                `json:"status"`
	Nodes     map[string]NodeResult `json:"nodes"`
	Outputs   map[string]Value      `json:"outputs,omitempty"`
	StartedAt int64                 `json:"started_at"`
	EndedAt   int64                 `json:"ended_at"`
}
