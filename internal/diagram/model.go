// Package diagram renders workflow definitions, optionally overlaid with the state of one
// execution, as Mermaid, ASCII or graphviz images.
package diagram

// NodeKind classifies a diagram node by what its step does.
type NodeKind string

const (
	NodeKindStep     NodeKind = "step"
	NodeKindAsk      NodeKind = "ask"
	NodeKindArtifact NodeKind = "artifact"
	NodeKindStart    NodeKind = "start"
	NodeKindEnd      NodeKind = "end"
	NodeKindHalt     NodeKind = "halt"
)

// EdgeKind distinguishes sequential flow from jumps.
type EdgeKind string

const (
	EdgeNext EdgeKind = "next"
	EdgeGoto EdgeKind = "goto"
	EdgeHalt EdgeKind = "halt"
)

// Virtual node IDs.
const (
	StartID = "__start__"
	EndID   = "__end__"
	HaltID  = "__halt__"
)

// Node statuses derived from an execution.
const (
	StatusCompleted = "completed"
	StatusFailed    = "failed"
	StatusRunning   = "running"
	StatusAwaiting  = "awaiting"
	StatusPaused    = "paused"
	StatusHalted    = "halted"
	StatusCancelled = "cancelled"
	StatusPending   = "pending"
)

// DiagramModel is the intermediate representation used by all renderers.
type DiagramModel struct {
	Title  string
	Nodes  []*Node
	Edges  []Edge
	Levels [][]string
}

// Node represents a single step in the diagram.
type Node struct {
	ID     string
	Label  string // first line is the title; later lines list details
	Kind   NodeKind
	Index  int // 1-based step index, 0 for virtual nodes
	Status *StatusOverlay
}

// StatusOverlay carries runtime state for a node.
type StatusOverlay struct {
	Status     string
	DurationMs int64
	Attempts   int
	Error      string
}

// Edge connects two nodes.
type Edge struct {
	From  string
	To    string
	Label string
	Kind  EdgeKind
}

// Node returns the node with the given ID, or nil.
func (m *DiagramModel) Node(id string) *Node {
	for _, n := range m.Nodes {
		if n.ID == id {
			return n
		}
	}
	return nil
}
