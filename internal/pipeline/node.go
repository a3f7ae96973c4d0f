package pipeline

import "fmt"

// Node identifies a pipeline state-machine node.
type Node string

const (
	NodePlanner  Node = "planner"
	NodeCoder    Node = "coder"
	NodeReviewer Node = "reviewer"
	NodeTester   Node = "tester"
	NodeDebugger Node = "debugger"
	NodeGate     Node = "gate"
	NodePublish  Node = "publish"
	NodeDone     Node = "done"
)

// StepNodes lists every node that executes a step, in pipeline order.
var StepNodes = []Node{NodePlanner, NodeCoder, NodeReviewer, NodeTester, NodeDebugger, NodeGate, NodePublish}

// Valid reports whether n is a known node, including the terminal done node.
func (n Node) Valid() bool {
	switch n {
	case NodePlanner, NodeCoder, NodeReviewer, NodeTester, NodeDebugger, NodeGate, NodePublish, NodeDone:
		return true
	}
	return false
}

// ParseNode converts a string into a Node.
func ParseNode(s string) (Node, error) {
	n := Node(s)
	if !n.Valid() {
		return "", fmt.Errorf("unknown node %q", s)
	}
	return n, nil
}
