package engine

import (
	"fmt"

	"github.com/Thinkelution/devlution/internal/pipeline"
	"github.com/Thinkelution/devlution/internal/router"
)

// next applies the node's router and maps the outcome onto the graph edge.
// Every outcome of every router has an explicit case; anything else is a
// programming error surfaced as an error rather than a silent default.
func next(node pipeline.Node, s *pipeline.RunState, p router.Policy) (string, pipeline.Node, error) {
	switch node {
	case pipeline.NodePlanner:
		o := router.Planner(s, p)
		switch o {
		case router.PlannerProceed:
			return string(o), pipeline.NodeCoder, nil
		case router.PlannerEscalate:
			return string(o), pipeline.NodeGate, nil
		case router.PlannerAbort:
			return string(o), pipeline.NodeDone, nil
		}
		return string(o), "", unhandled(node, string(o))

	case pipeline.NodeCoder:
		return "done", pipeline.NodeReviewer, nil

	case pipeline.NodeReviewer:
		o := router.Reviewer(s, p)
		switch o {
		case router.ReviewerApprove:
			return string(o), pipeline.NodeTester, nil
		case router.ReviewerRequestChanges:
			return string(o), pipeline.NodeCoder, nil
		case router.ReviewerEscalate:
			return string(o), pipeline.NodeGate, nil
		}
		return string(o), "", unhandled(node, string(o))

	case pipeline.NodeTester:
		o := router.Tester(s, p)
		switch o {
		case router.TesterPass:
			return string(o), pipeline.NodeGate, nil
		case router.TesterFail:
			return string(o), pipeline.NodeDebugger, nil
		case router.TesterCoverageFail:
			return string(o), pipeline.NodeCoder, nil
		}
		return string(o), "", unhandled(node, string(o))

	case pipeline.NodeDebugger:
		o := router.Debugger(s, p)
		switch o {
		case router.DebuggerFixed:
			return string(o), pipeline.NodeTester, nil
		case router.DebuggerMaxRetries:
			return string(o), pipeline.NodeGate, nil
		case router.DebuggerAbort:
			return string(o), pipeline.NodeDone, nil
		}
		return string(o), "", unhandled(node, string(o))

	case pipeline.NodeGate:
		o := router.Gate(s)
		switch o {
		case router.GateApproved:
			return string(o), pipeline.NodePublish, nil
		case router.GateRejected, router.GateTimeout:
			return string(o), pipeline.NodeDone, nil
		}
		return string(o), "", unhandled(node, string(o))

	case pipeline.NodePublish:
		return "done", pipeline.NodeDone, nil
	}
	return "", "", fmt.Errorf("no edges from node %q", node)
}

func unhandled(node pipeline.Node, outcome string) error {
	return fmt.Errorf("node %s: unhandled outcome %q", node, outcome)
}
