// Package router holds the pure transition functions consulted after each
// pipeline node. They read run state and never modify it.
package router

import "github.com/Thinkelution/devlution/internal/pipeline"

// Policy carries the thresholds routers compare against.
type Policy struct {
	PlannerMinConfidence  float64
	ReviewerMinConfidence float64
	CoverageThreshold     float64
	DebuggerMaxAttempts   int
}

// DefaultPolicy returns the stock thresholds.
func DefaultPolicy() Policy {
	return Policy{
		PlannerMinConfidence:  0.5,
		ReviewerMinConfidence: 0.75,
		CoverageThreshold:     80,
		DebuggerMaxAttempts:   3,
	}
}

type PlannerOutcome string

const (
	PlannerProceed  PlannerOutcome = "proceed"
	PlannerEscalate PlannerOutcome = "escalate"
	PlannerAbort    PlannerOutcome = "abort"
)

type ReviewerOutcome string

const (
	ReviewerApprove        ReviewerOutcome = "approve"
	ReviewerRequestChanges ReviewerOutcome = "request_changes"
	ReviewerEscalate       ReviewerOutcome = "escalate"
)

type TesterOutcome string

const (
	TesterPass         TesterOutcome = "pass"
	TesterFail         TesterOutcome = "fail"
	TesterCoverageFail TesterOutcome = "coverage_fail"
)

type DebuggerOutcome string

const (
	DebuggerFixed      DebuggerOutcome = "fixed"
	DebuggerMaxRetries DebuggerOutcome = "max_retries"
	DebuggerAbort      DebuggerOutcome = "abort"
)

type GateOutcome string

const (
	GateApproved GateOutcome = "approved"
	GateRejected GateOutcome = "rejected"
	GateTimeout  GateOutcome = "timeout"
)

// score returns the node's confidence; a node that never reported one is
// treated as fully confident.
func score(s *pipeline.RunState, n pipeline.Node) float64 {
	if v, ok := s.ConfidenceScores[n]; ok {
		return v
	}
	return 1.0
}

// Planner aborts on an empty plan and escalates a low-confidence one.
func Planner(s *pipeline.RunState, p Policy) PlannerOutcome {
	if len(s.Tasks) == 0 {
		return PlannerAbort
	}
	if score(s, pipeline.NodePlanner) < p.PlannerMinConfidence {
		return PlannerEscalate
	}
	return PlannerProceed
}

// Reviewer escalates on an explicit request or low confidence, before
// honouring request_changes.
func Reviewer(s *pipeline.RunState, p Policy) ReviewerOutcome {
	if s.ReviewDecision == pipeline.ReviewEscalateToHuman || score(s, pipeline.NodeReviewer) < p.ReviewerMinConfidence {
		return ReviewerEscalate
	}
	if s.ReviewDecision == pipeline.ReviewRequestChanges {
		return ReviewerRequestChanges
	}
	return ReviewerApprove
}

// Tester passes when there is nothing to judge. Coverage equal to the
// threshold passes.
func Tester(s *pipeline.RunState, p Policy) TesterOutcome {
	tr := s.TestResult
	if tr == nil {
		return TesterPass
	}
	if !tr.Passed {
		return TesterFail
	}
	if tr.CoveragePercent < p.CoverageThreshold {
		return TesterCoverageFail
	}
	return TesterPass
}

// Debugger checks the attempt cap before the failed status.
func Debugger(s *pipeline.RunState, p Policy) DebuggerOutcome {
	if s.IterationCounts[pipeline.NodeDebugger] >= p.DebuggerMaxAttempts {
		return DebuggerMaxRetries
	}
	if s.Status == pipeline.StatusFailed {
		return DebuggerAbort
	}
	return DebuggerFixed
}

// Gate reports rejected if any gate was rejected, else timeout if any timed
// out, else approved. No decisions at all means approved.
func Gate(s *pipeline.RunState) GateOutcome {
	timedOut := false
	for _, d := range s.GateDecisions {
		switch d.Decision {
		case pipeline.DecisionRejected:
			return GateRejected
		case pipeline.DecisionTimeout:
			timedOut = true
		}
	}
	if timedOut {
		return GateTimeout
	}
	return GateApproved
}
