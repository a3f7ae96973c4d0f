package router

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/Thinkelution/devlution/internal/pipeline"
)

func state() *pipeline.RunState {
	return pipeline.NewRunState("r", pipeline.ManualTrigger("t"))
}

func withTasks(s *pipeline.RunState) *pipeline.RunState {
	s.Tasks = []pipeline.Task{{ID: "t1", Title: "x"}}
	return s
}

func TestPlanner(t *testing.T) {
	p := DefaultPolicy()

	s := state()
	s.SetConfidence(pipeline.NodePlanner, 0.99)
	assert.Equal(t, PlannerAbort, Planner(s, p), "empty plan aborts regardless of confidence")

	s = withTasks(state())
	s.SetConfidence(pipeline.NodePlanner, 0.5)
	assert.Equal(t, PlannerProceed, Planner(s, p))

	s.SetConfidence(pipeline.NodePlanner, 0.49)
	assert.Equal(t, PlannerEscalate, Planner(s, p))

	assert.Equal(t, PlannerProceed, Planner(withTasks(state()), p), "missing score counts as confident")
}

func TestReviewer(t *testing.T) {
	p := DefaultPolicy()
	tests := []struct {
		name     string
		decision pipeline.ReviewDecision
		conf     float64
		want     ReviewerOutcome
	}{
		{"approve", pipeline.ReviewApprove, 0.9, ReviewerApprove},
		{"request changes", pipeline.ReviewRequestChanges, 0.9, ReviewerRequestChanges},
		{"explicit escalate", pipeline.ReviewEscalateToHuman, 0.99, ReviewerEscalate},
		{"low confidence beats request changes", pipeline.ReviewRequestChanges, 0.74, ReviewerEscalate},
		{"threshold is inclusive", pipeline.ReviewApprove, 0.75, ReviewerApprove},
		{"none approves", pipeline.ReviewNone, 0.8, ReviewerApprove},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := state()
			s.ReviewDecision = tt.decision
			s.SetConfidence(pipeline.NodeReviewer, tt.conf)
			assert.Equal(t, tt.want, Reviewer(s, p))
		})
	}
}

func TestTester(t *testing.T) {
	p := DefaultPolicy()
	s := state()
	assert.Equal(t, TesterPass, Tester(s, p), "no result passes")

	s.TestResult = &pipeline.TestResult{Passed: true, CoveragePercent: 80}
	assert.Equal(t, TesterPass, Tester(s, p))

	s.TestResult = &pipeline.TestResult{Passed: true, CoveragePercent: 79.99}
	assert.Equal(t, TesterCoverageFail, Tester(s, p))

	s.TestResult = &pipeline.TestResult{Passed: false, CoveragePercent: 100}
	assert.Equal(t, TesterFail, Tester(s, p))

	p.CoverageThreshold = 50
	s.TestResult = &pipeline.TestResult{Passed: true, CoveragePercent: 60}
	assert.Equal(t, TesterPass, Tester(s, p))
}

func TestDebugger(t *testing.T) {
	p := DefaultPolicy()
	s := state()
	s.Status = pipeline.StatusRunning
	s.IterationCounts[pipeline.NodeDebugger] = 1
	assert.Equal(t, DebuggerFixed, Debugger(s, p))

	s.Status = pipeline.StatusFailed
	assert.Equal(t, DebuggerAbort, Debugger(s, p))

	s.IterationCounts[pipeline.NodeDebugger] = 3
	assert.Equal(t, DebuggerMaxRetries, Debugger(s, p), "cap checked before failed status")

	p.DebuggerMaxAttempts = 0
	s.IterationCounts[pipeline.NodeDebugger] = 0
	assert.Equal(t, DebuggerMaxRetries, Debugger(s, p))
}

func TestGate(t *testing.T) {
	s := state()
	assert.Equal(t, GateApproved, Gate(s), "no decisions lets the run through")

	s.GateDecisions["a"] = pipeline.GateDecision{GateID: "a", Decision: pipeline.DecisionApproved}
	assert.Equal(t, GateApproved, Gate(s))

	s.GateDecisions["b"] = pipeline.GateDecision{GateID: "b", Decision: pipeline.DecisionTimeout}
	assert.Equal(t, GateTimeout, Gate(s))

	s.GateDecisions["c"] = pipeline.GateDecision{GateID: "c", Decision: pipeline.DecisionRejected}
	for i := 0; i < 20; i++ {
		assert.Equal(t, GateRejected, Gate(s), "rejection wins over timeout regardless of map order")
	}
}

func TestRoutersArePure(t *testing.T) {
	p := DefaultPolicy()
	s := withTasks(state())
	s.SetConfidence(pipeline.NodePlanner, 0.7)
	s.ReviewDecision = pipeline.ReviewRequestChanges
	s.SetConfidence(pipeline.NodeReviewer, 0.8)
	s.TestResult = &pipeline.TestResult{Passed: true, CoveragePercent: 85}
	before := s.Clone()

	for i := 0; i < 5; i++ {
		assert.Equal(t, PlannerProceed, Planner(s, p))
		assert.Equal(t, ReviewerRequestChanges, Reviewer(s, p))
		assert.Equal(t, TesterPass, Tester(s, p))
		assert.Equal(t, DebuggerFixed, Debugger(s, p))
		assert.Equal(t, GateApproved, Gate(s))
	}
	assert.Equal(t, before, s)
}
