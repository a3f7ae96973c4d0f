package pipeline

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCanTransition(t *testing.T) {
	cases := []struct {
		from, to Status
		want     bool
	}{
		{StatusPending, StatusRunning, true},
		{StatusRunning, StatusWaitingForHuman, true},
		{StatusWaitingForHuman, StatusRunning, true},
		{StatusRunning, StatusCompleted, true},
		{StatusRunning, StatusAborted, true},
		{StatusFailed, StatusRunning, true},
		{StatusRunning, StatusRunning, true},
		{StatusPending, StatusCompleted, false},
		{StatusWaitingForHuman, StatusCompleted, false},
		{StatusCompleted, StatusRunning, false},
		{StatusAborted, StatusRunning, false},
		{Status("bogus"), StatusRunning, false},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, CanTransition(tc.from, tc.to), "%s -> %s", tc.from, tc.to)
	}
}

func TestTerminal(t *testing.T) {
	cases := []struct {
		status Status
		node   Node
		want   bool
	}{
		{StatusCompleted, NodeDone, true},
		{StatusAborted, NodeCoder, true},
		{StatusFailed, NodeDone, true},
		{StatusFailed, NodeTester, false},
		{StatusWaitingForHuman, NodeGate, false},
		{StatusRunning, NodeDone, false},
	}
	for _, tc := range cases {
		rs := &RunState{Status: tc.status, CurrentNode: tc.node}
		assert.Equal(t, tc.want, rs.Terminal(), "%s at %s", tc.status, tc.node)
	}
}

func TestIncrementIterationIsExactlyOne(t *testing.T) {
	rs := NewRunState("r1", ManualTrigger(""))
	for i := 1; i <= 4; i++ {
		before := rs.IterationCounts[NodeDebugger]
		got := rs.IncrementIteration(NodeDebugger)
		assert.Equal(t, before+1, got)
	}
	assert.Equal(t, 0, rs.IterationCounts[NodeTester])
}

func TestSetConfidenceClamps(t *testing.T) {
	rs := NewRunState("r1", ManualTrigger(""))
	rs.SetConfidence(NodeCoder, 1.7)
	rs.SetConfidence(NodeReviewer, -0.2)
	assert.Equal(t, 1.0, rs.ConfidenceScores[NodeCoder])
	assert.Equal(t, 0.0, rs.ConfidenceScores[NodeReviewer])
}

func TestRecordGateDecisionIsWriteOnce(t *testing.T) {
	rs := NewRunState("r1", ManualTrigger(""))
	require.NoError(t, rs.RecordGateDecision(GateDecision{GateID: "g1", Decision: DecisionApproved, Approver: "ana"}))

	err := rs.RecordGateDecision(GateDecision{GateID: "g1", Decision: DecisionRejected})
	assert.True(t, errors.Is(err, ErrGateAlreadyDecided))
	assert.Equal(t, DecisionApproved, rs.GateDecisions["g1"].Decision)
	assert.NotEmpty(t, rs.GateDecisions["g1"].Timestamp)

	assert.Error(t, rs.RecordGateDecision(GateDecision{GateID: "g2", Decision: "maybe"}))
}

func TestApplyMergesFields(t *testing.T) {
	rs := NewRunState("r1", ManualTrigger(""))
	require.NoError(t, rs.Transition(StatusRunning))

	tasks := []Task{{ID: "T1", Title: "one"}, {ID: "T2", Title: "two", Dependencies: []string{"T1"}}}
	require.NoError(t, rs.Apply(Update{
		Tasks:          &tasks,
		ReviewDecision: Ptr(ReviewApprove),
		Patch:          Ptr("diff --git a/x b/x"),
		GateDecisions:  map[string]GateDecision{"g1": {Decision: DecisionApproved}},
	}))

	assert.Len(t, rs.Tasks, 2)
	assert.Equal(t, 0, rs.CurrentTaskIndex)
	assert.Equal(t, ReviewApprove, rs.ReviewDecision)
	assert.Equal(t, "g1", rs.GateDecisions["g1"].GateID)

	// Untouched fields survive a later partial update.
	require.NoError(t, rs.Apply(Update{CurrentTaskIndex: Ptr(2)}))
	assert.Equal(t, "diff --git a/x b/x", rs.Patch)
	assert.Equal(t, 2, rs.CurrentTaskIndex)
	assert.Nil(t, rs.CurrentTask())
}

func TestApplyRejectsInvalidUpdateAtomically(t *testing.T) {
	rs := NewRunState("r1", ManualTrigger(""))
	require.NoError(t, rs.Transition(StatusRunning))
	require.NoError(t, rs.RecordGateDecision(GateDecision{GateID: "g1", Decision: DecisionApproved}))

	cases := map[string]Update{
		"index past tasks":  {CurrentTaskIndex: Ptr(1), Patch: Ptr("p")},
		"coverage over 100": {TestResult: &TestResult{CoveragePercent: 120}, Patch: Ptr("p")},
		"negative line":     {ReviewComments: &[]ReviewComment{{Line: -1}}, Patch: Ptr("p")},
		"bad transition":    {Status: Ptr(StatusPending), Patch: Ptr("p")},
		"gate overwrite":    {GateDecisions: map[string]GateDecision{"g1": {Decision: DecisionRejected}}, Patch: Ptr("p")},
	}
	for name, u := range cases {
		t.Run(name, func(t *testing.T) {
			assert.Error(t, rs.Apply(u))
			assert.Empty(t, rs.Patch)
		})
	}
}

func TestViewIsDetached(t *testing.T) {
	rs := NewRunState("r1", ManualTrigger(""))
	rs.Tasks = []Task{{ID: "T1", FilesLikelyAffected: []string{"a.go"}}}
	rs.SetConfidence(NodePlanner, 0.8)

	v := rs.View()
	v.Tasks[0].FilesLikelyAffected[0] = "b.go"
	v.ConfidenceScores[NodePlanner] = 0.1
	v.Status = StatusCompleted

	assert.Equal(t, "a.go", rs.Tasks[0].FilesLikelyAffected[0])
	assert.Equal(t, 0.8, rs.ConfidenceScores[NodePlanner])
	assert.Equal(t, StatusPending, rs.Status)
}

func TestValidateDependencies(t *testing.T) {
	tasks := []Task{
		{ID: "T1"},
		{ID: "T2", Dependencies: []string{"T1", "T3"}},
		{ID: "T3", Dependencies: []string{"T3"}},
	}
	out, problems := ValidateDependencies(tasks)

	assert.Equal(t, []string{"T1"}, out[1].Dependencies)
	assert.Empty(t, out[2].Dependencies)
	assert.Len(t, problems, 2)
	// input untouched
	assert.Equal(t, []string{"T1", "T3"}, tasks[1].Dependencies)
}

func TestValidateDependencies_ReportsDuplicateIDs(t *testing.T) {
	tasks := []Task{{ID: "T1"}, {ID: "T1", Dependencies: []string{"T1"}}}
	_, problems := ValidateDependencies(tasks)

	require.Len(t, problems, 1)
	assert.Contains(t, problems[0], `id "T1" is already used`)
}

func TestApplyRejectsDuplicateTaskIDs(t *testing.T) {
	rs := NewRunState("r1", ManualTrigger(""))
	require.NoError(t, rs.Transition(StatusRunning))

	tasks := []Task{{ID: "T1"}, {ID: "T1", Dependencies: []string{"T1"}}}
	err := rs.Apply(Update{Tasks: &tasks})
	assert.True(t, errors.Is(err, ErrDuplicateTaskID))
	assert.Empty(t, rs.Tasks)
}

func TestTriggerValidate(t *testing.T) {
	assert.NoError(t, ManualTrigger("").Validate())
	assert.NoError(t, CIFailureTrigger("build/991").Validate())
	assert.Error(t, AlertTrigger("").Validate())
	assert.Equal(t, "issue:7", IssueTrigger("7").String())
}
