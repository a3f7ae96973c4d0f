package agents

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Thinkelution/devlution/internal/checks"
	"github.com/Thinkelution/devlution/internal/llm"
	"github.com/Thinkelution/devlution/internal/pipeline"
	"github.com/Thinkelution/devlution/internal/step"
)

func reviewRequest() step.ReviewRequest {
	return step.ReviewRequest{TaskTitle: "Add profile model", Diff: profilePatch}
}

func review(t *testing.T, reply string, mutate func(*Deps)) (step.Output, *memRecorder, *llm.Scripted) {
	t.Helper()
	client := llm.NewScripted().For("reviewer", llm.Reply{Text: reply})
	deps, rec := newDeps(t, client)
	if mutate != nil {
		mutate(&deps)
	}
	return NewReviewer(deps).Execute(context.Background(), reviewRequest(), testView()), rec, client
}

func TestReviewer_ApprovesConfidentChange(t *testing.T) {
	out, rec, client := review(t, `{"decision": "approve", "comments": [], "confidence": 0.95}`, nil)

	require.True(t, out.Success)
	assert.Equal(t, pipeline.ReviewApprove, *out.Update.ReviewDecision)
	assert.Empty(t, *out.Update.ReviewComments)
	assert.False(t, out.Escalate)

	prompt := lastPrompt(t, client, "reviewer")
	assert.Contains(t, prompt, "Auto-approve threshold: 0.92")
	assert.Contains(t, prompt, "Block on: security, data_loss")
	assert.Contains(t, prompt, "+class Profile: pass")

	entry := rec.find("review_complete")
	require.NotNil(t, entry)
	assert.Equal(t, "approve", entry.Details["decision"])
}

func TestReviewer_ApproveBelowThresholdEscalates(t *testing.T) {
	out, _, _ := review(t, `{"decision": "approve", "confidence": 0.85}`, nil)

	assert.Equal(t, pipeline.ReviewEscalateToHuman, *out.Update.ReviewDecision)
	assert.True(t, out.Escalate)
	assert.Equal(t, 0.85, out.Confidence)
}

func TestReviewer_BlockOnCategoryRequestsChanges(t *testing.T) {
	out, rec, _ := review(t, `{
		"decision": "approve",
		"comments": [
			{"file": "app/profile.py", "line": 1, "severity": "blocking", "category": "security", "body": "bio is rendered unescaped"},
			{"file": "app/profile.py", "line": 2, "severity": "nit", "body": "naming"}
		],
		"confidence": 0.97
	}`, nil)

	assert.Equal(t, pipeline.ReviewRequestChanges, *out.Update.ReviewDecision)
	assert.False(t, out.Escalate)
	comments := *out.Update.ReviewComments
	require.Len(t, comments, 2)
	assert.Equal(t, "[security] bio is rendered unescaped", comments[0].Body)
	assert.Equal(t, pipeline.SeverityBlocking, comments[0].Severity)
	assert.Equal(t, pipeline.SeverityWarning, comments[1].Severity)
	assert.Equal(t, []string{"security"}, rec.find("review_complete").Details["blocked_by"])
}

func TestReviewer_BlockingLintFindingsRequestChanges(t *testing.T) {
	cmd := &fakeCmd{
		stdout: "app/profile.py:1:7: F821 undefined name 'Base'\napp/profile.py:3:1: W291 trailing whitespace\n",
		exit:   1,
	}
	ws := &fakeWorkspace{}
	out, _, client := review(t, `{"decision": "approve", "confidence": 0.99}`, func(d *Deps) {
		d.Config.Project.LintCommand = "ruff check ."
		d.Checks = checks.NewRunner(cmd)
		d.Workspace = ws
	})

	assert.Equal(t, pipeline.ReviewRequestChanges, *out.Update.ReviewDecision)
	comments := *out.Update.ReviewComments
	require.Len(t, comments, 1)
	assert.Equal(t, "app/profile.py", comments[0].File)
	assert.Equal(t, 1, comments[0].Line)
	assert.Equal(t, pipeline.SeverityBlocking, comments[0].Severity)
	assert.Equal(t, "[lint] undefined name 'Base' (F821)", comments[0].Body)

	assert.Equal(t, []string{"ruff check ."}, cmd.commands)
	assert.Equal(t, []string{"/wt/run-1-reviewer"}, cmd.dirs)
	assert.Equal(t, []string{profilePatch}, ws.patches)
	assert.Equal(t, 1, ws.cleaned)
	assert.Contains(t, lastPrompt(t, client, "reviewer"), "## Lint Findings\n- app/profile.py:1 F821 undefined name 'Base'")
}

func TestReviewer_LintRunsInRootWithoutWorkspace(t *testing.T) {
	cmd := &fakeCmd{}
	var root string
	review(t, `{"decision": "approve", "confidence": 0.99}`, func(d *Deps) {
		d.Config.Project.LintCommand = "ruff check ."
		d.Checks = checks.NewRunner(cmd)
		root = d.Config.Project.Root
	})
	assert.Equal(t, []string{root}, cmd.dirs)
}

func TestReviewer_UnparsableOutputEscalates(t *testing.T) {
	out, _, _ := review(t, "looks fine to me", nil)

	require.True(t, out.Success)
	assert.Equal(t, pipeline.ReviewEscalateToHuman, *out.Update.ReviewDecision)
	assert.Equal(t, 0.3, out.Confidence)
	assert.True(t, out.Escalate)
}

func TestReviewer_RequestChangesPassesThrough(t *testing.T) {
	out, _, _ := review(t, `{"decision": "request_changes", "comments": [{"file": "a.py", "line": 4, "severity": "warning", "body": "rename"}], "confidence": 0.9}`, nil)

	assert.Equal(t, pipeline.ReviewRequestChanges, *out.Update.ReviewDecision)
	assert.Equal(t, "rename", (*out.Update.ReviewComments)[0].Body)
}

func TestReviewer_UnknownDecisionEscalates(t *testing.T) {
	out, _, _ := review(t, `{"decision": "ship it", "confidence": 0.99}`, nil)
	assert.Equal(t, pipeline.ReviewEscalateToHuman, *out.Update.ReviewDecision)
}
