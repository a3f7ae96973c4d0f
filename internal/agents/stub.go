package agents

import (
	"context"
	"fmt"

	"github.com/Thinkelution/devlution/internal/audit"
	"github.com/Thinkelution/devlution/internal/pipeline"
	"github.com/Thinkelution/devlution/internal/step"
)

// DryRunReference is the published reference of a dry run.
const DryRunReference = "https://github.com/example/repo/pull/0 (dry-run)"

// Stubs returns deterministic offline steps for dry runs. They touch neither
// a model nor the repository but still write the usual audit entries.
func Stubs(rec audit.Recorder) []step.Step {
	record := func(ctx context.Context, runID string, node pipeline.Node, action string, conf float64, details map[string]any) {
		if rec == nil {
			return
		}
		details["dry_run"] = true
		_, _ = rec.Record(ctx, audit.Entry{RunID: runID, Actor: string(node), Action: action, Details: details, Confidence: audit.Float(conf)})
	}

	return []step.Step{
		step.Func{N: pipeline.NodePlanner, Fn: func(ctx context.Context, in step.Input, view pipeline.View) step.Output {
			title := "Implement " + view.Trigger.String()
			if req, ok := in.(step.PlanRequest); ok && req.Title != "" {
				title = req.Title
			}
			tasks := []pipeline.Task{{
				ID:                  "T1",
				Title:               title,
				FilesLikelyAffected: []string{"README.md"},
				AcceptanceCriteria:  []string{"Change is documented"},
				EstimatedComplexity: pipeline.ComplexityLow,
				Dependencies:        []string{},
			}}
			record(ctx, view.RunID, pipeline.NodePlanner, "plan_complete", 0.9, map[string]any{"task_count": 1})
			return step.Output{Success: true, Update: pipeline.Update{Tasks: &tasks}, Confidence: 0.9}
		}},

		step.Func{N: pipeline.NodeCoder, Fn: func(ctx context.Context, in step.Input, view pipeline.View) step.Output {
			patch := fmt.Sprintf("--- a/README.md\n+++ b/README.md\n@@ -0,0 +1 @@\n+Dry run %s\n", view.RunID)
			files := []string{"README.md"}
			record(ctx, view.RunID, pipeline.NodeCoder, "code_complete", 0.85, map[string]any{"files_modified": files})
			return step.Output{Success: true, Update: pipeline.Update{Patch: &patch, FilesModified: &files}, Confidence: 0.85}
		}},

		step.Func{N: pipeline.NodeReviewer, Fn: func(ctx context.Context, in step.Input, view pipeline.View) step.Output {
			decision := pipeline.ReviewApprove
			comments := []pipeline.ReviewComment{}
			record(ctx, view.RunID, pipeline.NodeReviewer, "review_complete", 0.95, map[string]any{"decision": string(decision)})
			return step.Output{Success: true, Update: pipeline.Update{ReviewDecision: &decision, ReviewComments: &comments}, Confidence: 0.95}
		}},

		step.Func{N: pipeline.NodeTester, Fn: func(ctx context.Context, in step.Input, view pipeline.View) step.Output {
			tr := pipeline.TestResult{Passed: true, TotalTests: 10, PassedTests: 10, CoveragePercent: 90, Output: "10 passed (dry-run)"}
			record(ctx, view.RunID, pipeline.NodeTester, "test_complete", 0.9, map[string]any{"passed": true, "coverage_percent": 90.0})
			return step.Output{Success: true, Update: pipeline.Update{TestResult: &tr}, Confidence: 0.9}
		}},

		step.Func{N: pipeline.NodeDebugger, Fn: func(ctx context.Context, in step.Input, view pipeline.View) step.Output {
			record(ctx, view.RunID, pipeline.NodeDebugger, "debug_complete", 0.8, map[string]any{"verified": true})
			return step.Output{Success: true, Confidence: 0.8}
		}},

		step.Func{N: pipeline.NodePublish, Fn: func(ctx context.Context, in step.Input, view pipeline.View) step.Output {
			ref := DryRunReference
			record(ctx, view.RunID, pipeline.NodePublish, "pr_created", 1, map[string]any{"url": ref})
			return step.Output{Success: true, Update: pipeline.Update{PublishedReference: &ref}, Confidence: 1}
		}},
	}
}
