package step

import (
	"fmt"
	"strings"

	"github.com/Thinkelution/devlution/internal/pipeline"
)

// BuildInput derives the typed request for node from the current run state.
// The planner's request cannot be derived beyond the trigger; callers
// normally supply it.
func BuildInput(node pipeline.Node, view pipeline.View) (Input, error) {
	switch node {
	case pipeline.NodePlanner:
		return PlanRequest{Trigger: view.Trigger, Title: view.Trigger.String()}, nil

	case pipeline.NodeCoder:
		task := activeTask(view)
		if task == nil {
			return nil, fmt.Errorf("coder: run has no tasks")
		}
		failure := ""
		if view.TestResult != nil && !view.TestResult.Passed {
			failure = view.TestResult.FailureLog
		}
		return CodeChangeRequest{
			Task:           *task,
			ReviewComments: view.ReviewComments,
			FailureLog:     failure,
			Iteration:      view.IterationCounts[pipeline.NodeCoder] + 1,
		}, nil

	case pipeline.NodeReviewer:
		return ReviewRequest{TaskTitle: taskTitle(view), Diff: view.Patch}, nil

	case pipeline.NodeTester:
		return TestRequest{TaskTitle: taskTitle(view), ChangedFiles: view.FilesModified, Patch: view.Patch}, nil

	case pipeline.NodeDebugger:
		log := ""
		if view.TestResult != nil {
			log = view.TestResult.FailureLog
			if log == "" {
				log = view.TestResult.Output
			}
		}
		if view.IncidentLog != "" {
			if log != "" {
				log += "\n\n"
			}
			log += "Production incident:\n" + view.IncidentLog
		}
		return DiagnosisRequest{
			FailureLog: log,
			Attempt:    view.IterationCounts[pipeline.NodeDebugger] + 1,
		}, nil

	case pipeline.NodePublish:
		return PublishRequest{
			Title:  publishTitle(view),
			Body:   publishBody(view),
			Patch:  view.Patch,
			Branch: "devlution/" + shortID(view.RunID),
		}, nil
	}
	return nil, fmt.Errorf("no step input for node %q", node)
}

// activeTask is the current task, or the last one once the index has run
// past the end.
func activeTask(view pipeline.View) *pipeline.Task {
	if t := view.CurrentTask(); t != nil {
		return t
	}
	if n := len(view.Tasks); n > 0 {
		t := view.Tasks[n-1]
		return &t
	}
	return nil
}

func taskTitle(view pipeline.View) string {
	if t := activeTask(view); t != nil {
		return t.Title
	}
	return ""
}

func publishTitle(view pipeline.View) string {
	if t := activeTask(view); t != nil {
		if len(view.Tasks) == 1 {
			return t.Title
		}
		return fmt.Sprintf("%s (+%d more)", view.Tasks[0].Title, len(view.Tasks)-1)
	}
	return "devlution: " + view.Trigger.String()
}

func publishBody(view pipeline.View) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Automated change for %s.\n\n", view.Trigger)
	if len(view.Tasks) > 0 {
		b.WriteString("## Tasks\n")
		for _, t := range view.Tasks {
			fmt.Fprintf(&b, "- [%s] %s\n", t.ID, t.Title)
		}
		b.WriteByte('\n')
	}
	if tr := view.TestResult; tr != nil {
		fmt.Fprintf(&b, "## Tests\n%d/%d passed, coverage %.1f%%\n\n", tr.PassedTests, tr.TotalTests, tr.CoveragePercent)
	}
	if len(view.ConfidenceScores) > 0 {
		b.WriteString("## Confidence\n")
		for _, n := range pipeline.StepNodes {
			if s, ok := view.ConfidenceScores[n]; ok {
				fmt.Fprintf(&b, "- %s: %.2f\n", n, s)
			}
		}
		b.WriteByte('\n')
	}
	fmt.Fprintf(&b, "Run: `%s`\n", view.RunID)
	return b.String()
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	if id == "" {
		return "run"
	}
	return id
}
