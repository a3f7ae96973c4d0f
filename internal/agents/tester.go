package agents

import (
	"context"
	"fmt"
	"math"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/Thinkelution/devlution/internal/checks"
	"github.com/Thinkelution/devlution/internal/confidence"
	"github.com/Thinkelution/devlution/internal/extract"
	"github.com/Thinkelution/devlution/internal/pipeline"
	"github.com/Thinkelution/devlution/internal/prompt"
	"github.com/Thinkelution/devlution/internal/step"
)

const testerFallbackConf = 0.3

type testReply struct {
	TestsWritten []struct {
		Path    string `json:"path"`
		Content string `json:"content"`
	} `json:"tests_written"`
	Patch    string   `json:"patch"`
	Coverage *float64 `json:"coverage"`
}

// Tester generates tests for the change and runs the project's suite.
type Tester struct{ base }

func NewTester(d Deps) *Tester { return &Tester{newBase(pipeline.NodeTester, d)} }

func (t *Tester) Node() pipeline.Node { return pipeline.NodeTester }

func (t *Tester) Execute(ctx context.Context, in step.Input, view pipeline.View) step.Output {
	req, ok := in.(step.TestRequest)
	if !ok {
		return wrongInput(t.Node(), in)
	}
	start := time.Now()
	cfg := t.Config.Agents.Tester

	text, err := t.complete(ctx, view.RunID, prompt.Vars{
		"task_title":         req.TaskTitle,
		"changed_files":      bullets(req.ChangedFiles),
		"frameworks":         joinOr(cfg.Frameworks, "the project's default"),
		"coverage_threshold": fmt.Sprintf("%.0f", cfg.CoverageThreshold),
		"generate_on":        joinOr(cfg.GenerateOn, "any change"),
		"patch":              truncate(req.Patch, maxDiff),
	})
	if err != nil {
		out := step.Failed("tester: %v", err)
		out.Escalate = true
		return out
	}

	data, ok := extract.Object(text)
	var reply testReply
	if !ok || extract.Into(text, &reply) != nil {
		data = map[string]any{"tests_written": []any{}, "confidence": testerFallbackConf}
		reply = testReply{}
	}

	testPatch := reply.Patch
	written := make([]string, 0, len(reply.TestsWritten))
	if strings.TrimSpace(testPatch) == "" {
		var parts []string
		for _, tw := range reply.TestsWritten {
			if tw.Path == "" {
				continue
			}
			parts = append(parts, newFileDiff(tw.Path, tw.Content))
			written = append(written, tw.Path)
		}
		testPatch = joinPatches(parts...)
	} else {
		written = patchFiles(testPatch)
	}

	res, patch, runErr := t.run(ctx, view.RunID, req.Patch, testPatch)
	result := t.testResult(res, runErr, reply.Coverage)
	measured := res != nil && res.Tests != nil && res.Tests.HasCoverage

	conf := t.resolve(ctx, view.RunID, data, text, confidence.Testing, nil)
	if result.CoveragePercent < cfg.CoverageThreshold {
		conf = math.Min(conf, result.CoveragePercent/100)
	}

	t.record(ctx, view.RunID, "test_complete", map[string]any{
		"passed":            result.Passed,
		"total_tests":       result.TotalTests,
		"failed_tests":      result.FailedTests,
		"coverage_percent":  result.CoveragePercent,
		"coverage_measured": measured,
		"tests_written":     written,
	}, conf, start)

	out := step.Output{
		Success: result.Passed,
		Update:  pipeline.Update{TestResult: &result},
		Data: map[string]any{
			"tests_written": written,
			"test_result":   result,
		},
		Confidence: conf,
	}
	if patch != "" {
		out.Update.Patch = &patch
	}
	if !result.Passed {
		out.Error = fmt.Sprintf("tests failed: %d of %d", result.FailedTests, result.TotalTests)
	}
	return out
}

// run executes the suite against the change plus the generated tests. It
// returns the combined patch when the generated tests became part of it.
func (t *Tester) run(ctx context.Context, runID, codePatch, testPatch string) (*checks.Result, string, error) {
	command := t.Config.Project.TestCommand
	timeout := time.Duration(t.Config.Agents.Tester.TimeoutSeconds) * time.Second

	if t.Workspace == nil {
		res, err := t.Checks.RunTests(ctx, t.root(), command, timeout)
		if testPatch == "" {
			return res, "", err
		}
		return res, joinPatches(codePatch, testPatch), err
	}

	name := runID + "-tester"
	dir, cleanup, err := t.Workspace.Prepare(ctx, name, joinPatches(codePatch, testPatch))
	if err != nil && testPatch != "" {
		t.Logger.Warn(ctx, "generated tests do not apply, running without them", zap.Error(err))
		testPatch = ""
		dir, cleanup, err = t.Workspace.Prepare(ctx, name, codePatch)
	}
	if err != nil {
		return nil, "", fmt.Errorf("prepare workspace: %w", err)
	}
	defer cleanup()

	res, err := t.Checks.RunTests(ctx, dir, command, timeout)
	if err != nil || testPatch == "" {
		return res, "", err
	}
	diff, derr := t.Workspace.Diff(ctx, dir)
	if derr != nil {
		t.Logger.Warn(ctx, "could not collect test diff", zap.Error(derr))
		return res, joinPatches(codePatch, testPatch), nil
	}
	return res, diff, nil
}

// testResult converts a check result into run state. When the suite reports
// no coverage the model's estimate is used, and failing that the threshold.
func (t *Tester) testResult(res *checks.Result, runErr error, reported *float64) pipeline.TestResult {
	threshold := t.Config.Agents.Tester.CoverageThreshold
	if runErr != nil || res == nil {
		msg := "test run failed"
		if runErr != nil {
			msg = runErr.Error()
		}
		return pipeline.TestResult{Output: msg, FailureLog: msg}
	}

	tr := pipeline.TestResult{Passed: res.Passed, CoveragePercent: threshold}
	if s := res.Tests; s != nil {
		tr.TotalTests = s.Total
		tr.PassedTests = s.Passed
		tr.FailedTests = s.Failed
		if s.HasCoverage {
			tr.CoveragePercent = s.Coverage
		} else if reported != nil {
			tr.CoveragePercent = *reported
		}
	} else if reported != nil {
		tr.CoveragePercent = *reported
	}
	tr.CoveragePercent = math.Max(0, math.Min(100, tr.CoveragePercent))
	tr.Output = tailString(res.Output(), maxTestOutput)

	if !tr.Passed {
		var b strings.Builder
		if res.TimedOut {
			b.WriteString(res.Summary)
			b.WriteByte('\n')
		}
		if res.Tests != nil {
			for _, f := range res.Tests.Failures {
				b.WriteString("FAILED ")
				b.WriteString(f)
				b.WriteByte('\n')
			}
		}
		b.WriteString(res.Output())
		tr.FailureLog = tailString(b.String(), maxFailureLog)
	}
	return tr
}

// newFileDiff renders content as a unified diff creating path.
func newFileDiff(path, content string) string {
	content = strings.TrimSuffix(content, "\n")
	lines := strings.Split(content, "\n")
	var b strings.Builder
	fmt.Fprintf(&b, "diff --git a/%s b/%s\nnew file mode 100644\n--- /dev/null\n+++ b/%s\n", path, path, path)
	fmt.Fprintf(&b, "@@ -0,0 +1,%d @@\n", len(lines))
	for _, l := range lines {
		b.WriteString("+")
		b.WriteString(l)
		b.WriteByte('\n')
	}
	return b.String()
}

// joinPatches concatenates non-empty patches, each ending in a newline.
func joinPatches(patches ...string) string {
	var b strings.Builder
	for _, p := range patches {
		if strings.TrimSpace(p) == "" {
			continue
		}
		b.WriteString(p)
		if !strings.HasSuffix(p, "\n") {
			b.WriteByte('\n')
		}
	}
	return b.String()
}

func tailString(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[len(s)-n:]
}
