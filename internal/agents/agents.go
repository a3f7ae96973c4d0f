// Package agents implements the pipeline steps backed by a language model:
// planner, coder, reviewer, tester, debugger and publisher.
//
// Every agent renders a prompt, asks the model, extracts JSON from the reply
// with a fixed fallback when nothing parses, settles a confidence score and
// records one completion audit entry. Agents never mutate run state; they
// return a step.Output whose Update the engine merges.
package agents

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/Thinkelution/devlution/internal/audit"
	"github.com/Thinkelution/devlution/internal/checks"
	"github.com/Thinkelution/devlution/internal/confidence"
	"github.com/Thinkelution/devlution/internal/config"
	"github.com/Thinkelution/devlution/internal/github"
	"github.com/Thinkelution/devlution/internal/llm"
	"github.com/Thinkelution/devlution/internal/logging"
	"github.com/Thinkelution/devlution/internal/pipeline"
	"github.com/Thinkelution/devlution/internal/prompt"
	"github.com/Thinkelution/devlution/internal/step"
)

// Truncation limits for text placed into prompts and results.
const (
	maxStyleGuide = 2000
	maxFileBody   = 4000
	maxDiff       = 8000
	maxFailureLog = 6000
	maxTestOutput = 5000
)

// Workspace materialises a patch in a scratch checkout.
type Workspace interface {
	Prepare(ctx context.Context, name, patch string) (dir string, cleanup func(), err error)
	Diff(ctx context.Context, dir string) (string, error)
}

// Deps are the collaborators shared by all agents.
type Deps struct {
	LLM      llm.Client
	Scorer   *confidence.Scorer
	Recorder audit.Recorder
	Prompts  *prompt.Library
	Config   *config.Config
	Checks   *checks.Runner
	// Workspace is optional; without it checks run in the project root.
	Workspace Workspace
	GitHub    github.Host
	// Git runs git inside publish worktrees.
	Git    github.GitRunner
	Logger *logging.Logger
}

func (d Deps) root() string {
	if d.Config != nil && d.Config.Project.Root != "" {
		return d.Config.Project.Root
	}
	return "."
}

// base carries what every agent needs.
type base struct {
	name string
	Deps
}

func newBase(node pipeline.Node, d Deps) base {
	if d.Config == nil {
		d.Config = config.Default("devlution")
	}
	if d.Prompts == nil {
		d.Prompts = prompt.NewLibrary("")
	}
	if d.Logger == nil {
		d.Logger = logging.Nop()
	}
	d.Logger = d.Logger.Named(string(node))
	if d.Checks == nil {
		d.Checks = checks.NewRunner(nil)
	}
	return base{name: string(node), Deps: d}
}

// complete renders the agent's user template and asks the model.
func (b base) complete(ctx context.Context, runID string, vars prompt.Vars) (string, error) {
	user, err := b.Prompts.User(b.name, vars)
	if err != nil {
		return "", err
	}
	if b.LLM == nil {
		return "", fmt.Errorf("%s: no model client configured", b.name)
	}
	resp, err := b.LLM.Complete(ctx, llm.Request{
		System:      b.Prompts.System(b.name),
		Messages:    []llm.Message{{Role: "user", Content: user}},
		Model:       b.Config.LLM.Model,
		MaxTokens:   b.Config.LLM.MaxTokens,
		Temperature: b.Config.LLM.Temperature,
		RunID:       runID,
		Actor:       b.name,
	})
	if err != nil {
		return "", err
	}
	return resp.Text, nil
}

// resolve settles the confidence of a parsed reply.
func (b base) resolve(ctx context.Context, runID string, data map[string]any, text string, rubric confidence.Rubric, rescoreBelow *float64) float64 {
	return b.Scorer.Resolve(ctx, confidence.ResolveOpts{
		RunID:        runID,
		Actor:        b.name,
		Data:         data,
		Output:       text,
		Rubric:       rubric,
		RescoreBelow: rescoreBelow,
	})
}

// record writes the agent's completion entry. Audit failures are logged;
// the step result stands.
func (b base) record(ctx context.Context, runID, action string, details map[string]any, conf float64, start time.Time) {
	if b.Recorder == nil {
		return
	}
	if _, err := b.Recorder.Record(ctx, audit.Entry{
		RunID:      runID,
		Actor:      b.name,
		Action:     action,
		Details:    details,
		Confidence: audit.Float(conf),
		DurationMs: audit.Millis(time.Since(start)),
	}); err != nil {
		b.Logger.Warn(ctx, "audit record failed", zap.String("action", action), zap.Error(err))
	}
}

// readFile reads a project file. Paths escaping the project root are refused.
func (b base) readFile(rel string) (string, error) {
	root, err := filepath.Abs(b.root())
	if err != nil {
		return "", err
	}
	path := filepath.Join(root, filepath.Clean("/"+rel))
	data, err := os.ReadFile(path)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}

func bullets(items []string) string {
	var b strings.Builder
	for i, it := range items {
		if i > 0 {
			b.WriteByte('\n')
		}
		b.WriteString("- ")
		b.WriteString(it)
	}
	return b.String()
}

func joinOr(items []string, empty string) string {
	if len(items) == 0 {
		return empty
	}
	return strings.Join(items, ", ")
}

// fileSections renders "## <title>: path" blocks for the given contents.
func fileSections(title string, paths []string, contents map[string]string) string {
	var parts []string
	for _, p := range paths {
		c, ok := contents[p]
		if !ok {
			continue
		}
		parts = append(parts, fmt.Sprintf("## %s: %s\n```\n%s\n```", title, p, truncate(c, maxFileBody)))
	}
	return strings.Join(parts, "\n\n")
}

func floatp(v float64) *float64 { return &v }

func wrongInput(node pipeline.Node, in step.Input) step.Output {
	return step.Failed("%s: unexpected input %T", node, in)
}

// Steps returns the model-backed implementation of every step node.
func Steps(d Deps) []step.Step {
	return []step.Step{
		NewPlanner(d),
		NewCoder(d),
		NewReviewer(d),
		NewTester(d),
		NewDebugger(d),
		NewPublisher(d),
	}
}
