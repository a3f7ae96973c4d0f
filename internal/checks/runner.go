// Package checks runs a project's test and lint commands and turns their
// output into structured results.
package checks

import (
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"
	"time"
)

// Default per-command timeouts.
const (
	DefaultTestTimeout = 5 * time.Minute
	DefaultLintTimeout = time.Minute
)

// Result holds the structured output of a check run.
type Result struct {
	CheckName  string       `json:"check_name"`
	Passed     bool         `json:"passed"`
	AutoFixed  bool         `json:"auto_fixed"`
	TimedOut   bool         `json:"timed_out"`
	ExitCode   int          `json:"exit_code"`
	DurationMs int          `json:"duration_ms"`
	Summary    string       `json:"summary"`
	Tests      *TestSummary `json:"tests,omitempty"`
	Findings   []Finding    `json:"findings,omitempty"`
	Stdout     string       `json:"stdout,omitempty"`
	Stderr     string       `json:"stderr,omitempty"`
}

// Output returns the combined, truncated stdout and stderr.
func (r *Result) Output() string {
	return tail(combine(r.Stdout, r.Stderr))
}

// BlockingFindings returns the findings with error severity.
func (r *Result) BlockingFindings() []Finding {
	var out []Finding
	for _, f := range r.Findings {
		if f.Blocking() {
			out = append(out, f)
		}
	}
	return out
}

// CheckConfig describes one command to run.
type CheckConfig struct {
	Name       string
	Command    string
	Parser     string // empty means detect from the command
	Timeout    time.Duration
	AutoFix    bool
	FixCommand string
}

// CommandRunner abstracts command execution for testability.
type CommandRunner interface {
	Run(ctx context.Context, dir string, command string) (stdout string, stderr string, exitCode int, err error)
}

// ExecRunner implements CommandRunner by shelling out.
type ExecRunner struct{}

func (e *ExecRunner) Run(ctx context.Context, dir string, command string) (string, string, int, error) {
	cmd := exec.CommandContext(ctx, "sh", "-c", command)
	cmd.Dir = dir
	cmd.WaitDelay = 2 * time.Second

	var stdoutBuf, stderrBuf strings.Builder
	cmd.Stdout = &stdoutBuf
	cmd.Stderr = &stderrBuf

	err := cmd.Run()
	exitCode := 0
	if err != nil {
		var exitErr *exec.ExitError
		if !errors.As(err, &exitErr) || ctx.Err() != nil {
			return stdoutBuf.String(), stderrBuf.String(), -1, fmt.Errorf("exec: %w", err)
		}
		exitCode = exitErr.ExitCode()
	}
	return stdoutBuf.String(), stderrBuf.String(), exitCode, nil
}

// Runner executes checks and parses their output.
type Runner struct {
	cmd     CommandRunner
	parsers map[string]Parser
}

// NewRunner creates a Runner with the given command runner. A nil runner
// shells out.
func NewRunner(cmd CommandRunner) *Runner {
	if cmd == nil {
		cmd = &ExecRunner{}
	}
	r := &Runner{
		cmd:     cmd,
		parsers: make(map[string]Parser),
	}
	r.parsers[ParserGoTest] = &GoTestParser{}
	r.parsers[ParserPytest] = &PytestParser{}
	r.parsers[ParserVitest] = &VitestParser{}
	r.parsers[ParserESLint] = &ESLintParser{}
	r.parsers[ParserTypeScript] = &TypeScriptParser{}
	r.parsers[ParserPrettier] = &PrettierParser{}
	r.parsers[ParserRuff] = &RuffParser{}
	r.parsers[ParserGeneric] = &GenericParser{}
	return r
}

// RunTests runs the project's test command with the test timeout default.
func (r *Runner) RunTests(ctx context.Context, dir, command string, timeout time.Duration) (*Result, error) {
	if timeout <= 0 {
		timeout = DefaultTestTimeout
	}
	return r.Run(ctx, dir, CheckConfig{Name: "test", Command: command, Timeout: timeout})
}

// RunLint runs the project's lint command with the lint timeout default.
func (r *Runner) RunLint(ctx context.Context, dir, command string) (*Result, error) {
	return r.Run(ctx, dir, CheckConfig{Name: "lint", Command: command, Timeout: DefaultLintTimeout})
}

// Run executes a single check in the given directory. A timeout is reported
// as a failed result, not an error.
func (r *Runner) Run(ctx context.Context, dir string, cfg CheckConfig) (*Result, error) {
	if strings.TrimSpace(cfg.Command) == "" {
		return nil, fmt.Errorf("check %q has no command", cfg.Name)
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 2 * time.Minute
	}

	result, err := r.runOnce(ctx, dir, cfg, timeout)
	if err != nil {
		return nil, err
	}

	// Auto-fix: if check failed, auto_fix enabled, and fix_command set, run fix then re-check
	if !result.Passed && !result.TimedOut && cfg.AutoFix && cfg.FixCommand != "" {
		fixCtx, cancel := context.WithTimeout(ctx, timeout)
		// Fix commands often exit non-zero; only the re-check counts.
		_, _, _, _ = r.cmd.Run(fixCtx, dir, cfg.FixCommand)
		cancel()

		recheck, err := r.runOnce(ctx, dir, cfg, timeout)
		if err != nil {
			return nil, fmt.Errorf("re-run after fix: %w", err)
		}
		recheck.AutoFixed = true
		return recheck, nil
	}

	return result, nil
}

// runOnce executes a check command once and parses the output.
func (r *Runner) runOnce(parent context.Context, dir string, cfg CheckConfig, timeout time.Duration) (*Result, error) {
	ctx, cancel := context.WithTimeout(parent, timeout)
	defer cancel()

	start := time.Now()
	stdout, stderr, exitCode, err := r.cmd.Run(ctx, dir, cfg.Command)
	durationMs := int(time.Since(start).Milliseconds())

	if err != nil {
		if errors.Is(ctx.Err(), context.DeadlineExceeded) && parent.Err() == nil {
			return &Result{
				CheckName:  cfg.Name,
				Passed:     false,
				TimedOut:   true,
				ExitCode:   -1,
				DurationMs: durationMs,
				Summary:    fmt.Sprintf("timeout after %s", timeout),
				Stdout:     stdout,
				Stderr:     stderr,
			}, nil
		}
		return nil, fmt.Errorf("run check %q: %w", cfg.Name, err)
	}

	name := cfg.Parser
	if name == "" {
		name = DetectParser(cfg.Command)
	}
	parser, ok := r.parsers[name]
	if !ok {
		parser = r.parsers[ParserGeneric]
	}
	parsed := parser.Parse(stdout, stderr, exitCode)

	return &Result{
		CheckName:  cfg.Name,
		Passed:     exitCode == 0 && parsed.Passed,
		ExitCode:   exitCode,
		DurationMs: durationMs,
		Summary:    parsed.Summary,
		Tests:      parsed.Tests,
		Findings:   parsed.Findings,
		Stdout:     stdout,
		Stderr:     stderr,
	}, nil
}
