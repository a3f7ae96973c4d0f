package checks

import "strings"

// Parser names accepted in CheckConfig.Parser.
const (
	ParserGoTest     = "gotest"
	ParserPytest     = "pytest"
	ParserVitest     = "vitest"
	ParserESLint     = "eslint"
	ParserTypeScript = "typescript"
	ParserPrettier   = "prettier"
	ParserRuff       = "ruff"
	ParserGeneric    = "generic"
)

// Finding is one lint or type-check diagnostic.
type Finding struct {
	File     string `json:"file"`
	Line     int    `json:"line"`
	Column   int    `json:"column,omitempty"`
	Severity string `json:"severity"` // "error" or "warning"
	Rule     string `json:"rule,omitempty"`
	Message  string `json:"message"`
}

// Blocking reports whether the finding should stop a change.
func (f Finding) Blocking() bool {
	return f.Severity == "error"
}

// TestSummary holds counts extracted from a test runner's output.
type TestSummary struct {
	Total       int      `json:"total"`
	Passed      int      `json:"passed"`
	Failed      int      `json:"failed"`
	Skipped     int      `json:"skipped"`
	Coverage    float64  `json:"coverage"`
	HasCoverage bool     `json:"has_coverage"`
	Failures    []string `json:"failures,omitempty"`
}

// ParseResult holds the normalized output from a parser.
type ParseResult struct {
	Passed   bool         `json:"passed"`
	Summary  string       `json:"summary"`
	Tests    *TestSummary `json:"tests,omitempty"`
	Findings []Finding    `json:"findings,omitempty"`
}

// Parser converts raw command output into a structured ParseResult.
type Parser interface {
	Parse(stdout string, stderr string, exitCode int) ParseResult
}

// DetectParser guesses the parser for a command line.
func DetectParser(command string) string {
	c := strings.ToLower(command)
	switch {
	case strings.Contains(c, "go test"):
		return ParserGoTest
	case strings.Contains(c, "pytest"):
		return ParserPytest
	case strings.Contains(c, "vitest"), strings.Contains(c, "jest"):
		return ParserVitest
	case strings.Contains(c, "eslint"):
		return ParserESLint
	case strings.Contains(c, "tsc"):
		return ParserTypeScript
	case strings.Contains(c, "prettier"):
		return ParserPrettier
	case strings.Contains(c, "ruff"), strings.Contains(c, "flake8"):
		return ParserRuff
	}
	return ParserGeneric
}

func combine(stdout, stderr string) string {
	if stderr == "" {
		return stdout
	}
	if stdout == "" {
		return stderr
	}
	return stdout + "\n" + stderr
}
