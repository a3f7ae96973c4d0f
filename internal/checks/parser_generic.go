package checks

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

// GenericParser is the fallback parser. It captures the exit code and any
// "file:line:col: CODE message" diagnostics (ruff, flake8, golangci-lint).
type GenericParser struct{}

// maxOutputLen caps how much stdout/stderr a result retains.
const maxOutputLen = 8000

var lintLineRe = regexp.MustCompile(`^([^:\s]+):(\d+):(\d+):\s*(\S+)\s+(.+)$`)

func (p *GenericParser) Parse(stdout string, stderr string, exitCode int) ParseResult {
	passed := exitCode == 0
	summary := fmt.Sprintf("exit code %d, stdout=%d bytes, stderr=%d bytes", exitCode, len(stdout), len(stderr))
	if passed {
		summary = "passed (exit code 0)"
	}

	var findings []Finding
	for _, line := range strings.Split(combine(stdout, stderr), "\n") {
		m := lintLineRe.FindStringSubmatch(strings.TrimSpace(line))
		if m == nil {
			continue
		}
		ln, _ := strconv.Atoi(m[2])
		col, _ := strconv.Atoi(m[3])
		sev := "warning"
		if strings.HasPrefix(m[4], "E") || strings.HasPrefix(m[4], "F") {
			sev = "error"
		}
		findings = append(findings, Finding{File: m[1], Line: ln, Column: col, Severity: sev, Rule: m[4], Message: m[5]})
	}
	return ParseResult{Passed: passed, Summary: summary, Findings: findings}
}

// tail keeps the end of s; error summaries and tracebacks are usually last.
func tail(s string) string {
	if len(s) > maxOutputLen {
		return "…(truncated)\n" + s[len(s)-maxOutputLen:]
	}
	return s
}
