package checks

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

// ESLintParser parses `eslint -f json` output. Severity 2 is an error,
// anything else a warning.
type ESLintParser struct{}

func (p *ESLintParser) Parse(stdout string, stderr string, exitCode int) ParseResult {
	var files []struct {
		FilePath string `json:"filePath"`
		Messages []struct {
			RuleID   string          `json:"ruleId"`
			Severity int             `json:"severity"`
			Message  string          `json:"message"`
			Line     int             `json:"line"`
			Column   int             `json:"column"`
			Fix      json.RawMessage `json:"fix"`
		} `json:"messages"`
	}
	if err := json.Unmarshal([]byte(stdout), &files); err != nil {
		return ParseResult{
			Passed:  exitCode == 0,
			Summary: fmt.Sprintf("exit code %d (could not parse ESLint JSON)", exitCode),
		}
	}

	var (
		findings                []Finding
		errs, warnings, fixable int
	)
	for _, f := range files {
		for _, m := range f.Messages {
			finding := Finding{File: f.FilePath, Line: m.Line, Column: m.Column, Severity: "warning", Rule: m.RuleID, Message: m.Message}
			if m.Severity == 2 {
				finding.Severity = "error"
				errs++
			} else {
				warnings++
			}
			if len(m.Fix) > 0 && string(m.Fix) != "null" {
				fixable++
			}
			findings = append(findings, finding)
		}
	}
	return ParseResult{
		Passed:   errs == 0,
		Summary:  fmt.Sprintf("%d errors, %d warnings, %d fixable", errs, warnings, fixable),
		Findings: findings,
	}
}

// lineParser turns one diagnostic per line into error findings. The
// pattern's groups are file, line, column, rule and message.
type lineParser struct {
	re *regexp.Regexp
}

func (p lineParser) findings(out string) []Finding {
	var findings []Finding
	for _, line := range strings.Split(out, "\n") {
		m := p.re.FindStringSubmatch(strings.TrimSpace(line))
		if m == nil {
			continue
		}
		ln, _ := strconv.Atoi(m[2])
		col, _ := strconv.Atoi(m[3])
		findings = append(findings, Finding{File: m[1], Line: ln, Column: col, Severity: "error", Rule: m[4], Message: m[5]})
	}
	return findings
}

// TypeScriptParser parses `tsc --noEmit` output:
//
//	src/auth.ts(42,5): error TS2345: Argument of type...
type TypeScriptParser struct{}

var tscLines = lineParser{regexp.MustCompile(`^(.+)\((\d+),(\d+)\):\s+error\s+(TS\d+):\s+(.+)$`)}

func (p *TypeScriptParser) Parse(stdout string, stderr string, exitCode int) ParseResult {
	findings := tscLines.findings(stdout)
	summary := "no errors"
	if exitCode != 0 {
		summary = fmt.Sprintf("%d errors", len(findings))
	}
	return ParseResult{Passed: exitCode == 0, Summary: summary, Findings: findings}
}

// RuffParser parses ruff and flake8 style output:
//
//	app/main.py:12:5: F401 [*] `os` imported but unused
type RuffParser struct{}

var ruffLines = lineParser{regexp.MustCompile(`^(.+?):(\d+):(\d+): ([A-Z]+\d+) (?:\[\*\] )?(.+)$`)}

func (p *RuffParser) Parse(stdout string, stderr string, exitCode int) ParseResult {
	findings := ruffLines.findings(combine(stdout, stderr))
	summary := "no issues"
	if exitCode != 0 {
		summary = fmt.Sprintf("%d issues", len(findings))
	}
	return ParseResult{Passed: exitCode == 0, Summary: summary, Findings: findings}
}

// PrettierParser parses `prettier --check` output. Unformatted files are
// warnings; formatting alone never blocks a change.
type PrettierParser struct{}

func (p *PrettierParser) Parse(stdout string, stderr string, exitCode int) ParseResult {
	var findings []Finding
	for _, line := range strings.Split(combine(stdout, stderr), "\n") {
		file, ok := strings.CutPrefix(strings.TrimSpace(line), "[warn] ")
		if !ok || strings.Contains(file, "Code style issues") || strings.Contains(file, "Forgot to run") {
			continue
		}
		findings = append(findings, Finding{File: file, Severity: "warning", Rule: "prettier", Message: "file is not formatted"})
	}
	summary := "all files formatted"
	if exitCode != 0 {
		summary = fmt.Sprintf("%d files need formatting", len(findings))
	}
	return ParseResult{Passed: exitCode == 0, Summary: summary, Findings: findings}
}
