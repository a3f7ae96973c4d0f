package checks

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

// PytestParser parses pytest's terminal summary and pytest-cov's TOTAL row.
type PytestParser struct{}

var (
	pytestCountRe  = regexp.MustCompile(`(\d+) (passed|failed|errors?|skipped)`)
	pytestFailedRe = regexp.MustCompile(`^FAILED (\S+)`)
	pytestTotalRe  = regexp.MustCompile(`^TOTAL\s+.*?(\d+(?:\.\d+)?)%\s*$`)
)

func (p *PytestParser) Parse(stdout string, stderr string, exitCode int) ParseResult {
	var sum TestSummary
	for _, line := range strings.Split(combine(stdout, stderr), "\n") {
		line = strings.TrimSpace(line)
		if m := pytestFailedRe.FindStringSubmatch(line); m != nil {
			sum.Failures = append(sum.Failures, m[1])
			continue
		}
		if m := pytestTotalRe.FindStringSubmatch(line); m != nil {
			if v, err := strconv.ParseFloat(m[1], 64); err == nil {
				sum.Coverage = v
				sum.HasCoverage = true
			}
			continue
		}
		// The summary line looks like "==== 3 passed, 1 failed in 0.12s ====".
		if !strings.HasPrefix(line, "=") || !strings.Contains(line, " in ") {
			continue
		}
		for _, m := range pytestCountRe.FindAllStringSubmatch(line, -1) {
			n, _ := strconv.Atoi(m[1])
			switch m[2] {
			case "passed":
				sum.Passed = n
			case "failed", "error", "errors":
				sum.Failed += n
			case "skipped":
				sum.Skipped = n
			}
		}
	}
	sum.Total = sum.Passed + sum.Failed + sum.Skipped

	passed := exitCode == 0 && sum.Failed == 0
	summary := fmt.Sprintf("%d passed, %d failed, %d skipped out of %d", sum.Passed, sum.Failed, sum.Skipped, sum.Total)
	if sum.HasCoverage {
		summary += fmt.Sprintf(", coverage %.1f%%", sum.Coverage)
	}
	return ParseResult{Passed: passed, Summary: summary, Tests: &sum}
}
