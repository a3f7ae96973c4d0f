package checks

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

// GoTestParser parses `go test -v -cover` text output.
type GoTestParser struct{}

var (
	goResultRe   = regexp.MustCompile(`^\s*--- (PASS|FAIL|SKIP): (\S+)`)
	goCoverageRe = regexp.MustCompile(`coverage: ([\d.]+)% of statements`)
)

func (p *GoTestParser) Parse(stdout string, stderr string, exitCode int) ParseResult {
	var sum TestSummary
	var covTotal float64
	var covCount int

	for _, line := range strings.Split(combine(stdout, stderr), "\n") {
		if m := goResultRe.FindStringSubmatch(line); m != nil {
			sum.Total++
			switch m[1] {
			case "PASS":
				sum.Passed++
			case "FAIL":
				sum.Failed++
				sum.Failures = append(sum.Failures, m[2])
			case "SKIP":
				sum.Skipped++
			}
			continue
		}
		if m := goCoverageRe.FindStringSubmatch(line); m != nil {
			if v, err := strconv.ParseFloat(m[1], 64); err == nil {
				covTotal += v
				covCount++
			}
		}
	}
	if covCount > 0 {
		sum.HasCoverage = true
		sum.Coverage = covTotal / float64(covCount)
	}

	passed := exitCode == 0 && sum.Failed == 0
	summary := fmt.Sprintf("%d passed, %d failed, %d skipped out of %d", sum.Passed, sum.Failed, sum.Skipped, sum.Total)
	if sum.HasCoverage {
		summary += fmt.Sprintf(", coverage %.1f%%", sum.Coverage)
	}
	return ParseResult{Passed: passed, Summary: summary, Tests: &sum}
}
