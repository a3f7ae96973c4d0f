// Package confidence turns step output into a bounded quality score.
package confidence

import (
	"fmt"
	"strings"
)

// Criterion is one named rubric line.
type Criterion struct {
	Name        string
	Description string
}

// Rubric is an ordered list of criteria an evaluator scores against.
type Rubric []Criterion

// Names returns the criterion names in order.
func (r Rubric) Names() []string {
	out := make([]string, len(r))
	for i, c := range r {
		out[i] = c.Name
	}
	return out
}

func (r Rubric) String() string {
	var b strings.Builder
	for i, c := range r {
		if i > 0 {
			b.WriteByte('\n')
		}
		fmt.Fprintf(&b, "- %s: %s", c.Name, c.Description)
	}
	return b.String()
}

var (
	Planning = Rubric{
		{"completeness", "Does the plan cover all aspects of the issue?"},
		{"clarity", "Are tasks clearly defined with actionable acceptance criteria?"},
		{"scoping", "Are file hints accurate and task complexity estimates reasonable?"},
		{"independence", "Can each task be implemented independently?"},
	}

	Coding = Rubric{
		{"correctness", "Does the code implement the task requirements?"},
		{"style", "Does it follow existing codebase conventions?"},
		{"completeness", "Are all acceptance criteria addressed?"},
		{"minimality", "Are changes focused without unnecessary modifications?"},
	}

	Review = Rubric{
		{"correctness", "Does it solve the task without logic errors?"},
		{"security", "No vulnerabilities, secrets, or unsafe operations?"},
		{"style", "Matches existing codebase patterns and conventions?"},
		{"test_coverage", "Adequate tests added or updated?"},
		{"side_effects", "No regressions or broken existing behavior?"},
	}

	Testing = Rubric{
		{"coverage", "Do the tests cover the changed code paths?"},
		{"edge_cases", "Are edge cases and error paths tested?"},
		{"clarity", "Are test names and assertions clear?"},
		{"isolation", "Are tests independent and not order-dependent?"},
	}

	Debugging = Rubric{
		{"diagnosis", "Is the root cause correctly identified?"},
		{"fix_quality", "Is the fix minimal and correct?"},
		{"verification", "Was the fix verified against the failing test?"},
		{"safety", "Does the fix avoid introducing new issues?"},
	}
)
