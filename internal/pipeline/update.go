package pipeline

import (
	"fmt"
	"time"
)

// Update is a functional update returned by a step. Nil fields are left
// untouched; set fields overwrite; GateDecisions merges by key.
type Update struct {
	Tasks              *[]Task                 `json:"tasks,omitempty"`
	CurrentTaskIndex   *int                    `json:"current_task_index,omitempty"`
	ReviewComments     *[]ReviewComment        `json:"review_comments,omitempty"`
	ReviewDecision     *ReviewDecision         `json:"review_decision,omitempty"`
	TestResult         *TestResult             `json:"test_result,omitempty"`
	Patch              *string                 `json:"patch,omitempty"`
	PublishedReference *string                 `json:"published_reference,omitempty"`
	GateDecisions      map[string]GateDecision `json:"gate_decisions,omitempty"`
	Status             *Status                 `json:"status,omitempty"`
	Error              *string                 `json:"error,omitempty"`
	Blockers           *[]string               `json:"blockers,omitempty"`
	FilesModified      *[]string               `json:"files_modified,omitempty"`
}

// Ptr returns a pointer to v; handy for building Updates.
func Ptr[T any](v T) *T {
	return &v
}

// IsZero reports whether the update changes nothing.
func (u Update) IsZero() bool {
	return u.Tasks == nil && u.CurrentTaskIndex == nil && u.ReviewComments == nil &&
		u.ReviewDecision == nil && u.TestResult == nil && u.Patch == nil &&
		u.PublishedReference == nil && len(u.GateDecisions) == 0 && u.Status == nil &&
		u.Error == nil && u.Blockers == nil && u.FilesModified == nil
}

// Apply merges u into s. It validates everything first, so a rejected update
// leaves s unchanged.
func (s *RunState) Apply(u Update) error {
	tasks := s.Tasks
	if u.Tasks != nil {
		tasks = *u.Tasks
	}
	idx := s.CurrentTaskIndex
	if u.Tasks != nil {
		idx = 0
	}
	if u.CurrentTaskIndex != nil {
		idx = *u.CurrentTaskIndex
	}
	if u.Tasks != nil {
		if dup := duplicateTaskID(tasks); dup != "" {
			return fmt.Errorf("%w: %s", ErrDuplicateTaskID, dup)
		}
	}
	if idx < 0 || idx > len(tasks) {
		return fmt.Errorf("current task index %d outside [0,%d]", idx, len(tasks))
	}
	if u.TestResult != nil {
		if err := u.TestResult.validate(); err != nil {
			return fmt.Errorf("test result: %w", err)
		}
	}
	if u.ReviewComments != nil {
		for i, c := range *u.ReviewComments {
			if c.Line < 0 {
				return fmt.Errorf("review comment %d: negative line %d", i, c.Line)
			}
		}
	}
	if u.Status != nil {
		if err := checkTransition(s.Status, *u.Status); err != nil {
			return err
		}
	}
	for id, d := range u.GateDecisions {
		if _, exists := s.GateDecisions[id]; exists {
			return fmt.Errorf("%w: %s", ErrGateAlreadyDecided, id)
		}
		if _, err := ParseDecision(string(d.Decision)); err != nil {
			return err
		}
	}

	if u.Tasks != nil {
		s.Tasks = cloneTasks(*u.Tasks)
	}
	s.CurrentTaskIndex = idx
	if u.ReviewComments != nil {
		s.ReviewComments = append([]ReviewComment{}, (*u.ReviewComments)...)
	}
	if u.ReviewDecision != nil {
		s.ReviewDecision = *u.ReviewDecision
	}
	if u.TestResult != nil {
		tr := *u.TestResult
		s.TestResult = &tr
	}
	if u.Patch != nil {
		s.Patch = *u.Patch
	}
	if u.PublishedReference != nil {
		s.PublishedReference = *u.PublishedReference
	}
	for id, d := range u.GateDecisions {
		d.GateID = id
		if d.Timestamp == "" {
			d.Timestamp = time.Now().UTC().Format(time.RFC3339)
		}
		if s.GateDecisions == nil {
			s.GateDecisions = make(map[string]GateDecision)
		}
		s.GateDecisions[id] = d
	}
	if u.Status != nil {
		s.Status = *u.Status
	}
	if u.Error != nil {
		s.Error = *u.Error
	}
	if u.Blockers != nil {
		s.Blockers = append([]string{}, (*u.Blockers)...)
	}
	if u.FilesModified != nil {
		s.FilesModified = append([]string{}, (*u.FilesModified)...)
	}
	return nil
}

// duplicateTaskID returns the first id used by more than one task, or "".
func duplicateTaskID(tasks []Task) string {
	seen := make(map[string]bool, len(tasks))
	for _, t := range tasks {
		if seen[t.ID] {
			return t.ID
		}
		seen[t.ID] = true
	}
	return ""
}

// ValidateDependencies drops dependency references that do not point at an
// earlier task in the list and reports each dropped reference. A repeated
// task id is reported too; dependencies on it resolve to its first use.
func ValidateDependencies(tasks []Task) ([]Task, []string) {
	out := cloneTasks(tasks)
	seen := make(map[string]bool, len(out))
	var problems []string
	for i := range out {
		if seen[out[i].ID] {
			problems = append(problems, fmt.Sprintf("task %d: id %q is already used by an earlier task", i+1, out[i].ID))
		}
		var kept []string
		for _, dep := range out[i].Dependencies {
			if seen[dep] {
				kept = append(kept, dep)
				continue
			}
			problems = append(problems, fmt.Sprintf("task %s: dependency %q does not reference an earlier task", out[i].ID, dep))
		}
		if kept == nil {
			kept = []string{}
		}
		out[i].Dependencies = kept
		seen[out[i].ID] = true
	}
	return out, problems
}
