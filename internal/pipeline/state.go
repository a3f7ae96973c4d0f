package pipeline

import (
	"errors"
	"fmt"
	"sort"
	"time"
)

// ErrGateAlreadyDecided is returned when a gate decision would overwrite an existing one.
var ErrGateAlreadyDecided = errors.New("gate already decided")

// ErrDuplicateTaskID is returned when a task list reuses an id.
var ErrDuplicateTaskID = errors.New("duplicate task id")

// Complexity is a planner's effort estimate for a task.
type Complexity string

const (
	ComplexityLow    Complexity = "low"
	ComplexityMedium Complexity = "medium"
	ComplexityHigh   Complexity = "high"
)

// Task is a unit of planned work.
type Task struct {
	ID                  string     `json:"id"`
	Title               string     `json:"title"`
	FilesLikelyAffected []string   `json:"files_likely_affected"`
	AcceptanceCriteria  []string   `json:"acceptance_criteria"`
	EstimatedComplexity Complexity `json:"estimated_complexity"`
	Dependencies        []string   `json:"dependencies"`
}

// TriggerKind discriminates what started a run.
type TriggerKind string

const (
	TriggerIssue     TriggerKind = "issue"
	TriggerCIFailure TriggerKind = "ci_failure"
	TriggerAlert     TriggerKind = "alert"
	TriggerManual    TriggerKind = "manual"
)

// Trigger is the source that started a run.
type Trigger struct {
	Kind   TriggerKind `json:"kind"`
	Source string      `json:"source,omitempty"`
}

func IssueTrigger(ref string) Trigger     { return Trigger{Kind: TriggerIssue, Source: ref} }
func CIFailureTrigger(ref string) Trigger { return Trigger{Kind: TriggerCIFailure, Source: ref} }
func AlertTrigger(ref string) Trigger     { return Trigger{Kind: TriggerAlert, Source: ref} }
func ManualTrigger(note string) Trigger   { return Trigger{Kind: TriggerManual, Source: note} }

// ParseTriggerKind converts a CLI/config string into a TriggerKind.
func ParseTriggerKind(s string) (TriggerKind, error) {
	switch k := TriggerKind(s); k {
	case TriggerIssue, TriggerCIFailure, TriggerAlert, TriggerManual:
		return k, nil
	}
	return "", fmt.Errorf("unknown trigger kind %q", s)
}

// Validate checks the variant tag and its source identifier.
func (t Trigger) Validate() error {
	if _, err := ParseTriggerKind(string(t.Kind)); err != nil {
		return err
	}
	if t.Kind != TriggerManual && t.Source == "" {
		return fmt.Errorf("%s trigger requires a source identifier", t.Kind)
	}
	return nil
}

func (t Trigger) String() string {
	if t.Source == "" {
		return string(t.Kind)
	}
	return string(t.Kind) + ":" + t.Source
}

// Severity of a review comment.
type Severity string

const (
	SeverityWarning  Severity = "warning"
	SeverityBlocking Severity = "blocking"
)

// ReviewComment is a single reviewer remark on the patch.
type ReviewComment struct {
	File     string   `json:"file"`
	Line     int      `json:"line"`
	Severity Severity `json:"severity"`
	Body     string   `json:"body"`
}

// ReviewDecision is the reviewer's verdict.
type ReviewDecision string

const (
	ReviewNone            ReviewDecision = "none"
	ReviewApprove         ReviewDecision = "approve"
	ReviewRequestChanges  ReviewDecision = "request_changes"
	ReviewEscalateToHuman ReviewDecision = "escalate_to_human"
)

// ParseReviewDecision maps free text from a model into a decision; unknown text escalates.
func ParseReviewDecision(s string) ReviewDecision {
	switch d := ReviewDecision(s); d {
	case ReviewNone, ReviewApprove, ReviewRequestChanges, ReviewEscalateToHuman:
		return d
	}
	return ReviewEscalateToHuman
}

// TestResult is the outcome of running the project's test suite.
type TestResult struct {
	Passed          bool    `json:"passed"`
	TotalTests      int     `json:"total_tests"`
	PassedTests     int     `json:"passed_tests"`
	FailedTests     int     `json:"failed_tests"`
	CoveragePercent float64 `json:"coverage_percent"`
	Output          string  `json:"output"`
	FailureLog      string  `json:"failure_log"`
}

func (r TestResult) validate() error {
	if r.TotalTests < 0 || r.PassedTests < 0 || r.FailedTests < 0 {
		return fmt.Errorf("test counts must be non-negative")
	}
	if r.CoveragePercent < 0 || r.CoveragePercent > 100 {
		return fmt.Errorf("coverage %.2f outside [0,100]", r.CoveragePercent)
	}
	return nil
}

// Decision is a resolved gate outcome.
type Decision string

const (
	DecisionApproved Decision = "approved"
	DecisionRejected Decision = "rejected"
	DecisionTimeout  Decision = "timeout"
)

// ErrInvalidDecision is returned for an unknown gate decision.
var ErrInvalidDecision = errors.New("invalid gate decision")

// ParseDecision validates a decision string.
func ParseDecision(s string) (Decision, error) {
	switch d := Decision(s); d {
	case DecisionApproved, DecisionRejected, DecisionTimeout:
		return d, nil
	}
	return "", fmt.Errorf("%w %q: must be approved, rejected, or timeout", ErrInvalidDecision, s)
}

// GateDecision records how a gate was resolved.
type GateDecision struct {
	GateID    string   `json:"gate_id"`
	Decision  Decision `json:"decision"`
	Approver  string   `json:"approver"`
	Method    string   `json:"method"`
	Timestamp string   `json:"timestamp"`
	Reason    string   `json:"reason"`
}

// RunState is the single mutable record threaded through a run.
type RunState struct {
	RunID              string                  `json:"run_id"`
	Trigger            Trigger                 `json:"trigger"`
	Tasks              []Task                  `json:"tasks"`
	CurrentTaskIndex   int                     `json:"current_task_index"`
	IterationCounts    map[Node]int            `json:"iteration_counts"`
	ConfidenceScores   map[Node]float64        `json:"confidence_scores"`
	ReviewComments     []ReviewComment         `json:"review_comments"`
	ReviewDecision     ReviewDecision          `json:"review_decision"`
	TestResult         *TestResult             `json:"test_result,omitempty"`
	Patch              string                  `json:"patch"`
	PublishedReference string                  `json:"published_reference"`
	GateDecisions      map[string]GateDecision `json:"gate_decisions"`
	Status             Status                  `json:"status"`
	Error              string                  `json:"error"`

	CurrentNode   Node              `json:"current_node"`
	Blockers      []string          `json:"blockers,omitempty"`
	FilesModified []string          `json:"files_modified,omitempty"`
	GateWaits     map[string]string `json:"gate_waits,omitempty"`
	Escalated     []string          `json:"escalated_gates,omitempty"`
	NodeVisits    int               `json:"node_visits"`
	// IncidentLog is the production failure an alert trigger resolved to.
	IncidentLog string `json:"incident_log,omitempty"`
	CreatedAt   string `json:"created_at"`
	UpdatedAt   string `json:"updated_at"`
}

// NewRunState returns a pending run positioned at the planner.
func NewRunState(runID string, trigger Trigger) *RunState {
	now := time.Now().UTC().Format(time.RFC3339)
	return &RunState{
		RunID:            runID,
		Trigger:          trigger,
		Tasks:            []Task{},
		IterationCounts:  make(map[Node]int),
		ConfidenceScores: make(map[Node]float64),
		ReviewComments:   []ReviewComment{},
		ReviewDecision:   ReviewNone,
		GateDecisions:    make(map[string]GateDecision),
		GateWaits:        make(map[string]string),
		Status:           StatusPending,
		CurrentNode:      NodePlanner,
		CreatedAt:        now,
		UpdatedAt:        now,
	}
}

// CurrentTask returns the task being worked on, or nil once all tasks are done.
func (s *RunState) CurrentTask() *Task {
	if s.CurrentTaskIndex < 0 || s.CurrentTaskIndex >= len(s.Tasks) {
		return nil
	}
	t := s.Tasks[s.CurrentTaskIndex]
	return &t
}

// IncrementIteration bumps the counter for node by exactly one.
func (s *RunState) IncrementIteration(node Node) int {
	if s.IterationCounts == nil {
		s.IterationCounts = make(map[Node]int)
	}
	s.IterationCounts[node]++
	return s.IterationCounts[node]
}

// SetConfidence stores the latest confidence for node, clamped to [0,1].
func (s *RunState) SetConfidence(node Node, v float64) {
	if s.ConfidenceScores == nil {
		s.ConfidenceScores = make(map[Node]float64)
	}
	switch {
	case v < 0:
		v = 0
	case v > 1:
		v = 1
	}
	s.ConfidenceScores[node] = v
}

// Transition moves the run to a new status along an allowed edge.
func (s *RunState) Transition(to Status) error {
	if err := checkTransition(s.Status, to); err != nil {
		return err
	}
	s.Status = to
	return nil
}

// Terminal reports whether the run is over for good.
func (s *RunState) Terminal() bool {
	return s.Status.Terminal(s.CurrentNode)
}

// RecordGateDecision writes a decision once; a second write for the same gate is an error.
func (s *RunState) RecordGateDecision(d GateDecision) error {
	if d.GateID == "" {
		return fmt.Errorf("gate decision missing gate id")
	}
	if _, err := ParseDecision(string(d.Decision)); err != nil {
		return err
	}
	if s.GateDecisions == nil {
		s.GateDecisions = make(map[string]GateDecision)
	}
	if _, exists := s.GateDecisions[d.GateID]; exists {
		return fmt.Errorf("%w: %s", ErrGateAlreadyDecided, d.GateID)
	}
	if d.Timestamp == "" {
		d.Timestamp = time.Now().UTC().Format(time.RFC3339)
	}
	s.GateDecisions[d.GateID] = d
	return nil
}

// GateIDs returns the decided gate ids in sorted order.
func (s *RunState) GateIDs() []string {
	ids := make([]string, 0, len(s.GateDecisions))
	for id := range s.GateDecisions {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Clone returns a deep copy of the state.
func (s *RunState) Clone() *RunState {
	c := *s
	c.Tasks = cloneTasks(s.Tasks)
	c.IterationCounts = make(map[Node]int, len(s.IterationCounts))
	for k, v := range s.IterationCounts {
		c.IterationCounts[k] = v
	}
	c.ConfidenceScores = make(map[Node]float64, len(s.ConfidenceScores))
	for k, v := range s.ConfidenceScores {
		c.ConfidenceScores[k] = v
	}
	c.ReviewComments = append([]ReviewComment(nil), s.ReviewComments...)
	if s.TestResult != nil {
		tr := *s.TestResult
		c.TestResult = &tr
	}
	c.GateDecisions = make(map[string]GateDecision, len(s.GateDecisions))
	for k, v := range s.GateDecisions {
		c.GateDecisions[k] = v
	}
	c.GateWaits = make(map[string]string, len(s.GateWaits))
	for k, v := range s.GateWaits {
		c.GateWaits[k] = v
	}
	c.Escalated = append([]string(nil), s.Escalated...)
	c.Blockers = append([]string(nil), s.Blockers...)
	c.FilesModified = append([]string(nil), s.FilesModified...)
	return &c
}

// View is the read-mostly snapshot handed to steps. Mutating it has no effect on the run.
type View struct {
	RunState
}

// View returns a detached snapshot of the state.
func (s *RunState) View() View {
	return View{RunState: *s.Clone()}
}

func cloneTasks(in []Task) []Task {
	if in == nil {
		return nil
	}
	out := make([]Task, len(in))
	for i, t := range in {
		out[i] = t
		out[i].FilesLikelyAffected = append([]string(nil), t.FilesLikelyAffected...)
		out[i].AcceptanceCriteria = append([]string(nil), t.AcceptanceCriteria...)
		out[i].Dependencies = append([]string(nil), t.Dependencies...)
	}
	return out
}
