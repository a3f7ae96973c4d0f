package step

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/Thinkelution/devlution/internal/pipeline"
)

// Input is the closed set of typed step requests. Each variant carries an
// Extra map for fields newer callers add.
type Input interface {
	Node() pipeline.Node
	Validate() error
	isInput()
}

// PlanRequest asks the planner to break a trigger into tasks.
type PlanRequest struct {
	Trigger     pipeline.Trigger `json:"trigger"`
	Title       string           `json:"title"`
	Body        string           `json:"body"`
	Labels      []string         `json:"labels,omitempty"`
	MaxSubtasks int              `json:"max_subtasks,omitempty"`
	Extra       map[string]any   `json:"extra,omitempty"`
}

func (PlanRequest) Node() pipeline.Node { return pipeline.NodePlanner }
func (PlanRequest) isInput()            {}

func (r PlanRequest) Validate() error {
	if err := r.Trigger.Validate(); err != nil {
		return err
	}
	if r.Title == "" && r.Body == "" {
		return errors.New("plan request needs a title or body")
	}
	if r.MaxSubtasks < 0 {
		return fmt.Errorf("max subtasks %d is negative", r.MaxSubtasks)
	}
	return nil
}

// CodeChangeRequest asks the coder to implement one task.
type CodeChangeRequest struct {
	Task           pipeline.Task            `json:"task"`
	ReviewComments []pipeline.ReviewComment `json:"review_comments,omitempty"`
	FailureLog     string                   `json:"failure_log,omitempty"`
	Iteration      int                      `json:"iteration"`
	Extra          map[string]any           `json:"extra,omitempty"`
}

func (CodeChangeRequest) Node() pipeline.Node { return pipeline.NodeCoder }
func (CodeChangeRequest) isInput()            {}

func (r CodeChangeRequest) Validate() error {
	if r.Task.ID == "" {
		return errors.New("code change request has no task")
	}
	if r.Iteration < 1 {
		return fmt.Errorf("iteration %d must be at least 1", r.Iteration)
	}
	return nil
}

// ReviewRequest asks the reviewer to judge a diff.
type ReviewRequest struct {
	TaskTitle string         `json:"task_title"`
	Diff      string         `json:"diff"`
	Extra     map[string]any `json:"extra,omitempty"`
}

func (ReviewRequest) Node() pipeline.Node { return pipeline.NodeReviewer }
func (ReviewRequest) isInput()            {}

func (r ReviewRequest) Validate() error {
	if r.Diff == "" {
		return errors.New("review request has an empty diff")
	}
	return nil
}

// TestRequest asks the tester to generate and run tests.
type TestRequest struct {
	TaskTitle    string         `json:"task_title"`
	ChangedFiles []string       `json:"changed_files"`
	Patch        string         `json:"patch,omitempty"`
	Extra        map[string]any `json:"extra,omitempty"`
}

func (TestRequest) Node() pipeline.Node { return pipeline.NodeTester }
func (TestRequest) isInput()            {}

func (r TestRequest) Validate() error { return nil }

// DiagnosisRequest asks the debugger to find and fix a failure.
type DiagnosisRequest struct {
	FailureLog  string            `json:"failure_log"`
	SourceFiles map[string]string `json:"source_files,omitempty"`
	Attempt     int               `json:"attempt"`
	Extra       map[string]any    `json:"extra,omitempty"`
}

func (DiagnosisRequest) Node() pipeline.Node { return pipeline.NodeDebugger }
func (DiagnosisRequest) isInput()            {}

func (r DiagnosisRequest) Validate() error {
	if r.Attempt < 1 {
		return fmt.Errorf("attempt %d must be at least 1", r.Attempt)
	}
	return nil
}

// PublishRequest asks the publisher to open a pull request.
type PublishRequest struct {
	Title  string         `json:"title"`
	Body   string         `json:"body"`
	Patch  string         `json:"patch"`
	Branch string         `json:"branch"`
	Extra  map[string]any `json:"extra,omitempty"`
}

func (PublishRequest) Node() pipeline.Node { return pipeline.NodePublish }
func (PublishRequest) isInput()            {}

func (r PublishRequest) Validate() error {
	if r.Title == "" {
		return errors.New("publish request has no title")
	}
	if r.Branch == "" {
		return errors.New("publish request has no branch")
	}
	return nil
}

// DecodeInput parses raw JSON into the typed request for node. Empty input
// decodes to the zero request.
func DecodeInput(node pipeline.Node, raw []byte) (Input, error) {
	if len(bytes.TrimSpace(raw)) == 0 {
		raw = []byte("{}")
	}
	var (
		in  Input
		err error
	)
	switch node {
	case pipeline.NodePlanner:
		var r PlanRequest
		err = json.Unmarshal(raw, &r)
		in = r
	case pipeline.NodeCoder:
		var r CodeChangeRequest
		err = json.Unmarshal(raw, &r)
		in = r
	case pipeline.NodeReviewer:
		var r ReviewRequest
		err = json.Unmarshal(raw, &r)
		in = r
	case pipeline.NodeTester:
		var r TestRequest
		err = json.Unmarshal(raw, &r)
		in = r
	case pipeline.NodeDebugger:
		var r DiagnosisRequest
		err = json.Unmarshal(raw, &r)
		in = r
	case pipeline.NodePublish:
		var r PublishRequest
		err = json.Unmarshal(raw, &r)
		in = r
	default:
		return nil, fmt.Errorf("no step input for node %q", node)
	}
	if err != nil {
		return nil, fmt.Errorf("decode %s input: %w", node, err)
	}
	return in, nil
}
