// Package orchestrator is the process-level service behind the CLI and the
// HTTP API. It starts, resumes and inspects runs and executes single agents.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sort"
	"sync"

	"go.uber.org/zap"

	"github.com/Thinkelution/devlution/internal/audit"
	"github.com/Thinkelution/devlution/internal/config"
	"github.com/Thinkelution/devlution/internal/engine"
	"github.com/Thinkelution/devlution/internal/gate"
	"github.com/Thinkelution/devlution/internal/github"
	"github.com/Thinkelution/devlution/internal/logging"
	"github.com/Thinkelution/devlution/internal/pipeline"
	"github.com/Thinkelution/devlution/internal/router"
	"github.com/Thinkelution/devlution/internal/sentry"
	"github.com/Thinkelution/devlution/internal/step"
)

// ErrRunBusy is returned when another call is already driving the run.
var ErrRunBusy = errors.New("run is busy")

// Deps are the components an Orchestrator composes.
type Deps struct {
	Config *config.Config
	Store  *pipeline.Store
	Audit  *audit.Log
	Gates  *gate.Manager
	// GitHub resolves issue triggers; nil uses the trigger text as the title.
	GitHub github.Host
	// Alerts resolves alert triggers; nil uses the trigger text as the title.
	Alerts AlertSource
	Steps  []step.Step
	Logger *logging.Logger
}

// Orchestrator composes run lifecycle operations.
type Orchestrator struct {
	cfg    *config.Config
	store  *pipeline.Store
	audit  *audit.Log
	gates  *gate.Manager
	gh     github.Host
	alerts AlertSource
	engine *engine.Engine
	steps  map[pipeline.Node]step.Step
	logger *logging.Logger

	mu   sync.Mutex
	busy map[string]bool
}

// New creates an Orchestrator and registers d.Steps with its engine.
func New(d Deps) *Orchestrator {
	if d.Config == nil {
		d.Config = config.Default("devlution")
	}
	if d.Logger == nil {
		d.Logger = logging.Nop()
	}
	eng := engine.NewEngine(d.Store, d.Audit, d.Gates,
		engine.WithPolicy(PolicyFor(d.Config)),
		engine.WithMaxNodeVisits(d.Config.Pipeline.MaxNodeVisits),
		engine.WithLogger(d.Logger),
	)
	o := &Orchestrator{
		cfg:    d.Config,
		store:  d.Store,
		audit:  d.Audit,
		gates:  d.Gates,
		gh:     d.GitHub,
		alerts: d.Alerts,
		engine: eng,
		steps:  make(map[pipeline.Node]step.Step),
		logger: d.Logger.Named("orchestrator"),
		busy:   make(map[string]bool),
	}
	for _, s := range d.Steps {
		eng.Register(s)
		o.steps[s.Node()] = step.Guard(s)
	}
	return o
}

// PolicyFor derives the router thresholds from configuration.
func PolicyFor(cfg *config.Config) router.Policy {
	p := router.DefaultPolicy()
	if v := cfg.Agents.Reviewer.MinConfidence; v > 0 {
		p.ReviewerMinConfidence = v
	}
	if v := cfg.Agents.Tester.CoverageThreshold; v > 0 {
		p.CoverageThreshold = v
	}
	if v := cfg.Agents.Debugger.MaxFixAttempts; v > 0 {
		p.DebuggerMaxAttempts = v
	}
	return p
}

// SetProgress sets a writer for live progress output.
func (o *Orchestrator) SetProgress(w io.Writer) {
	o.engine.SetProgress(w)
}

func (o *Orchestrator) acquire(runID string) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.busy[runID] {
		return fmt.Errorf("%w: %s", ErrRunBusy, runID)
	}
	o.busy[runID] = true
	return nil
}

func (o *Orchestrator) release(runID string) {
	o.mu.Lock()
	delete(o.busy, runID)
	o.mu.Unlock()
}

// StartOpts describes a new run.
type StartOpts struct {
	Trigger pipeline.Trigger
	// Title and Body override what is resolved from the trigger.
	Title  string
	Body   string
	Labels []string
}

// Start resolves the trigger into a planning request and runs the pipeline
// until it finishes or parks at a gate.
func (o *Orchestrator) Start(ctx context.Context, opts StartOpts) (*engine.RunResult, error) {
	if err := opts.Trigger.Validate(); err != nil {
		return nil, err
	}
	req, incident, err := o.planRequest(ctx, opts)
	if err != nil {
		return nil, err
	}
	o.logger.Info(ctx, "starting run", zap.String("trigger", opts.Trigger.String()))
	return o.engine.Run(ctx, engine.RunOpts{Trigger: opts.Trigger, Input: req, IncidentLog: incident})
}

// AlertSource fetches the event behind an alert trigger. *sentry.Client
// implements it.
type AlertSource interface {
	LatestEvent(ctx context.Context, issueID string) (*sentry.Event, error)
}

// planRequest also returns the incident text an alert trigger resolved to.
func (o *Orchestrator) planRequest(ctx context.Context, opts StartOpts) (step.PlanRequest, string, error) {
	req := step.PlanRequest{
		Trigger:     opts.Trigger,
		Title:       opts.Title,
		Body:        opts.Body,
		Labels:      opts.Labels,
		MaxSubtasks: o.cfg.Agents.Planner.MaxSubtasks,
	}
	var incident string
	if opts.Trigger.Kind == pipeline.TriggerIssue && o.gh != nil && req.Title == "" {
		n, err := github.ParseIssueRef(opts.Trigger.Source)
		if err != nil {
			return req, "", err
		}
		issue, err := o.gh.GetIssue(ctx, n)
		if err != nil {
			return req, "", fmt.Errorf("fetch issue: %w", err)
		}
		req.Title = issue.Title
		if req.Body == "" {
			req.Body = issue.Body
		}
		if req.Labels == nil {
			req.Labels = issue.LabelNames()
		}
	}
	if opts.Trigger.Kind == pipeline.TriggerAlert && o.alerts != nil && req.Body == "" {
		ev, err := o.alerts.LatestEvent(ctx, opts.Trigger.Source)
		if err != nil {
			return req, "", fmt.Errorf("fetch alert: %w", err)
		}
		incident = ev.FailureLog()
		if req.Title == "" {
			req.Title = "Fix: " + ev.Title
		}
		req.Body = incident
		o.logger.Info(ctx, "alert resolved",
			zap.String("alert", opts.Trigger.Source), zap.String("event_id", ev.EventID))
	}
	if req.Title == "" && req.Body == "" {
		req.Title = opts.Trigger.String()
	}
	return req, incident, nil
}

// Resume continues a run from where it stopped.
func (o *Orchestrator) Resume(ctx context.Context, runID string) (*engine.RunResult, error) {
	if err := o.acquire(runID); err != nil {
		return nil, err
	}
	defer o.release(runID)
	return o.engine.Resume(ctx, runID)
}

// SubmitGate records an external gate decision. A run parked for a human is
// resumed and its result returned; otherwise the result is nil and the
// decision waits for the next visit to the gate.
func (o *Orchestrator) SubmitGate(ctx context.Context, runID, gateID, decision, approver, reason string) (*engine.RunResult, error) {
	d, err := pipeline.ParseDecision(decision)
	if err != nil {
		return nil, err
	}
	state, err := o.store.Get(runID)
	if err != nil {
		return nil, err
	}
	if state.Terminal() {
		return nil, fmt.Errorf("%w: %s is %s at %s", engine.ErrNotResumable, runID, state.Status, state.CurrentNode)
	}
	if _, decided := state.GateDecisions[gateID]; decided {
		return nil, fmt.Errorf("%w: %s", pipeline.ErrGateAlreadyDecided, gateID)
	}
	if err := o.gates.Submit(ctx, runID, gateID, d, approver, reason); err != nil {
		return nil, err
	}
	o.logger.Info(ctx, "gate decision submitted",
		zap.String("run_id", runID), zap.String("gate_id", gateID), zap.String("decision", decision))
	if state.Status != pipeline.StatusWaitingForHuman {
		return nil, nil
	}
	return o.Resume(ctx, runID)
}

// RunInfo is the status row shown for a run.
type RunInfo struct {
	RunID              string                    `json:"run_id" yaml:"run_id"`
	Trigger            string                    `json:"trigger" yaml:"trigger"`
	Status             pipeline.Status           `json:"status" yaml:"status"`
	Node               pipeline.Node             `json:"current_node" yaml:"current_node"`
	Tasks              int                       `json:"tasks" yaml:"tasks"`
	Iterations         map[pipeline.Node]int     `json:"iterations,omitempty" yaml:"iterations,omitempty"`
	Confidence         map[pipeline.Node]float64 `json:"confidence,omitempty" yaml:"confidence,omitempty"`
	ReviewDecision     pipeline.ReviewDecision   `json:"review_decision" yaml:"review_decision"`
	PublishedReference string                    `json:"published_reference,omitempty" yaml:"published_reference,omitempty"`
	WaitingOn          []string                  `json:"waiting_on,omitempty" yaml:"waiting_on,omitempty"`
	Error              string                    `json:"error,omitempty" yaml:"error,omitempty"`
	CreatedAt          string                    `json:"created_at" yaml:"created_at"`
	UpdatedAt          string                    `json:"updated_at" yaml:"updated_at"`
}

func infoFor(s *pipeline.RunState) RunInfo {
	info := RunInfo{
		RunID:              s.RunID,
		Trigger:            s.Trigger.String(),
		Status:             s.Status,
		Node:               s.CurrentNode,
		Tasks:              len(s.Tasks),
		Iterations:         s.IterationCounts,
		Confidence:         s.ConfidenceScores,
		ReviewDecision:     s.ReviewDecision,
		PublishedReference: s.PublishedReference,
		Error:              s.Error,
		CreatedAt:          s.CreatedAt,
		UpdatedAt:          s.UpdatedAt,
	}
	if s.Status == pipeline.StatusWaitingForHuman {
		for id := range s.GateWaits {
			if _, decided := s.GateDecisions[id]; !decided {
				info.WaitingOn = append(info.WaitingOn, id)
			}
		}
		sort.Strings(info.WaitingOn)
	}
	return info
}

// Status returns the status of one run.
func (o *Orchestrator) Status(runID string) (*RunInfo, error) {
	s, err := o.store.Get(runID)
	if err != nil {
		return nil, err
	}
	info := infoFor(s)
	return &info, nil
}

// StatusAll returns every stored run, optionally filtered by status, most
// recently updated first.
func (o *Orchestrator) StatusAll(filter pipeline.Status) ([]RunInfo, error) {
	runs, err := o.store.List(filter)
	if err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	out := make([]RunInfo, 0, len(runs))
	for i := range runs {
		out = append(out, infoFor(&runs[i]))
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].UpdatedAt > out[j].UpdatedAt })
	return out, nil
}

// Audit reads the audit trail.
func (o *Orchestrator) Audit(opts audit.ReadOpts) ([]audit.Entry, error) {
	return o.audit.Read(opts)
}

// Summaries groups the audit trail by run.
func (o *Orchestrator) Summaries() ([]audit.RunSummary, error) {
	entries, err := o.audit.Read(audit.ReadOpts{})
	if err != nil {
		return nil, err
	}
	return audit.Summarize(entries), nil
}

// RunAgent executes one agent outside a run. The input is the agent's JSON
// request; the agent sees an empty manual run.
func (o *Orchestrator) RunAgent(ctx context.Context, node pipeline.Node, input []byte) (step.Output, error) {
	s, ok := o.steps[node]
	if !ok {
		return step.Output{}, fmt.Errorf("no agent registered for %q", node)
	}
	in, err := step.DecodeInput(node, input)
	if err != nil {
		return step.Output{}, err
	}
	if pr, ok := in.(step.PlanRequest); ok && pr.Trigger.Kind == "" {
		pr.Trigger = pipeline.ManualTrigger("agent")
		in = pr
	}
	state := pipeline.NewRunState("agent-"+string(node), pipeline.ManualTrigger("agent "+string(node)))
	ctx = logging.WithRunID(ctx, state.RunID)
	return s.Execute(ctx, in, state.View()), nil
}
