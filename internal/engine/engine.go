// Package engine drives a run through the pipeline graph: it executes the
// step registered for each node, merges its output into the run state,
// consults the router and persists after every node.
package engine

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/Thinkelution/devlution/internal/audit"
	"github.com/Thinkelution/devlution/internal/gate"
	"github.com/Thinkelution/devlution/internal/logging"
	"github.com/Thinkelution/devlution/internal/metrics"
	"github.com/Thinkelution/devlution/internal/pipeline"
	"github.com/Thinkelution/devlution/internal/router"
	"github.com/Thinkelution/devlution/internal/step"
)

// DefaultMaxNodeVisits bounds the total number of node executions in a run.
const DefaultMaxNodeVisits = 50

var (
	// ErrIterationCap is returned when a run exceeds its node visit budget.
	ErrIterationCap = errors.New("node visit cap exceeded")
	// ErrNotResumable is returned when Resume is called on a run that has
	// nothing left to do.
	ErrNotResumable = errors.New("run is not resumable")
	// ErrTasksNotOwned is returned when a node other than the planner tries
	// to replace the task list.
	ErrTasksNotOwned = errors.New("only the planner may replace the task list")
)

// Engine executes runs. It is safe to reuse across runs but not to drive the
// same run from two goroutines.
type Engine struct {
	store         *pipeline.Store
	recorder      audit.Recorder
	gates         *gate.Manager
	steps         map[pipeline.Node]step.Step
	policy        router.Policy
	maxNodeVisits int
	logger        *logging.Logger
	tracer        trace.Tracer
	progress      io.Writer // live progress output; nil = silent
}

// Option configures an Engine.
type Option func(*Engine)

// WithPolicy overrides the router thresholds.
func WithPolicy(p router.Policy) Option { return func(e *Engine) { e.policy = p } }

// WithMaxNodeVisits overrides DefaultMaxNodeVisits. Values below 1 are ignored.
func WithMaxNodeVisits(n int) Option {
	return func(e *Engine) {
		if n > 0 {
			e.maxNodeVisits = n
		}
	}
}

func WithLogger(l *logging.Logger) Option { return func(e *Engine) { e.logger = l.Named("engine") } }

// NewEngine creates an engine. A nil gate manager means no gates are configured.
func NewEngine(store *pipeline.Store, recorder audit.Recorder, gates *gate.Manager, opts ...Option) *Engine {
	e := &Engine{
		store:         store,
		recorder:      recorder,
		gates:         gates,
		steps:         make(map[pipeline.Node]step.Step),
		policy:        router.DefaultPolicy(),
		maxNodeVisits: DefaultMaxNodeVisits,
		logger:        logging.Nop(),
		tracer:        otel.Tracer("devlution/engine"),
	}
	for _, o := range opts {
		o(e)
	}
	if e.gates == nil {
		e.gates = gate.NewManager(nil, nil, recorder)
	}
	return e
}

// Register installs s for its node, replacing any previous registration.
func (e *Engine) Register(s step.Step) {
	e.steps[s.Node()] = step.Guard(s)
}

// SetProgress sets a writer for live progress output (e.g. os.Stderr).
func (e *Engine) SetProgress(w io.Writer) {
	e.progress = w
}

// logf prints a progress line if a progress writer is configured.
func (e *Engine) logf(format string, args ...any) {
	if e.progress != nil {
		fmt.Fprintf(e.progress, "  → "+format+"\n", args...)
	}
}

// RunOpts configures a new run.
type RunOpts struct {
	Trigger pipeline.Trigger
	// Input seeds the planner. When nil it is built from the trigger.
	Input step.Input
	// IncidentLog is kept on the run for the debugger.
	IncidentLog string
}

// RunResult captures where a run came to rest.
type RunResult struct {
	RunID     string          `json:"run_id"`
	Status    pipeline.Status `json:"status"`
	Node      pipeline.Node   `json:"current_node"`
	Visited   []pipeline.Node `json:"visited"`
	Suspended bool            `json:"suspended"`
	Error     string          `json:"error,omitempty"`
	Duration  time.Duration   `json:"duration"`

	State *pipeline.RunState `json:"-"`
}

func (e *Engine) missingSteps() []pipeline.Node {
	var missing []pipeline.Node
	for _, n := range pipeline.StepNodes {
		if n == pipeline.NodeGate {
			continue
		}
		if _, ok := e.steps[n]; !ok {
			missing = append(missing, n)
		}
	}
	return missing
}

// Run creates a run for opts.Trigger and walks it until it completes,
// aborts, fails or parks at a gate.
func (e *Engine) Run(ctx context.Context, opts RunOpts) (*RunResult, error) {
	if missing := e.missingSteps(); len(missing) > 0 {
		return nil, fmt.Errorf("no step registered for %v", missing)
	}
	if opts.Input != nil && opts.Input.Node() != pipeline.NodePlanner {
		return nil, fmt.Errorf("seed input is for %s, want planner", opts.Input.Node())
	}
	state, err := e.store.Create(opts.Trigger)
	if err != nil {
		return nil, fmt.Errorf("create run: %w", err)
	}
	if opts.IncidentLog != "" {
		state.IncidentLog = opts.IncidentLog
		if err := e.store.Save(state); err != nil {
			return nil, fmt.Errorf("save run: %w", err)
		}
	}
	e.logf("run %s: started by %s", state.RunID, opts.Trigger)
	if _, err := e.recorder.Record(ctx, audit.Entry{
		RunID:   state.RunID,
		Actor:   "engine",
		Action:  "run_started",
		Details: map[string]any{"trigger": opts.Trigger.String()},
	}); err != nil {
		return nil, err
	}
	return e.walk(ctx, state, opts.Input)
}

// Resume continues a run from its current node. Runs parked at a gate
// re-enter the gate node, which picks up any submitted decision.
func (e *Engine) Resume(ctx context.Context, runID string) (*RunResult, error) {
	if missing := e.missingSteps(); len(missing) > 0 {
		return nil, fmt.Errorf("no step registered for %v", missing)
	}
	state, err := e.store.Get(runID)
	if err != nil {
		return nil, err
	}
	if state.Status.IsFinal() || state.CurrentNode == pipeline.NodeDone || state.CurrentNode == "" {
		return nil, fmt.Errorf("%w: %s is %s at %q", ErrNotResumable, runID, state.Status, state.CurrentNode)
	}
	e.logf("run %s: resuming at %s", runID, state.CurrentNode)
	return e.walk(ctx, state, nil)
}

func (e *Engine) walk(ctx context.Context, state *pipeline.RunState, seed step.Input) (*RunResult, error) {
	start := time.Now()
	ctx = logging.WithRunID(ctx, state.RunID)
	res := &RunResult{RunID: state.RunID, State: state}

	finish := func() *RunResult {
		res.Status = state.Status
		res.Node = state.CurrentNode
		res.Error = state.Error
		res.Duration = time.Since(start)
		return res
	}

	if err := state.Transition(pipeline.StatusRunning); err != nil {
		return nil, err
	}

	node := state.CurrentNode
	for node != pipeline.NodeDone {
		if err := ctx.Err(); err != nil {
			_ = e.persist(state)
			return finish(), err
		}
		if state.NodeVisits >= e.maxNodeVisits {
			state.Error = fmt.Sprintf("%s: %d node visits", ErrIterationCap, state.NodeVisits)
			_ = state.Transition(pipeline.StatusFailed)
			e.logger.Warn(ctx, "node visit cap reached", zap.Int("visits", state.NodeVisits))
			e.logf("run %s: node visit cap (%d) reached", state.RunID, e.maxNodeVisits)
			if err := e.persist(state); err != nil {
				return finish(), err
			}
			metrics.RunsTotal.WithLabelValues(string(state.Status)).Inc()
			return finish(), fmt.Errorf("run %s: %w", state.RunID, ErrIterationCap)
		}

		state.NodeVisits++
		state.CurrentNode = node
		res.Visited = append(res.Visited, node)
		if state.Status == pipeline.StatusFailed {
			// A step may mark the run failed and still route onward.
			if err := state.Transition(pipeline.StatusRunning); err != nil {
				return finish(), err
			}
		}

		var (
			nextNode pipeline.Node
			err      error
		)
		if node == pipeline.NodeGate {
			var parked bool
			nextNode, parked, err = e.runGate(ctx, state)
			if err != nil {
				_ = e.persist(state)
				return finish(), err
			}
			if parked {
				if err := e.persist(state); err != nil {
					return finish(), err
				}
				metrics.RunsTotal.WithLabelValues(string(state.Status)).Inc()
				res.Suspended = true
				return finish(), nil
			}
		} else {
			var in step.Input
			if node == pipeline.NodePlanner && seed != nil {
				in, seed = seed, nil
			}
			nextNode, err = e.runStep(ctx, state, node, in)
			if err != nil {
				_ = e.persist(state)
				return finish(), err
			}
		}

		e.settle(state, node, nextNode)
		state.CurrentNode = nextNode
		if err := e.persist(state); err != nil {
			return finish(), err
		}
		node = nextNode
	}

	metrics.RunsTotal.WithLabelValues(string(state.Status)).Inc()
	e.logger.Info(ctx, "run finished", zap.String("status", string(state.Status)), zap.Int("visits", state.NodeVisits))
	e.logf("run %s: %s", state.RunID, state.Status)
	return finish(), nil
}

// stepArtifact is the per-visit record written next to the run state as
// <node>-<visit>.json.
type stepArtifact struct {
	Node       pipeline.Node   `json:"node"`
	Visit      int             `json:"visit"`
	Success    bool            `json:"success"`
	Confidence float64         `json:"confidence"`
	Escalate   bool            `json:"escalate,omitempty"`
	Error      string          `json:"error,omitempty"`
	Update     pipeline.Update `json:"update"`
	Data       map[string]any  `json:"data,omitempty"`
}

// saveOutput keeps the step output as a run artifact. Failures are logged
// and do not affect the run.
func (e *Engine) saveOutput(ctx context.Context, state *pipeline.RunState, node pipeline.Node, out step.Output) {
	visit := state.IterationCounts[node]
	data, err := json.MarshalIndent(stepArtifact{
		Node:       node,
		Visit:      visit,
		Success:    out.Success,
		Confidence: out.Confidence,
		Escalate:   out.Escalate,
		Error:      out.Error,
		Update:     out.Update,
		Data:       out.Data,
	}, "", "  ")
	if err == nil {
		err = e.store.SaveArtifact(state.RunID, fmt.Sprintf("%s-%d.json", node, visit), data)
	}
	if err != nil {
		e.logger.Warn(ctx, "save step artifact", zap.String("node", string(node)), zap.Error(err))
	}
}

// runStep executes one step node and returns the node to visit next.
func (e *Engine) runStep(ctx context.Context, state *pipeline.RunState, node pipeline.Node, in step.Input) (pipeline.Node, error) {
	ctx = logging.WithNode(ctx, string(node))
	ctx, span := e.tracer.Start(ctx, "node."+string(node), trace.WithAttributes(
		attribute.String("run_id", state.RunID),
		attribute.String("node", string(node)),
	))
	defer span.End()

	if in == nil {
		var err error
		if in, err = step.BuildInput(node, state.View()); err != nil {
			return "", err
		}
	}

	e.logf("%s: running (visit %d)", node, state.NodeVisits)
	started := time.Now()
	out := e.steps[node].Execute(ctx, in, state.View())
	elapsed := time.Since(started)

	state.IncrementIteration(node)
	if err := applyUpdate(state, node, out.Update); err != nil {
		e.logger.Warn(ctx, "step update rejected", zap.Error(err))
		out.Success = false
		out.Error = fmt.Sprintf("update rejected: %v", err)
	}
	e.saveOutput(ctx, state, node, out)

	action := "step_complete"
	details := map[string]any{"iteration": state.IterationCounts[node]}
	if !out.Success {
		action = "step_failed"
		details["error"] = out.Error
		span.SetStatus(codes.Error, out.Error)
	}
	if out.Escalate {
		details["escalate"] = true
	}
	if _, err := e.recorder.Record(ctx, audit.Entry{
		RunID:      state.RunID,
		Actor:      string(node),
		Action:     action,
		Details:    details,
		Confidence: audit.Float(out.Confidence),
		DurationMs: audit.Millis(elapsed),
	}); err != nil {
		return "", err
	}

	state.SetConfidence(node, out.Confidence)

	outcome, nextNode, err := next(node, state, e.policy)
	if err != nil {
		return "", err
	}
	span.SetAttributes(attribute.String("outcome", outcome), attribute.Float64("confidence", out.Confidence))
	metrics.NodeDuration.WithLabelValues(string(node)).Observe(elapsed.Seconds())
	metrics.NodeOutcomes.WithLabelValues(string(node), outcome).Inc()
	e.logger.Debug(ctx, "node routed",
		zap.String("outcome", outcome),
		zap.String("next", string(nextNode)),
		zap.Float64("confidence", out.Confidence),
		zap.Duration("duration", elapsed),
	)
	e.logf("%s: %s (confidence %.2f, %s) → %s", node, outcome, out.Confidence, elapsed.Round(time.Millisecond), nextNode)
	return nextNode, nil
}

// runGate resolves gates one at a time until none applies, one resolves
// non-approved, or a gate must wait for a human (parked=true).
func (e *Engine) runGate(ctx context.Context, state *pipeline.RunState) (pipeline.Node, bool, error) {
	ctx = logging.WithNode(ctx, string(pipeline.NodeGate))
	ctx, span := e.tracer.Start(ctx, "node.gate", trace.WithAttributes(attribute.String("run_id", state.RunID)))
	defer span.End()

	state.IncrementIteration(pipeline.NodeGate)
	started := time.Now()
	for {
		r, err := e.gates.Check(ctx, state)
		if err != nil {
			span.SetStatus(codes.Error, err.Error())
			return "", false, err
		}
		if r.Gate == nil {
			break
		}
		if r.Pending {
			if err := state.Transition(pipeline.StatusWaitingForHuman); err != nil {
				return "", false, err
			}
			if _, err := e.recorder.Record(ctx, audit.Entry{
				RunID:   state.RunID,
				Actor:   string(pipeline.NodeGate),
				Action:  "waiting_for_human",
				Details: map[string]any{"gate_id": r.Gate.ID, "type": r.Gate.Type, "escalated": r.Escalated},
			}); err != nil {
				return "", false, err
			}
			span.SetAttributes(attribute.String("pending_gate", r.Gate.ID))
			e.logf("gate %s: waiting for a human decision", r.Gate.ID)
			return pipeline.NodeGate, true, nil
		}
		e.logf("gate %s: %s by %s", r.Gate.ID, r.Decision.Decision, r.Decision.Approver)
		if r.Decision.Decision != pipeline.DecisionApproved {
			break
		}
	}

	outcome, nextNode, err := next(pipeline.NodeGate, state, e.policy)
	if err != nil {
		return "", false, err
	}
	elapsed := time.Since(started)
	if _, err := e.recorder.Record(ctx, audit.Entry{
		RunID:      state.RunID,
		Actor:      string(pipeline.NodeGate),
		Action:     "step_complete",
		Details:    map[string]any{"outcome": outcome, "gates": state.GateIDs()},
		DurationMs: audit.Millis(elapsed),
	}); err != nil {
		return "", false, err
	}
	span.SetAttributes(attribute.String("outcome", outcome))
	metrics.NodeDuration.WithLabelValues(string(pipeline.NodeGate)).Observe(elapsed.Seconds())
	metrics.NodeOutcomes.WithLabelValues(string(pipeline.NodeGate), outcome).Inc()
	return nextNode, false, nil
}

// settle sets the resting status when a node routes to done.
func (e *Engine) settle(state *pipeline.RunState, from, to pipeline.Node) {
	if to != pipeline.NodeDone {
		return
	}
	switch from {
	case pipeline.NodePublish:
		_ = state.Transition(pipeline.StatusCompleted)
	case pipeline.NodePlanner:
		if state.Error == "" {
			state.Error = "planner produced no tasks"
		}
		_ = state.Transition(pipeline.StatusAborted)
	case pipeline.NodeGate:
		state.Error = gateError(state)
		_ = state.Transition(pipeline.StatusAborted)
	case pipeline.NodeDebugger:
		if state.Error == "" {
			state.Error = "debugger could not fix the failure"
		}
		_ = state.Transition(pipeline.StatusFailed)
	}
}

func gateError(state *pipeline.RunState) string {
	for _, id := range state.GateIDs() {
		d := state.GateDecisions[id]
		if d.Decision == pipeline.DecisionApproved {
			continue
		}
		msg := fmt.Sprintf("gate %s %s", id, d.Decision)
		if d.Reason != "" {
			msg += ": " + d.Reason
		}
		return msg
	}
	return "gate did not approve"
}

func (e *Engine) persist(state *pipeline.RunState) error {
	if err := e.store.Save(state); err != nil {
		return fmt.Errorf("save run %s: %w", state.RunID, err)
	}
	return nil
}

// applyUpdate merges a node's update into state. Task lists come from the
// planner only.
func applyUpdate(state *pipeline.RunState, node pipeline.Node, u pipeline.Update) error {
	if u.Tasks != nil && node != pipeline.NodePlanner {
		return fmt.Errorf("%w: %s", ErrTasksNotOwned, node)
	}
	return state.Apply(u)
}
