// Package gate decides whether configured checkpoints let a run through.
package gate

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"time"

	"go.uber.org/zap"

	"github.com/Thinkelution/devlution/internal/audit"
	"github.com/Thinkelution/devlution/internal/config"
	"github.com/Thinkelution/devlution/internal/logging"
	"github.com/Thinkelution/devlution/internal/metrics"
	"github.com/Thinkelution/devlution/internal/notify"
	"github.com/Thinkelution/devlution/internal/pipeline"
)

// ErrUnknownGate is returned for gate ids absent from configuration.
var ErrUnknownGate = errors.New("unknown gate")

// Resolution methods recorded on decisions.
const (
	MethodExternal      = "external"
	MethodAuto          = "auto"
	MethodTimeoutPolicy = "timeout_policy"
)

// Result describes one Check invocation.
type Result struct {
	// Gate is the gate processed, nil when no undecided gate applies.
	Gate *config.GateConfig
	// Decision is set when the gate resolved.
	Decision *pipeline.GateDecision
	// Pending means the gate is waiting on a human.
	Pending bool
	// Escalated is true when this call sent the timeout escalation.
	Escalated bool
}

// Manager applies the configured gates to runs.
type Manager struct {
	gates    []config.GateConfig
	inbox    Inbox
	notifier notify.Notifier
	recorder audit.Recorder
	mode     string
	logger   *logging.Logger
	now      func() time.Time
}

// Option configures a Manager.
type Option func(*Manager)

func WithMode(mode string) Option { return func(m *Manager) { m.mode = mode } }

func WithNotifier(n notify.Notifier) Option { return func(m *Manager) { m.notifier = n } }

func WithLogger(l *logging.Logger) Option { return func(m *Manager) { m.logger = l.Named("gate") } }

func WithClock(now func() time.Time) Option { return func(m *Manager) { m.now = now } }

// NewManager builds a manager over gates. Mode defaults to development.
func NewManager(gates []config.GateConfig, inbox Inbox, recorder audit.Recorder, opts ...Option) *Manager {
	m := &Manager{
		gates:    gates,
		inbox:    inbox,
		recorder: recorder,
		mode:     config.ModeDevelopment,
		logger:   logging.Nop(),
		now:      time.Now,
	}
	for _, o := range opts {
		o(m)
	}
	if m.inbox == nil {
		m.inbox = NewMemoryInbox()
	}
	return m
}

// Gates returns the configured gates in order.
func (m *Manager) Gates() []config.GateConfig {
	return slices.Clone(m.gates)
}

// Gate looks up a gate by id.
func (m *Manager) Gate(id string) (config.GateConfig, bool) {
	for _, g := range m.gates {
		if g.ID == id {
			return g, true
		}
	}
	return config.GateConfig{}, false
}

// Applicable returns the first configured gate that is undecided in this run
// and applies to it. A confidence gate applies only while some recorded score
// is below its threshold.
func (m *Manager) Applicable(state *pipeline.RunState) *config.GateConfig {
	for i := range m.gates {
		g := m.gates[i]
		if _, decided := state.GateDecisions[g.ID]; decided {
			continue
		}
		if g.Type == config.GateConfidence {
			threshold := g.EffectiveThreshold()
			below := false
			for _, s := range state.ConfidenceScores {
				if s < threshold {
					below = true
					break
				}
			}
			if !below {
				continue
			}
		}
		return &g
	}
	return nil
}

// Check processes the first applicable gate. Resolution order: an inbox
// submission, then time_gate auto-approval, then the development-mode
// auto-approval. In production mode the gate stays pending until a
// submission arrives or its timeout policy fires.
//
// Check mutates state (gate_waits, gate_decisions); the caller owns it.
func (m *Manager) Check(ctx context.Context, state *pipeline.RunState) (Result, error) {
	g := m.Applicable(state)
	if g == nil {
		return Result{}, nil
	}
	res := Result{Gate: g}
	now := m.now().UTC()

	if state.GateWaits == nil {
		state.GateWaits = make(map[string]string)
	}
	if _, waiting := state.GateWaits[g.ID]; !waiting {
		state.GateWaits[g.ID] = now.Format(time.RFC3339)
		m.dispatch(ctx, *g, state, false)
	}

	sub, err := m.inbox.Take(ctx, state.RunID, g.ID)
	if err != nil {
		return res, fmt.Errorf("gate %s: %w", g.ID, err)
	}
	switch {
	case sub != nil:
		method := sub.Method
		if method == "" {
			method = MethodExternal
		}
		return m.resolve(ctx, state, res, sub.Decision, sub.Approver, method, sub.Reason)
	case g.Type == config.GateTime:
		return m.resolve(ctx, state, res, pipeline.DecisionApproved, "auto", MethodAuto, "time gate")
	case m.mode != config.ModeProduction:
		return m.resolve(ctx, state, res, pipeline.DecisionApproved, "auto", MethodAuto, "development mode")
	}

	if m.timedOut(*g, state, now) {
		switch g.OnTimeout {
		case config.OnTimeoutAutoApprove:
			return m.resolve(ctx, state, res, pipeline.DecisionApproved, "system", MethodTimeoutPolicy, "timed out; auto_approve policy")
		case config.OnTimeoutEscalate:
			if !slices.Contains(state.Escalated, g.ID) {
				state.Escalated = append(state.Escalated, g.ID)
				m.dispatch(ctx, *g, state, true)
				if _, err := m.recorder.Record(ctx, audit.Entry{
					RunID:   state.RunID,
					Actor:   "gate",
					Action:  "gate_escalated",
					Details: map[string]any{"gate_id": g.ID, "type": g.Type, "waiting_since": state.GateWaits[g.ID]},
				}); err != nil {
					return res, err
				}
				res.Escalated = true
			}
		default:
			return m.resolve(ctx, state, res, pipeline.DecisionTimeout, "system", MethodTimeoutPolicy, "timed out; block policy")
		}
	}

	res.Pending = true
	return res, nil
}

func (m *Manager) timedOut(g config.GateConfig, state *pipeline.RunState, now time.Time) bool {
	if g.TimeoutHours <= 0 {
		return false
	}
	since, err := time.Parse(time.RFC3339, state.GateWaits[g.ID])
	if err != nil {
		return false
	}
	return now.Sub(since) >= time.Duration(g.TimeoutHours*float64(time.Hour))
}

func (m *Manager) resolve(ctx context.Context, state *pipeline.RunState, res Result, decision pipeline.Decision, approver, method, reason string) (Result, error) {
	d := pipeline.GateDecision{
		GateID:    res.Gate.ID,
		Decision:  decision,
		Approver:  approver,
		Method:    method,
		Timestamp: m.now().UTC().Format(time.RFC3339),
		Reason:    reason,
	}
	if err := state.RecordGateDecision(d); err != nil {
		return res, err
	}
	if _, err := m.recorder.Record(ctx, audit.Entry{
		RunID:  state.RunID,
		Actor:  "gate",
		Action: string(decision),
		Details: map[string]any{
			"gate_id":  d.GateID,
			"type":     res.Gate.Type,
			"approver": approver,
			"method":   method,
			"reason":   reason,
		},
	}); err != nil {
		return res, err
	}
	metrics.GateDecisions.WithLabelValues(string(decision), method).Inc()
	m.logger.Info(ctx, "gate resolved",
		zap.String("run_id", state.RunID),
		zap.String("gate_id", d.GateID),
		zap.String("decision", string(decision)),
		zap.String("method", method))
	res.Decision = &d
	return res, nil
}

// dispatch notifies every configured channel. Failures never block the gate.
func (m *Manager) dispatch(ctx context.Context, g config.GateConfig, state *pipeline.RunState, escalation bool) {
	subject := fmt.Sprintf("Gate %s waiting for approval", g.ID)
	if escalation {
		subject = fmt.Sprintf("Gate %s timed out after %gh", g.ID, g.TimeoutHours)
	}
	text := fmt.Sprintf("Run %s (%s) reached gate %s (%s).", state.RunID, state.Trigger, g.ID, g.Type)
	if len(state.Tasks) > 0 {
		text += fmt.Sprintf(" %d task(s) planned.", len(state.Tasks))
	}
	if m.notifier == nil || len(g.Notify) == 0 {
		m.logger.Info(ctx, subject, zap.String("run_id", state.RunID), zap.String("gate_id", g.ID))
		return
	}
	for _, ch := range g.Notify {
		err := m.notifier.Notify(ctx, notify.Message{
			Channel:    ch,
			RunID:      state.RunID,
			GateID:     g.ID,
			GateType:   g.Type,
			Subject:    subject,
			Text:       text,
			Escalation: escalation,
		})
		if err != nil {
			m.logger.Warn(ctx, "gate notification failed", zap.String("channel", ch), zap.Error(err))
		}
	}
}

// Submit stores an external decision for a later Check to consume.
func (m *Manager) Submit(ctx context.Context, runID, gateID string, decision pipeline.Decision, approver, reason string) error {
	if _, ok := m.Gate(gateID); !ok {
		return fmt.Errorf("%w: %s", ErrUnknownGate, gateID)
	}
	if _, err := pipeline.ParseDecision(string(decision)); err != nil {
		return err
	}
	return m.inbox.Put(ctx, runID, pipeline.GateDecision{
		GateID:    gateID,
		Decision:  decision,
		Approver:  approver,
		Method:    MethodExternal,
		Timestamp: m.now().UTC().Format(time.RFC3339),
		Reason:    reason,
	})
}

// ShouldBlock reports whether a gate blocks on its own: human approval always
// does, a confidence gate does when conf is below its threshold.
func (m *Manager) ShouldBlock(gateID string, conf *float64) bool {
	g, ok := m.Gate(gateID)
	if !ok {
		return false
	}
	switch g.Type {
	case config.GateHumanApproval:
		return true
	case config.GateConfidence:
		return conf != nil && *conf < g.EffectiveThreshold()
	}
	return false
}

// RecordDecision writes an audit entry for a decision made outside a run's
// gate loop, such as a CLI approval for a run that is not parked.
func (m *Manager) RecordDecision(ctx context.Context, runID, gateID string, decision pipeline.Decision, approver, method string) (audit.Entry, error) {
	if _, err := pipeline.ParseDecision(string(decision)); err != nil {
		return audit.Entry{}, err
	}
	return m.recorder.Record(ctx, audit.Entry{
		RunID:  runID,
		Actor:  "gate",
		Action: string(decision),
		Details: map[string]any{
			"gate_id":  gateID,
			"approver": approver,
			"method":   method,
		},
	})
}
