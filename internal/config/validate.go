package config

import (
	"fmt"
	"strings"

	"github.com/Thinkelution/devlution/internal/pipeline"
)

// ValidationError represents a single validation issue with a config.
type ValidationError struct {
	Field   string
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// ValidationErrors is returned by Load when validation fails.
type ValidationErrors []ValidationError

func (v ValidationErrors) Error() string {
	msgs := make([]string, len(v))
	for i, e := range v {
		msgs[i] = e.Error()
	}
	return "invalid config: " + strings.Join(msgs, "; ")
}

var (
	validProviders = map[string]bool{"anthropic": true, "stub": true}
	validGateTypes = map[string]bool{GateHumanApproval: true, GateConfidence: true, GateTime: true, GateBranch: true}
	validOnTimeout = map[string]bool{OnTimeoutBlock: true, OnTimeoutAutoApprove: true, OnTimeoutEscalate: true}
	validModes     = map[string]bool{ModeDevelopment: true, ModeProduction: true}
)

// Validate checks a Config for structural and semantic errors.
// It returns a slice of all validation errors found (empty if valid).
func Validate(cfg *Config) []ValidationError {
	var errs []ValidationError
	add := func(field, format string, args ...any) {
		errs = append(errs, ValidationError{Field: field, Message: fmt.Sprintf(format, args...)})
	}

	if cfg.Project.Name == "" {
		add("project.name", "is required")
	}
	if r := cfg.Project.Repo; r != "" && strings.Count(r, "/") != 1 {
		add("project.repo", "must be owner/name, got %q", r)
	}

	if !validProviders[cfg.LLM.Provider] {
		add("llm.provider", "unrecognized provider %q", cfg.LLM.Provider)
	}
	if cfg.LLM.MaxTokens < 0 {
		add("llm.max_tokens", "must be positive")
	}
	if t := cfg.LLM.Temperature; t < 0 || t > 1 {
		add("llm.temperature", "must be within [0,1], got %v", t)
	}

	a := cfg.Agents
	if a.Planner.MaxSubtasks < 0 {
		add("agents.planner.max_subtasks", "must not be negative")
	}
	if a.Coder.MaxIterations < 0 {
		add("agents.coder.max_iterations", "must not be negative")
	}
	for field, v := range map[string]float64{
		"agents.reviewer.auto_approve_threshold": a.Reviewer.AutoApproveThreshold,
		"agents.reviewer.min_confidence":         a.Reviewer.MinConfidence,
	} {
		if v < 0 || v > 1 {
			add(field, "must be within [0,1], got %v", v)
		}
	}
	if c := a.Tester.CoverageThreshold; c < 0 || c > 100 {
		add("agents.tester.coverage_threshold", "must be within [0,100], got %v", c)
	}
	if a.Debugger.MaxFixAttempts < 0 {
		add("agents.debugger.max_fix_attempts", "must not be negative")
	}

	if !validModes[cfg.Supervision.Mode] {
		add("supervision.mode", "must be development or production, got %q", cfg.Supervision.Mode)
	}
	gateIDs := make(map[string]bool)
	for i, g := range cfg.Supervision.Gates {
		prefix := fmt.Sprintf("supervision.gates[%d]", i)
		if g.ID == "" {
			add(prefix+".id", "is required")
		} else if gateIDs[g.ID] {
			add(prefix+".id", "duplicate gate ID %q", g.ID)
		}
		gateIDs[g.ID] = true
		if !validGateTypes[g.Type] {
			add(prefix+".type", "unrecognized gate type %q", g.Type)
		}
		if !validOnTimeout[g.OnTimeout] {
			add(prefix+".on_timeout", "must be block, auto_approve or escalate, got %q", g.OnTimeout)
		}
		if g.TimeoutHours < 0 {
			add(prefix+".timeout_hours", "must not be negative")
		}
		if g.Threshold != nil && (*g.Threshold < 0 || *g.Threshold > 1) {
			add(prefix+".threshold", "must be within [0,1], got %v", *g.Threshold)
		}
		if g.RequiredApprovers < 0 {
			add(prefix+".required_approvers", "must not be negative")
		}
		for _, ch := range g.Notify {
			if !validChannel(ch) {
				add(prefix+".notify", "unrecognized channel %q", ch)
			}
		}
	}

	if sl := cfg.Integrations.Slack; sl.Enabled && !sl.WebhookURL.IsSet() && !sl.BotToken.IsSet() {
		add("integrations.slack.webhook_url", "or bot_token is required when slack is enabled")
	}
	if sn := cfg.Integrations.Sentry; sn.Enabled {
		if !sn.Token.IsSet() {
			add("integrations.sentry.token", "is required when sentry is enabled (or set SENTRY_AUTH_TOKEN)")
		}
		if sn.Org == "" || sn.Project == "" {
			add("integrations.sentry", "org and project are required when sentry is enabled")
		}
	}
	if jr := cfg.Integrations.Jira; jr.Enabled {
		if jr.BaseURL == "" || jr.User == "" || !jr.Token.IsSet() {
			add("integrations.jira", "base_url, user and token are required when jira is enabled")
		}
	}

	for i, n := range cfg.Pipeline.Flow {
		if _, err := pipeline.ParseNode(n); err != nil {
			add(fmt.Sprintf("pipeline.flow[%d]", i), "%v", err)
		}
	}
	for i, t := range cfg.Pipeline.Triggers {
		if t.On == "" {
			add(fmt.Sprintf("pipeline.triggers[%d].on", i), "is required")
		}
	}
	if cfg.Pipeline.MaxNodeVisits < 0 {
		add("pipeline.max_node_visits", "must not be negative")
	}

	if err := cfg.Logging.Validate(); err != nil {
		add("logging", "%v", err)
	}
	if p := cfg.Server.Port; p < 0 || p > 65535 {
		add("server.port", "out of range: %d", p)
	}

	return errs
}

// validChannel accepts "log", "slack", "slack:#chan", "github:owner/repo#N",
// "jira", "jira:PROJ" and "jira:PROJ-12".
func validChannel(ch string) bool {
	kind, target, hasTarget := strings.Cut(ch, ":")
	switch kind {
	case "log":
		return !hasTarget
	case "slack", "jira":
		return !hasTarget || target != ""
	case "github":
		repo, num, ok := strings.Cut(target, "#")
		return ok && strings.Count(repo, "/") == 1 && num != ""
	}
	return false
}
