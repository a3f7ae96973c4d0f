package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/rawbytes"
	"github.com/knadh/koanf/v2"
)

// DefaultFile is the project-level config file name.
const DefaultFile = "devlution.yaml"

const envPrefix = "DEVLUTION_"

// Load reads a configuration from the given YAML file path, overlays
// DEVLUTION_* environment variables, applies defaults and validates.
// An empty path loads defaults plus environment only.
func Load(path string) (*Config, error) {
	var data []byte
	if path != "" {
		var err error
		data, err = os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("reading config file: %w", err)
		}
	}
	return Parse(data)
}

// Parse builds a Config from raw YAML bytes plus the environment.
func Parse(data []byte) (*Config, error) {
	k := koanf.New(".")

	if len(data) > 0 {
		if err := k.Load(rawbytes.Provider(data), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("parsing config YAML: %w", err)
		}
	}

	// DEVLUTION_STORAGE_REDIS_URL -> storage.redis_url
	// Split on the first underscore only (section.field_name).
	if err := k.Load(env.Provider(envPrefix, ".", func(s string) string {
		lower := strings.ToLower(strings.TrimPrefix(s, envPrefix))
		parts := strings.SplitN(lower, "_", 2)
		if len(parts) == 1 {
			return lower
		}
		return parts[0] + "." + parts[1]
	}), nil); err != nil {
		return nil, fmt.Errorf("loading environment variables: %w", err)
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	applyDefaults(&cfg)

	if errs := Validate(&cfg); len(errs) > 0 {
		return nil, ValidationErrors(errs)
	}
	return &cfg, nil
}

// LoadDefault searches for a config in standard locations and loads the
// first one found. Search order: ./devlution.yaml, ~/.devlution/config.yaml
func LoadDefault() (*Config, error) {
	candidates := []string{DefaultFile}

	home, err := os.UserHomeDir()
	if err == nil {
		candidates = append(candidates, filepath.Join(home, ".devlution", "config.yaml"))
	}

	for _, path := range candidates {
		if _, err := os.Stat(path); err == nil {
			return Load(path)
		}
	}

	return nil, fmt.Errorf("no devlution config found (searched: %v); run 'devlution init'", candidates)
}

// Default returns a fully defaulted configuration for the named project.
func Default(projectName string) *Config {
	cfg := &Config{Project: ProjectConfig{Name: projectName}}
	applyDefaults(cfg)
	cfg.Integrations.GitHub.Enabled = true
	cfg.Integrations.GitHub.AutoLabelPRs = true
	cfg.Supervision.Gates = []GateConfig{{
		ID:           "pre_merge",
		Trigger:      "before_pr",
		Type:         GateHumanApproval,
		Notify:       []string{"log"},
		TimeoutHours: DefaultGateTimeout,
		OnTimeout:    OnTimeoutBlock,
	}}
	cfg.Pipeline.Flow = []string{"planner", "coder", "reviewer", "tester", "debugger", "gate", "publish"}
	return cfg
}

// applyDefaults fills zero values. Credentials fall back to the
// conventional provider environment variables.
func applyDefaults(cfg *Config) {
	p := &cfg.Project
	if p.Language == "" {
		p.Language = "python"
	}
	if p.TestCommand == "" {
		p.TestCommand = "pytest"
	}
	if p.LintCommand == "" {
		p.LintCommand = "ruff check ."
	}
	if p.MainBranch == "" {
		p.MainBranch = "main"
	}

	l := &cfg.LLM
	if l.Provider == "" {
		l.Provider = "anthropic"
	}
	if l.Model == "" {
		l.Model = "claude-sonnet-4-20250514"
	}
	if l.FallbackModel == "" {
		l.FallbackModel = l.Model
	}
	if l.MaxTokens == 0 {
		l.MaxTokens = 8192
	}
	if l.Temperature == 0 {
		l.Temperature = 0.2
	}
	if l.TimeoutSeconds == 0 {
		l.TimeoutSeconds = 120
	}
	if l.RateLimit == 0 {
		l.RateLimit = 1
	}
	if !l.APIKey.IsSet() {
		l.APIKey = Secret(os.Getenv("ANTHROPIC_API_KEY"))
	}

	a := &cfg.Agents
	if a.Planner.MaxSubtasks == 0 {
		a.Planner.MaxSubtasks = 10
	}
	if a.Coder.MaxIterations == 0 {
		a.Coder.MaxIterations = 3
	}
	if a.Coder.StyleGuide == "" {
		a.Coder.StyleGuide = ".cursor/rules"
	}
	if a.Reviewer.AutoApproveThreshold == 0 {
		a.Reviewer.AutoApproveThreshold = 0.92
	}
	if a.Reviewer.MinConfidence == 0 {
		a.Reviewer.MinConfidence = 0.75
	}
	if a.Reviewer.BlockOn == nil {
		a.Reviewer.BlockOn = []string{"security", "data_loss"}
	}
	if a.Tester.Frameworks == nil {
		a.Tester.Frameworks = []string{"pytest"}
	}
	if a.Tester.CoverageThreshold == 0 {
		a.Tester.CoverageThreshold = 80
	}
	if a.Tester.GenerateOn == nil {
		a.Tester.GenerateOn = []string{"new_file", "modified_function"}
	}
	if a.Tester.TimeoutSeconds == 0 {
		a.Tester.TimeoutSeconds = 300
	}
	if a.Debugger.MaxFixAttempts == 0 {
		a.Debugger.MaxFixAttempts = 3
	}
	if a.Debugger.Sources == nil {
		a.Debugger.Sources = []string{"ci_logs", "test_output"}
	}

	s := &cfg.Supervision
	if s.AuditLog == "" {
		s.AuditLog = ".devlution/audit.jsonl"
	}
	if s.Mode == "" {
		s.Mode = ModeDevelopment
	}
	for i := range s.Gates {
		g := &s.Gates[i]
		if g.Type == "" {
			g.Type = GateHumanApproval
		}
		if g.TimeoutHours == 0 {
			g.TimeoutHours = DefaultGateTimeout
		}
		if g.OnTimeout == "" {
			g.OnTimeout = OnTimeoutBlock
		}
	}

	gh := &cfg.Integrations.GitHub
	if !gh.Token.IsSet() {
		gh.Token = Secret(os.Getenv("GITHUB_TOKEN"))
	}
	if gh.Labels.AIGenerated == "" {
		gh.Labels.AIGenerated = "ai-generated"
	}
	if gh.Labels.NeedsReview == "" {
		gh.Labels.NeedsReview = "needs-review"
	}
	if cfg.Integrations.Slack.Channel == "" {
		cfg.Integrations.Slack.Channel = "#dev-pipeline"
	}
	sn := &cfg.Integrations.Sentry
	if !sn.Token.IsSet() {
		sn.Token = Secret(os.Getenv("SENTRY_AUTH_TOKEN"))
	}
	jr := &cfg.Integrations.Jira
	if jr.BaseURL == "" {
		jr.BaseURL = os.Getenv("JIRA_BASE_URL")
	}
	if jr.User == "" {
		jr.User = os.Getenv("JIRA_EMAIL")
	}
	if !jr.Token.IsSet() {
		jr.Token = Secret(os.Getenv("JIRA_API_TOKEN"))
	}
	if jr.IssueType == "" {
		jr.IssueType = "Task"
	}

	if cfg.Pipeline.MaxNodeVisits == 0 {
		cfg.Pipeline.MaxNodeVisits = 50
	}

	if cfg.Storage.StateDir == "" {
		cfg.Storage.StateDir = ".devlution"
	}

	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = "console"
	}

	if cfg.Server.Port == 0 {
		cfg.Server.Port = 8080
	}
}
