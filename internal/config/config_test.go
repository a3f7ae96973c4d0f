package config

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

const validConfig = `
project:
  name: my-app
  language: go
  test_command: "go test ./... -cover"
  lint_command: "golangci-lint run"
  repo: example/my-app
llm:
  provider: anthropic
  model: claude-sonnet-4-20250514
  max_tokens: 4096
agents:
  planner:
    enabled: true
    max_subtasks: 5
  reviewer:
    auto_approve_threshold: 0.85
  tester:
    coverage_threshold: 90
  debugger:
    max_fix_attempts: 2
supervision:
  mode: production
  gates:
    - id: pre_merge
      trigger: before_pr
      type: human_approval
      notify: ["log", "slack:#releases"]
      timeout_hours: 12
      on_timeout: escalate
    - id: low_confidence
      trigger: any_step
      type: confidence_gate
      threshold: 0.6
pipeline:
  flow: [planner, coder, reviewer, tester, debugger, gate, publish]
  triggers:
    - on: github_issue
      label: ai-task
`

func writeTestConfig(t *testing.T, content string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, DefaultFile)
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoadValidConfig(t *testing.T) {
	path := writeTestConfig(t, validConfig)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}

	if cfg.Project.Name != "my-app" {
		t.Errorf("Name = %q, want %q", cfg.Project.Name, "my-app")
	}
	if cfg.LLM.MaxTokens != 4096 {
		t.Errorf("MaxTokens = %d, want 4096", cfg.LLM.MaxTokens)
	}
	if cfg.Agents.Planner.MaxSubtasks != 5 {
		t.Errorf("MaxSubtasks = %d, want 5", cfg.Agents.Planner.MaxSubtasks)
	}
	if cfg.Agents.Tester.CoverageThreshold != 90 {
		t.Errorf("CoverageThreshold = %v, want 90", cfg.Agents.Tester.CoverageThreshold)
	}
	if len(cfg.Supervision.Gates) != 2 {
		t.Fatalf("len(Gates) = %d, want 2", len(cfg.Supervision.Gates))
	}
	g := cfg.Supervision.Gates[1]
	if g.Threshold == nil || *g.Threshold != 0.6 {
		t.Errorf("gate threshold = %v, want 0.6", g.Threshold)
	}
	if cfg.Supervision.Mode != ModeProduction {
		t.Errorf("Mode = %q, want production", cfg.Supervision.Mode)
	}
}

func TestDefaultsApplied(t *testing.T) {
	path := writeTestConfig(t, "project:\n  name: minimal\n")
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}

	if cfg.LLM.MaxTokens != 8192 {
		t.Errorf("MaxTokens = %d, want 8192", cfg.LLM.MaxTokens)
	}
	if cfg.LLM.Temperature != 0.2 {
		t.Errorf("Temperature = %v, want 0.2", cfg.LLM.Temperature)
	}
	if cfg.LLM.FallbackModel != cfg.LLM.Model {
		t.Errorf("FallbackModel = %q, want model %q", cfg.LLM.FallbackModel, cfg.LLM.Model)
	}
	if cfg.Agents.Coder.MaxIterations != 3 {
		t.Errorf("Coder.MaxIterations = %d, want 3", cfg.Agents.Coder.MaxIterations)
	}
	if cfg.Agents.Reviewer.AutoApproveThreshold != 0.92 {
		t.Errorf("AutoApproveThreshold = %v, want 0.92", cfg.Agents.Reviewer.AutoApproveThreshold)
	}
	if cfg.Agents.Tester.CoverageThreshold != 80 {
		t.Errorf("CoverageThreshold = %v, want 80", cfg.Agents.Tester.CoverageThreshold)
	}
	if cfg.Agents.Debugger.MaxFixAttempts != 3 {
		t.Errorf("MaxFixAttempts = %d, want 3", cfg.Agents.Debugger.MaxFixAttempts)
	}
	if cfg.Supervision.AuditLog != ".devlution/audit.jsonl" {
		t.Errorf("AuditLog = %q", cfg.Supervision.AuditLog)
	}
	if cfg.Supervision.Mode != ModeDevelopment {
		t.Errorf("Mode = %q, want development", cfg.Supervision.Mode)
	}
	if cfg.Pipeline.MaxNodeVisits != 50 {
		t.Errorf("MaxNodeVisits = %d, want 50", cfg.Pipeline.MaxNodeVisits)
	}
	if cfg.Server.Port != 8080 {
		t.Errorf("Port = %d, want 8080", cfg.Server.Port)
	}
}

func TestGateDefaults(t *testing.T) {
	path := writeTestConfig(t, `
project:
  name: gates
supervision:
  gates:
    - id: g1
      trigger: before_pr
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	g := cfg.Supervision.Gates[0]
	if g.Type != GateHumanApproval {
		t.Errorf("Type = %q, want human_approval", g.Type)
	}
	if g.TimeoutHours != 24 {
		t.Errorf("TimeoutHours = %v, want 24", g.TimeoutHours)
	}
	if g.OnTimeout != OnTimeoutBlock {
		t.Errorf("OnTimeout = %q, want block", g.OnTimeout)
	}
	if g.EffectiveThreshold() != 0.75 {
		t.Errorf("EffectiveThreshold = %v, want 0.75", g.EffectiveThreshold())
	}
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("DEVLUTION_LLM_MODEL", "claude-haiku")
	t.Setenv("DEVLUTION_STORAGE_REDIS_URL", "redis://localhost:6379/0")
	t.Setenv("DEVLUTION_SUPERVISION_MODE", "production")

	path := writeTestConfig(t, "project:\n  name: env\n")
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	if cfg.LLM.Model != "claude-haiku" {
		t.Errorf("Model = %q, want claude-haiku", cfg.LLM.Model)
	}
	if cfg.Storage.RedisURL != "redis://localhost:6379/0" {
		t.Errorf("RedisURL = %q", cfg.Storage.RedisURL)
	}
	if cfg.Supervision.Mode != ModeProduction {
		t.Errorf("Mode = %q, want production", cfg.Supervision.Mode)
	}
}

func TestAPIKeyFallsBackToProviderEnv(t *testing.T) {
	t.Setenv("ANTHROPIC_API_KEY", "sk-test")
	cfg, err := Parse([]byte("project:\n  name: k\n"))
	if err != nil {
		t.Fatalf("Parse() error: %v", err)
	}
	if cfg.LLM.APIKey.Value() != "sk-test" {
		t.Errorf("APIKey not taken from ANTHROPIC_API_KEY")
	}
	if cfg.LLM.APIKey.String() != "[REDACTED]" {
		t.Errorf("APIKey.String() = %q, want redacted", cfg.LLM.APIKey.String())
	}
}

func TestIntegrationSecretsFromEnv(t *testing.T) {
	t.Setenv("SENTRY_AUTH_TOKEN", "sntrys_abc")
	t.Setenv("JIRA_BASE_URL", "https://acme.atlassian.net")
	t.Setenv("JIRA_EMAIL", "bot@acme.io")
	t.Setenv("JIRA_API_TOKEN", "jira-tok")
	cfg, err := Parse([]byte("project:\n  name: k\nintegrations:\n  sentry:\n    enabled: true\n    org: acme\n    project: api\n  jira:\n    enabled: true\n    project: DEV\n"))
	if err != nil {
		t.Fatalf("Parse() error: %v", err)
	}
	if cfg.Integrations.Sentry.Token.Value() != "sntrys_abc" {
		t.Errorf("sentry token not taken from SENTRY_AUTH_TOKEN")
	}
	jr := cfg.Integrations.Jira
	if jr.BaseURL != "https://acme.atlassian.net" || jr.User != "bot@acme.io" || jr.Token.Value() != "jira-tok" {
		t.Errorf("jira connection not taken from env: %+v", jr)
	}
	if jr.IssueType != "Task" {
		t.Errorf("jira issue type = %q, want Task", jr.IssueType)
	}
}

func TestValidateIntegrations(t *testing.T) {
	for _, k := range []string{"SENTRY_AUTH_TOKEN", "JIRA_BASE_URL", "JIRA_EMAIL", "JIRA_API_TOKEN"} {
		t.Setenv(k, "")
	}
	cfg := Default("x")
	cfg.Integrations.Slack.Enabled = true
	cfg.Integrations.Sentry.Enabled = true
	cfg.Integrations.Jira.Enabled = true

	errs := Validate(cfg)
	for _, field := range []string{
		"integrations.slack.webhook_url",
		"integrations.sentry.token",
		"integrations.sentry",
		"integrations.jira",
	} {
		if !hasField(errs, field) {
			t.Errorf("expected error for %s, got %v", field, errs)
		}
	}

	cfg.Integrations.Slack.BotToken = "xoxb-1"
	if hasField(Validate(cfg), "integrations.slack.webhook_url") {
		t.Errorf("bot token alone should satisfy slack")
	}
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	if err == nil {
		t.Fatal("expected error for missing file")
	}
}

func TestLoadInvalidYAML(t *testing.T) {
	path := writeTestConfig(t, "project: [unclosed")
	if _, err := Load(path); err == nil {
		t.Fatal("expected parse error")
	}
}

func TestValidateValidConfig(t *testing.T) {
	path := writeTestConfig(t, validConfig)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}

	errs := Validate(cfg)
	if len(errs) != 0 {
		t.Errorf("Validate() returned %d errors for valid config:", len(errs))
		for _, e := range errs {
			t.Errorf("  - %s", e)
		}
	}
}

func TestValidateMissingName(t *testing.T) {
	_, err := Parse([]byte("llm:\n  provider: anthropic\n"))
	if err == nil {
		t.Fatal("expected validation error")
	}
	var verrs ValidationErrors
	if !errors.As(err, &verrs) {
		t.Fatalf("error %T is not ValidationErrors", err)
	}
	if !hasField(verrs, "project.name") {
		t.Errorf("expected project.name error, got %v", verrs)
	}
}

func TestValidateGates(t *testing.T) {
	cfg := Default("x")
	cfg.Supervision.Gates = []GateConfig{
		{ID: "a", Type: "coin_flip", OnTimeout: OnTimeoutBlock},
		{ID: "a", Type: GateHumanApproval, OnTimeout: "panic"},
		{ID: "", Type: GateTime, OnTimeout: OnTimeoutBlock, Notify: []string{"pager"}},
	}
	bad := 1.5
	cfg.Supervision.Gates = append(cfg.Supervision.Gates, GateConfig{ID: "c", Type: GateConfidence, OnTimeout: OnTimeoutBlock, Threshold: &bad})

	errs := Validate(cfg)
	for _, field := range []string{
		"supervision.gates[0].type",
		"supervision.gates[1].id",
		"supervision.gates[1].on_timeout",
		"supervision.gates[2].id",
		"supervision.gates[2].notify",
		"supervision.gates[3].threshold",
	} {
		if !hasField(errs, field) {
			t.Errorf("expected error for %s, got %v", field, errs)
		}
	}
}

func TestValidateRanges(t *testing.T) {
	cfg := Default("x")
	cfg.LLM.Provider = "openai"
	cfg.Agents.Tester.CoverageThreshold = 120
	cfg.Supervision.Mode = "yolo"
	cfg.Pipeline.Flow = []string{"planner", "deployer"}
	cfg.Logging.Format = "xml"

	errs := Validate(cfg)
	for _, field := range []string{
		"llm.provider",
		"agents.tester.coverage_threshold",
		"supervision.mode",
		"pipeline.flow[1]",
		"logging",
	} {
		if !hasField(errs, field) {
			t.Errorf("expected error for %s, got %v", field, errs)
		}
	}
}

func TestValidChannel(t *testing.T) {
	tests := map[string]bool{
		"log":                     true,
		"slack":                   true,
		"slack:#dev":              true,
		"github:acme/widgets#12":  true,
		"github:acme#12":          false,
		"github:acme/widgets":     false,
		"log:extra":               false,
		"jira":                    true,
		"jira:DEV":                true,
		"jira:DEV-12":             true,
		"jira:":                   false,
		"email:someone@acme.test": false,
	}
	for ch, want := range tests {
		if got := validChannel(ch); got != want {
			t.Errorf("validChannel(%q) = %v, want %v", ch, got, want)
		}
	}
}

func TestDefaultIsValid(t *testing.T) {
	errs := Validate(Default("demo"))
	if len(errs) != 0 {
		t.Errorf("Default config has errors: %v", errs)
	}
}

func TestWriteRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sub", DefaultFile)
	cfg := Default("roundtrip")
	cfg.Project.Language = "go"

	if err := Write(path, cfg, false); err != nil {
		t.Fatalf("Write() error: %v", err)
	}
	if err := Write(path, cfg, false); err == nil || !strings.Contains(err.Error(), "already exists") {
		t.Errorf("second Write() error = %v, want already exists", err)
	}

	loaded, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	if loaded.Project.Name != "roundtrip" || loaded.Project.Language != "go" {
		t.Errorf("project = %+v", loaded.Project)
	}
	if len(loaded.Supervision.Gates) != 1 || loaded.Supervision.Gates[0].ID != "pre_merge" {
		t.Errorf("gates = %+v", loaded.Supervision.Gates)
	}
	if !loaded.Integrations.GitHub.Enabled {
		t.Error("github integration should be enabled by default")
	}
}

func hasField(errs []ValidationError, field string) bool {
	for _, e := range errs {
		if e.Field == field {
			return true
		}
	}
	return false
}
