package config

import (
	"encoding/json"

	"github.com/Thinkelution/devlution/internal/logging"
)

// Config is the top-level configuration parsed from devlution.yaml.
type Config struct {
	Project      ProjectConfig      `koanf:"project" yaml:"project"`
	LLM          LLMConfig          `koanf:"llm" yaml:"llm"`
	Agents       AgentsConfig       `koanf:"agents" yaml:"agents"`
	Supervision  SupervisionConfig  `koanf:"supervision" yaml:"supervision"`
	Integrations IntegrationsConfig `koanf:"integrations" yaml:"integrations"`
	Pipeline     PipelineConfig     `koanf:"pipeline" yaml:"pipeline"`
	Storage      StorageConfig      `koanf:"storage" yaml:"storage"`
	Logging      logging.Config     `koanf:"logging" yaml:"logging"`
	Server       ServerConfig       `koanf:"server" yaml:"server"`
}

// ProjectConfig describes the repository the pipeline works on.
type ProjectConfig struct {
	Name        string `koanf:"name" yaml:"name"`
	Language    string `koanf:"language" yaml:"language"`
	TestCommand string `koanf:"test_command" yaml:"test_command"`
	LintCommand string `koanf:"lint_command" yaml:"lint_command"`
	MainBranch  string `koanf:"main_branch" yaml:"main_branch"`
	Repo        string `koanf:"repo" yaml:"repo,omitempty"` // owner/name
	Root        string `koanf:"root" yaml:"root,omitempty"`
}

// LLMConfig selects and tunes the model provider.
type LLMConfig struct {
	Provider       string  `koanf:"provider" yaml:"provider"`
	Model          string  `koanf:"model" yaml:"model"`
	FallbackModel  string  `koanf:"fallback_model" yaml:"fallback_model"`
	MaxTokens      int     `koanf:"max_tokens" yaml:"max_tokens"`
	Temperature    float64 `koanf:"temperature" yaml:"temperature"`
	APIKey         Secret  `koanf:"api_key" yaml:"api_key,omitempty"`
	BaseURL        string  `koanf:"base_url" yaml:"base_url,omitempty"`
	TimeoutSeconds int     `koanf:"timeout_seconds" yaml:"timeout_seconds"`
	RateLimit      float64 `koanf:"rate_limit" yaml:"rate_limit"`
}

type AgentsConfig struct {
	Planner  PlannerConfig  `koanf:"planner" yaml:"planner"`
	Coder    CoderConfig    `koanf:"coder" yaml:"coder"`
	Reviewer ReviewerConfig `koanf:"reviewer" yaml:"reviewer"`
	Tester   TesterConfig   `koanf:"tester" yaml:"tester"`
	Debugger DebuggerConfig `koanf:"debugger" yaml:"debugger"`
}

type PlannerConfig struct {
	MaxSubtasks int `koanf:"max_subtasks" yaml:"max_subtasks"`
}

type CoderConfig struct {
	MaxIterations int    `koanf:"max_iterations" yaml:"max_iterations"`
	StyleGuide    string `koanf:"style_guide" yaml:"style_guide"`
}

type ReviewerConfig struct {
	AutoApproveThreshold float64  `koanf:"auto_approve_threshold" yaml:"auto_approve_threshold"`
	MinConfidence        float64  `koanf:"min_confidence" yaml:"min_confidence"`
	BlockOn              []string `koanf:"block_on" yaml:"block_on"`
}

type TesterConfig struct {
	Frameworks        []string `koanf:"frameworks" yaml:"frameworks"`
	CoverageThreshold float64  `koanf:"coverage_threshold" yaml:"coverage_threshold"`
	GenerateOn        []string `koanf:"generate_on" yaml:"generate_on"`
	TimeoutSeconds    int      `koanf:"timeout_seconds" yaml:"timeout_seconds"`
}

type DebuggerConfig struct {
	MaxFixAttempts int      `koanf:"max_fix_attempts" yaml:"max_fix_attempts"`
	Sources        []string `koanf:"sources" yaml:"sources"`
}

// Gate types.
const (
	GateHumanApproval  = "human_approval"
	GateConfidence     = "confidence_gate"
	GateTime           = "time_gate"
	GateBranch         = "branch_gate"
	DefaultGateTimeout = 24
)

// On-timeout policies.
const (
	OnTimeoutBlock       = "block"
	OnTimeoutAutoApprove = "auto_approve"
	OnTimeoutEscalate    = "escalate"
)

// Supervision modes.
const (
	ModeDevelopment = "development"
	ModeProduction  = "production"
)

// GateConfig is one configured checkpoint.
type GateConfig struct {
	ID                string   `koanf:"id" yaml:"id"`
	Trigger           string   `koanf:"trigger" yaml:"trigger"`
	Type              string   `koanf:"type" yaml:"type"`
	Notify            []string `koanf:"notify" yaml:"notify,omitempty"`
	TimeoutHours      float64  `koanf:"timeout_hours" yaml:"timeout_hours"`
	OnTimeout         string   `koanf:"on_timeout" yaml:"on_timeout"`
	Threshold         *float64 `koanf:"threshold" yaml:"threshold,omitempty"`
	RequiredApprovers int      `koanf:"required_approvers" yaml:"required_approvers"`
}

// EffectiveThreshold returns the gate's threshold, or 0.75 when unset.
func (g GateConfig) EffectiveThreshold() float64 {
	if g.Threshold == nil {
		return 0.75
	}
	return *g.Threshold
}

type SupervisionConfig struct {
	Gates    []GateConfig `koanf:"gates" yaml:"gates"`
	AuditLog string       `koanf:"audit_log" yaml:"audit_log"`
	Mode     string       `koanf:"mode" yaml:"mode"`
}

type IntegrationsConfig struct {
	GitHub GitHubConfig `koanf:"github" yaml:"github"`
	Slack  SlackConfig  `koanf:"slack" yaml:"slack"`
	Sentry SentryConfig `koanf:"sentry" yaml:"sentry"`
	Jira   JiraConfig   `koanf:"jira" yaml:"jira"`
}

type GitHubConfig struct {
	Enabled      bool         `koanf:"enabled" yaml:"enabled"`
	Token        Secret       `koanf:"token" yaml:"token,omitempty"`
	AutoLabelPRs bool         `koanf:"auto_label_prs" yaml:"auto_label_prs"`
	Labels       GitHubLabels `koanf:"labels" yaml:"labels"`
}

type GitHubLabels struct {
	AIGenerated string `koanf:"ai_generated" yaml:"ai_generated"`
	NeedsReview string `koanf:"needs_review" yaml:"needs_review"`
}

// SlackConfig posts through the webhook, or through the Web API when a bot
// token is set. The signing secret enables the gate button endpoint.
type SlackConfig struct {
	Enabled       bool   `koanf:"enabled" yaml:"enabled"`
	WebhookURL    Secret `koanf:"webhook_url" yaml:"webhook_url,omitempty"`
	BotToken      Secret `koanf:"bot_token" yaml:"bot_token,omitempty"`
	SigningSecret Secret `koanf:"signing_secret" yaml:"signing_secret,omitempty"`
	Channel       string `koanf:"channel" yaml:"channel"`
}

// SentryConfig resolves alert triggers into the event that raised them.
type SentryConfig struct {
	Enabled bool   `koanf:"enabled" yaml:"enabled"`
	Token   Secret `koanf:"token" yaml:"token,omitempty"`
	Org     string `koanf:"org" yaml:"org"`
	Project string `koanf:"project" yaml:"project"`
	BaseURL string `koanf:"base_url" yaml:"base_url,omitempty"`
}

type JiraConfig struct {
	Enabled    bool   `koanf:"enabled" yaml:"enabled"`
	BaseURL    string `koanf:"base_url" yaml:"base_url"`
	User       string `koanf:"user" yaml:"user"`
	Token      Secret `koanf:"token" yaml:"token,omitempty"`
	Project    string `koanf:"project" yaml:"project"`
	IssueType  string `koanf:"issue_type" yaml:"issue_type,omitempty"`
	Transition string `koanf:"transition" yaml:"transition,omitempty"`
}

// TriggerRule maps an external event onto a flow.
type TriggerRule struct {
	On    string   `koanf:"on" yaml:"on"`
	Label string   `koanf:"label" yaml:"label,omitempty"`
	Cron  string   `koanf:"cron" yaml:"cron,omitempty"`
	Flow  []string `koanf:"flow" yaml:"flow,omitempty"`
}

type PipelineConfig struct {
	Flow          []string      `koanf:"flow" yaml:"flow"`
	Triggers      []TriggerRule `koanf:"triggers" yaml:"triggers,omitempty"`
	MaxNodeVisits int           `koanf:"max_node_visits" yaml:"max_node_visits"`
}

type StorageConfig struct {
	StateDir    string `koanf:"state_dir" yaml:"state_dir"`
	SQLitePath  string `koanf:"sqlite_path" yaml:"sqlite_path,omitempty"`
	PostgresDSN Secret `koanf:"postgres_dsn" yaml:"postgres_dsn,omitempty"`
	RedisURL    string `koanf:"redis_url" yaml:"redis_url,omitempty"` // redis://host:6379/0
}

type ServerConfig struct {
	Port int `koanf:"port" yaml:"port"`
}

// Secret wraps strings that should be redacted in logs and JSON output.
// Use Value() to read the real value.
type Secret string

func (s Secret) String() string {
	if s == "" {
		return ""
	}
	return "[REDACTED]"
}

func (s Secret) GoString() string {
	return "Secret([REDACTED])"
}

// Value returns the actual secret value.
func (s Secret) Value() string {
	return string(s)
}

// IsSet reports whether the secret has a value.
func (s Secret) IsSet() bool {
	return s != ""
}

func (s Secret) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.String())
}
