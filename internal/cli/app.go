package cli

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/Thinkelution/devlution/internal/agents"
	"github.com/Thinkelution/devlution/internal/audit"
	"github.com/Thinkelution/devlution/internal/checks"
	"github.com/Thinkelution/devlution/internal/confidence"
	"github.com/Thinkelution/devlution/internal/config"
	"github.com/Thinkelution/devlution/internal/db"
	"github.com/Thinkelution/devlution/internal/gate"
	"github.com/Thinkelution/devlution/internal/github"
	"github.com/Thinkelution/devlution/internal/llm"
	"github.com/Thinkelution/devlution/internal/logging"
	"github.com/Thinkelution/devlution/internal/metrics"
	"github.com/Thinkelution/devlution/internal/notify"
	"github.com/Thinkelution/devlution/internal/orchestrator"
	"github.com/Thinkelution/devlution/internal/pipeline"
	"github.com/Thinkelution/devlution/internal/prompt"
	"github.com/Thinkelution/devlution/internal/sentry"
	"github.com/Thinkelution/devlution/internal/step"
	"github.com/Thinkelution/devlution/internal/worktree"
)

// app holds the components one command invocation works with.
type app struct {
	cfg    *config.Config
	logger *logging.Logger
	audit  *audit.Log
	index  *db.DB
	store  *pipeline.Store
	orch   *orchestrator.Orchestrator

	closers []func()
}

func (a *app) close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
	_ = a.logger.Sync()
}

type appOpts struct {
	// dryRun swaps the agents for offline stubs and skips GitHub.
	dryRun bool
}

// loadConfig reads --config, or the default locations, falling back to
// defaults when no file exists. The project root defaults to the directory
// of an explicit --config, else the working directory.
func loadConfig(cmd *cobra.Command) (*config.Config, string, error) {
	path, _ := cmd.Flags().GetString("config")
	root := "."
	if path != "" {
		root = filepath.Dir(path)
	} else {
		path = findConfig()
	}
	cfg, err := config.Load(path)
	if err != nil {
		return nil, "", err
	}
	if cfg.Project.Root == "" {
		if cfg.Project.Root, err = filepath.Abs(root); err != nil {
			return nil, "", fmt.Errorf("resolve project root: %w", err)
		}
	}
	return cfg, path, nil
}

// findConfig returns ./devlution.yaml or ~/.devlution/config.yaml, whichever
// exists first, or "".
func findConfig() string {
	candidates := []string{config.DefaultFile}
	if home, err := os.UserHomeDir(); err == nil {
		candidates = append(candidates, filepath.Join(home, ".devlution", "config.yaml"))
	}
	for _, c := range candidates {
		if _, err := os.Stat(c); err == nil {
			return c
		}
	}
	return ""
}

// under resolves a configured path against the project root.
func under(root, p string) string {
	if p == "" || filepath.IsAbs(p) {
		return p
	}
	return filepath.Join(root, p)
}

func newApp(cmd *cobra.Command, opts appOpts) (*app, error) {
	cfg, _, err := loadConfig(cmd)
	if err != nil {
		return nil, err
	}
	logCfg := cfg.Logging
	if verbose, _ := cmd.Flags().GetBool("verbose"); verbose {
		logCfg.Level = "debug"
	}
	logger, err := logging.NewWithWriter(&logCfg, cmd.ErrOrStderr())
	if err != nil {
		return nil, fmt.Errorf("logger: %w", err)
	}
	a := &app{cfg: cfg, logger: logger}
	ok := false
	defer func() {
		if !ok {
			a.close()
		}
	}()

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	root := cfg.Project.Root
	stateDir := under(root, cfg.Storage.StateDir)

	mirrors := []audit.Mirror{metrics.AuditMirror{}}
	if cfg.Storage.SQLitePath != "" {
		index, err := db.Open(under(root, cfg.Storage.SQLitePath))
		if err != nil {
			return nil, err
		}
		a.closers = append(a.closers, func() { index.Close() })
		if err := index.Migrate(ctx); err != nil {
			return nil, fmt.Errorf("migrate sqlite index: %w", err)
		}
		a.index = index
		mirrors = append(mirrors, index)
	}
	if cfg.Storage.PostgresDSN.IsSet() {
		pg, err := db.OpenPostgres(ctx, cfg.Storage.PostgresDSN.Value())
		if err != nil {
			return nil, err
		}
		a.closers = append(a.closers, pg.Close)
		if err := pg.Migrate(ctx); err != nil {
			return nil, err
		}
		mirrors = append(mirrors, pg)
	}
	if a.audit, err = audit.Open(under(root, cfg.Supervision.AuditLog), audit.WithMirrors(mirrors...), audit.WithLogger(logger)); err != nil {
		return nil, err
	}
	a.store = pipeline.NewStore(filepath.Join(stateDir, "runs"))

	var inbox gate.Inbox
	if cfg.Storage.RedisURL != "" {
		ri, err := gate.NewRedisInbox(cfg.Storage.RedisURL)
		if err != nil {
			return nil, err
		}
		a.closers = append(a.closers, func() { ri.Close() })
		inbox = ri
	} else {
		inbox = gate.NewFileInbox(filepath.Join(stateDir, "inbox"))
	}

	var host *githubHost
	if !opts.dryRun && cfg.Integrations.GitHub.Enabled && cfg.Project.Repo != "" {
		if host, err = newGitHubHost(ctx, cfg, logger); err != nil {
			return nil, err
		}
	}

	notifier := notify.NewMulti(logger)
	if s := cfg.Integrations.Slack; s.Enabled && (s.WebhookURL.IsSet() || s.BotToken.IsSet()) {
		var slackOpts []notify.SlackOption
		if s.BotToken.IsSet() {
			slackOpts = append(slackOpts, notify.WithSlackBot(s.BotToken.Value()))
		}
		notifier.Register("slack", notify.NewSlack(s.WebhookURL.Value(), s.Channel, slackOpts...))
	}
	if j := cfg.Integrations.Jira; j.Enabled && !opts.dryRun {
		jc, err := notify.NewJira(j.BaseURL, j.User, j.Token.Value(), j.Project,
			notify.WithJiraIssueType(j.IssueType),
			notify.WithJiraTransition(j.Transition),
		)
		if err != nil {
			return nil, err
		}
		notifier.Register("jira", jc)
	}
	if host != nil {
		notifier.Register("github", notify.NewGitHub(host.commenter))
	}
	gates := gate.NewManager(cfg.Supervision.Gates, inbox, a.audit,
		gate.WithMode(cfg.Supervision.Mode),
		gate.WithNotifier(notifier),
		gate.WithLogger(logger),
	)

	steps, err := buildSteps(cfg, a.audit, host, logger, stateDir, opts.dryRun)
	if err != nil {
		return nil, err
	}
	deps := orchestrator.Deps{
		Config: cfg,
		Store:  a.store,
		Audit:  a.audit,
		Gates:  gates,
		Steps:  steps,
		Logger: logger,
	}
	if host != nil {
		deps.GitHub = host.Host
	}
	if sn := cfg.Integrations.Sentry; sn.Enabled && !opts.dryRun {
		sc, err := sentry.NewClient(ctx, sn.Token.Value(), sn.Org, sn.Project,
			sentry.WithBaseURL(sn.BaseURL),
			sentry.WithLogger(logger),
		)
		if err != nil {
			return nil, err
		}
		deps.Alerts = sc
	}
	a.orch = orchestrator.New(deps)
	ok = true
	return a, nil
}

// githubHost pairs a Host with the comment capability the notifier needs.
type githubHost struct {
	github.Host
	commenter notify.IssueCommenter
}

// newGitHubHost prefers the REST API when a token is configured and falls
// back to the gh CLI.
func newGitHubHost(ctx context.Context, cfg *config.Config, logger *logging.Logger) (*githubHost, error) {
	if tok := cfg.Integrations.GitHub.Token; tok.IsSet() {
		c, err := github.NewAPIClient(ctx, tok.Value(), cfg.Project.Repo, github.WithAPILogger(logger))
		if err != nil {
			return nil, err
		}
		return &githubHost{Host: c, commenter: c}, nil
	}
	c := github.NewClient(&github.ExecRunner{}, cfg.Project.Repo)
	return &githubHost{Host: c, commenter: c}, nil
}

func buildSteps(cfg *config.Config, rec *audit.Log, host *githubHost, logger *logging.Logger, stateDir string, dryRun bool) ([]step.Step, error) {
	if dryRun || cfg.LLM.Provider == "stub" {
		return agents.Stubs(rec), nil
	}
	if !cfg.LLM.APIKey.IsSet() {
		return nil, fmt.Errorf("llm.api_key is not set (or export ANTHROPIC_API_KEY); use --dry-run to run offline")
	}
	model, err := llm.NewAnthropic(llm.AnthropicConfig{
		APIKey:      cfg.LLM.APIKey.Value(),
		BaseURL:     cfg.LLM.BaseURL,
		Model:       cfg.LLM.Model,
		MaxTokens:   cfg.LLM.MaxTokens,
		Temperature: cfg.LLM.Temperature,
		Timeout:     time.Duration(cfg.LLM.TimeoutSeconds) * time.Second,
		RateLimit:   cfg.LLM.RateLimit,
	}, logger)
	if err != nil {
		return nil, err
	}
	client := llm.NewAudited(model, rec)
	gitExec := &github.ExecRunner{}
	deps := agents.Deps{
		LLM:       client,
		Scorer:    confidence.NewScorer(client, rec, cfg.LLM.FallbackModel, logger),
		Recorder:  rec,
		Prompts:   prompt.NewLibrary(under(cfg.Project.Root, prompt.DefaultOverrideDir)),
		Config:    cfg,
		Checks:    checks.NewRunner(&checks.ExecRunner{}),
		Workspace: worktree.NewManager(&worktree.ExecGit{}, cfg.Project.Root, filepath.Join(stateDir, "worktrees"), cfg.Project.MainBranch),
		Git:       gitExec,
		Logger:    logger,
	}
	if host != nil {
		deps.GitHub = host.Host
	}
	logger.Debug(context.Background(), "agents configured",
		zap.String("model", cfg.LLM.Model),
		zap.Bool("github", host != nil))
	return agents.Steps(deps), nil
}
