package agents

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/Thinkelution/devlution/internal/github"
	"github.com/Thinkelution/devlution/internal/pipeline"
	"github.com/Thinkelution/devlution/internal/step"
)

// Publisher pushes the run's patch to a branch and opens a pull request.
// A failure here fails the run.
type Publisher struct{ base }

func NewPublisher(d Deps) *Publisher { return &Publisher{newBase(pipeline.NodePublish, d)} }

func (p *Publisher) Node() pipeline.Node { return pipeline.NodePublish }

func (p *Publisher) Execute(ctx context.Context, in step.Input, view pipeline.View) step.Output {
	req, ok := in.(step.PublishRequest)
	if !ok {
		return wrongInput(p.Node(), in)
	}
	start := time.Now()
	if p.GitHub == nil {
		return p.fail("publish: no GitHub client configured")
	}

	existing, err := p.GitHub.FindPRByBranch(ctx, req.Branch)
	if err != nil {
		p.Logger.Warn(ctx, "pull request lookup failed", zap.String("branch", req.Branch), zap.Error(err))
	}

	pr := existing
	if pr == nil {
		if err := p.pushBranch(ctx, view.RunID, req); err != nil {
			return p.fail("publish: %v", err)
		}
		pr, err = p.GitHub.CreatePR(ctx, github.PRCreateOpts{
			Title:  req.Title,
			Body:   req.Body,
			Branch: req.Branch,
			Base:   p.Config.Project.MainBranch,
			Labels: p.labels(),
		})
		if err != nil {
			return p.fail("publish: %v", err)
		}
	}

	p.record(ctx, view.RunID, "pr_created", map[string]any{
		"url":      pr.URL,
		"number":   pr.Number,
		"branch":   req.Branch,
		"existing": existing != nil,
	}, 1, start)

	return step.Output{
		Success: true,
		Update: pipeline.Update{
			PublishedReference: pipeline.Ptr(pr.URL),
		},
		Data:       map[string]any{"url": pr.URL, "number": pr.Number, "branch": req.Branch},
		Confidence: 1,
	}
}

// pushBranch commits the patch onto the branch in a scratch worktree, or in
// the project root when no workspace is configured, and pushes it.
func (p *Publisher) pushBranch(ctx context.Context, runID string, req step.PublishRequest) error {
	dir := p.root()
	if p.Workspace != nil {
		wd, cleanup, err := p.Workspace.Prepare(ctx, runID+"-publish", "")
		if err != nil {
			return fmt.Errorf("prepare workspace: %w", err)
		}
		defer cleanup()
		dir = wd
	}
	git := github.NewGit(p.Git, dir)
	if err := git.CommitPatch(ctx, req.Branch, req.Patch, req.Title); err != nil {
		return err
	}
	return git.PushBranch(ctx, req.Branch)
}

func (p *Publisher) labels() []string {
	gh := p.Config.Integrations.GitHub
	if !gh.AutoLabelPRs {
		return nil
	}
	var out []string
	for _, l := range []string{gh.Labels.AIGenerated, gh.Labels.NeedsReview} {
		if l != "" {
			out = append(out, l)
		}
	}
	return out
}

func (p *Publisher) fail(format string, args ...any) step.Output {
	out := step.Failed(format, args...)
	out.Update = pipeline.Update{
		Status: pipeline.Ptr(pipeline.StatusFailed),
		Error:  pipeline.Ptr(out.Error),
	}
	return out
}
