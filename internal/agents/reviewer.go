package agents

import (
	"context"
	"fmt"
	"slices"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/Thinkelution/devlution/internal/checks"
	"github.com/Thinkelution/devlution/internal/confidence"
	"github.com/Thinkelution/devlution/internal/extract"
	"github.com/Thinkelution/devlution/internal/pipeline"
	"github.com/Thinkelution/devlution/internal/prompt"
	"github.com/Thinkelution/devlution/internal/step"
)

const reviewerFallbackConf = 0.3

type reviewReply struct {
	Decision string `json:"decision"`
	Comments []struct {
		File     string `json:"file"`
		Line     int    `json:"line"`
		Severity string `json:"severity"`
		Category string `json:"category"`
		Body     string `json:"body"`
	} `json:"comments"`
	Scores  map[string]float64 `json:"scores"`
	Summary string             `json:"summary"`
}

// Reviewer judges a patch and decides whether it can proceed.
type Reviewer struct{ base }

func NewReviewer(d Deps) *Reviewer { return &Reviewer{newBase(pipeline.NodeReviewer, d)} }

func (r *Reviewer) Node() pipeline.Node { return pipeline.NodeReviewer }

func (r *Reviewer) Execute(ctx context.Context, in step.Input, view pipeline.View) step.Output {
	req, ok := in.(step.ReviewRequest)
	if !ok {
		return wrongInput(r.Node(), in)
	}
	start := time.Now()
	cfg := r.Config.Agents.Reviewer

	findings := r.lint(ctx, view.RunID, req.Diff)

	text, err := r.complete(ctx, view.RunID, prompt.Vars{
		"task_title":    req.TaskTitle,
		"diff":          truncate(req.Diff, maxDiff),
		"threshold":     fmt.Sprintf("%.2f", cfg.AutoApproveThreshold),
		"block_on":      joinOr(cfg.BlockOn, "nothing"),
		"lint_findings": formatFindings(findings),
	})
	if err != nil {
		out := step.Failed("reviewer: %v", err)
		out.Escalate = true
		return out
	}

	data, ok := extract.Object(text)
	var reply reviewReply
	if !ok || extract.Into(text, &reply) != nil {
		data = map[string]any{"decision": string(pipeline.ReviewEscalateToHuman), "comments": []any{}, "confidence": reviewerFallbackConf}
		reply = reviewReply{Decision: string(pipeline.ReviewEscalateToHuman)}
	}

	conf := r.resolve(ctx, view.RunID, data, text, confidence.Review, nil)

	comments := make([]pipeline.ReviewComment, 0, len(reply.Comments)+len(findings))
	var blockedBy []string
	for _, c := range reply.Comments {
		sev := pipeline.SeverityWarning
		if pipeline.Severity(c.Severity) == pipeline.SeverityBlocking {
			sev = pipeline.SeverityBlocking
		}
		body := c.Body
		if c.Category != "" {
			body = fmt.Sprintf("[%s] %s", c.Category, c.Body)
			if slices.Contains(cfg.BlockOn, c.Category) && !slices.Contains(blockedBy, c.Category) {
				blockedBy = append(blockedBy, c.Category)
			}
		}
		line := c.Line
		if line < 0 {
			line = 0
		}
		comments = append(comments, pipeline.ReviewComment{File: c.File, Line: line, Severity: sev, Body: body})
	}
	for _, f := range findings {
		body := "[lint] " + f.Message
		if f.Rule != "" {
			body = fmt.Sprintf("[lint] %s (%s)", f.Message, f.Rule)
		}
		line := f.Line
		if line < 0 {
			line = 0
		}
		comments = append(comments, pipeline.ReviewComment{File: f.File, Line: line, Severity: pipeline.SeverityBlocking, Body: body})
	}

	decision := pipeline.ParseReviewDecision(reply.Decision)
	if decision == pipeline.ReviewNone {
		decision = pipeline.ReviewEscalateToHuman
	}
	if decision == pipeline.ReviewApprove && (len(blockedBy) > 0 || len(findings) > 0) {
		decision = pipeline.ReviewRequestChanges
	}
	if decision == pipeline.ReviewApprove && conf < cfg.AutoApproveThreshold {
		decision = pipeline.ReviewEscalateToHuman
	}

	r.record(ctx, view.RunID, "review_complete", map[string]any{
		"decision":       string(decision),
		"comment_count":  len(comments),
		"lint_blocking":  len(findings),
		"blocked_by":     nonNil(blockedBy),
		"model_decision": reply.Decision,
	}, conf, start)

	return step.Output{
		Success: true,
		Update: pipeline.Update{
			ReviewDecision: &decision,
			ReviewComments: &comments,
		},
		Data: map[string]any{
			"decision": string(decision),
			"comments": comments,
			"scores":   reply.Scores,
			"summary":  reply.Summary,
		},
		Confidence: conf,
		Escalate:   decision == pipeline.ReviewEscalateToHuman,
	}
}

// lint runs the project's lint command against the patched tree and returns
// the blocking findings. Lint problems never fail the review.
func (r *Reviewer) lint(ctx context.Context, runID, patch string) []checks.Finding {
	command := r.Config.Project.LintCommand
	if strings.TrimSpace(command) == "" {
		return nil
	}
	dir := r.root()
	if r.Workspace != nil {
		wd, cleanup, err := r.Workspace.Prepare(ctx, runID+"-reviewer", patch)
		if err != nil {
			r.Logger.Warn(ctx, "lint workspace unavailable", zap.Error(err))
			return nil
		}
		defer cleanup()
		dir = wd
	}
	res, err := r.Checks.RunLint(ctx, dir, command)
	if err != nil {
		r.Logger.Warn(ctx, "lint failed to run", zap.String("command", command), zap.Error(err))
		return nil
	}
	return res.BlockingFindings()
}

func formatFindings(findings []checks.Finding) string {
	lines := make([]string, 0, len(findings))
	for _, f := range findings {
		lines = append(lines, fmt.Sprintf("%s:%d %s %s", f.File, f.Line, f.Rule, f.Message))
	}
	return bullets(lines)
}
