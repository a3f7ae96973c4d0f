package agents

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/Thinkelution/devlution/internal/confidence"
	"github.com/Thinkelution/devlution/internal/extract"
	"github.com/Thinkelution/devlution/internal/pipeline"
	"github.com/Thinkelution/devlution/internal/prompt"
	"github.com/Thinkelution/devlution/internal/step"
)

const (
	coderRescoreBelow  = 0.5
	coderFallbackConf  = 0.3
	coderEscalateBelow = 0.75
	newFileMarker      = "(new file, does not exist yet)"
)

type codeReply struct {
	Patch         string   `json:"patch"`
	FilesModified []string `json:"files_modified"`
	Summary       string   `json:"summary"`
}

// Coder turns one task into a unified diff.
type Coder struct{ base }

func NewCoder(d Deps) *Coder { return &Coder{newBase(pipeline.NodeCoder, d)} }

func (c *Coder) Node() pipeline.Node { return pipeline.NodeCoder }

func (c *Coder) Execute(ctx context.Context, in step.Input, view pipeline.View) step.Output {
	req, ok := in.(step.CodeChangeRequest)
	if !ok {
		return wrongInput(c.Node(), in)
	}
	start := time.Now()
	maxIter := c.Config.Agents.Coder.MaxIterations

	contents := make(map[string]string, len(req.Task.FilesLikelyAffected))
	for _, f := range req.Task.FilesLikelyAffected {
		body, err := c.readFile(f)
		if err != nil {
			body = newFileMarker
		}
		contents[f] = body
	}

	text, err := c.complete(ctx, view.RunID, prompt.Vars{
		"title":           req.Task.Title,
		"criteria":        bullets(req.Task.AcceptanceCriteria),
		"files":           joinOr(req.Task.FilesLikelyAffected, "(none listed)"),
		"iteration":       strconv.Itoa(req.Iteration),
		"max_iterations":  strconv.Itoa(maxIter),
		"style_guide":     c.styleGuide(),
		"file_sections":   fileSections("Current", req.Task.FilesLikelyAffected, contents),
		"review_comments": formatComments(req.ReviewComments),
		"failure_log":     truncate(req.FailureLog, maxFailureLog),
	})
	if err != nil {
		out := step.Failed("coder: %v", err)
		out.Escalate = true
		return out
	}

	data, ok := extract.Object(text)
	var reply codeReply
	if !ok || extract.Into(text, &reply) != nil {
		data = map[string]any{"patch": "", "files_modified": []any{}, "confidence": coderFallbackConf}
		reply = codeReply{}
	}

	conf := c.resolve(ctx, view.RunID, data, text, confidence.Coding, floatp(coderRescoreBelow))
	escalate := maxIter > 0 && req.Iteration >= maxIter && conf < coderEscalateBelow

	files := nonNil(reply.FilesModified)
	if len(files) == 0 {
		files = patchFiles(reply.Patch)
	}

	c.record(ctx, view.RunID, "code_complete", map[string]any{
		"task_id":        req.Task.ID,
		"iteration":      req.Iteration,
		"files_modified": files,
		"patch_bytes":    len(reply.Patch),
	}, conf, start)

	out := step.Output{
		Success: strings.TrimSpace(reply.Patch) != "",
		Update: pipeline.Update{
			FilesModified: &files,
		},
		Data: map[string]any{
			"patch":          reply.Patch,
			"files_modified": files,
			"summary":        reply.Summary,
		},
		Confidence: conf,
		Escalate:   escalate,
	}
	if out.Success {
		out.Update.Patch = &reply.Patch
	} else {
		out.Error = "coder produced no patch"
	}
	return out
}

// styleGuide returns the configured style guide, falling back to the usual
// agent instruction files in the project root.
func (c *Coder) styleGuide() string {
	candidates := []string{c.Config.Agents.Coder.StyleGuide, "CLAUDE.md", ".cursorrules"}
	for _, rel := range candidates {
		if rel == "" {
			continue
		}
		if s := c.readGuide(rel); strings.TrimSpace(s) != "" {
			return truncate(s, maxStyleGuide)
		}
	}
	return ""
}

// readGuide reads a guide file, or every file in a guide directory in name
// order.
func (c *Coder) readGuide(rel string) string {
	path := filepath.Join(c.root(), filepath.Clean("/"+rel))
	info, err := os.Stat(path)
	if err != nil {
		return ""
	}
	if !info.IsDir() {
		data, err := os.ReadFile(path)
		if err != nil {
			return ""
		}
		return string(data)
	}
	entries, err := os.ReadDir(path)
	if err != nil {
		return ""
	}
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		if !e.IsDir() {
			names = append(names, e.Name())
		}
	}
	sort.Strings(names)
	var b strings.Builder
	for _, n := range names {
		data, err := os.ReadFile(filepath.Join(path, n))
		if err != nil {
			continue
		}
		b.Write(data)
		b.WriteByte('\n')
	}
	return b.String()
}

func formatComments(comments []pipeline.ReviewComment) string {
	lines := make([]string, 0, len(comments))
	for _, cm := range comments {
		loc := cm.File
		if cm.Line > 0 {
			loc = fmt.Sprintf("%s:%d", cm.File, cm.Line)
		}
		lines = append(lines, fmt.Sprintf("[%s] %s: %s", cm.Severity, loc, cm.Body))
	}
	return bullets(lines)
}

// patchFiles lists the files a unified diff touches.
func patchFiles(patch string) []string {
	seen := map[string]bool{}
	files := []string{}
	for _, line := range strings.Split(patch, "\n") {
		if !strings.HasPrefix(line, "+++ ") {
			continue
		}
		f := strings.TrimSpace(strings.TrimPrefix(line, "+++ "))
		f = strings.TrimPrefix(f, "b/")
		if f == "/dev/null" || f == "" || seen[f] {
			continue
		}
		seen[f] = true
		files = append(files, f)
	}
	return files
}
