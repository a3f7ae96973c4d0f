package agents

import (
	"context"
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

const debuggerFallbackConf = 0.2

type debugReply struct {
	ErrorType  string   `json:"error_type"`
	RootCause  string   `json:"root_cause"`
	Hypotheses []string `json:"hypotheses"`
	FixPatch   string   `json:"fix_patch"`
	Verified   bool     `json:"verified"`
	Unfixable  bool     `json:"unfixable"`
}

// Debugger diagnoses a test failure and proposes a fix.
type Debugger struct{ base }

func NewDebugger(d Deps) *Debugger { return &Debugger{newBase(pipeline.NodeDebugger, d)} }

func (d *Debugger) Node() pipeline.Node { return pipeline.NodeDebugger }

func (d *Debugger) Execute(ctx context.Context, in step.Input, view pipeline.View) step.Output {
	req, ok := in.(step.DiagnosisRequest)
	if !ok {
		return wrongInput(d.Node(), in)
	}
	start := time.Now()
	maxAttempts := d.Config.Agents.Debugger.MaxFixAttempts

	sources := req.SourceFiles
	if len(sources) == 0 {
		sources = make(map[string]string, len(view.FilesModified))
		for _, f := range view.FilesModified {
			if body, err := d.readFile(f); err == nil {
				sources[f] = body
			}
		}
	}
	paths := make([]string, 0, len(sources))
	for p := range sources {
		paths = append(paths, p)
	}
	sort.Strings(paths)

	text, err := d.complete(ctx, view.RunID, prompt.Vars{
		"failure_log":     tailString(req.FailureLog, maxFailureLog),
		"attempt":         strconv.Itoa(req.Attempt),
		"max_attempts":    strconv.Itoa(maxAttempts),
		"source_sections": fileSections("Source", paths, sources),
	})
	if err != nil {
		out := step.Failed("debugger: %v", err)
		out.Escalate = true
		return out
	}

	data, ok := extract.Object(text)
	var reply debugReply
	if !ok || extract.Into(text, &reply) != nil {
		data = map[string]any{"verified": false, "confidence": debuggerFallbackConf}
		reply = debugReply{}
	}

	conf := d.resolve(ctx, view.RunID, data, text, confidence.Debugging, nil)

	var update pipeline.Update
	if strings.TrimSpace(reply.FixPatch) != "" {
		update.Patch = pipeline.Ptr(joinPatches(view.Patch, reply.FixPatch))
	}
	if reply.Unfixable {
		cause := reply.RootCause
		if cause == "" {
			cause = "failure cannot be fixed by a code change"
		}
		update.Status = pipeline.Ptr(pipeline.StatusFailed)
		update.Error = pipeline.Ptr("debugger: " + cause)
	}

	d.record(ctx, view.RunID, "debug_complete", map[string]any{
		"attempt":    req.Attempt,
		"error_type": reply.ErrorType,
		"root_cause": reply.RootCause,
		"verified":   reply.Verified,
		"unfixable":  reply.Unfixable,
		"has_fix":    update.Patch != nil,
	}, conf, start)

	out := step.Output{
		Success: reply.Verified,
		Update:  update,
		Data: map[string]any{
			"error_type": reply.ErrorType,
			"root_cause": reply.RootCause,
			"hypotheses": nonNil(reply.Hypotheses),
			"fix_patch":  reply.FixPatch,
			"verified":   reply.Verified,
			"unfixable":  reply.Unfixable,
		},
		Confidence: conf,
		Escalate:   maxAttempts > 0 && req.Attempt >= maxAttempts && !reply.Verified,
	}
	if !reply.Verified {
		out.Error = "fix not verified"
		if reply.RootCause != "" {
			out.Error += ": " + reply.RootCause
		}
	}
	return out
}
