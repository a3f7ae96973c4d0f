package agents

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/Thinkelution/devlution/internal/confidence"
	"github.com/Thinkelution/devlution/internal/extract"
	"github.com/Thinkelution/devlution/internal/pipeline"
	"github.com/Thinkelution/devlution/internal/prompt"
	"github.com/Thinkelution/devlution/internal/step"
)

const plannerMinConfidence = 0.5

type planReply struct {
	Tasks []struct {
		ID                  string   `json:"id"`
		Title               string   `json:"title"`
		FilesLikelyAffected []string `json:"files_likely_affected"`
		AcceptanceCriteria  []string `json:"acceptance_criteria"`
		EstimatedComplexity string   `json:"estimated_complexity"`
		Dependencies        []string `json:"dependencies"`
	} `json:"tasks"`
	Blockers []string `json:"blockers"`
}

// Planner decomposes a trigger into ordered tasks.
type Planner struct{ base }

func NewPlanner(d Deps) *Planner { return &Planner{newBase(pipeline.NodePlanner, d)} }

func (p *Planner) Node() pipeline.Node { return pipeline.NodePlanner }

func (p *Planner) Execute(ctx context.Context, in step.Input, view pipeline.View) step.Output {
	req, ok := in.(step.PlanRequest)
	if !ok {
		return wrongInput(p.Node(), in)
	}
	start := time.Now()

	maxSubtasks := req.MaxSubtasks
	if maxSubtasks == 0 {
		maxSubtasks = p.Config.Agents.Planner.MaxSubtasks
	}

	text, err := p.complete(ctx, view.RunID, prompt.Vars{
		"title":        req.Title,
		"body":         req.Body,
		"labels":       joinOr(req.Labels, "none"),
		"max_subtasks": strconv.Itoa(maxSubtasks),
	})
	if err != nil {
		out := step.Failed("planner: %v", err)
		out.Escalate = true
		return out
	}

	data, ok := extract.Object(text)
	var reply planReply
	if !ok || extract.Into(text, &reply) != nil {
		data = map[string]any{"tasks": []any{}, "confidence": 0.0, "blockers": []any{"Failed to parse LLM output"}}
		reply = planReply{Blockers: []string{"Failed to parse LLM output"}}
	}

	declared := make(map[string]bool, len(reply.Tasks))
	for _, t := range reply.Tasks {
		declared[t.ID] = true
	}
	used := make(map[string]bool, len(reply.Tasks))
	tasks := make([]pipeline.Task, 0, len(reply.Tasks))
	for i, t := range reply.Tasks {
		if maxSubtasks > 0 && i >= maxSubtasks {
			break
		}
		id := t.ID
		if id == "" || used[id] {
			id = freshTaskID(i+1, declared, used)
		}
		used[id] = true
		cx := pipeline.Complexity(t.EstimatedComplexity)
		switch cx {
		case pipeline.ComplexityLow, pipeline.ComplexityMedium, pipeline.ComplexityHigh:
		default:
			cx = pipeline.ComplexityMedium
		}
		tasks = append(tasks, pipeline.Task{
			ID:                  id,
			Title:               t.Title,
			FilesLikelyAffected: nonNil(t.FilesLikelyAffected),
			AcceptanceCriteria:  nonNil(t.AcceptanceCriteria),
			EstimatedComplexity: cx,
			Dependencies:        nonNil(t.Dependencies),
		})
	}
	tasks, problems := pipeline.ValidateDependencies(tasks)
	blockers := append(nonNil(reply.Blockers), problems...)

	conf := p.resolve(ctx, view.RunID, data, text, confidence.Planning, floatp(plannerMinConfidence))

	p.record(ctx, view.RunID, "plan_complete", map[string]any{
		"task_count": len(tasks),
		"blockers":   blockers,
	}, conf, start)

	return step.Output{
		Success: true,
		Update: pipeline.Update{
			Tasks:    &tasks,
			Blockers: &blockers,
		},
		Data:       map[string]any{"tasks": tasks, "blockers": blockers},
		Confidence: conf,
		Escalate:   conf < plannerMinConfidence,
	}
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}

// freshTaskID numbers a task whose id is blank or already taken, skipping
// ids the model declared for other tasks.
func freshTaskID(n int, declared, used map[string]bool) string {
	for ; ; n++ {
		id := fmt.Sprintf("T%d", n)
		if !declared[id] && !used[id] {
			return id
		}
	}
}
