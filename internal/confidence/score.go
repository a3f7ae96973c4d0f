package confidence

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/Thinkelution/devlution/internal/audit"
	"github.com/Thinkelution/devlution/internal/extract"
	"github.com/Thinkelution/devlution/internal/llm"
	"github.com/Thinkelution/devlution/internal/logging"
)

// Neutral is returned whenever no score can be determined.
const Neutral = 0.5

const scoreMaxTokens = 512

const rubricSystemPrompt = `You are evaluating the quality of an AI agent's output.

Score the output on a scale from 0.0 to 1.0 against each criterion in the rubric.
Return ONLY a JSON object with this exact schema:
{
  "scores": {"<criterion>": <float 0.0-1.0>, ...},
  "overall": <float 0.0-1.0>,
  "reasoning": "<one sentence>"
}`

// Clamp bounds v to [0,1].
func Clamp(v float64) float64 {
	switch {
	case v < 0:
		return 0
	case v > 1:
		return 1
	}
	return v
}

// ParseScore reads "overall" from an evaluator response. Anything
// unparsable yields Neutral.
func ParseScore(text string) float64 {
	m, ok := extract.Object(text)
	if !ok {
		return Neutral
	}
	v, ok := extract.Float(m, "overall")
	if !ok {
		return Neutral
	}
	return Clamp(v)
}

// Prompt builds the evaluator's user message for output against rubric.
func Prompt(output string, rubric Rubric) string {
	return fmt.Sprintf("## Rubric\n%s\n\n## Agent Output\n```\n%s\n```\n\nScore this output. Return JSON only.", rubric, output)
}

// Scorer asks an evaluator model to grade output against a rubric.
type Scorer struct {
	evaluator llm.Client
	recorder  audit.Recorder
	model     string
	logger    *logging.Logger
}

// NewScorer builds a scorer. model is the evaluator model, usually the
// configured fallback model.
func NewScorer(evaluator llm.Client, recorder audit.Recorder, model string, logger *logging.Logger) *Scorer {
	if logger == nil {
		logger = logging.Nop()
	}
	return &Scorer{evaluator: evaluator, recorder: recorder, model: model, logger: logger.Named("confidence")}
}

// Score grades output and records a confidence_score audit entry. It never
// fails: an evaluator error degrades to Neutral, and an audit error is
// logged without discarding the score.
func (s *Scorer) Score(ctx context.Context, runID, actor, output string, rubric Rubric) float64 {
	if s == nil || s.evaluator == nil {
		return Neutral
	}
	start := time.Now()
	resp, err := s.evaluator.Complete(ctx, llm.Request{
		System:    rubricSystemPrompt,
		Messages:  []llm.Message{{Role: "user", Content: Prompt(output, rubric)}},
		Model:     s.model,
		MaxTokens: scoreMaxTokens,
		RunID:     runID,
		Actor:     actor,
	})
	if err != nil {
		s.logger.Warn(ctx, "confidence scoring failed", zap.String("actor", actor), zap.Error(err))
		return Neutral
	}
	score := ParseScore(resp.Text)

	if s.recorder != nil {
		if _, err := s.recorder.Record(ctx, audit.Entry{
			RunID:      runID,
			Actor:      actor,
			Action:     "confidence_score",
			Details:    map[string]any{"rubric_keys": rubric.Names()},
			Confidence: audit.Float(score),
			DurationMs: audit.Millis(time.Since(start)),
		}); err != nil {
			s.logger.Warn(ctx, "confidence audit failed", zap.Error(err))
		}
	}
	return score
}

// ResolveOpts describes one step output whose confidence needs settling.
type ResolveOpts struct {
	RunID  string
	Actor  string
	Data   map[string]any // parsed step data; "confidence" is the self-report
	Output string         // text re-submitted to the evaluator on fallback
	Rubric Rubric
	// RescoreBelow, when set, triggers a rubric evaluation for self-reported
	// scores under it.
	RescoreBelow *float64
}

// Resolve returns the step's self-reported confidence when present and
// acceptable, otherwise the rubric evaluation. The result is always in [0,1].
func (s *Scorer) Resolve(ctx context.Context, opts ResolveOpts) float64 {
	if v, ok := extract.Float(opts.Data, "confidence"); ok {
		v = Clamp(v)
		if opts.RescoreBelow == nil || v >= *opts.RescoreBelow {
			return v
		}
	}
	return Clamp(s.Score(ctx, opts.RunID, opts.Actor, opts.Output, opts.Rubric))
}
