// Package step defines the contract every pipeline node implementation meets.
package step

import (
	"context"
	"fmt"
	"math"

	"github.com/Thinkelution/devlution/internal/pipeline"
)

// Output is what a step hands back to the engine.
type Output struct {
	Success    bool
	Update     pipeline.Update
	Data       map[string]any
	Confidence float64
	Escalate   bool
	Error      string
}

// Failed builds the normalized failure output.
func Failed(format string, args ...any) Output {
	return Output{Success: false, Confidence: 0, Error: fmt.Sprintf(format, args...)}
}

// Step executes one node of the pipeline. Implementations must not mutate
// the view; they return an Update instead.
type Step interface {
	Node() pipeline.Node
	Execute(ctx context.Context, in Input, view pipeline.View) Output
}

// Func adapts a function to Step.
type Func struct {
	N  pipeline.Node
	Fn func(ctx context.Context, in Input, view pipeline.View) Output
}

func (f Func) Node() pipeline.Node { return f.N }

func (f Func) Execute(ctx context.Context, in Input, view pipeline.View) Output {
	return f.Fn(ctx, in, view)
}

type guarded struct {
	inner Step
}

// Guard wraps s so that it never panics past the boundary, rejects invalid
// inputs and always reports a confidence in [0,1].
func Guard(s Step) Step {
	if g, ok := s.(guarded); ok {
		return g
	}
	return guarded{inner: s}
}

func (g guarded) Node() pipeline.Node { return g.inner.Node() }

func (g guarded) Execute(ctx context.Context, in Input, view pipeline.View) (out Output) {
	defer func() {
		if r := recover(); r != nil {
			out = Failed("%s panicked: %v", g.inner.Node(), r)
		}
	}()

	if in == nil {
		return Failed("%s: no input", g.inner.Node())
	}
	if in.Node() != g.inner.Node() {
		return Failed("%s: got %s input", g.inner.Node(), in.Node())
	}
	if err := in.Validate(); err != nil {
		return Failed("%s: invalid input: %v", g.inner.Node(), err)
	}

	out = g.inner.Execute(ctx, in, view)
	out.Confidence = clamp(out.Confidence)
	if !out.Success && out.Error == "" {
		out.Error = fmt.Sprintf("%s reported failure", g.inner.Node())
	}
	return out
}

func clamp(v float64) float64 {
	switch {
	case math.IsNaN(v), v < 0:
		return 0
	case v > 1:
		return 1
	}
	return v
}
