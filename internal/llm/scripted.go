package llm

import (
	"context"
	"fmt"
	"sync"
)

// Reply is one canned answer from a Scripted client.
type Reply struct {
	Text string
	Err  error
}

// Scripted is a deterministic Client for tests and dry runs. Replies are
// queued per actor; an actor without a queue falls back to the shared queue,
// and an exhausted queue repeats Default.
type Scripted struct {
	mu       sync.Mutex
	byActor  map[string][]Reply
	shared   []Reply
	Default  Reply
	Requests []Request
}

// NewScripted returns a client answering with replies in order.
func NewScripted(replies ...Reply) *Scripted {
	return &Scripted{byActor: make(map[string][]Reply), shared: replies}
}

// For queues replies for a specific actor.
func (s *Scripted) For(actor string, replies ...Reply) *Scripted {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.byActor[actor] = append(s.byActor[actor], replies...)
	return s
}

// Complete implements Client.
func (s *Scripted) Complete(ctx context.Context, req Request) (*Response, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Requests = append(s.Requests, req)

	var r Reply
	switch q := s.byActor[req.Actor]; {
	case len(q) > 0:
		r, s.byActor[req.Actor] = q[0], q[1:]
	case len(s.shared) > 0:
		r, s.shared = s.shared[0], s.shared[1:]
	case s.Default != (Reply{}):
		r = s.Default
	default:
		return nil, fmt.Errorf("scripted client: no reply queued for actor %q", req.Actor)
	}
	if r.Err != nil {
		return nil, r.Err
	}
	return &Response{
		Text:         r.Text,
		Model:        req.Model,
		InputTokens:  len(req.System)/4 + 1,
		OutputTokens: len(r.Text)/4 + 1,
		Attempts:     1,
	}, nil
}

// Calls returns how many requests were made by actor.
func (s *Scripted) Calls(actor string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, r := range s.Requests {
		if r.Actor == actor {
			n++
		}
	}
	return n
}
