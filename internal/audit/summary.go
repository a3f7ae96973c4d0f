package audit

import (
	"sort"
	"time"
)

// RunSummary aggregates the audit entries of a single run.
type RunSummary struct {
	RunID      string   `json:"run_id" yaml:"run_id"`
	FirstSeen  string   `json:"first_seen" yaml:"first_seen"`
	LastSeen   string   `json:"last_seen" yaml:"last_seen"`
	Entries    int      `json:"entries" yaml:"entries"`
	Actors     []string `json:"actors" yaml:"actors"`
	LastActor  string   `json:"last_actor" yaml:"last_actor"`
	LastAction string   `json:"last_action" yaml:"last_action"`
	TokensUsed int      `json:"tokens_used" yaml:"tokens_used"`
}

// Summarize groups entries by run id, ordered by most recent activity first.
func Summarize(entries []Entry) []RunSummary {
	byRun := make(map[string]*RunSummary)
	actorSeen := make(map[string]map[string]bool)
	lastAt := make(map[string]time.Time)
	var order []string

	for _, e := range entries {
		s, ok := byRun[e.RunID]
		if !ok {
			s = &RunSummary{RunID: e.RunID, FirstSeen: e.Timestamp}
			byRun[e.RunID] = s
			actorSeen[e.RunID] = make(map[string]bool)
			order = append(order, e.RunID)
		}
		s.Entries++
		if at := e.Time(); !at.Before(lastAt[e.RunID]) {
			lastAt[e.RunID] = at
			s.LastSeen = e.Timestamp
			s.LastActor = e.Actor
			s.LastAction = e.Action
		}
		if e.TokensUsed != nil {
			s.TokensUsed += *e.TokensUsed
		}
		if !actorSeen[e.RunID][e.Actor] {
			actorSeen[e.RunID][e.Actor] = true
			s.Actors = append(s.Actors, e.Actor)
		}
	}

	out := make([]RunSummary, 0, len(order))
	for _, id := range order {
		out = append(out, *byRun[id])
	}
	sort.SliceStable(out, func(i, j int) bool {
		return lastAt[out[i].RunID].After(lastAt[out[j].RunID])
	})
	return out
}
