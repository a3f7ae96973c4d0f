package pipeline

import (
	"errors"
	"fmt"
)

// Status is the lifecycle status of a run.
type Status string

const (
	StatusPending         Status = "pending"
	StatusRunning         Status = "running"
	StatusWaitingForHuman Status = "waiting_for_human"
	StatusCompleted       Status = "completed"
	StatusFailed          Status = "failed"
	StatusAborted         Status = "aborted"
)

// ErrInvalidTransition is returned when a status change is not on an allowed edge.
var ErrInvalidTransition = errors.New("invalid status transition")

// A failed run may be continued (retry or a debugger routing onward), so
// failed -> running is allowed. completed and aborted are final.
var statusTransitions = map[Status]map[Status]bool{
	StatusPending: {
		StatusRunning: true,
		StatusFailed:  true,
		StatusAborted: true,
	},
	StatusRunning: {
		StatusWaitingForHuman: true,
		StatusCompleted:       true,
		StatusFailed:          true,
		StatusAborted:         true,
	},
	StatusWaitingForHuman: {
		StatusRunning: true,
		StatusFailed:  true,
		StatusAborted: true,
	},
	StatusFailed: {
		StatusRunning: true,
		StatusAborted: true,
	},
	StatusCompleted: {},
	StatusAborted:   {},
}

// Valid reports whether s is a known status.
func (s Status) Valid() bool {
	_, ok := statusTransitions[s]
	return ok
}

// IsFinal reports whether no further transition can leave s.
func (s Status) IsFinal() bool {
	return s == StatusCompleted || s == StatusAborted
}

// Terminal reports whether a run with status s positioned at node will not
// move again. A failed run that already reached done has nothing to resume.
func (s Status) Terminal(node Node) bool {
	return s.IsFinal() || (s == StatusFailed && node == NodeDone)
}

// CanTransition reports whether from -> to is allowed. Staying in place is always allowed.
func CanTransition(from, to Status) bool {
	if from == to {
		return from.Valid()
	}
	next, ok := statusTransitions[from]
	if !ok {
		return false
	}
	return next[to]
}

func checkTransition(from, to Status) error {
	if !CanTransition(from, to) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, from, to)
	}
	return nil
}
