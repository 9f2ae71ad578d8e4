package workflow

import (
	"errors"
	"fmt"
)

var (
	ErrInvalidStatus     = errors.New("invalid status")
	ErrInvalidTransition = errors.New("invalid status transition")
)

// Status is the lifecycle state of a workflow.
// Storage backends persist these string values.
type Status string

const (
	StatusPendingApproval Status = "PENDING_APPROVAL"
	StatusRunning         Status = "RUNNING"
	StatusCompleted       Status = "COMPLETED"
	StatusFailed          Status = "FAILED"
	StatusRejected        Status = "REJECTED"
)

// transitions lists the allowed next states for each state.
var transitions = map[Status][]Status{
	StatusPendingApproval: {StatusRunning, StatusRejected},
	StatusRunning:         {StatusCompleted, StatusFailed},
}

func (s Status) Valid() bool {
	switch s {
	case StatusPendingApproval, StatusRunning, StatusCompleted, StatusFailed, StatusRejected:
		return true
	}
	return false
}

// Terminal reports whether no transition leaves s.
func (s Status) Terminal() bool {
	return s.Valid() && len(transitions[s]) < 1
}

// Active reports whether s is a non-terminal state.
func (s Status) Active() bool {
	return s == StatusPendingApproval || s == StatusRunning
}

// CanTransition reports whether a workflow may move from s to next.
func (s Status) CanTransition(next Status) bool {
	for _, t := range transitions[s] {
		if t == next {
			return true
		}
	}
	return false
}

// CheckTransition returns ErrInvalidTransition if s may not move to next.
func (s Status) CheckTransition(next Status) error {
	if !s.CanTransition(next) {
		return fmt.Errorf("%w: %s to %s", ErrInvalidTransition, s, next)
	}
	return nil
}
