// Package lifecycle holds the transition table of a daily session.
package lifecycle

import (
	"errors"
	"fmt"
)

// Status represents the lifecycle state of a session.
type Status string

const (
	// StatusScheduled is the initial state of a materialized session.
	StatusScheduled Status = "scheduled"
	// StatusLive indicates the session is in progress.
	StatusLive Status = "live"
	// StatusCompleted indicates the session has ended.
	StatusCompleted Status = "completed"
	// StatusCancelled is terminal.
	StatusCancelled Status = "cancelled"
)

// Action is a requested transition.
type Action string

const (
	// ActionStart moves a scheduled session to live. Besides explicit
	// administrator requests, the attendance ledger applies it implicitly
	// when the first attendance cycle of a scheduled session is closed,
	// since no separate "meeting started" signal exists.
	ActionStart Action = "start"
	// ActionComplete moves a live session to completed and stamps its end.
	ActionComplete Action = "complete"
	// ActionReschedule moves a completed session back to scheduled.
	ActionReschedule Action = "reschedule"
	// ActionCancel moves any non-cancelled session to cancelled.
	ActionCancel Action = "cancel"
)

// ErrInvalidTransition indicates the action is not permitted from the current status.
var ErrInvalidTransition = errors.New("lifecycle: invalid transition")

// ErrUnknownAction indicates the action is not recognized.
var ErrUnknownAction = fmt.Errorf("%w: unknown action", ErrInvalidTransition)

var transitions = map[Action]map[Status]Status{
	ActionStart: {
		StatusScheduled: StatusLive,
	},
	ActionComplete: {
		StatusLive: StatusCompleted,
	},
	ActionReschedule: {
		StatusCompleted: StatusScheduled,
	},
	ActionCancel: {
		StatusScheduled: StatusCancelled,
		StatusLive:      StatusCancelled,
		StatusCompleted: StatusCancelled,
	},
}

// Next returns the status reached by applying action to current.
func Next(current Status, action Action) (Status, error) {
	table, ok := transitions[action]
	if !ok {
		return current, fmt.Errorf("%w: %q", ErrUnknownAction, action)
	}
	next, ok := table[current]
	if !ok {
		return current, fmt.Errorf("%w: cannot %s a %s session", ErrInvalidTransition, action, current)
	}
	return next, nil
}

// ParseAction validates a textual action.
func ParseAction(value string) (Action, error) {
	action := Action(value)
	if _, ok := transitions[action]; !ok {
		return "", fmt.Errorf("%w: %q", ErrUnknownAction, value)
	}
	return action, nil
}

// Valid reports whether s is a known status.
func (s Status) Valid() bool {
	switch s {
	case StatusScheduled, StatusLive, StatusCompleted, StatusCancelled:
		return true
	default:
		return false
	}
}

// Terminal reports whether no further transitions are possible from s.
func (s Status) Terminal() bool {
	return s == StatusCancelled
}

// AcceptsAttendance reports whether joins may be recorded against a session in s.
func (s Status) AcceptsAttendance() bool {
	return s.Valid() && !s.Terminal()
}
