package gai

import "fmt"

// Status is the lifecycle state of an in-flight item.
//
//	NotStarted -> Running -> Succeeded | Failed | TimedOut
//	NotStarted -> TimedOut
//
// The three right-hand states are terminal.
type Status uint8

const (
	StatusNotStarted Status = iota
	StatusRunning
	StatusSucceeded
	StatusFailed
	StatusTimedOut
)

func (s Status) String() string {
	switch s {
	case StatusNotStarted:
		return "not_started"
	case StatusRunning:
		return "running"
	case StatusSucceeded:
		return "succeeded"
	case StatusFailed:
		return "failed"
	case StatusTimedOut:
		return "timed_out"
	default:
		return fmt.Sprintf("status(%d)", uint8(s))
	}
}

// Terminal reports whether no further transition may happen.
func (s Status) Terminal() bool {
	return s == StatusSucceeded || s == StatusFailed || s == StatusTimedOut
}
