// Package ratelimit implements the request coalescer that throttles outbound metadata
// fetches. A coalescer holds one pending-request slot plus a quiescence timer: new
// requests either join the pending slot (replacing its arguments) or, once the window
// elapses without a newer request, release it for execution.
package ratelimit

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// DefaultWindow is the quiescence window used when none is configured.
const DefaultWindow = 1 * time.Second

// ErrClosed is returned for requests submitted to, or still pending in, a closed coalescer.
var ErrClosed = errors.New("coalescer closed")

// State is the observable lifecycle of a coalescer.
//
//	IDLE -> PENDING -> IN_FLIGHT -> IDLE
//
// A new request may open a fresh pending slot while an earlier execution is still in
// flight; PENDING is reported whenever a slot is waiting, regardless of in-flight work.
type State int

const (
	// StateIdle means nothing is pending and nothing is executing.
	StateIdle State = iota

	// StatePending means a request is waiting for its quiescence window to elapse.
	StatePending

	// StateInFlight means an execution is running and no request is waiting.
	StateInFlight
)

// String returns the state name used in logs and metrics.
func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StatePending:
		return "pending"
	case StateInFlight:
		return "in_flight"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Mode selects what happens to requests that arrive while another is pending.
type Mode string

const (
	// ModeCoalesce keeps only the most recent request in a window. Superseded callers
	// settle together with the surviving request's outcome, so their own arguments are
	// never executed.
	ModeCoalesce Mode = "coalesce"

	// ModeQueue executes every request with its own arguments, spacing execution starts
	// by at least the window.
	ModeQueue Mode = "queue"
)

// ParseMode converts a configuration string to a Mode.
func ParseMode(s string) (Mode, error) {
	switch Mode(strings.ToLower(strings.TrimSpace(s))) {
	case ModeCoalesce, "":
		return ModeCoalesce, nil
	case ModeQueue:
		return ModeQueue, nil
	default:
		return "", fmt.Errorf("unknown throttle mode %q (want %q or %q)", s, ModeCoalesce, ModeQueue)
	}
}

// Snapshot is a point-in-time view of a coalescer, mainly for logging and tests.
type Snapshot struct {
	State State

	// Waiting is the number of requests parked in the pending slot (coalesce mode)
	// or waiting for their turn (queue mode).
	Waiting int

	// InFlight is the number of executions currently running.
	InFlight int

	// Executed counts completed executions.
	Executed uint64

	// Superseded counts requests whose arguments were replaced by a newer request.
	Superseded uint64
}

func (s Snapshot) derive() State {
	switch {
	case s.Waiting > 0:
		return StatePending
	case s.InFlight > 0:
		return StateInFlight
	default:
		return StateIdle
	}
}
