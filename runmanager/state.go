package runmanager

import (
	"context"
	"time"
)

// ConnState is the lifecycle state of one workflow's run connection.
type ConnState int

// Connection states. The lifecycle is
// Idle -> Connecting -> Connected -> (Completed | Error) -> Idle.
const (
	StateIdle ConnState = iota
	StateConnecting
	StateConnected
	StateError
	StateCompleted
)

func (s ConnState) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateError:
		return "error"
	case StateCompleted:
		return "completed"
	default:
		return "unknown"
	}
}

// Live reports whether the connection currently owns a cancellation handle.
func (s ConnState) Live() bool {
	return s == StateConnecting || s == StateConnected
}

// ConnInfo is a point-in-time view of one workflow's connection.
type ConnInfo struct {
	State        ConnState `json:"state"`
	StartTime    time.Time `json:"startTime,omitempty"`
	LastActivity time.Time `json:"lastActivity,omitempty"`
	Err          string    `json:"error,omitempty"`
}

// conn is the manager's internal record. cancel is non-nil exactly while
// the state is Connecting or Connected. generation increments on every
// run start so finished read loops and expired grace timers can tell they
// are acting on a run that has since been replaced.
type conn struct {
	info       ConnInfo
	cancel     context.CancelFunc
	graceTimer *time.Timer
	generation uint64
	agents     []string
}

func (c *conn) stopGraceTimer() {
	if c.graceTimer != nil {
		c.graceTimer.Stop()
		c.graceTimer = nil
	}
}

// cancelOnce invokes and clears the cancellation handle. Safe to call
// when no handle is held.
func (c *conn) cancelOnce() {
	if c.cancel != nil {
		c.cancel()
		c.cancel = nil
	}
}
