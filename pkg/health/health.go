// Package health tracks the backend's lifecycle state for the readiness
// probes. The state moves starting → ready → draining; draining is set
// before the shutdown drain walks remaining sessions through reclaim, so
// load balancers stop routing new chat traffic before sessions disappear.
// Rendering the state over HTTP is the server's concern, not this package's.
package health

import "sync/atomic"

// State is a lifecycle phase of the backend.
type State int32

const (
	StateStarting State = iota
	StateReady
	StateDraining
)

// String returns the state name as reported by the readiness probe.
func (s State) String() string {
	switch s {
	case StateReady:
		return "ready"
	case StateDraining:
		return "draining"
	default:
		return "starting"
	}
}

// Checker holds the current lifecycle state. Safe for concurrent use.
type Checker struct {
	state atomic.Int32
}

// NewChecker creates a Checker in StateStarting.
func NewChecker() *Checker {
	return &Checker{}
}

// SetReady transitions to StateReady once startup completes.
func (c *Checker) SetReady() {
	c.state.Store(int32(StateReady))
}

// SetDraining transitions to StateDraining. Called before the session drain
// begins at shutdown; the transition is one-way.
func (c *Checker) SetDraining() {
	c.state.Store(int32(StateDraining))
}

// IsReady reports whether new traffic should be routed to this process.
func (c *Checker) IsReady() bool {
	return c.State() == StateReady
}

// State returns the current lifecycle state.
func (c *Checker) State() State {
	return State(c.state.Load())
}
