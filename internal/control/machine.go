// Package control implements the session lifecycle state machine that gates
// the per-item audit loop.
package control

import (
	"context"
	"errors"
	"fmt"
	"sync"
)

// State is a session lifecycle state.
type State int

// Lifecycle states. Completed, Stopped and Failed end the loop.
const (
	Idle State = iota
	Running
	Paused
	Completed
	Stopped
	Failed
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Running:
		return "running"
	case Paused:
		return "paused"
	case Completed:
		return "completed"
	case Stopped:
		return "stopped"
	case Failed:
		return "failed"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Terminal reports whether the loop has ended. Only Fail applies afterwards.
func (s State) Terminal() bool {
	return s == Completed || s == Stopped || s == Failed
}

// ErrInvalidTransition is returned when a command does not apply to the
// current state.
var ErrInvalidTransition = errors.New("invalid state transition")

// Machine is safe for concurrent use. Waiters parked in Checkpoint are woken
// by closing the current wake channel, which Resume, Stop and Fail replace.
type Machine struct {
	mu    sync.Mutex
	state State
	wake  chan struct{}
}

// New returns a Machine in Idle.
func New() *Machine {
	return &Machine{wake: make(chan struct{})}
}

// State returns the current state.
func (m *Machine) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Start moves Idle to Running.
func (m *Machine) Start() error {
	return m.transition(Running, Idle)
}

// Pause moves Running to Paused.
func (m *Machine) Pause() error {
	return m.transition(Paused, Running)
}

// Resume moves Paused to Running and releases any blocked Checkpoint.
func (m *Machine) Resume() error {
	return m.transition(Running, Paused)
}

// Stop requests a cooperative stop from any non-terminal state. The loop
// observes it at its next Checkpoint.
func (m *Machine) Stop() error {
	return m.transition(Stopped, Idle, Running, Paused)
}

// Complete marks a loop that ran out of items.
func (m *Machine) Complete() error {
	return m.transition(Completed, Running)
}

// Fail marks a session aborted by a fatal error. Completed and Stopped may
// still fail when persisting the outcome does.
func (m *Machine) Fail() error {
	return m.transition(Failed, Idle, Running, Paused, Completed, Stopped)
}

func (m *Machine) transition(to State, from ...State) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, f := range from {
		if m.state == f {
			m.state = to
			close(m.wake)
			m.wake = make(chan struct{})
			return nil
		}
	}
	return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, m.state, to)
}

// Checkpoint is the item-boundary gate. It returns at once unless the machine
// is Paused, in which case it blocks until another command changes the state
// or ctx is done. The returned state is never Paused when err is nil.
func (m *Machine) Checkpoint(ctx context.Context) (State, error) {
	for {
		m.mu.Lock()
		state, wake := m.state, m.wake
		m.mu.Unlock()
		if state != Paused {
			return state, nil
		}
		select {
		case <-wake:
		case <-ctx.Done():
			return state, fmt.Errorf("checkpoint: %w", ctx.Err())
		}
	}
}

// StopRequested reports whether the machine is Stopped. The collector polls
// it between pages.
func (m *Machine) StopRequested() bool {
	return m.State() == Stopped
}
