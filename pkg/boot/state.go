package boot

import (
	"errors"
	"fmt"
	"sync"
)

// ErrStateRegression indicates a transition against the readiness order.
var ErrStateRegression = errors.New("readiness state regression")

// State is the readiness of a subsystem.
type State int

// Readiness states.
const (
	NotStarted State = iota
	Initializing
	Ready
	Failed
)

func (s State) String() string {
	switch s {
	case NotStarted:
		return "not-started"
	case Initializing:
		return "initializing"
	case Ready:
		return "ready"
	case Failed:
		return "failed"
	}
	return fmt.Sprintf("state-%d", int(s))
}

// Terminal reports whether no further transition is allowed.
func (s State) Terminal() bool {
	return s == Ready || s == Failed
}

func (s State) canMoveTo(next State) bool {
	switch s {
	case NotStarted:
		return next == Initializing
	case Initializing:
		return next == Ready || next == Failed
	}
	return false
}

// Readiness tracks the state of every subsystem. Only the sequencer
// changes it; other readers get snapshots.
type Readiness struct {
	lock   sync.RWMutex
	states map[string]State
}

// NewReadiness creates a Readiness with all subsystems NotStarted.
func NewReadiness() *Readiness {
	return &Readiness{states: make(map[string]State)}
}

// Get returns the state of a subsystem.
func (r *Readiness) Get(name string) State {
	r.lock.RLock()
	defer r.lock.RUnlock()
	return r.states[name]
}

// Set moves a subsystem forward.
func (r *Readiness) Set(name string, next State) error {
	r.lock.Lock()
	defer r.lock.Unlock()
	cur := r.states[name]
	if !cur.canMoveTo(next) {
		return fmt.Errorf("%s: %s -> %s: %w", name, cur, next, ErrStateRegression)
	}
	r.states[name] = next
	return nil
}

// Snapshot returns a copy of all states which left NotStarted.
func (r *Readiness) Snapshot() map[string]State {
	r.lock.RLock()
	defer r.lock.RUnlock()
	m := make(map[string]State, len(r.states))
	for name, s := range r.states {
		m[name] = s
	}
	return m
}
