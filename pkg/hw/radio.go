package hw

import (
	"errors"
	"fmt"
	"sync"
	"time"
)

// ErrObserverRegistered indicates a system event observer already exists.
var ErrObserverRegistered = errors.New("system event observer already registered")

// SystemEvent is a low level event reported by the radio coprocessor.
type SystemEvent uint32

// System events.
const (
	EvtHFClkStarted SystemEvent = iota
	EvtPowerFailureWarning
	EvtFlashOperationSuccess
	EvtFlashOperationError
	EvtRadioBlocked
	EvtRadioCanceled
	EvtRadioSignalCallbackInvalidReturn
	EvtRadioSessionIdle
	EvtRadioSessionClosed
)

var systemEventNames = []string{
	"hfclk-started",
	"power-failure-warning",
	"flash-op-success",
	"flash-op-error",
	"radio-blocked",
	"radio-canceled",
	"radio-signal-callback-invalid-return",
	"radio-session-idle",
	"radio-session-closed",
}

func (e SystemEvent) String() string {
	if int(e) < len(systemEventNames) {
		return systemEventNames[e]
	}
	return fmt.Sprintf("event-%d", uint32(e))
}

// Observer receives system events.
type Observer interface {
	SystemEvent(SystemEvent)
}

// ObserverFunc is the func form of Observer.
type ObserverFunc func(SystemEvent)

// SystemEvent implements Observer.
func (f ObserverFunc) SystemEvent(evt SystemEvent) {
	f(evt)
}

// SimRadio simulates the radio coprocessor enable protocol.
type SimRadio struct {
	// EnableDelay is the time between EnableRequest and the coprocessor enabled.
	EnableDelay time.Duration
	// EnableErr makes EnableRequest fail.
	EnableErr error

	lock        sync.Mutex
	requestedAt time.Time
	observer    Observer
}

// EnableRequest requests the coprocessor to be enabled.
func (r *SimRadio) EnableRequest() error {
	if r.EnableErr != nil {
		return r.EnableErr
	}
	r.lock.Lock()
	if r.requestedAt.IsZero() {
		r.requestedAt = time.Now()
	}
	r.lock.Unlock()
	return nil
}

// IsEnabled reports whether the coprocessor is enabled.
func (r *SimRadio) IsEnabled() bool {
	r.lock.Lock()
	defer r.lock.Unlock()
	return !r.requestedAt.IsZero() && time.Since(r.requestedAt) >= r.EnableDelay
}

// RegisterObserver registers the only system event observer.
func (r *SimRadio) RegisterObserver(obs Observer) error {
	r.lock.Lock()
	defer r.lock.Unlock()
	if r.observer != nil {
		return ErrObserverRegistered
	}
	r.observer = obs
	return nil
}

// Raise delivers a system event to the observer, it reports false when
// nobody observes.
func (r *SimRadio) Raise(evt SystemEvent) bool {
	r.lock.Lock()
	obs := r.observer
	r.lock.Unlock()
	if obs == nil {
		return false
	}
	obs.SystemEvent(evt)
	return true
}
