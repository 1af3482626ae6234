package boot

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/golang/glog"
)

var (
	// ErrUnknownDependency indicates a step depends on a step not in the plan.
	ErrUnknownDependency = errors.New("unknown dependency")
	// ErrDependencyOrder indicates a step depends on a later step.
	ErrDependencyOrder = errors.New("dependency ordered after dependent")
	// ErrDependencyNotReady indicates a dependency is not Ready when the
	// step is about to run.
	ErrDependencyNotReady = errors.New("dependency not ready")
	// ErrDuplicateStep indicates two steps with the same name.
	ErrDuplicateStep = errors.New("duplicate step")
)

// Step describes a subsystem bring-up.
type Step struct {
	Name        string
	Description string
	// Deps must be Ready before Init is called.
	Deps []string
	Init func(ctx context.Context) error
	// Check is an optional post-condition run after Init succeeds.
	Check func() error
}

// FatalError is the result of a failed bring-up.
type FatalError struct {
	Step string
	Err  error
}

func (e *FatalError) Error() string {
	return fmt.Sprintf("bring-up step %s failed: %v", e.Step, e.Err)
}

// Unwrap returns the cause.
func (e *FatalError) Unwrap() error {
	return e.Err
}

// Sequencer runs steps in order and halts on the first failure.
type Sequencer struct {
	Steps  []Step
	State  *Readiness
	Log    *BootLog
	Halter Halter

	haltOnce sync.Once
}

// ValidatePlan checks every dependency names an earlier step.
func ValidatePlan(steps []Step) error {
	pos := make(map[string]int, len(steps))
	for i, step := range steps {
		if _, exists := pos[step.Name]; exists {
			return fmt.Errorf("step %s: %w", step.Name, ErrDuplicateStep)
		}
		pos[step.Name] = i
	}
	for i, step := range steps {
		for _, dep := range step.Deps {
			at, ok := pos[dep]
			if !ok {
				return fmt.Errorf("step %s depends on %s: %w", step.Name, dep, ErrUnknownDependency)
			}
			if at >= i {
				return fmt.Errorf("step %s depends on %s: %w", step.Name, dep, ErrDependencyOrder)
			}
		}
	}
	return nil
}

// NewSequencer validates the plan and creates a Sequencer.
func NewSequencer(steps []Step, log *BootLog, halter Halter) (*Sequencer, error) {
	if err := ValidatePlan(steps); err != nil {
		return nil, err
	}
	if log == nil {
		log = &BootLog{}
	}
	return &Sequencer{
		Steps:  steps,
		State:  NewReadiness(),
		Log:    log,
		Halter: halter,
	}, nil
}

// Run executes the steps. It returns nil only when all steps succeed, which
// for a node plan ending with the scheduler never happens; on failure the
// Halter is invoked once and a *FatalError is returned.
func (s *Sequencer) Run(ctx context.Context) error {
	for _, step := range s.Steps {
		if err := s.runStep(ctx, step); err != nil {
			return s.fail(step.Name, err)
		}
	}
	return nil
}

func (s *Sequencer) runStep(ctx context.Context, step Step) error {
	for _, dep := range step.Deps {
		if state := s.State.Get(dep); state != Ready {
			return fmt.Errorf("%s is %s: %w", dep, state, ErrDependencyNotReady)
		}
	}
	if err := s.State.Set(step.Name, Initializing); err != nil {
		return err
	}
	desc := step.Description
	if desc == "" {
		desc = step.Name
	}
	s.Log.Append(step.Name, desc, false)
	glog.V(2).Infof("step %s initializing", step.Name)

	err := ctx.Err()
	if err == nil && step.Init != nil {
		err = step.Init(ctx)
	}
	if err == nil && step.Check != nil {
		err = step.Check()
	}
	if err != nil {
		if serr := s.State.Set(step.Name, Failed); serr != nil {
			glog.Errorf("step %s: %v", step.Name, serr)
		}
		return err
	}
	return s.State.Set(step.Name, Ready)
}

func (s *Sequencer) fail(name string, err error) error {
	ferr := &FatalError{Step: name, Err: err}
	s.Log.Append(name, fmt.Sprintf("%v", err), true)
	s.haltOnce.Do(func() {
		if s.Halter != nil {
			s.Halter.Halt(ferr)
		}
	})
	return ferr
}
