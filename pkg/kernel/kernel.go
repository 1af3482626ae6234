// Package kernel provides the cooperative multitasking kernel of the node.
//
// Tasks created before Start are recorded and launched together when the
// scheduler starts. A task is runnable except while it waits inside
// framework.Block; when no task is runnable the kernel runs its idle hooks.
package kernel

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/golang/glog"

	fx "github.com/robotalks/bringup.go/pkg/framework"
)

var (
	// ErrNoResources indicates the task table is full.
	ErrNoResources = errors.New("no resources for task")
	// ErrSchedulerExited is returned by Start, which should never return.
	ErrSchedulerExited = errors.New("scheduler exited")
	// ErrAlreadyStarted indicates Start was called twice.
	ErrAlreadyStarted = errors.New("scheduler already started")
	// ErrStopped indicates the kernel no longer accepts tasks.
	ErrStopped = errors.New("scheduler stopped")
)

// Config defines kernel limits.
type Config struct {
	MaxTasks     int           `yaml:"max_tasks"`
	IdleInterval time.Duration `yaml:"idle_interval"`
}

// DefaultConfig returns the default kernel configuration.
func DefaultConfig() Config {
	return Config{
		MaxTasks:     8,
		IdleInterval: 50 * time.Millisecond,
	}
}

// IdleHook is invoked when no task is runnable.
type IdleHook func()

// TaskFunc is the body of a task. The context carries the task as
// framework Blocker, so waits must go through framework.Block.
type TaskFunc func(ctx context.Context) error

// Kernel schedules tasks.
type Kernel struct {
	idleRuns uint64

	MaxTasks int
	// IdleInterval is the minimum period between two idle hook invocations.
	IdleInterval time.Duration

	lock      sync.Mutex
	tasks     []*Task
	idleHooks []IdleHook
	runner    *fx.Runner
	ctx       context.Context

	running   int32
	idleCh    chan struct{}
	startedCh chan struct{}
}

// New creates a Kernel. A non-positive IdleInterval falls back to the
// default, idle hooks are always throttled.
func New(conf Config) *Kernel {
	if conf.IdleInterval <= 0 {
		conf.IdleInterval = DefaultConfig().IdleInterval
	}
	return &Kernel{
		MaxTasks:     conf.MaxTasks,
		IdleInterval: conf.IdleInterval,
		idleCh:       make(chan struct{}, 1),
		startedCh:    make(chan struct{}),
	}
}

// Go creates a task. Before Start the task is only recorded; after Start it
// is launched immediately.
func (k *Kernel) Go(name string, priority int, fn TaskFunc) (*Task, error) {
	k.lock.Lock()
	defer k.lock.Unlock()
	if k.MaxTasks > 0 && len(k.tasks) >= k.MaxTasks {
		return nil, fmt.Errorf("create task %s: %w", name, ErrNoResources)
	}
	if k.ctx != nil && k.ctx.Err() != nil {
		return nil, fmt.Errorf("create task %s: %w", name, ErrStopped)
	}
	t := &Task{name: name, priority: priority, fn: fn, kernel: k}
	k.tasks = append(k.tasks, t)
	glog.V(4).Infof("task %s created (priority %d)", name, priority)
	if k.runner != nil {
		k.launch(t)
	}
	return t, nil
}

// OnIdle registers an idle hook.
func (k *Kernel) OnIdle(hook IdleHook) {
	k.lock.Lock()
	k.idleHooks = append(k.idleHooks, hook)
	k.lock.Unlock()
}

// Tasks returns the created tasks in creation order.
func (k *Kernel) Tasks() []*Task {
	k.lock.Lock()
	defer k.lock.Unlock()
	return append([]*Task(nil), k.tasks...)
}

// Started is closed once the scheduler runs.
func (k *Kernel) Started() <-chan struct{} {
	return k.startedCh
}

// IdleRuns returns how many times the idle hooks were run.
func (k *Kernel) IdleRuns() uint64 {
	return atomic.LoadUint64(&k.idleRuns)
}

// Runnable returns the number of runnable tasks.
func (k *Kernel) Runnable() int {
	return int(atomic.LoadInt32(&k.running))
}

// Start launches all tasks and runs the scheduler. It only returns when
// ctx is done, and the returned error always wraps ErrSchedulerExited.
func (k *Kernel) Start(ctx context.Context) error {
	k.lock.Lock()
	if k.runner != nil {
		k.lock.Unlock()
		return ErrAlreadyStarted
	}
	k.ctx = ctx
	k.runner = fx.NewRunnerWith(ctx)
	for _, t := range k.tasks {
		k.launch(t)
	}
	k.lock.Unlock()

	glog.V(4).Info("scheduler started")
	close(k.startedCh)
	idleDone := make(chan struct{})
	go func() {
		defer close(idleDone)
		k.idleLoop(ctx)
	}()
	k.notifyIdle()

	<-ctx.Done()
	<-idleDone
	err := k.runner.Wait()
	if err != nil {
		return fmt.Errorf("%w: %v", ErrSchedulerExited, err)
	}
	return fmt.Errorf("%w: %v", ErrSchedulerExited, ctx.Err())
}

// launch must be called with k.lock held.
func (k *Kernel) launch(t *Task) {
	atomic.AddInt32(&k.running, 1)
	t.setState(TaskRunning)
	k.runner.Go(t)
}

func (k *Kernel) suspend() {
	if atomic.AddInt32(&k.running, -1) == 0 {
		k.notifyIdle()
	}
}

func (k *Kernel) resume() {
	atomic.AddInt32(&k.running, 1)
}

func (k *Kernel) notifyIdle() {
	select {
	case k.idleCh <- struct{}{}:
	default:
	}
}

func (k *Kernel) idleLoop(ctx context.Context) {
	var last time.Time
	for {
		select {
		case <-ctx.Done():
			return
		case <-k.idleCh:
		}
		if wait := k.IdleInterval - time.Since(last); wait > 0 && !last.IsZero() {
			timer := time.NewTimer(wait)
			select {
			case <-ctx.Done():
				timer.Stop()
				return
			case <-timer.C:
			}
		}
		if atomic.LoadInt32(&k.running) != 0 {
			continue
		}
		last = time.Now()
		k.lock.Lock()
		hooks := append([]IdleHook(nil), k.idleHooks...)
		k.lock.Unlock()
		atomic.AddUint64(&k.idleRuns, 1)
		for _, hook := range hooks {
			hook()
		}
	}
}
