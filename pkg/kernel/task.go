package kernel

import (
	"context"
	"sync/atomic"

	"github.com/golang/glog"

	fx "github.com/robotalks/bringup.go/pkg/framework"
)

// TaskState is the scheduling state of a task.
type TaskState int32

// Task states.
const (
	TaskCreated TaskState = iota
	TaskRunning
	TaskBlocked
	TaskExited
)

func (s TaskState) String() string {
	switch s {
	case TaskCreated:
		return "created"
	case TaskRunning:
		return "running"
	case TaskBlocked:
		return "blocked"
	case TaskExited:
		return "exited"
	}
	return "unknown"
}

// Task is the handle of a task created by Kernel.Go.
type Task struct {
	name     string
	priority int
	fn       TaskFunc
	kernel   *Kernel
	state    int32
}

// Name implements framework.Named.
func (t *Task) Name() string {
	return t.name
}

// Priority returns the priority given at creation.
func (t *Task) Priority() int {
	return t.priority
}

// State returns the current state.
func (t *Task) State() TaskState {
	return TaskState(atomic.LoadInt32(&t.state))
}

func (t *Task) setState(s TaskState) {
	atomic.StoreInt32(&t.state, int32(s))
}

// Run implements framework.Runnable.
func (t *Task) Run(ctx context.Context) error {
	defer func() {
		t.setState(TaskExited)
		t.kernel.suspend()
	}()
	err := t.fn(fx.WithBlocker(ctx, t))
	if err != nil && err != context.Canceled {
		glog.Errorf("task %s exited: %v", t.name, err)
	}
	return err
}

// Block implements framework.Blocker.
func (t *Task) Block(fn func()) {
	t.setState(TaskBlocked)
	t.kernel.suspend()
	defer func() {
		t.kernel.resume()
		t.setState(TaskRunning)
	}()
	fn()
}
