package kernel

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	fx "github.com/robotalks/bringup.go/pkg/framework"
)

func testKernel() *Kernel {
	return New(Config{MaxTasks: 4, IdleInterval: time.Millisecond})
}

func startKernel(t *testing.T, k *Kernel) (context.CancelFunc, <-chan error) {
	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() { errCh <- k.Start(ctx) }()
	select {
	case <-k.Started():
	case <-time.After(time.Second):
		t.Fatal("scheduler not started")
	}
	return cancel, errCh
}

func stopKernel(t *testing.T, cancel context.CancelFunc, errCh <-chan error) error {
	cancel()
	select {
	case err := <-errCh:
		return err
	case <-time.After(time.Second):
		t.Fatal("scheduler not stopped")
	}
	return nil
}

func TestTasksDeferredUntilStart(t *testing.T) {
	k := testKernel()
	ranCh := make(chan string, 2)
	task, err := k.Go("first", 1, func(ctx context.Context) error {
		ranCh <- "first"
		<-ctx.Done()
		return ctx.Err()
	})
	require.NoError(t, err)
	require.Equal(t, TaskCreated, task.State())
	require.Equal(t, "first", task.Name())
	require.Equal(t, 1, task.Priority())

	select {
	case <-ranCh:
		t.Fatal("task ran before scheduler start")
	case <-time.After(20 * time.Millisecond):
	}

	cancel, errCh := startKernel(t, k)
	select {
	case name := <-ranCh:
		require.Equal(t, "first", name)
	case <-time.After(time.Second):
		t.Fatal("task not launched")
	}

	_, err = k.Go("second", 2, func(ctx context.Context) error {
		ranCh <- "second"
		return nil
	})
	require.NoError(t, err)
	select {
	case name := <-ranCh:
		require.Equal(t, "second", name)
	case <-time.After(time.Second):
		t.Fatal("task created after start not launched")
	}

	err = stopKernel(t, cancel, errCh)
	require.True(t, errors.Is(err, ErrSchedulerExited))
	require.Len(t, k.Tasks(), 2)
}

func TestTaskTableFull(t *testing.T) {
	k := New(Config{MaxTasks: 1})
	_, err := k.Go("a", 0, func(context.Context) error { return nil })
	require.NoError(t, err)
	_, err = k.Go("b", 0, func(context.Context) error { return nil })
	require.True(t, errors.Is(err, ErrNoResources))
	require.Len(t, k.Tasks(), 1)
}

func TestStartTwice(t *testing.T) {
	k := testKernel()
	cancel, errCh := startKernel(t, k)
	require.Equal(t, ErrAlreadyStarted, k.Start(context.Background()))
	stopKernel(t, cancel, errCh)
}

func TestIdleHookWakesBlockedTask(t *testing.T) {
	k := testKernel()
	sig := NewSignal()
	var wakes int32
	wokenCh := make(chan struct{}, 16)
	_, err := k.Go("consumer", 3, func(ctx context.Context) error {
		for {
			if _, err := sig.Take(ctx); err != nil {
				return err
			}
			atomic.AddInt32(&wakes, 1)
			select {
			case wokenCh <- struct{}{}:
			default:
			}
		}
	})
	require.NoError(t, err)
	k.OnIdle(sig.Give)

	cancel, errCh := startKernel(t, k)
	for i := 0; i < 3; i++ {
		select {
		case <-wokenCh:
		case <-time.After(time.Second):
			t.Fatalf("consumer not woken by idle hook (%d)", i)
		}
	}
	stopKernel(t, cancel, errCh)
	require.True(t, k.IdleRuns() >= 3)
	require.True(t, atomic.LoadInt32(&wakes) >= 3)
}

func TestIdleHookNotRunWhileBusy(t *testing.T) {
	k := testKernel()
	releaseCh := make(chan struct{})
	busyCh := make(chan struct{})
	task, err := k.Go("busy", 1, func(ctx context.Context) error {
		close(busyCh)
		<-releaseCh
		fx.Block(ctx, func() { <-ctx.Done() })
		return ctx.Err()
	})
	require.NoError(t, err)
	var idle int32
	k.OnIdle(func() { atomic.AddInt32(&idle, 1) })

	cancel, errCh := startKernel(t, k)
	<-busyCh
	time.Sleep(20 * time.Millisecond)
	require.Equal(t, int32(0), atomic.LoadInt32(&idle))
	require.Equal(t, 1, k.Runnable())
	require.Equal(t, TaskRunning, task.State())

	close(releaseCh)
	deadline := time.After(time.Second)
	for atomic.LoadInt32(&idle) == 0 {
		select {
		case <-deadline:
			t.Fatal("idle hook not run")
		case <-time.After(time.Millisecond):
		}
	}
	require.Equal(t, TaskBlocked, task.State())
	stopKernel(t, cancel, errCh)
	require.Equal(t, TaskExited, task.State())
}

func TestStartCollectsTaskErrors(t *testing.T) {
	k := testKernel()
	failure := errors.New("broken")
	_, err := k.Go("failing", 1, func(context.Context) error { return failure })
	require.NoError(t, err)
	cancel, errCh := startKernel(t, k)
	err = stopKernel(t, cancel, errCh)
	require.True(t, errors.Is(err, ErrSchedulerExited))
	require.Contains(t, err.Error(), "broken")
}

func TestIdleIntervalDefault(t *testing.T) {
	for _, d := range []time.Duration{0, -time.Second} {
		k := New(Config{IdleInterval: d})
		require.Equal(t, DefaultConfig().IdleInterval, k.IdleInterval)
	}
	require.Equal(t, time.Millisecond, testKernel().IdleInterval)
}
