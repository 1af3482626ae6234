package framework

import (
	"context"
	"time"
)

// Blocker is notified when the caller is about to block and when it resumes.
// A scheduler uses it to learn that a task is no longer runnable.
type Blocker interface {
	Block(fn func())
}

type blockerKey struct{}

// WithBlocker attaches a Blocker to the context. A nil Blocker detaches the
// one inherited from the parent.
func WithBlocker(ctx context.Context, b Blocker) context.Context {
	return context.WithValue(ctx, blockerKey{}, b)
}

// BlockerFrom retrieves the Blocker attached to ctx, nil if there is none.
func BlockerFrom(ctx context.Context) Blocker {
	b, _ := ctx.Value(blockerKey{}).(Blocker)
	return b
}

// Block runs fn which is expected to wait on a channel, a timer or the context.
// All waits inside a task must go through Block, otherwise the task is
// considered runnable for the whole wait.
func Block(ctx context.Context, fn func()) {
	if b := BlockerFrom(ctx); b != nil {
		b.Block(fn)
		return
	}
	fn()
}

// Sleep blocks for d or until ctx is done.
func Sleep(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	var err error
	Block(ctx, func() {
		select {
		case <-ctx.Done():
			err = ctx.Err()
		case <-timer.C:
		}
	})
	return err
}
