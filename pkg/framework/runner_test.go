package framework

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestRunnerCollectsErrors(t *testing.T) {
	failure := errors.New("failure")
	r := NewRunner()
	r.Go(
		RunFunc(func(context.Context) error { return nil }),
		NamedRun("canceled", RunFunc(func(context.Context) error { return context.Canceled })),
		NamedRun("failed", RunFunc(func(context.Context) error { return failure })),
	)
	require.Equal(t, 3, r.Count())
	err := r.Wait()
	require.Error(t, err)
	require.True(t, errors.Is(err, failure))
	require.Equal(t, "failure", err.Error())
}

func TestRunnerStopsWithContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	r := NewRunnerWith(ctx)
	for i := 0; i < 3; i++ {
		r.Go(RunFunc(func(ctx context.Context) error {
			<-ctx.Done()
			return ctx.Err()
		}))
	}
	cancel()
	require.NoError(t, r.Wait())
}

func TestNamedRun(t *testing.T) {
	named := NamedRun("task", RunFunc(func(context.Context) error { return nil }))
	require.Equal(t, "task", named.(Named).Name())
	require.NoError(t, named.Run(context.Background()))
}
