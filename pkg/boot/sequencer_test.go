package boot

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
)

type haltRecorder struct {
	errs []*FatalError
}

func (h *haltRecorder) Halt(err *FatalError) {
	h.errs = append(h.errs, err)
}

func TestValidatePlan(t *testing.T) {
	cases := []struct {
		name  string
		steps []Step
		err   error
	}{
		{"empty", nil, nil},
		{"ordered", []Step{{Name: "a"}, {Name: "b", Deps: []string{"a"}}}, nil},
		{"unknown", []Step{{Name: "a", Deps: []string{"x"}}}, ErrUnknownDependency},
		{"later", []Step{{Name: "a", Deps: []string{"b"}}, {Name: "b"}}, ErrDependencyOrder},
		{"self", []Step{{Name: "a", Deps: []string{"a"}}}, ErrDependencyOrder},
		{"duplicate", []Step{{Name: "a"}, {Name: "a"}}, ErrDuplicateStep},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			err := ValidatePlan(c.steps)
			if c.err == nil {
				require.NoError(t, err)
			} else {
				require.True(t, errors.Is(err, c.err), "got %v", err)
			}
		})
	}
}

func TestSequencerRunsInOrder(t *testing.T) {
	var calls []string
	var seq *Sequencer
	step := func(name string, deps ...string) Step {
		return Step{
			Name: name,
			Deps: deps,
			Init: func(context.Context) error {
				// every dependency is Ready before Init
				for _, dep := range deps {
					require.Equal(t, Ready, seq.State.Get(dep))
				}
				require.Equal(t, Initializing, seq.State.Get(name))
				calls = append(calls, name)
				return nil
			},
		}
	}
	halter := &haltRecorder{}
	seq, err := NewSequencer([]Step{
		step("a"),
		step("b", "a"),
		step("c", "a", "b"),
	}, nil, halter)
	require.NoError(t, err)
	require.NoError(t, seq.Run(context.Background()))
	require.Equal(t, []string{"a", "b", "c"}, calls)
	require.Equal(t, []string{"a", "b", "c"}, seq.Log.Steps())
	require.Empty(t, halter.errs)
	for _, name := range calls {
		require.Equal(t, Ready, seq.State.Get(name))
	}
}

func TestSequencerFailFast(t *testing.T) {
	failure := errors.New("boom")
	var calls []string
	cases := []struct {
		name string
		step Step
	}{
		{"init", Step{Name: "b", Deps: []string{"a"}, Init: func(context.Context) error {
			calls = append(calls, "b")
			return failure
		}}},
		{"check", Step{Name: "b", Deps: []string{"a"}, Init: func(context.Context) error {
			calls = append(calls, "b")
			return nil
		}, Check: func() error { return failure }}},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			calls = nil
			halter := &haltRecorder{}
			seq, err := NewSequencer([]Step{
				{Name: "a", Init: func(context.Context) error { calls = append(calls, "a"); return nil }},
				c.step,
				{Name: "c", Deps: []string{"b"}, Init: func(context.Context) error { calls = append(calls, "c"); return nil }},
			}, nil, halter)
			require.NoError(t, err)
			err = seq.Run(context.Background())
			var ferr *FatalError
			require.True(t, errors.As(err, &ferr))
			require.Equal(t, "b", ferr.Step)
			require.True(t, errors.Is(err, failure))
			require.Equal(t, []string{"a", "b"}, calls)
			require.Len(t, halter.errs, 1)
			require.Equal(t, ferr, halter.errs[0])
			require.Equal(t, Failed, seq.State.Get("b"))
			require.Equal(t, NotStarted, seq.State.Get("c"))

			entries := seq.Log.Entries()
			last := entries[len(entries)-1]
			require.True(t, last.Fatal)
			require.Equal(t, "b", last.Step)
			require.Equal(t, []string{"a", "b"}, seq.Log.Steps())
		})
	}
}

func TestSequencerDependencyNotReady(t *testing.T) {
	halter := &haltRecorder{}
	seq, err := NewSequencer([]Step{{Name: "a"}, {Name: "b", Deps: []string{"a"}}}, nil, halter)
	require.NoError(t, err)
	// a state moved out of band is not Ready
	seq.State = NewReadiness()
	require.NoError(t, seq.State.Set("a", Initializing))
	seq.Steps = seq.Steps[1:]
	err = seq.Run(context.Background())
	require.True(t, errors.Is(err, ErrDependencyNotReady))
	require.Len(t, halter.errs, 1)
	require.Equal(t, NotStarted, seq.State.Get("b"))
}

func TestSequencerHaltsOnce(t *testing.T) {
	halter := &haltRecorder{}
	seq, err := NewSequencer([]Step{{Name: "a", Init: func(context.Context) error {
		return errors.New("fail")
	}}}, nil, halter)
	require.NoError(t, err)
	require.Error(t, seq.Run(context.Background()))
	require.Error(t, seq.Run(context.Background()))
	require.Len(t, halter.errs, 1)
}

func TestReadinessMonotonic(t *testing.T) {
	r := NewReadiness()
	require.Equal(t, NotStarted, r.Get("x"))
	cases := []struct {
		next State
		ok   bool
	}{
		{Ready, false},
		{Failed, false},
		{Initializing, true},
		{NotStarted, false},
		{Initializing, false},
		{Ready, true},
		{Initializing, false},
		{Failed, false},
		{NotStarted, false},
	}
	for _, c := range cases {
		err := r.Set("x", c.next)
		if c.ok {
			require.NoError(t, err)
			require.Equal(t, c.next, r.Get("x"))
		} else {
			require.True(t, errors.Is(err, ErrStateRegression), "-> %s", c.next)
		}
	}
	require.Equal(t, map[string]State{"x": Ready}, r.Snapshot())
	require.True(t, Ready.Terminal())
	require.False(t, Initializing.Terminal())
}
