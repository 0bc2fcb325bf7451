package engine

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"timelapse/internal/eventbus"
	logx "timelapse/pkg/logx"
)

func TestDispatchIsolatesFailuresAndPanics(t *testing.T) {
	bus := eventbus.New()
	events, unsub := bus.Subscribe(32)
	defer unsub()

	s := New(Config{}, logx.Nop(), bus)

	var okRuns atomic.Int32
	var done atomic.Int32
	onDone := func(Result) { done.Add(1) }
	b := s.Dispatch(context.Background(), []Task{
		{Name: "boom", Overlap: OverlapAllow, Run: func(context.Context) error { panic("kaboom") }, OnDone: onDone},
		{Name: "fail", Overlap: OverlapAllow, Run: func(context.Context) error { return errors.New("nope") }, OnDone: onDone},
		{Name: "ok", Overlap: OverlapAllow, Run: func(context.Context) error { okRuns.Add(1); return nil }, OnDone: onDone},
	})

	results := b.Wait()
	require.Len(t, results, 3)
	require.EqualValues(t, 1, okRuns.Load())
	require.EqualValues(t, 3, done.Load())

	byName := map[string]Result{}
	for _, r := range results {
		byName[r.Name] = r
	}
	require.ErrorContains(t, byName["boom"].Err, "panic: kaboom")
	require.EqualError(t, byName["fail"].Err, "nope")
	require.NoError(t, byName["ok"].Err)

	snap := s.Snapshot()
	require.EqualValues(t, 3, snap.Dispatched)
	require.EqualValues(t, 2, snap.Failed)
	require.Len(t, snap.History, 3)

	failed := 0
	for len(events) > 0 {
		if e := <-events; e.Type == eventbus.TaskFailed {
			failed++
		}
	}
	require.Equal(t, 2, failed)
}

func TestDispatchDoesNotWaitForSlowTasks(t *testing.T) {
	s := New(Config{}, logx.Nop(), nil)
	release := make(chan struct{})

	start := time.Now()
	b := s.Dispatch(context.Background(), []Task{
		{Name: "slow", Overlap: OverlapAllow, Run: func(context.Context) error { <-release; return nil }},
	})
	require.Less(t, time.Since(start), 100*time.Millisecond)
	require.Eventually(t, func() bool { return s.Snapshot().InFlight == 1 }, time.Second, 5*time.Millisecond)

	close(release)
	b.Wait()
	require.Equal(t, 0, s.Snapshot().InFlight)
}

func TestDispatchSkipsOverlappingRun(t *testing.T) {
	s := New(Config{}, logx.Nop(), nil)
	state := &RunState{}
	release := make(chan struct{})
	task := Task{Name: "capture", Overlap: OverlapSkipIfRunning, State: state, Run: func(context.Context) error {
		<-release
		return nil
	}}

	first := s.Dispatch(context.Background(), []Task{task})
	require.Eventually(t, state.Running, time.Second, 5*time.Millisecond)

	second := s.Dispatch(context.Background(), []Task{task}).Wait()
	require.Len(t, second, 1)
	require.True(t, second[0].Skipped)
	require.ErrorIs(t, second[0].Err, ErrOverlapSkip)

	close(release)
	first.Wait()
	require.False(t, state.Running())
	require.EqualValues(t, 1, s.Snapshot().Skipped)
}

func TestHistoryIsBounded(t *testing.T) {
	s := New(Config{HistorySize: 2}, logx.Nop(), nil)
	for i := 0; i < 5; i++ {
		s.Dispatch(context.Background(), []Task{{Name: "n", Overlap: OverlapAllow, Run: func(context.Context) error { return nil }}}).Wait()
	}
	require.Len(t, s.Snapshot().History, 2)
}
