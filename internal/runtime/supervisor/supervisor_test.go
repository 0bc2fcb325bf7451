package supervisor

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestGoRecordsFirstErrorAndPanics(t *testing.T) {
	s := New(context.Background())
	s.Go("fails", func(context.Context) error { return errors.New("boom") })
	s.Go0("panics", func(context.Context) { panic("bad") })

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	err := s.Wait(ctx)
	require.Error(t, err)

	snap := s.Snapshot()
	require.Len(t, snap.Goroutines, 2)
	require.Equal(t, "fails", snap.Goroutines[0].Name)
	require.Contains(t, snap.Goroutines[0].LastErr, "boom")
	require.EqualValues(t, 1, snap.Goroutines[1].Panics)
	require.Zero(t, snap.Counters.Active)
}

func TestCancelOnError(t *testing.T) {
	for _, on := range []bool{true, false} {
		s := New(context.Background(), WithCancelOnError(on))
		s.Go("fails", func(context.Context) error { return errors.New("boom") })

		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		require.ErrorContains(t, s.Wait(ctx), "boom")
		cancel()
		require.Equal(t, on, s.Context().Err() != nil, "cancel on error %v", on)
		s.Cancel()
	}
}

func TestGoIgnoresCancellation(t *testing.T) {
	s := New(context.Background())
	s.Go("loop", func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	})
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, s.Stop(ctx))
	require.NoError(t, s.Err())
}

func TestGoRestartRetriesUntilNil(t *testing.T) {
	s := New(context.Background())
	var runs atomic.Int32
	s.GoRestart("flaky", func(context.Context) error {
		if runs.Add(1) < 3 {
			return errors.New("not yet")
		}
		return nil
	}, time.Millisecond, 2*time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, s.Wait(ctx))
	require.EqualValues(t, 3, runs.Load())

	var restarts uint64
	for _, g := range s.Snapshot().Goroutines {
		if g.Name == "flaky" {
			restarts = g.Restarts
		}
	}
	require.EqualValues(t, 2, restarts)
}

func TestWaitHonorsDeadline(t *testing.T) {
	s := New(context.Background())
	release := make(chan struct{})
	s.Go0("stuck", func(context.Context) { <-release })
	defer close(release)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	require.ErrorIs(t, s.Wait(ctx), context.DeadlineExceeded)
}
