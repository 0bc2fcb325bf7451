package scheduler

import (
	"context"
	"testing"
	"time"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/stretchr/testify/require"

	"timelapse/internal/storage"
)

func noop(context.Context) error { return nil }

func identities(evs []Event) []string {
	out := make([]string, len(evs))
	for i, ev := range evs {
		out[i] = ev.Identity
	}
	return out
}

func TestRegistryRegister(t *testing.T) {
	r := NewRegistry(0)
	require.Equal(t, DefaultTick, r.Tick())

	require.NoError(t, r.Register(Event{Identity: "capture", Interval: 15 * time.Minute, Work: noop}))
	require.Equal(t, 15*time.Minute, r.Tick())
	require.NoError(t, r.Register(Event{Identity: "status", Interval: 5 * time.Minute, Work: noop}))
	require.Equal(t, 5*time.Minute, r.Tick())

	err := r.Register(Event{Identity: "capture", Interval: time.Minute, Work: noop})
	require.ErrorIs(t, err, ErrDuplicateIdentity)
	require.Equal(t, 2, r.Len())
	require.Equal(t, 5*time.Minute, r.Tick())

	require.ErrorIs(t, r.Register(Event{Identity: " ", Interval: time.Minute, Work: noop}), ErrInvalidEvent)
	require.ErrorIs(t, r.Register(Event{Identity: "x", Work: noop}), ErrInvalidEvent)
	require.ErrorIs(t, r.Register(Event{Identity: "x", Interval: time.Minute}), ErrInvalidEvent)
}

func TestRegistryDueEvents(t *testing.T) {
	r := NewRegistry(0)
	require.NoError(t, r.Register(Event{Identity: "a", Interval: 10 * time.Second, Work: noop}))
	require.NoError(t, r.Register(Event{Identity: "b", Interval: 30 * time.Second, Work: noop}))
	require.NoError(t, r.Register(Event{Identity: "c", Interval: time.Minute, Work: noop}))

	now := time.UnixMilli(1_700_000_000_000)
	// Never-run events are due, in registration order.
	require.Equal(t, []string{"a", "b", "c"}, identities(r.DueEvents(now)))

	for _, id := range []string{"a", "b", "c"} {
		require.NoError(t, r.MarkRun(id, now))
	}
	require.Empty(t, r.DueEvents(now.Add(9*time.Second)))
	require.Equal(t, []string{"a"}, identities(r.DueEvents(now.Add(10*time.Second))))
	require.Equal(t, []string{"a", "b"}, identities(r.DueEvents(now.Add(30*time.Second))))
	require.Equal(t, []string{"a", "b", "c"}, identities(r.DueEvents(now.Add(time.Minute))))

	// DueEvents does not mutate.
	require.Equal(t, []string{"a", "b", "c"}, identities(r.DueEvents(now.Add(time.Minute))))
}

func TestRegistryMarkRunUnknown(t *testing.T) {
	r := NewRegistry(0)
	require.ErrorIs(t, r.MarkRun("ghost", time.Now()), ErrUnknownIdentity)
	_, ok := r.LastRun("ghost")
	require.False(t, ok)
}

func TestRegistryRecordsRestore(t *testing.T) {
	r := NewRegistry(0)
	require.NoError(t, r.Register(Event{Identity: "a", Interval: time.Minute, Work: noop}))
	require.NoError(t, r.Register(Event{Identity: "b", Interval: time.Minute, Work: noop}))

	ts := time.Unix(1_700_000_000, 123_456_789)
	n := r.Restore([]storage.Record{
		{Identity: "b", LastRun: ts},
		{Identity: "removed", LastRun: ts},
	})
	require.Equal(t, 1, n)

	last, ok := r.LastRun("a")
	require.True(t, ok)
	require.True(t, last.IsZero())
	last, _ = r.LastRun("b")
	require.True(t, last.Equal(ts.Truncate(time.Millisecond)))

	recs := r.Records()
	require.Len(t, recs, 2)
	require.Equal(t, "a", recs[0].Identity)
	require.Equal(t, "b", recs[1].Identity)
}

// Property: an event is due iff it never ran or now - last_run >= interval.
func TestRegistryDueProperty(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 200
	properties := gopter.NewProperties(parameters)

	base := time.UnixMilli(1_700_000_000_000)
	properties.Property("due iff elapsed >= interval", prop.ForAll(
		func(intervalSec, elapsedSec int64, ran bool) bool {
			r := NewRegistry(0)
			iv := time.Duration(intervalSec) * time.Second
			if err := r.Register(Event{Identity: "e", Interval: iv, Work: noop}); err != nil {
				return false
			}
			if ran {
				_ = r.MarkRun("e", base)
			}
			now := base.Add(time.Duration(elapsedSec) * time.Second)
			want := !ran || time.Duration(elapsedSec)*time.Second >= iv
			return (len(r.DueEvents(now)) == 1) == want
		},
		gen.Int64Range(1, 7200),
		gen.Int64Range(0, 14400),
		gen.Bool(),
	))

	properties.TestingRun(t)
}
