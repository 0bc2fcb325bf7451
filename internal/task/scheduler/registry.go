package scheduler

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"timelapse/internal/storage"
	"timelapse/internal/task/engine"
)

// Event is a named unit of work with its own interval.
//
// Identity is the persistence key: keep it stable across releases.
type Event struct {
	Identity string
	Interval time.Duration
	Work     func(ctx context.Context) error
	Overlap  engine.OverlapPolicy
}

type entry struct {
	ev    Event
	state engine.RunState

	mu      sync.Mutex
	lastRun time.Time
}

func (e *entry) last() time.Time {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.lastRun
}

func (e *entry) due(now time.Time) bool {
	last := e.last()
	if last.IsZero() {
		return true
	}
	return now.Sub(last) >= e.ev.Interval
}

// Registry holds the events in registration order.
//
// Only last-run times change after configuration. Each event guards its own
// last-run, so concurrent completions of different events never contend.
type Registry struct {
	mu          sync.RWMutex
	entries     []*entry
	index       map[string]*entry
	defaultTick time.Duration
	tick        time.Duration
}

func NewRegistry(defaultTick time.Duration) *Registry {
	if defaultTick <= 0 {
		defaultTick = DefaultTick
	}
	return &Registry{index: map[string]*entry{}, defaultTick: defaultTick, tick: defaultTick}
}

// Register appends ev and recomputes the tick.
func (r *Registry) Register(ev Event) error {
	ev.Identity = strings.TrimSpace(ev.Identity)
	if ev.Identity == "" {
		return fmt.Errorf("%w: identity required", ErrInvalidEvent)
	}
	if ev.Interval <= 0 {
		return fmt.Errorf("%w: %s: interval must be > 0", ErrInvalidEvent, ev.Identity)
	}
	if ev.Work == nil {
		return fmt.Errorf("%w: %s: work required", ErrInvalidEvent, ev.Identity)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.index[ev.Identity]; ok {
		return fmt.Errorf("%w: %s", ErrDuplicateIdentity, ev.Identity)
	}
	e := &entry{ev: ev}
	r.entries = append(r.entries, e)
	r.index[ev.Identity] = e

	intervals := make([]time.Duration, len(r.entries))
	for i, x := range r.entries {
		intervals[i] = x.ev.Interval
	}
	r.tick = ComputeTick(intervals, r.defaultTick)
	return nil
}

// Tick is the current polling interval.
func (r *Registry) Tick() time.Duration {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.tick
}

func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.entries)
}

// DueEvents returns, in registration order, every event with now - last_run >= interval.
// Events that never ran are always due.
func (r *Registry) DueEvents(now time.Time) []Event {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []Event
	for _, e := range r.entries {
		if e.due(now) {
			out = append(out, e.ev)
		}
	}
	return out
}

// MarkRun records ts as the event's last run, truncated to milliseconds so it
// survives the persisted record unchanged.
func (r *Registry) MarkRun(identity string, ts time.Time) error {
	e := r.lookup(identity)
	if e == nil {
		return fmt.Errorf("%w: %s", ErrUnknownIdentity, identity)
	}
	e.mu.Lock()
	e.lastRun = normalize(ts)
	e.mu.Unlock()
	return nil
}

// LastRun returns the event's last-run time (zero if it never ran).
func (r *Registry) LastRun(identity string) (time.Time, bool) {
	e := r.lookup(identity)
	if e == nil {
		return time.Time{}, false
	}
	return e.last(), true
}

func (r *Registry) lookup(identity string) *entry {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.index[strings.TrimSpace(identity)]
}

func (r *Registry) state(identity string) *engine.RunState {
	if e := r.lookup(identity); e != nil {
		return &e.state
	}
	return nil
}

// Records captures the persisted view of the registry.
func (r *Registry) Records() []storage.Record {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]storage.Record, 0, len(r.entries))
	for _, e := range r.entries {
		out = append(out, storage.Record{Identity: e.ev.Identity, LastRun: e.last()})
	}
	return out
}

// Restore applies persisted last-run times by identity. Identities missing
// from the registry are ignored; it returns how many were applied.
func (r *Registry) Restore(recs []storage.Record) int {
	n := 0
	for _, rec := range recs {
		e := r.lookup(rec.Identity)
		if e == nil {
			continue
		}
		e.mu.Lock()
		e.lastRun = normalize(rec.LastRun)
		e.mu.Unlock()
		n++
	}
	return n
}

func normalize(ts time.Time) time.Time {
	if ts.IsZero() {
		return time.Time{}
	}
	return ts.Truncate(time.Millisecond)
}
