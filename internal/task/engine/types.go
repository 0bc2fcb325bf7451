package engine

import (
	"context"
	"sync"
	"time"
)

// Config controls the dispatch engine.
type Config struct {
	// HistorySize bounds the ring of recent results kept for diagnostics.
	HistorySize int
}

type OverlapPolicy int

const (
	// OverlapSkipIfRunning skips a dispatch while a previous run of the same task is in-flight.
	OverlapSkipIfRunning OverlapPolicy = iota
	// OverlapAllow lets runs of the same task overlap.
	OverlapAllow
)

func (p OverlapPolicy) String() string {
	switch p {
	case OverlapAllow:
		return "allow"
	default:
		return "skip"
	}
}

// RunState tracks whether a task is already in-flight.
type RunState struct {
	mu       sync.Mutex
	inflight int
}

func (s *RunState) tryAcquire() bool {
	if s == nil {
		return true
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.inflight > 0 {
		return false
	}
	s.inflight++
	return true
}

func (s *RunState) release() {
	if s == nil {
		return
	}
	s.mu.Lock()
	if s.inflight > 0 {
		s.inflight--
	}
	s.mu.Unlock()
}

// Running reports whether a run is currently in-flight.
func (s *RunState) Running() bool {
	if s == nil {
		return false
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.inflight > 0
}

// Task is one unit of work dispatched on a tick.
//
// OnDone is called after Run returns (or panics) with the completion result;
// it is not called for skipped dispatches.
type Task struct {
	Name    string
	Run     func(ctx context.Context) error
	Overlap OverlapPolicy
	State   *RunState
	OnDone  func(Result)
}

// Result is the outcome of one dispatched task.
type Result struct {
	ID       string
	Batch    string
	Name     string
	Started  time.Time
	Finished time.Time
	Skipped  bool
	Err      error
}

func (r Result) Duration() time.Duration {
	if r.Finished.IsZero() {
		return 0
	}
	return r.Finished.Sub(r.Started)
}

type HistoryItem struct {
	ID       string
	Name     string
	Started  time.Time
	Duration time.Duration
	Skipped  bool
	Error    string
}

// TaskEvent is emitted on the event bus for task lifecycle events.
type TaskEvent struct {
	ID       string        `json:"id"`
	Batch    string        `json:"batch"`
	Name     string        `json:"name"`
	Started  time.Time     `json:"started"`
	Duration time.Duration `json:"duration"`
	Error    string        `json:"error,omitempty"`
}

// Snapshot is a lightweight view for diagnostics.
type Snapshot struct {
	InFlight   int
	Dispatched uint64
	Failed     uint64
	Skipped    uint64
	History    []HistoryItem
}
