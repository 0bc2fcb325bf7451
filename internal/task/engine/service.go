package engine

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"timelapse/internal/eventbus"
	logx "timelapse/pkg/logx"
)

// Service dispatches tasks onto their own goroutines.
//
// There is no worker pool: every dispatched task runs independently so a slow
// task never delays another one, nor the caller's next tick.
type Service struct {
	cfg Config
	log logx.Logger
	bus eventbus.Bus

	inFlight   atomic.Int32
	dispatched atomic.Uint64
	failed     atomic.Uint64
	skipped    atomic.Uint64

	hmu     sync.Mutex
	history []HistoryItem
}

func New(cfg Config, log logx.Logger, bus eventbus.Bus) *Service {
	if cfg.HistorySize <= 0 {
		cfg.HistorySize = 200
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Service{cfg: cfg, log: log, bus: bus}
}

// Batch is the task group started for one tick. Results are collected as
// tasks complete; completion order is unspecified.
type Batch struct {
	id      string
	wg      sync.WaitGroup
	mu      sync.Mutex
	results []Result
}

func (b *Batch) ID() string { return b.id }

func (b *Batch) add(r Result) {
	b.mu.Lock()
	b.results = append(b.results, r)
	b.mu.Unlock()
}

// Wait blocks until every task of the batch has completed and returns all results.
func (b *Batch) Wait() []Result {
	b.wg.Wait()
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]Result, len(b.results))
	copy(out, b.results)
	return out
}

// Dispatch starts every task, in order, without waiting for any of them.
func (s *Service) Dispatch(ctx context.Context, tasks []Task) *Batch {
	b := &Batch{id: uuid.NewString()}
	for _, t := range tasks {
		if t.Run == nil {
			continue
		}
		id := uuid.NewString()
		if t.Overlap == OverlapSkipIfRunning && !t.State.tryAcquire() {
			s.onSkipped(b, id, t)
			continue
		}
		s.dispatched.Add(1)
		b.wg.Add(1)
		go func(t Task, id string) {
			defer b.wg.Done()
			if t.Overlap == OverlapSkipIfRunning {
				defer t.State.release()
			}
			s.execOne(ctx, b, id, t)
		}(t, id)
	}
	return b
}

func (s *Service) onSkipped(b *Batch, id string, t Task) {
	now := time.Now()
	s.skipped.Add(1)
	r := Result{ID: id, Batch: b.id, Name: t.Name, Started: now, Skipped: true, Err: ErrOverlapSkip}
	b.add(r)
	s.record(r)
	s.log.Debug("task.skipped", logx.String("task", t.Name), logx.String("reason", "still running"))
	eventbus.Publish(s.bus, eventbus.TaskSkipped, TaskEvent{ID: id, Batch: b.id, Name: t.Name, Started: now})
}

func (s *Service) record(r Result) {
	item := HistoryItem{ID: r.ID, Name: r.Name, Started: r.Started, Duration: r.Duration(), Skipped: r.Skipped}
	if r.Err != nil {
		item.Error = r.Err.Error()
	}
	s.hmu.Lock()
	s.history = append(s.history, item)
	if len(s.history) > s.cfg.HistorySize {
		s.history = s.history[len(s.history)-s.cfg.HistorySize:]
	}
	s.hmu.Unlock()
}

func (s *Service) Snapshot() Snapshot {
	s.hmu.Lock()
	hist := make([]HistoryItem, len(s.history))
	copy(hist, s.history)
	s.hmu.Unlock()
	return Snapshot{
		InFlight:   int(s.inFlight.Load()),
		Dispatched: s.dispatched.Load(),
		Failed:     s.failed.Load(),
		Skipped:    s.skipped.Load(),
		History:    hist,
	}
}
