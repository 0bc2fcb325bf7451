// Package consolidate folds stored frames into a zip archive and a video.
//
// Trigger starts every operation on its own goroutine and returns at once.
// An operation that is still running when triggered again is skipped; the
// next trigger picks up every frame anyway.
package consolidate

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"timelapse/internal/eventbus"
	logx "timelapse/pkg/logx"
)

var ErrNoFrames = errors.New("no frames to consolidate")

// Op rebuilds one artifact from the given frame paths (in capture order) and
// returns the artifact path.
type Op interface {
	Name() string
	Build(ctx context.Context, frames []string) (string, error)
}

// Publisher ships a finished artifact somewhere else.
type Publisher interface {
	Publish(ctx context.Context, path string) error
}

// Frames lists stored frames as paths in capture order.
type Frames interface {
	Paths() ([]string, error)
}

// Spawner runs fire-and-forget work; *supervisor.Supervisor satisfies it.
type Spawner interface {
	Go0(name string, fn func(ctx context.Context))
}

type Option func(*Trigger)

func WithLogger(log logx.Logger) Option { return func(t *Trigger) { t.log = log } }
func WithBus(bus eventbus.Bus) Option   { return func(t *Trigger) { t.bus = bus } }
func WithSpawner(s Spawner) Option      { return func(t *Trigger) { t.spawn = s } }

// WithPublisher publishes every artifact after a successful build.
func WithPublisher(p Publisher) Option { return func(t *Trigger) { t.pub = p } }

type slot struct {
	op   Op
	busy sync.Mutex

	runs     atomic.Uint64
	failures atomic.Uint64
	skipped  atomic.Uint64

	running atomic.Int32

	mu      sync.Mutex
	last    time.Time
	lastOut string
	lastErr string
	lastDur time.Duration
}

type Trigger struct {
	frames Frames
	slots  []*slot
	pub    Publisher
	spawn  Spawner
	log    logx.Logger
	bus    eventbus.Bus

	wg sync.WaitGroup
}

func NewTrigger(frames Frames, ops []Op, opts ...Option) *Trigger {
	t := &Trigger{frames: frames}
	for _, op := range ops {
		if op != nil {
			t.slots = append(t.slots, &slot{op: op})
		}
	}
	for _, o := range opts {
		o(t)
	}
	if t.log.IsZero() {
		t.log = logx.Nop()
	}
	return t
}

// Event is published on the bus for consolidation lifecycle events.
type Event struct {
	Op       string        `json:"op"`
	Frames   int           `json:"frames,omitempty"`
	Output   string        `json:"output,omitempty"`
	Duration time.Duration `json:"duration,omitempty"`
	Error    string        `json:"error,omitempty"`
}

// Trigger starts every operation without waiting for any of them.
func (t *Trigger) Trigger(ctx context.Context) {
	for _, s := range t.slots {
		if !s.busy.TryLock() {
			s.skipped.Add(1)
			t.log.Info("consolidate.skipped", logx.String("op", s.op.Name()), logx.String("reason", "still running"))
			continue
		}
		s.running.Add(1)
		t.wg.Add(1)
		run := func(ctx context.Context) {
			defer t.wg.Done()
			defer func() {
				s.busy.Unlock()
				s.running.Add(-1)
			}()
			t.run(ctx, s)
		}
		if t.spawn != nil {
			t.spawn.Go0("consolidate."+s.op.Name(), run)
		} else {
			go run(context.WithoutCancel(ctx))
		}
	}
}

func (t *Trigger) run(ctx context.Context, s *slot) {
	name := s.op.Name()
	start := time.Now()
	s.runs.Add(1)

	out, n, err := t.build(ctx, s)
	dur := time.Since(start)

	s.mu.Lock()
	s.last = time.Now()
	s.lastDur = dur
	if err != nil {
		s.lastErr = err.Error()
	} else {
		s.lastErr = ""
		s.lastOut = out
	}
	s.mu.Unlock()

	if err != nil {
		if errors.Is(err, ErrNoFrames) {
			t.log.Info("consolidate.nothing to do", logx.String("op", name))
			return
		}
		s.failures.Add(1)
		t.log.Error("consolidate.failed", logx.String("op", name), logx.Int("frames", n), logx.Duration("dur", dur), logx.Err(err))
		eventbus.Publish(t.bus, eventbus.ConsolidateFailed, Event{Op: name, Frames: n, Duration: dur, Error: err.Error()})
		return
	}
	t.log.Info("consolidate.finished", logx.String("op", name), logx.Int("frames", n), logx.String("output", out), logx.Duration("dur", dur))
	eventbus.Publish(t.bus, eventbus.ConsolidateFinished, Event{Op: name, Frames: n, Output: out, Duration: dur})
}

func (t *Trigger) build(ctx context.Context, s *slot) (out string, n int, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = errors.New("panic in consolidation")
			t.log.Error("consolidate.panic", logx.String("op", s.op.Name()), logx.Any("panic", r))
		}
	}()
	frames, err := t.frames.Paths()
	if err != nil {
		return "", 0, err
	}
	if len(frames) == 0 {
		return "", 0, ErrNoFrames
	}
	n = len(frames)
	t.log.Debug("consolidate.started", logx.String("op", s.op.Name()), logx.Int("frames", n))
	eventbus.Publish(t.bus, eventbus.ConsolidateStarted, Event{Op: s.op.Name(), Frames: n})

	out, err = s.op.Build(ctx, frames)
	if err != nil {
		return "", n, err
	}
	if t.pub != nil {
		if err := t.pub.Publish(ctx, out); err != nil {
			return out, n, err
		}
	}
	return out, n, nil
}

// Wait blocks until every started operation has returned or ctx is done.
func (t *Trigger) Wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		t.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// OpStatus is a read-only view of one operation.
type OpStatus struct {
	Name     string
	Running  bool
	Runs     uint64
	Failures uint64
	Skipped  uint64
	Last     time.Time
	LastDur  time.Duration
	Output   string
	LastErr  string
}

func (t *Trigger) Status() []OpStatus {
	out := make([]OpStatus, 0, len(t.slots))
	for _, s := range t.slots {
		s.mu.Lock()
		st := OpStatus{
			Name:    s.op.Name(),
			Last:    s.last,
			LastDur: s.lastDur,
			Output:  s.lastOut,
			LastErr: s.lastErr,
		}
		s.mu.Unlock()
		st.Running = s.running.Load() > 0
		st.Runs = s.runs.Load()
		st.Failures = s.failures.Load()
		st.Skipped = s.skipped.Load()
		out = append(out, st)
	}
	return out
}
