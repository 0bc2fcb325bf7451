package scheduler

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"timelapse/internal/eventbus"
	"timelapse/internal/storage"
	"timelapse/internal/task/engine"
	logx "timelapse/pkg/logx"
)

const (
	DefaultSaveInterval = 15 * time.Minute
	DefaultSaveIdentity = "schedule.save"
)

type Config struct {
	// DefaultTick is the polling interval used while nothing is registered.
	DefaultTick time.Duration
	// SaveInterval is the interval of the built-in event that persists the registry.
	SaveInterval time.Duration
	SaveIdentity string
}

// Service is the scheduler loop: it wakes once per tick, finds due events and
// hands them to the engine. It never waits for dispatched work.
type Service struct {
	cfg   Config
	log   logx.Logger
	bus   eventbus.Bus
	eng   *engine.Service
	store storage.Store
	reg   *Registry

	now func() time.Time

	loadOnce sync.Once

	mu       sync.Mutex
	lastTick time.Time
	ticks    uint64
	lastSave time.Time
	saveErr  error
}

// New builds the scheduler and registers the housekeeping save event.
// store may be nil, in which case persistence is disabled.
func New(cfg Config, eng *engine.Service, store storage.Store, log logx.Logger, bus eventbus.Bus) (*Service, error) {
	if log.IsZero() {
		log = logx.Nop()
	}
	if cfg.DefaultTick <= 0 {
		cfg.DefaultTick = DefaultTick
	}
	if cfg.SaveInterval <= 0 {
		cfg.SaveInterval = DefaultSaveInterval
	}
	cfg.SaveIdentity = strings.TrimSpace(cfg.SaveIdentity)
	if cfg.SaveIdentity == "" {
		cfg.SaveIdentity = DefaultSaveIdentity
	}
	if eng == nil {
		eng = engine.New(engine.Config{}, log, bus)
	}
	s := &Service{
		cfg:   cfg,
		log:   log,
		bus:   bus,
		eng:   eng,
		store: store,
		reg:   NewRegistry(cfg.DefaultTick),
		now:   time.Now,
	}
	if err := s.reg.Register(Event{
		Identity: cfg.SaveIdentity,
		Interval: cfg.SaveInterval,
		Work:     s.Save,
	}); err != nil {
		return nil, err
	}
	return s, nil
}

// Register adds an event. Duplicate identities are a configuration error.
func (s *Service) Register(ev Event) error {
	if err := s.reg.Register(ev); err != nil {
		return err
	}
	s.log.Debug("event registered",
		logx.String("event", ev.Identity),
		logx.Duration("interval", ev.Interval),
		logx.String("overlap", ev.Overlap.String()),
		logx.Duration("tick", s.reg.Tick()),
	)
	return nil
}

func (s *Service) Registry() *Registry { return s.reg }

// Run drives the loop until ctx is done. Due events are evaluated
// immediately, then once per tick.
//
// The persisted state is loaded by the first Run only; a restarted loop keeps
// the in-memory last runs, which are never older than the record.
func (s *Service) Run(ctx context.Context) error {
	s.loadOnce.Do(func() {
		if err := s.Load(ctx); err != nil {
			s.log.Warn("schedule load failed; starting with empty state", logx.Err(err))
		}
	})
	tick := s.reg.Tick()
	s.log.Info("scheduler started", logx.Duration("tick", tick), logx.Int("events", s.reg.Len()))

	t := time.NewTimer(0)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			s.log.Info("scheduler stopped")
			return nil
		case <-t.C:
		}
		s.Evaluate(ctx, s.now())
		t.Reset(s.reg.Tick())
	}
}

// Evaluate dispatches every event due at now and returns the tick's batch
// without waiting for it. Each event's last run is marked with its completion
// time, whether it succeeded or not.
func (s *Service) Evaluate(ctx context.Context, now time.Time) *engine.Batch {
	due := s.reg.DueEvents(now)

	s.mu.Lock()
	s.lastTick = now
	s.ticks++
	s.mu.Unlock()

	tasks := make([]engine.Task, 0, len(due))
	for _, ev := range due {
		identity := ev.Identity
		tasks = append(tasks, engine.Task{
			Name:    identity,
			Run:     ev.Work,
			Overlap: ev.Overlap,
			State:   s.reg.state(identity),
			OnDone: func(r engine.Result) {
				if err := s.reg.MarkRun(identity, r.Finished); err != nil {
					s.log.Debug("mark run ignored", logx.String("event", identity), logx.Err(err))
				}
			},
		})
	}
	if len(tasks) > 0 {
		s.log.Trace("tick", logx.Int("due", len(tasks)))
	}
	return s.eng.Dispatch(ctx, tasks)
}

// Save persists the registry. Failures are logged and returned; the in-memory
// registry stays authoritative.
func (s *Service) Save(ctx context.Context) error {
	if s.store == nil {
		return nil
	}
	recs := s.reg.Records()
	err := s.store.SaveSchedule(ctx, recs)

	s.mu.Lock()
	s.saveErr = err
	if err == nil {
		s.lastSave = s.now()
	}
	s.mu.Unlock()

	if err != nil {
		s.log.Warn("schedule save failed", logx.Err(err))
		return err
	}
	s.log.Debug("schedule saved", logx.Int("events", len(recs)))
	eventbus.Publish(s.bus, eventbus.ScheduleSaved, map[string]any{"events": len(recs)})
	return nil
}

// Load applies the persisted last-run times. A missing record is an empty
// prior state; a corrupt one is reported and leaves the registry untouched.
func (s *Service) Load(ctx context.Context) error {
	if s.store == nil {
		return nil
	}
	recs, err := s.store.LoadSchedule(ctx)
	if err != nil {
		if errors.Is(err, storage.ErrDisabled) {
			return nil
		}
		return err
	}
	n := s.reg.Restore(recs)
	s.log.Info("schedule loaded", logx.Int("records", len(recs)), logx.Int("applied", n))
	return nil
}

// EventInfo is the read-only view of one event.
type EventInfo struct {
	Identity string
	Interval time.Duration
	Overlap  string
	LastRun  time.Time
	NextDue  time.Time
	Running  bool
}

type Snapshot struct {
	Tick     time.Duration
	Ticks    uint64
	LastTick time.Time
	LastSave time.Time
	SaveErr  string
	Events   []EventInfo
	Engine   engine.Snapshot
}

func (s *Service) Snapshot() Snapshot {
	s.mu.Lock()
	snap := Snapshot{
		Tick:     s.reg.Tick(),
		Ticks:    s.ticks,
		LastTick: s.lastTick,
		LastSave: s.lastSave,
	}
	if s.saveErr != nil {
		snap.SaveErr = s.saveErr.Error()
	}
	s.mu.Unlock()

	s.reg.mu.RLock()
	entries := append([]*entry(nil), s.reg.entries...)
	s.reg.mu.RUnlock()
	for _, e := range entries {
		last := e.last()
		info := EventInfo{
			Identity: e.ev.Identity,
			Interval: e.ev.Interval,
			Overlap:  e.ev.Overlap.String(),
			LastRun:  last,
			Running:  e.state.Running(),
		}
		if !last.IsZero() {
			info.NextDue = last.Add(e.ev.Interval)
		}
		snap.Events = append(snap.Events, info)
	}
	snap.Engine = s.eng.Snapshot()
	return snap
}
