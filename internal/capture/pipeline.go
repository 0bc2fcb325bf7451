package capture

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"timelapse/internal/eventbus"
	logx "timelapse/pkg/logx"
)

// Pipeline runs one capture per Run call.
//
// Overlapping runs are allowed; the counters are guarded by mu and each run
// applies its outcome atomically.
type Pipeline struct {
	src    Source
	metric Metric
	store  FrameStore
	cons   Consolidator
	log    logx.Logger
	bus    eventbus.Bus

	now func() time.Time

	cmu sync.RWMutex
	cfg Config

	mu       sync.Mutex
	count    int
	desc     Descriptor
	lastFile string
	level    float64
	accepted uint64
	rejected uint64
	failed   uint64
	consols  uint64
}

// New builds a pipeline. cons may be nil, in which case reaching the buffer
// only resets the counter.
func New(cfg Config, src Source, metric Metric, store FrameStore, cons Consolidator, log logx.Logger, bus eventbus.Bus) *Pipeline {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Pipeline{
		src:    src,
		metric: metric,
		store:  store,
		cons:   cons,
		log:    log,
		bus:    bus,
		now:    time.Now,
		cfg:    cfg.withDefaults(),
	}
}

// Apply swaps the tunables. A run in progress keeps the values it started with.
func (p *Pipeline) Apply(cfg Config) {
	cfg = cfg.withDefaults()
	p.cmu.Lock()
	old := p.cfg
	p.cfg = cfg
	p.cmu.Unlock()
	if old != cfg {
		p.log.Info("capture config applied",
			logx.Float64("threshold", cfg.Threshold),
			logx.Int("buffer", cfg.Buffer),
			logx.Int("attempts", cfg.Attempts),
			logx.Duration("backoff", cfg.Backoff),
		)
	}
}

func (p *Pipeline) Config() Config {
	p.cmu.RLock()
	defer p.cmu.RUnlock()
	return p.cfg
}

// Run performs acquire, classify, accept or reject, then maybe-consolidate.
//
// An acquire or classify failure aborts the run without touching the counters.
func (p *Pipeline) Run(ctx context.Context) error {
	cfg := p.Config()

	frame, err := p.acquire(ctx, cfg)
	if err != nil {
		return p.fail(cfg, err)
	}
	level, err := p.metric.LightLevel(frame)
	if err != nil {
		return p.fail(cfg, fmt.Errorf("%w: %v", ErrClassify, err))
	}
	if level < 0 || level > 1 {
		return p.fail(cfg, fmt.Errorf("%w: light level %.3f out of range", ErrClassify, level))
	}

	var (
		persistErr error
		fire       bool
	)
	if level >= cfg.Threshold {
		fire, persistErr = p.accept(ctx, cfg, frame, level)
	} else {
		fire = p.reject(cfg, level)
	}
	if fire {
		p.consolidate(ctx, cfg)
	}
	return persistErr
}

func (p *Pipeline) acquire(ctx context.Context, cfg Config) (Frame, error) {
	var lastErr error
	for attempt := 1; attempt <= cfg.Attempts; attempt++ {
		f, err := p.src.Acquire(ctx)
		if err == nil {
			if attempt > 1 {
				p.log.Debug("capture.acquired after retry", logx.Int("attempt", attempt))
			}
			return f, nil
		}
		lastErr = err
		p.log.Debug("capture.acquire retry", logx.Int("attempt", attempt), logx.Err(err))
		if attempt == cfg.Attempts {
			break
		}
		t := time.NewTimer(cfg.Backoff)
		select {
		case <-ctx.Done():
			t.Stop()
			return Frame{}, fmt.Errorf("%w: %w", ErrAcquire, ctx.Err())
		case <-t.C:
		}
	}
	return Frame{}, fmt.Errorf("%w after %d attempts: %v", ErrAcquire, cfg.Attempts, lastErr)
}

func (p *Pipeline) accept(ctx context.Context, cfg Config, frame Frame, level float64) (bool, error) {
	ts := p.now()
	name := Filename(ts, frame.Ext)
	// Frames under an extension the store does not list would be counted but
	// never consolidated.
	_, err := NormalizeExt(frame.Ext)
	if err == nil {
		err = p.store.Persist(ctx, name, frame)
	}
	if err != nil {
		p.mu.Lock()
		p.failed++
		p.level = level
		fire := p.checkBufferLocked(cfg)
		p.mu.Unlock()
		err = fmt.Errorf("%w: %s: %w", ErrPersist, name, err)
		p.log.Warn("capture.persist failed", logx.String("file", name), logx.Err(err))
		eventbus.Publish(p.bus, eventbus.CaptureFailed, FrameEvent{File: name, Level: level, Threshold: cfg.Threshold, Error: err.Error()})
		return fire, err
	}

	p.mu.Lock()
	p.count++
	p.accepted++
	p.level = level
	p.lastFile = name
	p.desc = Descriptor{Time: ts, Day: true}
	count := p.count
	fire := p.checkBufferLocked(cfg)
	p.mu.Unlock()

	p.log.Info("capture.accepted", logx.String("file", name), logx.Float64("level", level), logx.Int("buffered", count))
	eventbus.Publish(p.bus, eventbus.CaptureAccepted, FrameEvent{File: name, Level: level, Threshold: cfg.Threshold, FrameCount: count})
	return fire, nil
}

func (p *Pipeline) reject(cfg Config, level float64) bool {
	p.mu.Lock()
	p.rejected++
	p.level = level
	marked := !p.desc.Night
	p.desc.Night = true
	count := p.count
	fire := p.checkBufferLocked(cfg)
	p.mu.Unlock()

	if marked {
		p.log.Info("capture.rejected", logx.Float64("level", level), logx.Float64("threshold", cfg.Threshold))
	} else {
		p.log.Debug("capture.rejected", logx.Float64("level", level), logx.Float64("threshold", cfg.Threshold))
	}
	eventbus.Publish(p.bus, eventbus.CaptureRejected, FrameEvent{Level: level, Threshold: cfg.Threshold, FrameCount: count})
	return fire
}

// checkBufferLocked resets the counter once it reaches the buffer size and
// reports whether consolidation is due. Callers hold mu across the increment
// and the check.
func (p *Pipeline) checkBufferLocked(cfg Config) bool {
	if p.count < cfg.Buffer {
		return false
	}
	p.count = 0
	p.consols++
	return true
}

func (p *Pipeline) consolidate(ctx context.Context, cfg Config) {
	p.log.Info("capture.consolidate", logx.Int("buffer", cfg.Buffer))
	if p.cons != nil {
		p.cons.Trigger(ctx)
	}
}

func (p *Pipeline) fail(cfg Config, err error) error {
	p.mu.Lock()
	p.failed++
	p.mu.Unlock()
	if errors.Is(err, context.Canceled) {
		p.log.Debug("capture.failed", logx.Err(err))
	} else {
		p.log.Warn("capture.failed", logx.Err(err))
	}
	eventbus.Publish(p.bus, eventbus.CaptureFailed, FrameEvent{Threshold: cfg.Threshold, Error: err.Error()})
	return err
}

// FrameCount is the number of accepted frames since the last consolidation.
func (p *Pipeline) FrameCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.count
}

// LastFrame describes the most recent capture attempt.
func (p *Pipeline) LastFrame() Descriptor {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.desc
}

// Filenames lists stored frames in name (timestamp) order.
func (p *Pipeline) Filenames() ([]string, error) {
	return p.store.List()
}

func (p *Pipeline) Stats() Stats {
	p.mu.Lock()
	defer p.mu.Unlock()
	return Stats{
		FrameCount:     p.count,
		Last:           p.desc,
		LastFile:       p.lastFile,
		Accepted:       p.accepted,
		Rejected:       p.rejected,
		Failed:         p.failed,
		Consolidations: p.consols,
		LastLevel:      p.level,
	}
}
