package engine

import (
	"context"
	"fmt"
	"runtime/debug"
	"time"

	"timelapse/internal/eventbus"
	logx "timelapse/pkg/logx"
)

func (s *Service) execOne(ctx context.Context, b *Batch, id string, t Task) {
	s.inFlight.Add(1)
	defer s.inFlight.Add(-1)

	start := time.Now()
	s.log.Debug("task.started", logx.String("task", t.Name), logx.String("id", id))
	eventbus.Publish(s.bus, eventbus.TaskStarted, TaskEvent{ID: id, Batch: b.id, Name: t.Name, Started: start})

	var err error
	// Guard against task panics: one bad task must not take down the scheduler.
	func() {
		defer func() {
			if r := recover(); r != nil {
				err = fmt.Errorf("panic: %v", r)
				s.log.Error("task.panic", logx.String("task", t.Name), logx.Any("panic", r), logx.Stack(string(debug.Stack())))
			}
		}()
		err = t.Run(ctx)
	}()

	finished := time.Now()
	dur := finished.Sub(start)
	r := Result{ID: id, Batch: b.id, Name: t.Name, Started: start, Finished: finished, Err: err}

	if err != nil {
		s.failed.Add(1)
		s.log.Warn("task.failed", logx.String("task", t.Name), logx.Err(err), logx.Duration("dur", dur))
		eventbus.Publish(s.bus, eventbus.TaskFailed, TaskEvent{ID: id, Batch: b.id, Name: t.Name, Started: start, Duration: dur, Error: err.Error()})
	} else {
		if dur >= 750*time.Millisecond {
			s.log.Info("task.completed", logx.String("task", t.Name), logx.Duration("dur", dur))
		} else {
			s.log.Debug("task.completed", logx.String("task", t.Name), logx.Duration("dur", dur))
		}
		eventbus.Publish(s.bus, eventbus.TaskFinished, TaskEvent{ID: id, Batch: b.id, Name: t.Name, Started: start, Duration: dur})
	}

	if t.OnDone != nil {
		func() {
			defer func() {
				if p := recover(); p != nil {
					s.log.Error("task.on_done panic", logx.String("task", t.Name), logx.Any("panic", p))
				}
			}()
			t.OnDone(r)
		}()
	}
	s.record(r)
	b.add(r)
}
