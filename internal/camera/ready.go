package camera

import (
	"context"
	"time"

	"golang.org/x/time/rate"

	"timelapse/internal/capture"
	logx "timelapse/pkg/logx"
)

// WaitReady blocks until src yields a frame, probing once per backoff with no
// attempt limit. It only returns an error when ctx is done.
func WaitReady(ctx context.Context, src capture.Source, backoff time.Duration, log logx.Logger) error {
	if backoff <= 0 {
		backoff = time.Second
	}
	lim := rate.NewLimiter(rate.Every(backoff), 1)
	for attempt := 1; ; attempt++ {
		if err := lim.Wait(ctx); err != nil {
			return err
		}
		_, err := src.Acquire(ctx)
		if err == nil {
			if attempt > 1 {
				log.Info("camera ready", logx.Int("attempts", attempt))
			}
			return nil
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if attempt == 1 || attempt%30 == 0 {
			log.Error("camera not ready; retrying", logx.Int("attempt", attempt), logx.Duration("backoff", backoff), logx.Err(err))
		}
	}
}
