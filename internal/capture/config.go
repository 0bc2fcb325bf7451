package capture

import "time"

const (
	DefaultAttempts = 10
	DefaultBackoff  = time.Second
	DefaultBuffer   = 50
)

type Config struct {
	// Threshold is the minimal light level in [0,1] for a day frame.
	Threshold float64
	// Buffer is the number of accepted frames that triggers consolidation.
	Buffer   int
	Attempts int
	Backoff  time.Duration
}

func (c Config) withDefaults() Config {
	if c.Threshold < 0 {
		c.Threshold = 0
	}
	if c.Threshold > 1 {
		c.Threshold = 1
	}
	if c.Buffer <= 0 {
		c.Buffer = DefaultBuffer
	}
	if c.Attempts <= 0 {
		c.Attempts = DefaultAttempts
	}
	if c.Backoff <= 0 {
		c.Backoff = DefaultBackoff
	}
	return c
}

// ThresholdFromPercent converts a light level percentage to a threshold,
// clamping it to 0..100 first.
func ThresholdFromPercent(pct float64) float64 {
	if pct < 0 {
		pct = 0
	}
	if pct > 100 {
		pct = 100
	}
	return pct / 100
}
