package scheduler

import (
	"testing"
	"time"
)

func TestParseIntervalVariants(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name     string
		raw      string
		source   string
		duration time.Duration
	}{
		{name: "duration", raw: "10m", source: "duration", duration: 10 * time.Minute},
		{name: "prefixed interval", raw: "interval:45s", source: "duration", duration: 45 * time.Second},
		{name: "prefixed every", raw: "every: 2h", source: "duration", duration: 2 * time.Hour},
		{name: "hhmm", raw: "01:30", source: "hhmm", duration: 90 * time.Minute},
		{name: "seconds", raw: "900", source: "seconds", duration: 15 * time.Minute},
		{name: "largest seconds", raw: "9223372036", source: "seconds", duration: 9223372036 * time.Second},
		{name: "cron every", raw: "@every 5m", source: "cron", duration: 5 * time.Minute},
		{name: "cron hourly", raw: "@hourly", source: "cron", duration: time.Hour},
		{name: "cron daily", raw: "@Daily", source: "cron", duration: 24 * time.Hour},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseInterval(tt.raw)
			if err != nil {
				t.Fatalf("ParseInterval(%q) error: %v", tt.raw, err)
			}
			if got.Source != tt.source {
				t.Fatalf("Source = %s, want %s", got.Source, tt.source)
			}
			if got.Every != tt.duration {
				t.Fatalf("Every = %v, want %v", got.Every, tt.duration)
			}
		})
	}
}

func TestParseIntervalInvalid(t *testing.T) {
	t.Parallel()
	for _, raw := range []string{"", "not-an-interval", "*/5 * * * *", "0s", "-5m", "00:00", "01:75", "@yearly", "@every nope", "20000000000"} {
		if _, err := ParseInterval(raw); err == nil {
			t.Fatalf("ParseInterval(%q): expected error", raw)
		}
	}
}
