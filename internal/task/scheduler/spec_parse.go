package scheduler

import (
	"fmt"
	"math"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
)

// ParsedInterval is a normalized event interval.
type ParsedInterval struct {
	Every  time.Duration
	Source string // "duration" | "hhmm" | "seconds" | "cron"
}

var reHHMM = regexp.MustCompile(`^\s*(\d{1,3}):(\d{2})\s*$`)

// ParseInterval parses an event interval.
//
// Supported forms:
//   - Go duration: "15m", "2h30m"
//   - HH:MM: "00:15" (15 minutes), "02:30" (2 hours 30 minutes)
//   - Plain seconds: "900"
//   - Cron descriptors with a fixed period: "@every 15m", "@hourly", "@daily", "@weekly"
//
// Optional prefixes "interval:" or "every:" force interval parsing.
// Calendar cron expressions ("*/5 * * * *") have no fixed period and are rejected.
func ParseInterval(raw string) (ParsedInterval, error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return ParsedInterval{}, fmt.Errorf("interval required")
	}
	low := strings.ToLower(s)
	for _, p := range []string{"interval:", "every:"} {
		if strings.HasPrefix(low, p) {
			s = strings.TrimSpace(s[len(p):])
			low = strings.ToLower(s)
			break
		}
	}

	if strings.HasPrefix(s, "@") {
		return parseDescriptor(low)
	}
	if strings.ContainsAny(s, " \t\n\r") {
		return ParsedInterval{}, fmt.Errorf("invalid interval %q: calendar cron expressions are not supported", raw)
	}
	if reHHMM.MatchString(s) {
		d, err := parseHHMMDuration(s)
		if err != nil {
			return ParsedInterval{}, err
		}
		return ParsedInterval{Every: d, Source: "hhmm"}, nil
	}
	if n, err := strconv.ParseInt(s, 10, 64); err == nil {
		if n <= 0 {
			return ParsedInterval{}, fmt.Errorf("interval must be > 0")
		}
		if n > math.MaxInt64/int64(time.Second) {
			return ParsedInterval{}, fmt.Errorf("invalid interval %q: too large", raw)
		}
		return ParsedInterval{Every: time.Duration(n) * time.Second, Source: "seconds"}, nil
	}
	if d, err := time.ParseDuration(s); err == nil {
		if d <= 0 {
			return ParsedInterval{}, fmt.Errorf("interval must be > 0")
		}
		return ParsedInterval{Every: d, Source: "duration"}, nil
	}
	return ParsedInterval{}, fmt.Errorf(
		"invalid interval %q (use a duration like '15m', HH:MM like '00:15', seconds like '900' or '@every 15m')",
		raw,
	)
}

func parseDescriptor(s string) (ParsedInterval, error) {
	switch s {
	case "@hourly":
		return ParsedInterval{Every: time.Hour, Source: "cron"}, nil
	case "@daily", "@midnight":
		return ParsedInterval{Every: 24 * time.Hour, Source: "cron"}, nil
	case "@weekly":
		return ParsedInterval{Every: 7 * 24 * time.Hour, Source: "cron"}, nil
	}
	sched, err := cron.ParseStandard(s)
	if err != nil {
		return ParsedInterval{}, fmt.Errorf("invalid interval %q: %w", s, err)
	}
	cd, ok := sched.(cron.ConstantDelaySchedule)
	if !ok || cd.Delay <= 0 {
		return ParsedInterval{}, fmt.Errorf("invalid interval %q: only fixed periods are supported", s)
	}
	return ParsedInterval{Every: cd.Delay, Source: "cron"}, nil
}

func parseHHMMDuration(v string) (time.Duration, error) {
	m := reHHMM.FindStringSubmatch(v)
	if len(m) != 3 {
		return 0, fmt.Errorf("invalid HH:MM %q", v)
	}
	hh, _ := strconv.Atoi(m[1])
	mm, _ := strconv.Atoi(m[2])
	if mm > 59 {
		return 0, fmt.Errorf("invalid minutes in %q", v)
	}
	d := time.Duration(hh)*time.Hour + time.Duration(mm)*time.Minute
	if d <= 0 {
		return 0, fmt.Errorf("interval must be > 0")
	}
	return d, nil
}
