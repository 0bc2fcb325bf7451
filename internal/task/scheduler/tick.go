package scheduler

import "time"

// DefaultTick is used while no event is registered.
const DefaultTick = 10 * time.Second

// ComputeTick returns the greatest common divisor of intervals, or def when
// there is no positive interval. The result divides every interval, so an
// event is never observed more than one tick after it becomes due.
func ComputeTick(intervals []time.Duration, def time.Duration) time.Duration {
	var g time.Duration
	for _, iv := range intervals {
		if iv <= 0 {
			continue
		}
		g = gcd(g, iv)
	}
	if g <= 0 {
		return def
	}
	return g
}

func gcd(a, b time.Duration) time.Duration {
	for b != 0 {
		a, b = b, a%b
	}
	return a
}
