// Package scheduler wakes up on a single adaptive tick and dispatches every
// registered event whose interval has elapsed since its last run.
//
// The tick is the greatest common divisor of all event intervals, so no event
// fires more than one tick late and the loop never polls finer than needed.
// Last-run times are persisted by a built-in housekeeping event and loaded at
// startup, so a restart resumes the schedule.
//
// Execution is delegated to internal/task/engine: every due event runs on its
// own goroutine and reports back when it completes.
package scheduler
