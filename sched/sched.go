// Package sched provides the single-threaded execution model the automation
// core relies on: mutation callbacks, timers, clicks and control requests
// all run on one loop, one at a time.
package sched

import (
	"context"
	"time"
)

// Timer is a pending callback scheduled with AfterFunc.
type Timer interface {
	// Stop prevents the callback from running. It reports whether the
	// callback was still pending.
	Stop() bool
}

// Scheduler runs callbacks serially.
type Scheduler interface {
	Now() time.Time
	// Post queues fn to run on the loop. It never blocks.
	Post(fn func())
	// AfterFunc runs fn on the loop once d has elapsed.
	AfterFunc(d time.Duration, fn func()) Timer
	// Do runs fn on the loop and waits for it to return. It must not be
	// called from the loop itself.
	Do(ctx context.Context, fn func()) error
}
