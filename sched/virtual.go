package sched

import (
	"context"
	"time"
)

// Virtual is a deterministic Scheduler driven by Advance. Nothing runs until
// the test calls Drain or Advance; it is not safe for concurrent use.
type Virtual struct {
	now    time.Time
	queue  []func()
	timers []*virtualTimer
	seq    uint64
}

// NewVirtual returns a Virtual clock starting at start.
func NewVirtual(start time.Time) *Virtual {
	return &Virtual{now: start}
}

func (v *Virtual) Now() time.Time { return v.now }

func (v *Virtual) Post(fn func()) { v.queue = append(v.queue, fn) }

func (v *Virtual) AfterFunc(d time.Duration, fn func()) Timer {
	if d < 0 {
		d = 0
	}
	v.seq++
	t := &virtualTimer{at: v.now.Add(d), seq: v.seq, fn: fn}
	v.timers = append(v.timers, t)
	return t
}

// Do runs fn immediately, then drains whatever it posted.
func (v *Virtual) Do(ctx context.Context, fn func()) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	fn()
	v.Drain()
	return nil
}

// Drain runs queued callbacks, including ones posted while draining.
func (v *Virtual) Drain() {
	for len(v.queue) > 0 {
		fn := v.queue[0]
		v.queue = v.queue[1:]
		fn()
	}
}

// Advance moves the clock forward by d, firing due timers in order of
// deadline (ties in scheduling order) and draining posts between them.
func (v *Virtual) Advance(d time.Duration) {
	target := v.now.Add(d)
	v.Drain()
	for {
		t := v.next(target)
		if t == nil {
			break
		}
		v.now = t.at
		t.fired = true
		t.fn()
		v.Drain()
	}
	v.now = target
}

// Pending reports the number of timers that have neither fired nor been
// stopped.
func (v *Virtual) Pending() int {
	n := 0
	for _, t := range v.timers {
		if !t.fired && !t.stopped {
			n++
		}
	}
	return n
}

func (v *Virtual) next(limit time.Time) *virtualTimer {
	var best *virtualTimer
	live := v.timers[:0]
	for _, t := range v.timers {
		if t.fired || t.stopped {
			continue
		}
		live = append(live, t)
		if t.at.After(limit) {
			continue
		}
		if best == nil || t.at.Before(best.at) || (t.at.Equal(best.at) && t.seq < best.seq) {
			best = t
		}
	}
	v.timers = live
	return best
}

type virtualTimer struct {
	at      time.Time
	seq     uint64
	fn      func()
	fired   bool
	stopped bool
}

func (t *virtualTimer) Stop() bool {
	if t.fired || t.stopped {
		return false
	}
	t.stopped = true
	return true
}
