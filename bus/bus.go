// Package bus is a small multicast publish/subscribe primitive with a
// time-window coalescing operator.
package bus

import (
	"sync"
	"time"

	"github.com/hazyhaar/gen4eva/sched"
)

// Source is anything that can be subscribed to.
type Source[T any] interface {
	Subscribe(fn func(T)) *Subscription
}

// Subscription is returned by Subscribe. The zero value is inactive.
type Subscription struct {
	mu     sync.Mutex
	cancel func()
	active bool
}

func newSubscription(cancel func()) *Subscription {
	return &Subscription{cancel: cancel, active: true}
}

// Unsubscribe stops delivery. It reports whether the subscription was
// still active.
func (s *Subscription) Unsubscribe() bool {
	if s == nil {
		return false
	}
	s.mu.Lock()
	was := s.active
	s.active = false
	s.mu.Unlock()
	if was && s.cancel != nil {
		s.cancel()
	}
	return was
}

// Active reports whether the subscription still receives values.
func (s *Subscription) Active() bool {
	if s == nil {
		return false
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.active
}

// Subject multicasts each published value to every current subscriber, in
// subscription order. Subscribers must not block: the publisher calls them
// inline.
type Subject[T any] struct {
	mu   sync.Mutex
	next uint64
	subs []subscriber[T]
}

type subscriber[T any] struct {
	id uint64
	fn func(T)
}

// NewSubject creates an empty Subject.
func NewSubject[T any]() *Subject[T] {
	return &Subject[T]{}
}

func (s *Subject[T]) Subscribe(fn func(T)) *Subscription {
	s.mu.Lock()
	s.next++
	id := s.next
	s.subs = append(s.subs, subscriber[T]{id: id, fn: fn})
	s.mu.Unlock()

	return newSubscription(func() { s.remove(id) })
}

func (s *Subject[T]) remove(id uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i, sub := range s.subs {
		if sub.id == id {
			s.subs = append(s.subs[:i:i], s.subs[i+1:]...)
			return
		}
	}
}

// Publish delivers v to the subscribers registered at call time.
func (s *Subject[T]) Publish(v T) {
	s.mu.Lock()
	subs := s.subs
	s.mu.Unlock()
	for _, sub := range subs {
		sub.fn(v)
	}
}

// Len returns the number of live subscribers.
func (s *Subject[T]) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.subs)
}

// Debounce returns a Source that coalesces bursts from src: each incoming
// value cancels the pending emission and schedules a new one window later,
// carrying the latest value. Every subscription has its own window state;
// unsubscribing drops a pending emission.
func Debounce[T any](src Source[T], s sched.Scheduler, window time.Duration) Source[T] {
	return &debounced[T]{src: src, sched: s, window: window}
}

type debounced[T any] struct {
	src    Source[T]
	sched  sched.Scheduler
	window time.Duration
}

func (d *debounced[T]) Subscribe(fn func(T)) *Subscription {
	var (
		pending sched.Timer
		latest  T
		done    bool
	)
	upstream := d.src.Subscribe(func(v T) {
		if done {
			return
		}
		latest = v
		if pending != nil {
			pending.Stop()
		}
		pending = d.sched.AfterFunc(d.window, func() {
			pending = nil
			if !done {
				fn(latest)
			}
		})
	})
	return newSubscription(func() {
		done = true
		upstream.Unsubscribe()
		if pending != nil {
			pending.Stop()
			pending = nil
		}
	})
}
