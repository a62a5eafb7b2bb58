// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package orb

import (
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"go.uber.org/zap"
)

// Scheduler runs relative, absolute and periodic timer events.
type Scheduler struct {
	clock  clock.Clock
	logger *zap.Logger

	mu     sync.Mutex
	events map[*Event]struct{}
	closed bool
}

// Event is a scheduled callback.
type Event struct {
	s      *Scheduler
	fn     func()
	period time.Duration

	mu        sync.Mutex
	timer     *clock.Timer
	cancelled bool
}

func NewScheduler(c clock.Clock, logger *zap.Logger) *Scheduler {
	if c == nil {
		c = clock.New()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Scheduler{
		clock:  c,
		logger: logger.Named("scheduler"),
		events: make(map[*Event]struct{}),
	}
}

// Now is the scheduler's notion of the current time.
func (s *Scheduler) Now() time.Time { return s.clock.Now() }

// After runs fn once, d from now.
func (s *Scheduler) After(d time.Duration, fn func()) *Event {
	return s.schedule(d, 0, fn)
}

// At runs fn once at t; a time in the past fires immediately.
func (s *Scheduler) At(t time.Time, fn func()) *Event {
	return s.schedule(s.clock.Until(t), 0, fn)
}

// Every runs fn every d until cancelled.
func (s *Scheduler) Every(d time.Duration, fn func()) *Event {
	return s.schedule(d, d, fn)
}

func (s *Scheduler) schedule(d, period time.Duration, fn func()) *Event {
	if d < 0 {
		d = 0
	}
	e := &Event{s: s, fn: fn, period: period}
	// e.mu is taken before s.mu, the order fire and Cancel use. fire blocks
	// on it until the first timer is stored.
	e.mu.Lock()
	defer e.mu.Unlock()
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		e.cancelled = true
		return e
	}
	s.events[e] = struct{}{}
	s.mu.Unlock()
	e.timer = s.clock.AfterFunc(d, e.fire)
	return e
}

func (e *Event) fire() {
	e.mu.Lock()
	if e.cancelled {
		e.mu.Unlock()
		return
	}
	e.mu.Unlock()

	e.run()

	e.mu.Lock()
	defer e.mu.Unlock()
	if e.cancelled {
		return
	}
	if e.period == 0 {
		e.cancelled = true
		e.s.forget(e)
		return
	}
	e.timer = e.s.clock.AfterFunc(e.period, e.fire)
}

func (e *Event) run() {
	defer func() {
		if r := recover(); r != nil {
			e.s.logger.Error("scheduled event panicked", zap.Any("panic", r))
		}
	}()
	e.fn()
}

// Cancel stops the event. A callback already running completes.
func (e *Event) Cancel() {
	e.mu.Lock()
	if e.cancelled {
		e.mu.Unlock()
		return
	}
	e.cancelled = true
	if e.timer != nil {
		e.timer.Stop()
	}
	e.mu.Unlock()
	e.s.forget(e)
}

func (s *Scheduler) forget(e *Event) {
	s.mu.Lock()
	delete(s.events, e)
	s.mu.Unlock()
}

// Len returns the number of pending events.
func (s *Scheduler) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.events)
}

// Close cancels every pending event; later schedules are ignored.
func (s *Scheduler) Close() {
	s.mu.Lock()
	s.closed = true
	events := make([]*Event, 0, len(s.events))
	for e := range s.events {
		events = append(events, e)
	}
	s.mu.Unlock()
	for _, e := range events {
		e.Cancel()
	}
}
