// Package clock provides the monotonic time source and scheduled-event
// primitive the gateway's timers are built on. Callbacks are never invoked
// directly on the timer goroutine; they are handed to a caller-supplied
// post function so they run on the single owning goroutine, preserving a
// "run to completion, no interleaving" handler model on top of Go's real
// concurrency.
package clock

import (
	"sync"
	"time"
)

// Service schedules one-shot and periodic callbacks.
type Service struct {
	post func(func())
}

// New returns a Service that hands every fired callback to post, which is
// expected to marshal the call onto the owning goroutine (e.g. by sending
// it on a work channel the owning goroutine drains).
func New(post func(func())) *Service {
	return &Service{post: post}
}

// Now returns the current monotonic time.
func (s *Service) Now() time.Time {
	return time.Now()
}

// Handle is an opaque, re-arm-safe reference to a scheduled callback.
type Handle struct {
	mu        sync.Mutex
	timer     *time.Timer
	cancelled bool
	periodic  bool
	period    time.Duration
	svc       *Service
	fn        func()
}

// ScheduleAfter runs fn (via post) after dt elapses.
func (s *Service) ScheduleAfter(dt time.Duration, fn func()) *Handle {
	h := &Handle{svc: s, fn: fn}
	h.arm(dt)
	return h
}

// ScheduleAt runs fn (via post) at the wall-clock time t.
func (s *Service) ScheduleAt(t time.Time, fn func()) *Handle {
	return s.ScheduleAfter(time.Until(t), fn)
}

// SchedulePeriodic runs fn (via post) every period, starting after the
// first period elapses, until the returned Handle is cancelled.
func (s *Service) SchedulePeriodic(period time.Duration, fn func()) *Handle {
	h := &Handle{svc: s, fn: fn, periodic: true, period: period}
	h.arm(period)
	return h
}

func (h *Handle) arm(dt time.Duration) {
	h.timer = time.AfterFunc(dt, func() {
		h.mu.Lock()
		if h.cancelled {
			h.mu.Unlock()
			return
		}
		periodic := h.periodic
		period := h.period
		h.mu.Unlock()

		h.svc.post(h.fn)

		if periodic {
			h.mu.Lock()
			if !h.cancelled {
				h.timer = time.AfterFunc(period, func() { h.fire() })
			}
			h.mu.Unlock()
		}
	})
}

func (h *Handle) fire() {
	h.mu.Lock()
	if h.cancelled {
		h.mu.Unlock()
		return
	}
	period := h.period
	h.mu.Unlock()

	h.svc.post(h.fn)

	h.mu.Lock()
	if !h.cancelled {
		h.timer = time.AfterFunc(period, func() { h.fire() })
	}
	h.mu.Unlock()
}

// Cancel stops a scheduled handle. Cancel on a nil Handle is a no-op, which
// keeps call sites like `if h != nil { h.Cancel() }` unnecessary. Cancelling
// an already-cancelled, non-nil handle is a programmer error and panics,
// per the "double-cancel is forbidden" contract.
func (h *Handle) Cancel() {
	if h == nil {
		return
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.cancelled {
		panic("clock: double-cancel of a Handle")
	}
	h.cancelled = true
	if h.timer != nil {
		h.timer.Stop()
	}
}
