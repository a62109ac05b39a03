package clock

import (
	"sync"
	"testing"
	"time"
)

func inlinePost(fn func()) { fn() }

func TestScheduleAfterFires(t *testing.T) {
	svc := New(inlinePost)
	done := make(chan struct{})
	svc.ScheduleAfter(10*time.Millisecond, func() { close(done) })
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("callback never fired")
	}
}

func TestCancelPreventsFire(t *testing.T) {
	svc := New(inlinePost)
	fired := false
	h := svc.ScheduleAfter(20*time.Millisecond, func() { fired = true })
	h.Cancel()
	time.Sleep(40 * time.Millisecond)
	if fired {
		t.Fatal("cancelled handle still fired")
	}
}

func TestDoubleCancelPanics(t *testing.T) {
	svc := New(inlinePost)
	h := svc.ScheduleAfter(time.Minute, func() {})
	h.Cancel()
	defer func() {
		if recover() == nil {
			t.Fatal("expected panic on double cancel")
		}
	}()
	h.Cancel()
}

func TestSchedulePeriodicRepeats(t *testing.T) {
	svc := New(inlinePost)
	var mu sync.Mutex
	count := 0
	h := svc.SchedulePeriodic(10*time.Millisecond, func() {
		mu.Lock()
		count++
		mu.Unlock()
	})
	time.Sleep(55 * time.Millisecond)
	h.Cancel()
	mu.Lock()
	got := count
	mu.Unlock()
	if got < 3 {
		t.Fatalf("expected at least 3 periodic fires, got %d", got)
	}
}
