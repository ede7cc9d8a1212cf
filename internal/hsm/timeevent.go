package hsm

import (
	"sync"
	"time"
)

// TimeEvent posts a signal to its machine after a delay. One TimeEvent
// manages one signal; re-arming restarts the delay. Disarm also removes an
// already-queued occurrence of the signal, so a state exiting before its
// timeout fires does not leave a stale event behind.
type TimeEvent struct {
	m   *Machine
	sig Signal

	mu    sync.Mutex
	timer *time.Timer
	armed bool
}

func NewTimeEvent(m *Machine, sig Signal) *TimeEvent {
	return &TimeEvent{m: m, sig: sig}
}

func (t *TimeEvent) Arm(d time.Duration) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.timer != nil {
		t.timer.Stop()
	}
	t.armed = true
	t.timer = time.AfterFunc(d, t.fire)
}

func (t *TimeEvent) Disarm() {
	t.mu.Lock()
	if t.timer != nil {
		t.timer.Stop()
	}
	t.armed = false
	t.mu.Unlock()

	t.m.removeQueued(t.sig)
}

func (t *TimeEvent) fire() {
	t.mu.Lock()
	if !t.armed {
		t.mu.Unlock()

		return
	}
	t.armed = false
	t.mu.Unlock()

	t.m.Post(Event{Sig: t.sig})
}
