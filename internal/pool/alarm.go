package pool

import (
	"sync"
	"time"
)

// Alarm is a restartable one-shot timeout. Every Rearm pushes the deadline
// d into the future. C delivers a value when the deadline passes without a rearm.
//
// An Alarm is safe for concurrent use.
type Alarm struct {
	mu      sync.Mutex
	d       time.Duration
	t       *time.Timer
	stopped bool
}

// NewAlarm creates a disarmed alarm with timeout d.
func NewAlarm(d time.Duration) *Alarm {
	t := GetTimer(d)
	drain(t)

	return &Alarm{d: d, t: t}
}

// C returns the channel the alarm fires on.
func (a *Alarm) C() <-chan time.Time {
	return a.t.C
}

// Rearm restarts the countdown. It has no effect after Close.
func (a *Alarm) Rearm() {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.stopped {
		return
	}
	drain(a.t)
	a.t.Reset(a.d)
}

// Disarm cancels the countdown without releasing the alarm.
func (a *Alarm) Disarm() {
	a.mu.Lock()
	defer a.mu.Unlock()

	drain(a.t)
}

// Timeout returns the alarm duration.
func (a *Alarm) Timeout() time.Duration {
	return a.d
}

// Close disarms the alarm and returns its timer to the pool.
func (a *Alarm) Close() {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.stopped {
		return
	}
	a.stopped = true
	PutTimer(a.t)
}
