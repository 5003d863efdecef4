// Package timeout manages per-task deferred timers that fire a
// callback when a task's wall-clock deadline passes without the task
// reaching a terminal status.
package timeout

import (
	"sync"
	"time"

	"github.com/kronos-sched/core/internal/task"
)

// FireFunc is invoked when a timer fires, always from a goroutine
// dispatched onto the caller's worker pool, never synchronously
// inside Arm or Cancel.
type FireFunc func(id task.TaskID)

// Manager holds one pending timer per active task, keyed by task id.
type Manager struct {
	mu     sync.Mutex
	timers map[task.TaskID]*time.Timer
	fire   FireFunc
	submit func(func())
}

// New creates a Manager that calls fire when a timer expires. submit
// dispatches the fire callback onto the caller's worker pool; if nil,
// the callback runs on its own goroutine.
func New(fire FireFunc, submit func(func())) *Manager {
	if submit == nil {
		submit = func(f func()) { go f() }
	}
	return &Manager{
		timers: make(map[task.TaskID]*time.Timer),
		fire:   fire,
		submit: submit,
	}
}

// Arm schedules a timer for t to fire at t.SubmittedAt +
// t.MaxExecutionTimeMs. If the deadline has already passed, the fire
// callback is dispatched immediately via submit, never run inline. An
// already-armed task is left untouched: first-arm wins, so re-arming
// never resets a deadline.
func (m *Manager) Arm(t *task.Task) {
	m.mu.Lock()
	defer m.mu.Unlock()

	id := t.ID()
	if _, armed := m.timers[id]; armed {
		return
	}

	deadline := t.SubmittedAt + t.MaxExecutionTimeMs
	delay := time.Duration(deadline-nowMs()) * time.Millisecond
	if delay <= 0 {
		m.submit(func() { m.fire(id) })
		m.timers[id] = nil
		return
	}

	m.timers[id] = time.AfterFunc(delay, func() {
		m.submit(func() { m.fire(id) })
	})
}

// Cancel removes the pending timer for id if present. It is a
// best-effort no-op if the timer already fired or never existed; a
// timer whose callback has already started is allowed to complete.
func (m *Manager) Cancel(id task.TaskID) {
	m.mu.Lock()
	defer m.mu.Unlock()

	timer, ok := m.timers[id]
	if !ok {
		return
	}
	if timer != nil {
		timer.Stop()
	}
	delete(m.timers, id)
}

// CancelAll stops every pending timer, used during shutdown.
func (m *Manager) CancelAll() {
	m.mu.Lock()
	defer m.mu.Unlock()

	for id, timer := range m.timers {
		if timer != nil {
			timer.Stop()
		}
		delete(m.timers, id)
	}
}

func nowMs() int64 {
	return time.Now().UnixMilli()
}
