// Package timeouts arms cancellable deadlines for suspended workflow steps.
package timeouts

import (
	"log/slog"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
)

// Key identifies the step a timer guards.
type Key struct {
	InstanceID string
	StepID     string
}

type entry struct {
	timer    clockwork.Timer
	deadline time.Time
	seq      uint64
}

// Manager keeps at most one pending timer per (instance, step). Fired and
// cancelled timers are forgotten; a cancelled timer never runs its callback.
type Manager struct {
	mu     sync.Mutex
	clock  clockwork.Clock
	logger *slog.Logger
	timers map[Key]*entry
	seq    uint64
}

// NewManager creates a timer manager driven by clock.
func NewManager(clock clockwork.Clock, logger *slog.Logger) *Manager {
	return &Manager{
		clock:  clock,
		logger: logger,
		timers: make(map[Key]*entry),
	}
}

// Schedule arms fn to run once at deadline, replacing any timer armed for the same key.
// A deadline in the past fires immediately.
func (m *Manager) Schedule(key Key, deadline time.Time, fn func()) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if current, ok := m.timers[key]; ok {
		current.timer.Stop()
	}

	m.seq++
	seq := m.seq

	e := &entry{deadline: deadline, seq: seq}
	e.timer = m.clock.AfterFunc(m.clock.Until(deadline), func() {
		if !m.claim(key, seq) {
			return
		}

		m.logger.Debug("Step timer fired", "instance_id", key.InstanceID, "step_id", key.StepID)
		fn()
	})
	m.timers[key] = e

	m.logger.Debug("Step timer armed", "instance_id", key.InstanceID, "step_id", key.StepID, "deadline", deadline)
}

// claim removes the entry if it is still the one identified by seq.
func (m *Manager) claim(key Key, seq uint64) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	current, ok := m.timers[key]
	if !ok || current.seq != seq {
		return false
	}

	delete(m.timers, key)

	return true
}

// Cancel disarms the timer of key. It reports whether a pending timer was removed.
func (m *Manager) Cancel(key Key) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	current, ok := m.timers[key]
	if !ok {
		return false
	}

	current.timer.Stop()
	delete(m.timers, key)

	return true
}

// CancelInstance disarms every timer of an instance.
func (m *Manager) CancelInstance(instanceID string) int {
	m.mu.Lock()
	defer m.mu.Unlock()

	cancelled := 0

	for key, current := range m.timers {
		if key.InstanceID != instanceID {
			continue
		}

		current.timer.Stop()
		delete(m.timers, key)

		cancelled++
	}

	return cancelled
}

// Deadline returns the deadline of the pending timer of key.
func (m *Manager) Deadline(key Key) (time.Time, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	current, ok := m.timers[key]
	if !ok {
		return time.Time{}, false
	}

	return current.deadline, true
}

// Pending returns the number of armed timers.
func (m *Manager) Pending() int {
	m.mu.Lock()
	defer m.mu.Unlock()

	return len(m.timers)
}

// Stop disarms every timer.
func (m *Manager) Stop() {
	m.mu.Lock()
	defer m.mu.Unlock()

	for key, current := range m.timers {
		current.timer.Stop()
		delete(m.timers, key)
	}
}
