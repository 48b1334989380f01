// Package power implements the kernel side of idle power management: it
// decides whether an idle period is long enough to stop the tick, and
// brings the system clock back when the core wakes.
package power

import "github.com/richardwooding/tickcore/internal/irq"

// DefaultThreshold is the shortest idle period, in ticks, worth entering
// tickless idle for.
const DefaultThreshold int32 = 3

// Forever is the idle request for "no timeout pending".
const Forever int32 = -1

// IdleTimer is the system clock's tickless idle interface.
type IdleTimer interface {
	EnterIdle(ticks int32)
	ExitIdle()
}

// ResumeHook is called when an idle period ends, with the ticks that were
// requested for it.
type ResumeHook func(ticks int32)

// Manager tracks the kernel idle request. It implements sysclock.IdleResumer.
type Manager struct {
	platform  irq.Platform
	timer     IdleTimer
	threshold int32
	onResume  ResumeHook

	idleTicks int32 // Requested idle ticks, 0 while not idle

	idles   uint64
	wakes   uint64
	resumes uint64
}

// Option customises a Manager.
type Option func(*Manager)

// WithThreshold sets the shortest idle period that stops the tick.
func WithThreshold(ticks int32) Option {
	return func(m *Manager) {
		if ticks > 0 {
			m.threshold = ticks
		}
	}
}

// WithResumeHook installs a hook run when an idle period ends.
func WithResumeHook(hook ResumeHook) Option {
	return func(m *Manager) {
		m.onResume = hook
	}
}

// NewManager creates a Manager using the platform's critical sections.
func NewManager(platform irq.Platform, opts ...Option) *Manager {
	m := &Manager{
		platform:  platform,
		threshold: DefaultThreshold,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// SetTimer attaches the system clock.
func (m *Manager) SetTimer(timer IdleTimer) {
	m.timer = timer
}

// Threshold returns the shortest idle period that stops the tick.
func (m *Manager) Threshold() int32 {
	return m.threshold
}

func (m *Manager) tickless(ticks int32) bool {
	return ticks == Forever || ticks >= m.threshold
}

// Idle is called by the idle thread before the core sleeps, with the ticks
// until the next kernel timeout or Forever. Short periods keep the tick
// running.
func (m *Manager) Idle(ticks int32) {
	if ticks == 0 {
		return
	}

	state := m.platform.Disable()
	defer m.platform.Restore(state)

	m.idleTicks = ticks
	m.idles++
	if m.timer != nil && m.tickless(ticks) {
		m.timer.EnterIdle(ticks)
	}
}

// Wake is called from a non-timer interrupt that woke the core early.
func (m *Manager) Wake() {
	state := m.platform.Disable()
	defer m.platform.Restore(state)

	m.wakes++
	if ticks := m.idleTicks; ticks != 0 {
		m.idleTicks = 0
		m.ResumeFromIdle(ticks)
	}
}

// Idling reports whether an idle request is outstanding.
func (m *Manager) Idling() bool {
	return m.idleTicks != 0
}

// PendingIdle returns the outstanding idle request, 0 if none.
func (m *Manager) PendingIdle() int32 {
	return m.idleTicks
}

// ClearPendingIdle drops the outstanding idle request.
func (m *Manager) ClearPendingIdle() {
	m.idleTicks = 0
}

// ResumeFromIdle ends an idle period of the given requested length.
func (m *Manager) ResumeFromIdle(ticks int32) {
	m.resumes++
	if m.timer != nil && m.tickless(ticks) {
		m.timer.ExitIdle()
	}
	if m.onResume != nil {
		m.onResume(ticks)
	}
}

// Stats returns the number of idle requests, early wakes and resumes.
func (m *Manager) Stats() (idles, wakes, resumes uint64) {
	return m.idles, m.wakes, m.resumes
}
