// Package machine provides the board simulation that ties together the
// SysTick counter, the interrupt controller, the system clock and idle
// power management.
package machine

import (
	"errors"
	"fmt"
	"io"
	"log/slog"

	"github.com/richardwooding/tickcore/internal/irq"
	"github.com/richardwooding/tickcore/internal/kernel"
	"github.com/richardwooding/tickcore/internal/power"
	"github.com/richardwooding/tickcore/internal/sysclock"
	"github.com/richardwooding/tickcore/internal/systick"
)

var (
	// ErrNoTimeout indicates an idle-until-timeout request with nothing
	// pending.
	ErrNoTimeout = errors.New("no timeout pending")
)

// WakePriority is the priority of the external wake line. A wake and a tick
// pending together are taken wake first.
const WakePriority irq.Priority = 0x40

// Config describes a simulated board.
type Config struct {
	Clock sysclock.Config

	// AccessCost is the clocks consumed by every SysTick register access.
	AccessCost uint32

	// Latency is the clocks between an interrupt request and its handler.
	Latency uint32

	// IdleThreshold is the shortest idle period that stops the tick; 0
	// selects power.DefaultThreshold.
	IdleThreshold int32
}

// Announcement is one tick report from the system clock.
type Announcement struct {
	Cycle uint64 // Counter clocks since reset
	Ticks uint32
}

// Machine represents a simulated board running the tick core.
type Machine struct {
	Timer    *systick.Peripheral
	IRQ      *irq.Controller
	Clock    *sysclock.Driver
	Power    *power.Manager
	Timeouts *kernel.TimeoutList
	Ticker   *kernel.Ticker

	cfg    Config
	logger *slog.Logger
	extra  kernel.TickSink

	trace []Announcement
	ticks uint64
}

// Option customises a Machine.
type Option func(*Machine)

// WithLogger sets the logger; the default discards everything.
func WithLogger(logger *slog.Logger) Option {
	return func(m *Machine) {
		m.logger = logger
	}
}

// WithSink adds a consumer of tick announcements.
func WithSink(sink kernel.TickSink) Option {
	return func(m *Machine) {
		m.extra = sink
	}
}

// New creates and boots a machine with the given configuration.
func New(cfg Config, opts ...Option) (*Machine, error) {
	m := &Machine{
		cfg:    cfg,
		logger: slog.New(slog.NewTextHandler(io.Discard, nil)),
		IRQ:    irq.NewController(),
		Ticker: kernel.NewTicker(kernel.DefaultEventDepth),
	}
	for _, opt := range opts {
		opt(m)
	}

	m.Timer = systick.NewPeripheral(func() { m.IRQ.Raise(irq.SysTick) },
		systick.WithAccessCost(cfg.AccessCost))
	m.Timeouts = kernel.NewTimeoutList(m.IRQ)

	var powerOpts []power.Option
	if cfg.IdleThreshold > 0 {
		powerOpts = append(powerOpts, power.WithThreshold(cfg.IdleThreshold))
	}
	powerOpts = append(powerOpts, power.WithResumeHook(func(ticks int32) {
		m.logger.Debug("idle resumed", "requested", ticks, "cycle", m.Timer.Cycles())
	}))
	m.Power = power.NewManager(m.IRQ, powerOpts...)

	sinks := kernel.Tee{m.Timeouts, m.Ticker, kernel.TickSinkFunc(m.record)}
	if m.extra != nil {
		sinks = append(sinks, m.extra)
	}

	m.Clock = sysclock.New(systick.NewDevice(m.Timer), m.IRQ, sinks,
		sysclock.WithVector(m.IRQ),
		sysclock.WithResumer(m.Power))
	m.Power.SetTimer(m.Clock)

	wake := irq.HandlerFunc(func() { m.Power.Wake() })
	if err := m.IRQ.Register(irq.Wake, WakePriority, wake); err != nil {
		return nil, fmt.Errorf("failed to install wake handler: %w", err)
	}

	if err := m.Clock.Init(cfg.Clock); err != nil {
		return nil, fmt.Errorf("failed to start system clock: %w", err)
	}

	cal := m.Clock.Calibration()
	m.logger.Info("system clock started",
		"ticks_per_second", cfg.Clock.TicksPerSecond,
		"clock_hz", cfg.Clock.ClockHz,
		"reload", m.Clock.DefaultLoad(),
		"tickless", cfg.Clock.Tickless,
		"max_idle_ticks", cal.MaxTicks,
		"skew", cal.Skew)
	return m, nil
}

// record keeps the announcement trace. It runs in the tick handler.
func (m *Machine) record(ticks uint32) {
	m.ticks += uint64(ticks)
	m.trace = append(m.trace, Announcement{Cycle: m.Timer.Cycles(), Ticks: ticks})
	m.logger.Debug("ticks announced", "ticks", ticks, "cycle", m.Timer.Cycles())
}

// Run runs the machine for the specified number of counter clocks, taking
// each interrupt when it is raised plus the configured latency.
func (m *Machine) Run(cycles uint64) {
	for cycles > 0 {
		chunk := uint32(systick.MaxCount)
		if cycles < uint64(chunk) {
			chunk = uint32(cycles)
		}
		cycles -= uint64(m.Timer.Step(chunk))

		if m.cfg.Latency > 0 && m.IRQ.Pending(irq.SysTick) {
			latency := min(uint64(m.cfg.Latency), cycles)
			m.Timer.Advance(latency)
			cycles -= latency
		}
		m.IRQ.Dispatch()
	}
}

// Idle enters kernel idle for the given number of ticks, or power.Forever.
func (m *Machine) Idle(ticks int32) {
	m.logger.Debug("idle", "ticks", ticks, "cycle", m.Timer.Cycles())
	m.Power.Idle(ticks)
}

// IdleUntilTimeout idles until the nearest pending timeout.
func (m *Machine) IdleUntilTimeout() error {
	next, ok := m.Timeouts.Next()
	if !ok {
		return ErrNoTimeout
	}
	m.Idle(int32(min(next, uint32(1<<31-1))))
	return nil
}

// Wake raises the external wake interrupt and takes it immediately.
func (m *Machine) Wake() {
	m.logger.Debug("wake", "cycle", m.Timer.Cycles())
	m.IRQ.Raise(irq.Wake)
	m.IRQ.Dispatch()
}

// AddTimeout starts a kernel timeout the given number of ticks from now.
func (m *Machine) AddTimeout(name string, ticks uint32) (*kernel.Timeout, error) {
	t := kernel.NewTimeout(name)
	if err := m.Timeouts.Add(t, ticks); err != nil {
		return nil, fmt.Errorf("failed to add timeout %q: %w", name, err)
	}
	return t, nil
}

// Read returns the system clock cycle count.
func (m *Machine) Read() uint64 {
	return m.Clock.Read()
}

// Cycles returns the counter clocks elapsed since reset.
func (m *Machine) Cycles() uint64 {
	return m.Timer.Cycles()
}

// Ticks returns the total ticks announced.
func (m *Machine) Ticks() uint64 {
	return m.ticks
}

// Trace returns the tick announcements made so far.
func (m *Machine) Trace() []Announcement {
	return m.trace
}

// Halt stops the system clock.
func (m *Machine) Halt() {
	m.Clock.Disable()
	m.logger.Info("system clock stopped", "cycle", m.Timer.Cycles(), "ticks", m.ticks)
}
