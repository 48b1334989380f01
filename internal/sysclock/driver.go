// Package sysclock implements the kernel system clock on top of a SysTick
// counter.
//
// The driver turns the free-running 24-bit down counter into a monotonic
// cycle count and a stream of tick announcements, and supports tickless
// idle: while the kernel has nothing due, the counter is reprogrammed to
// fire once after many ticks instead of once per tick.
//
// The counter emulates two modes on hardware that only auto-reloads:
//   - Periodic: the reload value is one tick
//   - One-shot: the reload value spans an idle period or the rest of a tick
//
// The legal states are (Periodic, Active) and (OneShot, Tickless), plus
// (OneShot, Active) while the counter runs out the tick in which an idle
// period was cut short.
package sysclock

import (
	"fmt"

	"github.com/richardwooding/tickcore/internal/irq"
	"github.com/richardwooding/tickcore/internal/kernel"
)

// Timer is the counter hardware the driver programs.
type Timer interface {
	Stop() (expired bool)
	Start()
	Run()
	Current() uint32
	ReloadValue() uint32
	SetReload(count uint32)
	ExpiryFlagged() bool
}

// Vector is the exception table the tick handler is installed in.
type Vector interface {
	Register(line irq.Line, priority irq.Priority, handler irq.Handler) error
}

// IdleResumer is the power management side of a pending idle request. The
// kernel leaves it set while it idles; the tick handler completes it.
type IdleResumer interface {
	PendingIdle() int32
	ClearPendingIdle()
	ResumeFromIdle(ticks int32)
}

// TimerMode is the emulated counter mode.
type TimerMode uint8

// Timer modes.
const (
	Periodic TimerMode = iota
	OneShot
)

// String returns the mode name.
func (m TimerMode) String() string {
	if m == OneShot {
		return "one-shot"
	}
	return "periodic"
}

// IdleMode tracks whether a tickless idle period is in progress.
type IdleMode uint8

// Idle modes.
const (
	Active IdleMode = iota
	Tickless
)

// String returns the mode name.
func (m IdleMode) String() string {
	if m == Tickless {
		return "tickless"
	}
	return "active"
}

// Calibration holds the tickless idle parameters measured at Init.
type Calibration struct {
	DefaultLoad uint32 // Periodic reload value
	MaxTicks    uint32 // Most ticks a single reload can span
	MaxLoad     uint32 // MaxTicks * DefaultLoad
	Skew        uint32 // Cycles spent switching the counter in or out of idle
}

// idleSnapshot is the working state of the current idle period.
type idleSnapshot struct {
	Calibration

	origin      uint32 // Reload programmed at idle entry
	originTicks uint32 // Tick budget of the idle period, less the slack tick
}

// Driver is the system clock. It exclusively owns the counter; all of its
// state changes through the operations below.
type Driver struct {
	hw       Timer
	platform irq.Platform
	vector   Vector
	sink     kernel.TickSink
	resumer  IdleResumer

	tickless     bool
	latencyBench bool
	defaultLoad  uint32
	load         uint32 // Reload value last programmed

	acc  accumulator
	idle idleSnapshot

	timerMode TimerMode
	idleMode  IdleMode

	// offset is the distance from the accumulated count to the moment the
	// current reload was programmed. It keeps Read continuous when an
	// accumulator update and the counter disagree.
	offset uint64

	// wrapped latches COUNTFLAG for a wrap the tick handler has not taken.
	wrapped bool

	pending uint32 // Elapsed ticks not yet announced

	latency      uint32
	latencyValid bool

	initialized bool
	disabled    bool
}

// Option customises a Driver.
type Option func(*Driver)

// WithResumer sets the power management collaborator completed by the
// tick handler.
func WithResumer(r IdleResumer) Option {
	return func(d *Driver) {
		d.resumer = r
	}
}

// WithVector installs the tick handler in the given exception table at Init.
func WithVector(v Vector) Option {
	return func(d *Driver) {
		d.vector = v
	}
}

// New creates a Driver for the given counter. Announcements go to sink;
// platform provides critical sections and the instruction barrier.
func New(hw Timer, platform irq.Platform, sink kernel.TickSink, opts ...Option) *Driver {
	if sink == nil {
		sink = kernel.Discard
	}
	d := &Driver{
		hw:       hw,
		platform: platform,
		sink:     sink,
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Init programs the counter for the configured tick rate, calibrates
// tickless idle when enabled, installs the tick handler and starts the
// counter in periodic mode.
//
// A tick period that does not fit the counter is fatal to the caller: the
// driver stays uninitialized.
func (d *Driver) Init(cfg Config) error {
	params, err := Params(cfg.TicksPerSecond, cfg.ClockHz)
	if err != nil {
		return err
	}

	state := d.platform.Disable()
	defer d.platform.Restore(state)

	d.hw.Stop()
	d.setReload(params.DefaultLoad)

	d.tickless = cfg.Tickless
	d.latencyBench = cfg.LatencyBenchmark
	d.defaultLoad = params.DefaultLoad
	d.acc.reset(params.CyclesPerTick)
	d.idle = idleSnapshot{}
	d.timerMode = Periodic
	d.idleMode = Active
	d.offset = 0
	d.pending = 0
	d.latency = 0
	d.latencyValid = false

	if d.tickless {
		d.calibrate()
	}

	if d.vector != nil {
		if err := d.vector.Register(irq.SysTick, irq.DefaultPriority, d); err != nil {
			return fmt.Errorf("failed to install tick handler: %w", err)
		}
	}

	d.initialized = true
	d.disabled = false
	d.hw.Start()
	return nil
}

// calibrate derives the idle limits from the programmed reload value and
// measures the skew of an idle transition by running the same register
// sequence once.
func (d *Driver) calibrate() {
	d.idle.DefaultLoad = d.hw.ReloadValue()
	d.idle.MaxTicks = maxCount / d.idle.DefaultLoad
	d.idle.MaxLoad = d.idle.MaxTicks * d.idle.DefaultLoad

	// The counter has to run for the measurement, without interrupts
	d.hw.Run()
	d.platform.InstructionBarrier()

	start := d.hw.Current()

	d.hw.Run() // Stands in for Stop

	count := d.hw.Current()

	// Same arithmetic as an idle entry
	if count == 1 || count == d.idle.DefaultLoad {
		count = d.idle.MaxTicks - 1
		count += d.idle.MaxLoad - d.idle.DefaultLoad
	} else {
		count--
		count += count * d.idle.DefaultLoad
	}
	d.idle.origin = count

	d.hw.Run() // Stands in for Start
	d.timerMode = Periodic

	end := d.hw.Current()

	// Down counter, assumes no rollover during the sequence
	d.idle.Skew = 0
	if start > end {
		d.idle.Skew = start - end
	}

	d.hw.Stop()
	d.setReload(d.idle.DefaultLoad)
	d.idle.origin = 0
}

// Read returns the counter cycles elapsed since Init. The count never
// decreases and has cycle resolution between interrupts.
func (d *Driver) Read() uint64 {
	state := d.platform.Disable()
	defer d.platform.Restore(state)

	current := d.hw.Current()
	if current == 0 && !d.wrapped && d.hw.ExpiryFlagged() {
		// Reached zero, the tick handler has not run yet
		d.wrapped = true
	}
	return d.acc.load() + d.sinceAccumulated(current)
}

// sinceAccumulated returns the cycles between the accumulated count and the
// given counter value of the current reload.
func (d *Driver) sinceAccumulated(current uint32) uint64 {
	// The counter spends one clock at zero before each reload
	period := uint64(d.load) + 1

	var n uint64
	if current != 0 {
		n = period - uint64(current)
	}
	if d.wrapped {
		n += period
	}
	return d.offset + n
}

// rebase moves the offset so that Read continues from now after the
// accumulator or the counter has been changed. current is the counter value
// after the change.
func (d *Driver) rebase(now uint64, current uint32) {
	d.offset = 0
	if base := d.acc.load() + d.sinceAccumulated(current); now > base {
		d.offset = now - base
	}
}

// setReload programs the stopped counter. The cleared counter has no
// outstanding wrap.
func (d *Driver) setReload(count uint32) {
	d.hw.SetReload(count)
	d.load = count
	d.wrapped = false
}

// Accumulated returns the cycle count at the last reported tick boundary.
func (d *Driver) Accumulated() uint64 {
	return d.acc.load()
}

// Disable stops the counter and its interrupt. The clock stays stopped
// until the next Init.
func (d *Driver) Disable() {
	state := d.platform.Disable()
	defer d.platform.Restore(state)

	if d.hw.Stop() {
		d.wrapped = true
	}
	d.disabled = true
}

// Mode returns the emulated counter mode and the idle mode.
func (d *Driver) Mode() (TimerMode, IdleMode) {
	return d.timerMode, d.idleMode
}

// Calibration returns the tickless idle parameters measured at Init.
func (d *Driver) Calibration() Calibration {
	return d.idle.Calibration
}

// IdleBudget returns the tick budget of the current or last idle period.
func (d *Driver) IdleBudget() uint32 {
	return d.idle.originTicks
}

// DefaultLoad returns the periodic reload value.
func (d *Driver) DefaultLoad() uint32 {
	return d.defaultLoad
}

// Latency returns the lowest interrupt entry latency observed, in cycles.
// It reports false until an interrupt has been measured.
func (d *Driver) Latency() (uint32, bool) {
	return d.latency, d.latencyValid
}

// Disabled reports whether Disable has stopped the clock.
func (d *Driver) Disabled() bool {
	return d.disabled
}

// announce reports the pending elapsed ticks and clears them.
func (d *Driver) announce() {
	if d.pending == 0 {
		return
	}
	n := d.pending
	d.pending = 0
	d.sink.AnnounceTicks(n)
}
