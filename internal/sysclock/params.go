package sysclock

import (
	"errors"
	"fmt"

	"github.com/richardwooding/tickcore/internal/systick"
)

var (
	// ErrInvalidConfig indicates a zero tick rate or clock frequency, or a
	// tick rate the clock cannot resolve.
	ErrInvalidConfig = errors.New("invalid system clock configuration")

	// ErrReloadTooLarge indicates the tick period does not fit the 24-bit counter.
	ErrReloadTooLarge = errors.New("cycles per tick exceed the 24-bit counter")
)

// Config selects the tick rate and the driver features.
type Config struct {
	TicksPerSecond uint32 // Kernel tick rate
	ClockHz        uint32 // Counter input clock

	// Tickless enables tickless idle. Without it EnterIdle and ExitIdle do
	// nothing and every interrupt is one tick.
	Tickless bool

	// LatencyBenchmark records the lowest interrupt entry latency observed.
	LatencyBenchmark bool
}

// Parameters are the counter values derived from a tick rate.
type Parameters struct {
	CyclesPerTick uint32 // Clock cycles per tick
	DefaultLoad   uint32 // Periodic reload value
	MaxTicks      uint32 // Most ticks a single reload can span
	MaxLoad       uint32 // Reload value spanning MaxTicks
}

// Params derives the counter parameters for a tick rate and clock
// frequency without touching hardware.
func Params(ticksPerSecond, clockHz uint32) (Parameters, error) {
	if ticksPerSecond == 0 || clockHz == 0 {
		return Parameters{}, fmt.Errorf("%w: ticks per second %d, clock %d Hz",
			ErrInvalidConfig, ticksPerSecond, clockHz)
	}

	cyclesPerTick := clockHz / ticksPerSecond
	if cyclesPerTick < 2 {
		return Parameters{}, fmt.Errorf("%w: %d ticks per second exceeds half the %d Hz clock",
			ErrInvalidConfig, ticksPerSecond, clockHz)
	}

	defaultLoad := cyclesPerTick - 1
	if defaultLoad > systick.MaxCount {
		return Parameters{}, fmt.Errorf("%w: reload %d, maximum %d",
			ErrReloadTooLarge, defaultLoad, systick.MaxCount)
	}

	maxTicks := systick.MaxCount / defaultLoad
	return Parameters{
		CyclesPerTick: cyclesPerTick,
		DefaultLoad:   defaultLoad,
		MaxTicks:      maxTicks,
		MaxLoad:       maxTicks * defaultLoad,
	}, nil
}
