package sysclock

import "sync/atomic"

// accumulator is the running total of cycles for the ticks reported so far,
// one cyclesPerTick per tick whether the tick was periodic or idle. Each
// update is a single add so a reader sees either the value before or after it.
type accumulator struct {
	cycles        atomic.Uint64
	cyclesPerTick uint32
}

func (a *accumulator) reset(cyclesPerTick uint32) {
	a.cycles.Store(0)
	a.cyclesPerTick = cyclesPerTick
}

func (a *accumulator) onPeriodicTick() {
	a.cycles.Add(uint64(a.cyclesPerTick))
}

func (a *accumulator) onIdleTicks(n uint32) {
	a.cycles.Add(uint64(n) * uint64(a.cyclesPerTick))
}

func (a *accumulator) load() uint64 {
	return a.cycles.Load()
}
