package kernel

import "sync/atomic"

// DefaultEventDepth is the tick event queue depth used by NewTicker when
// depth is not positive.
const DefaultEventDepth = 16

// Ticker is the tick consumer of an idle-aware scheduler. Each
// announcement becomes a tick event carrying the elapsed tick count.
//
// When the event queue is full the count is kept in a backlog and folded
// into the next event that fits, so the scheduler sees every tick even if
// it falls behind.
type Ticker struct {
	events  chan uint32
	backlog uint32

	total     atomic.Uint64
	announced atomic.Uint64
	coalesced atomic.Uint64
}

// NewTicker creates a Ticker with an event queue of the given depth.
func NewTicker(depth int) *Ticker {
	if depth <= 0 {
		depth = DefaultEventDepth
	}
	return &Ticker{
		events: make(chan uint32, depth),
	}
}

// AnnounceTicks implements TickSink.
func (t *Ticker) AnnounceTicks(count uint32) {
	if count == 0 {
		return
	}
	t.total.Add(uint64(count))
	t.announced.Add(1)

	pending := t.backlog + count
	select {
	case t.events <- pending:
		t.backlog = 0
	default:
		t.backlog = pending
		t.coalesced.Add(1)
	}
}

// Events returns the tick event queue.
func (t *Ticker) Events() <-chan uint32 {
	return t.events
}

// Drain consumes every queued event and returns the ticks they carried,
// including any backlog that had not fit in the queue.
func (t *Ticker) Drain() uint32 {
	var ticks uint32
	for {
		select {
		case n := <-t.events:
			ticks += n
		default:
			ticks += t.backlog
			t.backlog = 0
			return ticks
		}
	}
}

// Total returns the number of ticks announced since creation.
func (t *Ticker) Total() uint64 {
	return t.total.Load()
}

// Announcements returns the number of announcements received.
func (t *Ticker) Announcements() uint64 {
	return t.announced.Load()
}

// Coalesced returns how many announcements were folded into the backlog
// because the event queue was full.
func (t *Ticker) Coalesced() uint64 {
	return t.coalesced.Load()
}
