// Package kernel implements the consumers of system clock tick events:
// the idle-aware scheduler ticker and the simple timeout list used by
// kernels without tickless idle support.
//
// Announcements arrive from interrupt context. Every consumer in this
// package returns without blocking.
package kernel

// TickSink receives elapsed tick announcements from the system clock
// driver. Announcements are delivered in time order and count is at
// least 1.
type TickSink interface {
	AnnounceTicks(count uint32)
}

// TickSinkFunc adapts a function to the TickSink interface.
type TickSinkFunc func(count uint32)

// AnnounceTicks implements TickSink.
func (f TickSinkFunc) AnnounceTicks(count uint32) {
	if f != nil {
		f(count)
	}
}

// Tee fans every announcement out to several sinks in order.
type Tee []TickSink

// AnnounceTicks implements TickSink.
func (t Tee) AnnounceTicks(count uint32) {
	for _, sink := range t {
		if sink != nil {
			sink.AnnounceTicks(count)
		}
	}
}

type discard struct{}

func (discard) AnnounceTicks(uint32) {}

// Discard is a TickSink that drops every announcement.
var Discard TickSink = discard{}
