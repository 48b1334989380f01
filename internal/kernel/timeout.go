package kernel

import (
	"errors"
	"fmt"

	"github.com/richardwooding/tickcore/internal/irq"
)

var (
	// ErrZeroTicks indicates a timeout was started with a zero duration.
	ErrZeroTicks = errors.New("timeout duration must be at least one tick")

	// ErrQueued indicates a timeout that is already on the list was started again.
	ErrQueued = errors.New("timeout already queued")
)

// Timeout is a pending expiry on a TimeoutList. When it expires its Data is
// delivered on C.
type Timeout struct {
	C    <-chan any
	Data any

	c      chan any
	delta  uint32 // Ticks after the previous entry expires
	next   *Timeout
	queued bool
}

// NewTimeout creates a stopped Timeout delivering data on expiry.
func NewTimeout(data any) *Timeout {
	c := make(chan any, 1)
	return &Timeout{C: c, Data: data, c: c}
}

// Queued reports whether the timeout is on a list.
func (t *Timeout) Queued() bool {
	return t.queued
}

// deliver hands the data to the owner without blocking. A previous
// delivery the owner never received is replaced.
func (t *Timeout) deliver() {
	select {
	case t.c <- t.Data:
		return
	default:
	}
	select {
	case <-t.c:
	default:
	}
	t.c <- t.Data
}

// TimeoutList is the tick consumer of a kernel without tickless idle. It
// keeps pending timeouts ordered nearest expiry first, each entry storing
// its distance from the previous one, so only the head is decremented per
// tick.
type TimeoutList struct {
	platform irq.Platform

	head    *Timeout
	length  int
	ticks   uint64
	expired uint64
}

// NewTimeoutList creates an empty list. Add and Cancel run in critical
// sections of the given platform; platform may be nil when the caller
// already runs with interrupts masked.
func NewTimeoutList(platform irq.Platform) *TimeoutList {
	return &TimeoutList{platform: platform}
}

func (l *TimeoutList) lock() irq.State {
	if l.platform == nil {
		return 0
	}
	return l.platform.Disable()
}

func (l *TimeoutList) unlock(state irq.State) {
	if l.platform != nil {
		l.platform.Restore(state)
	}
}

// Add starts t so that it expires after the given number of ticks.
// Timeouts sharing a deadline expire in the order they were added.
func (l *TimeoutList) Add(t *Timeout, ticks uint32) error {
	if ticks == 0 {
		return ErrZeroTicks
	}

	state := l.lock()
	defer l.unlock(state)

	if t.queued {
		return fmt.Errorf("%w: %v", ErrQueued, t.Data)
	}

	var prev *Timeout
	cur := l.head
	for cur != nil && cur.delta <= ticks {
		ticks -= cur.delta
		prev = cur
		cur = cur.next
	}

	t.delta = ticks
	t.next = cur
	t.queued = true
	if cur != nil {
		cur.delta -= ticks
	}
	if prev == nil {
		l.head = t
	} else {
		prev.next = t
	}
	l.length++
	return nil
}

// Cancel removes t from the list. It reports whether t was pending.
func (l *TimeoutList) Cancel(t *Timeout) bool {
	state := l.lock()
	defer l.unlock(state)

	if !t.queued {
		return false
	}

	var prev *Timeout
	for cur := l.head; cur != nil; prev, cur = cur, cur.next {
		if cur != t {
			continue
		}
		if t.next != nil {
			t.next.delta += t.delta
		}
		if prev == nil {
			l.head = t.next
		} else {
			prev.next = t.next
		}
		t.next = nil
		t.queued = false
		l.length--
		return true
	}
	return false
}

// Remaining returns the ticks left before t expires.
func (l *TimeoutList) Remaining(t *Timeout) (uint32, bool) {
	state := l.lock()
	defer l.unlock(state)

	var sum uint32
	for cur := l.head; cur != nil; cur = cur.next {
		sum += cur.delta
		if cur == t {
			return sum, true
		}
	}
	return 0, false
}

// Next returns the ticks until the nearest pending timeout expires. The
// idle thread uses it to size an idle period.
func (l *TimeoutList) Next() (uint32, bool) {
	state := l.lock()
	defer l.unlock(state)

	if l.head == nil {
		return 0, false
	}
	return l.head.delta, true
}

// AnnounceTicks implements TickSink.
func (l *TimeoutList) AnnounceTicks(count uint32) {
	for i := uint32(0); i < count; i++ {
		l.tick()
	}
}

// tick accounts for one elapsed tick and delivers every timeout that
// reached its deadline.
func (l *TimeoutList) tick() {
	l.ticks++

	if l.head == nil {
		return
	}
	l.head.delta--

	for l.head != nil && l.head.delta == 0 {
		expired := l.head
		l.head = expired.next
		expired.next = nil
		expired.queued = false
		l.length--
		l.expired++
		expired.deliver()
	}
}

// Now returns the kernel tick count.
func (l *TimeoutList) Now() uint64 {
	return l.ticks
}

// Len returns the number of pending timeouts.
func (l *TimeoutList) Len() int {
	return l.length
}

// Expired returns the number of timeouts delivered.
func (l *TimeoutList) Expired() uint64 {
	return l.expired
}
