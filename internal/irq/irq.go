// Package irq implements a single-core exception controller: a vector
// table of handlers, edge-latched pending state, a global interrupt mask
// and the instruction barrier primitive.
//
// Handlers run with interrupts masked and are never re-entered. A line can
// have at most one pending request; raising it again before it is serviced
// has no further effect.
package irq

import (
	"errors"
	"fmt"
)

// Line identifies an exception or interrupt line by its exception number.
type Line uint8

// Predefined lines.
const (
	SysTick Line = 15 // System timer exception
	Wake    Line = 16 // External wake interrupt (IRQ0)
)

// String returns the line name.
func (l Line) String() string {
	switch l {
	case SysTick:
		return "SysTick"
	case Wake:
		return "Wake"
	}
	if l < Wake {
		return fmt.Sprintf("EXC%d", int(l))
	}
	return fmt.Sprintf("IRQ%d", int(l)-int(Wake))
}

// Priority is an exception priority. Lower values are more urgent.
type Priority uint8

// DefaultPriority is the priority exceptions get unless configured otherwise.
const DefaultPriority Priority = 0x80

// ErrNilHandler indicates an attempt to register a nil handler.
var ErrNilHandler = errors.New("irq: nil handler")

// Handler services one interrupt line.
type Handler interface {
	HandleInterrupt()
}

// HandlerFunc adapts a function to the Handler interface.
type HandlerFunc func()

// HandleInterrupt implements Handler.
func (f HandlerFunc) HandleInterrupt() {
	if f != nil {
		f()
	}
}

// State is the interrupt mask state saved by Disable.
type State uint32

// Platform is the processor support a driver needs: critical sections and
// the instruction synchronization barrier.
type Platform interface {
	Disable() State
	Restore(state State)
	InstructionBarrier()
}

type vector struct {
	handler  Handler
	priority Priority
	pending  bool
	serviced uint64
}

// Controller is the vector table and mask of a single core.
type Controller struct {
	vectors map[Line]*vector

	masked    bool // PRIMASK
	servicing bool // Inside a handler

	barriers uint64
	spurious uint64
}

// NewController creates a Controller with interrupts enabled and no
// handlers registered.
func NewController() *Controller {
	return &Controller{
		vectors: make(map[Line]*vector),
	}
}

// Register installs the handler for a line at the given priority,
// replacing any previous handler. A pending request survives replacement.
func (c *Controller) Register(line Line, priority Priority, handler Handler) error {
	if handler == nil {
		return fmt.Errorf("%w: line %s", ErrNilHandler, line)
	}
	v, ok := c.vectors[line]
	if !ok {
		v = &vector{}
		c.vectors[line] = v
	}
	v.handler = handler
	v.priority = priority
	return nil
}

// Unregister removes the handler for a line and drops any pending request.
func (c *Controller) Unregister(line Line) {
	delete(c.vectors, line)
}

// Raise latches a request on the line. Requests on lines without a handler
// are counted as spurious and dropped.
func (c *Controller) Raise(line Line) {
	v, ok := c.vectors[line]
	if !ok {
		c.spurious++
		return
	}
	v.pending = true
}

// Pending reports whether the line has a latched request.
func (c *Controller) Pending(line Line) bool {
	v, ok := c.vectors[line]
	return ok && v.pending
}

// Dispatch services pending requests, most urgent first, until none are
// left. It does nothing while interrupts are masked or a handler is
// running. It returns the number of handlers run.
func (c *Controller) Dispatch() int {
	if c.masked || c.servicing {
		return 0
	}

	count := 0
	for {
		v := c.next()
		if v == nil {
			return count
		}
		v.pending = false
		v.serviced++

		c.servicing = true
		c.masked = true
		v.handler.HandleInterrupt()
		c.masked = false
		c.servicing = false
		count++
	}
}

// next returns the most urgent pending vector.
func (c *Controller) next() *vector {
	var (
		bestLine Line
		best     *vector
	)
	for line, v := range c.vectors {
		if !v.pending {
			continue
		}
		if best == nil || v.priority < best.priority || v.priority == best.priority && line < bestLine {
			bestLine, best = line, v
		}
	}
	return best
}

// Disable masks interrupts and returns the previous mask state.
func (c *Controller) Disable() State {
	if c.masked {
		return 1
	}
	c.masked = true
	return 0
}

// Restore restores the mask state returned by Disable.
func (c *Controller) Restore(state State) {
	c.masked = state != 0
}

// Masked reports whether interrupts are currently masked.
func (c *Controller) Masked() bool {
	return c.masked
}

// InstructionBarrier flushes the pipeline so that every preceding
// register write has taken effect.
func (c *Controller) InstructionBarrier() {
	c.barriers++
}

// Barriers returns the number of instruction barriers executed.
func (c *Controller) Barriers() uint64 {
	return c.barriers
}

// Serviced returns how many times the line's handler has run.
func (c *Controller) Serviced(line Line) uint64 {
	if v, ok := c.vectors[line]; ok {
		return v.serviced
	}
	return 0
}

// Spurious returns the number of requests raised on lines without a handler.
func (c *Controller) Spurious() uint64 {
	return c.spurious
}
