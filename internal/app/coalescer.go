package app

import (
	"sync"
	"time"
)

// TallyCoalescer collapses rapid push tallies into batched bus events.
// A busy station can emit many vote and steering updates per second;
// multiple tallies inside the window result in a single TallyRefreshed.
type TallyCoalescer struct {
	window time.Duration
	bus    *Bus

	mu              sync.Mutex
	pendingVote     bool
	pendingSteering bool
	timer           *time.Timer
	stopped         bool
}

// NewTallyCoalescer creates a coalescer publishing onto bus after window
// of quiet.
func NewTallyCoalescer(window time.Duration, bus *Bus) *TallyCoalescer {
	return &TallyCoalescer{window: window, bus: bus}
}

// Trigger records that a tally of the given kind arrived. The bus event
// is deferred until the window elapses without further triggers.
func (c *TallyCoalescer) Trigger(kind string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.stopped {
		return
	}

	switch kind {
	case "vote":
		c.pendingVote = true
	case "steering":
		c.pendingSteering = true
	default:
		return
	}

	if c.timer != nil {
		c.timer.Stop()
	}
	c.timer = time.AfterFunc(c.window, c.flush)
}

func (c *TallyCoalescer) flush() {
	c.mu.Lock()
	votes := c.pendingVote
	steering := c.pendingSteering
	c.pendingVote = false
	c.pendingSteering = false
	stopped := c.stopped
	c.mu.Unlock()

	if stopped || (!votes && !steering) {
		return
	}
	c.bus.Publish(TallyRefreshed{Votes: votes, Steering: steering})
}

// Stop prevents any further events from firing.
func (c *TallyCoalescer) Stop() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.stopped = true
	if c.timer != nil {
		c.timer.Stop()
	}
	c.pendingVote = false
	c.pendingSteering = false
}
