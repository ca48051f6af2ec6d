package downloader

import (
	"fmt"
	"time"
)

// slot is a per-destination queue with its own concurrency and delay.
// It is owned by the Downloader's event loop.
type slot struct {
	key         string
	concurrency int
	delay       time.Duration
	randomize   bool

	// active holds every admitted, unfinished entry of this slot.
	active map[*entry]struct{}

	// queue holds admitted entries waiting for dispatch, oldest first.
	queue []*entry

	// transferring holds dispatched entries whose handler has not returned.
	transferring map[*entry]struct{}

	// lastSeen is when the most recent transfer was started.
	lastSeen time.Time

	// wakeup is the pending deferred dispatch, if any.
	wakeup *time.Timer
}

func newSlot(key string, policy *DelayPolicy) *slot {
	return &slot{
		key:          key,
		concurrency:  policy.Concurrency(key),
		delay:        policy.Delay(key),
		randomize:    policy.Randomize(key),
		active:       make(map[*entry]struct{}),
		transferring: make(map[*entry]struct{}),
	}
}

// freeSlots returns how many more transfers may start.
func (s *slot) freeSlots() int {
	return s.concurrency - len(s.transferring)
}

// downloadDelay returns the delay for the next dispatch attempt, drawing
// fresh jitter each time.
func (s *slot) downloadDelay(rnd Rand) time.Duration {
	if s.randomize && s.delay > 0 {
		return Jitter(s.delay, rnd)
	}
	return s.delay
}

// dequeue removes e from the queue and reports whether it was queued.
func (s *slot) dequeue(e *entry) bool {
	for i, q := range s.queue {
		if q == e {
			s.queue = append(s.queue[:i], s.queue[i+1:]...)
			return true
		}
	}
	return false
}

// stopWakeup cancels the pending deferred dispatch.
func (s *slot) stopWakeup() {
	if s.wakeup != nil {
		s.wakeup.Stop()
		s.wakeup = nil
	}
}

// close cancels the wakeup, resolves queued entries with err and aborts
// transferring ones. The slot must not be used afterwards.
func (s *slot) close(err error) {
	s.stopWakeup()
	for _, e := range s.queue {
		e.resolve(nil, err)
	}
	s.queue = nil
	for e := range s.transferring {
		e.abort()
		e.resolve(nil, err)
	}
	clear(s.transferring)
	clear(s.active)
}

// checkInvariant panics when more transfers run than the slot allows.
func (s *slot) checkInvariant() {
	if len(s.transferring) > s.concurrency {
		panic(fmt.Sprintf("downloader: slot %q has %d transfers, limit %d",
			s.key, len(s.transferring), s.concurrency))
	}
}

func (s *slot) String() string {
	return fmt.Sprintf("<slot %s concurrency=%d delay=%v randomize=%t active=%d queue=%d transferring=%d>",
		s.key, s.concurrency, s.delay, s.randomize, len(s.active), len(s.queue), len(s.transferring))
}
