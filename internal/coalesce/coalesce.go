// Package coalesce batches repeated triggers per key into a single trailing
// call once the key has been quiet for the configured delay.
package coalesce

import (
	"errors"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
)

var ErrInvalidDelay = errors.New("coalesce delay must be positive")

type entry struct {
	timer      *clock.Timer
	count      int
	generation uint64
}

// Coalescer is a per-key trailing-edge debouncer. It is safe for concurrent
// use; at most one timer is live per key.
type Coalescer struct {
	delay   time.Duration
	clock   clock.Clock
	mu      sync.Mutex
	entries map[string]*entry
	nextGen uint64
	closed  bool
}

type Option func(*Coalescer)

// WithClock replaces the wall clock, mainly for tests.
func WithClock(c clock.Clock) Option {
	return func(coalescer *Coalescer) {
		if c != nil {
			coalescer.clock = c
		}
	}
}

func New(delay time.Duration, opts ...Option) (*Coalescer, error) {
	if delay <= 0 {
		return nil, ErrInvalidDelay
	}
	coalescer := &Coalescer{
		delay:   delay,
		clock:   clock.New(),
		entries: make(map[string]*entry),
	}
	for _, opt := range opts {
		opt(coalescer)
	}
	return coalescer, nil
}

func (c *Coalescer) Delay() time.Duration {
	return c.delay
}

// Call records a trigger for key and re-arms its timer. When the timer
// elapses with no further Call for key, onFire receives the number of
// triggers absorbed since the previous fire.
func (c *Coalescer) Call(key string, onFire func(count int)) {
	if c == nil || onFire == nil {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}

	current := c.entries[key]
	if current == nil {
		current = &entry{}
		c.entries[key] = current
	}
	current.count++
	if current.timer != nil {
		current.timer.Stop()
	}
	c.nextGen++
	generation := c.nextGen
	current.generation = generation
	current.timer = c.clock.AfterFunc(c.delay, func() {
		c.fire(key, generation, onFire)
	})
}

func (c *Coalescer) fire(key string, generation uint64, onFire func(int)) {
	c.mu.Lock()
	current := c.entries[key]
	// A timer whose Stop lost the race with expiry carries an old generation.
	if c.closed || current == nil || current.generation != generation {
		c.mu.Unlock()
		return
	}
	count := current.count
	delete(c.entries, key)
	c.mu.Unlock()

	onFire(count)
}

// Pending reports the triggers absorbed for key that have not fired yet.
func (c *Coalescer) Pending(key string) int {
	if c == nil {
		return 0
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if current := c.entries[key]; current != nil {
		return current.count
	}
	return 0
}

// Keys reports how many keys currently have an armed timer.
func (c *Coalescer) Keys() int {
	if c == nil {
		return 0
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

// Close cancels every pending timer. Later calls are ignored.
func (c *Coalescer) Close() {
	if c == nil {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	c.closed = true
	for _, current := range c.entries {
		if current.timer != nil {
			current.timer.Stop()
		}
	}
	c.entries = nil
}
