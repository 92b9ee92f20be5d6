package sensing

import (
	"context"
	"errors"
	"log/slog"
	"math"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
)

// Channel carries decoded values from the device link goroutine to the
// session loop. Post never blocks; the queue is unbounded and FIFO.
type Channel struct {
	mu     sync.Mutex
	queue  []float64
	closed bool
	wake   chan struct{}
	done   chan struct{}

	posted  atomic.Uint64
	dropped atomic.Uint64
	log     *slog.Logger
}

func NewChannel(logger *slog.Logger) *Channel {
	if logger == nil {
		logger = slog.Default()
	}
	return &Channel{
		wake: make(chan struct{}, 1),
		done: make(chan struct{}),
		log:  logger,
	}
}

var errNotFinite = errors.New("value is not finite")

// Post decodes a raw payload and enqueues it. Payloads that are not a
// finite floating point number are dropped.
func (c *Channel) Post(raw string) {
	v, err := strconv.ParseFloat(strings.TrimSpace(raw), 64)
	if err == nil && (math.IsInf(v, 0) || math.IsNaN(v)) {
		err = errNotFinite
	}
	if err != nil {
		c.dropped.Add(1)
		c.log.Warn("dropping malformed sample", "payload", raw, "error", err)
		return
	}
	c.PostValue(v)
}

func (c *Channel) PostValue(v float64) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.queue = append(c.queue, v)
	c.mu.Unlock()
	c.posted.Add(1)

	select {
	case c.wake <- struct{}{}:
	default:
	}
}

// Next blocks until a value is available. It returns false once the
// channel is closed or ctx is done.
func (c *Channel) Next(ctx context.Context) (float64, bool) {
	for {
		c.mu.Lock()
		if c.closed {
			c.mu.Unlock()
			return 0, false
		}
		if len(c.queue) > 0 {
			v := c.queue[0]
			c.queue[0] = 0
			c.queue = c.queue[1:]
			if len(c.queue) == 0 {
				c.queue = nil
			}
			c.mu.Unlock()
			return v, true
		}
		c.mu.Unlock()

		select {
		case <-c.wake:
		case <-c.done:
			return 0, false
		case <-ctx.Done():
			return 0, false
		}
	}
}

// Close stops accepting values and discards whatever was not drained.
func (c *Channel) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	c.closed = true
	c.queue = nil
	close(c.done)
}

// Pending is the number of posted values not yet consumed.
func (c *Channel) Pending() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.queue)
}

func (c *Channel) Posted() uint64  { return c.posted.Load() }
func (c *Channel) Dropped() uint64 { return c.dropped.Load() }
