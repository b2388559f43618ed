package ble

import (
	"context"
	"log/slog"
	"sync"

	"golang.org/x/time/rate"
)

// link is the session side of the channel: it lends the characteristic
// for exactly one write.
type link interface {
	acquire() (Characteristic, context.Context, error)
}

// Pending is a submitted write. It resolves exactly once.
type Pending struct {
	data []byte
	done chan struct{}
	err  error
}

func newPending(data []byte) *Pending {
	cp := make([]byte, len(data))
	copy(cp, data)
	return &Pending{data: cp, done: make(chan struct{})}
}

func (p *Pending) resolve(err error) {
	p.err = err
	close(p.done)
}

// Done is closed once the write has been transmitted, failed or dropped.
func (p *Pending) Done() <-chan struct{} {
	return p.done
}

// Wait blocks until the write resolves or ctx ends. It returns nil on
// success, ErrSuperseded if a newer request replaced it, ErrNotConnected,
// or a *WriteError.
func (p *Pending) Wait(ctx context.Context) error {
	select {
	case <-p.done:
		return p.err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Channel serialises writes to the bulb. At most one write is in flight;
// while it is, only the most recent request is kept queued and older queued
// requests resolve with ErrSuperseded. Writes leave in submission order.
type Channel struct {
	link    link
	limiter *rate.Limiter

	mu     sync.Mutex
	busy   bool
	queued *Pending
}

func newChannel(l link, writesPerSecond float64) *Channel {
	limit := rate.Inf
	if writesPerSecond > 0 {
		limit = rate.Limit(writesPerSecond)
	}
	return &Channel{
		link:    l,
		limiter: rate.NewLimiter(limit, 1),
	}
}

// Submit enqueues data without blocking.
func (c *Channel) Submit(data []byte) *Pending {
	p := newPending(data)
	if _, _, err := c.link.acquire(); err != nil {
		p.resolve(ErrNotConnected)
		return p
	}

	c.mu.Lock()
	if c.busy {
		if c.queued != nil {
			c.queued.resolve(ErrSuperseded)
		}
		c.queued = p
		c.mu.Unlock()
		return p
	}
	c.busy = true
	c.mu.Unlock()

	go c.drain(p)
	return p
}

// Send submits data and waits for its outcome.
func (c *Channel) Send(ctx context.Context, data []byte) error {
	return c.Submit(data).Wait(ctx)
}

// Busy reports whether a write is in flight.
func (c *Channel) Busy() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.busy
}

// drain transmits p, then whatever is queued, until the queue is empty.
func (c *Channel) drain(p *Pending) {
	for p != nil {
		p.resolve(c.transmit(p.data))

		c.mu.Lock()
		p, c.queued = c.queued, nil
		if p == nil {
			c.busy = false
		}
		c.mu.Unlock()
	}
}

func (c *Channel) transmit(data []byte) error {
	_, ctx, err := c.link.acquire()
	if err != nil {
		return ErrNotConnected
	}
	// Pacing wait; cancelled when the connection goes away.
	if err := c.limiter.Wait(ctx); err != nil {
		return ErrNotConnected
	}
	char, _, err := c.link.acquire()
	if err != nil {
		return ErrNotConnected
	}
	if err := char.Write(data); err != nil {
		slog.Warn("[BLE] write failed", "error", err, "bytes", len(data))
		return &WriteError{Err: err}
	}
	slog.Debug("[BLE] wrote command", "data", data)
	return nil
}

// reset fails the queued request. The in-flight write, if any, finishes on
// its own; its pacing wait is cancelled by the session.
func (c *Channel) reset() {
	c.mu.Lock()
	q := c.queued
	c.queued = nil
	c.mu.Unlock()

	if q != nil {
		q.resolve(ErrNotConnected)
	}
}
