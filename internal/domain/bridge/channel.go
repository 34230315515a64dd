package bridge

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
)

// ErrChannelClosed is returned by Sync after Close.
var ErrChannelClosed = errors.New("bridge channel closed")

type envelope struct {
	msg     Message
	from    *Port
	barrier chan struct{}
}

// Channel carries messages from any number of frame Ports to one host
// listener goroutine. The listener is started once and runs until Close.
type Channel struct {
	in      chan envelope
	done    chan struct{}
	start   sync.Once
	stop    sync.Once
	stopped chan struct{}
}

// NewChannel creates a channel with the given queue depth.
func NewChannel(buffer int) *Channel {
	if buffer <= 0 {
		buffer = 256
	}
	return &Channel{
		in:      make(chan envelope, buffer),
		done:    make(chan struct{}),
		stopped: make(chan struct{}),
	}
}

// Listen starts the host listener. Only the first call has an effect.
func (c *Channel) Listen(handler func(Message)) {
	c.start.Do(func() {
		go c.loop(handler)
	})
}

func (c *Channel) loop(handler func(Message)) {
	defer close(c.stopped)
	for {
		select {
		case env := <-c.in:
			if env.barrier != nil {
				close(env.barrier)
				continue
			}
			if env.from != nil && env.from.Closed() {
				env.from.dropped.Add(1)
				continue
			}
			handler(env.msg)
		case <-c.done:
			return
		}
	}
}

// Sync blocks until every message posted before the call was handled.
func (c *Channel) Sync(ctx context.Context) error {
	b := make(chan struct{})
	select {
	case c.in <- envelope{barrier: b}:
	case <-c.done:
		return ErrChannelClosed
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case <-b:
		return nil
	case <-c.done:
		return ErrChannelClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close stops the listener. Pending messages are dropped.
func (c *Channel) Close() {
	c.stop.Do(func() {
		close(c.done)
	})
}

// Port creates a new sending endpoint for one frame.
func (c *Channel) Port() *Port {
	return &Port{ch: c}
}

func (c *Channel) post(from *Port, msg Message) bool {
	select {
	case <-c.done:
		return false
	default:
	}
	select {
	case c.in <- envelope{msg: msg, from: from}:
		return true
	case <-c.done:
		return false
	}
}

// Port is a frame's handle on the channel. Once closed it silently drops
// everything posted to it, and the listener discards anything it queued
// earlier that is still waiting, so late results from a torn down frame
// never reach the host.
type Port struct {
	ch      *Channel
	closed  atomic.Bool
	posted  atomic.Int64
	dropped atomic.Int64
}

// Post sends msg to the host. It reports whether the message was queued.
func (p *Port) Post(msg Message) bool {
	if p == nil || p.closed.Load() || !p.ch.post(p, msg) {
		if p != nil {
			p.dropped.Add(1)
		}
		return false
	}
	p.posted.Add(1)
	return true
}

// Close detaches the port. Queued messages not yet handled are dropped.
func (p *Port) Close() { p.closed.Store(true) }

// Closed reports whether the port was closed.
func (p *Port) Closed() bool { return p.closed.Load() }

// Counts returns the posted and dropped totals.
func (p *Port) Counts() (posted, dropped int64) {
	return p.posted.Load(), p.dropped.Load()
}
