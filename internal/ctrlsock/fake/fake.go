// Package fake provides an in-memory ctrlsock.Conn for unit tests.
package fake

import (
	"context"
	"errors"
	"net"
	"sync"
	"time"
)

// Conn is a scripted control-socket connection. Replies come from
// RequestFunc, events from PushEvent, and failures from the Err fields.
type Conn struct {
	// RequestFunc scripts Request replies. Nil means every command is
	// answered "OK\n".
	RequestFunc func(cmd string) (string, error)

	// AttachErr, if set, makes Attach fail.
	AttachErr error

	mu       sync.Mutex
	attached bool
	closed   bool

	events chan []byte
	done   chan struct{}
}

// NewConn returns an idle fake connection.
func NewConn() *Conn {
	return &Conn{
		events: make(chan []byte, 16),
		done:   make(chan struct{}),
	}
}

// PushEvent queues a datagram for Receive.
func (c *Conn) PushEvent(msg []byte) {
	c.events <- msg
}

// PushEOF queues the daemon's zero-length end-of-stream datagram.
func (c *Conn) PushEOF() {
	c.events <- []byte{}
}

// Request returns the scripted reply for cmd.
func (c *Conn) Request(ctx context.Context, cmd string, timeout time.Duration) (string, error) {
	c.mu.Lock()
	closed := c.closed
	c.mu.Unlock()
	if closed {
		return "", net.ErrClosed
	}
	if c.RequestFunc == nil {
		return "OK\n", nil
	}
	return c.RequestFunc(cmd)
}

// Attach records the subscription, or fails with AttachErr.
func (c *Conn) Attach() error {
	if c.AttachErr != nil {
		return c.AttachErr
	}
	c.mu.Lock()
	c.attached = true
	c.mu.Unlock()
	return nil
}

// Detach drops the subscription.
func (c *Conn) Detach() error {
	c.mu.Lock()
	c.attached = false
	c.mu.Unlock()
	return nil
}

// Receive blocks until an event is pushed or the connection closes.
func (c *Conn) Receive() ([]byte, error) {
	select {
	case msg := <-c.events:
		return msg, nil
	case <-c.done:
		return nil, net.ErrClosed
	}
}

// Close is idempotent and unblocks any pending Receive.
func (c *Conn) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.closed {
		c.closed = true
		close(c.done)
	}
	return nil
}

// Attached reports whether Attach succeeded since the last Detach.
func (c *Conn) Attached() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.attached
}

// Closed reports whether Close was called.
func (c *Conn) Closed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

// ErrDialRefused is a convenient injected dial failure.
var ErrDialRefused = errors.New("fake: dial refused")
