// Package ctrlsock speaks to the daemon's control socket. The daemon
// answers one datagram per request and, on connections that attached to
// its event feed, pushes unsolicited event datagrams.
//
// The package exposes the four transport primitives the rest of the
// system relies on (open, close, request, attach/receive) behind the
// Conn interface so sessions can be tested without a live daemon.
package ctrlsock

import (
	"context"
	"errors"
	"time"
)

// ErrTimeout reports that the daemon did not answer a request within
// the allotted window. It is distinct from other transport failures:
// callers couple it to event-stream cancellation.
var ErrTimeout = errors.New("ctrlsock: request timed out")

// Conn is a single connection to the daemon's control socket.
type Conn interface {
	// Request sends cmd and returns the daemon's reply. A reply that
	// does not arrive within timeout fails with ErrTimeout.
	Request(ctx context.Context, cmd string, timeout time.Duration) (string, error)

	// Attach subscribes this connection to the daemon's asynchronous
	// event feed.
	Attach() error

	// Detach unsubscribes from the event feed.
	Detach() error

	// Receive blocks for the next datagram on this connection. A
	// zero-length datagram is the daemon's end-of-stream signal and is
	// returned as an empty slice with a nil error.
	Receive() ([]byte, error)

	// Close tears the connection down. Closing unblocks a pending
	// Receive with an error. Close is idempotent.
	Close() error
}

// Dialer opens a Conn on a control socket path. Paths beginning with
// '@' live in the abstract socket namespace.
type Dialer func(path string) (Conn, error)
