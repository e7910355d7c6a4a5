package ctrlsock

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

// Datagram size bounds. Replies top out well under the daemon's own
// 4 KiB buffer; events are shorter still.
const (
	replyBufSize = 4096
	eventBufSize = 2048
)

// attachTimeout bounds the ATTACH/DETACH handshake.
const attachTimeout = 10 * time.Second

var localSeq atomic.Uint64

// Dial opens a unix datagram connection to the control socket at path.
// The local endpoint is bound to a per-process temporary name so the
// daemon has a return address; it is removed again on Close.
func Dial(path string) (Conn, error) {
	name := fmt.Sprintf("supctl-%d-%d", os.Getpid(), localSeq.Add(1))

	var laddr *net.UnixAddr
	var localPath string
	if strings.HasPrefix(path, "@") {
		laddr = &net.UnixAddr{Name: "@" + name, Net: "unixgram"}
	} else {
		localPath = filepath.Join(os.TempDir(), name)
		laddr = &net.UnixAddr{Name: localPath, Net: "unixgram"}
	}

	conn, err := net.DialUnix("unixgram", laddr, &net.UnixAddr{Name: path, Net: "unixgram"})
	if err != nil {
		if localPath != "" {
			os.Remove(localPath)
		}
		return nil, fmt.Errorf("dialing control socket %s: %w", path, err)
	}
	return &socketConn{conn: conn, localPath: localPath}, nil
}

type socketConn struct {
	conn      *net.UnixConn
	localPath string

	closeOnce sync.Once
	closeErr  error
}

// isEvent reports whether a datagram is an unsolicited event rather
// than a command reply. Events carry a bracketed level token or an
// interface prefix.
func isEvent(msg []byte) bool {
	return len(msg) > 0 && (msg[0] == '<' || bytes.HasPrefix(msg, []byte("IFNAME=")))
}

// Request sends cmd and waits for the matching reply, discarding any
// event datagrams that arrive in between.
func (c *socketConn) Request(ctx context.Context, cmd string, timeout time.Duration) (string, error) {
	deadline := time.Now().Add(timeout)
	if dl, ok := ctx.Deadline(); ok && dl.Before(deadline) {
		deadline = dl
	}

	if err := c.conn.SetWriteDeadline(deadline); err != nil {
		return "", fmt.Errorf("arming write deadline: %w", err)
	}
	if _, err := c.conn.Write([]byte(cmd)); err != nil {
		if isTimeout(err) {
			return "", ErrTimeout
		}
		return "", fmt.Errorf("sending %q: %w", cmd, err)
	}

	buf := make([]byte, replyBufSize)
	for {
		if err := ctx.Err(); err != nil {
			return "", err
		}
		if err := c.conn.SetReadDeadline(deadline); err != nil {
			return "", fmt.Errorf("arming read deadline: %w", err)
		}
		n, err := c.conn.Read(buf)
		if err != nil {
			if isTimeout(err) {
				return "", ErrTimeout
			}
			return "", fmt.Errorf("reading reply to %q: %w", cmd, err)
		}
		if isEvent(buf[:n]) {
			continue
		}
		return string(buf[:n]), nil
	}
}

// Attach subscribes this connection to the daemon's event feed.
func (c *socketConn) Attach() error {
	return c.subscription("ATTACH")
}

// Detach unsubscribes from the event feed.
func (c *socketConn) Detach() error {
	return c.subscription("DETACH")
}

func (c *socketConn) subscription(cmd string) error {
	reply, err := c.Request(context.Background(), cmd, attachTimeout)
	if err != nil {
		return err
	}
	if strings.TrimRight(reply, "\n") != "OK" {
		return fmt.Errorf("%s rejected: %q", cmd, reply)
	}
	return nil
}

// Receive blocks for the next datagram with no deadline; Close is the
// only way to interrupt it from outside.
func (c *socketConn) Receive() ([]byte, error) {
	if err := c.conn.SetReadDeadline(time.Time{}); err != nil {
		return nil, fmt.Errorf("clearing read deadline: %w", err)
	}
	buf := make([]byte, eventBufSize)
	n, err := c.conn.Read(buf)
	if err != nil {
		return nil, err
	}
	return buf[:n], nil
}

// Close shuts the socket and removes the local endpoint.
func (c *socketConn) Close() error {
	c.closeOnce.Do(func() {
		c.closeErr = c.conn.Close()
		if c.localPath != "" {
			os.Remove(c.localPath)
		}
	})
	return c.closeErr
}

func isTimeout(err error) bool {
	var ne net.Error
	return errors.As(err, &ne) && ne.Timeout()
}
