package supplicant

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/lownet/supctl/internal/ctrlsock"
)

// abstractPrefix keys abstract-namespace socket names when the
// filesystem socket directory is absent.
const abstractPrefix = "@supctl:"

// eventQueueLen bounds how many undelivered events the pump may hold
// before it blocks on the daemon's behalf.
const eventQueueLen = 8

// socketPath computes the control socket path for the primary
// interface: a file under the well-known socket directory when that
// directory exists, otherwise an abstract-namespace name.
func (m *Manager) socketPath() string {
	if info, err := os.Stat(m.cfg.SocketDir); err == nil && info.IsDir() {
		return filepath.Join(m.cfg.SocketDir, m.iface)
	}
	return abstractPrefix + m.iface
}

// Connect establishes the control session: a command connection and a
// monitor connection on the same socket path, the monitor attached to
// the daemon's event feed, plus the wake channel used to interrupt a
// blocked event wait. Establishment is all-or-nothing: any failure
// leaves no connection, subscription, or channel behind.
func (m *Manager) Connect(ctx context.Context) error {
	if m.Status(ctx) != StatusRunning {
		m.logger.Error("daemon not running, cannot connect", "service", m.cfg.Service)
		return ErrNotRunning
	}

	m.iface = m.resolveInterface(ctx)
	path := m.socketPath()

	cmdConn, err := m.dial(path)
	if err != nil {
		m.logger.Error("unable to open command connection", "path", path, "error", err)
		return fmt.Errorf("opening command connection: %w", err)
	}

	monConn, err := m.dial(path)
	if err != nil {
		cmdConn.Close()
		return fmt.Errorf("opening monitor connection: %w", err)
	}

	if err := monConn.Attach(); err != nil {
		monConn.Close()
		cmdConn.Close()
		return fmt.Errorf("attaching to event feed: %w", err)
	}

	m.cmdConn = cmdConn
	m.monConn = monConn
	m.wake = make(chan struct{}, 1)
	m.events = make(chan recvResult, eventQueueLen)
	m.pumpStop = make(chan struct{})
	go pump(monConn, m.events, m.pumpStop)
	return nil
}

// pump owns the blocking receive on the monitor connection and feeds
// datagrams to WaitForEvent. It exits on the first receive failure
// (Disconnect closing the connection included) or when told to stop.
func pump(conn ctrlsock.Conn, out chan<- recvResult, stop <-chan struct{}) {
	for {
		data, err := conn.Receive()
		select {
		case out <- recvResult{data: data, err: err}:
		case <-stop:
			return
		}
		if err != nil {
			return
		}
	}
}

// Disconnect tears the session down: wakes any blocked event wait,
// closes both connections and the pump, then waits (bounded) for the
// supervisor to report the daemon stopped. It does not itself request
// a stop; closing the control sockets is the trigger the supervisor
// reacts to.
func (m *Manager) Disconnect(ctx context.Context) error {
	m.signalWake()
	m.closeSession()
	return m.pollStopped(ctx, stopPollBudget)
}

// closeSession releases the session handles. Each is nil-safe and
// idempotent so a failed or repeated teardown is harmless.
func (m *Manager) closeSession() {
	if m.cmdConn != nil {
		m.cmdConn.Close()
		m.cmdConn = nil
	}
	if m.monConn != nil {
		m.monConn.Close()
		m.monConn = nil
	}
	if m.pumpStop != nil {
		close(m.pumpStop)
		m.pumpStop = nil
	}
}

// signalWake nudges the wake channel without blocking. The channel is
// level-triggered: one pending signal is enough, extra signals collapse.
func (m *Manager) signalWake() {
	select {
	case m.wake <- struct{}{}:
	default:
	}
}
