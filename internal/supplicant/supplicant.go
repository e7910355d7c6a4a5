// Package supplicant manages the lifecycle of, and control channel to,
// the network-configuration daemon. It starts and stops the daemon
// through the supervisor's property surface, opens the dual-socket
// control session (one command connection, one monitor connection
// attached to the event feed), sends synchronous commands, and waits
// for asynchronous events.
package supplicant

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/gofrs/flock"

	"github.com/lownet/supctl/internal/config"
	"github.com/lownet/supctl/internal/ctrlsock"
	"github.com/lownet/supctl/internal/properties"
)

// Status is the daemon's run state as reported by the supervisor. It is
// derived from the status property on every read and never cached.
type Status int

const (
	StatusUnknown Status = iota
	StatusStopped
	StatusRunning
)

func (s Status) String() string {
	switch s {
	case StatusRunning:
		return "running"
	case StatusStopped:
		return "stopped"
	default:
		return "unknown"
	}
}

// defaultTestInterface is the interface name assumed when neither the
// configuration nor the wifi.interface property names one.
const defaultTestInterface = "sta"

// interfaceProperty is the supervisor property naming the primary
// interface.
const interfaceProperty = "wifi.interface"

var (
	// ErrNotRunning reports a session attempt against a daemon the
	// supervisor does not consider running.
	ErrNotRunning = errors.New("supplicant: daemon is not running")

	// ErrNotConnected reports a command issued without an open session.
	ErrNotConnected = errors.New("supplicant: not connected")

	// ErrCommandFailed reports a daemon-side failure reply.
	ErrCommandFailed = errors.New("supplicant: command failed")

	// ErrStartFailed reports that the daemon started and exited again
	// before reaching the running state.
	ErrStartFailed = errors.New("supplicant: daemon started and exited")

	// ErrStartTimeout reports that the daemon never reached a terminal
	// state within the start deadline.
	ErrStartTimeout = errors.New("supplicant: daemon did not reach running state")

	// ErrStopTimeout reports that the daemon was still not stopped when
	// the stop (or disconnect) deadline elapsed.
	ErrStopTimeout = errors.New("supplicant: daemon did not stop")
)

// Polling cadence shared by the lifecycle loops: a fixed interval with
// a fixed attempt budget, matching the supervisor's own update cadence.
const (
	pollInterval     = 100 * time.Millisecond
	startPollBudget  = 200 // 20 seconds
	stopPollBudget   = 50  // 5 seconds
	defaultWaitCycle = 30 * time.Second
)

// recvResult carries one monitor datagram (or its failure) from the
// pump goroutine to WaitForEvent.
type recvResult struct {
	data []byte
	err  error
}

// Manager owns the daemon lifecycle and at most one control session.
//
// Connect and Disconnect must be serialized by the caller and must not
// overlap concurrent SendCommand/WaitForEvent calls. Between them, the
// session handles are written once and only read, so SendCommand and
// WaitForEvent may run from different goroutines concurrently.
type Manager struct {
	cfg    config.Config
	props  properties.Store
	dial   ctrlsock.Dialer
	logger *slog.Logger
	lock   *flock.Flock

	// Session state, written at Connect, cleared at Disconnect.
	iface    string
	cmdConn  ctrlsock.Conn
	monConn  ctrlsock.Conn
	wake     chan struct{}
	events   chan recvResult
	pumpStop chan struct{}

	// waitCycle bounds one multiplexed wait; on expiry the daemon
	// status is re-checked. Shortened in tests.
	waitCycle time.Duration

	// pollEvery is the lifecycle polling interval. Shortened in tests.
	pollEvery time.Duration

	// yield runs between the supervisor request and the first poll.
	yield func()
}

// New returns a Manager for the daemon described by cfg, observing and
// controlling it through props. A nil dialer selects the real control
// socket transport; a nil logger selects slog.Default.
func New(cfg config.Config, props properties.Store, dial ctrlsock.Dialer, logger *slog.Logger) *Manager {
	if dial == nil {
		dial = ctrlsock.Dial
	}
	if logger == nil {
		logger = slog.Default()
	}
	m := &Manager{
		cfg:       cfg,
		props:     props,
		dial:      dial,
		logger:    logger,
		waitCycle: defaultWaitCycle,
		pollEvery: pollInterval,
		yield:     yieldScheduler,
	}
	if cfg.LockFile != "" {
		m.lock = flock.New(cfg.LockFile)
	}
	return m
}

// Status reads the daemon's run state from the supervisor.
func (m *Manager) Status(ctx context.Context) Status {
	value, ok := m.props.Get(ctx, properties.StatusKey(m.cfg.Service))
	if !ok {
		return StatusUnknown
	}
	switch value {
	case properties.StatusRunning:
		return StatusRunning
	case properties.StatusStopped:
		return StatusStopped
	default:
		return StatusUnknown
	}
}

// Interface returns the resolved primary interface name. It is empty
// until Start or Connect has run.
func (m *Manager) Interface() string {
	return m.iface
}

// resolveInterface picks the primary interface name: pinned
// configuration first, then the supervisor property, then the fixed
// test interface.
func (m *Manager) resolveInterface(ctx context.Context) string {
	if m.cfg.Interface != "" {
		return m.cfg.Interface
	}
	if name, ok := m.props.Get(ctx, interfaceProperty); ok && name != "" {
		return name
	}
	return defaultTestInterface
}
