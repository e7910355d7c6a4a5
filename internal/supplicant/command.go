package supplicant

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/lownet/supctl/internal/ctrlsock"
)

// failPrefix marks a daemon-side failure reply.
const failPrefix = "FAIL"

// pingCommand is the daemon's built-in liveness probe.
const pingCommand = "PING"

// SendCommand issues one synchronous command over the command
// connection and returns the daemon's reply.
//
// Outcomes: ctrlsock.ErrTimeout when the daemon does not answer (the
// wake channel is signalled as a side effect, releasing any goroutine
// parked in WaitForEvent — an unresponsive daemon should end the event
// stream too); ErrCommandFailed, with the reply preserved, when the
// daemon answers with a FAIL reply; ErrNotConnected, immediately and
// without blocking, when no session is open. A dropped command is
// reported, never retried.
func (m *Manager) SendCommand(ctx context.Context, cmd string) (string, error) {
	conn := m.cmdConn
	if conn == nil {
		m.logger.Debug("not connected to daemon, command dropped", "cmd", cmd)
		return "", ErrNotConnected
	}

	reply, err := conn.Request(ctx, cmd, m.cfg.CommandTimeout())
	if err != nil {
		if errors.Is(err, ctrlsock.ErrTimeout) {
			m.logger.Debug("command timed out", "cmd", cmd)
			m.signalWake()
			return "", ctrlsock.ErrTimeout
		}
		return "", fmt.Errorf("command %q: %w", cmd, err)
	}

	if strings.HasPrefix(reply, failPrefix) {
		return reply, ErrCommandFailed
	}

	if strings.HasPrefix(cmd, pingCommand) {
		// The liveness probe's reply is used as a C string downstream;
		// cut it at the first terminator.
		if i := strings.IndexByte(reply, 0); i >= 0 {
			reply = reply[:i]
		}
	}
	return reply, nil
}
