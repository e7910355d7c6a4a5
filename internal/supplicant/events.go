package supplicant

import (
	"context"
	"fmt"
	"strings"
	"time"
)

// EventTerminating is the body of the synthesized event that ends an
// event-wait loop.
const EventTerminating = "CTRL-EVENT-TERMINATING"

// eventIgnore replaces malformed events that carry an interface prefix
// but no body. The trailing space is part of the marker.
const eventIgnore = "CTRL-EVENT-IGNORE "

// ifnamePrefix introduces the interface token on the wire.
const ifnamePrefix = "IFNAME="

// WaitForEvent blocks until the daemon emits an event or the wait is
// cancelled, and returns the normalized event string.
//
// With no monitor connection (never connected, or torn down) it
// immediately synthesizes a terminating event, so a caller may keep
// looping across a disconnect without special-casing. Otherwise it
// multiplexes over the monitor feed, the wake channel, and ctx, in
// bounded cycles: each expiry re-checks the supervisor, and a daemon
// that is no longer running counts as cancellation. Cancellation and
// transport failures never surface as errors; they synthesize
// terminating events whose suffix names the cause.
func (m *Manager) WaitForEvent(ctx context.Context) string {
	if m.monConn == nil {
		return m.terminating("connection closed")
	}

	for {
		cycle := time.NewTimer(m.waitCycle)
		select {
		case r := <-m.events:
			cycle.Stop()
			if r.err != nil {
				m.logger.Debug("monitor receive failed", "error", r.err)
				return m.terminating("recv error")
			}
			if len(r.data) == 0 {
				// The daemon signals end-of-stream with an empty
				// datagram.
				m.logger.Debug("received EOF on monitor socket")
				return m.terminating("signal 0 received")
			}
			return m.normalize(string(r.data))

		case <-m.wake:
			cycle.Stop()
			return m.terminating("connection closed")

		case <-ctx.Done():
			cycle.Stop()
			return m.terminating("connection closed")

		case <-cycle.C:
			// Nothing arrived this cycle; a daemon that silently went
			// away would otherwise park us forever.
			if m.Status(ctx) == StatusStopped {
				return m.terminating("connection closed")
			}
		}
	}
}

// terminating synthesizes the event that ends a wait loop. Synthesized
// events are never normalized.
func (m *Manager) terminating(cause string) string {
	iface := m.iface
	if iface == "" {
		iface = defaultTestInterface
	}
	return fmt.Sprintf("%s%s %s - %s", ifnamePrefix, iface, EventTerminating, cause)
}

// normalize strips wire-level noise from a received event. Events
// arrive as
//
//	IFNAME=iface <N>CTRL-EVENT-XXX
//	   or
//	<N>CTRL-EVENT-XXX
//
// where <N> is the numeric message level. The level carries no
// information for consumers and is excised; an interface token with no
// body at all is replaced by the ignore marker. Anything else passes
// through verbatim.
func (m *Manager) normalize(event string) string {
	if strings.HasPrefix(event, ifnamePrefix) {
		space := strings.IndexByte(event, ' ')
		if space < 0 {
			return eventIgnore
		}
		rest := event[space+1:]
		if body, ok := cutLevel(rest); ok {
			return event[:space+1] + body
		}
		return event
	}

	if strings.HasPrefix(event, "<") {
		if body, ok := cutLevel(event); ok {
			m.logger.Debug("event without interface prefix", "event", body)
			return body
		}
		return event
	}

	m.logger.Warn("event without interface and without message level", "event", event)
	return event
}

// cutLevel removes a leading bracketed message-level token.
func cutLevel(s string) (string, bool) {
	if !strings.HasPrefix(s, "<") {
		return s, false
	}
	end := strings.IndexByte(s, '>')
	if end < 0 {
		return s, false
	}
	return s[end+1:], true
}
