package supplicant

import (
	"context"
	"testing"
	"time"

	"github.com/lownet/supctl/internal/properties"
)

func TestNormalize(t *testing.T) {
	m, _ := testManager(t, nil)

	cases := []struct {
		in, want string
	}{
		// Interface and level prefix: level excised.
		{"IFNAME=wlan0 <3>CTRL-EVENT-CONNECTED", "IFNAME=wlan0 CTRL-EVENT-CONNECTED"},
		// Level only: level excised.
		{"<3>CTRL-EVENT-DISCONNECTED", "CTRL-EVENT-DISCONNECTED"},
		// Interface token with no body: nothing of interest.
		{"IFNAME=wlan0", eventIgnore},
		// Interface but no level: untouched.
		{"IFNAME=wlan0 CTRL-EVENT-SCAN-RESULTS", "IFNAME=wlan0 CTRL-EVENT-SCAN-RESULTS"},
		// Neither prefix: verbatim pass-through.
		{"CTRL-EVENT-BSS-ADDED 0 00:11:22:33:44:55", "CTRL-EVENT-BSS-ADDED 0 00:11:22:33:44:55"},
		// Unterminated level token: left alone.
		{"<3CTRL-EVENT-X", "<3CTRL-EVENT-X"},
		{"IFNAME=wlan0 <3CTRL-EVENT-X", "IFNAME=wlan0 <3CTRL-EVENT-X"},
		// Event body after the level keeps its own arguments.
		{"IFNAME=p2p0 <2>CTRL-EVENT-TERMINATING - signal 15", "IFNAME=p2p0 CTRL-EVENT-TERMINATING - signal 15"},
	}
	for _, tc := range cases {
		if got := m.normalize(tc.in); got != tc.want {
			t.Errorf("normalize(%q) = %q, want %q", tc.in, got, tc.want)
		}
	}
}

func TestWaitForEventDeliversNormalized(t *testing.T) {
	m, _, _, monConn := connected(t)

	monConn.PushEvent([]byte("IFNAME=wlan0 <3>CTRL-EVENT-CONNECTED"))

	event := m.WaitForEvent(context.Background())
	if event != "IFNAME=wlan0 CTRL-EVENT-CONNECTED" {
		t.Fatalf("event = %q", event)
	}
}

func TestWaitForEventWithoutSession(t *testing.T) {
	m, _ := testManager(t, nil)

	event := m.WaitForEvent(context.Background())
	// No session was ever established, so the interface falls back to
	// the fixed test name.
	want := "IFNAME=" + defaultTestInterface + " CTRL-EVENT-TERMINATING - connection closed"
	if event != want {
		t.Fatalf("event = %q, want %q", event, want)
	}
}

func TestWakeUnblocksWait(t *testing.T) {
	m, _, _, _ := connected(t)

	// Default 30s cycle: the result must come from the wake signal,
	// not from cycle expiry.
	got := make(chan string, 1)
	go func() {
		got <- m.WaitForEvent(context.Background())
	}()

	time.Sleep(20 * time.Millisecond) // let the wait park
	m.signalWake()

	select {
	case event := <-got:
		if event != "IFNAME=wlan0 CTRL-EVENT-TERMINATING - connection closed" {
			t.Fatalf("event = %q", event)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("wake did not unblock the wait")
	}
}

func TestContextCancelUnblocksWait(t *testing.T) {
	m, _, _, _ := connected(t)

	ctx, cancel := context.WithCancel(context.Background())
	got := make(chan string, 1)
	go func() {
		got <- m.WaitForEvent(ctx)
	}()

	cancel()
	select {
	case event := <-got:
		if event != "IFNAME=wlan0 CTRL-EVENT-TERMINATING - connection closed" {
			t.Fatalf("event = %q", event)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("context cancellation did not unblock the wait")
	}
}

func TestEOFSynthesizesTerminatingEvent(t *testing.T) {
	m, _, _, monConn := connected(t)

	monConn.PushEOF()

	event := m.WaitForEvent(context.Background())
	if event != "IFNAME=wlan0 CTRL-EVENT-TERMINATING - signal 0 received" {
		t.Fatalf("event = %q", event)
	}
}

func TestReceiveErrorSynthesizesTerminatingEvent(t *testing.T) {
	m, _, _, monConn := connected(t)

	// The transport dies under the pump.
	monConn.Close()

	event := m.WaitForEvent(context.Background())
	if event != "IFNAME=wlan0 CTRL-EVENT-TERMINATING - recv error" {
		t.Fatalf("event = %q", event)
	}
}

func TestCycleExpiryChecksDaemonStatus(t *testing.T) {
	m, props, _, _ := connected(t)
	m.waitCycle = 10 * time.Millisecond

	// No events; the daemon silently stops. The bounded cycle must
	// notice within a poll window.
	setStatus(t, props, m.cfg.Service, properties.StatusStopped)

	got := make(chan string, 1)
	go func() {
		got <- m.WaitForEvent(context.Background())
	}()

	select {
	case event := <-got:
		if event != "IFNAME=wlan0 CTRL-EVENT-TERMINATING - connection closed" {
			t.Fatalf("event = %q", event)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("status poll did not end the wait")
	}
}

func TestCycleExpiryKeepsWaitingWhileRunning(t *testing.T) {
	m, _, _, monConn := connected(t)
	m.waitCycle = 10 * time.Millisecond

	got := make(chan string, 1)
	go func() {
		got <- m.WaitForEvent(context.Background())
	}()

	// Several cycles elapse with the daemon healthy; the wait must
	// still deliver a late event.
	time.Sleep(50 * time.Millisecond)
	monConn.PushEvent([]byte("<2>CTRL-EVENT-SCAN-RESULTS"))

	select {
	case event := <-got:
		if event != "CTRL-EVENT-SCAN-RESULTS" {
			t.Fatalf("event = %q", event)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("wait gave up while the daemon was running")
	}
}
