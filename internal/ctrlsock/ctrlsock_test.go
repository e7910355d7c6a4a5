package ctrlsock

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

// testDaemon is a minimal control-socket endpoint: one datagram in, a
// scripted datagram back, with ATTACH bookkeeping so tests can push
// events to subscribed clients.
type testDaemon struct {
	t        *testing.T
	ln       *net.UnixConn
	attached chan *net.UnixAddr
}

func startTestDaemon(t *testing.T, path string, handle func(cmd string) (reply string, respond bool)) *testDaemon {
	t.Helper()
	ln, err := net.ListenUnixgram("unixgram", &net.UnixAddr{Name: path, Net: "unixgram"})
	if err != nil {
		t.Fatalf("listening on %s: %v", path, err)
	}
	d := &testDaemon{t: t, ln: ln, attached: make(chan *net.UnixAddr, 1)}
	t.Cleanup(func() { ln.Close() })

	go func() {
		buf := make([]byte, 4096)
		for {
			n, raddr, err := ln.ReadFromUnix(buf)
			if err != nil {
				return
			}
			cmd := string(buf[:n])
			if cmd == "ATTACH" {
				d.attached <- raddr
				ln.WriteToUnix([]byte("OK\n"), raddr)
				continue
			}
			if reply, respond := handle(cmd); respond {
				ln.WriteToUnix([]byte(reply), raddr)
			}
		}
	}()
	return d
}

func (d *testDaemon) pushEvent(addr *net.UnixAddr, event string) {
	if _, err := d.ln.WriteToUnix([]byte(event), addr); err != nil {
		d.t.Errorf("pushing event: %v", err)
	}
}

func TestRequestReply(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ctrl")
	startTestDaemon(t, path, func(cmd string) (string, bool) {
		if cmd == "PING" {
			return "PONG\n", true
		}
		return "UNKNOWN COMMAND\n", true
	})

	conn, err := Dial(path)
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	defer conn.Close()

	reply, err := conn.Request(context.Background(), "PING", time.Second)
	if err != nil {
		t.Fatalf("Request: %v", err)
	}
	if reply != "PONG\n" {
		t.Fatalf("reply = %q, want PONG", reply)
	}
}

func TestRequestTimeout(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ctrl")
	startTestDaemon(t, path, func(cmd string) (string, bool) {
		return "", false // never answer
	})

	conn, err := Dial(path)
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	defer conn.Close()

	_, err = conn.Request(context.Background(), "SCAN", 100*time.Millisecond)
	if !errors.Is(err, ErrTimeout) {
		t.Fatalf("err = %v, want ErrTimeout", err)
	}
}

func TestRequestSkipsInterleavedEvents(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ctrl")
	daemon := startTestDaemon(t, path, func(cmd string) (string, bool) {
		return "OK\n", true
	})

	conn, err := Dial(path)
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	defer conn.Close()

	// Prime the client's receive queue with an event before the reply
	// arrives: attach first so the daemon knows our address.
	if err := conn.Attach(); err != nil {
		t.Fatalf("Attach: %v", err)
	}
	addr := <-daemon.attached
	daemon.pushEvent(addr, "<2>CTRL-EVENT-SCAN-RESULTS")

	reply, err := conn.Request(context.Background(), "STATUS", time.Second)
	if err != nil {
		t.Fatalf("Request: %v", err)
	}
	if strings.HasPrefix(reply, "<") {
		t.Fatalf("event leaked into reply: %q", reply)
	}
	if reply != "OK\n" {
		t.Fatalf("reply = %q, want OK", reply)
	}
}

func TestAttachAndReceive(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ctrl")
	daemon := startTestDaemon(t, path, func(cmd string) (string, bool) {
		return "OK\n", true
	})

	conn, err := Dial(path)
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	defer conn.Close()

	if err := conn.Attach(); err != nil {
		t.Fatalf("Attach: %v", err)
	}
	addr := <-daemon.attached
	daemon.pushEvent(addr, "IFNAME=wlan0 <3>CTRL-EVENT-CONNECTED")

	msg, err := conn.Receive()
	if err != nil {
		t.Fatalf("Receive: %v", err)
	}
	if string(msg) != "IFNAME=wlan0 <3>CTRL-EVENT-CONNECTED" {
		t.Fatalf("event = %q", msg)
	}
}

func TestCloseUnblocksReceive(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ctrl")
	startTestDaemon(t, path, func(cmd string) (string, bool) {
		return "OK\n", true
	})

	conn, err := Dial(path)
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}

	errCh := make(chan error, 1)
	go func() {
		_, err := conn.Receive()
		errCh <- err
	}()

	time.Sleep(50 * time.Millisecond)
	if err := conn.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	select {
	case err := <-errCh:
		if err == nil {
			t.Fatalf("Receive returned nil error after Close")
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("Receive still blocked after Close")
	}

	// Second close is a no-op.
	if err := conn.Close(); err != nil {
		t.Fatalf("second Close: %v", err)
	}
}

func TestDialAbstractNamespace(t *testing.T) {
	name := fmt.Sprintf("@supctl-test-%d", os.Getpid())
	ln, err := net.ListenUnixgram("unixgram", &net.UnixAddr{Name: name, Net: "unixgram"})
	if err != nil {
		t.Skipf("abstract namespace unavailable: %v", err)
	}
	defer ln.Close()

	go func() {
		buf := make([]byte, 256)
		n, raddr, err := ln.ReadFromUnix(buf)
		if err != nil {
			return
		}
		if string(buf[:n]) == "PING" {
			ln.WriteToUnix([]byte("PONG\n"), raddr)
		}
	}()

	conn, err := Dial(name)
	if err != nil {
		t.Fatalf("Dial abstract: %v", err)
	}
	defer conn.Close()

	reply, err := conn.Request(context.Background(), "PING", time.Second)
	if err != nil {
		t.Fatalf("Request: %v", err)
	}
	if reply != "PONG\n" {
		t.Fatalf("reply = %q", reply)
	}
}
