// supctl - lifecycle and control channel for the network daemon
//
// Usage:
//
//	supctl start                 Start the daemon and wait for running
//	supctl stop                  Stop the daemon and wait for stopped
//	supctl status                Print the supervisor's view of the daemon
//	supctl cmd <COMMAND...>      Send one control command, print the reply
//	supctl ping                  Probe daemon liveness
//	supctl monitor               Stream events until the stream terminates
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	flag "github.com/spf13/pflag"

	"github.com/lownet/supctl/internal/config"
	"github.com/lownet/supctl/internal/properties"
	"github.com/lownet/supctl/internal/supplicant"
)

var (
	configFlag    string
	ifaceFlag     string
	socketDirFlag string
	timeoutFlag   int
	verboseFlag   bool
)

func main() {
	flag.StringVarP(&configFlag, "config", "c", "", "Path to supctl config file")
	flag.StringVar(&ifaceFlag, "iface", "", "Primary interface name (overrides config)")
	flag.StringVar(&socketDirFlag, "socket-dir", "", "Control socket directory (overrides config)")
	flag.IntVar(&timeoutFlag, "timeout", 0, "Command reply timeout in seconds (overrides config)")
	flag.BoolVarP(&verboseFlag, "verbose", "v", false, "Enable debug logging")
	flag.Parse()

	level := slog.LevelInfo
	if verboseFlag {
		level = slog.LevelDebug
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})))

	args := flag.Args()
	if len(args) == 0 {
		flag.Usage()
		os.Exit(2)
	}

	if err := run(args); err != nil {
		fmt.Fprintf(os.Stderr, "supctl: %v\n", err)
		os.Exit(1)
	}
}

func run(args []string) error {
	cfg, err := config.Load(configFlag)
	if err != nil {
		return err
	}
	if ifaceFlag != "" {
		cfg.Interface = ifaceFlag
	}
	if socketDirFlag != "" {
		cfg.SocketDir = socketDirFlag
	}
	if timeoutFlag > 0 {
		cfg.CommandTimeoutSeconds = timeoutFlag
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	store, err := properties.ConnectSystemd(ctx)
	if err != nil {
		return err
	}
	defer store.Close()

	mgr := supplicant.New(cfg, store, nil, slog.Default())

	switch args[0] {
	case "start":
		if err := mgr.Start(ctx); err != nil {
			return err
		}
		fmt.Println("running")
		return nil

	case "stop":
		if err := mgr.Stop(ctx); err != nil {
			return err
		}
		fmt.Println("stopped")
		return nil

	case "status":
		fmt.Println(mgr.Status(ctx))
		return nil

	case "cmd":
		if len(args) < 2 {
			return errors.New("cmd requires a control command")
		}
		return withSession(ctx, mgr, func() error {
			reply, err := mgr.SendCommand(ctx, strings.Join(args[1:], " "))
			if err != nil {
				if reply != "" {
					fmt.Print(reply)
				}
				return err
			}
			fmt.Print(reply)
			return nil
		})

	case "ping":
		return withSession(ctx, mgr, func() error {
			reply, err := mgr.SendCommand(ctx, "PING")
			if err != nil {
				return err
			}
			fmt.Print(reply)
			return nil
		})

	case "monitor":
		return monitor(ctx, mgr)

	default:
		return fmt.Errorf("unknown command %q", args[0])
	}
}

// withSession brackets fn with Connect/Disconnect. The disconnect-side
// wait for daemon teardown is cut short: one-shot commands leave the
// daemon running on purpose.
func withSession(ctx context.Context, mgr *supplicant.Manager, fn func() error) error {
	if err := mgr.Connect(ctx); err != nil {
		return err
	}
	defer func() {
		dctx, cancel := context.WithTimeout(ctx, time.Second)
		defer cancel()
		if err := mgr.Disconnect(dctx); err != nil {
			slog.Debug("daemon still up after disconnect", "error", err)
		}
	}()
	return fn()
}

// monitor connects, streams normalized events, and returns once the
// stream produces a terminating event.
func monitor(ctx context.Context, mgr *supplicant.Manager) error {
	if err := mgr.Connect(ctx); err != nil {
		return err
	}
	defer func() {
		dctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := mgr.Disconnect(dctx); err != nil {
			slog.Debug("daemon still up after disconnect", "error", err)
		}
	}()

	for {
		event := mgr.WaitForEvent(ctx)
		fmt.Println(event)
		if strings.Contains(event, supplicant.EventTerminating) {
			return nil
		}
	}
}
