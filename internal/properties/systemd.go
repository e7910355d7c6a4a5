package properties

import (
	"context"
	"fmt"
	"strings"

	sd "github.com/coreos/go-systemd/v22/dbus"
	godbus "github.com/godbus/dbus/v5"
)

const (
	systemdDest        = "org.freedesktop.systemd1"
	systemdManagerPath = "/org/freedesktop/systemd1"
	unitInterface      = "org.freedesktop.systemd1.Unit"
)

// Systemd is a Store backed by the system manager. Service status keys
// map onto unit ActiveState, and writes to the control keys map onto
// StartUnit/StopUnit jobs. The per-key serial is the unit's
// StateChangeTimestampMonotonic, which systemd bumps on every state
// transition.
type Systemd struct {
	conn *sd.Conn
	bus  *godbus.Conn
}

// ConnectSystemd connects to the system bus instance of systemd.
func ConnectSystemd(ctx context.Context) (*Systemd, error) {
	conn, err := sd.NewSystemConnectionContext(ctx)
	if err != nil {
		return nil, fmt.Errorf("connecting to systemd: %w", err)
	}
	bus, err := godbus.ConnectSystemBus()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("connecting to system bus: %w", err)
	}
	return &Systemd{conn: conn, bus: bus}, nil
}

// Close releases both bus connections.
func (s *Systemd) Close() error {
	s.conn.Close()
	return s.bus.Close()
}

// unitForKey maps an "init.svc.<service>" key to a unit name.
func unitForKey(key string) (string, bool) {
	service, ok := strings.CutPrefix(key, "init.svc.")
	if !ok {
		return "", false
	}
	return unitForService(service), true
}

func unitForService(service string) string {
	if strings.ContainsRune(service, '.') {
		return service
	}
	return service + ".service"
}

// Get returns the mapped run state for a service status key. Keys
// outside the init.svc namespace are not backed by systemd and read as
// unset.
func (s *Systemd) Get(ctx context.Context, key string) (string, bool) {
	unit, ok := unitForKey(key)
	if !ok {
		return "", false
	}
	props, err := s.conn.GetUnitPropertiesContext(ctx, unit)
	if err != nil {
		return "", false
	}
	if load, _ := props["LoadState"].(string); load == "not-found" {
		return "", false
	}
	state, _ := props["ActiveState"].(string)
	return mapActiveState(state), true
}

// mapActiveState translates systemd ActiveState into the supervisor's
// status vocabulary.
func mapActiveState(state string) string {
	switch state {
	case "active", "reloading":
		return StatusRunning
	case "inactive", "failed":
		return StatusStopped
	default:
		// activating / deactivating: neither terminal state yet.
		return state
	}
}

// Set handles the control keys by enqueueing start/stop jobs. The job
// result is deliberately not awaited; callers observe progress through
// the status key, matching the supervisor's asynchronous contract.
func (s *Systemd) Set(ctx context.Context, key, value string) error {
	switch key {
	case CtlStart:
		if _, err := s.conn.StartUnitContext(ctx, unitForService(value), "replace", nil); err != nil {
			return fmt.Errorf("starting %s: %w", value, err)
		}
		return nil
	case CtlStop:
		if _, err := s.conn.StopUnitContext(ctx, unitForService(value), "replace", nil); err != nil {
			return fmt.Errorf("stopping %s: %w", value, err)
		}
		return nil
	}
	return fmt.Errorf("property %q is not writable through systemd", key)
}

// Find returns a handle for a service status key. A unit that was never
// loaded behaves like a property that was never set: Find reports false
// until the supervisor materializes it.
func (s *Systemd) Find(ctx context.Context, key string) (Handle, bool) {
	unit, ok := unitForKey(key)
	if !ok {
		return nil, false
	}
	var path godbus.ObjectPath
	mgr := s.bus.Object(systemdDest, systemdManagerPath)
	if err := mgr.CallWithContext(ctx, systemdDest+".Manager.GetUnit", 0, unit).Store(&path); err != nil {
		return nil, false
	}
	return &systemdHandle{store: s, key: key, path: path}, true
}

type systemdHandle struct {
	store *Systemd
	key   string
	path  godbus.ObjectPath
}

// Serial reads the unit's monotonic state-change timestamp.
func (h *systemdHandle) Serial(ctx context.Context) (uint64, error) {
	obj := h.store.bus.Object(systemdDest, h.path)
	variant, err := obj.GetProperty(unitInterface + ".StateChangeTimestampMonotonic")
	if err != nil {
		return 0, fmt.Errorf("reading state serial of %s: %w", h.key, err)
	}
	ts, ok := variant.Value().(uint64)
	if !ok {
		return 0, fmt.Errorf("unexpected serial type %T for %s", variant.Value(), h.key)
	}
	return ts, nil
}

func (h *systemdHandle) Read(ctx context.Context) (string, bool) {
	return h.store.Get(ctx, h.key)
}
