package supplicant

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"

	"github.com/cenkalti/backoff/v4"

	"github.com/lownet/supctl/internal/properties"
	"github.com/lownet/supctl/internal/provision"
)

func yieldScheduler() {
	runtime.Gosched()
}

// errPollAgain keeps a lifecycle poll loop going; it never escapes.
var errPollAgain = errors.New("supplicant: state not reached yet")

// Start brings the daemon up. It is idempotent: a daemon the
// supervisor already reports running is left alone. Otherwise the
// daemon's files are provisioned, a start request is written to the
// supervisor, and the status property is polled until it transitions.
//
// The poll is gated on the property's write serial so that a daemon
// which starts and exits immediately (serial changed, value back to
// stopped) fails promptly instead of timing out, and a daemon whose
// status key never appears fails only after the full deadline.
func (m *Manager) Start(ctx context.Context) error {
	unlock, err := m.lockLifecycle()
	if err != nil {
		return err
	}
	defer unlock()

	if m.Status(ctx) == StatusRunning {
		return nil
	}

	owner := m.fileOwner()
	if err := provision.EnsureConfigFile(m.cfg.ConfigFile, m.cfg.ConfigTemplate, owner); err != nil {
		m.logger.Error("daemon will not be enabled", "error", err)
		return fmt.Errorf("provisioning daemon config: %w", err)
	}

	// Some deployments carry a second configuration for the
	// peer-to-peer interface. If it is required and missing, the daemon
	// refuses to start with its own diagnostic, so a failure here is
	// not ours to report.
	_ = provision.EnsureConfigFile(m.cfg.P2PConfigFile, m.cfg.ConfigTemplate, owner)

	if err := provision.EnsureEntropyFile(m.cfg.EntropyFile, owner); err != nil {
		m.logger.Warn("entropy file was not created", "error", err)
	}

	m.iface = m.resolveInterface(ctx)

	// Grab the status property's serial before requesting the start so
	// a later change is unambiguous. Serial 0 stands for "key absent".
	key := properties.StatusKey(m.cfg.Service)
	var serial uint64
	handle, found := m.props.Find(ctx, key)
	if found {
		serial, _ = handle.Serial(ctx)
	}

	if err := m.props.Set(ctx, properties.CtlStart, m.cfg.Service); err != nil {
		return fmt.Errorf("requesting daemon start: %w", err)
	}
	m.yield()

	attempt := func() error {
		if !found {
			handle, found = m.props.Find(ctx, key)
		}
		if !found {
			return errPollAgain
		}
		current, err := handle.Serial(ctx)
		if err != nil || current == serial {
			return errPollAgain
		}
		// The supervisor has been scheduled since our request; the
		// status value is now meaningful.
		value, ok := handle.Read(ctx)
		if !ok {
			return errPollAgain
		}
		switch value {
		case properties.StatusRunning:
			return nil
		case properties.StatusStopped:
			return backoff.Permanent(ErrStartFailed)
		default:
			return errPollAgain
		}
	}

	err = backoff.Retry(attempt, backoff.WithContext(
		backoff.WithMaxRetries(backoff.NewConstantBackOff(m.pollEvery), startPollBudget), ctx))
	if errors.Is(err, errPollAgain) {
		return ErrStartTimeout
	}
	return err
}

// Stop takes the daemon down. Idempotent: a stopped daemon is left
// alone. Otherwise a stop request is written and the status property is
// polled until it reads stopped or the deadline elapses.
func (m *Manager) Stop(ctx context.Context) error {
	unlock, err := m.lockLifecycle()
	if err != nil {
		return err
	}
	defer unlock()

	if m.Status(ctx) == StatusStopped {
		return nil
	}

	if err := m.props.Set(ctx, properties.CtlStop, m.cfg.Service); err != nil {
		return fmt.Errorf("requesting daemon stop: %w", err)
	}
	m.yield()

	if err := m.pollStopped(ctx, stopPollBudget); err != nil {
		m.logger.Error("failed to stop daemon", "service", m.cfg.Service)
		return err
	}
	return nil
}

// pollStopped waits for the status property to read stopped, checking
// every pollInterval for up to budget attempts.
func (m *Manager) pollStopped(ctx context.Context, budget uint64) error {
	attempt := func() error {
		if m.Status(ctx) == StatusStopped {
			return nil
		}
		return errPollAgain
	}
	err := backoff.Retry(attempt, backoff.WithContext(
		backoff.WithMaxRetries(backoff.NewConstantBackOff(m.pollEvery), budget), ctx))
	if errors.Is(err, errPollAgain) {
		return ErrStopTimeout
	}
	return err
}

// fileOwner resolves the uid/gid pair for provisioned files; negative
// configuration values fall back to the current process identity.
func (m *Manager) fileOwner() provision.Owner {
	owner := provision.CurrentOwner()
	if m.cfg.OwnerUID >= 0 {
		owner.UID = m.cfg.OwnerUID
	}
	if m.cfg.OwnerGID >= 0 {
		owner.GID = m.cfg.OwnerGID
	}
	return owner
}

// lockLifecycle serializes Start/Stop across processes through the
// lock file. Without a configured lock file it is a no-op.
func (m *Manager) lockLifecycle() (func(), error) {
	if m.lock == nil {
		return func() {}, nil
	}
	if err := os.MkdirAll(filepath.Dir(m.lock.Path()), 0o755); err != nil {
		return nil, fmt.Errorf("creating lock directory: %w", err)
	}
	if err := m.lock.Lock(); err != nil {
		return nil, fmt.Errorf("acquiring lifecycle lock: %w", err)
	}
	return func() {
		if err := m.lock.Unlock(); err != nil {
			m.logger.Warn("failed to release lifecycle lock", "error", err)
		}
	}, nil
}
