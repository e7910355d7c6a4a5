// Package provision idempotently materializes the files the daemon
// needs before it can start: its main configuration (seeded from a
// packaged template), an optional peer-to-peer configuration, and the
// entropy seed file.
package provision

import (
	"errors"
	"fmt"
	"io"
	"os"

	"golang.org/x/sys/unix"
)

// FileMode is the required mode of every provisioned file.
const FileMode = 0o660

// Owner identifies the uid/gid pair provisioned files must belong to.
type Owner struct {
	UID int
	GID int
}

// CurrentOwner returns the calling process's own identity, for use when
// running outside the privileged system/wifi split.
func CurrentOwner() Owner {
	return Owner{UID: os.Getuid(), GID: os.Getgid()}
}

// EntropySeed is the fixed 21-byte constant written into a fresh
// entropy file. It is not random. External tooling compares the
// provisioned byte sequence during migration, so changing it is a
// product decision, not a cleanup.
var EntropySeed = []byte{
	0x02, 0x11, 0xbe, 0x33, 0x43, 0x35, 0x68,
	0x47, 0x84, 0x99, 0xa9, 0x2b, 0x1c, 0xd3,
	0xee, 0xff, 0xf1, 0xe2, 0xf3, 0xf4, 0xf5,
}

// EnsureConfigFile guarantees that path exists, is read/writable, and
// has the required mode and owner. A missing file is seeded by copying
// templatePath. Partial files left by a failed copy are removed.
func EnsureConfigFile(path, templatePath string, owner Owner) error {
	done, err := ensureAccessible(path)
	if done || err != nil {
		return err
	}

	src, err := os.Open(templatePath)
	if err != nil {
		return fmt.Errorf("opening template %s: %w", templatePath, err)
	}
	defer src.Close()

	return createOwned(path, owner, func(dst *os.File) error {
		if _, err := io.Copy(dst, src); err != nil {
			return fmt.Errorf("copying template %s: %w", templatePath, err)
		}
		return nil
	})
}

// EnsureEntropyFile guarantees the entropy seed file exists with the
// required mode and owner, writing EntropySeed into a fresh file.
func EnsureEntropyFile(path string, owner Owner) error {
	done, err := ensureAccessible(path)
	if done || err != nil {
		return err
	}
	return createOwned(path, owner, func(dst *os.File) error {
		if _, err := dst.Write(EntropySeed); err != nil {
			return fmt.Errorf("writing entropy seed: %w", err)
		}
		return nil
	})
}

// ensureAccessible reports done=true when path already exists and is
// usable (re-tightening the mode if the kernel refused access). It
// reports done=false with a nil error only when the file is absent and
// should be created.
func ensureAccessible(path string) (done bool, err error) {
	accErr := unix.Access(path, unix.R_OK|unix.W_OK)
	switch {
	case accErr == nil:
		return true, nil
	case errors.Is(accErr, unix.EACCES):
		if err := os.Chmod(path, FileMode); err != nil {
			return true, fmt.Errorf("restoring mode of %s: %w", path, err)
		}
		return true, nil
	case errors.Is(accErr, unix.ENOENT):
		return false, nil
	default:
		return true, fmt.Errorf("checking %s: %w", path, accErr)
	}
}

// createOwned creates path, fills it via write, then applies the
// required mode and owner. Any failure removes the partial file so a
// later attempt starts clean.
func createOwned(path string, owner Owner, write func(*os.File) error) error {
	dst, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR, FileMode)
	if err != nil {
		return fmt.Errorf("creating %s: %w", path, err)
	}

	fail := func(cause error) error {
		dst.Close()
		os.Remove(path)
		return cause
	}

	if err := write(dst); err != nil {
		return fail(err)
	}
	if err := dst.Close(); err != nil {
		os.Remove(path)
		return fmt.Errorf("closing %s: %w", path, err)
	}

	// The umask may have narrowed the mode at open time.
	if err := os.Chmod(path, FileMode); err != nil {
		os.Remove(path)
		return fmt.Errorf("setting mode of %s: %w", path, err)
	}
	if err := os.Chown(path, owner.UID, owner.GID); err != nil {
		os.Remove(path)
		return fmt.Errorf("setting owner of %s: %w", path, err)
	}
	return nil
}
