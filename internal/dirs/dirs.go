// Package dirs resolves the runtime directory used for supctl's own
// ephemeral files (the lifecycle lock). It prefers XDG conventions and
// degrades to a per-user temp directory on hosts without them.
package dirs

import (
	"os"
	"os/user"
	"path/filepath"
)

// RuntimeDir returns the directory for ephemeral runtime data.
// Priority: $SUPCTL_RUNTIME_DIR > $XDG_RUNTIME_DIR/supctl > /run/user/$UID/supctl > $TMPDIR/supctl-$USER
func RuntimeDir() string {
	if v := os.Getenv("SUPCTL_RUNTIME_DIR"); v != "" {
		return v
	}
	if base := findRuntimeBase(); base != "" {
		return filepath.Join(base, "supctl")
	}

	username := "unknown"
	if u, err := user.Current(); err == nil {
		username = u.Username
	}
	return filepath.Join(os.TempDir(), "supctl-"+username)
}

// LockFile returns the default path of the lifecycle lock file.
func LockFile() string {
	return filepath.Join(RuntimeDir(), "supctl.lock")
}

// findRuntimeBase finds the best available runtime directory base.
func findRuntimeBase() string {
	if dir := os.Getenv("XDG_RUNTIME_DIR"); dir != "" {
		return dir
	}

	currentUser, err := user.Current()
	if err != nil {
		return ""
	}

	candidates := []string{
		filepath.Join("/run/user", currentUser.Uid),
		filepath.Join("/var/run/user", currentUser.Uid),
	}
	for _, dir := range candidates {
		if info, err := os.Stat(dir); err == nil && info.IsDir() {
			return dir
		}
	}
	return ""
}
