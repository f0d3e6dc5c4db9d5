// Package paths resolves the runtime locations the coordination fabric
// needs: the per-user socket directory and the host lock file. It is
// deliberately not a configuration-file loader — job definitions and CLI
// configuration live elsewhere — it only layers environment variables over
// sane defaults.
package paths

import (
	"os"
	"path/filepath"
)

const (
	envRuntimeDir = "XDG_RUNTIME_DIR"
	envStateDir   = "JOBPHASER_STATE_DIR"
	appDirName    = "jobphaser"
	lockFileName  = "state0.lock"
)

// SocketDir returns the per-user directory that holds API, transition, and
// output sockets. Resolution order: $JOBPHASER_STATE_DIR + "/sockets", then
// $XDG_RUNTIME_DIR or os.TempDir with a "jobphaser/sockets" suffix. The
// directory is created if absent.
func SocketDir() (string, error) {
	dir := filepath.Join(baseDir(), "sockets")
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return "", err
	}
	return dir, nil
}

// HostLockFile returns the path to the shared advisory lock file used to
// make cross-process "inspect then act" atomic. The parent directory
// is created if absent; the file itself is created lazily on first
// os.OpenFile by the hostlock package.
func HostLockFile() (string, error) {
	dir := baseDir()
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return "", err
	}
	return filepath.Join(dir, lockFileName), nil
}

func baseDir() string {
	if v := os.Getenv(envStateDir); v != "" {
		return v
	}
	if v := os.Getenv(envRuntimeDir); v != "" {
		return filepath.Join(v, appDirName)
	}
	return filepath.Join(os.TempDir(), appDirName)
}
