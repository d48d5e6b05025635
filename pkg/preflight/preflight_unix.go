//go:build !windows

package preflight

import (
	"golang.org/x/sys/unix"
)

// checkVolumeExists is a no-op on Unix; a single root hosts every path.
func checkVolumeExists(string) error {
	return nil
}

// checkWritable asks the kernel whether the effective user may create
// entries in dir.
func checkWritable(dir string) error {
	return unix.Access(dir, unix.W_OK|unix.X_OK)
}
