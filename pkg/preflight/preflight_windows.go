//go:build windows

package preflight

import (
	"os"
	"path/filepath"
	"strings"
)

// checkVolumeExists verifies that the drive or network share root for a given path exists.
// For example, for "Z:\replica", it checks if "Z:\" exists.
func checkVolumeExists(path string) error {
	volume := filepath.VolumeName(path)
	if volume == "" {
		return nil // Not a path with a volume name (e.g., relative path), so nothing to check.
	}

	// Append the separator if it's missing (converts "C:" to "C:\")
	checkVol := volume
	if !strings.HasSuffix(checkVol, string(filepath.Separator)) {
		checkVol += string(filepath.Separator)
	}
	checkVol = filepath.Clean(checkVol)

	if _, err := os.Stat(checkVol); os.IsNotExist(err) {
		return &PathError{Path: checkVol, Reason: "volume root does not exist. Ensure the drive is connected"}
	}
	return nil
}

// checkWritable creates and deletes a probe file, since ACLs make
// permission bits meaningless on Windows.
func checkWritable(dir string) error {
	f, err := os.CreateTemp(dir, ".pgl-mirror-writetest-*.tmp")
	if err != nil {
		return err
	}
	name := f.Name()
	f.Close()
	return os.Remove(name)
}
