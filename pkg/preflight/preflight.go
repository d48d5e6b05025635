// Package preflight provides the checks that run before the first mirror pass.
// Apart from creating a missing replica root they do not change the system's
// state, and every failure is reported as a *PathError.
package preflight

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/paulschiretz/pgl-mirror/pkg/plog"
	"github.com/paulschiretz/pgl-mirror/pkg/util"
)

// PathError reports a root path that cannot serve as source, replica or log
// location. It is fatal: no pass is started.
type PathError struct {
	Path   string
	Reason string
	Err    error
}

func (e *PathError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Reason, e.Path, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Reason, e.Path)
}

func (e *PathError) Unwrap() error {
	return e.Err
}

// Validator runs the checks selected by a Plan.
type Validator struct{}

func NewValidator() *Validator {
	return &Validator{}
}

// Run executes the checks of p against the absolute source and replica roots.
func (v *Validator) Run(ctx context.Context, source, replica string, p *Plan) error {
	// Check for cancellation at the very beginning.
	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
	}

	if p.SourceAccessible {
		if err := CheckSourceAccessible(source); err != nil {
			return err
		}
	}
	if p.ReplicaAccessible {
		if err := CheckReplicaAccessible(replica); err != nil {
			return err
		}
	}
	if p.PathNesting {
		if err := CheckPathNesting(source, replica); err != nil {
			return err
		}
	}
	if p.LogFile != "" {
		if err := CheckLogFileLocation(p.LogFile, replica); err != nil {
			return err
		}
	}
	if p.EnsureReplicaExists {
		if err := EnsureReplicaExists(replica, p.DryRun); err != nil {
			return err
		}
	}
	if p.ReplicaWriteable {
		if err := CheckReplicaWritable(replica); err != nil {
			return err
		}
	}
	return nil
}

// CheckSourceAccessible validates that the source path exists and is a directory.
func CheckSourceAccessible(srcPath string) error {
	srcInfo, err := os.Stat(srcPath)
	if err != nil {
		if os.IsNotExist(err) {
			return &PathError{Path: srcPath, Reason: "source directory does not exist"}
		}
		return &PathError{Path: srcPath, Reason: "cannot stat source directory", Err: err}
	}
	if !srcInfo.IsDir() {
		return &PathError{Path: srcPath, Reason: "source path is not a directory"}
	}
	return nil
}

// CheckReplicaAccessible ensures the replica root is usable. An existing
// replica must be a directory; a missing one needs an existing parent
// directory so it can be created.
func CheckReplicaAccessible(replicaPath string) error {
	if err := checkVolumeExists(replicaPath); err != nil {
		return err
	}

	info, err := os.Stat(replicaPath)
	if err == nil {
		if !info.IsDir() {
			return &PathError{Path: replicaPath, Reason: "replica path exists but is not a directory"}
		}
		return nil
	}
	if !os.IsNotExist(err) {
		return &PathError{Path: replicaPath, Reason: "cannot access replica path", Err: err}
	}

	parentDir := filepath.Dir(replicaPath)
	parentInfo, err := os.Stat(parentDir)
	if os.IsNotExist(err) {
		return &PathError{Path: parentDir, Reason: "replica path and its parent directory do not exist"}
	} else if err != nil {
		return &PathError{Path: parentDir, Reason: "cannot access parent directory", Err: err}
	}
	if !parentInfo.IsDir() {
		return &PathError{Path: parentDir, Reason: "replica parent is not a directory"}
	}
	return nil
}

// EnsureReplicaExists creates a missing replica root. In dry-run mode it only
// reports what would happen.
func EnsureReplicaExists(replicaPath string, dryRun bool) error {
	if _, err := os.Stat(replicaPath); err == nil {
		return nil
	}
	if dryRun {
		plog.Notice("[DRY RUN] Would create replica directory", "path", replicaPath)
		return nil
	}
	if err := os.Mkdir(replicaPath, util.UserWritableDirPerms); err != nil && !errors.Is(err, os.ErrExist) {
		return &PathError{Path: replicaPath, Reason: "failed to create replica directory", Err: err}
	}
	plog.Info("Created replica directory", "path", replicaPath)
	return nil
}

// CheckReplicaWritable ensures the replica root can be written to. A replica
// that does not exist yet (dry run) is judged by its parent.
func CheckReplicaWritable(replicaPath string) error {
	target := replicaPath
	if _, err := os.Stat(target); os.IsNotExist(err) {
		target = filepath.Dir(replicaPath)
	}
	if err := checkWritable(target); err != nil {
		return &PathError{Path: target, Reason: "replica directory is not writable", Err: err}
	}
	return nil
}

// CheckPathNesting rejects a replica inside the source and a source inside
// the replica. Both paths must be absolute and cleaned.
func CheckPathNesting(source, replica string) error {
	if util.IsSubPath(source, replica) {
		return &PathError{Path: replica, Reason: "replica must not be inside the source " + source}
	}
	if util.IsSubPath(replica, source) {
		return &PathError{Path: source, Reason: "source must not be inside the replica " + replica}
	}
	return nil
}

// CheckLogFileLocation rejects a log file inside the replica, where it would
// be removed as an extraneous entry.
func CheckLogFileLocation(logFile, replica string) error {
	if util.IsSubPath(replica, logFile) {
		return &PathError{Path: logFile, Reason: "log file must not be inside the replica " + replica}
	}
	return nil
}
