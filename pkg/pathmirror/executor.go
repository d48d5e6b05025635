package pathmirror

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/go-git/go-billy/v5"
	billyutil "github.com/go-git/go-billy/v5/util"

	"github.com/paulschiretz/pgl-mirror/pkg/plog"
	"github.com/paulschiretz/pgl-mirror/pkg/pool"
	"github.com/paulschiretz/pgl-mirror/pkg/util"
)

// executor applies actions to the replica. It only ever reads from the
// source tree.
type executor struct {
	src     *treeReader
	dst     *treeReader
	buffers *pool.FixedBufferPool
	sink    plog.Sink
	metrics Metrics
	dryRun  bool
}

// apply performs a and records it. A failure leaves the replica in a state
// that the next pass can correct and is returned as an *IOError, or as a
// join of them for CopyTree.
func (e *executor) apply(a Action) error {
	switch a.Kind {
	case CreateDir:
		return e.createDir(a.Path)
	case RemoveDir:
		return e.removeDir(a)
	case CreateFile, UpdateFile:
		return e.copyFile(a.Kind, a.Path)
	case RemoveFile:
		return e.removeFile(a.Path)
	case CopyTree:
		return e.copyTree(a)
	default:
		return fmt.Errorf("unknown action kind: %v", a.Kind)
	}
}

// record emits the log record for an applied action.
func (e *executor) record(kind ActionKind, rel string, args ...any) {
	msg := kind.String()
	if e.dryRun {
		msg = "[DRY RUN] " + msg
	}
	attrs := make([]any, 0, 4+len(args))
	if kind == CreateFile || kind == UpdateFile {
		attrs = append(attrs, "src", e.src.abs(rel))
	}
	attrs = append(attrs, "dst", e.dst.abs(rel))
	attrs = append(attrs, args...)
	e.sink.Record(plog.LevelInfo, msg, attrs...)
}

// createDir creates a single directory level. The parent is present because
// actions are applied parent before child.
func (e *executor) createDir(rel string) error {
	if !e.dryRun {
		if err := e.dst.fs.MkdirAll(rel, util.UserWritableDirPerms); err != nil {
			return &IOError{Op: "mkdir", Path: e.dst.abs(rel), Err: err}
		}
	}
	e.metrics.AddDirsCreated(1)
	e.record(CreateDir, rel)
	return nil
}

func (e *executor) removeFile(rel string) error {
	if !e.dryRun {
		if err := e.dst.fs.Remove(rel); err != nil {
			return &IOError{Op: "remove", Path: e.dst.abs(rel), Err: err}
		}
	}
	e.metrics.AddFilesDeleted(1)
	e.record(RemoveFile, rel)
	return nil
}

// removeDir deletes a replica directory with everything below it and records
// each entry that was lost.
func (e *executor) removeDir(a Action) error {
	if !e.dryRun {
		if err := billyutil.RemoveAll(e.dst.fs, a.Path); err != nil {
			return &IOError{Op: "remove", Path: e.dst.abs(a.Path), Err: err}
		}
	}

	parent := e.dst.abs(a.Path)
	for _, entry := range postOrder(a.Entries) {
		if entry.IsDir {
			e.metrics.AddDirsDeleted(1)
			e.record(RemoveDir, entry.Path, "parent", parent)
		} else {
			e.metrics.AddFilesDeleted(1)
			e.record(RemoveFile, entry.Path, "parent", parent)
		}
	}
	e.metrics.AddDirsDeleted(1)
	e.record(RemoveDir, a.Path)
	return nil
}

// postOrder reorders a pre-order listing so that every directory follows its
// contents. Siblings keep their relative order.
func postOrder(entries []TreeEntry) []TreeEntry {
	out := make([]TreeEntry, 0, len(entries))
	var open []TreeEntry
	for _, entry := range entries {
		for len(open) > 0 && !isBelowAny(entry.Path, []string{open[len(open)-1].Path}) {
			out = append(out, open[len(open)-1])
			open = open[:len(open)-1]
		}
		if entry.IsDir {
			open = append(open, entry)
			continue
		}
		out = append(out, entry)
	}
	for i := len(open) - 1; i >= 0; i-- {
		out = append(out, open[i])
	}
	return out
}

// copyFile overwrites the replica file at rel with the source bytes. The data
// is written to a temporary file next to the destination and renamed into
// place, so the destination never holds a partial copy.
func (e *executor) copyFile(kind ActionKind, rel string) error {
	if !e.dryRun {
		n, err := e.copyFileHelper(rel)
		if err != nil {
			return &IOError{Op: "copy", Path: e.src.abs(rel), Err: err}
		}
		e.metrics.AddBytesCopied(n)
	}
	if kind == UpdateFile {
		e.metrics.AddFilesUpdated(1)
	} else {
		e.metrics.AddFilesCreated(1)
	}
	e.record(kind, rel)
	return nil
}

func (e *executor) copyFileHelper(rel string) (int64, error) {
	in, err := e.src.fs.Open(rel)
	if err != nil {
		return 0, fmt.Errorf("failed to open source file: %w", err)
	}
	defer in.Close()

	dir := filepath.Dir(rel)
	out, err := e.dst.fs.TempFile(dir, "pgl-mirror-")
	if err != nil {
		return 0, fmt.Errorf("failed to create temporary file in %s: %w", e.dst.abs(dir), err)
	}

	tempName := out.Name()
	// If the rename succeeds, tempName is cleared and this is a no-op.
	defer func() {
		if tempName != "" {
			e.dst.fs.Remove(tempName)
		}
	}()

	bufPtr := e.buffers.Get()
	defer e.buffers.Put(bufPtr)

	n, err := io.CopyBuffer(out, in, *bufPtr)
	if err != nil {
		out.Close()
		return n, fmt.Errorf("failed to copy content to %s: %w", e.dst.abs(tempName), err)
	}
	if err := out.Close(); err != nil {
		return n, fmt.Errorf("failed to close temporary file %s: %w", e.dst.abs(tempName), err)
	}

	// Temporary files are created owner-only.
	if ch, ok := e.dst.fs.(billy.Change); ok {
		if err := ch.Chmod(tempName, util.UserWritableFilePerms); err != nil {
			return n, fmt.Errorf("failed to set permissions on %s: %w", e.dst.abs(tempName), err)
		}
	}

	if err := e.dst.fs.Rename(tempName, rel); err != nil {
		return n, fmt.Errorf("failed to move temporary file into place: %w", err)
	}
	tempName = ""
	return n, nil
}

// copyTree copies a whole source subtree to a replica location that does not
// exist yet. Each copied entry is recorded like an individual action. Entries
// below a directory that could not be created are skipped.
func (e *executor) copyTree(a Action) error {
	var errs []error
	if !e.dryRun {
		if _, err := e.dst.fs.Stat(a.Path); errors.Is(err, os.ErrNotExist) {
			if err := e.createDir(a.Path); err != nil {
				return err
			}
		}
	}

	var failedDirs []string
	for _, entry := range a.Entries {
		if isBelowAny(entry.Path, failedDirs) {
			continue
		}
		if entry.IsDir {
			if err := e.createDir(entry.Path); err != nil {
				errs = append(errs, err)
				failedDirs = append(failedDirs, entry.Path)
			}
			continue
		}
		if err := e.copyFile(CreateFile, entry.Path); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func isBelowAny(rel string, dirs []string) bool {
	for _, d := range dirs {
		if strings.HasPrefix(rel, d+string(filepath.Separator)) {
			return true
		}
	}
	return false
}
