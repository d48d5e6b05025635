package pathmirror

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/go-git/go-billy/v5"

	"github.com/paulschiretz/pgl-mirror/pkg/plog"
)

// Snapshot is the sorted listing of a single directory.
type Snapshot struct {
	Path  string // relative to the tree root, "" for the root itself
	Dirs  []string
	Files []string

	// special holds the names in Files that are not regular files
	// (symlinks, devices, sockets). Only the replica side lists them.
	special map[string]struct{}
}

func (s Snapshot) isSpecial(name string) bool {
	_, ok := s.special[name]
	return ok
}

// Level is one step of a walk: a source directory together with its
// counterpart in the replica.
type Level struct {
	Path        string // relative path, identical in both trees
	SourcePath  string
	ReplicaPath string
	Source      Snapshot
	Replica     Snapshot

	// ReplicaAbsent is set when the replica has no directory at ReplicaPath.
	// The whole subtree is then copied in bulk and not walked any further.
	ReplicaAbsent bool
}

// TreeEntry is one element of an enumerated subtree.
type TreeEntry struct {
	Path  string // relative to the tree root
	IsDir bool
}

// ReplicaPath maps an absolute path below srcRoot onto the same relative
// location below replicaRoot.
func ReplicaPath(srcRoot, replicaRoot, srcPath string) (string, error) {
	rel, err := filepath.Rel(filepath.Clean(srcRoot), filepath.Clean(srcPath))
	if err != nil {
		return "", fmt.Errorf("failed to map %s into replica: %w", srcPath, err)
	}
	if rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("path %s is not below source root %s", srcPath, srcRoot)
	}
	return filepath.Join(replicaRoot, rel), nil
}

// treeReader lists directories of one tree. The source reader applies
// exclusions and drops entries that are neither directories nor regular
// files. The replica reader keeps such entries as files so they can be
// removed.
type treeReader struct {
	fs       billy.Filesystem
	excludes *Exclusions
	isSource bool
	sink     plog.Sink
	metrics  Metrics
}

func (r *treeReader) abs(rel string) string {
	return filepath.Join(r.fs.Root(), rel)
}

func (r *treeReader) snapshot(rel string) (Snapshot, error) {
	infos, err := r.fs.ReadDir(rel)
	if err != nil {
		return Snapshot{}, err
	}

	snap := Snapshot{Path: rel}
	for _, info := range infos {
		name := info.Name()
		childRel := filepath.Join(rel, name)
		switch {
		case info.IsDir():
			if r.excludes.ExcludesDir(filepath.ToSlash(childRel)) {
				r.sink.Record(plog.LevelNotice, "EXCL", "reason", "excluded by pattern", "path", r.abs(childRel))
				r.metrics.AddDirsExcluded(1)
				continue
			}
			snap.Dirs = append(snap.Dirs, name)
		case info.Mode().IsRegular():
			if r.excludes.ExcludesFile(filepath.ToSlash(childRel)) {
				r.sink.Record(plog.LevelNotice, "EXCL", "reason", "excluded by pattern", "path", r.abs(childRel))
				r.metrics.AddFilesExcluded(1)
				continue
			}
			snap.Files = append(snap.Files, name)
		default:
			if r.isSource {
				r.sink.Record(plog.LevelNotice, "SKIP", "type", info.Mode().String(), "path", r.abs(childRel))
				continue
			}
			if snap.special == nil {
				snap.special = make(map[string]struct{})
			}
			snap.special[name] = struct{}{}
			snap.Files = append(snap.Files, name)
		}
	}

	// Enumeration order of the underlying filesystem is unspecified.
	sort.Strings(snap.Dirs)
	sort.Strings(snap.Files)
	return snap, nil
}

// subtree lists everything below rel in pre-order: a directory precedes its
// contents, and within a directory files precede subdirectories. A non-nil
// top is used as the listing of rel itself instead of reading it again.
func (r *treeReader) subtree(rel string, top *Snapshot) ([]TreeEntry, error) {
	var entries []TreeEntry
	stack := []string{rel}
	for len(stack) > 0 {
		dir := stack[len(stack)-1]
		stack = stack[:len(stack)-1]

		if dir != rel {
			entries = append(entries, TreeEntry{Path: dir, IsDir: true})
		}
		var snap Snapshot
		if dir == rel && top != nil {
			snap = *top
		} else {
			var err error
			if snap, err = r.snapshot(dir); err != nil {
				return nil, err
			}
		}
		for _, name := range snap.Files {
			entries = append(entries, TreeEntry{Path: filepath.Join(dir, name)})
		}
		for i := len(snap.Dirs) - 1; i >= 0; i-- {
			stack = append(stack, filepath.Join(dir, snap.Dirs[i]))
		}
	}
	return entries, nil
}

// walker yields the levels of a source tree in pre-order using an explicit
// stack of pending relative paths. The replica side of a level is read when
// the level is popped, so actions applied to the parent are already visible.
type walker struct {
	src     *treeReader
	dst     *treeReader
	stack   []string
	skipped map[string]struct{}
}

func newWalker(src, dst *treeReader) *walker {
	return &walker{
		src:     src,
		dst:     dst,
		stack:   []string{""},
		skipped: make(map[string]struct{}),
	}
}

// Skip prevents the walker from visiting rel and everything below it.
func (w *walker) Skip(rel string) {
	w.skipped[rel] = struct{}{}
}

// Next returns the next level, or nil when the walk is complete.
// An *IOError means the level at that path could not be read and its subtree
// is skipped; the walk can continue. Any other error concerns the roots and
// ends the walk.
func (w *walker) Next() (*Level, error) {
	for len(w.stack) > 0 {
		rel := w.stack[len(w.stack)-1]
		w.stack = w.stack[:len(w.stack)-1]
		if _, ok := w.skipped[rel]; ok {
			continue
		}

		lvl := &Level{Path: rel, SourcePath: w.src.abs(rel)}
		replicaPath, err := ReplicaPath(w.src.fs.Root(), w.dst.fs.Root(), lvl.SourcePath)
		if err != nil {
			return nil, err
		}
		lvl.ReplicaPath = replicaPath

		if lvl.Source, err = w.src.snapshot(rel); err != nil {
			return nil, w.levelError(rel, lvl.SourcePath, err)
		}

		info, err := w.dst.fs.Stat(rel)
		switch {
		case errors.Is(err, os.ErrNotExist):
			lvl.ReplicaAbsent = true
		case err != nil:
			return nil, w.levelError(rel, lvl.ReplicaPath, err)
		case !info.IsDir():
			// A file where the parent's diff expected a directory: left in
			// place by a dry run, or put there by someone else since.
			lvl.ReplicaAbsent = true
		default:
			if lvl.Replica, err = w.dst.snapshot(rel); err != nil {
				return nil, w.levelError(rel, lvl.ReplicaPath, err)
			}
		}

		if !lvl.ReplicaAbsent {
			for i := len(lvl.Source.Dirs) - 1; i >= 0; i-- {
				w.stack = append(w.stack, filepath.Join(rel, lvl.Source.Dirs[i]))
			}
		}
		return lvl, nil
	}
	return nil, nil
}

func (w *walker) levelError(rel, absPath string, err error) error {
	if rel == "" {
		return fmt.Errorf("failed to read root directory %s: %w", absPath, err)
	}
	return &IOError{Op: "read", Path: absPath, Err: err}
}
