package pathmirror

import (
	"fmt"
	"path/filepath"

	"github.com/paulschiretz/pgl-mirror/pkg/fingerprint"
	"github.com/paulschiretz/pgl-mirror/pkg/plog"
)

// ActionKind enumerates the mutations a pass can apply to the replica.
// The numeric order is the order in which kinds are applied within a level.
type ActionKind int

const (
	RemoveFile ActionKind = iota
	RemoveDir
	CreateDir
	CreateFile
	UpdateFile
	// CopyTree copies a whole source subtree into a replica location that
	// does not exist yet.
	CopyTree
)

var actionKindToString = map[ActionKind]string{
	RemoveFile: "DELETE",
	RemoveDir:  "RMDIR",
	CreateDir:  "MKDIR",
	CreateFile: "CREATE",
	UpdateFile: "UPDATE",
	CopyTree:   "COPYTREE",
}

func (k ActionKind) String() string {
	if str, ok := actionKindToString[k]; ok {
		return str
	}
	return fmt.Sprintf("unknown_action(%d)", k)
}

// Action is a single mutation of the replica. Path is relative and names the
// same location in both trees.
type Action struct {
	Kind ActionKind
	Path string
	// Entries lists the subtree below Path in pre-order. For RemoveDir these
	// are the replica entries that will be lost, for CopyTree the source
	// entries that will be copied.
	Entries []TreeEntry
}

// differ derives the ordered actions that make one replica level match its
// source level.
type differ struct {
	src     *treeReader
	dst     *treeReader
	hasher  *fingerprint.Hasher
	sink    plog.Sink
	metrics Metrics
}

// diff returns the actions for lvl in application order: file removals,
// directory removals, directory creations, then file creations and updates.
// Each group is in name order. Entries that could not be compared are
// returned as errors and produce no action.
func (d *differ) diff(lvl *Level) ([]Action, []error) {
	if lvl.ReplicaAbsent {
		entries, err := d.src.subtree(lvl.Path, &lvl.Source)
		if err != nil {
			return nil, []error{&IOError{Op: "read", Path: lvl.SourcePath, Err: err}}
		}
		return []Action{{Kind: CopyTree, Path: lvl.Path, Entries: entries}}, nil
	}

	srcDirs, srcFiles := toSet(lvl.Source.Dirs), toSet(lvl.Source.Files)
	dstDirs, dstFiles := toSet(lvl.Replica.Dirs), toSet(lvl.Replica.Files)

	var removeFiles, removeDirs, createDirs, files []Action
	var errs []error

	for _, name := range lvl.Replica.Files {
		if _, ok := srcFiles[name]; ok {
			continue
		}
		rel := filepath.Join(lvl.Path, name)
		if _, ok := srcDirs[name]; ok {
			d.warnTypeMismatch(rel, "directory", "file")
		}
		removeFiles = append(removeFiles, Action{Kind: RemoveFile, Path: rel})
	}

	for _, name := range lvl.Replica.Dirs {
		if _, ok := srcDirs[name]; ok {
			continue
		}
		rel := filepath.Join(lvl.Path, name)
		if _, ok := srcFiles[name]; ok {
			d.warnTypeMismatch(rel, "file", "directory")
		}
		// Removal is irreversible, so everything that goes with the
		// directory is listed before anything is touched.
		entries, err := d.dst.subtree(rel, nil)
		if err != nil {
			errs = append(errs, &IOError{Op: "read", Path: d.dst.abs(rel), Err: err})
			continue
		}
		removeDirs = append(removeDirs, Action{Kind: RemoveDir, Path: rel, Entries: entries})
	}

	for _, name := range lvl.Source.Dirs {
		if _, ok := dstDirs[name]; ok {
			continue
		}
		createDirs = append(createDirs, Action{Kind: CreateDir, Path: filepath.Join(lvl.Path, name)})
	}

	for _, name := range lvl.Source.Files {
		rel := filepath.Join(lvl.Path, name)
		if _, ok := dstFiles[name]; !ok {
			files = append(files, Action{Kind: CreateFile, Path: rel})
			continue
		}
		if lvl.Replica.isSpecial(name) {
			// A symlink or device in the replica is never a valid copy.
			files = append(files, Action{Kind: UpdateFile, Path: rel})
			continue
		}
		same, n, err := d.hasher.Same(d.src.fs, rel, d.dst.fs, rel)
		d.metrics.AddBytesHashed(n)
		if err != nil {
			errs = append(errs, &IOError{Op: "compare", Path: d.src.abs(rel), Err: err})
			continue
		}
		if same {
			d.metrics.AddFilesUpToDate(1)
			continue
		}
		files = append(files, Action{Kind: UpdateFile, Path: rel})
	}

	actions := make([]Action, 0, len(removeFiles)+len(removeDirs)+len(createDirs)+len(files))
	actions = append(actions, removeFiles...)
	actions = append(actions, removeDirs...)
	actions = append(actions, createDirs...)
	actions = append(actions, files...)
	return actions, errs
}

func (d *differ) warnTypeMismatch(rel, srcType, dstType string) {
	d.sink.Record(plog.LevelWarn, "Type mismatch, replacing replica entry",
		"path", d.dst.abs(rel), "source_type", srcType, "replica_type", dstType)
}

func toSet(names []string) map[string]struct{} {
	set := make(map[string]struct{}, len(names))
	for _, n := range names {
		set[n] = struct{}{}
	}
	return set
}
