package pathmirror

import (
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"testing"

	"github.com/go-git/go-billy/v5"
	"github.com/go-git/go-billy/v5/osfs"

	"github.com/paulschiretz/pgl-mirror/pkg/plog"
)

// testFixture holds a source and a replica tree on disk.
type testFixture struct {
	srcDir string
	dstDir string
	src    billy.Filesystem
	dst    billy.Filesystem
	rec    *plog.Recorder
}

func newTestFixture(t *testing.T) *testFixture {
	t.Helper()
	srcDir := t.TempDir()
	dstDir := t.TempDir()
	return &testFixture{
		srcDir: srcDir,
		dstDir: dstDir,
		src:    osfs.New(srcDir),
		dst:    osfs.New(dstDir),
		rec:    &plog.Recorder{},
	}
}

func (f *testFixture) mirror(opts Options) *Mirror {
	return New(f.src, f.dst, f.rec, opts)
}

// actions returns the action records in the order they were emitted,
// formatted as "KIND relpath" relative to the replica root.
func (f *testFixture) actions(t *testing.T) []string {
	t.Helper()
	var out []string
	for _, e := range f.rec.Entries() {
		if e.Level != plog.LevelInfo {
			continue
		}
		dst := e.Str("dst")
		if dst == "" {
			continue
		}
		rel, err := filepath.Rel(f.dstDir, dst)
		if err != nil {
			t.Fatalf("record path %s is not below replica %s", dst, f.dstDir)
		}
		out = append(out, e.Msg+" "+filepath.ToSlash(rel))
	}
	return out
}

func createFile(t *testing.T, root, rel, content string) {
	t.Helper()
	path := filepath.Join(root, filepath.FromSlash(rel))
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		t.Fatalf("failed to create parent for %s: %v", path, err)
	}
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("failed to write %s: %v", path, err)
	}
}

func createDir(t *testing.T, root, rel string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Join(root, filepath.FromSlash(rel)), 0755); err != nil {
		t.Fatalf("failed to create dir %s: %v", rel, err)
	}
}

// readTree returns every entry below root keyed by slash-separated relative
// path. Directories map to "<dir>", files to their content.
func readTree(t *testing.T, root string) map[string]string {
	t.Helper()
	tree := make(map[string]string)
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if path == root {
			return nil
		}
		rel, _ := filepath.Rel(root, path)
		rel = filepath.ToSlash(rel)
		switch {
		case d.IsDir():
			tree[rel] = "<dir>"
		case d.Type()&fs.ModeSymlink != 0:
			tree[rel] = "<symlink>"
		default:
			b, err := os.ReadFile(path)
			if err != nil {
				return err
			}
			tree[rel] = string(b)
		}
		return nil
	})
	if err != nil {
		t.Fatalf("failed to read tree %s: %v", root, err)
	}
	return tree
}

func assertTree(t *testing.T, root string, want map[string]string) {
	t.Helper()
	got := readTree(t, root)
	for k, v := range want {
		if gv, ok := got[k]; !ok {
			t.Errorf("expected %s to exist in %s", k, root)
		} else if gv != v {
			t.Errorf("expected %s to be %q, but got %q", k, v, gv)
		}
	}
	for k := range got {
		if _, ok := want[k]; !ok {
			t.Errorf("unexpected entry %s in %s", k, root)
		}
	}
}

func assertSequence(t *testing.T, got, want []string) {
	t.Helper()
	if len(got) != len(want) {
		t.Fatalf("expected %d entries %v, but got %d %v", len(want), want, len(got), got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("entry %d: expected %q, but got %q", i, want[i], got[i])
		}
	}
}

// failingOpenFS fails to open the listed paths, simulating unreadable files.
type failingOpenFS struct {
	billy.Filesystem
	fail map[string]bool
}

var errInjected = errors.New("injected read failure")

func (f *failingOpenFS) Open(name string) (billy.File, error) {
	if f.fail[filepath.ToSlash(name)] {
		return nil, errInjected
	}
	return f.Filesystem.Open(name)
}
