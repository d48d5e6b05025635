package pathmirror

import (
	"fmt"
	"path"
	"path/filepath"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
)

// Exclusions decides which source entries are left out of the mirror.
//
// A pattern without a slash is matched against the entry's base name, so
// "node_modules" or "*.tmp" apply at every depth. A pattern containing a slash
// is matched against the whole slash-separated path relative to the source
// root and may use "**". Matching is case-insensitive.
//
// Excluded entries are treated as absent from the source, which means copies
// of them in the replica are removed.
type Exclusions struct {
	files []string
	dirs  []string
}

// NewExclusions validates and normalizes the file and directory patterns.
func NewExclusions(files, dirs []string) (*Exclusions, error) {
	e := &Exclusions{}
	var err error
	if e.files, err = normalizePatterns(files); err != nil {
		return nil, err
	}
	if e.dirs, err = normalizePatterns(dirs); err != nil {
		return nil, err
	}
	return e, nil
}

// ValidatePattern reports whether p is a syntactically valid exclusion pattern.
func ValidatePattern(p string) error {
	// Bad pattern errors are only detected when matching a non-empty path.
	if _, err := doublestar.Match(p, "a"); err != nil {
		return fmt.Errorf("invalid exclusion pattern %q: %w", p, err)
	}
	return nil
}

func normalizePatterns(patterns []string) ([]string, error) {
	out := make([]string, 0, len(patterns))
	for _, p := range patterns {
		p = normalizeExclusionPattern(strings.TrimSpace(p))
		p = strings.TrimSuffix(p, "/")
		if p == "" {
			continue
		}
		if err := ValidatePattern(p); err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, nil
}

// ExcludesFile reports whether the file at the slash-separated relative path
// is excluded.
func (e *Exclusions) ExcludesFile(relPath string) bool {
	if e == nil {
		return false
	}
	return matchAny(e.files, relPath)
}

// ExcludesDir reports whether the directory at the slash-separated relative
// path is excluded, together with everything below it.
func (e *Exclusions) ExcludesDir(relPath string) bool {
	if e == nil {
		return false
	}
	return matchAny(e.dirs, relPath)
}

// Empty reports whether no patterns are configured.
func (e *Exclusions) Empty() bool {
	return e == nil || (len(e.files) == 0 && len(e.dirs) == 0)
}

func matchAny(patterns []string, relPath string) bool {
	if len(patterns) == 0 {
		return false
	}
	relPath = normalizeExclusionPattern(relPath)
	base := path.Base(relPath)
	for _, p := range patterns {
		target := relPath
		if !strings.Contains(p, "/") {
			target = base
		}
		// Patterns were validated in NewExclusions.
		if ok, _ := doublestar.Match(p, target); ok {
			return true
		}
	}
	return false
}

// normalizeExclusionPattern converts a path or pattern into a standardized,
// case-insensitive key format (forward slashes, lowercase).
func normalizeExclusionPattern(p string) string {
	return strings.ToLower(filepath.ToSlash(p))
}
