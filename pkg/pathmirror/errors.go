package pathmirror

import (
	"errors"
	"fmt"
)

// IOError is an entry-level failure during a pass: reading, hashing, copying
// or removing a single file or directory. The entry is skipped for the
// current pass; the pass itself continues.
type IOError struct {
	Op   string // the operation that failed, e.g. "read", "compare", "copy"
	Path string // absolute path of the affected entry
	Err  error
}

func (e *IOError) Error() string {
	return fmt.Sprintf("%s %s: %v", e.Op, e.Path, e.Err)
}

func (e *IOError) Unwrap() error { return e.Err }

// IsRecoverable reports whether err only affects individual entries of a
// pass, as opposed to failures that abort the pass.
func IsRecoverable(err error) bool {
	var ioErr *IOError
	return errors.As(err, &ioErr)
}
