// Package pathmirror makes a replica directory tree structurally and
// content-identical to a source tree.
//
// A pass walks the source tree top-down, compares every level with its
// replica counterpart and applies the differences to the replica:
//
//	walker   sorted, pre-order enumeration driven by an explicit stack
//	differ   per-level set difference and content comparison
//	executor applies the actions and records each one
//
// Every pass starts from scratch. Nothing learned in one pass is reused in the
// next, so a pass that was interrupted or failed is corrected by the following
// one.
package pathmirror

import (
	"context"

	"github.com/go-git/go-billy/v5"

	"github.com/paulschiretz/pgl-mirror/pkg/fingerprint"
	"github.com/paulschiretz/pgl-mirror/pkg/plog"
	"github.com/paulschiretz/pgl-mirror/pkg/pool"
)

// Options configures a Mirror.
type Options struct {
	// Hasher compares file contents. Defaults to SHA-256.
	Hasher *fingerprint.Hasher
	// Excludes leaves matching source entries out of the mirror. May be nil.
	Excludes *Exclusions
	// BufferSize is the copy buffer size in bytes.
	BufferSize int
	// DryRun records the actions without touching the replica.
	DryRun bool
	// Metrics enables the per-pass summary.
	Metrics bool
}

// Mirror reconciles a replica tree with a source tree.
type Mirror struct {
	source  billy.Filesystem
	replica billy.Filesystem
	sink    plog.Sink
	opts    Options
	buffers *pool.FixedBufferPool
}

// New creates a Mirror that writes only to replica. Both filesystems are
// rooted at the respective tree roots.
func New(source, replica billy.Filesystem, sink plog.Sink, opts Options) *Mirror {
	if opts.Hasher == nil {
		opts.Hasher = fingerprint.New(fingerprint.SHA256, opts.BufferSize)
	}
	return &Mirror{
		source:  source,
		replica: replica,
		sink:    sink,
		opts:    opts,
		buffers: pool.NewFixedBuffer(opts.BufferSize),
	}
}

// Result summarizes one pass.
type Result struct {
	// Actions counts the applied actions per kind.
	Actions map[ActionKind]int
	// Errors holds the entry-level failures. Each affected entry was skipped.
	Errors []error
}

// Applied returns the total number of applied actions.
func (r *Result) Applied() int {
	total := 0
	for _, n := range r.Actions {
		total += n
	}
	return total
}

// Pass performs one complete top-down reconciliation.
//
// Entry-level failures are recorded as warnings and collected in the result.
// A returned error means the pass was aborted: a root could not be read or
// ctx was canceled. Cancellation is observed between levels and between
// actions.
func (m *Mirror) Pass(ctx context.Context) (*Result, error) {
	// Check for cancellation at the very beginning.
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	default:
	}

	var metrics Metrics = &NoopMetrics{}
	if m.opts.Metrics {
		metrics = NewPassMetrics()
	}

	src := &treeReader{fs: m.source, excludes: m.opts.Excludes, isSource: true, sink: m.sink, metrics: metrics}
	dst := &treeReader{fs: m.replica, sink: m.sink, metrics: metrics}
	w := newWalker(src, dst)
	d := &differ{src: src, dst: dst, hasher: m.opts.Hasher, sink: m.sink, metrics: metrics}
	x := &executor{src: src, dst: dst, buffers: m.buffers, sink: m.sink, metrics: metrics, dryRun: m.opts.DryRun}

	res := &Result{Actions: make(map[ActionKind]int)}
	fail := func(err error) {
		for _, e := range flattenErrors(err) {
			m.sink.Record(plog.LevelWarn, "Skipping entry for this pass", "error", e)
			metrics.AddErrors(1)
			res.Errors = append(res.Errors, e)
		}
	}

	m.sink.Record(plog.LevelNotice, "MIR", "from", m.source.Root(), "to", m.replica.Root())

	for {
		select {
		case <-ctx.Done():
			return res, ctx.Err()
		default:
		}

		lvl, err := w.Next()
		if err != nil {
			if IsRecoverable(err) {
				fail(err)
				continue
			}
			return res, err
		}
		if lvl == nil {
			break
		}
		metrics.AddEntriesProcessed(int64(len(lvl.Source.Dirs) + len(lvl.Source.Files)))

		actions, errs := d.diff(lvl)
		for _, err := range errs {
			fail(err)
		}
		for _, a := range actions {
			select {
			case <-ctx.Done():
				return res, ctx.Err()
			default:
			}

			if err := x.apply(a); err != nil {
				fail(err)
				if a.Kind == CreateDir {
					w.Skip(a.Path)
				}
				continue
			}
			res.Actions[a.Kind]++
		}
	}

	metrics.LogSummary(m.sink, "Pass finished")
	return res, nil
}

// flattenErrors unpacks errors combined with errors.Join.
func flattenErrors(err error) []error {
	if joined, ok := err.(interface{ Unwrap() []error }); ok {
		return joined.Unwrap()
	}
	return []error{err}
}
