// Package engine runs a fixed number of mirror passes separated by a fixed
// delay.
package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/paulschiretz/pgl-mirror/pkg/pathmirror"
	"github.com/paulschiretz/pgl-mirror/pkg/plog"
)

// State is the lifecycle phase of a Driver.
type State int

const (
	Idle State = iota
	Running
	Waiting
	Done
)

var stateToString = map[State]string{Idle: "idle", Running: "running", Waiting: "waiting", Done: "done"}

func (s State) String() string {
	if str, ok := stateToString[s]; ok {
		return str
	}
	return fmt.Sprintf("unknown_state(%d)", s)
}

// PassRunner performs one complete reconciliation pass.
type PassRunner interface {
	Pass(ctx context.Context) (*pathmirror.Result, error)
}

// Sleeper blocks for d or until ctx is done, whichever comes first.
type Sleeper func(ctx context.Context, d time.Duration) error

// SleepContext is the default Sleeper.
func SleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// Summary aggregates the results of all passes of a run.
type Summary struct {
	Completed int // passes that ran to the end
	Failed    int // passes aborted by a pass-level error
	Actions   map[pathmirror.ActionKind]int
	Errors    int // entry-level errors across all passes
	Duration  time.Duration
}

// Driver executes amount passes, waiting interval between two passes.
// The wait is a plain delay after a pass ends, so start times drift by the
// duration of each pass.
type Driver struct {
	runner   PassRunner
	interval time.Duration
	amount   int
	sink     plog.Sink
	sleep    Sleeper
	observe  func(state State, pass int)

	mu    sync.Mutex
	state State
	pass  int
}

// Option configures a Driver.
type Option func(*Driver)

// WithSleeper replaces the delay between passes.
func WithSleeper(s Sleeper) Option {
	return func(d *Driver) { d.sleep = s }
}

// WithStateObserver registers fn to be called on every state transition.
func WithStateObserver(fn func(state State, pass int)) Option {
	return func(d *Driver) { d.observe = fn }
}

// New creates a Driver. A negative amount is treated as zero.
func New(runner PassRunner, interval time.Duration, amount int, sink plog.Sink, opts ...Option) *Driver {
	d := &Driver{
		runner:   runner,
		interval: interval,
		amount:   max(amount, 0),
		sink:     sink,
		sleep:    SleepContext,
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// State returns the current state and the number of the current pass.
func (d *Driver) State() (State, int) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.state, d.pass
}

func (d *Driver) setState(s State, pass int) {
	d.mu.Lock()
	d.state, d.pass = s, pass
	d.mu.Unlock()
	if d.observe != nil {
		d.observe(s, pass)
	}
}

// Run executes the passes. Each pass is independent: a pass-level failure is
// recorded and the next pass still runs. The only error returned is the
// context's, when the run was canceled. The summary is recorded exactly once,
// also on cancellation.
func (d *Driver) Run(ctx context.Context) (sum *Summary, err error) {
	start := time.Now()
	sum = &Summary{Actions: make(map[pathmirror.ActionKind]int)}
	defer func() {
		sum.Duration = time.Since(start)
		d.setState(Done, sum.Completed+sum.Failed)
		d.logSummary(sum, err)
	}()

	// Check for cancellation at the very beginning.
	select {
	case <-ctx.Done():
		return sum, ctx.Err()
	default:
	}

	for i := 1; i <= d.amount; i++ {
		d.setState(Running, i)
		d.sink.Record(plog.LevelInfo, "Starting pass", "pass", i, "of", d.amount)

		res, passErr := d.runner.Pass(ctx)
		applied, entryErrs := 0, 0
		if res != nil {
			for kind, n := range res.Actions {
				sum.Actions[kind] += n
			}
			applied, entryErrs = res.Applied(), len(res.Errors)
			sum.Errors += entryErrs
		}
		if passErr != nil {
			if errors.Is(passErr, context.Canceled) || ctx.Err() != nil {
				return sum, ctx.Err()
			}
			sum.Failed++
			d.sink.Record(plog.LevelError, "Pass failed", "pass", i, "error", passErr)
		} else {
			sum.Completed++
			d.sink.Record(plog.LevelInfo, "Pass completed", "pass", i, "actions", applied, "errors", entryErrs)
		}

		if i == d.amount {
			break
		}
		d.setState(Waiting, i)
		d.sink.Record(plog.LevelDebug, "Waiting for next pass", "interval", d.interval)
		if err := d.sleep(ctx, d.interval); err != nil {
			return sum, err
		}
	}
	return sum, nil
}

func (d *Driver) logSummary(sum *Summary, err error) {
	msg := "Mirror completed"
	if err != nil {
		msg = "Mirror canceled"
	}
	d.sink.Record(plog.LevelInfo, msg,
		"passes", d.amount,
		"completed", sum.Completed,
		"failed", sum.Failed,
		"dirs_created", sum.Actions[pathmirror.CreateDir],
		"dirs_removed", sum.Actions[pathmirror.RemoveDir],
		"files_created", sum.Actions[pathmirror.CreateFile],
		"files_updated", sum.Actions[pathmirror.UpdateFile],
		"files_removed", sum.Actions[pathmirror.RemoveFile],
		"trees_copied", sum.Actions[pathmirror.CopyTree],
		"errors", sum.Errors,
		"duration", sum.Duration.Round(time.Millisecond),
	)
}
