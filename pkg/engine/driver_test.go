package engine

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/paulschiretz/pgl-mirror/pkg/pathmirror"
	"github.com/paulschiretz/pgl-mirror/pkg/plog"
)

// scriptedRunner records calls into a shared event log and returns the
// configured error for a pass number.
type scriptedRunner struct {
	events *[]string
	errs   map[int]error
	calls  int
}

func (r *scriptedRunner) Pass(ctx context.Context) (*pathmirror.Result, error) {
	r.calls++
	*r.events = append(*r.events, fmt.Sprintf("pass %d", r.calls))
	if err := r.errs[r.calls]; err != nil {
		return nil, err
	}
	return &pathmirror.Result{Actions: map[pathmirror.ActionKind]int{pathmirror.CreateFile: 1}}, nil
}

func recordingSleeper(events *[]string) Sleeper {
	return func(ctx context.Context, d time.Duration) error {
		*events = append(*events, fmt.Sprintf("wait %s", d))
		return ctx.Err()
	}
}

func countMessages(rec *plog.Recorder, msg string) int {
	n := 0
	for _, e := range rec.Entries() {
		if e.Msg == msg {
			n++
		}
	}
	return n
}

func assertEvents(t *testing.T, got, want []string) {
	t.Helper()
	if len(got) != len(want) {
		t.Fatalf("expected events %v, but got %v", want, got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("event %d: expected %q, but got %q", i, want[i], got[i])
		}
	}
}

func TestDriver_ThreePasses(t *testing.T) {
	var events []string
	rec := &plog.Recorder{}
	runner := &scriptedRunner{events: &events}
	d := New(runner, 5*time.Second, 3, rec, WithSleeper(recordingSleeper(&events)))

	sum, err := d.Run(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	assertEvents(t, events, []string{"pass 1", "wait 5s", "pass 2", "wait 5s", "pass 3"})
	if sum.Completed != 3 || sum.Failed != 0 {
		t.Errorf("expected 3 completed passes, got %+v", sum)
	}
	if sum.Actions[pathmirror.CreateFile] != 3 {
		t.Errorf("expected aggregated actions, got %v", sum.Actions)
	}
	if n := countMessages(rec, "Mirror completed"); n != 1 {
		t.Errorf("expected summary exactly once, got %d", n)
	}
	if state, pass := d.State(); state != Done || pass != 3 {
		t.Errorf("expected done after 3 passes, got %v/%d", state, pass)
	}
}

func TestDriver_ZeroPasses(t *testing.T) {
	var events []string
	rec := &plog.Recorder{}
	d := New(&scriptedRunner{events: &events}, time.Second, 0, rec, WithSleeper(recordingSleeper(&events)))

	sum, err := d.Run(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(events) != 0 {
		t.Errorf("expected no passes or waits, got %v", events)
	}
	if sum.Completed != 0 {
		t.Errorf("expected zero passes, got %d", sum.Completed)
	}
	if n := countMessages(rec, "Mirror completed"); n != 1 {
		t.Errorf("expected summary exactly once, got %d", n)
	}
}

func TestDriver_SinglePassDoesNotWait(t *testing.T) {
	var events []string
	d := New(&scriptedRunner{events: &events}, time.Hour, 1, &plog.Recorder{}, WithSleeper(recordingSleeper(&events)))

	if _, err := d.Run(context.Background()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	assertEvents(t, events, []string{"pass 1"})
}

func TestDriver_FailedPassContinues(t *testing.T) {
	var events []string
	rec := &plog.Recorder{}
	runner := &scriptedRunner{events: &events, errs: map[int]error{2: errors.New("source root vanished")}}
	d := New(runner, 0, 3, rec, WithSleeper(recordingSleeper(&events)))

	sum, err := d.Run(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if runner.calls != 3 {
		t.Errorf("expected all 3 passes to run, got %d", runner.calls)
	}
	if sum.Completed != 2 || sum.Failed != 1 {
		t.Errorf("expected 2 completed and 1 failed, got %+v", sum)
	}
	if n := countMessages(rec, "Pass failed"); n != 1 {
		t.Errorf("expected one failure record, got %d", n)
	}
}

func TestDriver_CancelDuringWait(t *testing.T) {
	var events []string
	rec := &plog.Recorder{}
	ctx, cancel := context.WithCancel(context.Background())
	sleeper := func(ctx context.Context, d time.Duration) error {
		events = append(events, "wait")
		cancel()
		return ctx.Err()
	}
	runner := &scriptedRunner{events: &events}
	d := New(runner, time.Minute, 5, rec, WithSleeper(sleeper))

	sum, err := d.Run(ctx)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	assertEvents(t, events, []string{"pass 1", "wait"})
	if sum.Completed != 1 {
		t.Errorf("expected 1 completed pass, got %d", sum.Completed)
	}
	if n := countMessages(rec, "Mirror canceled"); n != 1 {
		t.Errorf("expected cancel summary exactly once, got %d", n)
	}
	if n := countMessages(rec, "Mirror completed"); n != 0 {
		t.Errorf("expected no completion summary, got %d", n)
	}
}

func TestDriver_CanceledPass(t *testing.T) {
	var events []string
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	runner := &scriptedRunner{events: &events, errs: map[int]error{1: context.Canceled}}
	d := New(runner, 0, 3, &plog.Recorder{}, WithSleeper(recordingSleeper(&events)))

	if _, err := d.Run(ctx); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if runner.calls != 0 {
		t.Errorf("expected no pass to start on a canceled context, got %d", runner.calls)
	}
}

func TestDriver_StateTransitions(t *testing.T) {
	var transitions []string
	observer := func(s State, pass int) {
		transitions = append(transitions, fmt.Sprintf("%s/%d", s, pass))
	}
	var events []string
	d := New(&scriptedRunner{events: &events}, 0, 2, &plog.Recorder{},
		WithSleeper(recordingSleeper(&events)), WithStateObserver(observer))

	if state, _ := d.State(); state != Idle {
		t.Errorf("expected idle before run, got %v", state)
	}
	if _, err := d.Run(context.Background()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	assertEvents(t, transitions, []string{"running/1", "waiting/1", "running/2", "done/2"})
}

func TestSleepContext(t *testing.T) {
	t.Run("Returns after duration", func(t *testing.T) {
		start := time.Now()
		if err := SleepContext(context.Background(), 20*time.Millisecond); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if time.Since(start) < 20*time.Millisecond {
			t.Error("expected sleep to last at least the requested duration")
		}
	})

	t.Run("Returns early on cancellation", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		start := time.Now()
		if err := SleepContext(ctx, time.Hour); !errors.Is(err, context.Canceled) {
			t.Fatalf("expected context.Canceled, got %v", err)
		}
		if time.Since(start) > time.Second {
			t.Error("expected canceled sleep to return immediately")
		}
	})
}
