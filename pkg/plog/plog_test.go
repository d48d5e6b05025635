package plog

import (
	"bytes"
	"os"
	"strings"
	"testing"
)

func TestPlogLevels(t *testing.T) {
	// --- Setup: Redirect plog output to capture log output ---
	var logBuf bytes.Buffer
	SetOutput(&logBuf)
	t.Cleanup(func() {
		SetOutput(os.Stderr)
		SetLevel(LevelInfo)
	})

	t.Run("Logs all levels when level is Debug", func(t *testing.T) {
		logBuf.Reset()
		SetLevel(LevelDebug)

		Debug("debug message", "key", "val1")
		Info("info message", "key", "val2")
		Warn("warn message")

		output := logBuf.String()

		if !strings.Contains(output, "level=DEBUG msg=\"debug message\" key=val1") {
			t.Errorf("expected debug message to be logged, but it wasn't. Got: %s", output)
		}
		if !strings.Contains(output, "level=INFO msg=\"info message\" key=val2") {
			t.Errorf("expected info message to be logged, but it wasn't. Got: %s", output)
		}
		if !strings.Contains(output, "level=WARN msg=\"warn message\"") {
			t.Errorf("expected warn message to be logged, but it wasn't. Got: %s", output)
		}
	})

	t.Run("Suppresses lower levels when level is Warn", func(t *testing.T) {
		logBuf.Reset()
		SetLevel(LevelWarn)

		Debug("debug message")
		Info("info message")

		output := logBuf.String()

		if strings.Contains(output, "level=DEBUG") || strings.Contains(output, "level=INFO") {
			t.Errorf("expected no debug or info output at warn level, but got: %s", output)
		}
	})

	t.Run("Logs Notice and above, but suppresses Debug", func(t *testing.T) {
		logBuf.Reset()
		SetLevel(LevelNotice)

		Debug("debug message")
		Notice("notice message", "key", "val1")
		Info("info message", "key", "val2")

		output := logBuf.String()

		if strings.Contains(output, "level=DEBUG msg=\"debug message\"") {
			t.Errorf("expected debug message to be suppressed at notice level, but it was logged. Got: %s", output)
		}
		if !strings.Contains(output, "level=NOTICE msg=\"notice message\" key=val1") {
			t.Errorf("expected notice message to be logged, but it wasn't. Got: %s", output)
		}
		if !strings.Contains(output, "level=INFO msg=\"info message\" key=val2") {
			t.Errorf("expected info message to be logged, but it wasn't. Got: %s", output)
		}
	})

	t.Run("Quiet mode keeps warnings", func(t *testing.T) {
		logBuf.Reset()
		SetLevel(LevelInfo)
		SetQuiet(true)
		defer SetQuiet(false)

		Info("hidden")
		Warn("shown")

		output := logBuf.String()
		if strings.Contains(output, "hidden") {
			t.Errorf("expected info to be suppressed in quiet mode, got: %s", output)
		}
		if !strings.Contains(output, "shown") {
			t.Errorf("expected warn to pass quiet mode, got: %s", output)
		}
	})
}

func TestLevelFromString(t *testing.T) {
	testCases := map[string]struct {
		in    string
		want  string
		valid bool
	}{
		"debug":       {"debug", "DEBUG", true},
		"notice":      {"NOTICE", "DEBUG+2", true},
		"warning":     {"warning", "WARN", true},
		"padded":      {" error ", "ERROR", true},
		"unknown":     {"chatty", "INFO", false},
		"empty is ok": {"", "INFO", false},
	}
	for name, tc := range testCases {
		t.Run(name, func(t *testing.T) {
			if got := LevelFromString(tc.in).String(); got != tc.want {
				t.Errorf("LevelFromString(%q) = %s, want %s", tc.in, got, tc.want)
			}
			if got := IsValidLevel(tc.in); got != tc.valid {
				t.Errorf("IsValidLevel(%q) = %v, want %v", tc.in, got, tc.valid)
			}
		})
	}
}

func TestTeeHandler(t *testing.T) {
	var console, file bytes.Buffer
	SetLevel(LevelInfo)
	t.Cleanup(func() { SetLevel(LevelInfo) })

	l := New(NewTeeHandler(NewTextHandler(&console), NewTextHandler(&file))).With("run", "abc")
	l.Info("CREATE_FILE", "dst", "/replica/a.txt")

	for name, buf := range map[string]*bytes.Buffer{"console": &console, "file": &file} {
		out := buf.String()
		if !strings.Contains(out, "msg=CREATE_FILE") || !strings.Contains(out, "run=abc") || !strings.Contains(out, "dst=/replica/a.txt") {
			t.Errorf("%s output missing record fields: %s", name, out)
		}
	}
}

func TestLevelDispatchHandler(t *testing.T) {
	var stdout, stderr bytes.Buffer
	SetLevel(LevelInfo)

	l := New(NewConsoleHandler(&stdout, &stderr))
	l.Info("to stdout")
	l.Error("to stderr")

	if !strings.Contains(stdout.String(), "to stdout") || strings.Contains(stdout.String(), "to stderr") {
		t.Errorf("unexpected stdout content: %s", stdout.String())
	}
	if !strings.Contains(stderr.String(), "to stderr") || strings.Contains(stderr.String(), "to stdout") {
		t.Errorf("unexpected stderr content: %s", stderr.String())
	}
}

func TestRecorder(t *testing.T) {
	var r Recorder
	r.Record(LevelInfo, "REMOVE_FILE", "dst", "/replica/b.txt")
	r.Record(LevelWarn, "skipped", "error", os.ErrPermission)

	entries := r.Entries()
	if len(entries) != 2 {
		t.Fatalf("expected 2 entries, got %d", len(entries))
	}
	if entries[0].Str("dst") != "/replica/b.txt" {
		t.Errorf("expected dst attribute to be captured, got %v", entries[0].Attrs)
	}
	if got := r.Messages(LevelWarn); len(got) != 1 || got[0] != "skipped" {
		t.Errorf("expected only the warning above LevelWarn, got %v", got)
	}

	r.Reset()
	if len(r.Entries()) != 0 {
		t.Error("expected recorder to be empty after Reset")
	}
}
