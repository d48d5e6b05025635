package main

import (
	"context"
	"errors"
	"flag"
	"os"
	"path/filepath"
	"testing"
)

func TestRun(t *testing.T) {
	t.Run("Version", func(t *testing.T) {
		if err := run(context.Background(), []string{"version"}); err != nil {
			t.Errorf("expected no error, got %v", err)
		}
	})

	t.Run("No Arguments Prints Usage", func(t *testing.T) {
		if err := run(context.Background(), nil); err != nil {
			t.Errorf("expected no error, got %v", err)
		}
	})

	t.Run("Unknown Command", func(t *testing.T) {
		if err := run(context.Background(), []string{"backup"}); err == nil {
			t.Error("expected error for unknown command")
		}
	})

	t.Run("Subcommand Help", func(t *testing.T) {
		err := run(context.Background(), []string{"run", "-help"})
		if !errors.Is(err, flag.ErrHelp) {
			t.Errorf("expected flag.ErrHelp, got %v", err)
		}
	})

	t.Run("Init Then Run", func(t *testing.T) {
		base := t.TempDir()
		source := filepath.Join(base, "src")
		replica := filepath.Join(base, "dst")
		confDir := filepath.Join(base, "conf")
		if err := os.MkdirAll(source, 0755); err != nil {
			t.Fatalf("failed to create source: %v", err)
		}
		if err := os.WriteFile(filepath.Join(source, "file.txt"), []byte("content"), 0644); err != nil {
			t.Fatalf("failed to write source file: %v", err)
		}

		initArgs := []string{"init",
			"-config-dir", confDir,
			"-source", source,
			"-replica", replica,
			"-log-file", filepath.Join(base, "mirror.log"),
			"-interval", "0",
			"-amount", "1",
		}
		if err := run(context.Background(), initArgs); err != nil {
			t.Fatalf("init failed: %v", err)
		}

		if err := run(context.Background(), []string{"run", "-config-dir", confDir}); err != nil {
			t.Fatalf("run failed: %v", err)
		}

		got, err := os.ReadFile(filepath.Join(replica, "file.txt"))
		if err != nil || string(got) != "content" {
			t.Errorf("expected mirrored file, got %q (err: %v)", got, err)
		}
	})
}
