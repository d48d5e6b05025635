package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/go-git/go-billy/v5/osfs"
	"github.com/google/uuid"

	"github.com/paulschiretz/pgl-mirror/pkg/buildinfo"
	"github.com/paulschiretz/pgl-mirror/pkg/config"
	"github.com/paulschiretz/pgl-mirror/pkg/engine"
	"github.com/paulschiretz/pgl-mirror/pkg/fingerprint"
	"github.com/paulschiretz/pgl-mirror/pkg/flagparse"
	"github.com/paulschiretz/pgl-mirror/pkg/lockfile"
	"github.com/paulschiretz/pgl-mirror/pkg/logfile"
	"github.com/paulschiretz/pgl-mirror/pkg/pathmirror"
	"github.com/paulschiretz/pgl-mirror/pkg/plog"
	"github.com/paulschiretz/pgl-mirror/pkg/preflight"
)

// RunMirror handles the logic for the 'run' command.
func RunMirror(ctx context.Context, flagMap map[string]any) error {
	runConfig, err := loadRunConfig(flagMap)
	if err != nil {
		return err
	}

	// Set the global log level based on the final configuration.
	plog.SetLevel(plog.LevelFromString(runConfig.LogLevel))

	validator := preflight.NewValidator()
	pfPlan := &preflight.Plan{
		SourceAccessible:    true,
		ReplicaAccessible:   true,
		ReplicaWriteable:    true,
		EnsureReplicaExists: true,
		PathNesting:         true,
		LogFile:             runConfig.Log.Path,
		DryRun:              runConfig.Runtime.DryRun,
	}
	if err := validator.Run(ctx, runConfig.Source, runConfig.Replica, pfPlan); err != nil {
		return fmt.Errorf("mirror preflight failed: %w", err)
	}

	logger, closeLog, err := openRunLogger(runConfig)
	if err != nil {
		return err
	}
	defer closeLog()

	prev := plog.Default()
	plog.SetDefault(logger)
	defer plog.SetDefault(prev)

	runConfig.LogSummary()

	if !runConfig.Runtime.DryRun {
		release, err := acquireReplicaLock(ctx, runConfig.Replica)
		if err != nil {
			return err
		}
		if release == nil {
			return nil // Another process owns the replica.
		}
		defer release()
	}

	mirror, err := newMirror(runConfig, logger)
	if err != nil {
		return err
	}

	driver := engine.New(
		mirror,
		time.Duration(runConfig.IntervalSeconds)*time.Second,
		runConfig.Amount,
		logger,
	)

	startTime := time.Now()
	sum, err := driver.Run(ctx)
	duration := time.Since(startTime).Round(time.Millisecond)
	if err != nil {
		return err // The error will be logged with full details by main()
	}
	if sum.Failed > 0 {
		return fmt.Errorf("%d of %d passes failed", sum.Failed, sum.Completed+sum.Failed)
	}
	logger.Info(buildinfo.Name+" finished successfully.", "duration", duration)
	return nil
}

// loadRunConfig loads the config file, overlays the flags and validates the result.
func loadRunConfig(flagMap map[string]any) (config.Config, error) {
	configDir := "."
	if dir, ok := flagMap["config-dir"].(string); ok && dir != "" {
		configDir = dir
	}

	loadedConfig, err := config.Load(configDir)
	if err != nil {
		return config.Config{}, fmt.Errorf("failed to load configuration: %w", err)
	}

	runConfig, err := config.MergeConfigWithFlags(flagparse.Run, loadedConfig, flagMap)
	if err != nil {
		return config.Config{}, err
	}

	// CRITICAL: Validate the config for the run
	if err := runConfig.Validate(); err != nil {
		return config.Config{}, err
	}
	return runConfig, nil
}

// openRunLogger opens the append-only log file and returns a logger that
// writes every record to the console and to the file, tagged with a run ID.
func openRunLogger(runConfig config.Config) (*plog.Logger, func(), error) {
	file, rotated, err := logfile.Open(runConfig.Log.Path, logfile.Options{
		MaxSize:     int64(runConfig.Log.MaxSizeMB) * 1024 * 1024,
		Compression: runConfig.Log.RotateCompression,
		MaxBackups:  runConfig.Log.MaxBackups,
	})
	if err != nil {
		return nil, nil, fmt.Errorf("failed to open log file: %w", err)
	}

	handler := plog.NewTeeHandler(
		plog.NewConsoleHandler(os.Stdout, os.Stderr),
		plog.NewTextHandler(file),
	)
	logger := plog.New(handler).With("run", uuid.NewString())
	if rotated != "" {
		logger.Info("Rotated log file", "path", rotated)
	}
	return logger, func() { _ = file.Close() }, nil
}

// acquireReplicaLock takes the lock next to the replica root. A nil release
// func with a nil error means another live process holds the lock and the
// run should be skipped.
func acquireReplicaLock(ctx context.Context, absReplicaPath string) (func(), error) {
	appID := fmt.Sprintf("pgl-mirror:%s", absReplicaPath)
	lockPath := lockfile.PathFor(absReplicaPath)

	plog.Debug("Attempting to acquire lock", "path", lockPath)
	lock, err := lockfile.Acquire(ctx, lockPath, appID)
	if err != nil {
		var lockErr *lockfile.ErrLockActive
		if errors.As(err, &lockErr) {
			plog.Warn("Mirror is already running for this replica, skipping run.", "details", lockErr.Error())
			return nil, nil // Return nil error to indicate a graceful exit.
		}
		return nil, fmt.Errorf("failed to acquire lock: %w", err)
	}
	plog.Debug("Lock acquired successfully.")

	return lock.Release, nil
}

// newMirror builds the pass runner for runConfig on the host filesystem.
func newMirror(runConfig config.Config, sink plog.Sink) (*pathmirror.Mirror, error) {
	excludes, err := pathmirror.NewExclusions(runConfig.ExcludeFiles(), runConfig.ExcludeDirs())
	if err != nil {
		return nil, &config.ArgumentError{Field: "mirror.exclude", Err: err}
	}

	bufferSize := runConfig.Mirror.BufferSizeKB * 1024
	return pathmirror.New(
		osfs.New(runConfig.Source),
		osfs.New(runConfig.Replica),
		sink,
		pathmirror.Options{
			Hasher:     fingerprint.New(runConfig.Mirror.HashAlgorithm, bufferSize),
			Excludes:   excludes,
			BufferSize: bufferSize,
			DryRun:     runConfig.Runtime.DryRun,
			Metrics:    runConfig.Metrics,
		},
	), nil
}
