// Package lockfile guards a replica against concurrent mirror processes.
//
// The lock lives next to the replica root rather than inside it, because
// anything inside the replica that has no source counterpart is removed by
// the next pass.
package lockfile

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/paulschiretz/pgl-mirror/pkg/plog"
	"github.com/paulschiretz/pgl-mirror/pkg/util"
)

// lockFileSuffix is appended to the replica's name. The '~' prefix marks the
// file as temporary.
const lockFileSuffix = ".pgl-mirror.lock"

// PathFor returns the lock file path guarding the given replica root.
func PathFor(absReplicaPath string) string {
	clean := filepath.Clean(absReplicaPath)
	return filepath.Join(filepath.Dir(clean), ".~"+filepath.Base(clean)+lockFileSuffix)
}

// LockContent defines the structure of the data written to the lock file.
type LockContent struct {
	PID        int64     `json:"pid"`
	Hostname   string    `json:"hostname"`
	LastUpdate time.Time `json:"lastUpdate"`
	Nonce      string    `json:"nonce,omitempty"` // resolves takeover races
	AppID      string    `json:"appID"`
}

// ErrLockActive is returned when a live process holds the lock.
type ErrLockActive struct {
	PID       int64
	Hostname  string
	AppID     string
	TimeSince time.Duration
}

func (e *ErrLockActive) Error() string {
	return fmt.Sprintf("lock is active, held by PID %d on host '%s' (App: %s), last updated %s ago", e.PID, e.Hostname, e.AppID, e.TimeSince.Truncate(time.Second))
}

// ErrLostRace is returned when another process won a stale lock takeover.
var ErrLostRace = errors.New("lost race during stale lock takeover")

// ErrCorruptLockFile indicates that the lock file is empty or not valid JSON.
var ErrCorruptLockFile = errors.New("lock file is corrupt or empty")

// Lock is a held lock. A background heartbeat keeps it fresh until Release.
type Lock struct {
	path    string
	content LockContent
	stop    context.CancelFunc
	done    chan struct{}
	mu      sync.Mutex
	held    bool
}

// These are vars to allow modification during testing.
var (
	heartbeatInterval = 1 * time.Minute
	// A lock is stale once it missed several heartbeats.
	staleTimeout = 3 * heartbeatInterval
	retryWait    = 100 * time.Millisecond
)

// Acquire takes the lock at absLockFilePath.
// It returns (nil, *ErrLockActive) if a live process holds the lock, and
// takes over locks whose heartbeat is older than the stale timeout.
func Acquire(ctx context.Context, absLockFilePath string, appID string) (*Lock, error) {
	const maxAttempts = 3

	for attempt := 0; attempt < maxAttempts; attempt++ {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}

		content, err := tryCreate(absLockFilePath, appID)
		if err == nil {
			return startLock(absLockFilePath, content), nil
		}
		if !os.IsExist(err) {
			return nil, fmt.Errorf("failed to access lock file: %w", err)
		}

		existing, readErr := readLockContentSafely(absLockFilePath)
		switch {
		case errors.Is(readErr, ErrCorruptLockFile):
			plog.Warn("Found corrupt lock file, treating as stale", "path", absLockFilePath, "error", readErr)
		case readErr != nil:
			// Possibly removed by its owner in the meantime.
			time.Sleep(retryWait)
			continue
		default:
			age := time.Since(existing.LastUpdate)
			if age < staleTimeout {
				return nil, &ErrLockActive{PID: existing.PID, Hostname: existing.Hostname, AppID: existing.AppID, TimeSince: age}
			}
			plog.Warn("Found stale lock, attempting takeover", "pid", existing.PID, "host", existing.Hostname, "age", age)
		}

		content, err = takeOver(absLockFilePath, appID)
		if err != nil {
			if errors.Is(err, ErrLostRace) {
				plog.Debug("Lock takeover race lost, retrying acquisition")
			} else {
				plog.Warn("Failed to take over lock, retrying", "error", err)
			}
			time.Sleep(retryWait)
			continue
		}
		return startLock(absLockFilePath, content), nil
	}

	return nil, fmt.Errorf("failed to acquire lock after %d attempts (contention)", maxAttempts)
}

func newContent(appID string) (LockContent, error) {
	hostname, err := os.Hostname()
	if err != nil {
		return LockContent{}, fmt.Errorf("failed to determine hostname: %w", err)
	}
	return LockContent{
		PID:        int64(os.Getpid()),
		Hostname:   hostname,
		LastUpdate: time.Now().UTC(),
		Nonce:      uuid.NewString(),
		AppID:      appID,
	}, nil
}

// tryCreate creates the lock file exclusively. An os.IsExist error means the
// lock is held by someone else.
func tryCreate(absLockFilePath, appID string) (LockContent, error) {
	f, err := os.OpenFile(absLockFilePath, os.O_CREATE|os.O_EXCL|os.O_WRONLY, util.UserWritableFilePerms)
	if err != nil {
		return LockContent{}, err
	}
	defer f.Close()

	content, err := newContent(appID)
	if err == nil {
		err = writeLockContent(f, content)
	}
	if err != nil {
		os.Remove(absLockFilePath)
		return LockContent{}, err
	}
	return content, nil
}

// takeOver replaces a stale or corrupt lock atomically and checks by reading
// it back that no concurrent taker overwrote it.
func takeOver(absLockFilePath, appID string) (LockContent, error) {
	content, err := newContent(appID)
	if err != nil {
		return LockContent{}, err
	}
	if err := writeLockFileAtomic(absLockFilePath, content); err != nil {
		return LockContent{}, err
	}

	readback, err := readLockContentSafely(absLockFilePath)
	if err != nil {
		return LockContent{}, fmt.Errorf("failed to read back lock file after takeover: %w", err)
	}
	if readback.PID != content.PID || readback.Nonce != content.Nonce {
		return LockContent{}, ErrLostRace
	}
	plog.Debug("Took over stale lock", "path", absLockFilePath)
	return content, nil
}

func startLock(absLockFilePath string, content LockContent) *Lock {
	cleanupTempLockFiles(absLockFilePath)

	ctx, cancel := context.WithCancel(context.Background())
	l := &Lock{
		path:    absLockFilePath,
		content: content,
		stop:    cancel,
		done:    make(chan struct{}),
		held:    true,
	}
	go l.heartbeat(ctx)
	return l
}

// Path returns the lock file location.
func (l *Lock) Path() string { return l.path }

// Release stops the heartbeat and removes the lock file. It is safe to call
// more than once.
func (l *Lock) Release() {
	l.mu.Lock()
	defer l.mu.Unlock()
	if !l.held {
		return
	}
	l.stop()
	<-l.done
	l.held = false

	if err := os.Remove(l.path); err != nil && !os.IsNotExist(err) {
		plog.Warn("Failed to remove lock file", "path", l.path, "error", err)
		return
	}
	plog.Debug("Lock released", "path", l.path)
}

func (l *Lock) heartbeat(ctx context.Context) {
	defer close(l.done)
	ticker := time.NewTicker(heartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			l.content.LastUpdate = time.Now().UTC()
			if err := writeLockFileAtomic(l.path, l.content); err != nil {
				// Retried on the next tick.
				plog.Warn("Heartbeat failed to update lock file", "error", err)
			}
		}
	}
}

// writeLockFileAtomic writes content to a temporary file in the lock's
// directory and renames it over the lock, so readers never see a partial file.
func writeLockFileAtomic(absLockFilePath string, content LockContent) error {
	tmp, err := os.CreateTemp(filepath.Dir(absLockFilePath), filepath.Base(absLockFilePath)+".*.tmp")
	if err != nil {
		return fmt.Errorf("failed to create temp lock file: %w", err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if err := writeLockContent(tmp, content); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to sync temp lock file: %w", err)
	}
	// Windows cannot rename open files.
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to close temp lock file: %w", err)
	}
	if err := os.Rename(tmpName, absLockFilePath); err != nil {
		return fmt.Errorf("failed to rename temp file to lock file: %w", err)
	}
	return nil
}

// cleanupTempLockFiles removes temporary lock files left behind by crashed
// processes. Only files older than the stale timeout are touched, since a
// younger one may belong to a heartbeat in progress.
func cleanupTempLockFiles(absLockFilePath string) {
	pattern := filepath.Join(filepath.Dir(absLockFilePath), filepath.Base(absLockFilePath)+".*.tmp")
	matches, err := filepath.Glob(pattern)
	if err != nil {
		plog.Warn("Failed to glob for temporary lock files", "pattern", pattern, "error", err)
		return
	}

	threshold := time.Now().Add(-staleTimeout)
	for _, match := range matches {
		info, err := os.Stat(match)
		if err != nil || !info.ModTime().Before(threshold) {
			continue
		}
		plog.Debug("Removing old temporary lock file", "path", match, "age", time.Since(info.ModTime()))
		if err := os.Remove(match); err != nil && !os.IsNotExist(err) {
			plog.Warn("Failed to remove leftover temporary lock file", "path", match, "error", err)
		}
	}
}

func writeLockContent(w io.Writer, content LockContent) error {
	data, err := json.MarshalIndent(content, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal lock content: %w", err)
	}
	if _, err := w.Write(data); err != nil {
		return fmt.Errorf("failed to write lock content: %w", err)
	}
	return nil
}

// readLockContentSafely reads the lock file, retrying briefly when it is
// empty or unparsable since it may be caught mid-write.
func readLockContentSafely(absLockFilePath string) (LockContent, error) {
	var lastErr, corruptErr error
	for attempt := 0; attempt < 3; attempt++ {
		data, err := os.ReadFile(absLockFilePath)
		if err != nil {
			if os.IsNotExist(err) {
				return LockContent{}, err
			}
			lastErr = err
			time.Sleep(50 * time.Millisecond)
			continue
		}

		if len(data) == 0 {
			corruptErr = errors.New("lock file is empty")
			time.Sleep(50 * time.Millisecond)
			continue
		}

		var content LockContent
		if corruptErr = json.Unmarshal(data, &content); corruptErr != nil {
			time.Sleep(50 * time.Millisecond)
			continue
		}
		return content, nil
	}

	if corruptErr != nil {
		return LockContent{}, fmt.Errorf("%w: %v", ErrCorruptLockFile, corruptErr)
	}
	return LockContent{}, fmt.Errorf("failed to read valid lock content: %w", lastErr)
}
