// Package logfile manages the persistent, append-only log destination.
//
// The file is only ever appended to. Size is checked once when the file is
// opened: an oversized log is moved aside under a timestamped name and
// optionally compressed, and a fresh file is started. Older rotated files
// beyond the configured count are pruned.
package logfile

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/klauspost/compress/zstd"
	"github.com/klauspost/pgzip"

	"github.com/paulschiretz/pgl-mirror/pkg/plog"
	"github.com/paulschiretz/pgl-mirror/pkg/util"
)

// Compression selects how rotated log files are stored.
type Compression string

const (
	None Compression = "none"
	Gzip Compression = "gzip"
	Zstd Compression = "zstd"
)

var compressionToString = map[Compression]string{None: "none", Gzip: "gzip", Zstd: "zstd"}
var stringToCompression = util.InvertMap(compressionToString)

func (c Compression) String() string {
	if str, ok := compressionToString[c]; ok {
		return str
	}
	return fmt.Sprintf("unknown_compression(%s)", string(c))
}

// Extension returns the file name suffix of a rotated file.
func (c Compression) Extension() string {
	switch c {
	case Gzip:
		return ".gz"
	case Zstd:
		return ".zst"
	default:
		return ""
	}
}

// ParseCompression parses a string into a Compression. The empty string
// selects None.
func ParseCompression(s string) (Compression, error) {
	if s == "" {
		return None, nil
	}
	if c, ok := stringToCompression[s]; ok {
		return c, nil
	}
	return "", fmt.Errorf("invalid log compression: %q. Must be 'none', 'gzip', or 'zstd'", s)
}

// MarshalJSON implements the json.Marshaler interface.
func (c Compression) MarshalJSON() ([]byte, error) {
	return json.Marshal(c.String())
}

// UnmarshalJSON implements the json.Unmarshaler interface.
func (c *Compression) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return fmt.Errorf("log compression should be a string, got %s", data)
	}
	parsed, err := ParseCompression(s)
	if err != nil {
		return err
	}
	*c = parsed
	return nil
}

// Options controls rotation at open time.
type Options struct {
	// MaxSize is the size in bytes above which the existing log is rotated.
	// Zero disables rotation.
	MaxSize     int64
	Compression Compression
	// MaxBackups is the number of rotated files kept after a rotation.
	// Zero keeps all of them.
	MaxBackups int
}

// rotatedTimeFormat is appended to the log name when it is rotated.
const rotatedTimeFormat = "20060102T150405Z"

// Open opens path for appending, creating it and its parent directory if
// needed. When the existing file exceeds opts.MaxSize it is rotated first;
// the returned string is then the path of the rotated file.
func Open(path string, opts Options) (*os.File, string, error) {
	if err := os.MkdirAll(filepath.Dir(path), util.UserWritableDirPerms); err != nil {
		return nil, "", fmt.Errorf("failed to create log directory: %w", err)
	}

	var rotated string
	if opts.MaxSize > 0 {
		info, err := os.Stat(path)
		if err == nil && info.Size() > opts.MaxSize {
			if rotated, err = rotate(path, opts.Compression, time.Now()); err != nil {
				if rotated == "" {
					return nil, "", err
				}
				// The old log is already out of the way.
				plog.Warn("Log rotation incomplete", "path", rotated, "error", err)
			}
			if opts.MaxBackups > 0 {
				if err := prune(path, opts.MaxBackups); err != nil {
					plog.Warn("Failed to prune rotated logs", "error", err)
				}
			}
		}
	}

	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, util.UserWritableFilePerms)
	if err != nil {
		return nil, "", fmt.Errorf("failed to open log file %s: %w", path, err)
	}
	return f, rotated, nil
}

// rotate moves the log aside under a UTC timestamp suffix and compresses it.
// A non-empty name with an error means the log was moved but not compressed
// or cleaned up completely.
func rotate(path string, c Compression, now time.Time) (string, error) {
	rotated := rotatedName(path, c, now)
	if err := os.Rename(path, rotated); err != nil {
		return "", fmt.Errorf("failed to rotate log file %s: %w", path, err)
	}
	if c == None || c == "" {
		return rotated, nil
	}

	compressed, err := compressFile(rotated, c)
	if err != nil {
		if compressed == "" {
			// The uncompressed rotated file is still in place.
			compressed = rotated
		}
		return compressed, fmt.Errorf("failed to compress rotated log %s: %w", rotated, err)
	}
	return compressed, nil
}

// rotatedName returns an unused name for a rotation of path at now. Rotations
// within the same second get a counter suffix.
func rotatedName(path string, c Compression, now time.Time) string {
	base := path + "." + now.UTC().Format(rotatedTimeFormat)
	name := base
	for i := 1; exists(name) || exists(name+c.Extension()); i++ {
		name = fmt.Sprintf("%s.%d", base, i)
	}
	return name
}

func exists(path string) bool {
	_, err := os.Lstat(path)
	return err == nil
}

// rotation identifies a rotated file by its timestamp and counter.
type rotation struct {
	path    string
	stamp   string
	counter int
}

// rotatedFiles returns the rotated siblings of path, newest first.
func rotatedFiles(path string) ([]string, error) {
	dir, base := filepath.Split(path)
	entries, err := os.ReadDir(filepath.Clean(dir))
	if err != nil {
		return nil, fmt.Errorf("failed to list log directory: %w", err)
	}

	prefix := base + "."
	var found []rotation
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || !strings.HasPrefix(name, prefix) || strings.HasSuffix(name, ".tmp") {
			continue
		}
		rest := strings.TrimPrefix(name, prefix)
		if len(rest) < len(rotatedTimeFormat) {
			continue
		}
		stamp := rest[:len(rotatedTimeFormat)]
		if _, err := time.Parse(rotatedTimeFormat, stamp); err != nil {
			continue
		}
		found = append(found, rotation{
			path:    filepath.Join(dir, name),
			stamp:   stamp,
			counter: rotationCounter(rest[len(rotatedTimeFormat):]),
		})
	}

	// The timestamp format sorts chronologically.
	sort.Slice(found, func(i, j int) bool {
		if found[i].stamp != found[j].stamp {
			return found[i].stamp > found[j].stamp
		}
		return found[i].counter > found[j].counter
	})
	rotated := make([]string, 0, len(found))
	for _, r := range found {
		rotated = append(rotated, r.path)
	}
	return rotated, nil
}

// rotationCounter parses the ".N" that follows the timestamp of a rotation
// made in the same second as an earlier one. The first rotation has none.
func rotationCounter(suffix string) int {
	if !strings.HasPrefix(suffix, ".") {
		return 0
	}
	field, _, _ := strings.Cut(suffix[1:], ".")
	n, err := strconv.Atoi(field)
	if err != nil {
		return 0
	}
	return n
}

// prune removes all but the keep newest rotated files of path.
func prune(path string, keep int) error {
	rotated, err := rotatedFiles(path)
	if err != nil {
		return err
	}
	if len(rotated) <= keep {
		return nil
	}
	var errs []error
	for _, old := range rotated[keep:] {
		if err := os.Remove(old); err != nil && !os.IsNotExist(err) {
			errs = append(errs, fmt.Errorf("failed to remove rotated log %s: %w", old, err))
		}
	}
	return errors.Join(errs...)
}

// compressFile writes src compressed to src+extension via a temporary file
// and removes src on success.
func compressFile(src string, c Compression) (string, error) {
	dst := src + c.Extension()

	in, err := os.Open(src)
	if err != nil {
		return "", err
	}
	defer in.Close()

	out, err := os.CreateTemp(filepath.Dir(dst), filepath.Base(dst)+".*.tmp")
	if err != nil {
		return "", fmt.Errorf("failed to create temp file: %w", err)
	}
	tempName := out.Name()
	defer func() {
		if tempName != "" {
			out.Close()
			os.Remove(tempName)
		}
	}()

	bufWriter := bufio.NewWriter(out)
	var compressedWriter io.WriteCloser
	switch c {
	case Zstd:
		zw, err := zstd.NewWriter(bufWriter, zstd.WithEncoderLevel(zstd.SpeedDefault))
		if err != nil {
			return "", fmt.Errorf("failed to create zstd writer: %w", err)
		}
		compressedWriter = zw
	case Gzip:
		gw, err := pgzip.NewWriterLevel(bufWriter, pgzip.DefaultCompression)
		if err != nil {
			return "", fmt.Errorf("failed to create gzip writer: %w", err)
		}
		compressedWriter = gw
	default:
		return "", fmt.Errorf("unsupported compression: %v", c)
	}

	if _, err := io.Copy(compressedWriter, in); err != nil {
		compressedWriter.Close()
		return "", fmt.Errorf("failed to compress: %w", err)
	}
	if err := compressedWriter.Close(); err != nil {
		return "", fmt.Errorf("compressed writer close failed: %w", err)
	}
	if err := bufWriter.Flush(); err != nil {
		return "", fmt.Errorf("buffer flush failed: %w", err)
	}
	if err := out.Close(); err != nil {
		return "", fmt.Errorf("failed to close temp file: %w", err)
	}
	if err := os.Rename(tempName, dst); err != nil {
		return "", fmt.Errorf("failed to rename temp file: %w", err)
	}
	tempName = ""

	in.Close()
	if err := os.Remove(src); err != nil {
		return dst, fmt.Errorf("failed to remove uncompressed log %s: %w", src, err)
	}
	return dst, nil
}
