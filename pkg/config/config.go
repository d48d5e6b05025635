package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/paulschiretz/pgl-mirror/pkg/buildinfo"
	"github.com/paulschiretz/pgl-mirror/pkg/fingerprint"
	"github.com/paulschiretz/pgl-mirror/pkg/flagparse"
	"github.com/paulschiretz/pgl-mirror/pkg/logfile"
	"github.com/paulschiretz/pgl-mirror/pkg/pathmirror"
	"github.com/paulschiretz/pgl-mirror/pkg/plog"
	"github.com/paulschiretz/pgl-mirror/pkg/util"
)

// ConfigFileName is the name of the configuration file.
const ConfigFileName = "pgl-mirror.config.json"

// DefaultLogFileName is used when no log path is configured.
const DefaultLogFileName = "pgl-mirror.log"

// ArgumentError reports a malformed or out-of-range startup parameter.
type ArgumentError struct {
	Field string
	Err   error
}

func (e *ArgumentError) Error() string {
	return fmt.Sprintf("invalid %s: %v", e.Field, e.Err)
}

func (e *ArgumentError) Unwrap() error {
	return e.Err
}

func argError(field, format string, args ...any) *ArgumentError {
	return &ArgumentError{Field: field, Err: fmt.Errorf(format, args...)}
}

type LogConfig struct {
	Path              string              `json:"path"`
	MaxSizeMB         int                 `json:"maxSizeMB" comment:"Rotate the log at startup once it exceeds this size. 0 disables rotation."`
	RotateCompression logfile.Compression `json:"rotateCompression"`
	MaxBackups        int                 `json:"maxBackups" comment:"Number of rotated log files to keep. 0 keeps all."`
}

type MirrorConfig struct {
	HashAlgorithm fingerprint.Algorithm `json:"hashAlgorithm"`
	BufferSizeKB  int                   `json:"bufferSizeKB" comment:"Size of the I/O buffer in kilobytes for hashing and file copies. Default is 256 (256KB)."`
	// Note: omitempty is intentionally not used for user-configurable slices
	// so that they appear in the generated config file for better discoverability.
	ExcludeFiles []string `json:"excludeFiles"`
	ExcludeDirs  []string `json:"excludeDirs"`
}

type RuntimeConfig struct {
	DryRun    bool
	ConfigDir string
}

type Config struct {
	Version         string        `json:"version"`
	Source          string        `json:"source"`
	Replica         string        `json:"replica"`
	IntervalSeconds int           `json:"intervalSeconds"`
	Amount          int           `json:"amount"`
	LogLevel        string        `json:"logLevel"`
	Metrics         bool          `json:"metrics"`
	Log             LogConfig     `json:"log"`
	Mirror          MirrorConfig  `json:"mirror"`
	Runtime         RuntimeConfig `json:"-"` // Never added to config file
}

// NewDefault creates and returns a Config struct with sensible default values.
func NewDefault() Config {
	return Config{
		Version:         buildinfo.Version,
		Source:          "", // Intentionally empty to force user configuration.
		Replica:         "", // Intentionally empty to force user configuration.
		IntervalSeconds: 60,
		Amount:          1,
		LogLevel:        "info",
		Metrics:         true,
		Log: LogConfig{
			Path:              DefaultLogFileName,
			MaxSizeMB:         10,
			RotateCompression: logfile.Gzip,
			MaxBackups:        5,
		},
		Mirror: MirrorConfig{
			HashAlgorithm: fingerprint.SHA256,
			BufferSizeKB:  fingerprint.DefaultBufferSize / 1024,
			ExcludeFiles:  []string{},
			ExcludeDirs:   []string{},
		},
		Runtime: RuntimeConfig{
			ConfigDir: ".",
		},
	}
}

// Load attempts to load a configuration from "pgl-mirror.config.json" in dir.
// If the file doesn't exist, it returns the default config without an error.
// If the file exists but fails to parse, it returns an error and a zero-value config.
func Load(dir string) (Config, error) {
	absDir, err := util.AbsPath(dir)
	if err != nil {
		return Config{}, fmt.Errorf("could not determine absolute path for config directory %s: %w", dir, err)
	}

	configPath := filepath.Join(absDir, ConfigFileName)

	file, err := os.Open(configPath)
	if err != nil {
		if os.IsNotExist(err) {
			config := NewDefault()
			config.Runtime.ConfigDir = absDir
			return config, nil // Config file doesn't exist, which is a normal case.
		}
		return Config{}, fmt.Errorf("error opening config file %s: %w", configPath, err)
	}
	defer file.Close()

	plog.Info("Loading configuration", "path", configPath)
	// Start with default values, then overwrite with the file's content.
	// This makes the config loading resilient to missing fields in the JSON file.
	config := NewDefault()
	decoder := json.NewDecoder(file)
	if err := decoder.Decode(&config); err != nil {
		return Config{}, fmt.Errorf("error parsing config file %s: %w", configPath, err)
	}
	config.Runtime.ConfigDir = absDir

	if config.Version != buildinfo.Version {
		config.Version = buildinfo.Version
	}
	return config, nil
}

// Path returns the location of the config file for c.
func (c *Config) Path() string {
	return filepath.Join(c.Runtime.ConfigDir, ConfigFileName)
}

// Generate creates or overwrites the config file in the config directory of configToGenerate.
func Generate(configToGenerate Config) error {
	configPath := configToGenerate.Path()
	if err := os.MkdirAll(configToGenerate.Runtime.ConfigDir, util.UserWritableDirPerms); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	jsonData, err := json.MarshalIndent(configToGenerate, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal config to JSON: %w", err)
	}

	if err := os.WriteFile(configPath, jsonData, util.UserWritableFilePerms); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	plog.Info("Successfully saved config file", "path", configPath)
	return nil
}

// Validate checks the configuration for logical errors and expands every path
// into its absolute, cleaned form. All failures are *ArgumentError values.
// Whether the paths exist is left to the preflight checks.
func (c *Config) Validate() error {
	if c.Source == "" {
		return argError("source", "source path cannot be empty")
	}
	if c.Replica == "" {
		return argError("replica", "replica path cannot be empty")
	}

	var err error
	if c.Source, err = util.AbsPath(c.Source); err != nil {
		return &ArgumentError{Field: "source", Err: err}
	}
	if c.Replica, err = util.AbsPath(c.Replica); err != nil {
		return &ArgumentError{Field: "replica", Err: err}
	}

	if c.Log.Path == "" {
		c.Log.Path = DefaultLogFileName
	}
	if c.Log.Path, err = util.AbsPath(c.Log.Path); err != nil {
		return &ArgumentError{Field: "log.path", Err: err}
	}

	if c.IntervalSeconds < 0 {
		return argError("intervalSeconds", "must not be negative, got %d", c.IntervalSeconds)
	}
	if c.Amount < 0 {
		return argError("amount", "must not be negative, got %d", c.Amount)
	}
	if !plog.IsValidLevel(c.LogLevel) {
		return argError("logLevel", "%q is not one of 'debug', 'notice', 'info', 'warn', 'error'", c.LogLevel)
	}
	if c.Log.MaxSizeMB < 0 {
		return argError("log.maxSizeMB", "must not be negative, got %d", c.Log.MaxSizeMB)
	}
	if c.Log.MaxBackups < 0 {
		return argError("log.maxBackups", "must not be negative, got %d", c.Log.MaxBackups)
	}
	if c.Mirror.BufferSizeKB <= 0 {
		return argError("mirror.bufferSizeKB", "must be greater than 0, got %d", c.Mirror.BufferSizeKB)
	}

	if err := validateGlobPatterns("mirror.excludeFiles", c.Mirror.ExcludeFiles); err != nil {
		return err
	}
	if err := validateGlobPatterns("mirror.excludeDirs", c.Mirror.ExcludeDirs); err != nil {
		return err
	}
	return nil
}

// LogSummary prints a user-friendly summary of the configuration.
func (c *Config) LogSummary() {
	logArgs := []any{
		"log_level", c.LogLevel,
		"source", c.Source,
		"replica", c.Replica,
		"interval_seconds", c.IntervalSeconds,
		"amount", c.Amount,
		"dry_run", c.Runtime.DryRun,
		"metrics", c.Metrics,
		"hash", c.Mirror.HashAlgorithm,
		"buffer_size_kb", c.Mirror.BufferSizeKB,
		"log_file", c.Log.Path,
	}
	if c.Log.MaxSizeMB > 0 {
		logArgs = append(logArgs, "log_rotation", fmt.Sprintf("enabled (s:%dMB c:%s k:%d)", c.Log.MaxSizeMB, c.Log.RotateCompression, c.Log.MaxBackups))
	}
	if excludeFiles := c.ExcludeFiles(); len(excludeFiles) > 0 {
		logArgs = append(logArgs, "exclude_files", strings.Join(excludeFiles, ", "))
	}
	if excludeDirs := c.ExcludeDirs(); len(excludeDirs) > 0 {
		logArgs = append(logArgs, "exclude_dirs", strings.Join(excludeDirs, ", "))
	}
	plog.Info("Configuration loaded", logArgs...)
}

// ExcludeFiles returns the deduplicated, sorted file exclusion patterns.
func (c *Config) ExcludeFiles() []string {
	return util.MergeAndDeduplicate(c.Mirror.ExcludeFiles)
}

// ExcludeDirs returns the deduplicated, sorted directory exclusion patterns.
func (c *Config) ExcludeDirs() []string {
	return util.MergeAndDeduplicate(c.Mirror.ExcludeDirs)
}

// validateGlobPatterns checks if a list of strings are valid glob patterns.
func validateGlobPatterns(fieldName string, patterns []string) error {
	for _, pattern := range patterns {
		if err := pathmirror.ValidatePattern(pattern); err != nil {
			return &ArgumentError{Field: fieldName, Err: err}
		}
	}
	return nil
}

// MergeConfigWithFlags overlays the configuration values from flags on top of a base
// configuration. It iterates over the setFlags map, which contains only the flags
// explicitly provided by the user on the command line.
func MergeConfigWithFlags(command flagparse.Command, base Config, setFlags map[string]any) (Config, error) {
	merged := base
	var errs []error

	for name, value := range setFlags {
		switch name {
		case "source":
			merged.Source = value.(string)
		case "replica":
			merged.Replica = value.(string)
		case "interval":
			merged.IntervalSeconds = value.(int)
		case "amount":
			merged.Amount = value.(int)
		case "log-level":
			merged.LogLevel = value.(string)
		case "metrics":
			merged.Metrics = value.(bool)
		case "dry-run":
			merged.Runtime.DryRun = value.(bool)
		case "log-file":
			merged.Log.Path = value.(string)
		case "log-max-size-mb":
			merged.Log.MaxSizeMB = value.(int)
		case "log-max-backups":
			merged.Log.MaxBackups = value.(int)
		case "log-compression":
			c, err := logfile.ParseCompression(value.(string))
			if err != nil {
				errs = append(errs, &ArgumentError{Field: name, Err: err})
				continue
			}
			merged.Log.RotateCompression = c
		case "hash":
			algo, err := fingerprint.ParseAlgorithm(value.(string))
			if err != nil {
				errs = append(errs, &ArgumentError{Field: name, Err: err})
				continue
			}
			merged.Mirror.HashAlgorithm = algo
		case "buffer-size-kb":
			merged.Mirror.BufferSizeKB = value.(int)
		case "exclude-files":
			merged.Mirror.ExcludeFiles = value.([]string)
		case "exclude-dirs":
			merged.Mirror.ExcludeDirs = value.([]string)
		case "config-dir", "force":
			// Consumed by the command itself.
		default:
			plog.Debug("unhandled flag in MergeConfigWithFlags", "command", command, "flag", name)
		}
	}
	return merged, errors.Join(errs...)
}
