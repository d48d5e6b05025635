package flagparse

import (
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/paulschiretz/pgl-mirror/pkg/buildinfo"
)

// cliFlags holds pointers to all possible command-line flags.
// Fields are pointers so we can distinguish between "not registered for this command" (nil)
// and "registered but not set by user" (non-nil pointer to zero value).
type cliFlags struct {
	// Global
	LogLevel  *string
	DryRun    *bool
	Metrics   *bool
	ConfigDir *string

	// Shared: Run / Init
	Source          *string
	Replica         *string
	IntervalSeconds *int
	Amount          *int
	LogFile         *string
	LogMaxSizeMB    *int
	LogMaxBackups   *int
	LogCompression  *string
	HashAlgorithm   *string
	BufferSizeKB    *int

	ExcludeFiles *string
	ExcludeDirs  *string

	// Init specific
	Force *bool
}

func registerGlobalFlags(fs *flag.FlagSet, f *cliFlags) {
	f.LogLevel = fs.String("log-level", "info", "Set the logging level: 'debug', 'notice', 'info', 'warn', 'error'.")
	f.DryRun = fs.Bool("dry-run", false, "Show what would be done without making any changes.")
	f.Metrics = fs.Bool("metrics", false, "Log per-pass file and byte counters.")
	f.ConfigDir = fs.String("config-dir", ".", "Directory containing the pgl-mirror.config.json file.")
}

func registerMirrorFlags(fs *flag.FlagSet, f *cliFlags) {
	f.Source = fs.String("source", "", "Source directory to mirror from. (Required)")
	f.Replica = fs.String("replica", "", "Replica directory kept identical to the source. (Required)")
	f.IntervalSeconds = fs.Int("interval", 0, "Seconds to wait between two synchronization passes.")
	f.Amount = fs.Int("amount", 0, "Number of synchronization passes to run.")
	f.LogFile = fs.String("log-file", "", "Path of the append-only log file.")
	f.LogMaxSizeMB = fs.Int("log-max-size-mb", 0, "Rotate the log file at startup once it exceeds this size (0=never).")
	f.LogMaxBackups = fs.Int("log-max-backups", 0, "Number of rotated log files to keep (0=all).")
	f.LogCompression = fs.String("log-compression", "", "Compression for rotated log files: 'none', 'gzip', or 'zstd'.")
	f.HashAlgorithm = fs.String("hash", "", "Content hash used to compare files: 'sha256', 'md5', or 'blake2b'.")
	f.BufferSizeKB = fs.Int("buffer-size-kb", 0, "Size of the I/O buffer in kilobytes for hashing and file copies.")

	f.ExcludeFiles = fs.String("exclude-files", "", "Comma-separated list of case-insensitive file names to exclude (supports glob patterns).")
	f.ExcludeDirs = fs.String("exclude-dirs", "", "Comma-separated list of case-insensitive directory names to exclude (supports glob patterns).")
}

func registerInitFlags(fs *flag.FlagSet, f *cliFlags) {
	// Init supports all mirror flags (to generate config) plus 'force'.
	registerMirrorFlags(fs, f)
	f.Force = fs.Bool("force", false, "Overwrite an existing configuration file.")
}

// Parse parses the provided arguments (usually os.Args[1:]) and returns the action and config map.
func Parse(args []string) (Command, map[string]any, error) {
	// If no arguments provided, print help and exit.
	if len(args) == 0 {
		fs := flag.NewFlagSet("main", flag.ContinueOnError)
		printTopLevelUsage(fs)
		return None, nil, nil
	}

	cmdStr := strings.ToLower(args[0])

	if cmdStr == "help" || cmdStr == "-h" || cmdStr == "-help" || cmdStr == "--help" {
		fs := flag.NewFlagSet("main", flag.ContinueOnError)
		printTopLevelUsage(fs)
		return None, nil, nil
	}

	f := &cliFlags{}

	command, err := ParseCommand(cmdStr)
	if err != nil {
		return None, nil, err
	}

	switch command {
	case Init:
		fs := flag.NewFlagSet(command.String(), flag.ContinueOnError)
		registerGlobalFlags(fs, f)
		registerInitFlags(fs, f)

		fs.Usage = func() {
			printSubcommandUsage(command, "Write a configuration file for a source/replica pair.", fs)
		}

		if err := fs.Parse(args[1:]); err != nil {
			return command, nil, err
		}
		flagMap, err := flagsToMap(fs, f)
		return command, flagMap, err

	case Run:
		fs := flag.NewFlagSet(command.String(), flag.ContinueOnError)
		registerGlobalFlags(fs, f)
		registerMirrorFlags(fs, f)

		fs.Usage = func() {
			printSubcommandUsage(command, "Mirror the source directory into the replica directory.", fs)
		}

		if err := fs.Parse(args[1:]); err != nil {
			return command, nil, err
		}
		flagMap, err := flagsToMap(fs, f)
		return command, flagMap, err

	case Version:
		return command, nil, nil

	default:
		return None, nil, fmt.Errorf("unknown command: %s", args[0])
	}
}

func flagsToMap(fs *flag.FlagSet, f *cliFlags) (map[string]any, error) {
	// Only flags explicitly set by the user end up in the map, so they can
	// selectively override the base configuration.
	usedFlags := make(map[string]bool)
	fs.Visit(func(f *flag.Flag) { usedFlags[f.Name] = true })

	flagMap := make(map[string]any)

	addIfUsed(flagMap, usedFlags, "log-level", f.LogLevel)
	addIfUsed(flagMap, usedFlags, "dry-run", f.DryRun)
	addIfUsed(flagMap, usedFlags, "metrics", f.Metrics)
	addIfUsed(flagMap, usedFlags, "config-dir", f.ConfigDir)

	addIfUsed(flagMap, usedFlags, "source", f.Source)
	addIfUsed(flagMap, usedFlags, "replica", f.Replica)
	addIfUsed(flagMap, usedFlags, "interval", f.IntervalSeconds)
	addIfUsed(flagMap, usedFlags, "amount", f.Amount)
	addIfUsed(flagMap, usedFlags, "log-file", f.LogFile)
	addIfUsed(flagMap, usedFlags, "log-max-size-mb", f.LogMaxSizeMB)
	addIfUsed(flagMap, usedFlags, "log-max-backups", f.LogMaxBackups)
	addIfUsed(flagMap, usedFlags, "log-compression", f.LogCompression)
	addIfUsed(flagMap, usedFlags, "hash", f.HashAlgorithm)
	addIfUsed(flagMap, usedFlags, "buffer-size-kb", f.BufferSizeKB)

	addIfUsed(flagMap, usedFlags, "force", f.Force)

	addParsedIfUsed(flagMap, usedFlags, "exclude-files", f.ExcludeFiles, ParseExcludeList)
	addParsedIfUsed(flagMap, usedFlags, "exclude-dirs", f.ExcludeDirs, ParseExcludeList)

	return flagMap, nil
}

// addIfUsed adds the value of ptr to flagMap if ptr is not nil and the flag was set.
func addIfUsed[T any](flagMap map[string]any, usedFlags map[string]bool, name string, ptr *T) {
	if ptr != nil && usedFlags[name] {
		flagMap[name] = *ptr
	}
}

// addParsedIfUsed adds the parsed value of ptr to flagMap if ptr is not nil and the flag was set.
func addParsedIfUsed(flagMap map[string]any, usedFlags map[string]bool, name string, ptr *string, parser func(string) []string) {
	if ptr != nil && usedFlags[name] {
		flagMap[name] = parser(*ptr)
	}
}

func printTopLevelUsage(fs *flag.FlagSet) {
	execName := filepath.Base(os.Args[0])
	fmt.Fprintf(fs.Output(), "%s(%s) ", buildinfo.Name, buildinfo.Version)
	fmt.Fprintf(fs.Output(), "A periodic one-way directory mirror.\n\n")
	fmt.Fprintf(fs.Output(), "Usage: %s <command> [flags]\n\n", execName)
	fmt.Fprintf(fs.Output(), "Commands:\n")
	fmt.Fprintf(fs.Output(), "  run         Mirror the source into the replica\n")
	fmt.Fprintf(fs.Output(), "  init        Initialize a new configuration\n")
	fmt.Fprintf(fs.Output(), "  version     Print the application version\n")
	fmt.Fprintf(fs.Output(), "\nRun '%s <command> -help' for more information on a command.\n", execName)
}

func printSubcommandUsage(command Command, desc string, fs *flag.FlagSet) {
	execName := filepath.Base(os.Args[0])
	fmt.Fprintf(fs.Output(), "%s(%s) ", buildinfo.Name, buildinfo.Version)
	fmt.Fprintf(fs.Output(), "A periodic one-way directory mirror.\n\n")
	fmt.Fprintf(fs.Output(), "Usage of the %s command: %s %s [flags]\n\n", command, execName, command)
	fmt.Fprintf(fs.Output(), "%s\n\n", desc)
	fmt.Fprintf(fs.Output(), "Flags:\n")
	fs.PrintDefaults()
}

// ParseExcludeList parses a comma-separated list of file or directory patterns.
// Quotes only group items containing commas or spaces and are removed.
// Backslashes are kept literally for Windows path compatibility.
func ParseExcludeList(s string) []string {
	var list []string
	var current strings.Builder
	var quoteChar rune

	appendItem := func() {
		trimmed := strings.TrimSpace(current.String())
		if trimmed != "" {
			list = append(list, trimmed)
		}
		current.Reset()
	}

	for _, r := range s {
		switch {
		case r == '\'' || r == '"':
			switch quoteChar {
			case 0:
				quoteChar = r
			case r:
				quoteChar = 0
			default:
				current.WriteRune(r) // A different quote inside a quoted section is literal.
			}
		case r == ',' && quoteChar == 0:
			appendItem()
		default:
			current.WriteRune(r)
		}
	}
	appendItem()
	return list
}
