package config

import (
	"errors"
	"os"
	"path/filepath"
	"slices"
	"testing"

	"github.com/paulschiretz/pgl-mirror/pkg/buildinfo"
	"github.com/paulschiretz/pgl-mirror/pkg/fingerprint"
	"github.com/paulschiretz/pgl-mirror/pkg/flagparse"
	"github.com/paulschiretz/pgl-mirror/pkg/logfile"
)

func TestConfig_Validate(t *testing.T) {
	newValidConfig := func(t *testing.T) Config {
		cfg := NewDefault()
		cfg.Source = t.TempDir()
		cfg.Replica = filepath.Join(t.TempDir(), "replica")
		return cfg
	}

	t.Run("Valid Config", func(t *testing.T) {
		cfg := newValidConfig(t)
		if err := cfg.Validate(); err != nil {
			t.Errorf("expected valid config to pass validation, but got error: %v", err)
		}
		if !filepath.IsAbs(cfg.Log.Path) {
			t.Errorf("expected log path to be made absolute, got %q", cfg.Log.Path)
		}
	})

	t.Run("Relative Paths Are Made Absolute", func(t *testing.T) {
		cfg := newValidConfig(t)
		cfg.Source = "src"
		cfg.Replica = "./dst/../replica"
		if err := cfg.Validate(); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		wd, _ := os.Getwd()
		if cfg.Source != filepath.Join(wd, "src") {
			t.Errorf("expected source %q, got %q", filepath.Join(wd, "src"), cfg.Source)
		}
		if cfg.Replica != filepath.Join(wd, "replica") {
			t.Errorf("expected replica %q, got %q", filepath.Join(wd, "replica"), cfg.Replica)
		}
	})

	t.Run("Empty Log Path Falls Back To Default", func(t *testing.T) {
		cfg := newValidConfig(t)
		cfg.Log.Path = ""
		if err := cfg.Validate(); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if filepath.Base(cfg.Log.Path) != DefaultLogFileName {
			t.Errorf("expected default log file name, got %q", cfg.Log.Path)
		}
	})

	testCases := []struct {
		name  string
		field string
		edit  func(*Config)
	}{
		{"Empty Source Path", "source", func(c *Config) { c.Source = "" }},
		{"Empty Replica Path", "replica", func(c *Config) { c.Replica = "" }},
		{"Negative Interval", "intervalSeconds", func(c *Config) { c.IntervalSeconds = -1 }},
		{"Negative Amount", "amount", func(c *Config) { c.Amount = -3 }},
		{"Unknown Log Level", "logLevel", func(c *Config) { c.LogLevel = "verbose" }},
		{"Negative Log Size", "log.maxSizeMB", func(c *Config) { c.Log.MaxSizeMB = -1 }},
		{"Negative Log Backups", "log.maxBackups", func(c *Config) { c.Log.MaxBackups = -2 }},
		{"Zero Buffer Size", "mirror.bufferSizeKB", func(c *Config) { c.Mirror.BufferSizeKB = 0 }},
		{"Invalid File Glob", "mirror.excludeFiles", func(c *Config) { c.Mirror.ExcludeFiles = []string{`\`} }},
		{"Invalid Dir Glob", "mirror.excludeDirs", func(c *Config) { c.Mirror.ExcludeDirs = []string{"cache", `\`} }},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := newValidConfig(t)
			tc.edit(&cfg)
			err := cfg.Validate()
			var argErr *ArgumentError
			if !errors.As(err, &argErr) {
				t.Fatalf("expected *ArgumentError, got %v", err)
			}
			if argErr.Field != tc.field {
				t.Errorf("expected field %q, got %q", tc.field, argErr.Field)
			}
		})
	}

	t.Run("Zero Interval And Amount Are Valid", func(t *testing.T) {
		cfg := newValidConfig(t)
		cfg.IntervalSeconds = 0
		cfg.Amount = 0
		if err := cfg.Validate(); err != nil {
			t.Errorf("expected zero interval and amount to be valid, got %v", err)
		}
	})
}

func TestLoad(t *testing.T) {
	t.Run("Missing File Returns Defaults", func(t *testing.T) {
		dir := t.TempDir()
		cfg, err := Load(dir)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if cfg.IntervalSeconds != NewDefault().IntervalSeconds {
			t.Errorf("expected default interval, got %d", cfg.IntervalSeconds)
		}
		if cfg.Runtime.ConfigDir != dir {
			t.Errorf("expected config dir %q, got %q", dir, cfg.Runtime.ConfigDir)
		}
	})

	t.Run("Partial File Keeps Defaults", func(t *testing.T) {
		dir := t.TempDir()
		content := `{"source": "/data", "amount": 7, "mirror": {"hashAlgorithm": "blake2b"}}`
		if err := os.WriteFile(filepath.Join(dir, ConfigFileName), []byte(content), 0644); err != nil {
			t.Fatalf("failed to write config: %v", err)
		}

		cfg, err := Load(dir)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if cfg.Source != "/data" || cfg.Amount != 7 {
			t.Errorf("expected file values to be loaded, got source=%q amount=%d", cfg.Source, cfg.Amount)
		}
		if cfg.Mirror.HashAlgorithm != fingerprint.BLAKE2b {
			t.Errorf("expected blake2b, got %v", cfg.Mirror.HashAlgorithm)
		}
		def := NewDefault()
		if cfg.Mirror.BufferSizeKB != def.Mirror.BufferSizeKB || cfg.Log.RotateCompression != def.Log.RotateCompression {
			t.Errorf("expected defaults for missing fields, got %+v", cfg)
		}
	})

	t.Run("Malformed File", func(t *testing.T) {
		dir := t.TempDir()
		if err := os.WriteFile(filepath.Join(dir, ConfigFileName), []byte("{not json"), 0644); err != nil {
			t.Fatalf("failed to write config: %v", err)
		}
		if _, err := Load(dir); err == nil {
			t.Error("expected error for malformed config file")
		}
	})

	t.Run("Unknown Hash Algorithm", func(t *testing.T) {
		dir := t.TempDir()
		content := `{"mirror": {"hashAlgorithm": "crc32"}}`
		if err := os.WriteFile(filepath.Join(dir, ConfigFileName), []byte(content), 0644); err != nil {
			t.Fatalf("failed to write config: %v", err)
		}
		if _, err := Load(dir); err == nil {
			t.Error("expected error for unknown hash algorithm")
		}
	})

	t.Run("Version Is Overridden", func(t *testing.T) {
		dir := t.TempDir()
		if err := os.WriteFile(filepath.Join(dir, ConfigFileName), []byte(`{"version": "0.0.1"}`), 0644); err != nil {
			t.Fatalf("failed to write config: %v", err)
		}
		cfg, err := Load(dir)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if cfg.Version != buildinfo.Version {
			t.Errorf("expected version %q, got %q", buildinfo.Version, cfg.Version)
		}
	})
}

func TestGenerate(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "nested")
	cfg := NewDefault()
	cfg.Runtime.ConfigDir = dir
	cfg.Source = "/src"
	cfg.Replica = "/dst"
	cfg.Mirror.HashAlgorithm = fingerprint.MD5
	cfg.Log.RotateCompression = logfile.Zstd
	cfg.Runtime.DryRun = true

	if err := Generate(cfg); err != nil {
		t.Fatalf("Generate failed: %v", err)
	}

	loaded, err := Load(dir)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if loaded.Source != "/src" || loaded.Replica != "/dst" {
		t.Errorf("paths not persisted: %+v", loaded)
	}
	if loaded.Mirror.HashAlgorithm != fingerprint.MD5 || loaded.Log.RotateCompression != logfile.Zstd {
		t.Errorf("enums not persisted: hash=%v compression=%v", loaded.Mirror.HashAlgorithm, loaded.Log.RotateCompression)
	}
	if loaded.Runtime.DryRun {
		t.Error("runtime settings must never be written to the config file")
	}
}

func TestMergeConfigWithFlags(t *testing.T) {
	t.Run("Overrides Only Set Flags", func(t *testing.T) {
		base := NewDefault()
		base.Source = "/from-file"
		base.Replica = "/replica-from-file"

		setFlags := map[string]any{
			"source":          "/from-flag",
			"interval":        5,
			"amount":          0,
			"dry-run":         true,
			"hash":            "md5",
			"log-compression": "zstd",
			"exclude-files":   []string{"*.tmp"},
		}

		merged, err := MergeConfigWithFlags(flagparse.Run, base, setFlags)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if merged.Source != "/from-flag" {
			t.Errorf("expected source from flag, got %q", merged.Source)
		}
		if merged.Replica != "/replica-from-file" {
			t.Errorf("expected replica from base, got %q", merged.Replica)
		}
		if merged.IntervalSeconds != 5 || merged.Amount != 0 {
			t.Errorf("unexpected schedule: interval=%d amount=%d", merged.IntervalSeconds, merged.Amount)
		}
		if !merged.Runtime.DryRun {
			t.Error("expected dry run to be enabled")
		}
		if merged.Mirror.HashAlgorithm != fingerprint.MD5 || merged.Log.RotateCompression != logfile.Zstd {
			t.Errorf("unexpected enums: hash=%v compression=%v", merged.Mirror.HashAlgorithm, merged.Log.RotateCompression)
		}
		if !slices.Equal(merged.Mirror.ExcludeFiles, []string{"*.tmp"}) {
			t.Errorf("unexpected exclude files: %v", merged.Mirror.ExcludeFiles)
		}
	})

	t.Run("Bad Enum Values", func(t *testing.T) {
		_, err := MergeConfigWithFlags(flagparse.Run, NewDefault(), map[string]any{"hash": "crc32"})
		var argErr *ArgumentError
		if !errors.As(err, &argErr) || argErr.Field != "hash" {
			t.Errorf("expected ArgumentError for hash, got %v", err)
		}
	})
}

func TestExcludePatternsAreDeduplicated(t *testing.T) {
	cfg := NewDefault()
	cfg.Mirror.ExcludeFiles = []string{"*.tmp", "*.bak", "*.tmp"}
	if got := cfg.ExcludeFiles(); !slices.Equal(got, []string{"*.bak", "*.tmp"}) {
		t.Errorf("unexpected exclude files: %v", got)
	}
}
