package cmd

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/paulschiretz/pgl-mirror/pkg/buildinfo"
	"github.com/paulschiretz/pgl-mirror/pkg/config"
	"github.com/paulschiretz/pgl-mirror/pkg/flagparse"
	"github.com/paulschiretz/pgl-mirror/pkg/plog"
	"github.com/paulschiretz/pgl-mirror/pkg/preflight"
	"github.com/paulschiretz/pgl-mirror/pkg/util"
)

// RunInit handles the logic for the 'init' command.
func RunInit(ctx context.Context, flagMap map[string]any) error {
	configDir := "."
	if dir, ok := flagMap["config-dir"].(string); ok && dir != "" {
		configDir = dir
	}
	absConfigDir, err := util.AbsPath(configDir)
	if err != nil {
		return err
	}

	force := false
	if f, ok := flagMap["force"]; ok {
		force = f.(bool)
	}

	configPath := filepath.Join(absConfigDir, config.ConfigFileName)
	if _, err := os.Stat(configPath); err == nil && !force {
		fmt.Printf("WARNING: Configuration file already exists at %s.\n", configPath)
		fmt.Printf("Settings given as flags will overwrite the stored values.\n")
		if !PromptForConfirmation("Are you sure you want to continue?", false) {
			plog.Info(buildinfo.Name + " init operation canceled.")
			return nil
		}
	}

	// Load the existing config to preserve settings.
	// Note: config.Load returns NewDefault() if the file simply doesn't exist.
	baseConfig, err := config.Load(absConfigDir)
	if err != nil {
		plog.Warn("Could not load existing configuration, starting with defaults.", "reason", err)
		baseConfig = config.NewDefault()
		baseConfig.Runtime.ConfigDir = absConfigDir
	}

	runConfig, err := config.MergeConfigWithFlags(flagparse.Init, baseConfig, flagMap)
	if err != nil {
		return err
	}

	// CRITICAL: Validate the config before it is written
	if err := runConfig.Validate(); err != nil {
		return err
	}

	startTime := time.Now()

	validator := preflight.NewValidator()
	pfPlan := &preflight.Plan{
		SourceAccessible:  true,
		ReplicaAccessible: true,
		PathNesting:       true,
		LogFile:           runConfig.Log.Path,
		DryRun:            runConfig.Runtime.DryRun,
	}
	if err := validator.Run(ctx, runConfig.Source, runConfig.Replica, pfPlan); err != nil {
		return fmt.Errorf("initialization preflight failed: %w", err)
	}

	if runConfig.Runtime.DryRun {
		plog.Info("[DRY RUN] Initialization complete. No changes made.", "path", runConfig.Path())
		return nil
	}

	if err := config.Generate(runConfig); err != nil {
		return fmt.Errorf("failed to generate config file: %w", err)
	}

	duration := time.Since(startTime).Round(time.Millisecond)
	plog.Info(buildinfo.Name+" configuration successfully initialized.", "duration", duration)
	return nil
}

// PromptForConfirmation prompts the user for a yes/no response.
func PromptForConfirmation(prompt string, defaultYes bool) bool {
	suffix := "[y/N]"
	if defaultYes {
		suffix = "[Y/n]"
	}
	fmt.Printf("%s %s: ", prompt, suffix)

	var response string
	_, _ = fmt.Scanln(&response)
	response = strings.ToLower(strings.TrimSpace(response))

	if response == "" {
		return defaultYes
	}
	return response == "y" || response == "yes"
}
