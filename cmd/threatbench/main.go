package main

import (
	"fmt"
	"log"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"threatbench/config"
	"threatbench/internal/logger"
)

var (
	configArg string
	cfg       *config.Config

	rootCmd = &cobra.Command{
		Use:           "threatbench",
		Short:         "Build investigation graphs, generate tasks and run agents against them",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return loadConfig()
		},
	}
)

func findConfigFile(configArg string) string {
	if configArg != "" {
		path := configArg
		if _, err := os.Stat(path); err == nil {
			return path
		}
		log.Printf("Warning: config file not found at %s, trying default locations", path)
	}

	if _, err := os.Stat("threatbench.yml"); err == nil {
		return "threatbench.yml"
	}

	exePath, err := os.Executable()
	if err == nil {
		exeDir := filepath.Dir(exePath)
		path := filepath.Join(exeDir, "threatbench.yml")
		if _, err := os.Stat(path); err == nil {
			return path
		}
	}

	return ""
}

// loadConfig reads the config file when one exists. Without a file every
// setting takes its default.
func loadConfig() error {
	path := findConfigFile(configArg)
	if path == "" {
		cfg = &config.Config{}
	} else {
		loaded, err := config.LoadConfig(path)
		if err != nil {
			return fmt.Errorf("failed to load config: %w", err)
		}
		cfg = loaded
	}
	config.ApplyDefaults(cfg)
	if err := config.Validate(cfg); err != nil {
		return err
	}

	lc := cfg.ThreatBench.Logging
	if err := logger.Init(lc.Enabled, lc.Level, lc.File, lc.Console); err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	if path != "" {
		logger.Infof("Config loaded from: %s", path)
	}
	return nil
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configArg, "config", "c", "", "path to threatbench.yml")
	rootCmd.AddCommand(synthCmd, loadLogsCmd, buildGraphCmd, sampleCmd, generateQACmd, runCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}
