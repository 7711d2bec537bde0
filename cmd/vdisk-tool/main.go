package main

import (
	"fmt"
	"os"

	"github.com/open-edge-platform/os-image-vdisk/internal/config"
	"github.com/open-edge-platform/os-image-vdisk/internal/utils/logger"
	"github.com/spf13/cobra"
)

// Global command flags
var (
	configFile string // Path to the configuration file
	logLevel   string // Overrides log_level from the configuration
	verbose    bool   // Shorthand for --log-level debug
)

// cfg is the effective configuration, loaded before any subcommand runs.
var cfg = config.DefaultConfig()

func main() {
	rootCmd := createRootCommand()
	err := rootCmd.Execute()
	logger.Sync()
	if err != nil {
		os.Exit(1)
	}
}

// createRootCommand creates the vdisk-tool root command with all subcommands
func createRootCommand() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "vdisk-tool",
		Short: "builds and exercises chunk-mapped virtual disks",
		Long: `vdisk-tool builds the chain blob that maps an image file stored
on a FAT partition onto the sectors it occupies, and reads the resulting
virtual disk through the same BIOS INT 13h and UEFI Block I/O front ends the
boot-time firmware hooks use.`,
		SilenceUsage:      true,
		PersistentPreRunE: initConfig,
	}

	rootCmd.PersistentFlags().StringVar(&configFile, "config", "",
		"Path to a YAML configuration file")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "",
		"Log level: debug, info, warn or error (overrides the configuration)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false,
		"Enable debug logging")

	rootCmd.AddCommand(createBuildCommand())
	rootCmd.AddCommand(createInspectCommand())
	rootCmd.AddCommand(createReadCommand())
	rootCmd.AddCommand(createVerifyCommand())
	rootCmd.AddCommand(createValidateCommand())

	return rootCmd
}

// initConfig loads the configuration file, if any, and applies the log level.
func initConfig(cmd *cobra.Command, args []string) error {
	loaded := config.DefaultConfig()
	if configFile != "" {
		c, err := config.Load(configFile)
		if err != nil {
			return err
		}
		loaded = c
	}

	level := loaded.LogLevel
	if logLevel != "" {
		level = logLevel
	}
	if verbose {
		level = "debug"
	}
	if err := logger.SetLogLevel(level); err != nil {
		return err
	}
	cfg = loaded
	logger.Logger().Debugf("configuration: %+v", cfg)
	return nil
}

// fileCompletion completes positional arguments with file names.
func fileCompletion(cmd *cobra.Command, args []string, toComplete string) ([]string, cobra.ShellCompDirective) {
	return nil, cobra.ShellCompDirectiveDefault
}

// usageError wraps a bad invocation.
func usageError(format string, args ...any) error {
	return fmt.Errorf("invalid arguments: "+format, args...)
}
