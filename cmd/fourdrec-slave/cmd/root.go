// Package cmd implements the CLI commands for fourdrec-slave.
package cmd

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/fourdrec/fourdrec/internal/config"
	"github.com/fourdrec/fourdrec/internal/observability"
	"github.com/fourdrec/fourdrec/internal/version"
)

// slaveViper is a separate viper instance so the daemon's bootstrap reads
// never collide with the master's global viper in shared test binaries.
var slaveViper = viper.New()

// cfgFile holds the config file path from the CLI flag.
var cfgFile string

var rootCmd = &cobra.Command{
	Use:     "fourdrec-slave",
	Short:   "Capture node daemon for fourdrec",
	Version: version.Short(),
	Long: `fourdrec-slave drives the cameras of one capture node.

On startup it looks up its hostname in the topology map, opens the assigned
cameras, and connects to the master over the control bus. It then streams
camera status and live view, records shots to the local record drives, and
submits shot frames to the shared submit root on request.

The process exits with code 4813 when the master orders a restart; the
external respawn wrapper watches for that code.`,
}

// Execute runs the root command.
func Execute() error {
	if err := rootCmd.Execute(); err != nil {
		return fmt.Errorf("executing root command: %w", err)
	}
	return nil
}

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentPreRunE = func(_ *cobra.Command, _ []string) error {
		return initLogging()
	}

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default searches ., /etc/fourdrec, $HOME/.fourdrec)")
	rootCmd.PersistentFlags().String("log-level", "info", "log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().String("log-format", "json", "log format (text, json)")
}

// initConfig primes the slave viper for logging bootstrap. The serve command
// loads the full validated config separately.
func initConfig() {
	config.SetDefaults(slaveViper)

	if cfgFile != "" {
		slaveViper.SetConfigFile(cfgFile)
	} else {
		slaveViper.SetConfigName("config")
		slaveViper.SetConfigType("yaml")
		slaveViper.AddConfigPath(".")
		slaveViper.AddConfigPath("/etc/fourdrec")
		slaveViper.AddConfigPath("$HOME/.fourdrec")
	}

	slaveViper.SetEnvPrefix("FOURDREC")
	slaveViper.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	slaveViper.AutomaticEnv()

	if err := slaveViper.ReadInConfig(); err == nil {
		fmt.Fprintln(os.Stderr, "Using config file:", slaveViper.ConfigFileUsed())
	}
}

// initLogging configures the default slog logger, flag > env > config >
// default.
func initLogging() error {
	level := slaveViper.GetString("logging.level")
	format := slaveViper.GetString("logging.format")

	if rootCmd.PersistentFlags().Changed("log-level") {
		level, _ = rootCmd.PersistentFlags().GetString("log-level")
	}
	if rootCmd.PersistentFlags().Changed("log-format") {
		format, _ = rootCmd.PersistentFlags().GetString("log-format")
	}

	if level == "" {
		level = "info"
	}
	if format == "" {
		format = "json"
	}

	logCfg := config.LoggingConfig{
		Level:  strings.ToLower(level),
		Format: strings.ToLower(format),
	}
	if logCfg.Level == "warning" {
		logCfg.Level = "warn"
	}

	logger := observability.NewLoggerWithWriter(logCfg, os.Stderr)
	logger = observability.WithApp(logger, "fourdrec-slave")
	observability.SetDefault(logger)

	return nil
}
