package cmd

import (
	"fmt"
	"io"
	"log/slog"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/fourdrec/fourdrec/internal/config"
	"github.com/fourdrec/fourdrec/internal/farm"
	"github.com/fourdrec/fourdrec/internal/observability"
	"github.com/fourdrec/fourdrec/internal/resolve"
	"github.com/fourdrec/fourdrec/internal/version"
)

var (
	frame         int
	resolveStage  string
	yamlPath      string
	extraSettings string
	debug         bool
	engineName    string
)

// rootCmd is the whole CLI. The farm plugin invokes one stage per task, so
// there are no subcommands.
var rootCmd = &cobra.Command{
	Use:     "fourdrec-resolve",
	Short:   "Farm-side resolve stage runner",
	Version: version.Short(),
	Long: `fourdrec-resolve runs one stage of a resolve chain inside a render
farm task. The farm plugin passes the stage, the frame and the job sheet on
the command line; everything else (paths, reconstruction settings) comes from
the sheet the master wrote at submission time.

A non-zero exit marks the farm task failed and the poller flips the job to
its FAILED state on the next poll.`,
	SilenceUsage: true,
	RunE: func(cmd *cobra.Command, _ []string) error {
		return runStage(cmd)
	},
}

// Execute runs the stage runner CLI.
func Execute() error {
	if err := rootCmd.Execute(); err != nil {
		return fmt.Errorf("executing root command: %w", err)
	}
	return nil
}

func init() {
	// Flag names use underscores to match the keys the submitter writes
	// into the farm batch ExtraInfo.
	rootCmd.Flags().IntVar(&frame, "frame", 0, "farm-relative frame number for per-frame stages")
	rootCmd.Flags().StringVar(&resolveStage, farm.ExtraKeyStage, "", "stage to run (initialize, resolve, conversion, export)")
	rootCmd.Flags().StringVar(&yamlPath, farm.ExtraKeySheetPath, "", "path to the job sheet written at submission")
	rootCmd.Flags().StringVar(&extraSettings, "extra_settings", "", "JSON object of per-run setting overrides")
	rootCmd.Flags().BoolVar(&debug, "debug", false, "log at debug level")
	rootCmd.Flags().StringVar(&engineName, "engine", "simulated", "photogrammetry engine binding")

	cobra.CheckErr(rootCmd.MarkFlagRequired(farm.ExtraKeyStage))
	cobra.CheckErr(rootCmd.MarkFlagRequired(farm.ExtraKeySheetPath))
}

func runStage(cmd *cobra.Command) error {
	level := "info"
	if debug {
		level = "debug"
	}
	// Text format: the farm wrapper captures the task log verbatim and
	// shows it to operators, JSON would be unreadable there.
	logger := observability.NewLoggerWithWriter(config.LoggingConfig{
		Level:  level,
		Format: "text",
	}, cmd.OutOrStdout())
	logger = observability.WithApp(logger, "fourdrec-resolve")
	observability.SetDefault(logger)

	engine, err := newEngine(engineName)
	if err != nil {
		return err
	}

	// SIGTERM is how the farm requeues a running task.
	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	runner := resolve.NewRunner(engine, logEvents(logger, cmd.OutOrStdout()), logger)
	return runner.Run(ctx, resolve.Request{
		Stage:         farm.Stage(resolveStage),
		Frame:         frame,
		SheetPath:     yamlPath,
		ExtraSettings: extraSettings,
	})
}

func newEngine(name string) (resolve.Engine, error) {
	switch name {
	case "simulated":
		return resolve.NewFakeEngine(), nil
	default:
		return nil, fmt.Errorf("unknown engine %q (available: simulated)", name)
	}
}

// logEvents turns runner events into task log lines. Raw engine output
// passes through unwrapped, everything else goes through the logger.
func logEvents(logger *slog.Logger, stdout io.Writer) resolve.Callback {
	return func(ev resolve.Event) {
		switch ev.Kind {
		case resolve.EventLogStdout:
			fmt.Fprintln(stdout, ev.Message)
		case resolve.EventLogWarning:
			logger.Warn(ev.Message)
		case resolve.EventFail:
			logger.Error(ev.Message)
		case resolve.EventProgress:
			logger.Info("progress", "percent", ev.Percent)
		case resolve.EventNotification:
			logger.Info(ev.Title, "notification", true)
		case resolve.EventComplete:
			logger.Info("stage complete")
		default:
			logger.Info(ev.Message)
		}
	}
}
