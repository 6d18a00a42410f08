package cmd

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"golang.org/x/sync/errgroup"

	"github.com/fourdrec/fourdrec/internal/bus"
	"github.com/fourdrec/fourdrec/internal/config"
	"github.com/fourdrec/fourdrec/internal/database"
	"github.com/fourdrec/fourdrec/internal/farm"
	"github.com/fourdrec/fourdrec/internal/library"
	"github.com/fourdrec/fourdrec/internal/maintenance"
	"github.com/fourdrec/fourdrec/internal/master"
	"github.com/fourdrec/fourdrec/internal/repository"
	"github.com/fourdrec/fourdrec/internal/storage"
	"github.com/fourdrec/fourdrec/internal/version"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the fourdrec master",
	Long: `Start the fourdrec master service.

The master:
- listens on the control bus for capture nodes
- tracks camera health and drives shot recording
- owns the project/shot/job store under the submit root
- polls the render farm for resolve progress
- sweeps stale staging files on a schedule`,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)

	serveCmd.Flags().String("host", "0.0.0.0", "Host the control bus binds to")
	serveCmd.Flags().Int("port", 18868, "Port the control bus listens on")
	serveCmd.Flags().String("database", "fourdrec.db", "Entity store file path")
	serveCmd.Flags().String("submit-root", "./data", "Submit root holding the project folders")
}

// applyServeFlags overlays explicitly-set serve flags onto the loaded
// config. Like the log flags, they are not bound to viper, so priority
// stays flag > env > config > default.
func applyServeFlags(flags *pflag.FlagSet, cfg *config.Config) {
	if flags.Changed("host") {
		cfg.Bus.Host, _ = flags.GetString("host")
	}
	if flags.Changed("port") {
		cfg.Bus.Port, _ = flags.GetInt("port")
	}
	if flags.Changed("database") {
		cfg.Database.DSN, _ = flags.GetString("database")
	}
	if flags.Changed("submit-root") {
		cfg.Storage.SubmitRoot, _ = flags.GetString("submit-root")
	}
}

func runServe(cmd *cobra.Command, _ []string) error {
	logger := slog.Default()

	cfg, err := config.Load(cfgFile)
	if err != nil {
		return err
	}
	applyServeFlags(cmd.Flags(), cfg)

	db, err := database.New(cfg.Database, logger, nil)
	if err != nil {
		return fmt.Errorf("opening entity store: %w", err)
	}
	defer db.Close()
	if err := db.Migrate(); err != nil {
		return fmt.Errorf("migrating entity store: %w", err)
	}

	sandbox, err := storage.NewSandbox(cfg.Storage.SubmitRoot)
	if err != nil {
		return fmt.Errorf("opening submit root: %w", err)
	}

	lib := library.New(
		repository.NewProjectRepository(db.DB),
		repository.NewShotRepository(db.DB),
		repository.NewJobRepository(db.DB),
		sandbox,
		logger,
	)

	farmDriver, err := newFarmDriver(cfg.Farm)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	hub := bus.NewHub(cfg.Bus, logger)
	if err := hub.Start(ctx); err != nil {
		return err
	}
	// Close broadcasts MASTER_DOWN so slaves exit cleanly.
	defer hub.Close()

	poller := farm.NewPoller(lib, farmDriver, cfg.Farm, logger)
	if err := poller.Start(ctx); err != nil {
		return err
	}
	defer poller.Stop()

	if cfg.Maintenance.Enabled {
		sweeper, err := maintenance.NewSweeper(lib, cfg.Maintenance, logger)
		if err != nil {
			return err
		}
		if err := sweeper.Start(ctx); err != nil {
			return err
		}
		defer sweeper.Stop()
	}

	core := master.NewCore(cfg, hub, lib, logger)

	logger.Info("fourdrec master starting",
		slog.String("version", version.Version),
		slog.String("bus", hub.Addr()),
		slog.String("submit_root", sandbox.BaseDir()),
		slog.String("farm_driver", cfg.Farm.Driver),
	)

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return core.Run(ctx) })

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	logger.Info("fourdrec master stopped")
	return nil
}

// newFarmDriver maps the configured driver name to a farm binding.
func newFarmDriver(cfg config.FarmConfig) (farm.Driver, error) {
	switch cfg.Driver {
	case "simulated":
		return farm.NewFakeFarm(), nil
	default:
		return nil, fmt.Errorf("unknown farm.driver %q (available: simulated)", cfg.Driver)
	}
}
