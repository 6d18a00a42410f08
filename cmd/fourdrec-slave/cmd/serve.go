package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/fourdrec/fourdrec/internal/bus"
	"github.com/fourdrec/fourdrec/internal/camera"
	"github.com/fourdrec/fourdrec/internal/config"
	"github.com/fourdrec/fourdrec/internal/slave"
	"github.com/fourdrec/fourdrec/internal/version"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the capture node daemon",
	Long: `Start the fourdrec-slave capture daemon.

The daemon:
1. Looks up this hostname in the slave.topology map
2. Opens the assigned cameras, power-cycling the bus until all appear
3. Connects to the master and streams camera status
4. Records shots to the local record drives and submits frames on request

Exit code 4813 asks the respawn wrapper for a clean restart.`,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)

	serveCmd.Flags().String("hostname", "", "topology hostname (defaults to the OS hostname)")
	serveCmd.Flags().String("master", "", "master bus address (overrides bus.host:bus.port)")
}

func runServe(cmd *cobra.Command, _ []string) error {
	logger := slog.Default()

	cfg, err := config.Load(cfgFile)
	if err != nil {
		return err
	}

	hostname, _ := cmd.Flags().GetString("hostname")
	if hostname == "" {
		hostname, err = os.Hostname()
		if err != nil {
			return fmt.Errorf("resolving hostname: %w", err)
		}
	}

	serials, err := cfg.Slave.ExpectedCameras(hostname)
	if err != nil {
		return err
	}

	factory, err := newCameraFactory(cfg.Slave, serials)
	if err != nil {
		return err
	}

	addr := cfg.Bus.DialAddr()
	if override, _ := cmd.Flags().GetString("master"); override != "" {
		addr = override
	}
	client := bus.NewClient(addr, hostname, cfg.Bus.DialTimeout, logger)
	defer client.Close()

	supervisor, err := slave.NewSupervisor(cfg, hostname, factory, client, logger)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	logger.Info("fourdrec-slave starting",
		slog.String("version", version.Version),
		slog.String("hostname", hostname),
		slog.String("master", addr),
		slog.Int("cameras", len(serials)),
		slog.String("camera_driver", cfg.Slave.Driver),
	)

	return supervisor.Run(ctx)
}

// newCameraFactory maps the configured driver name to a camera factory. The
// fake factory starts with every expected serial attached.
func newCameraFactory(cfg config.SlaveConfig, serials []string) (camera.Factory, error) {
	switch cfg.Driver {
	case "fake":
		return camera.NewFakeFactory(serials...), nil
	default:
		return nil, fmt.Errorf("unknown slave.driver %q (available: fake)", cfg.Driver)
	}
}
