package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"floodwatch/internal/app"
	"floodwatch/internal/config"
	"floodwatch/internal/logging"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var (
	configPath string
	logLevel   string

	rootCmd = &cobra.Command{
		Use:           "floodwatch",
		Short:         "Offline-first flood zone monitoring agent",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	runCmd = &cobra.Command{
		Use:   "run",
		Short: "Monitor flood zones and serve the local API until interrupted",
		Args:  cobra.NoArgs,
		RunE:  runServe,
	}

	syncCmd = &cobra.Command{
		Use:   "sync",
		Short: "Replay queued mutations and push unsynced reports once",
		Args:  cobra.NoArgs,
		RunE:  runSync,
	}

	statusCmd = &cobra.Command{
		Use:   "status",
		Short: "Show connectivity and offline queue state",
		Args:  cobra.NoArgs,
		RunE:  runStatus,
	}

	retryCmd = &cobra.Command{
		Use:   "retry [mutation id]",
		Short: "Re-enqueue a permanently failed mutation",
		Args:  cobra.ExactArgs(1),
		RunE:  runRetry,
	}

	exportCmd = &cobra.Command{
		Use:   "export-zones",
		Short: "Write the cached flood zones to stdout as GeoJSON",
		Args:  cobra.NoArgs,
		RunE:  runExport,
	}

	importCmd = &cobra.Command{
		Use:   "import-zones [file.osm.pbf]",
		Short: "Import flood-prone areas from an OpenStreetMap extract",
		Args:  cobra.ExactArgs(1),
		RunE:  runImport,
	}
)

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "config file (default ./floodwatch.yaml)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "override log.level")

	rootCmd.AddCommand(runCmd, syncCmd, statusCmd, retryCmd, importCmd, exportCmd)
}

// openApp loads the configuration and builds the app; the returned func
// closes the app and flushes the logger
func openApp(ctx context.Context) (*app.App, func(), error) {
	cfg, err := config.LoadConfig(configPath)
	if err != nil {
		return nil, nil, err
	}
	if logLevel != "" {
		cfg.Log.Level = logLevel
	}

	logger, closeLog, err := logging.New(cfg.Log.Level, cfg.Log.File)
	if err != nil {
		return nil, nil, err
	}

	a, err := app.Open(ctx, cfg, logger)
	if err != nil {
		closeLog()
		return nil, nil, err
	}
	return a, func() {
		if err := a.Close(); err != nil {
			logger.Warn("Failed to close app", zap.Error(err))
		}
		closeLog()
	}, nil
}

func runServe(cmd *cobra.Command, _ []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, closeApp, err := openApp(ctx)
	if err != nil {
		return err
	}
	defer closeApp()

	a.Logger.Info("Floodwatch starting", zap.String("version", app.Version))
	if err := a.Run(ctx); err != nil {
		return fmt.Errorf("floodwatch stopped: %w", err)
	}
	a.Logger.Info("Floodwatch stopped")
	return nil
}
