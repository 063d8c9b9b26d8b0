package commands

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/stock-sync/internal/app"
	"github.com/stock-sync/pkg/config"
	"github.com/stock-sync/pkg/logger"
)

var (
	serverPort int
	serverHost string
	logLevel   string
)

// serverCmd represents the server command
var serverCmd = &cobra.Command{
	Use:   "server",
	Short: "Run the sync daemon",
	Long: `Start the synchronization daemon.

The daemon runs full syncs on the configured cron schedule and exposes
a REST API for triggering runs and inspecting progress.

Examples:
  stock-sync server                    # Start with default settings
  stock-sync server --port 9090        # Start on custom port
  stock-sync server --log-level debug  # Enable debug logging`,
	RunE: runServer,
}

func init() {
	rootCmd.AddCommand(serverCmd)

	serverCmd.Flags().IntVarP(&serverPort, "port", "p", 0, "Server port")
	serverCmd.Flags().StringVarP(&serverHost, "host", "H", "", "Server host")
	serverCmd.Flags().StringVarP(&logLevel, "log-level", "l", "", "Log level (debug, info, warn, error)")
}

func runServer(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	// Override config with command line flags if provided
	if serverHost != "" {
		cfg.Server.Host = serverHost
	}
	if serverPort != 0 {
		cfg.Server.Port = serverPort
	}
	if logLevel != "" {
		cfg.Logging.Level = logLevel
	}

	log, err := logger.New(&cfg.Logging)
	if err != nil {
		return fmt.Errorf("failed to create logger: %w", err)
	}
	log.Info("Starting sync daemon")

	application := app.New(cfg, log)

	if err := application.Initialize(); err != nil {
		log.WithError(err).Error("Failed to initialize application")
		return err
	}

	if err := application.Start(); err != nil {
		log.WithError(err).Error("Failed to start application")
		return err
	}

	// Wait for interrupt signal
	interrupt := make(chan os.Signal, 1)
	signal.Notify(interrupt, os.Interrupt, syscall.SIGTERM, syscall.SIGQUIT)

	sig := <-interrupt
	log.WithField("signal", sig.String()).Info("Shutdown signal received")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	shutdownComplete := make(chan struct{})
	go func() {
		if err := application.Stop(); err != nil {
			log.WithError(err).Error("Application shutdown error")
		}
		close(shutdownComplete)
	}()

	select {
	case <-shutdownComplete:
		log.Info("Application shutdown complete")
	case <-shutdownCtx.Done():
		log.Warn("Shutdown timeout, forcing exit")
		os.Exit(1)
	}

	return nil
}
