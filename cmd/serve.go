package cmd

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"onebridge/pkg/gateway"
	"onebridge/pkg/logger"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the bridge server",
	Long:  "Listens for the gateway's reverse WebSocket connection and serves health and readiness endpoints.",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}

		appLogger, err := logger.New(cfg.Logging)
		if err != nil {
			return fmt.Errorf("initialize logger: %w", err)
		}
		slog.SetDefault(appLogger)
		log := logger.Component(appLogger, "cmd.serve")

		pipeline, err := gateway.NewPipeline(cfg, appLogger)
		if err != nil {
			log.Error("Failed to initialize pipeline", "error", err)
			return err
		}
		defer func() {
			if err := pipeline.Close(); err != nil {
				log.Warn("Pipeline close failed", "error", err)
			}
		}()

		svc, err := gateway.NewService(cfg, pipeline, appLogger)
		if err != nil {
			log.Error("Failed to initialize bridge service", "error", err)
			return err
		}

		runCtx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		log.Info("Bridge started",
			"addr", cfg.Listener.Addr(),
			"path", pipeline.Router.Path(),
			"provider", cfg.Backend.Provider,
			"model", cfg.Backend.Model,
			"plugins", cfg.Plugins.Enabled,
		)
		if err := svc.Run(runCtx); err != nil && !errors.Is(err, context.Canceled) {
			log.Error("Bridge runtime failed", "error", err)
			return err
		}

		log.Info("Bridge stopped")
		return nil
	},
}

func init() {
	rootCmd.AddCommand(serveCmd)
}
