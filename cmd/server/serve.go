package main

import (
	"context"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/aura-vibe/queue-sync/internal/config"
	"github.com/aura-vibe/queue-sync/internal/server"
	"github.com/aura-vibe/queue-sync/pkg/logger"
)

var (
	servePort    string
	serveEnvFile string
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP and websocket server",
	RunE: func(cmd *cobra.Command, args []string) error {
		var files []string
		if serveEnvFile != "" {
			files = append(files, serveEnvFile)
		}
		cfg, loaded := config.Load(files...)
		if servePort != "" {
			cfg.Port = servePort
		}

		logger.InitLogger(cfg.Log)
		defer logger.Sync()
		if !loaded {
			logger.Warn("no .env file loaded, using environment and defaults")
		}

		srv, err := server.New(cfg)
		if err != nil {
			logger.Error("failed to initialise server", logger.ErrorField(err))
			return err
		}

		ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		if err := srv.Run(ctx); err != nil {
			logger.Error("server stopped with error", logger.ErrorField(err))
			return err
		}
		logger.Info("server stopped")
		return nil
	},
}

func init() {
	serveCmd.Flags().StringVar(&servePort, "port", "", "listen port, overrides PORT")
	serveCmd.Flags().StringVar(&serveEnvFile, "env-file", "", "dotenv file to load (default .env)")
	rootCmd.AddCommand(serveCmd)
}
