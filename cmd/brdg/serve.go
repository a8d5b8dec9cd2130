package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/standardbeagle/brdg/internal/config"
	"github.com/standardbeagle/brdg/internal/host"
	"github.com/standardbeagle/brdg/internal/logging"
	"github.com/standardbeagle/brdg/internal/protocol"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the bridge host",
	Long: `Run the bridge host until the companion disconnects or a signal arrives.

In production mode the companion speaks native messaging over stdio; in
development mode (RUN_MODE=development) the host instead waits for the
extension on a local WebSocket endpoint, so no host manifest is needed.`,
	Run: runServe,
}

func runServe(cmd *cobra.Command, args []string) {
	ctx, cancel := signal.NotifyContext(context.Background(),
		syscall.SIGINT,
		syscall.SIGTERM,
	)
	defer cancel()

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "%s: %v\n", appName, err)
		os.Exit(1)
	}

	// Stdout carries native messaging frames, so even startup errors must
	// stay off it; the logger writes to a file and fatal errors go to
	// stderr only.
	logger, err := logging.New(cfg.Log)
	if err != nil {
		fmt.Fprintf(os.Stderr, "%s: %v\n", appName, err)
		os.Exit(1)
	}
	defer logger.Sync()

	logger.Info("starting",
		zap.String("app", appName),
		zap.String("version", appVersion),
		zap.String("runMode", cfg.RunMode))

	h := host.New(host.Options{
		Config: cfg,
		Logger: logger,
		Info: protocol.HostInfo{
			Name:    hostName,
			Version: appVersion,
			RunMode: cfg.RunMode,
		},
	})

	if err := h.Run(ctx); err != nil {
		logger.Error("host exited with error", zap.Error(err))
		fmt.Fprintf(os.Stderr, "%s: %v\n", appName, err)
		os.Exit(1)
	}
}
