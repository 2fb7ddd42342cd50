package cmd

import (
	"context"
	"dirmirror/internal/daemon"
	"dirmirror/internal/logger"
	"dirmirror/internal/repository"
	"errors"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var watchCmd = &cobra.Command{
	Use:   "watch [source] [target]",
	Short: "Mirror source into target until stopped",
	Args:  cobra.MatchAll(cobra.MaximumNArgs(2), rootArgs),
	RunE:  runDaemon,
}

func rootArgs(cmd *cobra.Command, args []string) error {
	if len(args) == 1 {
		return errors.New("both source and target are required")
	}
	return nil
}

func runDaemon(cmd *cobra.Command, args []string) error {
	defer logger.Sync()

	if err := cfg.Validate(); err != nil {
		return err
	}

	mirror, err := daemon.NewMirror(cfg, cfg.History, os.Stdout)
	if err != nil {
		return err
	}

	var histRepo *repository.HistoryRepository
	var runRepo *repository.RunRepository
	if cfg.History {
		histRepo = repository.NewHistoryRepository()
		runRepo = repository.NewRunRepository()
	}

	srv := daemon.NewServer(mirror, histRepo, runRepo, cfg.DaemonPort)
	srv.Start()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	errCh := make(chan error, 1)
	go func() {
		errCh <- mirror.Run(ctx)
	}()

	logger.Log.Info("dirmirror started",
		zap.String("run", mirror.RunID()),
		zap.String("src", cfg.Source),
		zap.String("dst", cfg.Target),
		zap.Int("port", cfg.DaemonPort))

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	var runErr error
	select {
	case sig := <-sigCh:
		logger.Log.Info("shutting down",
			zap.String("signal", sig.String()))
		cancel()
		runErr = <-errCh
	case <-srv.StopCh():
		logger.Log.Info("stop requested via API")
		cancel()
		runErr = <-errCh
	case runErr = <-errCh:
	}

	stopCtx, stopCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer stopCancel()

	return errors.Join(runErr, srv.Stop(stopCtx))
}

func init() {
	addMirrorFlags(watchCmd)
	rootCmd.AddCommand(watchCmd)
}
