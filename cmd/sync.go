package cmd

import (
	"context"
	"dirmirror/internal/daemon"
	"dirmirror/internal/logger"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/dustin/go-humanize"
	"github.com/fatih/color"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var syncProgress bool

var syncCmd = &cobra.Command{
	Use:   "sync [source] [target]",
	Short: "Copy everything that differs once and exit",
	Args:  cobra.MatchAll(cobra.MaximumNArgs(2), rootArgs),
	RunE: func(cmd *cobra.Command, args []string) error {
		defer logger.Sync()

		if err := cfg.Validate(); err != nil {
			return err
		}

		mirror, err := daemon.NewMirror(cfg, cfg.History, os.Stdout)
		if err != nil {
			return err
		}

		ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		logger.Log.Info("starting full sync",
			zap.String("src", cfg.Source),
			zap.String("dst", cfg.Target))

		var bar *syncBar
		var progress daemon.Progress
		if syncProgress {
			bar = newSyncBar(os.Stderr)
			progress = bar
		}

		report, snap, err := mirror.SyncOnce(ctx, progress)
		if bar != nil {
			bar.Finish()
		}
		if err != nil {
			return err
		}

		summary := fmt.Sprintf("done: %d copied (%s), %d up to date, %d excluded, %d skipped, %d failed",
			snap.Applied, humanize.IBytes(uint64(snap.Bytes)), report.UpToDate, report.Excluded, snap.Skipped, snap.Failed)
		if snap.Failed > 0 {
			color.Red(summary)
			return fmt.Errorf("%d operations failed", snap.Failed)
		}

		color.Green(summary)
		return nil
	},
}

func init() {
	addMirrorFlags(syncCmd)
	syncCmd.Flags().BoolVar(&syncProgress, "progress", false, "draw a progress bar while copying")
	rootCmd.AddCommand(syncCmd)
}
