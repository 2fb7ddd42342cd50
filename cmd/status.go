package cmd

import (
	"dirmirror/internal/model"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/fatih/color"
	"github.com/spf13/cobra"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "View mirror status",
	RunE: func(cmd *cobra.Command, args []string) error {
		resp, err := http.Get(daemonURL("/status"))
		if err != nil {
			return fmt.Errorf("daemon not running: %w", err)
		}

		defer func(Body io.ReadCloser) {
			_ = Body.Close()
		}(resp.Body)

		var snap model.RunSnapshot
		if err := json.NewDecoder(resp.Body).Decode(&snap); err != nil {
			return fmt.Errorf("failed to decode status response: %w", err)
		}

		statusColor := color.New(color.FgGreen, color.Bold)
		if snap.Status != model.RunStatusWatching {
			statusColor = color.New(color.FgYellow, color.Bold)
		}

		fmt.Printf("run:     %s\n", snap.RunID)
		fmt.Printf("status:  %s\n", statusColor.Sprint(snap.Status))
		fmt.Printf("source:  %s\n", snap.Source)
		fmt.Printf("target:  %s\n", snap.Target)
		fmt.Printf("uptime:  %s\n", time.Since(snap.StartedAt).Round(time.Second))
		fmt.Printf("pending: %d buffered  %d in flight\n", snap.Buffered, snap.InFlight)

		s := snap.Stats
		fmt.Printf("applied: %d  skipped: %d  failed: %s\n",
			s.Applied, s.Skipped, failedCount(s.Failed))
		fmt.Printf("copied:  %s in %d files (%s/s)\n",
			humanize.IBytes(uint64(s.Bytes)), s.Copies, humanize.IBytes(uint64(s.BytesPerSec)))

		if s.Copies > 0 {
			fmt.Printf("copy:    min %s  mean %s  max %s\n", s.MinCopy, s.MeanCopy, s.MaxCopy)
		}
		if s.LastOutcome != nil {
			fmt.Printf("last:    %s\n", humanize.Time(*s.LastOutcome))
		}

		return nil
	},
}

func failedCount(n int64) string {
	if n == 0 {
		return "0"
	}
	return color.RedString("%d", n)
}

func init() {
	rootCmd.AddCommand(statusCmd)
}
