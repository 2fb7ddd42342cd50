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

var (
	historyN      int
	historyFailed bool
)

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "View recent mirror operations",
	RunE: func(cmd *cobra.Command, args []string) error {
		url := fmt.Sprintf("%s?n=%d", daemonURL("/history"), historyN)
		if historyFailed {
			url += "&failed=true"
		}

		resp, err := http.Get(url)
		if err != nil {
			return fmt.Errorf("daemon not running: %w", err)
		}

		defer func(Body io.ReadCloser) {
			_ = Body.Close()
		}(resp.Body)

		if resp.StatusCode == http.StatusNotFound {
			return fmt.Errorf("history is disabled on the running daemon")
		}

		var histories []model.History
		if err := json.NewDecoder(resp.Body).Decode(&histories); err != nil {
			return err
		}

		if len(histories) == 0 {
			fmt.Println("no history yet")
			return nil
		}

		for _, h := range histories {
			fmt.Printf("%s [%s] %-11s %s\n",
				resultMark(h.Result),
				h.SyncedAt.Format("2006-01-02 15:04:05"),
				h.EventKind,
				historyDetail(h),
			)
		}

		return nil
	},
}

func resultMark(r model.Result) string {
	switch r {
	case model.ResultApplied:
		return color.GreenString("✓")
	case model.ResultSkipped:
		return color.YellowString("-")
	default:
		return color.RedString("✗")
	}
}

func historyDetail(h model.History) string {
	path := h.Path
	if h.FromPath != "" {
		path = h.FromPath + " -> " + h.Path
	}

	switch h.Result {
	case model.ResultFailed:
		return path + ": " + h.ErrMsg
	case model.ResultSkipped:
		return path + " (" + h.Reason + ")"
	}

	if h.Bytes > 0 {
		return fmt.Sprintf("%s %s in %s", path, humanize.IBytes(uint64(h.Bytes)),
			time.Duration(h.DurationUS)*time.Microsecond)
	}
	return path
}

func init() {
	historyCmd.Flags().IntVar(&historyN, "n", 20, "number of history entries to show")
	historyCmd.Flags().BoolVar(&historyFailed, "failed", false, "show failed operations only")
	rootCmd.AddCommand(historyCmd)
}
