package cmd

import (
	"dirmirror/internal/model"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/dustin/go-humanize"
	"github.com/fatih/color"
	"github.com/spf13/cobra"
)

var runsCmd = &cobra.Command{
	Use:   "runs [run-id]",
	Short: "List recorded mirror runs, or show one",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		url := daemonURL("/runs")
		if len(args) == 1 {
			url += "/" + args[0]
		}

		resp, err := http.Get(url)
		if err != nil {
			return fmt.Errorf("daemon not running: %w", err)
		}

		defer func(Body io.ReadCloser) {
			_ = Body.Close()
		}(resp.Body)

		if resp.StatusCode == http.StatusNotFound {
			var body map[string]string
			_ = json.NewDecoder(resp.Body).Decode(&body)
			return fmt.Errorf("%s", body["error"])
		}

		if len(args) == 1 {
			var run model.Run
			if err := json.NewDecoder(resp.Body).Decode(&run); err != nil {
				return err
			}
			printRun(run)
			return nil
		}

		var runs []model.Run
		if err := json.NewDecoder(resp.Body).Decode(&runs); err != nil {
			return err
		}

		if len(runs) == 0 {
			fmt.Println("no runs yet")
			return nil
		}

		for _, run := range runs {
			printRun(run)
		}

		return nil
	},
}

func printRun(run model.Run) {
	status := color.YellowString("%s", run.Status)
	if run.Status == model.RunStatusWatching {
		status = color.GreenString("%s", run.Status)
	}

	ended := "running"
	if run.StoppedAt != nil {
		ended = "stopped " + humanize.Time(*run.StoppedAt)
	}

	fmt.Printf("%s %-13s started %s, %s\n  %s -> %s\n",
		run.RunID, status, humanize.Time(run.StartedAt), ended, run.Source, run.Target)
}

func init() {
	historyCmd.AddCommand(runsCmd)
}
