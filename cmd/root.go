package cmd

import (
	"dirmirror/internal/config"
	"dirmirror/internal/db"
	"dirmirror/internal/logger"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

var (
	cfg   *config.Config
	debug bool
)

// mirrorFlags maps command-line flags onto config keys for the commands
// that run the mirror.
var mirrorFlags = map[string]string{
	"exclude":         "exclude",
	"ignore-creation": "ignore_creation",
	"ignore-temp":     "ignore_temp_files",
	"ide":             "ide_mode",
	"statistics":      "statistics",
	"trace":           "trace",
	"diffs":           "diffs",
	"debounce":        "debounce",
	"workers":         "workers",
	"history":         "history",
	"port":            "daemon_port",
}

var rootCmd = &cobra.Command{
	Use:   "dirmirror",
	Short: "Mirror a directory into another one in real time",
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if cmd.Name() == "help" || cmd.Name() == "completion" {
			return nil
		}

		runsMirror := cmd.Name() == "watch" || cmd.Name() == "sync"
		if runsMirror {
			if err := bindMirrorFlags(cmd, args); err != nil {
				return err
			}
		}

		var err error
		cfg, err = config.Load()
		if err != nil {
			return err
		}

		if err := logger.Init(debug, cfg.Trace); err != nil {
			return err
		}

		if runsMirror && cfg.History {
			if err := db.Init(cfg.DBPath); err != nil {
				return err
			}
		}

		return nil
	},
}

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func daemonURL(path string) string {
	return fmt.Sprintf("http://localhost:%d%s", cfg.DaemonPort, path)
}

func addMirrorFlags(cmd *cobra.Command) {
	flags := cmd.Flags()
	flags.StringSlice("exclude", nil, "glob patterns to exclude, relative to the source")
	flags.Bool("ignore-creation", false, "do not mirror newly created files")
	flags.Bool("ignore-temp", false, "ignore editor temporary files")
	flags.Bool("ide", false, "ignore IDE metadata and temporary files")
	flags.Bool("statistics", false, "log per-copy timings and periodic totals")
	flags.Bool("trace", false, "log every raw and coalesced event")
	flags.Bool("diffs", config.Default.Diffs, "print a diff for every modified text file")
	flags.Duration("debounce", config.Default.Debounce, "quiet window before a change is applied")
	flags.Int("workers", config.Default.Workers, "number of concurrent copy workers")
	flags.Bool("history", config.Default.History, "record every outcome in the history database")
	flags.Int("port", config.Default.DaemonPort, "status API port")
}

// bindMirrorFlags lets explicitly set flags and the two positional roots
// override the config file.
func bindMirrorFlags(cmd *cobra.Command, args []string) error {
	var bindErr error
	cmd.Flags().VisitAll(func(f *pflag.Flag) {
		key, ok := mirrorFlags[f.Name]
		if !ok || bindErr != nil {
			return
		}
		if err := viper.BindPFlag(key, f); err != nil {
			bindErr = fmt.Errorf("failed to bind flag %s: %w", f.Name, err)
		}
	})
	if bindErr != nil {
		return bindErr
	}

	if len(args) == 2 {
		viper.Set("source", args[0])
		viper.Set("target", args[1])
	}

	return nil
}

func init() {
	rootCmd.PersistentFlags().BoolVar(&debug, "debug", false, "Enable debug mode")
}
