package cmd

import (
	"dirmirror/internal/autostart"
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var installCmd = &cobra.Command{
	Use:   "install",
	Short: "Start watching the configured directories on login",
	RunE: func(cmd *cobra.Command, args []string) error {
		// The installed entry runs watch without arguments, so the config
		// file has to name both roots already.
		if err := cfg.Validate(); err != nil {
			return fmt.Errorf("config is not ready for autostart: %w", err)
		}

		execPath, err := os.Executable()
		if err != nil {
			return fmt.Errorf("failed to get executable path: %w", err)
		}

		as := autostart.New()
		if err := as.Install(execPath); err != nil {
			return err
		}

		fmt.Println("dirmirror registered for autostart")
		return nil
	},
}

func init() {
	rootCmd.AddCommand(installCmd)
}
