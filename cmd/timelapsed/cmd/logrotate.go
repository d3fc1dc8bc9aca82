package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/sireskandari/Aransite/pkg/config"
	"github.com/sireskandari/Aransite/pkg/logging"
)

var logrotateKeepDays int

var logrotateCmd = &cobra.Command{
	Use:   "logrotate",
	Short: "Print a logrotate configuration for the service log file",
	RunE: func(cmd *cobra.Command, _ []string) error {
		cfg, err := config.Load(v, cfgFile)
		if err != nil {
			return err
		}
		fmt.Fprint(cmd.OutOrStdout(), logging.LogrotateConfig("timelapsed", cfg.Logging.Dir, logrotateKeepDays))
		return nil
	},
}

func init() {
	rootCmd.AddCommand(logrotateCmd)
	logrotateCmd.Flags().IntVar(&logrotateKeepDays, "keep", 14, "days of rotated logs to keep")
}
