package cmd

import (
	"fmt"
	"os"
	"strconv"

	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"

	"github.com/sireskandari/Aransite/pkg/cleanup"
	"github.com/sireskandari/Aransite/pkg/logging"
	"github.com/sireskandari/Aransite/pkg/metrics"
)

var textfilePath string

var sweepCmd = &cobra.Command{
	Use:   "sweep",
	Short: "Delete every generated timelapse file",
	Long: `Removes every directory and file under the timelapse output folder on this host.
Job rows are left untouched; streaming a swept job answers 404.`,
	RunE: runSweep,
}

func init() {
	rootCmd.AddCommand(sweepCmd)
	sweepCmd.Flags().StringVar(&textfilePath, "textfile", "", "write sweep metrics in Prometheus text format to this file (node_exporter textfile collector)")
}

func runSweep(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	defer logging.Close()

	layout, err := cfg.Layout()
	if err != nil {
		return err
	}

	m := metrics.New(false)
	report, err := cleanup.NewSweeper(layout, m).DeleteAll(cmd.Context())
	if err != nil {
		return err
	}

	if textfilePath != "" {
		if err := m.WriteTextfile(textfilePath); err != nil {
			return fmt.Errorf("write metrics textfile: %w", err)
		}
	}

	return printSweepReport(report)
}

func printSweepReport(report cleanup.Report) error {
	if done, err := printStructured(os.Stdout, report); done || err != nil {
		return err
	}

	table := tablewriter.NewWriter(os.Stdout)
	table.Header("Field", "Value")
	table.Append("Root", report.Root)
	table.Append("Directories deleted", strconv.Itoa(report.DirsDeleted))
	table.Append("Files deleted", strconv.Itoa(report.FilesDeleted))
	table.Append("Failures", strconv.Itoa(len(report.Failures)))
	table.Render()

	if len(report.Failures) > 0 {
		failures := tablewriter.NewWriter(os.Stdout)
		failures.Header("Path", "Error")
		for _, f := range report.Failures {
			failures.Append(f.Path, f.Error)
		}
		failures.Render()
	}
	return nil
}
