package cmd

import (
	"os"
	"strconv"

	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"

	"github.com/sireskandari/Aransite/pkg/profile"
)

var profileCmd = &cobra.Command{
	Use:   "profile [tier]",
	Short: "Show the encoder parameters a request would resolve to",
	Long: `Resolves a quality tier (low, medium, high; anything else means medium) plus
optional overrides exactly as the service does. Without arguments every tier is listed.`,
	Args: cobra.MaximumNArgs(1),
	RunE: runProfile,
}

func init() {
	rootCmd.AddCommand(profileCmd)
	profileCmd.Flags().Int("fps", 0, "frames per second override")
	profileCmd.Flags().Int("width", 0, "output width override (0 keeps source width)")
	profileCmd.Flags().Int("max-frames", 0, "frame cap override")
}

func runProfile(cmd *cobra.Command, args []string) error {
	var profiles []profile.Profile
	if len(args) == 0 {
		for _, t := range profile.Tiers() {
			profiles = append(profiles, profile.Resolve(string(t), overridesFromFlags(cmd)))
		}
	} else {
		profiles = append(profiles, profile.Resolve(args[0], overridesFromFlags(cmd)))
	}

	if done, err := printStructured(os.Stdout, profiles); done || err != nil {
		return err
	}

	table := tablewriter.NewWriter(os.Stdout)
	table.Header("Tier", "FPS", "Width", "Max Frames", "CRF", "Preset")
	for _, p := range profiles {
		width := strconv.Itoa(p.Width)
		if p.Width == 0 {
			width = "source"
		}
		table.Append(string(p.Tier), strconv.Itoa(p.FPS), width,
			strconv.Itoa(p.MaxFrames), strconv.Itoa(p.CRF), p.Preset)
	}
	table.Render()
	return nil
}

// overridesFromFlags only sets overrides for flags given on the command line,
// so an explicit 0 is passed through to the resolver's clamps.
func overridesFromFlags(cmd *cobra.Command) profile.Overrides {
	var o profile.Overrides
	intFlag := func(name string) *int {
		if !cmd.Flags().Changed(name) {
			return nil
		}
		n, err := cmd.Flags().GetInt(name)
		if err != nil {
			return nil
		}
		return &n
	}
	o.FPS = intFlag("fps")
	o.Width = intFlag("width")
	o.MaxFrames = intFlag("max-frames")
	return o
}
