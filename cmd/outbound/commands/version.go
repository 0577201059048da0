package commands

import (
	"github.com/pterm/pterm"
	"github.com/spf13/cobra"

	"github.com/smtaidev/outbound/display"
	"github.com/smtaidev/outbound/version"
)

// VersionCmd represents the version command
var VersionCmd = &cobra.Command{
	Use:   "version",
	Short: "Show outbound version information",
	Long:  `Display version, build time, commit hash, and platform information for the outbound binary.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		info := version.Get()
		if display.ShouldOutputJSON(cmd) {
			return display.OutputJSON(info)
		}
		pterm.Println(info.String())
		pterm.Printfln("Platform: %s", info.Platform)
		pterm.Printfln("Go: %s", info.GoVersion)
		return nil
	},
}

func init() {
	VersionCmd.Flags().BoolP("json", "j", false, "Output version info as JSON")
}
