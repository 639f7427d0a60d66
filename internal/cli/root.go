package cli

import (
	"github.com/fatih/color"
	"github.com/spf13/cobra"
)

var (
	// version can be overridden at build time via:
	// go build -ldflags "-X github.com/inklingd/inkling/internal/cli.version=1.2.3"
	version = "0.4.0"
	logo    = "\n" +
		"  _       _    _ _\n" +
		" (_)_ __ | | _| (_)_ __   __ _\n" +
		" | | '_ \\| |/ / | | '_ \\ / _` |\n" +
		" | | | | |   <| | | | | | (_| |\n" +
		" |_|_| |_|_|\\_\\_|_|_| |_|\\__, |\n" +
		"                         |___/\n"
)

var rootCmd = &cobra.Command{
	Use:   "inkling",
	Short: "Inkling - Proposition Pipeline",
	Long:  color.CyanString(logo) + "\nTurns a stream of raw observations into a revisable, searchable model of one person.",
	Run: func(cmd *cobra.Command, args []string) {
		cmd.Help()
	},
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.AddCommand(versionCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(initCmd)
	rootCmd.AddCommand(startCmd)
	rootCmd.AddCommand(queryCmd)
	rootCmd.AddCommand(showCmd)
}
