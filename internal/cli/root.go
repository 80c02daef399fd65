package cli

import (
	"os"

	"github.com/spf13/cobra"

	"gomeet/internal/ui"
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "gomeet",
	Short: "Multi-party video conferencing from the terminal",
	Long: `Gomeet is a command-line client for gomeet conference rooms. It connects
to a signaling server, publishes an audio and a video track and receives the
tracks of everyone else in the room. Rooms are identified by a shared id;
anyone who knows the id can join.`,
}

// Execute adds all child commands to the root command and sets flags
// appropriately. This is called by main.main().
func Execute() {
	rootCmd.SilenceErrors = true
	rootCmd.SilenceUsage = true

	if err := rootCmd.Execute(); err != nil {
		ui.PrintError(err.Error())
		os.Exit(1)
	}
}
