// Package cli implements the skippy command-line interface.
package cli

import (
	"github.com/fatih/color"
	"github.com/spf13/cobra"
)

var (
	// version can be overridden at build time via:
	// go build -ldflags "-X github.com/skippybot/skippy/internal/cli.version=1.2.3"
	version = "0.3.0"
	logo    = "\n" +
		"  ____  _    _\n" +
		" / ___|| | _(_)_ __  _ __  _   _\n" +
		" \\___ \\| |/ / | '_ \\| '_ \\| | | |\n" +
		"  ___) |   <| | |_) | |_) | |_| |\n" +
		" |____/|_|\\_\\_| .__/| .__/ \\__, |\n" +
		"              |_|   |_|    |___/\n"
)

var rootCmd = &cobra.Command{
	Use:   "skippy",
	Short: "Skippy - Personal AI Assistant",
	Long:  color.CyanString(logo) + "\nA Discord-facing agentic assistant backed by Ollama.",
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
	rootCmd.AddCommand(daemonCmd)
	rootCmd.AddCommand(sendCmd)
	rootCmd.AddCommand(messageCmd)
	rootCmd.AddCommand(doctorCmd)
}
