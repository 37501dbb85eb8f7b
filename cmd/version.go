package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

var (
	// Version info set by main package
	Version = "0.1.0-dev"
	Commit  = "none"
	Date    = "unknown"
)

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, args []string) {
		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "wlproto %s\n", Version)
		fmt.Fprintf(out, "commit: %s\n", Commit)
		fmt.Fprintf(out, "built: %s\n", Date)
	},
}

func init() {
	rootCmd.AddCommand(versionCmd)
}
