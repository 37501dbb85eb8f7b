package cmd

import (
	"fmt"

	"github.com/bnema/wlproto/internal/ui"
	"github.com/bnema/wlproto/scanner"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

var inspectYAML bool

var inspectCmd = &cobra.Command{
	Use:   "inspect <protocol.xml>",
	Short: "Show the interfaces, messages and enums of a protocol",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		p, err := scanner.ParseFile(args[0])
		if err != nil {
			return err
		}

		out := cmd.OutOrStdout()
		if inspectYAML {
			enc := yaml.NewEncoder(out)
			enc.SetIndent(2)
			if err := enc.Encode(p); err != nil {
				return fmt.Errorf("failed to encode protocol: %w", err)
			}
			return enc.Close()
		}

		fmt.Fprintln(out, ui.ProtocolTree(p))
		return nil
	},
}

func init() {
	inspectCmd.Flags().BoolVar(&inspectYAML, "yaml", false, "Dump the parsed protocol as YAML")
	rootCmd.AddCommand(inspectCmd)
}
