package cmd

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/bnema/wlproto/conn"
	"github.com/bnema/wlproto/internal/config"
	"github.com/bnema/wlproto/internal/logger"
	"github.com/bnema/wlproto/internal/probe"
	"github.com/bnema/wlproto/internal/ui"
	"github.com/bnema/wlproto/wire"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

var (
	globalsYAML    bool
	globalsTimeout time.Duration
)

var globalsCmd = &cobra.Command{
	Use:   "globals",
	Short: "List the globals advertised by the running compositor",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := config.Get()
		display := socketName(cfg.Socket)

		ctx, cancel := context.WithTimeout(cmd.Context(), globalsTimeout)
		defer cancel()

		sock, err := wire.Dial(ctx, display)
		if err != nil {
			return err
		}
		defer sock.Close()

		opts := []conn.Option{conn.WithLogger(logger.Logger.WithPrefix("wayland"))}
		if cfg.Logging.Trace {
			opts = append(opts, conn.WithTrace(true))
		}
		globals, err := probe.Globals(ctx, sock, opts...)
		if err != nil {
			return fmt.Errorf("failed to list globals: %w", err)
		}

		out := cmd.OutOrStdout()
		if globalsYAML {
			enc := yaml.NewEncoder(out)
			enc.SetIndent(2)
			if err := enc.Encode(globals); err != nil {
				return fmt.Errorf("failed to encode globals: %w", err)
			}
			return enc.Close()
		}
		if len(globals) == 0 {
			fmt.Fprintln(out, ui.FormatWarning("The compositor advertised no globals"))
			return nil
		}
		fmt.Fprintln(out, ui.GlobalsTable(globals))
		return nil
	},
}

func init() {
	globalsCmd.Flags().StringP("display", "d", "", "Socket name or path (default $WAYLAND_DISPLAY)")
	globalsCmd.Flags().BoolVar(&globalsYAML, "yaml", false, "Print globals as YAML")
	globalsCmd.Flags().DurationVar(&globalsTimeout, "timeout", 5*time.Second, "Give up after this long")
	viper.BindPFlag("socket.display", globalsCmd.Flags().Lookup("display"))
	rootCmd.AddCommand(globalsCmd)
}

// socketName applies the configured runtime directory to a relative display
// name. The result is handed to wire.Dial, which resolves the rest.
func socketName(s config.SocketConfig) string {
	display := s.Display
	if s.RuntimeDir == "" || filepath.IsAbs(display) {
		return display
	}
	if display == "" {
		display = os.Getenv("WAYLAND_DISPLAY")
	}
	if display == "" {
		display = wire.DefaultDisplay
	}
	if filepath.IsAbs(display) {
		return display
	}
	return filepath.Join(s.RuntimeDir, display)
}
