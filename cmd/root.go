package cmd

import (
	"fmt"

	"github.com/bnema/wlproto/internal/config"
	"github.com/bnema/wlproto/internal/logger"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var (
	configFile string
	logLevel   string

	rootCmd = &cobra.Command{
		Use:   "wlproto",
		Short: "wlproto - Wayland protocol toolkit",
		Long: `wlproto generates Go bindings from Wayland protocol XML descriptions and
inspects protocols and running compositors.`,
		SilenceUsage:      true,
		PersistentPreRunE: initConfig,
	}
)

// Execute runs the root command
func Execute() error {
	rootCmd.Version = Version
	return rootCmd.Execute()
}

func init() {
	rootCmd.SetVersionTemplate(`{{with .Name}}{{printf "%s " .}}{{end}}{{printf "version %s\n" .Version}}`)

	rootCmd.PersistentFlags().StringVar(&configFile, "config", "", "Config file (default $XDG_CONFIG_HOME/wlproto/wlproto.toml)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "Log level (debug, info, warn, error)")
	viper.BindPFlag("logging.log_level", rootCmd.PersistentFlags().Lookup("log-level"))
}

func initConfig(cmd *cobra.Command, args []string) error {
	config.SetConfigPath(configFile)
	if err := config.Init(); err != nil {
		return err
	}
	if level := config.Get().Logging.LogLevel; level != "" {
		if err := logger.SetLevel(level); err != nil {
			return fmt.Errorf("invalid log level: %w", err)
		}
	}
	return nil
}
