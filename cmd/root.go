package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/bnema/modeset/internal/config"
	"github.com/bnema/modeset/internal/logger"
)

var (
	// Version is set during build
	Version = "0.1.0-dev"

	configPath string
	cardPath   string

	rootCmd = &cobra.Command{
		Use:   "modeset",
		Short: "Modeset - legacy KMS display backend",
		Long: `Modeset drives a DRM device node through the legacy kernel
mode-setting interface. It snapshots the CRTC wiring found at startup,
lets you probe and claim display pipes, and restores the original
configuration on exit.`,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if configPath != "" {
				config.SetConfigPath(configPath)
			}
			if err := config.Init(); err != nil {
				return err
			}
			cfg := config.Get()
			if cfg.Logging.LogLevel != "" {
				logger.SetLevel(cfg.Logging.LogLevel)
			}
			if cardPath == "" {
				cardPath = cfg.Device.Card
			}
			return nil
		},
	}
)

// Execute runs the root command
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.Version = Version
	rootCmd.SetVersionTemplate(`{{with .Name}}{{printf "%s " .}}{{end}}{{printf "version %s\n" .Version}}`)

	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "Path to config file")
	rootCmd.PersistentFlags().StringVar(&cardPath, "card", "", "DRM node to drive (default from config)")

	rootCmd.AddCommand(probeCmd)
	rootCmd.AddCommand(testCmd)
}

// Exit with error message
func exitError(format string, args ...interface{}) {
	fmt.Fprintf(os.Stderr, "Error: "+format+"\n", args...)
	os.Exit(1)
}
