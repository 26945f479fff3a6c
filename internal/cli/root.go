// Package cli implements the chatrelay command line interface.
package cli

import (
	"github.com/spf13/cobra"

	"chatrelay/internal/config"
	"chatrelay/internal/logging"
)

// Execute runs the root command.
func Execute(version string) error {
	return newRootCmd(version).Execute()
}

func newRootCmd(version string) *cobra.Command {
	var (
		configFile string
		logLevel   string
		logFormat  string
	)

	cmd := &cobra.Command{
		Use:           "chatrelay",
		Short:         "Synchronized chat threads with an automated responder",
		Long:          "chatrelay keeps per-thread chat logs in sync between an optimistic local view, a persisted store, and an external completion service.",
		SilenceUsage:  true,
		SilenceErrors: true,
		Version:       version,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			loader := config.NewLoader()
			if configFile != "" {
				loader.SetConfigFile(configFile)
			}
			cfg, err := loader.Load()
			if err != nil {
				return err
			}
			if logLevel != "" {
				cfg.Logging.Level = logLevel
			}
			if logFormat != "" {
				cfg.Logging.Format = logFormat
			}
			logging.Init(logging.Config{
				Level:  cfg.Logging.Level,
				Format: cfg.Logging.Format,
			})
			setConfig(cfg)
			return nil
		},
	}

	cmd.PersistentFlags().StringVar(&configFile, "config", "", "Path to config file")
	cmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "Log level (debug, info, warn, error)")
	cmd.PersistentFlags().StringVar(&logFormat, "log-format", "", "Log format (console, json)")
	cmd.PersistentFlags().String("owner", "", "Owner id (overrides session.owner_id)")

	cmd.AddCommand(
		newChatCmd(),
		newThreadsCmd(),
		newSendCmd(),
	)
	return cmd
}
