package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"discarchive/internal/config"
	"discarchive/internal/daemonrun"
)

type daemonFlags struct {
	configPath string
	socketPath string
	logLevel   string
}

func newDaemonCommand() *cobra.Command {
	var flags daemonFlags
	cmd := &cobra.Command{
		Use:           "discarchived",
		Short:         "Run the discarchive daemon in the foreground",
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(flags.configPath)
			if err != nil {
				return err
			}
			return daemonrun.Run(cmd.Context(), cfg, flags.options(cmd))
		},
	}
	cmd.Flags().StringVarP(&flags.configPath, "config", "c", "", "Configuration file path")
	cmd.Flags().StringVar(&flags.socketPath, "socket", "", "Override the control socket path")
	cmd.Flags().StringVar(&flags.logLevel, "log-level", "", "Override the configured log level")
	return cmd
}

func loadConfig(path string) (*config.Config, error) {
	cfg, resolved, _, err := config.Load(strings.TrimSpace(path))
	if err != nil {
		if resolved == "" {
			resolved = path
		}
		return nil, fmt.Errorf("load config %s: %w", resolved, err)
	}
	return cfg, nil
}

func (f daemonFlags) options(cmd *cobra.Command) daemonrun.Options {
	return daemonrun.Options{
		LogLevel:   strings.TrimSpace(f.logLevel),
		SocketPath: strings.TrimSpace(f.socketPath),
		Stderr:     cmd.ErrOrStderr(),
	}
}
