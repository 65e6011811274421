// Command shellbridge bridges a remote SSH shell or a local PTY to a
// terminal, an HTTP API or WebSocket clients.
package main

import (
	"os"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/remote-agent-terminal/shellbridge/internal/config"
	"github.com/remote-agent-terminal/shellbridge/internal/logger"
)

type rootOptions struct {
	configPath string
	logLevel   string

	config *config.Config
	log    zerolog.Logger
}

func (r *rootOptions) prepare() error {
	cfg, err := config.Load(r.configPath)
	if err != nil {
		return err
	}
	if r.logLevel != "" {
		cfg.Log.Level = r.logLevel
	}
	log, err := logger.New(logger.Options{
		App:    "shellbridge",
		Level:  cfg.Log.Level,
		Format: cfg.Log.Format,
		Out:    os.Stderr,
	})
	if err != nil {
		return err
	}
	r.config = cfg
	r.log = log
	return nil
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}
	rootCmd := &cobra.Command{
		Use:           "shellbridge",
		Short:         "Bridge an SSH or local shell session to a terminal or HTTP clients",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return opts.prepare()
		},
	}
	rootCmd.PersistentFlags().StringVar(&opts.configPath, "config", os.Getenv(config.EnvPrefix+"CONFIG"), "path to a TOML config file")
	rootCmd.PersistentFlags().StringVar(&opts.logLevel, "log-level", "", "override the configured log level")

	rootCmd.AddCommand(newServeCmd(opts))
	rootCmd.AddCommand(newShellCmd(opts))
	rootCmd.AddCommand(newExecCmd(opts))
	return rootCmd
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Stderr.WriteString("shellbridge: " + err.Error() + "\n")
		os.Exit(exitCode(err))
	}
}
