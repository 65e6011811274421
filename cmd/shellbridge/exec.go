package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/remote-agent-terminal/shellbridge/internal/model"
	"github.com/remote-agent-terminal/shellbridge/internal/session"
)

func newExecCmd(opts *rootOptions) *cobra.Command {
	flags := &targetFlags{}
	cmd := &cobra.Command{
		Use:   "exec [flags] -- command [args...]",
		Short: "Run one command over a fresh SSH connection",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			profiles, closeProfiles, err := openProfiles(opts, flags)
			if err != nil {
				return err
			}
			defer closeProfiles()

			req, err := flags.request()
			if err != nil {
				return err
			}

			manager := session.NewManager(profiles, opts.config.SessionConfig(), opts.log)
			defer manager.Close()

			result, err := manager.Exec(cmd.Context(), model.ExecRequest{
				ConnectRequest: req,
				Command:        strings.Join(args, " "),
			})
			if err != nil {
				return err
			}
			fmt.Fprint(os.Stdout, result.Output)
			if result.ExitCode != 0 {
				return &exitError{code: result.ExitCode}
			}
			return nil
		},
	}
	flags.register(cmd, false)
	return cmd
}
