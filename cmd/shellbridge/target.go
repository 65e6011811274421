package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/remote-agent-terminal/shellbridge/internal/db"
	"github.com/remote-agent-terminal/shellbridge/internal/model"
	"github.com/remote-agent-terminal/shellbridge/internal/repository"
	"github.com/remote-agent-terminal/shellbridge/internal/session"
)

// targetFlags selects the connection target shared by shell and exec.
type targetFlags struct {
	host     string
	port     int
	user     string
	profile  string
	local    bool
	shell    string
	password bool
}

func (f *targetFlags) register(cmd *cobra.Command, allowLocal bool) {
	cmd.Flags().StringVarP(&f.host, "host", "H", "", "remote host")
	cmd.Flags().IntVarP(&f.port, "port", "p", model.DefaultSSHPort, "remote SSH port")
	cmd.Flags().StringVarP(&f.user, "user", "u", os.Getenv("USER"), "remote username")
	cmd.Flags().StringVar(&f.profile, "profile", "", "saved profile id")
	cmd.Flags().BoolVar(&f.password, "password", true, "prompt for a password (reads "+passwordEnv+" when set)")
	if allowLocal {
		cmd.Flags().BoolVar(&f.local, "local", false, "run a local shell on a PTY instead of connecting over SSH")
		cmd.Flags().StringVar(&f.shell, "shell", "", "local shell to run (overrides config)")
	}
}

const passwordEnv = "SHELLBRIDGE_PASSWORD"

func (f *targetFlags) request() (model.ConnectRequest, error) {
	if f.local {
		return model.ConnectRequest{Kind: model.TransportLocal, Shell: f.shell}, nil
	}
	req := model.ConnectRequest{
		Kind:      model.TransportSSH,
		Host:      f.host,
		Port:      f.port,
		Username:  f.user,
		ProfileID: f.profile,
	}
	if !f.password {
		return req, nil
	}
	if pw, ok := os.LookupEnv(passwordEnv); ok {
		req.Password = &pw
		return req, nil
	}
	pw, err := readPassword(req)
	if err != nil {
		return req, err
	}
	req.Password = &pw
	return req, nil
}

func readPassword(req model.ConnectRequest) (string, error) {
	fd := int(os.Stdin.Fd())
	if !term.IsTerminal(fd) {
		return "", errors.New("no terminal to prompt for a password; set " + passwordEnv)
	}
	target := req.Username + "@" + req.Host
	if req.ProfileID != "" {
		target = "profile " + req.ProfileID
	}
	fmt.Fprintf(os.Stderr, "%s password: ", target)
	pw, err := term.ReadPassword(fd)
	fmt.Fprintln(os.Stderr)
	if err != nil {
		return "", fmt.Errorf("failed to read password: %w", err)
	}
	return string(pw), nil
}

// openProfiles opens the profile store when a profile is referenced.
func openProfiles(opts *rootOptions, f *targetFlags) (session.ProfileStore, func(), error) {
	if f.profile == "" {
		return nil, func() {}, nil
	}
	database, err := db.Open(opts.config.Server.DBPath)
	if err != nil {
		return nil, nil, err
	}
	return repository.NewProfileRepository(database), func() { database.Close() }, nil
}

// exitError carries a remote exit status out of a command.
type exitError struct {
	code int
}

func (e *exitError) Error() string {
	return fmt.Sprintf("remote command exited with status %d", e.code)
}

func exitCode(err error) int {
	var ee *exitError
	if errors.As(err, &ee) {
		return ee.code
	}
	var se *model.SetupError
	if errors.As(err, &se) {
		return 255
	}
	return 1
}
