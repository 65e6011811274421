// Package pty starts local processes attached to a pseudo-terminal.
package pty

import (
	"errors"
	"fmt"
	"os"
	"os/exec"
	"syscall"

	"github.com/creack/pty"
)

// DefaultShell is used when StartOptions.Command is empty and $SHELL is unset.
const DefaultShell = "/bin/sh"

// StartOptions contains options for starting a PTY process.
type StartOptions struct {
	// Command is the program to execute. Defaults to $SHELL.
	Command string

	// Args are the arguments to pass to the command.
	Args []string

	// Env is appended to the current process environment.
	Env []string

	// Dir is the working directory for the process.
	Dir string

	Rows uint16
	Cols uint16
}

// Process represents a running PTY process.
type Process struct {
	master *os.File
	cmd    *exec.Cmd
}

// Start starts opts.Command on a new PTY.
func Start(opts StartOptions) (*Process, error) {
	command := opts.Command
	if command == "" {
		command = os.Getenv("SHELL")
	}
	if command == "" {
		command = DefaultShell
	}

	cmd := exec.Command(command, opts.Args...)
	cmd.Env = append(os.Environ(), opts.Env...)
	cmd.Env = append(cmd.Env, "TERM=xterm")
	if opts.Dir != "" {
		cmd.Dir = opts.Dir
	}

	var size *pty.Winsize
	if opts.Rows > 0 && opts.Cols > 0 {
		size = &pty.Winsize{Rows: opts.Rows, Cols: opts.Cols}
	}

	master, err := pty.StartWithSize(cmd, size)
	if err != nil {
		return nil, fmt.Errorf("failed to start %s: %w", command, err)
	}

	return &Process{master: master, cmd: cmd}, nil
}

// Read reads output from the PTY master.
func (p *Process) Read(b []byte) (int, error) {
	return p.master.Read(b)
}

// Write writes input to the PTY master.
func (p *Process) Write(b []byte) (int, error) {
	return p.master.Write(b)
}

// Resize changes the PTY window size.
func (p *Process) Resize(rows, cols uint16) error {
	return pty.Setsize(p.master, &pty.Winsize{Rows: rows, Cols: cols})
}

// PID returns the process ID.
func (p *Process) PID() int {
	if p.cmd.Process == nil {
		return 0
	}
	return p.cmd.Process.Pid
}

// SendEOF writes the terminal EOF character (Ctrl+D).
func (p *Process) SendEOF() error {
	_, err := p.master.Write([]byte{0x04})
	return err
}

// Hangup sends SIGHUP, as a terminal closing would.
func (p *Process) Hangup() error {
	if p.cmd.Process == nil {
		return nil
	}
	if err := p.cmd.Process.Signal(syscall.SIGHUP); err != nil && !errors.Is(err, os.ErrProcessDone) {
		return err
	}
	return nil
}

// Kill terminates the process.
func (p *Process) Kill() error {
	if p.cmd.Process == nil {
		return nil
	}
	if err := p.cmd.Process.Kill(); err != nil && !errors.Is(err, os.ErrProcessDone) {
		return err
	}
	return nil
}

// Wait waits for the process to exit and returns the exit code.
// Returns -1 if the process was killed by a signal.
func (p *Process) Wait() (int, error) {
	err := p.cmd.Wait()
	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			return exitErr.ExitCode(), nil
		}
		return -1, err
	}
	return 0, nil
}

// Close closes the PTY master.
func (p *Process) Close() error {
	return p.master.Close()
}
