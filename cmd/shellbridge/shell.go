package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/remote-agent-terminal/shellbridge/internal/model"
	"github.com/remote-agent-terminal/shellbridge/internal/session"
)

func newShellCmd(opts *rootOptions) *cobra.Command {
	flags := &targetFlags{}
	cmd := &cobra.Command{
		Use:   "shell",
		Short: "Attach this terminal to an interactive SSH or local shell",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			profiles, closeProfiles, err := openProfiles(opts, flags)
			if err != nil {
				return err
			}
			defer closeProfiles()

			req, err := flags.request()
			if err != nil {
				return err
			}
			cols, rows := termSize()
			req.Rows, req.Cols = uint16(rows), uint16(cols)

			manager := session.NewManager(profiles, opts.config.SessionConfig(), opts.log)
			defer manager.Close()

			return runShell(cmd.Context(), manager, req, os.Stdin, os.Stdout)
		},
	}
	flags.register(cmd, true)
	return cmd
}

// terminalListener copies session output to the local terminal.
type terminalListener struct {
	out    io.Writer
	closed chan string
}

func (l *terminalListener) Output(text string) {
	_, _ = io.WriteString(l.out, text)
}

func (l *terminalListener) Error(message string) {
	_, _ = fmt.Fprintf(l.out, "\r\n[shellbridge] %s\r\n", message)
}

func (l *terminalListener) Closed(message string) {
	select {
	case l.closed <- message:
	default:
	}
}

func runShell(ctx context.Context, manager *session.Manager, req model.ConnectRequest, in io.Reader, out io.Writer) error {
	listener := &terminalListener{out: out, closed: make(chan string, 1)}
	manager.AddListener(listener)

	if _, err := manager.Connect(ctx, req); err != nil {
		return err
	}

	restore, err := makeStdinRaw()
	if err != nil {
		_ = manager.Disconnect(ctx)
		return err
	}
	defer restore()

	sigCh := make(chan os.Signal, 4)
	signal.Notify(sigCh, syscall.SIGWINCH)
	defer signal.Stop(sigCh)
	go func() {
		for range sigCh {
			cols, rows := termSize()
			_ = manager.Resize(ctx, uint16(rows), uint16(cols))
		}
	}()

	go func() {
		buf := make([]byte, 1024)
		for {
			n, err := in.Read(buf)
			if n > 0 {
				if serr := manager.Send(ctx, buf[:n]); errors.Is(serr, model.ErrNotConnected) {
					return
				}
			}
			if err != nil {
				// Local EOF ends the remote shell's input.
				_ = manager.Disconnect(ctx)
				return
			}
		}
	}()

	select {
	case msg := <-listener.closed:
		restore()
		fmt.Fprintf(os.Stderr, "\r\n%s\n", msg)
		return nil
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		return manager.Disconnect(shutdownCtx)
	}
}

func makeStdinRaw() (func(), error) {
	fd := int(os.Stdin.Fd())
	if !term.IsTerminal(fd) {
		return func() {}, nil
	}
	oldState, err := term.MakeRaw(fd)
	if err != nil {
		return nil, err
	}
	return func() { _ = term.Restore(fd, oldState) }, nil
}

func termSize() (cols, rows int) {
	fd := int(os.Stdout.Fd())
	if !term.IsTerminal(fd) {
		return model.DefaultCols, model.DefaultRows
	}
	c, r, err := term.GetSize(fd)
	if err != nil || c <= 0 || r <= 0 {
		return model.DefaultCols, model.DefaultRows
	}
	return c, r
}
