package transport

import (
	"errors"
	"fmt"
	"io"
	"syscall"
	"time"

	"github.com/remote-agent-terminal/shellbridge/internal/model"
	"github.com/remote-agent-terminal/shellbridge/internal/pty"
)

// LocalOptions tunes a local PTY transport.
type LocalOptions struct {
	Shell        string
	Args         []string
	Dir          string
	CloseTimeout time.Duration
	InboundLimit int

	// HangupGrace is how long Close waits for the shell to exit on its own
	// before sending SIGHUP.
	HangupGrace time.Duration
}

// DefaultHangupGrace is the default LocalOptions.HangupGrace.
const DefaultHangupGrace = 100 * time.Millisecond

type localTransport struct {
	*Pump

	process      *pty.Process
	closeTimeout time.Duration
	hangupGrace  time.Duration
	exited       chan struct{}
}

// StartLocal runs a shell on a local PTY. The shell exiting is reported as
// end of stream, like a remote close.
func StartLocal(req model.ConnectRequest, opts LocalOptions) (Transport, error) {
	shell := req.Shell
	if shell == "" {
		shell = opts.Shell
	}

	process, err := pty.Start(pty.StartOptions{
		Command: shell,
		Args:    opts.Args,
		Dir:     opts.Dir,
		Rows:    req.Rows,
		Cols:    req.Cols,
	})
	if err != nil {
		return nil, &model.SetupError{Step: model.StepSpawn, Err: err}
	}

	closeTimeout := opts.CloseTimeout
	if closeTimeout <= 0 {
		closeTimeout = DefaultCloseTimeout
	}

	hangupGrace := opts.HangupGrace
	if hangupGrace <= 0 {
		hangupGrace = DefaultHangupGrace
	}

	t := &localTransport{
		Pump:         NewPump(eofReader{process}, process, opts.InboundLimit),
		process:      process,
		closeTimeout: closeTimeout,
		hangupGrace:  hangupGrace,
		exited:       make(chan struct{}),
	}
	go func() {
		_, _ = process.Wait()
		close(t.exited)
	}()

	return t, nil
}

// eofReader maps the EIO a Linux PTY master returns after the child exits
// to io.EOF.
type eofReader struct {
	r io.Reader
}

func (e eofReader) Read(p []byte) (int, error) {
	n, err := e.r.Read(p)
	if err != nil && errors.Is(err, syscall.EIO) {
		err = io.EOF
	}
	return n, err
}

func (t *localTransport) Resize(rows, cols uint16) error {
	return t.process.Resize(rows, cols)
}

func (t *localTransport) CloseWrite() error {
	return t.process.SendEOF()
}

// PID returns the shell's process ID.
func (t *localTransport) PID() int {
	return t.process.PID()
}

// Close gives the shell a moment to act on CloseWrite, then hangs up, then
// kills it if it still has not exited.
func (t *localTransport) Close() error {
	t.Pump.Stop()
	select {
	case <-t.exited:
	case <-time.After(t.hangupGrace):
		_ = t.process.Hangup()
		select {
		case <-t.exited:
		case <-time.After(t.closeTimeout):
			_ = t.process.Kill()
		}
	}
	return t.process.Close()
}

func (t *localTransport) WaitClosed() error {
	select {
	case <-t.exited:
		return nil
	case <-time.After(t.closeTimeout):
		_ = t.process.Kill()
		return fmt.Errorf("local shell did not exit within %s", t.closeTimeout)
	}
}
