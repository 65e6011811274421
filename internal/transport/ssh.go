package transport

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"strconv"
	"strings"
	"syscall"
	"time"

	"golang.org/x/crypto/ssh"
	"golang.org/x/crypto/ssh/knownhosts"

	"github.com/remote-agent-terminal/shellbridge/internal/model"
)

const (
	// DefaultDialTimeout bounds the TCP dial and the SSH handshake.
	DefaultDialTimeout = 15 * time.Second

	// DefaultCloseTimeout bounds the wait for the remote side to confirm a close.
	DefaultCloseTimeout = 2 * time.Second

	// DefaultTermType is the terminal type requested for the remote PTY.
	DefaultTermType = "xterm"
)

// SSHOptions tunes the SSH setup sequence.
type SSHOptions struct {
	DialTimeout  time.Duration
	CloseTimeout time.Duration
	TermType     string

	// KnownHostsFile enables host key verification when set. An empty value
	// accepts any host key.
	KnownHostsFile string

	InboundLimit int
}

func (o *SSHOptions) withDefaults() SSHOptions {
	out := *o
	if out.DialTimeout <= 0 {
		out.DialTimeout = DefaultDialTimeout
	}
	if out.CloseTimeout <= 0 {
		out.CloseTimeout = DefaultCloseTimeout
	}
	if out.TermType == "" {
		out.TermType = DefaultTermType
	}
	return out
}

func (o *SSHOptions) hostKeyCallback() (ssh.HostKeyCallback, error) {
	if o.KnownHostsFile == "" {
		return ssh.InsecureIgnoreHostKey(), nil
	}
	return knownhosts.New(o.KnownHostsFile)
}

type sshTransport struct {
	*Pump

	client       *ssh.Client
	session      *ssh.Session
	stdin        io.WriteCloser
	closeTimeout time.Duration
}

// DialSSH performs dial, handshake, password authentication, session channel
// open, PTY request and shell start as one sequence. Any failure is returned
// as a *model.SetupError naming the step, and every partially opened
// resource is released.
func DialSSH(ctx context.Context, req model.ConnectRequest, opts SSHOptions) (Transport, error) {
	opts = opts.withDefaults()

	client, err := dialClient(ctx, req, opts)
	if err != nil {
		return nil, err
	}

	session, err := client.NewSession()
	if err != nil {
		client.Close()
		return nil, &model.SetupError{Step: model.StepChannel, Err: err}
	}

	stdin, err := session.StdinPipe()
	if err != nil {
		session.Close()
		client.Close()
		return nil, &model.SetupError{Step: model.StepChannel, Err: err}
	}
	stdout, err := session.StdoutPipe()
	if err != nil {
		session.Close()
		client.Close()
		return nil, &model.SetupError{Step: model.StepChannel, Err: err}
	}

	modes := ssh.TerminalModes{
		ssh.ECHO:          1,
		ssh.TTY_OP_ISPEED: 14400,
		ssh.TTY_OP_OSPEED: 14400,
	}
	if err := session.RequestPty(opts.TermType, int(req.Rows), int(req.Cols), modes); err != nil {
		session.Close()
		client.Close()
		return nil, &model.SetupError{Step: model.StepPTY, Err: err}
	}

	if err := session.Shell(); err != nil {
		session.Close()
		client.Close()
		return nil, &model.SetupError{Step: model.StepShell, Err: err}
	}

	return &sshTransport{
		Pump:         NewPump(stdout, stdin, opts.InboundLimit),
		client:       client,
		session:      session,
		stdin:        stdin,
		closeTimeout: opts.CloseTimeout,
	}, nil
}

// dialClient runs the dial, handshake and auth steps.
func dialClient(ctx context.Context, req model.ConnectRequest, opts SSHOptions) (*ssh.Client, error) {
	if req.Password == nil {
		return nil, &model.SetupError{Step: model.StepAuth, Err: errors.New("password authentication required")}
	}

	hostKeyCallback, err := opts.hostKeyCallback()
	if err != nil {
		return nil, &model.SetupError{Step: model.StepHandshake, Err: fmt.Errorf("failed to load known hosts: %w", err)}
	}

	addr := net.JoinHostPort(req.Host, strconv.Itoa(req.Port))

	dialer := net.Dialer{Timeout: opts.DialTimeout}
	conn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, &model.SetupError{Step: model.StepDial, Err: classifyDialError(req.Host, req.Port, err)}
	}

	config := &ssh.ClientConfig{
		User:            req.Username,
		Auth:            []ssh.AuthMethod{ssh.Password(*req.Password)},
		HostKeyCallback: hostKeyCallback,
		Timeout:         opts.DialTimeout,
	}

	_ = conn.SetDeadline(time.Now().Add(opts.DialTimeout))
	c, chans, reqs, err := ssh.NewClientConn(conn, addr, config)
	if err != nil {
		conn.Close()
		if strings.Contains(err.Error(), "unable to authenticate") {
			return nil, &model.SetupError{Step: model.StepAuth, Err: err}
		}
		return nil, &model.SetupError{Step: model.StepHandshake, Err: err}
	}
	_ = conn.SetDeadline(time.Time{})

	return ssh.NewClient(c, chans, reqs), nil
}

// classifyDialError turns common dial failures into actionable messages.
func classifyDialError(host string, port int, err error) error {
	var dnsErr *net.DNSError
	switch {
	case errors.As(err, &dnsErr):
		return fmt.Errorf("failed to resolve hostname %q, check the hostname and your network connection: %w", host, err)
	case errors.Is(err, syscall.ECONNREFUSED):
		return fmt.Errorf("connection refused to %s:%d, check that the SSH service is running and the port is correct: %w", host, port, err)
	case errors.Is(err, os.ErrDeadlineExceeded), errors.Is(err, context.DeadlineExceeded), isTimeout(err):
		return fmt.Errorf("connection timed out to %s:%d, check your network and firewall settings: %w", host, port, err)
	}
	return err
}

func isTimeout(err error) bool {
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}

func (t *sshTransport) Resize(rows, cols uint16) error {
	return t.session.WindowChange(int(rows), int(cols))
}

func (t *sshTransport) CloseWrite() error {
	return t.stdin.Close()
}

func (t *sshTransport) Close() error {
	t.Pump.Stop()
	err := t.session.Close()
	if errors.Is(err, io.EOF) {
		return nil
	}
	return err
}

func (t *sshTransport) WaitClosed() error {
	done := make(chan error, 1)
	go func() {
		done <- t.session.Wait()
	}()

	var err error
	select {
	case err = <-done:
	case <-time.After(t.closeTimeout):
		err = fmt.Errorf("timed out waiting for remote close after %s", t.closeTimeout)
	}

	if cerr := t.client.Close(); cerr != nil && err == nil && !errors.Is(cerr, net.ErrClosed) {
		err = cerr
	}
	return err
}

// RunSSH runs command over a fresh SSH connection and returns its combined
// output. A non-zero exit status is reported in the result, not as an error.
func RunSSH(ctx context.Context, req model.ConnectRequest, command string, opts SSHOptions) (*model.ExecResult, error) {
	opts = opts.withDefaults()

	client, err := dialClient(ctx, req, opts)
	if err != nil {
		return nil, err
	}
	defer client.Close()

	session, err := client.NewSession()
	if err != nil {
		return nil, &model.SetupError{Step: model.StepChannel, Err: err}
	}
	defer session.Close()

	stop := context.AfterFunc(ctx, func() {
		_ = session.Close()
	})
	defer stop()

	out, err := session.CombinedOutput(command)
	result := &model.ExecResult{Output: string(out)}
	if err != nil {
		var exitErr *ssh.ExitError
		if errors.As(err, &exitErr) {
			result.ExitCode = exitErr.ExitStatus()
			return result, nil
		}
		return nil, &model.SetupError{Step: model.StepExec, Err: err}
	}
	return result, nil
}
