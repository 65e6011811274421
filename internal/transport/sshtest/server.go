// Package sshtest runs an in-process SSH server for tests.
//
// The server accepts password authentication for a single user, grants PTY
// requests, echoes shell input back to the client and answers exec requests
// with "ran: <command>". A shell line "exit" closes the channel with status 0.
package sshtest

import (
	"bytes"
	"crypto/ed25519"
	"crypto/rand"
	"encoding/binary"
	"fmt"
	"net"
	"strconv"
	"sync"
	"testing"

	"golang.org/x/crypto/ssh"
)

const (
	User     = "tester"
	Password = "secret"

	// FailCommand makes an exec request exit with FailStatus.
	FailCommand = "fail"
	FailStatus  = 3
)

// WindowSize is a PTY size the server was told about.
type WindowSize struct {
	Rows, Cols uint32
}

// Server is a minimal SSH server bound to a loopback port.
type Server struct {
	Host string
	Port int

	listener net.Listener
	config   *ssh.ServerConfig
	wg       sync.WaitGroup

	mu       sync.Mutex
	term     string
	windows  []WindowSize
	received bytes.Buffer
	shells   int
}

// NewServer starts a server and stops it when the test ends.
func NewServer(t testing.TB) *Server {
	t.Helper()

	_, key, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		t.Fatalf("failed to generate host key: %v", err)
	}
	signer, err := ssh.NewSignerFromKey(key)
	if err != nil {
		t.Fatalf("failed to create signer: %v", err)
	}

	config := &ssh.ServerConfig{
		PasswordCallback: func(meta ssh.ConnMetadata, password []byte) (*ssh.Permissions, error) {
			if meta.User() == User && string(password) == Password {
				return nil, nil
			}
			return nil, fmt.Errorf("password rejected for %q", meta.User())
		},
	}
	config.AddHostKey(signer)

	listener, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("failed to listen: %v", err)
	}
	host, portStr, _ := net.SplitHostPort(listener.Addr().String())
	port, _ := strconv.Atoi(portStr)

	s := &Server{Host: host, Port: port, listener: listener, config: config}
	s.wg.Add(1)
	go s.acceptLoop()

	t.Cleanup(s.Close)
	return s
}

// Close stops accepting connections.
func (s *Server) Close() {
	s.listener.Close()
	s.wg.Wait()
}

// TermType returns the terminal type of the last PTY request.
func (s *Server) TermType() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.term
}

// Windows returns every PTY size received, in order.
func (s *Server) Windows() []WindowSize {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]WindowSize(nil), s.windows...)
}

// Received returns all shell input received so far.
func (s *Server) Received() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.received.String()
}

// Shells returns how many shells were started.
func (s *Server) Shells() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.shells
}

func (s *Server) acceptLoop() {
	defer s.wg.Done()
	for {
		conn, err := s.listener.Accept()
		if err != nil {
			return
		}
		go s.serveConn(conn)
	}
}

func (s *Server) serveConn(conn net.Conn) {
	defer conn.Close()

	_, chans, reqs, err := ssh.NewServerConn(conn, s.config)
	if err != nil {
		return
	}
	go ssh.DiscardRequests(reqs)

	for newChannel := range chans {
		if newChannel.ChannelType() != "session" {
			_ = newChannel.Reject(ssh.UnknownChannelType, "unknown channel type")
			continue
		}
		channel, requests, err := newChannel.Accept()
		if err != nil {
			continue
		}
		go s.serveSession(channel, requests)
	}
}

func (s *Server) serveSession(channel ssh.Channel, requests <-chan *ssh.Request) {
	for req := range requests {
		switch req.Type {
		case "pty-req":
			term, rest := parseString(req.Payload)
			s.mu.Lock()
			s.term = term
			s.recordWindow(rest)
			s.mu.Unlock()
			_ = req.Reply(true, nil)
		case "window-change":
			s.mu.Lock()
			s.recordWindow(req.Payload)
			s.mu.Unlock()
			_ = req.Reply(false, nil)
		case "shell":
			s.mu.Lock()
			s.shells++
			s.mu.Unlock()
			_ = req.Reply(true, nil)
			go s.echo(channel)
		case "exec":
			command, _ := parseString(req.Payload)
			_ = req.Reply(true, nil)
			go s.exec(channel, command)
		default:
			_ = req.Reply(false, nil)
		}
	}
}

func (s *Server) recordWindow(payload []byte) {
	if len(payload) < 8 {
		return
	}
	// pty-req carries cols before rows, as does window-change.
	cols := binary.BigEndian.Uint32(payload[0:4])
	rows := binary.BigEndian.Uint32(payload[4:8])
	s.windows = append(s.windows, WindowSize{Rows: rows, Cols: cols})
}

func (s *Server) echo(channel ssh.Channel) {
	defer channel.Close()

	buf := make([]byte, 1024)
	for {
		n, err := channel.Read(buf)
		if n > 0 {
			s.mu.Lock()
			s.received.Write(buf[:n])
			exit := bytes.Contains(s.received.Bytes(), []byte("exit\n"))
			s.mu.Unlock()

			if _, werr := channel.Write(buf[:n]); werr != nil {
				return
			}
			if exit {
				sendExitStatus(channel, 0)
				return
			}
		}
		if err != nil {
			sendExitStatus(channel, 0)
			return
		}
	}
}

func (s *Server) exec(channel ssh.Channel, command string) {
	defer channel.Close()

	fmt.Fprintf(channel, "ran: %s\n", command)
	status := uint32(0)
	if command == FailCommand {
		status = FailStatus
	}
	sendExitStatus(channel, status)
}

func sendExitStatus(channel ssh.Channel, status uint32) {
	_, _ = channel.SendRequest("exit-status", false, ssh.Marshal(struct{ Status uint32 }{status}))
}

// parseString reads one SSH wire string and returns it with the remaining payload.
func parseString(payload []byte) (string, []byte) {
	if len(payload) < 4 {
		return "", nil
	}
	n := binary.BigEndian.Uint32(payload[:4])
	if uint32(len(payload)-4) < n {
		return "", nil
	}
	return string(payload[4 : 4+n]), payload[4+n:]
}
