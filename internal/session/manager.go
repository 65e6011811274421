// Package session joins the bridge with saved profiles, scrollback and the
// listeners that present session output.
package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/remote-agent-terminal/shellbridge/internal/bridge"
	"github.com/remote-agent-terminal/shellbridge/internal/buffer"
	"github.com/remote-agent-terminal/shellbridge/internal/model"
	"github.com/remote-agent-terminal/shellbridge/internal/transport"
)

// ProfileStore looks up saved connection targets.
type ProfileStore interface {
	GetByID(ctx context.Context, id string) (*model.Profile, error)
	MarkUsed(ctx context.Context, id string, at time.Time) error
}

// Executor runs a one-shot command.
type Executor func(ctx context.Context, req model.ConnectRequest, command string) (*model.ExecResult, error)

// Config holds configuration for the session manager.
type Config struct {
	Loop           bridge.LoopConfig
	Decode         bridge.DecodePolicy
	ScrollbackSize int

	SSH   transport.SSHOptions
	Local transport.LocalOptions

	// Dialer and Executor default to the SSH and local PTY transports.
	Dialer   bridge.Dialer
	Executor Executor
}

// Manager owns the bridge for the process. It is itself the bridge's
// Notifier: output is kept in the scrollback and every notification is
// forwarded to the registered listeners.
type Manager struct {
	bridge     *bridge.Bridge
	profiles   ProfileStore
	scrollback *buffer.Scrollback
	exec       Executor
	log        zerolog.Logger

	// connectMu orders teardown, scrollback reset and dial across
	// concurrent Connect calls.
	connectMu sync.Mutex

	mu        sync.RWMutex
	listeners []bridge.Notifier
}

// NewManager creates a new session manager. profiles may be nil, in which
// case profile references are rejected.
func NewManager(profiles ProfileStore, config Config, log zerolog.Logger) *Manager {
	dial := config.Dialer
	if dial == nil {
		dial = bridge.NewDialer(config.SSH, config.Local)
	}
	exec := config.Executor
	if exec == nil {
		sshOpts := config.SSH
		exec = func(ctx context.Context, req model.ConnectRequest, command string) (*model.ExecResult, error) {
			return transport.RunSSH(ctx, req, command, sshOpts)
		}
	}

	m := &Manager{
		profiles:   profiles,
		scrollback: buffer.NewScrollback(config.ScrollbackSize),
		exec:       exec,
		log:        log.With().Str("component", "session").Logger(),
	}
	m.bridge = bridge.New(dial, m, bridge.Options{
		Loop:   config.Loop,
		Decode: config.Decode,
		Logger: log,
	})
	return m
}

// AddListener registers n to receive every session notification.
func (m *Manager) AddListener(n bridge.Notifier) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.listeners = append(m.listeners, n)
}

func (m *Manager) each(fn func(n bridge.Notifier)) {
	m.mu.RLock()
	listeners := m.listeners
	m.mu.RUnlock()

	for _, n := range listeners {
		fn(n)
	}
}

// Output implements bridge.Notifier.
func (m *Manager) Output(text string) {
	_, _ = m.scrollback.WriteString(text)
	m.each(func(n bridge.Notifier) { n.Output(text) })
}

// Error implements bridge.Notifier.
func (m *Manager) Error(message string) {
	m.log.Warn().Str("error", message).Msg("session error")
	m.each(func(n bridge.Notifier) { n.Error(message) })
}

// Closed implements bridge.Notifier.
func (m *Manager) Closed(message string) {
	m.log.Info().Str("reason", message).Msg("session closed")
	m.each(func(n bridge.Notifier) { n.Closed(message) })
}

// resolve fills req from its profile reference, if any.
func (m *Manager) resolve(ctx context.Context, req *model.ConnectRequest) error {
	if req.ProfileID == "" {
		return nil
	}
	if m.profiles == nil {
		return model.ErrProfileNotFound
	}
	p, err := m.profiles.GetByID(ctx, req.ProfileID)
	if err != nil {
		return err
	}
	p.Apply(req)
	return nil
}

// Connect opens a new session, replacing the active one.
func (m *Manager) Connect(ctx context.Context, req model.ConnectRequest) (*model.SessionInfo, error) {
	if err := m.resolve(ctx, &req); err != nil {
		return nil, err
	}

	// Validate before tearing anything down.
	req.Normalize()
	if err := req.Validate(); err != nil {
		return nil, err
	}

	m.connectMu.Lock()
	defer m.connectMu.Unlock()

	// The previous session's last output must land before the scrollback is cleared.
	if err := m.bridge.Disconnect(ctx); err != nil {
		var te *model.TeardownError
		if !errors.As(err, &te) {
			return nil, err
		}
		m.log.Warn().Err(err).Msg("previous session did not shut down cleanly")
	}
	m.scrollback.Reset()

	info, err := m.bridge.Connect(ctx, req)
	if err != nil {
		return nil, err
	}

	if req.ProfileID != "" {
		if err := m.profiles.MarkUsed(ctx, req.ProfileID, time.Now()); err != nil {
			m.log.Warn().Err(err).Str("profile_id", req.ProfileID).Msg("failed to mark profile used")
		}
	}
	return info, nil
}

// Send writes input to the active session.
func (m *Manager) Send(ctx context.Context, data []byte) error {
	return m.bridge.Send(ctx, data)
}

// Resize changes the active session's terminal size.
func (m *Manager) Resize(ctx context.Context, rows, cols uint16) error {
	if rows == 0 || cols == 0 {
		return &model.ValidationError{Field: "size", Message: fmt.Sprintf("invalid terminal size %dx%d", cols, rows)}
	}
	return m.bridge.Resize(ctx, rows, cols)
}

// Disconnect tears down the active session, if any.
func (m *Manager) Disconnect(ctx context.Context) error {
	return m.bridge.Disconnect(ctx)
}

// Status reports whether a session is active.
func (m *Manager) Status() *model.StatusResponse {
	resp := &model.StatusResponse{
		LastLine:     m.scrollback.LastLine(),
		HistoryBytes: m.scrollback.Len(),
	}
	if info, ok := m.bridge.Info(); ok {
		resp.Connected = true
		resp.Session = info
	}
	return resp
}

// History returns the retained output of the current or last session.
func (m *Manager) History() []byte {
	return m.scrollback.Snapshot()
}

// Exec runs one command over a fresh connection, independent of the
// interactive session.
func (m *Manager) Exec(ctx context.Context, req model.ExecRequest) (*model.ExecResult, error) {
	if err := m.resolve(ctx, &req.ConnectRequest); err != nil {
		return nil, err
	}
	req.Normalize()
	if err := req.Validate(); err != nil {
		return nil, err
	}

	start := time.Now()
	result, err := m.exec(ctx, req.ConnectRequest, req.Command)
	if err != nil {
		return nil, err
	}
	m.log.Info().
		Str("destination", req.Destination()).
		Int("exit_code", result.ExitCode).
		Dur("elapsed", time.Since(start)).
		Msg("command executed")
	return result, nil
}

// Close disconnects the active session.
func (m *Manager) Close() error {
	return m.bridge.Close()
}
