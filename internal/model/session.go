package model

import (
	"fmt"
	"strings"
	"time"
)

// TransportKind selects what a session is bridged to.
type TransportKind string

const (
	TransportSSH   TransportKind = "ssh"
	TransportLocal TransportKind = "local"
)

// SessionStatus represents the lifecycle state of the bridged session.
type SessionStatus string

const (
	SessionStatusConnected    SessionStatus = "connected"
	SessionStatusDisconnected SessionStatus = "disconnected"
)

const (
	DefaultSSHPort = 22
	DefaultRows    = 24
	DefaultCols    = 80
)

// ConnectRequest describes the destination of a new session.
type ConnectRequest struct {
	Kind     TransportKind `json:"kind"`
	Host     string        `json:"host"`
	Port     int           `json:"port"`
	Username string        `json:"username"`
	Password *string       `json:"password,omitempty"`
	Rows     uint16        `json:"rows"`
	Cols     uint16        `json:"cols"`

	// Shell is the local program to run for TransportLocal.
	Shell string `json:"shell,omitempty"`

	// ProfileID, when set, fills Host, Port and Username from a saved profile.
	ProfileID string `json:"profileId,omitempty"`
}

// Normalize fills defaults for omitted fields.
func (r *ConnectRequest) Normalize() {
	if r.Kind == "" {
		r.Kind = TransportSSH
	}
	r.Host = strings.TrimSpace(r.Host)
	r.Username = strings.TrimSpace(r.Username)
	if r.Rows == 0 {
		r.Rows = DefaultRows
	}
	if r.Cols == 0 {
		r.Cols = DefaultCols
	}
}

// Validate checks the request without performing any I/O.
func (r *ConnectRequest) Validate() error {
	switch r.Kind {
	case TransportLocal:
		return nil
	case TransportSSH, "":
	default:
		return &ValidationError{Field: "kind", Message: fmt.Sprintf("unsupported transport kind %q", r.Kind)}
	}

	if strings.TrimSpace(r.Host) == "" {
		return &ValidationError{Field: "host", Message: "empty hostname provided, enter a valid hostname or IP address"}
	}
	if strings.TrimSpace(r.Username) == "" {
		return &ValidationError{Field: "username", Message: "empty username provided, enter a valid username"}
	}
	if r.Port < 1 || r.Port > 65535 {
		return &ValidationError{Field: "port", Message: fmt.Sprintf("invalid port number %d, port must be between 1 and 65535", r.Port)}
	}
	return nil
}

// Destination returns the host:port (or local shell) the request targets.
func (r *ConnectRequest) Destination() string {
	if r.Kind == TransportLocal {
		return "local:" + r.Shell
	}
	return fmt.Sprintf("%s:%d", r.Host, r.Port)
}

// SessionInfo is the caller-visible description of the active session.
type SessionInfo struct {
	ID          string        `json:"id"`
	Serial      uint32        `json:"serial"`
	Kind        TransportKind `json:"kind"`
	Destination string        `json:"destination"`
	Username    string        `json:"username,omitempty"`
	// PID is set for local shells.
	PID         int           `json:"pid,omitempty"`
	Status      SessionStatus `json:"status"`
	ConnectedAt time.Time     `json:"connectedAt"`
}

// Duration returns how long the session has been connected.
func (s *SessionInfo) Duration() time.Duration {
	return time.Since(s.ConnectedAt)
}

// ExecRequest runs one command over a fresh connection and returns its output.
type ExecRequest struct {
	ConnectRequest
	Command string `json:"command"`
}

// Validate validates the exec request.
func (r *ExecRequest) Validate() error {
	if strings.TrimSpace(r.Command) == "" {
		return ErrCommandRequired
	}
	if r.Kind == TransportLocal {
		return &ValidationError{Field: "kind", Message: "exec is only supported over ssh"}
	}
	return r.ConnectRequest.Validate()
}

// ExecResult is the outcome of a one-shot remote command. A non-zero exit
// status is a result, not an error.
type ExecResult struct {
	Output   string `json:"output"`
	ExitCode int    `json:"exitCode"`
}

// StatusResponse describes the bridge state for API callers.
type StatusResponse struct {
	Connected    bool         `json:"connected"`
	Session      *SessionInfo `json:"session,omitempty"`
	LastLine     string       `json:"lastLine,omitempty"`
	HistoryBytes int          `json:"historyBytes"`
}

// Profile is a saved connection target. Secrets are never stored.
type Profile struct {
	ID         string     `json:"id"`
	Name       string     `json:"name"`
	Host       string     `json:"host"`
	Port       int        `json:"port"`
	Username   string     `json:"username"`
	CreatedAt  time.Time  `json:"createdAt"`
	LastUsedAt *time.Time `json:"lastUsedAt,omitempty"`
}

// CreateProfileRequest represents a request to save a connection profile.
type CreateProfileRequest struct {
	Name     string `json:"name"`
	Host     string `json:"host" binding:"required"`
	Port     int    `json:"port"`
	Username string `json:"username" binding:"required"`
}

// Validate validates the create profile request.
func (r *CreateProfileRequest) Validate() error {
	if r.Port == 0 {
		r.Port = DefaultSSHPort
	}
	req := ConnectRequest{Kind: TransportSSH, Host: r.Host, Port: r.Port, Username: r.Username}
	return req.Validate()
}

// Apply copies the profile's target into the request, keeping any secret and
// terminal size already set on it.
func (p *Profile) Apply(r *ConnectRequest) {
	r.Kind = TransportSSH
	r.Host = p.Host
	r.Port = p.Port
	r.Username = p.Username
}
