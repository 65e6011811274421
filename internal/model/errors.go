package model

import (
	"errors"
	"fmt"
)

var (
	// ErrNotConnected is returned when an operation needs an active session and none is registered.
	ErrNotConnected = errors.New("not connected")

	// ErrProfileNotFound is returned when a saved connection profile does not exist.
	ErrProfileNotFound = errors.New("profile not found")

	// ErrCommandRequired is returned when a one-shot exec request is missing the command.
	ErrCommandRequired = errors.New("command is required")
)

// ValidationError reports a connect request rejected before any network action.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return e.Message
}

// SetupStep names one stage of the connection setup sequence.
type SetupStep string

const (
	StepDial      SetupStep = "dial"
	StepHandshake SetupStep = "handshake"
	StepAuth      SetupStep = "auth"
	StepChannel   SetupStep = "channel"
	StepPTY       SetupStep = "pty"
	StepShell     SetupStep = "shell"
	StepExec      SetupStep = "exec"
	StepSpawn     SetupStep = "spawn"
)

// SetupError is returned by connect when a setup step fails. No session is
// registered when it is returned.
type SetupError struct {
	Step SetupStep
	Err  error
}

func (e *SetupError) Error() string {
	return fmt.Sprintf("%s failed: %v", e.Step, e.Err)
}

func (e *SetupError) Unwrap() error {
	return e.Err
}

// TransportError is a read, write or flush failure on a live session.
// It is delivered asynchronously through the event stream.
type TransportError struct {
	Op  string
	Err error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

// DecodeError reports inbound bytes that are not valid UTF-8 text.
type DecodeError struct {
	Bytes []byte
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("invalid utf-8 sequence (% x)", e.Bytes)
}

// TeardownError is returned by disconnect when the session's I/O goroutine
// terminated abnormally instead of exiting cleanly.
type TeardownError struct {
	Panic any
}

func (e *TeardownError) Error() string {
	return fmt.Sprintf("session i/o loop terminated abnormally: %v", e.Panic)
}

// IsSetupError reports whether err is a SetupError, returning it if so.
func IsSetupError(err error) (*SetupError, bool) {
	var se *SetupError
	if errors.As(err, &se) {
		return se, true
	}
	return nil, false
}
