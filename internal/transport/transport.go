// Package transport provides the live byte streams a bridge session runs over.
//
// Every Transport is non-blocking: Read, Write and Flush return
// iox.ErrWouldBlock instead of waiting. Implementations are not safe for
// concurrent use; a session's I/O loop is their only caller.
package transport

import (
	"errors"

	"code.hybscloud.com/iox"
)

// ErrWouldBlock is returned when an operation cannot make progress right now.
var ErrWouldBlock = iox.ErrWouldBlock

// IsWouldBlock reports whether err means "retry later".
func IsWouldBlock(err error) bool {
	return iox.IsWouldBlock(err)
}

// WriteError is returned by Flush when bytes already accepted by Write could
// not be transmitted. The outbound stream is unusable afterwards.
type WriteError struct {
	Err error
}

func (e *WriteError) Error() string {
	return e.Err.Error()
}

func (e *WriteError) Unwrap() error {
	return e.Err
}

// AsWriteError reports whether err is a failed transmission of accepted bytes.
func AsWriteError(err error) (*WriteError, bool) {
	var we *WriteError
	if errors.As(err, &we) {
		return we, true
	}
	return nil, false
}

// Process is implemented by transports that run a local child process.
type Process interface {
	PID() int
}

// Transport is a readable/writable remote byte stream.
type Transport interface {
	// Read copies available inbound bytes into p. It returns ErrWouldBlock
	// when nothing is available, and (0, nil) with EOF() true at end of stream.
	Read(p []byte) (int, error)

	// Write accepts a prefix of p for transmission. It returns ErrWouldBlock
	// when no bytes can be accepted right now.
	Write(p []byte) (int, error)

	// Flush pushes accepted bytes to the stream. ErrWouldBlock means the
	// bytes are still in flight; a *WriteError means they were lost.
	Flush() error

	// EOF reports whether the remote side has signalled end of stream.
	EOF() bool

	// Resize changes the remote terminal window size.
	Resize(rows, cols uint16) error

	// CloseWrite signals outbound end of stream.
	CloseWrite() error

	// Close closes the channel.
	Close() error

	// WaitClosed blocks until the remote side confirms the close.
	WaitClosed() error
}
