package bridge

import (
	"context"
	"sync"

	"github.com/remote-agent-terminal/shellbridge/internal/model"
)

// CommandKind tags a Command.
type CommandKind uint8

const (
	CommandWrite CommandKind = iota + 1
	CommandDisconnect
	CommandResize
)

func (k CommandKind) String() string {
	switch k {
	case CommandWrite:
		return "write"
	case CommandDisconnect:
		return "disconnect"
	case CommandResize:
		return "resize"
	}
	return "unknown"
}

// Command is a request handed to the I/O loop.
type Command struct {
	Kind CommandKind
	Data []byte
	Rows uint16
	Cols uint16
}

// WriteCommand queues data for transmission. The slice is copied.
func WriteCommand(data []byte) Command {
	return Command{Kind: CommandWrite, Data: append([]byte(nil), data...)}
}

// DisconnectCommand asks the loop to stop after its current cycle.
func DisconnectCommand() Command {
	return Command{Kind: CommandDisconnect}
}

// ResizeCommand changes the remote terminal window size.
func ResizeCommand(rows, cols uint16) Command {
	return Command{Kind: CommandResize, Rows: rows, Cols: cols}
}

// writeQueue is the bounded FIFO between callers and the I/O loop. Any
// number of goroutines may send. Closing it is an implicit disconnect: the
// loop stops once it has drained what was queued before the close.
type writeQueue struct {
	ch chan Command

	// closing is closed by close. The command channel itself is never
	// closed, so senders need no lock.
	closing   chan struct{}
	closeOnce sync.Once

	// done is closed when the receiving loop has exited.
	done <-chan struct{}
}

func newWriteQueue(size int, done <-chan struct{}) *writeQueue {
	return &writeQueue{
		ch:      make(chan Command, size),
		closing: make(chan struct{}),
		done:    done,
	}
}

// send blocks until cmd is queued, the queue is closed, the loop exits or
// ctx ends.
func (q *writeQueue) send(ctx context.Context, cmd Command) error {
	select {
	case <-q.closing:
		return model.ErrNotConnected
	default:
	}
	select {
	case q.ch <- cmd:
		return nil
	case <-q.closing:
		return model.ErrNotConnected
	case <-q.done:
		return model.ErrNotConnected
	case <-ctx.Done():
		return ctx.Err()
	}
}

// trySend queues cmd only if there is room right now.
func (q *writeQueue) trySend(cmd Command) bool {
	select {
	case <-q.closing:
		return false
	default:
	}
	select {
	case q.ch <- cmd:
		return true
	default:
		return false
	}
}

// close stops accepting commands and releases blocked senders. It never
// waits.
func (q *writeQueue) close() {
	q.closeOnce.Do(func() { close(q.closing) })
}
