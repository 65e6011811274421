package bridge

import (
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/remote-agent-terminal/shellbridge/internal/model"
	"github.com/remote-agent-terminal/shellbridge/internal/transport"
)

const (
	DefaultFlushInterval  = 20 * time.Millisecond
	DefaultIdleSleep      = 10 * time.Millisecond
	DefaultReadBufferSize = 4096
	DefaultQueueSize      = 256
	DefaultEventQueueSize = 256
)

// Closed event messages.
const (
	MsgDisconnected     = "disconnected"
	MsgRemoteClosed     = "remote host closed the connection"
	MsgUnexpectedClosed = "connection closed unexpectedly"
)

// LoopConfig holds the I/O loop cadences and buffer sizes.
type LoopConfig struct {
	// FlushInterval is the minimum time between transport write attempts.
	FlushInterval time.Duration
	// IdleSleep is how long a cycle with no activity sleeps.
	IdleSleep time.Duration

	ReadBufferSize int
	QueueSize      int
	EventQueueSize int
}

// DefaultLoopConfig returns the default cadences.
func DefaultLoopConfig() LoopConfig {
	return LoopConfig{
		FlushInterval:  DefaultFlushInterval,
		IdleSleep:      DefaultIdleSleep,
		ReadBufferSize: DefaultReadBufferSize,
		QueueSize:      DefaultQueueSize,
		EventQueueSize: DefaultEventQueueSize,
	}
}

func (c LoopConfig) withDefaults() LoopConfig {
	d := DefaultLoopConfig()
	if c.FlushInterval <= 0 {
		c.FlushInterval = d.FlushInterval
	}
	if c.IdleSleep <= 0 {
		c.IdleSleep = d.IdleSleep
	}
	if c.ReadBufferSize <= 0 {
		c.ReadBufferSize = d.ReadBufferSize
	}
	if c.QueueSize <= 0 {
		c.QueueSize = d.QueueSize
	}
	if c.EventQueueSize <= 0 {
		c.EventQueueSize = d.EventQueueSize
	}
	return c
}

// ioLoop owns a session's transport. Nothing else touches tr once run starts.
type ioLoop struct {
	cfg     LoopConfig
	tr      transport.Transport
	cmds    <-chan Command
	closing <-chan struct{}
	events  *eventChannel
	log     zerolog.Logger

	pending   []byte
	readBuf   []byte
	lastFlush time.Time

	// inFlight is set while the transport still holds accepted bytes.
	inFlight    bool
	writeFailed bool

	stop        bool
	closedSent  bool
	stopMessage string
}

func newIOLoop(cfg LoopConfig, tr transport.Transport, cmds <-chan Command, closing <-chan struct{}, events *eventChannel, log zerolog.Logger) *ioLoop {
	return &ioLoop{
		cfg:     cfg,
		tr:      tr,
		cmds:    cmds,
		closing: closing,
		events:  events,
		log:     log,
		readBuf: make([]byte, cfg.ReadBufferSize),
	}
}

// run polls until a stop condition, then shuts the transport down. A panic
// is returned instead of propagated; the transport is still released and the
// terminal Closed event still sent.
func (l *ioLoop) run() (panicked any) {
	defer func() {
		if r := recover(); r != nil {
			panicked = r
			l.log.Error().Interface("panic", r).Msg("I/O loop terminated abnormally")
			l.stopMessage = fmt.Sprintf("session terminated abnormally: %v", r)
		}
		l.shutdown()
	}()

	l.lastFlush = time.Now()
	for {
		active := l.drain()

		if l.flushDue() {
			l.flush()
			active = true
		} else if l.inFlight {
			l.checkFlush()
		}

		if l.poll() {
			active = true
		}

		if l.stop {
			return nil
		}
		if !active {
			time.Sleep(l.cfg.IdleSleep)
		}
	}
}

func (l *ioLoop) isClosing() bool {
	select {
	case <-l.closing:
		return true
	default:
		return false
	}
}

// drain takes every command available without waiting.
func (l *ioLoop) drain() bool {
	drained := false
	for {
		select {
		case cmd, ok := <-l.cmds:
			if !ok {
				// Every sender is gone.
				l.requestStop(MsgDisconnected)
				return drained
			}
			drained = true
			l.apply(cmd)
		default:
			if l.isClosing() {
				l.requestStop(MsgDisconnected)
			}
			return drained
		}
	}
}

func (l *ioLoop) apply(cmd Command) {
	switch cmd.Kind {
	case CommandWrite:
		l.pending = append(l.pending, cmd.Data...)
	case CommandDisconnect:
		l.requestStop(MsgDisconnected)
	case CommandResize:
		if err := l.tr.Resize(cmd.Rows, cmd.Cols); err != nil {
			l.emitError(&model.TransportError{Op: "resize", Err: err})
		}
	}
}

// flushDue reports whether a write attempt should happen this cycle. A
// stopping loop gets one attempt regardless of the interval.
func (l *ioLoop) flushDue() bool {
	if len(l.pending) == 0 {
		return false
	}
	return l.stop || time.Since(l.lastFlush) >= l.cfg.FlushInterval
}

func (l *ioLoop) flush() {
	l.lastFlush = time.Now()

	n, err := l.tr.Write(l.pending)
	if n > 0 {
		l.pending = l.pending[n:]
		if len(l.pending) == 0 {
			l.pending = nil
		}
	}
	if err != nil && !transport.IsWouldBlock(err) {
		l.failWrite(err)
		return
	}
	l.checkFlush()
}

// checkFlush asks the transport to push accepted bytes. Bytes lost after
// Write accepted them stop the session like a failed Write.
func (l *ioLoop) checkFlush() {
	err := l.tr.Flush()
	switch {
	case err == nil:
		l.inFlight = false
	case transport.IsWouldBlock(err):
		l.inFlight = true
	default:
		l.inFlight = false
		if we, ok := transport.AsWriteError(err); ok {
			l.failWrite(we.Err)
			return
		}
		l.emitError(&model.TransportError{Op: "flush", Err: err})
	}
}

// failWrite reports a dead outbound stream once and stops the loop.
func (l *ioLoop) failWrite(err error) {
	if l.writeFailed {
		return
	}
	l.writeFailed = true
	l.emitError(&model.TransportError{Op: "write", Err: err})
	l.requestStop(fmt.Sprintf("write failed: %v", err))
}

// poll performs one bounded read.
func (l *ioLoop) poll() bool {
	n, err := l.tr.Read(l.readBuf)
	switch {
	case err != nil && transport.IsWouldBlock(err):
		return false
	case err != nil:
		l.emitError(&model.TransportError{Op: "read", Err: err})
		l.requestStop(fmt.Sprintf("read failed: %v", err))
		return true
	case n == 0:
		msg := MsgUnexpectedClosed
		if l.tr.EOF() {
			msg = MsgRemoteClosed
		}
		l.emitClosed(msg)
		l.stop = true
		return true
	}

	data := make([]byte, n)
	copy(data, l.readBuf[:n])
	if !l.events.publish(Event{Kind: EventData, Data: data}) {
		l.log.Warn().Int("bytes", n).Msg("event queue full, dropping output")
	}
	return true
}

func (l *ioLoop) requestStop(msg string) {
	if !l.stop {
		l.stopMessage = msg
	}
	l.stop = true
}

// shutdown releases the transport best-effort and guarantees one Closed event.
func (l *ioLoop) shutdown() {
	l.bestEffort("close write", l.tr.CloseWrite)
	l.bestEffort("close", l.tr.Close)
	l.bestEffort("wait closed", l.tr.WaitClosed)

	if !l.closedSent {
		msg := l.stopMessage
		if msg == "" {
			msg = MsgDisconnected
		}
		l.emitClosed(msg)
	}
	l.log.Debug().Int("unsent_bytes", len(l.pending)).Msg("I/O loop stopped")
}

func (l *ioLoop) bestEffort(step string, fn func() error) {
	defer func() {
		if r := recover(); r != nil {
			l.log.Debug().Str("step", step).Interface("panic", r).Msg("transport shutdown step panicked")
		}
	}()
	if err := fn(); err != nil {
		l.log.Debug().Str("step", step).Err(err).Msg("transport shutdown step failed")
	}
}

func (l *ioLoop) emitError(err error) {
	if !l.events.publish(Event{Kind: EventError, Message: err.Error()}) {
		l.log.Warn().Err(err).Msg("event queue full, dropping error")
	}
}

func (l *ioLoop) emitClosed(msg string) {
	l.closedSent = true
	l.events.publishClosed(Event{Kind: EventClosed, Message: msg})
}
