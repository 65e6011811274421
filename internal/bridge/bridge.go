// Package bridge runs a single interactive session between callers and a
// transport.
//
// Callers enqueue commands on a bounded write queue. A dedicated I/O loop
// goroutine owns the transport, batches writes on a flush interval and polls
// for output. Output travels through a bounded event channel to an event
// bridge goroutine that decodes it and calls the Notifier. The Registry
// holds the one active session.
package bridge

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/remote-agent-terminal/shellbridge/internal/model"
	"github.com/remote-agent-terminal/shellbridge/internal/transport"
)

// Dialer opens a ready transport for req, or returns a *model.SetupError.
type Dialer func(ctx context.Context, req model.ConnectRequest) (transport.Transport, error)

// NewDialer returns a Dialer that opens SSH shells and local PTY shells.
func NewDialer(sshOpts transport.SSHOptions, localOpts transport.LocalOptions) Dialer {
	return func(ctx context.Context, req model.ConnectRequest) (transport.Transport, error) {
		if req.Kind == model.TransportLocal {
			return transport.StartLocal(req, localOpts)
		}
		return transport.DialSSH(ctx, req, sshOpts)
	}
}

// Options configures a Bridge.
type Options struct {
	Loop   LoopConfig
	Decode DecodePolicy

	// Registry is created when nil.
	Registry *Registry

	Logger zerolog.Logger
}

// Bridge connects callers to one live session at a time.
type Bridge struct {
	dial     Dialer
	notifier Notifier
	registry *Registry
	loopCfg  LoopConfig
	decode   DecodePolicy
	log      zerolog.Logger

	// connectMu serializes Connect so two dials never race to register.
	connectMu sync.Mutex
}

// New creates a Bridge that dials with dial and reports to notifier.
func New(dial Dialer, notifier Notifier, opts Options) *Bridge {
	registry := opts.Registry
	if registry == nil {
		registry = NewRegistry()
	}
	return &Bridge{
		dial:     dial,
		notifier: notifier,
		registry: registry,
		loopCfg:  opts.Loop.withDefaults(),
		decode:   opts.Decode,
		log:      opts.Logger.With().Str("component", "bridge").Logger(),
	}
}

// Connect validates req, tears down any active session, then dials and
// registers a new one. Validation failures return a *model.ValidationError
// before any I/O; dial failures return a *model.SetupError and leave
// nothing registered.
func (b *Bridge) Connect(ctx context.Context, req model.ConnectRequest) (*model.SessionInfo, error) {
	req.Normalize()
	if err := req.Validate(); err != nil {
		return nil, err
	}

	b.connectMu.Lock()
	defer b.connectMu.Unlock()

	if err := b.Disconnect(ctx); err != nil {
		var te *model.TeardownError
		if !errors.As(err, &te) {
			return nil, fmt.Errorf("failed to disconnect previous session: %w", err)
		}
		b.log.Warn().Err(err).Msg("previous session did not shut down cleanly")
	}

	tr, err := b.dial(ctx, req)
	if err != nil {
		if _, ok := model.IsSetupError(err); !ok {
			err = &model.SetupError{Step: model.StepDial, Err: err}
		}
		b.log.Info().Str("destination", req.Destination()).Err(err).Msg("connect failed")
		return nil, err
	}

	s := b.start(req, tr)
	b.log.Info().
		Str("session_id", s.info.ID).
		Uint32("serial", s.token).
		Str("destination", s.info.Destination).
		Msg("session connected")

	info := s.info
	return &info, nil
}

// start registers a session for tr and launches its goroutines.
func (b *Bridge) start(req model.ConnectRequest, tr transport.Transport) *Session {
	loopDone := make(chan struct{})
	s := &Session{
		token: b.registry.NextToken(),
		info: model.SessionInfo{
			ID:          uuid.New().String(),
			Kind:        req.Kind,
			Destination: req.Destination(),
			Username:    req.Username,
			Status:      model.SessionStatusConnected,
			ConnectedAt: time.Now(),
		},
		queue:      newWriteQueue(b.loopCfg.QueueSize, loopDone),
		loopDone:   loopDone,
		bridgeDone: make(chan struct{}),
	}
	s.info.Serial = s.token
	if p, ok := tr.(transport.Process); ok {
		s.info.PID = p.PID()
	}

	log := b.log.With().Str("session_id", s.info.ID).Uint32("serial", s.token).Logger()
	events := newEventChannel(b.loopCfg.EventQueueSize)
	loop := newIOLoop(b.loopCfg, tr, s.queue.ch, s.queue.closing, events, log)
	eb := &eventBridge{
		events:       events,
		producerDone: loopDone,
		notifier:     b.notifier,
		registry:     b.registry,
		token:        s.token,
		decoder:      NewDecoder(b.decode),
		log:          log,
	}

	// Registered before the goroutines start so a session that ends
	// immediately is still retired by its event bridge.
	if prev := b.registry.Put(s); prev != nil {
		log.Warn().Uint32("displaced_serial", prev.token).Msg("displacing registered session")
		go func() { _ = b.teardown(context.Background(), prev) }()
	}

	go func() {
		s.panicked = loop.run()
		close(loopDone)
	}()
	go func() {
		defer close(s.bridgeDone)
		eb.run()
	}()

	return s
}

// Send queues data for the active session. It returns once the bytes are
// queued; they reach the transport on the loop's next flush.
func (b *Bridge) Send(ctx context.Context, data []byte) error {
	s := b.registry.Current()
	if s == nil {
		return model.ErrNotConnected
	}
	if len(data) == 0 {
		return nil
	}
	return s.queue.send(ctx, WriteCommand(data))
}

// Resize queues a window size change for the active session.
func (b *Bridge) Resize(ctx context.Context, rows, cols uint16) error {
	s := b.registry.Current()
	if s == nil {
		return model.ErrNotConnected
	}
	return s.queue.send(ctx, ResizeCommand(rows, cols))
}

// Disconnect tears down the active session and waits for its goroutines to
// exit. With no active session it does nothing and returns nil. If the I/O
// loop panicked the error is a *model.TeardownError.
func (b *Bridge) Disconnect(ctx context.Context) error {
	s := b.registry.Take()
	if s == nil {
		return nil
	}
	b.log.Info().Str("session_id", s.info.ID).Uint32("serial", s.token).Msg("disconnecting session")
	return b.teardown(ctx, s)
}

func (b *Bridge) teardown(ctx context.Context, s *Session) error {
	// Best-effort: a full queue or an exited loop is fine, closing the
	// queue below stops the loop either way.
	s.queue.trySend(DisconnectCommand())
	s.queue.close()

	for _, done := range []<-chan struct{}{s.loopDone, s.bridgeDone} {
		select {
		case <-done:
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	if s.panicked != nil {
		return &model.TeardownError{Panic: s.panicked}
	}
	return nil
}

// IsConnected reports whether a session is registered.
func (b *Bridge) IsConnected() bool {
	return b.registry.Current() != nil
}

// Info describes the active session.
func (b *Bridge) Info() (*model.SessionInfo, bool) {
	s := b.registry.Current()
	if s == nil {
		return nil, false
	}
	info := s.info
	return &info, true
}

// Close disconnects any active session.
func (b *Bridge) Close() error {
	return b.Disconnect(context.Background())
}
