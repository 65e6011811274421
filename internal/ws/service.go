package ws

import (
	"net/http"

	"github.com/rs/zerolog"

	"github.com/remote-agent-terminal/shellbridge/internal/model"
)

// Service connects WebSocket clients to the session. It implements
// bridge.Notifier so it can be registered as a session listener.
type Service struct {
	hub     *Hub
	handler *Handler
	log     zerolog.Logger
}

// NewService creates a new WebSocket service for session.
func NewService(session Controller, log zerolog.Logger) *Service {
	log = log.With().Str("component", "ws").Logger()
	hub := NewHub()
	return &Service{
		hub:     hub,
		handler: NewHandler(hub, session, log),
		log:     log,
	}
}

// ServeHTTP attaches a client.
func (s *Service) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if err := s.handler.HandleConnection(w, r); err != nil {
		s.log.Warn().Err(err).Msg("websocket upgrade failed")
	}
}

// Output broadcasts session output.
func (s *Service) Output(text string) {
	s.broadcast(&Message{Type: MessageTypeStdout, Data: text})
}

// Error broadcasts a non-fatal session error.
func (s *Service) Error(message string) {
	s.broadcast(&Message{Type: MessageTypeError, Error: message})
}

// Closed broadcasts the end of the session.
func (s *Service) Closed(message string) {
	s.broadcast(&Message{Type: MessageTypeClosed, Data: message, State: string(model.SessionStatusDisconnected)})
}

func (s *Service) broadcast(msg *Message) {
	if err := s.hub.BroadcastMessage(msg); err != nil {
		s.log.Error().Err(err).Str("type", string(msg.Type)).Msg("failed to broadcast message")
	}
}

// ClientCount returns the number of attached clients.
func (s *Service) ClientCount() int {
	return s.hub.ClientCount()
}

// Close detaches every client.
func (s *Service) Close() {
	s.hub.Close()
}
