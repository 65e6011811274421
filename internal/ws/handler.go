package ws

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/remote-agent-terminal/shellbridge/internal/model"
)

const (
	// Time allowed to write a message to the peer.
	writeWait = 10 * time.Second

	// Time allowed to read the next pong message from the peer.
	pongWait = 60 * time.Second

	// Send pings to peer with this period. Must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10

	// Maximum message size allowed from peer.
	maxMessageSize = 8192

	// Time allowed for one client input to be queued on the session.
	inputWait = 5 * time.Second
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
}

// Controller is the session surface a client drives.
type Controller interface {
	Send(ctx context.Context, data []byte) error
	Resize(ctx context.Context, rows, cols uint16) error
	History() []byte
	Status() *model.StatusResponse
}

// Handler handles WebSocket connections for the bridged session.
type Handler struct {
	hub     *Hub
	session Controller
	log     zerolog.Logger
}

// NewHandler creates a new WebSocket handler.
func NewHandler(hub *Hub, session Controller, log zerolog.Logger) *Handler {
	return &Handler{hub: hub, session: session, log: log}
}

// HandleConnection upgrades the request and serves the client until it
// disconnects. The client first receives the session status and history.
func (h *Handler) HandleConnection(w http.ResponseWriter, r *http.Request) error {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return err
	}

	client := NewClient(h.hub, conn)
	h.hub.Register(client)

	h.sendStatus(client)
	h.sendHistory(client)

	go h.writePump(client)
	go h.readPump(client)

	return nil
}

func (h *Handler) sendStatus(client *Client) {
	status := h.session.Status()
	state := string(model.SessionStatusDisconnected)
	if status.Connected {
		state = string(model.SessionStatusConnected)
	}
	if err := client.SendMessage(&Message{Type: MessageTypeStatus, State: state, Session: status.Session}); err != nil {
		h.log.Error().Err(err).Msg("failed to marshal status message")
	}
}

// sendHistory sends the scrollback to the client for hot restore.
func (h *Handler) sendHistory(client *Client) {
	history := h.session.History()
	if len(history) == 0 {
		return
	}
	if err := client.SendMessage(&Message{Type: MessageTypeHistory, Data: string(history)}); err != nil {
		h.log.Error().Err(err).Msg("failed to marshal history message")
	}
}

// handleMessage processes incoming messages from clients.
func (h *Handler) handleMessage(client *Client, msg *Message) {
	switch msg.Type {
	case MessageTypeStdin:
		if msg.Data == "" {
			return
		}
		ctx, cancel := context.WithTimeout(context.Background(), inputWait)
		defer cancel()
		h.reportFailure(client, "stdin", h.session.Send(ctx, []byte(msg.Data)))
	case MessageTypeResize:
		if msg.Rows == 0 || msg.Cols == 0 {
			return
		}
		ctx, cancel := context.WithTimeout(context.Background(), inputWait)
		defer cancel()
		h.reportFailure(client, "resize", h.session.Resize(ctx, msg.Rows, msg.Cols))
	case MessageTypePing:
		_ = client.SendMessage(&Message{Type: MessageTypePong})
	}
}

// reportFailure tells the sending client why its input was not accepted.
func (h *Handler) reportFailure(client *Client, op string, err error) {
	if err == nil {
		return
	}
	if !errors.Is(err, model.ErrNotConnected) {
		h.log.Warn().Err(err).Str("op", op).Msg("client input rejected")
	}
	_ = client.SendMessage(&Message{Type: MessageTypeError, Error: err.Error()})
}

// readPump pumps messages from the WebSocket connection to the session.
func (h *Handler) readPump(client *Client) {
	defer func() {
		h.hub.Unregister(client)
		client.Conn().Close()
	}()

	client.Conn().SetReadLimit(maxMessageSize)
	client.Conn().SetReadDeadline(time.Now().Add(pongWait))
	client.Conn().SetPongHandler(func(string) error {
		client.Conn().SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, message, err := client.Conn().ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				h.log.Warn().Err(err).Msg("websocket read failed")
			}
			break
		}

		var msg Message
		if err := json.Unmarshal(message, &msg); err != nil {
			h.log.Debug().Err(err).Msg("ignoring malformed client message")
			continue
		}

		h.handleMessage(client, &msg)
	}
}

// writePump pumps messages from the hub to the WebSocket connection.
func (h *Handler) writePump(client *Client) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		client.Conn().Close()
	}()

	for {
		select {
		case message, ok := <-client.SendChan():
			client.Conn().SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				// The hub closed the channel
				client.Conn().WriteMessage(websocket.CloseMessage, []byte{})
				return
			}

			// One JSON message per frame.
			if err := client.Conn().WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}
		case <-ticker.C:
			client.Conn().SetWriteDeadline(time.Now().Add(writeWait))
			if err := client.Conn().WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// SetCheckOrigin sets the origin checker for the WebSocket upgrader.
func SetCheckOrigin(fn func(r *http.Request) bool) {
	upgrader.CheckOrigin = fn
}
