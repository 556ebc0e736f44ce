package server

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/gravitas-games/forge/internal/craft"
	"github.com/gravitas-games/forge/internal/network"
	"github.com/gravitas-games/forge/pkg/models"
)

const (
	// Time allowed to write a message to the peer
	writeWait = 10 * time.Second

	// Time allowed to read the next pong message from the peer
	pongWait = 60 * time.Second

	// Send pings to peer with this period (must be less than pongWait)
	pingPeriod = (pongWait * 9) / 10

	// Maximum message size allowed from peer; a 9x9 grid of ids fits easily
	maxMessageSize = 16 << 10
)

// Connection represents a WebSocket connection to an authenticated player
type Connection struct {
	ws     *websocket.Conn
	server *Server
	player *models.Player
	logger *zap.Logger

	// Buffered channel for outbound messages
	send chan []byte

	ctx    context.Context
	cancel context.CancelFunc

	closeOnce   sync.Once
	unsubscribe func()
}

// NewConnection creates a connection bound to the server's lifetime.
func NewConnection(ws *websocket.Conn, server *Server, player *models.Player) *Connection {
	ctx, cancel := context.WithCancel(server.ctx)
	c := &Connection{
		ws:     ws,
		server: server,
		player: player,
		logger: server.logger.With(zap.String("player", player.ID)),
		send:   make(chan []byte, 256),
		ctx:    ctx,
		cancel: cancel,
	}
	c.unsubscribe = server.engine.Events().Subscribe(player.Owner(), c.forwardEvent)
	return c
}

// Handle manages the connection lifecycle and blocks until it ends.
func (c *Connection) Handle() {
	c.ws.SetReadLimit(maxMessageSize)
	c.ws.SetReadDeadline(time.Now().Add(pongWait))
	c.ws.SetPongHandler(func(string) error {
		c.ws.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	c.SendMessage(&network.ServerMessage{
		Type:    network.MsgTypeWelcome,
		Payload: network.WelcomePayload{PlayerID: c.player.ID, Username: c.player.Username},
	})

	go c.writePump()
	c.readPump()
}

// readPump pumps messages from the WebSocket connection to the server
func (c *Connection) readPump() {
	defer c.Close()

	for {
		_, message, err := c.ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.logger.Debug("websocket read error", zap.Error(err))
			}
			return
		}

		var clientMsg network.ClientMessage
		if err := json.Unmarshal(message, &clientMsg); err != nil {
			c.SendError("", network.CodeInvalidRequest, "Failed to parse message")
			continue
		}

		c.handleMessage(&clientMsg)
	}
}

// writePump pumps messages from the send channel to the WebSocket connection
func (c *Connection) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.ws.Close()
	}()

	for {
		select {
		case message := <-c.send:
			c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.ws.WriteMessage(websocket.TextMessage, message); err != nil {
				c.logger.Debug("websocket write error", zap.Error(err))
				return
			}

		case <-ticker.C:
			c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.ws.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}

		case <-c.ctx.Done():
			c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			_ = c.ws.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			return
		}
	}
}

// handleMessage routes messages to appropriate handlers
func (c *Connection) handleMessage(msg *network.ClientMessage) {
	switch msg.Type {
	case network.MsgTypeCraft:
		c.handleCraft(msg)

	case network.MsgTypeInventory:
		c.handleInventory(msg)

	case network.MsgTypePing:
		c.SendMessage(&network.ServerMessage{
			Type:    network.MsgTypePong,
			ID:      msg.ID,
			Payload: map[string]any{"timestamp": time.Now().Unix()},
		})

	default:
		c.SendError(msg.ID, "unknown_message_type", "Unknown message type")
	}
}

func (c *Connection) handleCraft(msg *network.ClientMessage) {
	result, err := c.server.craft(c.ctx, c.player, msg.Payload)
	if err != nil {
		_, payload := classify(err)
		c.SendMessage(&network.ServerMessage{Type: network.MsgTypeError, ID: msg.ID, Payload: payload})
		return
	}
	c.SendMessage(&network.ServerMessage{Type: network.MsgTypeCraftResult, ID: msg.ID, Payload: result})
}

func (c *Connection) handleInventory(msg *network.ClientMessage) {
	payload, err := c.server.inventory(c.ctx, c.player.Owner())
	if err != nil {
		_, body := classify(err)
		c.SendMessage(&network.ServerMessage{Type: network.MsgTypeError, ID: msg.ID, Payload: body})
		return
	}
	c.SendMessage(&network.ServerMessage{Type: network.MsgTypeInventory, ID: msg.ID, Payload: payload})
}

// forwardEvent pushes the owner's craft outcomes, including those started on
// other connections or over HTTP.
func (c *Connection) forwardEvent(e craft.Event) {
	c.SendMessage(&network.ServerMessage{Type: network.MsgTypeCraftEvent, Payload: e})
}

// SendMessage queues a message for the client. It drops the message when the
// connection is closed or its buffer is full.
func (c *Connection) SendMessage(msg *network.ServerMessage) {
	data, err := json.Marshal(msg)
	if err != nil {
		c.logger.Warn("failed to marshal message", zap.String("type", msg.Type), zap.Error(err))
		return
	}

	select {
	case <-c.ctx.Done():
	case c.send <- data:
	default:
		c.logger.Warn("send buffer full, dropping message", zap.String("type", msg.Type))
	}
}

// SendError sends an error message to the client
func (c *Connection) SendError(id, code, message string) {
	c.SendMessage(&network.ServerMessage{
		Type: network.MsgTypeError,
		ID:   id,
		Payload: network.ErrorPayload{
			Code:    code,
			Message: message,
		},
	})
}

// Close stops the pumps and detaches the connection from events. Safe to
// call more than once.
func (c *Connection) Close() {
	c.closeOnce.Do(func() {
		c.unsubscribe()
		c.cancel()
	})
}
