package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/mcdev12/classpoll/go/internal/apperrors"
	"github.com/mcdev12/classpoll/go/internal/poll/events"
)

// SessionHandler is the coordinator surface the gateway drives with inbound
// client events.
type SessionHandler interface {
	JoinStudent(ctx context.Context, connectionID, pollID, displayName string) error
	JoinTeacher(ctx context.Context, connectionID, pollID string) error
	SubmitAnswer(ctx context.Context, connectionID, pollID, questionID string, selectedOption int) error
	OpenQuestion(ctx context.Context, pollID, questionID string) error
	CloseQuestion(ctx context.Context, pollID, questionID string) error
	RemoveStudent(ctx context.Context, pollID, displayName, actingConnectionID string) error
	Disconnect(ctx context.Context, connectionID string)
}

// ConnectionManager owns every live WebSocket connection and the room
// membership used for fan-out. Membership is read at the moment of each
// broadcast; nothing caches it across events.
type ConnectionManager struct {
	mu           sync.RWMutex
	connections  map[string]*Connection
	pollRooms    map[string]map[*Connection]bool
	teacherRooms map[string]map[*Connection]bool

	upgrader websocket.Upgrader
	config   ConnectionConfig
	handler  SessionHandler

	broadcastCh chan broadcastMessage
}

// Connection represents one WebSocket connection to a client.
type Connection struct {
	ID      string
	Conn    *websocket.Conn
	Send    chan []byte
	Manager *ConnectionManager

	ConnectedAt time.Time
	LastPing    time.Time
}

// ConnectionConfig holds configuration for WebSocket connections.
type ConnectionConfig struct {
	WriteTimeout    time.Duration
	ReadTimeout     time.Duration
	PingInterval    time.Duration
	MaxMessageSize  int64
	ReadBufferSize  int
	WriteBufferSize int
	CheckOrigin     func(r *http.Request) bool
}

type broadcastMessage struct {
	pollID       string
	connectionID string // if set, deliver to this connection only
	teachersOnly bool
	closeConn    bool // tear the connection down after pending sends flush
	event        *events.Event
}

// DefaultConnectionConfig returns default WebSocket configuration.
func DefaultConnectionConfig() ConnectionConfig {
	return ConnectionConfig{
		WriteTimeout:    10 * time.Second,
		ReadTimeout:     60 * time.Second,
		PingInterval:    30 * time.Second,
		MaxMessageSize:  4096,
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin: func(r *http.Request) bool {
			// Allow all origins in development - restrict in production
			return true
		},
	}
}

// NewConnectionManager creates a new WebSocket connection manager.
func NewConnectionManager(config ConnectionConfig, handler SessionHandler) *ConnectionManager {
	return &ConnectionManager{
		connections:  make(map[string]*Connection),
		pollRooms:    make(map[string]map[*Connection]bool),
		teacherRooms: make(map[string]map[*Connection]bool),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  config.ReadBufferSize,
			WriteBufferSize: config.WriteBufferSize,
			CheckOrigin:     config.CheckOrigin,
		},
		config:      config,
		handler:     handler,
		broadcastCh: make(chan broadcastMessage, 1000),
	}
}

// SetHandler binds the session handler. The coordinator takes the manager
// as its broadcaster, so one of the two is bound after construction; call
// this before Start.
func (cm *ConnectionManager) SetHandler(handler SessionHandler) {
	cm.handler = handler
}

// Start begins processing broadcast messages.
func (cm *ConnectionManager) Start(ctx context.Context) {
	log.Info().Msg("connection manager started")

	for {
		select {
		case <-ctx.Done():
			log.Info().Msg("connection manager shutting down")
			return
		case message := <-cm.broadcastCh:
			cm.handleBroadcast(message)
		}
	}
}

// UpgradeConnection upgrades an HTTP connection to WebSocket and starts its
// read/write pumps. The connection belongs to no room until a join event
// binds it to one.
func (cm *ConnectionManager) UpgradeConnection(w http.ResponseWriter, r *http.Request) error {
	conn, err := cm.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return fmt.Errorf("failed to upgrade connection: %w", err)
	}

	connection := &Connection{
		ID:          uuid.New().String(),
		Conn:        conn,
		Send:        make(chan []byte, 256),
		Manager:     cm,
		ConnectedAt: time.Now(),
		LastPing:    time.Now(),
	}

	cm.mu.Lock()
	cm.connections[connection.ID] = connection
	cm.mu.Unlock()

	go connection.writePump()
	go connection.readPump()

	log.Info().Str("connection_id", connection.ID).Msg("WebSocket connection established")
	return nil
}

// JoinPollRoom adds a connection to the poll's broadcast room and, for
// teachers, to the teacher-only sub-room.
func (cm *ConnectionManager) JoinPollRoom(pollID, connectionID string, teacher bool) {
	cm.mu.Lock()
	defer cm.mu.Unlock()

	conn, ok := cm.connections[connectionID]
	if !ok {
		return
	}

	if cm.pollRooms[pollID] == nil {
		cm.pollRooms[pollID] = make(map[*Connection]bool)
	}
	cm.pollRooms[pollID][conn] = true

	if teacher {
		if cm.teacherRooms[pollID] == nil {
			cm.teacherRooms[pollID] = make(map[*Connection]bool)
		}
		cm.teacherRooms[pollID][conn] = true
	}

	log.Debug().
		Str("connection_id", connectionID).
		Str("poll_id", pollID).
		Bool("teacher", teacher).
		Int("room_size", len(cm.pollRooms[pollID])).
		Msg("connection joined room")
}

// LeavePollRoom removes a connection from the poll's rooms.
func (cm *ConnectionManager) LeavePollRoom(pollID, connectionID string) {
	cm.mu.Lock()
	defer cm.mu.Unlock()

	conn, ok := cm.connections[connectionID]
	if !ok {
		return
	}
	cm.leaveRoomsLocked(pollID, conn)
}

func (cm *ConnectionManager) leaveRoomsLocked(pollID string, conn *Connection) {
	if room, ok := cm.pollRooms[pollID]; ok {
		delete(room, conn)
		if len(room) == 0 {
			delete(cm.pollRooms, pollID)
		}
	}
	if room, ok := cm.teacherRooms[pollID]; ok {
		delete(room, conn)
		if len(room) == 0 {
			delete(cm.teacherRooms, pollID)
		}
	}
}

// BroadcastToPoll sends an event to every connection in the poll room.
func (cm *ConnectionManager) BroadcastToPoll(pollID string, e *events.Event) {
	cm.enqueue(broadcastMessage{pollID: pollID, event: e})
}

// BroadcastToTeachers sends an event to the poll's teacher sub-room.
func (cm *ConnectionManager) BroadcastToTeachers(pollID string, e *events.Event) {
	cm.enqueue(broadcastMessage{pollID: pollID, teachersOnly: true, event: e})
}

// SendToConnection sends an event to a single connection.
func (cm *ConnectionManager) SendToConnection(connectionID string, e *events.Event) {
	cm.enqueue(broadcastMessage{connectionID: connectionID, event: e})
}

// CloseConnection forcibly disconnects a client. It goes through the
// broadcast channel, so events enqueued beforehand (like a removal notice)
// are flushed to the socket first.
func (cm *ConnectionManager) CloseConnection(connectionID string) {
	cm.enqueue(broadcastMessage{connectionID: connectionID, closeConn: true})
}

func (cm *ConnectionManager) enqueue(msg broadcastMessage) {
	select {
	case cm.broadcastCh <- msg:
	default:
		log.Warn().Str("poll_id", msg.pollID).Msg("broadcast channel full, dropping message")
	}
}

// handleBroadcast processes one queued delivery.
func (cm *ConnectionManager) handleBroadcast(msg broadcastMessage) {
	if msg.closeConn {
		cm.mu.RLock()
		conn := cm.connections[msg.connectionID]
		cm.mu.RUnlock()
		if conn != nil {
			cm.unregisterConnection(conn)
		}
		return
	}

	var targets []*Connection

	cm.mu.RLock()
	switch {
	case msg.connectionID != "":
		if conn, ok := cm.connections[msg.connectionID]; ok {
			targets = append(targets, conn)
		}
	case msg.teachersOnly:
		for conn := range cm.teacherRooms[msg.pollID] {
			targets = append(targets, conn)
		}
	default:
		for conn := range cm.pollRooms[msg.pollID] {
			targets = append(targets, conn)
		}
	}
	cm.mu.RUnlock()

	if len(targets) == 0 {
		return
	}

	data, err := json.Marshal(msg.event)
	if err != nil {
		log.Error().Err(err).Msg("failed to marshal event for broadcast")
		return
	}

	for _, conn := range targets {
		select {
		case conn.Send <- data:
		default:
			// Connection is slow/dead, close it
			log.Warn().Str("connection_id", conn.ID).Msg("connection send buffer full, closing connection")
			cm.unregisterConnection(conn)
		}
	}

	log.Debug().
		Str("event_type", string(msg.event.Type)).
		Str("poll_id", msg.event.PollID).
		Int("connections", len(targets)).
		Msg("event broadcasted")
}

// unregisterConnection removes a connection from the manager and all rooms.
// Closing Send lets the write pump flush buffered frames, emit a close
// frame and shut the socket.
func (cm *ConnectionManager) unregisterConnection(conn *Connection) {
	cm.mu.Lock()
	defer cm.mu.Unlock()

	if _, exists := cm.connections[conn.ID]; !exists {
		return
	}
	delete(cm.connections, conn.ID)

	for pollID := range cm.pollRooms {
		cm.leaveRoomsLocked(pollID, conn)
	}
	close(conn.Send)

	log.Info().Str("connection_id", conn.ID).Msg("connection unregistered")
}

// ConnectionStats returns statistics about active connections.
func (cm *ConnectionManager) ConnectionStats() (totalConnections, activePolls int) {
	cm.mu.RLock()
	defer cm.mu.RUnlock()

	return len(cm.connections), len(cm.pollRooms)
}

// writePump handles sending messages to the WebSocket connection.
func (c *Connection) writePump() {
	ticker := time.NewTicker(c.Manager.config.PingInterval)
	defer func() {
		ticker.Stop()
		c.Conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.Send:
			c.Conn.SetWriteDeadline(time.Now().Add(c.Manager.config.WriteTimeout))
			if !ok {
				// Channel was closed
				c.Conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}

			if err := c.Conn.WriteMessage(websocket.TextMessage, message); err != nil {
				log.Error().Err(err).Str("connection_id", c.ID).Msg("failed to write message to WebSocket")
				return
			}

		case <-ticker.C:
			c.Conn.SetWriteDeadline(time.Now().Add(c.Manager.config.WriteTimeout))
			if err := c.Conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				log.Error().Err(err).Str("connection_id", c.ID).Msg("failed to send ping")
				return
			}
			c.LastPing = time.Now()
		}
	}
}

// readPump handles reading messages from the WebSocket connection.
func (c *Connection) readPump() {
	defer func() {
		c.Manager.handler.Disconnect(context.Background(), c.ID)
		c.Manager.unregisterConnection(c)
		c.Conn.Close()
	}()

	c.Conn.SetReadLimit(c.Manager.config.MaxMessageSize)
	c.Conn.SetReadDeadline(time.Now().Add(c.Manager.config.ReadTimeout))
	c.Conn.SetPongHandler(func(string) error {
		c.Conn.SetReadDeadline(time.Now().Add(c.Manager.config.ReadTimeout))
		c.LastPing = time.Now()
		return nil
	})

	for {
		_, message, err := c.Conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				log.Error().Err(err).Str("connection_id", c.ID).Msg("unexpected WebSocket close error")
			}
			break
		}

		c.Manager.dispatch(c, message)
		c.Conn.SetReadDeadline(time.Now().Add(c.Manager.config.ReadTimeout))
	}
}

// sendError reports a failed operation back to the requesting connection.
// Errors are never broadcast to a room.
func (cm *ConnectionManager) sendError(conn *Connection, pollID string, opErr error) {
	ae := apperrors.Convert(opErr)
	e, err := events.New(pollID, events.TypeError, events.ErrorPayload{
		Code:    ae.Code.String(),
		Message: ae.Message,
	})
	if err != nil {
		log.Error().Err(err).Msg("failed to build error event")
		return
	}
	cm.SendToConnection(conn.ID, e)
}
