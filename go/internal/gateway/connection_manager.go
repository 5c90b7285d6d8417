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
)

// Frame types pushed to websocket clients.
const (
	FrameState   = "state"
	FrameEvicted = "evicted"
)

// Frame is one message to a display. Every state frame carries the whole
// room so a client that missed frames needs nothing else.
type Frame struct {
	Type   string     `json:"type"`
	Event  string     `json:"event,omitempty"`
	State  *RoomState `json:"state,omitempty"`
	Reason string     `json:"reason,omitempty"`
}

// ConnectionManager tracks websocket connections per room.
type ConnectionManager struct {
	rooms map[uuid.UUID]map[*Connection]bool
	mu    sync.RWMutex

	upgrader websocket.Upgrader
	config   ConnectionConfig

	broadcastCh chan broadcast
	// onEmpty runs when the last connection of a room goes away.
	onEmpty func(roomID uuid.UUID)
}

// Connection is one websocket client watching a room.
type Connection struct {
	ID      string
	RoomID  uuid.UUID
	Conn    *websocket.Conn
	Send    chan []byte
	Manager *ConnectionManager

	ConnectedAt time.Time
}

type ConnectionConfig struct {
	WriteTimeout    time.Duration
	ReadTimeout     time.Duration
	PingInterval    time.Duration
	MaxMessageSize  int64
	ReadBufferSize  int
	WriteBufferSize int
	CheckOrigin     func(r *http.Request) bool
}

type broadcast struct {
	roomID uuid.UUID
	frame  Frame
	// closeAfter drops the room's connections once the frame is queued.
	closeAfter bool
}

func DefaultConnectionConfig() ConnectionConfig {
	return ConnectionConfig{
		WriteTimeout:    10 * time.Second,
		ReadTimeout:     60 * time.Second,
		PingInterval:    30 * time.Second,
		MaxMessageSize:  1024,
		ReadBufferSize:  1024,
		WriteBufferSize: 4096,
		CheckOrigin: func(r *http.Request) bool {
			return true
		},
	}
}

func NewConnectionManager(config ConnectionConfig) *ConnectionManager {
	return &ConnectionManager{
		rooms: make(map[uuid.UUID]map[*Connection]bool),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  config.ReadBufferSize,
			WriteBufferSize: config.WriteBufferSize,
			CheckOrigin:     config.CheckOrigin,
		},
		config:      config,
		broadcastCh: make(chan broadcast, 1000),
	}
}

// Start processes broadcasts until ctx is done.
func (cm *ConnectionManager) Start(ctx context.Context) {
	log.Info().Msg("connection manager started")
	for {
		select {
		case <-ctx.Done():
			log.Info().Msg("connection manager shutting down")
			return
		case msg := <-cm.broadcastCh:
			cm.handleBroadcast(msg)
		}
	}
}

// UpgradeConnection upgrades the request and registers the connection for
// roomID. initial, when set, is the first frame the client receives.
func (cm *ConnectionManager) UpgradeConnection(w http.ResponseWriter, r *http.Request, roomID uuid.UUID, initial *Frame) (*Connection, error) {
	conn, err := cm.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to upgrade connection: %w", err)
	}

	c := &Connection{
		ID:          uuid.New().String(),
		RoomID:      roomID,
		Conn:        conn,
		Send:        make(chan []byte, 256),
		Manager:     cm,
		ConnectedAt: time.Now(),
	}
	if initial != nil {
		data, err := json.Marshal(initial)
		if err == nil {
			c.Send <- data
		}
	}
	cm.registerConnection(c)

	go c.writePump()
	go c.readPump()

	log.Info().
		Str("connection_id", c.ID).
		Str("room_id", roomID.String()).
		Msg("websocket connection established")
	return c, nil
}

func (cm *ConnectionManager) registerConnection(c *Connection) {
	cm.mu.Lock()
	defer cm.mu.Unlock()

	if cm.rooms[c.RoomID] == nil {
		cm.rooms[c.RoomID] = make(map[*Connection]bool)
	}
	cm.rooms[c.RoomID][c] = true

	log.Debug().
		Str("connection_id", c.ID).
		Str("room_id", c.RoomID.String()).
		Int("total_connections", len(cm.rooms[c.RoomID])).
		Msg("connection registered")
}

func (cm *ConnectionManager) unregisterConnection(c *Connection) {
	cm.mu.Lock()
	conns, ok := cm.rooms[c.RoomID]
	if !ok || !conns[c] {
		cm.mu.Unlock()
		return
	}
	delete(conns, c)
	close(c.Send)
	empty := len(conns) == 0
	if empty {
		delete(cm.rooms, c.RoomID)
	}
	onEmpty := cm.onEmpty
	cm.mu.Unlock()

	log.Info().
		Str("connection_id", c.ID).
		Str("room_id", c.RoomID.String()).
		Msg("connection unregistered")
	if empty && onEmpty != nil {
		onEmpty(c.RoomID)
	}
}

// BroadcastToRoom queues frame for every connection watching roomID.
func (cm *ConnectionManager) BroadcastToRoom(roomID uuid.UUID, frame Frame) {
	cm.enqueue(broadcast{roomID: roomID, frame: frame})
}

// CloseRoom sends frame and then disconnects everyone watching roomID.
func (cm *ConnectionManager) CloseRoom(roomID uuid.UUID, frame Frame) {
	cm.enqueue(broadcast{roomID: roomID, frame: frame, closeAfter: true})
}

func (cm *ConnectionManager) enqueue(msg broadcast) {
	select {
	case cm.broadcastCh <- msg:
	default:
		log.Warn().Str("room_id", msg.roomID.String()).Msg("broadcast channel full, dropping frame")
	}
}

func (cm *ConnectionManager) handleBroadcast(msg broadcast) {
	targets := cm.connections(msg.roomID)
	if len(targets) == 0 {
		return
	}

	data, err := json.Marshal(msg.frame)
	if err != nil {
		log.Error().Err(err).Msg("failed to marshal frame for broadcast")
		return
	}

	for _, c := range targets {
		select {
		case c.Send <- data:
		default:
			log.Warn().Str("connection_id", c.ID).Msg("connection send buffer full, closing connection")
			cm.unregisterConnection(c)
			c.Conn.Close()
		}
		if msg.closeAfter {
			cm.unregisterConnection(c)
		}
	}

	log.Debug().
		Str("frame", msg.frame.Type).
		Str("event", msg.frame.Event).
		Str("room_id", msg.roomID.String()).
		Int("connections", len(targets)).
		Msg("frame broadcasted")
}

func (cm *ConnectionManager) connections(roomID uuid.UUID) []*Connection {
	cm.mu.RLock()
	defer cm.mu.RUnlock()
	var out []*Connection
	for c := range cm.rooms[roomID] {
		out = append(out, c)
	}
	return out
}

// Count returns the number of connections watching roomID.
func (cm *ConnectionManager) Count(roomID uuid.UUID) int {
	cm.mu.RLock()
	defer cm.mu.RUnlock()
	return len(cm.rooms[roomID])
}

// Stats summarizes active connections.
func (cm *ConnectionManager) Stats() ConnectionStats {
	cm.mu.RLock()
	defer cm.mu.RUnlock()

	stats := ConnectionStats{Rooms: make(map[string]int, len(cm.rooms))}
	for roomID, conns := range cm.rooms {
		stats.Total += len(conns)
		stats.Rooms[roomID.String()] = len(conns)
	}
	return stats
}

type ConnectionStats struct {
	Total int            `json:"total_connections"`
	Rooms map[string]int `json:"rooms"`
}

// writePump drains Send into the socket. A closed Send ends the connection
// with a close frame.
func (c *Connection) writePump() {
	ticker := time.NewTicker(c.Manager.config.PingInterval)
	defer func() {
		ticker.Stop()
		c.Conn.Close()
		c.Manager.unregisterConnection(c)
	}()

	for {
		select {
		case message, ok := <-c.Send:
			c.Conn.SetWriteDeadline(time.Now().Add(c.Manager.config.WriteTimeout))
			if !ok {
				c.Conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.Conn.WriteMessage(websocket.TextMessage, message); err != nil {
				log.Error().Err(err).Str("connection_id", c.ID).Msg("failed to write message to websocket")
				return
			}

		case <-ticker.C:
			c.Conn.SetWriteDeadline(time.Now().Add(c.Manager.config.WriteTimeout))
			if err := c.Conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				log.Debug().Err(err).Str("connection_id", c.ID).Msg("failed to send ping")
				return
			}
		}
	}
}

// readPump only keeps the read deadline fresh; displays send nothing.
func (c *Connection) readPump() {
	defer func() {
		c.Manager.unregisterConnection(c)
		c.Conn.Close()
	}()

	c.Conn.SetReadLimit(c.Manager.config.MaxMessageSize)
	c.Conn.SetReadDeadline(time.Now().Add(c.Manager.config.ReadTimeout))
	c.Conn.SetPongHandler(func(string) error {
		c.Conn.SetReadDeadline(time.Now().Add(c.Manager.config.ReadTimeout))
		return nil
	})

	for {
		if _, _, err := c.Conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				log.Error().Err(err).Str("connection_id", c.ID).Msg("unexpected websocket close error")
			}
			return
		}
		c.Conn.SetReadDeadline(time.Now().Add(c.Manager.config.ReadTimeout))
	}
}
