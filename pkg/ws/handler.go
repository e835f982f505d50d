package ws

import (
	"net/http"

	"github.com/gorilla/websocket"

	"onemeter-mqtt-bridge/pkg/logger"
	"onemeter-mqtt-bridge/pkg/meter"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// SnapshotSource provides the current state of every meter for the
// greeting sent to fresh clients.
type SnapshotSource interface {
	Snapshots() []meter.Snapshot
}

// Handler upgrades HTTP connections and streams meter snapshots. The
// stream is one-way: inbound frames are read only to detect the close.
type Handler struct {
	hub    *Hub
	source SnapshotSource
}

func NewHandler(hub *Hub, source SnapshotSource) *Handler {
	return &Handler{hub: hub, source: source}
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		logger.LogWarn("WebSocket upgrade error: %v", err)
		return
	}

	client := &Client{
		hub:  h.hub,
		conn: conn,
		send: make(chan []byte, 256),
	}

	h.hub.Register(client)
	go client.writePump()

	h.sendHello(client)
	h.readPump(client)
}

// sendHello sends the current state of all meters so a fresh client
// does not wait for the next pulse.
func (h *Handler) sendHello(c *Client) {
	devices := make([]SnapshotPayload, 0)
	for _, snap := range h.source.Snapshots() {
		devices = append(devices, SnapshotPayloadFrom(snap))
	}

	msg, err := NewEnvelope(TypeHello, HelloPayload{Devices: devices})
	if err != nil {
		logger.LogWarn("Error creating hello message: %v", err)
		return
	}

	select {
	case c.send <- msg:
	default:
	}
}

func (h *Handler) readPump(c *Client) {
	defer func() {
		h.hub.Unregister(c)
		c.conn.Close()
	}()

	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				logger.LogDebug("WebSocket read error: %v", err)
			}
			return
		}
	}
}

// Broadcaster forwards coordinator snapshots to all connected clients.
// Implements meter.Observer.
type Broadcaster struct {
	hub *Hub
}

func NewBroadcaster(hub *Hub) *Broadcaster {
	return &Broadcaster{hub: hub}
}

// OnSnapshot implements meter.Observer.
func (b *Broadcaster) OnSnapshot(snap meter.Snapshot) {
	msg, err := NewEnvelope(TypeSnapshot, SnapshotPayloadFrom(snap))
	if err != nil {
		logger.LogWarn("Error creating snapshot message: %v", err)
		return
	}
	b.hub.Broadcast(msg)
}
