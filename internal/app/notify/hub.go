package notify

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/R3E-Network/sealed_scores/internal/app/domain/score"
	"github.com/R3E-Network/sealed_scores/pkg/logger"
)

const (
	// Time allowed to write a message to the peer.
	writeWait = 10 * time.Second

	// Time allowed to read the next pong message from the peer.
	pongWait = 60 * time.Second

	// Send pings with this period. Must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10

	maxMessageSize    = 512
	channelBufferSize = 256
)

// Hub streams events to WebSocket subscribers. Clients may filter by
// ?owner=<hex> and resume with ?since=<sequence> from the replay log.
type Hub struct {
	mu       sync.RWMutex
	clients  map[*wsClient]struct{}
	replay   *Log
	upgrader websocket.Upgrader
	log      *logger.Logger
}

type wsClient struct {
	hub    *Hub
	conn   *websocket.Conn
	send   chan []byte
	filter Filter

	mu      sync.Mutex
	lastSeq uint64
	closed  bool
}

var _ Notifier = (*Hub)(nil)

// NewHub creates a hub. replay may be nil, in which case ?since is ignored.
func NewHub(replay *Log, log *logger.Logger) *Hub {
	if log == nil {
		log = logger.NewDefault("notify-hub")
	}
	return &Hub{
		clients: make(map[*wsClient]struct{}),
		replay:  replay,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
		log: log,
	}
}

// Notify queues evt for every matching client. Slow clients whose buffer
// is full are disconnected.
func (h *Hub) Notify(_ context.Context, evt score.Event) error {
	payload, err := json.Marshal(Envelope{Type: score.EventName, Event: evt})
	if err != nil {
		return err
	}

	h.mu.RLock()
	clients := make([]*wsClient, 0, len(h.clients))
	for c := range h.clients {
		clients = append(clients, c)
	}
	h.mu.RUnlock()

	for _, c := range clients {
		if c.filter != nil && !c.filter(evt) {
			continue
		}
		if !c.enqueue(evt.Sequence, payload) {
			h.log.WithField("sequence", evt.Sequence).Warn("websocket client too slow, disconnecting")
			h.unregister(c)
		}
	}
	return nil
}

// ServeHTTP upgrades the connection and streams events until it closes.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	var filter Filter
	if raw := r.URL.Query().Get("owner"); raw != "" {
		owner, err := score.ParseOwner(raw)
		if err != nil {
			http.Error(w, "invalid owner", http.StatusBadRequest)
			return
		}
		filter = OwnerFilter(owner)
	}
	var since uint64
	resume := false
	if raw := r.URL.Query().Get("since"); raw != "" {
		v, err := strconv.ParseUint(raw, 10, 64)
		if err != nil {
			http.Error(w, "invalid since", http.StatusBadRequest)
			return
		}
		since, resume = v, true
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.WithError(err).Warn("websocket upgrade failed")
		return
	}

	c := &wsClient{hub: h, conn: conn, send: make(chan []byte, channelBufferSize), filter: filter}

	// Hold the client lock across registration and replay so live events
	// queue behind the replayed ones and duplicates are dropped by sequence.
	c.mu.Lock()
	h.mu.Lock()
	h.clients[c] = struct{}{}
	h.mu.Unlock()
	if resume && h.replay != nil {
		for _, evt := range h.replay.Since(since, filter) {
			payload, err := json.Marshal(Envelope{Type: score.EventName, Event: evt})
			if err != nil {
				continue
			}
			c.enqueueLocked(evt.Sequence, payload)
		}
	}
	c.mu.Unlock()

	h.log.WithField("clients", h.ClientCount()).Debug("websocket client connected")

	go c.writePump()
	c.readPump()
}

// ClientCount returns the number of connected clients.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Close disconnects every client.
func (h *Hub) Close() {
	h.mu.RLock()
	clients := make([]*wsClient, 0, len(h.clients))
	for c := range h.clients {
		clients = append(clients, c)
	}
	h.mu.RUnlock()
	for _, c := range clients {
		h.unregister(c)
	}
}

func (h *Hub) unregister(c *wsClient) {
	h.mu.Lock()
	delete(h.clients, c)
	h.mu.Unlock()

	c.mu.Lock()
	if !c.closed {
		c.closed = true
		close(c.send)
	}
	c.mu.Unlock()
}

func (c *wsClient) enqueue(seq uint64, payload []byte) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.enqueueLocked(seq, payload)
}

// enqueueLocked reports false only when the client buffer overflowed.
func (c *wsClient) enqueueLocked(seq uint64, payload []byte) bool {
	if c.closed || (seq != 0 && seq <= c.lastSeq) {
		return true
	}
	select {
	case c.send <- payload:
		if seq > c.lastSeq {
			c.lastSeq = seq
		}
		return true
	default:
		return false
	}
}

func (c *wsClient) readPump() {
	defer func() {
		c.hub.unregister(c)
		c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.hub.log.WithError(err).Debug("websocket read failed")
			}
			return
		}
	}
}

func (c *wsClient) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
