package server

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/rickgao/pricepulse/internal/metrics"
)

// Event types pushed to browser clients.
const (
	EventStatus        = "status"
	EventPrice         = "price"
	EventPrices        = "prices"
	EventNotification  = "notification"
	EventNotifications = "notifications"
	EventWeather       = "weather"
)

// Event is one JSON message on the push channel.
type Event struct {
	Type string `json:"type"`
	Data any    `json:"data"`
}

const (
	writeWait      = 2 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 4096
	clientBuffer   = 256
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// Hub fans events out to connected push clients. Register, unregister and
// broadcast are serialized on the Run loop.
type Hub struct {
	logger *slog.Logger

	// initial returns the events sent to a client right after it connects.
	initial func() []Event

	clients    map[*pushClient]struct{}
	broadcast  chan []byte
	register   chan *pushClient
	unregister chan *pushClient
	done       chan struct{}

	connected atomic.Int64
}

// NewHub creates a hub. initial may be nil.
func NewHub(initial func() []Event, logger *slog.Logger) *Hub {
	if logger == nil {
		logger = slog.Default()
	}
	return &Hub{
		logger:     logger.With("component", "push_hub"),
		initial:    initial,
		clients:    make(map[*pushClient]struct{}),
		broadcast:  make(chan []byte, 256),
		register:   make(chan *pushClient),
		unregister: make(chan *pushClient),
		done:       make(chan struct{}),
	}
}

// Run is the hub loop. It returns when ctx is cancelled, closing every
// client.
func (h *Hub) Run(ctx context.Context) {
	defer close(h.done)

	for {
		select {
		case <-ctx.Done():
			for c := range h.clients {
				h.drop(c)
			}
			h.setClients()
			return

		case c := <-h.register:
			h.clients[c] = struct{}{}
			h.setClients()
			if h.initial != nil {
				for _, ev := range h.initial() {
					data, err := json.Marshal(ev)
					if err != nil {
						h.logger.Warn("marshal initial event", "type", ev.Type, "error", err)
						continue
					}
					select {
					case c.send <- data:
					default:
					}
				}
			}

		case c := <-h.unregister:
			if _, ok := h.clients[c]; ok {
				h.drop(c)
				h.setClients()
			}

		case msg := <-h.broadcast:
			for c := range h.clients {
				select {
				case c.send <- msg:
				default:
					// Too slow; prune so the loop never blocks.
					h.drop(c)
					h.logger.Debug("dropped slow push client")
				}
			}
			h.setClients()
		}
	}
}

func (h *Hub) setClients() {
	h.connected.Store(int64(len(h.clients)))
	metrics.SetPushClients(len(h.clients))
}

func (h *Hub) drop(c *pushClient) {
	delete(h.clients, c)
	close(c.send)
}

// Publish queues an event for every client. Drops the event when the
// broadcast queue is full or the hub has stopped.
func (h *Hub) Publish(ev Event) {
	data, err := json.Marshal(ev)
	if err != nil {
		h.logger.Warn("marshal event", "type", ev.Type, "error", err)
		return
	}
	select {
	case h.broadcast <- data:
	case <-h.done:
	default:
		h.logger.Debug("broadcast queue full, dropping event", "type", ev.Type)
	}
}

// Clients returns the number of connected clients.
func (h *Hub) Clients() int {
	return int(h.connected.Load())
}

// ServeWS upgrades the request and attaches a client to the hub.
func (h *Hub) ServeWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Info("websocket upgrade failed", "error", err)
		return
	}

	c := &pushClient{
		hub:  h,
		conn: conn,
		send: make(chan []byte, clientBuffer),
	}

	select {
	case h.register <- c:
	case <-h.done:
		conn.Close()
		return
	}

	go c.writePump()
	go c.readPump()
}

// -----------------------------------------------------------------------------
// Client pumps
// -----------------------------------------------------------------------------

type pushClient struct {
	hub  *Hub
	conn *websocket.Conn
	send chan []byte
}

// readPump discards client messages and watches for pongs.
func (c *pushClient) readPump() {
	defer func() {
		select {
		case c.hub.unregister <- c:
		case <-c.hub.done:
		}
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
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.hub.logger.Debug("push client read error", "error", err)
			}
			return
		}
	}
}

func (c *pushClient) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case msg, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
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
