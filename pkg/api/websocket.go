package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/uhyunpark/bomex/pkg/app/exchange"
	"github.com/uhyunpark/bomex/pkg/metrics"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = 54 * time.Second
	sendBuffer = 256
	maxMessage = 64 << 10
)

var errRateLimited = errors.New("rate limited")

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		// Allow all origins (CORS handled by main server)
		return true
	},
}

// Hub maintains active WebSocket connections and broadcasts events to all
// of them. Broadcast is synchronous so every client sees events in the
// order the exchange emitted them.
type Hub struct {
	clients map[*Client]bool
	mu      sync.RWMutex
	log     *zap.SugaredLogger
}

func NewHub(log *zap.SugaredLogger) *Hub {
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	return &Hub{clients: make(map[*Client]bool), log: log}
}

// Register adds a client to the broadcast set.
func (h *Hub) Register(c *Client) {
	h.mu.Lock()
	h.clients[c] = true
	n := len(h.clients)
	h.mu.Unlock()
	metrics.WSConns.Inc()
	h.log.Infow("ws_client_connected", "client", c.id, "total", n)
}

// Unregister removes a client and closes its send queue. Safe to call more
// than once.
func (h *Hub) Unregister(c *Client) {
	h.mu.Lock()
	_, ok := h.clients[c]
	if ok {
		delete(h.clients, c)
		metrics.WSConns.Dec()
	}
	n := len(h.clients)
	h.mu.Unlock()
	c.closeSend()
	if ok {
		h.log.Infow("ws_client_disconnected", "client", c.id, "total", n)
	}
}

// Len returns the number of registered clients.
func (h *Hub) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Broadcast implements exchange.Broadcaster. Clients whose buffer is full
// are disconnected.
func (h *Hub) Broadcast(ev exchange.Event) {
	message, err := json.Marshal(ev)
	if err != nil {
		h.log.Errorw("ws_marshal_failed", "type", ev.Type, "err", err)
		return
	}

	var slow []*Client
	h.mu.RLock()
	for client := range h.clients {
		if !client.enqueue(message) {
			slow = append(slow, client)
		}
	}
	h.mu.RUnlock()

	for _, c := range slow {
		metrics.WSDroppedTotal.WithLabelValues("slow_client").Inc()
		h.log.Warnw("ws_client_too_slow", "client", c.id)
		h.Unregister(c)
	}
}

// Client represents a WebSocket connection
type Client struct {
	hub  *Hub
	conn *websocket.Conn
	id   string
	log  *zap.SugaredLogger

	sendMu sync.Mutex
	send   chan []byte
	closed bool

	limiter *rate.Limiter
	// token tags the orders placed on this connection.
	token  string
	placed bool // read pump only
}

func newClient(hub *Hub, conn *websocket.Conn, limiter *rate.Limiter, log *zap.SugaredLogger) *Client {
	return &Client{
		hub:     hub,
		conn:    conn,
		id:      conn.RemoteAddr().String(),
		log:     log,
		send:    make(chan []byte, sendBuffer),
		limiter: limiter,
		token:   uuid.NewString(),
	}
}

// enqueue queues a message without blocking. It reports false if the
// client is closed or its buffer is full.
func (c *Client) enqueue(message []byte) bool {
	c.sendMu.Lock()
	defer c.sendMu.Unlock()
	if c.closed {
		return false
	}
	select {
	case c.send <- message:
		return true
	default:
		return false
	}
}

func (c *Client) closeSend() {
	c.sendMu.Lock()
	defer c.sendMu.Unlock()
	if !c.closed {
		c.closed = true
		close(c.send)
	}
}

// sendEvent delivers an event to this client only.
func (c *Client) sendEvent(ev exchange.Event) {
	message, err := json.Marshal(ev)
	if err != nil {
		c.log.Errorw("ws_marshal_failed", "type", ev.Type, "err", err)
		return
	}
	if !c.enqueue(message) {
		c.hub.Unregister(c)
	}
}

// readPump turns inbound messages into exchange requests until the
// connection fails. On exit it optionally removes the resting orders placed
// through this connection.
func (c *Client) readPump(ex Exchange, clearOnDisconnect bool) {
	defer func() {
		c.hub.Unregister(c)
		c.conn.Close()
		if clearOnDisconnect && c.placed {
			if err := ex.Submit(exchange.Request{Kind: exchange.KindDisconnect, Conn: c.token}); err != nil {
				c.log.Warnw("ws_clear_on_disconnect_failed", "client", c.id, "err", err)
			}
		}
	}()

	c.conn.SetReadLimit(maxMessage)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.log.Debugw("ws_read_error", "client", c.id, "err", err)
			}
			return
		}

		typ, req, err := decodeRequest(message)
		if err != nil {
			c.log.Debugw("ws_bad_request", "client", c.id, "err", err)
			c.sendEvent(exchange.NewErrorEvent(typ, err))
			continue
		}
		if c.limiter != nil && !c.limiter.Allow() {
			metrics.WSDroppedTotal.WithLabelValues("rate_limited").Inc()
			c.sendEvent(exchange.NewErrorEvent(typ, errRateLimited))
			continue
		}
		if req.Kind == exchange.KindOrder {
			req.Conn = c.token
			c.placed = true
		}

		req.Reply = c.sendEvent
		if err := ex.Submit(req); err != nil {
			c.sendEvent(exchange.NewErrorEvent(typ, err))
		}
	}
}

// writePump writes one event per frame and keeps the connection alive
// with pings.
func (c *Client) writePump() {
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
				// Hub closed the channel
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				c.log.Debugw("ws_write_error", "client", c.id, "err", err)
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

// handleWebSocket upgrades the connection and subscribes it through the
// exchange loop: initial_state is queued first, then the client joins the
// broadcast set.
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Warnw("ws_upgrade_failed", "remote", r.RemoteAddr, "err", err)
		return
	}

	var limiter *rate.Limiter
	if s.cfg.API.WSRate > 0 {
		limiter = rate.NewLimiter(rate.Limit(s.cfg.API.WSRate), s.cfg.API.WSBurst)
	}
	client := newClient(s.hub, conn, limiter, s.log)

	err = s.app.Submit(exchange.Request{
		Kind:   exchange.KindSubscribe,
		Reply:  client.sendEvent,
		Attach: func() { s.hub.Register(client) },
	})
	if err != nil {
		s.log.Warnw("ws_subscribe_failed", "client", client.id, "err", err)
		conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseTryAgainLater, err.Error()),
			time.Now().Add(writeWait))
		conn.Close()
		return
	}

	go client.writePump()
	go client.readPump(s.app, s.cfg.Exchange.ClearOnDisconnect)
}
