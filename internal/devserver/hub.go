package devserver

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"svgstudio/internal/infra"
	"svgstudio/internal/middleware"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = (pongWait * 9) / 10
	sendBuffer = 64
)

type envelope struct {
	Event string `json:"event"`
	Data  any    `json:"data"`
}

type subscriber struct {
	owner string
	conn  *websocket.Conn
	send  chan []byte
	once  sync.Once
}

func (s *subscriber) close() {
	s.once.Do(func() { close(s.send) })
}

// Hub fans push events out to the sockets of the owning user.
type Hub struct {
	upgrader websocket.Upgrader
	logger   *infra.Logger

	mu          sync.Mutex
	subscribers map[*subscriber]struct{}
	closed      bool
}

func NewHub(logger *infra.Logger) *Hub {
	return &Hub{
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 4096,
			// bearer auth runs before the upgrade
			CheckOrigin: func(*http.Request) bool { return true },
		},
		logger:      logger,
		subscribers: make(map[*subscriber]struct{}),
	}
}

// ServeHTTP upgrades an authenticated request and keeps the socket until the
// client leaves or the hub closes.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	owner := middleware.UserIDFromContext(r.Context())
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn().Err(err).Msg("devserver: socket upgrade failed")
		return
	}
	sub := &subscriber{owner: owner, conn: conn, send: make(chan []byte, sendBuffer)}
	if !h.register(sub) {
		_ = conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseGoingAway, "shutting down"), time.Now().Add(writeWait))
		conn.Close()
		return
	}
	h.logger.Debug().Str("user_id", owner).Msg("devserver: socket connected")

	go h.writeLoop(sub)
	h.readLoop(sub)
}

// Publish sends event to every socket of owner. Slow sockets are dropped.
func (h *Hub) Publish(owner, event string, data any) {
	raw, err := json.Marshal(envelope{Event: event, Data: data})
	if err != nil {
		h.logger.Error().Err(err).Str("event", event).Msg("devserver: encode push event")
		return
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	for sub := range h.subscribers {
		if sub.owner != owner {
			continue
		}
		select {
		case sub.send <- raw:
		default:
			h.logger.Warn().Str("user_id", owner).Msg("devserver: dropping slow socket")
			delete(h.subscribers, sub)
			sub.close()
		}
	}
}

// Subscribers reports how many sockets are connected for owner.
func (h *Hub) Subscribers(owner string) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	n := 0
	for sub := range h.subscribers {
		if sub.owner == owner {
			n++
		}
	}
	return n
}

// Close disconnects every socket and refuses new ones.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.closed = true
	for sub := range h.subscribers {
		delete(h.subscribers, sub)
		sub.close()
	}
}

func (h *Hub) register(sub *subscriber) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return false
	}
	h.subscribers[sub] = struct{}{}
	return true
}

func (h *Hub) unregister(sub *subscriber) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.subscribers[sub]; ok {
		delete(h.subscribers, sub)
		sub.close()
	}
}

// readLoop only services control frames; clients never send events.
func (h *Hub) readLoop(sub *subscriber) {
	defer h.unregister(sub)
	sub.conn.SetReadLimit(4096)
	_ = sub.conn.SetReadDeadline(time.Now().Add(pongWait))
	sub.conn.SetPongHandler(func(string) error {
		return sub.conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		if _, _, err := sub.conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (h *Hub) writeLoop(sub *subscriber) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		sub.conn.Close()
	}()
	for {
		select {
		case msg, ok := <-sub.send:
			_ = sub.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = sub.conn.WriteMessage(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
				return
			}
			if err := sub.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}
		case <-ticker.C:
			_ = sub.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := sub.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
