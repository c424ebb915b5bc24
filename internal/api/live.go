package api

import (
	"encoding/json"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/kovalyov-valentin/ai-news-aggregator/internal/metrics"
	"github.com/kovalyov-valentin/ai-news-aggregator/internal/refresh"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = pongWait * 9 / 10
	// Сколько событий может ждать отправки одному клиенту
	sendBuffer = 8
)

// Сообщение, которое получает страница после обновления кеша
type liveMessage struct {
	Type string `json:"type"`
	refresh.Event
}

type liveClient struct {
	conn *websocket.Conn
	send chan []byte
}

// Hub раздает события об обновлениях всем подключенным по websocket страницам.
// Клиенты только слушают, входящие сообщения игнорируются.
type Hub struct {
	upgrader websocket.Upgrader

	mu      sync.Mutex
	clients map[*liveClient]struct{}
}

func NewHub() *Hub {
	return &Hub{
		clients: make(map[*liveClient]struct{}),
	}
}

func (h *Hub) OnRefresh(event refresh.Event) {
	data, err := json.Marshal(liveMessage{Type: "refresh", Event: event})
	if err != nil {
		log.Printf("[ERROR] failed to marshal refresh event: %v", err)
		return
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	for c := range h.clients {
		select {
		case c.send <- data:
		default:
			// Медленный клиент пропускает событие, следующее он все равно получит
			log.Printf("[WARN] live client %s is lagging, event dropped", c.conn.RemoteAddr())
		}
	}
}

// GET /ws
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("[ERROR] websocket upgrade failed: %v", err)
		return
	}

	c := &liveClient{conn: conn, send: make(chan []byte, sendBuffer)}
	h.register(c)

	go h.writeLoop(c)
	h.readLoop(c)
}

// Close отключает всех клиентов, нужно при остановке сервера:
// Shutdown не закрывает захваченные websocket соединения
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()

	for c := range h.clients {
		_ = c.conn.Close()
	}
}

func (h *Hub) register(c *liveClient) {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.clients[c] = struct{}{}
	metrics.LiveClients.Inc()
}

func (h *Hub) unregister(c *liveClient) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if _, ok := h.clients[c]; !ok {
		return
	}

	delete(h.clients, c)
	close(c.send)
	metrics.LiveClients.Dec()
}

func (h *Hub) readLoop(c *liveClient) {
	defer func() {
		h.unregister(c)
		_ = c.conn.Close()
	}()

	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				log.Printf("[WARN] websocket unexpected close: %v", err)
			}
			return
		}
	}
}

func (h *Hub) writeLoop(c *liveClient) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
	}()

	for {
		select {
		case data, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}

			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
