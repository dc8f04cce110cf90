// hub.go — websocket-хаб широковещательных событий.
// Заменяет socket.io исходного сервера: клиенты подписываются через
// GET /ws, события рассылаются всем активным соединениям.
package events

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
)

const (
	// Время на запись кадра клиенту.
	writeWait = 10 * time.Second

	// Время ожидания pong от клиента.
	pongWait = 60 * time.Second

	// Период ping. Должен быть меньше pongWait.
	pingPeriod = (pongWait * 9) / 10

	// Размер буфера исходящих сообщений клиента.
	sendBuffer = 64
)

// Hub поддерживает набор активных клиентов и рассылает им события.
type Hub struct {
	clients    map[*client]struct{}
	register   chan *client
	unregister chan *client
	broadcast  chan []byte
	upgrader   websocket.Upgrader
	logger     *slog.Logger
}

// NewHub создаёт websocket-хаб. Запуск цикла рассылки — Run.
func NewHub(logger *slog.Logger) *Hub {
	return &Hub{
		clients:    make(map[*client]struct{}),
		register:   make(chan *client),
		unregister: make(chan *client),
		broadcast:  make(chan []byte, sendBuffer),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
		logger: logger.With(slog.String("component", "events_hub")),
	}
}

// Run обрабатывает регистрацию клиентов и рассылку до закрытия done.
func (h *Hub) Run(done <-chan struct{}) {
	for {
		select {
		case c := <-h.register:
			h.clients[c] = struct{}{}
		case c := <-h.unregister:
			if _, ok := h.clients[c]; ok {
				delete(h.clients, c)
				close(c.send)
			}
		case msg := <-h.broadcast:
			for c := range h.clients {
				select {
				case c.send <- msg:
				default:
					// Медленный клиент — отключаем.
					delete(h.clients, c)
					close(c.send)
				}
			}
		case <-done:
			for c := range h.clients {
				close(c.send)
			}
			return
		}
	}
}

// Emit сериализует событие и рассылает его всем подписчикам.
func (h *Hub) Emit(event string, payload any) {
	frame, err := marshalEnvelope(event, payload)
	if err != nil {
		h.logger.Warn("Не удалось сериализовать событие",
			slog.String("event", event),
			slog.String("error", err.Error()),
		)
		return
	}
	select {
	case h.broadcast <- frame:
	default:
		h.logger.Warn("Канал рассылки переполнен, событие отброшено",
			slog.String("event", event),
		)
	}
}

// ServeWS — HTTP-обработчик подписки на события (upgrade до websocket).
func (h *Hub) ServeWS(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("Ошибка upgrade websocket", slog.String("error", err.Error()))
		return
	}
	c := &client{hub: h, conn: conn, send: make(chan []byte, sendBuffer)}
	h.register <- c

	go c.writePump()
	go c.readPump()
}

// client — посредник между websocket-соединением и хабом.
type client struct {
	hub  *Hub
	conn *websocket.Conn
	send chan []byte
}

// readPump читает входящие кадры (только для обработки close/pong),
// содержимое от клиентов игнорируется — канал односторонний.
func (c *client) readPump() {
	defer func() {
		c.hub.unregister <- c
		c.conn.Close()
	}()
	c.conn.SetReadLimit(512)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			break
		}
	}
}

// writePump пишет кадры из канала send и поддерживает ping.
func (c *client) writePump() {
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
