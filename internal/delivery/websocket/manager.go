package websocket

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

// Темы, на которые клиент подписан при подключении
const (
	TopicSessions = "sessions"
	TopicTasks    = "tasks"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = 54 * time.Second
	maxMessageSize = 512
)

// Manager управляет WebSocket-соединениями
type Manager struct {
	clients    map[uuid.UUID]*Client
	register   chan *Client
	unregister chan *Client
	broadcast  chan Message
	mu         sync.RWMutex
	upgrader   websocket.Upgrader
	logger     *zap.Logger
	done       chan struct{}

	// onDisconnect вызывается, когда закрыто последнее соединение пользователя.
	onDisconnect []func(userID string)
}

// Client представляет WebSocket-клиента
type Client struct {
	ID      uuid.UUID
	UserID  string
	conn    *websocket.Conn
	manager *Manager
	send    chan []byte

	topicsMu sync.RWMutex
	topics   map[string]bool
}

// Message представляет сообщение для отправки через WebSocket
type Message struct {
	Type    string      `json:"type"`
	Topic   string      `json:"topic"`
	Payload interface{} `json:"payload"`
	Target  string      `json:"target"` // ID пользователя
}

// NewManager создает менеджер. allowedOrigins пустой - разрешены все источники.
func NewManager(allowedOrigins []string, logger *zap.Logger) *Manager {
	origins := make(map[string]bool, len(allowedOrigins))
	for _, o := range allowedOrigins {
		origins[o] = true
	}
	return &Manager{
		clients:    make(map[uuid.UUID]*Client),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		broadcast:  make(chan Message, 64),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				origin := r.Header.Get("Origin")
				return len(origins) == 0 || origin == "" || origins[origin]
			},
		},
		logger: logger.Named("WebSocketManager"),
		done:   make(chan struct{}),
	}
}

// OnDisconnect регистрирует обработчик ухода пользователя (все его вкладки закрыты).
// Вызывать до Start.
func (m *Manager) OnDisconnect(fn func(userID string)) {
	m.onDisconnect = append(m.onDisconnect, fn)
}

// Start запускает цикл менеджера до отмены ctx
func (m *Manager) Start(ctx context.Context) {
	go m.run(ctx)
}

func (m *Manager) run(ctx context.Context) {
	defer close(m.done)
	for {
		select {
		case <-ctx.Done():
			m.mu.Lock()
			for id, c := range m.clients {
				close(c.send)
				delete(m.clients, id)
			}
			m.mu.Unlock()
			return

		case client := <-m.register:
			m.mu.Lock()
			m.clients[client.ID] = client
			m.mu.Unlock()
			m.logger.Debug("Client connected", zap.Stringer("clientID", client.ID), zap.String("userID", client.UserID))

		case client := <-m.unregister:
			m.remove(client)

		case message := <-m.broadcast:
			data, err := json.Marshal(message)
			if err != nil {
				m.logger.Error("Failed to marshal websocket message", zap.String("type", message.Type), zap.Error(err))
				continue
			}
			m.deliver(message, data)
		}
	}
}

func (m *Manager) remove(client *Client) {
	m.mu.Lock()
	if _, ok := m.clients[client.ID]; !ok {
		m.mu.Unlock()
		return
	}
	close(client.send)
	delete(m.clients, client.ID)
	last := true
	for _, c := range m.clients {
		if c.UserID == client.UserID {
			last = false
			break
		}
	}
	m.mu.Unlock()

	m.logger.Debug("Client disconnected", zap.Stringer("clientID", client.ID), zap.String("userID", client.UserID))
	if last {
		for _, fn := range m.onDisconnect {
			fn(client.UserID)
		}
	}
}

func (m *Manager) deliver(message Message, data []byte) {
	var slow []*Client
	m.mu.RLock()
	for _, client := range m.clients {
		if client.UserID != message.Target {
			continue
		}
		if !client.IsSubscribed(message.Topic) {
			continue
		}
		select {
		case client.send <- data:
		default:
			slow = append(slow, client)
		}
	}
	m.mu.RUnlock()

	for _, c := range slow {
		m.logger.Warn("Dropping slow websocket client", zap.Stringer("clientID", c.ID), zap.String("userID", c.UserID))
		m.remove(c)
	}
}

// ConnectedClients возвращает число открытых соединений.
func (m *Manager) ConnectedClients() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.clients)
}

// Handler обрабатывает новые WebSocket-соединения (/ws?user_id=...)
func (m *Manager) Handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		userID := r.URL.Query().Get("user_id")
		if userID == "" {
			http.Error(w, "Отсутствует user_id", http.StatusBadRequest)
			return
		}

		conn, err := m.upgrader.Upgrade(w, r, nil)
		if err != nil {
			m.logger.Warn("Websocket upgrade failed", zap.Error(err))
			return
		}

		client := &Client{
			ID:      uuid.New(),
			UserID:  userID,
			conn:    conn,
			manager: m,
			send:    make(chan []byte, 256),
			topics:  map[string]bool{TopicSessions: true, TopicTasks: true},
		}

		select {
		case m.register <- client:
		case <-m.done:
			conn.Close()
			return
		}

		go client.readPump()
		go client.writePump()
	})
}

// SendToUser отправляет сообщение конкретному пользователю
func (m *Manager) SendToUser(userID, messageType, topic string, payload interface{}) {
	m.enqueue(Message{Type: messageType, Topic: topic, Payload: payload, Target: userID})
}

func (m *Manager) enqueue(msg Message) {
	select {
	case m.broadcast <- msg:
	case <-m.done:
	}
}

// readPump обрабатывает входящие команды клиента (подписка/отписка от тем)
func (c *Client) readPump() {
	defer func() {
		select {
		case c.manager.unregister <- c:
		case <-c.manager.done:
		}
		c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.manager.logger.Warn("Websocket read error", zap.Stringer("clientID", c.ID), zap.Error(err))
			}
			return
		}

		var cmd struct {
			Action string `json:"action"`
			Topic  string `json:"topic"`
		}
		if err := json.Unmarshal(message, &cmd); err != nil {
			c.manager.logger.Debug("Ignoring malformed websocket command", zap.Stringer("clientID", c.ID), zap.Error(err))
			continue
		}

		switch cmd.Action {
		case "subscribe":
			c.Subscribe(cmd.Topic)
		case "unsubscribe":
			c.Unsubscribe(cmd.Topic)
		}
	}
}

// writePump отправляет сообщения клиенту
func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
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

// Subscribe подписывает клиента на тему
func (c *Client) Subscribe(topic string) {
	c.topicsMu.Lock()
	c.topics[topic] = true
	c.topicsMu.Unlock()
}

// Unsubscribe отписывает клиента от темы
func (c *Client) Unsubscribe(topic string) {
	c.topicsMu.Lock()
	delete(c.topics, topic)
	c.topicsMu.Unlock()
}

// IsSubscribed проверяет, подписан ли клиент на тему
func (c *Client) IsSubscribed(topic string) bool {
	c.topicsMu.RLock()
	defer c.topicsMu.RUnlock()
	return c.topics[topic]
}
