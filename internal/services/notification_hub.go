package services

import (
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"
)

// NotificationMessage 推送给在线客户端的消息帧
type NotificationMessage struct {
	Type      string      `json:"type"`
	Data      interface{} `json:"data"`
	UserID    string      `json:"user_id"`
	Timestamp time.Time   `json:"timestamp"`
}

// NotificationClient 一条已连接的看板 WebSocket 连接
type NotificationClient struct {
	ID     string
	UserID string
	Conn   *websocket.Conn
	Send   chan NotificationMessage
	Hub    *NotificationHub
}

// NotificationHub fans persisted notifications out to any connected dashboard
// sessions of the target user. Delivery is best effort: an offline user still
// has the row waiting in the store.
type NotificationHub struct {
	clients    map[string]*NotificationClient
	push       chan NotificationMessage
	register   chan *NotificationClient
	unregister chan *NotificationClient
	mutex      sync.RWMutex
}

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true // 生产环境需要验证源
	},
}

func NewNotificationHub() *NotificationHub {
	return &NotificationHub{
		clients:    make(map[string]*NotificationClient),
		push:       make(chan NotificationMessage, 64),
		register:   make(chan *NotificationClient),
		unregister: make(chan *NotificationClient),
	}
}

func (h *NotificationHub) Run() {
	for {
		select {
		case client := <-h.register:
			h.mutex.Lock()
			h.clients[client.ID] = client
			h.mutex.Unlock()
			logrus.Infof("notifications: client %s connected for user %s", client.ID, client.UserID)

		case client := <-h.unregister:
			h.mutex.Lock()
			if _, ok := h.clients[client.ID]; ok {
				delete(h.clients, client.ID)
				close(client.Send)
				logrus.Infof("notifications: client %s disconnected", client.ID)
			}
			h.mutex.Unlock()

		case message := <-h.push:
			h.mutex.Lock()
			for _, client := range h.clients {
				if client.UserID != message.UserID {
					continue
				}
				select {
				case client.Send <- message:
				default:
					close(client.Send)
					delete(h.clients, client.ID)
				}
			}
			h.mutex.Unlock()
		}
	}
}

// Push queues a message for every connection of the given user.
func (h *NotificationHub) Push(userID string, data interface{}) {
	select {
	case h.push <- NotificationMessage{Type: "notification", Data: data, UserID: userID, Timestamp: time.Now()}:
	default:
		logrus.Warn("notifications: push channel full, dropping message")
	}
}

// ConnectedClients 返回当前在线连接数
func (h *NotificationHub) ConnectedClients() int {
	h.mutex.RLock()
	defer h.mutex.RUnlock()
	return len(h.clients)
}

// HandleWebSocket upgrades the request and binds the connection to the user
// named in the query (the admin surface runs behind tenant scoping already).
func (h *NotificationHub) HandleWebSocket(c *gin.Context) {
	userID := c.Query("user_id")
	if userID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "user_id required"})
		return
	}

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		logrus.Errorf("notifications: websocket upgrade failed: %v", err)
		return
	}

	client := &NotificationClient{
		ID:     uuid.NewString(),
		UserID: userID,
		Conn:   conn,
		Send:   make(chan NotificationMessage, 16),
		Hub:    h,
	}
	h.register <- client

	go client.writePump()
	go client.readPump()
}

func (c *NotificationClient) writePump() {
	defer c.Conn.Close()
	for message := range c.Send {
		if err := c.Conn.WriteJSON(message); err != nil {
			logrus.Debugf("notifications: write to %s failed: %v", c.ID, err)
			return
		}
	}
}

// readPump drains the connection so close frames are processed.
func (c *NotificationClient) readPump() {
	defer func() {
		c.Hub.unregister <- c
		c.Conn.Close()
	}()
	for {
		if _, _, err := c.Conn.ReadMessage(); err != nil {
			return
		}
	}
}
